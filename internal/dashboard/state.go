// Package dashboard holds the operator's session state: the latest
// status snapshot, every tunable parameter the controls expose, the pH
// doser role assignment, and the two controller state machines. Actions
// turn that state into commands through a [commands.Emitter].
//
// State is owned by whoever constructs it; nothing here is global.
// Observers registered with [State.Subscribe] receive a fresh [View]
// after every change.
package dashboard

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cultimatics/growstudio/internal/commands"
	"github.com/cultimatics/growstudio/internal/events"
	"github.com/cultimatics/growstudio/internal/liveness"
	"github.com/cultimatics/growstudio/internal/metrics"
	"github.com/cultimatics/growstudio/internal/sensei"
)

var (
	// ErrNoStatus is returned by doser actions before the first status
	// broadcast, since the doser list is not yet known.
	ErrNoStatus = errors.New("no status received yet")

	// ErrUnknownDoser is returned for an index outside the board's doser list.
	ErrUnknownDoser = errors.New("unknown doser")
)

// Config wires a State to its collaborators. Emitter and Monitor are
// required; the rest are optional.
type Config struct {
	Emitter *commands.Emitter
	Monitor *liveness.Monitor
	Bus     *events.Bus
	Metrics *metrics.Recorder
	Logger  *slog.Logger
	Now     func() time.Time
}

// State is the dashboard session. It is safe for concurrent use.
type State struct {
	emitter *commands.Emitter
	monitor *liveness.Monitor
	bus     *events.Bus
	metrics *metrics.Recorder
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.Mutex
	status    *sensei.Status
	statusAt  time.Time
	lastError *sensei.DeviceError

	ph          PHParams
	phDown      int
	phUp        int
	phState     ControllerState
	assignment  *DoserAssignment
	nutrient    NutrientParams
	schedule    commands.Schedule
	nutState    ControllerState
	doserFlow   map[int]float64
	calibration map[commands.Sensor]float64
	maxParallel int

	observers map[int]func(View)
	nextObs   int

	stopLiveness func()
}

// New creates a State with the dashboard's initial values: both
// controllers stopped, no pH dosers assigned, targets at pH 7.
func New(cfg Config) *State {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &State{
		emitter: cfg.Emitter,
		monitor: cfg.Monitor,
		bus:     cfg.Bus,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		now:     cfg.Now,

		ph:          PHParams{Target: 7}.clamped(),
		phDown:      commands.NoDoser,
		phUp:        commands.NoDoser,
		assignment:  NewDoserAssignment(),
		nutrient:    NutrientParams{Target: 7}.clamped(),
		schedule:    make(commands.Schedule),
		doserFlow:   make(map[int]float64),
		calibration: make(map[commands.Sensor]float64),
		maxParallel: 1,
		observers:   make(map[int]func(View)),
	}

	s.stopLiveness = s.monitor.Subscribe(s.onLiveness)
	return s
}

// Close detaches the State from the liveness monitor.
func (s *State) Close() {
	s.stopLiveness()
}

// Subscribe registers fn to receive a View after every change. The
// returned function removes it.
func (s *State) Subscribe(fn func(View)) (cancel func()) {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

// notify must be called without s.mu held.
func (s *State) notify() {
	s.mu.Lock()
	if len(s.observers) == 0 {
		s.mu.Unlock()
		return
	}
	v := s.viewLocked()
	fns := make([]func(View), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// changed announces an operator setting change on the bus and notifies
// observers. Must be called without s.mu held.
func (s *State) changed(setting string) {
	s.bus.Emit(events.SourceDashboard, events.KindSettings, map[string]any{"setting": setting})
	s.notify()
}

func (s *State) onLiveness(st liveness.Status) {
	s.metrics.SetDeviceConnected(st.Connected)
	kind := events.KindDisconnected
	if st.Connected {
		kind = events.KindConnected
	}
	s.bus.Emit(events.SourceLiveness, kind, map[string]any{"last_seen": st.LastSeen})
	s.notify()
}

// HandleStatus is the router callback for the status topic. The decoded
// snapshot replaces the previous one, liveness is refreshed, and both
// controller state machines are reconciled from the board's flags.
func (s *State) HandleStatus(payload []byte) error {
	st, err := sensei.DecodeStatus(payload)
	if err != nil {
		return err
	}
	now := s.now()

	s.mu.Lock()
	s.status = &st
	s.statusAt = now
	s.phState = stateFromRunning(st.PHControllerRunning)
	s.nutState = stateFromRunning(st.NutrientControllerRunning)
	s.mu.Unlock()

	s.monitor.MarkSeen(now)
	s.metrics.ObserveReading("ph", st.PH)
	s.metrics.ObserveReading("ec", st.EC)
	s.bus.Emit(events.SourceDevice, events.KindStatus, map[string]any{
		"ph":     st.PH,
		"ec":     st.EC,
		"dosers": len(st.Dosers),
	})
	s.notify()
	return nil
}

// HandleDeviceError is the router callback for the board's error topic.
func (s *State) HandleDeviceError(payload []byte) error {
	de, err := sensei.DecodeDeviceError(payload, s.now())
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.lastError = &de
	s.mu.Unlock()

	s.logger.Warn("controller board reported an error", "message", de.Message)
	s.bus.Emit(events.SourceDevice, events.KindDeviceError, map[string]any{"message": de.Message})
	s.notify()
	return nil
}

// SetPHParams stores p, clamped to the control ranges, and returns the
// stored value.
func (s *State) SetPHParams(p PHParams) PHParams {
	s.mu.Lock()
	s.ph = p.clamped()
	p = s.ph
	s.mu.Unlock()
	s.changed("ph_params")
	return p
}

// SetNutrientParams stores p, clamped to the control ranges, and returns
// the stored value.
func (s *State) SetNutrientParams(p NutrientParams) NutrientParams {
	s.mu.Lock()
	s.nutrient = p.clamped()
	p = s.nutrient
	s.mu.Unlock()
	s.changed("nutrient_params")
	return p
}

// UpdatePHParams applies fn to the current pH parameters and stores the
// clamped result in one step, so concurrent partial updates do not
// overwrite each other.
func (s *State) UpdatePHParams(fn func(*PHParams)) PHParams {
	s.mu.Lock()
	p := s.ph
	fn(&p)
	s.ph = p.clamped()
	p = s.ph
	s.mu.Unlock()
	s.changed("ph_params")
	return p
}

// UpdateNutrientParams is UpdatePHParams for the nutrient parameters.
func (s *State) UpdateNutrientParams(fn func(*NutrientParams)) NutrientParams {
	s.mu.Lock()
	p := s.nutrient
	fn(&p)
	s.nutrient = p.clamped()
	p = s.nutrient
	s.mu.Unlock()
	s.changed("nutrient_params")
	return p
}

func (s *State) numDosersLocked() int {
	if s.status == nil {
		return 0
	}
	return len(s.status.Dosers)
}

// PHDoserOptions lists the indices selectable for role: "none" first,
// then every doser except the one the other role holds.
func (s *State) PHDoserOptions(role Role) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phDoserOptionsLocked(role)
}

func (s *State) phDoserOptionsLocked(role Role) []int {
	except := s.phUp
	if role == RolePHUp {
		except = s.phDown
	}
	opts := []int{commands.NoDoser}
	for i := range s.numDosersLocked() {
		if i != except {
			opts = append(opts, i)
		}
	}
	return opts
}

// SelectPHDoser assigns id to role. An id not offered by PHDoserOptions
// leaves the selection unchanged and returns false.
func (s *State) SelectPHDoser(role Role, id int) bool {
	s.mu.Lock()
	offered := false
	for _, opt := range s.phDoserOptionsLocked(role) {
		if opt == id {
			offered = true
			break
		}
	}
	if !offered {
		s.mu.Unlock()
		return false
	}

	prev := &s.phDown
	if role == RolePHUp {
		prev = &s.phUp
	}
	s.assignment.Swap(*prev, id)
	*prev = id
	if id != commands.NoDoser {
		delete(s.schedule, id)
	}
	s.mu.Unlock()

	s.changed("ph_dosers")
	return true
}

// SelectPHDownDoser is SelectPHDoser(RolePHDown, id).
func (s *State) SelectPHDownDoser(id int) bool { return s.SelectPHDoser(RolePHDown, id) }

// SelectPHUpDoser is SelectPHDoser(RolePHUp, id).
func (s *State) SelectPHUpDoser(id int) bool { return s.SelectPHDoser(RolePHUp, id) }

// SetScheduleAmount sets the nutrient dose for doser id in mL/L. Dosers
// on pH duty are read-only and report false.
func (s *State) SetScheduleAmount(id int, amount float64) (bool, error) {
	s.mu.Lock()
	if err := s.checkDoserLocked(id); err != nil {
		s.mu.Unlock()
		return false, err
	}
	if s.assignment.Has(id) {
		s.mu.Unlock()
		return false, nil
	}
	s.schedule[id] = ScheduleAmountRange.Clamp(amount)
	s.mu.Unlock()

	s.changed("schedule")
	return true, nil
}

// SetDoserFlowRate sets the manual run rate for doser id, clamped to the
// doser's reported maximum.
func (s *State) SetDoserFlowRate(id int, rate float64) (float64, error) {
	s.mu.Lock()
	if err := s.checkDoserLocked(id); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	rate = s.doserRangeLocked(id).Clamp(rate)
	s.doserFlow[id] = rate
	s.mu.Unlock()

	s.changed("doser_flow_rate")
	return rate, nil
}

// SetCalibrationTarget sets the reference value the next calibration of
// sensor uses.
func (s *State) SetCalibrationTarget(sensor commands.Sensor, target float64) (float64, error) {
	sensor, err := commands.ParseSensor(string(sensor))
	if err != nil {
		return 0, err
	}
	target = CalibrationTargetRange.Clamp(target)

	s.mu.Lock()
	s.calibration[sensor] = target
	s.mu.Unlock()

	s.changed("calibration_target")
	return target, nil
}

func (s *State) checkDoserLocked(id int) error {
	if s.status == nil {
		return ErrNoStatus
	}
	if id < 0 || id >= len(s.status.Dosers) {
		return fmt.Errorf("%w: %d", ErrUnknownDoser, id)
	}
	return nil
}

func (s *State) doserRangeLocked(id int) Range {
	return Range{Min: 0, Max: s.status.Dosers[id].MaxFlowRate, Step: 1}
}

func (s *State) doserFlowLocked(id int) float64 {
	rate, ok := s.doserFlow[id]
	if !ok {
		rate = DefaultDoserFlowRate
	}
	return s.doserRangeLocked(id).Clamp(rate)
}

// TogglePHController starts the pH controller with the full current
// configuration when stopped, and stops it when running. It returns the
// new local state, which the next status broadcast may overrule.
func (s *State) TogglePHController() (ControllerState, error) {
	s.mu.Lock()
	state, err := s.togglePHLocked()
	s.mu.Unlock()
	if err == nil {
		s.notify()
	}
	return state, err
}

func (s *State) togglePHLocked() (ControllerState, error) {
	if s.phState == Running {
		s.emitter.StopPHController()
		s.phState = Stopped
		return s.phState, nil
	}

	cfg := commands.PHConfig{
		Target:         s.ph.Target,
		AcceptedError:  s.ph.AcceptedError,
		AdjustInterval: s.ph.AdjustInterval,
		FlowRate:       s.ph.FlowRate,
		DoseAmount:     s.ph.DoseAmount,
		PHDownDoser:    s.phDown,
		PHUpDoser:      s.phUp,
	}
	if err := s.emitter.StartPHController(cfg); err != nil {
		return s.phState, err
	}
	s.phState = Running
	return s.phState, nil
}

// ToggleNutrientController starts the nutrient controller with the
// current configuration and positive schedule entries when stopped, and
// stops it when running.
func (s *State) ToggleNutrientController() (ControllerState, error) {
	s.mu.Lock()
	state, err := s.toggleNutrientLocked()
	s.mu.Unlock()
	if err == nil {
		s.notify()
	}
	return state, err
}

func (s *State) toggleNutrientLocked() (ControllerState, error) {
	if s.nutState == Running {
		s.emitter.StopNutrientController()
		s.nutState = Stopped
		return s.nutState, nil
	}

	cfg := commands.NutrientConfig{
		Target:             s.nutrient.Target,
		AcceptedError:      s.nutrient.AcceptedError,
		AdjustmentInterval: s.nutrient.AdjustmentInterval,
		FlowRate:           s.nutrient.FlowRate,
		Schedule:           s.schedule,
	}
	if err := s.emitter.StartNutrientController(cfg); err != nil {
		return s.nutState, err
	}
	s.nutState = Running
	return s.nutState, nil
}

// DoserOn runs doser id at its configured manual flow rate.
func (s *State) DoserOn(id int) error {
	s.mu.Lock()
	if err := s.checkDoserLocked(id); err != nil {
		s.mu.Unlock()
		return err
	}
	rate := s.doserFlowLocked(id)
	s.mu.Unlock()

	return s.emitter.DoserOn(id, rate)
}

// DoserOff stops doser id.
func (s *State) DoserOff(id int) error {
	s.mu.Lock()
	err := s.checkDoserLocked(id)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.emitter.DoserOff(id)
}

// StopAllDosers stops every manually running doser.
func (s *State) StopAllDosers() {
	s.emitter.ResetDoserManager()
}

// CalibrateSensor calibrates sensor against its stored target.
func (s *State) CalibrateSensor(sensor commands.Sensor) error {
	sensor, err := commands.ParseSensor(string(sensor))
	if err != nil {
		return err
	}
	s.mu.Lock()
	target := s.calibration[sensor]
	s.mu.Unlock()
	return s.emitter.CalibrateSensor(sensor, target)
}

// FactoryResetSensor discards sensor's stored calibration on the board.
func (s *State) FactoryResetSensor(sensor commands.Sensor) error {
	return s.emitter.FactoryResetSensor(sensor)
}

// SetMaxParallelDosers stores n, clamped to 1-8, and publishes it
// immediately.
func (s *State) SetMaxParallelDosers(n int) (int, error) {
	n = int(MaxParallelDosersRange.Clamp(float64(n)))

	s.mu.Lock()
	s.maxParallel = n
	s.mu.Unlock()

	if err := s.emitter.SetDoserManagerConfig(n); err != nil {
		return n, err
	}
	s.changed("max_parallel_dosers")
	return n, nil
}
