package commands

// Publisher is the fire-and-forget transport the emitter writes to.
type Publisher interface {
	Publish(topic string, payload []byte)
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithObserver calls fn after each command is handed to the publisher.
func WithObserver(fn func(Command)) EmitterOption {
	return func(e *Emitter) { e.observe = fn }
}

// Emitter publishes each command exactly once. There are no retries and
// no acknowledgement; the board reports its state back on the status
// topic.
type Emitter struct {
	pub     Publisher
	observe func(Command)
}

// NewEmitter creates an Emitter that writes to pub.
func NewEmitter(pub Publisher, opts ...EmitterOption) *Emitter {
	e := &Emitter{pub: pub}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Emit publishes an already built command.
func (e *Emitter) Emit(cmd Command) {
	e.pub.Publish(cmd.Topic, cmd.Payload)
	if e.observe != nil {
		e.observe(cmd)
	}
}

func (e *Emitter) emitBuilt(cmd Command, err error) error {
	if err != nil {
		return err
	}
	e.Emit(cmd)
	return nil
}

// DoserOn starts doser id at flowRate mL/min.
func (e *Emitter) DoserOn(id int, flowRate float64) error {
	return e.emitBuilt(DoserOn(id, flowRate))
}

// DoserOff stops doser id.
func (e *Emitter) DoserOff(id int) error {
	return e.emitBuilt(DoserOff(id))
}

// StartPHController sends the full pH configuration and starts the controller.
func (e *Emitter) StartPHController(cfg PHConfig) error {
	return e.emitBuilt(StartPHController(cfg))
}

// StopPHController stops the pH controller.
func (e *Emitter) StopPHController() {
	e.Emit(StopPHController())
}

// StartNutrientController starts the nutrient controller with cfg; the
// schedule is filtered to positive amounts.
func (e *Emitter) StartNutrientController(cfg NutrientConfig) error {
	return e.emitBuilt(StartNutrientController(cfg))
}

// StopNutrientController stops the nutrient controller.
func (e *Emitter) StopNutrientController() {
	e.Emit(StopNutrientController())
}

// CalibrateSensor calibrates sensor against a reference solution of target.
func (e *Emitter) CalibrateSensor(sensor Sensor, target float64) error {
	return e.emitBuilt(CalibrateSensor(sensor, target))
}

// FactoryResetSensor restores sensor's factory calibration.
func (e *Emitter) FactoryResetSensor(sensor Sensor) error {
	return e.emitBuilt(FactoryResetSensor(sensor))
}

// SetDoserManagerConfig limits how many dosers may run at once.
func (e *Emitter) SetDoserManagerConfig(maxParallelDosers int) error {
	return e.emitBuilt(SetDoserManagerConfig(maxParallelDosers))
}

// ResetDoserManager stops every manually started doser.
func (e *Emitter) ResetDoserManager() {
	e.Emit(ResetDoserManager())
}
