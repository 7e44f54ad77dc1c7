package web

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/cultimatics/growstudio/internal/commands"
	"github.com/cultimatics/growstudio/internal/dashboard"
)

// errBadInput marks a form value that failed to parse.
var errBadInput = errors.New("bad input")

// errNotOffered marks a pH doser selection outside the offered options,
// or a schedule edit on a doser on pH duty.
var errNotOffered = errors.New("not available")

// formFloat reads a float field. A missing field returns fallback.
func formFloat(r *http.Request, name string, fallback float64) (float64, error) {
	v := strings.TrimSpace(r.PostFormValue(name))
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", errBadInput, name, v)
	}
	return f, nil
}

// formValues holds the optional numeric fields a form actually carried.
type formValues map[string]float64

// formFloats parses every non-empty field among names. Absent fields are
// left out so partial posts only touch what they name.
func formFloats(r *http.Request, names ...string) (formValues, error) {
	vals := make(formValues, len(names))
	for _, name := range names {
		if strings.TrimSpace(r.PostFormValue(name)) == "" {
			continue
		}
		f, err := formFloat(r, name, 0)
		if err != nil {
			return nil, err
		}
		vals[name] = f
	}
	return vals, nil
}

func (v formValues) apply(name string, dst *float64) {
	if f, ok := v[name]; ok {
		*dst = f
	}
}

// formInt reads a required integer field.
func formInt(r *http.Request, name string) (int, error) {
	v := strings.TrimSpace(r.PostFormValue(name))
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", errBadInput, name, v)
	}
	return n, nil
}

func pathDoser(r *http.Request) (int, error) {
	n, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		return 0, fmt.Errorf("%w: doser id %q", errBadInput, r.PathValue("id"))
	}
	return n, nil
}

// respond finishes an action: the content partial for htmx, the view as
// JSON for API clients, and a redirect home for plain form posts.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		code := http.StatusInternalServerError
		switch {
		case errors.Is(err, errBadInput):
			code = http.StatusBadRequest
		case errors.Is(err, dashboard.ErrUnknownDoser), errors.Is(err, commands.ErrUnknownSensor):
			code = http.StatusNotFound
		case errors.Is(err, dashboard.ErrNoStatus), errors.Is(err, errNotOffered):
			code = http.StatusConflict
		default:
			s.logger.Error("dashboard action failed", "path", r.URL.Path, "error", err)
		}
		s.errorResponse(w, code, err.Error())
		return
	}

	switch {
	case isHTMX(r):
		s.renderBlock(w, "dashboard.html", "content", s.pageData())
	case strings.Contains(r.Header.Get("Accept"), "application/json"):
		s.writeJSON(w, http.StatusOK, s.state.View())
	default:
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}

func (s *Server) handlePHParams(w http.ResponseWriter, r *http.Request) {
	set, err := formFloats(r, "target", "accepted_error", "adjust_interval", "flow_rate", "dose_amount")
	if err != nil {
		s.respond(w, r, err)
		return
	}
	s.state.UpdatePHParams(func(p *dashboard.PHParams) {
		set.apply("target", &p.Target)
		set.apply("accepted_error", &p.AcceptedError)
		set.apply("adjust_interval", &p.AdjustInterval)
		set.apply("flow_rate", &p.FlowRate)
		set.apply("dose_amount", &p.DoseAmount)
	})
	s.respond(w, r, nil)
}

func (s *Server) handlePHDosers(w http.ResponseWriter, r *http.Request) {
	role, err := dashboard.ParseRole(r.PostFormValue("role"))
	if err != nil {
		s.respond(w, r, fmt.Errorf("%w: %v", errBadInput, err))
		return
	}
	id, err := formInt(r, "doser")
	if err != nil {
		s.respond(w, r, err)
		return
	}
	if !s.state.SelectPHDoser(role, id) {
		s.respond(w, r, fmt.Errorf("%w: doser %d for %s", errNotOffered, id, role))
		return
	}
	s.respond(w, r, nil)
}

func (s *Server) handlePHToggle(w http.ResponseWriter, r *http.Request) {
	_, err := s.state.TogglePHController()
	s.respond(w, r, err)
}

func (s *Server) handleNutrientParams(w http.ResponseWriter, r *http.Request) {
	set, err := formFloats(r, "target", "accepted_error", "adjustment_interval", "flow_rate")
	if err != nil {
		s.respond(w, r, err)
		return
	}
	s.state.UpdateNutrientParams(func(p *dashboard.NutrientParams) {
		set.apply("target", &p.Target)
		set.apply("accepted_error", &p.AcceptedError)
		set.apply("adjustment_interval", &p.AdjustmentInterval)
		set.apply("flow_rate", &p.FlowRate)
	})
	s.respond(w, r, nil)
}

func (s *Server) handleNutrientSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := formInt(r, "doser")
	if err != nil {
		s.respond(w, r, err)
		return
	}
	amount, err := formFloat(r, "amount", 0)
	if err != nil {
		s.respond(w, r, err)
		return
	}
	ok, err := s.state.SetScheduleAmount(id, amount)
	if err == nil && !ok {
		err = fmt.Errorf("%w: doser %d is on pH duty", errNotOffered, id)
	}
	s.respond(w, r, err)
}

func (s *Server) handleNutrientToggle(w http.ResponseWriter, r *http.Request) {
	_, err := s.state.ToggleNutrientController()
	s.respond(w, r, err)
}

func (s *Server) handleDoserOn(w http.ResponseWriter, r *http.Request) {
	id, err := pathDoser(r)
	if err == nil {
		err = s.state.DoserOn(id)
	}
	s.respond(w, r, err)
}

func (s *Server) handleDoserOff(w http.ResponseWriter, r *http.Request) {
	id, err := pathDoser(r)
	if err == nil {
		err = s.state.DoserOff(id)
	}
	s.respond(w, r, err)
}

func (s *Server) handleDoserFlowRate(w http.ResponseWriter, r *http.Request) {
	id, err := pathDoser(r)
	if err != nil {
		s.respond(w, r, err)
		return
	}
	rate, err := formFloat(r, "flow_rate", dashboard.DefaultDoserFlowRate)
	if err != nil {
		s.respond(w, r, err)
		return
	}
	_, err = s.state.SetDoserFlowRate(id, rate)
	s.respond(w, r, err)
}

func (s *Server) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	sensor, err := commands.ParseSensor(r.PathValue("kind"))
	if err != nil {
		s.respond(w, r, err)
		return
	}
	if r.PostFormValue("target") != "" {
		target, err := formFloat(r, "target", 0)
		if err != nil {
			s.respond(w, r, err)
			return
		}
		if _, err := s.state.SetCalibrationTarget(sensor, target); err != nil {
			s.respond(w, r, err)
			return
		}
	}
	s.respond(w, r, s.state.CalibrateSensor(sensor))
}

func (s *Server) handleFactoryReset(w http.ResponseWriter, r *http.Request) {
	sensor, err := commands.ParseSensor(r.PathValue("kind"))
	if err == nil {
		err = s.state.FactoryResetSensor(sensor)
	}
	s.respond(w, r, err)
}

func (s *Server) handleDoserManagerConfig(w http.ResponseWriter, r *http.Request) {
	n, err := formInt(r, "max_parallel_dosers")
	if err == nil {
		_, err = s.state.SetMaxParallelDosers(n)
	}
	s.respond(w, r, err)
}

func (s *Server) handleDoserManagerReset(w http.ResponseWriter, r *http.Request) {
	s.state.StopAllDosers()
	s.respond(w, r, nil)
}
