package web

import (
	"net/http"
	"strconv"

	"github.com/skip2/go-qrcode"

	"github.com/cultimatics/growstudio/internal/buildinfo"
	"github.com/cultimatics/growstudio/internal/dashboard"
)

// Ranges are the slider bounds handed to the templates.
type Ranges struct {
	PHTarget, PHAcceptedError, PHAdjustInterval, PHDoseAmount dashboard.Range
	ECTarget, ECAcceptedError, ECAdjustInterval               dashboard.Range
	FlowRate, ScheduleAmount, CalibrationTarget, MaxParallel  dashboard.Range
}

var sliderRanges = Ranges{
	PHTarget:          dashboard.PHTargetRange,
	PHAcceptedError:   dashboard.PHAcceptedErrorRange,
	PHAdjustInterval:  dashboard.PHAdjustIntervalRange,
	PHDoseAmount:      dashboard.PHDoseAmountRange,
	ECTarget:          dashboard.ECTargetRange,
	ECAcceptedError:   dashboard.ECAcceptedErrorRange,
	ECAdjustInterval:  dashboard.ECAdjustIntervalRange,
	FlowRate:          dashboard.ControllerFlowRateRange,
	ScheduleAmount:    dashboard.ScheduleAmountRange,
	CalibrationTarget: dashboard.CalibrationTargetRange,
	MaxParallel:       dashboard.MaxParallelDosersRange,
}

// PageData is the template context for the dashboard and live fragment.
type PageData struct {
	View    dashboard.View
	Ranges  Ranges
	Version string
	HasQR   bool
}

func (s *Server) pageData() PageData {
	return PageData{
		View:    s.state.View(),
		Ranges:  sliderRanges,
		Version: buildinfo.Version,
		HasQR:   s.publicURL != "",
	}
}

// handleDashboard renders the full dashboard, or the "Connecting..."
// fallback while the board is silent.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "dashboard.html", s.pageData())
}

// handleLive renders only the live readings fragment.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	s.renderBlock(w, "dashboard.html", "live", s.pageData())
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.state.View())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "history is disabled")
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 10000 {
			s.errorResponse(w, http.StatusBadRequest, "limit must be between 1 and 10000")
			return
		}
		limit = n
	}

	readings, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("history query failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "history query failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"readings": readings})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	v := s.state.View()
	broker := false
	if s.broker != nil {
		broker = s.broker.Connected()
	}
	health := map[string]any{
		"device": map[string]any{
			"connected":          v.Connected,
			"last_seen":          v.LastSeen,
			"since_last_seen_ms": v.SinceLastSeenMS,
		},
		"broker": map[string]any{"connected": broker},
		"build":  buildinfo.Info(),
	}
	if s.board != nil {
		health["rest"] = s.board.Status()
	}
	s.writeJSON(w, http.StatusOK, health)
}

// handleQR serves a QR code for the public dashboard URL.
func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	if s.publicURL == "" {
		http.NotFound(w, r)
		return
	}
	png, err := qrcode.Encode(s.publicURL, qrcode.Medium, 256)
	if err != nil {
		s.logger.Error("qr encode failed", "url", s.publicURL, "error", err)
		http.Error(w, "qr encode failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "max-age=3600")
	w.Write(png)
}
