package web

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
)

//go:embed templates/*.html
var templateFiles embed.FS

// templateFuncs provides helper functions available in all templates.
var templateFuncs = template.FuncMap{
	"reading":     reading,
	"lastSeen":    lastSeen,
	"ago":         ago,
	"doseMinutes": doseMinutes,
	"doserLabel":  doserLabel,
}

// loadTemplates parses the layout and each page. Every page is a clone of
// the layout with its "content" block overridden; live.html is shared by
// all of them. Panics on syntax errors so startup fails fast.
func loadTemplates() map[string]*template.Template {
	layout := template.Must(
		template.New("layout.html").Funcs(templateFuncs).ParseFS(templateFiles, "templates/layout.html", "templates/live.html"),
	)

	pages := []string{"dashboard.html"}
	result := make(map[string]*template.Template, len(pages))
	for _, page := range pages {
		t := template.Must(layout.Clone())
		template.Must(t.ParseFS(templateFiles, "templates/"+page))
		result[page] = t
	}
	return result
}

// render executes page. An htmx request (HX-Request: true) gets only the
// "content" block; anything else gets the full layout.
func (s *Server) render(w http.ResponseWriter, r *http.Request, name string, data any) {
	block := "layout.html"
	if isHTMX(r) {
		block = "content"
	}
	s.renderBlock(w, name, block, data)
}

func (s *Server) renderBlock(w http.ResponseWriter, name, block string, data any) {
	t, ok := s.templates[name]
	if !ok {
		http.Error(w, "template not found", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := t.ExecuteTemplate(w, block, data); err != nil {
		s.logger.Error("template render failed", "template", name, "block", block, "error", err)
	}
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// reading formats a sensor value the way the board's display does.
func reading(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

// lastSeen renders a status age in milliseconds, or "never".
func lastSeen(ms int64) string {
	if ms < 0 {
		return "never"
	}
	return humanize.Comma(ms) + "ms ago"
}

// ago renders t relative to now, or "never" for the zero time.
func ago(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

// doseMinutes renders the nutrient dosing time; nil means zero flow.
func doseMinutes(m *float64) string {
	if m == nil {
		return "inf"
	}
	return humanize.FtoaWithDigits(*m, 2)
}

// doserLabel names a doser option; -1 is "none".
func doserLabel(id int) string {
	if id < 0 {
		return "none"
	}
	return fmt.Sprintf("%d", id)
}
