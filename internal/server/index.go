package server

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/teemow/gmailmcp/internal/logging"
)

//go:embed templates/index.html
var indexFS embed.FS

var indexTemplate = template.Must(template.ParseFS(indexFS, "templates/index.html"))

type indexData struct {
	Authorized  bool
	LoginRoute  string
	StreamRoute string
	SSERoute    string
	HealthRoute string
}

// handleIndex renders the landing page. The root pattern matches every
// unrouted path, so anything but the root itself is a 404.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != s.cfg.RootRoute {
		http.NotFound(w, r)
		return
	}

	data := indexData{
		Authorized:  s.manager.Current() != nil,
		LoginRoute:  s.cfg.LoginRoute,
		StreamRoute: s.cfg.StreamRoute,
		SSERoute:    s.cfg.SSERoute(),
		HealthRoute: s.cfg.HealthRoute,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, data); err != nil {
		s.logger.Warn("rendering index page", logging.Err(err))
	}
}
