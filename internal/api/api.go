// Package api exposes the activity engine over HTTP.
package api

import (
	"net/http"

	"github.com/p-n-ai/pai-activity/internal/activity"
	"github.com/p-n-ai/pai-activity/internal/content"
)

const (
	maxBodyBytes   = 1 << 20
	maxImportBytes = 32 << 20
)

// Config holds the handlers' dependencies. Importer and Events are optional;
// their routes answer 503 when unset.
type Config struct {
	Engine   *activity.Engine
	Importer *content.Importer
	Events   *activity.Broadcaster
	// StreamOrigins are host patterns allowed to open the event stream from
	// a browser. Empty allows same-origin only.
	StreamOrigins []string
}

// Server serves the user and admin routes.
type Server struct {
	engine        *activity.Engine
	importer      *content.Importer
	events        *activity.Broadcaster
	streamOrigins []string
}

// New creates a server.
func New(cfg Config) *Server {
	return &Server{
		engine:        cfg.Engine,
		importer:      cfg.Importer,
		events:        cfg.Events,
		streamOrigins: cfg.StreamOrigins,
	}
}

// Register mounts every route on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/attempts", s.handleSubmitAttempt)
	mux.HandleFunc("GET /v1/attempts/{userID}", s.handleAttemptHistory)
	mux.HandleFunc("GET /v1/state/{userID}", s.handleUserState)
	mux.HandleFunc("GET /v1/levels/{userID}/{activity}", s.handleLevels)
	mux.HandleFunc("GET /v1/questions/progress/{userID}", s.handleQuestionsProgress)
	mux.HandleFunc("GET /v1/configs", s.handleListConfigs)
	mux.HandleFunc("GET /v1/configs/{activity}", s.handleGetConfig)

	mux.HandleFunc("GET /v1/admin/questions", s.handleSearchQuestions)
	mux.HandleFunc("POST /v1/admin/questions", s.handleCreateQuestion)
	mux.HandleFunc("POST /v1/admin/questions/import", s.handleImportQuestions)
	mux.HandleFunc("GET /v1/admin/questions/{id}", s.handleGetQuestion)
	mux.HandleFunc("PUT /v1/admin/questions/{id}", s.handleUpdateQuestion)
	mux.HandleFunc("DELETE /v1/admin/questions/{id}", s.handleDeleteQuestion)
	mux.HandleFunc("GET /v1/admin/attempts", s.handleAdminAttempts)
	mux.HandleFunc("GET /v1/admin/states", s.handleListStates)
	mux.HandleFunc("GET /v1/admin/configs", s.handleListConfigs)
	mux.HandleFunc("POST /v1/admin/configs", s.handleCreateConfig)
	mux.HandleFunc("PUT /v1/admin/configs/{activity}", s.handleUpdateConfig)
	mux.HandleFunc("GET /v1/admin/analytics", s.handleAnalytics)
	mux.HandleFunc("GET /v1/admin/user-stats/{userID}", s.handleUserStats)
	mux.HandleFunc("GET /v1/admin/events/stream", s.handleEventStream)
}

// Handler returns a mux with every route mounted.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}
