package api

import (
	"net/http"

	"github.com/p-n-ai/pai-activity/internal/activity"
)

type attemptResult struct {
	Success       bool `json:"success"`
	StarsEarned   int  `json:"stars_earned"`
	CorrectAnswer any  `json:"correct_answer,omitempty"`
}

type submitResponse struct {
	Success  bool                   `json:"success"`
	Message  string                 `json:"message"`
	Attempt  activity.Attempt       `json:"attempt"`
	Result   attemptResult          `json:"result"`
	Progress *activity.UserProgress `json:"progress,omitempty"`
}

func (s *Server) handleSubmitAttempt(w http.ResponseWriter, r *http.Request) {
	var req activity.SubmitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.engine.SubmitAttempt(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	msg := "Attempt recorded"
	if res.Success {
		msg = "Correct! Attempt recorded"
	}
	writeJSON(w, http.StatusCreated, submitResponse{
		Success: true,
		Message: msg,
		Attempt: res.Attempt,
		Result: attemptResult{
			Success:       res.Success,
			StarsEarned:   res.StarsEarned,
			CorrectAnswer: res.CorrectAnswer,
		},
		Progress: res.Progress,
	})
}

func (s *Server) handleAttemptHistory(w http.ResponseWriter, r *http.Request) {
	attempts, err := s.engine.AttemptHistory(r.Context(), r.PathValue("userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": attempts})
}

func (s *Server) handleUserState(w http.ResponseWriter, r *http.Request) {
	state, err := s.engine.GetUserState(r.Context(), r.PathValue("userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleLevels(w http.ResponseWriter, r *http.Request) {
	view, err := s.engine.GetLevels(r.Context(), r.PathValue("userID"), r.PathValue("activity"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleQuestionsProgress(w http.ResponseWriter, r *http.Request) {
	level, err := queryInt(r, "level")
	if err != nil {
		writeError(w, r, err)
		return
	}
	view, err := s.engine.GetQuestionsWithProgress(r.Context(),
		r.PathValue("userID"),
		r.URL.Query().Get("activity"),
		level,
	)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleListConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := s.engine.ListConfigs(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"configs": configs})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	c, err := s.engine.GetConfig(r.Context(), r.PathValue("activity"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
