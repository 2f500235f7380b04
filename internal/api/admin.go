package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/p-n-ai/pai-activity/internal/activity"
	"github.com/p-n-ai/pai-activity/internal/content"
)

func (s *Server) handleSearchQuestions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		aq  = activity.AdminQuestionQuery{Activity: q.Get("activity"), Locale: q.Get("locale"), Search: q.Get("search")}
		err error
	)
	if aq.Level, err = queryInt(r, "level"); err != nil {
		writeError(w, r, err)
		return
	}
	if aq.Page, err = queryInt(r, "page"); err != nil {
		writeError(w, r, err)
		return
	}
	if aq.Limit, err = queryInt(r, "limit"); err != nil {
		writeError(w, r, err)
		return
	}

	page, err := s.engine.SearchQuestions(r.Context(), aq)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetQuestion(w http.ResponseWriter, r *http.Request) {
	q, err := s.engine.GetQuestion(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleCreateQuestion(w http.ResponseWriter, r *http.Request) {
	var q activity.Question
	if err := decodeJSON(w, r, &q); err != nil {
		writeError(w, r, err)
		return
	}
	created, err := s.engine.CreateQuestion(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateQuestion(w http.ResponseWriter, r *http.Request) {
	var q activity.Question
	if err := decodeJSON(w, r, &q); err != nil {
		writeError(w, r, err)
		return
	}
	updated, err := s.engine.UpdateQuestion(r.Context(), r.PathValue("id"), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteQuestion(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteQuestion(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type importResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Results content.Report `json:"results"`
}

// handleImportQuestions accepts a multipart upload in the "file" field or
// the file as the raw request body. The format comes from the file name,
// the ?format= parameter, the content type, or the content itself.
func (s *Server) handleImportQuestions(w http.ResponseWriter, r *http.Request) {
	if s.importer == nil {
		writeError(w, r, unavailable("question import"))
		return
	}

	data, filename, contentType, err := readUpload(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	format := content.Format(strings.ToLower(r.URL.Query().Get("format")))
	if format == "" {
		if format, err = content.DetectFormat(filename, contentType, data); err != nil {
			writeError(w, r, err)
			return
		}
	}

	report, err := s.importer.Import(r.Context(), format, data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, importResponse{
		Success: true,
		Message: fmt.Sprintf("Import processed. Success: %d, Failed: %d", report.Success, report.Failed),
		Results: report,
	})
}

func readUpload(w http.ResponseWriter, r *http.Request) (data []byte, filename, contentType string, err error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxImportBytes); err != nil {
			return nil, "", "", fmt.Errorf("%w: invalid multipart body: %v", activity.ErrValidation, err)
		}
		file, header, err := r.FormFile("file")
		if errors.Is(err, http.ErrMissingFile) {
			return nil, "", "", fmt.Errorf("%w: no file uploaded", activity.ErrValidation)
		}
		if err != nil {
			return nil, "", "", fmt.Errorf("%w: read upload: %v", activity.ErrValidation, err)
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return nil, "", "", fmt.Errorf("%w: read upload: %v", activity.ErrValidation, err)
		}
		return data, header.Filename, header.Header.Get("Content-Type"), nil
	}

	data, err = io.ReadAll(r.Body)
	if err != nil {
		return nil, "", "", fmt.Errorf("%w: read body: %v", activity.ErrValidation, err)
	}
	if len(data) == 0 {
		return nil, "", "", fmt.Errorf("%w: no file uploaded", activity.ErrValidation)
	}
	return data, r.URL.Query().Get("filename"), r.Header.Get("Content-Type"), nil
}

func (s *Server) handleAdminAttempts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := activity.AttemptFilter{UserID: q.Get("user_id"), Activity: q.Get("activity")}
	var err error
	if f.Level, err = queryInt(r, "level"); err != nil {
		writeError(w, r, err)
		return
	}
	if f.Success, err = queryBool(r, "success"); err != nil {
		writeError(w, r, err)
		return
	}
	if f.Limit, err = queryInt(r, "limit"); err != nil {
		writeError(w, r, err)
		return
	}

	report, err := s.engine.AdminAttempts(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleListStates(w http.ResponseWriter, r *http.Request) {
	states, err := s.engine.ListStates(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"states": states})
}

func (s *Server) handleCreateConfig(w http.ResponseWriter, r *http.Request) {
	var c activity.ActivityConfig
	if err := decodeJSON(w, r, &c); err != nil {
		writeError(w, r, err)
		return
	}
	created, err := s.engine.CreateConfig(r.Context(), c)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var c activity.ActivityConfig
	if err := decodeJSON(w, r, &c); err != nil {
		writeError(w, r, err)
		return
	}
	updated, err := s.engine.UpdateConfig(r.Context(), r.PathValue("activity"), c)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days")
	if err != nil {
		writeError(w, r, err)
		return
	}
	out, err := s.engine.ActivityAnalytics(r.Context(), r.URL.Query().Get("activity"), days)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUserStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.UserStats(r.Context(), r.PathValue("userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
