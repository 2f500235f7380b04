package activity

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

const (
	adminAttemptLimit    = 1000
	defaultAnalyticsDays = 30
)

// QuestionPage is one page of an admin question search.
type QuestionPage struct {
	Questions []Question `json:"questions"`
	Total     int        `json:"total"`
	Page      int        `json:"page"`
	Limit     int        `json:"limit"`
}

// SearchQuestions runs an admin catalog search.
func (e *Engine) SearchQuestions(ctx context.Context, q AdminQuestionQuery) (QuestionPage, error) {
	questions, total, err := e.store.SearchQuestions(ctx, q)
	if err != nil {
		return QuestionPage{}, err
	}
	page, limit, _ := q.Paging()
	return QuestionPage{Questions: questions, Total: total, Page: page, Limit: limit}, nil
}

// GetQuestion returns a question by id.
func (e *Engine) GetQuestion(ctx context.Context, id string) (Question, error) {
	return e.store.GetQuestion(ctx, strings.TrimSpace(id))
}

// CreateQuestion adds a question to the catalog.
func (e *Engine) CreateQuestion(ctx context.Context, q Question) (Question, error) {
	created, err := e.store.CreateQuestion(ctx, q)
	if err != nil {
		return Question{}, err
	}
	slog.Info("question created", "id", created.ID, "activity", created.Activity, "level", created.Level)
	return created, nil
}

// UpdateQuestion replaces the question with id.
func (e *Engine) UpdateQuestion(ctx context.Context, id string, q Question) (Question, error) {
	q.ID = strings.TrimSpace(id)
	return e.store.UpdateQuestion(ctx, q)
}

// UpsertQuestion creates or replaces a question, reporting whether it was
// new.
func (e *Engine) UpsertQuestion(ctx context.Context, q Question) (Question, bool, error) {
	return e.store.UpsertQuestion(ctx, q)
}

// DeleteQuestion removes a question together with its attempts.
func (e *Engine) DeleteQuestion(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	removed, err := e.store.DeleteQuestion(ctx, id)
	if err != nil {
		return err
	}
	slog.Info("question deleted", "id", id, "attempts_removed", removed)
	return nil
}

// ListConfigs returns every activity config.
func (e *Engine) ListConfigs(ctx context.Context) ([]ActivityConfig, error) {
	return e.store.ListConfigs(ctx)
}

// GetConfig returns the config of one activity.
func (e *Engine) GetConfig(ctx context.Context, activity string) (ActivityConfig, error) {
	return e.store.GetConfig(ctx, strings.TrimSpace(activity))
}

// CreateConfig adds an activity config.
func (e *Engine) CreateConfig(ctx context.Context, c ActivityConfig) (ActivityConfig, error) {
	return e.store.CreateConfig(ctx, c)
}

// UpdateConfig replaces the config of activity.
func (e *Engine) UpdateConfig(ctx context.Context, activity string, c ActivityConfig) (ActivityConfig, error) {
	c.Activity = strings.TrimSpace(activity)
	return e.store.UpdateConfig(ctx, c)
}

// SeedDefaultConfigs creates the built-in activity configs that are missing
// and returns how many were created.
func (e *Engine) SeedDefaultConfigs(ctx context.Context) (int, error) {
	created := 0
	for _, c := range DefaultConfigs() {
		_, err := e.store.CreateConfig(ctx, c)
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return created, err
		}
		created++
	}
	if created > 0 {
		slog.Info("default activity configs seeded", "count", created)
	}
	return created, nil
}

// AttemptReport is a filtered attempt listing and its summary.
type AttemptReport struct {
	Attempts []Attempt    `json:"attempts"`
	Stats    AttemptStats `json:"stats"`
}

// AdminAttempts lists attempts matching f, newest first, with summary
// statistics over the returned rows. The listing is capped at 1000 rows.
func (e *Engine) AdminAttempts(ctx context.Context, f AttemptFilter) (AttemptReport, error) {
	if f.Limit <= 0 || f.Limit > adminAttemptLimit {
		f.Limit = adminAttemptLimit
	}
	attempts, err := e.store.QueryAttempts(ctx, f)
	if err != nil {
		return AttemptReport{}, err
	}
	return AttemptReport{Attempts: attempts, Stats: Summarize(attempts)}, nil
}

// ListStates returns every user's progress, most recently played first.
func (e *Engine) ListStates(ctx context.Context) ([]UserProgress, error) {
	return e.store.ListProgress(ctx)
}

// UserStats is the admin view of one user.
type UserStats struct {
	UserID   string        `json:"user_id"`
	Stats    AttemptStats  `json:"stats"`
	Progress *UserProgress `json:"progress"`
}

// UserStats summarises every attempt of userID together with their progress.
func (e *Engine) UserStats(ctx context.Context, userID string) (UserStats, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return UserStats{}, invalid("user_id is required")
	}
	attempts, err := e.store.QueryAttempts(ctx, AttemptFilter{UserID: userID})
	if err != nil {
		return UserStats{}, err
	}
	out := UserStats{UserID: userID, Stats: Summarize(attempts)}
	p, ok, err := e.store.GetProgress(ctx, userID)
	if err != nil {
		return UserStats{}, err
	}
	if ok {
		out.Progress = &p
	}
	return out, nil
}

// Analytics is an attempt breakdown over a trailing window.
type Analytics struct {
	Days       int            `json:"days"`
	Since      time.Time      `json:"since"`
	Activities []ActivityStat `json:"activities"`
}

// ActivityAnalytics aggregates attempts of the last days days, optionally
// restricted to one activity. days <= 0 uses 30.
func (e *Engine) ActivityAnalytics(ctx context.Context, activity string, days int) (Analytics, error) {
	if days <= 0 {
		days = defaultAnalyticsDays
	}
	since := e.now().AddDate(0, 0, -days)
	attempts, err := e.store.QueryAttempts(ctx, AttemptFilter{Activity: strings.TrimSpace(activity), Since: since})
	if err != nil {
		return Analytics{}, err
	}
	return Analytics{Days: days, Since: since, Activities: GroupByActivity(attempts)}, nil
}
