package activity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const defaultStorageTimeout = 5 * time.Second

// Emitter accepts analytics events without blocking.
type Emitter interface {
	Emit(event Event)
}

type nopEmitter struct{}

func (nopEmitter) Emit(Event) {}

// EngineConfig holds dependencies for the engine.
type EngineConfig struct {
	Store          Store
	Locker         Locker        // serialises progress updates (default in-process)
	Events         Emitter       // analytics sink (default discards)
	StorageTimeout time.Duration // per-submission storage budget (default 5s)
	Difficulty     func(level int) string
	Now            func() time.Time
}

// Engine grades submissions, records them and maintains unlock state.
type Engine struct {
	store          Store
	locker         Locker
	events         Emitter
	storageTimeout time.Duration
	difficulty     func(level int) string
	now            func() time.Time
}

// NewEngine creates a new engine.
func NewEngine(cfg EngineConfig) *Engine {
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	locker := cfg.Locker
	if locker == nil {
		locker = NewLocalLocker()
	}
	events := cfg.Events
	if events == nil {
		events = nopEmitter{}
	}
	timeout := cfg.StorageTimeout
	if timeout == 0 {
		timeout = defaultStorageTimeout
	}
	difficulty := cfg.Difficulty
	if difficulty == nil {
		difficulty = DefaultDifficulty
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		store:          store,
		locker:         locker,
		events:         events,
		storageTimeout: timeout,
		difficulty:     difficulty,
		now:            now,
	}
}

// Store returns the engine's store.
func (e *Engine) Store() Store {
	return e.store
}

// SubmitRequest is one user submission.
type SubmitRequest struct {
	UserID           string          `json:"user_id"`
	QuestionID       string          `json:"activity_question_id"`
	Submission       json.RawMessage `json:"attempt_order"`
	TimeTakenSeconds float64         `json:"time_taken_seconds"`
	HintsUsed        int             `json:"hints_used"`
	ClientMetadata   map[string]any  `json:"client_metadata"`
}

// SubmitResult is the graded outcome of a submission. CorrectAnswer is set
// only when the attempt failed.
type SubmitResult struct {
	Attempt       Attempt       `json:"attempt"`
	Success       bool          `json:"success"`
	StarsEarned   int           `json:"stars_earned"`
	CorrectAnswer any           `json:"correct_answer,omitempty"`
	Progress      *UserProgress `json:"progress,omitempty"`
}

// SubmitAttempt grades a submission, appends it to the ledger and, on
// success, advances the user's unlock state. The ledger write and progress
// update commit together or not at all.
func (e *Engine) SubmitAttempt(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.QuestionID = strings.TrimSpace(req.QuestionID)
	switch {
	case req.UserID == "":
		return SubmitResult{}, invalid("user_id is required")
	case req.QuestionID == "":
		return SubmitResult{}, invalid("activity_question_id is required")
	case len(bytes.TrimSpace(req.Submission)) == 0 || string(bytes.TrimSpace(req.Submission)) == "null":
		return SubmitResult{}, invalid("attempt_order is required")
	}

	ctx, cancel := context.WithTimeout(ctx, e.storageTimeout)
	defer cancel()

	q, err := e.store.GetQuestion(ctx, req.QuestionID)
	if err != nil {
		return SubmitResult{}, err
	}

	stars, err := e.starsSystem(ctx, q.Activity)
	if err != nil {
		return SubmitResult{}, err
	}

	grade := GradeAttempt(q, DecodeSubmission(req.Submission), req.TimeTakenSeconds, stars)

	attempt := Attempt{
		UserID:           req.UserID,
		QuestionID:       q.ID,
		Activity:         q.Activity,
		Level:            q.Level,
		QuestionNo:       q.QuestionNo,
		Submission:       req.Submission,
		Success:          grade.Success,
		TimeTakenSeconds: req.TimeTakenSeconds,
		HintsUsed:        req.HintsUsed,
		StarsEarned:      grade.StarsEarned,
		ClientMetadata:   req.ClientMetadata,
		CreatedAt:        e.now(),
	}

	result := SubmitResult{Success: grade.Success, StarsEarned: grade.StarsEarned}

	if grade.Success {
		unlock, err := e.locker.Lock(ctx, progressLockKey(req.UserID, q.Activity))
		if err != nil {
			return SubmitResult{}, transient("lock progress", err)
		}
		defer unlock()
	}

	err = e.store.InTx(ctx, func(tx Tx) error {
		recorded, err := tx.RecordAttempt(ctx, attempt)
		if err != nil {
			return fmt.Errorf("record attempt: %w", err)
		}
		result.Attempt = recorded

		if !grade.Success {
			return nil
		}
		progress, err := AdvanceProgress(ctx, tx, req.UserID, q, recorded.CreatedAt)
		if err != nil {
			return err
		}
		result.Progress = &progress
		return nil
	})
	if err != nil {
		slog.Error("submit attempt failed",
			"user_id", req.UserID,
			"question_id", q.ID,
			"error", err,
		)
		return SubmitResult{}, err
	}

	if !grade.Success {
		result.CorrectAnswer = correctAnswer(q)
	}

	e.events.Emit(Event{
		UserID:     req.UserID,
		EventType:  EventAttemptCompleted,
		Activity:   q.Activity,
		Level:      q.Level,
		QuestionNo: q.QuestionNo,
		Data: map[string]any{
			"success":            grade.Success,
			"time_taken_seconds": req.TimeTakenSeconds,
			"hints_used":         req.HintsUsed,
			"stars_earned":       grade.StarsEarned,
		},
		ClientMetadata: req.ClientMetadata,
	})

	slog.Info("attempt graded",
		"user_id", req.UserID,
		"question_id", q.ID,
		"activity", q.Activity,
		"level", q.Level,
		"success", grade.Success,
		"stars", grade.StarsEarned,
	)
	return result, nil
}

func (e *Engine) starsSystem(ctx context.Context, activity string) (StarsSystem, error) {
	cfg, err := e.store.GetConfig(ctx, activity)
	if errors.Is(err, ErrNotFound) {
		return StarsSystem{}.withDefaults(), nil
	}
	if err != nil {
		return StarsSystem{}, fmt.Errorf("load activity config: %w", err)
	}
	return cfg.StarsSystem.withDefaults(), nil
}

// correctAnswer is the answer revealed after a failed attempt: the answer
// sequence, or the pair mapping for match questions without one.
func correctAnswer(q Question) any {
	if len(q.Answer) == 0 && q.isMatch() {
		pairs := make(map[string]string, len(q.MatchPairs))
		for _, p := range q.MatchPairs {
			pairs[p.QuestionValue] = p.AnswerValue
		}
		return pairs
	}
	return q.Answer
}

// GetUserState returns the user's progress, creating it on first read.
func (e *Engine) GetUserState(ctx context.Context, userID string) (UserProgress, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return UserProgress{}, invalid("user_id is required")
	}
	return e.store.EnsureProgress(ctx, userID)
}

// AttemptHistory returns the user's attempts, newest first.
func (e *Engine) AttemptHistory(ctx context.Context, userID string) ([]Attempt, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, invalid("user_id is required")
	}
	return e.store.QueryAttempts(ctx, AttemptFilter{UserID: userID})
}
