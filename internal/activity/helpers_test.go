package activity_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/p-n-ai/pai-activity/internal/activity"
)

func arrangeQuestion(level, no int, answer ...string) activity.Question {
	return activity.Question{
		ID:         fmt.Sprintf("arr-001-%d-%02d", level, no),
		Activity:   activity.ActivityArrange,
		Level:      level,
		QuestionNo: no,
		Items:      answer,
		Answer:     answer,
	}
}

func matchQuestion(id string, pairs map[string]string) activity.Question {
	q := activity.Question{
		ID:           id,
		Activity:     activity.ActivityMatch,
		Level:        1,
		QuestionNo:   1,
		Presentation: activity.Presentation{DisplayType: activity.DisplayMatch},
	}
	for k, v := range pairs {
		q.MatchPairs = append(q.MatchPairs, activity.MatchPair{QuestionValue: k, AnswerValue: v})
	}
	return q
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %v: %v", v, err)
	}
	return b
}

// seed creates questions in store, failing the test on error.
func seed(t *testing.T, store activity.Store, questions ...activity.Question) {
	t.Helper()
	for _, q := range questions {
		if _, err := store.CreateQuestion(context.Background(), q); err != nil {
			t.Fatalf("CreateQuestion(%s) error = %v", q.ID, err)
		}
	}
}

// seedLevel creates n arrange questions numbered 1..n in level.
func seedLevel(t *testing.T, store activity.Store, level, n int) []activity.Question {
	t.Helper()
	qs := make([]activity.Question, 0, n)
	for no := 1; no <= n; no++ {
		q := arrangeQuestion(level, no, "a", "b", "c")
		seed(t, store, q)
		qs = append(qs, q)
	}
	return qs
}

// solve submits the correct answer for q.
func solve(t *testing.T, e *activity.Engine, userID string, q activity.Question) activity.SubmitResult {
	t.Helper()
	res, err := e.SubmitAttempt(context.Background(), activity.SubmitRequest{
		UserID:           userID,
		QuestionID:       q.ID,
		Submission:       raw(t, q.Answer),
		TimeTakenSeconds: 10,
	})
	if err != nil {
		t.Fatalf("SubmitAttempt(%s) error = %v", q.ID, err)
	}
	if !res.Success {
		t.Fatalf("SubmitAttempt(%s) success = false, want true", q.ID)
	}
	return res
}

// fixedClock returns a clock that starts at start and ticks one second per
// call.
func fixedClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}
