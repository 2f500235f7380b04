package activity_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/p-n-ai/pai-activity/internal/activity"
)

func TestSeedDefaultConfigs(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	created, err := engine.SeedDefaultConfigs(ctx)
	if err != nil {
		t.Fatalf("SeedDefaultConfigs() error = %v", err)
	}
	if created != 3 {
		t.Errorf("created = %d, want 3", created)
	}

	created, err = engine.SeedDefaultConfigs(ctx)
	if err != nil || created != 0 {
		t.Errorf("second SeedDefaultConfigs() = %d, %v; want 0, nil", created, err)
	}

	match, err := engine.GetConfig(ctx, activity.ActivityMatch)
	if err != nil {
		t.Fatalf("GetConfig(match) error = %v", err)
	}
	if match.StarsSystem.PerfectTimeSeconds != 40 || match.DisplayName != "Match Pairs" {
		t.Errorf("match config = %+v", match)
	}
}

func TestConfigAdmin(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.CreateConfig(ctx, activity.ActivityConfig{Activity: "spell"}); !errors.Is(err, activity.ErrValidation) {
		t.Errorf("CreateConfig(no display name) error = %v, want ErrValidation", err)
	}
	if _, err := engine.CreateConfig(ctx, activity.ActivityConfig{Activity: "spell", DisplayName: "Spell It"}); err != nil {
		t.Fatalf("CreateConfig() error = %v", err)
	}

	updated, err := engine.UpdateConfig(ctx, "spell", activity.ActivityConfig{DisplayName: "Spelling", MinSuccessRate: 0.9})
	if err != nil {
		t.Fatalf("UpdateConfig() error = %v", err)
	}
	if updated.Activity != "spell" || updated.DisplayName != "Spelling" || updated.MinSuccessRate != 0.9 {
		t.Errorf("updated = %+v", updated)
	}
	if _, err := engine.UpdateConfig(ctx, "ghost", activity.ActivityConfig{DisplayName: "Ghost"}); !errors.Is(err, activity.ErrNotFound) {
		t.Errorf("UpdateConfig(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := engine.UpdateConfig(ctx, "spell", activity.ActivityConfig{DisplayName: "Spelling", MinSuccessRate: 1.5}); !errors.Is(err, activity.ErrValidation) {
		t.Errorf("UpdateConfig(rate 1.5) error = %v, want ErrValidation", err)
	}

	configs, err := engine.ListConfigs(ctx)
	if err != nil || len(configs) != 1 {
		t.Errorf("ListConfigs() = %d configs, %v; want 1", len(configs), err)
	}
}

func TestQuestionAdmin(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	q := arrangeQuestion(1, 1, "a", "b")
	if _, err := engine.CreateQuestion(ctx, q); err != nil {
		t.Fatalf("CreateQuestion() error = %v", err)
	}
	solve(t, engine, "u1", q)

	q.QuestionText = "Sort the letters"
	updated, err := engine.UpdateQuestion(ctx, " "+q.ID+" ", q)
	if err != nil {
		t.Fatalf("UpdateQuestion() error = %v", err)
	}
	if updated.QuestionText != "Sort the letters" {
		t.Errorf("QuestionText = %q", updated.QuestionText)
	}

	page, err := engine.SearchQuestions(ctx, activity.AdminQuestionQuery{Search: "letters"})
	if err != nil {
		t.Fatalf("SearchQuestions() error = %v", err)
	}
	if page.Total != 1 || page.Page != 1 || page.Limit != 10 {
		t.Errorf("page = total %d page %d limit %d, want 1/1/10", page.Total, page.Page, page.Limit)
	}

	if err := engine.DeleteQuestion(ctx, q.ID); err != nil {
		t.Fatalf("DeleteQuestion() error = %v", err)
	}
	if _, err := engine.GetQuestion(ctx, q.ID); !errors.Is(err, activity.ErrNotFound) {
		t.Errorf("GetQuestion() after delete error = %v, want ErrNotFound", err)
	}
	history, _ := engine.AttemptHistory(ctx, "u1")
	if len(history) != 0 {
		t.Errorf("history after delete = %d attempts, want 0", len(history))
	}
	if err := engine.DeleteQuestion(ctx, q.ID); !errors.Is(err, activity.ErrNotFound) {
		t.Errorf("second DeleteQuestion() error = %v, want ErrNotFound", err)
	}
}

func TestAdminAttemptsAndUserStats(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	qs := seedLevel(t, store, 1, 2)

	solve(t, engine, "u1", qs[0])
	solve(t, engine, "u1", qs[1])
	if _, err := engine.SubmitAttempt(ctx, activity.SubmitRequest{
		UserID: "u1", QuestionID: qs[0].ID, Submission: json.RawMessage(`["z"]`), TimeTakenSeconds: 40,
	}); err != nil {
		t.Fatalf("SubmitAttempt() error = %v", err)
	}
	solve(t, engine, "u2", qs[0])

	report, err := engine.AdminAttempts(ctx, activity.AttemptFilter{UserID: "u1"})
	if err != nil {
		t.Fatalf("AdminAttempts() error = %v", err)
	}
	want := activity.AttemptStats{Total: 3, Successful: 2, SuccessRate: 66.67, AverageTimeSeconds: 20, TotalStars: 6}
	if report.Stats != want {
		t.Errorf("Stats = %+v, want %+v", report.Stats, want)
	}
	if len(report.Attempts) != 3 {
		t.Errorf("attempts = %d, want 3", len(report.Attempts))
	}

	stats, err := engine.UserStats(ctx, "u1")
	if err != nil {
		t.Fatalf("UserStats() error = %v", err)
	}
	if stats.Stats != want || stats.Progress == nil {
		t.Errorf("UserStats = %+v, want stats and progress", stats)
	}

	stats, err = engine.UserStats(ctx, "stranger")
	if err != nil {
		t.Fatalf("UserStats(stranger) error = %v", err)
	}
	if stats.Stats.Total != 0 || stats.Progress != nil {
		t.Errorf("UserStats(stranger) = %+v, want empty", stats)
	}

	states, err := engine.ListStates(ctx)
	if err != nil {
		t.Fatalf("ListStates() error = %v", err)
	}
	if len(states) != 2 || states[0].UserID != "u2" {
		t.Errorf("states = %d, first %q; want 2 with u2 most recent", len(states), states[0].UserID)
	}
}

func TestActivityAnalytics(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	arrange := seedLevel(t, store, 1, 1)
	match := matchQuestion("mat-001-1-01", map[string]string{"dog": "puppy"})
	seed(t, store, match)

	solve(t, engine, "u1", arrange[0])
	if _, err := engine.SubmitAttempt(ctx, activity.SubmitRequest{
		UserID: "u1", QuestionID: match.ID, Submission: json.RawMessage(`{"dog":"cat"}`), TimeTakenSeconds: 7,
	}); err != nil {
		t.Fatalf("SubmitAttempt() error = %v", err)
	}
	// Outside the default window.
	if _, err := store.RecordAttempt(ctx, activity.Attempt{
		UserID: "u1", QuestionID: match.ID, Activity: activity.ActivityMatch, Level: 1, QuestionNo: 1,
		Submission: json.RawMessage(`{}`),
		CreatedAt:  time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("RecordAttempt() error = %v", err)
	}

	got, err := engine.ActivityAnalytics(ctx, "", 0)
	if err != nil {
		t.Fatalf("ActivityAnalytics() error = %v", err)
	}
	if got.Days != 30 {
		t.Errorf("Days = %d, want 30", got.Days)
	}
	want := []activity.ActivityStat{
		{Activity: activity.ActivityArrange, TotalAttempts: 1, SuccessfulAttempts: 1, TotalTimeSeconds: 10, TotalStars: 3},
		{Activity: activity.ActivityMatch, TotalAttempts: 1, TotalTimeSeconds: 7},
	}
	if len(got.Activities) != len(want) {
		t.Fatalf("Activities = %+v, want %+v", got.Activities, want)
	}
	for i := range want {
		if got.Activities[i] != want[i] {
			t.Errorf("Activities[%d] = %+v, want %+v", i, got.Activities[i], want[i])
		}
	}

	got, err = engine.ActivityAnalytics(ctx, activity.ActivityMatch, 365)
	if err != nil {
		t.Fatalf("ActivityAnalytics(match, 365) error = %v", err)
	}
	if len(got.Activities) != 1 || got.Activities[0].TotalAttempts != 2 {
		t.Errorf("Activities = %+v, want two match attempts", got.Activities)
	}
}
