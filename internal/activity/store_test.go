package activity_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/p-n-ai/pai-activity/internal/activity"
)

func TestMemoryStore(t *testing.T) {
	testStore(t, activity.NewMemoryStore())
}

// testStore runs the behaviour every Store must share. Subtests use unique
// ids so one store can serve all of them.
func testStore(t *testing.T, store activity.Store) {
	ctx := context.Background()

	unique := func(prefix string) string {
		return prefix + "-" + uuid.NewString()[:8]
	}

	t.Run("question defaults and conflict", func(t *testing.T) {
		q := arrangeQuestion(1, 1, "a", "b")
		q.ID = unique("q")
		q.Activity = unique("act")

		created, err := store.CreateQuestion(ctx, q)
		if err != nil {
			t.Fatalf("CreateQuestion() error = %v", err)
		}
		if created.Version != 1 || created.Locale != "en" || created.StarsForPerfect != 3 {
			t.Errorf("defaults = version %d locale %q stars %d", created.Version, created.Locale, created.StarsForPerfect)
		}
		if created.CreatedAt.IsZero() {
			t.Error("CreatedAt not set")
		}

		got, err := store.GetQuestion(ctx, q.ID)
		if err != nil {
			t.Fatalf("GetQuestion() error = %v", err)
		}
		if len(got.Answer) != 2 || got.Answer[1] != "b" {
			t.Errorf("Answer = %v, want [a b]", got.Answer)
		}

		if _, err := store.CreateQuestion(ctx, q); !errors.Is(err, activity.ErrConflict) {
			t.Errorf("duplicate CreateQuestion() error = %v, want ErrConflict", err)
		}
	})

	t.Run("get missing question", func(t *testing.T) {
		if _, err := store.GetQuestion(ctx, unique("missing")); !errors.Is(err, activity.ErrNotFound) {
			t.Errorf("GetQuestion() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("invalid question", func(t *testing.T) {
		q := arrangeQuestion(0, 1, "a")
		q.ID = unique("bad")
		if _, err := store.CreateQuestion(ctx, q); !errors.Is(err, activity.ErrValidation) {
			t.Errorf("CreateQuestion(level 0) error = %v, want ErrValidation", err)
		}
	})

	t.Run("update and upsert", func(t *testing.T) {
		q := arrangeQuestion(1, 1, "a")
		q.ID = unique("q")
		q.Activity = unique("act")

		if _, err := store.UpdateQuestion(ctx, q); !errors.Is(err, activity.ErrNotFound) {
			t.Fatalf("UpdateQuestion(missing) error = %v, want ErrNotFound", err)
		}

		_, created, err := store.UpsertQuestion(ctx, q)
		if err != nil || !created {
			t.Fatalf("first UpsertQuestion() = created %v, err %v; want created", created, err)
		}

		q.QuestionText = "Put them in order"
		updated, created, err := store.UpsertQuestion(ctx, q)
		if err != nil || created {
			t.Fatalf("second UpsertQuestion() = created %v, err %v; want update", created, err)
		}
		if updated.QuestionText != "Put them in order" {
			t.Errorf("QuestionText = %q", updated.QuestionText)
		}

		q.Difficulty = "medium"
		updated, err = store.UpdateQuestion(ctx, q)
		if err != nil {
			t.Fatalf("UpdateQuestion() error = %v", err)
		}
		if updated.Difficulty != "medium" {
			t.Errorf("Difficulty = %q, want medium", updated.Difficulty)
		}
	})

	t.Run("list returns canonical versions in order", func(t *testing.T) {
		act := unique("act")
		v1 := arrangeQuestion(1, 1, "a")
		v1.ID, v1.Activity = act+"-b", act
		v2 := v1
		v2.ID, v2.Version = act+"-c", 2
		tie := v2
		tie.ID = act + "-a"
		second := arrangeQuestion(1, 2, "x")
		second.ID, second.Activity = act+"-z", act
		other := arrangeQuestion(2, 1, "y")
		other.ID, other.Activity = act+"-y", act
		seed(t, store, second, v1, v2, tie, other)

		got, err := store.ListQuestions(ctx, activity.QuestionFilter{Activity: act, Level: 1})
		if err != nil {
			t.Fatalf("ListQuestions() error = %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("len = %d, want 2", len(got))
		}
		if got[0].ID != act+"-a" || got[1].ID != act+"-z" {
			t.Errorf("ids = [%s %s], want [%s-a %s-z]", got[0].ID, got[1].ID, act, act)
		}

		all, err := store.ListQuestions(ctx, activity.QuestionFilter{Activity: act})
		if err != nil {
			t.Fatalf("ListQuestions(all levels) error = %v", err)
		}
		if len(all) != 3 || all[2].Level != 2 {
			t.Errorf("all levels = %d questions, want 3 ending at level 2", len(all))
		}
	})

	t.Run("search and paging", func(t *testing.T) {
		act := unique("act")
		for i := 1; i <= 5; i++ {
			q := arrangeQuestion(1, i, "a")
			q.ID = fmt.Sprintf("%s-%d", act, i)
			q.Activity = act
			q.QuestionText = fmt.Sprintf("Sort the Apples %d", i)
			if i == 5 {
				q.QuestionText = "Count 100% of the pears_"
			}
			seed(t, store, q)
		}

		page, total, err := store.SearchQuestions(ctx, activity.AdminQuestionQuery{Activity: act, Search: "APPLES", Page: 2, Limit: 3})
		if err != nil {
			t.Fatalf("SearchQuestions() error = %v", err)
		}
		if total != 4 {
			t.Errorf("total = %d, want 4", total)
		}
		if len(page) != 1 || page[0].ID != act+"-4" {
			t.Errorf("page 2 = %v, want [%s-4]", ids(page), act)
		}

		// Wildcard characters match literally.
		page, total, err = store.SearchQuestions(ctx, activity.AdminQuestionQuery{Activity: act, Search: "100%"})
		if err != nil {
			t.Fatalf("SearchQuestions(100%%) error = %v", err)
		}
		if total != 1 || page[0].ID != act+"-5" {
			t.Errorf("literal search = %v, want [%s-5]", ids(page), act)
		}
		if _, total, _ = store.SearchQuestions(ctx, activity.AdminQuestionQuery{Activity: act, Search: "s_r"}); total != 0 {
			t.Errorf("underscore search total = %d, want 0", total)
		}

		page, _, err = store.SearchQuestions(ctx, activity.AdminQuestionQuery{Activity: act, Page: 9})
		if err != nil {
			t.Fatalf("SearchQuestions(page 9) error = %v", err)
		}
		if len(page) != 0 {
			t.Errorf("page past end = %d questions, want 0", len(page))
		}
	})

	t.Run("configs", func(t *testing.T) {
		act := unique("act")
		if _, err := store.GetConfig(ctx, act); !errors.Is(err, activity.ErrNotFound) {
			t.Fatalf("GetConfig(missing) error = %v, want ErrNotFound", err)
		}

		c, err := store.CreateConfig(ctx, activity.ActivityConfig{Activity: act, DisplayName: "Sorting", Enabled: true})
		if err != nil {
			t.Fatalf("CreateConfig() error = %v", err)
		}
		if c.StarsSystem.PerfectTimeSeconds != 30 || c.QuestionsPerLevel != 5 {
			t.Errorf("config defaults = %+v", c)
		}
		if _, err := store.CreateConfig(ctx, c); !errors.Is(err, activity.ErrConflict) {
			t.Errorf("duplicate CreateConfig() error = %v, want ErrConflict", err)
		}

		c.StarsSystem.PerfectTimeSeconds = 10
		if _, err := store.UpdateConfig(ctx, c); err != nil {
			t.Fatalf("UpdateConfig() error = %v", err)
		}
		got, err := store.GetConfig(ctx, act)
		if err != nil {
			t.Fatalf("GetConfig() error = %v", err)
		}
		if got.StarsSystem.PerfectTimeSeconds != 10 {
			t.Errorf("PerfectTimeSeconds = %v, want 10", got.StarsSystem.PerfectTimeSeconds)
		}

		all, err := store.ListConfigs(ctx)
		if err != nil {
			t.Fatalf("ListConfigs() error = %v", err)
		}
		found := false
		for _, c := range all {
			found = found || c.Activity == act
		}
		if !found {
			t.Errorf("ListConfigs() missing %s", act)
		}
	})

	t.Run("attempts newest first with filters", func(t *testing.T) {
		act := unique("act")
		q := arrangeQuestion(1, 1, "a")
		q.ID, q.Activity = unique("q"), act
		seed(t, store, q)

		user := unique("user")
		base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
		for i, success := range []bool{false, true, false} {
			_, err := store.RecordAttempt(ctx, activity.Attempt{
				UserID:         user,
				QuestionID:     q.ID,
				Activity:       act,
				Level:          1,
				QuestionNo:     1,
				Submission:     raw(t, []string{fmt.Sprint(i)}),
				Success:        success,
				ClientMetadata: map[string]any{"device": "tablet"},
				CreatedAt:      base.Add(time.Duration(i) * time.Minute),
			})
			if err != nil {
				t.Fatalf("RecordAttempt(%d) error = %v", i, err)
			}
		}

		got, err := store.QueryAttempts(ctx, activity.AttemptFilter{UserID: user})
		if err != nil {
			t.Fatalf("QueryAttempts() error = %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("len = %d, want 3", len(got))
		}
		if string(got[0].Submission) != `["2"]` || string(got[2].Submission) != `["0"]` {
			t.Errorf("order = %s, %s, %s; want newest first", got[0].Submission, got[1].Submission, got[2].Submission)
		}
		if got[0].ID == "" || got[0].ClientMetadata["device"] != "tablet" {
			t.Errorf("attempt = %+v, want id and client metadata", got[0])
		}

		yes := true
		got, _ = store.QueryAttempts(ctx, activity.AttemptFilter{UserID: user, Success: &yes})
		if len(got) != 1 {
			t.Errorf("successful attempts = %d, want 1", len(got))
		}
		got, _ = store.QueryAttempts(ctx, activity.AttemptFilter{UserID: user, Limit: 2})
		if len(got) != 2 {
			t.Errorf("limited attempts = %d, want 2", len(got))
		}
		got, _ = store.QueryAttempts(ctx, activity.AttemptFilter{UserID: user, Since: base.Add(90 * time.Second)})
		if len(got) != 1 {
			t.Errorf("attempts since = %d, want 1", len(got))
		}

		nos, err := store.DistinctQuestionNumbers(ctx, user, act, 1)
		if err != nil {
			t.Fatalf("DistinctQuestionNumbers() error = %v", err)
		}
		if len(nos) != 1 || nos[0] != 1 {
			t.Errorf("DistinctQuestionNumbers() = %v, want [1]", nos)
		}
	})

	t.Run("attempt for missing question", func(t *testing.T) {
		_, err := store.RecordAttempt(ctx, activity.Attempt{
			UserID:     unique("user"),
			QuestionID: unique("missing"),
			Activity:   activity.ActivityArrange,
			Submission: raw(t, "a"),
		})
		if !errors.Is(err, activity.ErrNotFound) {
			t.Errorf("RecordAttempt() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("delete cascades to attempts", func(t *testing.T) {
		act := unique("act")
		keep := arrangeQuestion(1, 1, "a")
		keep.ID, keep.Activity = unique("keep"), act
		drop := arrangeQuestion(1, 2, "b")
		drop.ID, drop.Activity = unique("drop"), act
		seed(t, store, keep, drop)

		user := unique("user")
		for _, q := range []activity.Question{drop, keep, drop} {
			if _, err := store.RecordAttempt(ctx, activity.Attempt{
				UserID: user, QuestionID: q.ID, Activity: act, Level: 1, QuestionNo: q.QuestionNo,
				Submission: raw(t, q.Answer),
			}); err != nil {
				t.Fatalf("RecordAttempt() error = %v", err)
			}
		}

		removed, err := store.DeleteQuestion(ctx, drop.ID)
		if err != nil {
			t.Fatalf("DeleteQuestion() error = %v", err)
		}
		if removed != 2 {
			t.Errorf("removed = %d, want 2", removed)
		}
		left, _ := store.QueryAttempts(ctx, activity.AttemptFilter{UserID: user})
		if len(left) != 1 || left[0].QuestionID != keep.ID {
			t.Errorf("remaining attempts = %d, want only %s", len(left), keep.ID)
		}
		if _, err := store.DeleteQuestion(ctx, drop.ID); !errors.Is(err, activity.ErrNotFound) {
			t.Errorf("second DeleteQuestion() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("progress records", func(t *testing.T) {
		user := unique("user")
		if _, ok, err := store.GetProgress(ctx, user); err != nil || ok {
			t.Fatalf("GetProgress(new) = ok %v, err %v; want absent", ok, err)
		}
		p, err := store.EnsureProgress(ctx, user)
		if err != nil {
			t.Fatalf("EnsureProgress() error = %v", err)
		}
		if p.UserID != user || len(p.Unlocked) != 0 || p.LastPlayed != nil {
			t.Errorf("new progress = %+v, want empty", p)
		}
		if _, ok, _ := store.GetProgress(ctx, user); !ok {
			t.Error("GetProgress() after EnsureProgress should find the record")
		}
		if _, err := store.EnsureProgress(ctx, user); err != nil {
			t.Errorf("second EnsureProgress() error = %v", err)
		}
	})

	t.Run("transaction rollback discards writes", func(t *testing.T) {
		act := unique("act")
		q := arrangeQuestion(1, 1, "a")
		q.ID, q.Activity = unique("q"), act
		seed(t, store, q)
		user := unique("user")

		boom := errors.New("boom")
		err := store.InTx(ctx, func(tx activity.Tx) error {
			if _, err := tx.RecordAttempt(ctx, activity.Attempt{
				UserID: user, QuestionID: q.ID, Activity: act, Level: 1, QuestionNo: 1,
				Submission: raw(t, "a"), Success: true,
			}); err != nil {
				return err
			}
			if _, err := tx.LockProgress(ctx, user); err != nil {
				return err
			}
			if err := tx.SaveActivityProgress(ctx, user, act, activity.ActivityProgress{Level: 1, HighestQuestionNo: 1}, time.Now()); err != nil {
				return err
			}

			nos, err := tx.DistinctQuestionNumbers(ctx, user, act, 1)
			if err != nil {
				return err
			}
			if len(nos) != 1 {
				t.Errorf("staged DistinctQuestionNumbers() = %v, want [1]", nos)
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("InTx() error = %v, want boom", err)
		}

		got, _ := store.QueryAttempts(ctx, activity.AttemptFilter{UserID: user})
		if len(got) != 0 {
			t.Errorf("attempts after rollback = %d, want 0", len(got))
		}
		if p, ok, _ := store.GetProgress(ctx, user); ok && len(p.Unlocked) != 0 {
			t.Errorf("progress after rollback = %+v, want none", p.Unlocked)
		}
	})

	t.Run("transaction commit saves one entry", func(t *testing.T) {
		user := unique("user")
		if _, err := store.EnsureProgress(ctx, user); err != nil {
			t.Fatalf("EnsureProgress() error = %v", err)
		}

		played := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
		for _, act := range []string{"arrange", "match"} {
			err := store.InTx(ctx, func(tx activity.Tx) error {
				if _, err := tx.LockProgress(ctx, user); err != nil {
					return err
				}
				return tx.SaveActivityProgress(ctx, user, act, activity.ActivityProgress{Level: 2, HighestQuestionNo: 3}, played)
			})
			if err != nil {
				t.Fatalf("InTx(%s) error = %v", act, err)
			}
		}

		p, ok, err := store.GetProgress(ctx, user)
		if err != nil || !ok {
			t.Fatalf("GetProgress() = ok %v, err %v", ok, err)
		}
		if len(p.Unlocked) != 2 || p.Unlocked["match"].Level != 2 {
			t.Errorf("Unlocked = %+v, want arrange and match at level 2", p.Unlocked)
		}
		if p.LastPlayed == nil || !p.LastPlayed.Equal(played) {
			t.Errorf("LastPlayed = %v, want %v", p.LastPlayed, played)
		}
	})

	t.Run("cancelled transaction commits nothing", func(t *testing.T) {
		act := unique("act")
		q := arrangeQuestion(1, 1, "a")
		q.ID, q.Activity = unique("q"), act
		seed(t, store, q)
		user := unique("user")

		cctx, cancel := context.WithCancel(ctx)
		err := store.InTx(cctx, func(tx activity.Tx) error {
			_, err := tx.RecordAttempt(cctx, activity.Attempt{
				UserID: user, QuestionID: q.ID, Activity: act, Level: 1, QuestionNo: 1,
				Submission: raw(t, "a"),
			})
			cancel()
			return err
		})
		if err == nil {
			t.Fatal("InTx() after cancel error = nil, want error")
		}
		got, _ := store.QueryAttempts(ctx, activity.AttemptFilter{UserID: user})
		if len(got) != 0 {
			t.Errorf("attempts after cancel = %d, want 0", len(got))
		}
	})
}

func ids(qs []activity.Question) []string {
	out := make([]string, len(qs))
	for i, q := range qs {
		out[i] = q.ID
	}
	return out
}
