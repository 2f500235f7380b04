package activity_test

import (
	"context"
	"sync"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/p-n-ai/pai-activity/internal/activity"
	"github.com/p-n-ai/pai-activity/internal/platform/database"
)

func startPostgres(t *testing.T) *database.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}

	ctx := t.Context()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("pai"),
		postgres.WithUsername("pai"),
		postgres.WithPassword("pai"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}

	url, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	db, err := database.New(ctx, database.Options{URL: url, MaxConns: 8, MinConns: 1})
	if err != nil {
		t.Fatalf("database.New() error = %v", err)
	}
	t.Cleanup(db.Close)

	if err := db.Migrate(ctx, activity.Schema); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

func TestNewPostgresStore_NilPool(t *testing.T) {
	if _, err := activity.NewPostgresStore(nil); err == nil {
		t.Error("NewPostgresStore(nil) should fail")
	}
}

func TestPostgresStore(t *testing.T) {
	db := startPostgres(t)
	store, err := activity.NewPostgresStore(db.Pool)
	if err != nil {
		t.Fatalf("NewPostgresStore() error = %v", err)
	}

	testStore(t, store)

	t.Run("schema is idempotent", func(t *testing.T) {
		if err := db.Migrate(t.Context(), activity.Schema); err != nil {
			t.Errorf("second Migrate() error = %v", err)
		}
	})

	t.Run("rich question fields survive a round trip", func(t *testing.T) {
		q := matchQuestion("pg-match-1", map[string]string{"dog": "puppy"})
		q.Hints = []activity.Hint{{Type: "text", Value: "Baby animals", Cost: 1}}
		q.Assets = activity.Assets{AudioPrompt: "dog.mp3"}
		q.AnalyticsTags = []string{"animals"}
		seed(t, store, q)

		got, err := store.GetQuestion(t.Context(), q.ID)
		if err != nil {
			t.Fatalf("GetQuestion() error = %v", err)
		}
		if len(got.MatchPairs) != 1 || got.MatchPairs[0].AnswerValue != "puppy" {
			t.Errorf("MatchPairs = %+v", got.MatchPairs)
		}
		if len(got.Hints) != 1 || got.Hints[0].Cost != 1 || got.Assets.AudioPrompt != "dog.mp3" {
			t.Errorf("hints/assets = %+v / %+v", got.Hints, got.Assets)
		}
		if got.Presentation.DisplayType != activity.DisplayMatch {
			t.Errorf("DisplayType = %q", got.Presentation.DisplayType)
		}
	})
}

func TestPostgresStore_EngineFlow(t *testing.T) {
	db := startPostgres(t)
	store, err := activity.NewPostgresStore(db.Pool)
	if err != nil {
		t.Fatalf("NewPostgresStore() error = %v", err)
	}
	engine := activity.NewEngine(activity.EngineConfig{Store: store})
	ctx := t.Context()

	qs := seedLevel(t, store, 1, 5)
	seedLevel(t, store, 2, 5)

	// Concurrent successes across the whole level advance it exactly once.
	var wg sync.WaitGroup
	for _, q := range qs {
		for range 2 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := engine.SubmitAttempt(context.Background(), activity.SubmitRequest{
					UserID: "pg-user", QuestionID: q.ID, Submission: raw(t, q.Answer), TimeTakenSeconds: 5,
				}); err != nil {
					t.Errorf("SubmitAttempt(%s) error = %v", q.ID, err)
				}
			}()
		}
	}
	wg.Wait()

	state, err := engine.GetUserState(ctx, "pg-user")
	if err != nil {
		t.Fatalf("GetUserState() error = %v", err)
	}
	if got := state.Unlocked[activity.ActivityArrange].Level; got != 2 {
		t.Errorf("level = %d, want 2", got)
	}

	view, err := engine.GetLevels(ctx, "pg-user", activity.ActivityArrange)
	if err != nil {
		t.Fatalf("GetLevels() error = %v", err)
	}
	if len(view.Levels) != 2 || !view.Levels[0].IsCompleted || !view.Levels[1].IsCurrent {
		t.Errorf("levels = %+v", view.Levels)
	}

	removed, err := store.DeleteQuestion(ctx, qs[0].ID)
	if err != nil {
		t.Fatalf("DeleteQuestion() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
}

func TestPostgresEventLogger(t *testing.T) {
	db := startPostgres(t)
	logger := activity.NewPostgresEventLogger(db.Pool)
	ctx := t.Context()

	err := logger.LogEvent(ctx, activity.Event{
		UserID:    "u1",
		EventType: activity.EventAttemptCompleted,
		Activity:  activity.ActivityArrange,
		Level:     1,
		Data:      map[string]any{"success": true},
	})
	if err != nil {
		t.Fatalf("LogEvent() error = %v", err)
	}
	if err := logger.LogEvent(ctx, activity.Event{UserID: "u1"}); err == nil {
		t.Error("LogEvent() without event_type should fail")
	}

	var count int
	if err := db.Pool.QueryRow(ctx,
		`SELECT count(*) FROM analytics_events WHERE user_id = 'u1' AND data->>'success' = 'true' AND question_no IS NULL`,
	).Scan(&count); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 1 {
		t.Errorf("events = %d, want 1", count)
	}
}
