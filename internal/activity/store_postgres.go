package activity

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the DDL for every table the Postgres store and event logger
// use. It is idempotent.
//
//go:embed schema.sql
var Schema string

const dbTimeout = 5 * time.Second

const questionColumns = `id, activity, level, question_no, version, locale,
	question_items, answer, presentation, match_pairs, hints,
	time_limit_seconds, stars_for_perfect, difficulty, question_text,
	image_url, assets, analytics_tags, created_at, updated_at`

const attemptColumns = `id::text, user_id, activity_question_id, activity, level, question_no,
	attempt_order::text, success, time_taken_seconds, hints_used, stars_earned,
	client_metadata, created_at`

const configColumns = `activity, display_name, description, enabled, max_levels,
	questions_per_level, min_success_rate, unlock_on_first_success, stars_system,
	created_at, updated_at`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is a PostgreSQL-backed Store implementation.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store over pool. The schema must already be
// applied.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) GetQuestion(ctx context.Context, id string) (Question, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	q, err := scanQuestion(s.pool.QueryRow(ctx,
		`SELECT `+questionColumns+` FROM activity_questions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Question{}, notFound("question %s", id)
	}
	if err != nil {
		return Question{}, storageErr("get question", err)
	}
	return q, nil
}

func (s *PostgresStore) ListQuestions(ctx context.Context, f QuestionFilter) ([]Question, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	return listQuestions(ctx, s.pool, f)
}

// listQuestions returns the canonical question of every slot: highest
// version first, then smallest id.
func listQuestions(ctx context.Context, db querier, f QuestionFilter) ([]Question, error) {
	rows, err := db.Query(ctx,
		`SELECT DISTINCT ON (activity, level, question_no) `+questionColumns+`
		 FROM activity_questions
		 WHERE ($1 = '' OR activity = $1)
		   AND ($2 = 0 OR level = $2)
		 ORDER BY activity, level, question_no, version DESC, id ASC`,
		f.Activity, f.Level,
	)
	if err != nil {
		return nil, storageErr("list questions", err)
	}
	return collectQuestions(rows)
}

func (s *PostgresStore) SearchQuestions(ctx context.Context, aq AdminQuestionQuery) ([]Question, int, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	_, limit, offset := aq.Paging()
	pattern := ""
	if aq.Search != "" {
		pattern = "%" + escapeLike(aq.Search) + "%"
	}
	const where = `WHERE ($1 = '' OR activity = $1)
		   AND ($2 = 0 OR level = $2)
		   AND ($3 = '' OR locale = $3)
		   AND ($4 = '' OR question_text ILIKE $4 OR id ILIKE $4 OR activity ILIKE $4)`
	args := []any{aq.Activity, aq.Level, aq.Locale, pattern}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM activity_questions `+where, args...).Scan(&total); err != nil {
		return nil, 0, storageErr("count questions", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+questionColumns+` FROM activity_questions `+where+`
		 ORDER BY activity, level, question_no, id
		 LIMIT $5 OFFSET $6`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, storageErr("search questions", err)
	}
	questions, err := collectQuestions(rows)
	if err != nil {
		return nil, 0, err
	}
	return questions, total, nil
}

func (s *PostgresStore) CreateQuestion(ctx context.Context, q Question) (Question, error) {
	q, err := NormalizeQuestion(q)
	if err != nil {
		return Question{}, err
	}
	args, err := questionArgs(q)
	if err != nil {
		return Question{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	err = s.pool.QueryRow(ctx,
		`INSERT INTO activity_questions (`+questionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb, $9::jsonb, $10::jsonb, $11::jsonb,
		         $12, $13, $14, $15, $16, $17::jsonb, $18::jsonb, now(), now())
		 RETURNING created_at, updated_at`,
		args...,
	).Scan(&q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return Question{}, storageErr("create question "+q.ID, err)
	}
	return q, nil
}

func (s *PostgresStore) UpdateQuestion(ctx context.Context, q Question) (Question, error) {
	q, err := NormalizeQuestion(q)
	if err != nil {
		return Question{}, err
	}
	args, err := questionArgs(q)
	if err != nil {
		return Question{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	err = s.pool.QueryRow(ctx,
		`UPDATE activity_questions SET
		   activity = $2, level = $3, question_no = $4, version = $5, locale = $6,
		   question_items = $7::jsonb, answer = $8::jsonb, presentation = $9::jsonb,
		   match_pairs = $10::jsonb, hints = $11::jsonb, time_limit_seconds = $12,
		   stars_for_perfect = $13, difficulty = $14, question_text = $15,
		   image_url = $16, assets = $17::jsonb, analytics_tags = $18::jsonb,
		   updated_at = now()
		 WHERE id = $1
		 RETURNING created_at, updated_at`,
		args...,
	).Scan(&q.CreatedAt, &q.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Question{}, notFound("question %s", q.ID)
	}
	if err != nil {
		return Question{}, storageErr("update question "+q.ID, err)
	}
	return q, nil
}

func (s *PostgresStore) UpsertQuestion(ctx context.Context, q Question) (Question, bool, error) {
	q, err := NormalizeQuestion(q)
	if err != nil {
		return Question{}, false, err
	}
	args, err := questionArgs(q)
	if err != nil {
		return Question{}, false, err
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var inserted bool
	err = s.pool.QueryRow(ctx,
		`INSERT INTO activity_questions (`+questionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb, $9::jsonb, $10::jsonb, $11::jsonb,
		         $12, $13, $14, $15, $16, $17::jsonb, $18::jsonb, now(), now())
		 ON CONFLICT (id) DO UPDATE SET
		   activity = EXCLUDED.activity, level = EXCLUDED.level,
		   question_no = EXCLUDED.question_no, version = EXCLUDED.version,
		   locale = EXCLUDED.locale, question_items = EXCLUDED.question_items,
		   answer = EXCLUDED.answer, presentation = EXCLUDED.presentation,
		   match_pairs = EXCLUDED.match_pairs, hints = EXCLUDED.hints,
		   time_limit_seconds = EXCLUDED.time_limit_seconds,
		   stars_for_perfect = EXCLUDED.stars_for_perfect,
		   difficulty = EXCLUDED.difficulty, question_text = EXCLUDED.question_text,
		   image_url = EXCLUDED.image_url, assets = EXCLUDED.assets,
		   analytics_tags = EXCLUDED.analytics_tags, updated_at = now()
		 RETURNING created_at, updated_at, (xmax = 0)`,
		args...,
	).Scan(&q.CreatedAt, &q.UpdatedAt, &inserted)
	if err != nil {
		return Question{}, false, storageErr("upsert question "+q.ID, err)
	}
	return q, inserted, nil
}

func (s *PostgresStore) DeleteQuestion(ctx context.Context, id string) (int, error) {
	var removed int
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		// The row lock keeps attempts from being inserted between the count
		// and the delete.
		var found string
		err := tx.QueryRow(ctx, `SELECT id FROM activity_questions WHERE id = $1 FOR UPDATE`, id).Scan(&found)
		if errors.Is(err, pgx.ErrNoRows) {
			return notFound("question %s", id)
		}
		if err != nil {
			return storageErr("lock question", err)
		}

		tag, err := tx.Exec(ctx, `DELETE FROM activity_attempts WHERE activity_question_id = $1`, id)
		if err != nil {
			return storageErr("delete attempts", err)
		}
		removed = int(tag.RowsAffected())

		if _, err := tx.Exec(ctx, `DELETE FROM activity_questions WHERE id = $1`, id); err != nil {
			return storageErr("delete question", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *PostgresStore) GetConfig(ctx context.Context, activity string) (ActivityConfig, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	c, err := scanConfig(s.pool.QueryRow(ctx,
		`SELECT `+configColumns+` FROM activity_configs WHERE activity = $1`, activity))
	if errors.Is(err, pgx.ErrNoRows) {
		return ActivityConfig{}, notFound("activity config %s", activity)
	}
	if err != nil {
		return ActivityConfig{}, storageErr("get config", err)
	}
	return c, nil
}

func (s *PostgresStore) ListConfigs(ctx context.Context) ([]ActivityConfig, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT `+configColumns+` FROM activity_configs ORDER BY activity`)
	if err != nil {
		return nil, storageErr("list configs", err)
	}
	defer rows.Close()

	out := []ActivityConfig{}
	for rows.Next() {
		c, err := scanConfig(rows)
		if err != nil {
			return nil, storageErr("scan config", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate configs", err)
	}
	return out, nil
}

func (s *PostgresStore) CreateConfig(ctx context.Context, c ActivityConfig) (ActivityConfig, error) {
	c, err := NormalizeConfig(c)
	if err != nil {
		return ActivityConfig{}, err
	}
	stars, err := json.Marshal(c.StarsSystem)
	if err != nil {
		return ActivityConfig{}, fmt.Errorf("marshal stars system: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	err = s.pool.QueryRow(ctx,
		`INSERT INTO activity_configs (`+configColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, now(), now())
		 RETURNING created_at, updated_at`,
		c.Activity, c.DisplayName, c.Description, c.Enabled, c.MaxLevels,
		c.QuestionsPerLevel, c.MinSuccessRate, c.UnlockOnFirstSuccess, string(stars),
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return ActivityConfig{}, storageErr("create config "+c.Activity, err)
	}
	return c, nil
}

func (s *PostgresStore) UpdateConfig(ctx context.Context, c ActivityConfig) (ActivityConfig, error) {
	c, err := NormalizeConfig(c)
	if err != nil {
		return ActivityConfig{}, err
	}
	stars, err := json.Marshal(c.StarsSystem)
	if err != nil {
		return ActivityConfig{}, fmt.Errorf("marshal stars system: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	err = s.pool.QueryRow(ctx,
		`UPDATE activity_configs SET
		   display_name = $2, description = $3, enabled = $4, max_levels = $5,
		   questions_per_level = $6, min_success_rate = $7,
		   unlock_on_first_success = $8, stars_system = $9::jsonb, updated_at = now()
		 WHERE activity = $1
		 RETURNING created_at, updated_at`,
		c.Activity, c.DisplayName, c.Description, c.Enabled, c.MaxLevels,
		c.QuestionsPerLevel, c.MinSuccessRate, c.UnlockOnFirstSuccess, string(stars),
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ActivityConfig{}, notFound("activity config %s", c.Activity)
	}
	if err != nil {
		return ActivityConfig{}, storageErr("update config "+c.Activity, err)
	}
	return c, nil
}

func (s *PostgresStore) RecordAttempt(ctx context.Context, a Attempt) (Attempt, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	return insertAttempt(ctx, s.pool, a)
}

func insertAttempt(ctx context.Context, db querier, a Attempt) (Attempt, error) {
	a, err := prepareAttempt(a)
	if err != nil {
		return Attempt{}, err
	}
	meta, err := marshalObject(a.ClientMetadata)
	if err != nil {
		return Attempt{}, fmt.Errorf("marshal client metadata: %w", err)
	}
	if !json.Valid(a.Submission) {
		return Attempt{}, invalid("attempt_order is not valid JSON")
	}

	if _, err := db.Exec(ctx,
		`INSERT INTO activity_attempts (id, user_id, activity_question_id, activity, level, question_no,
		   attempt_order, success, time_taken_seconds, hints_used, stars_earned, client_metadata, created_at)
		 VALUES ($1::uuid, $2, $3, $4, $5, $6, $7::json, $8, $9, $10, $11, $12::jsonb, $13)`,
		a.ID, a.UserID, a.QuestionID, a.Activity, a.Level, a.QuestionNo,
		string(a.Submission), a.Success, a.TimeTakenSeconds, a.HintsUsed,
		a.StarsEarned, string(meta), a.CreatedAt,
	); err != nil {
		return Attempt{}, storageErr("insert attempt", err)
	}
	return a, nil
}

func (s *PostgresStore) QueryAttempts(ctx context.Context, f AttemptFilter) ([]Attempt, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.Activity != "" {
		add("activity = $%d", f.Activity)
	}
	if f.Level != 0 {
		add("level = $%d", f.Level)
	}
	if f.Success != nil {
		add("success = $%d", *f.Success)
	}
	if !f.Since.IsZero() {
		add("created_at >= $%d", f.Since)
	}

	query := `SELECT ` + attemptColumns + ` FROM activity_attempts`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr("query attempts", err)
	}
	defer rows.Close()

	out := []Attempt{}
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, storageErr("scan attempt", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate attempts", err)
	}
	return out, nil
}

func (s *PostgresStore) DistinctQuestionNumbers(ctx context.Context, userID, activity string, level int) ([]int, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	return distinctQuestionNumbers(ctx, s.pool, userID, activity, level)
}

func distinctQuestionNumbers(ctx context.Context, db querier, userID, activity string, level int) ([]int, error) {
	rows, err := db.Query(ctx,
		`SELECT DISTINCT question_no FROM activity_attempts
		 WHERE user_id = $1 AND activity = $2 AND level = $3 AND success
		 ORDER BY question_no`,
		userID, activity, level,
	)
	if err != nil {
		return nil, storageErr("distinct question numbers", err)
	}
	nos, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, storageErr("scan question numbers", err)
	}
	return nos, nil
}

func (s *PostgresStore) GetProgress(ctx context.Context, userID string) (UserProgress, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	p, err := loadProgress(ctx, s.pool, userID, false)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserProgress{}, false, nil
	}
	if err != nil {
		return UserProgress{}, false, err
	}
	return p, true, nil
}

func (s *PostgresStore) EnsureProgress(ctx context.Context, userID string) (UserProgress, error) {
	if userID == "" {
		return UserProgress{}, invalid("user_id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if err := ensureProgressRow(ctx, s.pool, userID); err != nil {
		return UserProgress{}, err
	}
	return loadProgress(ctx, s.pool, userID, false)
}

func (s *PostgresStore) ListProgress(ctx context.Context) ([]UserProgress, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT user_id, last_played, created_at, updated_at FROM user_progress
		 ORDER BY last_played DESC NULLS LAST, user_id`)
	if err != nil {
		return nil, storageErr("list progress", err)
	}
	defer rows.Close()

	out := []UserProgress{}
	index := make(map[string]int)
	for rows.Next() {
		p := UserProgress{Unlocked: map[string]ActivityProgress{}}
		if err := rows.Scan(&p.UserID, &p.LastPlayed, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, storageErr("scan progress", err)
		}
		index[p.UserID] = len(out)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate progress", err)
	}
	rows.Close()

	entries, err := s.pool.Query(ctx, `SELECT user_id, activity, level, highest_question_no FROM user_activity_progress`)
	if err != nil {
		return nil, storageErr("list activity progress", err)
	}
	defer entries.Close()
	for entries.Next() {
		var (
			userID, activity string
			ap               ActivityProgress
		)
		if err := entries.Scan(&userID, &activity, &ap.Level, &ap.HighestQuestionNo); err != nil {
			return nil, storageErr("scan activity progress", err)
		}
		if i, ok := index[userID]; ok {
			out[i].Unlocked[activity] = ap
		}
	}
	if err := entries.Err(); err != nil {
		return nil, storageErr("iterate activity progress", err)
	}
	return out, nil
}

// InTx runs fn in a database transaction. The transaction is rolled back
// when fn fails or ctx ends before commit.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		return fn(&postgresTx{tx: tx})
	})
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storageErr("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return storageErr("commit", err)
	}
	return nil
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) RecordAttempt(ctx context.Context, a Attempt) (Attempt, error) {
	return insertAttempt(ctx, t.tx, a)
}

func (t *postgresTx) ListQuestions(ctx context.Context, f QuestionFilter) ([]Question, error) {
	return listQuestions(ctx, t.tx, f)
}

func (t *postgresTx) DistinctQuestionNumbers(ctx context.Context, userID, activity string, level int) ([]int, error) {
	return distinctQuestionNumbers(ctx, t.tx, userID, activity, level)
}

func (t *postgresTx) LockProgress(ctx context.Context, userID string) (UserProgress, error) {
	if userID == "" {
		return UserProgress{}, invalid("user_id is required")
	}
	if err := ensureProgressRow(ctx, t.tx, userID); err != nil {
		return UserProgress{}, err
	}
	return loadProgress(ctx, t.tx, userID, true)
}

func (t *postgresTx) SaveActivityProgress(ctx context.Context, userID, activity string, ap ActivityProgress, lastPlayed time.Time) error {
	if _, err := t.tx.Exec(ctx,
		`INSERT INTO user_activity_progress (user_id, activity, level, highest_question_no)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, activity) DO UPDATE SET
		   level = EXCLUDED.level, highest_question_no = EXCLUDED.highest_question_no`,
		userID, activity, ap.Level, ap.HighestQuestionNo,
	); err != nil {
		return storageErr("save activity progress", err)
	}
	if _, err := t.tx.Exec(ctx,
		`UPDATE user_progress SET last_played = $2, updated_at = $2 WHERE user_id = $1`,
		userID, lastPlayed,
	); err != nil {
		return storageErr("touch progress", err)
	}
	return nil
}

func ensureProgressRow(ctx context.Context, db querier, userID string) error {
	if _, err := db.Exec(ctx,
		`INSERT INTO user_progress (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
		userID,
	); err != nil {
		return storageErr("create progress", err)
	}
	return nil
}

// loadProgress reads the user's progress and activity entries. It returns
// pgx.ErrNoRows unwrapped when the user has no record. forUpdate holds the
// progress row until the surrounding transaction ends.
func loadProgress(ctx context.Context, db querier, userID string, forUpdate bool) (UserProgress, error) {
	query := `SELECT user_id, last_played, created_at, updated_at FROM user_progress WHERE user_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	p := UserProgress{Unlocked: map[string]ActivityProgress{}}
	err := db.QueryRow(ctx, query, userID).Scan(&p.UserID, &p.LastPlayed, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserProgress{}, err
	}
	if err != nil {
		return UserProgress{}, storageErr("load progress", err)
	}

	rows, err := db.Query(ctx,
		`SELECT activity, level, highest_question_no FROM user_activity_progress WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return UserProgress{}, storageErr("load activity progress", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			activity string
			ap       ActivityProgress
		)
		if err := rows.Scan(&activity, &ap.Level, &ap.HighestQuestionNo); err != nil {
			return UserProgress{}, storageErr("scan activity progress", err)
		}
		p.Unlocked[activity] = ap
	}
	if err := rows.Err(); err != nil {
		return UserProgress{}, storageErr("iterate activity progress", err)
	}
	return p, nil
}

func questionArgs(q Question) ([]any, error) {
	var encoded [7]string
	for i, v := range []any{q.Items, q.Answer, q.Presentation, q.MatchPairs, q.Hints, q.Assets, q.AnalyticsTags} {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal question %s: %w", q.ID, err)
		}
		encoded[i] = string(b)
	}
	return []any{
		q.ID, q.Activity, q.Level, q.QuestionNo, q.Version, q.Locale,
		encoded[0], encoded[1], encoded[2], encoded[3], encoded[4],
		q.TimeLimitSeconds, q.StarsForPerfect, q.Difficulty, q.QuestionText,
		q.ImageURL, encoded[5], encoded[6],
	}, nil
}

func scanQuestion(row pgx.Row) (Question, error) {
	var q Question
	var items, answer, presentation, pairs, hints, assets, tags []byte
	if err := row.Scan(
		&q.ID, &q.Activity, &q.Level, &q.QuestionNo, &q.Version, &q.Locale,
		&items, &answer, &presentation, &pairs, &hints,
		&q.TimeLimitSeconds, &q.StarsForPerfect, &q.Difficulty, &q.QuestionText,
		&q.ImageURL, &assets, &tags, &q.CreatedAt, &q.UpdatedAt,
	); err != nil {
		return Question{}, err
	}

	columns := []struct {
		raw []byte
		dst any
	}{
		{items, &q.Items},
		{answer, &q.Answer},
		{presentation, &q.Presentation},
		{pairs, &q.MatchPairs},
		{hints, &q.Hints},
		{assets, &q.Assets},
		{tags, &q.AnalyticsTags},
	}
	for _, c := range columns {
		if len(c.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(c.raw, c.dst); err != nil {
			return Question{}, fmt.Errorf("decode question %s: %w", q.ID, err)
		}
	}
	return q, nil
}

func collectQuestions(rows pgx.Rows) ([]Question, error) {
	defer rows.Close()
	out := []Question{}
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, storageErr("scan question", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate questions", err)
	}
	return out, nil
}

func scanAttempt(row pgx.Row) (Attempt, error) {
	var (
		a          Attempt
		submission string
		meta       []byte
	)
	if err := row.Scan(
		&a.ID, &a.UserID, &a.QuestionID, &a.Activity, &a.Level, &a.QuestionNo,
		&submission, &a.Success, &a.TimeTakenSeconds, &a.HintsUsed, &a.StarsEarned,
		&meta, &a.CreatedAt,
	); err != nil {
		return Attempt{}, err
	}
	a.Submission = json.RawMessage(submission)
	a.ClientMetadata = map[string]any{}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &a.ClientMetadata); err != nil {
			return Attempt{}, fmt.Errorf("decode client metadata: %w", err)
		}
	}
	return a, nil
}

func scanConfig(row pgx.Row) (ActivityConfig, error) {
	var (
		c     ActivityConfig
		stars []byte
	)
	if err := row.Scan(
		&c.Activity, &c.DisplayName, &c.Description, &c.Enabled, &c.MaxLevels,
		&c.QuestionsPerLevel, &c.MinSuccessRate, &c.UnlockOnFirstSuccess, &stars,
		&c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return ActivityConfig{}, err
	}
	if len(stars) > 0 {
		if err := json.Unmarshal(stars, &c.StarsSystem); err != nil {
			return ActivityConfig{}, fmt.Errorf("decode stars system: %w", err)
		}
	}
	return c, nil
}

// storageErr classifies a database error: constraint violations map to the
// domain error kinds, everything else is transient.
func storageErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return conflict("%s: %s", op, pgErr.Detail)
		case "23503":
			return notFound("%s: referenced row does not exist", op)
		case "23514", "22P02", "22023":
			return invalid("%s: %s", op, pgErr.Message)
		}
	}
	return transient(op, err)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func nullIfZero(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
