package backend

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"podium/cmd/identity/ids"
	"podium/cmd/internal/challenge"
	v1 "podium/shared/contracts/debate/v1"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
//   - PostgresStore does NOT own the pgx pool; Close is a no-op.
//
// Concurrency model:
//   - Appends take a per-debate transactional advisory lock so seq has no
//     gaps from duplicates and ordering is strict under concurrency.
//   - UpdateDebate and ResolveChallenge lock their row with SELECT ... FOR UPDATE.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
	ids    *ids.Generator
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "podium").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !pgIdentRE.MatchString(schema) {
			return OpError{Op: "backend.WithSchema", Kind: ErrInvalidInput, Msg: "invalid schema identifier"}
		}
		s.schema = schema
		return nil
	}
}

func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "podium", ids: ids.NewGenerator(nil)}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, OpError{Op: "backend.NewPostgresStore", Kind: ErrInvalidInput, Msg: "nil pool"}
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// EnsureSchema creates the store's tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	ddl := strings.ReplaceAll(schemaSQL, "{{schema}}", pgx.Identifier{s.schema}.Sanitize())
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const debateColumns = `id, topic_id, topic_title, topic_category,
	debater1_id, debater1_name, debater1_pos, debater2_id, debater2_name, debater2_pos,
	status, current_round, total_rounds, current_turn, time_remaining, started_at`

func scanDebate(row pgx.Row) (v1.Debate, error) {
	var (
		d       v1.Debate
		started *time.Time
	)
	err := row.Scan(
		&d.ID, &d.Topic.ID, &d.Topic.Title, &d.Topic.Category,
		&d.Debater1.ID, &d.Debater1.Username, &d.Debater1.Position,
		&d.Debater2.ID, &d.Debater2.Username, &d.Debater2.Position,
		&d.Status, &d.CurrentRound, &d.TotalRounds, &d.CurrentTurn, &d.TimeRemaining, &started,
	)
	if started != nil {
		d.StartedAt = started.UTC()
	}
	return d, err
}

func debateArgs(d v1.Debate) []any {
	var started *time.Time
	if !d.StartedAt.IsZero() {
		started = &d.StartedAt
	}
	return []any{
		d.ID, d.Topic.ID, d.Topic.Title, d.Topic.Category,
		d.Debater1.ID, d.Debater1.Username, string(d.Debater1.Position),
		d.Debater2.ID, d.Debater2.Username, string(d.Debater2.Position),
		string(d.Status), d.CurrentRound, d.TotalRounds, string(d.CurrentTurn), d.TimeRemaining, started,
	}
}

func (s *PostgresStore) ListDebates(ctx context.Context) ([]v1.Debate, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+debateColumns+` FROM `+s.table("debates")+` ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []v1.Debate
	for rows.Next() {
		d, err := scanDebate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetDebate(ctx context.Context, id string) (v1.Debate, error) {
	d, err := scanDebate(s.pool.QueryRow(ctx,
		`SELECT `+debateColumns+` FROM `+s.table("debates")+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return v1.Debate{}, debateNotFound("backend.GetDebate", id)
	}
	return d, err
}

func (s *PostgresStore) PutDebate(ctx context.Context, d v1.Debate) error {
	if err := d.Validate(); err != nil {
		return OpError{Op: "backend.PutDebate", Kind: ErrInvalidInput, Msg: err.Error()}
	}
	return upsertDebate(ctx, s.pool, s.table("debates"), d)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func upsertDebate(ctx context.Context, db execer, table string, d v1.Debate) error {
	_, err := db.Exec(ctx,
		`INSERT INTO `+table+` (`+debateColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 ON CONFLICT (id) DO UPDATE SET
		     topic_id = EXCLUDED.topic_id, topic_title = EXCLUDED.topic_title, topic_category = EXCLUDED.topic_category,
		     debater1_id = EXCLUDED.debater1_id, debater1_name = EXCLUDED.debater1_name, debater1_pos = EXCLUDED.debater1_pos,
		     debater2_id = EXCLUDED.debater2_id, debater2_name = EXCLUDED.debater2_name, debater2_pos = EXCLUDED.debater2_pos,
		     status = EXCLUDED.status, current_round = EXCLUDED.current_round, total_rounds = EXCLUDED.total_rounds,
		     current_turn = EXCLUDED.current_turn, time_remaining = EXCLUDED.time_remaining, started_at = EXCLUDED.started_at`,
		debateArgs(d)...,
	)
	return err
}

func (s *PostgresStore) UpdateDebate(ctx context.Context, id string, fn DebateUpdate) (v1.Debate, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return v1.Debate{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	debates := s.table("debates")
	cur, err := scanDebate(tx.QueryRow(ctx,
		`SELECT `+debateColumns+` FROM `+debates+` WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return v1.Debate{}, debateNotFound("backend.UpdateDebate", id)
	}
	if err != nil {
		return v1.Debate{}, err
	}

	next, err := fn(cur)
	if err != nil {
		return v1.Debate{}, err
	}
	next.ID = cur.ID
	if err := next.Validate(); err != nil {
		return v1.Debate{}, OpError{Op: "backend.UpdateDebate", Kind: ErrInvalidInput, Msg: err.Error()}
	}
	if next == cur {
		return cur, tx.Commit(ctx)
	}
	if err := upsertDebate(ctx, tx, debates, next); err != nil {
		return v1.Debate{}, err
	}
	return next, tx.Commit(ctx)
}

func (s *PostgresStore) ListTopics(ctx context.Context) ([]v1.Topic, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, title, category FROM `+s.table("topics")+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (v1.Topic, error) {
		var t v1.Topic
		err := r.Scan(&t.ID, &t.Title, &t.Category)
		return t, err
	})
}

func (s *PostgresStore) FindTopic(ctx context.Context, id string) (v1.Topic, bool, error) {
	var t v1.Topic
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, category FROM `+s.table("topics")+` WHERE id = $1`, id,
	).Scan(&t.ID, &t.Title, &t.Category)
	if errors.Is(err, pgx.ErrNoRows) {
		return v1.Topic{}, false, nil
	}
	if err != nil {
		return v1.Topic{}, false, err
	}
	return t, true, nil
}

func (s *PostgresStore) PutTopic(ctx context.Context, t v1.Topic) error {
	if strings.TrimSpace(t.ID) == "" || strings.TrimSpace(t.Title) == "" {
		return ErrInvalidInput
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table("topics")+` (id, title, category) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, category = EXCLUDED.category`,
		t.ID, t.Title, t.Category)
	return err
}

func (s *PostgresStore) ListUsers(ctx context.Context, role v1.Role) ([]v1.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, username, role FROM `+s.table("users")+`
		  WHERE $1 = '' OR role = $1
		  ORDER BY id`, string(role))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (v1.User, error) {
		var u v1.User
		err := r.Scan(&u.ID, &u.Username, &u.Role)
		return u, err
	})
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (UserRecord, error) {
	var u UserRecord
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, role, password_hash FROM `+s.table("users")+` WHERE username_norm = $1`,
		NormalizeUsername(username),
	).Scan(&u.User.ID, &u.User.Username, &u.User.Role, &u.PasswordHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserRecord{}, NotFoundError{Op: "backend.GetUserByUsername", Resource: "user"}
	}
	return u, err
}

func (s *PostgresStore) PutUser(ctx context.Context, u UserRecord) error {
	norm := NormalizeUsername(u.User.Username)
	if strings.TrimSpace(u.User.ID) == "" || norm == "" || !u.User.Role.Valid() {
		return ErrInvalidInput
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table("users")+` (id, username, username_norm, role, password_hash)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
		     username = EXCLUDED.username, username_norm = EXCLUDED.username_norm,
		     role = EXCLUDED.role, password_hash = EXCLUDED.password_hash`,
		u.User.ID, u.User.Username, norm, string(u.User.Role), u.PasswordHash)
	if isUniqueViolation(err) {
		return ConflictError{Op: "backend.PutUser", Field: "username"}
	}
	return err
}

const messageColumns = `id, message_id, debater_id, debater_name, body, ts, fact_check_status, round`

func scanMessage(row pgx.Row) (v1.Message, error) {
	var m v1.Message
	err := row.Scan(&m.ID, &m.MessageID, &m.DebaterID, &m.DebaterName, &m.Body, &m.Timestamp, &m.FactCheckStatus, &m.Round)
	m.Timestamp = m.Timestamp.UTC()
	return m, err
}

// AppendMessage appends a message with idempotency and monotonic sequence allocation.
func (s *PostgresStore) AppendMessage(ctx context.Context, debateID string, m v1.Message) (AppendResult, error) {
	if debateID == "" || strings.TrimSpace(m.MessageID) == "" {
		return AppendResult{}, ErrInvalidInput
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return AppendResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, debateID); err != nil {
		return AppendResult{}, fmt.Errorf("advisory lock: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+s.table("debates")+` WHERE id = $1)`, debateID,
	).Scan(&exists); err != nil {
		return AppendResult{}, err
	}
	if !exists {
		return AppendResult{}, debateNotFound("backend.AppendMessage", debateID)
	}

	messages := s.table("messages")
	existing, err := scanMessage(tx.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM `+messages+` WHERE debate_id = $1 AND message_id = $2`,
		debateID, m.MessageID))
	if err == nil {
		if err := tx.Commit(ctx); err != nil {
			return AppendResult{}, err
		}
		return AppendResult{Stored: existing, Duplicated: true}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return AppendResult{}, err
	}

	if m.ID == "" {
		if m.ID, err = s.ids.New("msg"); err != nil {
			return AppendResult{}, err
		}
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+messages+` (debate_id, seq, `+messageColumns+`)
		 SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4, $5, $6, $7, $8, $9
		   FROM `+messages+` WHERE debate_id = $1`,
		debateID, m.ID, m.MessageID, m.DebaterID, m.DebaterName, m.Body, m.Timestamp, string(m.FactCheckStatus), m.Round,
	); err != nil {
		return AppendResult{}, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return AppendResult{}, err
	}
	return AppendResult{Stored: m}, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, debateID string) ([]v1.Message, error) {
	if _, err := s.GetDebate(ctx, debateID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM `+s.table("messages")+` WHERE debate_id = $1 ORDER BY seq`, debateID)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (v1.Message, error) { return scanMessage(r) })
	if out == nil && err == nil {
		out = []v1.Message{}
	}
	return out, err
}

const challengeColumns = `id, challenger_id, challenger_name, challenged_id, challenged_name,
	topic_id, topic_title, topic_category, position, status, debate_id, created_at`

func scanChallenge(row pgx.Row) (v1.Challenge, error) {
	var (
		c                  v1.Challenge
		challengedID, name *string
		debateID           *string
	)
	err := row.Scan(&c.ID, &c.Challenger.ID, &c.Challenger.Username, &challengedID, &name,
		&c.Topic.ID, &c.Topic.Title, &c.Topic.Category, &c.Position, &c.Status, &debateID, &c.CreatedAt)
	if err != nil {
		return v1.Challenge{}, err
	}
	if challengedID != nil {
		c.Challenged = &v1.UserRef{ID: *challengedID}
		if name != nil {
			c.Challenged.Username = *name
		}
	}
	if debateID != nil {
		c.DebateID = *debateID
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

func (s *PostgresStore) CreateChallenge(ctx context.Context, c v1.Challenge) error {
	if c.ID == "" {
		return challenge.ErrInvalidInput
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table("challenges")+` (`+challengeColumns+`)
		 VALUES ($1, $2, $3, NULL, NULL, $4, $5, $6, $7, $8, NULL, $9)`,
		c.ID, c.Challenger.ID, c.Challenger.Username, c.Topic.ID, c.Topic.Title, c.Topic.Category,
		string(c.Position), string(c.Status), c.CreatedAt)
	if isUniqueViolation(err) {
		return ConflictError{Op: "backend.CreateChallenge", Field: "id"}
	}
	return err
}

func (s *PostgresStore) GetChallenge(ctx context.Context, id string) (v1.Challenge, error) {
	c, err := scanChallenge(s.pool.QueryRow(ctx,
		`SELECT `+challengeColumns+` FROM `+s.table("challenges")+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return v1.Challenge{}, challenge.ErrNotFound
	}
	return c, err
}

func (s *PostgresStore) ListChallenges(ctx context.Context) ([]v1.Challenge, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+challengeColumns+` FROM `+s.table("challenges")+` ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (v1.Challenge, error) { return scanChallenge(r) })
}

func (s *PostgresStore) ResolveChallenge(ctx context.Context, r challenge.Resolution) (v1.Challenge, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return v1.Challenge{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	challenges := s.table("challenges")
	c, err := scanChallenge(tx.QueryRow(ctx,
		`SELECT `+challengeColumns+` FROM `+challenges+` WHERE id = $1 FOR UPDATE`, r.ID))
	if errors.Is(err, pgx.ErrNoRows) {
		return v1.Challenge{}, challenge.ErrNotFound
	}
	if err != nil {
		return v1.Challenge{}, err
	}
	if c.Status != v1.ChallengePending {
		return v1.Challenge{}, challenge.ErrNotActive
	}

	if r.Debate != nil {
		if err := r.Debate.Validate(); err != nil {
			return v1.Challenge{}, OpError{Op: "backend.ResolveChallenge", Kind: ErrInvalidInput, Msg: err.Error()}
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO `+s.table("debates")+` (`+debateColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
			debateArgs(*r.Debate)...)
		if isUniqueViolation(err) {
			return v1.Challenge{}, ConflictError{Op: "backend.ResolveChallenge", Field: "debate_id"}
		}
		if err != nil {
			return v1.Challenge{}, err
		}
		c.DebateID = r.Debate.ID
	}

	c.Status = r.Status
	c.Challenged = r.Challenged
	var challengedID, challengedName *string
	if r.Challenged != nil {
		challengedID, challengedName = &r.Challenged.ID, &r.Challenged.Username
	}
	var debateID *string
	if c.DebateID != "" {
		debateID = &c.DebateID
	}
	if _, err := tx.Exec(ctx,
		`UPDATE `+challenges+`
		    SET status = $2, challenged_id = $3, challenged_name = $4, debate_id = $5
		  WHERE id = $1`,
		c.ID, string(c.Status), challengedID, challengedName, debateID,
	); err != nil {
		return v1.Challenge{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return v1.Challenge{}, err
	}
	return c, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func (s *PostgresStore) table(name string) string {
	return pgx.Identifier{s.schema, name}.Sanitize()
}
