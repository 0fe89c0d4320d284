package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"sealchat/internal/domain"
)

// PostgresStore is a SessionStore backed by PostgreSQL. Rows are scoped to
// the local device so several devices can share one schema.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Advisory locks live on connections hijacked out of the pool, so a lock
//   holder never waits on its own queries for a pool slot. Close releases
//   the idle ones.
//
// Concurrency model:
// - Each write is a single statement or a ReadCommitted transaction, so a
//   row is never observed half-written.
// - Lock holds a session-level advisory lock on a dedicated connection,
//   which serialises critical sections across worker processes.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
	owner  domain.DeviceID
	log    slog.Logger

	lockMtx  sync.Mutex
	lockIdle []*pgx.Conn
}

// maxIdleLockConns bounds how many unlocked lock connections are kept for
// reuse.
const maxIdleLockConns = 4

var (
	_ domain.SessionStore = (*PostgresStore)(nil)
	_ domain.Locker       = (*PostgresStore)(nil)
)

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

var pgIdentRE = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// WithSchema sets the DB schema used by this store (default: "sealchat").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("store: empty schema")
		}
		if !pgIdentRE.MatchString(schema) {
			return errors.New("store: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// WithLogger sets the store logger.
func WithLogger(log slog.Logger) PostgresOption {
	return func(s *PostgresStore) error {
		if log != nil {
			s.log = log
		}
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed store for owner.
func NewPostgresStore(pool *pgxpool.Pool, owner domain.DeviceID, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "sealchat",
		owner:  owner,
		log:    slog.Disabled,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("store: nil pool")
	}
	if st.owner == "" {
		return nil, errors.New("store: empty owner device")
	}
	return st, nil
}

// Migrate creates the schema and tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %[1]s;
CREATE TABLE IF NOT EXISTS %[2]s (
  owner      TEXT PRIMARY KEY,
  pickle     BYTEA NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS %[3]s (
  owner      TEXT NOT NULL,
  device_id  TEXT NOT NULL,
  pickle     BYTEA NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (owner, device_id)
);
CREATE TABLE IF NOT EXISTS %[4]s (
  owner           TEXT NOT NULL,
  conversation_id TEXT NOT NULL,
  session_id      TEXT NOT NULL DEFAULT '',
  pickle          BYTEA,
  message_count   INTEGER NOT NULL DEFAULT 0,
  created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (owner, conversation_id)
);
CREATE TABLE IF NOT EXISTS %[5]s (
  owner           TEXT NOT NULL,
  conversation_id TEXT NOT NULL,
  session_id      TEXT NOT NULL,
  pickle          BYTEA NOT NULL,
  updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (owner, conversation_id, session_id)
);`,
		pgx.Identifier{s.schema}.Sanitize(),
		s.table("account"),
		s.table("pairwise_sessions"),
		s.table("group_outbound"),
		s.table("group_inbound"),
	)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAccount(ctx context.Context) (domain.Pickle, bool, error) {
	var p []byte
	err := s.pool.QueryRow(ctx,
		`SELECT pickle FROM `+s.table("account")+` WHERE owner = $1`,
		s.owner,
	).Scan(&p)
	return pickleResult(p, err)
}

func (s *PostgresStore) PutAccount(ctx context.Context, p domain.Pickle) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table("account")+` (owner, pickle) VALUES ($1, $2)
		 ON CONFLICT (owner) DO UPDATE SET pickle = EXCLUDED.pickle, updated_at = now()`,
		s.owner, []byte(p),
	)
	return err
}

func (s *PostgresStore) GetPairwiseSession(ctx context.Context, device domain.DeviceID) (domain.Pickle, bool, error) {
	var p []byte
	err := s.pool.QueryRow(ctx,
		`SELECT pickle FROM `+s.table("pairwise_sessions")+` WHERE owner = $1 AND device_id = $2`,
		s.owner, device,
	).Scan(&p)
	return pickleResult(p, err)
}

func (s *PostgresStore) PutPairwiseSession(ctx context.Context, device domain.DeviceID, p domain.Pickle) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table("pairwise_sessions")+` (owner, device_id, pickle) VALUES ($1, $2, $3)
		 ON CONFLICT (owner, device_id) DO UPDATE SET pickle = EXCLUDED.pickle, updated_at = now()`,
		s.owner, device, []byte(p),
	)
	return err
}

func (s *PostgresStore) GetGroupSession(ctx context.Context, conv domain.ConversationID) (domain.GroupSessionRecord, bool, error) {
	rec := domain.GroupSessionRecord{Inbound: make(map[domain.SessionID]domain.Pickle)}
	found := false

	var (
		sid       string
		outbound  []byte
		count     int
		createdAt time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT session_id, pickle, message_count, created_at FROM `+s.table("group_outbound")+`
		  WHERE owner = $1 AND conversation_id = $2`,
		s.owner, conv,
	).Scan(&sid, &outbound, &count, &createdAt)
	switch {
	case err == nil:
		found = true
		rec.OutboundID = domain.SessionID(sid)
		rec.Outbound = outbound
		rec.MessageCount = count
		rec.OutboundCreatedAt = createdAt
	case !errors.Is(err, pgx.ErrNoRows):
		return domain.GroupSessionRecord{}, false, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT session_id, pickle FROM `+s.table("group_inbound")+`
		  WHERE owner = $1 AND conversation_id = $2`,
		s.owner, conv,
	)
	if err != nil {
		return domain.GroupSessionRecord{}, false, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id string
			p  []byte
		)
		if err := rows.Scan(&id, &p); err != nil {
			return domain.GroupSessionRecord{}, false, err
		}
		rec.Inbound[domain.SessionID(id)] = p
		found = true
	}
	if err := rows.Err(); err != nil {
		return domain.GroupSessionRecord{}, false, err
	}
	if !found {
		return domain.GroupSessionRecord{}, false, nil
	}
	return rec, true, nil
}

func (s *PostgresStore) PutGroupSession(ctx context.Context, conv domain.ConversationID, rec domain.GroupSessionRecord) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	createdAt := rec.OutboundCreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var outbound []byte
	if rec.HasOutbound() {
		outbound = rec.Outbound
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO `+s.table("group_outbound")+` (owner, conversation_id, session_id, pickle, message_count, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (owner, conversation_id) DO UPDATE
		   SET session_id = EXCLUDED.session_id,
		       pickle = EXCLUDED.pickle,
		       message_count = EXCLUDED.message_count,
		       created_at = EXCLUDED.created_at`,
		s.owner, conv, rec.OutboundID, outbound, rec.MessageCount, createdAt,
	); err != nil {
		return fmt.Errorf("upsert outbound: %w", err)
	}
	for id, p := range rec.Inbound {
		if err := upsertInbound(ctx, tx, s.table("group_inbound"), s.owner, conv, id, p); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) AddInboundGroupSession(ctx context.Context, conv domain.ConversationID, id domain.SessionID, p domain.Pickle) error {
	return upsertInbound(ctx, s.pool, s.table("group_inbound"), s.owner, conv, id, p)
}

func (s *PostgresStore) IncrementGroupMessageCount(ctx context.Context, conv domain.ConversationID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`INSERT INTO `+s.table("group_outbound")+` (owner, conversation_id, message_count)
		 VALUES ($1, $2, 1)
		 ON CONFLICT (owner, conversation_id) DO UPDATE
		   SET message_count = `+s.table("group_outbound")+`.message_count + 1
		 RETURNING message_count`,
		s.owner, conv,
	).Scan(&n)
	return n, err
}

// Lock takes a session-level advisory lock for key on a dedicated
// connection. The connection is kept for reuse or closed on unlock.
func (s *PostgresStore) Lock(ctx context.Context, key string) (func(), error) {
	conn, err := s.lockConn(ctx)
	if err != nil {
		return nil, err
	}
	lockKey := s.schema + ":" + s.owner.String() + ":" + key
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtextextended($1, 0))`, lockKey); err != nil {
		// The server may still grant the lock to this session after a
		// cancelled wait, so the connection is not reused.
		closeLockConn(conn)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.QueryCanceled && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("advisory lock: %w", err)
	}
	return func() {
		// The unlock must run even when the caller's ctx is already done.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, lockKey); err != nil {
			s.log.Warnf("Unable to release advisory lock %q: %v", key, err)
			// Closing the connection drops every lock it holds.
			closeLockConn(conn)
			return
		}
		s.putLockConn(conn)
	}, nil
}

// Close closes the idle lock connections. Held locks are not affected.
func (s *PostgresStore) Close() {
	s.lockMtx.Lock()
	idle := s.lockIdle
	s.lockIdle = nil
	s.lockMtx.Unlock()
	for _, c := range idle {
		closeLockConn(c)
	}
}

func (s *PostgresStore) lockConn(ctx context.Context) (*pgx.Conn, error) {
	s.lockMtx.Lock()
	for len(s.lockIdle) > 0 {
		c := s.lockIdle[len(s.lockIdle)-1]
		s.lockIdle = s.lockIdle[:len(s.lockIdle)-1]
		if !c.IsClosed() {
			s.lockMtx.Unlock()
			return c, nil
		}
	}
	s.lockMtx.Unlock()

	pc, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return pc.Hijack(), nil
}

func (s *PostgresStore) putLockConn(c *pgx.Conn) {
	s.lockMtx.Lock()
	if len(s.lockIdle) < maxIdleLockConns {
		s.lockIdle = append(s.lockIdle, c)
		s.lockMtx.Unlock()
		return
	}
	s.lockMtx.Unlock()
	closeLockConn(c)
}

func closeLockConn(c *pgx.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = c.Close(ctx)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func upsertInbound(
	ctx context.Context,
	db execer,
	table string,
	owner domain.DeviceID,
	conv domain.ConversationID,
	id domain.SessionID,
	p domain.Pickle,
) error {
	if _, err := db.Exec(ctx,
		`INSERT INTO `+table+` (owner, conversation_id, session_id, pickle) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (owner, conversation_id, session_id) DO UPDATE
		   SET pickle = EXCLUDED.pickle, updated_at = now()`,
		owner, conv, id, []byte(p),
	); err != nil {
		return fmt.Errorf("upsert inbound: %w", err)
	}
	return nil
}

func (s *PostgresStore) table(name string) string {
	return pgx.Identifier{s.schema, name}.Sanitize()
}

func pickleResult(p []byte, err error) (domain.Pickle, bool, error) {
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}
