package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Mindburn-Labs/likelottery/pkg/contracts"
	"github.com/Mindburn-Labs/likelottery/pkg/crypto"
)

// Dialect selects backend-specific transaction options.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLStore implements Store on database/sql. The same statements run on
// SQLite (modernc.org/sqlite) and Postgres (lib/pq).
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	// writeMu serializes writers inside this process; Postgres additionally
	// runs them at serializable isolation.
	writeMu sync.Mutex
}

func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS used_nonces (
		nonce TEXT PRIMARY KEY,
		used_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS crank_times (
		identity TEXT PRIMARY KEY,
		last_crank BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS settings (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS commitments (
		idx BIGINT PRIMARY KEY,
		snapshot_hash TEXT NOT NULL,
		ts BIGINT NOT NULL,
		giveaway_index BIGINT NOT NULL,
		emitted_by TEXT NOT NULL,
		recorded_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		seq BIGINT PRIMARY KEY,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL,
		ts BIGINT NOT NULL,
		prev_hash TEXT NOT NULL,
		hash TEXT NOT NULL
	)`,
}

// Init creates the tables if they do not exist.
func (s *SQLStore) Init(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) View(ctx context.Context, fn func(Reader) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	return fn(&sqlTx{ctx: ctx, tx: tx})
}

func (s *SQLStore) Update(ctx context.Context, fn func(Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var opts *sql.TxOptions
	if s.dialect == DialectPostgres {
		opts = &sql.TxOptions{Isolation: sql.LevelSerializable}
	}
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	if err := fn(&sqlTx{ctx: ctx, tx: tx, writable: true}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

type sqlTx struct {
	ctx      context.Context
	tx       *sql.Tx
	writable bool
}

func (t *sqlTx) NonceUsed(n crypto.Nonce) (bool, error) {
	var one int
	err := t.tx.QueryRowContext(t.ctx, `SELECT 1 FROM used_nonces WHERE nonce = $1`, n.Hex()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: nonce lookup: %w", err)
	}
	return true, nil
}

func (t *sqlTx) LastCrank(identity common.Address) (time.Time, bool, error) {
	var nanos int64
	err := t.tx.QueryRowContext(t.ctx, `SELECT last_crank FROM crank_times WHERE identity = $1`, identity.Hex()).Scan(&nanos)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("store: crank lookup: %w", err)
	}
	return time.Unix(0, nanos).UTC(), true, nil
}

const (
	settingInitialized   = "initialized"
	settingOwner         = "owner"
	settingAdmin         = "admin"
	settingYankLoopCount = "yank_loop_count"
	settingDrawSequence  = "draw_sequence"
)

func (t *sqlTx) Settings() (Settings, error) {
	rows, err := t.tx.QueryContext(t.ctx, `SELECT name, value FROM settings`)
	if err != nil {
		return Settings{}, fmt.Errorf("store: settings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var s Settings
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return Settings{}, fmt.Errorf("store: settings scan: %w", err)
		}
		switch name {
		case settingInitialized:
			s.Initialized = value == "true"
		case settingOwner:
			s.Owner = common.HexToAddress(value)
		case settingAdmin:
			s.Admin = common.HexToAddress(value)
		case settingYankLoopCount:
			s.YankLoopCount, err = strconv.Atoi(value)
		case settingDrawSequence:
			s.DrawSequence, err = strconv.ParseUint(value, 10, 64)
		}
		if err != nil {
			return Settings{}, fmt.Errorf("store: setting %s: %w", name, err)
		}
	}
	if err := rows.Err(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (t *sqlTx) Commitment(index uint64) (contracts.SnapshotCommitment, error) {
	row := t.tx.QueryRowContext(t.ctx, `
		SELECT idx, snapshot_hash, ts, giveaway_index, emitted_by, recorded_at
		FROM commitments WHERE idx = $1`, int64(index))
	c, err := scanCommitment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return c, fmt.Errorf("commitment %d: %w", index, ErrNotFound)
	}
	return c, err
}

func (t *sqlTx) Commitments() ([]contracts.SnapshotCommitment, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT idx, snapshot_hash, ts, giveaway_index, emitted_by, recorded_at
		FROM commitments ORDER BY idx`)
	if err != nil {
		return nil, fmt.Errorf("store: commitments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]contracts.SnapshotCommitment, 0)
	for rows.Next() {
		c, err := scanCommitment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCommitment(row scanner) (contracts.SnapshotCommitment, error) {
	var (
		c                       contracts.SnapshotCommitment
		idx, ts, giveaway, recd int64
		hash, by                string
	)
	if err := row.Scan(&idx, &hash, &ts, &giveaway, &by, &recd); err != nil {
		return c, err
	}
	c.Index = uint64(idx)
	c.SnapshotHash = common.HexToHash(hash)
	c.Timestamp = uint64(ts)
	c.GiveawayIndex = uint64(giveaway)
	c.EmittedBy = common.HexToAddress(by)
	c.RecordedAt = time.Unix(0, recd).UTC()
	return c, nil
}

func (t *sqlTx) CommitmentCount() (uint64, error) {
	var n int64
	if err := t.tx.QueryRowContext(t.ctx, `SELECT COUNT(*) FROM commitments`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: commitment count: %w", err)
	}
	return uint64(n), nil
}

func (t *sqlTx) Events(after uint64, limit int) ([]contracts.Event, error) {
	query := `SELECT seq, kind, payload, ts, prev_hash, hash FROM events WHERE seq > $1 ORDER BY seq`
	args := []any{int64(after)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := t.tx.QueryContext(t.ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]contracts.Event, 0)
	for rows.Next() {
		var (
			e        contracts.Event
			seq, ts  int64
			kind, pl string
		)
		if err := rows.Scan(&seq, &kind, &pl, &ts, &e.PrevHash, &e.Hash); err != nil {
			return nil, fmt.Errorf("store: events scan: %w", err)
		}
		e.Sequence = uint64(seq)
		e.Kind = contracts.EventKind(kind)
		e.Payload = json.RawMessage(pl)
		e.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (t *sqlTx) Head() (EventHead, error) {
	var (
		seq  int64
		hash string
	)
	err := t.tx.QueryRowContext(t.ctx, `SELECT seq, hash FROM events ORDER BY seq DESC LIMIT 1`).Scan(&seq, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return EventHead{}, nil
	}
	if err != nil {
		return EventHead{}, fmt.Errorf("store: event head: %w", err)
	}
	return EventHead{Sequence: uint64(seq), Hash: hash}, nil
}

func (t *sqlTx) MarkNonceUsed(n crypto.Nonce, at time.Time) error {
	if !t.writable {
		return errReadOnly
	}
	res, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO used_nonces (nonce, used_at) VALUES ($1, $2) ON CONFLICT (nonce) DO NOTHING`,
		n.Hex(), at.UnixNano())
	if err != nil {
		return fmt.Errorf("store: mark nonce: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: mark nonce rows: %w", err)
	}
	if affected == 0 {
		return ErrNonceUsed
	}
	return nil
}

func (t *sqlTx) SetLastCrank(identity common.Address, at time.Time) error {
	if !t.writable {
		return errReadOnly
	}
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO crank_times (identity, last_crank) VALUES ($1, $2)
		ON CONFLICT (identity) DO UPDATE SET last_crank = excluded.last_crank`,
		identity.Hex(), at.UnixNano())
	if err != nil {
		return fmt.Errorf("store: set crank: %w", err)
	}
	return nil
}

func (t *sqlTx) PutSettings(s Settings) error {
	if !t.writable {
		return errReadOnly
	}
	values := []struct{ name, value string }{
		{settingInitialized, strconv.FormatBool(s.Initialized)},
		{settingOwner, s.Owner.Hex()},
		{settingAdmin, s.Admin.Hex()},
		{settingYankLoopCount, strconv.Itoa(s.YankLoopCount)},
		{settingDrawSequence, strconv.FormatUint(s.DrawSequence, 10)},
	}
	for _, v := range values {
		_, err := t.tx.ExecContext(t.ctx, `
			INSERT INTO settings (name, value) VALUES ($1, $2)
			ON CONFLICT (name) DO UPDATE SET value = excluded.value`,
			v.name, v.value)
		if err != nil {
			return fmt.Errorf("store: put setting %s: %w", v.name, err)
		}
	}
	return nil
}

func (t *sqlTx) AppendCommitment(c contracts.SnapshotCommitment) (contracts.SnapshotCommitment, error) {
	if !t.writable {
		return c, errReadOnly
	}
	n, err := t.CommitmentCount()
	if err != nil {
		return c, err
	}
	c.Index = n
	c.RecordedAt = normalizeTime(c.RecordedAt)
	_, err = t.tx.ExecContext(t.ctx, `
		INSERT INTO commitments (idx, snapshot_hash, ts, giveaway_index, emitted_by, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		int64(c.Index), c.SnapshotHash.Hex(), int64(c.Timestamp), int64(c.GiveawayIndex),
		c.EmittedBy.Hex(), c.RecordedAt.UnixNano())
	if err != nil {
		return c, fmt.Errorf("store: append commitment: %w", err)
	}
	return c, nil
}

func (t *sqlTx) AppendEvent(kind contracts.EventKind, payload any, at time.Time) (contracts.Event, error) {
	if !t.writable {
		return contracts.Event{}, errReadOnly
	}
	head, err := t.Head()
	if err != nil {
		return contracts.Event{}, err
	}
	e, err := newEvent(head, kind, payload, at)
	if err != nil {
		return contracts.Event{}, err
	}
	_, err = t.tx.ExecContext(t.ctx, `
		INSERT INTO events (seq, kind, payload, ts, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		int64(e.Sequence), string(e.Kind), string(e.Payload), e.Timestamp.UnixNano(), e.PrevHash, e.Hash)
	if err != nil {
		return contracts.Event{}, fmt.Errorf("store: append event: %w", err)
	}
	return e, nil
}
