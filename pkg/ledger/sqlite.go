package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/veridianlabs/payguard/pkg/contracts"
)

// SQLite is a durable Ledger on a single SQLite database. Appends are
// serialized through one writer and committed transactionally: the
// sequence number exists only if the row does.
type SQLite struct {
	db    *sql.DB
	clock func() time.Time

	mu       sync.Mutex // single linear append point
	headHash string
	length   uint64
}

// NewSQLite wraps an existing database handle, migrating the schema and
// loading the current head.
func NewSQLite(db *sql.DB) (*SQLite, error) {
	s := &SQLite{db: db, clock: time.Now}
	if err := s.migrate(); err != nil {
		return nil, &contracts.LedgerError{Op: "migrate", Cause: err}
	}
	if err := s.loadHead(); err != nil {
		return nil, &contracts.LedgerError{Op: "open", Cause: err}
	}
	return s, nil
}

// OpenSQLite opens (or creates) a ledger database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &contracts.LedgerError{Op: "open", Cause: err}
	}
	return NewSQLite(db)
}

// WithClock overrides the clock for testing.
func (s *SQLite) WithClock(clock func() time.Time) *SQLite {
	s.clock = clock
	return s
}

func (s *SQLite) migrate() error {
	_, err := s.db.ExecContext(context.Background(), `
	CREATE TABLE IF NOT EXISTS ledger_entries (
		sequence INTEGER PRIMARY KEY,
		entry_id TEXT NOT NULL UNIQUE,
		agent_id TEXT,
		chain_id TEXT,
		entry_type TEXT NOT NULL,
		status TEXT,
		timestamp TEXT NOT NULL,
		prev_hash TEXT NOT NULL,
		entry_hash TEXT NOT NULL,
		entry_json TEXT NOT NULL
	);`)
	return err
}

func (s *SQLite) loadHead() error {
	row := s.db.QueryRowContext(context.Background(),
		"SELECT sequence, entry_hash FROM ledger_entries ORDER BY sequence DESC LIMIT 1")
	var seq uint64
	var hash string
	err := row.Scan(&seq, &hash)
	if err == sql.ErrNoRows {
		s.headHash = GenesisHash
		s.length = 0
		return nil
	}
	if err != nil {
		return err
	}
	s.headHash = hash
	s.length = seq
	return nil
}

func (s *SQLite) Append(ctx context.Context, input contracts.LedgerEntryInput) (*contracts.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := &contracts.LedgerEntry{
		Sequence:         s.length + 1,
		EntryID:          uuid.NewString(),
		Timestamp:        s.clock().UTC(),
		LedgerEntryInput: input,
		PrevHash:         s.headHash,
	}
	hash, err := hashEntry(entry)
	if err != nil {
		return nil, err
	}
	entry.EntryHash = hash

	raw, err := json.Marshal(entry)
	if err != nil {
		return nil, &contracts.LedgerError{Op: "append", Cause: err}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (sequence, entry_id, agent_id, chain_id, entry_type, status, timestamp, prev_hash, entry_hash, entry_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Sequence, entry.EntryID, entry.AgentID, entry.ChainID, entry.EntryType,
		string(entry.Status), entry.Timestamp.Format(time.RFC3339Nano),
		entry.PrevHash, entry.EntryHash, string(raw))
	if err != nil {
		// The head is unchanged: the sequence number was never issued.
		return nil, &contracts.LedgerError{Op: "append", Cause: err}
	}

	s.headHash = hash
	s.length = entry.Sequence
	return entry, nil
}

func (s *SQLite) scanEntry(row interface{ Scan(...any) error }) (*contracts.LedgerEntry, error) {
	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, &contracts.LedgerError{Op: "get", Cause: fmt.Errorf("entry not found")}
		}
		return nil, &contracts.LedgerError{Op: "get", Cause: err}
	}
	var entry contracts.LedgerEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, &contracts.LedgerError{Op: "get", Cause: err}
	}
	return &entry, nil
}

func (s *SQLite) Get(ctx context.Context, seq uint64) (*contracts.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx, "SELECT entry_json FROM ledger_entries WHERE sequence = ?", seq)
	return s.scanEntry(row)
}

func (s *SQLite) Range(ctx context.Context, from, to uint64) ([]*contracts.LedgerEntry, error) {
	if from == 0 || from > to {
		return nil, &contracts.LedgerError{Op: "range", Cause: fmt.Errorf("invalid range [%d, %d]", from, to)}
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT entry_json FROM ledger_entries WHERE sequence BETWEEN ? AND ? ORDER BY sequence", from, to)
	if err != nil {
		return nil, &contracts.LedgerError{Op: "range", Cause: err}
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.LedgerEntry
	for rows.Next() {
		e, err := s.scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &contracts.LedgerError{Op: "range", Cause: err}
	}
	if uint64(len(out)) != to-from+1 {
		return nil, &contracts.LedgerError{Op: "range", Cause: fmt.Errorf("missing entries in [%d, %d]", from, to)}
	}
	return out, nil
}

func (s *SQLite) Head(_ context.Context) (string, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headHash, s.length, nil
}

func (s *SQLite) VerifyChain(ctx context.Context, from, to uint64) error {
	entries, err := s.Range(ctx, from, to)
	if err != nil {
		return err
	}
	prev := GenesisHash
	checkPrev := from == 1
	if from > 1 {
		prevEntry, err := s.Get(ctx, from-1)
		if err != nil {
			return err
		}
		prev = prevEntry.EntryHash
		checkPrev = true
	}
	return verifyEntries(entries, prev, checkPrev)
}
