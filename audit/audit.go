// Package audit records verify and settle outcomes in an append-only log.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raid-guild/x402-gateway-go/types"
)

// Kind is the record type.
type Kind string

const (
	KindAuthorization Kind = "authorization"
	KindSettlement    Kind = "settlement"
)

// Record is one audit log entry.
type Record struct {
	ID        uuid.UUID       `json:"id"`
	Type      Kind            `json:"type"`
	Mode      types.Mode      `json:"mode,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Result    json.RawMessage `json:"result"`
	TxHash    string          `json:"txHash,omitempty"`
}

// NewRecord builds a record with a fresh id, encoding payload and result as JSON.
func NewRecord(kind Kind, mode types.Mode, payload, result any) (Record, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return Record{}, fmt.Errorf("marshal audit payload: %w", err)
	}
	r, err := json.Marshal(result)
	if err != nil {
		return Record{}, fmt.Errorf("marshal audit result: %w", err)
	}
	return Record{
		ID:        uuid.New(),
		Type:      kind,
		Mode:      mode,
		Timestamp: time.Now().UTC(),
		Payload:   p,
		Result:    r,
	}, nil
}

// Store appends audit records.
type Store interface {
	Append(ctx context.Context, r Record) error
}

// Append writes r to store. Failures are logged and never returned, and the write
// is not cancelled with the caller's request.
func Append(ctx context.Context, store Store, logger *slog.Logger, r Record) {
	if store == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := store.Append(context.WithoutCancel(ctx), r); err != nil {
		logger.Warn("audit append failed", "id", r.ID, "type", r.Type, "error", err)
	}
}

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	records []Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

// Records returns a copy of the stored records in append order.
func (m *MemoryStore) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}

const createTableSQL = `CREATE TABLE IF NOT EXISTS audit_log (
	id UUID PRIMARY KEY,
	type TEXT NOT NULL,
	mode TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	payload JSONB NOT NULL,
	result JSONB NOT NULL,
	tx_hash TEXT
)`

const insertSQL = `INSERT INTO audit_log (id, type, mode, created_at, payload, result, tx_hash) VALUES ($1, $2, $3, $4, $5, $6, $7)`

// SQLStore appends records to the audit_log table.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a store over db.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Migrate creates the audit_log table if it does not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("create audit_log: %w", err)
	}
	return nil
}

func (s *SQLStore) Append(ctx context.Context, r Record) error {
	txHash := sql.NullString{String: r.TxHash, Valid: r.TxHash != ""}
	_, err := s.db.ExecContext(ctx, insertSQL,
		r.ID.String(),
		string(r.Type),
		string(r.Mode),
		r.Timestamp,
		string(r.Payload),
		string(r.Result),
		txHash,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}
