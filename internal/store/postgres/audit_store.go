package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seanmx/xrpldexfeed/internal/domain"
)

// AuditStore implements domain.AuditStore using PostgreSQL. Entries are
// append-only; nothing in the feed path reads them back.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates an AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends an audit entry. The payload map is stored as JSONB.
func (s *AuditStore) Log(ctx context.Context, event string, payload map[string]any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit payload: %w", err)
	}

	const query = `INSERT INTO audit_log (event, payload) VALUES ($1, $2)`
	if _, err := s.pool.Exec(ctx, query, event, payloadJSON); err != nil {
		return fmt.Errorf("postgres: log audit event %s: %w", event, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.AuditStore = (*AuditStore)(nil)
