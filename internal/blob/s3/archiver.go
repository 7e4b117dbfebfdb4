package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/seanmx/xrpldexfeed/internal/domain"
)

// TradeArchiveSource is the slice of the journal the archiver needs: a
// time-ranged read across all pairs. The Postgres journal satisfies it.
type TradeArchiveSource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.JournaledTrade, error)
}

// Archiver implements domain.Archiver: journal rows older than a cutoff are
// serialized to JSONL and uploaded under archive/trades/.
//
// Deleting the archived rows from the journal is intentionally not done
// here. It is a separate explicit step run only after the upload has
// succeeded.
type Archiver struct {
	writer domain.BlobWriter
	trades TradeArchiveSource
	audit  domain.AuditStore
}

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, trades TradeArchiveSource, audit domain.AuditStore) *Archiver {
	return &Archiver{
		writer: writer,
		trades: trades,
		audit:  audit,
	}
}

// archivedTrade is the JSONL row format. Stable field names decouple the
// archive from domain struct renames.
type archivedTrade struct {
	Pair         string    `json:"pair"`
	ID           string    `json:"id"`
	Direction    string    `json:"direction"`
	Price        float64   `json:"price"`
	BaseAmount   float64   `json:"base_amount"`
	QuoteAmount  float64   `json:"quote_amount"`
	Counterparty string    `json:"counterparty"`
	CloseTime    time.Time `json:"close_time"`
	TxHash       string    `json:"tx_hash"`
}

// ArchiveTrades uploads every journaled trade closed strictly before the
// cutoff to archive/trades/YYYY-MM.jsonl, records the upload in the audit
// log, and returns the number of archived rows. A cutoff with no matching
// rows uploads nothing and returns zero.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	rows := make([]archivedTrade, len(trades))
	for i, jt := range trades {
		rows[i] = archivedTrade{
			Pair:         jt.Pair.String(),
			ID:           jt.Trade.ID.String(),
			Direction:    string(jt.Trade.Direction),
			Price:        jt.Trade.Price,
			BaseAmount:   jt.Trade.BaseAmount,
			QuoteAmount:  jt.Trade.QuoteAmount,
			Counterparty: jt.Trade.Counterparty,
			CloseTime:    jt.Trade.LedgerCloseTime,
			TxHash:       jt.Trade.TxHash,
		}
	}

	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath("trades", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	count := int64(len(trades))

	if err := a.audit.Log(ctx, "archive.trades", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive trades audit log: %w", err)
	}

	return count, nil
}

// archivePath builds the object key, partitioned by the cutoff's
// year-month:
//
//	archive/trades/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL renders records as newline-delimited JSON, one compact line
// each.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*Archiver)(nil)
