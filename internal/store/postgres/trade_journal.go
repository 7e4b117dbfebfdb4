package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seanmx/xrpldexfeed/internal/domain"
)

// TradeJournal implements domain.TradeJournal using PostgreSQL.
type TradeJournal struct {
	pool *pgxpool.Pool
}

// NewTradeJournal creates a TradeJournal backed by the given connection pool.
func NewTradeJournal(pool *pgxpool.Pool) *TradeJournal {
	return &TradeJournal{pool: pool}
}

const tradeSelectCols = `id, direction, price, base_amount, quote_amount,
	counterparty, close_time, tx_hash`

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		if err := rows.Scan(
			&t.ID, &t.Direction, &t.Price, &t.BaseAmount, &t.QuoteAmount,
			&t.Counterparty, &t.LedgerCloseTime, &t.TxHash,
		); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// InsertBatch writes trades for a pair using pgx Batch. Trade IDs are
// derived from (tx hash, counterparty), so replays of already-journaled
// trades are skipped via ON CONFLICT DO NOTHING rather than erroring.
func (j *TradeJournal) InsertBatch(ctx context.Context, pair domain.Pair, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO trades (
			id, pair, direction, price,
			base_amount, quote_amount,
			counterparty, close_time, tx_hash
		) VALUES (
			$1, $2, $3, $4,
			$5, $6,
			$7, $8, $9
		) ON CONFLICT (id) DO NOTHING`

	pairKey := pair.String()
	for _, t := range trades {
		batch.Queue(query,
			t.ID, pairKey, string(t.Direction), t.Price,
			t.BaseAmount, t.QuoteAmount,
			t.Counterparty, t.LedgerCloseTime, t.TxHash,
		)
	}

	br := j.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range trades {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert trade batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListRecent returns a pair's trades newest first with pagination.
func (j *TradeJournal) ListRecent(ctx context.Context, pair domain.Pair, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE pair = $1 ORDER BY close_time DESC`
	args := []any{pair.String()}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := j.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent trades %s: %w", pair, err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent trades %s: %w", pair, err)
	}
	return trades, nil
}

// ListBefore returns every journaled trade with a close time strictly
// before the cutoff, oldest first, across all pairs. The archiver consumes
// this.
func (j *TradeJournal) ListBefore(ctx context.Context, before time.Time) ([]domain.JournaledTrade, error) {
	query := `SELECT pair, ` + tradeSelectCols + ` FROM trades WHERE close_time < $1 ORDER BY close_time ASC`
	rows, err := j.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var out []domain.JournaledTrade
	for rows.Next() {
		var (
			jt      domain.JournaledTrade
			pairKey string
		)
		if err := rows.Scan(
			&pairKey,
			&jt.Trade.ID, &jt.Trade.Direction, &jt.Trade.Price,
			&jt.Trade.BaseAmount, &jt.Trade.QuoteAmount,
			&jt.Trade.Counterparty, &jt.Trade.LedgerCloseTime, &jt.Trade.TxHash,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan journaled trade: %w", err)
		}
		pair, err := domain.ParsePair(pairKey)
		if err != nil {
			return nil, fmt.Errorf("postgres: journaled pair %q: %w", pairKey, err)
		}
		jt.Pair = pair
		out = append(out, jt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	return out, nil
}

// DeleteBefore removes trades with a close time strictly before the cutoff
// and reports how many went away. Run only after an archive upload
// succeeds.
func (j *TradeJournal) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := j.pool.Exec(ctx, `DELETE FROM trades WHERE close_time < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetLastCloseTime returns the most recent ledger close time journaled for
// the pair, or the zero time when the pair has no trades yet.
func (j *TradeJournal) GetLastCloseTime(ctx context.Context, pair domain.Pair) (time.Time, error) {
	var ts *time.Time
	err := j.pool.QueryRow(ctx,
		"SELECT MAX(close_time) FROM trades WHERE pair = $1", pair.String(),
	).Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("postgres: last close time %s: %w", pair, err)
	}
	if ts == nil {
		return time.Time{}, nil
	}
	return *ts, nil
}

// Compile-time interface check.
var _ domain.TradeJournal = (*TradeJournal)(nil)
