package tape

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/seanmx/xrpldexfeed/internal/platform/xrpl"
)

const (
	// defaultPageCap bounds how many history pages one fetch may follow.
	defaultPageCap = 4

	// defaultPageSize is the per-page transaction limit sent to the server.
	defaultPageSize = 60
)

// HistoryClient is the slice of the ledger client the fetcher uses.
type HistoryClient interface {
	AccountTx(ctx context.Context, req xrpl.AccountTxRequest) (*xrpl.AccountTxResult, error)
}

// FetcherConfig bounds a history fetch.
type FetcherConfig struct {
	PageCap  int
	PageSize int
}

// Fetcher pages through an account's transaction history. For an issued
// asset the account queried is the issuer: every trade on the asset touches
// one of the issuer's trust lines, so the issuer's history sees them all.
type Fetcher struct {
	client HistoryClient
	cfg    FetcherConfig
	logger *slog.Logger
}

// NewFetcher creates a history fetcher over the given client.
func NewFetcher(client HistoryClient, cfg FetcherConfig, logger *slog.Logger) *Fetcher {
	if cfg.PageCap <= 0 {
		cfg.PageCap = defaultPageCap
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	return &Fetcher{
		client: client,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "tape_fetcher")),
	}
}

// FetchRecords returns recent transaction records touching the account,
// newest first, following the server cursor until it is exhausted or the
// page cap is hit.
func (f *Fetcher) FetchRecords(ctx context.Context, account string) ([]xrpl.TransactionRecord, error) {
	req := xrpl.AccountTxRequest{
		Account: account,
		Limit:   f.cfg.PageSize,
	}

	var records []xrpl.TransactionRecord
	for page := 0; page < f.cfg.PageCap; page++ {
		res, err := f.client.AccountTx(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("tape: fetch history for %s: %w", account, err)
		}
		records = append(records, res.Transactions...)

		if !xrpl.HasMarker(res.Marker) {
			break
		}
		req.Marker = res.Marker
	}
	return records, nil
}
