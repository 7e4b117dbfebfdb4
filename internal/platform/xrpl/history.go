package xrpl

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/seanmx/xrpldexfeed/internal/domain"
)

// AccountTx fetches one page of an account's transaction history, newest
// first. Pagination is the caller's concern: pass the returned marker back
// in to resume.
func (c *Client) AccountTx(ctx context.Context, req AccountTxRequest) (*AccountTxResult, error) {
	raw, err := c.Call(ctx, "account_tx", req)
	if err != nil {
		return nil, err
	}

	var res AccountTxResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("xrpl: account_tx: decode result: %v: %w", err, domain.ErrMalformedData)
	}
	return &res, nil
}
