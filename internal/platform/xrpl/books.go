package xrpl

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/seanmx/xrpldexfeed/internal/domain"
)

// BookOffers fetches one page of resting offers for the book where a taker
// receives req.TakerGets and pays req.TakerPays. Pagination is the caller's
// concern: pass the returned marker back in to resume.
func (c *Client) BookOffers(ctx context.Context, req BookOffersRequest) (*BookOffersResult, error) {
	raw, err := c.Call(ctx, "book_offers", req)
	if err != nil {
		return nil, err
	}

	var res BookOffersResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("xrpl: book_offers: decode result: %v: %w", err, domain.ErrMalformedData)
	}
	return &res, nil
}
