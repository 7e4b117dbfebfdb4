// Package tape infers executed trades from transaction metadata and keeps
// them in a bounded, deduplicated, newest-first buffer.
//
// The ledger records no first-class trade objects for issued assets: the
// only observable signal is a balance movement on a trust line between a
// holder and the issuer. The decoder diffs those balances out of each
// transaction's affected-node list.
package tape

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	"github.com/seanmx/xrpldexfeed/internal/domain"
	"github.com/seanmx/xrpldexfeed/internal/platform/xrpl"
)

// defaultMateriality is the minimum absolute balance delta that counts as a
// trade. Rounding-level residue below it is noise, not volume.
const defaultMateriality = 1e-6

// DecoderConfig tunes trade extraction.
type DecoderConfig struct {
	// Materiality is the minimum absolute balance delta treated as a trade.
	Materiality float64
}

// Decoder extracts trades from transaction records. Decoding is idempotent:
// the same record always yields trades with the same IDs, so re-decoding
// across overlapping history pages is harmless.
type Decoder struct {
	cfg    DecoderConfig
	logger *slog.Logger
}

// NewDecoder creates a decoder.
func NewDecoder(cfg DecoderConfig, logger *slog.Logger) *Decoder {
	if cfg.Materiality <= 0 {
		cfg.Materiality = defaultMateriality
	}
	return &Decoder{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "trade_decoder")),
	}
}

// Decode extracts zero or more trades from one transaction record. asset is
// the issued leg being watched. The trade price is an estimate, not a
// settled fill: the current best book price when one is observed, otherwise
// the caller's hint. A malformed affected node is skipped without aborting
// the rest of the record.
func (d *Decoder) Decode(rec xrpl.TransactionRecord, asset domain.Asset, bookPrice, priceHint float64) []domain.Trade {
	if !rec.Meta.Succeeded() {
		return nil
	}

	price := bookPrice
	if price <= 0 {
		price = priceHint
	}

	var trades []domain.Trade
	for _, node := range rec.Meta.AffectedNodes {
		trade, ok, err := d.decodeNode(node, rec, asset, price)
		if err != nil {
			d.logger.Warn("tape: skipping malformed node",
				slog.String("tx", rec.Tx.Hash),
				slog.String("error", err.Error()),
			)
			continue
		}
		if ok {
			trades = append(trades, trade)
		}
	}
	return trades
}

// decodeNode inspects one affected node. ok is false for nodes that are
// simply not a material balance movement on the watched asset's trust line;
// err marks nodes that should have parsed but did not.
func (d *Decoder) decodeNode(node xrpl.AffectedNode, rec xrpl.TransactionRecord, asset domain.Asset, price float64) (domain.Trade, bool, error) {
	fields, prev, ok, err := trustLineDelta(node)
	if err != nil || !ok {
		return domain.Trade{}, false, err
	}

	if fields.Balance.Currency != asset.Currency {
		return domain.Trade{}, false, nil
	}

	final, err := fields.Balance.Float()
	if err != nil {
		return domain.Trade{}, false, err
	}

	// The balance is recorded from the low account's perspective. When the
	// issuer holds the high side, the low side is the holder and the delta
	// reads directly; when the issuer holds the low side, the holder is the
	// high account and the sign flips.
	var counterparty string
	var delta float64
	switch asset.Issuer {
	case fields.HighLimit.Issuer:
		counterparty = fields.LowLimit.Issuer
		delta = final - prev
	case fields.LowLimit.Issuer:
		counterparty = fields.HighLimit.Issuer
		delta = -(final - prev)
	default:
		// Trust line between two third parties: not a line with the issuer.
		return domain.Trade{}, false, nil
	}

	if math.Abs(delta) < d.cfg.Materiality {
		return domain.Trade{}, false, nil
	}
	if counterparty == "" {
		return domain.Trade{}, false, fmt.Errorf("tape: trust line missing holder account: %w", domain.ErrMalformedData)
	}
	if counterparty == asset.Issuer {
		// Issuer moving its own line is a self-transfer, not a trade.
		return domain.Trade{}, false, nil
	}

	direction := domain.TradeBuy
	if delta < 0 {
		direction = domain.TradeSell
	}
	baseAmount := math.Abs(delta)

	return domain.Trade{
		ID:              domain.NewTradeID(rec.Tx.Hash, counterparty),
		Direction:       direction,
		Price:           price,
		BaseAmount:      baseAmount,
		QuoteAmount:     baseAmount * price,
		Counterparty:    counterparty,
		LedgerCloseTime: xrpl.CloseTime(rec.Tx.Date),
		TxHash:          rec.Tx.Hash,
	}, true, nil
}

// trustLineDelta extracts the trust-line fields and previous balance from
// an affected node. ok is false when the node is not a RippleState balance
// movement: wrong entry type, a deletion, or a modification that touched
// other fields but left the balance alone.
func trustLineDelta(node xrpl.AffectedNode) (fields xrpl.TrustLineFields, prev float64, ok bool, err error) {
	switch {
	case node.Modified != nil:
		data := node.Modified
		if data.LedgerEntryType != "RippleState" {
			return fields, 0, false, nil
		}
		if err := json.Unmarshal(data.FinalFields, &fields); err != nil {
			return fields, 0, false, fmt.Errorf("tape: trust line final fields: %v: %w", err, domain.ErrMalformedData)
		}

		var prevFields struct {
			Balance *xrpl.CurrencyValue `json:"Balance"`
		}
		if len(data.PreviousFields) > 0 {
			if err := json.Unmarshal(data.PreviousFields, &prevFields); err != nil {
				return fields, 0, false, fmt.Errorf("tape: trust line previous fields: %v: %w", err, domain.ErrMalformedData)
			}
		}
		if prevFields.Balance == nil {
			// Balance did not change in this transaction.
			return fields, 0, false, nil
		}
		prev, err := prevFields.Balance.Float()
		if err != nil {
			return fields, 0, false, err
		}
		return fields, prev, true, nil

	case node.Created != nil:
		data := node.Created
		if data.LedgerEntryType != "RippleState" {
			return fields, 0, false, nil
		}
		if err := json.Unmarshal(data.NewFields, &fields); err != nil {
			return fields, 0, false, fmt.Errorf("tape: trust line new fields: %v: %w", err, domain.ErrMalformedData)
		}
		// A line created by this transaction starts from zero.
		return fields, 0, true, nil

	default:
		return fields, 0, false, nil
	}
}
