package tape

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanmx/xrpldexfeed/internal/domain"
	"github.com/seanmx/xrpldexfeed/internal/platform/xrpl"
)

var watchedAsset = domain.Asset{Currency: "TOK", Issuer: "rIssuer"}

func newTestDecoder() *Decoder {
	return NewDecoder(DecoderConfig{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func record(hash string, date int64, result string, nodes ...xrpl.AffectedNode) xrpl.TransactionRecord {
	return xrpl.TransactionRecord{
		Tx:        xrpl.TxSummary{Hash: hash, Account: "rTaker", Type: "Payment", Date: date},
		Meta:      xrpl.TxMeta{TransactionResult: result, AffectedNodes: nodes},
		Validated: true,
	}
}

// modifiedLine builds a ModifiedNode for a trust line between low and high
// whose balance moved from prev to final (low account's perspective).
func modifiedLine(currency, low, high, prev, final string) xrpl.AffectedNode {
	finalFields := fmt.Sprintf(
		`{"Balance":{"currency":%q,"value":%q},"LowLimit":{"issuer":%q,"value":"1000000000"},"HighLimit":{"issuer":%q,"value":"0"}}`,
		currency, final, low, high,
	)
	prevFields := fmt.Sprintf(`{"Balance":{"currency":%q,"value":%q}}`, currency, prev)
	return xrpl.AffectedNode{Modified: &xrpl.NodeData{
		LedgerEntryType: "RippleState",
		FinalFields:     json.RawMessage(finalFields),
		PreviousFields:  json.RawMessage(prevFields),
	}}
}

// createdLine builds a CreatedNode for a fresh trust line.
func createdLine(currency, low, high, balance string) xrpl.AffectedNode {
	newFields := fmt.Sprintf(
		`{"Balance":{"currency":%q,"value":%q},"LowLimit":{"issuer":%q,"value":"1000000000"},"HighLimit":{"issuer":%q,"value":"0"}}`,
		currency, balance, low, high,
	)
	return xrpl.AffectedNode{Created: &xrpl.NodeData{
		LedgerEntryType: "RippleState",
		NewFields:       json.RawMessage(newFields),
	}}
}

func TestDecodeHolderBalanceIncrease(t *testing.T) {
	d := newTestDecoder()

	// Holder on the low side, issuer on the high side: 100 -> 130 means the
	// holder received 30 TOK.
	rec := record("TX1", 120, "tesSUCCESS",
		modifiedLine("TOK", "rHolder", "rIssuer", "100", "130"),
	)

	trades := d.Decode(rec, watchedAsset, 0.25, 0.5)
	require.Len(t, trades, 1)

	trade := trades[0]
	assert.Equal(t, domain.TradeBuy, trade.Direction)
	assert.InDelta(t, 30, trade.BaseAmount, 1e-9)
	assert.Equal(t, "rHolder", trade.Counterparty)
	assert.Equal(t, "TX1", trade.TxHash)
	assert.InDelta(t, 0.25, trade.Price, 1e-12)
	assert.InDelta(t, 7.5, trade.QuoteAmount, 1e-9)
	assert.Equal(t, time.Date(2000, 1, 1, 0, 2, 0, 0, time.UTC), trade.LedgerCloseTime)
}

func TestDecodeIssuerOnLowSideFlipsSign(t *testing.T) {
	d := newTestDecoder()

	// Issuer on the low side: a rising low-side balance means the high-side
	// holder gave tokens back, a sell from the holder's perspective.
	rec := record("TX2", 0, "tesSUCCESS",
		modifiedLine("TOK", "rIssuer", "rHolder", "100", "130"),
	)

	trades := d.Decode(rec, watchedAsset, 0, 0.5)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.TradeSell, trades[0].Direction)
	assert.InDelta(t, 30, trades[0].BaseAmount, 1e-9)
	assert.Equal(t, "rHolder", trades[0].Counterparty)
}

func TestDecodeSkipsFailedTransaction(t *testing.T) {
	d := newTestDecoder()

	rec := record("TX3", 0, "tecPATH_DRY",
		modifiedLine("TOK", "rHolder", "rIssuer", "100", "130"),
	)

	assert.Empty(t, d.Decode(rec, watchedAsset, 0, 0.5))
}

func TestDecodeCreatedLineStartsFromZero(t *testing.T) {
	d := newTestDecoder()

	rec := record("TX4", 0, "tesSUCCESS",
		createdLine("TOK", "rNewHolder", "rIssuer", "55"),
	)

	trades := d.Decode(rec, watchedAsset, 0, 0.5)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.TradeBuy, trades[0].Direction)
	assert.InDelta(t, 55, trades[0].BaseAmount, 1e-9)
}

func TestDecodeSkipsImmaterialDelta(t *testing.T) {
	d := newTestDecoder()

	rec := record("TX5", 0, "tesSUCCESS",
		modifiedLine("TOK", "rHolder", "rIssuer", "100", "100.0000000001"),
	)

	assert.Empty(t, d.Decode(rec, watchedAsset, 0, 0.5))
}

func TestDecodeSkipsIrrelevantNodes(t *testing.T) {
	d := newTestDecoder()

	accountRoot := xrpl.AffectedNode{Modified: &xrpl.NodeData{
		LedgerEntryType: "AccountRoot",
		FinalFields:     json.RawMessage(`{"Account":"rHolder","Balance":"99"}`),
		PreviousFields:  json.RawMessage(`{"Balance":"100"}`),
	}}
	otherCurrency := modifiedLine("EUR", "rHolder", "rIssuer", "5", "9")
	thirdParty := modifiedLine("TOK", "rAlice", "rBob", "5", "9")
	noBalanceChange := xrpl.AffectedNode{Modified: &xrpl.NodeData{
		LedgerEntryType: "RippleState",
		FinalFields: json.RawMessage(
			`{"Balance":{"currency":"TOK","value":"7"},"LowLimit":{"issuer":"rHolder","value":"5"},"HighLimit":{"issuer":"rIssuer","value":"0"}}`,
		),
		PreviousFields: json.RawMessage(`{"LowLimit":{"issuer":"rHolder","value":"1"}}`),
	}}

	rec := record("TX6", 0, "tesSUCCESS", accountRoot, otherCurrency, thirdParty, noBalanceChange)

	assert.Empty(t, d.Decode(rec, watchedAsset, 0, 0.5))
}

func TestDecodeMalformedNodeDoesNotAbortBatch(t *testing.T) {
	d := newTestDecoder()

	broken := xrpl.AffectedNode{Modified: &xrpl.NodeData{
		LedgerEntryType: "RippleState",
		FinalFields:     json.RawMessage(`{"Balance":`),
	}}
	rec := record("TX7", 0, "tesSUCCESS",
		broken,
		modifiedLine("TOK", "rHolder", "rIssuer", "10", "25"),
	)

	trades := d.Decode(rec, watchedAsset, 0, 0.5)
	require.Len(t, trades, 1)
	assert.InDelta(t, 15, trades[0].BaseAmount, 1e-9)
}

func TestDecodeMultipleLinesYieldMultipleTrades(t *testing.T) {
	d := newTestDecoder()

	rec := record("TX8", 0, "tesSUCCESS",
		modifiedLine("TOK", "rAlice", "rIssuer", "0", "10"),
		modifiedLine("TOK", "rBob", "rIssuer", "50", "40"),
	)

	trades := d.Decode(rec, watchedAsset, 0, 0.5)
	require.Len(t, trades, 2)
	assert.Equal(t, domain.TradeBuy, trades[0].Direction)
	assert.Equal(t, "rAlice", trades[0].Counterparty)
	assert.Equal(t, domain.TradeSell, trades[1].Direction)
	assert.Equal(t, "rBob", trades[1].Counterparty)
	assert.NotEqual(t, trades[0].ID, trades[1].ID)
}

func TestDecodePriceFallsBackToHint(t *testing.T) {
	d := newTestDecoder()

	rec := record("TX9", 0, "tesSUCCESS",
		modifiedLine("TOK", "rHolder", "rIssuer", "0", "10"),
	)

	withBook := d.Decode(rec, watchedAsset, 0.3, 0.9)
	require.Len(t, withBook, 1)
	assert.InDelta(t, 0.3, withBook[0].Price, 1e-12)

	withHint := d.Decode(rec, watchedAsset, 0, 0.9)
	require.Len(t, withHint, 1)
	assert.InDelta(t, 0.9, withHint[0].Price, 1e-12)
}

func TestDecodeIdempotent(t *testing.T) {
	d := newTestDecoder()

	rec := record("TX10", 300, "tesSUCCESS",
		modifiedLine("TOK", "rHolder", "rIssuer", "100", "130"),
	)

	first := d.Decode(rec, watchedAsset, 0.25, 0.5)
	second := d.Decode(rec, watchedAsset, 0.25, 0.5)
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, first[0].DedupKey(), second[0].DedupKey())

	tp := NewTape(10)
	tp.Insert(first[0])
	tp.Insert(second[0])
	assert.Equal(t, 1, tp.Len())
}
