package xrpl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/seanmx/xrpldexfeed/internal/domain"
)

// dropsPerXRP scales native amounts: the wire carries XRP as an integer
// string of drops.
const dropsPerXRP = 1_000_000

// RippleEpochOffset converts ledger close times to Unix time. The ledger
// epoch starts at 2000-01-01T00:00:00 UTC, 946,684,800 seconds after the
// Unix epoch.
const RippleEpochOffset int64 = 946_684_800

// CloseTime converts a ledger close-time stamp to UTC calendar time.
func CloseTime(ledgerSeconds int64) time.Time {
	return time.Unix(ledgerSeconds+RippleEpochOffset, 0).UTC()
}

// HasMarker reports whether a paginated result carries a usable resume
// cursor. Servers signal exhaustion by omitting the marker or sending null.
func HasMarker(marker json.RawMessage) bool {
	return len(marker) > 0 && !bytes.Equal(marker, []byte("null"))
}

// Amount is the wire form of a currency amount. The ledger encodes the
// native currency as a bare string of drops and issued currencies as a
// {currency, issuer, value} object; UnmarshalJSON accepts both.
type Amount struct {
	Currency string `json:"currency"`
	Issuer   string `json:"issuer,omitempty"`
	Value    string `json:"value"`

	// native records that the wire form was a drop string, so Value is in
	// drops rather than whole units.
	native bool
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var drops string
		if err := json.Unmarshal(data, &drops); err != nil {
			return err
		}
		a.Currency = domain.NativeCurrency
		a.Issuer = ""
		a.Value = drops
		a.native = true
		return nil
	}

	type wireAmount Amount
	var w wireAmount
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*a = Amount(w)
	a.native = false
	return nil
}

func (a Amount) MarshalJSON() ([]byte, error) {
	if a.native {
		return json.Marshal(a.Value)
	}
	type wireAmount Amount
	return json.Marshal(wireAmount(a))
}

// AsAssetAmount converts the wire amount into a domain value, scaling drop
// strings to whole units. Unparseable or non-finite values are rejected as
// malformed data.
func (a Amount) AsAssetAmount() (domain.AssetAmount, error) {
	v, err := strconv.ParseFloat(a.Value, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return domain.AssetAmount{}, fmt.Errorf("xrpl: amount value %q: %w", a.Value, domain.ErrMalformedData)
	}
	if a.native {
		return domain.AssetAmount{
			Asset: domain.Asset{Currency: domain.NativeCurrency},
			Value: v / dropsPerXRP,
		}, nil
	}
	if a.Currency == "" {
		return domain.AssetAmount{}, fmt.Errorf("xrpl: amount missing currency: %w", domain.ErrMalformedData)
	}
	return domain.AssetAmount{
		Asset: domain.Asset{Currency: a.Currency, Issuer: a.Issuer},
		Value: v,
	}, nil
}

// AssetSpec names one side of an order book query: a currency without an
// amount. The native currency is spelled {"currency": "XRP"} with no issuer.
type AssetSpec struct {
	Currency string `json:"currency"`
	Issuer   string `json:"issuer,omitempty"`
}

// SpecFromAsset builds the wire spec for a domain asset.
func SpecFromAsset(a domain.Asset) AssetSpec {
	return AssetSpec{Currency: a.Currency, Issuer: a.Issuer}
}

// ----------------------------------------------------------------------------
// book_offers
// ----------------------------------------------------------------------------

// BookOffersRequest is one page of a book_offers query. Marker resumes a
// prior page and is opaque to the client.
type BookOffersRequest struct {
	TakerGets AssetSpec       `json:"taker_gets"`
	TakerPays AssetSpec       `json:"taker_pays"`
	Limit     int             `json:"limit,omitempty"`
	Marker    json.RawMessage `json:"marker,omitempty"`
}

// RawOffer is one resting offer as returned by book_offers. When the owner
// cannot cover the full face amount the server attaches funded variants,
// which take precedence over the face fields.
type RawOffer struct {
	Account         string  `json:"Account"`
	TakerGets       Amount  `json:"TakerGets"`
	TakerPays       Amount  `json:"TakerPays"`
	TakerGetsFunded *Amount `json:"taker_gets_funded,omitempty"`
	TakerPaysFunded *Amount `json:"taker_pays_funded,omitempty"`
}

// ToOffer converts the wire entry into a domain offer, preferring funded
// amounts when the server provided them.
func (r RawOffer) ToOffer() (domain.Offer, error) {
	if r.Account == "" {
		return domain.Offer{}, fmt.Errorf("xrpl: offer missing account: %w", domain.ErrMalformedData)
	}

	gets := r.TakerGets
	if r.TakerGetsFunded != nil {
		gets = *r.TakerGetsFunded
	}
	pays := r.TakerPays
	if r.TakerPaysFunded != nil {
		pays = *r.TakerPaysFunded
	}

	takerGets, err := gets.AsAssetAmount()
	if err != nil {
		return domain.Offer{}, fmt.Errorf("xrpl: offer taker_gets: %w", err)
	}
	takerPays, err := pays.AsAssetAmount()
	if err != nil {
		return domain.Offer{}, fmt.Errorf("xrpl: offer taker_pays: %w", err)
	}

	return domain.Offer{
		Account:   r.Account,
		TakerGets: takerGets,
		TakerPays: takerPays,
	}, nil
}

// BookOffersResult is one page of offers plus the cursor for the next page.
// A nil Marker means the book is exhausted.
type BookOffersResult struct {
	Offers []RawOffer      `json:"offers"`
	Marker json.RawMessage `json:"marker,omitempty"`
}

// ----------------------------------------------------------------------------
// account_tx
// ----------------------------------------------------------------------------

// AccountTxRequest pages through an account's transaction history, newest
// first.
type AccountTxRequest struct {
	Account string          `json:"account"`
	Limit   int             `json:"limit,omitempty"`
	Marker  json.RawMessage `json:"marker,omitempty"`
}

// AccountTxResult is one page of transaction records plus the cursor for
// the next page.
type AccountTxResult struct {
	Account      string              `json:"account"`
	Transactions []TransactionRecord `json:"transactions"`
	Marker       json.RawMessage     `json:"marker,omitempty"`
}

// TransactionRecord is one {tx, meta} pair from account_tx.
type TransactionRecord struct {
	Tx        TxSummary `json:"tx"`
	Meta      TxMeta    `json:"meta"`
	Validated bool      `json:"validated"`
}

// TxSummary carries the transaction fields the trade decoder consumes.
// Date is seconds since the ledger epoch.
type TxSummary struct {
	Hash    string `json:"hash"`
	Account string `json:"Account"`
	Type    string `json:"TransactionType"`
	Date    int64  `json:"date"`
}

// TxMeta is transaction metadata: the engine result plus every ledger entry
// the transaction touched.
type TxMeta struct {
	TransactionResult string         `json:"TransactionResult"`
	AffectedNodes     []AffectedNode `json:"AffectedNodes"`
}

// Succeeded reports whether the transaction was applied to the ledger.
func (m TxMeta) Succeeded() bool {
	return m.TransactionResult == "tesSUCCESS"
}

// AffectedNode is a tagged union of the three mutation kinds. Exactly one
// field is non-nil per entry.
type AffectedNode struct {
	Modified *NodeData `json:"ModifiedNode,omitempty"`
	Created  *NodeData `json:"CreatedNode,omitempty"`
	Deleted  *NodeData `json:"DeletedNode,omitempty"`
}

// NodeData is the common shape of an affected-node entry. Created entries
// carry NewFields; modified entries carry FinalFields and, for the fields
// that changed, PreviousFields.
type NodeData struct {
	LedgerEntryType string          `json:"LedgerEntryType"`
	FinalFields     json.RawMessage `json:"FinalFields,omitempty"`
	NewFields       json.RawMessage `json:"NewFields,omitempty"`
	PreviousFields  json.RawMessage `json:"PreviousFields,omitempty"`
}

// TrustLineFields is the RippleState shape the trade decoder reads out of
// FinalFields, NewFields, and PreviousFields.
type TrustLineFields struct {
	Balance   CurrencyValue `json:"Balance"`
	HighLimit AccountLimit  `json:"HighLimit"`
	LowLimit  AccountLimit  `json:"LowLimit"`
}

// CurrencyValue is a currency/value pair inside a trust line. The balance
// is held from the low account's perspective.
type CurrencyValue struct {
	Currency string `json:"currency"`
	Value    string `json:"value"`
}

// Float parses the value, rejecting non-finite results.
func (c CurrencyValue) Float() (float64, error) {
	v, err := strconv.ParseFloat(c.Value, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("xrpl: trust line value %q: %w", c.Value, domain.ErrMalformedData)
	}
	return v, nil
}

// AccountLimit names the account on one side of a trust line.
type AccountLimit struct {
	Issuer string `json:"issuer"`
	Value  string `json:"value"`
}

// ----------------------------------------------------------------------------
// subscribe
// ----------------------------------------------------------------------------

// SubscribeRequest asks the server to push streams: validated transactions
// touching the given accounts, or named global streams such as "ledger".
type SubscribeRequest struct {
	Accounts []string `json:"accounts,omitempty"`
	Streams  []string `json:"streams,omitempty"`
}

// StreamTransaction is a "transaction" stream message pushed after a ledger
// closes.
type StreamTransaction struct {
	Type         string    `json:"type"`
	EngineResult string    `json:"engine_result"`
	Validated    bool      `json:"validated"`
	Transaction  TxSummary `json:"transaction"`
	Meta         TxMeta    `json:"meta"`
}

// AsRecord reshapes the stream message into the account_tx record form so
// both paths feed the same decoder.
func (s StreamTransaction) AsRecord() TransactionRecord {
	return TransactionRecord{
		Tx:        s.Transaction,
		Meta:      s.Meta,
		Validated: s.Validated,
	}
}
