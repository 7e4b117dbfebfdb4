package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanmx/xrpldexfeed/internal/domain"
)

type fakeWriter struct {
	path        string
	contentType string
	body        []byte
	err         error
	puts        int
}

func (w *fakeWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	w.puts++
	if w.err != nil {
		return w.err
	}
	w.path = path
	w.contentType = contentType
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.body = body
	return nil
}

func (w *fakeWriter) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	return w.Put(context.Background(), path, data, "")
}

type fakeSource struct {
	trades []domain.JournaledTrade
	err    error
	before time.Time
}

func (s *fakeSource) ListBefore(_ context.Context, before time.Time) ([]domain.JournaledTrade, error) {
	s.before = before
	return s.trades, s.err
}

type fakeAudit struct {
	events   []string
	payloads []map[string]any
	err      error
}

func (a *fakeAudit) Log(_ context.Context, event string, payload map[string]any) error {
	a.events = append(a.events, event)
	a.payloads = append(a.payloads, payload)
	return a.err
}

func journaled(pair domain.Pair, txHash, counterparty string, closeTime time.Time) domain.JournaledTrade {
	return domain.JournaledTrade{
		Pair: pair,
		Trade: domain.Trade{
			ID:              domain.NewTradeID(txHash, counterparty),
			Direction:       domain.TradeBuy,
			Price:           0.25,
			BaseAmount:      40,
			QuoteAmount:     10,
			Counterparty:    counterparty,
			LedgerCloseTime: closeTime,
			TxHash:          txHash,
		},
	}
}

func TestArchiveTradesUploadsMonthlyJSONL(t *testing.T) {
	pair := domain.Pair{
		Base:  domain.Asset{Currency: "TOK", Issuer: "rIssuer"},
		Quote: domain.Asset{Currency: "XRP"},
	}
	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	closed := cutoff.Add(-48 * time.Hour)

	writer := &fakeWriter{}
	source := &fakeSource{trades: []domain.JournaledTrade{
		journaled(pair, "TX1", "rAlice", closed),
		journaled(pair, "TX2", "rBob", closed.Add(time.Minute)),
	}}
	audit := &fakeAudit{}

	count, err := NewArchiver(writer, source, audit).ArchiveTrades(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, cutoff, source.before)

	assert.Equal(t, "archive/trades/2026-08.jsonl", writer.path)
	assert.Equal(t, "application/x-ndjson", writer.contentType)

	lines := strings.Split(strings.TrimRight(string(writer.body), "\n"), "\n")
	require.Len(t, lines, 2)

	var row struct {
		Pair         string    `json:"pair"`
		ID           string    `json:"id"`
		Direction    string    `json:"direction"`
		Price        float64   `json:"price"`
		BaseAmount   float64   `json:"base_amount"`
		Counterparty string    `json:"counterparty"`
		CloseTime    time.Time `json:"close_time"`
		TxHash       string    `json:"tx_hash"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &row))
	assert.Equal(t, "TOK.rIssuer-XRP", row.Pair)
	assert.Equal(t, domain.NewTradeID("TX1", "rAlice").String(), row.ID)
	assert.Equal(t, "buy", row.Direction)
	assert.Equal(t, 0.25, row.Price)
	assert.Equal(t, 40.0, row.BaseAmount)
	assert.Equal(t, "rAlice", row.Counterparty)
	assert.True(t, row.CloseTime.Equal(closed))
	assert.Equal(t, "TX1", row.TxHash)

	require.Len(t, audit.events, 1)
	assert.Equal(t, "archive.trades", audit.events[0])
	assert.Equal(t, int64(2), audit.payloads[0]["count"])
	assert.Equal(t, "archive/trades/2026-08.jsonl", audit.payloads[0]["path"])
}

func TestArchiveTradesNothingToArchive(t *testing.T) {
	writer := &fakeWriter{}
	audit := &fakeAudit{}

	count, err := NewArchiver(writer, &fakeSource{}, audit).ArchiveTrades(
		context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, writer.puts)
	assert.Empty(t, audit.events)
}

func TestArchiveTradesQueryFailure(t *testing.T) {
	writer := &fakeWriter{}
	source := &fakeSource{err: errors.New("connection refused")}

	_, err := NewArchiver(writer, source, &fakeAudit{}).ArchiveTrades(
		context.Background(), time.Now())
	require.Error(t, err)
	assert.Zero(t, writer.puts)
}

func TestArchiveTradesUploadFailure(t *testing.T) {
	pair := domain.Pair{
		Base:  domain.Asset{Currency: "TOK", Issuer: "rIssuer"},
		Quote: domain.Asset{Currency: "XRP"},
	}
	writer := &fakeWriter{err: errors.New("access denied")}
	source := &fakeSource{trades: []domain.JournaledTrade{
		journaled(pair, "TX1", "rAlice", time.Now().Add(-time.Hour)),
	}}
	audit := &fakeAudit{}

	_, err := NewArchiver(writer, source, audit).ArchiveTrades(
		context.Background(), time.Now())
	require.Error(t, err)
	assert.Empty(t, audit.events, "failed upload must not be audit-logged")
}

func TestMarshalJSONLKeepsRawStrings(t *testing.T) {
	buf, err := marshalJSONL([]map[string]string{{"k": "a<b>&c"}})
	require.NoError(t, err)
	assert.True(t, bytes.Contains(buf, []byte(`a<b>&c`)), "HTML escaping should be off")
}

func TestArchivePathPartitionsByMonth(t *testing.T) {
	assert.Equal(t, "archive/trades/2025-12.jsonl",
		archivePath("trades", time.Date(2025, 12, 31, 23, 59, 0, 0, time.UTC)))
}
