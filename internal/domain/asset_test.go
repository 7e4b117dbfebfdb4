package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAsset(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Asset
		wantErr bool
	}{
		{"native", "XRP", Asset{Currency: "XRP"}, false},
		{"issued", "USD.rvYAfWj5gh67oV6fW32ZzP3Aw4Eubs59B", Asset{Currency: "USD", Issuer: "rvYAfWj5gh67oV6fW32ZzP3Aw4Eubs59B"}, false},
		{"whitespace trimmed", "  XRP  ", Asset{Currency: "XRP"}, false},
		{"empty", "", Asset{}, true},
		{"native with issuer", "XRP.rIssuer", Asset{}, true},
		{"issued without issuer", "USD", Asset{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAsset(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAssetStringRoundTrips(t *testing.T) {
	for _, s := range []string{"XRP", "TOK.rIssuer"} {
		parsed, err := ParseAsset(s)
		require.NoError(t, err)
		assert.Equal(t, s, parsed.String())
	}
}

func TestAssetIsNative(t *testing.T) {
	assert.True(t, Asset{Currency: "XRP"}.IsNative())
	assert.False(t, Asset{Currency: "TOK", Issuer: "rIssuer"}.IsNative())
	// A mislabeled XRP with an issuer is not the native asset.
	assert.False(t, Asset{Currency: "XRP", Issuer: "rIssuer"}.IsNative())
}

func TestParsePair(t *testing.T) {
	pair, err := ParsePair("TOK.rIssuer-XRP")
	require.NoError(t, err)
	assert.Equal(t, Asset{Currency: "TOK", Issuer: "rIssuer"}, pair.Base)
	assert.Equal(t, Asset{Currency: "XRP"}, pair.Quote)
	assert.Equal(t, "TOK.rIssuer-XRP", pair.String())

	_, err = ParsePair("JUSTONETOKEN")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = ParsePair("XRP-XRP")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = ParsePair("-XRP")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPairIssuedLeg(t *testing.T) {
	issuedBase := Pair{
		Base:  Asset{Currency: "TOK", Issuer: "rIssuer"},
		Quote: Asset{Currency: "XRP"},
	}
	leg, ok := issuedBase.IssuedLeg()
	require.True(t, ok)
	assert.Equal(t, issuedBase.Base, leg)

	issuedQuote := Pair{
		Base:  Asset{Currency: "XRP"},
		Quote: Asset{Currency: "TOK", Issuer: "rIssuer"},
	}
	leg, ok = issuedQuote.IssuedLeg()
	require.True(t, ok)
	assert.Equal(t, issuedQuote.Quote, leg)

	// Both legs issued: the base wins, trades are read off its trust lines.
	bothIssued := Pair{
		Base:  Asset{Currency: "TOK", Issuer: "rA"},
		Quote: Asset{Currency: "USD", Issuer: "rB"},
	}
	leg, ok = bothIssued.IssuedLeg()
	require.True(t, ok)
	assert.Equal(t, bothIssued.Base, leg)
}

func TestNewTradeIDDeterministic(t *testing.T) {
	a := NewTradeID("ABCDEF", "rHolder")
	b := NewTradeID("ABCDEF", "rHolder")
	assert.Equal(t, a, b)

	// Distinct counterparties within one transaction are distinct trades.
	c := NewTradeID("ABCDEF", "rOther")
	assert.NotEqual(t, a, c)

	d := NewTradeID("FEDCBA", "rHolder")
	assert.NotEqual(t, a, d)
}

func TestTradeDedupKey(t *testing.T) {
	trade := Trade{TxHash: "ABCDEF", Counterparty: "rHolder"}
	assert.Equal(t, "ABCDEF:rHolder", trade.DedupKey())
}
