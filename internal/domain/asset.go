package domain

import (
	"fmt"
	"strings"
)

// NativeCurrency is the ledger's native asset code. Native amounts carry no
// issuer and travel as drop strings on the wire (1 XRP = 1,000,000 drops).
const NativeCurrency = "XRP"

// Asset identifies one currency on the ledger. Issued currencies name the
// account that issued them; the native currency has no issuer.
type Asset struct {
	Currency string
	Issuer   string
}

// IsNative reports whether the asset is the ledger's native currency.
func (a Asset) IsNative() bool {
	return a.Currency == NativeCurrency && a.Issuer == ""
}

// String renders the asset as "XRP" or "CUR.issuer".
func (a Asset) String() string {
	if a.Issuer == "" {
		return a.Currency
	}
	return a.Currency + "." + a.Issuer
}

// Validate checks that the asset names a currency and, for issued
// currencies, an issuer. The native currency must not carry one.
func (a Asset) Validate() error {
	if a.Currency == "" {
		return fmt.Errorf("asset: missing currency: %w", ErrInvalidInput)
	}
	if a.Currency == NativeCurrency {
		if a.Issuer != "" {
			return fmt.Errorf("asset: native currency cannot have an issuer: %w", ErrInvalidInput)
		}
		return nil
	}
	if a.Issuer == "" {
		return fmt.Errorf("asset %s: issued currency requires an issuer: %w", a.Currency, ErrInvalidInput)
	}
	return nil
}

// ParseAsset parses "XRP" or "CUR.issuer" into an Asset.
func ParseAsset(s string) (Asset, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Asset{}, fmt.Errorf("asset: empty: %w", ErrInvalidInput)
	}
	cur, issuer, found := strings.Cut(s, ".")
	a := Asset{Currency: cur}
	if found {
		a.Issuer = issuer
	}
	if err := a.Validate(); err != nil {
		return Asset{}, err
	}
	return a, nil
}

// Pair is an ordered base/quote trading pair. Prices are always expressed
// as quote units per one base unit.
type Pair struct {
	Base  Asset
	Quote Asset
}

// String renders the pair as "base-quote", e.g. "USD.rhub...-XRP". The form
// round-trips through ParsePair and is URL-path safe (ledger currency codes
// and account addresses never contain '-').
func (p Pair) String() string {
	return p.Base.String() + "-" + p.Quote.String()
}

// Validate checks both legs and rejects a pair trading an asset against
// itself.
func (p Pair) Validate() error {
	if err := p.Base.Validate(); err != nil {
		return fmt.Errorf("pair base: %w", err)
	}
	if err := p.Quote.Validate(); err != nil {
		return fmt.Errorf("pair quote: %w", err)
	}
	if p.Base == p.Quote {
		return fmt.Errorf("pair %s: base and quote are the same asset: %w", p, ErrInvalidInput)
	}
	return nil
}

// IssuedLeg returns the pair's issued (non-native) asset. When both legs are
// issued, the base takes precedence; trades are inferred from that asset's
// trust lines.
func (p Pair) IssuedLeg() (Asset, bool) {
	if !p.Base.IsNative() {
		return p.Base, true
	}
	if !p.Quote.IsNative() {
		return p.Quote, true
	}
	return Asset{}, false
}

// ParsePair parses "base-quote" into a Pair.
func ParsePair(s string) (Pair, error) {
	s = strings.TrimSpace(s)
	base, quote, found := strings.Cut(s, "-")
	if !found {
		return Pair{}, fmt.Errorf("pair %q: want base-quote: %w", s, ErrInvalidInput)
	}
	b, err := ParseAsset(base)
	if err != nil {
		return Pair{}, fmt.Errorf("pair %q: %w", s, err)
	}
	q, err := ParseAsset(quote)
	if err != nil {
		return Pair{}, fmt.Errorf("pair %q: %w", s, err)
	}
	p := Pair{Base: b, Quote: q}
	if err := p.Validate(); err != nil {
		return Pair{}, err
	}
	return p, nil
}
