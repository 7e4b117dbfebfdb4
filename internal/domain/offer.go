package domain

// AssetAmount couples an asset with a quantity of it. Values are already
// normalized to whole currency units (native drops are converted at the
// wire boundary).
type AssetAmount struct {
	Asset Asset
	Value float64
}

// Offer is a resting order on the ledger: the owner gives TakerGets and
// receives TakerPays. Offers are re-fetched wholesale every poll cycle and
// never persisted.
type Offer struct {
	Account   string
	TakerGets AssetAmount
	TakerPays AssetAmount
}
