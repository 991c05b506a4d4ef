package models

// Market is a single tradable instrument as returned by REST market
// discovery. Only the symbol matters to the scanner; the remaining fields
// are kept for log context.
type Market struct {
	Symbol        string `json:"symbol"`
	BaseCurrency  string `json:"base_currency"`
	QuoteCurrency string `json:"quote_currency"`
	AssetKind     string `json:"asset_kind"`
}

// MarketsResponse wraps the discovery payload.
type MarketsResponse struct {
	Results []Market `json:"results"`
}
