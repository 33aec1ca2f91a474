package model

// Instrument is a tradable futures symbol and its exchange metadata.
// Deactivated instruments are skipped by both ingestion and orchestration;
// they are never deleted, so the deactivation reason stays auditable.
type Instrument struct {
	Symbol             string `json:"symbol"`
	PricePrecision     int    `json:"price_precision"`
	QuantityPrecision  int    `json:"quantity_precision"`
	Active             bool   `json:"active"`
	DeactivationReason string `json:"deactivation_reason,omitempty"`
}
