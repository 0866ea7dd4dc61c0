package models

// Event type and entity names used in the sync envelope.
const (
	EventTypeSaleRegistered = "venta_registrada"
	EntitySale              = "venta"
)

// SyncEvent is the canonical envelope built from a PendingSaleRecord on
// every attempt. EventoUID always equals the record's IDGlobal.
type SyncEvent struct {
	EventoUID      string           `json:"evento_uid"`
	Tipo           string           `json:"tipo"`
	Entidad        string           `json:"entidad"`
	EntidadIDLocal string           `json:"entidad_id_local"`
	Payload        SyncEventPayload `json:"payload"`
}

// SyncEventPayload carries the raw sale fields plus recomputed totals.
type SyncEventPayload struct {
	IDGlobal         string     `json:"id_global"`
	TenantID         string     `json:"tenant_id"`
	CustomerName     string     `json:"customer_name,omitempty"`
	CustomerDocument string     `json:"customer_document,omitempty"`
	CustomerPhone    string     `json:"customer_phone,omitempty"`
	ExchangeRate     float64    `json:"exchange_rate"`
	PaymentMethod    string     `json:"payment_method"`
	IsCredit         bool       `json:"is_credit"`
	CreditDays       int        `json:"credit_days,omitempty"`
	CreatedAt        string     `json:"created_at"`
	TotalBs          float64    `json:"total_bs"`
	TotalUSD         float64    `json:"total_usd"`
	Items            []SaleItem `json:"items"`
}
