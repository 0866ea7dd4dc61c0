package models

import "time"

// SaleItem is one line of a confirmed sale.
type SaleItem struct {
	ProductCode  string   `json:"product_code"`
	Quantity     float64  `json:"quantity"`
	UnitPriceUSD float64  `json:"unit_price_usd"`
	SubtotalBs   *float64 `json:"subtotal_bs,omitempty"` // precomputed line total, wins over price*qty*rate
}

// PendingSaleRecord is the unit of durability. IDGlobal is generated by the
// client once and never changes; receivers dedupe on it.
type PendingSaleRecord struct {
	IDGlobal         string     `json:"id_global"`
	TenantID         string     `json:"tenant_id"`
	Items            []SaleItem `json:"items"`
	CustomerName     string     `json:"customer_name,omitempty"`
	CustomerDocument string     `json:"customer_document,omitempty"`
	CustomerPhone    string     `json:"customer_phone,omitempty"`
	ExchangeRate     float64    `json:"exchange_rate"`
	PaymentMethod    string     `json:"payment_method"`
	IsCredit         bool       `json:"is_credit"`
	CreditDays       int        `json:"credit_days,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	Sync             bool       `json:"sync"`
}

// SaleStatus mirrors the sync flag in the store.
const (
	SaleStatusPending = "pending"
	SaleStatusSynced  = "synced"
)

// StoredSale is a record together with its store bookkeeping.
type StoredSale struct {
	Record             PendingSaleRecord `json:"record"`
	Seq                int64             `json:"seq"`
	Status             string            `json:"status"`
	AuthoritativeAcked bool              `json:"authoritative_acked"`
	MirrorAcked        bool              `json:"mirror_acked"`
	Attempts           int               `json:"attempts"`
	LastError          *string           `json:"last_error"`
	SyncedAt           *time.Time        `json:"synced_at"`
}
