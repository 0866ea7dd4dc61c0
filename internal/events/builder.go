package events

import (
	"errors"
	"time"

	"salesync/internal/models"

	"github.com/shopspring/decimal"
)

// ComputeTotals recomputes sale totals from line items. A line's precomputed
// Bs subtotal wins over quantity*price*rate. When the USD total comes out
// non-positive it is derived back from the Bs total.
func ComputeTotals(items []models.SaleItem, exchangeRate float64) (totalBs, totalUSD float64) {
	rate := decimal.NewFromFloat(exchangeRate)
	bs := decimal.Zero
	usd := decimal.Zero

	for _, item := range items {
		qty := decimal.NewFromFloat(item.Quantity)
		price := decimal.NewFromFloat(item.UnitPriceUSD)
		lineUSD := qty.Mul(price)

		if item.SubtotalBs != nil {
			bs = bs.Add(decimal.NewFromFloat(*item.SubtotalBs))
		} else {
			bs = bs.Add(lineUSD.Mul(rate))
		}
		usd = usd.Add(lineUSD)
	}

	if !usd.IsPositive() && rate.IsPositive() {
		usd = bs.Div(rate)
	}

	return bs.InexactFloat64(), usd.InexactFloat64()
}

// BuildSaleEvent turns a stored sale into its sync envelope. It is pure:
// the same record always yields the same event, byte for byte once encoded.
func BuildSaleEvent(rec *models.PendingSaleRecord) (*models.SyncEvent, error) {
	if rec == nil {
		return nil, errors.New("nil sale record")
	}
	if rec.IDGlobal == "" {
		return nil, errors.New("sale record without id_global")
	}

	totalBs, totalUSD := ComputeTotals(rec.Items, rec.ExchangeRate)

	items := make([]models.SaleItem, len(rec.Items))
	copy(items, rec.Items)

	return &models.SyncEvent{
		EventoUID:      rec.IDGlobal,
		Tipo:           models.EventTypeSaleRegistered,
		Entidad:        models.EntitySale,
		EntidadIDLocal: rec.IDGlobal,
		Payload: models.SyncEventPayload{
			IDGlobal:         rec.IDGlobal,
			TenantID:         rec.TenantID,
			CustomerName:     rec.CustomerName,
			CustomerDocument: rec.CustomerDocument,
			CustomerPhone:    rec.CustomerPhone,
			ExchangeRate:     rec.ExchangeRate,
			PaymentMethod:    rec.PaymentMethod,
			IsCredit:         rec.IsCredit,
			CreditDays:       rec.CreditDays,
			CreatedAt:        rec.CreatedAt.UTC().Format(time.RFC3339Nano),
			TotalBs:          totalBs,
			TotalUSD:         totalUSD,
			Items:            items,
		},
	}, nil
}
