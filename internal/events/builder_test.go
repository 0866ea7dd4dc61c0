package events

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"salesync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(v float64) *float64 { return &v }

func TestComputeTotals(t *testing.T) {
	tests := []struct {
		name    string
		items   []models.SaleItem
		rate    float64
		wantBs  float64
		wantUSD float64
	}{
		{
			name: "two items at rate 40",
			items: []models.SaleItem{
				{ProductCode: "A", Quantity: 2, UnitPriceUSD: 5},
				{ProductCode: "B", Quantity: 1, UnitPriceUSD: 10},
			},
			rate:    40,
			wantBs:  800,
			wantUSD: 20,
		},
		{
			name: "precomputed subtotal wins",
			items: []models.SaleItem{
				{ProductCode: "A", Quantity: 1, UnitPriceUSD: 10, SubtotalBs: floatPtr(390)},
				{ProductCode: "B", Quantity: 1, UnitPriceUSD: 1},
			},
			rate:    40,
			wantBs:  430,
			wantUSD: 11,
		},
		{
			name: "usd derived from bs when prices are zero",
			items: []models.SaleItem{
				{ProductCode: "A", Quantity: 1, UnitPriceUSD: 0, SubtotalBs: floatPtr(200)},
			},
			rate:    40,
			wantBs:  200,
			wantUSD: 5,
		},
		{
			name: "zero rate keeps zero usd",
			items: []models.SaleItem{
				{ProductCode: "A", Quantity: 1, UnitPriceUSD: 0, SubtotalBs: floatPtr(200)},
			},
			rate:    0,
			wantBs:  200,
			wantUSD: 0,
		},
		{
			name:    "no items",
			rate:    40,
			wantBs:  0,
			wantUSD: 0,
		},
		{
			name: "fractional amounts stay exact",
			items: []models.SaleItem{
				{ProductCode: "A", Quantity: 3, UnitPriceUSD: 0.1},
			},
			rate:    36.5,
			wantBs:  10.95,
			wantUSD: 0.3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bs, usd := ComputeTotals(tt.items, tt.rate)
			assert.Equal(t, tt.wantBs, bs)
			assert.Equal(t, tt.wantUSD, usd)
		})
	}
}

func sampleSale() *models.PendingSaleRecord {
	return &models.PendingSaleRecord{
		IDGlobal:      "V-20260301-abcdefabcdef",
		TenantID:      "shop-1",
		CustomerName:  "Ana",
		ExchangeRate:  40,
		PaymentMethod: "cash",
		IsCredit:      true,
		CreditDays:    15,
		CreatedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Items: []models.SaleItem{
			{ProductCode: "A", Quantity: 2, UnitPriceUSD: 5},
			{ProductCode: "B", Quantity: 1, UnitPriceUSD: 10},
		},
	}
}

func TestBuildSaleEvent(t *testing.T) {
	rec := sampleSale()

	ev, err := BuildSaleEvent(rec)
	require.NoError(t, err)

	assert.Equal(t, rec.IDGlobal, ev.EventoUID)
	assert.Equal(t, rec.IDGlobal, ev.EntidadIDLocal)
	assert.Equal(t, "venta_registrada", ev.Tipo)
	assert.Equal(t, "venta", ev.Entidad)
	assert.Equal(t, 800.0, ev.Payload.TotalBs)
	assert.Equal(t, 20.0, ev.Payload.TotalUSD)
	assert.Equal(t, 15, ev.Payload.CreditDays)
	assert.Len(t, ev.Payload.Items, 2)

	// builder must not alias the record's items
	ev.Payload.Items[0].Quantity = 99
	assert.Equal(t, 2.0, rec.Items[0].Quantity)
}

func TestBuildSaleEvent_Stable(t *testing.T) {
	rec := sampleSale()

	first, err := BuildSaleEvent(rec)
	require.NoError(t, err)
	second, err := BuildSaleEvent(rec)
	require.NoError(t, err)

	assert.Equal(t, first.EventoUID, second.EventoUID)
	assert.Equal(t, first.Payload.TotalBs, second.Payload.TotalBs)
	assert.Equal(t, first.Payload.TotalUSD, second.Payload.TotalUSD)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(a, b), "retries must be byte-identical")
}

func TestBuildSaleEvent_Invalid(t *testing.T) {
	_, err := BuildSaleEvent(nil)
	assert.Error(t, err)

	_, err = BuildSaleEvent(&models.PendingSaleRecord{})
	assert.Error(t, err)
}
