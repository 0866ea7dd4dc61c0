package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingSaleRecord_JSON(t *testing.T) {
	sub := 123.5
	rec := PendingSaleRecord{
		IDGlobal:     "V-20260101-abcdef012345",
		TenantID:     "t1",
		Items:        []SaleItem{{ProductCode: "P1", Quantity: 1, UnitPriceUSD: 3, SubtotalBs: &sub}, {ProductCode: "P2", Quantity: 2, UnitPriceUSD: 1}},
		ExchangeRate: 41.2,
		CreatedAt:    time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "V-20260101-abcdef012345", raw["id_global"])
	assert.Equal(t, false, raw["sync"])

	items := raw["items"].([]interface{})
	first := items[0].(map[string]interface{})
	second := items[1].(map[string]interface{})
	assert.Equal(t, 123.5, first["subtotal_bs"])
	_, hasSubtotal := second["subtotal_bs"]
	assert.False(t, hasSubtotal)
}

func TestSyncEvent_EnvelopeKeys(t *testing.T) {
	ev := SyncEvent{EventoUID: "x", Tipo: EventTypeSaleRegistered, Entidad: EntitySale, EntidadIDLocal: "x"}
	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"evento_uid", "tipo", "entidad", "entidad_id_local", "payload"} {
		assert.Contains(t, raw, key)
	}
	assert.Equal(t, "venta_registrada", raw["tipo"])
}
