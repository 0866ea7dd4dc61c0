package channel

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"salesync/internal/config"
	"salesync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDelivery(id string) Delivery {
	rec := &models.PendingSaleRecord{
		IDGlobal:      id,
		TenantID:      "shop-1",
		Items:         []models.SaleItem{{ProductCode: "A", Quantity: 2, UnitPriceUSD: 5}},
		ExchangeRate:  40,
		PaymentMethod: "cash",
		CreatedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	ev := &models.SyncEvent{
		EventoUID:      id,
		Tipo:           models.EventTypeSaleRegistered,
		Entidad:        models.EntitySale,
		EntidadIDLocal: id,
		Payload:        models.SyncEventPayload{IDGlobal: id, TotalBs: 400, TotalUSD: 10},
	}
	return Delivery{Event: ev, Record: rec}
}

func TestAuthoritativeChannel_Push(t *testing.T) {
	var gotBody models.PendingSaleRecord
	var gotKey, gotAPIKey, gotPath string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("Idempotency-Key")
		gotAPIKey = r.Header.Get("x-api-key")
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 4521}`))
	}))
	defer srv.Close()

	ch, err := NewAuthoritativeChannel(config.AuthoritativeConfig{BaseURL: srv.URL + "/", APIKey: "k1"})
	require.NoError(t, err)
	assert.Equal(t, NameAuthoritative, ch.Name())

	ack, err := ch.Push(context.Background(), testDelivery("V-1"))
	require.NoError(t, err)
	assert.Equal(t, "4521", ack.RemoteID)
	assert.Equal(t, "/sales", gotPath)
	assert.Equal(t, "V-1", gotKey)
	assert.Equal(t, "k1", gotAPIKey)
	assert.Equal(t, "V-1", gotBody.IDGlobal)
	assert.Len(t, gotBody.Items, 1)
}

func TestAuthoritativeChannel_Failures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		permanent bool
	}{
		{name: "server error", status: http.StatusInternalServerError, permanent: false},
		{name: "bad request", status: http.StatusBadRequest, permanent: true},
		{name: "throttled", status: http.StatusTooManyRequests, permanent: false},
		{name: "redirect is not success", status: http.StatusNotModified, permanent: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			ch, err := NewAuthoritativeChannel(config.AuthoritativeConfig{BaseURL: srv.URL})
			require.NoError(t, err)

			_, err = ch.Push(context.Background(), testDelivery("V-2"))
			require.Error(t, err)

			var pe *PushError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.status, pe.StatusCode)
			assert.Equal(t, tt.permanent, IsPermanent(err))
		})
	}
}

func TestAuthoritativeChannel_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	url := srv.URL
	srv.Close()

	ch, err := NewAuthoritativeChannel(config.AuthoritativeConfig{BaseURL: url, Timeout: time.Second})
	require.NoError(t, err)

	_, err = ch.Push(context.Background(), testDelivery("V-3"))
	var pe *PushError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 0, pe.StatusCode)
	assert.False(t, pe.Permanent())
}

func TestAuthoritativeChannel_RateLimited(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch, err := NewAuthoritativeChannel(config.AuthoritativeConfig{BaseURL: srv.URL, RPS: 1, Burst: 1})
	require.NoError(t, err)

	_, err = ch.Push(context.Background(), testDelivery("V-4"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = ch.Push(ctx, testDelivery("V-5"))
	require.Error(t, err, "second push should wait on the limiter and hit the deadline")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestAuthoritativeChannel_Config(t *testing.T) {
	_, err := NewAuthoritativeChannel(config.AuthoritativeConfig{})
	assert.ErrorIs(t, err, ErrNotConfigured)

	ch, err := NewAuthoritativeChannel(config.AuthoritativeConfig{BaseURL: "http://localhost"})
	require.NoError(t, err)
	_, err = ch.Push(context.Background(), Delivery{})
	assert.Error(t, err)

	mismatched := testDelivery("V-6")
	mismatched.Event.EventoUID = "other"
	_, err = ch.Push(context.Background(), mismatched)
	assert.Error(t, err)
}

func TestIngestionForwarder_Push(t *testing.T) {
	var envelope map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &envelope)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"id":"evt-9"}`))
	}))
	defer srv.Close()

	f, err := NewIngestionForwarder(config.IngestionConfig{URL: srv.URL + "/events"})
	require.NoError(t, err)
	assert.Equal(t, NameIngestion, f.Name())

	ack, err := f.Push(context.Background(), testDelivery("V-7"))
	require.NoError(t, err)
	assert.Equal(t, "evt-9", ack.RemoteID)
	assert.Equal(t, "V-7", envelope["evento_uid"])
	assert.Equal(t, "venta_registrada", envelope["tipo"])
	payload := envelope["payload"].(map[string]interface{})
	assert.Equal(t, 400.0, payload["total_bs"])

	_, err = NewIngestionForwarder(config.IngestionConfig{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestPushError_Message(t *testing.T) {
	assert.Equal(t, "mirror: status 503: busy", (&PushError{Channel: "mirror", StatusCode: 503, Message: "busy"}).Error())
	assert.Equal(t, "mirror: status 503", (&PushError{Channel: "mirror", StatusCode: 503}).Error())
	assert.Equal(t, "mirror: boom", (&PushError{Channel: "mirror", Err: errors.New("boom")}).Error())
}
