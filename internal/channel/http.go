package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"salesync/internal/config"

	"golang.org/x/time/rate"
)

const maxErrorBody = 512

// AuthoritativeChannel posts raw sale records to the tenant's server of record.
type AuthoritativeChannel struct {
	baseURL      string
	apiKey       string
	apiKeyHeader string
	client       *http.Client
	limiter      *rate.Limiter
	now          func() time.Time
}

// HTTPOption customizes an HTTP-backed channel.
type HTTPOption func(*httpOptions)

type httpOptions struct {
	client *http.Client
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(o *httpOptions) { o.client = c }
}

func NewAuthoritativeChannel(cfg config.AuthoritativeConfig, opts ...HTTPOption) (*AuthoritativeChannel, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("%w: authoritative base_url", ErrNotConfigured)
	}

	o := httpOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		o.client = &http.Client{Timeout: timeout}
	}

	ch := &AuthoritativeChannel{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		apiKeyHeader: cfg.APIKeyHeader,
		client:       o.client,
		now:          time.Now,
	}
	if ch.apiKeyHeader == "" {
		ch.apiKeyHeader = "x-api-key"
	}
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 5
		}
		ch.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return ch, nil
}

func (c *AuthoritativeChannel) Name() string { return NameAuthoritative }

// Push sends POST <base>/sales with the raw record as body.
func (c *AuthoritativeChannel) Push(ctx context.Context, d Delivery) (*Ack, error) {
	if err := validDelivery(d); err != nil {
		return nil, &PushError{Channel: NameAuthoritative, Err: err}
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &PushError{Channel: NameAuthoritative, Err: err}
		}
	}

	body, err := json.Marshal(d.Record)
	if err != nil {
		return nil, &PushError{Channel: NameAuthoritative, Err: err}
	}

	headers := map[string]string{"Idempotency-Key": d.Record.IDGlobal}
	if c.apiKey != "" {
		headers[c.apiKeyHeader] = c.apiKey
	}

	respBody, err := postJSON(ctx, c.client, NameAuthoritative, c.baseURL+"/sales", body, headers)
	if err != nil {
		return nil, err
	}

	return &Ack{Channel: NameAuthoritative, RemoteID: parseRemoteID(respBody), At: c.now()}, nil
}

// IngestionForwarder posts the sync envelope to a secondary ingestion endpoint
// for cross-system propagation.
type IngestionForwarder struct {
	url    string
	client *http.Client
	now    func() time.Time
}

func NewIngestionForwarder(cfg config.IngestionConfig, opts ...HTTPOption) (*IngestionForwarder, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("%w: ingestion url", ErrNotConfigured)
	}
	o := httpOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		o.client = &http.Client{Timeout: timeout}
	}
	return &IngestionForwarder{url: cfg.URL, client: o.client, now: time.Now}, nil
}

func (f *IngestionForwarder) Name() string { return NameIngestion }

func (f *IngestionForwarder) Push(ctx context.Context, d Delivery) (*Ack, error) {
	if err := validDelivery(d); err != nil {
		return nil, &PushError{Channel: NameIngestion, Err: err}
	}
	body, err := json.Marshal(d.Event)
	if err != nil {
		return nil, &PushError{Channel: NameIngestion, Err: err}
	}
	respBody, err := postJSON(ctx, f.client, NameIngestion, f.url, body, map[string]string{"Idempotency-Key": d.Event.EventoUID})
	if err != nil {
		return nil, err
	}
	return &Ack{Channel: NameIngestion, RemoteID: parseRemoteID(respBody), At: f.now()}, nil
}

func postJSON(ctx context.Context, client *http.Client, channel, url string, body []byte, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &PushError{Channel: channel, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &PushError{Channel: channel, Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(respBody))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, &PushError{Channel: channel, StatusCode: resp.StatusCode, Message: msg}
	}
	return respBody, nil
}

// parseRemoteID reads {"id": ...} where id may be a string or a number.
func parseRemoteID(body []byte) string {
	var resp struct {
		ID json.RawMessage `json:"id"`
	}
	if len(body) == 0 || json.Unmarshal(body, &resp) != nil || len(resp.ID) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(resp.ID, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(resp.ID))
}
