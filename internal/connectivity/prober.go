package connectivity

import (
	"context"
	"net/http"
	"time"

	"salesync/internal/config"

	"github.com/rs/zerolog"
)

// Prober checks reachability with a HEAD request to a health URL.
// With no URL configured the network is assumed up.
type Prober struct {
	url    string
	client *http.Client
}

func NewProber(cfg config.ConnectivityConfig) *Prober {
	timeout := cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Prober{
		url:    cfg.ProbeURL,
		client: &http.Client{Timeout: timeout},
	}
}

// Probe reports whether the health URL answered below 500.
func (p *Prober) Probe(ctx context.Context) bool {
	if p.url == "" {
		return true
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, http.NoBody)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// Watch probes every interval and feeds the result to m until ctx is done.
func (p *Prober) Watch(ctx context.Context, interval time.Duration, m *Monitor, logger *zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		up := p.Probe(ctx)
		if ctx.Err() != nil {
			return
		}
		if err := m.SetOnline(ctx, up); err != nil {
			logger.Error().Err(err).Msg("Connectivity transition failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
