package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pulsepal/pulsepal/internal/config"
	"github.com/pulsepal/pulsepal/internal/tokenstore"
)

// MonitorServiceID is the service identifier the health probe must return for
// a candidate to be selected.
const MonitorServiceID = "bp-monitor-microservice"

// Discovery locates the monitor backend by probing an ordered candidate list.
// Probes run sequentially with a bounded per-candidate timeout; the first
// candidate answering with the expected service identifier wins and is
// persisted for subsequent runs.
type Discovery struct {
	candidates []string
	fallback   string
	timeout    time.Duration
	httpClient *http.Client
	store      *tokenstore.Store
	logger     *slog.Logger
}

// NewDiscovery builds a Discovery from configuration.
func NewDiscovery(cfg *config.Config, store *tokenstore.Store) *Discovery {
	return &Discovery{
		candidates: cfg.MonitorCandidates,
		fallback:   cfg.MonitorFallbackURL,
		timeout:    cfg.ProbeTimeout,
		httpClient: &http.Client{},
		store:      store,
		logger:     slog.Default().With("service", "discovery"),
	}
}

// Resolve returns the monitor backend URL: the persisted result if one exists,
// otherwise the first healthy candidate, otherwise the configured fallback.
func (d *Discovery) Resolve(ctx context.Context) string {
	if cached := d.store.MonitorURL(); cached != "" {
		d.logger.Debug("using cached monitor URL", "url", cached)
		return cached
	}

	for _, candidate := range d.candidates {
		if err := d.probe(ctx, candidate); err != nil {
			d.logger.Debug("candidate rejected", "url", candidate, "error", err)
			continue
		}
		d.logger.Info("monitor backend discovered", "url", candidate)
		if err := d.store.SetMonitorURL(candidate); err != nil {
			d.logger.Warn("failed to persist discovered monitor URL", "error", err)
		}
		return candidate
	}

	d.logger.Warn("no monitor candidate responded, using fallback", "url", d.fallback)
	return d.fallback
}

func (d *Discovery) probe(ctx context.Context, base string) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Service string `json:"service"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return err
	}
	if body.Service != MonitorServiceID {
		return fmt.Errorf("unexpected service identifier %q", body.Service)
	}
	return nil
}
