package socket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"

	"github.com/pulsepal/pulsepal/internal/config"
	"github.com/pulsepal/pulsepal/internal/tokenstore"
)

func monitorHealthHandler(service string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"service": "` + service + `", "status": "ok"}`))
	})
}

func newDiscovery(candidates []string, store *tokenstore.Store) *Discovery {
	return NewDiscovery(&config.Config{
		MonitorCandidates:  candidates,
		MonitorFallbackURL: "http://fallback.invalid",
		ProbeTimeout:       time.Second,
	}, store)
}

func TestDiscovery_PicksFirstHealthyCandidate(t *testing.T) {
	wrong := httptest.NewServer(monitorHealthHandler("something-else"))
	defer wrong.Close()
	right := httptest.NewServer(monitorHealthHandler(MonitorServiceID))
	defer right.Close()

	store := tokenstore.New(afero.NewMemMapFs(), "/state")
	d := newDiscovery([]string{wrong.URL, right.URL}, store)

	got := d.Resolve(context.Background())
	assert.Equal(t, right.URL, got)
	assert.Equal(t, right.URL, store.MonitorURL(), "winner is persisted for the next run")
}

func TestDiscovery_UsesPersistedResult(t *testing.T) {
	store := tokenstore.New(afero.NewMemMapFs(), "/state")
	store.SetMonitorURL("http://remembered:8001")

	// No candidate is reachable; the cached URL must win without any probe.
	d := newDiscovery([]string{"http://127.0.0.1:1"}, store)

	got := d.Resolve(context.Background())
	assert.Equal(t, "http://remembered:8001", got)
}

func TestDiscovery_FallsBackWhenNothingResponds(t *testing.T) {
	wrong := httptest.NewServer(monitorHealthHandler("imposter"))
	defer wrong.Close()

	store := tokenstore.New(afero.NewMemMapFs(), "/state")
	d := newDiscovery([]string{"http://127.0.0.1:1", wrong.URL}, store)

	got := d.Resolve(context.Background())
	assert.Equal(t, "http://fallback.invalid", got)
	assert.Empty(t, store.MonitorURL(), "the fallback is not persisted as a discovery")
}
