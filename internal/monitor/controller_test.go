package monitor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsepal/pulsepal/internal/domain"
	"github.com/pulsepal/pulsepal/internal/socket"
)

// fakeSessions implements SessionManager, exposing the registered handlers so
// tests can feed events in directly.
type fakeSessions struct {
	connected    bool
	connectErr   error
	connectCalls int
	reconnects   int
	onReading    func(domain.BPReading)
	onPrediction func(domain.Prediction)
	unsubscribed int
}

func (f *fakeSessions) Connect(ctx context.Context, ns socket.Namespace) error {
	f.connectCalls++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeSessions) Reconnect(ctx context.Context, ns socket.Namespace) error {
	f.reconnects++
	f.connected = true
	return nil
}

func (f *fakeSessions) Connected(ns socket.Namespace) bool {
	return f.connected
}

func (f *fakeSessions) OnBPReading(ctx context.Context, fn func(domain.BPReading)) (func(), error) {
	f.onReading = fn
	return func() { f.unsubscribed++ }, nil
}

func (f *fakeSessions) OnPrediction(ctx context.Context, fn func(domain.Prediction)) (func(), error) {
	f.onPrediction = fn
	return func() { f.unsubscribed++ }, nil
}

func TestController_StartConnectsEagerly(t *testing.T) {
	sessions := &fakeSessions{}
	c := New(sessions)
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	assert.Equal(t, 1, sessions.connectCalls)
	assert.False(t, c.IsLive(), "eager connect does not imply live display")
}

func TestController_StartToleratesConnectFailure(t *testing.T) {
	sessions := &fakeSessions{connectErr: errors.New("no route")}
	c := New(sessions)

	require.NoError(t, c.Start(context.Background()), "connection health is not a startup failure")
	c.Close()
}

func TestController_EventsDroppedWhileNotLive(t *testing.T) {
	sessions := &fakeSessions{}
	c := New(sessions)
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	sessions.onReading(domain.BPReading{Systolic: 120, Diastolic: 80, HeartRate: 70})
	sessions.onPrediction(domain.Prediction{RiskLevel: "low"})

	_, ok := c.Reading()
	assert.False(t, ok, "events while off are dropped, never buffered")
	_, ok = c.Prediction()
	assert.False(t, ok)

	// Toggling on later does not resurrect the dropped events.
	c.SetLive(context.Background(), true)
	_, ok = c.Reading()
	assert.False(t, ok)
}

func TestController_LiveEventsAreDisplayed(t *testing.T) {
	sessions := &fakeSessions{}
	c := New(sessions)
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	c.SetLive(context.Background(), true)

	sessions.onReading(domain.BPReading{Systolic: 132, Diastolic: 85, HeartRate: 74})
	sessions.onPrediction(domain.Prediction{Prediction: "elevated", RiskLevel: "medium", Probability: 0.7})

	reading, ok := c.Reading()
	require.True(t, ok)
	assert.Equal(t, 132, reading.Systolic)

	prediction, ok := c.Prediction()
	require.True(t, ok)
	assert.Equal(t, "medium", prediction.RiskLevel)
}

func TestController_TogglingOffClearsValues(t *testing.T) {
	sessions := &fakeSessions{}
	c := New(sessions)
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	c.SetLive(context.Background(), true)
	sessions.onReading(domain.BPReading{Systolic: 120, Diastolic: 80, HeartRate: 70})

	c.SetLive(context.Background(), false)

	_, ok := c.Reading()
	assert.False(t, ok)
	_, ok = c.Prediction()
	assert.False(t, ok)
	assert.False(t, c.IsLive())
}

func TestController_GoingLiveWhileDisconnectedReconnects(t *testing.T) {
	sessions := &fakeSessions{connectErr: errors.New("no route")}
	c := New(sessions)
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	require.False(t, sessions.connected)
	sessions.connectErr = nil

	c.SetLive(context.Background(), true)
	assert.Equal(t, 1, sessions.reconnects)

	// Already connected: going live again forces nothing.
	c.SetLive(context.Background(), true)
	assert.Equal(t, 1, sessions.reconnects)
}

func TestController_CloseDetachesSubscriptions(t *testing.T) {
	sessions := &fakeSessions{}
	c := New(sessions)
	require.NoError(t, c.Start(context.Background()))

	c.Close()
	assert.Equal(t, 2, sessions.unsubscribed)
}

func TestController_NotifyFiresOnChange(t *testing.T) {
	sessions := &fakeSessions{}
	notifications := 0
	c := New(sessions, WithNotify(func() { notifications++ }))
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	c.SetLive(context.Background(), true)
	sessions.onReading(domain.BPReading{Systolic: 120, Diastolic: 80, HeartRate: 70})

	assert.Equal(t, 2, notifications)
}
