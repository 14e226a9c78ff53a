package registry

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intern-cubit/trackerApp-sub002/internal/domain"
)

// fakeTransport records sent frames and close calls.
type fakeTransport struct {
	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

func (t *fakeTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, data)
	return nil
}

func (t *fakeTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) frames() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.sent...)
}

func testDevice() *domain.Device {
	return &domain.Device{
		ID:      uuid.New(),
		Code:    "000061657633",
		Aliases: []string{"0000-6165-7633", "legacy-token"},
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := New(nil, nil)
	t.Cleanup(r.Stop)
	return r
}

func TestBindMakesDeviceReachableByAllKeys(t *testing.T) {
	r := newTestRegistry(t)
	device := testDevice()
	session := NewSession(uuid.New(), device, domain.ClientMobileAgent, &fakeTransport{})

	require.NoError(t, r.Bind(session))

	for _, key := range []string{device.ID.String(), "000061657633", "0000-6165-7633", "legacy-token"} {
		got, ok := r.Lookup(key)
		require.True(t, ok, "key %q", key)
		assert.Same(t, session, got, "key %q", key)
	}

	_, ok := r.Lookup("something-else")
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())
}

func TestUnbindClosesTransportAndRemovesKeys(t *testing.T) {
	r := newTestRegistry(t)
	device := testDevice()
	transport := &fakeTransport{}
	session := NewSession(uuid.New(), device, domain.ClientMobileAgent, transport)

	require.NoError(t, r.Bind(session))
	r.Unbind(session)

	assert.True(t, transport.isClosed())
	_, ok := r.Lookup(device.Code)
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.ForUser(session.UserID))
}

func TestRebindLastWriterWins(t *testing.T) {
	r := newTestRegistry(t)
	device := testDevice()
	userID := uuid.New()

	first := NewSession(userID, device, domain.ClientMobileAgent, &fakeTransport{})
	second := NewSession(userID, device, domain.ClientMobileAgent, &fakeTransport{})

	require.NoError(t, r.Bind(first))
	require.NoError(t, r.Bind(second))

	got, ok := r.Lookup(device.Code)
	require.True(t, ok)
	assert.Same(t, second, got)

	// Tearing down the stale first session must not evict the second's keys.
	r.Unbind(first)
	got, ok = r.Lookup(device.Code)
	require.True(t, ok)
	assert.Same(t, second, got)

	got, ok = r.Lookup("legacy-token")
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestForUserReturnsAllSessions(t *testing.T) {
	r := newTestRegistry(t)
	userID := uuid.New()

	console := NewSession(userID, nil, domain.ClientConsole, &fakeTransport{})
	agent := NewSession(userID, testDevice(), domain.ClientMobileAgent, &fakeTransport{})
	other := NewSession(uuid.New(), nil, domain.ClientConsole, &fakeTransport{})

	require.NoError(t, r.Bind(console))
	require.NoError(t, r.Bind(agent))
	require.NoError(t, r.Bind(other))

	sessions := r.ForUser(userID)
	assert.Len(t, sessions, 2)
	assert.Len(t, r.ForUser(other.UserID), 1)
	assert.Empty(t, r.ForUser(uuid.New()))
}

func TestConsoleSessionHasNoDeviceKeys(t *testing.T) {
	r := newTestRegistry(t)
	session := NewSession(uuid.New(), nil, domain.ClientConsole, &fakeTransport{})

	require.NoError(t, r.Bind(session))

	assert.Equal(t, 1, r.Len())
	assert.Len(t, r.ForUser(session.UserID), 1)
}

func TestPresenceCallbacksFire(t *testing.T) {
	var mu sync.Mutex
	var online, offline []uuid.UUID

	r := New(
		func(id uuid.UUID) { mu.Lock(); online = append(online, id); mu.Unlock() },
		func(id uuid.UUID) { mu.Lock(); offline = append(offline, id); mu.Unlock() },
	)
	t.Cleanup(r.Stop)

	device := testDevice()
	session := NewSession(uuid.New(), device, domain.ClientMobileAgent, &fakeTransport{})
	console := NewSession(uuid.New(), nil, domain.ClientConsole, &fakeTransport{})

	require.NoError(t, r.Bind(session))
	require.NoError(t, r.Bind(console))
	r.Unbind(session)
	r.Unbind(console)

	// Callbacks run on their own goroutines.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(online) == 1 && len(offline) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, device.ID, online[0])
	assert.Equal(t, device.ID, offline[0])
}

func TestUnbindStaleSessionDoesNotFireOffline(t *testing.T) {
	var mu sync.Mutex
	offline := 0

	r := New(nil, func(uuid.UUID) { mu.Lock(); offline++; mu.Unlock() })
	t.Cleanup(r.Stop)

	device := testDevice()
	first := NewSession(uuid.New(), device, domain.ClientMobileAgent, &fakeTransport{})
	second := NewSession(uuid.New(), device, domain.ClientMobileAgent, &fakeTransport{})

	require.NoError(t, r.Bind(first))
	require.NoError(t, r.Bind(second))

	// first no longer holds any device keys; its unbind is not an offline event.
	r.Unbind(first)
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 0, offline)
	mu.Unlock()

	r.Unbind(second)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return offline == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSessionPushWrapsEnvelope(t *testing.T) {
	transport := &fakeTransport{}
	session := NewSession(uuid.New(), nil, domain.ClientConsole, transport)

	require.NoError(t, session.Push(domain.EventAlert, map[string]any{"n": 1}))

	frames := transport.frames()
	require.Len(t, frames, 1)

	var env struct {
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(frames[0], &env))
	assert.Equal(t, domain.EventAlert, env.Event)
	assert.Equal(t, float64(1), env.Data["n"])
}

func TestLiveLocationSubscriptions(t *testing.T) {
	session := NewSession(uuid.New(), nil, domain.ClientConsole, &fakeTransport{})
	deviceID := uuid.New()

	assert.False(t, session.SubscribedTo(deviceID))
	session.SubscribeLiveLocation(deviceID)
	assert.True(t, session.SubscribedTo(deviceID))
	assert.False(t, session.SubscribedTo(uuid.New()))
	session.UnsubscribeLiveLocation(deviceID)
	assert.False(t, session.SubscribedTo(deviceID))
}

func TestStopUnblocksLateCalls(t *testing.T) {
	r := New(nil, nil)
	transport := &fakeTransport{}
	session := NewSession(uuid.New(), testDevice(), domain.ClientMobileAgent, transport)
	require.NoError(t, r.Bind(session))

	r.Stop()

	// An unbind racing the shutdown (typical deferred cleanup on a
	// connection handler) must return instead of waiting on the actor.
	done := make(chan struct{})
	go func() {
		r.Unbind(session)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Unbind blocked after Stop")
	}

	assert.True(t, transport.isClosed())
	_, ok := r.Lookup(session.Device.Code)
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.ForUser(session.UserID))
	assert.ErrorIs(t, r.Bind(session), ErrStopped)
	r.Stop()
}
