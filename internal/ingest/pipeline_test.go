package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intern-cubit/trackerApp-sub002/internal/domain"
)

// --- Fakes ---

type fakeResolver struct {
	devices map[string]*domain.Device
}

func (r *fakeResolver) Resolve(_ context.Context, token string) (*domain.Device, error) {
	if d, ok := r.devices[token]; ok {
		return d, nil
	}
	return nil, domain.ErrDeviceNotFound
}

type memLocationRepo struct {
	mu        sync.Mutex
	latest    map[uuid.UUID]*domain.LatestLocation
	history   map[uuid.UUID][]*domain.LocationHistoryEntry
	upsertErr error
}

func newMemLocationRepo() *memLocationRepo {
	return &memLocationRepo{
		latest:  make(map[uuid.UUID]*domain.LatestLocation),
		history: make(map[uuid.UUID][]*domain.LocationHistoryEntry),
	}
}

func (r *memLocationRepo) UpsertLatest(_ context.Context, loc *domain.LatestLocation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.upsertErr != nil {
		return r.upsertErr
	}
	copied := *loc
	r.latest[loc.DeviceID] = &copied
	return nil
}

func (r *memLocationRepo) GetLatest(_ context.Context, deviceID uuid.UUID) (*domain.LatestLocation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	loc, ok := r.latest[deviceID]
	if !ok {
		return nil, domain.ErrDeviceNotFound
	}
	copied := *loc
	return &copied, nil
}

func (r *memLocationRepo) AppendHistory(_ context.Context, entry *domain.LocationHistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *entry
	r.history[entry.DeviceID] = append(r.history[entry.DeviceID], &copied)
	return nil
}

func (r *memLocationRepo) ListHistory(_ context.Context, deviceID uuid.UUID, _ int) ([]*domain.LocationHistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.LocationHistoryEntry(nil), r.history[deviceID]...), nil
}

func (r *memLocationRepo) historyLen(deviceID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.history[deviceID])
}

type memNotificationRepo struct {
	mu        sync.Mutex
	created   []*domain.Notification
	createErr error
}

func (r *memNotificationRepo) Create(_ context.Context, n *domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	copied := *n
	r.created = append(r.created, &copied)
	return nil
}

func (r *memNotificationRepo) all() []*domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.Notification(nil), r.created...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	alerts []uuid.UUID
	live   []uuid.UUID
}

func (p *recordingPublisher) Publish(userID uuid.UUID, event string, _ any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if event == domain.EventAlert {
		p.alerts = append(p.alerts, userID)
	}
}

func (p *recordingPublisher) PublishLiveLocation(userID, _ uuid.UUID, _ any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.live = append(p.live, userID)
}

type stubLimiter struct {
	allowed bool
	err     error
}

func (l *stubLimiter) Allow(context.Context, uuid.UUID) (bool, error) {
	return l.allowed, l.err
}

// --- Fixture ---

type fixture struct {
	pipeline      *Pipeline
	locations     *memLocationRepo
	notifications *memNotificationRepo
	events        *recordingPublisher
	limiter       *stubLimiter
	clock         *clockwork.FakeClock

	owner  uuid.UUID
	device *domain.Device
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	owner := uuid.New()
	device := &domain.Device{
		ID:      uuid.New(),
		Code:    "000061657633",
		OwnerID: &owner,
		Active:  true,
	}

	f := &fixture{
		locations:     newMemLocationRepo(),
		notifications: &memNotificationRepo{},
		events:        &recordingPublisher{},
		limiter:       &stubLimiter{allowed: true},
		clock:         clockwork.NewFakeClock(),
		owner:         owner,
		device:        device,
	}
	resolver := &fakeResolver{devices: map[string]*domain.Device{device.Code: device}}
	f.pipeline = NewPipeline(resolver, f.locations, f.notifications, f.events, f.limiter, f.clock)
	return f
}

func (f *fixture) report(lat, lon float64, boundary bool) Report {
	return Report{
		DeviceToken:     f.device.Code,
		ReportedAt:      f.clock.Now(),
		Latitude:        lat,
		Longitude:       lon,
		InputVoltage:    12.4,
		BatteryVoltage:  3.9,
		BoundaryCrossed: boundary,
	}
}

// --- Tests ---

func TestIngestStoresLatestAndHistory(t *testing.T) {
	f := newFixture(t)

	ack, err := f.pipeline.Ingest(context.Background(), f.report(48.1351, 11.5820, false))
	require.NoError(t, err)
	assert.True(t, ack.Success)

	latest, err := f.locations.GetLatest(context.Background(), f.device.ID)
	require.NoError(t, err)
	assert.Equal(t, 48.1351, latest.Latitude)
	assert.Equal(t, 11.5820, latest.Longitude)
	assert.Equal(t, 12.4, latest.InputVoltage)

	assert.Equal(t, 1, f.locations.historyLen(f.device.ID))
}

func TestIngestRejectsUnknownToken(t *testing.T) {
	f := newFixture(t)

	ack, err := f.pipeline.Ingest(context.Background(), Report{DeviceToken: "not-a-device"})
	assert.ErrorIs(t, err, domain.ErrDeviceNotFound)
	assert.False(t, ack.Success)
	assert.Equal(t, 0, f.locations.historyLen(f.device.ID))
}

func TestIngestLastProcessedReportWins(t *testing.T) {
	f := newFixture(t)

	older := f.report(1, 1, false)
	newer := f.report(2, 2, false)
	newer.ReportedAt = older.ReportedAt.Add(-time.Hour) // older timestamp, processed later

	_, err := f.pipeline.Ingest(context.Background(), older)
	require.NoError(t, err)
	_, err = f.pipeline.Ingest(context.Background(), newer)
	require.NoError(t, err)

	// Processing order decides the projection, not the report timestamp.
	latest, err := f.locations.GetLatest(context.Background(), f.device.ID)
	require.NoError(t, err)
	assert.Equal(t, 2.0, latest.Latitude)

	assert.Equal(t, 2, f.locations.historyLen(f.device.ID))
}

func TestIngestConcurrentReportsAllRecorded(t *testing.T) {
	f := newFixture(t)

	const n = 20
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.pipeline.Ingest(context.Background(), f.report(float64(i), float64(i), false))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Every report lands in history; exactly one wins the projection.
	assert.Equal(t, n, f.locations.historyLen(f.device.ID))
	_, err := f.locations.GetLatest(context.Background(), f.device.ID)
	assert.NoError(t, err)
}

func TestIngestRateLimitedAckedWithoutStoring(t *testing.T) {
	f := newFixture(t)
	f.limiter.allowed = false

	ack, err := f.pipeline.Ingest(context.Background(), f.report(1, 1, false))
	require.NoError(t, err)

	// The device must not retry; the ack claims success.
	assert.True(t, ack.Success)
	assert.Equal(t, "rate limited", ack.Message)
	assert.Equal(t, 0, f.locations.historyLen(f.device.ID))
}

func TestIngestLimiterErrorAcceptsReport(t *testing.T) {
	f := newFixture(t)
	f.limiter.err = errors.New("redis down")

	ack, err := f.pipeline.Ingest(context.Background(), f.report(1, 1, false))
	require.NoError(t, err)
	assert.True(t, ack.Success)
	assert.Equal(t, 1, f.locations.historyLen(f.device.ID))
}

func TestGeofenceAlertPersistsDurableNotification(t *testing.T) {
	f := newFixture(t)

	_, err := f.pipeline.Ingest(context.Background(), f.report(48.0, 11.0, true))
	require.NoError(t, err)

	created := f.notifications.all()
	require.Len(t, created, 1)
	assert.Equal(t, f.owner, created[0].UserID)
	assert.Equal(t, f.device.ID, created[0].DeviceID)
	assert.Equal(t, domain.NotificationGeofenceAlert, created[0].Kind)
	assert.Equal(t, f.device.Code, created[0].Payload["deviceCode"])

	f.events.mu.Lock()
	defer f.events.mu.Unlock()
	assert.Equal(t, []uuid.UUID{f.owner}, f.events.alerts)
}

func TestGeofenceAlertOnUnclaimedDevice(t *testing.T) {
	f := newFixture(t)
	f.device.OwnerID = nil

	ack, err := f.pipeline.Ingest(context.Background(), f.report(48.0, 11.0, true))
	require.NoError(t, err)
	assert.True(t, ack.Success)

	// Nobody to notify, but ingestion still succeeds.
	assert.Empty(t, f.notifications.all())
	assert.Equal(t, 1, f.locations.historyLen(f.device.ID))
}

func TestGeofencePushIndependentOfDurableRecord(t *testing.T) {
	f := newFixture(t)
	f.notifications.createErr = errors.New("store down")

	ack, err := f.pipeline.Ingest(context.Background(), f.report(48.0, 11.0, true))
	require.NoError(t, err)
	assert.True(t, ack.Success)

	// The live push still goes out when the durable write fails.
	f.events.mu.Lock()
	defer f.events.mu.Unlock()
	assert.Len(t, f.events.alerts, 1)
}

func TestIngestPublishesLiveLocationToOwner(t *testing.T) {
	f := newFixture(t)

	_, err := f.pipeline.Ingest(context.Background(), f.report(1, 1, false))
	require.NoError(t, err)

	f.events.mu.Lock()
	defer f.events.mu.Unlock()
	assert.Equal(t, []uuid.UUID{f.owner}, f.events.live)
}

func TestIngestStoreFailureRejects(t *testing.T) {
	f := newFixture(t)
	f.locations.upsertErr = errors.New("connection reset")

	ack, err := f.pipeline.Ingest(context.Background(), f.report(1, 1, false))
	require.Error(t, err)
	assert.False(t, ack.Success)
}
