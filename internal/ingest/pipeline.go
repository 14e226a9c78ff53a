// Package ingest processes inbound device location reports: latest
// projection upkeep, immutable history, and geofence alert fan-out.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/intern-cubit/trackerApp-sub002/internal/domain"
	"github.com/intern-cubit/trackerApp-sub002/internal/metrics"
)

// DeviceResolver resolves a raw device token to a canonical identity.
// Ingestion never creates device records; an unresolved token is rejected.
type DeviceResolver interface {
	Resolve(ctx context.Context, rawToken string) (*domain.Device, error)
}

// ReportLimiter bounds per-device report throughput. nil disables limiting.
type ReportLimiter interface {
	Allow(ctx context.Context, deviceID uuid.UUID) (bool, error)
}

// Report is one inbound device telemetry report.
type Report struct {
	DeviceToken     string
	ReportedAt      time.Time
	Latitude        float64
	Longitude       float64
	InputVoltage    float64
	BatteryVoltage  float64
	BoundaryCrossed bool
}

// Ack is the response returned to the reporting device.
type Ack struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Pipeline ingests reports. Per-document consistency relies on the store's
// atomic upsert; concurrent reports for the same device are serialized
// there, not here, and the most recently processed report wins the latest
// projection regardless of report timestamps.
type Pipeline struct {
	resolver      DeviceResolver
	locations     domain.LocationRepository
	notifications domain.NotificationRepository
	events        domain.EventPublisher
	limiter       ReportLimiter
	clock         clockwork.Clock
}

func NewPipeline(resolver DeviceResolver, locations domain.LocationRepository, notifications domain.NotificationRepository, events domain.EventPublisher, limiter ReportLimiter, clock clockwork.Clock) *Pipeline {
	return &Pipeline{
		resolver:      resolver,
		locations:     locations,
		notifications: notifications,
		events:        events,
		limiter:       limiter,
		clock:         clock,
	}
}

// Ingest resolves the reporting device, overwrites its latest projection,
// appends an immutable history entry, and raises a geofence alert when the
// report carries the boundary-crossed flag.
func (p *Pipeline) Ingest(ctx context.Context, report Report) (Ack, error) {
	start := p.clock.Now()
	defer func() {
		metrics.IngestDuration.Observe(p.clock.Since(start).Seconds())
	}()

	device, err := p.resolver.Resolve(ctx, report.DeviceToken)
	if err != nil {
		metrics.ReportsIngestedTotal.WithLabelValues("rejected").Inc()
		return Ack{Success: false, Message: "device not found"}, err
	}

	if p.limiter != nil {
		allowed, err := p.limiter.Allow(ctx, device.ID)
		if err != nil {
			slog.Warn("Report rate limit check failed, accepting report", "device_id", device.ID.String(), "error", err)
		} else if !allowed {
			metrics.ReportsIngestedTotal.WithLabelValues("dropped").Inc()
			return Ack{Success: true, Message: "rate limited"}, nil
		}
	}

	now := p.clock.Now()
	latest := &domain.LatestLocation{
		DeviceID:        device.ID,
		Latitude:        report.Latitude,
		Longitude:       report.Longitude,
		ReportedAt:      report.ReportedAt,
		InputVoltage:    report.InputVoltage,
		BatteryVoltage:  report.BatteryVoltage,
		BoundaryCrossed: report.BoundaryCrossed,
		UpdatedAt:       now,
	}
	if err := p.locations.UpsertLatest(ctx, latest); err != nil {
		metrics.ReportsIngestedTotal.WithLabelValues("rejected").Inc()
		return Ack{Success: false, Message: "failed to store location"}, fmt.Errorf("upsert latest location: %w", err)
	}

	entry := &domain.LocationHistoryEntry{
		ID:              uuid.New(),
		DeviceID:        device.ID,
		Latitude:        report.Latitude,
		Longitude:       report.Longitude,
		ReportedAt:      report.ReportedAt,
		InputVoltage:    report.InputVoltage,
		BatteryVoltage:  report.BatteryVoltage,
		BoundaryCrossed: report.BoundaryCrossed,
		CreatedAt:       now,
	}
	if err := p.locations.AppendHistory(ctx, entry); err != nil {
		metrics.ReportsIngestedTotal.WithLabelValues("rejected").Inc()
		return Ack{Success: false, Message: "failed to store location"}, fmt.Errorf("append history: %w", err)
	}

	metrics.ReportsIngestedTotal.WithLabelValues("accepted").Inc()

	if report.BoundaryCrossed {
		p.raiseGeofenceAlert(ctx, device, report)
	}

	if device.OwnerID != nil {
		p.events.PublishLiveLocation(*device.OwnerID, device.ID, map[string]any{
			"deviceId":   device.ID,
			"latitude":   report.Latitude,
			"longitude":  report.Longitude,
			"reportedAt": report.ReportedAt,
		})
	}

	return Ack{Success: true, Message: "location recorded"}, nil
}

// raiseGeofenceAlert persists a durable notification record unconditionally,
// then pushes a live alert to any bound session of the owning user. The
// durable record must exist even when no live session is present; push
// failure never fails the ingestion.
func (p *Pipeline) raiseGeofenceAlert(ctx context.Context, device *domain.Device, report Report) {
	metrics.GeofenceAlertsTotal.Inc()

	if device.OwnerID == nil {
		slog.Warn("Geofence alert on unclaimed device, nobody to notify", "device_id", device.ID.String())
		return
	}

	payload := map[string]any{
		"deviceId":   device.ID,
		"deviceCode": device.Code,
		"latitude":   report.Latitude,
		"longitude":  report.Longitude,
		"reportedAt": report.ReportedAt,
	}

	notification := &domain.Notification{
		ID:        uuid.New(),
		UserID:    *device.OwnerID,
		DeviceID:  device.ID,
		Kind:      domain.NotificationGeofenceAlert,
		Payload:   payload,
		CreatedAt: p.clock.Now(),
	}
	if err := p.notifications.Create(ctx, notification); err != nil {
		slog.Error("Failed to persist geofence notification", "device_id", device.ID.String(), "error", err)
	}

	p.events.Publish(*device.OwnerID, domain.EventAlert, payload)
}
