// Package notify pushes live events to sessions bound in the connection
// registry. Delivery is best-effort and at-most-once per currently-bound
// session; there is no queuing or replay for sessions connecting later.
package notify

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/intern-cubit/trackerApp-sub002/internal/domain"
	"github.com/intern-cubit/trackerApp-sub002/internal/metrics"
	"github.com/intern-cubit/trackerApp-sub002/internal/registry"
)

// Fanout implements domain.EventPublisher over the connection registry.
type Fanout struct {
	registry *registry.Registry
}

func NewFanout(reg *registry.Registry) *Fanout {
	return &Fanout{registry: reg}
}

// Publish pushes the event to every live session bound to the user. Zero
// matches is not an error; transport failures are logged and swallowed.
func (f *Fanout) Publish(userID uuid.UUID, event string, payload any) {
	for _, s := range f.registry.ForUser(userID) {
		if err := s.Push(event, payload); err != nil {
			slog.Warn("Live push failed", "event", event, "session_id", s.ID.String(), "error", err)
			metrics.EventsPublishedTotal.WithLabelValues(event, "error").Inc()
			continue
		}
		metrics.EventsPublishedTotal.WithLabelValues(event, "ok").Inc()
	}
}

// PublishLiveLocation pushes a live-location event only to the user's
// sessions that explicitly opted into the device's stream.
func (f *Fanout) PublishLiveLocation(userID, deviceID uuid.UUID, payload any) {
	for _, s := range f.registry.ForUser(userID) {
		if !s.SubscribedTo(deviceID) {
			continue
		}
		if err := s.Push(domain.EventLiveLocation, payload); err != nil {
			slog.Warn("Live location push failed", "session_id", s.ID.String(), "error", err)
			metrics.EventsPublishedTotal.WithLabelValues(domain.EventLiveLocation, "error").Inc()
			continue
		}
		metrics.EventsPublishedTotal.WithLabelValues(domain.EventLiveLocation, "ok").Inc()
	}
}
