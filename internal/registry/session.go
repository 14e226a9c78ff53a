package registry

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/intern-cubit/trackerApp-sub002/internal/domain"
)

// Transport is the write side of one live connection. Send must not block:
// implementations queue and report a full queue as an error so the registry
// can evict slow consumers.
type Transport interface {
	Send(data []byte) error
	Close()
}

// Session is one live transport connection plus its authenticated context.
// Owned exclusively by the Registry; it never outlives its transport.
type Session struct {
	ID     uuid.UUID
	UserID uuid.UUID
	Device *domain.Device // nil for console sessions without a device
	Class  domain.ClientClass

	transport Transport

	mu       sync.Mutex
	liveSubs map[uuid.UUID]struct{}
}

func NewSession(userID uuid.UUID, device *domain.Device, class domain.ClientClass, transport Transport) *Session {
	return &Session{
		ID:        uuid.New(),
		UserID:    userID,
		Device:    device,
		Class:     class,
		transport: transport,
		liveSubs:  make(map[uuid.UUID]struct{}),
	}
}

type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Push queues an event for delivery on this session's transport.
func (s *Session) Push(event string, payload any) error {
	data, err := json.Marshal(envelope{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	return s.transport.Send(data)
}

// SubscribeLiveLocation opts this session into a device's live-location
// stream. Opt-in is per session and dies with it.
func (s *Session) SubscribeLiveLocation(deviceID uuid.UUID) {
	s.mu.Lock()
	s.liveSubs[deviceID] = struct{}{}
	s.mu.Unlock()
}

// UnsubscribeLiveLocation removes the opt-in.
func (s *Session) UnsubscribeLiveLocation(deviceID uuid.UUID) {
	s.mu.Lock()
	delete(s.liveSubs, deviceID)
	s.mu.Unlock()
}

// SubscribedTo reports whether this session opted into the device's
// live-location stream.
func (s *Session) SubscribedTo(deviceID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.liveSubs[deviceID]
	return ok
}

func (s *Session) close() {
	s.transport.Close()
}
