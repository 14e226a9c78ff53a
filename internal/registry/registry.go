// Package registry maintains the live-connection map of this service
// instance: identity, alias, and user lookups onto active sessions.
//
// The registry is process-local. A device connected to another instance is
// invisible here; cross-instance visibility is an accepted limitation, not
// remediated by this package.
package registry

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/intern-cubit/trackerApp-sub002/internal/metrics"
)

// ErrStopped is returned by Bind after the registry has shut down.
var ErrStopped = errors.New("connection registry stopped")

// --- Command types ---

type registryCmd interface{ registryCmd() }

type cmdBind struct {
	session *Session
	errCh   chan error
}

func (cmdBind) registryCmd() {}

type cmdUnbind struct {
	session *Session
	doneCh  chan struct{}
}

func (cmdUnbind) registryCmd() {}

type cmdLookup struct {
	key     string
	replyCh chan *Session
}

func (cmdLookup) registryCmd() {}

type cmdForUser struct {
	userID  uuid.UUID
	replyCh chan []*Session
}

func (cmdForUser) registryCmd() {}

type cmdLen struct {
	replyCh chan int
}

func (cmdLen) registryCmd() {}

type cmdStop struct{}

func (cmdStop) registryCmd() {}

// --- Registry ---

// Registry correlates device identifiers and user identities with active
// sessions. All map access happens on a single actor goroutine; bind, unbind
// and lookup are short non-suspending steps and never hold state across I/O.
type Registry struct {
	cmdCh    chan registryCmd
	closed   chan struct{} // closed by the actor when it exits
	byUser   map[uuid.UUID]map[*Session]struct{}
	byDevice map[string]*Session

	onDeviceOnline  func(deviceID uuid.UUID)
	onDeviceOffline func(deviceID uuid.UUID)
}

// New creates a registry. onDeviceOnline/onDeviceOffline fire when a
// device-bound session binds or unbinds; both are invoked fire-and-forget on
// their own goroutine so store latency never blocks the actor.
func New(onDeviceOnline, onDeviceOffline func(deviceID uuid.UUID)) *Registry {
	r := &Registry{
		cmdCh:           make(chan registryCmd, 256),
		closed:          make(chan struct{}),
		byUser:          make(map[uuid.UUID]map[*Session]struct{}),
		byDevice:        make(map[string]*Session),
		onDeviceOnline:  onDeviceOnline,
		onDeviceOffline: onDeviceOffline,
	}
	go r.run()
	return r
}

func (r *Registry) run() {
	for cmd := range r.cmdCh {
		switch c := cmd.(type) {
		case cmdBind:
			r.handleBind(c)
		case cmdUnbind:
			r.handleUnbind(c.session)
			close(c.doneCh)
		case cmdLookup:
			c.replyCh <- r.byDevice[c.key]
		case cmdForUser:
			sessions := make([]*Session, 0, len(r.byUser[c.userID]))
			for s := range r.byUser[c.userID] {
				sessions = append(sessions, s)
			}
			c.replyCh <- sessions
		case cmdLen:
			c.replyCh <- r.sessionCount()
		case cmdStop:
			r.handleStop()
			close(r.closed)
			return
		}
	}
}

func (r *Registry) handleBind(c cmdBind) {
	s := c.session

	users, ok := r.byUser[s.UserID]
	if !ok {
		users = make(map[*Session]struct{})
		r.byUser[s.UserID] = users
	}
	users[s] = struct{}{}

	// Device sessions are reachable by canonical id, code, and every alias.
	// A rebind takes the keys over from any earlier session (last writer
	// wins); the earlier session keeps only its user binding.
	if s.Device != nil {
		for _, key := range deviceKeys(s) {
			r.byDevice[key] = s
		}
		if r.onDeviceOnline != nil {
			deviceID := s.Device.ID
			go r.onDeviceOnline(deviceID)
		}
	}

	metrics.RegistrySessions.Set(float64(r.sessionCount()))
	slog.Debug("Session bound", "session_id", s.ID.String(), "user_id", s.UserID.String(), "class", string(s.Class))
	c.errCh <- nil
}

func (r *Registry) handleUnbind(s *Session) {
	users, ok := r.byUser[s.UserID]
	if ok {
		delete(users, s)
		if len(users) == 0 {
			delete(r.byUser, s.UserID)
		}
	}

	// Remove only entries still pointing at this session. A later session
	// may have taken an alias over; those entries stay.
	wasDeviceHolder := false
	if s.Device != nil {
		for _, key := range deviceKeys(s) {
			if r.byDevice[key] == s {
				delete(r.byDevice, key)
				wasDeviceHolder = true
			}
		}
	}

	s.close()

	if wasDeviceHolder && r.onDeviceOffline != nil {
		deviceID := s.Device.ID
		go r.onDeviceOffline(deviceID)
	}

	metrics.RegistrySessions.Set(float64(r.sessionCount()))
	slog.Debug("Session unbound", "session_id", s.ID.String(), "user_id", s.UserID.String())
}

func (r *Registry) handleStop() {
	for _, users := range r.byUser {
		for s := range users {
			s.close()
		}
	}
	r.byUser = make(map[uuid.UUID]map[*Session]struct{})
	r.byDevice = make(map[string]*Session)
	metrics.RegistrySessions.Set(0)
}

func (r *Registry) sessionCount() int {
	n := 0
	for _, users := range r.byUser {
		n += len(users)
	}
	return n
}

func deviceKeys(s *Session) []string {
	keys := make([]string, 0, 2+len(s.Device.Aliases))
	keys = append(keys, s.Device.ID.String(), s.Device.Code)
	keys = append(keys, s.Device.Aliases...)
	return keys
}

// --- Public API ---

// Bind registers the session under its user identity and, when a device is
// bound, under the device's canonical id and every known alias. Idempotent
// per session. Returns ErrStopped after Stop.
func (r *Registry) Bind(s *Session) error {
	errCh := make(chan error, 1)
	select {
	case r.cmdCh <- cmdBind{session: s, errCh: errCh}:
	case <-r.closed:
		return ErrStopped
	}
	select {
	case err := <-errCh:
		return err
	case <-r.closed:
		return ErrStopped
	}
}

// Unbind removes the session and closes its transport. Blocks until the
// actor has processed the removal or the registry has stopped; Stop already
// closed every session, so a late Unbind has nothing left to do.
func (r *Registry) Unbind(s *Session) {
	doneCh := make(chan struct{})
	select {
	case r.cmdCh <- cmdUnbind{session: s, doneCh: doneCh}:
	case <-r.closed:
		return
	}
	select {
	case <-doneCh:
	case <-r.closed:
	}
}

// Lookup resolves a device identifier (internal id, canonical code, or
// alias) to the session currently holding it.
func (r *Registry) Lookup(identityOrAlias string) (*Session, bool) {
	replyCh := make(chan *Session, 1)
	select {
	case r.cmdCh <- cmdLookup{key: identityOrAlias, replyCh: replyCh}:
	case <-r.closed:
		return nil, false
	}
	select {
	case s := <-replyCh:
		return s, s != nil
	case <-r.closed:
		return nil, false
	}
}

// ForUser returns every live session bound to the user.
func (r *Registry) ForUser(userID uuid.UUID) []*Session {
	replyCh := make(chan []*Session, 1)
	select {
	case r.cmdCh <- cmdForUser{userID: userID, replyCh: replyCh}:
	case <-r.closed:
		return nil
	}
	select {
	case sessions := <-replyCh:
		return sessions
	case <-r.closed:
		return nil
	}
}

// Len returns the number of bound sessions.
func (r *Registry) Len() int {
	replyCh := make(chan int, 1)
	select {
	case r.cmdCh <- cmdLen{replyCh: replyCh}:
	case <-r.closed:
		return 0
	}
	select {
	case n := <-replyCh:
		return n
	case <-r.closed:
		return 0
	}
}

// Stop closes every session and shuts the actor down. Safe to call once;
// later calls are no-ops.
func (r *Registry) Stop() {
	select {
	case r.cmdCh <- cmdStop{}:
	case <-r.closed:
	}
}
