// Package identity maps raw device-facing tokens to canonical device
// identities and handles registration and claiming.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/intern-cubit/trackerApp-sub002/internal/domain"
)

// unclaimedMarker salts activation keys for devices that have no owner yet,
// so repeated self-registration attempts derive the same key.
const unclaimedMarker = "unclaimed"

// StripSeparators removes the separator characters devices and operators
// commonly embed in codes ("0000-6165-7633" -> "000061657633").
func StripSeparators(token string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '-', ' ', ':', '.':
			return -1
		}
		return r
	}, token)
}

// ActivationKey derives the activation key for a device code. One-way, so
// the key can be recomputed to check idempotent re-registration.
func ActivationKey(code string) string {
	sum := sha256.Sum256([]byte(code + ":" + unclaimedMarker))
	return hex.EncodeToString(sum[:])
}

// RegisterRequest is the validated input for device self-registration.
type RegisterRequest struct {
	Code     string
	Class    domain.DeviceClass
	Metadata map[string]string
}

// ClaimRequest is the validated input for binding a device to a user.
type ClaimRequest struct {
	DeviceID      uuid.UUID
	UserID        uuid.UUID
	ActivationKey string
}

// Resolver resolves raw device tokens against the device store with a fixed,
// ordered priority list. Lookups are side-effect free; concurrent identical
// resolutions collapse into a single store query.
type Resolver struct {
	devices  domain.DeviceRepository
	clock    clockwork.Clock
	validity time.Duration
	group    singleflight.Group
}

func NewResolver(devices domain.DeviceRepository, clock clockwork.Clock, activationValidity time.Duration) *Resolver {
	return &Resolver{
		devices:  devices,
		clock:    clock,
		validity: activationValidity,
	}
}

// Resolve tries, in strict priority order: (1) canonical id with separators
// stripped, (2) stored alias exact match, (3) the raw token as-is. The first
// hit wins; no further scanning.
func (r *Resolver) Resolve(ctx context.Context, rawToken string) (*domain.Device, error) {
	v, err, _ := r.group.Do(rawToken, func() (any, error) {
		return r.resolve(ctx, rawToken)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Device), nil
}

func (r *Resolver) resolve(ctx context.Context, rawToken string) (*domain.Device, error) {
	stripped := StripSeparators(rawToken)

	device, err := r.devices.GetByCode(ctx, stripped)
	if err == nil {
		return device, nil
	}
	if !errors.Is(err, domain.ErrDeviceNotFound) {
		return nil, fmt.Errorf("resolve by stripped code: %w", err)
	}

	device, err = r.devices.GetByAlias(ctx, rawToken)
	if err == nil {
		return device, nil
	}
	if !errors.Is(err, domain.ErrDeviceNotFound) {
		return nil, fmt.Errorf("resolve by alias: %w", err)
	}

	if rawToken != stripped {
		device, err = r.devices.GetByCode(ctx, rawToken)
		if err == nil {
			return device, nil
		}
		if !errors.Is(err, domain.ErrDeviceNotFound) {
			return nil, fmt.Errorf("resolve by raw token: %w", err)
		}
	}

	return nil, domain.ErrDeviceNotFound
}

// Device fetches a device by its record id.
func (r *Resolver) Device(ctx context.Context, id uuid.UUID) (*domain.Device, error) {
	return r.devices.GetByID(ctx, id)
}

// Register creates an unclaimed device record. Fails with ErrDeviceExists
// when the canonical id is taken. The activation key is derived from the
// code, so a repeated self-registration attempt produces the same key.
func (r *Resolver) Register(ctx context.Context, req RegisterRequest) (*domain.Device, error) {
	code := StripSeparators(req.Code)
	if code == "" {
		return nil, fmt.Errorf("%w: empty device code", domain.ErrDeviceNotFound)
	}

	now := r.clock.Now()
	device := &domain.Device{
		ID:            uuid.New(),
		Code:          code,
		Aliases:       []string{req.Code},
		Class:         req.Class,
		ActivationKey: ActivationKey(code),
		Metadata:      req.Metadata,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := r.devices.Create(ctx, device); err != nil {
		return nil, err
	}
	return device, nil
}

// Claim binds a device to a user. Succeeds only while the device is
// unclaimed and the activation key matches. Re-claim by the already-bound
// user is a no-op success; a different user gets ErrAlreadyClaimed.
func (r *Resolver) Claim(ctx context.Context, req ClaimRequest) (*domain.Device, error) {
	device, err := r.devices.GetByID(ctx, req.DeviceID)
	if err != nil {
		return nil, err
	}

	if device.OwnedBy(req.UserID) {
		return device, nil
	}
	if device.OwnerID != nil {
		return nil, domain.ErrAlreadyClaimed
	}
	if device.ActivationKey != req.ActivationKey {
		return nil, domain.ErrInvalidActivationKey
	}

	expiresAt := r.clock.Now().Add(r.validity)
	if err := r.devices.Claim(ctx, device.ID, req.UserID, expiresAt); err != nil {
		return nil, err
	}

	device.OwnerID = &req.UserID
	device.Active = true
	device.ExpiresAt = &expiresAt
	return device, nil
}

// Unassign detaches a device from its owner and deactivates it, returning it
// to the claimable pool. Called by the administrative surface.
func (r *Resolver) Unassign(ctx context.Context, deviceID uuid.UUID) error {
	if _, err := r.devices.GetByID(ctx, deviceID); err != nil {
		return err
	}
	return r.devices.Unassign(ctx, deviceID)
}
