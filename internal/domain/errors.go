package domain

import "errors"

var (
	ErrDeviceNotFound       = errors.New("device not found")
	ErrDeviceExists         = errors.New("device already registered")
	ErrInvalidActivationKey = errors.New("invalid activation key")
	ErrAlreadyClaimed       = errors.New("device already claimed by another user")
	ErrForbidden            = errors.New("issuer does not own device")
	ErrDeviceUnreachable    = errors.New("device offline")
	ErrCommandNotFound      = errors.New("command not found")
	ErrInvalidCommandType   = errors.New("unknown command type")
	ErrInvalidAckStatus     = errors.New("invalid acknowledgment status")
	ErrUserNotFound         = errors.New("user not found")

	// ErrStaleTransition is returned by command repositories when a
	// compare-and-swap status update lost against a concurrent writer.
	ErrStaleTransition = errors.New("command status changed concurrently")
)
