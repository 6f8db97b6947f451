package core

import (
	"errors"
)

var (
	// ErrInvalidHandle is returned when a handle is stale or out of range.
	ErrInvalidHandle = errors.New("invalid handle")
	// ErrDeviceStale is returned when the swapchain no longer matches the surface.
	// It is recovered by recreating the swapchain.
	ErrDeviceStale = errors.New("swapchain out of date")
	// ErrBuildFailure is returned when an acceleration structure or one of its
	// buffers could not be created or built.
	ErrBuildFailure = errors.New("acceleration structure build failed")
	// ErrDeviceLost is unrecoverable; the frame loop terminates.
	ErrDeviceLost = errors.New("device lost")
	// ErrOutOfMemory is unrecoverable; the frame loop terminates.
	ErrOutOfMemory = errors.New("out of device memory")
	ErrUnknown     = errors.New("unknown")
)

// IsFatal reports whether err belongs to the unrecoverable class that has to
// reach the top-level frame loop.
func IsFatal(err error) bool {
	return errors.Is(err, ErrDeviceLost) || errors.Is(err, ErrOutOfMemory)
}
