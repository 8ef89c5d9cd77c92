package core

import (
	"errors"
)

var (
	ErrInvalidHandle       = errors.New("invalid or stale resource handle")
	ErrResourceNotDisposed = errors.New("resource must be disposed before it is destroyed")
	ErrNoLoader            = errors.New("resource has no loader")
	ErrDeviceLost          = errors.New("device lost")
	ErrDeviceResetRequired = errors.New("device reset required")
	ErrEngineStopped       = errors.New("render engine is not running")
	ErrAlreadyStarted      = errors.New("render engine already started")
	ErrRingFull            = errors.New("draw command ring is full")
	ErrUnknown             = errors.New("unknown")
)
