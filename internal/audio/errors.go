package audio

import "errors"

var (
	ErrAlreadyOpen   = errors.New("engine is already open")
	ErrInvalidConfig = errors.New("invalid stream configuration")
	ErrNotOpen       = errors.New("engine is not open")
	ErrEventCreate   = errors.New("readiness event creation failed")
	ErrDeviceOpen    = errors.New("device open failed")
	ErrWorkerCreate  = errors.New("rotation worker creation failed")
	ErrDevicePrepare = errors.New("device buffer prepare failed")
	ErrDeviceWrite   = errors.New("device buffer write failed")
	ErrDeviceClose   = errors.New("device close failed")
	ErrHandleClose   = errors.New("device handle close failed")
	ErrThreadAbort   = errors.New("rotation worker was abandoned at shutdown")
)

// Code identifies the last failing operation of an engine instance.
// It is overwritten on each failure and read via LastError.
type Code uint32

const (
	CodeOK Code = iota
	CodeAlreadyOpen
	CodeInvalidConfig
	CodeEventCreate
	CodeDeviceOpen
	CodeWorkerCreate
	CodeDevicePrepare
	CodeDeviceWrite
	CodeDeviceClose
	CodeHandleClose
	// CodeThreadAbort flags that shutdown escalated to abandoning the
	// rotation worker. This is a degraded outcome: the sink may be left
	// holding half-prepared buffers and the caller should treat it as
	// fatal for the session.
	CodeThreadAbort
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeAlreadyOpen:
		return "already_open"
	case CodeInvalidConfig:
		return "invalid_config"
	case CodeEventCreate:
		return "event_create_failed"
	case CodeDeviceOpen:
		return "device_open_failed"
	case CodeWorkerCreate:
		return "worker_create_failed"
	case CodeDevicePrepare:
		return "device_prepare_failed"
	case CodeDeviceWrite:
		return "device_write_failed"
	case CodeDeviceClose:
		return "device_close_failed"
	case CodeHandleClose:
		return "handle_close_failed"
	case CodeThreadAbort:
		return "worker_abort_forced"
	default:
		return "unknown"
	}
}

// Err returns the sentinel error matching a code, or nil for CodeOK.
func (c Code) Err() error {
	switch c {
	case CodeOK:
		return nil
	case CodeAlreadyOpen:
		return ErrAlreadyOpen
	case CodeInvalidConfig:
		return ErrInvalidConfig
	case CodeEventCreate:
		return ErrEventCreate
	case CodeDeviceOpen:
		return ErrDeviceOpen
	case CodeWorkerCreate:
		return ErrWorkerCreate
	case CodeDevicePrepare:
		return ErrDevicePrepare
	case CodeDeviceWrite:
		return ErrDeviceWrite
	case CodeDeviceClose:
		return ErrDeviceClose
	case CodeHandleClose:
		return ErrHandleClose
	case CodeThreadAbort:
		return ErrThreadAbort
	default:
		return errors.New("unknown error code")
	}
}
