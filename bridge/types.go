// Package bridge implements the double-buffered flux cache, command queue
// and worker, and emulator-facing façade that sit between a FluxDevice and
// a caller driving it bit-by-bit in real time.
package bridge

import (
	"context"
	"fmt"
)

// DiskSurface selects which side of the media a head operation targets.
type DiskSurface int

const (
	SurfaceLower DiskSurface = iota
	SurfaceUpper
)

// SeekSpeed picks a step-rate profile for Seek.
type SeekSpeed int

const (
	SeekSlow SeekSpeed = iota
	SeekNormal
	SeekFast
	SeekVeryFast
)

// StreamSample is one decoded MFM bit plus its speed relative to nominal
// (1000 = nominal bit-cell duration).
type StreamSample struct {
	Bit   bool
	Speed uint16
}

// StreamCallback receives freshly decoded samples from a ReadStream call.
// endOfRevolution is true once the batch completes a captured revolution.
// Returning false aborts the stream.
type StreamCallback func(samples []StreamSample, endOfRevolution bool) bool

// DiskStatus reports the disk-present/write-protect flags a command may
// observe as a side effect.
type DiskStatus struct {
	DiskPresent    bool
	WriteProtected bool
}

// ErrorKind classifies a DeviceError so the worker knows how to react:
// retry, surface as an init failure, or fold into a status flag.
type ErrorKind int

const (
	ErrUnknown ErrorKind = iota
	ErrPortNotFound
	ErrPortInUse
	ErrPortConfigError
	ErrAccessDenied
	ErrMalformedVersion
	ErrOldFirmware
	ErrInUpdateMode
	ErrReadResponseFailed
	ErrSendFailed
	ErrStatusError
	ErrSerialOverrun
	ErrFramingError
	ErrWriteTimeout
	ErrNoDiskInDrive
	ErrWriteProtected
	ErrTrackRangeError
	ErrRewindFailure
	ErrNotSupported
)

func (k ErrorKind) String() string {
	switch k {
	case ErrPortNotFound:
		return "port not found"
	case ErrPortInUse:
		return "port in use"
	case ErrPortConfigError:
		return "port configuration error"
	case ErrAccessDenied:
		return "access denied"
	case ErrMalformedVersion:
		return "malformed version"
	case ErrOldFirmware:
		return "firmware too old"
	case ErrInUpdateMode:
		return "device in update mode"
	case ErrReadResponseFailed:
		return "read response failed"
	case ErrSendFailed:
		return "send failed"
	case ErrStatusError:
		return "status error"
	case ErrSerialOverrun:
		return "serial overrun"
	case ErrFramingError:
		return "framing error"
	case ErrWriteTimeout:
		return "write timeout"
	case ErrNoDiskInDrive:
		return "no disk in drive"
	case ErrWriteProtected:
		return "write protected"
	case ErrTrackRangeError:
		return "track out of range"
	case ErrRewindFailure:
		return "rewind failure"
	case ErrNotSupported:
		return "not supported"
	default:
		return "unknown error"
	}
}

// DeviceError wraps an underlying error with the command that produced it
// and a classification the worker uses to decide how to react.
type DeviceError struct {
	Kind    ErrorKind
	Command string
	Err     error
}

func (e *DeviceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Command, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Command, e.Kind)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// NewDeviceError builds a DeviceError.
func NewDeviceError(kind ErrorKind, command string, err error) *DeviceError {
	return &DeviceError{Kind: kind, Command: command, Err: err}
}

// FluxDevice is the capability set shared by every supported hardware
// family. greaseweazle.BridgeDevice, supercardpro.BridgeDevice,
// arduino.Client and kryoflux.BridgeDevice all implement it.
type FluxDevice interface {
	Open(ctx context.Context) error
	Close() error
	FindTrack0(ctx context.Context) error
	Seek(ctx context.Context, cylinder int, speed SeekSpeed, skipDiskCheck bool) (DiskStatus, error)
	SelectHead(ctx context.Context, side DiskSurface) error
	SetMotor(ctx context.Context, on bool, noWait bool) error
	CheckDisk(ctx context.Context, force bool) (DiskStatus, error)
	ReadStream(ctx context.Context, maxRevolutions int, fingerprint []byte, cb StreamCallback) error
	WriteTrackPrecomp(ctx context.Context, mfmBits []byte, totalBits int, fromIndex bool, usePrecomp bool) error
	AbortStream()
	// HasDiskChangeLine selects which pair of disk-poll intervals the
	// worker uses (worker.pollDisk). Greaseweazle and SuperCard Pro report
	// true: their CheckDisk is a single one-revolution flux read. Arduino
	// (status commands) and KryoFlux (stream capture) report false. No
	// adapter reads a dedicated disk-change line.
	HasDiskChangeLine() bool
}
