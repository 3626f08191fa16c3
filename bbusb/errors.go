package bbusb

import "errors"

// Sentinel errors for the driver and transport. Callers inspect them with
// errors.Is; every failure surfaced by this package wraps exactly one of
// these.
var (
	// ErrDeviceNotFound means discovery matched no connected device.
	ErrDeviceNotFound = errors.New("bbusb: device not found")
	// ErrInitFailed means the MPSSE synchronization handshake failed.
	ErrInitFailed = errors.New("bbusb: MPSSE initialization failed")
	// ErrInvalidParameter covers out-of-range byte counts and fold counts.
	ErrInvalidParameter = errors.New("bbusb: invalid parameter")
	// ErrInvalidState means an operation was issued out of order, e.g. a
	// read before Init or after Close.
	ErrInvalidState = errors.New("bbusb: invalid device state")
	// ErrTimeout means a bulk transfer did not complete within the session
	// timeout.
	ErrTimeout = errors.New("bbusb: transfer timed out")
	// ErrTransport covers USB-level failures such as device removal.
	ErrTransport = errors.New("bbusb: transport error")
)
