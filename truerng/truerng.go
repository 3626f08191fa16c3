// Package truerng reads random bytes from a TrueRNG USB device, which
// presents itself as a serial port. It is a supplementary entropy source for
// the collection and validation tools; the BitBabbler driver lives in bbusb.
package truerng

import (
	"errors"
	"fmt"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// DeviceNamePrefix identifies a TrueRNG port by its descriptor strings.
const DeviceNamePrefix = "TrueRNG"

// readDeadline bounds a full ReadBytes call.
const readDeadline = 10 * time.Second

// Detect reports whether a TrueRNG serial device is present.
func Detect() (bool, error) {
	port, err := findPort()
	if err != nil {
		return false, err
	}
	return port != "", nil
}

// FindPort returns the port path of the first detected TrueRNG, e.g.
// "/dev/ttyACM0" or "COM5".
func FindPort() (string, error) {
	port, err := findPort()
	if err != nil {
		return "", err
	}
	if port == "" {
		return "", errors.New("truerng: device not found")
	}
	return port, nil
}

func findPort() (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", fmt.Errorf("enumerating ports: %w", err)
	}
	for _, p := range ports {
		if p != nil && isTrueRNG(p) {
			return p.Name, nil
		}
	}
	return "", nil
}

// ReadBytes opens the TrueRNG port, raises DTR, discards whatever is
// buffered, and reads exactly n bytes. The port is released before return on
// every path.
func ReadBytes(n int) ([]byte, error) {
	if n <= 0 {
		return nil, errors.New("truerng: byte count must be positive")
	}
	portName, err := FindPort()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: 3000000, // the OS clamps if the model tops out lower
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", portName, err)
	}
	defer func() { _ = port.Close() }()

	_ = port.SetDTR(true)
	_ = port.SetReadTimeout(time.Second)
	_ = port.ResetInputBuffer()

	buf := make([]byte, n)
	total := 0
	deadline := time.Now().Add(readDeadline)
	for total < n {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("truerng: read timeout after %s: got %d/%d bytes", readDeadline, total, n)
		}
		m, err := port.Read(buf[total:])
		if err != nil {
			return nil, fmt.Errorf("truerng: read: %w", err)
		}
		total += m
		if m == 0 {
			time.Sleep(5 * time.Millisecond)
		}
	}
	return buf, nil
}

// ReadBits reads bitCount bits packed MSB-first per byte; unused trailing
// bits of the final byte are zeroed.
func ReadBits(bitCount int) ([]byte, error) {
	if bitCount <= 0 {
		return nil, errors.New("truerng: bit count must be positive")
	}
	data, err := ReadBytes((bitCount + 7) / 8)
	if err != nil {
		return nil, err
	}
	if extra := (8 - bitCount%8) % 8; extra != 0 {
		data[len(data)-1] &= 0xFF << extra
	}
	return data, nil
}

func isTrueRNG(p *enumerator.PortDetails) bool {
	if p.IsUSB && hasPrefix(p.Product) {
		return true
	}
	if p.IsUSB && hasPrefix(p.SerialNumber) {
		return true
	}
	if hasPrefix(p.Name) {
		return true
	}
	// known TrueRNG VID:PID pairs
	return p.VID == "16D0" && (p.PID == "0AA0" || p.PID == "0AA2" || p.PID == "0AA4")
}

func hasPrefix(s string) bool {
	return len(s) >= len(DeviceNamePrefix) && s[:len(DeviceNamePrefix)] == DeviceNamePrefix
}
