package bbusb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/gousb"
)

// BitBabbler devices carry the FTDI vendor ID with a product ID from the
// reserved BitBabbler range.
const (
	VendorID  = 0x0403
	ProductID = 0x7840
)

// MPSSE opcodes. These must match the chip exactly.
const (
	mpsseNoClkDiv5     = 0x8A
	mpsseNoAdaptiveClk = 0x97
	mpsseNo3PhaseClk   = 0x8D
	mpsseSetDataLow    = 0x80
	mpsseSetDataHigh   = 0x82
	mpsseNoLoopback    = 0x85
	mpsseSetClkDivisor = 0x86
	mpsseSendImmediate = 0x87

	// clock bytes in, MSB first, sample on +ve edge
	mpsseDataByteInPosMSB = 0x20
)

// FTDI SIO requests (vendor-specific control transfers)
const (
	ftdiReqReset        = 0x00
	ftdiReqSetFlowCtrl  = 0x02
	ftdiReqGetModemStat = 0x05
	ftdiReqSetEventChar = 0x06
	ftdiReqSetErrorChar = 0x07
	ftdiReqSetLatency   = 0x09
	ftdiReqSetBitmode   = 0x0B
)

const (
	ftdiResetSIO   = 0
	ftdiFlowRtsCts = 0x0100

	ftdiBitmodeReset = 0x0000
	ftdiBitmodeMpsse = 0x0200

	// FTDI interface A
	ftdiInterfaceIndex = 1
)

// DefaultTimeout bounds every bulk transfer on a session unless overridden
// with SetTimeout.
const DefaultTimeout = 5 * time.Second

// Transport is the raw device session the protocol driver runs on. The
// production implementation is *FTDI; tests substitute an in-memory fake.
type Transport interface {
	// SyncMPSSE resets the bridge and synchronizes its MPSSE state machine.
	SyncMPSSE(ctx context.Context, latencyMs uint8) error
	// Write sends a command block over the bulk OUT endpoint.
	Write(ctx context.Context, data []byte) error
	// ReadData reads exactly n payload bytes, with FTDI status headers
	// already stripped.
	ReadData(ctx context.Context, n int) ([]byte, error)
	// Flush performs one best-effort read to discard stale buffered bytes.
	Flush(ctx context.Context) error
	// MaxPacketSize reports the bulk IN endpoint packet size.
	MaxPacketSize() int
	Close() error
}

// FTDI is an open bulk session to an MPSSE-capable FTDI bridge via gousb.
// It owns the libusb context, device, claimed interface and both bulk
// endpoints, and releases them all in Close.
type FTDI struct {
	ctx   *gousb.Context
	dev   *gousb.Device
	cfg   *gousb.Config
	intf  *gousb.Interface
	inEp  *gousb.InEndpoint
	outEp *gousb.OutEndpoint

	maxPacket int
	timeout   time.Duration

	// payload carried over from a previous bulk read after status stripping
	rbuf []byte
}

var _ Transport = (*FTDI)(nil)

// Find opens the first device matching vid:pid, claiming interface 0 and its
// bulk endpoint pair. A non-empty serial restricts the match to that serial
// number. Returns ErrDeviceNotFound when nothing matches.
func Find(vid, pid uint16, serial string) (*FTDI, error) {
	ctx := gousb.NewContext()

	dev, err := openMatching(ctx, func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == gousb.ID(vid) && desc.Product == gousb.ID(pid)
	}, serial, false)
	if err != nil {
		ctx.Close()
		return nil, err
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("%w: %04x:%04x", ErrDeviceNotFound, vid, pid)
	}
	return claim(ctx, dev)
}

// FindAny scans descriptor strings for any device identifying itself as a
// BitBabbler, regardless of product ID. Used as a fallback when the canonical
// VID:PID is absent.
func FindAny(serial string) (*FTDI, error) {
	ctx := gousb.NewContext()

	dev, err := openMatching(ctx, func(desc *gousb.DeviceDesc) bool {
		return true
	}, serial, true)
	if err != nil {
		ctx.Close()
		return nil, err
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("%w: no device with BitBabbler descriptor strings", ErrDeviceNotFound)
	}
	return claim(ctx, dev)
}

// openMatching opens all devices passing the descriptor filter and keeps the
// first acceptable one. With checkStrings set, acceptance additionally
// requires "bitbabbler" in the manufacturer or product string (the canonical
// VID:PID pair always passes).
func openMatching(ctx *gousb.Context, filter func(*gousb.DeviceDesc) bool, serial string, checkStrings bool) (*gousb.Device, error) {
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return filter(desc)
	})
	// Access errors on unrelated devices are expected when scanning broadly.
	if err != nil && !errors.Is(err, gousb.ErrorAccess) && len(devs) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	var picked *gousb.Device
	for _, dev := range devs {
		if picked != nil {
			dev.Close()
			continue
		}
		if checkStrings && !descriptorAcceptable(dev) {
			dev.Close()
			continue
		}
		if serial != "" {
			sn, serr := dev.SerialNumber()
			if serr != nil || sn != serial {
				dev.Close()
				continue
			}
		}
		picked = dev
	}
	return picked, nil
}

// descriptorAcceptable filters string descriptors for catch-all scans. The
// canonical VID:PID pair is always acceptable.
func descriptorAcceptable(dev *gousb.Device) bool {
	if dev.Desc.Vendor == gousb.ID(VendorID) && dev.Desc.Product == gousb.ID(ProductID) {
		return true
	}
	manufacturer, _ := dev.Manufacturer()
	product, _ := dev.Product()
	text := strings.ToLower(manufacturer + " " + product)
	return strings.Contains(text, "bitbabbler")
}

// claim configures the device and claims interface 0 with its bulk endpoint
// pair, releasing everything acquired so far on any failure.
func claim(ctx *gousb.Context, dev *gousb.Device) (*FTDI, error) {
	_ = dev.SetAutoDetach(true)

	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("%w: selecting configuration: %v", ErrTransport, err)
	}
	intf, err := cfg.Interface(0, 0)
	if err != nil {
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("%w: claiming interface: %v", ErrTransport, err)
	}

	var inEp *gousb.InEndpoint
	var outEp *gousb.OutEndpoint
	for _, ep := range intf.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		switch ep.Direction {
		case gousb.EndpointDirectionIn:
			inEp, err = intf.InEndpoint(ep.Number)
		case gousb.EndpointDirectionOut:
			outEp, err = intf.OutEndpoint(ep.Number)
		}
		if err != nil {
			intf.Close()
			cfg.Close()
			dev.Close()
			ctx.Close()
			return nil, fmt.Errorf("%w: opening endpoint: %v", ErrTransport, err)
		}
	}
	if inEp == nil || outEp == nil {
		intf.Close()
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("%w: bulk endpoint pair not found", ErrTransport)
	}

	return &FTDI{
		ctx:       ctx,
		dev:       dev,
		cfg:       cfg,
		intf:      intf,
		inEp:      inEp,
		outEp:     outEp,
		maxPacket: inEp.Desc.MaxPacketSize,
		timeout:   DefaultTimeout,
	}, nil
}

// SetTimeout replaces the per-transfer timeout. Must be called before any
// transfer is in flight.
func (f *FTDI) SetTimeout(d time.Duration) {
	if d > 0 {
		f.timeout = d
	}
}

// MaxPacketSize reports the bulk IN endpoint packet size.
func (f *FTDI) MaxPacketSize() int { return f.maxPacket }

// Close releases the interface, configuration, device and libusb context.
func (f *FTDI) Close() error {
	if f == nil {
		return nil
	}
	if f.intf != nil {
		f.intf.Close()
		f.intf = nil
	}
	if f.cfg != nil {
		f.cfg.Close()
		f.cfg = nil
	}
	if f.dev != nil {
		f.dev.Close()
		f.dev = nil
	}
	if f.ctx != nil {
		f.ctx.Close()
		f.ctx = nil
	}
	return nil
}

// SyncMPSSE runs the bridge reset and MPSSE handshake: SIO reset, purge,
// special chars off, latency timer, RTS/CTS flow control, bitmode reset then
// MPSSE, and finally the 0xAA/0xAB bad-command probe. One full reattempt is
// made before giving up.
func (f *FTDI) SyncMPSSE(ctx context.Context, latencyMs uint8) error {
	for attempt := 0; attempt < 2; attempt++ {
		if err := f.reset(); err != nil {
			return err
		}
		_ = f.Flush(ctx)
		if err := f.setSpecialChars(0, false, 0, false); err != nil {
			return err
		}
		if err := f.setLatency(latencyMs); err != nil {
			return err
		}
		if err := f.setFlowControl(ftdiFlowRtsCts); err != nil {
			return err
		}
		if err := f.setBitmode(ftdiBitmodeReset, 0); err != nil {
			return err
		}
		if err := f.setBitmode(ftdiBitmodeMpsse, 0); err != nil {
			return err
		}
		time.Sleep(50 * time.Millisecond)
		_, _ = f.modemStatus()

		if f.checkSync(ctx, 0xAA) && f.checkSync(ctx, 0xAB) {
			return nil
		}
	}
	return fmt.Errorf("%w: bad-command probe got no 0xFA echo", ErrInitFailed)
}

// checkSync writes a deliberately invalid opcode and polls for the chip's
// 0xFA error echo followed by that opcode.
func (f *FTDI) checkSync(ctx context.Context, cmd byte) bool {
	if err := f.Write(ctx, []byte{cmd, mpsseSendImmediate}); err != nil {
		return false
	}
	for i := 0; i < 10; i++ {
		raw, err := f.rawRead(ctx, 512)
		if err != nil {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		for j := 0; j+1 < len(raw); j++ {
			if raw[j] == 0xFA && raw[j+1] == cmd {
				return true
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

// Write sends data over the bulk OUT endpoint within the session timeout.
func (f *FTDI) Write(ctx context.Context, data []byte) error {
	tctx, cancel := f.ioContext(ctx)
	defer cancel()
	_, err := f.outEp.WriteContext(tctx, data)
	return f.wrapTransfer(err)
}

// ReadData reads exactly n payload bytes from the bulk IN endpoint. The FTDI
// chip prepends two status bytes to every packet; those are stripped, and any
// payload overrun is buffered for the next call.
func (f *FTDI) ReadData(ctx context.Context, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	if len(f.rbuf) > 0 {
		take := min(n, len(f.rbuf))
		out = append(out, f.rbuf[:take]...)
		f.rbuf = f.rbuf[take:]
	}
	for len(out) < n {
		raw, err := f.rawRead(ctx, max(f.maxPacket, n-len(out)))
		if err != nil {
			return nil, err
		}
		payload := f.stripStatus(raw)
		if len(payload) == 0 {
			// latency timer expired with nothing buffered yet
			time.Sleep(time.Millisecond)
			continue
		}
		need := n - len(out)
		if len(payload) > need {
			f.rbuf = append(f.rbuf, payload[need:]...)
			payload = payload[:need]
		}
		out = append(out, payload...)
	}
	return out, nil
}

// Flush drains whatever the chip has buffered with a single raw read. Errors
// are reported but normally ignored by the caller.
func (f *FTDI) Flush(ctx context.Context) error {
	_, err := f.rawRead(ctx, f.maxPacket)
	return err
}

// rawRead performs one bulk IN transfer of up to size bytes, rounded up to a
// whole number of packets so the device cannot overflow the request.
func (f *FTDI) rawRead(ctx context.Context, size int) ([]byte, error) {
	if rem := size % f.maxPacket; rem != 0 {
		size += f.maxPacket - rem
	}
	buf := make([]byte, size)
	tctx, cancel := f.ioContext(ctx)
	defer cancel()
	n, err := f.inEp.ReadContext(tctx, buf)
	if err != nil {
		return nil, f.wrapTransfer(err)
	}
	return buf[:n], nil
}

// stripStatus removes the 2-byte modem/line status header from each
// packet-sized chunk of a raw bulk read.
func (f *FTDI) stripStatus(raw []byte) []byte {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i += f.maxPacket {
		end := min(i+f.maxPacket, len(raw))
		chunk := raw[i:end]
		if len(chunk) <= 2 {
			break
		}
		out = append(out, chunk[2:]...)
	}
	return out
}

func (f *FTDI) ioContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, f.timeout)
}

func (f *FTDI) wrapTransfer(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gousb.TransferTimedOut) ||
		errors.Is(err, gousb.ErrorTimeout) ||
		errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

// FTDI control helpers. All SIO requests address interface A.

func (f *FTDI) control(req uint8, value, index uint16) error {
	typ := uint8(gousb.ControlOut) | uint8(gousb.ControlVendor) | uint8(gousb.ControlDevice)
	_, err := f.dev.Control(typ, req, value, index, nil)
	return f.wrapTransfer(err)
}

func (f *FTDI) controlIn(req uint8, value, index uint16, data []byte) error {
	typ := uint8(gousb.ControlIn) | uint8(gousb.ControlVendor) | uint8(gousb.ControlDevice)
	_, err := f.dev.Control(typ, req, value, index, data)
	return f.wrapTransfer(err)
}

func (f *FTDI) reset() error {
	return f.control(ftdiReqReset, ftdiResetSIO, ftdiInterfaceIndex)
}

func (f *FTDI) setBitmode(mode uint16, mask uint8) error {
	return f.control(ftdiReqSetBitmode, mode|uint16(mask), ftdiInterfaceIndex)
}

func (f *FTDI) setLatency(ms uint8) error {
	if ms < 1 {
		return fmt.Errorf("%w: latency timer must be 1..255", ErrInvalidParameter)
	}
	return f.control(ftdiReqSetLatency, uint16(ms), ftdiInterfaceIndex)
}

func (f *FTDI) setFlowControl(mode uint16) error {
	return f.control(ftdiReqSetFlowCtrl, 0, mode|ftdiInterfaceIndex)
}

func (f *FTDI) setSpecialChars(event byte, evtEnable bool, errc byte, errEnable bool) error {
	v := uint16(event)
	if evtEnable {
		v |= 0x0100
	}
	if err := f.control(ftdiReqSetEventChar, v, ftdiInterfaceIndex); err != nil {
		return err
	}
	v = uint16(errc)
	if errEnable {
		v |= 0x0100
	}
	return f.control(ftdiReqSetErrorChar, v, ftdiInterfaceIndex)
}

func (f *FTDI) modemStatus() (uint16, error) {
	buf := make([]byte, 2)
	if err := f.controlIn(ftdiReqGetModemStat, 0, ftdiInterfaceIndex, buf); err != nil {
		return 0, err
	}
	return uint16(buf[0])<<8 | uint16(buf[1]), nil
}
