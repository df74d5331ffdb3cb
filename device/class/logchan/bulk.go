package logchan

import (
	"errors"

	"github.com/ardnew/usblog/device"
	"github.com/ardnew/usblog/logbuf"
	"github.com/ardnew/usblog/pkg"
)

// EPAddress is the bulk IN endpoint the push channel transmits on.
const EPAddress = 0x81

// maxStaging is the largest payload staged per packet. One byte short of
// the endpoint size so a full buffer drain never ends on a packet of
// exactly EPSize, which would require a zero-length packet to terminate
// the transfer.
const maxStaging = EPSize - 1

// Bulk is a log channel that pushes data to the host over a bulk IN
// endpoint. Tasks must be called periodically: each call stages up to
// maxStaging buffered bytes and attempts one non-blocking transmit. A
// packet that cannot be sent stays staged and is retransmitted
// unchanged on a later call, so no log data is lost to a slow host.
type Bulk struct {
	buf      *logbuf.Buffer
	stack    *device.Stack
	endpoint *device.Endpoint
	ifaceNum uint8

	staging  [EPSize]byte
	occupied int
}

// NewBulk creates a push log channel backed by buf.
func NewBulk(buf *logbuf.Buffer) *Bulk {
	return &Bulk{buf: buf}
}

// SetStack attaches the running device stack the channel transmits
// through. Must be called before Tasks.
func (b *Bulk) SetStack(stack *device.Stack) {
	b.stack = stack
}

// ConfigureDevice adds the channel's vendor interface and bulk IN
// endpoint to the builder's current configuration.
func (b *Bulk) ConfigureDevice(builder *device.DeviceBuilder) *device.DeviceBuilder {
	return builder.
		AddInterfaceNamed(device.ClassVendor, 0, 0, InterfaceName).
		AddEndpoint(EPAddress, device.EndpointTypeBulk, EPSize)
}

// AttachTo binds the channel to its interface on a built device.
func (b *Bulk) AttachTo(dev *device.Device, configValue, ifaceNum uint8) error {
	config := dev.GetConfiguration(configValue)
	if config == nil {
		return pkg.ErrInvalidParameter
	}
	iface := config.GetInterface(ifaceNum)
	if iface == nil {
		return pkg.ErrInvalidParameter
	}
	return iface.SetClassDriver(b)
}

// Init records the interface number and locates the bulk IN endpoint.
func (b *Bulk) Init(iface *device.Interface) error {
	b.ifaceNum = iface.Number
	b.endpoint = iface.GetEndpoint(EPAddress)
	if b.endpoint == nil {
		return pkg.ErrInvalidEndpoint
	}
	pkg.LogDebug(pkg.ComponentChannel, "bulk log channel initialized",
		"interface", iface.Number,
		"endpoint", EPAddress)
	return nil
}

// HandleSetup ignores all control requests; the push channel moves data
// over its endpoint only.
func (b *Bulk) HandleSetup(iface *device.Interface, setup *device.SetupPacket, data []byte) ([]byte, bool, error) {
	return nil, false, nil
}

// Tasks moves buffered log data toward the host. Call it periodically,
// for example from the application's main loop. It never blocks: a busy
// endpoint leaves the staged packet in place for the next call.
func (b *Bulk) Tasks() error {
	if b.stack == nil || b.endpoint == nil {
		return pkg.ErrNotConfigured
	}

	if b.occupied == 0 {
		for b.occupied < maxStaging {
			c, ok := b.buf.Read()
			if !ok {
				break
			}
			b.staging[b.occupied] = c
			b.occupied++
		}
	}

	if b.occupied == 0 {
		return nil
	}

	_, err := b.stack.TryWrite(b.endpoint, b.staging[:b.occupied])
	switch {
	case err == nil:
		b.occupied = 0
	case errors.Is(err, pkg.ErrBusy):
		// Host not reading; keep the packet staged
	default:
		return err
	}
	return nil
}

// Pending returns the number of bytes staged for retransmission.
func (b *Bulk) Pending() int {
	return b.occupied
}

// Close releases the channel.
func (b *Bulk) Close() error {
	return nil
}

// Compile-time interface check
var _ device.ClassDriver = (*Bulk)(nil)
