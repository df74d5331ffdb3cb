package logchan

import (
	"github.com/ardnew/usblog/device"
	"github.com/ardnew/usblog/logbuf"
	"github.com/ardnew/usblog/pkg"
)

// maxPullResponse bounds the data stage of a single log read request.
const maxPullResponse = 512

// Pull is a log channel driven entirely by the host. It claims a vendor
// interface with no endpoints; the host polls for log data with vendor
// control-IN requests and the device answers with whatever the buffer
// holds, up to the requested length. An empty buffer yields a valid
// zero-length response, not a stall.
type Pull struct {
	buf      *logbuf.Buffer
	ifaceNum uint8

	// Response scratch; the returned slice from HandleSetup references it
	respBuf [maxPullResponse]byte
}

// NewPull creates a pull log channel backed by buf.
func NewPull(buf *logbuf.Buffer) *Pull {
	return &Pull{buf: buf}
}

// ConfigureDevice adds the channel's vendor interface to the builder's
// current configuration.
func (p *Pull) ConfigureDevice(b *device.DeviceBuilder) *device.DeviceBuilder {
	return b.AddInterfaceNamed(device.ClassVendor, 0, 0, InterfaceName)
}

// AttachTo binds the channel to its interface on a built device.
func (p *Pull) AttachTo(dev *device.Device, configValue, ifaceNum uint8) error {
	config := dev.GetConfiguration(configValue)
	if config == nil {
		return pkg.ErrInvalidParameter
	}
	iface := config.GetInterface(ifaceNum)
	if iface == nil {
		return pkg.ErrInvalidParameter
	}
	return iface.SetClassDriver(p)
}

// Init records the interface number the channel answers requests for.
func (p *Pull) Init(iface *device.Interface) error {
	p.ifaceNum = iface.Number
	pkg.LogDebug(pkg.ComponentChannel, "pull log channel initialized",
		"interface", iface.Number)
	return nil
}

// HandleSetup answers log read requests. Anything else is left for
// other handlers.
func (p *Pull) HandleSetup(iface *device.Interface, setup *device.SetupPacket, data []byte) ([]byte, bool, error) {
	if !setup.IsVendor() ||
		!setup.IsInterfaceRecipient() ||
		!setup.IsDeviceToHost() ||
		setup.Index != uint16(p.ifaceNum) ||
		setup.Request != LogReadRequest {
		return nil, false, nil
	}

	maxLen := int(setup.Length)
	if maxLen > len(p.respBuf) {
		maxLen = len(p.respBuf)
	}
	n := p.buf.ReadInto(p.respBuf[:maxLen])
	return p.respBuf[:n], true, nil
}

// Close releases the channel.
func (p *Pull) Close() error {
	return nil
}

// Compile-time interface check
var _ device.ClassDriver = (*Pull)(nil)
