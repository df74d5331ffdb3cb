package mem

import (
	"context"
	"sync"

	"github.com/ardnew/usblog/device/hal"
	"github.com/ardnew/usblog/pkg"
)

// ep0 reply kinds sent from the device to the host.
const (
	replyData  = iota // Data stage of a control IN transfer
	replyAck          // Status stage of a control OUT transfer
	replyStall        // Request error
)

// ep0Reply carries the device's answer to a control transfer.
type ep0Reply struct {
	kind int
	data []byte
}

// HAL is an in-memory DeviceHAL backed by channels. Create one with New
// and hand its HostPort to the test or example acting as the host.
type HAL struct {
	setupCh  chan hal.SetupPacket // host -> device SETUP packets
	resetCh  chan struct{}        // host -> device bus reset
	ep0OutCh chan []byte          // host -> device control data stage
	statusCh chan struct{}        // host -> device control IN status stage
	replyCh  chan ep0Reply        // device -> host control replies

	// Bus endpoints, keyed by endpoint address. Capacity-1 channels so a
	// pending packet blocks the next one, like a hardware packet buffer.
	endpoints map[uint8]chan []byte
	epMutex   sync.RWMutex

	connected    bool
	address      uint8
	speed        hal.Speed
	connectCh    chan struct{}
	disconnectCh chan struct{}
	stateMutex   sync.Mutex
}

// New creates a loopback HAL. The device stack drives the returned HAL;
// the host side of the connection is available from Host.
func New() *HAL {
	return &HAL{
		setupCh:      make(chan hal.SetupPacket),
		resetCh:      make(chan struct{}, 1),
		ep0OutCh:     make(chan []byte, 1),
		statusCh:     make(chan struct{}, 1),
		replyCh:      make(chan ep0Reply, 1),
		endpoints:    make(map[uint8]chan []byte),
		speed:        hal.SpeedFull,
		connectCh:    make(chan struct{}),
		disconnectCh: make(chan struct{}),
	}
}

// Host returns the host-side view of the connection.
func (h *HAL) Host() *HostPort {
	return &HostPort{hal: h}
}

// Init initializes the controller. No-op for the loopback.
func (h *HAL) Init(ctx context.Context) error {
	return nil
}

// Start attaches the device to the loopback bus.
func (h *HAL) Start() error {
	h.stateMutex.Lock()
	defer h.stateMutex.Unlock()
	if h.connected {
		return pkg.ErrAlreadyRunning
	}
	h.connected = true
	close(h.connectCh)
	h.disconnectCh = make(chan struct{})
	pkg.LogDebug(pkg.ComponentHAL, "loopback bus attached")
	return nil
}

// Stop detaches the device from the loopback bus.
func (h *HAL) Stop() error {
	h.stateMutex.Lock()
	defer h.stateMutex.Unlock()
	if !h.connected {
		return nil
	}
	h.connected = false
	close(h.disconnectCh)
	h.connectCh = make(chan struct{})
	pkg.LogDebug(pkg.ComponentHAL, "loopback bus detached")
	return nil
}

// SetAddress records the assigned device address.
func (h *HAL) SetAddress(address uint8) error {
	h.stateMutex.Lock()
	defer h.stateMutex.Unlock()
	h.address = address
	return nil
}

// ConfigureEndpoints (re)creates the bus endpoint channels.
func (h *HAL) ConfigureEndpoints(endpoints []hal.EndpointConfig) error {
	h.epMutex.Lock()
	defer h.epMutex.Unlock()
	h.endpoints = make(map[uint8]chan []byte, len(endpoints))
	for _, ep := range endpoints {
		h.endpoints[ep.Address] = make(chan []byte, 1)
		pkg.LogDebug(pkg.ComponentHAL, "endpoint configured",
			"address", ep.Address,
			"maxPacketSize", ep.MaxPacketSize)
	}
	return nil
}

// endpoint returns the channel for an endpoint address.
func (h *HAL) endpoint(address uint8) (chan []byte, error) {
	h.epMutex.RLock()
	defer h.epMutex.RUnlock()
	ch, ok := h.endpoints[address]
	if !ok {
		return nil, pkg.ErrInvalidEndpoint
	}
	return ch, nil
}

// ReadSetup blocks until the host sends a SETUP packet or resets the bus.
func (h *HAL) ReadSetup(ctx context.Context, out *hal.SetupPacket) error {
	select {
	case <-ctx.Done():
		return pkg.ErrCancelled
	case <-h.resetCh:
		return pkg.ErrReset
	case setup := <-h.setupCh:
		*out = setup
		return nil
	}
}

// WriteEP0 sends the data stage of a control IN transfer to the host.
// Zero-length data is sent as a valid empty response.
func (h *HAL) WriteEP0(ctx context.Context, data []byte) error {
	// Copy so the stack can reuse its response buffer immediately
	payload := make([]byte, len(data))
	copy(payload, data)
	select {
	case <-ctx.Done():
		return pkg.ErrCancelled
	case h.replyCh <- ep0Reply{kind: replyData, data: payload}:
		return nil
	}
}

// ReadEP0 reads control OUT data (non-empty buf) or consumes the status
// stage of a control IN transfer (empty buf).
func (h *HAL) ReadEP0(ctx context.Context, buf []byte) (int, error) {
	if len(buf) == 0 {
		select {
		case <-ctx.Done():
			return 0, pkg.ErrCancelled
		case <-h.statusCh:
			return 0, nil
		}
	}
	select {
	case <-ctx.Done():
		return 0, pkg.ErrCancelled
	case data := <-h.ep0OutCh:
		n := copy(buf, data)
		return n, nil
	}
}

// StallEP0 reports a request error to the host.
func (h *HAL) StallEP0() error {
	select {
	case h.replyCh <- ep0Reply{kind: replyStall}:
	default:
		// Host gave up on this transfer; nothing to signal
	}
	return nil
}

// AckEP0 completes the status stage of a control OUT transfer.
func (h *HAL) AckEP0() error {
	h.replyCh <- ep0Reply{kind: replyAck}
	return nil
}

// Read blocks until a packet arrives on an OUT endpoint.
func (h *HAL) Read(ctx context.Context, address uint8, buf []byte) (int, error) {
	ch, err := h.endpoint(address)
	if err != nil {
		return 0, err
	}
	select {
	case <-ctx.Done():
		return 0, pkg.ErrCancelled
	case data := <-ch:
		return copy(buf, data), nil
	}
}

// Write blocks until the host accepts a packet on an IN endpoint.
func (h *HAL) Write(ctx context.Context, address uint8, data []byte) (int, error) {
	ch, err := h.endpoint(address)
	if err != nil {
		return 0, err
	}
	payload := make([]byte, len(data))
	copy(payload, data)
	select {
	case <-ctx.Done():
		return 0, pkg.ErrCancelled
	case ch <- payload:
		return len(data), nil
	}
}

// TryWrite queues one packet on an IN endpoint without blocking.
// Returns pkg.ErrBusy while a previous packet is still pending.
func (h *HAL) TryWrite(address uint8, data []byte) (int, error) {
	ch, err := h.endpoint(address)
	if err != nil {
		return 0, err
	}
	payload := make([]byte, len(data))
	copy(payload, data)
	select {
	case ch <- payload:
		return len(data), nil
	default:
		return 0, pkg.ErrBusy
	}
}

// IsConnected returns true if the device is attached to the bus.
func (h *HAL) IsConnected() bool {
	h.stateMutex.Lock()
	defer h.stateMutex.Unlock()
	return h.connected
}

// GetSpeed returns the loopback connection speed.
func (h *HAL) GetSpeed() hal.Speed {
	return h.speed
}

// WaitConnect blocks until the device attaches to the bus.
func (h *HAL) WaitConnect(ctx context.Context) error {
	h.stateMutex.Lock()
	ch := h.connectCh
	connected := h.connected
	h.stateMutex.Unlock()
	if connected {
		return nil
	}
	select {
	case <-ctx.Done():
		return pkg.ErrCancelled
	case <-ch:
		return nil
	}
}

// WaitDisconnect blocks until the device detaches from the bus.
func (h *HAL) WaitDisconnect(ctx context.Context) error {
	h.stateMutex.Lock()
	ch := h.disconnectCh
	connected := h.connected
	h.stateMutex.Unlock()
	if !connected {
		return nil
	}
	select {
	case <-ctx.Done():
		return pkg.ErrCancelled
	case <-ch:
		return nil
	}
}

// Compile-time interface check
var _ hal.DeviceHAL = (*HAL)(nil)

// HostPort is the host-controller side of the loopback bus. Its methods
// mirror what a host does with libusb: control transfers on EP0 and
// packet reads from IN endpoints.
type HostPort struct {
	hal *HAL

	// Serializes control transfers; EP0 handles one at a time
	mutex sync.Mutex
}

// Reset signals a bus reset to the device.
func (p *HostPort) Reset() {
	select {
	case p.hal.resetCh <- struct{}{}:
	default:
	}
}

// ControlIn performs a device-to-host control transfer. The returned
// slice holds the data stage, which may be empty. Returns pkg.ErrStall
// if the device rejected the request.
func (p *HostPort) ControlIn(ctx context.Context, setup *hal.SetupPacket) ([]byte, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	select {
	case <-ctx.Done():
		return nil, pkg.ErrCancelled
	case p.hal.setupCh <- *setup:
	}

	select {
	case <-ctx.Done():
		return nil, pkg.ErrCancelled
	case reply := <-p.hal.replyCh:
		if reply.kind == replyStall {
			return nil, pkg.ErrStall
		}
		// Complete the status stage so the device can move on
		select {
		case <-ctx.Done():
			return nil, pkg.ErrCancelled
		case p.hal.statusCh <- struct{}{}:
		}
		return reply.data, nil
	}
}

// ControlOut performs a host-to-device control transfer with an optional
// data stage. Returns pkg.ErrStall if the device rejected the request.
func (p *HostPort) ControlOut(ctx context.Context, setup *hal.SetupPacket, data []byte) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	select {
	case <-ctx.Done():
		return pkg.ErrCancelled
	case p.hal.setupCh <- *setup:
	}

	if len(data) > 0 {
		payload := make([]byte, len(data))
		copy(payload, data)
		select {
		case <-ctx.Done():
			return pkg.ErrCancelled
		case reply := <-p.hal.replyCh:
			// Device rejected before reading the data stage
			if reply.kind == replyStall {
				return pkg.ErrStall
			}
			return pkg.ErrProtocol
		case p.hal.ep0OutCh <- payload:
		}
	}

	select {
	case <-ctx.Done():
		return pkg.ErrCancelled
	case reply := <-p.hal.replyCh:
		if reply.kind == replyStall {
			return pkg.ErrStall
		}
		return nil
	}
}

// ReadPacket reads one packet from an IN endpoint.
func (p *HostPort) ReadPacket(ctx context.Context, address uint8) ([]byte, error) {
	ch, err := p.hal.endpoint(address)
	if err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, pkg.ErrCancelled
	case data := <-ch:
		return data, nil
	}
}

// TryReadPacket reads one packet from an IN endpoint without blocking.
// Returns pkg.ErrTimeout when no packet is pending.
func (p *HostPort) TryReadPacket(address uint8) ([]byte, error) {
	ch, err := p.hal.endpoint(address)
	if err != nil {
		return nil, err
	}
	select {
	case data := <-ch:
		return data, nil
	default:
		return nil, pkg.ErrTimeout
	}
}
