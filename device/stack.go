package device

import (
	"context"
	"sync"

	"github.com/ardnew/usblog/device/hal"
	"github.com/ardnew/usblog/pkg"
)

// MaxControlDataSize is the maximum data size for control transfers.
const MaxControlDataSize = 512

// Stack manages the USB device stack: it runs the control transfer loop
// on EP0, dispatches standard requests to the StandardRequestHandler and
// class/vendor requests to the interface class drivers, and provides
// blocking and non-blocking data transfers on the other endpoints.
type Stack struct {
	device  *Device
	hal     hal.DeviceHAL
	handler *StandardRequestHandler

	// State
	running bool
	mutex   sync.RWMutex

	// Context for cancellation
	ctx    context.Context
	cancel context.CancelFunc

	// Reusable setup packet for zero-allocation reads
	setupBuf hal.SetupPacket

	// EP0 read buffer for control OUT data stage
	ep0ReadBuf [MaxControlDataSize]byte
}

// halSpeedToDeviceSpeed converts hal.Speed to device.Speed.
func halSpeedToDeviceSpeed(s hal.Speed) Speed {
	switch s {
	case hal.SpeedLow:
		return SpeedLow
	case hal.SpeedFull:
		return SpeedFull
	case hal.SpeedHigh:
		return SpeedHigh
	default:
		return SpeedFull // Default to full speed
	}
}

// NewStack creates a new device stack.
func NewStack(dev *Device, h hal.DeviceHAL) *Stack {
	s := &Stack{
		device: dev,
		hal:    h,
	}
	s.handler = NewStandardRequestHandler(dev)
	return s
}

// Start starts the device stack.
func (s *Stack) Start(ctx context.Context) error {
	s.mutex.Lock()
	if s.running {
		s.mutex.Unlock()
		return pkg.ErrAlreadyRunning
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mutex.Unlock()

	if err := s.hal.Init(s.ctx); err != nil {
		return err
	}

	if err := s.hal.Start(); err != nil {
		return err
	}

	s.mutex.Lock()
	s.running = true
	s.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentStack, "device stack started")

	// Start the control transfer handler
	go s.controlLoop()

	return nil
}

// Stop stops the device stack.
func (s *Stack) Stop() error {
	s.mutex.Lock()
	if !s.running {
		s.mutex.Unlock()
		return nil
	}

	s.running = false
	if s.cancel != nil {
		s.cancel()
	}
	s.mutex.Unlock()

	if err := s.hal.Stop(); err != nil {
		return err
	}

	pkg.LogDebug(pkg.ComponentStack, "device stack stopped")
	return nil
}

// IsRunning returns true if the stack is running.
func (s *Stack) IsRunning() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.running
}

// Device returns the underlying device.
func (s *Stack) Device() *Device {
	return s.device
}

// controlLoop handles control transfers on EP0.
func (s *Stack) controlLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		if err := s.hal.ReadSetup(s.ctx, &s.setupBuf); err != nil {
			if s.ctx.Err() != nil {
				return
			}
			// Handle bus reset
			if err == pkg.ErrReset {
				s.device.Reset()
				continue
			}
			pkg.LogWarn(pkg.ComponentStack, "error reading setup",
				"error", err)
			continue
		}

		// Convert HAL setup packet to device setup packet
		var setup SetupPacket
		setup.RequestType = s.setupBuf.RequestType
		setup.Request = s.setupBuf.Request
		setup.Value = s.setupBuf.Value
		setup.Index = s.setupBuf.Index
		setup.Length = s.setupBuf.Length

		if err := s.handleSetup(&setup); err != nil {
			pkg.LogWarn(pkg.ComponentStack, "error handling setup",
				"error", err,
				"request", setup.String())
			s.hal.StallEP0()
		}
	}
}

// handleSetup processes a single SETUP transaction.
func (s *Stack) handleSetup(setup *SetupPacket) error {
	pkg.LogDebug(pkg.ComponentStack, "setup received",
		"request", setup.String())

	var responseData []byte
	var err error

	// Try standard request handler first
	if setup.IsStandard() {
		responseData, err = s.handler.HandleSetup(setup, nil)
		if err == nil {
			if cerr := s.completeSetup(setup, responseData); cerr != nil {
				return cerr
			}
			if setup.Request == RequestSetConfiguration {
				return s.configureEndpoints()
			}
			return nil
		}
		return err
	}

	// Class and vendor requests addressed to an interface go to the
	// interface's class driver.
	if (setup.IsClass() || setup.IsVendor()) && setup.IsInterfaceRecipient() {
		var data []byte
		if setup.IsHostToDevice() && setup.Length > 0 {
			// Read the data stage before dispatching
			maxLen := int(setup.Length)
			if maxLen > MaxControlDataSize {
				maxLen = MaxControlDataSize
			}
			n, rerr := s.hal.ReadEP0(s.ctx, s.ep0ReadBuf[:maxLen])
			if rerr != nil {
				return rerr
			}
			data = s.ep0ReadBuf[:n]
		}

		iface := s.device.GetInterface(setup.InterfaceNumber())
		if iface != nil {
			resp, handled, classErr := iface.HandleSetup(setup, data)
			if handled {
				if classErr != nil {
					return classErr
				}
				return s.completeSetup(setup, resp)
			}
		}
	}

	// Request not handled
	return pkg.ErrInvalidRequest
}

// completeSetup completes the control transfer. Device-to-host transfers
// always write the data stage, even when empty: a zero-length response
// is a valid answer and must be distinguishable from a stall on the
// host side.
func (s *Stack) completeSetup(setup *SetupPacket, data []byte) error {
	if setup.IsDeviceToHost() {
		if err := s.hal.WriteEP0(s.ctx, data); err != nil {
			return err
		}
		// Read status stage (zero-length OUT)
		_, err := s.hal.ReadEP0(s.ctx, s.ep0ReadBuf[:0])
		return err
	}

	// OUT transfer: the data stage for class/vendor requests has already
	// been consumed by handleSetup, so only the status stage remains.
	return s.hal.AckEP0()
}

// configureEndpoints pushes the active configuration's endpoints down to
// the HAL, or unconfigures the hardware when no configuration is active.
func (s *Stack) configureEndpoints() error {
	config := s.device.ActiveConfiguration()
	if config == nil {
		return s.hal.ConfigureEndpoints(nil)
	}

	var endpoints [MaxInterfacesPerConfiguration * MaxEndpointsPerInterface]hal.EndpointConfig
	count := 0
	for _, iface := range config.Interfaces() {
		for _, ep := range iface.Endpoints() {
			endpoints[count] = hal.EndpointConfig{
				Address:       ep.Address,
				Attributes:    ep.Attributes,
				MaxPacketSize: ep.MaxPacketSize,
				Interval:      ep.Interval,
			}
			count++
		}
	}
	return s.hal.ConfigureEndpoints(endpoints[:count])
}

// Speed returns the negotiated USB connection speed.
func (s *Stack) Speed() Speed {
	return halSpeedToDeviceSpeed(s.hal.GetSpeed())
}

// IsConnected returns true if the device is connected to a host.
func (s *Stack) IsConnected() bool {
	return s.hal.IsConnected()
}

// WaitConnect blocks until the device connects to a host or the context is cancelled.
func (s *Stack) WaitConnect(ctx context.Context) error {
	return s.hal.WaitConnect(ctx)
}

// WaitDisconnect blocks until the device disconnects or the context is cancelled.
func (s *Stack) WaitDisconnect(ctx context.Context) error {
	return s.hal.WaitDisconnect(ctx)
}

// Read performs a blocking read on an endpoint.
func (s *Stack) Read(ctx context.Context, ep *Endpoint, buf []byte) (int, error) {
	if !s.device.IsConfigured() {
		return 0, pkg.ErrNotConfigured
	}
	return s.hal.Read(ctx, ep.Address, buf)
}

// Write performs a blocking write on an endpoint.
func (s *Stack) Write(ctx context.Context, ep *Endpoint, data []byte) (int, error) {
	if !s.device.IsConfigured() {
		return 0, pkg.ErrNotConfigured
	}
	return s.hal.Write(ctx, ep.Address, data)
}

// TryWrite attempts a non-blocking write on an IN endpoint. It returns
// pkg.ErrBusy when the endpoint cannot accept the packet; the caller
// should retry the identical packet later.
func (s *Stack) TryWrite(ep *Endpoint, data []byte) (int, error) {
	if !s.device.IsConfigured() {
		return 0, pkg.ErrNotConfigured
	}
	return s.hal.TryWrite(ep.Address, data)
}
