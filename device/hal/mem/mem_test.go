package mem

import (
	"context"
	"testing"
	"time"

	"github.com/ardnew/usblog/device"
	"github.com/ardnew/usblog/device/hal"
	"github.com/ardnew/usblog/pkg"
)

// toHALSetup converts a device-layer setup packet for host submission.
func toHALSetup(setup *device.SetupPacket) *hal.SetupPacket {
	return &hal.SetupPacket{
		RequestType: setup.RequestType,
		Request:     setup.Request,
		Value:       setup.Value,
		Index:       setup.Index,
		Length:      setup.Length,
	}
}

// startStack builds a one-interface vendor device on a loopback HAL and
// starts its stack.
func startStack(t *testing.T) (*device.Stack, *HostPort) {
	t.Helper()

	b := device.NewDeviceBuilder().
		WithVendorProduct(0xCAFE, 0x4005).
		WithStrings("ardnew", "usblog", "0001").
		AddConfiguration(1).
		AddInterface(device.ClassVendor, 0, 0).
		AddEndpoint(0x81, device.EndpointTypeBulk, 64)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	dev, err := b.Build(ctx)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	h := New()
	stack := device.NewStack(dev, h)
	if err := stack.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { stack.Stop() })

	return stack, h.Host()
}

// resetAndWait resets the bus and waits for the device to reach the
// default state, so the next control transfer cannot race the reset.
func resetAndWait(t *testing.T, stack *device.Stack, host *HostPort) {
	t.Helper()
	host.Reset()
	deadline := time.Now().Add(time.Second)
	for stack.Device().State() != device.StateDefault {
		if time.Now().After(deadline) {
			t.Fatal("device did not reach default state")
		}
		time.Sleep(time.Millisecond)
	}
}

// enumerate walks the device into the configured state from the host side.
func enumerate(t *testing.T, stack *device.Stack, host *HostPort) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resetAndWait(t, stack, host)

	var setup device.SetupPacket
	setup.RequestType = device.RequestDirectionHostToDevice | device.RequestTypeStandard | device.RequestRecipientDevice
	setup.Request = device.RequestSetAddress
	setup.Value = 7
	if err := host.ControlOut(ctx, toHALSetup(&setup), nil); err != nil {
		t.Fatalf("SET_ADDRESS error = %v", err)
	}

	device.SetConfigurationSetup(&setup, 1)
	if err := host.ControlOut(ctx, toHALSetup(&setup), nil); err != nil {
		t.Fatalf("SET_CONFIGURATION error = %v", err)
	}

	if !stack.Device().IsConfigured() {
		t.Fatal("device should be configured after enumeration")
	}
}

func TestGetDeviceDescriptor(t *testing.T) {
	stack, host := startStack(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resetAndWait(t, stack, host)

	var setup device.SetupPacket
	device.GetDescriptorSetup(&setup, device.DescriptorTypeDevice, 0, device.DeviceDescriptorSize)

	data, err := host.ControlIn(ctx, toHALSetup(&setup))
	if err != nil {
		t.Fatalf("ControlIn() error = %v", err)
	}
	if len(data) != device.DeviceDescriptorSize {
		t.Fatalf("descriptor length = %d, want %d", len(data), device.DeviceDescriptorSize)
	}
	if data[8] != 0xFE || data[9] != 0xCA {
		t.Errorf("idVendor bytes = %02X %02X, want FE CA", data[8], data[9])
	}
}

func TestEnumerationAndBulkTransfer(t *testing.T) {
	stack, host := startStack(t)
	enumerate(t, stack, host)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ep := stack.Device().GetEndpoint(0x81)
	if ep == nil {
		t.Fatal("endpoint 0x81 not found")
	}

	go func() {
		stack.Write(ctx, ep, []byte("log data"))
	}()

	data, err := host.ReadPacket(ctx, 0x81)
	if err != nil {
		t.Fatalf("ReadPacket() error = %v", err)
	}
	if string(data) != "log data" {
		t.Errorf("packet = %q, want %q", data, "log data")
	}
}

func TestTryWriteBusy(t *testing.T) {
	stack, host := startStack(t)
	enumerate(t, stack, host)

	ep := stack.Device().GetEndpoint(0x81)

	if _, err := stack.TryWrite(ep, []byte("one")); err != nil {
		t.Fatalf("first TryWrite() error = %v", err)
	}

	// The packet is pending; the endpoint cannot accept another
	if _, err := stack.TryWrite(ep, []byte("two")); err != pkg.ErrBusy {
		t.Fatalf("second TryWrite() error = %v, want %v", err, pkg.ErrBusy)
	}

	data, err := host.TryReadPacket(0x81)
	if err != nil {
		t.Fatalf("TryReadPacket() error = %v", err)
	}
	if string(data) != "one" {
		t.Errorf("packet = %q, want %q", data, "one")
	}

	// Reading the pending packet frees the endpoint
	if _, err := stack.TryWrite(ep, []byte("two")); err != nil {
		t.Errorf("TryWrite() after drain error = %v", err)
	}
}

func TestTryReadPacketEmpty(t *testing.T) {
	stack, host := startStack(t)
	enumerate(t, stack, host)

	if _, err := host.TryReadPacket(0x81); err != pkg.ErrTimeout {
		t.Errorf("TryReadPacket() error = %v, want %v", err, pkg.ErrTimeout)
	}
}

func TestUnsupportedRequestStalls(t *testing.T) {
	stack, host := startStack(t)
	enumerate(t, stack, host)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// Vendor request with no class driver attached
	var setup device.SetupPacket
	device.VendorInSetup(&setup, 0x42, 0, 16)

	if _, err := host.ControlIn(ctx, toHALSetup(&setup)); err != pkg.ErrStall {
		t.Errorf("ControlIn() error = %v, want %v", err, pkg.ErrStall)
	}
}

func TestConnectionState(t *testing.T) {
	h := New()
	if h.IsConnected() {
		t.Error("should not be connected before Start")
	}
	if err := h.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !h.IsConnected() {
		t.Error("should be connected after Start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.WaitConnect(ctx); err != nil {
		t.Errorf("WaitConnect() error = %v", err)
	}

	if err := h.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := h.WaitDisconnect(ctx); err != nil {
		t.Errorf("WaitDisconnect() error = %v", err)
	}
}
