package device

import (
	"context"
	"testing"

	"github.com/ardnew/usblog/pkg"
)

func TestDeviceStateMachine(t *testing.T) {
	dev := NewDevice(&DeviceDescriptor{MaxPacketSize0: 64})
	config := NewConfiguration(1)
	dev.AddConfiguration(config)

	if dev.State() != StateAttached {
		t.Errorf("initial state = %v, want %v", dev.State(), StateAttached)
	}

	// SET_ADDRESS before reset is invalid
	if err := dev.SetAddress(5); err != pkg.ErrInvalidState {
		t.Errorf("SetAddress() before reset error = %v, want %v", err, pkg.ErrInvalidState)
	}

	dev.Reset()
	if dev.State() != StateDefault {
		t.Errorf("state after reset = %v, want %v", dev.State(), StateDefault)
	}

	if err := dev.SetAddress(5); err != nil {
		t.Fatalf("SetAddress() error = %v", err)
	}
	if dev.State() != StateAddress {
		t.Errorf("state = %v, want %v", dev.State(), StateAddress)
	}
	if dev.Address() != 5 {
		t.Errorf("Address() = %d, want 5", dev.Address())
	}

	if err := dev.SetConfiguration(1); err != nil {
		t.Fatalf("SetConfiguration() error = %v", err)
	}
	if !dev.IsConfigured() {
		t.Error("device should be configured")
	}
	if dev.ActiveConfiguration() != config {
		t.Error("wrong active configuration")
	}

	// Unconfigure
	if err := dev.SetConfiguration(0); err != nil {
		t.Fatalf("SetConfiguration(0) error = %v", err)
	}
	if dev.State() != StateAddress {
		t.Errorf("state = %v, want %v", dev.State(), StateAddress)
	}

	// Reset clears address and configuration
	dev.SetConfiguration(1)
	dev.Reset()
	if dev.Address() != 0 {
		t.Errorf("address after reset = %d, want 0", dev.Address())
	}
	if dev.ActiveConfiguration() != nil {
		t.Error("active configuration should be nil after reset")
	}
}

func TestSetConfigurationUnknownValue(t *testing.T) {
	dev := NewDevice(&DeviceDescriptor{MaxPacketSize0: 64})
	dev.AddConfiguration(NewConfiguration(1))
	dev.Reset()
	dev.SetAddress(1)

	if err := dev.SetConfiguration(9); err != pkg.ErrInvalidRequest {
		t.Errorf("SetConfiguration(9) error = %v, want %v", err, pkg.ErrInvalidRequest)
	}
}

func TestGetEndpoint(t *testing.T) {
	dev, ep := configuredDevice(t)

	if got := dev.GetEndpoint(0x81); got != ep {
		t.Error("GetEndpoint(0x81) returned wrong endpoint")
	}
	if got := dev.GetEndpoint(0x00); got != dev.ControlEndpoint() {
		t.Error("GetEndpoint(0x00) should return EP0")
	}
	if got := dev.GetEndpoint(0x02); got != nil {
		t.Error("GetEndpoint(0x02) should return nil")
	}
}

func TestDeviceStrings(t *testing.T) {
	dev := NewDevice(&DeviceDescriptor{MaxPacketSize0: 64})

	var langBuf, strBuf [64]byte
	dev.SetLanguagesFrom(langBuf[:], LangIDUSEnglish)
	dev.SetStringFrom(1, strBuf[:], "ardnew")

	if data := dev.GetString(0); len(data) != 4 {
		t.Errorf("language descriptor length = %d, want 4", len(data))
	}
	if got := DecodeStringDescriptor(dev.GetString(1)); got != "ardnew" {
		t.Errorf("string 1 = %q, want %q", got, "ardnew")
	}
	if dev.GetString(7) != nil {
		t.Error("unset string should be nil")
	}
}

func TestDeviceBuilder(t *testing.T) {
	b := NewDeviceBuilder().
		WithVendorProduct(0xCAFE, 0x4005).
		WithStrings("ardnew", "usblog", "0001").
		AddConfiguration(1).
		AddInterface(ClassVendor, 0, 0).
		AddEndpoint(0x81, EndpointTypeBulk, 64)

	dev, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if dev.Descriptor.VendorID != 0xCAFE {
		t.Errorf("VendorID = 0x%04X, want 0xCAFE", dev.Descriptor.VendorID)
	}
	if dev.Descriptor.NumConfigurations != 1 {
		t.Errorf("NumConfigurations = %d, want 1", dev.Descriptor.NumConfigurations)
	}

	config := dev.GetConfiguration(1)
	if config == nil {
		t.Fatal("configuration 1 not found")
	}
	iface := config.GetInterface(0)
	if iface == nil {
		t.Fatal("interface 0 not found")
	}
	if iface.GetEndpoint(0x81) == nil {
		t.Error("endpoint 0x81 not found")
	}

	if got := DecodeStringDescriptor(dev.GetString(2)); got != "usblog" {
		t.Errorf("product string = %q, want %q", got, "usblog")
	}
}

func TestDeviceBuilderNamedInterface(t *testing.T) {
	b := NewDeviceBuilder().
		WithVendorProduct(0xCAFE, 0x4005).
		WithStrings("ardnew", "usblog", "").
		AddConfiguration(1).
		AddInterfaceNamed(ClassVendor, 0, 0, "kiffielog")

	dev, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	iface := dev.GetConfiguration(1).GetInterface(0)
	if iface == nil {
		t.Fatal("interface 0 not found")
	}
	if iface.StringIndex == 0 {
		t.Fatal("interface string index not allocated")
	}

	if got := DecodeStringDescriptor(dev.GetString(iface.StringIndex)); got != "kiffielog" {
		t.Errorf("interface label = %q, want %q", got, "kiffielog")
	}

	// The label's index appears in the marshalled interface descriptor
	var buf [128]byte
	n := dev.GetConfiguration(1).MarshalTo(buf[:])
	if n == 0 {
		t.Fatal("configuration MarshalTo failed")
	}
	if buf[ConfigurationDescriptorSize+8] != iface.StringIndex {
		t.Errorf("iInterface = %d, want %d", buf[ConfigurationDescriptorSize+8], iface.StringIndex)
	}
}

func TestDeviceBuilderOutOfOrder(t *testing.T) {
	// Adding an interface before any configuration is an error
	b := NewDeviceBuilder().
		WithVendorProduct(0xCAFE, 0x4005).
		AddInterface(ClassVendor, 0, 0)

	if _, err := b.Build(context.Background()); err == nil {
		t.Error("Build() should fail for interface without configuration")
	}
}
