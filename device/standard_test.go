package device

import (
	"testing"

	"github.com/ardnew/usblog/pkg"
)

func TestGetDescriptorDevice(t *testing.T) {
	dev, _ := configuredDevice(t)
	h := NewStandardRequestHandler(dev)

	var setup SetupPacket
	GetDescriptorSetup(&setup, DescriptorTypeDevice, 0, DeviceDescriptorSize)

	data, err := h.HandleSetup(&setup, nil)
	if err != nil {
		t.Fatalf("HandleSetup() error = %v", err)
	}
	if len(data) != DeviceDescriptorSize {
		t.Errorf("response length = %d, want %d", len(data), DeviceDescriptorSize)
	}
}

func TestGetDescriptorTruncatedToRequestLength(t *testing.T) {
	dev, _ := configuredDevice(t)
	h := NewStandardRequestHandler(dev)

	// Hosts commonly ask for the first 8 bytes during enumeration
	var setup SetupPacket
	GetDescriptorSetup(&setup, DescriptorTypeDevice, 0, 8)

	data, err := h.HandleSetup(&setup, nil)
	if err != nil {
		t.Fatalf("HandleSetup() error = %v", err)
	}
	if len(data) != 8 {
		t.Errorf("response length = %d, want 8", len(data))
	}
}

func TestGetDescriptorString(t *testing.T) {
	dev, _ := configuredDevice(t)
	var buf [64]byte
	dev.SetStringFrom(4, buf[:], "kiffielog")
	h := NewStandardRequestHandler(dev)

	var setup SetupPacket
	GetDescriptorSetup(&setup, DescriptorTypeString, 4, 255)

	data, err := h.HandleSetup(&setup, nil)
	if err != nil {
		t.Fatalf("HandleSetup() error = %v", err)
	}
	if got := DecodeStringDescriptor(data); got != "kiffielog" {
		t.Errorf("string = %q, want %q", got, "kiffielog")
	}
}

func TestGetDescriptorUnknownString(t *testing.T) {
	dev, _ := configuredDevice(t)
	h := NewStandardRequestHandler(dev)

	var setup SetupPacket
	GetDescriptorSetup(&setup, DescriptorTypeString, 9, 255)

	if _, err := h.HandleSetup(&setup, nil); err != pkg.ErrInvalidRequest {
		t.Errorf("HandleSetup() error = %v, want %v", err, pkg.ErrInvalidRequest)
	}
}

func TestGetConfiguration(t *testing.T) {
	dev, _ := configuredDevice(t)
	h := NewStandardRequestHandler(dev)

	setup := SetupPacket{
		RequestType: RequestDirectionDeviceToHost | RequestTypeStandard | RequestRecipientDevice,
		Request:     RequestGetConfiguration,
		Length:      1,
	}

	data, err := h.HandleSetup(&setup, nil)
	if err != nil {
		t.Fatalf("HandleSetup() error = %v", err)
	}
	if len(data) != 1 || data[0] != 1 {
		t.Errorf("configuration = %v, want [1]", data)
	}
}

func TestEndpointHaltFeature(t *testing.T) {
	dev, ep := configuredDevice(t)
	h := NewStandardRequestHandler(dev)

	set := SetupPacket{
		RequestType: RequestDirectionHostToDevice | RequestTypeStandard | RequestRecipientEndpoint,
		Request:     RequestSetFeature,
		Value:       FeatureEndpointHalt,
		Index:       0x81,
	}
	if _, err := h.HandleSetup(&set, nil); err != nil {
		t.Fatalf("SET_FEATURE error = %v", err)
	}
	if !ep.IsStalled() {
		t.Error("endpoint should be stalled")
	}

	clear := set
	clear.Request = RequestClearFeature
	if _, err := h.HandleSetup(&clear, nil); err != nil {
		t.Fatalf("CLEAR_FEATURE error = %v", err)
	}
	if ep.IsStalled() {
		t.Error("endpoint should not be stalled")
	}
}

func TestGetEndpointStatus(t *testing.T) {
	dev, ep := configuredDevice(t)
	ep.SetStall(true)
	h := NewStandardRequestHandler(dev)

	setup := SetupPacket{
		RequestType: RequestDirectionDeviceToHost | RequestTypeStandard | RequestRecipientEndpoint,
		Request:     RequestGetStatus,
		Index:       0x81,
		Length:      2,
	}

	data, err := h.HandleSetup(&setup, nil)
	if err != nil {
		t.Fatalf("HandleSetup() error = %v", err)
	}
	if len(data) != 2 || data[0] != 1 {
		t.Errorf("status = %v, want halt bit set", data)
	}
}

func TestNonStandardRequestRejected(t *testing.T) {
	dev, _ := configuredDevice(t)
	h := NewStandardRequestHandler(dev)

	var setup SetupPacket
	VendorInSetup(&setup, 0, 0, 64)

	if _, err := h.HandleSetup(&setup, nil); err != pkg.ErrInvalidRequest {
		t.Errorf("HandleSetup() error = %v, want %v", err, pkg.ErrInvalidRequest)
	}
}
