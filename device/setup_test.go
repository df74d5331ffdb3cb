package device

import (
	"testing"

	"github.com/ardnew/usblog/pkg"
)

func TestParseSetupPacket(t *testing.T) {
	data := []byte{0xC1, 0x00, 0x00, 0x00, 0x02, 0x00, 0x40, 0x00}

	var setup SetupPacket
	if err := ParseSetupPacket(data, &setup); err != nil {
		t.Fatalf("ParseSetupPacket() error = %v", err)
	}

	if setup.RequestType != 0xC1 {
		t.Errorf("RequestType = 0x%02X, want 0xC1", setup.RequestType)
	}
	if setup.Request != 0 {
		t.Errorf("Request = %d, want 0", setup.Request)
	}
	if setup.Index != 2 {
		t.Errorf("Index = %d, want 2", setup.Index)
	}
	if setup.Length != 64 {
		t.Errorf("Length = %d, want 64", setup.Length)
	}

	if !setup.IsDeviceToHost() {
		t.Error("should be device-to-host")
	}
	if !setup.IsVendor() {
		t.Error("should be vendor request")
	}
	if !setup.IsInterfaceRecipient() {
		t.Error("should be interface recipient")
	}
}

func TestParseSetupPacketTooShort(t *testing.T) {
	var setup SetupPacket
	err := ParseSetupPacket([]byte{0x80, 0x06, 0x00}, &setup)
	if err != pkg.ErrSetupPacketTooShort {
		t.Errorf("ParseSetupPacket() error = %v, want %v", err, pkg.ErrSetupPacketTooShort)
	}
}

func TestSetupPacketMarshalRoundTrip(t *testing.T) {
	setup := SetupPacket{
		RequestType: 0x80,
		Request:     RequestGetDescriptor,
		Value:       uint16(DescriptorTypeDevice) << 8,
		Index:       0,
		Length:      18,
	}

	var buf [SetupPacketSize]byte
	if n := setup.MarshalTo(buf[:]); n != SetupPacketSize {
		t.Fatalf("MarshalTo() = %d, want %d", n, SetupPacketSize)
	}

	var parsed SetupPacket
	if err := ParseSetupPacket(buf[:], &parsed); err != nil {
		t.Fatalf("ParseSetupPacket() error = %v", err)
	}
	if parsed != setup {
		t.Errorf("round trip = %+v, want %+v", parsed, setup)
	}
}

func TestVendorInSetup(t *testing.T) {
	var setup SetupPacket
	VendorInSetup(&setup, 0, 2, 128)

	if setup.RequestType != 0xC1 {
		t.Errorf("RequestType = 0x%02X, want 0xC1", setup.RequestType)
	}
	if setup.Request != 0 {
		t.Errorf("Request = %d, want 0", setup.Request)
	}
	if setup.InterfaceNumber() != 2 {
		t.Errorf("InterfaceNumber() = %d, want 2", setup.InterfaceNumber())
	}
	if setup.Length != 128 {
		t.Errorf("Length = %d, want 128", setup.Length)
	}
}

func TestSetupPacketPredicates(t *testing.T) {
	tests := []struct {
		name        string
		requestType uint8
		standard    bool
		class       bool
		vendor      bool
	}{
		{"standard device", 0x80, true, false, false},
		{"class interface", 0xA1, false, true, false},
		{"vendor interface", 0xC1, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setup := SetupPacket{RequestType: tt.requestType}
			if setup.IsStandard() != tt.standard {
				t.Errorf("IsStandard() = %v, want %v", setup.IsStandard(), tt.standard)
			}
			if setup.IsClass() != tt.class {
				t.Errorf("IsClass() = %v, want %v", setup.IsClass(), tt.class)
			}
			if setup.IsVendor() != tt.vendor {
				t.Errorf("IsVendor() = %v, want %v", setup.IsVendor(), tt.vendor)
			}
		})
	}
}

func TestDescriptorTypeAndIndex(t *testing.T) {
	setup := SetupPacket{Value: uint16(DescriptorTypeString)<<8 | 4}
	if setup.DescriptorType() != DescriptorTypeString {
		t.Errorf("DescriptorType() = %d, want %d", setup.DescriptorType(), DescriptorTypeString)
	}
	if setup.DescriptorIndex() != 4 {
		t.Errorf("DescriptorIndex() = %d, want 4", setup.DescriptorIndex())
	}
}
