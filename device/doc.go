// Package device implements the USB device-side framework the log
// channels plug into: descriptors, SETUP packet handling, the device
// state machine, and a control-transfer dispatch loop.
//
// It is a deliberately narrow stack. It supports exactly what a
// vendor-class diagnostic device needs: one configuration, vendor
// interfaces with optional bulk IN endpoints, standard enumeration
// requests, and dispatch of vendor requests to class drivers. Hardware
// access goes through [github.com/ardnew/usblog/device/hal].
//
// # Class Drivers
//
// The [ClassDriver] interface lets an interface answer class- or
// vendor-specific control requests, including device-to-host requests
// that carry response data:
//
//	type ClassDriver interface {
//	    Init(iface *Interface) error
//	    HandleSetup(iface *Interface, setup *SetupPacket, data []byte) ([]byte, bool, error)
//	    Close() error
//	}
//
// The two log channels in
// [github.com/ardnew/usblog/device/class/logchan] are the class drivers
// this framework exists to host.
//
// # Zero-Allocation Design
//
// Serialization uses MarshalTo(buf) instead of allocating, parse
// functions fill caller-provided output structs, and the registries are
// fixed-size arrays. This keeps the stack usable on constrained targets.
//
// # Example
//
//	buf := logbuf.New(logbuf.DefaultCapacity)
//	pull := logchan.NewPull(buf)
//
//	b := device.NewDeviceBuilder().
//	    WithVendorProduct(0xCAFE, 0x4005).
//	    WithStrings("ardnew", "usblog", "0001").
//	    AddConfiguration(1)
//	pull.ConfigureDevice(b)
//
//	dev, err := b.Build()
//	// ...
//	pull.AttachTo(dev, 1, 0)
//
//	stack := device.NewStack(dev, hal)
//	stack.Start(ctx)
package device
