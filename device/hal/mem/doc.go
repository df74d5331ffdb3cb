// Package mem provides an in-memory loopback implementation of
// [github.com/ardnew/usblog/device/hal.DeviceHAL] together with a
// [HostPort] that plays the role of the host controller. Both ends of
// the bus live in the same process and exchange packets over channels,
// which makes the full device stack testable without hardware.
//
// Endpoint channels have capacity one: a packet written to an IN
// endpoint occupies the channel until the host reads it, so TryWrite
// observes the same busy condition a hardware endpoint would report
// while a previous packet is still pending.
package mem
