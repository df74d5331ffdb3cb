// Package hal defines the Hardware Abstraction Layer boundary between the
// usblog device stack and a USB device controller.
//
// Platform code implements [DeviceHAL] to run the stack on real hardware;
// the in-memory implementation in
// [github.com/ardnew/usblog/device/hal/mem] serves tests, simulations, and
// the bundled examples.
//
// Beyond the usual blocking endpoint operations, the interface includes a
// non-blocking [DeviceHAL] TryWrite. The push/poll log channel depends on
// it: a poll cycle must attempt a bulk IN transmission and move on
// immediately when the endpoint would NAK, retrying the identical packet
// on a later cycle.
package hal
