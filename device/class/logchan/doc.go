// Package logchan implements the two USB log channels that expose a
// [github.com/ardnew/usblog/logbuf.Buffer] to a host:
//
//   - [Pull] is a vendor interface without endpoints. The host drains
//     log data with vendor control-IN requests, so the device never
//     spends an endpoint on logging.
//   - [Bulk] is a vendor interface with one bulk IN endpoint. The
//     device pushes log data in packets whenever the host is reading;
//     call [Bulk.Tasks] periodically to move data.
//
// Both interfaces carry the string label [InterfaceName] so host tools
// can find them without hardcoding vendor/product IDs.
package logchan
