package logchan

// InterfaceName is the string descriptor label attached to both log
// channel interfaces. Host tools locate the log interface by this name
// instead of matching vendor/product IDs.
const InterfaceName = "kiffielog"

// LogReadRequest is the vendor control request the pull channel answers
// with buffered log data.
const LogReadRequest = 0

// EPSize is the bulk IN endpoint packet size.
const EPSize = 64
