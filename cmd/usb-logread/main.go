// Command usb-logread finds a USB device exposing a log channel
// interface named "kiffielog" and copies its log bytes to stdout.
//
// The log interface comes in two flavors. If it carries a bulk IN
// endpoint, the tool reads packets from that endpoint. Otherwise it
// polls the interface with vendor control-IN requests. Either way the
// raw bytes go to stdout unchanged, so the output can be piped or
// redirected like any other stream.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/gousb"
	"github.com/sirupsen/logrus"

	"github.com/ardnew/usblog/device/class/logchan"
)

const version = "0.2.0"

// pollTimeout bounds each transfer; an expired poll just means the
// device had nothing to say.
const pollTimeout = 100 * time.Millisecond

// controlPollInterval paces vendor control polling so an idle device
// is not hammered with requests.
const controlPollInterval = 10 * time.Millisecond

// readBufferSize is the transfer buffer for both channel flavors.
const readBufferSize = 1024

var log = logrus.New()

// channelInfo describes a discovered log channel interface.
type channelInfo struct {
	dev       *gousb.Device
	config    int
	iface     int
	endpoint  int  // Bulk IN endpoint number
	hasBulkEP bool // False for the control-transfer flavor
}

func (c *channelInfo) String() string {
	desc := c.dev.Desc
	return fmt.Sprintf("%04x:%04x bus %d addr %d", uint16(desc.Vendor), uint16(desc.Product), desc.Bus, desc.Address)
}

// findChannels opens every device that carries an interface labeled
// with the log channel name. The caller closes the returned devices.
func findChannels(ctx *gousb.Context) ([]*channelInfo, error) {
	var channels []*channelInfo

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return true
	})
	// OpenDevices can return devices alongside an error when some
	// devices were not accessible; keep what opened.
	if err != nil {
		log.WithError(err).Debug("some devices could not be opened")
	}

	for _, dev := range devs {
		info := inspectDevice(dev)
		if info == nil {
			dev.Close()
			continue
		}
		channels = append(channels, info)
	}
	return channels, nil
}

// inspectDevice looks for a log channel interface on a device.
func inspectDevice(dev *gousb.Device) *channelInfo {
	for cfgNum, cfg := range dev.Desc.Configs {
		for _, intf := range cfg.Interfaces {
			for _, alt := range intf.AltSettings {
				name, err := dev.InterfaceDescription(cfgNum, intf.Number, alt.Alternate)
				if err != nil || name != logchan.InterfaceName {
					continue
				}
				info := &channelInfo{
					dev:    dev,
					config: cfgNum,
					iface:  intf.Number,
				}
				for _, ep := range alt.Endpoints {
					if ep.Direction == gousb.EndpointDirectionIn && ep.TransferType == gousb.TransferTypeBulk {
						info.endpoint = ep.Number
						info.hasBulkEP = true
						break
					}
				}
				return info
			}
		}
	}
	return nil
}

// listChannels prints discovered devices in lsusb-like form.
func listChannels(channels []*channelInfo) {
	for _, c := range channels {
		desc := c.dev.Desc
		name := ""
		if m, err := c.dev.Manufacturer(); err == nil && m != "" {
			name = m
		}
		if p, err := c.dev.Product(); err == nil && p != "" {
			if name != "" {
				name += " - "
			}
			name += p
		}
		if name != "" {
			name = ": " + name
		}
		mode := "control"
		if c.hasBulkEP {
			mode = fmt.Sprintf("bulk EP 0x%02x", c.endpoint|0x80)
		}
		fmt.Printf("Bus %03d Device %03d: %04x:%04x%s (%s)\n",
			desc.Bus, desc.Address, uint16(desc.Vendor), uint16(desc.Product), name, mode)
	}
}

// readControlLoop polls the log interface with vendor control requests
// and copies the responses to stdout.
func readControlLoop(c *channelInfo) error {
	c.dev.ControlTimeout = pollTimeout

	log.WithFields(logrus.Fields{
		"device":    c.String(),
		"interface": c.iface,
	}).Info("reading log channel via control transfers")

	buf := make([]byte, readBufferSize)
	requestType := uint8(gousb.ControlIn | gousb.ControlVendor | gousb.ControlInterface)
	for {
		n, err := c.dev.Control(requestType, logchan.LogReadRequest, 0, uint16(c.iface), buf)
		switch {
		case err == nil:
			if n > 0 {
				if _, werr := os.Stdout.Write(buf[:n]); werr != nil {
					return werr
				}
			}
		case errors.Is(err, gousb.TransferTimedOut):
			// Device idle
		default:
			return err
		}
		time.Sleep(controlPollInterval)
	}
}

// readBulkLoop reads packets from the bulk IN endpoint and copies them
// to stdout.
func readBulkLoop(c *channelInfo) error {
	cfg, err := c.dev.Config(c.config)
	if err != nil {
		return fmt.Errorf("claiming config %d: %w", c.config, err)
	}
	defer cfg.Close()

	intf, err := cfg.Interface(c.iface, 0)
	if err != nil {
		return fmt.Errorf("claiming interface %d: %w", c.iface, err)
	}
	defer intf.Close()

	ep, err := intf.InEndpoint(c.endpoint)
	if err != nil {
		return fmt.Errorf("opening endpoint %d: %w", c.endpoint, err)
	}

	log.WithFields(logrus.Fields{
		"device":    c.String(),
		"interface": c.iface,
		"endpoint":  fmt.Sprintf("0x%02x", c.endpoint|0x80),
	}).Info("reading log channel via bulk endpoint")

	buf := make([]byte, readBufferSize)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
		n, err := ep.ReadContext(ctx, buf)
		cancel()
		switch {
		case err == nil:
			if n > 0 {
				if _, werr := os.Stdout.Write(buf[:n]); werr != nil {
					return werr
				}
			}
		case errors.Is(err, gousb.TransferTimedOut), errors.Is(err, context.DeadlineExceeded):
			// Device idle
		default:
			return err
		}
	}
}

func main() {
	list := flag.Bool("l", false, "list devices with a log channel interface")
	bus := flag.Int("b", -1, "select device on a given bus")
	address := flag.Int("a", -1, "select device based on its address")
	verbose := flag.Bool("v", false, "verbose diagnostics")
	showVersion := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("usb-logread v%s\n", version)
		return
	}

	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.InfoLevel)
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	ctx := gousb.NewContext()
	defer ctx.Close()

	channels, err := findChannels(ctx)
	if err != nil {
		log.WithError(err).Fatal("device enumeration failed")
	}
	defer func() {
		for _, c := range channels {
			c.dev.Close()
		}
	}()

	if *list {
		listChannels(channels)
		return
	}

	if *bus >= 0 {
		channels = filterChannels(channels, func(c *channelInfo) bool {
			return c.dev.Desc.Bus == *bus
		})
	}
	if *address >= 0 {
		channels = filterChannels(channels, func(c *channelInfo) bool {
			return c.dev.Desc.Address == *address
		})
	}

	if len(channels) == 0 {
		log.Fatal("no device with a log channel interface found")
	}
	if len(channels) > 1 {
		log.Warn("multiple log channel interfaces found; using the first")
	}

	selected := channels[0]
	if selected.hasBulkEP {
		err = readBulkLoop(selected)
	} else {
		err = readControlLoop(selected)
	}
	if err != nil {
		log.WithError(err).Fatal("error reading from USB")
	}
}

// filterChannels keeps channels matching the predicate and closes the rest.
func filterChannels(channels []*channelInfo, keep func(*channelInfo) bool) []*channelInfo {
	kept := channels[:0]
	for _, c := range channels {
		if keep(c) {
			kept = append(kept, c)
		} else {
			c.dev.Close()
		}
	}
	return kept
}
