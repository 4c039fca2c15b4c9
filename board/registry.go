package board

import (
	"fmt"
	"sort"
	"strconv"

	"go.bug.st/serial/enumerator"
)

// Config selects and parameterizes a board
type Config struct {
	Type         string  // Registered board name, or "auto" to probe serial ports
	Port         string  // Serial port name; empty to find by VID/PID
	SamplingRate float64 // Samples per second
	Channels     int
	VendorID     uint16 // USB ids for boards without a fixed VID/PID
	ProductID    uint16
	Noise        float64 // Synthetic board: noise amplitude
	Seed         int64   // Synthetic board: random seed, 0 for time based
	Realtime     bool    // Synthetic board: pace reads at the sampling rate
}

// Factory creates a board from configuration.
// Port details are nil unless the board was found by serial probing.
type Factory func(cfg Config, portDetails *enumerator.PortDetails) (Board, error)

// Info contains information about a board type
type Info struct {
	Name      string
	VendorID  uint16 // Zero for boards not attached as serial ports
	ProductID uint16
	Factory   Factory
}

var registeredBoards = map[string]Info{}

// Register registers a board factory under its name
func Register(name string, factory Factory) {
	registeredBoards[name] = Info{Name: name, Factory: factory}
}

// RegisterSerial registers a board which shows up as a USB serial port
func RegisterSerial(name string, vendorID, productID uint16, factory Factory) {
	registeredBoards[name] = Info{
		Name:      name,
		VendorID:  vendorID,
		ProductID: productID,
		Factory:   factory,
	}
}

// Registered returns all registered boards sorted by name
func Registered() []Info {
	list := make([]Info, 0, len(registeredBoards))
	for _, info := range registeredBoards {
		list = append(list, info)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// Open creates the board selected by cfg.Type
func Open(cfg Config) (Board, error) {
	if cfg.Type == "auto" {
		return detect(cfg)
	}
	info, ok := registeredBoards[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("unknown board type %q", cfg.Type)
	}
	return info.Factory(cfg, nil)
}

// detect attempts to find a registered serial board among attached ports.
// Returns the initialized board or an error if none is found.
func detect(cfg Config) (Board, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list serial ports: %v", ErrConnection, err)
	}

	for _, port := range ports {
		vid, pid, ok := usbIDs(port)
		if !ok {
			continue
		}
		for _, info := range Registered() {
			if info.VendorID == 0 && info.ProductID == 0 {
				continue // Not a serial board
			}
			if vid == info.VendorID && pid == info.ProductID {
				c := cfg
				c.Type = info.Name
				c.Port = port.Name
				b, err := info.Factory(c, port)
				if err != nil {
					continue // Try next port
				}
				return b, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: no supported USB board found", ErrConnection)
}

// FindSerialPort returns the first USB serial port with given ids
func FindSerialPort(vendorID, productID uint16) (*enumerator.PortDetails, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list serial ports: %v", ErrConnection, err)
	}
	for _, port := range ports {
		vid, pid, ok := usbIDs(port)
		if ok && vid == vendorID && pid == productID {
			return port, nil
		}
	}
	return nil, fmt.Errorf("%w: no USB serial port %04x:%04x found", ErrConnection, vendorID, productID)
}

func usbIDs(port *enumerator.PortDetails) (vid, pid uint16, ok bool) {
	if !port.IsUSB {
		return 0, 0, false
	}
	v, err := strconv.ParseUint(port.VID, 16, 16)
	if err != nil {
		return 0, 0, false
	}
	p, err := strconv.ParseUint(port.PID, 16, 16)
	if err != nil {
		return 0, 0, false
	}
	return uint16(v), uint16(p), true
}
