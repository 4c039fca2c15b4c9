// Package cyton drives the OpenBCI Cyton board through its USB dongle.
package cyton

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/sergev/bci/board"
)

const (
	Name         = "cyton"
	VendorID     = 0x0403 // FTDI
	ProductID    = 0x6015 // FT231X on the OpenBCI dongle
	BaudRate     = 115200
	SamplingRate = 250
	Channels     = 8
)

// Commands of the Cyton firmware
const (
	cmdReset = 'v'
	cmdStart = 'b'
	cmdStop  = 's'
)

// Timeouts
var (
	readTimeout  = 100 * time.Millisecond // Poll interval of a blocked read
	resetTimeout = 3 * time.Second        // Wait for the "$$$" prompt after reset
	dataTimeout  = 2 * time.Second        // Silence which fails the stream
)

// Port is the part of serial.Port used by the board
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	Close() error
}

// Board is a Cyton connected through a serial port
type Board struct {
	portName     string
	serialNumber string
	open         func(name string) (Port, error)

	mu        sync.Mutex
	port      Port
	firmware  string
	streaming bool
	stop      chan struct{}
	dec       decoder
	seq       uint64
}

func init() {
	board.RegisterSerial(Name, VendorID, ProductID, func(cfg board.Config, portDetails *enumerator.PortDetails) (board.Board, error) {
		if cfg.SamplingRate != 0 && cfg.SamplingRate != SamplingRate {
			return nil, fmt.Errorf("cyton samples at %d Hz, not %v", SamplingRate, cfg.SamplingRate)
		}
		if cfg.Channels != 0 && cfg.Channels != Channels {
			return nil, fmt.Errorf("cyton has %d channels, not %d", Channels, cfg.Channels)
		}
		if portDetails == nil && cfg.Port == "" {
			vid, pid := uint16(VendorID), uint16(ProductID)
			if cfg.VendorID != 0 {
				vid, pid = cfg.VendorID, cfg.ProductID
			}
			p, err := board.FindSerialPort(vid, pid)
			if err != nil {
				return nil, err
			}
			portDetails = p
		}
		b := New(cfg.Port)
		if portDetails != nil {
			b.portName = portDetails.Name
			b.serialNumber = portDetails.SerialNumber
		}
		return b, nil
	})
}

// New creates a board on the named serial port. No I/O happens until Connect.
func New(portName string) *Board {
	return &Board{
		portName: portName,
		open: func(name string) (Port, error) {
			return serial.Open(name, &serial.Mode{BaudRate: BaudRate})
		},
	}
}

func (b *Board) Name() string { return Name }
func (b *Board) SamplingRate() float64 { return SamplingRate }
func (b *Board) Channels() int { return Channels }

// Connect opens the serial port and resets the board
func (b *Board) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.port != nil {
		return nil
	}
	port, err := b.open(b.portName)
	if err != nil {
		return fmt.Errorf("%w: failed to open serial port %s: %v", board.ErrConnection, b.portName, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return fmt.Errorf("%w: failed to set read timeout: %v", board.ErrConnection, err)
	}

	banner, err := b.reset(port)
	if err != nil {
		port.Close()
		return fmt.Errorf("%w: %v", board.ErrConnection, err)
	}
	b.port = port
	b.firmware = firmwareLine(banner)
	slog.Debug("cyton connected", slog.String("port", b.portName), slog.String("firmware", b.firmware))
	return nil
}

// reset sends the soft reset command and collects the board's
// banner up to the "$$$" prompt
func (b *Board) reset(port Port) ([]byte, error) {
	if err := port.ResetInputBuffer(); err != nil {
		return nil, fmt.Errorf("failed to flush input: %w", err)
	}
	if _, err := port.Write([]byte{cmdReset}); err != nil {
		return nil, fmt.Errorf("failed to write reset command: %w", err)
	}

	var banner []byte
	buf := make([]byte, 256)
	deadline := time.Now().Add(resetTimeout)
	for time.Now().Before(deadline) {
		n, err := port.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("failed to read reset response: %w", err)
		}
		banner = append(banner, buf[:n]...)
		if bytes.Contains(banner, []byte("$$$")) {
			return banner, nil
		}
	}
	return nil, errors.New("no response from board, is it switched on?")
}

// firmwareLine picks the firmware version from the reset banner
func firmwareLine(banner []byte) string {
	for _, line := range bytes.Split(banner, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if bytes.HasPrefix(line, []byte("Firmware:")) {
			return string(bytes.TrimSpace(line[len("Firmware:"):]))
		}
	}
	return "unknown"
}

// StartStream starts the binary data stream
func (b *Board) StartStream() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.port == nil {
		return fmt.Errorf("%w: cyton is not connected", board.ErrConnection)
	}
	if b.streaming {
		return nil
	}
	if _, err := b.port.Write([]byte{cmdStart}); err != nil {
		return fmt.Errorf("%w: failed to write start command: %v", board.ErrStream, err)
	}
	b.streaming = true
	b.stop = make(chan struct{})
	b.dec = decoder{}
	return nil
}

// ReadChunk reads n samples of every channel. A blocked read notices
// StopStream within one read timeout.
func (b *Board) ReadChunk(n int) (board.Chunk, error) {
	if n <= 0 {
		return board.Chunk{}, fmt.Errorf("%w: invalid chunk size %d", board.ErrStream, n)
	}
	b.mu.Lock()
	port, stop, streaming := b.port, b.stop, b.streaming
	b.mu.Unlock()
	if !streaming {
		return board.Chunk{}, board.ErrStreamStopped
	}

	samples := make([][]float64, Channels)
	for ch := range samples {
		samples[ch] = make([]float64, 0, n)
	}
	buf := make([]byte, 512)
	lastData := time.Now()
	for len(samples[0]) < n {
		// Drain whole packets before touching the port
		if p, ok := b.dec.next(); ok {
			for ch, v := range p.Microvolts() {
				samples[ch] = append(samples[ch], v)
			}
			continue
		}

		select {
		case <-stop:
			return board.Chunk{}, board.ErrStreamStopped
		default:
		}
		k, err := port.Read(buf)
		if err != nil {
			select {
			case <-stop:
				return board.Chunk{}, board.ErrStreamStopped
			default:
			}
			return board.Chunk{}, fmt.Errorf("%w: serial read failed: %v", board.ErrStream, err)
		}
		if k == 0 {
			if time.Since(lastData) > dataTimeout {
				return board.Chunk{}, fmt.Errorf("%w: no data from cyton for %v", board.ErrStream, dataTimeout)
			}
			continue
		}
		lastData = time.Now()
		b.dec.feed(buf[:k])
	}

	b.mu.Lock()
	b.seq++
	seq := b.seq
	b.mu.Unlock()
	return board.Chunk{Samples: samples, Seq: seq}, nil
}

// StopStream stops the data stream and wakes a blocked ReadChunk
func (b *Board) StopStream() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.streaming {
		return nil
	}
	b.streaming = false
	close(b.stop)
	if _, err := b.port.Write([]byte{cmdStop}); err != nil {
		return fmt.Errorf("%w: failed to write stop command: %v", board.ErrStream, err)
	}
	return nil
}

// Disconnect closes the serial port
func (b *Board) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.port == nil {
		return nil
	}
	if b.dec.lost > 0 || b.dec.skipped > 0 {
		slog.Warn("cyton stream had errors",
			slog.Int("lost_packets", b.dec.lost),
			slog.Int("skipped_bytes", b.dec.skipped))
	}
	err := b.port.Close()
	b.port = nil
	if err != nil {
		return fmt.Errorf("failed to close serial port: %w", err)
	}
	return nil
}

// PrintStatus prints board information to stdout
func (b *Board) PrintStatus() {
	fmt.Printf("Board: OpenBCI Cyton\n")
	fmt.Printf("Port: %s\n", b.portName)
	if b.serialNumber != "" {
		fmt.Printf("Serial Number: %s\n", b.serialNumber)
	}
	b.mu.Lock()
	firmware := b.firmware
	b.mu.Unlock()
	if firmware != "" {
		fmt.Printf("Firmware Version: %s\n", firmware)
	}
	fmt.Printf("Sampling Rate: %d Hz\n", SamplingRate)
	fmt.Printf("Channels: %d\n", Channels)
}
