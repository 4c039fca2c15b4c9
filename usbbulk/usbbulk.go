// Package usbbulk reads EEG boards attached as vendor specific USB
// devices. The board streams frames of little endian float32 samples,
// one per channel, over a bulk IN endpoint.
package usbbulk

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/gousb"
	"go.bug.st/serial/enumerator"

	"github.com/sergev/bci/board"
)

const (
	Name      = "usbbulk"
	Interface = 0

	EndpointBulkOut = 0x01
	EndpointBulkIn  = 0x81

	ReadBufferSize = 4096
	sampleSize     = 4 // float32
)

// Commands accepted on the bulk OUT endpoint
const (
	cmdStart = 'b'
	cmdStop  = 's'
)

// Silence which fails the stream
var dataTimeout = 2 * time.Second

// Device is the transport used by the board
type Device interface {
	ReadContext(ctx context.Context, p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Board is a bulk streaming board with configured ids and geometry
type Board struct {
	vendorID  uint16
	productID uint16
	rate      float64
	channels  int
	open      func(vendorID, productID uint16) (Device, error)

	mu        sync.Mutex
	dev       Device
	streaming bool
	ctx       context.Context
	cancel    context.CancelFunc
	dec       decoder
	seq       uint64
}

func init() {
	board.Register(Name, func(cfg board.Config, _ *enumerator.PortDetails) (board.Board, error) {
		return New(cfg)
	})
}

// New creates a board from configuration. No I/O happens until Connect.
func New(cfg board.Config) (*Board, error) {
	if cfg.VendorID == 0 || cfg.ProductID == 0 {
		return nil, errors.New("usbbulk board needs vendor_id and product_id")
	}
	if cfg.SamplingRate <= 0 {
		return nil, fmt.Errorf("usbbulk board has invalid sampling rate: %v", cfg.SamplingRate)
	}
	if cfg.Channels <= 0 {
		return nil, fmt.Errorf("usbbulk board has invalid channel count: %d", cfg.Channels)
	}
	return &Board{
		vendorID:  cfg.VendorID,
		productID: cfg.ProductID,
		rate:      cfg.SamplingRate,
		channels:  cfg.Channels,
		open:      openUSB,
		dec:       decoder{channels: cfg.Channels},
	}, nil
}

func (b *Board) Name() string { return Name }
func (b *Board) SamplingRate() float64 { return b.rate }
func (b *Board) Channels() int { return b.channels }

// Connect opens the USB device and claims its interface
func (b *Board) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dev != nil {
		return nil
	}
	dev, err := b.open(b.vendorID, b.productID)
	if err != nil {
		return fmt.Errorf("%w: %v", board.ErrConnection, err)
	}
	b.dev = dev
	slog.Debug("usb board connected",
		slog.String("vid", fmt.Sprintf("%04x", b.vendorID)),
		slog.String("pid", fmt.Sprintf("%04x", b.productID)))
	return nil
}

// StartStream sends the start command
func (b *Board) StartStream() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dev == nil {
		return fmt.Errorf("%w: usb board is not connected", board.ErrConnection)
	}
	if b.streaming {
		return nil
	}
	if _, err := b.dev.Write([]byte{cmdStart}); err != nil {
		return fmt.Errorf("%w: failed to write start command: %v", board.ErrStream, err)
	}
	b.streaming = true
	b.ctx, b.cancel = context.WithCancel(context.Background())
	b.dec = decoder{channels: b.channels}
	return nil
}

// ReadChunk reads n frames. A pending bulk transfer is cancelled by StopStream.
func (b *Board) ReadChunk(n int) (board.Chunk, error) {
	if n <= 0 {
		return board.Chunk{}, fmt.Errorf("%w: invalid chunk size %d", board.ErrStream, n)
	}
	b.mu.Lock()
	dev, ctx, streaming := b.dev, b.ctx, b.streaming
	b.mu.Unlock()
	if !streaming {
		return board.Chunk{}, board.ErrStreamStopped
	}

	samples := make([][]float64, b.channels)
	for ch := range samples {
		samples[ch] = make([]float64, 0, n)
	}
	buf := make([]byte, ReadBufferSize)
	for len(samples[0]) < n {
		if b.dec.next(samples) {
			continue
		}
		readCtx, cancel := context.WithTimeout(ctx, dataTimeout)
		k, err := dev.ReadContext(readCtx, buf)
		cancel()
		if ctx.Err() != nil {
			return board.Chunk{}, board.ErrStreamStopped
		}
		if err != nil {
			if errors.Is(readCtx.Err(), context.DeadlineExceeded) {
				return board.Chunk{}, fmt.Errorf("%w: no data from usb board for %v", board.ErrStream, dataTimeout)
			}
			return board.Chunk{}, fmt.Errorf("%w: bulk read failed: %v", board.ErrStream, err)
		}
		b.dec.feed(buf[:k])
	}

	b.mu.Lock()
	b.seq++
	seq := b.seq
	b.mu.Unlock()
	return board.Chunk{Samples: samples, Seq: seq}, nil
}

// StopStream cancels pending reads and sends the stop command
func (b *Board) StopStream() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.streaming {
		return nil
	}
	b.streaming = false
	b.cancel()
	if _, err := b.dev.Write([]byte{cmdStop}); err != nil {
		return fmt.Errorf("%w: failed to write stop command: %v", board.ErrStream, err)
	}
	return nil
}

// Disconnect releases the interface and closes the device
func (b *Board) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dev == nil {
		return nil
	}
	err := b.dev.Close()
	b.dev = nil
	if err != nil {
		return fmt.Errorf("failed to close usb device: %w", err)
	}
	return nil
}

// PrintStatus prints board information to stdout
func (b *Board) PrintStatus() {
	fmt.Printf("Board: USB bulk streaming\n")
	fmt.Printf("USB ID: %04x:%04x\n", b.vendorID, b.productID)
	fmt.Printf("Sampling Rate: %g Hz\n", b.rate)
	fmt.Printf("Channels: %d\n", b.channels)
}

// decoder splits the byte stream into frames
type decoder struct {
	channels int
	buf      []byte
}

func (d *decoder) feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// next appends one frame to samples, if a whole frame is buffered
func (d *decoder) next(samples [][]float64) bool {
	frame := d.channels * sampleSize
	if len(d.buf) < frame {
		return false
	}
	for ch := 0; ch < d.channels; ch++ {
		bits := binary.LittleEndian.Uint32(d.buf[ch*sampleSize:])
		samples[ch] = append(samples[ch], float64(math.Float32frombits(bits)))
	}
	d.buf = d.buf[frame:]
	if len(d.buf) == 0 {
		d.buf = d.buf[:0:0]
	}
	return true
}

// EncodeFrame packs one sample of every channel the way the board sends it
func EncodeFrame(values []float32) []byte {
	out := make([]byte, len(values)*sampleSize)
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*sampleSize:], math.Float32bits(v))
	}
	return out
}

// usbDevice holds an open device with its claimed interface
type usbDevice struct {
	ctx     *gousb.Context
	dev     *gousb.Device
	done    func()
	bulkOut *gousb.OutEndpoint
	bulkIn  *gousb.InEndpoint
}

func openUSB(vendorID, productID uint16) (Device, error) {
	ctx := gousb.NewContext()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return uint16(desc.Vendor) == vendorID && uint16(desc.Product) == productID
	})
	if err != nil {
		for _, d := range devs {
			d.Close()
		}
		ctx.Close()
		return nil, fmt.Errorf("failed to enumerate USB devices: %w", err)
	}
	if len(devs) == 0 {
		ctx.Close()
		return nil, fmt.Errorf("USB board not found (VID=0x%04X PID=0x%04X)", vendorID, productID)
	}

	// Use the first matching device
	dev := devs[0]
	for i := 1; i < len(devs); i++ {
		devs[i].Close()
	}

	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("failed to get config 1: %w", err)
	}
	intf, err := cfg.Interface(Interface, 0)
	if err != nil {
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("failed to claim interface %d: %w", Interface, err)
	}
	done := func() {
		intf.Close()
		cfg.Close()
	}

	bulkOut, err := intf.OutEndpoint(EndpointBulkOut)
	if err != nil {
		done()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("failed to open bulk out endpoint: %w", err)
	}
	bulkIn, err := intf.InEndpoint(EndpointBulkIn)
	if err != nil {
		done()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("failed to open bulk in endpoint: %w", err)
	}

	return &usbDevice{
		ctx:     ctx,
		dev:     dev,
		done:    done,
		bulkOut: bulkOut,
		bulkIn:  bulkIn,
	}, nil
}

func (u *usbDevice) ReadContext(ctx context.Context, p []byte) (int, error) {
	return u.bulkIn.ReadContext(ctx, p)
}

func (u *usbDevice) Write(p []byte) (int, error) {
	return u.bulkOut.Write(p)
}

func (u *usbDevice) Close() error {
	u.done()
	err := u.dev.Close()
	if cerr := u.ctx.Close(); err == nil {
		err = cerr
	}
	return err
}
