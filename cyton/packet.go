package cyton

import "fmt"

// Data packet layout
const (
	PacketSize  = 33
	packetStart = 0xA0
	footerFirst = 0xC0 // Footer is 0xCX, X selects the aux data format
	footerLast  = 0xCF
)

// ADS1299 scale: 4.5 V reference, gain 24, 24-bit signed samples
const (
	Gain            = 24
	ScaleMicrovolts = 4.5 / Gain / (1<<23 - 1) * 1e6
)

// Packet is one decoded sample of all channels
type Packet struct {
	SampleNumber byte
	Counts       [Channels]int32
	Aux          [6]byte
	Footer       byte
}

// Microvolts returns the channel values in µV
func (p *Packet) Microvolts() [Channels]float64 {
	var uv [Channels]float64
	for i, c := range p.Counts {
		uv[i] = float64(c) * ScaleMicrovolts
	}
	return uv
}

// int24 converts a 24-bit big endian two's complement value
func int24(b []byte) int32 {
	v := int32(b[0])<<16 | int32(b[1])<<8 | int32(b[2])
	if v&0x800000 != 0 {
		v -= 1 << 24
	}
	return v
}

// parsePacket decodes a 33-byte packet
func parsePacket(b []byte) (Packet, error) {
	if len(b) != PacketSize {
		return Packet{}, fmt.Errorf("invalid packet size: %d bytes (expected %d)", len(b), PacketSize)
	}
	if b[0] != packetStart {
		return Packet{}, fmt.Errorf("invalid packet header: 0x%02x", b[0])
	}
	if b[PacketSize-1] < footerFirst || b[PacketSize-1] > footerLast {
		return Packet{}, fmt.Errorf("invalid packet footer: 0x%02x", b[PacketSize-1])
	}
	p := Packet{SampleNumber: b[1], Footer: b[PacketSize-1]}
	for ch := 0; ch < Channels; ch++ {
		p.Counts[ch] = int24(b[2+3*ch:])
	}
	copy(p.Aux[:], b[26:32])
	return p, nil
}

// decoder finds packets in the byte stream. Bytes which do not start
// a valid packet are skipped, so the stream resynchronizes after noise.
type decoder struct {
	buf     []byte
	skipped int
	last    byte
	started bool
	lost    int // Packets missing according to sample numbers
}

func (d *decoder) feed(b []byte) {
	d.buf = append(d.buf, b...)
}

// next returns the next complete packet, if any
func (d *decoder) next() (Packet, bool) {
	for len(d.buf) >= PacketSize {
		if d.buf[0] != packetStart {
			d.buf = d.buf[1:]
			d.skipped++
			continue
		}
		p, err := parsePacket(d.buf[:PacketSize])
		if err != nil {
			d.buf = d.buf[1:]
			d.skipped++
			continue
		}
		d.buf = d.buf[PacketSize:]
		if d.started {
			if gap := int(p.SampleNumber - d.last - 1); gap > 0 {
				d.lost += gap
			}
		}
		d.last = p.SampleNumber
		d.started = true
		return p, true
	}
	// Keep the buffer from growing when the stream is garbage
	if cap(d.buf) > 4*PacketSize && len(d.buf) < PacketSize {
		d.buf = append([]byte(nil), d.buf...)
	}
	return Packet{}, false
}
