package strip

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// WS2812 timing is produced on the SPI MOSI line: at 2.4MHz every data bit
// becomes three SPI bits, 110 for one and 100 for zero.
const (
	spiFrequency = 2400 * physic.KiloHertz
	bytesPerLED  = 9
	// Longer than the 280us latch of newer WS2812B parts
	resetBytes = 90
)

// Txer is the part of spi.Conn the driver uses.
type Txer interface {
	Tx(w, r []byte) error
}

// WS2812 drives a chain of WS2812 pixels in GRB order.
type WS2812 struct {
	buffer
	gate gate
	conn Txer
	port spi.PortCloser
	out  []byte
}

// OpenWS2812 initialises the host drivers and opens an SPI port by name.
// An empty name selects the first port.
func OpenWS2812(portName string, pixels int) (*WS2812, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	port, err := spireg.Open(portName)
	if err != nil {
		return nil, fmt.Errorf("open spi port %q: %w", portName, err)
	}
	conn, err := port.Connect(spiFrequency, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("connect spi port %q: %w", portName, err)
	}

	s := NewWS2812(conn, pixels)
	s.port = port
	return s, nil
}

// NewWS2812 creates a driver writing to conn.
func NewWS2812(conn Txer, pixels int) *WS2812 {
	return &WS2812{
		buffer: newBuffer(pixels),
		gate:   newGate(),
		conn:   conn,
		out:    make([]byte, pixels*bytesPerLED+resetBytes),
	}
}

// Refresh encodes the buffer and clocks it out.
func (s *WS2812) Refresh(timeout time.Duration) error {
	if err := s.gate.acquire(timeout); err != nil {
		return err
	}
	defer s.gate.release()

	for i, c := range s.snapshot() {
		off := i * bytesPerLED
		encodeByte(s.out[off:], c.G)
		encodeByte(s.out[off+3:], c.R)
		encodeByte(s.out[off+6:], c.B)
	}
	return s.conn.Tx(s.out, nil)
}

// Clear blanks the buffer and the chain.
func (s *WS2812) Clear(timeout time.Duration) error {
	s.blank()
	return s.Refresh(timeout)
}

// Close releases the SPI port.
func (s *WS2812) Close() error {
	if s.port == nil {
		return nil
	}
	return s.port.Close()
}

// encodeByte writes the 24-bit SPI pattern of v into dst[0:3], MSB first.
func encodeByte(dst []byte, v uint8) {
	var pattern uint32
	for bit := 7; bit >= 0; bit-- {
		pattern <<= 3
		if v&(1<<bit) != 0 {
			pattern |= 0b110
		} else {
			pattern |= 0b100
		}
	}
	dst[0] = byte(pattern >> 16)
	dst[1] = byte(pattern >> 8)
	dst[2] = byte(pattern)
}
