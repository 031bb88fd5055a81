package serialbridge

import (
	"io"

	"go.bug.st/serial"
)

// Porter is the minimal interface the bridge needs from a serial port. The
// abstraction enables unit testing without vehicle hardware.
type Porter interface {
	io.ReadWriter
	io.Closer
}

// PortMode holds the serial line configuration.
type PortMode struct {
	BaudRate int
	DataBits int
}

// DefaultPortMode returns the mode used by the vehicle gateway.
func DefaultPortMode() *PortMode {
	return &PortMode{
		BaudRate: 115200,
		DataBits: 8,
	}
}

// OpenPort opens a real serial port at the given path.
func OpenPort(path string, mode *PortMode) (Porter, error) {
	if mode == nil {
		mode = DefaultPortMode()
	}
	return serial.Open(path, &serial.Mode{
		BaudRate: mode.BaudRate,
		DataBits: mode.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
}
