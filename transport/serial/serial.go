// Package serial implements the serial-port OpenWebNet transport (spec
// §4.3) for Nitoo and bus gateways reachable over a local RS-232/RS-485
// port rather than a network socket.
package serial

import (
	"fmt"

	"go.bug.st/serial"

	"go.openwebnet.dev/gateway/transport"
)

// alias it to a private type so we can make it private when embedding, the
// same trick the teacher uses for its ssh/tls transports.
type framer = transport.Framer

// Transport implements transport.Transport over a local serial port.
type Transport struct {
	port serial.Port
	*framer
}

// Settings configures the serial port parameters (spec §3
// GatewayOptions/TransportDescriptor).
type Settings struct {
	Device   string
	BaudRate int
	DataBits int
	Parity   string // "N", "E", "O"
	StopBits float64
}

func (s Settings) mode() (*serial.Mode, error) {
	mode := &serial.Mode{BaudRate: s.BaudRate, DataBits: s.DataBits}

	switch s.Parity {
	case "", "N":
		mode.Parity = serial.NoParity
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		return nil, fmt.Errorf("serial: unsupported parity %q", s.Parity)
	}

	switch s.StopBits {
	case 0, 1:
		mode.StopBits = serial.OneStopBit
	case 1.5:
		mode.StopBits = serial.OnePointFiveStopBits
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("serial: unsupported stop bits %v", s.StopBits)
	}

	return mode, nil
}

// Open opens the serial port named by s.Device with the given settings.
func Open(s Settings) (*Transport, error) {
	mode, err := s.mode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(s.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", s.Device, err)
	}

	return &Transport{
		port:   port,
		framer: transport.NewFramer(port, port),
	}, nil
}

// Close closes the underlying serial port.
func (t *Transport) Close() error {
	return t.port.Close()
}
