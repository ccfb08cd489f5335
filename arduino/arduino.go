// Package arduino implements wire protocol A, the packed framed ASCII
// command set spoken by the ArduinoFloppyReader sketch. The command layer
// below is grounded on ArduinoInterface.cpp's runCommand/selectTrack/
// readCurrentTrackStream family, reusing the adapter registry and
// go.bug.st/serial the way greaseweazle.init() does for protocol B.
package arduino

import (
	"bufio"
	"fmt"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/sergev/fdxbridge/adapter"
	"github.com/sergev/fdxbridge/bridge"
)

// VendorID/ProductID identify a generic Arduino Uno/Nano CDC-ACM adapter.
// There is no single canonical VID/PID for the ArduinoFloppyReader project
// (it runs on whatever genuine or clone Arduino the builder has); this is
// the FTDI-free Arduino.cc Uno value, used as a placeholder the way the
// other adapters here are keyed off their own vendor's USB IDs.
const (
	VendorID  = 0x2341
	ProductID = 0x0043
)

const baudRate = 2000000

// Command bytes, protocol A.
const (
	cmdVersion      = '?'
	cmdRewind       = '.'
	cmdGotoTrack    = '#'
	cmdGotoTrackRpt = '='
	cmdHead0        = '['
	cmdHead1        = ']'
	cmdEnable       = '+'
	cmdEnableNoWait = '*'
	cmdDisable      = '-'
	cmdReadStream   = '{'
	cmdWritePrecomp = '}'
	cmdDiskPresent  = '^'
	cmdWriteProtect = '$'
	cmdAbort        = 'x'
)

// Response bytes.
const (
	respOK             = '1'
	respError          = '0'
	respWriteTimeout   = 'X'
	respFramingError   = 'Y'
	respOverrun        = 'Z'
	respWriteProtected = 'N'
)

const numCylinders = 82

// Client speaks protocol A over a serial CDC-ACM link to an Arduino running
// the ArduinoFloppyReader sketch.
type Client struct {
	port         serial.Port
	reader       *bufio.Reader
	serialNumber string

	version      string
	aborting     bool
	lastCylinder int
}

func init() {
	adapter.RegisterAdapter(VendorID, ProductID, NewClient)
}

// NewClient opens the serial port at the protocol's fixed 2 Mbaud rate and
// queries the firmware version, following greaseweazle.NewClient's shape.
func NewClient(portDetails *enumerator.PortDetails) (adapter.FloppyAdapter, error) {
	mode := &serial.Mode{BaudRate: baudRate}
	port, err := serial.Open(portDetails.Name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portDetails.Name, err)
	}

	client := &Client{
		port:         port,
		reader:       bufio.NewReader(port),
		serialNumber: portDetails.SerialNumber,
	}

	version, err := client.fetchVersion()
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to read firmware version: %w", err)
	}
	client.version = version

	return client, nil
}

// fetchVersion sends the version query and reads back "V<major>.<minor>".
func (c *Client) fetchVersion() (string, error) {
	if err := c.writeByte(cmdVersion); err != nil {
		return "", err
	}
	header, err := c.reader.ReadByte()
	if err != nil {
		return "", fmt.Errorf("failed to read version header: %w", err)
	}
	if header != 'V' {
		return "", fmt.Errorf("malformed version response: 0x%02x", header)
	}
	major, err := c.reader.ReadByte()
	if err != nil {
		return "", fmt.Errorf("failed to read version major: %w", err)
	}
	sep, err := c.reader.ReadByte()
	if err != nil {
		return "", fmt.Errorf("failed to read version separator: %w", err)
	}
	if sep != '.' && sep != ',' {
		return "", fmt.Errorf("malformed version separator: 0x%02x", sep)
	}
	minor, err := c.reader.ReadByte()
	if err != nil {
		return "", fmt.Errorf("failed to read version minor: %w", err)
	}
	return fmt.Sprintf("%c.%c", major, minor), nil
}

func (c *Client) writeByte(b byte) error {
	_, err := c.port.Write([]byte{b})
	if err != nil {
		return bridge.NewDeviceError(bridge.ErrSendFailed, string(b), err)
	}
	return nil
}

func (c *Client) write(data []byte) error {
	_, err := c.port.Write(data)
	if err != nil {
		return bridge.NewDeviceError(bridge.ErrSendFailed, "write", err)
	}
	return nil
}

// runCommand sends a single command byte plus an optional parameter payload
// and reads back one ASCII response byte, translating the well-known error
// codes into DeviceError kinds.
func (c *Client) runCommand(cmd byte, param []byte) (byte, error) {
	buf := make([]byte, 0, 1+len(param))
	buf = append(buf, cmd)
	buf = append(buf, param...)
	if err := c.write(buf); err != nil {
		return 0, err
	}
	resp, err := c.reader.ReadByte()
	if err != nil {
		return 0, bridge.NewDeviceError(bridge.ErrReadResponseFailed, string(cmd), err)
	}
	switch resp {
	case respOK:
		return resp, nil
	case respWriteTimeout:
		return resp, bridge.NewDeviceError(bridge.ErrWriteTimeout, string(cmd), nil)
	case respFramingError:
		return resp, bridge.NewDeviceError(bridge.ErrFramingError, string(cmd), nil)
	case respOverrun:
		return resp, bridge.NewDeviceError(bridge.ErrSerialOverrun, string(cmd), nil)
	case respWriteProtected:
		return resp, bridge.NewDeviceError(bridge.ErrWriteProtected, string(cmd), nil)
	case respError:
		return resp, bridge.NewDeviceError(bridge.ErrStatusError, string(cmd), nil)
	default:
		return resp, bridge.NewDeviceError(bridge.ErrUnknown, string(cmd), fmt.Errorf("unexpected response byte 0x%02x", resp))
	}
}
