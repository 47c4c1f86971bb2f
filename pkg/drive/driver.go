package drive

import (
	"fmt"
	"sync"

	"go.bug.st/serial"
)

// MemoryDriver keeps the last written duty per channel. It backs the
// simulated rover and the tests.
type MemoryDriver struct {
	mu     sync.Mutex
	duty   [channelCount]uint8
	writes int
}

// NewMemoryDriver creates an in-memory driver
func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{}
}

func (d *MemoryDriver) Write(ch Channel, duty uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.duty[ch] = duty
	d.writes++
	return nil
}

func (d *MemoryDriver) Close() error { return nil }

// Duty returns the last value written to ch
func (d *MemoryDriver) Duty(ch Channel) uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.duty[ch]
}

// Writes returns the number of writes seen
func (d *MemoryDriver) Writes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writes
}

// serialFrameStart marks the beginning of a PWM bridge frame
const serialFrameStart = 0xA5

// SerialDriver sends duty updates to a PWM bridge microcontroller.
// Each update is a 4-byte frame: 0xA5, channel, duty, checksum where the
// checksum is the XOR of the three preceding bytes.
type SerialDriver struct {
	mu   sync.Mutex
	port serial.Port
}

// OpenSerialDriver opens portName at baudRate, 8N1
func OpenSerialDriver(portName string, baudRate int) (*SerialDriver, error) {
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port '%s': %w", portName, err)
	}
	return &SerialDriver{port: port}, nil
}

// EncodeFrame builds the bridge frame for one duty update
func EncodeFrame(ch Channel, duty uint8) [4]byte {
	b0, b1, b2 := byte(serialFrameStart), byte(ch), duty
	return [4]byte{b0, b1, b2, b0 ^ b1 ^ b2}
}

func (d *SerialDriver) Write(ch Channel, duty uint8) error {
	frame := EncodeFrame(ch, duty)
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.port.Write(frame[:])
	if err != nil {
		return fmt.Errorf("serial write: %w", err)
	}
	if n != len(frame) {
		return fmt.Errorf("serial write: short write %d/%d", n, len(frame))
	}
	return nil
}

func (d *SerialDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.port.Close()
}

// ListSerialPorts returns the serial ports present on the host
func ListSerialPorts() ([]string, error) {
	return serial.GetPortsList()
}
