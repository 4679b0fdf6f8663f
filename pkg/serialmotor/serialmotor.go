// Package serialmotor talks to a microcontroller that owns the motor drivers
// and encoders, using a line-based protocol over a serial port:
//
//	R              reset all channels          -> OK
//	T<ch> <pct>    set throttle on a channel   -> OK
//	Q<ch>          query a channel             -> <rpm> <pulses>
//
// Any command may instead be answered with "E <message>".
package serialmotor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
)

const DefaultReplyTimeout = 500 * time.Millisecond

var ErrTimeout = errors.New("timed out waiting for reply")

type Bus struct {
	port io.ReadWriteCloser

	lock   sync.Mutex
	reader *bufio.Reader
}

// Open opens the serial device, e.g. /dev/ttyACM0.
func Open(device string, baud int) (*Bus, error) {
	mode := &serial.Mode{
		BaudRate: baud,
	}
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open serial port %s", device)
	}
	if err := port.SetReadTimeout(DefaultReplyTimeout); err != nil {
		_ = port.Close()
		return nil, errors.Wrap(err, "failed to set serial read timeout")
	}
	fmt.Printf("SER: Opened %s at %d baud\n", device, baud)
	return New(port), nil
}

// New wraps an already-open port.  Reads that return no data are treated as a
// reply timeout.
func New(port io.ReadWriteCloser) *Bus {
	return &Bus{
		port:   port,
		reader: bufio.NewReader(timeoutReader{port}),
	}
}

type timeoutReader struct {
	r io.Reader
}

func (t timeoutReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n == 0 && err == nil {
		return 0, ErrTimeout
	}
	return n, err
}

func (b *Bus) Reset() error {
	_, err := b.exchange("R")
	return err
}

func (b *Bus) SetThrottle(channel int, percent float64) error {
	_, err := b.exchange(fmt.Sprintf("T%d %.2f", channel, percent))
	return err
}

// Query returns the channel's current RPM and running pulse count.
func (b *Bus) Query(channel int) (rpm float64, pulses int64, err error) {
	reply, err := b.exchange(fmt.Sprintf("Q%d", channel))
	if err != nil {
		return 0, 0, err
	}
	fields := strings.Fields(reply)
	if len(fields) != 2 {
		return 0, 0, errors.Errorf("malformed query reply %q", reply)
	}
	rpm, err = strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "malformed RPM in reply %q", reply)
	}
	pulses, err = strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "malformed pulse count in reply %q", reply)
	}
	return rpm, pulses, nil
}

func (b *Bus) Close() error {
	return b.port.Close()
}

func (b *Bus) exchange(cmd string) (string, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if _, err := io.WriteString(b.port, cmd+"\n"); err != nil {
		return "", errors.Wrapf(err, "failed to send %q", cmd)
	}
	line, err := b.reader.ReadString('\n')
	if err != nil {
		// Drop any partial reply so the next exchange starts clean.
		b.reader.Reset(timeoutReader{b.port})
		return "", errors.Wrapf(err, "no reply to %q", cmd)
	}
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "E") {
		return "", errors.Errorf("%q failed: %s", cmd, strings.TrimSpace(strings.TrimPrefix(line, "E")))
	}
	return line, nil
}

// Motor is one channel of the bus.
type Motor struct {
	bus     *Bus
	channel int
	name    string
	once    sync.Once
	initErr error
}

func (b *Bus) Motor(name string, channel int) *Motor {
	return &Motor{bus: b, channel: channel, name: name}
}

func (m *Motor) Initialize(ctx context.Context) error {
	m.once.Do(func() {
		if err := m.bus.Reset(); err != nil {
			m.initErr = errors.Wrapf(err, "failed to reset %s motor", m.name)
			return
		}
		fmt.Printf("SER: %s motor on channel %d initialised\n", m.name, m.channel)
	})
	return m.initErr
}

func (m *Motor) SetThrottle(percent float64) error {
	return m.bus.SetThrottle(m.channel, percent)
}

func (m *Motor) RPM() (float64, error) {
	rpm, _, err := m.bus.Query(m.channel)
	return rpm, err
}

func (m *Motor) EncoderPulses() (int64, error) {
	_, pulses, err := m.bus.Query(m.channel)
	return pulses, err
}

// Close stops the channel.  The bus itself stays open.
func (m *Motor) Close() error {
	return m.bus.SetThrottle(m.channel, 0)
}
