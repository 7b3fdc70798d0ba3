// Package atmodem drives RUI3 style LoRaWAN AT modems over a serial port.
package atmodem

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/itohio/lorameter/pkg/region"
	"github.com/itohio/lorameter/pkg/uplink"
)

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("modem closed")
	// ErrTimeout is returned when the modem does not answer in time.
	ErrTimeout = errors.New("modem timeout")
	// ErrDataRateMismatch is returned when the modem keeps another data rate.
	ErrDataRateMismatch = errors.New("modem data rate mismatch")
)

// Ensure Modem implements the session interfaces.
var (
	_ uplink.Session   = (*Modem)(nil)
	_ uplink.Activator = (*Modem)(nil)
)

// ATError is a failed AT command.
type ATError struct {
	Command  string
	Response string
	Code     int
}

func (e *ATError) Error() string {
	return fmt.Sprintf("%s: %s (%d)", e.Command, e.Response, e.Code)
}

// Options configures a Modem.
type Options struct {
	Plan           region.Plan
	FPort          uint8
	CommandTimeout time.Duration // final response of a command
	TxTimeout      time.Duration // TX_DONE after AT+SEND
	Clock          clock.Clock
	Logger         log.Logger
}

// Event is an asynchronous +EVT line.
type Event struct {
	Name   string
	Fields []string
}

// Modem is a LoRaWAN session on an AT modem.
type Modem struct {
	rw   io.ReadWriteCloser
	opts Options

	cmdMu     sync.Mutex
	responses chan string
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once

	mu sync.Mutex
	dr uplink.DataRate

	logger log.Logger
}

// New wraps an already open connection and starts the line reader.
func New(rw io.ReadWriteCloser, opts Options) *Modem {
	if opts.CommandTimeout == 0 {
		opts.CommandTimeout = 5 * time.Second
	}
	if opts.TxTimeout == 0 {
		opts.TxTimeout = 30 * time.Second
	}
	if opts.FPort == 0 {
		opts.FPort = 1
	}
	if opts.Plan.Name == "" {
		opts.Plan = region.EU868
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}

	m := &Modem{
		rw:        rw,
		opts:      opts,
		responses: make(chan string, 16),
		events:    make(chan Event, 16),
		done:      make(chan struct{}),
		logger:    log.With(opts.Logger, "component", "atmodem"),
	}

	go m.readLines()

	return m
}

// Close closes the connection and stops the reader.
func (m *Modem) Close() error {
	var err error
	m.closeOnce.Do(func() {
		err = m.rw.Close()
		<-m.done
	})
	return err
}

// Begin checks that the modem answers.
func (m *Modem) Begin(ctx context.Context) error {
	var err error
	for i := 0; i < 3; i++ {
		if _, err = m.Command(ctx, "AT"); err == nil {
			return nil
		}
		if errors.Is(err, ErrClosed) || ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("modem not responding: %w", err)
}

// ActivateABP provisions the pre-shared session and the initial data rate.
func (m *Modem) ActivateABP(ctx context.Context, creds uplink.Credentials, initial uplink.DataRate) error {
	dr, err := m.opts.Plan.DataRate(initial.SpreadingFactor())
	if err != nil {
		return err
	}

	cmds := []string{
		"AT+NWM=1",
		"AT+NJM=0",
		"AT+CLASS=A",
		fmt.Sprintf("AT+BAND=%d", m.opts.Plan.ATBand),
		"AT+DEVADDR=" + strings.ToUpper(hex.EncodeToString(creds.DevAddr[:])),
		"AT+NWKSKEY=" + strings.ToUpper(hex.EncodeToString(creds.NwkSKey[:])),
		"AT+APPSKEY=" + strings.ToUpper(hex.EncodeToString(creds.AppSKey[:])),
		"AT+ADR=0",
		fmt.Sprintf("AT+DR=%d", dr),
	}
	for _, cmd := range cmds {
		if _, err := m.Command(ctx, cmd); err != nil {
			return fmt.Errorf("failed to activate: %w", err)
		}
	}
	m.setDataRate(initial)

	// older firmware answers AT+DR=? without a value
	if got, err := m.DataRate(ctx); err != nil {
		level.Warn(m.logger).Log("msg", "can't read back the data rate", "error", err)
	} else if got != initial {
		return fmt.Errorf("%w: modem reports %s, want %s", ErrDataRateMismatch, got, initial)
	}

	level.Info(m.logger).Log("msg", "session activated", "dev_addr", creds.DevAddrString(), "band", m.opts.Plan.Name, "data_rate", initial)
	return nil
}

// SetDutyCycle enables or disables duty cycle enforcement in the modem.
func (m *Modem) SetDutyCycle(ctx context.Context, enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	_, err := m.Command(ctx, fmt.Sprintf("AT+DCS=%d", v))
	return err
}

// SetDataRate selects the uplink data rate.
func (m *Modem) SetDataRate(ctx context.Context, dr uplink.DataRate) error {
	idx, err := m.opts.Plan.DataRate(dr.SpreadingFactor())
	if err != nil {
		return err
	}
	if _, err := m.Command(ctx, fmt.Sprintf("AT+DR=%d", idx)); err != nil {
		return err
	}
	m.setDataRate(dr)
	return nil
}

func (m *Modem) setDataRate(dr uplink.DataRate) {
	m.mu.Lock()
	m.dr = dr
	m.mu.Unlock()
}

// payloadLimit is the region limit at the current data rate, or the AT+SEND
// limit before one was set.
func (m *Modem) payloadLimit() int {
	m.mu.Lock()
	dr := m.dr
	m.mu.Unlock()

	limit, err := m.opts.Plan.MaxPayloadSize(dr.SpreadingFactor())
	if err != nil || limit > maxPayloadSize {
		return maxPayloadSize
	}
	return limit
}

// SendReceive sends an unconfirmed uplink and waits for the end of the
// receive windows. It returns the window of a downlink (1 or 2), 0 when
// nothing was received or a negative code.
func (m *Modem) SendReceive(ctx context.Context, payload []byte) int {
	if limit := m.payloadLimit(); len(payload) > limit {
		level.Error(m.logger).Log("msg", "payload too large", "size", len(payload), "max", limit)
		return CodePayloadTooLarge
	}

	m.drainEvents()

	cmd := fmt.Sprintf("AT+SEND=%d:%s", m.opts.FPort, strings.ToUpper(hex.EncodeToString(payload)))
	if _, err := m.Command(ctx, cmd); err != nil {
		level.Error(m.logger).Log("msg", "send rejected", "error", err)
		return codeOf(err)
	}

	timeout := m.opts.Clock.After(m.opts.TxTimeout)
	window := 0
	for {
		select {
		case ev := <-m.events:
			switch ev.Name {
			case evtRX1, evtRX2:
				window = 1
				if ev.Name == evtRX2 {
					window = 2
				}
				level.Debug(m.logger).Log("msg", "downlink", "window", window, "fields", strings.Join(ev.Fields, ":"))
			case evtTxDone:
				return window
			case evtSendErr:
				return CodeError
			default:
				level.Debug(m.logger).Log("msg", "ignored event", "event", ev.Name)
			}
		case <-timeout:
			return CodeTimeout
		case <-m.done:
			return CodeClosed
		case <-ctx.Done():
			return CodeTimeout
		}
	}
}

// Command sends an AT command and returns its data lines once the final
// OK arrives.
func (m *Modem) Command(ctx context.Context, cmd string) ([]string, error) {
	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()

	select {
	case <-m.done:
		return nil, ErrClosed
	default:
	}

	m.drainResponses()

	level.Debug(m.logger).Log("msg", "tx", "cmd", redact(cmd))
	if _, err := m.rw.Write([]byte(cmd + "\r\n")); err != nil {
		return nil, &ATError{Command: redact(cmd), Response: err.Error(), Code: CodeIO}
	}

	timeout := m.opts.Clock.After(m.opts.CommandTimeout)
	var data []string
	for {
		select {
		case line := <-m.responses:
			if line == respOK {
				return data, nil
			}
			if code, ok := responseCodes[line]; ok {
				return data, &ATError{Command: redact(cmd), Response: line, Code: code}
			}
			data = append(data, line)
		case <-timeout:
			return data, fmt.Errorf("%s: %w", redact(cmd), ErrTimeout)
		case <-m.done:
			return data, ErrClosed
		case <-ctx.Done():
			return data, ctx.Err()
		}
	}
}

// Query runs "AT+<name>=?" and returns the value of the "AT+<name>=" line.
func (m *Modem) Query(ctx context.Context, name string) (string, error) {
	data, err := m.Command(ctx, "AT+"+name+"=?")
	if err != nil {
		return "", err
	}
	prefix := "AT+" + name + "="
	for _, line := range data {
		if v, ok := strings.CutPrefix(line, prefix); ok {
			return v, nil
		}
	}
	if len(data) > 0 {
		return data[len(data)-1], nil
	}
	return "", fmt.Errorf("%s: empty response", name)
}

// DataRate queries the data rate currently set in the modem.
func (m *Modem) DataRate(ctx context.Context) (uplink.DataRate, error) {
	v, err := m.Query(ctx, "DR")
	if err != nil {
		return 0, err
	}
	idx, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("DR: %w", err)
	}
	sf, err := m.opts.Plan.SpreadingFactor(idx)
	if err != nil {
		return 0, err
	}
	return uplink.DataRateFromSpreadingFactor(sf)
}

func (m *Modem) readLines() {
	defer close(m.done)

	reader := bufio.NewReader(m.rw)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				level.Warn(m.logger).Log("msg", "serial read failed", "error", err)
			}
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		level.Debug(m.logger).Log("msg", "rx", "line", line)

		if rest, ok := strings.CutPrefix(line, eventPrefix); ok {
			parts := strings.Split(rest, ":")
			ev := Event{Name: parts[0], Fields: parts[1:]}
			select {
			case m.events <- ev:
			default:
				level.Warn(m.logger).Log("msg", "event buffer full, dropping event", "event", ev.Name)
			}
			continue
		}

		select {
		case m.responses <- line:
		default:
			level.Warn(m.logger).Log("msg", "response buffer full, dropping line", "line", line)
		}
	}
}

func (m *Modem) drainResponses() {
	for {
		select {
		case <-m.responses:
		default:
			return
		}
	}
}

func (m *Modem) drainEvents() {
	for {
		select {
		case <-m.events:
		default:
			return
		}
	}
}

// codeOf maps a command error to a negative SendReceive code.
func codeOf(err error) int {
	var atErr *ATError
	switch {
	case errors.As(err, &atErr):
		return atErr.Code
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return CodeTimeout
	case errors.Is(err, ErrClosed):
		return CodeClosed
	}
	return CodeUnknown
}

// redact hides session keys from logs and errors.
func redact(cmd string) string {
	for _, p := range []string{"AT+NWKSKEY=", "AT+APPSKEY="} {
		if strings.HasPrefix(cmd, p) {
			return p + "****"
		}
	}
	return cmd
}
