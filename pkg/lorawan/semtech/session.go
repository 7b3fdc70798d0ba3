// Package semtech runs a software ABP session that talks to a network
// server through the Semtech UDP packet forwarder protocol, acting as its
// own gateway. It is meant for bench setups without a radio.
package semtech

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/itohio/lorameter/pkg/region"
	"github.com/itohio/lorameter/pkg/store"
	"github.com/itohio/lorameter/pkg/uplink"
)

// Negative SendReceive results.
const (
	CodeTimeout         = -2  // no PUSH_ACK
	CodeError           = -3  // frame could not be built
	CodeNotActivated    = -7  // SendReceive before ActivateABP
	CodeDutyCycle       = -9  // sub-band still off air
	CodeIO              = -10 // socket failure
	CodePayloadTooLarge = -11 // payload above the region limit
	CodeClosed          = -13 // session closed
)

var (
	// ErrNoServer is returned by Begin when the server does not answer PULL_DATA.
	ErrNoServer = errors.New("network server not responding")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session closed")
)

// Ensure Session implements the session interfaces.
var (
	_ uplink.Session   = (*Session)(nil)
	_ uplink.Activator = (*Session)(nil)
)

// Options configures a Session.
type Options struct {
	Address    string // network server UDP endpoint
	GatewayEUI [8]byte
	Plan       region.Plan
	FPort      uint8
	AckTimeout time.Duration // PUSH_ACK and PULL_ACK
	RX1Delay   time.Duration
	RX2Delay   time.Duration
	RXWindow   time.Duration // listen time after RX2 opens
	Store      store.CounterStore
	Clock      clock.Clock
	Logger     log.Logger
}

// ParseEUI decodes an 8 byte hex gateway EUI.
func ParseEUI(s string) ([8]byte, error) {
	var eui [8]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return eui, fmt.Errorf("invalid gateway eui: %w", err)
	}
	if len(b) != len(eui) {
		return eui, fmt.Errorf("invalid gateway eui: must be 8 bytes, got %d", len(b))
	}
	copy(eui[:], b)
	return eui, nil
}

// Session is an ABP session on a simulated gateway.
type Session struct {
	opts   Options
	logger log.Logger

	mu        sync.Mutex
	conn      *net.UDPConn
	closed    bool
	creds     uplink.Credentials
	activated bool
	dr        uplink.DataRate
	fCnt      uint32
	token     uint16
	dutyCycle bool
	nextTx    time.Time
	buf       []byte
}

// New creates a session. Begin opens the socket.
func New(opts Options) *Session {
	if opts.Plan.Name == "" {
		opts.Plan = region.EU868
	}
	if opts.FPort == 0 {
		opts.FPort = 1
	}
	if opts.AckTimeout == 0 {
		opts.AckTimeout = 2 * time.Second
	}
	if opts.RX1Delay == 0 {
		opts.RX1Delay = time.Second
	}
	if opts.RX2Delay == 0 {
		opts.RX2Delay = opts.RX1Delay + time.Second
	}
	if opts.RXWindow == 0 {
		opts.RXWindow = time.Second
	}
	if opts.Store == nil {
		opts.Store = store.NewMemory()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}

	return &Session{
		opts:   opts,
		logger: log.With(opts.Logger, "component", "semtech"),
		buf:    make([]byte, 65535),
	}
}

// Begin connects to the network server and checks that it answers PULL_DATA.
func (s *Session) Begin(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if s.conn == nil {
		addr, err := net.ResolveUDPAddr("udp", s.opts.Address)
		if err != nil {
			level.Error(s.logger).Log("msg", "failed to resolve", "address", s.opts.Address, "error", err)
			return err
		}
		s.conn, err = net.DialUDP("udp", nil, addr)
		if err != nil {
			level.Error(s.logger).Log("msg", "failed to dial", "address", s.opts.Address, "error", err)
			return err
		}
	}

	token, err := s.pullData()
	if err != nil {
		return err
	}

	acked := false
	err = s.await(ctx, time.Now().Add(s.opts.AckTimeout), func(h Header, _ []byte) bool {
		acked = h.Identifier == PullAck && h.Token == token
		return acked
	})
	if err != nil {
		return err
	}
	if !acked {
		return ErrNoServer
	}

	level.Info(s.logger).Log("msg", "connected to network server", "address", s.opts.Address)
	return nil
}

// ActivateABP installs the session keys and restores the uplink frame counter.
func (s *Session) ActivateABP(ctx context.Context, creds uplink.Credentials, initial uplink.DataRate) error {
	if !initial.Valid() {
		return fmt.Errorf("%w: %d", region.ErrSpreadingFactor, initial)
	}

	fCnt, err := store.LoadOr(ctx, s.opts.Store, store.FCntUp, 0)
	if err != nil {
		return fmt.Errorf("failed to load frame counter: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.creds = creds
	s.dr = initial
	s.fCnt = fCnt
	s.activated = true

	level.Info(s.logger).Log("msg", "session activated", "dev_addr", creds.DevAddrString(), "band", s.opts.Plan.Name, "data_rate", initial, "fcnt_up", fCnt)
	return nil
}

// SetDutyCycle enables the 1% duty cycle limit.
func (s *Session) SetDutyCycle(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dutyCycle = enabled
	if !enabled {
		s.nextTx = time.Time{}
	}
	return nil
}

// SetDataRate selects the spreading factor of the next uplinks.
func (s *Session) SetDataRate(ctx context.Context, dr uplink.DataRate) error {
	if !dr.Valid() {
		return fmt.Errorf("%w: %d", region.ErrSpreadingFactor, dr)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.dr = dr
	return nil
}

// FrameCounter returns the next uplink frame counter.
func (s *Session) FrameCounter() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fCnt
}

// SendReceive forwards an unconfirmed uplink and listens for a downlink
// until the end of the second receive window. It returns the window of a
// downlink (1 or 2), 0 when nothing was received or a negative code.
func (s *Session) SendReceive(ctx context.Context, payload []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return CodeClosed
	}
	if !s.activated || s.conn == nil {
		return CodeNotActivated
	}

	sf := s.dr.SpreadingFactor()
	limit, err := s.opts.Plan.MaxPayloadSize(sf)
	if err != nil {
		level.Error(s.logger).Log("msg", "invalid data rate", "error", err)
		return CodeError
	}
	if len(payload) > limit {
		level.Error(s.logger).Log("msg", "payload too large", "size", len(payload), "max", limit, "data_rate", s.dr)
		return CodePayloadTooLarge
	}

	now := s.opts.Clock.Now()
	if s.dutyCycle && now.Before(s.nextTx) {
		level.Warn(s.logger).Log("msg", "duty cycle restricted", "wait", s.nextTx.Sub(now))
		return CodeDutyCycle
	}

	frame, err := uplinkFrame(s.creds, s.fCnt, s.opts.FPort, payload)
	if err != nil {
		level.Error(s.logger).Log("msg", "can't build uplink frame", "error", err)
		return CodeError
	}

	datr, _ := s.opts.Plan.Datr(sf)
	channel := s.fCnt % uint32(len(s.opts.Plan.Channels))
	rxpk := RXPacket{
		Time: now.UTC(),
		Tmst: uint32(now.UnixMicro()),
		Freq: float64(s.opts.Plan.Channel(s.fCnt)) / 1e6,
		Chan: int(channel),
		Stat: 1,
		Modu: "LORA",
		Datr: datr,
		Codr: "4/5",
		Rssi: -60,
		Lsnr: 7.5,
		Size: len(frame),
		Data: frame,
	}

	// keeps the downlink path open on the server
	if _, err := s.pullData(); err != nil {
		return CodeIO
	}

	s.token++
	token := s.token
	packet, err := marshalPushData(token, s.opts.GatewayEUI, rxpk)
	if err != nil {
		level.Error(s.logger).Log("msg", "can't build push data", "error", err)
		return CodeError
	}
	if _, err := s.conn.Write(packet); err != nil {
		level.Error(s.logger).Log("msg", "failed to write push data", "error", err)
		return CodeIO
	}
	sentAt := time.Now()

	s.fCnt++
	if err := s.opts.Store.Save(ctx, store.FCntUp, s.fCnt); err != nil {
		level.Warn(s.logger).Log("msg", "failed to persist frame counter", "fcnt_up", s.fCnt, "error", err)
	}
	if s.dutyCycle {
		s.nextTx = now.Add(Airtime(sf, len(frame)) * 99)
	}

	level.Debug(s.logger).Log("msg", "uplink", "fcnt_up", s.fCnt-1, "datr", datr, "freq", rxpk.Freq, "size", len(frame))

	acked := false
	window := 0
	err = s.await(ctx, time.Now().Add(s.opts.AckTimeout), func(h Header, body []byte) bool {
		if h.Identifier == PullResp {
			window = s.handlePullResp(h, body)
			return false
		}
		acked = h.Identifier == PushAck && h.Token == token
		return acked
	})
	if err != nil {
		return s.codeOf(err)
	}
	if !acked {
		level.Error(s.logger).Log("msg", "no push ack", "token", token)
		return CodeTimeout
	}
	if window > 0 {
		return window
	}

	err = s.await(ctx, sentAt.Add(s.opts.RX2Delay+s.opts.RXWindow), func(h Header, body []byte) bool {
		if h.Identifier != PullResp {
			return false
		}
		window = s.handlePullResp(h, body)
		return window > 0
	})
	if err != nil {
		return s.codeOf(err)
	}

	return window
}

// Close closes the socket.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *Session) pullData() (uint16, error) {
	s.token++
	token := s.token
	if _, err := s.conn.Write(marshalPacket(token, PullData, s.opts.GatewayEUI, nil)); err != nil {
		level.Error(s.logger).Log("msg", "failed to write pull data", "error", err)
		return 0, err
	}
	return token, nil
}

// handlePullResp acknowledges a PULL_RESP and returns the receive window
// of a downlink for this session, 0 otherwise.
func (s *Session) handlePullResp(h Header, body []byte) int {
	txpk, err := parsePullResp(body)
	if err != nil {
		level.Info(s.logger).Log("msg", "can't decode pull resp", "error", err)
		return 0
	}

	if _, err := s.conn.Write(marshalPacket(h.Token, TxAck, s.opts.GatewayEUI, nil)); err != nil {
		level.Warn(s.logger).Log("msg", "failed to write tx ack", "error", err)
	}

	dl, err := decodeDownlink(s.creds, txpk.Data)
	if err != nil {
		level.Info(s.logger).Log("msg", "can't decode downlink lora packet", "error", err)
		return 0
	}

	window := s.windowOf(txpk)
	level.Info(s.logger).Log("msg", "downlink", "window", window, "fcnt_down", dl.FCnt, "fport", dl.FPort, "ack", dl.ACK, "payload", hex.EncodeToString(dl.Payload))
	return window
}

// windowOf tells RX2 downlinks apart by their frequency.
func (s *Session) windowOf(txpk TXPacket) int {
	if math.Abs(txpk.Freq*1e6-float64(s.opts.Plan.RX2Frequency)) < 1000 {
		return 2
	}
	return 1
}

// await reads packets until handle returns true or the deadline passes. It
// returns nil on deadline.
func (s *Session) await(ctx context.Context, deadline time.Time, handle func(Header, []byte) bool) error {
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	defer s.conn.SetReadDeadline(time.Time{})

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := s.conn.Read(s.buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return nil
			}
			return err
		}

		h, body, err := parseHeader(s.buf[:n])
		if err != nil {
			level.Warn(s.logger).Log("msg", "error reading from the network server", "error", err)
			continue
		}
		if handle(h, body) {
			return nil
		}
	}
}

func (s *Session) codeOf(err error) int {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, net.ErrClosed):
		return CodeClosed
	}
	level.Error(s.logger).Log("msg", "error reading from the network server", "error", err)
	return CodeIO
}
