package engine

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/samaelod/pcapreplay/flow"
	"github.com/samaelod/pcapreplay/netio"
	"github.com/samaelod/pcapreplay/pcapreader"
	"github.com/samaelod/pcapreplay/types"
)

var (
	// ErrNoMatchingPacket is returned when a client cannot find a single
	// packet to replay in its capture.
	ErrNoMatchingPacket = errors.New("no matching packet in capture")
	// ErrPeerClosed marks an orderly or abrupt loss of the remote peer.
	ErrPeerClosed = errors.New("peer closed connection")
)

const recvBufferSize = 1500

// Clock supplies wall-clock time for the deadline check.
type Clock func() time.Time

type Option func(*Engine)

// WithClock replaces time.Now for deadline checks.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.now = c
		}
	}
}

// Stats is a snapshot of the replay progress.
type Stats struct {
	Role          types.Role
	Mode          types.Mode
	State         types.RoleState
	PacketsSent   uint64
	BytesSent     uint64
	BytesReceived uint64
	Restarts      int
	Pending       types.Timestamp
	PendingLen    int
	Capture       string
	Deadline      time.Time
}

// Engine replays one side of a captured flow. It is driven entirely by Pump
// and never blocks apart from the outbound connect during construction. An
// Engine is not safe for concurrent use.
type Engine struct {
	cfg     types.ReplayConfig
	logf    types.LogFunc
	now     Clock
	poller  *netio.Poller
	reader  *pcapreader.Reader
	matcher *flow.Matcher
	ep      endpoint

	pending *types.PendingPacket
	recvBuf []byte

	state    types.RoleState
	stats    Stats
	restarts int
	done     bool
	closed   bool
	err      error
}

// New builds an engine for cfg. On error every descriptor opened so far has
// already been released.
func New(cfg types.ReplayConfig, logf types.LogFunc, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logf == nil {
		logf = func(types.Level, string, string) {}
	}

	e := &Engine{
		cfg:     cfg,
		logf:    logf,
		now:     time.Now,
		matcher: flow.NewMatcher(&cfg),
		recvBuf: make([]byte, recvBufferSize),
		state:   types.StateConnecting,
	}
	for _, opt := range opts {
		opt(e)
	}

	reader, err := pcapreader.Open(cfg.Captures, cfg.Rotation)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrConfig, err)
	}
	e.reader = reader

	e.poller, err = netio.NewPoller()
	if err != nil {
		e.reader.Close()
		return nil, err
	}

	if cfg.Role == types.RoleServer {
		e.ep, err = newServer(e)
	} else {
		e.ep, err = newClient(e)
	}
	if err == nil {
		err = e.ep.start(e)
	}
	if err != nil {
		if e.ep != nil {
			e.ep.release(e)
		}
		e.poller.Close()
		e.reader.Close()
		return nil, err
	}

	e.log(types.LevelInfo, "engine", "%s replay (%s mode) started with %s, deadline %s",
		cfg.Role, cfg.Mode, e.reader.Path(), cfg.Deadline.Format(time.RFC3339))
	return e, nil
}

func (e *Engine) log(level types.Level, origin, format string, args ...any) {
	e.logf(level, origin, fmt.Sprintf(format, args...))
}

// Pump drains the descriptors that are ready right now and dispatches each
// one once. It returns immediately when nothing is ready.
func (e *Engine) Pump() {
	if e.done {
		return
	}

	events, err := e.poller.Poll()
	if err != nil {
		e.fail(err)
		return
	}

	for _, ev := range events {
		if e.done {
			break
		}
		e.dispatch(ev)
		e.checkDeadline()
	}
	e.checkDeadline()
}

func (e *Engine) dispatch(ev netio.Event) {
	var err error
	switch e.ep.classify(ev.Fd) {
	case fdTimer:
		err = e.onTimer()
	case fdListener:
		err = e.ep.onAccept(e)
	case fdPeer:
		err = e.ep.onPeerReadable(e)
	case fdDatagram:
		err = e.ep.onDatagram(e)
	default:
		e.log(types.LevelWarning, "engine", "event on unknown descriptor %d, dropping it", ev.Fd)
		e.poller.Remove(ev.Fd)
		return
	}
	if err != nil {
		e.handleFailure(err)
	}
}

// handleFailure is the single place where role errors turn into a restart or
// a shutdown.
func (e *Engine) handleFailure(err error) {
	if !errors.Is(err, ErrPeerClosed) {
		e.fail(err)
		return
	}

	origin := e.ep.role().String()
	if !e.cfg.Restart || (e.cfg.MaxRestarts > 0 && e.restarts >= e.cfg.MaxRestarts) {
		e.log(types.LevelMessage, origin, "%v, stopping", err)
		e.shutdown()
		return
	}

	e.restarts++
	e.stats.Restarts = e.restarts
	e.log(types.LevelMessage, origin, "%v, restarting (%d)", err, e.restarts)

	if err := e.restart(); err != nil {
		e.fail(err)
	}
}

func (e *Engine) restart() error {
	if err := e.ep.reset(e); err != nil {
		return err
	}
	e.pending = nil
	if err := e.reader.Advance(); err != nil {
		return err
	}
	e.log(types.LevelInfo, "engine", "capture rotated to %s", e.reader.Path())
	return e.ep.start(e)
}

func (e *Engine) fail(err error) {
	if e.err == nil {
		e.err = err
	}
	e.log(types.LevelError, e.ep.role().String(), "%v", err)
	e.shutdown()
}

func (e *Engine) checkDeadline() {
	if e.done || e.cfg.Deadline.IsZero() {
		return
	}
	if !e.now().Before(e.cfg.Deadline) {
		e.log(types.LevelMessage, "engine", "timeout reached")
		e.shutdown()
	}
}

// onTimer sends the pending packet and schedules the next one.
func (e *Engine) onTimer() error {
	tm := e.ep.timer()
	fired, err := tm.Drain()
	if err != nil {
		return err
	}
	if fired == 0 {
		// disarmed by a restart earlier in the same pass
		return nil
	}

	origin := e.ep.role().String()
	if e.pending == nil {
		return e.park()
	}

	p := e.pending
	n, err := e.ep.transmit(p)
	switch {
	case err != nil && netio.IsTransient(err):
		e.log(types.LevelDebug, origin, "%s socket busy, retrying", p.Proto)
		return e.arm(RetryDelay)
	case err != nil:
		if errors.Is(err, unix.EPIPE) || errors.Is(err, unix.ECONNRESET) {
			return wrapPeerClosed(err)
		}
		return fmt.Errorf("send %s packet: %w", p.Proto, err)
	case n == 0:
		e.log(types.LevelMessage, origin, "nothing to send")
	default:
		if n < p.Len() {
			e.log(types.LevelWarning, origin, "short %s send: %d of %d bytes", p.Proto, n, p.Len())
		}
		e.stats.PacketsSent++
		e.stats.BytesSent += uint64(n)
		e.log(types.LevelMessage, origin, "sent %d bytes over %s (capture time %s)", n, p.Proto, p.Timestamp)
	}

	return e.scheduleAfter(p.Timestamp)
}

// scheduleAfter finds the next packet for the role and arms the timer with
// its capture distance from prev, or parks when the capture is exhausted.
func (e *Engine) scheduleAfter(prev types.Timestamp) error {
	next, err := e.matcher.FindNext(e.reader, e.ep.role())
	if err != nil {
		return err
	}
	if next == nil {
		return e.park()
	}

	if Before(next.Timestamp, prev) {
		e.log(types.LevelWarning, e.ep.role().String(),
			"capture goes back in time (%s after %s), sending immediately", next.Timestamp, prev)
	}
	e.pending = next
	e.state = types.StateSending
	return e.arm(Delay(prev, next.Timestamp))
}

func (e *Engine) park() error {
	e.pending = nil
	if e.state != types.StateParked {
		e.log(types.LevelInfo, e.ep.role().String(), "no more packets in %s, parking", e.reader.Path())
	}
	e.state = types.StateParked
	return e.arm(ParkDelay)
}

func (e *Engine) arm(d time.Duration) error {
	return e.ep.timer().Arm(d)
}

func (e *Engine) register(s interface{ Fd() int }) error {
	return e.poller.Add(s.Fd())
}

// closeSocket deregisters and closes s. It is a no-op for released sockets.
func (e *Engine) closeSocket(s *netio.Socket) {
	if !s.Valid() {
		return
	}
	e.poller.Remove(s.Fd())
	s.Close()
}

func (e *Engine) closeTimer(t *netio.Timer) {
	if t == nil || t.Fd() < 0 {
		return
	}
	e.poller.Remove(t.Fd())
	t.Close()
}

// received records inbound bytes. Their content is never interpreted.
func (e *Engine) received(origin string, proto types.Proto, n int) {
	e.stats.BytesReceived += uint64(n)
	e.log(types.LevelDebug, origin, "received %d bytes over %s", n, proto)
}

// shutdown releases every descriptor the role owns and marks the engine done.
func (e *Engine) shutdown() {
	if e.done {
		return
	}
	e.ep.release(e)
	e.pending = nil
	e.done = true
	e.state = types.StateDone
	e.log(types.LevelInfo, "engine", "replay finished: %d packets, %d bytes sent",
		e.stats.PacketsSent, e.stats.BytesSent)
}

// IsDone reports whether the replay has finished for any reason.
func (e *Engine) IsDone() bool {
	return e.done
}

// Err returns the error that stopped the engine, if any. Timeouts and peer
// disconnects are normal endings and leave it nil.
func (e *Engine) Err() error {
	return e.err
}

// Fd returns the readiness descriptor. It becomes readable whenever Pump has
// work to do.
func (e *Engine) Fd() int {
	return e.poller.Fd()
}

// Wait blocks until Pump has work or timeout elapses.
func (e *Engine) Wait(timeout time.Duration) (bool, error) {
	if e.closed {
		return false, netio.ErrClosed
	}
	return e.poller.Wait(timeout)
}

func (e *Engine) Stats() Stats {
	s := e.stats
	s.Role = e.cfg.Role
	s.Mode = e.cfg.Mode
	s.State = e.state
	s.Capture = e.reader.Path()
	s.Deadline = e.cfg.Deadline
	if e.pending != nil {
		s.Pending = e.pending.Timestamp
		s.PendingLen = e.pending.Len()
	}
	return s
}

// Close stops the replay and releases the poller and the captures. It is
// safe to call more than once.
func (e *Engine) Close() {
	if e.closed {
		return
	}
	e.shutdown()
	e.poller.Close()
	e.reader.Close()
	e.closed = true
}
