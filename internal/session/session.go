// Package session holds the per-connected-device runtime state: sequence
// counter, cached state snapshot, pending-write coalescing and power
// bookkeeping. Each Session serializes its own mutations; sessions for
// different devices never share timers, counters or locks.
package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dmoravec/glowd/internal/device"
	"github.com/dmoravec/glowd/internal/protocol"
)

// Defaults for the timing knobs. Rapid slider input coalesces inside the
// debounce window; the settle delay gives a light time to power on before it
// is asked to change brightness.
const (
	DefaultDebounce          = 50 * time.Millisecond
	DefaultSettleDelay       = 300 * time.Millisecond
	DefaultRestoreBrightness = 50
)

// Writer sends an encoded frame to a device characteristic. The controller
// hands sessions the transport behind this interface.
type Writer interface {
	Write(id device.Identity, charUUID string, frame []byte) error
}

// Options tunes session timing. Zero values fall back to the defaults.
type Options struct {
	Debounce          time.Duration
	SettleDelay       time.Duration
	RestoreBrightness float32
}

// Session is the runtime state of one connected light.
type Session struct {
	id     device.Identity
	writer Writer

	debounce time.Duration
	settle   time.Duration
	restore  float32

	mu         sync.Mutex
	writeChar  string
	notifyChar string
	seq        uint16
	state      device.State
	closed     bool

	// Trailing-debounce bookkeeping. Only the last value requested within a
	// debounce window is ever transmitted. The generation counters invalidate
	// a flush whose timer fired just before its window was restarted.
	pendingBrightness *float32
	pendingColorTemp  *uint16
	brightnessTimer   *time.Timer
	colorTempTimer    *time.Timer
	brightnessGen     uint64
	colorTempGen      uint64

	// needsWake is set when brightness is requested while the cached power
	// state is off; the flush then powers the light on first.
	needsWake bool

	// lastNonZero remembers the last transmitted non-zero brightness so
	// TurnOn can restore it.
	lastNonZero float32
}

// New creates a Session for a freshly connected device. Characteristic
// handles arrive later via SetCharacteristics.
func New(id device.Identity, w Writer, opts Options) *Session {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.RestoreBrightness <= 0 {
		opts.RestoreBrightness = DefaultRestoreBrightness
	}
	return &Session{
		id:       id,
		writer:   w,
		debounce: opts.Debounce,
		settle:   opts.SettleDelay,
		restore:  device.ClampBrightness(opts.RestoreBrightness),
	}
}

// Identity returns the device identity this session belongs to.
func (s *Session) Identity() device.Identity {
	return s.id
}

// SetModel records the model metadata extracted from the advertisement.
func (s *Session) SetModel(code, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ModelCode = code
	s.state.ModelName = name
}

// SetCharacteristics records the write and notify characteristic handles.
func (s *Session) SetCharacteristics(writeChar, notifyChar string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeChar = writeChar
	s.notifyChar = notifyChar
}

// Ready reports whether both characteristics are known.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeChar != "" && s.notifyChar != ""
}

// NotifyChar returns the notify characteristic UUID, if discovered.
func (s *Session) NotifyChar() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notifyChar
}

// State returns a copy of the cached device state.
func (s *Session) State() device.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RequestBrightness clamps and caches the value, then (re)arms the trailing
// debounce: any new request for brightness on this device restarts the
// window, so only the last value is flushed to the wire.
func (s *Session) RequestBrightness(v float32) {
	v = device.ClampBrightness(v)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	// Wake is decided when the request is made, not at flush time.
	if v > 0 && !s.state.IsOn {
		s.needsWake = true
	}
	s.state.Brightness = v
	s.pendingBrightness = &v
	s.brightnessGen++
	gen := s.brightnessGen

	if s.brightnessTimer != nil {
		s.brightnessTimer.Stop()
	}
	s.brightnessTimer = time.AfterFunc(s.debounce, func() { s.flushBrightness(gen) })
}

// RequestColorTemperature clamps and caches the value, then (re)arms the
// color-temperature debounce window. Brightness and color temperature have
// independent timers.
func (s *Session) RequestColorTemperature(k uint16) {
	k = device.ClampColorTemp(k)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.state.ColorTempK = k
	s.pendingColorTemp = &k
	s.colorTempGen++
	gen := s.colorTempGen

	if s.colorTempTimer != nil {
		s.colorTempTimer.Stop()
	}
	s.colorTempTimer = time.AfterFunc(s.debounce, func() { s.flushColorTemp(gen) })
}

// flushBrightness transmits the pending brightness once the debounce window
// closes. Zero turns the light off instead; a light that was off when the
// request arrived is powered on first and given the settle delay. A stale
// generation means the window was restarted while this flush waited for the
// lock; the rearmed timer owns the pending value now.
func (s *Session) flushBrightness(gen uint64) {
	s.mu.Lock()
	if s.closed || gen != s.brightnessGen || s.pendingBrightness == nil {
		s.mu.Unlock()
		return
	}
	v := *s.pendingBrightness
	s.pendingBrightness = nil
	wake := s.needsWake
	s.needsWake = false

	if v == 0 {
		s.state.IsOn = false
		s.mu.Unlock()
		s.send(protocol.CmdSetPower, protocol.PowerPayload(false))
		return
	}

	s.lastNonZero = v
	s.state.IsOn = true
	s.mu.Unlock()

	if wake {
		s.send(protocol.CmdSetPower, protocol.PowerPayload(true))
		s.afterSettle(func() {
			s.send(protocol.CmdSetBrightness, protocol.BrightnessPayload(v))
		})
		return
	}
	s.send(protocol.CmdSetBrightness, protocol.BrightnessPayload(v))
}

// flushColorTemp transmits the pending color temperature.
func (s *Session) flushColorTemp(gen uint64) {
	s.mu.Lock()
	if s.closed || gen != s.colorTempGen || s.pendingColorTemp == nil {
		s.mu.Unlock()
		return
	}
	k := *s.pendingColorTemp
	s.pendingColorTemp = nil
	s.mu.Unlock()

	s.send(protocol.CmdSetColorTemp, protocol.ColorTempPayload(k))
}

// TurnOn powers the light on and, after the settle delay, restores
// brightness: the explicit value if given, else the last non-zero brightness,
// else the default.
func (s *Session) TurnOn(brightness *float32) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	v := s.restore
	if brightness != nil {
		v = device.ClampBrightness(*brightness)
	} else if s.lastNonZero > 0 {
		v = s.lastNonZero
	}
	s.state.IsOn = true
	s.state.Brightness = v
	s.lastNonZero = v
	s.mu.Unlock()

	s.send(protocol.CmdSetPower, protocol.PowerPayload(true))
	s.afterSettle(func() {
		s.send(protocol.CmdSetBrightness, protocol.BrightnessPayload(v))
	})
}

// TurnOff powers the light off immediately, dropping any pending brightness
// so a stale debounce flush cannot turn it back on.
func (s *Session) TurnOff() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.state.IsOn = false
	s.pendingBrightness = nil
	s.needsWake = false
	if s.brightnessTimer != nil {
		s.brightnessTimer.Stop()
	}
	s.mu.Unlock()

	s.send(protocol.CmdSetPower, protocol.PowerPayload(false))
}

// SendCommand encodes and writes one command with the next sequence number.
// Used by the controller for the initialization query sequence.
func (s *Session) SendCommand(cmd protocol.Command, payload []byte) {
	s.send(cmd, payload)
}

// ApplyUpdate merges a parsed response into the cached state.
func (s *Session) ApplyUpdate(u protocol.Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if u.Brightness != nil {
		s.state.Brightness = device.ClampBrightness(*u.Brightness)
		if s.state.Brightness > 0 {
			s.lastNonZero = s.state.Brightness
		}
	}
	if u.ColorTempK != nil {
		s.state.ColorTempK = device.ClampColorTemp(*u.ColorTempK)
	}
	if u.Power != nil {
		s.state.IsOn = *u.Power
	}
	if u.Firmware != nil {
		s.state.Firmware = *u.Firmware
	}
	if u.Name != nil {
		s.state.Name = *u.Name
	}
}

// Close tears the session down: pending timers are cancelled and any delayed
// step still in flight becomes a no-op.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.pendingBrightness = nil
	s.pendingColorTemp = nil
	if s.brightnessTimer != nil {
		s.brightnessTimer.Stop()
	}
	if s.colorTempTimer != nil {
		s.colorTempTimer.Stop()
	}
}

// afterSettle schedules fn after the settle delay, guarded against teardown.
func (s *Session) afterSettle(fn func()) {
	time.AfterFunc(s.settle, func() {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if !closed {
			fn()
		}
	})
}

// send encodes cmd with the next sequence number and writes it. Writes are
// fire-and-forget; a failure is logged and otherwise dropped, matching the
// protocol's unacknowledged delivery.
func (s *Session) send(cmd protocol.Command, payload []byte) {
	s.mu.Lock()
	if s.closed || s.writeChar == "" {
		s.mu.Unlock()
		return
	}
	seq := s.seq
	s.seq++ // wraps at 0xFFFF by uint16 arithmetic
	w, char := s.writer, s.writeChar
	s.mu.Unlock()

	frame := protocol.Encode(cmd, payload, seq)
	if err := w.Write(s.id, char, frame); err != nil {
		log.Warn().Err(err).
			Str("device", string(s.id)).
			Str("command", cmd.String()).
			Msg("Write failed")
	}
}
