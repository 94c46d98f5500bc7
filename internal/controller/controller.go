// Package controller drives the device protocol engine: it consumes transport
// events on a single goroutine, walks each device through the connection
// lifecycle, runs the initialization query sequence, and fans user intents out
// to per-device sessions.
package controller

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dmoravec/glowd/internal/device"
	"github.com/dmoravec/glowd/internal/eventbus"
	"github.com/dmoravec/glowd/internal/knowndev"
	"github.com/dmoravec/glowd/internal/protocol"
	"github.com/dmoravec/glowd/internal/session"
	"github.com/dmoravec/glowd/internal/transport"
)

// DefaultInitStagger spaces the initialization queries. The protocol has no
// per-command acknowledgment, so ordering is enforced by time, not by reply.
const DefaultInitStagger = 100 * time.Millisecond

// Config tunes controller timing.
type Config struct {
	Debounce          time.Duration
	SettleDelay       time.Duration
	InitStagger       time.Duration
	RestoreBrightness float32

	// DisableScan keeps the radio passive: no discovery, no auto-reconnect.
	DisableScan bool
}

// Controller owns the session registry and the transport event loop.
type Controller struct {
	cfg   Config
	tr    transport.Transport
	reg   *session.Registry
	known *knowndev.Store
	bus   *eventbus.Bus

	mu       sync.Mutex
	links    map[device.Identity]*link
	knownSet map[device.Identity]knowndev.Known
	status   string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a controller. Start must be called before it does anything.
func New(cfg Config, tr transport.Transport, known *knowndev.Store, bus *eventbus.Bus) *Controller {
	if cfg.InitStagger <= 0 {
		cfg.InitStagger = DefaultInitStagger
	}
	return &Controller{
		cfg:      cfg,
		tr:       tr,
		reg:      session.NewRegistry(),
		known:    known,
		bus:      bus,
		links:    make(map[device.Identity]*link),
		knownSet: make(map[device.Identity]knowndev.Known),
	}
}

// Start loads the known-device set, begins scanning and starts the event
// loop. Scanning failure is surfaced as status, not returned: the radio may
// come back later.
func (c *Controller) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})

	if err := c.loadKnown(); err != nil {
		return err
	}

	go c.run()

	if c.cfg.DisableScan {
		log.Info().Msg("Scanning disabled by configuration")
		return nil
	}
	if err := c.tr.Scan(c.ctx); err != nil {
		c.setStatus("scan unavailable: " + err.Error())
		log.Warn().Err(err).Msg("Scanning unavailable, waiting for radio")
	}
	return nil
}

// Stop disconnects every device and stops the event loop.
func (c *Controller) Stop() {
	for _, id := range c.reg.Identities() {
		if err := c.tr.Disconnect(id); err != nil {
			log.Debug().Err(err).Str("device", string(id)).Msg("Disconnect failed during shutdown")
		}
	}
	if c.cancel != nil {
		c.cancel()
	}
	if c.done != nil {
		<-c.done
	}
}

func (c *Controller) loadKnown() error {
	devices, err := c.known.All()
	if err != nil {
		return err
	}
	c.mu.Lock()
	for _, k := range devices {
		c.knownSet[k.Identity] = k
	}
	c.mu.Unlock()
	log.Info().Int("count", len(devices)).Msg("Loaded known devices")
	return nil
}

// run is the single goroutine through which every transport callback flows.
func (c *Controller) run() {
	defer close(c.done)
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev, ok := <-c.tr.Events():
			if !ok {
				return
			}
			c.handle(ev)
		}
	}
}

func (c *Controller) handle(ev transport.Event) {
	switch ev := ev.(type) {
	case transport.AdvertEvent:
		c.onAdvert(ev)
	case transport.ConnectedEvent:
		c.onConnected(ev)
	case transport.ConnectFailedEvent:
		c.onConnectFailed(ev)
	case transport.ServiceFoundEvent:
		c.onServiceFound(ev)
	case transport.CharacteristicsFoundEvent:
		c.onCharacteristics(ev)
	case transport.SubscribedEvent:
		c.onSubscribed(ev)
	case transport.NotificationEvent:
		c.onNotification(ev)
	case transport.DisconnectedEvent:
		c.onDisconnected(ev)
	case transport.RadioEvent:
		c.onRadio(ev)
	}
}

// onAdvert connects supported or previously-known devices. Known devices
// reconnect even without a matching advertised name; adverts often omit the
// name once a device is bonded.
func (c *Controller) onAdvert(ev transport.AdvertEvent) {
	c.mu.Lock()
	if _, busy := c.links[ev.Identity]; busy {
		c.mu.Unlock()
		return
	}

	code, name, supported := device.MatchModel(ev.LocalName)
	k, isKnown := c.knownSet[ev.Identity]
	if !supported && !isKnown {
		c.mu.Unlock()
		return
	}
	if !supported {
		code, name = k.ModelCode, modelNameFor(k.ModelCode)
	}

	c.links[ev.Identity] = &link{state: stateConnecting, modelCode: code, modelName: name}
	c.mu.Unlock()

	log.Info().
		Str("device", string(ev.Identity)).
		Str("name", ev.LocalName).
		Str("model", code).
		Int("rssi", int(ev.RSSI)).
		Msg("Connecting to light")

	if err := c.tr.Connect(ev.Identity); err != nil {
		c.dropLink(ev.Identity)
		c.setStatus("connect failed: " + err.Error())
	}
}

func modelNameFor(code string) string {
	_, name, _ := device.MatchModel(code)
	return name
}

func (c *Controller) onConnected(ev transport.ConnectedEvent) {
	c.mu.Lock()
	l, ok := c.links[ev.Identity]
	if !ok {
		c.mu.Unlock()
		return
	}
	code, name := l.modelCode, l.modelName
	c.mu.Unlock()

	s := session.New(ev.Identity, c.tr, session.Options{
		Debounce:          c.cfg.Debounce,
		SettleDelay:       c.cfg.SettleDelay,
		RestoreBrightness: c.cfg.RestoreBrightness,
	})
	s.SetModel(code, name)
	c.reg.Add(s)

	if err := c.tr.DiscoverService(ev.Identity, transport.ServiceUUID); err != nil {
		log.Warn().Err(err).Str("device", string(ev.Identity)).Msg("Service discovery request failed")
	}
}

func (c *Controller) onConnectFailed(ev transport.ConnectFailedEvent) {
	c.dropLink(ev.Identity)
	c.setStatus("connect failed: " + ev.Err.Error())
	log.Warn().Err(ev.Err).Str("device", string(ev.Identity)).Msg("Connect failed")
}

func (c *Controller) onServiceFound(ev transport.ServiceFoundEvent) {
	c.transition(ev.Identity, stateServicesDiscovered)

	err := c.tr.DiscoverCharacteristics(ev.Identity, ev.Service,
		[]string{transport.WriteCharUUID, transport.NotifyCharUUID})
	if err != nil {
		log.Warn().Err(err).Str("device", string(ev.Identity)).Msg("Characteristic discovery request failed")
	}
}

func (c *Controller) onCharacteristics(ev transport.CharacteristicsFoundEvent) {
	var haveWrite, haveNotify bool
	for _, cu := range ev.Characteristics {
		switch cu {
		case transport.WriteCharUUID:
			haveWrite = true
		case transport.NotifyCharUUID:
			haveNotify = true
		}
	}
	if !haveWrite || !haveNotify {
		log.Warn().
			Str("device", string(ev.Identity)).
			Strs("characteristics", ev.Characteristics).
			Msg("Light is missing expected characteristics")
		c.setStatus("unsupported device: missing characteristics")
		_ = c.tr.Disconnect(ev.Identity)
		return
	}

	s, ok := c.reg.Get(ev.Identity)
	if !ok {
		return
	}
	s.SetCharacteristics(transport.WriteCharUUID, transport.NotifyCharUUID)
	c.transition(ev.Identity, stateCharacteristicsReady)

	if err := c.tr.Subscribe(ev.Identity, transport.NotifyCharUUID); err != nil {
		log.Warn().Err(err).Str("device", string(ev.Identity)).Msg("Notification subscribe failed")
	}
}

// onSubscribed promotes the device to initializing, persists it for
// auto-reconnect and kicks off the staggered query sequence.
func (c *Controller) onSubscribed(ev transport.SubscribedEvent) {
	s, ok := c.reg.Get(ev.Identity)
	if !ok || !s.Ready() {
		return
	}
	c.transition(ev.Identity, stateInitializing)

	st := s.State()
	if err := c.known.Save(ev.Identity, st.ModelCode, st.Name); err != nil {
		log.Warn().Err(err).Str("device", string(ev.Identity)).Msg("Failed to persist known device")
	}
	c.mu.Lock()
	c.knownSet[ev.Identity] = knowndev.Known{Identity: ev.Identity, ModelCode: st.ModelCode, Name: st.Name}
	c.mu.Unlock()

	c.publish(eventbus.EventTypeDeviceConnected, map[string]interface{}{
		"device": string(ev.Identity),
		"model":  st.ModelCode,
	})

	c.scheduleInit(s)
}

// initSequence is the fixed ordered set of queries issued after subscribing.
// The last entry reuses the set-color-temperature command id with a query
// payload; that byte sequence is what the devices expect.
var initSequence = []struct {
	cmd     protocol.Command
	payload func() []byte
}{
	{protocol.CmdQueryInfo, func() []byte { return nil }},
	{protocol.CmdQueryName, func() []byte { return nil }},
	{protocol.CmdQueryFirmware, func() []byte { return nil }},
	{protocol.CmdReadState, protocol.QueryPayload},
	{protocol.CmdQueryBrightness, protocol.QueryPayload},
	{protocol.CmdSetColorTemp, protocol.QueryPayload},
}

// scheduleInit issues the initialization queries at staggered delays rather
// than gating each on a reply. Every delayed step re-checks that the session
// is still registered, so a disconnect mid-sequence turns the remaining steps
// into no-ops.
func (c *Controller) scheduleInit(s *session.Session) {
	id := s.Identity()
	for i, step := range initSequence {
		step := step
		last := i == len(initSequence)-1
		time.AfterFunc(c.cfg.InitStagger*time.Duration(i+1), func() {
			if _, ok := c.reg.Get(id); !ok {
				return
			}
			s.SendCommand(step.cmd, step.payload())
			if last {
				c.transition(id, stateReady)
				log.Info().Str("device", string(id)).Msg("Light ready")
			}
		})
	}
}

func (c *Controller) onNotification(ev transport.NotificationEvent) {
	cmd, payload, err := protocol.Decode(ev.Data)
	if err != nil {
		log.Debug().Err(err).
			Str("device", string(ev.Identity)).
			Int("len", len(ev.Data)).
			Msg("Dropping malformed frame")
		return
	}

	update, err := protocol.ParseResponse(cmd, payload)
	if err != nil {
		log.Debug().
			Str("device", string(ev.Identity)).
			Str("command", cmd.String()).
			Msg("Ignoring unrecognized command")
		return
	}
	if update.Empty() {
		return
	}

	s, ok := c.reg.Get(ev.Identity)
	if !ok {
		return
	}
	s.ApplyUpdate(update)
	if update.Name != nil && *update.Name != "" {
		c.backfillName(ev.Identity, *update.Name)
	}
	c.publishState(s)
}

// backfillName refreshes the persisted record once the device reports its
// name; the initial save happens before the name query has been answered.
func (c *Controller) backfillName(id device.Identity, name string) {
	c.mu.Lock()
	k, ok := c.knownSet[id]
	c.mu.Unlock()
	if !ok || k.Name == name {
		return
	}

	if err := c.known.Save(id, k.ModelCode, name); err != nil {
		log.Warn().Err(err).Str("device", string(id)).Msg("Failed to persist device name")
		return
	}
	k.Name = name
	c.mu.Lock()
	c.knownSet[id] = k
	c.mu.Unlock()
}

func (c *Controller) onDisconnected(ev transport.DisconnectedEvent) {
	c.dropLink(ev.Identity)

	s := c.reg.Remove(ev.Identity)
	if s == nil {
		return
	}
	s.Close()

	if ev.Err != nil {
		c.setStatus("disconnected: " + ev.Err.Error())
	}
	log.Info().Err(ev.Err).Str("device", string(ev.Identity)).Msg("Light disconnected")

	c.publish(eventbus.EventTypeDeviceDisconnected, map[string]interface{}{
		"device": string(ev.Identity),
	})
	if sel, ok := c.reg.Selected(); ok {
		c.publish(eventbus.EventTypeSelectionChanged, map[string]interface{}{
			"device": string(sel),
		})
	}
}

func (c *Controller) onRadio(ev transport.RadioEvent) {
	if !ev.Available {
		c.setStatus("bluetooth radio unavailable")
		log.Warn().Msg("Bluetooth radio unavailable")
		c.teardownSessions()
		return
	}

	if c.cfg.DisableScan {
		return
	}
	log.Info().Msg("Bluetooth radio available, resuming scan")
	if err := c.tr.Scan(c.ctx); err != nil {
		c.setStatus("scan unavailable: " + err.Error())
	}
}

// teardownSessions closes every registered session. The radio being gone
// means per-device disconnect callbacks cannot be relied on, so the registry
// is cleared here rather than waiting for them.
func (c *Controller) teardownSessions() {
	for _, id := range c.reg.Identities() {
		c.dropLink(id)
		s := c.reg.Remove(id)
		if s == nil {
			continue
		}
		s.Close()
		c.publish(eventbus.EventTypeDeviceDisconnected, map[string]interface{}{
			"device": string(id),
		})
	}
}

// --- intent surface ---

// SetBrightness fans a brightness intent out to the target sessions. Each
// session debounces independently.
func (c *Controller) SetBrightness(t session.Target, v float32) {
	for _, s := range c.reg.Resolve(t) {
		s.RequestBrightness(v)
		c.publishState(s)
	}
}

// SetColorTemperature fans a color-temperature intent out to the target
// sessions.
func (c *Controller) SetColorTemperature(t session.Target, k uint16) {
	for _, s := range c.reg.Resolve(t) {
		s.RequestColorTemperature(k)
		c.publishState(s)
	}
}

// TurnOn powers the targets on, restoring brightness after the settle delay.
func (c *Controller) TurnOn(t session.Target, brightness *float32) {
	for _, s := range c.reg.Resolve(t) {
		s.TurnOn(brightness)
		c.publishState(s)
	}
}

// TurnOff powers the targets off immediately.
func (c *Controller) TurnOff(t session.Target) {
	for _, s := range c.reg.Resolve(t) {
		s.TurnOff()
		c.publishState(s)
	}
}

// Devices lists the connected device identities.
func (c *Controller) Devices() []device.Identity {
	return c.reg.Identities()
}

// DeviceState returns the cached state for a connected device.
func (c *Controller) DeviceState(id device.Identity) (device.State, bool) {
	s, ok := c.reg.Get(id)
	if !ok {
		return device.State{}, false
	}
	return s.State(), true
}

// Selected returns the currently selected device.
func (c *Controller) Selected() (device.Identity, bool) {
	return c.reg.Selected()
}

// Select changes the currently selected device.
func (c *Controller) Select(id device.Identity) bool {
	if !c.reg.Select(id) {
		return false
	}
	c.publish(eventbus.EventTypeSelectionChanged, map[string]interface{}{
		"device": string(id),
	})
	return true
}

// Status returns the last transient status text.
func (c *Controller) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// ForgetKnownDevices clears the persisted auto-reconnect set. Connected
// devices stay connected.
func (c *Controller) ForgetKnownDevices() error {
	if err := c.known.Clear(); err != nil {
		return err
	}
	c.mu.Lock()
	c.knownSet = make(map[device.Identity]knowndev.Known)
	c.mu.Unlock()
	return nil
}

// --- helpers ---

func (c *Controller) transition(id device.Identity, to linkState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.links[id]
	if !ok {
		return
	}
	log.Debug().
		Str("device", string(id)).
		Str("from", l.state.String()).
		Str("to", to.String()).
		Msg("Lifecycle transition")
	l.state = to
}

func (c *Controller) dropLink(id device.Identity) {
	c.mu.Lock()
	delete(c.links, id)
	c.mu.Unlock()
}

func (c *Controller) setStatus(text string) {
	c.mu.Lock()
	c.status = text
	c.mu.Unlock()
	c.publish(eventbus.EventTypeStatus, map[string]interface{}{"text": text})
}

func (c *Controller) publishState(s *session.Session) {
	st := s.State()
	c.publish(eventbus.EventTypeStateChanged, map[string]interface{}{
		"device": string(s.Identity()),
		"state":  st,
	})
}

func (c *Controller) publish(t eventbus.EventType, data map[string]interface{}) {
	if c.bus == nil {
		return
	}
	data["event_id"] = uuid.NewString()
	c.bus.Publish(eventbus.Event{Type: t, Data: data})
}
