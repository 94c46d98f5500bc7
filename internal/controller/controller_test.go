package controller

import (
	"context"
	"encoding/binary"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dmoravec/glowd/internal/db"
	"github.com/dmoravec/glowd/internal/device"
	"github.com/dmoravec/glowd/internal/knowndev"
	"github.com/dmoravec/glowd/internal/protocol"
	"github.com/dmoravec/glowd/internal/session"
	"github.com/dmoravec/glowd/internal/transport"
)

const testStagger = 15 * time.Millisecond

type fakeWrite struct {
	id    device.Identity
	char  string
	cmd   protocol.Command
	seq   uint16
	frame []byte
}

// fakeTransport records controller requests and lets tests inject events.
type fakeTransport struct {
	mu            sync.Mutex
	events        chan transport.Event
	scanErr       error
	scans         int
	connects      []device.Identity
	disconnects   []device.Identity
	discoverSvcs  []string
	discoverChars [][]string
	subscribes    []string
	writes        []fakeWrite
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan transport.Event, 64)}
}

func (f *fakeTransport) Scan(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans++
	return f.scanErr
}

func (f *fakeTransport) StopScan() {}

func (f *fakeTransport) Connect(id device.Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, id)
	return nil
}

func (f *fakeTransport) Disconnect(id device.Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects = append(f.disconnects, id)
	return nil
}

func (f *fakeTransport) DiscoverService(id device.Identity, serviceUUID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discoverSvcs = append(f.discoverSvcs, serviceUUID)
	return nil
}

func (f *fakeTransport) DiscoverCharacteristics(id device.Identity, serviceUUID string, charUUIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discoverChars = append(f.discoverChars, charUUIDs)
	return nil
}

func (f *fakeTransport) Subscribe(id device.Identity, charUUID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes = append(f.subscribes, charUUID)
	return nil
}

func (f *fakeTransport) Write(id device.Identity, charUUID string, frame []byte) error {
	cmd, _, err := protocol.Decode(frame)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, fakeWrite{
		id:    id,
		char:  charUUID,
		cmd:   cmd,
		seq:   binary.LittleEndian.Uint16(frame[6:8]),
		frame: frame,
	})
	return nil
}

func (f *fakeTransport) Events() <-chan transport.Event { return f.events }
func (f *fakeTransport) Close() error                   { return nil }

func (f *fakeTransport) emit(ev transport.Event) { f.events <- ev }

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.connects)
}

func (f *fakeTransport) writesFor(id device.Identity) []fakeWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeWrite
	for _, w := range f.writes {
		if w.id == id {
			out = append(out, w)
		}
	}
	return out
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestController(t *testing.T, tr transport.Transport) (*Controller, *knowndev.Store) {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "glowd.sqlite"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	store := knowndev.NewStore(database.DB)
	c := New(Config{
		Debounce:    10 * time.Millisecond,
		SettleDelay: 20 * time.Millisecond,
		InitStagger: testStagger,
	}, tr, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	if err := c.Start(ctx); err != nil {
		t.Fatalf("controller start failed: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		c.Stop()
	})
	return c, store
}

// connectDevice walks a device through the full handshake up to subscribed.
func connectDevice(t *testing.T, f *fakeTransport, c *Controller, id device.Identity, name string) {
	t.Helper()
	before := c.reg.Len()
	connectsBefore := f.connectCount()

	f.emit(transport.AdvertEvent{Identity: id, LocalName: name, RSSI: -40})
	waitUntil(t, "connect request", func() bool { return f.connectCount() > connectsBefore })

	f.emit(transport.ConnectedEvent{Identity: id})
	f.emit(transport.ServiceFoundEvent{Identity: id, Service: transport.ServiceUUID})
	f.emit(transport.CharacteristicsFoundEvent{
		Identity:        id,
		Service:         transport.ServiceUUID,
		Characteristics: []string{transport.WriteCharUUID, transport.NotifyCharUUID},
	})
	f.emit(transport.SubscribedEvent{Identity: id, Characteristic: transport.NotifyCharUUID})

	waitUntil(t, "session registered", func() bool { return c.reg.Len() > before })
}

func TestLifecycleHappyPath(t *testing.T) {
	f := newFakeTransport()
	c, store := newTestController(t, f)
	id := device.Identity("AA:BB:CC:DD:EE:01")

	connectDevice(t, f, c, id, "GL-S60-A1B2")

	// Initialization queries arrive in catalog order at staggered delays.
	waitUntil(t, "init sequence", func() bool { return len(f.writesFor(id)) >= 6 })
	writes := f.writesFor(id)

	wantOrder := []protocol.Command{
		protocol.CmdQueryInfo,
		protocol.CmdQueryName,
		protocol.CmdQueryFirmware,
		protocol.CmdReadState,
		protocol.CmdQueryBrightness,
		protocol.CmdSetColorTemp,
	}
	for i, want := range wantOrder {
		if writes[i].cmd != want {
			t.Errorf("init step %d = %v, want %v", i, writes[i].cmd, want)
		}
	}

	// Device was persisted for auto-reconnect.
	known, err := store.Has(id)
	if err != nil || !known {
		t.Errorf("device not persisted as known (known=%v, err=%v)", known, err)
	}

	// First connected device becomes selected; model comes from the name.
	if sel, ok := c.Selected(); !ok || sel != id {
		t.Errorf("Selected() = %v, %v, want %v", sel, ok, id)
	}
	st, ok := c.DeviceState(id)
	if !ok || st.ModelCode != "GL-S60" || st.ModelName != "Glow S60" {
		t.Errorf("DeviceState = %+v, %v", st, ok)
	}
}

func TestUnsupportedAdvertIgnored(t *testing.T) {
	f := newFakeTransport()
	newTestController(t, f)

	f.emit(transport.AdvertEvent{Identity: "11:22:33:44:55:66", LocalName: "RandomHeadphones"})
	time.Sleep(50 * time.Millisecond)

	if got := f.connectCount(); got != 0 {
		t.Errorf("controller connected %d times to an unsupported device", got)
	}
}

func TestKnownDeviceReconnectsWithoutName(t *testing.T) {
	f := newFakeTransport()
	database, err := db.Open(filepath.Join(t.TempDir(), "glowd.sqlite"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	defer database.Close()
	store := knowndev.NewStore(database.DB)

	id := device.Identity("AA:BB:CC:DD:EE:09")
	if err := store.Save(id, "GL-P40", "Fill"); err != nil {
		t.Fatalf("seed known device: %v", err)
	}

	c := New(Config{InitStagger: testStagger}, f, store, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	// Bonded devices often advertise with no local name.
	f.emit(transport.AdvertEvent{Identity: id, LocalName: ""})
	waitUntil(t, "reconnect of known device", func() bool { return f.connectCount() == 1 })
}

func TestRepeatAdvertWhileConnectingIgnored(t *testing.T) {
	f := newFakeTransport()
	c, _ := newTestController(t, f)
	id := device.Identity("AA:BB:CC:DD:EE:02")

	f.emit(transport.AdvertEvent{Identity: id, LocalName: "GL-S100"})
	waitUntil(t, "first connect", func() bool { return f.connectCount() == 1 })

	f.emit(transport.AdvertEvent{Identity: id, LocalName: "GL-S100"})
	time.Sleep(50 * time.Millisecond)

	if got := f.connectCount(); got != 1 {
		t.Errorf("connect called %d times for one device", got)
	}
	if _, ok := c.Selected(); ok {
		t.Error("a device became selected before its connection completed")
	}
}

func TestNotificationUpdatesState(t *testing.T) {
	f := newFakeTransport()
	c, _ := newTestController(t, f)
	id := device.Identity("AA:BB:CC:DD:EE:03")

	connectDevice(t, f, c, id, "GL-S60")

	frame := protocol.Encode(protocol.CmdSetBrightness, protocol.BrightnessPayload(62.5), 1)
	f.emit(transport.NotificationEvent{Identity: id, Characteristic: transport.NotifyCharUUID, Data: frame})

	waitUntil(t, "state update", func() bool {
		st, ok := c.DeviceState(id)
		return ok && st.Brightness == 62.5 && st.IsOn
	})
}

func TestNameResponseBackfillsKnownDevice(t *testing.T) {
	f := newFakeTransport()
	c, store := newTestController(t, f)
	id := device.Identity("AA:BB:CC:DD:EE:09")

	connectDevice(t, f, c, id, "GL-S60")

	// The record is saved before the name query has been answered.
	waitUntil(t, "initial save", func() bool {
		ok, _ := store.Has(id)
		return ok
	})

	frame := protocol.Encode(protocol.CmdQueryName, []byte("Key light"), 2)
	f.emit(transport.NotificationEvent{Identity: id, Characteristic: transport.NotifyCharUUID, Data: frame})

	waitUntil(t, "persisted name", func() bool {
		devices, err := store.All()
		if err != nil {
			return false
		}
		for _, k := range devices {
			if k.Identity == id && k.Name == "Key light" {
				return true
			}
		}
		return false
	})
}

func TestMalformedNotificationDropped(t *testing.T) {
	f := newFakeTransport()
	c, _ := newTestController(t, f)
	id := device.Identity("AA:BB:CC:DD:EE:04")

	connectDevice(t, f, c, id, "GL-S60")

	f.emit(transport.NotificationEvent{Identity: id, Data: []byte{0x01, 0x02}})
	f.emit(transport.NotificationEvent{Identity: id, Data: []byte{0xFF, 0xFF, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}})
	time.Sleep(50 * time.Millisecond)

	if _, ok := c.DeviceState(id); !ok {
		t.Error("session lost after malformed notifications")
	}
}

func TestDisconnectCleansUpAndPromotes(t *testing.T) {
	f := newFakeTransport()
	c, _ := newTestController(t, f)
	a := device.Identity("AA:AA:AA:AA:AA:01")
	b := device.Identity("BB:BB:BB:BB:BB:02")

	connectDevice(t, f, c, a, "GL-S60")
	connectDevice(t, f, c, b, "GL-S100")

	if sel, _ := c.Selected(); sel != a {
		t.Fatalf("selected = %v, want first device %v", sel, a)
	}

	f.emit(transport.DisconnectedEvent{Identity: a})
	waitUntil(t, "session removal", func() bool {
		_, ok := c.DeviceState(a)
		return !ok
	})

	if sel, ok := c.Selected(); !ok || sel != b {
		t.Errorf("Selected() after disconnect = %v, %v, want promoted %v", sel, ok, b)
	}
}

func TestDisconnectMidInitStopsSequence(t *testing.T) {
	f := newFakeTransport()
	c, _ := newTestController(t, f)
	id := device.Identity("AA:BB:CC:DD:EE:05")

	connectDevice(t, f, c, id, "GL-S60")

	// Tear the session down before the staggered queries fire.
	f.emit(transport.DisconnectedEvent{Identity: id})
	waitUntil(t, "session removal", func() bool {
		_, ok := c.DeviceState(id)
		return !ok
	})
	before := len(f.writesFor(id))

	time.Sleep(time.Duration(len(initSequence)+2) * testStagger)
	if after := len(f.writesFor(id)); after != before {
		t.Errorf("init sequence wrote %d frames into a torn-down session", after-before)
	}
}

func TestIntentFanOut(t *testing.T) {
	f := newFakeTransport()
	c, _ := newTestController(t, f)
	a := device.Identity("AA:AA:AA:AA:AA:11")
	b := device.Identity("BB:BB:BB:BB:BB:12")

	connectDevice(t, f, c, a, "GL-S60")
	connectDevice(t, f, c, b, "GL-S100")
	waitUntil(t, "init sequences", func() bool {
		return len(f.writesFor(a)) >= 6 && len(f.writesFor(b)) >= 6
	})

	// Default target hits only the selected device.
	c.TurnOff(session.Target{})
	waitUntil(t, "selected-only power off", func() bool {
		return len(f.writesFor(a)) == 7
	})
	time.Sleep(30 * time.Millisecond)
	if got := len(f.writesFor(b)); got != 6 {
		t.Errorf("device B received %d writes, want untouched 6", got)
	}

	// All flag fans out to both.
	c.TurnOff(session.Target{All: true})
	waitUntil(t, "broadcast power off", func() bool {
		return len(f.writesFor(a)) == 8 && len(f.writesFor(b)) == 7
	})

	// Explicit device hits only that device.
	c.SetColorTemperature(session.Target{Device: b}, 5000)
	waitUntil(t, "explicit color temp", func() bool {
		writes := f.writesFor(b)
		return len(writes) == 8 && writes[7].cmd == protocol.CmdSetColorTemp
	})
}

func TestRadioLossAndRecovery(t *testing.T) {
	f := newFakeTransport()
	c, _ := newTestController(t, f)

	f.emit(transport.RadioEvent{Available: false})
	waitUntil(t, "status text", func() bool { return c.Status() != "" })

	f.emit(transport.RadioEvent{Available: true})
	waitUntil(t, "rescan", func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.scans >= 2
	})
}

func TestRadioLossTearsDownSessions(t *testing.T) {
	f := newFakeTransport()
	c, _ := newTestController(t, f)
	id := device.Identity("AA:BB:CC:DD:EE:08")

	connectDevice(t, f, c, id, "GL-S60")

	f.emit(transport.RadioEvent{Available: false})
	waitUntil(t, "session teardown", func() bool {
		_, ok := c.DeviceState(id)
		return !ok
	})
	if _, ok := c.Selected(); ok {
		t.Error("a device is still selected after radio loss")
	}
}

func TestDisableScanKeepsRadioPassive(t *testing.T) {
	f := newFakeTransport()
	database, err := db.Open(filepath.Join(t.TempDir(), "glowd.sqlite"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	c := New(Config{InitStagger: testStagger, DisableScan: true}, f, knowndev.NewStore(database.DB), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("controller start failed: %v", err)
	}
	t.Cleanup(c.Stop)

	// Radio recovery must not kick off a scan either.
	f.emit(transport.RadioEvent{Available: true})
	time.Sleep(5 * testStagger)

	f.mu.Lock()
	scans := f.scans
	f.mu.Unlock()
	if scans != 0 {
		t.Errorf("scans = %d, want 0 with scanning disabled", scans)
	}
}

func TestForgetKnownDevices(t *testing.T) {
	f := newFakeTransport()
	c, store := newTestController(t, f)
	id := device.Identity("AA:BB:CC:DD:EE:06")

	connectDevice(t, f, c, id, "GL-S60")
	waitUntil(t, "persisted device", func() bool {
		ok, _ := store.Has(id)
		return ok
	})

	if err := c.ForgetKnownDevices(); err != nil {
		t.Fatalf("ForgetKnownDevices failed: %v", err)
	}
	ok, err := store.Has(id)
	if err != nil || ok {
		t.Errorf("device still known after clear (known=%v, err=%v)", ok, err)
	}
	// Still connected: clearing the registry does not disconnect.
	if _, ok := c.DeviceState(id); !ok {
		t.Error("session lost after clearing known devices")
	}
}
