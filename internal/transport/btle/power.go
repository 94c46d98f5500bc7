package btle

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/dmoravec/glowd/internal/transport"
)

const (
	bluezBusName    = "org.bluez"
	adapterPath     = "/org/bluez/hci0"
	adapterIface    = "org.bluez.Adapter1"
	propsIface      = "org.freedesktop.DBus.Properties"
	propsChangedSig = propsIface + ".PropertiesChanged"
)

// powerWatcher tracks BlueZ adapter power over the system bus so scanning can
// pause while the radio is off and resume when it returns.
type powerWatcher struct {
	conn    *dbus.Conn
	signals chan *dbus.Signal

	mu      sync.Mutex
	powered bool
}

func newPowerWatcher(emit func(transport.Event)) (*powerWatcher, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}

	w := &powerWatcher{
		conn:    conn,
		signals: make(chan *dbus.Signal, 16),
	}
	w.powered = w.queryPowered()

	err = conn.AddMatchSignal(
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchObjectPath(adapterPath),
	)
	if err != nil {
		return nil, fmt.Errorf("add match signal: %w", err)
	}
	conn.Signal(w.signals)

	go w.watch(emit)
	return w, nil
}

// Powered reports the last observed adapter power state.
func (w *powerWatcher) Powered() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.powered
}

func (w *powerWatcher) Close() {
	w.conn.RemoveSignal(w.signals)
	close(w.signals)
}

// queryPowered reads Adapter1.Powered once at startup.
func (w *powerWatcher) queryPowered() bool {
	obj := w.conn.Object(bluezBusName, adapterPath)
	var v dbus.Variant
	if err := obj.Call(propsIface+".Get", 0, adapterIface, "Powered").Store(&v); err != nil {
		return false
	}
	on, ok := v.Value().(bool)
	return ok && on
}

// watch forwards Powered transitions as radio events.
// Signal body: [interface_name string, changed map[string]Variant, invalidated []string].
func (w *powerWatcher) watch(emit func(transport.Event)) {
	for sig := range w.signals {
		if sig.Name != propsChangedSig || len(sig.Body) < 2 {
			continue
		}
		iface, ok := sig.Body[0].(string)
		if !ok || iface != adapterIface {
			continue
		}
		changed, ok := sig.Body[1].(map[string]dbus.Variant)
		if !ok {
			continue
		}
		v, ok := changed["Powered"]
		if !ok {
			continue
		}
		on, ok := v.Value().(bool)
		if !ok {
			continue
		}

		w.mu.Lock()
		was := w.powered
		w.powered = on
		w.mu.Unlock()

		if on != was {
			emit(transport.RadioEvent{Available: on})
		}
	}
}
