// Package btle implements the transport contract on tinygo.org/x/bluetooth.
// All platform callbacks are converted into transport events on a single
// buffered channel; slow consumers drop events rather than block the radio
// callbacks.
package btle

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"tinygo.org/x/bluetooth"

	"github.com/dmoravec/glowd/internal/device"
	"github.com/dmoravec/glowd/internal/transport"
)

const eventQueueSize = 128

// peer is the per-connection platform state: the device handle and the
// discovered service/characteristic objects, keyed by canonical UUID string.
type peer struct {
	dev      bluetooth.Device
	services map[string]bluetooth.DeviceService
	chars    map[string]bluetooth.DeviceCharacteristic
}

// Adapter drives the host Bluetooth radio.
type Adapter struct {
	ble    *bluetooth.Adapter
	events chan transport.Event

	mu       sync.Mutex
	scanning bool
	stopped  bool
	peers    map[device.Identity]*peer
	addrs    map[device.Identity]bluetooth.Address

	watcher *powerWatcher
}

// New enables the default host adapter and starts the radio power watcher.
// A missing power watcher (no system D-Bus, non-BlueZ platform) is logged and
// tolerated.
func New() (*Adapter, error) {
	ble := bluetooth.DefaultAdapter
	if err := ble.Enable(); err != nil {
		return nil, transport.ErrTransportUnavailable
	}

	a := &Adapter{
		ble:    ble,
		events: make(chan transport.Event, eventQueueSize),
		peers:  make(map[device.Identity]*peer),
		addrs:  make(map[device.Identity]bluetooth.Address),
	}

	// Disconnects arrive through the platform connect handler. Successful
	// connects are reported by Connect itself, so only the loss matters here.
	ble.SetConnectHandler(func(dev bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := device.Identity(dev.Address.String())
		a.mu.Lock()
		_, known := a.peers[id]
		delete(a.peers, id)
		a.mu.Unlock()
		if known {
			a.emit(transport.DisconnectedEvent{Identity: id})
		}
	})

	watcher, err := newPowerWatcher(a.emit)
	if err != nil {
		log.Warn().Err(err).Msg("Radio power watcher unavailable")
	} else {
		a.watcher = watcher
	}

	return a, nil
}

// Scan starts advertisement delivery until StopScan or ctx cancellation.
func (a *Adapter) Scan(ctx context.Context) error {
	if a.watcher != nil && !a.watcher.Powered() {
		return transport.ErrTransportUnavailable
	}

	a.mu.Lock()
	if a.scanning {
		a.mu.Unlock()
		return nil
	}
	a.scanning = true
	a.mu.Unlock()

	go func() {
		<-ctx.Done()
		a.StopScan()
	}()

	go func() {
		err := a.ble.Scan(func(_ *bluetooth.Adapter, res bluetooth.ScanResult) {
			id := device.Identity(res.Address.String())
			a.mu.Lock()
			a.addrs[id] = res.Address
			a.mu.Unlock()
			a.emit(transport.AdvertEvent{
				Identity:  id,
				LocalName: res.LocalName(),
				RSSI:      res.RSSI,
			})
		})
		a.mu.Lock()
		a.scanning = false
		a.mu.Unlock()
		if err != nil {
			log.Warn().Err(err).Msg("Scan stopped with error")
			a.emit(transport.RadioEvent{Available: false})
		}
	}()
	return nil
}

// StopScan stops advertisement delivery.
func (a *Adapter) StopScan() {
	a.mu.Lock()
	scanning := a.scanning
	a.mu.Unlock()
	if scanning {
		if err := a.ble.StopScan(); err != nil {
			log.Debug().Err(err).Msg("StopScan failed")
		}
	}
}

// Connect dials a device previously seen in a scan. Completion arrives as a
// ConnectedEvent or ConnectFailedEvent.
func (a *Adapter) Connect(id device.Identity) error {
	a.mu.Lock()
	addr, ok := a.addrs[id]
	a.mu.Unlock()
	if !ok {
		return transport.ErrNotConnected
	}

	go func() {
		dev, err := a.ble.Connect(addr, bluetooth.ConnectionParams{})
		if err != nil {
			a.emit(transport.ConnectFailedEvent{Identity: id, Err: err})
			return
		}
		a.mu.Lock()
		a.peers[id] = &peer{
			dev:      dev,
			services: make(map[string]bluetooth.DeviceService),
			chars:    make(map[string]bluetooth.DeviceCharacteristic),
		}
		a.mu.Unlock()
		a.emit(transport.ConnectedEvent{Identity: id})
	}()
	return nil
}

// Disconnect closes the connection. The loss is reported through the connect
// handler as a DisconnectedEvent.
func (a *Adapter) Disconnect(id device.Identity) error {
	p, err := a.peer(id)
	if err != nil {
		return err
	}
	return p.dev.Disconnect()
}

// DiscoverService resolves one service by UUID.
func (a *Adapter) DiscoverService(id device.Identity, serviceUUID string) error {
	p, err := a.peer(id)
	if err != nil {
		return err
	}
	uuid, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return err
	}

	go func() {
		svcs, err := p.dev.DiscoverServices([]bluetooth.UUID{uuid})
		if err != nil || len(svcs) == 0 {
			log.Warn().Err(err).Str("device", string(id)).Str("service", serviceUUID).
				Msg("Service discovery failed")
			return
		}
		a.mu.Lock()
		p.services[serviceUUID] = svcs[0]
		a.mu.Unlock()
		a.emit(transport.ServiceFoundEvent{Identity: id, Service: serviceUUID})
	}()
	return nil
}

// DiscoverCharacteristics resolves characteristics of a discovered service.
func (a *Adapter) DiscoverCharacteristics(id device.Identity, serviceUUID string, charUUIDs []string) error {
	p, err := a.peer(id)
	if err != nil {
		return err
	}
	a.mu.Lock()
	svc, ok := p.services[serviceUUID]
	a.mu.Unlock()
	if !ok {
		return transport.ErrUnknownCharacteristic
	}

	uuids := make([]bluetooth.UUID, 0, len(charUUIDs))
	for _, cu := range charUUIDs {
		u, err := bluetooth.ParseUUID(cu)
		if err != nil {
			return err
		}
		uuids = append(uuids, u)
	}

	go func() {
		chars, err := svc.DiscoverCharacteristics(uuids)
		if err != nil {
			log.Warn().Err(err).Str("device", string(id)).Msg("Characteristic discovery failed")
			return
		}
		found := make([]string, 0, len(chars))
		a.mu.Lock()
		for _, ch := range chars {
			cu := ch.UUID().String()
			p.chars[cu] = ch
			found = append(found, cu)
		}
		a.mu.Unlock()
		a.emit(transport.CharacteristicsFoundEvent{
			Identity:        id,
			Service:         serviceUUID,
			Characteristics: found,
		})
	}()
	return nil
}

// Subscribe enables notifications on a characteristic. The platform reuses
// the notification buffer, so payloads are copied before they leave the
// callback.
func (a *Adapter) Subscribe(id device.Identity, charUUID string) error {
	ch, err := a.characteristic(id, charUUID)
	if err != nil {
		return err
	}

	err = ch.EnableNotifications(func(buf []byte) {
		data := make([]byte, len(buf))
		copy(data, buf)
		a.emit(transport.NotificationEvent{
			Identity:       id,
			Characteristic: charUUID,
			Data:           data,
		})
	})
	if err != nil {
		return err
	}
	a.emit(transport.SubscribedEvent{Identity: id, Characteristic: charUUID})
	return nil
}

// Write sends a frame without response. There is no delivery guarantee.
func (a *Adapter) Write(id device.Identity, charUUID string, frame []byte) error {
	ch, err := a.characteristic(id, charUUID)
	if err != nil {
		return err
	}
	_, err = ch.WriteWithoutResponse(frame)
	return err
}

// Events returns the transport event stream.
func (a *Adapter) Events() <-chan transport.Event {
	return a.events
}

// Close stops scanning, drops all connections and stops the power watcher.
func (a *Adapter) Close() error {
	a.StopScan()

	a.mu.Lock()
	a.stopped = true
	peers := make([]*peer, 0, len(a.peers))
	for _, p := range a.peers {
		peers = append(peers, p)
	}
	a.mu.Unlock()

	for _, p := range peers {
		if err := p.dev.Disconnect(); err != nil {
			log.Debug().Err(err).Msg("Disconnect during close failed")
		}
	}
	if a.watcher != nil {
		a.watcher.Close()
	}
	return nil
}

func (a *Adapter) peer(id device.Identity) (*peer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.peers[id]
	if !ok {
		return nil, transport.ErrNotConnected
	}
	return p, nil
}

func (a *Adapter) characteristic(id device.Identity, charUUID string) (bluetooth.DeviceCharacteristic, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.peers[id]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, transport.ErrNotConnected
	}
	ch, ok := p.chars[charUUID]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, transport.ErrUnknownCharacteristic
	}
	return ch, nil
}

// emit queues an event without blocking a radio callback.
func (a *Adapter) emit(ev transport.Event) {
	a.mu.Lock()
	stopped := a.stopped
	a.mu.Unlock()
	if stopped {
		return
	}
	select {
	case a.events <- ev:
	default:
		log.Warn().Msg("Transport event queue full, dropping event")
	}
}
