// Package transport defines the contract between the controller and the BLE
// layer. Implementations deliver every asynchronous result on a single event
// channel; the controller owns the only goroutine that consumes it, which
// keeps all lifecycle state mutation serialized without cross-package locks.
package transport

import (
	"context"
	"errors"

	"github.com/dmoravec/glowd/internal/device"
)

var (
	// ErrTransportUnavailable means the radio is off, unauthorized or not
	// present. Scanning cannot proceed until a RadioEvent reports it back.
	ErrTransportUnavailable = errors.New("bluetooth transport unavailable")
	// ErrNotConnected is returned for operations on a device the transport
	// does not hold a connection to.
	ErrNotConnected = errors.New("device not connected")
	// ErrUnknownCharacteristic is returned when a characteristic UUID has not
	// been discovered on the device.
	ErrUnknownCharacteristic = errors.New("unknown characteristic")
)

// GATT addressing for the proprietary light service. Characteristics are
// referred to by UUID string; the adapter keeps the platform handles.
const (
	ServiceUUID    = "0000fff0-0000-1000-8000-00805f9b34fb"
	WriteCharUUID  = "0000fff1-0000-1000-8000-00805f9b34fb"
	NotifyCharUUID = "0000fff2-0000-1000-8000-00805f9b34fb"
)

// Transport is the BLE layer the controller drives. Connect, discovery and
// subscription requests complete asynchronously through Events; Write is
// fire-and-forget with no delivery guarantee (the protocol uses unacknowledged
// writes).
type Transport interface {
	// Scan starts advertisement delivery. It returns
	// ErrTransportUnavailable if the radio cannot scan; otherwise adverts
	// arrive as AdvertEvent until StopScan or ctx cancellation.
	Scan(ctx context.Context) error
	StopScan()

	Connect(id device.Identity) error
	Disconnect(id device.Identity) error

	DiscoverService(id device.Identity, serviceUUID string) error
	DiscoverCharacteristics(id device.Identity, serviceUUID string, charUUIDs []string) error

	// Subscribe enables notifications on a characteristic. Data arrives as
	// NotificationEvent; completion as SubscribedEvent.
	Subscribe(id device.Identity, charUUID string) error

	// Write sends a frame on a writable characteristic without response.
	Write(id device.Identity, charUUID string, frame []byte) error

	Events() <-chan Event
	Close() error
}

// Event is one asynchronous transport callback, delivered on Events().
type Event interface {
	isEvent()
}

// AdvertEvent is one received advertisement.
type AdvertEvent struct {
	Identity  device.Identity
	LocalName string
	RSSI      int16
}

// ConnectedEvent reports a successful connection.
type ConnectedEvent struct {
	Identity device.Identity
}

// ConnectFailedEvent reports a failed connection attempt.
type ConnectFailedEvent struct {
	Identity device.Identity
	Err      error
}

// DisconnectedEvent reports a lost or explicitly closed connection. Err is
// nil for a clean disconnect.
type DisconnectedEvent struct {
	Identity device.Identity
	Err      error
}

// ServiceFoundEvent reports the requested service was discovered.
type ServiceFoundEvent struct {
	Identity device.Identity
	Service  string
}

// CharacteristicsFoundEvent reports the discovered characteristic UUIDs of a
// service.
type CharacteristicsFoundEvent struct {
	Identity        device.Identity
	Service         string
	Characteristics []string
}

// SubscribedEvent reports notifications are enabled on a characteristic.
type SubscribedEvent struct {
	Identity       device.Identity
	Characteristic string
}

// NotificationEvent is one inbound notification.
type NotificationEvent struct {
	Identity       device.Identity
	Characteristic string
	Data           []byte
}

// RadioEvent reports a change in radio availability.
type RadioEvent struct {
	Available bool
}

func (AdvertEvent) isEvent()               {}
func (ConnectedEvent) isEvent()            {}
func (ConnectFailedEvent) isEvent()        {}
func (DisconnectedEvent) isEvent()         {}
func (ServiceFoundEvent) isEvent()         {}
func (CharacteristicsFoundEvent) isEvent() {}
func (SubscribedEvent) isEvent()           {}
func (NotificationEvent) isEvent()         {}
func (RadioEvent) isEvent()                {}
