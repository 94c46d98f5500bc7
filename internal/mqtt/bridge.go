package mqtt

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dmoravec/glowd/internal/config"
	"github.com/dmoravec/glowd/internal/controller"
	"github.com/dmoravec/glowd/internal/device"
	"github.com/dmoravec/glowd/internal/eventbus"
	"github.com/dmoravec/glowd/internal/session"
)

// intent is the JSON body accepted on the set topics. Device and All scope
// the command; both absent means "the selected device".
type intent struct {
	Value      *float64 `json:"value,omitempty"`
	On         *bool    `json:"on,omitempty"`
	Brightness *float64 `json:"brightness,omitempty"`
	Device     string   `json:"device,omitempty"`
	All        bool     `json:"all,omitempty"`
}

func (in intent) target() session.Target {
	return session.Target{Device: device.Identity(in.Device), All: in.All}
}

// Bridge wires broker messages to controller intents and bus events to
// retained broker topics.
type Bridge struct {
	client *Client
	ctrl   *controller.Controller
}

// NewBridge connects to the broker and installs the intent subscriptions and
// bus handlers.
func NewBridge(cfg config.MQTTConfig, ctrl *controller.Controller, bus *eventbus.Bus) (*Bridge, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	b := &Bridge{client: client, ctrl: ctrl}

	client.Subscribe("set/brightness", b.onSetBrightness)
	client.Subscribe("set/color_temp", b.onSetColorTemp)
	client.Subscribe("set/power", b.onSetPower)
	client.Subscribe("select", b.onSelect)
	client.Subscribe("forget", b.onForget)

	bus.Subscribe(eventbus.EventTypeStateChanged, b.onStateChanged)
	bus.Subscribe(eventbus.EventTypeDeviceConnected, b.onDevicesChanged)
	bus.Subscribe(eventbus.EventTypeDeviceDisconnected, b.onDeviceDisconnected)
	bus.Subscribe(eventbus.EventTypeSelectionChanged, b.onSelectionChanged)
	bus.Subscribe(eventbus.EventTypeStatus, b.onStatus)

	return b, nil
}

// Close disconnects from the broker.
func (b *Bridge) Close() {
	b.client.Close()
}

// --- inbound intents ---

func decodeIntent(topic string, payload []byte) (intent, bool) {
	var in intent
	if err := json.Unmarshal(payload, &in); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Dropping malformed MQTT intent")
		return intent{}, false
	}
	return in, true
}

func (b *Bridge) onSetBrightness(topic string, payload []byte) {
	in, ok := decodeIntent(topic, payload)
	if !ok || in.Value == nil {
		return
	}
	b.ctrl.SetBrightness(in.target(), float32(*in.Value))
}

func (b *Bridge) onSetColorTemp(topic string, payload []byte) {
	in, ok := decodeIntent(topic, payload)
	if !ok || in.Value == nil {
		return
	}
	b.ctrl.SetColorTemperature(in.target(), uint16(*in.Value))
}

func (b *Bridge) onSetPower(topic string, payload []byte) {
	in, ok := decodeIntent(topic, payload)
	if !ok || in.On == nil {
		return
	}
	if !*in.On {
		b.ctrl.TurnOff(in.target())
		return
	}
	var brightness *float32
	if in.Brightness != nil {
		v := float32(*in.Brightness)
		brightness = &v
	}
	b.ctrl.TurnOn(in.target(), brightness)
}

func (b *Bridge) onSelect(topic string, payload []byte) {
	in, ok := decodeIntent(topic, payload)
	if !ok || in.Device == "" {
		return
	}
	if !b.ctrl.Select(device.Identity(in.Device)) {
		log.Warn().Str("device", in.Device).Msg("Select requested for unconnected device")
	}
}

func (b *Bridge) onForget(topic string, payload []byte) {
	if err := b.ctrl.ForgetKnownDevices(); err != nil {
		log.Error().Err(err).Msg("Failed to clear known devices")
	}
}

// --- outbound state ---

func (b *Bridge) onStateChanged(ev eventbus.Event) {
	id, _ := ev.Data["device"].(string)
	if id == "" {
		return
	}
	st, ok := b.ctrl.DeviceState(device.Identity(id))
	if !ok {
		return
	}
	payload, err := json.Marshal(st)
	if err != nil {
		return
	}
	b.client.Publish("state/"+id, payload, true)
}

func (b *Bridge) onDevicesChanged(eventbus.Event) {
	b.publishDevices()
}

func (b *Bridge) onDeviceDisconnected(ev eventbus.Event) {
	if id, _ := ev.Data["device"].(string); id != "" {
		// Clear the retained state topic for the departed device.
		b.client.Publish("state/"+id, nil, true)
	}
	b.publishDevices()
}

func (b *Bridge) onSelectionChanged(ev eventbus.Event) {
	id, _ := ev.Data["device"].(string)
	b.client.Publish("selected", []byte(id), true)
}

func (b *Bridge) onStatus(ev eventbus.Event) {
	text, _ := ev.Data["text"].(string)
	b.client.Publish("status", []byte(text), false)
}

func (b *Bridge) publishDevices() {
	ids := b.ctrl.Devices()
	list := make([]string, 0, len(ids))
	for _, id := range ids {
		list = append(list, string(id))
	}
	payload, err := json.Marshal(list)
	if err != nil {
		return
	}
	b.client.Publish("devices", payload, true)
}
