package mqtt

import (
	"strconv"
	"sync"
	"time"

	"codeberg.org/mutker/chargectl/internal/charge"
	"codeberg.org/mutker/chargectl/internal/errors"
	"codeberg.org/mutker/chargectl/internal/logger"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultTimeout    = 5 * time.Second
	disconnectQuiesce = 250
)

// Controller is the part of charge.Controller reachable over MQTT.
type Controller interface {
	SetLimit(limit int) error
	CycleLimit() (int, error)
}

// Bridge publishes controller state as retained messages and forwards
// limit commands to the controller.
type Bridge struct {
	client    mqtt.Client
	topics    Topics
	ctrl      Controller
	log       logger.Logger
	timeout   time.Duration
	discovery bool

	mu        sync.Mutex
	published map[string]string
}

func NewBridge(cfg Config, ctrl Controller, log logger.Logger) *Bridge {
	b := newBridge(nil, cfg, ctrl, log)

	opts := OptsFromConfig(cfg)
	opts.OnConnect = b.onConnect
	opts.OnConnectionLost = b.onConnectionLost
	b.client = mqtt.NewClient(opts)

	return b
}

func newBridge(client mqtt.Client, cfg Config, ctrl Controller, log logger.Logger) *Bridge {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Bridge{
		client:    client,
		topics:    NewTopics(cfg.BaseTopic),
		ctrl:      ctrl,
		log:       log,
		timeout:   timeout,
		discovery: cfg.Discovery,
		published: make(map[string]string),
	}
}

// Connect waits for the first connection. On timeout the client keeps
// retrying in the background and the error only reports the delay.
func (b *Bridge) Connect() error {
	if err := wait(b.client.Connect(), b.timeout, ErrConnect); err != nil {
		return err
	}

	b.log.Info().Str("base_topic", b.topics.base).Msg("Connected to MQTT broker")

	return nil
}

func (b *Bridge) onConnect(client mqtt.Client) {
	b.mu.Lock()
	b.published = make(map[string]string)
	b.mu.Unlock()

	if err := wait(client.Publish(b.topics.BridgeState(), 0, true, PayloadOnline), b.timeout, ErrPublish); err != nil {
		b.log.Warn().Err(err).Msg("Failed to publish bridge state")
	}

	if err := wait(client.SubscribeMultiple(b.topics.commandFilters(), b.handleMessage), b.timeout, ErrSubscribe); err != nil {
		b.log.Error().Err(err).Msg("Failed to subscribe to command topics")
	}

	if b.discovery {
		b.publishDiscovery(client)
	}
}

func (b *Bridge) onConnectionLost(_ mqtt.Client, err error) {
	b.log.Warn().Err(err).Msg("MQTT connection lost")
}

func (b *Bridge) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	cmd, err := b.topics.ParseCommand(msg.Topic(), msg.Payload())
	if err != nil {
		b.log.Warn().Err(err).Str("topic", msg.Topic()).Msg("Ignoring MQTT message")
		return
	}

	switch {
	case cmd.Command == CommandSetNumber && cmd.EntityID == EntityChargeLimit:
		limit, _ := strconv.Atoi(cmd.Payload)
		if err := b.ctrl.SetLimit(limit); err != nil {
			b.log.Warn().Err(err).Int("limit", limit).Msg("Rejected charge limit")
			return
		}
		b.publishState(b.topics.NumberState(EntityChargeLimit), strconv.Itoa(limit))

	case cmd.Command == CommandPressButton && cmd.EntityID == EntityCycleLimit:
		limit, err := b.ctrl.CycleLimit()
		if err != nil {
			b.log.Warn().Err(err).Msg("Failed to cycle charge limit")
			return
		}
		b.publishState(b.topics.NumberState(EntityChargeLimit), strconv.Itoa(limit))

	default:
		b.log.Warn().
			Str("entity", cmd.EntityID).
			Str("command", cmd.Command).
			Msg("Unknown MQTT command")
	}
}

// Publish sends every state topic whose payload changed since the last call.
func (b *Bridge) Publish(snapshot charge.Snapshot) {
	states := map[string]string{
		b.topics.SensorState(EntityBatteryLevel):    strconv.Itoa(snapshot.Reading.Percentage),
		b.topics.BinarySensorState(EntityCharging):  onOff(snapshot.Reading.Charging),
		b.topics.BinarySensorState(EntityPluggedIn): onOff(snapshot.Reading.PluggedIn),
		b.topics.BinarySensorState(EntityAvailable): onOff(snapshot.Available),
		b.topics.SensorState(EntityControlState):    string(snapshot.State),
		b.topics.NumberState(EntityChargeLimit):     strconv.Itoa(snapshot.Limit.Limit),
	}

	for topic, payload := range states {
		b.publishState(topic, payload)
	}
}

func (b *Bridge) publishState(topic, payload string) {
	b.mu.Lock()
	if b.published[topic] == payload {
		b.mu.Unlock()
		return
	}
	b.published[topic] = payload
	b.mu.Unlock()

	if err := wait(b.client.Publish(topic, 0, true, payload), b.timeout, ErrPublish); err != nil {
		b.log.Warn().Err(err).Str("topic", topic).Msg("Failed to publish state")

		// retry on the next call
		b.mu.Lock()
		delete(b.published, topic)
		b.mu.Unlock()
	}
}

// Close marks the bridge offline and disconnects.
func (b *Bridge) Close() error {
	if !b.client.IsConnected() {
		return nil
	}

	err := wait(b.client.Publish(b.topics.BridgeState(), 0, true, PayloadOffline), b.timeout, ErrPublish)
	b.client.Disconnect(disconnectQuiesce)

	if err != nil {
		return errors.New().Wrap(errors.ErrShutdownFailed, err)
	}

	return nil
}

func onOff(b bool) string {
	if b {
		return PayloadOn
	}

	return PayloadOff
}
