package mqtt

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/chargectl/internal/charge"
	"codeberg.org/mutker/chargectl/internal/errors"
	"codeberg.org/mutker/chargectl/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type doneToken struct {
	err error
}

func (*doneToken) Wait() bool                     { return true }
func (*doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Error() error                 { return t.err }

func (*doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic   string
	payload string
	retain  bool
}

// fakeClient implements the publishing side of mqtt.Client.
type fakeClient struct {
	mqtt.Client

	mu         sync.Mutex
	messages   []published
	subscribed map[string]byte
	connected  bool
	publishErr error
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	var body string
	switch p := payload.(type) {
	case string:
		body = p
	case []byte:
		body = string(p)
	}
	c.messages = append(c.messages, published{topic, body, retained})

	return &doneToken{err: c.publishErr}
}

func (c *fakeClient) SubscribeMultiple(filters map[string]byte, _ mqtt.MessageHandler) mqtt.Token {
	c.subscribed = filters
	return &doneToken{}
}

func (c *fakeClient) IsConnected() bool {
	return c.connected
}

func (c *fakeClient) Disconnect(uint) {
	c.connected = false
}

func (c *fakeClient) last(topic string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].topic == topic {
			return c.messages[i].payload, true
		}
	}

	return "", false
}

func (c *fakeClient) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.messages)
}

type message struct {
	mqtt.Message
	topic   string
	payload []byte
}

func (m *message) Topic() string   { return m.topic }
func (m *message) Payload() []byte { return m.payload }

type fakeController struct {
	limit  int
	setErr error
}

func (c *fakeController) SetLimit(limit int) error {
	if c.setErr != nil {
		return c.setErr
	}
	c.limit = limit
	return nil
}

func (c *fakeController) CycleLimit() (int, error) {
	c.limit = charge.NextPreset(c.limit)
	return c.limit, nil
}

func newTestBridge(ctrl Controller) (*Bridge, *fakeClient) {
	client := &fakeClient{connected: true}
	return newBridge(client, Config{BaseTopic: "chargectl"}, ctrl, logger.Nop()), client
}

func testSnapshot() charge.Snapshot {
	return charge.Snapshot{
		Reading:    charge.Reading{Percentage: 81, Charging: false, PluggedIn: true, Status: charge.StatusNotCharging},
		Limit:      charge.NewLimitConfig(80),
		Capability: charge.CapabilityToggle,
		State:      charge.StateChargingBlocked,
		Available:  true,
	}
}

func TestBridgePublish(t *testing.T) {
	bridge, client := newTestBridge(&fakeController{})

	bridge.Publish(testSnapshot())

	expected := map[string]string{
		"chargectl/sensor/battery_level/state":     "81",
		"chargectl/binary_sensor/charging/state":   "off",
		"chargectl/binary_sensor/plugged_in/state": "on",
		"chargectl/binary_sensor/available/state":  "on",
		"chargectl/sensor/control_state/state":     "charging_blocked",
		"chargectl/number/charge_limit/state":      "80",
	}
	for topic, payload := range expected {
		got, ok := client.last(topic)
		assert.True(t, ok, topic)
		assert.Equal(t, payload, got, topic)
	}
	for _, m := range client.messages {
		assert.True(t, m.retain, m.topic)
	}
}

func TestBridgePublishOnlyChanges(t *testing.T) {
	bridge, client := newTestBridge(&fakeController{})

	bridge.Publish(testSnapshot())
	first := client.count()

	bridge.Publish(testSnapshot())
	assert.Equal(t, first, client.count())

	snapshot := testSnapshot()
	snapshot.Reading.Percentage = 80
	bridge.Publish(snapshot)
	assert.Equal(t, first+1, client.count())

	got, _ := client.last("chargectl/sensor/battery_level/state")
	assert.Equal(t, "80", got)
}

func TestBridgePublishRetriesFailed(t *testing.T) {
	bridge, client := newTestBridge(&fakeController{})
	client.publishErr = assert.AnError

	bridge.Publish(testSnapshot())
	failed := client.count()

	client.publishErr = nil
	bridge.Publish(testSnapshot())
	assert.Equal(t, 2*failed, client.count())
}

func TestBridgeOnConnect(t *testing.T) {
	bridge, client := newTestBridge(&fakeController{})
	bridge.discovery = true

	bridge.Publish(testSnapshot())
	bridge.onConnect(client)

	got, ok := client.last("chargectl/bridge/state")
	require.True(t, ok)
	assert.Equal(t, PayloadOnline, got)
	assert.Equal(t, map[string]byte{
		"chargectl/number/+/set":   1,
		"chargectl/button/+/press": 1,
	}, client.subscribed)

	var discovery int
	for _, m := range client.messages {
		if strings.HasPrefix(m.topic, "homeassistant/") {
			discovery++
			var cfg HADiscoveryConfig
			require.NoError(t, json.Unmarshal([]byte(m.payload), &cfg), m.topic)
			assert.Equal(t, "chargectl/bridge/state", cfg.AvTopic)
		}
	}
	assert.Equal(t, 7, discovery)

	// state is republished after a reconnect
	before := client.count()
	bridge.Publish(testSnapshot())
	assert.Equal(t, before+6, client.count())
}

func TestBridgeSetLimitCommand(t *testing.T) {
	ctrl := &fakeController{limit: 100}
	bridge, client := newTestBridge(ctrl)

	bridge.handleMessage(client, &message{topic: "chargectl/number/charge_limit/set", payload: []byte("85")})

	assert.Equal(t, 85, ctrl.limit)
	got, ok := client.last("chargectl/number/charge_limit/state")
	require.True(t, ok)
	assert.Equal(t, "85", got)
}

func TestBridgeSetLimitRejected(t *testing.T) {
	ctrl := &fakeController{limit: 80, setErr: errors.New().New(errors.ErrInvalidLimit)}
	bridge, client := newTestBridge(ctrl)

	bridge.handleMessage(client, &message{topic: "chargectl/number/charge_limit/set", payload: []byte("150")})

	assert.Equal(t, 80, ctrl.limit)
	assert.Equal(t, 0, client.count())
}

func TestBridgeCycleCommand(t *testing.T) {
	ctrl := &fakeController{limit: 100}
	bridge, client := newTestBridge(ctrl)

	bridge.handleMessage(client, &message{topic: "chargectl/button/cycle_limit/press", payload: []byte("PRESS")})
	assert.Equal(t, 90, ctrl.limit)

	got, _ := client.last("chargectl/number/charge_limit/state")
	assert.Equal(t, "90", got)
}

func TestBridgeIgnoresUnknown(t *testing.T) {
	ctrl := &fakeController{limit: 80}
	bridge, client := newTestBridge(ctrl)

	bridge.handleMessage(client, &message{topic: "chargectl/number/other/set", payload: []byte("10")})
	bridge.handleMessage(client, &message{topic: "chargectl/sensor/battery_level/state", payload: []byte("10")})

	assert.Equal(t, 80, ctrl.limit)
	assert.Equal(t, 0, client.count())
}

func TestBridgeClose(t *testing.T) {
	bridge, client := newTestBridge(&fakeController{})

	require.NoError(t, bridge.Close())
	got, _ := client.last("chargectl/bridge/state")
	assert.Equal(t, PayloadOffline, got)
	assert.False(t, client.connected)

	// already disconnected
	require.NoError(t, bridge.Close())
}
