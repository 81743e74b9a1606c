package mqtt

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/chargectl/internal/errors"
	"github.com/google/uuid"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
	PayloadOn      = "on"
	PayloadOff     = "off"

	EntityBatteryLevel = "battery_level"
	EntityCharging     = "charging"
	EntityPluggedIn    = "plugged_in"
	EntityAvailable    = "available"
	EntityControlState = "control_state"
	EntityChargeLimit  = "charge_limit"
	EntityCycleLimit   = "cycle_limit"

	CommandSetNumber   = "number"
	CommandPressButton = "button"

	connectRetryInterval = 10 * time.Second
)

type Config struct {
	Host      string
	Port      int
	Username  string
	Password  string
	BaseTopic string
	ClientID  string
	Discovery bool
	Timeout   time.Duration
}

func OptsFromConfig(cfg Config) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port))

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "chargectl_" + uuid.NewString()[:8]
	}
	opts.SetClientID(clientID)

	if cfg.Username != "" && cfg.Password != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	// command handlers wait on publish tokens
	opts.SetOrderMatters(false)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(connectRetryInterval)
	opts.WillEnabled = true
	opts.WillPayload = []byte(PayloadOffline)
	opts.WillRetained = true
	opts.WillTopic = bridgeStateTopic(cfg.BaseTopic)
	opts.WillQos = 0

	return opts
}

// Topics builds state and command topics below a base topic and parses
// incoming commands.
type Topics struct {
	base                string
	numberCommandRegexp *regexp.Regexp
	buttonCommandRegexp *regexp.Regexp
}

type Command struct {
	EntityID string
	Command  string
	Payload  string
}

func NewTopics(baseTopic string) Topics {
	return Topics{
		base:                baseTopic,
		numberCommandRegexp: numberCommandExtractor(baseTopic),
		buttonCommandRegexp: buttonCommandExtractor(baseTopic),
	}
}

func (t Topics) BridgeState() string {
	return bridgeStateTopic(t.base)
}

func (t Topics) SensorState(id string) string {
	return fmt.Sprintf("%s/sensor/%s/state", t.base, id)
}

func (t Topics) BinarySensorState(id string) string {
	return fmt.Sprintf("%s/binary_sensor/%s/state", t.base, id)
}

func (t Topics) NumberState(id string) string {
	return fmt.Sprintf("%s/number/%s/state", t.base, id)
}

func (t Topics) NumberCommand(id string) string {
	return fmt.Sprintf("%s/number/%s/set", t.base, id)
}

func (t Topics) ButtonCommand(id string) string {
	return fmt.Sprintf("%s/button/%s/press", t.base, id)
}

func (t Topics) commandFilters() map[string]byte {
	return map[string]byte{
		fmt.Sprintf("%s/number/+/set", t.base):   1,
		fmt.Sprintf("%s/button/+/press", t.base): 1,
	}
}

// ParseCommand extracts the entity and payload of a command topic. Number
// payloads must parse as an integer.
func (t Topics) ParseCommand(topic string, payload []byte) (*Command, error) {
	errFactory := errors.New()

	if matches := t.numberCommandRegexp.FindStringSubmatch(topic); len(matches) == 2 {
		value := strings.TrimSpace(string(payload))
		if _, err := strconv.Atoi(value); err != nil {
			return nil, errFactory.Wrap(ErrInvalidCommand, err).WithData(topic)
		}

		return &Command{
			EntityID: matches[1],
			Command:  CommandSetNumber,
			Payload:  value,
		}, nil
	}

	if matches := t.buttonCommandRegexp.FindStringSubmatch(topic); len(matches) == 2 {
		return &Command{
			EntityID: matches[1],
			Command:  CommandPressButton,
			Payload:  string(payload),
		}, nil
	}

	return nil, errFactory.WithData(ErrInvalidCommand, topic)
}

func numberCommandExtractor(baseTopic string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf("^%s/number/([a-zA-Z0-9_]+)/set$", regexp.QuoteMeta(baseTopic)))
}

func buttonCommandExtractor(baseTopic string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf("^%s/button/([a-zA-Z0-9_]+)/press$", regexp.QuoteMeta(baseTopic)))
}

func bridgeStateTopic(baseTopic string) string {
	return fmt.Sprintf("%s/bridge/state", baseTopic)
}

func wait(token mqtt.Token, timeout time.Duration, code errors.ErrorCode) error {
	if !token.WaitTimeout(timeout) {
		return errors.New().WithMessage(code, "timed out")
	}
	if err := token.Error(); err != nil {
		return errors.New().Wrap(code, err)
	}

	return nil
}
