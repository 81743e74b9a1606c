package mqtt

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/carlmjohnson/versioninfo"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type HADiscoveryConfig struct {
	Device            HADiscoveryDevice `json:"device"`
	StateTopic        string            `json:"state_topic,omitempty"`
	CommandTopic      string            `json:"command_topic,omitempty"`
	DeviceClass       string            `json:"device_class,omitempty"`
	UnitOfMeasurement string            `json:"unit_of_measurement,omitempty"`
	AvTopic           string            `json:"availability_topic,omitempty"`
	Name              string            `json:"name"`
	UniqueID          string            `json:"unique_id"`
	PayloadOn         string            `json:"payload_on,omitempty"`
	PayloadOff        string            `json:"payload_off,omitempty"`
	Icon              string            `json:"icon,omitempty"`
	Min               float64           `json:"min,omitempty"`
	Max               float64           `json:"max,omitempty"`
	Step              float64           `json:"step,omitempty"`
	Mode              string            `json:"mode,omitempty"`
}

type HADiscoveryDevice struct {
	ID           []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Version      string   `json:"sw_version,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name,omitempty"`
}

type discoveryEntity struct {
	component string
	id        string
	config    HADiscoveryConfig
}

func HADiscoveryTopic(component, nodeID, entityID string) string {
	return fmt.Sprintf("homeassistant/%s/%s/%s/config", component, nodeID, entityID)
}

func discoveryEntities(topics Topics, nodeID string) []discoveryEntity {
	device := HADiscoveryDevice{
		ID:      []string{nodeID},
		Version: versioninfo.Short(),
		Model:   "chargectl",
		Name:    "Battery charge limiter",
	}

	entity := func(component, id, name string, cfg HADiscoveryConfig) discoveryEntity {
		cfg.Device = device
		cfg.Name = name
		cfg.UniqueID = nodeID + "_" + id
		cfg.AvTopic = topics.BridgeState()
		return discoveryEntity{component: component, id: id, config: cfg}
	}

	binary := func(id, name, class string) discoveryEntity {
		return entity("binary_sensor", id, name, HADiscoveryConfig{
			StateTopic:  topics.BinarySensorState(id),
			DeviceClass: class,
			PayloadOn:   PayloadOn,
			PayloadOff:  PayloadOff,
		})
	}

	return []discoveryEntity{
		entity("sensor", EntityBatteryLevel, "Battery level", HADiscoveryConfig{
			StateTopic:        topics.SensorState(EntityBatteryLevel),
			DeviceClass:       "battery",
			UnitOfMeasurement: "%",
		}),
		binary(EntityCharging, "Charging", "battery_charging"),
		binary(EntityPluggedIn, "Plugged in", "plug"),
		binary(EntityAvailable, "Charge limit available", ""),
		entity("sensor", EntityControlState, "Charge control state", HADiscoveryConfig{
			StateTopic: topics.SensorState(EntityControlState),
			Icon:       "mdi:battery-lock",
		}),
		entity("number", EntityChargeLimit, "Charge limit", HADiscoveryConfig{
			StateTopic:        topics.NumberState(EntityChargeLimit),
			CommandTopic:      topics.NumberCommand(EntityChargeLimit),
			UnitOfMeasurement: "%",
			Min:               1,
			Max:               100,
			Step:              1,
			Mode:              "slider",
			Icon:              "mdi:battery-charging-80",
		}),
		entity("button", EntityCycleLimit, "Cycle charge limit", HADiscoveryConfig{
			CommandTopic: topics.ButtonCommand(EntityCycleLimit),
			Icon:         "mdi:battery-sync",
		}),
	}
}

func (b *Bridge) publishDiscovery(client mqtt.Client) {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "localhost"
	}
	nodeID := "chargectl_" + hostname

	for _, e := range discoveryEntities(b.topics, nodeID) {
		payload, err := json.Marshal(e.config)
		if err != nil {
			b.log.Warn().Err(err).Str("entity", e.id).Msg("Failed to encode discovery config")
			continue
		}

		topic := HADiscoveryTopic(e.component, nodeID, e.id)
		if err := wait(client.Publish(topic, 0, true, payload), b.timeout, ErrPublish); err != nil {
			b.log.Warn().Err(err).Str("topic", topic).Msg("Failed to publish discovery config")
		}
	}
}
