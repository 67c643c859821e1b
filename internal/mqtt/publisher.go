package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"deye-monitor/internal/inverter"
)

const publishTimeout = 5 * time.Second

type Publisher struct {
	client      mqtt.Client
	topicPrefix string
	enabled     bool
	logger      *logrus.Logger
}

type PublisherConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	Enabled     bool
}

func NewPublisher(cfg PublisherConfig, logger *logrus.Logger) (*Publisher, error) {
	if !cfg.Enabled {
		return &Publisher{enabled: false, logger: logger}, nil
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectionLostHandler(func(c mqtt.Client, err error) {
			logger.WithError(err).Warn("MQTT connection lost")
		}).
		SetOnConnectHandler(func(c mqtt.Client) {
			logger.Info("MQTT connected")
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return &Publisher{
		client:      client,
		topicPrefix: cfg.TopicPrefix,
		enabled:     true,
		logger:      logger,
	}, nil
}

func (p *Publisher) Enabled() bool {
	return p.enabled
}

func (p *Publisher) publish(topic string, retained bool, payload any) error {
	token := p.client.Publish(topic, 0, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Publish sends the per-field sensor topics plus the full Reading as a
// retained JSON state topic. Per-field failures are logged and skipped;
// only the state publish is surfaced to the caller.
func (p *Publisher) Publish(r *inverter.Reading) error {
	if !p.enabled {
		return nil
	}

	fields := map[string]any{
		"pv_power":        r.PVPower,
		"pv1_power":       r.PV1Power,
		"pv2_power":       r.PV2Power,
		"battery_soc":     r.BatterySOC,
		"battery_power":   r.BatteryPower,
		"grid_power":      r.GridPower,
		"load_power":      r.LoadPower,
		"generator_power": r.GeneratorPower,
	}
	for i, v := range r.GridVoltage {
		fields[fmt.Sprintf("grid_voltage_l%d", i+1)] = v
	}
	for i, v := range r.PhasePower {
		fields[fmt.Sprintf("load_power_l%d", i+1)] = v
	}

	for name, value := range fields {
		topic := fmt.Sprintf("%s/%s", p.topicPrefix, name)
		if err := p.publish(topic, false, fmt.Sprintf("%v", value)); err != nil {
			p.logger.WithError(err).WithField("topic", topic).Warn("MQTT publish failed")
		}
	}

	stateJSON, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}

	return p.publish(fmt.Sprintf("%s/state", p.topicPrefix), true, stateJSON)
}

// PublishGridState sets the retained grid availability topic, the one
// the Home Assistant binary sensor follows.
func (p *Publisher) PublishGridState(up bool) error {
	if !p.enabled {
		return nil
	}

	payload := "OFF"
	if up {
		payload = "ON"
	}
	return p.publish(fmt.Sprintf("%s/grid", p.topicPrefix), true, payload)
}

type gridEvent struct {
	Event           string    `json:"event"`
	At              time.Time `json:"at"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
}

func (p *Publisher) publishEvent(e gridEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal grid event: %w", err)
	}
	return p.publish(fmt.Sprintf("%s/event", p.topicPrefix), false, payload)
}

// Name, PowerLost and PowerRestored make the publisher a notification
// receiver for grid transitions.
func (p *Publisher) Name() string {
	return "mqtt"
}

func (p *Publisher) PowerLost(ctx context.Context, at time.Time) error {
	if !p.enabled {
		return nil
	}

	if err := p.publishEvent(gridEvent{Event: "grid_down", At: at.UTC()}); err != nil {
		return err
	}
	return p.PublishGridState(false)
}

func (p *Publisher) PowerRestored(ctx context.Context, at time.Time, outage time.Duration) error {
	if !p.enabled {
		return nil
	}

	event := gridEvent{Event: "grid_up", At: at.UTC(), DurationSeconds: outage.Seconds()}
	if err := p.publishEvent(event); err != nil {
		return err
	}
	return p.PublishGridState(true)
}

// PublishHomeAssistantDiscovery announces the sensors this inverter
// actually has. Capability-gated so a single-phase system without a
// battery does not grow phantom entities.
func (p *Publisher) PublishHomeAssistantDiscovery(caps inverter.Capabilities) error {
	if !p.enabled {
		return nil
	}

	type haSensor struct {
		Name        string
		ID          string
		Unit        string
		DeviceClass string
	}

	sensors := []haSensor{
		{"PV Power", "pv_power", "W", "power"},
		{"PV String 1 Power", "pv1_power", "W", "power"},
		{"Grid Power", "grid_power", "W", "power"},
		{"Load Power", "load_power", "W", "power"},
	}
	if caps.PVStrings > 1 {
		sensors = append(sensors, haSensor{"PV String 2 Power", "pv2_power", "W", "power"})
	}
	if caps.HasBattery {
		sensors = append(sensors,
			haSensor{"Battery SOC", "battery_soc", "%", "battery"},
			haSensor{"Battery Power", "battery_power", "W", "power"})
	}
	if caps.HasGenerator {
		sensors = append(sensors, haSensor{"Generator Power", "generator_power", "W", "power"})
	}
	for i := 1; i <= caps.Phases; i++ {
		sensors = append(sensors, haSensor{
			Name:        fmt.Sprintf("Grid Voltage L%d", i),
			ID:          fmt.Sprintf("grid_voltage_l%d", i),
			Unit:        "V",
			DeviceClass: "voltage",
		})
	}

	device := map[string]any{
		"identifiers":  []string{"deye_inverter"},
		"name":         "Deye Inverter",
		"manufacturer": "Deye",
	}

	for _, sensor := range sensors {
		discoveryTopic := fmt.Sprintf("homeassistant/sensor/deye/%s/config", sensor.ID)

		config := map[string]any{
			"name":        fmt.Sprintf("Deye %s", sensor.Name),
			"unique_id":   fmt.Sprintf("deye_%s", sensor.ID),
			"state_topic": fmt.Sprintf("%s/%s", p.topicPrefix, sensor.ID),
			"device":      device,
		}
		if sensor.Unit != "" {
			config["unit_of_measurement"] = sensor.Unit
		}
		if sensor.DeviceClass != "" {
			config["device_class"] = sensor.DeviceClass
		}

		payload, _ := json.Marshal(config)
		if err := p.publish(discoveryTopic, true, payload); err != nil {
			p.logger.WithError(err).WithField("topic", discoveryTopic).Warn("MQTT discovery publish failed")
		}
	}

	gridConfig := map[string]any{
		"name":         "Deye Grid Available",
		"unique_id":    "deye_grid_available",
		"state_topic":  fmt.Sprintf("%s/grid", p.topicPrefix),
		"device_class": "power",
		"payload_on":   "ON",
		"payload_off":  "OFF",
		"device":       device,
	}
	payload, _ := json.Marshal(gridConfig)
	return p.publish("homeassistant/binary_sensor/deye/grid/config", true, payload)
}

func (p *Publisher) IsConnected() bool {
	if !p.enabled {
		return false
	}
	return p.client.IsConnected()
}

func (p *Publisher) Close() {
	if p.enabled && p.client != nil {
		p.client.Disconnect(1000)
	}
}
