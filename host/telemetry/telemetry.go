// Package telemetry bridges drive status and commands to an MQTT broker.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"gofoc/core"
	"gofoc/protocol"
)

var ErrBadCommand = errors.New("bad command message")

// Drive is the command surface the bridge forwards to. *link.Client
// implements it.
type Drive interface {
	Status(ctx context.Context) (protocol.StatusReport, error)
	SetMode(ctx context.Context, m core.Mode) error
	SetTarget(ctx context.Context, v float32) error
	Arm(ctx context.Context) error
	Disarm(ctx context.Context) error
}

// Client is the part of mqtt.Client the bridge uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Disconnect(quiesce uint)
}

// Options configures the broker connection.
type Options struct {
	Broker   string // e.g. "tcp://localhost:1883"
	ClientID string
	Username string
	Password string
	Topic    string // prefix; status goes to <topic>/status
	QoS      byte
}

// Command is the JSON body accepted on <topic>/cmd.
type Command struct {
	Cmd   string     `json:"cmd"` // set_mode, set_target, arm, disarm
	Mode  *core.Mode `json:"mode,omitempty"`
	Value *float32   `json:"value,omitempty"`
}

// Bridge publishes status and executes commands received from the broker.
type Bridge struct {
	client  Client
	topic   string
	qos     byte
	timeout time.Duration
	log     zerolog.Logger
}

// Connect dials the broker with automatic reconnection.
func Connect(opts Options, logger zerolog.Logger) (*Bridge, error) {
	log := logger.With().Str("component", "mqtt").Logger()

	co := mqtt.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}
	co.OnConnect = func(mqtt.Client) {
		log.Info().Str("broker", opts.Broker).Msg("connected")
	}
	co.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("connection lost")
	}
	co.SetAutoReconnect(true)
	co.SetConnectRetry(true)
	co.SetConnectRetryInterval(5 * time.Second)

	client := mqtt.NewClient(co)
	if token := client.Connect(); token.WaitTimeout(10*time.Second) && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", opts.Broker, token.Error())
	}
	return NewBridge(client, opts.Topic, opts.QoS, logger), nil
}

// NewBridge wraps a connected client.
func NewBridge(client Client, topic string, qos byte, logger zerolog.Logger) *Bridge {
	return &Bridge{
		client:  client,
		topic:   topic,
		qos:     qos,
		timeout: 2 * time.Second,
		log:     logger.With().Str("component", "mqtt").Logger(),
	}
}

func (b *Bridge) StatusTopic() string {
	return b.topic + "/status"
}

func (b *Bridge) CommandTopic() string {
	return b.topic + "/cmd"
}

// Publish sends one status report as JSON.
func (b *Bridge) Publish(st protocol.StatusReport) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return err
	}
	token := b.client.Publish(b.StatusTopic(), b.qos, false, payload)
	if !token.WaitTimeout(b.timeout) {
		return fmt.Errorf("publish %s: timeout", b.StatusTopic())
	}
	return token.Error()
}

// Subscribe forwards messages on the command topic to drive.
func (b *Bridge) Subscribe(drive Drive) error {
	token := b.client.Subscribe(b.CommandTopic(), b.qos, func(_ mqtt.Client, msg mqtt.Message) {
		if err := b.handle(drive, msg.Payload()); err != nil {
			b.log.Warn().Err(err).Str("topic", msg.Topic()).Msg("command failed")
		}
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return err
	}
	b.log.Info().Str("topic", b.CommandTopic()).Msg("subscribed")
	return nil
}

func (b *Bridge) handle(drive Drive, payload []byte) error {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("%w: %v", ErrBadCommand, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	switch cmd.Cmd {
	case "set_mode":
		if cmd.Mode == nil {
			return fmt.Errorf("%w: set_mode without mode", ErrBadCommand)
		}
		return drive.SetMode(ctx, *cmd.Mode)
	case "set_target":
		if cmd.Value == nil {
			return fmt.Errorf("%w: set_target without value", ErrBadCommand)
		}
		return drive.SetTarget(ctx, *cmd.Value)
	case "arm":
		return drive.Arm(ctx)
	case "disarm":
		return drive.Disarm(ctx)
	}
	return fmt.Errorf("%w: unknown cmd %q", ErrBadCommand, cmd.Cmd)
}

// Run polls drive every interval and publishes the result until ctx is
// cancelled.
func (b *Bridge) Run(ctx context.Context, drive Drive, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		st, err := drive.Status(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.log.Warn().Err(err).Msg("status poll failed")
			continue
		}
		if err := b.Publish(st); err != nil {
			b.log.Warn().Err(err).Msg("publish failed")
		}
	}
}

// Close disconnects from the broker.
func (b *Bridge) Close() {
	b.client.Disconnect(250)
}
