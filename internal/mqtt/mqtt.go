package mqtt

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/uf-controller/internal/config"
	"github.com/thatsimonsguy/uf-controller/internal/events"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	keepAlive         = 60 * time.Second
	disconnectQuiesce = 1000 // ms
)

// publishFunc sends one message and waits for the broker to accept it.
type publishFunc func(topic string, retained bool, payload []byte) error

// Publisher mirrors plant events onto an MQTT broker:
//
//	<prefix>/event/<kind>         JSON event
//	<prefix>/channel/<id>/state   "on" | "off", retained
//	<prefix>/status               "online" | "offline", retained (last will)
type Publisher struct {
	prefix  string
	publish publishFunc
	close   func()
}

func buildClientOptions(cfg config.MQTT) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)
	opts.SetWill(statusTopic(cfg.TopicPrefix), "offline", byte(cfg.QoS), true)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})
	return opts
}

// Connect dials the broker and announces the controller as online.
func Connect(cfg config.MQTT) (*Publisher, error) {
	client := pahomqtt.NewClient(buildClientOptions(cfg))
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	qos := byte(cfg.QoS)
	p := newPublisher(cfg.TopicPrefix, func(topic string, retained bool, payload []byte) error {
		t := client.Publish(topic, qos, retained, payload)
		if !t.WaitTimeout(publishTimeout) {
			return fmt.Errorf("%w: %s", ErrTimeout, topic)
		}
		if err := t.Error(); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
		}
		return nil
	})
	p.close = func() {
		if err := p.publish(statusTopic(p.prefix), true, []byte("offline")); err != nil {
			log.Warn().Err(err).Msg("Failed to publish offline status")
		}
		client.Disconnect(disconnectQuiesce)
	}

	if err := p.publish(statusTopic(p.prefix), true, []byte("online")); err != nil {
		log.Warn().Err(err).Msg("Failed to publish online status")
	}
	log.Info().Str("broker", cfg.Broker).Str("prefix", cfg.TopicPrefix).Msg("MQTT publisher connected")
	return p, nil
}

func newPublisher(prefix string, publish publishFunc) *Publisher {
	return &Publisher{prefix: prefix, publish: publish, close: func() {}}
}

// Close publishes the offline status and disconnects. Safe on nil.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.close()
}

func (p *Publisher) Name() string { return "mqtt" }

func (p *Publisher) Handle(e events.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		log.Error().Err(err).Str("kind", string(e.Kind)).Msg("Failed to encode event")
		return
	}
	if err := p.publish(eventTopic(p.prefix, e.Kind), false, payload); err != nil {
		log.Warn().Err(err).Str("kind", string(e.Kind)).Msg("Failed to publish event")
	}

	if e.Kind != events.ChannelChanged {
		return
	}
	state := "off"
	if e.On {
		state = "on"
	}
	if err := p.publish(channelTopic(p.prefix, e.Channel), true, []byte(state)); err != nil {
		log.Warn().Err(err).Int("channel", e.Channel).Msg("Failed to publish channel state")
	}
}

func eventTopic(prefix string, kind events.Kind) string {
	return prefix + "/event/" + string(kind)
}

func channelTopic(prefix string, ch int) string {
	return prefix + "/channel/" + strconv.Itoa(ch) + "/state"
}

func statusTopic(prefix string) string {
	return prefix + "/status"
}
