// Package mqttlistener receives raw ingestion messages from the MQTT
// broker and drives them through the pipeline. Messages are handed
// off to a single consumer goroutine, so each one is fully processed
// before the next is taken, while the broker connection itself is
// never blocked on pipeline work.
package mqttlistener

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"iotmon/internal/config"
	"iotmon/internal/decode"
	"iotmon/internal/logger"
	"iotmon/internal/metrics"
	"iotmon/internal/pipeline"
)

// message is one raw (topic, payload) pair from the broker.
type message struct {
	topic   string
	payload []byte
}

// Listener subscribes to the configured reading topics and ingests
// every decodable message. A bad message is logged and dropped; it
// never stops the listener.
type Listener struct {
	cfg      config.MQTTConfig
	pipe     *pipeline.Service
	client   mqtt.Client
	messages chan message
	wg       sync.WaitGroup
	log      zerolog.Logger
}

// New constructs a Listener for the given pipeline.
func New(cfg config.MQTTConfig, pipe *pipeline.Service) *Listener {
	return &Listener{
		cfg:      cfg,
		pipe:     pipe,
		messages: make(chan message, 256),
		log:      logger.WithComponent("mqtt_listener"),
	}
}

// Start connects to the broker and begins consuming. The context
// governs pipeline calls for in-flight messages.
func (l *Listener) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(l.cfg.Broker)

	clientID := l.cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("iotmon-%s", uuid.New().String()[:8])
	}
	opts.SetClientID(clientID)

	if l.cfg.Username != "" {
		opts.SetUsername(l.cfg.Username)
		opts.SetPassword(l.cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		l.log.Error().Err(err).Msg("mqtt connection lost")
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		l.log.Info().Msg("reconnecting to mqtt broker")
	})

	l.client = mqtt.NewClient(opts)

	connectTimeout := l.cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}

	token := l.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("connection to mqtt broker %s timed out", l.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to mqtt broker: %w", err)
	}
	l.log.Info().Str("broker", l.cfg.Broker).Str("client_id", clientID).Msg("connected to mqtt broker")

	for _, topic := range l.cfg.Topics {
		if err := l.subscribe(topic); err != nil {
			return err
		}
	}

	l.wg.Add(1)
	go l.consume(ctx)

	return nil
}

// Stop disconnects from the broker, then lets the consumer finish the
// messages it already accepted before returning.
func (l *Listener) Stop() {
	if l.client != nil && l.client.IsConnected() {
		l.client.Disconnect(250)
		l.log.Info().Msg("disconnected from mqtt broker")
	}
	close(l.messages)
	l.wg.Wait()
}

func (l *Listener) subscribe(topic string) error {
	token := l.client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		// Enqueue without blocking the broker's router. The transport
		// offers no redelivery, so an overflowing queue drops the
		// message rather than stalling the connection.
		select {
		case l.messages <- message{topic: msg.Topic(), payload: msg.Payload()}:
		default:
			metrics.DecodeFailuresTotal.WithLabelValues("queue_full").Inc()
			l.log.Warn().Str("topic", msg.Topic()).Msg("listener queue full, dropping message")
		}
	})

	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscription to topic %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to topic %s: %w", topic, err)
	}

	l.log.Info().Str("topic", topic).Msg("subscribed")
	return nil
}

// consume processes queued messages one at a time.
func (l *Listener) consume(ctx context.Context) {
	defer l.wg.Done()

	for msg := range l.messages {
		l.handle(ctx, msg)
	}
}

// handle decodes and ingests one message. Every failure path logs and
// returns; nothing raises out of the listener loop.
func (l *Listener) handle(ctx context.Context, msg message) {
	candidate, err := decode.Decode(msg.topic, msg.payload, time.Now())
	if err != nil {
		reason := "malformed_payload"
		if errors.Is(err, decode.ErrMissingFields) {
			reason = "missing_fields"
		}
		metrics.DecodeFailuresTotal.WithLabelValues(reason).Inc()
		l.log.Warn().
			Err(err).
			Str("topic", msg.topic).
			Msg("dropping undecodable message")
		return
	}

	if _, err := l.pipe.IngestOne(ctx, candidate); err != nil {
		l.log.Warn().
			Err(err).
			Str("topic", msg.topic).
			Int("device_id", candidate.DeviceID).
			Int("sensor_id", candidate.SensorID).
			Msg("reading not ingested")
	}
}
