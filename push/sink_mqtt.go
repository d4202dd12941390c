package push

import (
	"context"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

const defaultPublishTimeout = 5 * time.Second

// MQTTSink publishes every topic:value pair of the payload.
type MQTTSink struct {
	client pahomqtt.Client
	timeout time.Duration

	QoS byte
	Retain bool
}

func NewMQTTSink(broker, clientID, username, password string, timeout time.Duration) *MQTTSink {
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)

	if username != "" {
		opts.SetUsername(username)
		opts.SetPassword(password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(timeout)

	return &MQTTSink{
		client: pahomqtt.NewClient(opts),
		timeout: timeout,
	}
}

func (s *MQTTSink) Name() string {
	return "mqtt"
}

func (s *MQTTSink) Template() Template {
	return TemplateMqtt
}

type message struct {
	topic, value string
}

// splitMessages parses "topic:value|topic:value|". Entries without a topic are skipped.
func splitMessages(payload string) []message {
	var out []message

	for _, entry := range strings.Split(payload, "|") {
		entry = strings.TrimSpace(entry)
		topic, value, ok := strings.Cut(entry, ":")

		if !ok || topic == "" {
			continue
		}

		out = append(out, message{topic: topic, value: value})
	}

	return out
}

func (s *MQTTSink) connect() error {
	if s.client.IsConnected() {
		return nil
	}

	token := s.client.Connect()

	if !token.WaitTimeout(s.timeout) {
		return fmt.Errorf("connect timeout after %v", s.timeout)
	}

	return token.Error()
}

func (s *MQTTSink) Send(ctx context.Context, payload string) Result {
	messages := splitMessages(payload)

	if len(messages) == 0 {
		return Result{Err: fmt.Errorf("no topic:value pair in payload")}
	}

	if err := s.connect(); err != nil {
		return Result{Err: fmt.Errorf("cannot connect to broker: %w", err)}
	}

	for _, m := range messages {
		if err := ctx.Err(); err != nil {
			return Result{Err: err}
		}

		token := s.client.Publish(m.topic, s.QoS, s.Retain, m.value)

		if !token.WaitTimeout(s.timeout) {
			return Result{Err: fmt.Errorf("publish to %q timed out after %v", m.topic, s.timeout)}
		}

		if err := token.Error(); err != nil {
			return Result{Err: fmt.Errorf("publish to %q failed: %w", m.topic, err)}
		}
	}

	return Result{Success: true}
}

func (s *MQTTSink) Close() {
	if s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}
