package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"networksurvey/uploader/internal/upload"
)

const (
	subscribeQoS    = 1
	statusQoS       = 1
	storeTimeout    = 5 * time.Second
	connectWait     = 5 * time.Second
	disconnectQuiet = 250
)

// SubscriberOptions configures the MQTT intake.
type SubscriberOptions struct {
	Broker      string
	ClientID    string
	TopicPrefix string
}

// Subscriber receives scan payloads over MQTT and publishes run reports.
type Subscriber struct {
	client   mqtt.Client
	recorder *Recorder
	prefix   string
	logger   *slog.Logger

	mu  sync.Mutex
	ctx context.Context
}

// NewSubscriber builds a paho client for opts. Subscriptions are (re)made on
// every connect so they survive broker restarts.
func NewSubscriber(opts SubscriberOptions, recorder *Recorder, logger *slog.Logger) *Subscriber {
	s := &Subscriber{
		recorder: recorder,
		prefix:   strings.Trim(opts.TopicPrefix, "/"),
		logger:   logger,
		ctx:      context.Background(),
	}

	offline, _ := json.Marshal(map[string]string{"state": "offline"})
	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetOrderMatters(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(10*time.Second).
		SetWill(s.StatusTopic(), string(offline), statusQoS, true).
		SetOnConnectHandler(func(mqtt.Client) {
			logger.Info("mqtt connected", "broker", opts.Broker)
			if err := s.subscribe(); err != nil {
				logger.Error("mqtt subscribe failed", "error", err)
			}
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("mqtt connection lost", "error", err)
		})

	s.client = mqtt.NewClient(clientOpts)
	return s
}

func newSubscriberWithClient(client mqtt.Client, prefix string, recorder *Recorder, logger *slog.Logger) *Subscriber {
	return &Subscriber{client: client, recorder: recorder, prefix: strings.Trim(prefix, "/"), logger: logger, ctx: context.Background()}
}

// Topics returns the subscription filters for both channels.
func (s *Subscriber) Topics() []string {
	return []string{
		fmt.Sprintf("%s/+/%s", s.prefix, ChannelCellular),
		fmt.Sprintf("%s/+/%s", s.prefix, ChannelWifi),
	}
}

// StatusTopic is where run reports are published, retained.
func (s *Subscriber) StatusTopic() string {
	return s.prefix + "/uploader/status"
}

// Start connects in the background. ctx bounds the store writes made from
// message callbacks.
func (s *Subscriber) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	token := s.client.Connect()
	if !token.WaitTimeout(connectWait) {
		s.logger.Warn("mqtt broker not reachable yet, retrying in background")
		return
	}
	if err := token.Error(); err != nil {
		s.logger.Error("mqtt connect failed", "error", err)
	}
}

// Stop disconnects from the broker.
func (s *Subscriber) Stop() {
	s.client.Disconnect(disconnectQuiet)
	s.logger.Info("mqtt subscriber stopped")
}

// Connected reports whether the client currently has a broker connection.
func (s *Subscriber) Connected() bool {
	return s.client.IsConnected()
}

func (s *Subscriber) subscribe() error {
	filters := make(map[string]byte, 2)
	for _, topic := range s.Topics() {
		filters[topic] = subscribeQoS
	}
	token := s.client.SubscribeMultiple(filters, s.handle)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %v: %w", s.Topics(), err)
	}
	s.logger.Info("mqtt subscribed", "topics", s.Topics())
	return nil
}

func (s *Subscriber) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Subscriber) handle(_ mqtt.Client, msg mqtt.Message) {
	device, channel, ok := s.parseTopic(msg.Topic())
	if !ok {
		s.logger.Warn("mqtt message on unexpected topic", "topic", msg.Topic())
		return
	}

	ctx, cancel := context.WithTimeout(s.baseContext(), storeTimeout)
	defer cancel()

	n, err := s.recorder.RecordPayload(ctx, "mqtt", channel, device, msg.Payload())
	if err != nil {
		s.logger.Warn("mqtt scan rejected", "topic", msg.Topic(), "error", err)
		return
	}
	s.logger.Debug("mqtt scan ingested", "topic", msg.Topic(), "stored", n)
}

func (s *Subscriber) parseTopic(topic string) (string, Channel, bool) {
	rest, found := strings.CutPrefix(topic, s.prefix+"/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		return "", "", false
	}
	channel, ok := ParseChannel(parts[1])
	if !ok {
		return "", "", false
	}
	return parts[0], channel, true
}

// PublishStatus publishes a run report as the retained uploader status.
func (s *Subscriber) PublishStatus(report upload.Report) error {
	payload, err := json.Marshal(struct {
		State string `json:"state"`
		upload.Report
	}{State: "online", Report: report})
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}

	token := s.client.Publish(s.StatusTopic(), statusQoS, true, payload)
	if !token.WaitTimeout(connectWait) {
		return fmt.Errorf("publish status: timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish status: %w", err)
	}
	return nil
}
