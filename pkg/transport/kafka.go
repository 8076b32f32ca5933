package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/relaykit/hubsink/pkg/logger"
)

const (
	defaultTopicPartitionCount = 1
	defaultKafkaClientID       = "hubsink"
)

// Record is one message produced to the hub topic.
type Record struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string][]byte
}

type Producer interface {
	ProduceSync(context.Context, []Record) error
}

type Admin interface {
	// IsTopicExists checks if a topic exists in the broker and returns a boolean value. If the topic exists, then its partition count is returned as the second value. If the topic is missing, the partition count will be 0
	IsTopicExists(context.Context, string) (bool, int, error)
	// CreateTopic create a topic in the broker
	// Second argument is the topic name
	// Third argument int32 is the number of partitions
	CreateTopic(context.Context, string, int32) error
}

// MessagePublisher is the broker client surface the Kafka sender needs.
type MessagePublisher interface {
	Connect(...kgo.Opt) error
	Close() error
	Producer
	Admin
}

// kafkaClient is a wrapper for the franz-go kafka client
type kafkaClient struct {
	client      *kgo.Client
	adminClient *kadm.Client
}

// NewKafkaClient initializes an unconnected franz-go client wrapper
func NewKafkaClient() MessagePublisher {
	return &kafkaClient{}
}

// Connect connects to the seed broker with the given kafka client options
func (k *kafkaClient) Connect(opts ...kgo.Opt) error {
	var err error
	k.client, err = kgo.NewClient(opts...)
	if err != nil {
		return err
	}

	k.adminClient = kadm.NewClient(k.client)
	return nil
}

// Close closes the underlying franz-go kafka client
func (k *kafkaClient) Close() error {
	if k.client != nil {
		// franz-go client.Close() never returns an error
		k.client.Close()
	}
	return nil
}

// ProduceSync produces a message batch to kafka
func (k *kafkaClient) ProduceSync(ctx context.Context, records []Record) error {
	if k.client == nil {
		return errors.New("attempt to produce using a nil kafka client")
	}

	kgoRecords := make([]*kgo.Record, 0, len(records))
	for _, r := range records {
		kgoRecord := &kgo.Record{
			Topic: r.Topic,
			Key:   r.Key,
			Value: r.Value,
		}

		if len(r.Headers) > 0 {
			recordHeaders := make([]kgo.RecordHeader, 0, len(r.Headers))
			for key, value := range r.Headers {
				recordHeaders = append(recordHeaders, kgo.RecordHeader{
					Key:   key,
					Value: value,
				})
			}
			kgoRecord.Headers = recordHeaders
		}

		kgoRecords = append(kgoRecords, kgoRecord)
	}

	return k.client.ProduceSync(ctx, kgoRecords...).FirstErr()
}

func (k *kafkaClient) IsTopicExists(ctx context.Context, topic string) (bool, int, error) {
	topicDetails, err := k.adminClient.ListTopics(ctx, topic)
	if err != nil {
		return false, 0, err
	}

	for _, td := range topicDetails {
		if td.Topic == topic {
			return true, len(td.Partitions.Numbers()), nil
		}
	}

	return false, 0, nil
}

func (k *kafkaClient) CreateTopic(ctx context.Context, topic string, partition int32) error {
	if partition < 1 {
		return fmt.Errorf("invalid partition %d specified to create a topic", partition)
	}

	if topic == "" {
		return errors.New("empty topic name specified for topic creation")
	}

	// The sender talks to a single hub broker, so a replication factor of 1
	// is a reasonable default
	replicationFactor := 1
	cleanupPolicy := "delete"
	configs := map[string]*string{
		"cleanup.policy": &cleanupPolicy,
	}
	resp, err := k.adminClient.CreateTopic(ctx, partition, int16(replicationFactor), configs, topic)
	if err != nil {
		return err
	}

	if resp.Err != nil {
		return resp.Err
	}

	return nil
}

// KafkaConfig holds the connection settings for the Kafka hub transport.
type KafkaConfig struct {
	// Brokers is the seed broker address list, comma separated.
	Brokers string

	// Hub is the topic batch bodies are produced to.
	Hub string

	// Publisher is the publisher identity, used as the record key.
	Publisher string
}

func (c KafkaConfig) validate() error {
	if c.Brokers == "" {
		return errors.New("broker address must not be empty")
	}
	if c.Hub == "" {
		return errors.New("hub name must not be empty")
	}
	if c.Publisher == "" {
		return errors.New("publisher identity must not be empty")
	}
	return nil
}

// KafkaSender produces assembled batch bodies to the hub topic, one record
// per batch, keyed by the publisher identity.
type KafkaSender struct {
	cfg    KafkaConfig
	client MessagePublisher
	logger *zap.SugaredLogger
}

// KafkaOption configures a KafkaSender.
type KafkaOption func(*KafkaSender)

// WithKafkaClient replaces the broker client, for testing.
func WithKafkaClient(client MessagePublisher) KafkaOption {
	return func(s *KafkaSender) {
		s.client = client
	}
}

// NewKafkaSender creates a sender for the hub's Kafka surface. It fails fast
// when the broker address, hub name or publisher identity is missing.
func NewKafkaSender(cfg KafkaConfig, opts ...KafkaOption) (*KafkaSender, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid hub transport config: %w", err)
	}

	sender := &KafkaSender{
		cfg:    cfg,
		client: NewKafkaClient(),
		logger: logger.For(logger.ComponentTransport),
	}

	for _, opt := range opts {
		opt(sender)
	}

	return sender, nil
}

// Connect dials the broker and verifies the hub topic. The topic is created
// when it does not exist yet.
func (s *KafkaSender) Connect(ctx context.Context) error {
	s.logger.Infof("Connecting to hub broker: %v", s.cfg.Brokers)

	err := s.client.Connect(
		kgo.SeedBrokers(s.cfg.Brokers),           // use configured broker address
		kgo.AllowAutoTopicCreation(),             // allow creating the hub topic if it doesn't exist
		kgo.ClientID(defaultKafkaClientID),       // client id for all requests sent to the broker
		kgo.ConnIdleTimeout(15*time.Minute),      // rough amount of time to allow connections to be idle
		kgo.DialTimeout(5*time.Second),           // timeout while connecting to the broker
		kgo.DefaultProduceTopic(s.cfg.Hub),       // the sender writes batch bodies only to the hub topic
		kgo.RequiredAcks(kgo.LeaderAck()),        // partition leader has to acknowledge a successful write
		kgo.MaxBufferedRecords(1000),             // max amount of records the client will buffer
		kgo.ProduceRequestTimeout(5*time.Second), // produce request timeout
		kgo.ProducerLinger(0),                    // batching happens upstream; produce without lingering
		kgo.DisableIdempotentWrite(),             // the delivery executor owns retries, keep the client from adding its own semantics
	)
	if err != nil {
		return fmt.Errorf("error while creating a kafka client with broker %s: %w", s.cfg.Brokers, err)
	}

	if err := s.verifyHubTopic(ctx); err != nil {
		return err
	}

	s.logger.Infof("Connection to the hub broker %s is successful", s.cfg.Brokers)
	return nil
}

// verifyHubTopic checks if the hub topic exists and creates it when missing.
func (s *KafkaSender) verifyHubTopic(ctx context.Context) error {
	topicExists, _, err := s.client.IsTopicExists(ctx, s.cfg.Hub)
	if err != nil {
		return fmt.Errorf("error while checking if the hub topic exists: %w", err)
	}

	if !topicExists {
		if err := s.client.CreateTopic(ctx, s.cfg.Hub, defaultTopicPartitionCount); err != nil {
			return fmt.Errorf("error while creating the missing hub topic '%s': %w", s.cfg.Hub, err)
		}
		s.logger.Infof("Created hub topic '%s' with %d partition(s)", s.cfg.Hub, defaultTopicPartitionCount)
	}

	return nil
}

// Send produces body as one record to the hub topic.
func (s *KafkaSender) Send(ctx context.Context, body []byte, contentType string) error {
	record := Record{
		Topic: s.cfg.Hub,
		Key:   []byte(s.cfg.Publisher),
		Value: body,
		Headers: map[string][]byte{
			"content-type": []byte(contentType),
		},
	}

	if err := s.client.ProduceSync(ctx, []Record{record}); err != nil {
		return fmt.Errorf("error producing batch to hub topic: %w", err)
	}

	return nil
}

// Close closes the underlying broker client.
func (s *KafkaSender) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
