package transport_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/relaykit/hubsink/pkg/transport"
)

type mockKafkaClient struct {
	connectFunc     func(...kgo.Opt) error
	closeFunc       func() error
	produceFunc     func(context.Context, []transport.Record) error
	topicExistsFunc func(context.Context, string) (bool, int, error)
	createTopicFunc func(context.Context, string, int32) error

	produceSyncCalled bool
	createTopicCalled bool
	producedRecords   []transport.Record
}

func newMockKafkaClient() *mockKafkaClient {
	return &mockKafkaClient{
		connectFunc: func(...kgo.Opt) error { return nil },
		closeFunc:   func() error { return nil },
		produceFunc: func(context.Context, []transport.Record) error { return nil },
		topicExistsFunc: func(context.Context, string) (bool, int, error) {
			return true, 1, nil
		},
		createTopicFunc: func(context.Context, string, int32) error { return nil },
	}
}

func (m *mockKafkaClient) Connect(opts ...kgo.Opt) error {
	return m.connectFunc(opts...)
}

func (m *mockKafkaClient) Close() error {
	return m.closeFunc()
}

func (m *mockKafkaClient) ProduceSync(ctx context.Context, records []transport.Record) error {
	m.produceSyncCalled = true
	m.producedRecords = append(m.producedRecords, records...)
	return m.produceFunc(ctx, records)
}

func (m *mockKafkaClient) IsTopicExists(ctx context.Context, topic string) (bool, int, error) {
	return m.topicExistsFunc(ctx, topic)
}

func (m *mockKafkaClient) CreateTopic(ctx context.Context, topic string, partitions int32) error {
	m.createTopicCalled = true
	return m.createTopicFunc(ctx, topic, partitions)
}

var _ = Describe("KafkaSender", func() {
	var (
		cfg    transport.KafkaConfig
		client *mockKafkaClient
	)

	BeforeEach(func() {
		cfg = transport.KafkaConfig{
			Brokers:   "localhost:9092",
			Hub:       "telemetry",
			Publisher: "edge-7",
		}
		client = newMockKafkaClient()
	})

	Context("when constructing", func() {
		It("should reject a missing broker address", func() {
			cfg.Brokers = ""
			_, err := transport.NewKafkaSender(cfg)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("broker"))
		})

		It("should reject a missing hub name", func() {
			cfg.Hub = ""
			_, err := transport.NewKafkaSender(cfg)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("hub name"))
		})

		It("should reject a missing publisher identity", func() {
			cfg.Publisher = ""
			_, err := transport.NewKafkaSender(cfg)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("publisher"))
		})
	})

	Context("when connecting", func() {
		It("should leave an existing hub topic alone", func() {
			sender, err := transport.NewKafkaSender(cfg, transport.WithKafkaClient(client))
			Expect(err).NotTo(HaveOccurred())

			Expect(sender.Connect(context.Background())).To(Succeed())
			Expect(client.createTopicCalled).To(BeFalse())
		})

		It("should create the hub topic when it is missing", func() {
			client.topicExistsFunc = func(context.Context, string) (bool, int, error) {
				return false, 0, nil
			}
			sender, err := transport.NewKafkaSender(cfg, transport.WithKafkaClient(client))
			Expect(err).NotTo(HaveOccurred())

			Expect(sender.Connect(context.Background())).To(Succeed())
			Expect(client.createTopicCalled).To(BeTrue())
		})

		It("should propagate broker connection failures", func() {
			client.connectFunc = func(...kgo.Opt) error {
				return errors.New("broker unreachable")
			}
			sender, err := transport.NewKafkaSender(cfg, transport.WithKafkaClient(client))
			Expect(err).NotTo(HaveOccurred())

			err = sender.Connect(context.Background())
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("broker unreachable"))
		})
	})

	Context("when sending", func() {
		It("should produce one record per batch keyed by the publisher identity", func() {
			sender, err := transport.NewKafkaSender(cfg, transport.WithKafkaClient(client))
			Expect(err).NotTo(HaveOccurred())

			body := []byte(`[{"message":"hi"}]`)
			Expect(sender.Send(context.Background(), body, transport.ContentTypeJSON)).To(Succeed())

			Expect(client.produceSyncCalled).To(BeTrue())
			Expect(client.producedRecords).To(HaveLen(1))
			record := client.producedRecords[0]
			Expect(record.Topic).To(Equal("telemetry"))
			Expect(string(record.Key)).To(Equal("edge-7"))
			Expect(record.Value).To(Equal(body))
			Expect(string(record.Headers["content-type"])).To(Equal(transport.ContentTypeJSON))
		})

		It("should wrap produce failures", func() {
			client.produceFunc = func(context.Context, []transport.Record) error {
				return errors.New("partition offline")
			}
			sender, err := transport.NewKafkaSender(cfg, transport.WithKafkaClient(client))
			Expect(err).NotTo(HaveOccurred())

			err = sender.Send(context.Background(), []byte(`[]`), transport.ContentTypeJSON)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("partition offline"))
		})
	})
})
