package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

const DefaultKafkaTopic = "bloodlink.audit"

// KafkaConfig configures the Kafka sink.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	ClientID     string
	ProduceLimit time.Duration
}

type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Ping(ctx context.Context) error
	Close()
}

// KafkaSink publishes each event as one JSON record keyed by the event id,
// so consumers can deduplicate redeliveries.
type KafkaSink struct {
	client  producer
	admin   *kadm.Client
	topic   string
	timeout time.Duration
}

func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultKafkaTopic
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "bloodlink-audit"
	}
	if cfg.ProduceLimit <= 0 {
		cfg.ProduceLimit = 5 * time.Second
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaSink{
		client:  client,
		admin:   kadm.NewClient(client),
		topic:   cfg.Topic,
		timeout: cfg.ProduceLimit,
	}, nil
}

// EnsureTopic creates the audit topic if it does not exist yet.
func (k *KafkaSink) EnsureTopic(ctx context.Context, partitions int32, replicas int16) error {
	if k.admin == nil {
		return nil
	}
	resp, err := k.admin.CreateTopics(ctx, partitions, replicas, nil, k.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", k.topic, err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

func (k *KafkaSink) Append(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	record := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(event.ID.String()),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "action", Value: []byte(event.Action)},
		},
		Timestamp: event.Timestamp,
	}
	if err := k.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}

func (k *KafkaSink) Ping(ctx context.Context) error {
	return k.client.Ping(ctx)
}

func (k *KafkaSink) Close() {
	k.client.Close()
}
