package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/weiawesome/wes-io-live/delivery-service/pkg/log"
)

// KafkaPubSub is the Kafka driver. A channel "a:b:key" is published to topic
// "a-b" with message key "key"; a pattern subscription consumes the whole
// topic.
type KafkaPubSub struct {
	producer *kafka.Producer
	config   KafkaConfig
	groupID  string

	mu        sync.Mutex
	consumers []*kafka.Consumer
	wg        sync.WaitGroup
	stopCh    chan struct{}
	reportsCh chan struct{}
}

// NewKafkaPubSub creates the producer and, best effort, the configured
// topics. instanceID makes the consumer group unique to this process.
func NewKafkaPubSub(cfg KafkaConfig, instanceID string) (*KafkaPubSub, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	base := cfg.GroupID
	if base == "" {
		base = "delivery-service"
	}

	k := &KafkaPubSub{
		producer:  p,
		config:    cfg,
		groupID:   sanitizeGroupID(base + "-" + instanceID),
		stopCh:    make(chan struct{}),
		reportsCh: make(chan struct{}),
	}
	go k.watchDeliveries()

	if err := k.ensureTopics(); err != nil {
		l := log.L()
		l.Warn().Err(err).Msg("failed to ensure pubsub topics (may already exist)")
	}
	return k, nil
}

func (k *KafkaPubSub) ensureTopics() error {
	if len(k.config.Topics) == 0 {
		return nil
	}

	admin, err := kafka.NewAdminClientFromProducer(k.producer)
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	partitions := k.config.Partitions
	if partitions <= 0 {
		partitions = 4
	}

	specs := make([]kafka.TopicSpecification, len(k.config.Topics))
	for i, t := range k.config.Topics {
		specs[i] = kafka.TopicSpecification{Topic: t, NumPartitions: partitions, ReplicationFactor: 1}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	results, err := admin.CreateTopics(ctx, specs)
	if err != nil {
		return fmt.Errorf("failed to create topics: %w", err)
	}

	l := log.L()
	for _, r := range results {
		if code := r.Error.Code(); code != kafka.ErrNoError && code != kafka.ErrTopicAlreadyExists {
			l.Warn().Str("topic", r.Topic).Str("error", r.Error.String()).Msg("failed to create topic")
		}
	}
	return nil
}

func (k *KafkaPubSub) watchDeliveries() {
	defer close(k.reportsCh)
	l := log.L()
	for e := range k.producer.Events() {
		if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			l.Warn().Err(m.TopicPartition.Error).Msg("kafka pubsub delivery failed")
		}
	}
}

// Publish produces event asynchronously; delivery failures are logged.
func (k *KafkaPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	topic, key, err := channelToTopicAndKey(channel)
	if err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(key),
		Value:          data,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}
	return nil
}

// SubscribePattern consumes every message on the topic pattern maps to,
// starting from the latest offset.
func (k *KafkaPubSub) SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error) {
	topic, err := patternToTopic(pattern)
	if err != nil {
		return nil, err
	}

	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  k.config.Brokers,
		"group.id":           k.groupID + "-" + topic,
		"auto.offset.reset":  "latest",
		"enable.auto.commit": true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	if err := c.Subscribe(topic, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}

	k.mu.Lock()
	k.consumers = append(k.consumers, c)
	k.mu.Unlock()

	out := make(chan *Event, eventBuffer)
	k.wg.Add(1)
	go k.consume(ctx, c, topic, out)
	return out, nil
}

func (k *KafkaPubSub) consume(ctx context.Context, c *kafka.Consumer, topic string, out chan<- *Event) {
	defer k.wg.Done()
	defer close(out)
	defer k.release(c)
	l := log.L().With().Str("topic", topic).Logger()

	for {
		select {
		case <-ctx.Done():
			return
		case <-k.stopCh:
			return
		default:
		}

		switch e := c.Poll(500).(type) {
		case *kafka.Message:
			var event Event
			if err := json.Unmarshal(e.Value, &event); err != nil {
				l.Warn().Err(err).Msg("kafka pubsub: dropping malformed event")
				continue
			}
			if !forward(ctx, out, &event, topic+":"+string(e.Key)) {
				return
			}
		case kafka.Error:
			l.Error().Str("error", e.Error()).Int("code", int(e.Code())).Bool("fatal", e.IsFatal()).Msg("kafka pubsub error")
			if e.IsFatal() {
				return
			}
		}
	}
}

func (k *KafkaPubSub) release(c *kafka.Consumer) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for i, cc := range k.consumers {
		if cc == c {
			k.consumers = append(k.consumers[:i], k.consumers[i+1:]...)
			c.Close()
			return
		}
	}
}

// Close stops the consumers, flushes pending publishes and closes the
// producer.
func (k *KafkaPubSub) Close() error {
	close(k.stopCh)
	k.wg.Wait()

	k.producer.Flush(5000)
	k.producer.Close()
	<-k.reportsCh
	return nil
}

var groupIDRegexp = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

func sanitizeGroupID(s string) string {
	return groupIDRegexp.ReplaceAllString(s, "-")
}
