package triggers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaTrigger consumes events off Kafka topics and dispatches them through
// a Runner; it can also publish events back onto the bus.
type KafkaTrigger struct {
	readers []*kafka.Reader
	writer  *kafka.Writer
	runner  *Runner
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

// KafkaConfig holds Kafka connection configuration.
type KafkaConfig struct {
	Brokers    []string `yaml:"brokers"`
	GroupID    string   `yaml:"group_id"`
	Topics     []string `yaml:"topics"`
	AutoCommit bool     `yaml:"auto_commit"`
}

// NewKafkaTrigger creates a new Kafka trigger bound to runner.
func NewKafkaTrigger(config KafkaConfig, runner *Runner, logger *zap.Logger) *KafkaTrigger {
	ctx, cancel := context.WithCancel(context.Background())

	var readers []*kafka.Reader
	for _, topic := range config.Topics {
		readers = append(readers, kafka.NewReader(kafka.ReaderConfig{
			Brokers:     config.Brokers,
			Topic:       topic,
			GroupID:     config.GroupID,
			StartOffset: kafka.LastOffset,
			MinBytes:    10e3,
			MaxBytes:    10e6,
		}))
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Topic:                  "reactor-events",
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}

	return &KafkaTrigger{readers: readers, writer: writer, runner: runner, logger: logger, ctx: ctx, cancel: cancel}
}

// Start begins consuming from every configured topic.
func (k *KafkaTrigger) Start() error {
	k.logger.Info("kafka trigger started", zap.Int("topics", len(k.readers)))
	for _, reader := range k.readers {
		go k.consume(reader)
	}
	return nil
}

// Stop stops the Kafka trigger and closes its connections.
func (k *KafkaTrigger) Stop() error {
	k.cancel()
	for _, reader := range k.readers {
		if err := reader.Close(); err != nil {
			k.logger.Error("failed to close kafka reader", zap.Error(err))
		}
	}
	return k.writer.Close()
}

func (k *KafkaTrigger) consume(reader *kafka.Reader) {
	defer reader.Close()
	for {
		select {
		case <-k.ctx.Done():
			return
		default:
			msg, err := reader.ReadMessage(k.ctx)
			if err != nil {
				if err == context.Canceled {
					return
				}
				k.logger.Error("kafka read error", zap.Error(err))
				time.Sleep(5 * time.Second)
				continue
			}
			k.handleMessage(msg)
		}
	}
}

func (k *KafkaTrigger) handleMessage(msg kafka.Message) {
	k.logger.Info("received kafka message",
		zap.String("topic", msg.Topic),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset))

	var eventData map[string]interface{}
	if err := json.Unmarshal(msg.Value, &eventData); err != nil {
		k.logger.Error("failed to parse kafka message", zap.Error(err))
		return
	}

	eventType := k.extractEventType(msg)

	inputs := map[string]interface{}{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
		"key":       string(msg.Key),
	}
	if len(msg.Headers) > 0 {
		headers := make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			headers[h.Key] = string(h.Value)
		}
		inputs["headers"] = headers
	}
	for key, v := range eventData {
		inputs[key] = v
	}

	k.runner.Dispatch(k.ctx, eventType, inputs)
}

func (k *KafkaTrigger) extractEventType(msg kafka.Message) string {
	for _, h := range msg.Headers {
		if h.Key == "event-type" || h.Key == "eventType" {
			return string(h.Value)
		}
	}

	var eventData map[string]interface{}
	if err := json.Unmarshal(msg.Value, &eventData); err == nil {
		if eventType, ok := eventData["event_type"].(string); ok {
			return eventType
		}
		if eventType, ok := eventData["type"].(string); ok {
			return eventType
		}
	}

	parts := strings.Split(msg.Topic, "-")
	if len(parts) >= 2 {
		return fmt.Sprintf("%s.%s", parts[0], strings.Join(parts[1:], "."))
	}
	return msg.Topic
}

// PublishEvent publishes an event to the trigger's default topic.
func (k *KafkaTrigger) PublishEvent(eventType string, data map[string]interface{}) error {
	return k.publishTo(k.writer, eventType, data)
}

// PublishToTopic publishes an event to a specific Kafka topic.
func (k *KafkaTrigger) PublishToTopic(topic, eventType string, data map[string]interface{}) error {
	writer := &kafka.Writer{
		Addr:                   k.writer.Addr,
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	defer writer.Close()
	return k.publishTo(writer, eventType, data)
}

func (k *KafkaTrigger) publishTo(writer *kafka.Writer, eventType string, data map[string]interface{}) error {
	data["event_type"] = eventType
	data["timestamp"] = time.Now().Unix()

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	return writer.WriteMessages(k.ctx, kafka.Message{
		Key:   []byte(eventType),
		Value: jsonData,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(eventType)},
			{Key: "source", Value: []byte("reactor")},
		},
	})
}
