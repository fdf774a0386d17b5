package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/aihub/multimodal-rag/internal/logger"
	"go.uber.org/zap"
)

const (
	ActionIngested = "ingested"
	ActionReset    = "reset"
)

// IngestionEvent 入库完成或索引清空后发布的事件
type IngestionEvent struct {
	EventID      string    `json:"event_id"`
	InstanceID   string    `json:"instance_id"`
	Action       string    `json:"action"`
	DocumentID   string    `json:"document_id,omitempty"`
	DocumentName string    `json:"document_name,omitempty"`
	FileType     string    `json:"file_type,omitempty"`
	TextRecords  int       `json:"text_records"`
	ImageRecords int       `json:"image_records"`
	Skipped      int       `json:"skipped"`
	Timestamp    time.Time `json:"timestamp"`
}

// Producer Kafka生产者
type Producer struct {
	producer sarama.SyncProducer
	topic    string
}

// NewProducer 初始化Kafka生产者
func NewProducer(brokers []string, topic string) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Timeout = 10 * time.Second

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("创建Kafka生产者失败: %w", err)
	}

	logger.Info("Kafka生产者初始化成功", zap.Strings("brokers", brokers), zap.String("topic", topic))
	return NewProducerWithClient(producer, topic), nil
}

// NewProducerWithClient 使用已有的sarama producer，测试中传入mocks.SyncProducer
func NewProducerWithClient(producer sarama.SyncProducer, topic string) *Producer {
	return &Producer{producer: producer, topic: topic}
}

func (p *Producer) Topic() string {
	return p.topic
}

// PublishIngestion 以document_id为key发送，同一文档的事件落在同一分区
func (p *Producer) PublishIngestion(ctx context.Context, evt *IngestionEvent) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("Kafka生产者未初始化")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}

	key := evt.DocumentID
	if key == "" {
		key = evt.Action
	}
	kafkaMsg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("action"), Value: []byte(evt.Action)},
			{Key: []byte("instance_id"), Value: []byte(evt.InstanceID)},
		},
	}

	partition, offset, err := p.producer.SendMessage(kafkaMsg)
	if err != nil {
		logger.Error("发送Kafka消息失败", zap.Error(err))
		return fmt.Errorf("发送消息失败: %w", err)
	}

	logger.Debug("Kafka消息发送成功",
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
		zap.String("action", evt.Action),
		zap.String("document_id", evt.DocumentID))
	return nil
}

// Close 关闭生产者
func (p *Producer) Close() error {
	if p != nil && p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// ParseIngestionEvent 解析入库事件
func ParseIngestionEvent(data []byte) (*IngestionEvent, error) {
	var evt IngestionEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("解析消息失败: %w", err)
	}
	if evt.Action == "" {
		return nil, fmt.Errorf("解析消息失败: missing action")
	}
	return &evt, nil
}
