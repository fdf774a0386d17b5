package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/aihub/multimodal-rag/internal/logger"
	"go.uber.org/zap"
)

// Consumer Kafka消费者
type Consumer struct {
	consumer sarama.ConsumerGroup
	groupID  string
	topics   []string
	handlers map[string]MessageHandler
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  bool
}

// MessageHandler 消息处理函数
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// NewConsumer 初始化Kafka消费者，注册完处理器后调用Start
func NewConsumer(brokers []string, groupID string, topics []string) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	// 只关心启动之后的事件
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true
	config.Version = sarama.V2_6_0_0

	consumerGroup, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("创建Kafka消费者组失败: %w", err)
	}

	logger.Info("Kafka消费者初始化成功",
		zap.Strings("brokers", brokers),
		zap.String("group_id", groupID),
		zap.Strings("topics", topics))

	return NewConsumerWithGroup(consumerGroup, groupID, topics), nil
}

// NewConsumerWithGroup 使用已有的消费者组
func NewConsumerWithGroup(group sarama.ConsumerGroup, groupID string, topics []string) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		consumer: group,
		groupID:  groupID,
		topics:   topics,
		handlers: make(map[string]MessageHandler),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// RegisterHandler 注册消息处理器，必须在Start之前调用
func (c *Consumer) RegisterHandler(topic string, handler MessageHandler) {
	if c == nil {
		return
	}
	c.handlers[topic] = handler
	logger.Info("注册Kafka消息处理器", zap.String("topic", topic))
}

// Start 启动消费循环
func (c *Consumer) Start() {
	if c == nil || c.consumer == nil || c.started {
		return
	}
	c.started = true

	handler := &consumerGroupHandler{handlers: c.handlers}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				logger.Info("Kafka消费者停止")
				return
			default:
				err := c.consumer.Consume(c.ctx, c.topics, handler)
				if err != nil {
					logger.Error("消费消息失败", zap.Error(err))
					select {
					case <-c.ctx.Done():
					case <-time.After(5 * time.Second):
					}
				}
			}
		}
	}()

	// 处理错误
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.consumer.Errors() {
			logger.Error("Kafka消费者错误", zap.Error(err))
		}
	}()
}

// Close 关闭消费者
func (c *Consumer) Close() error {
	if c == nil {
		return nil
	}
	c.cancel()
	var err error
	if c.consumer != nil {
		err = c.consumer.Close()
	}
	c.wg.Wait()
	return err
}

// consumerGroupHandler 消费者组处理器
type consumerGroupHandler struct {
	handlers map[string]MessageHandler
}

// Setup 会话开始
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup 会话结束
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim 消费消息；处理失败的消息不标记，等待重新投递
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}

			handler, found := h.handlers[message.Topic]
			if !found {
				logger.Warn("未找到消息处理器", zap.String("topic", message.Topic))
				session.MarkMessage(message, "")
				continue
			}

			if err := handler(session.Context(), message); err != nil {
				logger.Error("处理消息失败",
					zap.String("topic", message.Topic),
					zap.Int("partition", int(message.Partition)),
					zap.Int64("offset", message.Offset),
					zap.Error(err))
				continue
			}

			session.MarkMessage(message, "")
			logger.Debug("消息处理成功",
				zap.String("topic", message.Topic),
				zap.Int("partition", int(message.Partition)),
				zap.Int64("offset", message.Offset))

		case <-session.Context().Done():
			return nil
		}
	}
}

// IngestionEventHandler 把原始消息解析为IngestionEvent；无法解析的消息直接丢弃
func IngestionEventHandler(fn func(ctx context.Context, evt *IngestionEvent) error) MessageHandler {
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		evt, err := ParseIngestionEvent(message.Value)
		if err != nil {
			logger.Warn("丢弃无法解析的入库事件", zap.Int64("offset", message.Offset), zap.Error(err))
			return nil
		}
		return fn(ctx, evt)
	}
}
