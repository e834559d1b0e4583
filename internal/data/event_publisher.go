package data

import (
	"context"
	"encoding/json"
	"fmt"

	"credit-service/internal/biz"
	"credit-service/internal/conf"
	"credit-service/internal/constants"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"
	"github.com/go-kratos/kratos/v2/log"
)

// NewRocketMQProducer 创建 RocketMQ 生产者，未启用时返回 nil
func NewRocketMQProducer(c *conf.Bootstrap, logger log.Logger) (rocketmq.Producer, func(), error) {
	if c.Data == nil || c.Data.Rocketmq == nil || !c.Data.Rocketmq.Enabled {
		return nil, func() {}, nil
	}
	mq := c.Data.Rocketmq

	p, err := rocketmq.NewProducer(
		producer.WithNsResolver(primitive.NewPassthroughResolver(mq.NameServers)),
		producer.WithGroupName(mq.GroupName),
		producer.WithRetry(int(mq.RetryTimes)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("init rocketmq producer: %w", err)
	}
	if err := p.Start(); err != nil {
		return nil, nil, fmt.Errorf("start rocketmq producer: %w", err)
	}

	cleanup := func() {
		log.NewHelper(logger).Info("shutting down rocketmq producer")
		if err := p.Shutdown(); err != nil {
			log.NewHelper(logger).Errorf("failed to shutdown rocketmq producer: %v", err)
		}
	}
	return p, cleanup, nil
}

// ledgerEventPublisher 账本事件发布到 RocketMQ，tag 为事件类型，key 为用户 ID
type ledgerEventPublisher struct {
	producer rocketmq.Producer
	topic    string
	log      *log.Helper
}

// NewLedgerEventPublisher 创建账本事件发布者，未启用 RocketMQ 时返回 nil
func NewLedgerEventPublisher(c *conf.Bootstrap, p rocketmq.Producer, logger log.Logger) biz.LedgerEventPublisher {
	if p == nil {
		return nil
	}
	topic := constants.TopicLedgerEvents
	if c.Data != nil && c.Data.Rocketmq != nil && c.Data.Rocketmq.Topic != "" {
		topic = c.Data.Rocketmq.Topic
	}
	return &ledgerEventPublisher{
		producer: p,
		topic:    topic,
		log:      log.NewHelper(logger),
	}
}

// Publish 同步发送账本事件
func (p *ledgerEventPublisher) Publish(ctx context.Context, event *biz.LedgerEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal ledger event failed: %w", err)
	}
	msg := primitive.NewMessage(p.topic, body).
		WithTag(event.Type).
		WithKeys([]string{event.UserID, event.EventID})

	res, err := p.producer.SendSync(ctx, msg)
	if err != nil {
		return fmt.Errorf("send ledger event failed: %w", err)
	}
	if res.Status != primitive.SendOK {
		return fmt.Errorf("send ledger event failed: status=%d", res.Status)
	}
	p.log.Debugf("ledger event sent: type=%s, user_id=%s, msg_id=%s", event.Type, event.UserID, res.MsgID)
	return nil
}
