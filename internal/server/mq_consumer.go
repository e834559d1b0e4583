package server

import (
	"context"
	"encoding/json"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/conf"
	"credit-service/internal/constants"
	errs "credit-service/internal/errors"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/consumer"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/go-kratos/kratos/v2/log"
)

// GrantRequestMessage 积分发放请求消息（支付完成、邀请奖励等上游发出）
type GrantRequestMessage struct {
	RequestID   string     `json:"request_id"` // 上游唯一请求号，重投时发放一次
	UserID      string     `json:"user_id"`
	Amount      int64      `json:"amount"`
	Type        string     `json:"type"`
	Description string     `json:"description"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

// grantIssuer 发放积分
type grantIssuer interface {
	AddCredits(ctx context.Context, req *biz.AddCreditsRequest) (*biz.GrantResult, error)
}

// MQConsumerServer consumes grant requests from RocketMQ
type MQConsumerServer struct {
	c       rocketmq.PushConsumer
	issuer  grantIssuer
	topic   string
	log     *log.Helper
	enabled bool
}

// NewMQConsumerServer creates a RocketMQ consumer server
func NewMQConsumerServer(c *conf.Data, uc *biz.CreditUseCase, logger log.Logger) *MQConsumerServer {
	helper := log.NewHelper(logger)
	if c == nil || c.Rocketmq == nil || !c.Rocketmq.Enabled {
		return &MQConsumerServer{log: helper, enabled: false}
	}

	topic := c.Rocketmq.GrantTopic
	if topic == "" {
		topic = constants.TopicGrantRequests
	}

	r, err := rocketmq.NewPushConsumer(
		consumer.WithNsResolver(primitive.NewPassthroughResolver(c.Rocketmq.NameServers)),
		consumer.WithGroupName(c.Rocketmq.GroupName),
		consumer.WithRetry(int(c.Rocketmq.RetryTimes)),
		consumer.WithConsumeMessageBatchMaxSize(32),
	)
	if err != nil {
		helper.Errorf("init consumer error: %v", err)
		return &MQConsumerServer{log: helper, enabled: false}
	}

	return &MQConsumerServer{
		c:       r,
		issuer:  uc,
		topic:   topic,
		log:     helper,
		enabled: true,
	}
}

// Start starts the consumer
func (s *MQConsumerServer) Start(ctx context.Context) error {
	if !s.enabled || s.c == nil {
		s.log.Infof("MQConsumerServer is disabled, skipping startup")
		return nil
	}

	s.log.Infof("Starting MQConsumerServer, topic: %s", s.topic)

	if err := s.c.Subscribe(s.topic, consumer.MessageSelector{}, s.handler); err != nil {
		s.log.Errorf("Failed to subscribe to topic %s: %v", s.topic, err)
		// RocketMQ 不可用时不影响 HTTP 服务启动
		return nil
	}
	if err := s.c.Start(); err != nil {
		s.log.Errorf("Failed to start RocketMQ consumer: %v", err)
		return nil
	}
	return nil
}

// Stop stops the consumer
func (s *MQConsumerServer) Stop(ctx context.Context) error {
	if !s.enabled || s.c == nil {
		return nil
	}
	s.log.Info("Stopping MQConsumerServer")
	return s.c.Shutdown()
}

// handler 逐条发放；业务失败（参数错误、用户不存在）直接确认，存储失败整批重投
// 重投时由 request_id 派生的 grant ID 保证不会重复发放
func (s *MQConsumerServer) handler(ctx context.Context, msgs ...*primitive.MessageExt) (consumer.ConsumeResult, error) {
	for _, msg := range msgs {
		var m GrantRequestMessage
		if err := json.Unmarshal(msg.Body, &m); err != nil {
			s.log.Errorf("Unmarshal message failed: %v, body: %s", err, string(msg.Body))
			continue
		}

		req := &biz.AddCreditsRequest{
			UserID:      m.UserID,
			Amount:      m.Amount,
			Type:        biz.GrantType(m.Type),
			Description: m.Description,
			ExpiresAt:   m.ExpiresAt,
		}
		if m.RequestID != "" {
			req.GrantID = biz.GrantIDFromRequest(m.RequestID)
		} else {
			req.GrantID = biz.GrantIDFromRequest(msg.MsgId)
		}

		res, err := s.issuer.AddCredits(ctx, req)
		if err != nil {
			if errs.IsDatabaseError(err) {
				s.log.Errorf("AddCredits failed, retry later: request_id=%s, user_id=%s, error=%v", m.RequestID, m.UserID, err)
				return consumer.ConsumeRetryLater, nil
			}
			s.log.Warnf("Drop grant request: request_id=%s, user_id=%s, reason=%s, error=%v", m.RequestID, m.UserID, errs.Reason(err), err)
			continue
		}
		if res.Duplicate {
			s.log.Infof("Grant request already processed: request_id=%s, grant_id=%s", m.RequestID, res.GrantID)
		}
	}
	return consumer.ConsumeSuccess, nil
}
