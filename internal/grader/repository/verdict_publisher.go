package repository

import (
	"context"
	"encoding/json"
	"time"

	"codegrader/internal/common/mq"
	"codegrader/internal/grader/model"
	appErr "codegrader/pkg/errors"
)

// VerdictPublisher announces final verdicts to the downstream consumer.
type VerdictPublisher interface {
	PublishVerdict(ctx context.Context, event model.VerdictEvent) error
}

// MQVerdictPublisher publishes verdict events to a message queue.
type MQVerdictPublisher struct {
	producer mq.Producer
	topic    string
}

func NewMQVerdictPublisher(producer mq.Producer, topic string) *MQVerdictPublisher {
	return &MQVerdictPublisher{producer: producer, topic: topic}
}

// PublishVerdict keys the message by job id so redeliveries land on one partition.
func (p *MQVerdictPublisher) PublishVerdict(ctx context.Context, event model.VerdictEvent) error {
	if p == nil || p.producer == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("verdict publisher is not configured")
	}
	if p.topic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("verdict topic is required")
	}
	if event.JobID == "" {
		return appErr.ValidationError("job_id", "required")
	}
	if event.FinishedAt == 0 {
		event.FinishedAt = time.Now().Unix()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "encode verdict event failed")
	}
	message := mq.NewMessage(event.JobID, payload)
	message.SetHeader("verdict", event.Result.Verdict)
	if err := p.producer.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish verdict event failed")
	}
	return nil
}
