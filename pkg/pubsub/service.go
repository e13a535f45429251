package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/callscribe/voice-service/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

type PubSubService struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	config *PubSubConfig
}

// TranscriptReadyEvent is published once downstream processing finishes for a
// transcription, so external consumers (billing, analytics) can react.
type TranscriptReadyEvent struct {
	ID              string    `json:"id"`
	TranscriptionID string    `json:"transcription_id"`
	UserID          string    `json:"user_id"`
	Subject         string    `json:"subject"`
	Participants    int       `json:"participants"`
	LengthSeconds   int       `json:"length_seconds"`
	PDFURL          string    `json:"pdf_url,omitempty"`
	PDFSize         int64     `json:"pdf_size,omitempty"`
	CompletedAt     time.Time `json:"completed_at"`
}

func NewPubSubService(ctx context.Context, cfg *PubSubConfig) (*PubSubService, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("PubSub project ID is required")
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create PubSub client: %w", err)
	}

	topic := client.Topic(cfg.TopicName)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to check if topic exists: %w", err)
	}

	if !exists {
		logger.Base().Info("topic does not exist, creating", zap.String("topic", cfg.TopicName))
		topic, err = client.CreateTopic(ctx, cfg.TopicName)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to create topic %s: %w", cfg.TopicName, err)
		}
	}

	return &PubSubService{
		client: client,
		topic:  topic,
		config: cfg,
	}, nil
}

// PublishTranscriptReady publishes a transcript-ready event. Safe to call on a
// nil service (publishing is optional infrastructure).
func (p *PubSubService) PublishTranscriptReady(ctx context.Context, evt TranscriptReadyEvent) error {
	if p == nil || p.topic == nil {
		return nil
	}
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	if evt.CompletedAt.IsZero() {
		evt.CompletedAt = time.Now()
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript event: %w", err)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"event_type":       "transcript_ready",
			"transcription_id": evt.TranscriptionID,
		},
	})

	msgID, err := result.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to publish transcript event: %w", err)
	}

	logger.Base().Info("published transcript ready event",
		zap.String("message_id", msgID),
		zap.String("transcription_id", evt.TranscriptionID))
	return nil
}

func (p *PubSubService) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	p.topic.Stop()
	return p.client.Close()
}
