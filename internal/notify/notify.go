package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Notifier delivers outbound email. Callers treat failures as best-effort.
type Notifier interface {
	SendEmail(ctx context.Context, to string, subject string, htmlBody string) error
}

// Email is the job published for the mail worker.
type Email struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body"`
}

// LogNotifier only records what would have been sent.
type LogNotifier struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) SendEmail(_ context.Context, to string, subject string, htmlBody string) error {
	n.log.Info("email",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.Int("body_bytes", len(htmlBody)),
	)
	return nil
}

// PubSubNotifier publishes Email jobs to a topic consumed by the mail worker.
type PubSubNotifier struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

func NewPubSub(ctx context.Context, projectID string, topicID string, credJSON string) (*PubSubNotifier, error) {
	if strings.TrimSpace(projectID) == "" || strings.TrimSpace(topicID) == "" {
		return nil, fmt.Errorf("pubsub project and topic are required")
	}

	var opts []option.ClientOption
	if strings.TrimSpace(credJSON) != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credJSON)))
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, err
	}
	return &PubSubNotifier{client: client, topic: client.Topic(topicID)}, nil
}

func (n *PubSubNotifier) SendEmail(ctx context.Context, to string, subject string, htmlBody string) error {
	if strings.TrimSpace(to) == "" {
		return fmt.Errorf("email recipient is required")
	}
	data, err := json.Marshal(Email{To: to, Subject: subject, HTMLBody: htmlBody})
	if err != nil {
		return err
	}
	result := n.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"kind": "email"},
	})
	_, err = result.Get(ctx)
	return err
}

func (n *PubSubNotifier) Close() error {
	n.topic.Stop()
	return n.client.Close()
}
