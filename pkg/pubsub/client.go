// Package pubsub owns the Pub/Sub v2 connection that carries payment domain
// events. The payments topic must exist before the service starts.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/coursepay/pkg/config"
	"github.com/angelmondragon/coursepay/pkg/logger"
)

// Payment events are low volume; flush quickly rather than waiting for a batch.
const publishDelay = 20 * time.Millisecond

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoTopic           = errors.New("pubsub payments topic is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

type Client struct {
	client *pubsub.Client
	topic  string

	once      sync.Once
	publisher *pubsub.Publisher
}

// NewClient dials Pub/Sub and fails fast when the payments topic is missing.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	if project == "" {
		return nil, errProjectIDRequired
	}
	if !cfg.Enabled() {
		return nil, errNoTopic
	}
	topic := qualifyTopic(project, cfg.PaymentsTopic)

	psClient, err := pubsub.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("dial pubsub: %w", err)
	}
	c := &Client{client: psClient, topic: topic}
	if err := c.Ping(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "topic", topic), "pubsub client initialized")
	}
	return c, nil
}

// PaymentsPublisher returns the shared publisher for the payments topic.
func (c *Client) PaymentsPublisher() *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	c.once.Do(func() {
		c.publisher = c.client.Publisher(c.topic)
		c.publisher.PublishSettings.DelayThreshold = publishDelay
	})
	return c.publisher
}

// Ping checks the payments topic through the admin API.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: c.topic})
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("topic %s does not exist", c.topic)
	default:
		return fmt.Errorf("get topic %s: %w", c.topic, err)
	}
}

// Close flushes pending publishes before closing the connection.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	if c.publisher != nil {
		c.publisher.Stop()
	}
	return c.client.Close()
}

// qualifyTopic expands a bare topic id to its resource name. Fully qualified
// names pass through, so a topic may live in another project.
func qualifyTopic(project, topic string) string {
	topic = strings.TrimSpace(topic)
	if topic == "" || strings.HasPrefix(topic, "projects/") {
		return topic
	}
	return "projects/" + project + "/topics/" + topic
}
