// Package stripe validates Stripe credentials once at startup and holds what
// the gateway and webhook handler need from them.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/coursepay/pkg/config"
	"github.com/angelmondragon/coursepay/pkg/logger"
)

const defaultTimeout = 20 * time.Second

// keyPrefixes lists the secret and restricted key prefixes valid per mode.
var keyPrefixes = map[string][]string{
	"test": {"sk_test_", "rk_test_"},
	"live": {"sk_live_", "rk_live_"},
}

var (
	errAPIKeyRequired   = errors.New("stripe api key is required")
	errSecretRequired   = errors.New("stripe webhook secret is required")
	errInvalidStripeEnv = errors.New(`stripe environment must be "test" or "live"`)
)

type Client struct {
	api           *stripe.Client
	environment   string
	webhookSecret string
	timeout       time.Duration
	tolerance     time.Duration
}

// NewClient checks that the key matches the configured mode (a live key in a
// test deployment is refused) and installs it for the stripe-go resource packages.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	env := cfg.Environment()
	prefixes, ok := keyPrefixes[env]
	if !ok {
		return nil, errInvalidStripeEnv
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, errSecretRequired
	}
	if !hasAnyPrefix(apiKey, prefixes) {
		return nil, fmt.Errorf("stripe %s mode needs a key starting with %s", env, strings.Join(prefixes, " or "))
	}

	stripe.Key = apiKey
	c := &Client{
		api:           stripe.NewClient(apiKey),
		environment:   env,
		webhookSecret: secret,
		timeout:       cfg.Timeout,
		tolerance:     webhook.DefaultTolerance,
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "stripe_env", env), "stripe client initialized")
	}
	return c, nil
}

func (c *Client) API() *stripe.Client {
	if c == nil {
		return nil
	}
	return c.api
}

// Environment is "test" or "live".
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.webhookSecret
}

// Timeout bounds each outbound Stripe call.
func (c *Client) Timeout() time.Duration {
	if c == nil || c.timeout <= 0 {
		return defaultTimeout
	}
	return c.timeout
}

// ConstructEvent verifies a webhook delivery's Stripe-Signature header against
// the raw payload and decodes the event. Deliveries signed outside the replay
// tolerance are refused.
func (c *Client) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	if c == nil || c.webhookSecret == "" {
		return stripe.Event{}, errSecretRequired
	}
	return webhook.ConstructEventWithOptions(payload, signature, c.webhookSecret, webhook.ConstructEventOptions{
		Tolerance: c.tolerance,
	})
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
