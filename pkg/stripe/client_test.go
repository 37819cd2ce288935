package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/coursepay/pkg/config"
)

func TestNewClientValidatesEnvironmentAndKeys(t *testing.T) {
	ctx := context.Background()

	_, err := NewClient(ctx, config.StripeConfig{Env: "test", WebhookSecret: "whsec"}, nil)
	require.ErrorIs(t, err, errAPIKeyRequired)

	_, err = NewClient(ctx, config.StripeConfig{Env: "test", APIKey: "sk_test_123"}, nil)
	require.ErrorIs(t, err, errSecretRequired)

	_, err = NewClient(ctx, config.StripeConfig{Env: "live", APIKey: "sk_test_123", WebhookSecret: "whsec"}, nil)
	require.ErrorContains(t, err, "sk_live_")

	_, err = NewClient(ctx, config.StripeConfig{Env: "staging", APIKey: "sk_test_123", WebhookSecret: "whsec"}, nil)
	require.ErrorIs(t, err, errInvalidStripeEnv)

	_, err = NewClient(ctx, config.StripeConfig{Env: "LIVE", APIKey: "rk_live_abc", WebhookSecret: "whsec"}, nil)
	require.NoError(t, err)
}

func TestNewClientDefaults(t *testing.T) {
	client, err := NewClient(context.Background(), config.StripeConfig{APIKey: "sk_test_123", WebhookSecret: " whsec_abc "}, nil)
	require.NoError(t, err)
	require.Equal(t, "test", client.Environment())
	require.Equal(t, "whsec_abc", client.SigningSecret())
	require.Equal(t, defaultTimeout, client.Timeout())
	require.NotNil(t, client.API())
}

func TestNilClientAccessors(t *testing.T) {
	var client *Client
	require.Nil(t, client.API())
	require.Empty(t, client.SigningSecret())
	require.Equal(t, defaultTimeout, client.Timeout())
	_, err := client.ConstructEvent([]byte("{}"), "t=1,v1=x")
	require.ErrorIs(t, err, errSecretRequired)
}

func TestConstructEventChecksSignatureAndAge(t *testing.T) {
	client, err := NewClient(context.Background(), config.StripeConfig{APIKey: "sk_test_123", WebhookSecret: "whsec_abc"}, nil)
	require.NoError(t, err)
	payload := []byte(fmt.Sprintf(`{"id":"evt_1","object":"event","type":"payment_intent.succeeded","api_version":%q}`, stripe.APIVersion))

	event, err := client.ConstructEvent(payload, sign(payload, "whsec_abc", time.Now()))
	require.NoError(t, err)
	require.Equal(t, "evt_1", event.ID)

	_, err = client.ConstructEvent(payload, sign(payload, "whsec_other", time.Now()))
	require.Error(t, err)

	_, err = client.ConstructEvent(payload, sign(payload, "whsec_abc", time.Now().Add(-time.Hour)))
	require.Error(t, err)
}

func sign(payload []byte, secret string, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", at.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}
