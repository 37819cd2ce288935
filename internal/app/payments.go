// Package app assembles the payment core shared by the API and the cron worker.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/angelmondragon/coursepay/internal/accounts"
	"github.com/angelmondragon/coursepay/internal/cache"
	"github.com/angelmondragon/coursepay/internal/commission"
	"github.com/angelmondragon/coursepay/internal/dispatch"
	"github.com/angelmondragon/coursepay/internal/events"
	"github.com/angelmondragon/coursepay/internal/gateway"
	"github.com/angelmondragon/coursepay/internal/ledger"
	"github.com/angelmondragon/coursepay/internal/notifications"
	"github.com/angelmondragon/coursepay/internal/payments"
	"github.com/angelmondragon/coursepay/pkg/config"
	"github.com/angelmondragon/coursepay/pkg/db"
	"github.com/angelmondragon/coursepay/pkg/logger"
	"github.com/angelmondragon/coursepay/pkg/metrics"
	"github.com/angelmondragon/coursepay/pkg/pubsub"
	"github.com/angelmondragon/coursepay/pkg/redis"
	"github.com/angelmondragon/coursepay/pkg/stripe"
)

// Core is the wired payment domain.
type Core struct {
	Payments   *payments.Service
	Accounts   accounts.Service
	Ledger     ledger.Repository
	Calculator *commission.Calculator
	Cache      *cache.Cache
	Stripe     *stripe.Client
	PubSub     *pubsub.Client
	Metrics    *metrics.PaymentMetrics

	dispatcher *dispatch.AsyncDispatcher
}

// BuildCore wires the ledger, gateway, dispatcher and collaborators around the
// payment service. PubSub is optional and only dialled when a topic is set.
func BuildCore(ctx context.Context, cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, reg prometheus.Registerer) (*Core, error) {
	paymentMetrics := metrics.NewPaymentMetrics(reg)

	stripeClient, err := stripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		return nil, fmt.Errorf("stripe client: %w", err)
	}
	gw, err := gateway.NewStripeGateway(stripeClient, paymentMetrics)
	if err != nil {
		return nil, fmt.Errorf("stripe gateway: %w", err)
	}

	calc, err := commission.NewCalculator(cfg.Commission)
	if err != nil {
		return nil, fmt.Errorf("commission calculator: %w", err)
	}

	dispatcher, err := dispatch.NewAsync(cfg.Dispatch, logg, paymentMetrics)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: %w", err)
	}

	var (
		publisher    events.Publisher = events.Noop{}
		pubsubClient *pubsub.Client
	)
	if cfg.PubSub.Enabled() {
		pubsubClient, err = pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			return nil, fmt.Errorf("pubsub client: %w", err)
		}
		publisher = events.NewPubSubPublisher(pubsubClient.PaymentsPublisher())
	}

	reportCache := cache.New(redisClient, cfg.Cache, logg)
	ledgerRepo := ledger.NewRepository(dbClient.DB())
	accountRepo := accounts.NewRepository(dbClient.DB())

	paymentService, err := payments.NewService(payments.ServiceParams{
		Ledger:            ledgerRepo,
		Accounts:          accountRepo,
		Gateway:           gw,
		Calculator:        calc,
		TransactionRunner: dbClient,
		Dispatcher:        dispatcher,
		Notifier:          notifications.NewHTTPNotifier(cfg.Notifications, cfg.Internal),
		Events:            publisher,
		Cache:             reportCache,
		Metrics:           paymentMetrics,
		Logger:            logg,
		Payouts:           cfg.Payouts,
	})
	if err != nil {
		return nil, fmt.Errorf("payments service: %w", err)
	}

	accountService, err := accounts.NewService(accounts.ServiceParams{
		Repo:              accountRepo,
		Ledger:            ledgerRepo,
		Gateway:           gw,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		return nil, fmt.Errorf("accounts service: %w", err)
	}

	return &Core{
		Payments:   paymentService,
		Accounts:   accountService,
		Ledger:     ledgerRepo,
		Calculator: calc,
		Cache:      reportCache,
		Stripe:     stripeClient,
		PubSub:     pubsubClient,
		Metrics:    paymentMetrics,
		dispatcher: dispatcher,
	}, nil
}

// Close drains queued side effects before releasing the PubSub client.
func (c *Core) Close(ctx context.Context) error {
	var err error
	if c.dispatcher != nil {
		err = multierr.Append(err, c.dispatcher.Close(ctx))
	}
	if c.PubSub != nil {
		err = multierr.Append(err, c.PubSub.Close())
	}
	return err
}
