// Package storefront wires the signed-token and webhook-authentication
// routes of the storefront edge handler.
package storefront

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/dawitel/storefront-edge/cache"
	"github.com/dawitel/storefront-edge/payment"
	"github.com/dawitel/storefront-edge/reviewtoken"
	"github.com/dawitel/storefront-edge/webhooksig"
	"github.com/rs/zerolog"
)

// Options carries the collaborators the edge calls out to.
type Options struct {
	// OnSettlement is invoked for each settled checkout. It may see the same
	// event more than once when several instances share a Redis store, so it
	// must be idempotent per Settlement.EventID.
	OnSettlement payment.SettlementHandler

	// Reviews receives reviews submitted through review links.
	Reviews ReviewSink
}

// Client owns the verifier, tokenizer, mailer and routes built from one Config.
type Client struct {
	cfg       *Config
	logger    zerolog.Logger
	cache     cache.Cache
	processor *payment.Processor
	tokens    *reviewtoken.Tokenizer
	mailer    *Mailer
	handler   *Handler
	mu        sync.RWMutex
	started   bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewClient validates cfg and builds every component. It fails when a
// secret is missing so no route ever runs unauthenticated.
func NewClient(cfg *Config, logger zerolog.Logger, opts Options) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	webhooks, err := webhooksig.New(cfg.WebhookSecret, webhooksig.WithTolerance(cfg.WebhookTolerance))
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook verifier: %w", err)
	}

	tokens, err := reviewtoken.New(cfg.ReviewSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create review tokenizer: %w", err)
	}

	cacheInstance, err := newCache(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	processor := payment.NewProcessor(logger, cacheInstance, opts.OnSettlement, cfg.Cache.DefaultTTL)
	handler := NewHandler(webhooks, tokens, processor, opts.Reviews, logger, cfg.HTTPClient.MaxRequestBodySize)

	var mailer *Mailer
	if cfg.Email.Enabled() {
		mailer = NewMailer(cfg, logger)
	}

	return &Client{
		cfg:       cfg,
		logger:    logger,
		cache:     cacheInstance,
		processor: processor,
		tokens:    tokens,
		mailer:    mailer,
		handler:   handler,
	}, nil
}

// Start marks the client as serving
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return fmt.Errorf("client already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.started = true

	c.logger.Info().
		Bool("email_enabled", c.mailer != nil).
		Bool("replay_window", c.cfg.WebhookTolerance > 0).
		Msg("Storefront edge client started")

	return nil
}

// Stop gracefully stops the client
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return nil
	}

	if c.cancel != nil {
		c.cancel()
	}

	if c.cache != nil {
		if err := c.cache.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to close cache")
		}
	}

	c.started = false
	c.logger.Info().Msg("Storefront edge client stopped")

	return nil
}

// Health returns the health status
func (c *Client) Health() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.started {
		return fmt.Errorf("client not started")
	}

	return nil
}

// Handler returns the HTTP handler with every route mounted
func (c *Client) Handler() http.Handler {
	return c.handler.Routes()
}

// Tokenizer returns the review link tokenizer
func (c *Client) Tokenizer() *reviewtoken.Tokenizer {
	return c.tokens
}

// ReviewLink issues a token for the order and returns the full link.
func (c *Client) ReviewLink(orderID, email string) (string, error) {
	token, err := c.tokens.Issue(orderID, email)
	if err != nil {
		return "", fmt.Errorf("failed to issue review token: %w", err)
	}
	reviewTokensIssued.Inc()
	return BuildReviewLink(c.cfg.PublicBaseURL, c.cfg.ReviewPath, orderID, token)
}

// RequestReview emails a review link to the order's contact address and
// returns the link that was sent.
func (c *Client) RequestReview(ctx context.Context, orderID, email string) (string, error) {
	if c.mailer == nil {
		return "", ErrEmailNotConfigured
	}

	link, err := c.ReviewLink(orderID, email)
	if err != nil {
		return "", err
	}

	if err := c.mailer.SendReviewRequest(ctx, email, orderID, link); err != nil {
		return "", fmt.Errorf("failed to send review request for order %s: %w", orderID, err)
	}

	c.logger.Info().Str("order_id", orderID).Msg("Review request sent")
	return link, nil
}

// NotifyReviewApproved emails the reviewer once moderation approves.
func (c *Client) NotifyReviewApproved(ctx context.Context, orderID, email string) error {
	if c.mailer == nil {
		return ErrEmailNotConfigured
	}
	return c.mailer.SendReviewApproved(ctx, email, orderID)
}
