package storefront

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// ErrEmailNotConfigured is returned when an email is requested but no
// provider API key is configured.
var ErrEmailNotConfigured = errors.New("email provider not configured")

// permanentError marks a provider rejection that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

type emailMessage struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
	ReplyTo string   `json:"reply_to,omitempty"`
}

// Mailer sends review-request and approval emails through the
// transactional email provider's HTTP API.
type Mailer struct {
	cfg            *Config
	logger         zerolog.Logger
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker
	sleep          func(ctx context.Context, d time.Duration) error
}

// NewMailer creates a new mailer
func NewMailer(cfg *Config, logger zerolog.Logger) *Mailer {
	circuitBreaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "email-provider",
		MaxRequests: uint32(cfg.CircuitBreaker.MaxRequests),
		Interval:    cfg.CircuitBreaker.Interval,
		Timeout:     cfg.CircuitBreaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < uint32(cfg.CircuitBreaker.MaxRequests) {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.CircuitBreaker.Threshold
		},
		IsSuccessful: func(err error) bool {
			var perm *permanentError
			return err == nil || errors.As(err, &perm)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info().
				Str("name", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Email circuit breaker state changed")
		},
	})

	return &Mailer{
		cfg:            cfg,
		logger:         logger,
		httpClient:     &http.Client{Timeout: cfg.HTTPClient.Timeout},
		circuitBreaker: circuitBreaker,
		sleep:          sleepContext,
	}
}

// SendReviewRequest emails link to the order's contact address.
func (m *Mailer) SendReviewRequest(ctx context.Context, to, orderID, link string) error {
	msg := emailMessage{
		From:    m.cfg.Email.From,
		To:      []string{to},
		Subject: fmt.Sprintf("How was your order %s?", orderID),
		Text: fmt.Sprintf(
			"Thanks for your order %s.\n\nWe would love to hear what you think. Leave a review here:\n%s\n\nThis link expires in 45 days.\n",
			orderID, link),
		ReplyTo: m.cfg.Email.ReplyTo,
	}
	return m.send(ctx, "review_request", msg)
}

// SendReviewApproved tells the reviewer their review is now published.
func (m *Mailer) SendReviewApproved(ctx context.Context, to, orderID string) error {
	msg := emailMessage{
		From:    m.cfg.Email.From,
		To:      []string{to},
		Subject: "Your review is live",
		Text: fmt.Sprintf(
			"Your review for order %s has been approved and is now visible on the store.\n\nThank you!\n",
			orderID),
		ReplyTo: m.cfg.Email.ReplyTo,
	}
	return m.send(ctx, "review_approved", msg)
}

func (m *Mailer) send(ctx context.Context, kind string, msg emailMessage) error {
	if !m.cfg.Email.Enabled() {
		return ErrEmailNotConfigured
	}

	jsonData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal email: %w", err)
	}

	// One key for all attempts so the provider drops duplicate deliveries.
	idempotencyKey := uuid.NewString()

	err = m.executeWithRetry(ctx, "send_"+kind, func() error {
		_, err := m.circuitBreaker.Execute(func() (interface{}, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(m.cfg.Email.APIURL, "/")+"/emails", bytes.NewReader(jsonData))
			if err != nil {
				return nil, &permanentError{fmt.Errorf("failed to create request: %w", err)}
			}

			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+m.cfg.Email.APIKey)
			req.Header.Set("Idempotency-Key", idempotencyKey)

			resp, err := m.httpClient.Do(req)
			if err != nil {
				return nil, fmt.Errorf("failed to send email: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				_, _ = io.Copy(io.Discard, resp.Body)
				return nil, nil
			}

			bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			err = fmt.Errorf("failed to send email: status %d, body: %s", resp.StatusCode, string(bodyBytes))
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return nil, &permanentError{err}
			}
			return nil, err
		})
		return err
	})

	if err != nil {
		emailsSent.WithLabelValues(kind, "failed").Inc()
		return err
	}
	emailsSent.WithLabelValues(kind, "sent").Inc()
	m.logger.Info().Str("kind", kind).Msg("Email sent")
	return nil
}

func (m *Mailer) executeWithRetry(ctx context.Context, operation string, fn func() error) error {
	maxAttempts := m.cfg.Retry.MaxAttempts
	delay := m.cfg.Retry.InitialDelay

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}

		if attempt < maxAttempts-1 {
			m.logger.Warn().
				Err(lastErr).
				Str("operation", operation).
				Int("attempt", attempt+1).
				Int("max_attempts", maxAttempts).
				Dur("retry_delay", delay).
				Msg("Operation failed, retrying")

			if err := m.sleep(ctx, delay); err != nil {
				return err
			}

			delay = time.Duration(float64(delay) * m.cfg.Retry.Multiplier)
			if delay > m.cfg.Retry.MaxDelay {
				delay = m.cfg.Retry.MaxDelay
			}
		}
	}

	return fmt.Errorf("operation %s failed after %d attempts: %w", operation, maxAttempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// BuildReviewLink returns base + path with order_id and token query
// parameters. The route handler reads order_id from this URL, never from
// the token.
func BuildReviewLink(baseURL, path, orderID, token string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	if path == "" {
		path = DefaultReviewPath
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(path, "/")

	q := u.Query()
	q.Set("order_id", orderID)
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
