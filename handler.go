package storefront

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/dawitel/storefront-edge/payment"
	"github.com/dawitel/storefront-edge/reviewtoken"
	"github.com/dawitel/storefront-edge/webhooksig"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SignatureHeader carries the payment provider's webhook signature.
const SignatureHeader = "Stripe-Signature"

// Generic client-facing messages. They never say which check failed.
const (
	msgInvalidSignature = "Invalid signature"
	msgInvalidLink      = "invalid or expired link"
)

// EventProcessor settles verified payment events
type EventProcessor interface {
	ProcessEvent(ctx context.Context, evt payment.Event) error
}

// ReviewSubmission is a customer review authorized by a review link.
type ReviewSubmission struct {
	OrderID    string
	Email      string
	Rating     int
	Title      string
	Body       string
	AuthorName string
}

// ReviewSink stores submitted reviews for moderation.
type ReviewSink interface {
	SubmitReview(ctx context.Context, review ReviewSubmission) error
}

type reviewRequest struct {
	Rating     int    `json:"rating"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	AuthorName string `json:"author_name"`
}

// Handler serves the payment webhook and review link routes
type Handler struct {
	webhooks    *webhooksig.Verifier
	tokens      *reviewtoken.Tokenizer
	processor   EventProcessor
	reviews     ReviewSink
	logger      zerolog.Logger
	maxBodySize int64
}

// NewHandler creates a new handler. webhooks and tokens must be non-nil;
// they can only be built with a secret.
func NewHandler(
	webhooks *webhooksig.Verifier,
	tokens *reviewtoken.Tokenizer,
	processor EventProcessor,
	reviews ReviewSink,
	logger zerolog.Logger,
	maxBodySize int64,
) *Handler {
	if maxBodySize <= 0 {
		maxBodySize = DefaultMaxRequestBodySize
	}
	return &Handler{
		webhooks:    webhooks,
		tokens:      tokens,
		processor:   processor,
		reviews:     reviews,
		logger:      logger,
		maxBodySize: maxBodySize,
	}
}

// Routes returns a mux with every route mounted.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhooks/payment", instrumentHandler("payment_webhook", h.HandlePaymentWebhook))
	mux.HandleFunc("/reviews/verify", instrumentHandler("review_verify", h.HandleReviewVerify))
	mux.HandleFunc("/reviews", instrumentHandler("review_submit", h.HandleReviewSubmit))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return h.recoverer(mux)
}

func (h *Handler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)
		logger := h.logger.With().Str("request_id", requestID).Logger()
		r = r.WithContext(logger.WithContext(r.Context()))

		defer func() {
			if rec := recover(); rec != nil {
				logger.Error().
					Interface("panic", rec).
					Str("path", r.URL.Path).
					Msg("Panic recovered in handler")
				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// log returns the request scoped logger, or the handler logger outside Routes.
func (h *Handler) log(r *http.Request) *zerolog.Logger {
	if l := zerolog.Ctx(r.Context()); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &h.logger
}

// HandlePaymentWebhook verifies and settles a payment event. The signature
// is checked against the raw body before any JSON parsing.
func (h *Handler) HandlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	logger := h.log(r)

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	valid, reason := h.webhooks.Diagnose(r.Header.Get(SignatureHeader), body)
	webhookVerifications.WithLabelValues(resultLabel(valid)).Inc()
	if !valid {
		logger.Warn().Str("reason", reason).Msg("Invalid webhook signature")
		http.Error(w, msgInvalidSignature, http.StatusBadRequest)
		return
	}

	evt, err := payment.ParseEvent(body)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to parse signed webhook payload")
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	if h.processor != nil {
		err := h.processor.ProcessEvent(r.Context(), evt)
		if errors.Is(err, payment.ErrMissingOrderID) {
			// Redelivery cannot supply an order id, so acknowledge and alert.
			logger.Error().Err(err).
				Str("event_id", evt.ID).
				Str("event_type", evt.Type).
				Msg("Acknowledging payment event that cannot be settled")
		} else if err != nil {
			logger.Error().Err(err).
				Str("event_id", evt.ID).
				Str("event_type", evt.Type).
				Msg("Failed to process payment event")
			http.Error(w, "Failed to process webhook", http.StatusInternalServerError)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// HandleReviewVerify reports whether a review link is still usable.
func (h *Handler) HandleReviewVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	orderID := r.URL.Query().Get("order_id")
	if _, ok := h.openToken(r, orderID); !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": msgInvalidLink})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"valid": true, "order_id": orderID})
}

// HandleReviewSubmit accepts a review for the order named in the URL.
func (h *Handler) HandleReviewSubmit(w http.ResponseWriter, r *http.Request) {
	logger := h.log(r)

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	orderID := r.URL.Query().Get("order_id")
	payload, ok := h.openToken(r, orderID)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": msgInvalidLink})
		return
	}

	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	var req reviewRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if msg := validateReview(req); msg != "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": msg})
		return
	}

	if h.reviews == nil {
		logger.Error().Msg("Review sink not configured")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	review := ReviewSubmission{
		OrderID:    payload.OrderID,
		Email:      payload.Email,
		Rating:     req.Rating,
		Title:      strings.TrimSpace(req.Title),
		Body:       strings.TrimSpace(req.Body),
		AuthorName: strings.TrimSpace(req.AuthorName),
	}
	if err := h.reviews.SubmitReview(r.Context(), review); err != nil {
		logger.Error().Err(err).Str("order_id", orderID).Msg("Failed to store review")
		http.Error(w, "Failed to store review", http.StatusInternalServerError)
		return
	}

	logger.Info().Str("order_id", orderID).Int("rating", req.Rating).Msg("Review submitted")
	writeJSON(w, http.StatusCreated, map[string]string{"status": "pending"})
}

// openToken verifies the token query parameter against orderID, which must
// come from the URL.
func (h *Handler) openToken(r *http.Request, orderID string) (reviewtoken.Payload, bool) {
	token := r.URL.Query().Get("token")
	payload, ok, reason := h.tokens.Diagnose(token, orderID)
	reviewTokenVerifications.WithLabelValues(resultLabel(ok)).Inc()
	if !ok {
		h.log(r).Warn().
			Str("reason", reason).
			Str("order_id", orderID).
			Msg("Rejected review link")
	}
	return payload, ok
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	logger := h.log(r)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.Warn().
				Int64("max_size", h.maxBodySize).
				Msg("Request body exceeds maximum size")
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return nil, false
		}
		logger.Error().Err(err).Msg("Failed to read request body")
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return nil, false
	}

	if len(body) == 0 {
		logger.Warn().Msg("Empty request body received")
		http.Error(w, "Empty body", http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

func validateReview(req reviewRequest) string {
	if req.Rating < 1 || req.Rating > 5 {
		return "rating must be between 1 and 5"
	}
	if strings.TrimSpace(req.Body) == "" {
		return "review body is required"
	}
	if len(req.Title) > 200 {
		return "title is too long"
	}
	if len(req.Body) > 5000 {
		return "review body is too long"
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
