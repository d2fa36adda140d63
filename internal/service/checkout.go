package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"payment-gateway/internal/broker"
	"payment-gateway/internal/gateway"
	"payment-gateway/internal/models"
	"payment-gateway/internal/redisclient"
	"payment-gateway/internal/tracker"
	"payment-gateway/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrMixedCurrencies is returned when PayPal order items resolve to more
// than one currency.
var ErrMixedCurrencies = errors.New("mixed currencies are not allowed")

// webhookDedupTTL bounds how long a provider event id is remembered.
const webhookDedupTTL = 24 * time.Hour

// StripeGateway is the slice of the Stripe API the checkout flow needs.
type StripeGateway interface {
	ListProducts(ctx context.Context) ([]gateway.CatalogItem, error)
	GetPrice(ctx context.Context, priceID string) (*gateway.ResolvedPrice, error)
	CreateCheckoutSession(ctx context.Context, req gateway.SessionRequest) (*gateway.SessionResult, error)
}

// PayPalGateway is the slice of the PayPal API the checkout flow needs.
type PayPalGateway interface {
	CreateOrder(ctx context.Context, req gateway.PayPalOrderRequest) (*gateway.PayPalOrder, error)
	CaptureOrder(ctx context.Context, orderID string) (*gateway.PayPalCapture, error)
}

// CountryLocator resolves a client IP to a country code, best effort.
type CountryLocator interface {
	DetectCountry(ctx context.Context, ip string) string
}

// CheckoutService orchestrates checkout creation against the providers and
// records every lifecycle transition in the reconciliation tracker.
type CheckoutService struct {
	tracker       *tracker.Tracker
	stripe        StripeGateway
	paypal        PayPalGateway
	geo           CountryLocator
	events        *broker.CartEventPublisher
	dedup         *redisclient.Client
	shippingRates map[string]string
	logger        *zap.Logger
}

// NewCheckoutService creates a new checkout service. events and dedup may
// be nil; event publishing and webhook dedup are then disabled.
func NewCheckoutService(
	tr *tracker.Tracker,
	stripe StripeGateway,
	paypal PayPalGateway,
	geo CountryLocator,
	events *broker.CartEventPublisher,
	dedup *redisclient.Client,
	shippingRates map[string]string,
) *CheckoutService {
	return &CheckoutService{
		tracker:       tr,
		stripe:        stripe,
		paypal:        paypal,
		geo:           geo,
		events:        events,
		dedup:         dedup,
		shippingRates: shippingRates,
		logger:        util.GetLogger(),
	}
}

// StripeItemRequest is one line of a Stripe session request.
type StripeItemRequest struct {
	ID       string `json:"id" binding:"required"`
	Quantity int64  `json:"quantity"`
}

// CreateSessionRequest is the body of a create-session call.
type CreateSessionRequest struct {
	Items []StripeItemRequest `json:"items" binding:"required,min=1"`
	Email string              `json:"email"`
}

// CreateSessionResponse is the created checkout session.
type CreateSessionResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
	CartID    string `json:"cartId"`
}

// CreateStripeSession creates a Stripe checkout session and records the
// cart in state CREATED. Country detection feeds the shipping option
// ordering and is best effort.
func (s *CheckoutService) CreateStripeSession(ctx context.Context, req *CreateSessionRequest, clientIP string) (*CreateSessionResponse, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.CreateStripeSession")
	defer span.End()

	cartID := uuid.New().String()
	country := s.geo.DetectCountry(ctx, clientIP)

	items := make([]gateway.SessionLineItem, 0, len(req.Items))
	var totalItems int64
	for _, item := range req.Items {
		qty := item.Quantity
		if qty <= 0 {
			qty = 1
		}
		totalItems += qty
		items = append(items, gateway.SessionLineItem{PriceID: item.ID, Quantity: qty})
	}

	result, err := s.stripe.CreateCheckoutSession(ctx, gateway.SessionRequest{
		CartID:          cartID,
		Items:           items,
		Email:           req.Email,
		DetectedCountry: country,
		ShippingRates:   gateway.ShippingRatesForCountry(country, s.shippingRates),
	})
	if err != nil {
		util.CheckoutSessionsTotal.WithLabelValues("stripe", "error").Inc()
		return nil, fmt.Errorf("create stripe session: %w", err)
	}
	util.CheckoutSessionsTotal.WithLabelValues("stripe", "created").Inc()

	metadata := map[string]interface{}{
		"totalItems": totalItems,
		"sessionId":  result.SessionID,
	}
	if req.Email != "" {
		metadata["email"] = req.Email
	}
	if country != "" {
		metadata["detectedCountry"] = country
	}

	s.tracker.RecordCreation(cartID, models.SourceStripeCheckout, metadata)
	s.publishCreated(ctx, cartID, models.SourceStripeCheckout, totalItems)

	return &CreateSessionResponse{
		Success:   true,
		SessionID: result.SessionID,
		URL:       result.URL,
		CartID:    cartID,
	}, nil
}

// PayPalItemRequest is one line of a PayPal order request, referencing a
// Stripe price.
type PayPalItemRequest struct {
	PriceID  string `json:"priceId" binding:"required"`
	Quantity int64  `json:"quantity"`
}

// CreatePayPalOrderRequest is the body of a create-order call.
type CreatePayPalOrderRequest struct {
	Items []PayPalItemRequest `json:"items" binding:"required,min=1"`
}

// CreatePayPalOrder resolves the items against Stripe prices, creates a
// PayPal CAPTURE order referencing a fresh cart id and records the cart.
func (s *CheckoutService) CreatePayPalOrder(ctx context.Context, req *CreatePayPalOrderRequest) (*gateway.PayPalOrder, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.CreatePayPalOrder")
	defer span.End()

	cartID := uuid.New().String()

	var orderItems []gateway.PayPalOrderItem
	var totalCents int64
	var totalItems int64
	currency := ""

	for _, item := range req.Items {
		resolved, err := s.stripe.GetPrice(ctx, item.PriceID)
		if err != nil {
			util.CheckoutSessionsTotal.WithLabelValues("paypal", "error").Inc()
			return nil, err
		}

		if currency == "" {
			currency = resolved.Currency
		} else if currency != resolved.Currency {
			util.CheckoutSessionsTotal.WithLabelValues("paypal", "error").Inc()
			return nil, ErrMixedCurrencies
		}

		qty := item.Quantity
		if qty <= 0 {
			qty = 1
		}
		totalItems += qty
		totalCents += resolved.UnitAmount * qty

		orderItems = append(orderItems, gateway.PayPalOrderItem{
			Name: resolved.ProductName,
			UnitAmount: gateway.PayPalMoney{
				CurrencyCode: currency,
				Value:        gateway.FormatAmount(resolved.UnitAmount),
			},
			Quantity: strconv.FormatInt(qty, 10),
		})
	}

	total := gateway.FormatAmount(totalCents)
	order, err := s.paypal.CreateOrder(ctx, gateway.PayPalOrderRequest{
		ReferenceID: cartID,
		Currency:    currency,
		Total:       total,
		Items:       orderItems,
	})
	if err != nil {
		util.CheckoutSessionsTotal.WithLabelValues("paypal", "error").Inc()
		return nil, fmt.Errorf("create paypal order: %w", err)
	}
	util.CheckoutSessionsTotal.WithLabelValues("paypal", "created").Inc()

	s.tracker.RecordCreation(cartID, models.SourcePayPalCheckout, map[string]interface{}{
		"totalItems":      totalItems,
		"providerOrderId": order.OrderID,
		"amount":          total,
		"currency":        currency,
	})
	s.publishCreated(ctx, cartID, models.SourcePayPalCheckout, totalItems)

	return order, nil
}

// CapturePayPalOrder captures an approved order and reconciles the cart
// named by the capture's reference id.
func (s *CheckoutService) CapturePayPalOrder(ctx context.Context, orderID string) (*gateway.PayPalCapture, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.CapturePayPalOrder")
	defer span.End()

	capture, err := s.paypal.CaptureOrder(ctx, orderID)
	if err != nil {
		util.PayPalCapturesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("capture paypal order %s: %w", orderID, err)
	}
	util.PayPalCapturesTotal.WithLabelValues(capture.Status).Inc()

	cartID := capture.ReferenceID
	if cartID == "" {
		// fall back to the provider order id so the event is still recorded
		cartID = capture.OrderID
	}

	if capture.Status == "COMPLETED" {
		entry := s.tracker.RecordConfirmation(cartID, "paypal.capture.completed", capture.Payload)
		s.logConfirmation(entry)
		s.publishConfirmed(ctx, cartID, "paypal.capture.completed")
	} else {
		reason := fmt.Sprintf("paypal capture status %s", capture.Status)
		s.tracker.RecordFailure(cartID, reason, capture.Payload)
		s.publishFailed(ctx, cartID, reason)
	}

	return capture, nil
}

// HandleStripeEvent processes an already-verified Stripe webhook event.
// Replayed deliveries are suppressed through Redis when configured; the
// tracker's idempotency handles the rest. Processing never fails on an
// unmatched cart: the tracker synthesizes an entry instead.
func (s *CheckoutService) HandleStripeEvent(ctx context.Context, eventID, eventType string, object map[string]interface{}) error {
	ctx, span := util.StartSpan(ctx, "CheckoutService.HandleStripeEvent")
	defer span.End()

	util.WebhookEventsTotal.WithLabelValues(eventType).Inc()

	if s.dedup != nil && eventID != "" {
		fresh, err := s.dedup.MarkEventProcessed(ctx, eventID, webhookDedupTTL)
		if err != nil {
			// dedup store down: process anyway, the tracker is idempotent
			s.logger.Warn("Webhook dedup unavailable", zap.Error(err))
		} else if !fresh {
			s.logger.Info("Duplicate webhook delivery dropped",
				zap.String("event_id", eventID),
				zap.String("type", eventType))
			return nil
		}
	}

	cartID := eventCartID(eventID, object)

	switch eventType {
	case "checkout.session.completed":
		entry := s.tracker.RecordConfirmation(cartID, eventType, object)
		s.logConfirmation(entry)
		s.publishConfirmed(ctx, cartID, eventType)

	case "checkout.session.expired", "payment_intent.payment_failed", "payment_intent.canceled":
		reason := failureReason(eventType, object)
		s.tracker.RecordFailure(cartID, reason, object)
		s.publishFailed(ctx, cartID, reason)

	default:
		s.logger.Debug("Unhandled webhook event type",
			zap.String("type", eventType),
			zap.String("cart_id", cartID))
	}

	return nil
}

// ListProducts proxies the storefront catalog.
func (s *CheckoutService) ListProducts(ctx context.Context) ([]gateway.CatalogItem, error) {
	return s.stripe.ListProducts(ctx)
}

func (s *CheckoutService) logConfirmation(entry models.CartEntry) {
	if entry.ConfirmedAt == nil {
		return
	}
	elapsed := entry.ConfirmedAt.Sub(entry.CreatedAt).Milliseconds()
	s.logger.Info("Cart confirmed",
		zap.String("cart_id", entry.CartID),
		zap.String("source", string(entry.Source)),
		zap.String("time_to_confirmation", tracker.FormatDurationMS(elapsed)))
}

func (s *CheckoutService) publishCreated(ctx context.Context, cartID string, source models.CartSource, totalItems int64) {
	event := &models.CartCreatedEvent{
		BaseEvent:  newBaseEvent(models.EventTypeCartCreated),
		CartID:     cartID,
		Source:     source,
		TotalItems: totalItems,
	}
	if err := s.events.PublishCartCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish CartCreated event", zap.Error(err))
	}
}

func (s *CheckoutService) publishConfirmed(ctx context.Context, cartID, confirmedBy string) {
	event := &models.CartConfirmedEvent{
		BaseEvent:   newBaseEvent(models.EventTypeCartConfirmed),
		CartID:      cartID,
		ConfirmedBy: confirmedBy,
	}
	if err := s.events.PublishCartConfirmed(ctx, event); err != nil {
		s.logger.Error("Failed to publish CartConfirmed event", zap.Error(err))
	}
}

func (s *CheckoutService) publishFailed(ctx context.Context, cartID, reason string) {
	event := &models.CartFailedEvent{
		BaseEvent: newBaseEvent(models.EventTypeCartFailed),
		CartID:    cartID,
		Reason:    reason,
	}
	if err := s.events.PublishCartFailed(ctx, event); err != nil {
		s.logger.Error("Failed to publish CartFailed event", zap.Error(err))
	}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

// eventCartID extracts the cart id a webhook event refers to. Sessions
// carry it in their metadata; events without one fall back to the provider
// object id, then to the delivery's own event id, so each orphan event
// synthesizes its own entry instead of piling onto a shared one.
func eventCartID(eventID string, object map[string]interface{}) string {
	if meta, ok := object["metadata"].(map[string]interface{}); ok {
		if id, ok := meta["cartId"].(string); ok && id != "" {
			return id
		}
	}
	if id, ok := object["id"].(string); ok && id != "" {
		return id
	}
	if eventID != "" {
		return eventID
	}
	return "unknown"
}

func failureReason(eventType string, object map[string]interface{}) string {
	if errObj, ok := object["last_payment_error"].(map[string]interface{}); ok {
		if msg, ok := errObj["message"].(string); ok && msg != "" {
			return fmt.Sprintf("%s: %s", eventType, msg)
		}
	}
	return eventType
}
