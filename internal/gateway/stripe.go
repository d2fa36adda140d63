package gateway

import (
	"context"
	"fmt"
	"strings"

	"payment-gateway/internal/util"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/checkout/session"
	"github.com/stripe/stripe-go/v80/price"
	"github.com/stripe/stripe-go/v80/webhook"
	"go.uber.org/zap"
)

// StripeClient wraps the Stripe operations the gateway needs: catalog
// listing, price resolution for PayPal orders, checkout session creation
// and webhook signature verification.
type StripeClient struct {
	webhookSecret string
	successURL    string
	cancelURL     string
	logger        *zap.Logger
}

// NewStripeClient configures the global Stripe key and returns a client.
func NewStripeClient(secretKey, webhookSecret, domain string) *StripeClient {
	stripe.Key = secretKey
	return &StripeClient{
		webhookSecret: webhookSecret,
		successURL:    domain + "/success-s.php?session_id={CHECKOUT_SESSION_ID}",
		cancelURL:     domain + "/cancel.php",
		logger:        util.GetLogger(),
	}
}

// CatalogItem is one sellable price in the storefront shape.
type CatalogItem struct {
	ID              string            `json:"id"`
	Price           float64           `json:"price"`
	Currency        string            `json:"currency"`
	Description     string            `json:"description"`
	ImgFileName     string            `json:"imgFileName"`
	ProductName     string            `json:"productName"`
	ProductMetadata map[string]string `json:"productMetadata"`
}

// ListProducts returns active prices with their products expanded.
func (c *StripeClient) ListProducts(ctx context.Context) ([]CatalogItem, error) {
	params := &stripe.PriceListParams{}
	params.Context = ctx
	params.AddExpand("data.product")

	items := []CatalogItem{}
	iter := price.List(params)
	for iter.Next() {
		p := iter.Price()
		if !p.Active || p.Product == nil || !p.Product.Active {
			continue
		}
		img := ""
		if p.Product.Metadata != nil {
			img = p.Product.Metadata["imgFileName"]
		}
		items = append(items, CatalogItem{
			ID:              p.ID,
			Price:           float64(p.UnitAmount) / 100,
			Currency:        strings.ToUpper(string(p.Currency)),
			Description:     p.Product.Description,
			ImgFileName:     img,
			ProductName:     p.Product.Name,
			ProductMetadata: p.Product.Metadata,
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list stripe prices: %w", err)
	}
	return items, nil
}

// ResolvedPrice is a Stripe price resolved for building a PayPal order.
type ResolvedPrice struct {
	PriceID     string
	UnitAmount  int64
	Currency    string
	ProductName string
}

// GetPrice fetches a price with its product expanded. Prices without an
// amount or currency are rejected.
func (c *StripeClient) GetPrice(ctx context.Context, priceID string) (*ResolvedPrice, error) {
	params := &stripe.PriceParams{}
	params.Context = ctx
	params.AddExpand("product")

	p, err := price.Get(priceID, params)
	if err != nil {
		return nil, fmt.Errorf("get stripe price %s: %w", priceID, err)
	}
	if p.UnitAmount <= 0 || p.Currency == "" {
		return nil, fmt.Errorf("stripe price %s has no usable amount or currency", priceID)
	}

	name := "Product"
	if p.Product != nil && p.Product.Name != "" {
		name = p.Product.Name
	}

	return &ResolvedPrice{
		PriceID:     p.ID,
		UnitAmount:  p.UnitAmount,
		Currency:    strings.ToUpper(string(p.Currency)),
		ProductName: name,
	}, nil
}

// SessionLineItem is one priced line of a checkout session.
type SessionLineItem struct {
	PriceID  string
	Quantity int64
}

// SessionRequest describes a checkout session to create.
type SessionRequest struct {
	CartID          string
	Items           []SessionLineItem
	Email           string
	DetectedCountry string
	ShippingRates   []string // ordered shipping rate ids, local region first
}

// SessionResult is the created session.
type SessionResult struct {
	SessionID string
	URL       string
}

// CreateCheckoutSession creates a card checkout session carrying the cart
// id in its metadata so the completion webhook can be reconciled.
func (c *StripeClient) CreateCheckoutSession(ctx context.Context, req SessionRequest) (*SessionResult, error) {
	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Items))
	for _, item := range req.Items {
		qty := item.Quantity
		if qty <= 0 {
			qty = 1
		}
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			Price:    stripe.String(item.PriceID),
			Quantity: stripe.Int64(qty),
		})
	}

	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems:          lineItems,
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:         stripe.String(c.successURL),
		CancelURL:          stripe.String(c.cancelURL),
		PhoneNumberCollection: &stripe.CheckoutSessionPhoneNumberCollectionParams{
			Enabled: stripe.Bool(true),
		},
		ShippingAddressCollection: &stripe.CheckoutSessionShippingAddressCollectionParams{
			AllowedCountries: stripe.StringSlice(AllowedShippingCountries()),
		},
		BillingAddressCollection: stripe.String("required"),
		AllowPromotionCodes:      stripe.Bool(true),
	}
	params.Context = ctx

	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	for _, rate := range req.ShippingRates {
		params.ShippingOptions = append(params.ShippingOptions, &stripe.CheckoutSessionShippingOptionParams{
			ShippingRate: stripe.String(rate),
		})
	}

	country := req.DetectedCountry
	if country == "" {
		country = "unknown"
	}
	params.AddMetadata("cartId", req.CartID)
	params.AddMetadata("detectedCountry", country)

	s, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	c.logger.Info("Stripe checkout session created",
		zap.String("session_id", s.ID),
		zap.String("cart_id", req.CartID))

	return &SessionResult{SessionID: s.ID, URL: s.URL}, nil
}

// ConstructWebhookEvent verifies a webhook payload's signature and parses
// the event. Verification happens here, at the boundary; the tracker only
// ever sees already-verified events.
func (c *StripeClient) ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	if c.webhookSecret == "" {
		return stripe.Event{}, fmt.Errorf("webhook secret not configured")
	}
	return webhook.ConstructEvent(payload, sigHeader, c.webhookSecret)
}
