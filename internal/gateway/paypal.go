package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"payment-gateway/internal/tokencache"
	"payment-gateway/internal/util"

	"go.uber.org/zap"
)

const (
	paypalSandboxBase = "https://api-m.sandbox.paypal.com"
	paypalLiveBase    = "https://api-m.paypal.com"
)

// PayPalClient talks to the PayPal REST API. Access tokens are served
// through a single-flight cache so bursts of concurrent requests trigger
// at most one token-issuance call.
type PayPalClient struct {
	baseURL      string
	clientID     string
	clientSecret string
	brandName    string
	returnURL    string
	cancelURL    string
	fetchTimeout time.Duration
	httpClient   *http.Client
	tokens       *tokencache.Cache
	logger       *zap.Logger
}

// NewPayPalClient creates a client for the given environment ("live" or
// "sandbox"). domain is the public host used for return/cancel URLs.
func NewPayPalClient(env, clientID, clientSecret, domain, storeName string, fetchTimeout time.Duration, tokens *tokencache.Cache) *PayPalClient {
	baseURL := paypalSandboxBase
	if env == "live" {
		baseURL = paypalLiveBase
	}
	if fetchTimeout <= 0 {
		fetchTimeout = 10 * time.Second
	}

	return &PayPalClient{
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		brandName:    storeName,
		returnURL:    domain + "/success-pp.php",
		cancelURL:    domain + "/cancel.php",
		fetchTimeout: fetchTimeout,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		tokens:       tokens,
		logger:       util.GetLogger(),
	}
}

// AccessToken returns a valid bearer token via the single-flight cache.
func (c *PayPalClient) AccessToken(ctx context.Context) (string, error) {
	return c.tokens.Get(ctx, c.fetchAccessToken)
}

// fetchAccessToken performs the client-credentials OAuth exchange. It is
// the cache's fetch function and is only ever invoked by one caller at a
// time.
func (c *PayPalClient) fetchAccessToken(ctx context.Context) (string, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/oauth2/token",
		strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return "", 0, err
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("paypal token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", 0, fmt.Errorf("paypal token response read failed: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", 0, &tokencache.AuthError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("paypal token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tr struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", 0, fmt.Errorf("paypal token response decode failed: %w", err)
	}
	if tr.AccessToken == "" {
		return "", 0, fmt.Errorf("paypal token response missing access_token")
	}

	c.logger.Info("PayPal access token obtained",
		zap.Int64("expires_in", tr.ExpiresIn))

	return tr.AccessToken, time.Duration(tr.ExpiresIn) * time.Second, nil
}

// PayPalMoney is an amount on the PayPal wire format.
type PayPalMoney struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

// PayPalOrderItem is one purchase-unit line item.
type PayPalOrderItem struct {
	Name       string      `json:"name"`
	UnitAmount PayPalMoney `json:"unit_amount"`
	Quantity   string      `json:"quantity"`
}

// PayPalOrderRequest describes a CAPTURE order to create.
type PayPalOrderRequest struct {
	ReferenceID string // cart id, echoed back on capture
	Currency    string
	Total       string
	Items       []PayPalOrderItem
}

// PayPalOrder is the created order with the raw provider payload retained
// for pass-through responses.
type PayPalOrder struct {
	OrderID string
	Status  string
	Payload map[string]interface{}
}

// PayPalCapture is a capture result. ReferenceID carries the cart id the
// order was created with.
type PayPalCapture struct {
	OrderID     string
	ReferenceID string
	Status      string
	Payload     map[string]interface{}
}

// CreateOrder creates a PayPal CAPTURE order for one purchase unit.
func (c *PayPalClient) CreateOrder(ctx context.Context, req PayPalOrderRequest) (*PayPalOrder, error) {
	body := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{{
			"reference_id": req.ReferenceID,
			"amount": map[string]interface{}{
				"currency_code": req.Currency,
				"value":         req.Total,
				"breakdown": map[string]interface{}{
					"item_total": PayPalMoney{CurrencyCode: req.Currency, Value: req.Total},
				},
			},
			"items": req.Items,
		}},
		"application_context": map[string]interface{}{
			"return_url":  c.returnURL,
			"cancel_url":  c.cancelURL,
			"brand_name":  c.brandName,
			"user_action": "PAY_NOW",
		},
	}

	payload, err := c.postJSON(ctx, "/v2/checkout/orders", body)
	if err != nil {
		return nil, err
	}

	order := &PayPalOrder{
		OrderID: stringField(payload, "id"),
		Status:  stringField(payload, "status"),
		Payload: payload,
	}

	c.logger.Info("PayPal order created",
		zap.String("order_id", order.OrderID),
		zap.String("reference_id", req.ReferenceID))

	return order, nil
}

// CaptureOrder captures an approved order and extracts the reference id
// used to reconcile the originating cart.
func (c *PayPalClient) CaptureOrder(ctx context.Context, orderID string) (*PayPalCapture, error) {
	payload, err := c.postJSON(ctx, "/v2/checkout/orders/"+orderID+"/capture", map[string]interface{}{})
	if err != nil {
		return nil, err
	}

	capture := &PayPalCapture{
		OrderID:     stringField(payload, "id"),
		ReferenceID: captureReferenceID(payload),
		Status:      stringField(payload, "status"),
		Payload:     payload,
	}

	c.logger.Info("PayPal order captured",
		zap.String("order_id", orderID),
		zap.String("status", capture.Status))

	return capture, nil
}

func (c *PayPalClient) postJSON(ctx context.Context, path string, body interface{}) (map[string]interface{}, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("paypal access token: %w", err)
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("paypal %s request failed: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("paypal %s response read failed: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("paypal %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return nil, fmt.Errorf("paypal %s response decode failed: %w", path, err)
	}
	return payload, nil
}

// FormatAmount renders a cent amount as the decimal string the PayPal API
// expects (2550 -> "25.50"). Negative amounts keep a single leading sign.
func FormatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

func stringField(payload map[string]interface{}, key string) string {
	v, _ := payload[key].(string)
	return v
}

// captureReferenceID digs purchase_units[0].reference_id out of a capture
// payload.
func captureReferenceID(payload map[string]interface{}) string {
	units, _ := payload["purchase_units"].([]interface{})
	if len(units) == 0 {
		return ""
	}
	unit, _ := units[0].(map[string]interface{})
	return stringField(unit, "reference_id")
}
