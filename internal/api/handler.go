package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"payment-gateway/internal/models"
	"payment-gateway/internal/service"
	"payment-gateway/internal/tracker"
	"payment-gateway/internal/util"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stripe/stripe-go/v80"
)

// WebhookVerifier verifies a webhook payload's signature and parses the
// event. Verification is a boundary concern; the service layer only sees
// verified events.
type WebhookVerifier interface {
	ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error)
}

// Handler contains HTTP handlers
type Handler struct {
	checkout  *service.CheckoutService
	tracker   *tracker.Tracker
	webhooks  WebhookVerifier
	paypalEnv string
}

// NewHandler creates a new HTTP handler
func NewHandler(checkout *service.CheckoutService, tr *tracker.Tracker, webhooks WebhookVerifier, paypalEnv string) *Handler {
	return &Handler{
		checkout:  checkout,
		tracker:   tr,
		webhooks:  webhooks,
		paypalEnv: paypalEnv,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	corsConfig := cors.Config{
		AllowOrigins: []string{
			"http://localhost:5173",
			"http://localhost",
			"http://127.0.0.1",
			"http://localhost:80",
			"http://127.0.0.1:80",
		},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       time.Hour,
	}
	router.Use(cors.New(corsConfig))

	router.GET("/api/health", h.healthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	stripeGroup := router.Group("/api/stripe")
	{
		stripeGroup.GET("/products", h.listProducts)
		stripeGroup.POST("/create-session", h.createSession)
		stripeGroup.POST("/webhook", h.stripeWebhook)
	}

	paypalGroup := router.Group("/api/paypal")
	{
		paypalGroup.POST("/create-order", h.createPayPalOrder)
		paypalGroup.POST("/capture-order/:orderId", h.capturePayPalOrder)
	}

	carts := router.Group("/api/carts")
	{
		carts.GET("", h.listCarts)
		carts.GET("/stats", h.cartStats)
		carts.GET("/:cartId", h.getCart)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"services": gin.H{
			"stripe": "active",
			"paypal": h.paypalEnv,
		},
	})
}

// listProducts returns the storefront catalog
func (h *Handler) listProducts(c *gin.Context) {
	products, err := h.checkout.ListProducts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"count":   len(products),
		"data":    products,
	})
}

// createSession handles Stripe checkout session creation
func (h *Handler) createSession(c *gin.Context) {
	var req service.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Items are required"})
		return
	}

	resp, err := h.checkout.CreateStripeSession(c.Request.Context(), &req, c.ClientIP())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// createPayPalOrder handles PayPal order creation
func (h *Handler) createPayPalOrder(c *gin.Context) {
	var req service.CreatePayPalOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Items array is required"})
		return
	}

	order, err := h.checkout.CreatePayPalOrder(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, service.ErrMixedCurrencies) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Mixed currencies not allowed"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to create PayPal order",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, order.Payload)
}

// capturePayPalOrder handles PayPal order capture
func (h *Handler) capturePayPalOrder(c *gin.Context) {
	orderID := c.Param("orderId")

	capture, err := h.checkout.CapturePayPalOrder(c.Request.Context(), orderID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to capture PayPal order",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    capture.Payload,
	})
}

// stripeWebhook verifies and processes Stripe webhook deliveries. The raw
// body is read before any JSON binding so the signature check sees the
// exact payload bytes.
func (h *Handler) stripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.String(http.StatusBadRequest, "Webhook Error: %s", err.Error())
		return
	}

	event, err := h.webhooks.ConstructWebhookEvent(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		c.String(http.StatusBadRequest, "Webhook Error: %s", err.Error())
		return
	}

	var object map[string]interface{}
	if event.Data != nil && len(event.Data.Raw) > 0 {
		if err := json.Unmarshal(event.Data.Raw, &object); err != nil {
			c.String(http.StatusBadRequest, "Webhook Error: %s", err.Error())
			return
		}
	}

	if err := h.checkout.HandleStripeEvent(c.Request.Context(), event.ID, string(event.Type), object); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// cartStats renders aggregate ledger statistics
func (h *Handler) cartStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.tracker.Stats(0))
}

// getCart handles per-cart lookup
func (h *Handler) getCart(c *gin.Context) {
	entry := h.tracker.Get(c.Param("cartId"))
	if entry == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Cart not found"})
		return
	}

	c.JSON(http.StatusOK, entry)
}

// listCarts handles filtered, paginated cart listing
func (h *Handler) listCarts(c *gin.Context) {
	filter := tracker.Filter{
		State:  models.CartState(c.Query("state")),
		Source: models.CartSource(c.Query("source")),
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	page, total, hasMore := h.tracker.List(filter, tracker.Page{Limit: limit, Offset: offset})

	carts := make([]gin.H, 0, len(page))
	for i := range page {
		carts = append(carts, listedCart(&page[i]))
	}

	c.JSON(http.StatusOK, gin.H{
		"carts":   carts,
		"total":   total,
		"hasMore": hasMore,
	})
}

// listedCart shapes one entry for the listing endpoint
func listedCart(e *models.CartEntry) gin.H {
	var confirmedAt interface{}
	if e.ConfirmedAt != nil {
		confirmedAt = e.ConfirmedAt.UTC().Format(time.RFC3339)
	}

	return gin.H{
		"cartId":      e.CartID,
		"source":      e.Source,
		"status":      e.State,
		"createdAt":   e.CreatedAt.UTC().Format(time.RFC3339),
		"confirmedAt": confirmedAt,
		"confirmedBy": e.ConfirmedBy,
		"metadata": gin.H{
			"totalItems": e.Metadata["totalItems"],
			"email":      e.Metadata["email"],
		},
		"eventsCount": len(e.Events),
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
