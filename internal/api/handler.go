package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"invoice-service/internal/paypal"
	"invoice-service/internal/service"
	"invoice-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	invoiceService *service.InvoiceService
	cartService    *service.CartService
	captureService *service.CaptureService
	webhooks       *service.WebhookReconciler
	customers      CustomerLookup
	db             Pinger
	jwtSecret      []byte
}

// NewHandler creates a new HTTP handler
func NewHandler(
	invoiceService *service.InvoiceService,
	cartService *service.CartService,
	captureService *service.CaptureService,
	webhooks *service.WebhookReconciler,
	customers CustomerLookup,
	db Pinger,
	jwtSecret string,
) *Handler {
	return &Handler{
		invoiceService: invoiceService,
		cartService:    cartService,
		captureService: captureService,
		webhooks:       webhooks,
		customers:      customers,
		db:             db,
		jwtSecret:      []byte(jwtSecret),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/webhooks/paypal", h.paypalWebhook)

	v1 := router.Group("/api/v1")
	v1.Use(authMiddleware(h.jwtSecret, h.customers))
	{
		v1.POST("/invoices", h.createInvoice)
		v1.GET("/invoices/:id", h.getInvoice)
		v1.PATCH("/invoices/:id", h.updateInvoice)
		v1.GET("/invoices/:id/history", h.invoiceHistory)
		v1.POST("/invoices/:id/paypal/order", h.createPaypalOrder)
		v1.POST("/invoices/:id/paypal/capture", h.capturePaypalOrder)

		v1.GET("/cart", h.getCart)
		v1.POST("/cart/items", h.addCartItem)
		v1.PATCH("/cart/items/:itemId", h.updateCartItem)
		v1.DELETE("/cart/items/:itemId", h.removeCartItem)
		v1.DELETE("/cart", h.clearCart)
		v1.POST("/cart/checkout", h.checkout)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready once the database answers
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return 0, false
	}
	return id, true
}

func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return false
	}
	return true
}

// createInvoice handles invoice settlement
func (h *Handler) createInvoice(c *gin.Context) {
	var req service.CreateInvoiceRequest
	if !bindJSON(c, &req) {
		return
	}

	detail, err := h.invoiceService.Create(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, detail)
}

// getInvoice handles get invoice by ID
func (h *Handler) getInvoice(c *gin.Context) {
	invoiceID, ok := pathID(c, "id")
	if !ok {
		return
	}

	detail, err := h.invoiceService.Get(c.Request.Context(), actorFrom(c), invoiceID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, detail)
}

func (h *Handler) updateInvoice(c *gin.Context) {
	invoiceID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req service.UpdateInvoiceRequest
	if !bindJSON(c, &req) {
		return
	}

	detail, err := h.invoiceService.Update(c.Request.Context(), actorFrom(c), invoiceID, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, detail)
}

func (h *Handler) invoiceHistory(c *gin.Context) {
	invoiceID, ok := pathID(c, "id")
	if !ok {
		return
	}

	events, err := h.invoiceService.History(c.Request.Context(), actorFrom(c), invoiceID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *Handler) createPaypalOrder(c *gin.Context) {
	invoiceID, ok := pathID(c, "id")
	if !ok {
		return
	}

	resp, err := h.captureService.CreateOrder(c.Request.Context(), actorFrom(c), invoiceID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Data(http.StatusOK, "application/json", resp.Raw)
}

type captureRequest struct {
	OrderID string `json:"order_id"`
}

func (h *Handler) capturePaypalOrder(c *gin.Context) {
	invoiceID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req captureRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}

	resp, err := h.captureService.Capture(c.Request.Context(), actorFrom(c), invoiceID, req.OrderID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Data(http.StatusOK, "application/json", resp.Raw)
}

// paypalWebhook acknowledges every delivery it could authenticate
func (h *Handler) paypalWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	headers := paypal.WebhookHeaders{
		AuthAlgo:         c.GetHeader("PAYPAL-AUTH-ALGO"),
		CertURL:          c.GetHeader("PAYPAL-CERT-URL"),
		TransmissionID:   c.GetHeader("PAYPAL-TRANSMISSION-ID"),
		TransmissionSig:  c.GetHeader("PAYPAL-TRANSMISSION-SIG"),
		TransmissionTime: c.GetHeader("PAYPAL-TRANSMISSION-TIME"),
	}

	outcome, err := h.webhooks.Handle(c.Request.Context(), headers, body)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"outcome": outcome,
	})
}

func (h *Handler) getCart(c *gin.Context) {
	view, err := h.cartService.Get(c.Request.Context(), actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

func (h *Handler) addCartItem(c *gin.Context) {
	var req service.AddCartItemRequest
	if !bindJSON(c, &req) {
		return
	}

	item, err := h.cartService.AddItem(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, item)
}

type updateCartItemRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

func (h *Handler) updateCartItem(c *gin.Context) {
	itemID, ok := pathID(c, "itemId")
	if !ok {
		return
	}
	var req updateCartItemRequest
	if !bindJSON(c, &req) {
		return
	}

	item, err := h.cartService.UpdateItem(c.Request.Context(), actorFrom(c), itemID, *req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, item)
}

func (h *Handler) removeCartItem(c *gin.Context) {
	itemID, ok := pathID(c, "itemId")
	if !ok {
		return
	}

	if err := h.cartService.RemoveItem(c.Request.Context(), actorFrom(c), itemID); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) clearCart(c *gin.Context) {
	if err := h.cartService.Clear(c.Request.Context(), actorFrom(c)); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) checkout(c *gin.Context) {
	var req service.CheckoutRequest
	if !bindJSON(c, &req) {
		return
	}

	detail, err := h.cartService.Checkout(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, detail)
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
