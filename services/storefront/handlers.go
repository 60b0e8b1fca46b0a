package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const adminSecretHeader = "X-Admin-Secret"

// StorefrontUseCaseInterface define a interface para o use case
type StorefrontUseCaseInterface interface {
	CreateCharge(ctx context.Context, method PaymentMethod, req CheckoutRequest) (*ChargeResult, error)
	Reconcile(ctx context.Context, chargeID, trigger string) (*ReconcileResult, error)
	RedeemAccess(ctx context.Context, token string) (string, *AccessGrant, error)
	ResendAccess(ctx context.Context, chargeID string) error
	RecoverSales(ctx context.Context, days int) (*RecoveryReport, error)
	ListSales(ctx context.Context) ([]SaleRecord, error)
	PurgeSales(ctx context.Context) error
	Product(id string) (LineItem, bool)
	Products() []LineItem
}

// StorefrontHandler contém os handlers HTTP
type StorefrontHandler struct {
	useCase      StorefrontUseCaseInterface
	tracer       trace.Tracer
	recoveryDays int
}

// NewStorefrontHandler cria uma nova instância de StorefrontHandler
func NewStorefrontHandler(useCase StorefrontUseCaseInterface, tracer trace.Tracer, recoveryDays int) *StorefrontHandler {
	return &StorefrontHandler{
		useCase:      useCase,
		tracer:       tracer,
		recoveryDays: recoveryDays,
	}
}

// RegisterRoutes registra as rotas públicas e administrativas
func (h *StorefrontHandler) RegisterRoutes(r *gin.Engine, adminSecret string) {
	r.GET("/health", h.HealthCheck)
	r.GET("/products", h.ListProducts)
	r.GET("/products/:id", h.GetProduct)

	r.POST("/checkout/:method", h.Checkout)
	r.GET("/payment/:chargeId", h.PaymentStatus)
	r.POST("/webhooks/processor", h.ProcessorWebhook)
	r.GET("/access/:token", h.RedeemAccess)

	admin := r.Group("/admin", RequireAdminSecret(adminSecret))
	admin.GET("/sales", h.ListSales)
	admin.DELETE("/sales", h.PurgeSales)
	admin.POST("/sales/:chargeId/resend", h.ResendAccess)
	admin.POST("/recover", h.RecoverSales)
}

// Checkout cria a cobrança Pix ou cartão
func (h *StorefrontHandler) Checkout(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "checkout")
	defer span.End()

	method, err := ParsePaymentMethod(c.Param("method"))
	if err != nil {
		respondError(c, span, err)
		return
	}

	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"errorKind": "InvalidRequest", "message": err.Error()})
		return
	}

	span.SetAttributes(
		attribute.String("payment.method", string(method)),
		attribute.Int("items", len(req.Items)),
	)

	result, err := h.useCase.CreateCharge(ctx, method, req)
	if err != nil {
		respondError(c, span, err)
		return
	}

	span.SetAttributes(
		attribute.String("charge.id", result.ChargeID),
		attribute.String("charge.status", string(result.Status)),
	)

	// Cartão aprovado na hora passa pelo mesmo ponto único de reconciliação
	if method == PaymentMethodCard && result.Status == ChargeStatusApproved {
		if _, err := h.useCase.Reconcile(ctx, result.ChargeID, TriggerCard); err != nil {
			span.RecordError(err)
			log.Printf("⚠️ [CHECKOUT] Card approved but reconcile failed | ChargeID=%s | Error=%v", result.ChargeID, err)
		}
	}

	c.JSON(http.StatusOK, result)
}

// PaymentStatus é o endpoint consultado pelo polling do comprador
func (h *StorefrontHandler) PaymentStatus(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "payment_status")
	defer span.End()

	chargeID := c.Param("chargeId")
	span.SetAttributes(attribute.String("charge.id", chargeID))

	result, err := h.useCase.Reconcile(ctx, chargeID, TriggerPoll)
	if err != nil {
		respondError(c, span, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

type webhookBody struct {
	Type   string `json:"type"`
	Topic  string `json:"topic"`
	Action string `json:"action"`
	Data   struct {
		ID json.Number `json:"id"`
	} `json:"data"`
}

// ProcessorWebhook recebe a notificação do processador.
// Sempre responde 200: falhas internas ficam no log e o polling cobre a entrega.
func (h *StorefrontHandler) ProcessorWebhook(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "processor_webhook")
	defer span.End()

	var body webhookBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			log.Printf("ℹ️ [WEBHOOK] Ignoring unreadable body: %v", err)
		}
	}

	topic := firstNonEmpty(c.Query("type"), c.Query("topic"), body.Type, body.Topic)
	chargeID := firstNonEmpty(c.Query("data.id"), c.Query("id"), body.Data.ID.String())

	span.SetAttributes(
		attribute.String("webhook.topic", topic),
		attribute.String("charge.id", chargeID),
	)

	if topic != "payment" || chargeID == "" {
		log.Printf("ℹ️ [WEBHOOK] Ignored event topic=%q id=%q", topic, chargeID)
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	result, err := h.useCase.Reconcile(ctx, chargeID, TriggerWebhook)
	if err != nil {
		span.RecordError(err)
		log.Printf("❌ [WEBHOOK] Reconcile failed | ChargeID=%s | Error=%v", chargeID, err)
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"received":         true,
		"status":           result.Status,
		"firstTimeSettled": result.FirstTimeSettled,
	})
}

// RedeemAccess troca o token pelo redirecionamento para a página de entrega
func (h *StorefrontHandler) RedeemAccess(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "redeem_access")
	defer span.End()

	redirectURL, grant, err := h.useCase.RedeemAccess(ctx, c.Param("token"))
	if err != nil {
		span.SetAttributes(attribute.String("access.result", err.Error()))
		log.Printf("ℹ️ [ACCESS] Token rejected (%v), redirecting to generic delivery page", err)
	} else {
		span.SetAttributes(attribute.String("charge.id", grant.ChargeID))
	}

	c.Redirect(http.StatusFound, redirectURL)
}

// ListProducts lista o catálogo com os preços do servidor
func (h *StorefrontHandler) ListProducts(c *gin.Context) {
	items := h.useCase.Products()
	products := make([]gin.H, 0, len(items))
	for _, item := range items {
		products = append(products, productJSON(item))
	}
	c.JSON(http.StatusOK, products)
}

// GetProduct devolve um produto do catálogo
func (h *StorefrontHandler) GetProduct(c *gin.Context) {
	item, ok := h.useCase.Product(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"errorKind": "UnknownItem", "message": "product not found"})
		return
	}

	c.JSON(http.StatusOK, productJSON(item))
}

func productJSON(item LineItem) gin.H {
	return gin.H{
		"id":    item.ID,
		"title": item.Title,
		"price": item.Price(),
	}
}

// ListSales lista o ledger
func (h *StorefrontHandler) ListSales(c *gin.Context) {
	sales, err := h.useCase.ListSales(c.Request.Context())
	if err != nil {
		respondError(c, nil, err)
		return
	}
	c.JSON(http.StatusOK, sales)
}

// PurgeSales apaga o ledger
func (h *StorefrontHandler) PurgeSales(c *gin.Context) {
	if err := h.useCase.PurgeSales(c.Request.Context()); err != nil {
		respondError(c, nil, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purged": true})
}

// ResendAccess reenvia o e-mail de entrega com um token novo
func (h *StorefrontHandler) ResendAccess(c *gin.Context) {
	chargeID := c.Param("chargeId")
	if err := h.useCase.ResendAccess(c.Request.Context(), chargeID); err != nil {
		respondError(c, nil, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"resent": chargeID})
}

// RecoverSales registra no ledger vendas aprovadas que ficaram de fora
func (h *StorefrontHandler) RecoverSales(c *gin.Context) {
	days := h.recoveryDays
	if raw := c.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"errorKind": "InvalidRequest", "message": "days must be a positive integer"})
			return
		}
		days = parsed
	}

	report, err := h.useCase.RecoverSales(c.Request.Context(), days)
	if err != nil {
		respondError(c, nil, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// HealthCheck verifica a saúde do serviço
func (h *StorefrontHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "storefront-service",
	})
}

// RequireAdminSecret bloqueia a rota sem o segredo compartilhado.
// Sem segredo configurado as rotas administrativas ficam desligadas.
func RequireAdminSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"errorKind": "AdminDisabled", "message": "admin endpoints are disabled"})
			return
		}
		provided := c.GetHeader(adminSecretHeader)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"errorKind": "Unauthorized", "message": "invalid admin secret"})
			return
		}
		c.Next()
	}
}

// errorKinds mapeia os erros de domínio para o status HTTP e o errorKind da resposta
var errorKinds = []struct {
	err    error
	kind   string
	status int
}{
	{ErrInvalidAmount, "InvalidAmount", http.StatusBadRequest},
	{ErrInvalidIdentity, "InvalidIdentity", http.StatusBadRequest},
	{ErrInvalidEmail, "InvalidEmail", http.StatusBadRequest},
	{ErrInvalidPaymentData, "InvalidPaymentData", http.StatusBadRequest},
	{ErrUnknownItem, "UnknownItem", http.StatusBadRequest},
	{ErrProcessorUnavailable, "ProcessorUnavailable", http.StatusServiceUnavailable},
	{ErrProcessorRejected, "ProcessorRejected", http.StatusUnprocessableEntity},
	{ErrChargeNotFound, "ChargeNotFound", http.StatusNotFound},
	{ErrSaleNotFound, "SaleNotFound", http.StatusNotFound},
}

func respondError(c *gin.Context, span trace.Span, err error) {
	if span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			body := gin.H{"errorKind": k.kind, "message": err.Error()}
			if k.status == http.StatusServiceUnavailable {
				body["retryable"] = true
			}
			c.JSON(k.status, body)
			return
		}
	}

	log.Printf("❌ [HTTP] %s %s failed: %v", c.Request.Method, c.FullPath(), err)
	c.JSON(http.StatusInternalServerError, gin.H{"errorKind": "InternalError", "message": "internal error"})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
