package main

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

const (
	adminSecretHeader = "X-Admin-Secret"
	requestIDHeader   = "X-Request-ID"
)

// APIError é o corpo de erro devolvido pelo storefront
type APIError struct {
	ErrorKind string `json:"errorKind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Status    int    `json:"-"`
}

func (e *APIError) Error() string {
	if e.ErrorKind == "" {
		return fmt.Sprintf("storefront returned status %d", e.Status)
	}
	return fmt.Sprintf("%s (%d): %s", e.ErrorKind, e.Status, e.Message)
}

// Customer é o comprador enviado no checkout
type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	CPF   string `json:"cpf"`
	Phone string `json:"phone"`
}

type checkoutItem struct {
	ID string `json:"id"`
}

type checkoutRequest struct {
	Items    []checkoutItem `json:"items"`
	Customer Customer       `json:"customer"`
}

// ChargeResult é a resposta do checkout
type ChargeResult struct {
	ChargeID      string       `json:"chargeId"`
	Status        ChargeStatus `json:"status"`
	StatusDetail  string       `json:"statusDetail"`
	Message       string       `json:"message"`
	QRText        string       `json:"qrText"`
	QRImageBase64 string       `json:"qrImageBase64"`
	Total         float64      `json:"total"`
}

// Sale é a venda devolvida pelas rotas administrativas
type Sale struct {
	ChargeID          string     `json:"charge_id"`
	Date              time.Time  `json:"date"`
	Name              string     `json:"name"`
	Email             string     `json:"email"`
	Items             []string   `json:"items"`
	TotalCents        int64      `json:"total_cents"`
	Method            string     `json:"method"`
	ClickedAccessLink bool       `json:"clicked_access_link"`
	ClickDate         *time.Time `json:"click_date"`
}

// RecoveryReport é o resultado de POST /admin/recover
type RecoveryReport struct {
	Scanned         int      `json:"scanned"`
	Recovered       int      `json:"recovered"`
	AlreadyRecorded int      `json:"already_recorded"`
	Failed          int      `json:"failed"`
	RecoveredIDs    []string `json:"recovered_ids"`
}

// StorefrontClient fala com a API HTTP do storefront
type StorefrontClient struct {
	client *resty.Client
}

// NewStorefrontClient cria o cliente com a URL base e o segredo administrativo (opcional)
func NewStorefrontClient(baseURL, adminSecret string, timeout time.Duration) *StorefrontClient {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	// Cada consulta leva o seu próprio id para correlacionar com os logs do servidor
	client.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		r.SetHeader(requestIDHeader, uuid.New().String())
		return nil
	})
	if adminSecret != "" {
		client.SetHeader(adminSecretHeader, adminSecret)
	}
	return &StorefrontClient{client: client}
}

// PaymentStatus consulta GET /payment/{chargeId}
func (c *StorefrontClient) PaymentStatus(ctx context.Context, chargeID string) (*PaymentStatus, error) {
	var status PaymentStatus
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("chargeId", chargeID).
		SetResult(&status).
		SetError(&APIError{}).
		Get("/payment/{chargeId}")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	return &status, nil
}

// CheckoutPix cria uma cobrança Pix para os itens informados
func (c *StorefrontClient) CheckoutPix(ctx context.Context, itemIDs []string, customer Customer) (*ChargeResult, error) {
	req := checkoutRequest{Customer: customer}
	for _, id := range itemIDs {
		req.Items = append(req.Items, checkoutItem{ID: id})
	}

	var result ChargeResult
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		SetError(&APIError{}).
		Post("/checkout/pix")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListSales lista o ledger
func (c *StorefrontClient) ListSales(ctx context.Context) ([]Sale, error) {
	var sales []Sale
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&sales).
		SetError(&APIError{}).
		Get("/admin/sales")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	return sales, nil
}

// PurgeSales apaga o ledger
func (c *StorefrontClient) PurgeSales(ctx context.Context) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetError(&APIError{}).
		Delete("/admin/sales")
	return checkResponse(resp, err)
}

// ResendAccess reenvia o e-mail de entrega de uma venda
func (c *StorefrontClient) ResendAccess(ctx context.Context, chargeID string) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("chargeId", chargeID).
		SetError(&APIError{}).
		Post("/admin/sales/{chargeId}/resend")
	return checkResponse(resp, err)
}

// RecoverSales registra vendas aprovadas dos últimos dias que faltam no ledger
func (c *StorefrontClient) RecoverSales(ctx context.Context, days int) (*RecoveryReport, error) {
	var report RecoveryReport
	req := c.client.R().
		SetContext(ctx).
		SetResult(&report).
		SetError(&APIError{})
	if days > 0 {
		req.SetQueryParam("days", strconv.Itoa(days))
	}
	resp, err := req.Post("/admin/recover")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	return &report, nil
}

func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("storefront request failed: %w", err)
	}
	if !resp.IsError() {
		return nil
	}
	apiErr, ok := resp.Error().(*APIError)
	if !ok || apiErr == nil {
		apiErr = &APIError{}
	}
	apiErr.Status = resp.StatusCode()
	return apiErr
}

// deliveryURL monta o link da página de entrega que o checkout abre após a aprovação
func deliveryURL(base string, itemIDs []string) string {
	if len(itemIDs) == 0 {
		return base
	}
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("items", strings.Join(itemIDs, ","))
	u.RawQuery = q.Encode()
	return u.String()
}
