package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

// PaymentProcessor abstrai o processador de pagamentos externo
type PaymentProcessor interface {
	// CreateCharge submete uma nova cobrança. Cada chamada cria uma cobrança nova.
	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)

	// GetCharge busca o status autoritativo de uma cobrança
	GetCharge(ctx context.Context, chargeID string) (*Charge, error)

	// SearchApproved lista cobranças aprovadas criadas no intervalo (usado na recuperação)
	SearchApproved(ctx context.Context, since, until time.Time) ([]*Charge, error)
}

type mpIdentification struct {
	Type   string `json:"type"`
	Number string `json:"number"`
}

type mpPayer struct {
	Email          string           `json:"email"`
	FirstName      string           `json:"first_name,omitempty"`
	LastName       string           `json:"last_name,omitempty"`
	Identification mpIdentification `json:"identification"`
}

type mpPaymentRequest struct {
	TransactionAmount float64        `json:"transaction_amount"`
	Description       string         `json:"description"`
	PaymentMethodID   string         `json:"payment_method_id"`
	Token             string         `json:"token,omitempty"`
	Installments      int            `json:"installments,omitempty"`
	IssuerID          string         `json:"issuer_id,omitempty"`
	Payer             mpPayer        `json:"payer"`
	Metadata          map[string]any `json:"metadata"`
	NotificationURL   string         `json:"notification_url,omitempty"`
	ExternalReference string         `json:"external_reference"`
}

type mpTransactionData struct {
	QRCode       string `json:"qr_code"`
	QRCodeBase64 string `json:"qr_code_base64"`
}

type mpPayment struct {
	ID                 int64          `json:"id"`
	Status             string         `json:"status"`
	StatusDetail       string         `json:"status_detail"`
	TransactionAmount  float64        `json:"transaction_amount"`
	Description        string         `json:"description"`
	PaymentMethodID    string         `json:"payment_method_id"`
	DateCreated        *time.Time     `json:"date_created"`
	DateApproved       *time.Time     `json:"date_approved"`
	Payer              mpPayer        `json:"payer"`
	Metadata           map[string]any `json:"metadata"`
	PointOfInteraction struct {
		TransactionData mpTransactionData `json:"transaction_data"`
	} `json:"point_of_interaction"`
}

type mpSearchResponse struct {
	Results []mpPayment `json:"results"`
	Paging  struct {
		Total  int `json:"total"`
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
	} `json:"paging"`
}

type mpError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Status  int    `json:"status"`
}

// MercadoPagoProcessor implementa PaymentProcessor usando a API REST do Mercado Pago
type MercadoPagoProcessor struct {
	client          *resty.Client
	notificationURL string
}

// NewMercadoPagoProcessor cria o cliente HTTP do processador
func NewMercadoPagoProcessor(baseURL, accessToken, notificationURL string, timeout time.Duration) *MercadoPagoProcessor {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetAuthToken(accessToken).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &MercadoPagoProcessor{
		client:          client,
		notificationURL: notificationURL,
	}
}

// CreateCharge submete a cobrança Pix ou cartão
func (p *MercadoPagoProcessor) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	body := mpPaymentRequest{
		TransactionAmount: centsToDecimal(req.TotalCents()),
		Description:       req.Description(),
		Payer: mpPayer{
			Email:     req.Buyer.Email,
			FirstName: req.Buyer.FirstName(),
			LastName:  req.Buyer.LastName(),
			Identification: mpIdentification{
				Type:   "CPF",
				Number: req.Buyer.NationalID,
			},
		},
		Metadata: map[string]any{
			"customer_name":  req.Buyer.Name,
			"customer_email": req.Buyer.Email,
			"customer_phone": req.Buyer.Phone,
			"item_ids":       ItemIDs(req.LineItems),
			"item_titles":    ItemTitles(req.LineItems),
		},
		NotificationURL:   p.notificationURL,
		ExternalReference: strings.Join(ItemIDs(req.LineItems), ","),
	}

	switch req.Method {
	case PaymentMethodPix:
		body.PaymentMethodID = "pix"
	case PaymentMethodCard:
		body.PaymentMethodID = req.Card.PaymentMethodID
		body.Token = req.Card.Token
		body.Installments = req.Card.Installments
		body.IssuerID = req.Card.IssuerID
	}

	var payment mpPayment
	var apiErr mpError
	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("X-Idempotency-Key", uuid.New().String()).
		SetBody(body).
		SetResult(&payment).
		SetError(&apiErr).
		Post("/v1/payments")
	if err := classifyResponse(resp, err, apiErr); err != nil {
		return nil, fmt.Errorf("creating %s charge: %w", req.Method, err)
	}

	charge := payment.toCharge()
	// O processador não devolve preço por item; mantém os itens do catálogo
	charge.LineItems = req.LineItems
	charge.Buyer = req.Buyer
	return charge, nil
}

// GetCharge busca a cobrança pelo id
func (p *MercadoPagoProcessor) GetCharge(ctx context.Context, chargeID string) (*Charge, error) {
	var payment mpPayment
	var apiErr mpError
	resp, err := p.client.R().
		SetContext(ctx).
		SetPathParam("id", chargeID).
		SetResult(&payment).
		SetError(&apiErr).
		Get("/v1/payments/{id}")
	if resp != nil && resp.StatusCode() == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrChargeNotFound, chargeID)
	}
	if err := classifyResponse(resp, err, apiErr); err != nil {
		return nil, fmt.Errorf("fetching charge %s: %w", chargeID, err)
	}

	return payment.toCharge(), nil
}

// SearchApproved pagina a busca de pagamentos aprovados no intervalo
func (p *MercadoPagoProcessor) SearchApproved(ctx context.Context, since, until time.Time) ([]*Charge, error) {
	const pageSize = 50
	var charges []*Charge

	for offset := 0; ; offset += pageSize {
		var page mpSearchResponse
		var apiErr mpError
		resp, err := p.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"status":     "approved",
				"sort":       "date_created",
				"criteria":   "desc",
				"range":      "date_created",
				"begin_date": since.UTC().Format(time.RFC3339),
				"end_date":   until.UTC().Format(time.RFC3339),
				"limit":      strconv.Itoa(pageSize),
				"offset":     strconv.Itoa(offset),
			}).
			SetResult(&page).
			SetError(&apiErr).
			Get("/v1/payments/search")
		if err := classifyResponse(resp, err, apiErr); err != nil {
			return nil, fmt.Errorf("searching approved charges: %w", err)
		}

		for i := range page.Results {
			charges = append(charges, page.Results[i].toCharge())
		}
		if len(page.Results) < pageSize || offset+pageSize >= page.Paging.Total {
			return charges, nil
		}
	}
}

// classifyResponse separa falhas transitórias (rede, 5xx) de recusas do processador (4xx)
func classifyResponse(resp *resty.Response, err error, apiErr mpError) error {
	if err != nil {
		log.Printf("❌ [PROCESSOR] request failed: %v", err)
		return fmt.Errorf("%w: %v", ErrProcessorUnavailable, err)
	}
	if resp.StatusCode() >= http.StatusInternalServerError {
		return fmt.Errorf("%w: status %d", ErrProcessorUnavailable, resp.StatusCode())
	}
	if resp.IsError() {
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Error
		}
		return fmt.Errorf("%w: status %d: %s", ErrProcessorRejected, resp.StatusCode(), msg)
	}
	return nil
}

func (p mpPayment) toCharge() *Charge {
	charge := &Charge{
		ChargeID:      strconv.FormatInt(p.ID, 10),
		Status:        ParseChargeStatus(p.Status),
		StatusDetail:  p.StatusDetail,
		TotalCents:    decimalToCents(p.TransactionAmount),
		QRText:        p.PointOfInteraction.TransactionData.QRCode,
		QRImageBase64: p.PointOfInteraction.TransactionData.QRCodeBase64,
		ApprovedAt:    p.DateApproved,
		Method:        PaymentMethodCard,
	}
	if p.PaymentMethodID == "pix" {
		charge.Method = PaymentMethodPix
	}
	if p.DateCreated != nil {
		charge.CreatedAt = *p.DateCreated
	}

	charge.Buyer = BuyerInfo{
		Name:       metaString(p.Metadata, "customer_name"),
		Email:      metaString(p.Metadata, "customer_email"),
		Phone:      metaString(p.Metadata, "customer_phone"),
		NationalID: p.Payer.Identification.Number,
	}
	if charge.Buyer.Email == "" {
		charge.Buyer.Email = p.Payer.Email
	}
	if charge.Buyer.Name == "" {
		charge.Buyer.Name = strings.TrimSpace(p.Payer.FirstName + " " + p.Payer.LastName)
	}

	ids := metaStrings(p.Metadata, "item_ids")
	titles := metaStrings(p.Metadata, "item_titles")
	if len(titles) == 0 && p.Description != "" {
		titles = strings.Split(p.Description, ", ")
	}
	for i, id := range ids {
		item := LineItem{ID: id}
		if i < len(titles) {
			item.Title = titles[i]
		}
		charge.LineItems = append(charge.LineItems, item)
	}
	if len(ids) == 0 {
		for _, title := range titles {
			charge.LineItems = append(charge.LineItems, LineItem{Title: title})
		}
	}

	return charge
}

func metaString(meta map[string]any, key string) string {
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}

// metaStrings aceita tanto arrays JSON quanto strings separadas por vírgula
func metaStrings(meta map[string]any, key string) []string {
	switch v := meta[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			out = append(out, fmt.Sprint(e))
		}
		return out
	case []string:
		return v
	case string:
		if v == "" {
			return nil
		}
		return strings.Split(v, ",")
	}
	return nil
}
