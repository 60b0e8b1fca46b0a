package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidIdentity      = errors.New("invalid national id")
	ErrInvalidEmail         = errors.New("invalid email")
	ErrInvalidPaymentData   = errors.New("invalid payment data")
	ErrUnknownItem          = errors.New("unknown item")
	ErrProcessorUnavailable = errors.New("payment processor unavailable")
	ErrProcessorRejected    = errors.New("payment processor rejected the request")
	ErrChargeNotFound       = errors.New("charge not found")
	ErrSaleNotFound         = errors.New("sale not found")
	ErrTamperedToken        = errors.New("tampered token")
	ErrExpired              = errors.New("token expired")

	// ErrDuplicateSuppressed é o sinal interno de que outro reconciliador já
	// registrou a venda. Nunca chega ao comprador.
	ErrDuplicateSuppressed = errors.New("duplicate suppressed")
)

// PaymentMethod representa os meios de pagamento aceitos no checkout
type PaymentMethod string

const (
	PaymentMethodPix  PaymentMethod = "pix"
	PaymentMethodCard PaymentMethod = "card"
)

// ParsePaymentMethod converte o segmento da rota em PaymentMethod
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch PaymentMethod(strings.ToLower(s)) {
	case PaymentMethodPix:
		return PaymentMethodPix, nil
	case PaymentMethodCard:
		return PaymentMethodCard, nil
	}
	return "", fmt.Errorf("%w: unsupported method %q", ErrInvalidPaymentData, s)
}

// BuyerInfo representa os dados do comprador informados no checkout
type BuyerInfo struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	NationalID string `json:"cpf"`
	Phone      string `json:"phone"`
	PostalCode string `json:"postal_code,omitempty"`
}

// FirstName e LastName seguem o formato exigido pelo processador
func (b BuyerInfo) FirstName() string {
	parts := strings.Fields(b.Name)
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

func (b BuyerInfo) LastName() string {
	parts := strings.Fields(b.Name)
	if len(parts) < 2 {
		return "N/A"
	}
	return strings.Join(parts[1:], " ")
}

// LineItem representa um produto digital do pedido (quantidade sempre 1)
type LineItem struct {
	ID         string `json:"id" mapstructure:"id"`
	Title      string `json:"title" mapstructure:"title"`
	PriceCents int64  `json:"price_cents" mapstructure:"price_cents"`
}

// Price retorna o preço unitário em reais
func (li LineItem) Price() float64 {
	return centsToDecimal(li.PriceCents)
}

// TotalCents soma os preços unitários dos itens
func TotalCents(items []LineItem) int64 {
	var total int64
	for _, item := range items {
		total += item.PriceCents
	}
	return total
}

// ItemIDs retorna os ids dos itens na ordem recebida
func ItemIDs(items []LineItem) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}

// ItemTitles retorna os títulos dos itens na ordem recebida
func ItemTitles(items []LineItem) []string {
	titles := make([]string, 0, len(items))
	for _, item := range items {
		titles = append(titles, item.Title)
	}
	return titles
}

// CardPayload carrega o token do cartão gerado pela biblioteca client-side do processador
type CardPayload struct {
	Token           string `json:"token"`
	Installments    int    `json:"installments"`
	PaymentMethodID string `json:"payment_method_id"`
	IssuerID        string `json:"issuer_id,omitempty"`
}

// ChargeRequest é montado a cada tentativa de checkout e nunca é persistido
type ChargeRequest struct {
	Buyer     BuyerInfo
	LineItems []LineItem
	Method    PaymentMethod
	Card      *CardPayload
}

// TotalCents retorna o valor total da cobrança
func (r ChargeRequest) TotalCents() int64 {
	return TotalCents(r.LineItems)
}

// Description é o texto enviado ao processador ("título A, título B")
func (r ChargeRequest) Description() string {
	return strings.Join(ItemTitles(r.LineItems), ", ")
}

// Charge representa uma cobrança no processador. O status só muda do lado do processador.
type Charge struct {
	ChargeID      string        `json:"charge_id"`
	Status        ChargeStatus  `json:"status"`
	StatusDetail  string        `json:"status_detail,omitempty"`
	TotalCents    int64         `json:"total_cents"`
	LineItems     []LineItem    `json:"line_items"`
	Buyer         BuyerInfo     `json:"buyer"`
	Method        PaymentMethod `json:"method"`
	QRText        string        `json:"qr_text,omitempty"`
	QRImageBase64 string        `json:"qr_image_base64,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	ApprovedAt    *time.Time    `json:"approved_at,omitempty"`
}

// ChargeResult é o retorno do Charge Requester para o checkout
type ChargeResult struct {
	ChargeID      string       `json:"chargeId"`
	Status        ChargeStatus `json:"status"`
	StatusDetail  string       `json:"statusDetail,omitempty"`
	Message       string       `json:"message,omitempty"`
	QRText        string       `json:"qrText,omitempty"`
	QRImageBase64 string       `json:"qrImageBase64,omitempty"`
	Total         float64      `json:"total"`
}

// SaleRecord representa uma venda concluída no ledger. ChargeID é a chave única.
type SaleRecord struct {
	ChargeID          string        `json:"charge_id"`
	Date              time.Time     `json:"date"`
	Name              string        `json:"name"`
	Email             string        `json:"email"`
	Phone             string        `json:"phone"`
	NationalID        string        `json:"cpf,omitempty"`
	ItemIDs           []string      `json:"item_ids"`
	Items             []string      `json:"items"`
	TotalCents        int64         `json:"total_cents"`
	Method            PaymentMethod `json:"method"`
	ClickedAccessLink bool          `json:"clicked_access_link"`
	ClickDate         *time.Time    `json:"click_date,omitempty"`
}

// NewSaleRecord cria o registro de venda a partir da cobrança aprovada
func NewSaleRecord(charge *Charge) *SaleRecord {
	date := time.Now().UTC()
	if charge.ApprovedAt != nil {
		date = charge.ApprovedAt.UTC()
	}

	return &SaleRecord{
		ChargeID:   charge.ChargeID,
		Date:       date,
		Name:       charge.Buyer.Name,
		Email:      charge.Buyer.Email,
		Phone:      charge.Buyer.Phone,
		NationalID: charge.Buyer.NationalID,
		ItemIDs:    ItemIDs(charge.LineItems),
		Items:      ItemTitles(charge.LineItems),
		TotalCents: charge.TotalCents,
		Method:     charge.Method,
	}
}

// Total retorna o valor total da venda em reais
func (s *SaleRecord) Total() float64 {
	return centsToDecimal(s.TotalCents)
}

// Buyer reconstrói o comprador a partir do snapshot salvo
func (s *SaleRecord) Buyer() BuyerInfo {
	return BuyerInfo{Name: s.Name, Email: s.Email, NationalID: s.NationalID, Phone: s.Phone}
}

// LineItems reconstrói os itens (sem preço unitário) a partir do snapshot salvo
func (s *SaleRecord) LineItems() []LineItem {
	items := make([]LineItem, 0, len(s.ItemIDs))
	for i, id := range s.ItemIDs {
		item := LineItem{ID: id}
		if i < len(s.Items) {
			item.Title = s.Items[i]
		}
		items = append(items, item)
	}
	return items
}

// Delivery é o contrato de disparo do e-mail de entrega
type Delivery struct {
	ChargeID  string     `json:"charge_id"`
	Buyer     BuyerInfo  `json:"buyer"`
	Items     []LineItem `json:"items"`
	Token     string     `json:"token"`
	AccessURL string     `json:"access_url"`
	Resend    bool       `json:"resend"`
}

// sortedCopy devolve uma cópia ordenada sem alterar a entrada
func sortedCopy(values []string) []string {
	out := append([]string(nil), values...)
	sort.Strings(out)
	return out
}

func centsToDecimal(cents int64) float64 {
	return float64(cents) / 100
}

func decimalToCents(value float64) int64 {
	if value < 0 {
		return -int64(-value*100 + 0.5)
	}
	return int64(value*100 + 0.5)
}
