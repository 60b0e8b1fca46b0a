package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Reconcile triggers
const (
	TriggerWebhook = "webhook"
	TriggerPoll    = "poll"
	TriggerCard    = "card_sync"
)

// CheckoutItem é o item enviado pelo checkout. O preço do cliente é ignorado.
type CheckoutItem struct {
	ID    string  `json:"id"`
	Title string  `json:"title,omitempty"`
	Price float64 `json:"price,omitempty"`
}

// CheckoutRequest representa a requisição de checkout (Pix ou cartão)
type CheckoutRequest struct {
	Items           []CheckoutItem `json:"items"`
	Customer        BuyerInfo      `json:"customer"`
	Token           string         `json:"token,omitempty"`
	Installments    int            `json:"installments,omitempty"`
	PaymentMethodID string         `json:"payment_method_id,omitempty"`
	IssuerID        string         `json:"issuer_id,omitempty"`
}

// ReconcileResult é o resultado de uma reconciliação
type ReconcileResult struct {
	ChargeID         string       `json:"chargeId"`
	Status           ChargeStatus `json:"status"`
	StatusDetail     string       `json:"statusDetail"`
	Message          string       `json:"message"`
	ItemIDs          []string     `json:"itemIds,omitempty"`
	FirstTimeSettled bool         `json:"firstTimeSettled"`
	Notified         bool         `json:"notified"`
}

// RecoveryReport resume uma recuperação de vendas a partir do processador
type RecoveryReport struct {
	Scanned         int      `json:"scanned"`
	Recovered       int      `json:"recovered"`
	AlreadyRecorded int      `json:"already_recorded"`
	Failed          int      `json:"failed"`
	RecoveredIDs    []string `json:"recovered_ids"`
}

// StorefrontUseCase contém a lógica de checkout, reconciliação e entrega
type StorefrontUseCase struct {
	catalog   *Catalog
	processor PaymentProcessor
	ledger    *SaleLedger
	tokens    *TokenIssuer
	notifier  DeliveryNotifier
	metrics   *storefrontMetrics

	publicBaseURL   string
	deliveryPageURL string
	notifyTimeout   time.Duration
	now             func() time.Time
}

// NewStorefrontUseCase cria uma nova instância de StorefrontUseCase
func NewStorefrontUseCase(
	catalog *Catalog,
	processor PaymentProcessor,
	ledger *SaleLedger,
	tokens *TokenIssuer,
	notifier DeliveryNotifier,
	publicBaseURL string,
	deliveryPageURL string,
) *StorefrontUseCase {
	return &StorefrontUseCase{
		catalog:         catalog,
		processor:       processor,
		ledger:          ledger,
		tokens:          tokens,
		notifier:        notifier,
		metrics:         newStorefrontMetrics(),
		publicBaseURL:   strings.TrimRight(publicBaseURL, "/"),
		deliveryPageURL: deliveryPageURL,
		notifyTimeout:   10 * time.Second,
		now:             time.Now,
	}
}

// CreateCharge valida o checkout e submete a cobrança. Não grava no ledger.
func (uc *StorefrontUseCase) CreateCharge(ctx context.Context, method PaymentMethod, req CheckoutRequest) (*ChargeResult, error) {
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: no items", ErrInvalidAmount)
	}

	ids := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		ids = append(ids, item.ID)
	}
	items, err := uc.catalog.Resolve(ids)
	if err != nil {
		return nil, err
	}
	if TotalCents(items) <= 0 {
		return nil, fmt.Errorf("%w: total must be greater than zero", ErrInvalidAmount)
	}

	buyer, err := ValidateBuyer(req.Customer)
	if err != nil {
		return nil, err
	}

	chargeReq := ChargeRequest{
		Buyer:     buyer,
		LineItems: items,
		Method:    method,
	}

	if method == PaymentMethodCard {
		card := &CardPayload{
			Token:           strings.TrimSpace(req.Token),
			Installments:    req.Installments,
			PaymentMethodID: req.PaymentMethodID,
			IssuerID:        req.IssuerID,
		}
		if card.Token == "" || card.PaymentMethodID == "" {
			return nil, fmt.Errorf("%w: card token and payment_method_id are required", ErrInvalidPaymentData)
		}
		if card.Installments <= 0 {
			card.Installments = 1
		}
		chargeReq.Card = card
	}

	log.Printf("➡️ [CREATE CHARGE] Method: %s | Email: %s | Items: %s | Total: %d",
		method, buyer.Email, strings.Join(ids, ","), chargeReq.TotalCents())

	charge, err := uc.processor.CreateCharge(ctx, chargeReq)
	if err != nil {
		log.Printf("❌ Failed to create charge: %v", err)
		return nil, err
	}

	uc.metrics.chargeCreated(ctx, method, charge.Status)
	log.Printf("✅ Charge created: %s (status=%s)", charge.ChargeID, charge.Status)

	return &ChargeResult{
		ChargeID:      charge.ChargeID,
		Status:        charge.Status,
		StatusDetail:  charge.StatusDetail,
		Message:       StatusMessage(charge.Status, charge.StatusDetail),
		QRText:        charge.QRText,
		QRImageBase64: charge.QRImageBase64,
		Total:         centsToDecimal(chargeReq.TotalCents()),
	}, nil
}

// Reconcile é o único ponto por onde webhook e polling confirmam uma venda.
// O status sempre vem do processador; o ledger garante uma única entrega por cobrança.
func (uc *StorefrontUseCase) Reconcile(ctx context.Context, chargeID, trigger string) (*ReconcileResult, error) {
	chargeID = strings.TrimSpace(chargeID)
	if chargeID == "" {
		return nil, fmt.Errorf("%w: empty charge id", ErrChargeNotFound)
	}

	// Depois que a requisição chega, a reconciliação roda até o fim
	ctx = context.WithoutCancel(ctx)
	ctx, span := startReconcileSpan(ctx, chargeID, trigger)
	defer span.End()

	charge, err := uc.processor.GetCharge(ctx, chargeID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetching charge status failed")
		uc.metrics.reconciled(ctx, trigger, outcomeError)
		log.Printf("❌ [RECONCILE] ChargeID=%s | Trigger=%s | Error=%v", chargeID, trigger, err)
		return nil, err
	}

	result := &ReconcileResult{
		ChargeID:     chargeID,
		Status:       charge.Status,
		StatusDetail: charge.StatusDetail,
		Message:      StatusMessage(charge.Status, charge.StatusDetail),
	}
	span.SetAttributes(
		attribute.String("charge.status", string(charge.Status)),
		attribute.Bool("charge.terminal", charge.Status.IsTerminal()),
	)

	if charge.Status != ChargeStatusApproved {
		uc.metrics.reconciled(ctx, trigger, outcomeNotSettled)
		if charge.Status.IsTerminal() {
			log.Printf("🚫 [RECONCILE] Charge closed without approval | ChargeID=%s | Status=%s | Detail=%s", chargeID, charge.Status, charge.StatusDetail)
		}
		return result, nil
	}

	charge.ChargeID = chargeID
	result.ItemIDs = ItemIDs(charge.LineItems)
	sale := NewSaleRecord(charge)
	inserted, err := uc.ledger.RecordSaleIfAbsent(ctx, sale)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "recording sale failed")
		uc.metrics.reconciled(ctx, trigger, outcomeError)
		log.Printf("❌ [RECONCILE] Failed to record sale | ChargeID=%s | Error=%v", chargeID, err)
		return nil, err
	}

	if !inserted {
		uc.metrics.reconciled(ctx, trigger, outcomeDuplicate)
		log.Printf("ℹ️  [RECONCILE] %v | ChargeID=%s | Trigger=%s", ErrDuplicateSuppressed, chargeID, trigger)
		return result, nil
	}

	result.FirstTimeSettled = true
	uc.metrics.reconciled(ctx, trigger, outcomeSettled)
	log.Printf("✅ [RECONCILE] Sale recorded | ChargeID=%s | Trigger=%s | Total=%d", chargeID, trigger, sale.TotalCents)

	// Falha na entrega não desfaz a venda; o reenvio manual cobre esse caso
	if err := uc.deliver(ctx, sale, false); err != nil {
		span.AddEvent("delivery failed")
		uc.metrics.deliveryFailed(ctx)
		log.Printf("❌ [DELIVERY] ChargeID=%s | Error=%v (use resend to recover)", chargeID, err)
		return result, nil
	}

	result.Notified = true
	return result, nil
}

// ResendAccess emite um token novo para uma venda registrada e reenvia a entrega
func (uc *StorefrontUseCase) ResendAccess(ctx context.Context, chargeID string) error {
	sale, err := uc.ledger.Get(ctx, chargeID)
	if err != nil {
		if errors.Is(err, ErrSaleNotFound) {
			return fmt.Errorf("%w: %s", ErrSaleNotFound, chargeID)
		}
		return err
	}

	log.Printf("🔁 [RESEND] ChargeID=%s | To=%s", chargeID, sale.Email)
	if err := uc.deliver(ctx, sale, true); err != nil {
		uc.metrics.deliveryFailed(ctx)
		return fmt.Errorf("resending access for %s: %w", chargeID, err)
	}
	return nil
}

// RedeemAccess valida o token e devolve a URL de redirecionamento.
// Token inválido ou expirado leva à página de entrega genérica, junto com o erro.
func (uc *StorefrontUseCase) RedeemAccess(ctx context.Context, token string) (string, *AccessGrant, error) {
	grant, err := uc.tokens.Redeem(token)
	if err != nil {
		result := "tampered"
		if errors.Is(err, ErrExpired) {
			result = "expired"
		}
		uc.metrics.tokenRedeemed(ctx, result)
		return uc.deliveryPageURL, nil, err
	}
	uc.metrics.tokenRedeemed(ctx, "valid")

	if err := uc.ledger.MarkClicked(ctx, grant.ChargeID, uc.now()); err != nil {
		log.Printf("⚠️ [ACCESS] Failed to record click | ChargeID=%s | Error=%v", grant.ChargeID, err)
	}

	return uc.deliveryURL(grant.ItemIDs), grant, nil
}

// RecoverSales busca cobranças aprovadas nos últimos dias e registra as que faltam no ledger.
// Não dispara e-mail: vendas recuperadas usam o reenvio manual se preciso.
func (uc *StorefrontUseCase) RecoverSales(ctx context.Context, days int) (*RecoveryReport, error) {
	if days <= 0 {
		days = 30
	}
	until := uc.now()
	since := until.AddDate(0, 0, -days)

	charges, err := uc.processor.SearchApproved(ctx, since, until)
	if err != nil {
		return nil, err
	}

	report := &RecoveryReport{Scanned: len(charges), RecoveredIDs: []string{}}
	for _, charge := range charges {
		if charge.Status != ChargeStatusApproved {
			continue
		}
		inserted, err := uc.ledger.RecordSaleIfAbsent(ctx, NewSaleRecord(charge))
		switch {
		case err != nil:
			report.Failed++
			log.Printf("❌ [RECOVER] ChargeID=%s | Error=%v", charge.ChargeID, err)
		case inserted:
			report.Recovered++
			report.RecoveredIDs = append(report.RecoveredIDs, charge.ChargeID)
			log.Printf("➡️ [RECOVER] Recovered sale ChargeID=%s | Email=%s", charge.ChargeID, charge.Buyer.Email)
		default:
			report.AlreadyRecorded++
		}
	}

	log.Printf("✅ [RECOVER] scanned=%d recovered=%d already=%d failed=%d",
		report.Scanned, report.Recovered, report.AlreadyRecorded, report.Failed)
	return report, nil
}

// ListSales lista o ledger (administrativo)
func (uc *StorefrontUseCase) ListSales(ctx context.Context) ([]SaleRecord, error) {
	return uc.ledger.ListAll(ctx)
}

// PurgeSales apaga o ledger (administrativo)
func (uc *StorefrontUseCase) PurgeSales(ctx context.Context) error {
	log.Printf("🗑️ [ADMIN] Purging sales ledger")
	return uc.ledger.Purge(ctx)
}

// Products lista o catálogo ordenado por id
func (uc *StorefrontUseCase) Products() []LineItem {
	return uc.catalog.All()
}

// Product busca um produto no catálogo
func (uc *StorefrontUseCase) Product(id string) (LineItem, bool) {
	return uc.catalog.Get(id)
}

func (uc *StorefrontUseCase) deliver(ctx context.Context, sale *SaleRecord, resend bool) error {
	token, err := uc.tokens.Mint(sale.Email, sale.ItemIDs, sale.ChargeID)
	if err != nil {
		return fmt.Errorf("minting access token: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, uc.notifyTimeout)
	defer cancel()

	return uc.notifier.Notify(ctx, Delivery{
		ChargeID:  sale.ChargeID,
		Buyer:     sale.Buyer(),
		Items:     sale.LineItems(),
		Token:     token,
		AccessURL: uc.publicBaseURL + "/access/" + token,
		Resend:    resend,
	})
}

func (uc *StorefrontUseCase) deliveryURL(itemIDs []string) string {
	if len(itemIDs) == 0 {
		return uc.deliveryPageURL
	}
	u, err := url.Parse(uc.deliveryPageURL)
	if err != nil {
		return uc.deliveryPageURL
	}
	q := u.Query()
	q.Set("items", strings.Join(itemIDs, ","))
	u.RawQuery = q.Encode()
	return u.String()
}
