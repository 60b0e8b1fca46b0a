package main

import "strings"

// ChargeStatus é o status normalizado de uma cobrança
type ChargeStatus string

const (
	ChargeStatusCreated  ChargeStatus = "created"
	ChargeStatusPending  ChargeStatus = "pending"
	ChargeStatusInReview ChargeStatus = "in_review"
	ChargeStatusApproved ChargeStatus = "approved"
	ChargeStatusRejected ChargeStatus = "rejected"
)

// processorStatuses mapeia os status brutos do processador para o enum fechado.
// Status desconhecidos caem em pending: nunca terminal, sempre reconsultado.
var processorStatuses = map[string]ChargeStatus{
	"created":      ChargeStatusCreated,
	"pending":      ChargeStatusPending,
	"authorized":   ChargeStatusPending,
	"in_process":   ChargeStatusInReview,
	"in_mediation": ChargeStatusInReview,
	"approved":     ChargeStatusApproved,
	"rejected":     ChargeStatusRejected,
	"cancelled":    ChargeStatusRejected,
	"refunded":     ChargeStatusRejected,
	"charged_back": ChargeStatusRejected,
}

// ParseChargeStatus normaliza o status informado pelo processador
func ParseChargeStatus(raw string) ChargeStatus {
	if status, ok := processorStatuses[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return status
	}
	return ChargeStatusPending
}

// IsTerminal indica se o status não muda mais
func (s ChargeStatus) IsTerminal() bool {
	return s == ChargeStatusApproved || s == ChargeStatusRejected
}

func (s ChargeStatus) String() string {
	return string(s)
}

var statusDetailMessages = map[string]string{
	"accredited":                           "Pagamento aprovado.",
	"pending_waiting_transfer":             "Aguardando o pagamento do Pix.",
	"pending_waiting_payment":              "Aguardando o pagamento.",
	"pending_review_manual":                "Pagamento em análise. Você receberá confirmação por e-mail.",
	"pending_contingency":                  "Processando pagamento. Aguarde a confirmação.",
	"cc_rejected_bad_filled_other":         "CPF inválido. Verifique os dados e tente novamente.",
	"cc_rejected_bad_filled_card_number":   "Número do cartão inválido.",
	"cc_rejected_bad_filled_date":          "Data de validade incorreta.",
	"cc_rejected_bad_filled_security_code": "Código de segurança incorreto.",
	"cc_rejected_insufficient_amount":      "Saldo insuficiente no cartão.",
	"cc_rejected_high_risk":                "Cartão recusado por segurança. Tente outro cartão.",
	"cc_rejected_other_reason":             "Cartão recusado pelo banco.",
	"cc_rejected_call_for_authorize":       "Entre em contato com seu banco para autorizar.",
	"cc_rejected_card_disabled":            "Cartão bloqueado. Entre em contato com seu banco.",
	"cc_rejected_duplicated_payment":       "Pagamento duplicado detectado.",
	"cc_rejected_max_attempts":             "Limite de tentativas excedido. Tente novamente mais tarde.",
	"cc_rejected_blacklist":                "Cartão não autorizado.",
	"cc_rejected_invalid_installments":     "Número de parcelas inválido.",
	"expired":                              "O código Pix expirou. Gere um novo pagamento.",
}

var statusMessages = map[ChargeStatus]string{
	ChargeStatusCreated:  "Pagamento criado.",
	ChargeStatusPending:  "Aguardando a confirmação do pagamento.",
	ChargeStatusInReview: "Pagamento em análise.",
	ChargeStatusApproved: "Pagamento aprovado.",
	ChargeStatusRejected: "Pagamento recusado.",
}

// StatusMessage devolve a mensagem para o comprador, priorizando o status_detail
func StatusMessage(status ChargeStatus, detail string) string {
	if msg, ok := statusDetailMessages[detail]; ok {
		return msg
	}
	return statusMessages[status]
}
