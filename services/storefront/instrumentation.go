package main

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Reconciliation outcomes
const (
	outcomeSettled    = "settled"
	outcomeDuplicate  = "duplicate_suppressed"
	outcomeNotSettled = "not_settled"
	outcomeError      = "error"
)

// storefrontMetrics agrupa os contadores operacionais do serviço
type storefrontMetrics struct {
	chargesCreated   metric.Int64Counter
	reconciliations  metric.Int64Counter
	deliveriesFailed metric.Int64Counter
	tokenRedemptions metric.Int64Counter
}

// newStorefrontMetrics usa o MeterProvider global (noop quando não configurado)
func newStorefrontMetrics() *storefrontMetrics {
	meter := otel.Meter("storefront-service")

	m := &storefrontMetrics{}
	m.chargesCreated, _ = meter.Int64Counter("storefront.charges.created",
		metric.WithDescription("Charges submitted to the payment processor"))
	m.reconciliations, _ = meter.Int64Counter("storefront.reconciliations",
		metric.WithDescription("Reconcile calls by outcome and trigger"))
	m.deliveriesFailed, _ = meter.Int64Counter("storefront.deliveries.failed",
		metric.WithDescription("Delivery notifications that failed after the sale was recorded"))
	m.tokenRedemptions, _ = meter.Int64Counter("storefront.tokens.redeemed",
		metric.WithDescription("Access token redemptions by result"))
	return m
}

func (m *storefrontMetrics) chargeCreated(ctx context.Context, method PaymentMethod, status ChargeStatus) {
	m.chargesCreated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", string(method)),
		attribute.String("status", string(status)),
	))
}

func (m *storefrontMetrics) reconciled(ctx context.Context, trigger, outcome string) {
	m.reconciliations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("trigger", trigger),
		attribute.String("outcome", outcome),
	))
}

func (m *storefrontMetrics) deliveryFailed(ctx context.Context) {
	m.deliveriesFailed.Add(ctx, 1)
}

func (m *storefrontMetrics) tokenRedeemed(ctx context.Context, result string) {
	m.tokenRedemptions.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// startReconcileSpan cria o span da reconciliação de uma cobrança
func startReconcileSpan(ctx context.Context, chargeID, trigger string) (context.Context, trace.Span) {
	tracer := otel.Tracer("storefront-reconciliation")
	ctx, span := tracer.Start(ctx, "reconcile")

	span.SetAttributes(
		attribute.String("charge.id", chargeID),
		attribute.String("reconcile.trigger", trigger),
		attribute.String("component", "reconciliation-gateway"),
	)

	return ctx, span
}
