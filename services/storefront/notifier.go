package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DeliveryNotifier dispara a entrega (e-mail) para o comprador
type DeliveryNotifier interface {
	Notify(ctx context.Context, delivery Delivery) error
}

// LogNotifier apenas registra a entrega no log (desenvolvimento)
type LogNotifier struct{}

// O link carrega um token válido por horas, então fica fora do log.
func (LogNotifier) Notify(_ context.Context, d Delivery) error {
	log.Printf("📧 [DELIVERY] ChargeID=%s | Items=%s | Resend=%t",
		d.ChargeID, strings.Join(ItemIDs(d.Items), ","), d.Resend)
	return nil
}

type emailRequest struct {
	From      string         `json:"from"`
	To        []string       `json:"to"`
	Template  string         `json:"template"`
	Variables map[string]any `json:"variables"`
	Tags      map[string]any `json:"tags,omitempty"`
}

// EmailAPINotifier envia a entrega para uma API HTTP de e-mail transacional.
// A renderização do template fica do lado da API.
type EmailAPINotifier struct {
	client *resty.Client
	from   string
}

// NewEmailAPINotifier cria o cliente da API de e-mail
func NewEmailAPINotifier(baseURL, apiKey, from string, timeout time.Duration) *EmailAPINotifier {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetAuthToken(apiKey).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &EmailAPINotifier{client: client, from: from}
}

func (n *EmailAPINotifier) Notify(ctx context.Context, d Delivery) error {
	template := "purchase-access"
	if d.Resend {
		template = "purchase-access-resend"
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", uuid.New().String()).
		SetBody(emailRequest{
			From:     n.from,
			To:       []string{d.Buyer.Email},
			Template: template,
			Variables: map[string]any{
				"name":       d.Buyer.FirstName(),
				"items":      ItemTitles(d.Items),
				"access_url": d.AccessURL,
			},
			Tags: map[string]any{"charge_id": d.ChargeID},
		}).
		Post("/emails")
	if err != nil {
		return fmt.Errorf("sending delivery email: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("sending delivery email: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// amqpChannel é o recorte de *amqp.Channel usado pelo notifier
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPNotifier publica o pedido de entrega numa exchange consumida pelo worker de e-mail
type AMQPNotifier struct {
	ch         amqpChannel
	exchange   string
	routingKey string
	now        func() time.Time
}

// NewAMQPNotifier declara a exchange (topic, durável) e devolve o notifier
func NewAMQPNotifier(ch amqpChannel, exchange, routingKey string) (*AMQPNotifier, error) {
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declaring exchange %s: %w", exchange, err)
	}
	return &AMQPNotifier{ch: ch, exchange: exchange, routingKey: routingKey, now: time.Now}, nil
}

func (n *AMQPNotifier) Notify(ctx context.Context, d Delivery) error {
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encoding delivery: %w", err)
	}

	err = n.ch.PublishWithContext(ctx, n.exchange, n.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    d.ChargeID,
		Timestamp:    n.now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publishing delivery for %s: %w", d.ChargeID, err)
	}
	return nil
}
