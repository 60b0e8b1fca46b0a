package main

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// PollState é o estado do acompanhamento de uma cobrança
type PollState string

const (
	StateIdle      PollState = "idle"
	StatePolling   PollState = "polling"
	StateSettled   PollState = "settled"
	StateAbandoned PollState = "abandoned"
)

// Intervalos do polling: rajada rápida no início, depois ritmo normal
const (
	fastPollInterval   = 1 * time.Second
	fastPollAttempts   = 30
	slowPollInterval   = 3 * time.Second
	errorRetryInterval = 3 * time.Second
)

var ErrAlreadyStarted = errors.New("poller already started")

// ChargeStatus espelha o conjunto fechado de status devolvido pelo storefront
type ChargeStatus string

const (
	StatusCreated  ChargeStatus = "created"
	StatusPending  ChargeStatus = "pending"
	StatusInReview ChargeStatus = "in_review"
	StatusApproved ChargeStatus = "approved"
	StatusRejected ChargeStatus = "rejected"
)

// UnmarshalText normaliza status fora do conjunto para pending
func (s *ChargeStatus) UnmarshalText(text []byte) error {
	switch status := ChargeStatus(text); status {
	case StatusCreated, StatusPending, StatusInReview, StatusApproved, StatusRejected:
		*s = status
	default:
		*s = StatusPending
	}
	return nil
}

// IsTerminal indica se o status não muda mais
func (s ChargeStatus) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// PaymentStatus é a resposta de GET /payment/{chargeId}
type PaymentStatus struct {
	ChargeID         string       `json:"chargeId"`
	Status           ChargeStatus `json:"status"`
	StatusDetail     string       `json:"statusDetail"`
	Message          string       `json:"message"`
	ItemIDs          []string     `json:"itemIds"`
	FirstTimeSettled bool         `json:"firstTimeSettled"`
}

// Approved indica que a cobrança foi confirmada
func (s PaymentStatus) Approved() bool {
	return s.Status == StatusApproved
}

// StatusChecker consulta o status de uma cobrança no storefront
type StatusChecker interface {
	PaymentStatus(ctx context.Context, chargeID string) (*PaymentStatus, error)
}

// Timer é o handle de um disparo agendado
type Timer interface {
	Stop() bool
}

// Scheduler agenda a próxima consulta. Em produção é o time.AfterFunc.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type clockScheduler struct{}

func (clockScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// PollerHooks recebe os eventos do polling. Todos são opcionais.
type PollerHooks struct {
	OnStatus  func(status PaymentStatus, attempt int)
	OnError   func(err error)
	OnSettled func(status PaymentStatus)
}

// Poller acompanha uma cobrança até a aprovação ou o cancelamento.
// Transições: idle -> polling -> settled | abandoned. Nunca grava no ledger.
type Poller struct {
	checker   StatusChecker
	scheduler Scheduler
	chargeID  string
	hooks     PollerHooks

	// running fica preso durante cada consulta, hooks incluídos
	running sync.Mutex

	mu       sync.Mutex
	state    PollState
	attempts int
	timer    Timer
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	final    *PaymentStatus
}

// NewPoller cria o poller em estado idle
func NewPoller(checker StatusChecker, chargeID string, hooks PollerHooks) *Poller {
	return &Poller{
		checker:   checker,
		scheduler: clockScheduler{},
		chargeID:  chargeID,
		hooks:     hooks,
		state:     StateIdle,
		done:      make(chan struct{}),
	}
}

// WithScheduler troca o relógio (usado nos testes)
func (p *Poller) WithScheduler(s Scheduler) *Poller {
	p.scheduler = s
	return p
}

// Start dispara a primeira consulta imediatamente
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateIdle {
		return ErrAlreadyStarted
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.state = StatePolling
	p.timer = p.scheduler.AfterFunc(0, p.tick)
	return nil
}

// Cancel abandona o polling. Sem efeito depois de settled.
func (p *Poller) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateSettled || p.state == StateAbandoned {
		return
	}
	p.finish(StateAbandoned)
}

// Stop cancela e espera a consulta em andamento terminar, hooks incluídos.
// Depois de Stop nenhum hook roda mais. Não pode ser chamado de dentro de um hook.
func (p *Poller) Stop() {
	p.Cancel()
	p.running.Lock()
	p.running.Unlock()
}

// State devolve o estado atual
func (p *Poller) State() PollState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Attempts devolve quantas consultas responderam sem erro
func (p *Poller) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// Done fecha quando o poller chega a settled ou abandoned
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

// Result devolve o status aprovado (nil se abandonado ou em andamento)
func (p *Poller) Result() *PaymentStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.final
}

func (p *Poller) tick() {
	p.running.Lock()
	defer p.running.Unlock()

	p.mu.Lock()
	if p.state != StatePolling {
		p.mu.Unlock()
		return
	}
	ctx := p.ctx
	p.mu.Unlock()

	status, err := p.checker.PaymentStatus(ctx, p.chargeID)

	p.mu.Lock()
	// Cancelado durante a consulta
	if p.state != StatePolling {
		p.mu.Unlock()
		return
	}
	if err == nil {
		p.attempts++
	}
	attempt := p.attempts
	p.mu.Unlock()

	// Os hooks rodam antes do próximo agendamento e antes de done fechar,
	// então nunca se sobrepõem nem à escrita final de quem espera em Done.
	if err != nil {
		log.Printf("⚠️ [POLL] ChargeID=%s | Error=%v (retrying in %s)", p.chargeID, err, errorRetryInterval)
		if p.hooks.OnError != nil {
			p.hooks.OnError(err)
		}
	} else {
		if p.hooks.OnStatus != nil {
			p.hooks.OnStatus(*status, attempt)
		}
		if status.Approved() && p.hooks.OnSettled != nil {
			p.hooks.OnSettled(*status)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// Cancelado por um hook
	if p.state != StatePolling {
		return
	}

	switch {
	case err != nil:
		p.timer = p.scheduler.AfterFunc(errorRetryInterval, p.tick)
	case status.Approved():
		p.final = status
		p.finish(StateSettled)
	default:
		p.timer = p.scheduler.AfterFunc(nextPollInterval(attempt), p.tick)
	}
}

// finish encerra o polling. Deve ser chamado com mu.
func (p *Poller) finish(state PollState) {
	p.state = state
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if p.cancel != nil {
		p.cancel()
	}
	close(p.done)
}

// nextPollInterval devolve o intervalo depois da n-ésima consulta sem aprovação
func nextPollInterval(attempt int) time.Duration {
	if attempt < fastPollAttempts {
		return fastPollInterval
	}
	return slowPollInterval
}
