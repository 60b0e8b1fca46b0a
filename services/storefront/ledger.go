package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// SaleLedger é o ledger de vendas: leituras baratas pelo cache, escritas serializadas.
//
// Toda a seção ler-verificar-gravar roda sob writeMu. Em um único processo isso já
// garante no máximo um registro por charge_id; com vários processos a garantia vem
// do insert atômico do SaleStore (UNIQUE no PostgreSQL).
type SaleLedger struct {
	store SaleStore

	writeMu sync.Mutex

	cacheMu sync.RWMutex
	loaded  bool
	known   map[string]*SaleRecord
}

// NewSaleLedger cria o ledger sobre o store informado
func NewSaleLedger(store SaleStore) *SaleLedger {
	return &SaleLedger{
		store: store,
		known: make(map[string]*SaleRecord),
	}
}

// RecordSaleIfAbsent registra a venda se ainda não existir.
// Retorna inserted=false (sem erro) quando outro caminho já registrou a mesma cobrança.
func (l *SaleLedger) RecordSaleIfAbsent(ctx context.Context, sale *SaleRecord) (bool, error) {
	if sale == nil || sale.ChargeID == "" {
		return false, fmt.Errorf("sale without charge id")
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if err := l.ensureLoaded(ctx); err != nil {
		return false, err
	}

	if l.HasSale(sale.ChargeID) {
		log.Printf("ℹ️  [IDEMPOTENCY] Sale already recorded (cache) for ChargeID=%s", sale.ChargeID)
		return false, nil
	}

	err := l.store.InsertSale(ctx, sale)
	if errors.Is(err, ErrDuplicateSuppressed) {
		// Gravada por outro processo: o cache passa a conhecer a chave
		log.Printf("ℹ️  [IDEMPOTENCY] Sale already recorded (store) for ChargeID=%s", sale.ChargeID)
		l.remember(sale.ChargeID, nil)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("recording sale %s: %w", sale.ChargeID, err)
	}

	stored := *sale
	l.remember(sale.ChargeID, &stored)
	return true, nil
}

// HasSale consulta apenas o cache
func (l *SaleLedger) HasSale(chargeID string) bool {
	l.cacheMu.RLock()
	defer l.cacheMu.RUnlock()
	_, ok := l.known[chargeID]
	return ok
}

// Get busca a venda no cache e, se preciso, no store
func (l *SaleLedger) Get(ctx context.Context, chargeID string) (*SaleRecord, error) {
	l.cacheMu.RLock()
	cached := l.known[chargeID]
	l.cacheMu.RUnlock()
	if cached != nil {
		out := *cached
		return &out, nil
	}

	sale, err := l.store.GetSale(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	l.remember(chargeID, sale)
	out := *sale
	return &out, nil
}

// MarkClicked é best-effort: vendas sem charge_id correlacionado são ignoradas
func (l *SaleLedger) MarkClicked(ctx context.Context, chargeID string, at time.Time) error {
	if chargeID == "" {
		return nil
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	found, err := l.store.MarkClicked(ctx, chargeID, at)
	if err != nil {
		return fmt.Errorf("marking click for %s: %w", chargeID, err)
	}
	if !found {
		log.Printf("ℹ️  [ACCESS] No sale found for ChargeID=%s, click not recorded", chargeID)
		return nil
	}

	l.cacheMu.Lock()
	if sale := l.known[chargeID]; sale != nil {
		clickDate := at.UTC()
		sale.ClickedAccessLink = true
		sale.ClickDate = &clickDate
	}
	l.cacheMu.Unlock()
	return nil
}

// ListAll lê o store e renova o cache
func (l *SaleLedger) ListAll(ctx context.Context) ([]SaleRecord, error) {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	sales, err := l.store.LoadSales(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing sales: %w", err)
	}
	l.replaceCache(sales)
	return sales, nil
}

// Purge apaga todas as vendas (somente administrativo)
func (l *SaleLedger) Purge(ctx context.Context) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if err := l.store.PurgeSales(ctx); err != nil {
		return fmt.Errorf("purging sales: %w", err)
	}
	l.replaceCache(nil)
	return nil
}

// ensureLoaded carrega o cache na primeira escrita. Deve ser chamado com writeMu.
func (l *SaleLedger) ensureLoaded(ctx context.Context) error {
	l.cacheMu.RLock()
	loaded := l.loaded
	l.cacheMu.RUnlock()
	if loaded {
		return nil
	}

	sales, err := l.store.LoadSales(ctx)
	if err != nil {
		return fmt.Errorf("loading sales: %w", err)
	}
	l.replaceCache(sales)
	return nil
}

func (l *SaleLedger) replaceCache(sales []SaleRecord) {
	known := make(map[string]*SaleRecord, len(sales))
	for i := range sales {
		sale := sales[i]
		known[sale.ChargeID] = &sale
	}

	l.cacheMu.Lock()
	l.known = known
	l.loaded = true
	l.cacheMu.Unlock()
}

func (l *SaleLedger) remember(chargeID string, sale *SaleRecord) {
	l.cacheMu.Lock()
	defer l.cacheMu.Unlock()
	if existing := l.known[chargeID]; existing != nil && sale == nil {
		return
	}
	l.known[chargeID] = sale
}
