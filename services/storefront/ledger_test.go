package main

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockSaleStore simula a persistência do ledger
type MockSaleStore struct {
	mock.Mock
}

func (m *MockSaleStore) LoadSales(ctx context.Context) ([]SaleRecord, error) {
	args := m.Called(ctx)
	sales, _ := args.Get(0).([]SaleRecord)
	return sales, args.Error(1)
}

func (m *MockSaleStore) InsertSale(ctx context.Context, sale *SaleRecord) error {
	args := m.Called(ctx, sale)
	return args.Error(0)
}

func (m *MockSaleStore) GetSale(ctx context.Context, chargeID string) (*SaleRecord, error) {
	args := m.Called(ctx, chargeID)
	sale, _ := args.Get(0).(*SaleRecord)
	return sale, args.Error(1)
}

func (m *MockSaleStore) MarkClicked(ctx context.Context, chargeID string, at time.Time) (bool, error) {
	args := m.Called(ctx, chargeID, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockSaleStore) PurgeSales(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func TestSaleLedgerRecordsOnce(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestBoltStore(t)
	ledger := NewSaleLedger(store)

	inserted, err := ledger.RecordSaleIfAbsent(ctx, testSale("100", time.Now()))
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.True(t, ledger.HasSale("100"))

	inserted, err = ledger.RecordSaleIfAbsent(ctx, testSale("100", time.Now()))
	require.NoError(t, err)
	assert.False(t, inserted)

	sales, err := ledger.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, sales, 1)
}

func TestSaleLedgerConcurrentRecord(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestBoltStore(t)
	ledger := NewSaleLedger(store)

	const workers = 50
	var inserts int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			inserted, err := ledger.RecordSaleIfAbsent(ctx, testSale("100", time.Now()))
			assert.NoError(t, err)
			if inserted {
				atomic.AddInt32(&inserts, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), inserts)

	sales, err := store.LoadSales(ctx)
	require.NoError(t, err)
	assert.Len(t, sales, 1)
}

func TestSaleLedgerLoadsExistingSales(t *testing.T) {
	ctx := context.Background()
	store := new(MockSaleStore)
	store.On("LoadSales", mock.Anything).Return([]SaleRecord{*testSale("100", time.Now())}, nil).Once()

	ledger := NewSaleLedger(store)

	inserted, err := ledger.RecordSaleIfAbsent(ctx, testSale("100", time.Now()))
	require.NoError(t, err)
	assert.False(t, inserted)

	store.AssertExpectations(t)
	store.AssertNotCalled(t, "InsertSale", mock.Anything, mock.Anything)
}

func TestSaleLedgerDuplicateFromStore(t *testing.T) {
	ctx := context.Background()
	store := new(MockSaleStore)
	store.On("LoadSales", mock.Anything).Return([]SaleRecord{}, nil).Once()
	store.On("InsertSale", mock.Anything, mock.Anything).Return(ErrDuplicateSuppressed).Once()

	ledger := NewSaleLedger(store)

	inserted, err := ledger.RecordSaleIfAbsent(ctx, testSale("100", time.Now()))
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.True(t, ledger.HasSale("100"))

	// A segunda tentativa é resolvida pelo cache
	inserted, err = ledger.RecordSaleIfAbsent(ctx, testSale("100", time.Now()))
	require.NoError(t, err)
	assert.False(t, inserted)

	store.AssertExpectations(t)
	store.AssertNumberOfCalls(t, "InsertSale", 1)
}

func TestSaleLedgerStoreErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("load failure", func(t *testing.T) {
		store := new(MockSaleStore)
		store.On("LoadSales", mock.Anything).Return(nil, errors.New("connection refused"))

		_, err := NewSaleLedger(store).RecordSaleIfAbsent(ctx, testSale("100", time.Now()))
		assert.Error(t, err)
		store.AssertNotCalled(t, "InsertSale", mock.Anything, mock.Anything)
	})

	t.Run("insert failure", func(t *testing.T) {
		store := new(MockSaleStore)
		store.On("LoadSales", mock.Anything).Return([]SaleRecord{}, nil)
		store.On("InsertSale", mock.Anything, mock.Anything).Return(errors.New("disk full"))

		ledger := NewSaleLedger(store)
		inserted, err := ledger.RecordSaleIfAbsent(ctx, testSale("100", time.Now()))
		assert.Error(t, err)
		assert.False(t, inserted)
		assert.False(t, ledger.HasSale("100"))
	})

	t.Run("missing charge id", func(t *testing.T) {
		store := new(MockSaleStore)
		_, err := NewSaleLedger(store).RecordSaleIfAbsent(ctx, &SaleRecord{})
		assert.Error(t, err)
		store.AssertNotCalled(t, "LoadSales", mock.Anything)
	})
}

func TestSaleLedgerGetFallsBackToStore(t *testing.T) {
	ctx := context.Background()
	store := new(MockSaleStore)
	store.On("GetSale", mock.Anything, "100").Return(testSale("100", time.Now()), nil).Once()
	store.On("GetSale", mock.Anything, "404").Return(nil, ErrSaleNotFound)

	ledger := NewSaleLedger(store)

	sale, err := ledger.Get(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, "maria@example.com", sale.Email)

	// Segunda leitura vem do cache
	_, err = ledger.Get(ctx, "100")
	require.NoError(t, err)

	_, err = ledger.Get(ctx, "404")
	assert.ErrorIs(t, err, ErrSaleNotFound)

	store.AssertNumberOfCalls(t, "GetSale", 2)
}

func TestSaleLedgerMarkClicked(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestBoltStore(t)
	ledger := NewSaleLedger(store)

	_, err := ledger.RecordSaleIfAbsent(ctx, testSale("100", time.Now()))
	require.NoError(t, err)

	clickedAt := time.Date(2026, 5, 1, 15, 0, 0, 0, time.UTC)
	require.NoError(t, ledger.MarkClicked(ctx, "100", clickedAt))

	sale, err := ledger.Get(ctx, "100")
	require.NoError(t, err)
	assert.True(t, sale.ClickedAccessLink)
	require.NotNil(t, sale.ClickDate)
	assert.True(t, sale.ClickDate.Equal(clickedAt))

	// Clique sem venda correspondente não é erro
	assert.NoError(t, ledger.MarkClicked(ctx, "missing", clickedAt))
	assert.NoError(t, ledger.MarkClicked(ctx, "", clickedAt))
}

func TestSaleLedgerPurge(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestBoltStore(t)
	ledger := NewSaleLedger(store)

	_, err := ledger.RecordSaleIfAbsent(ctx, testSale("100", time.Now()))
	require.NoError(t, err)

	require.NoError(t, ledger.Purge(ctx))
	assert.False(t, ledger.HasSale("100"))

	inserted, err := ledger.RecordSaleIfAbsent(ctx, testSale("100", time.Now()))
	require.NoError(t, err)
	assert.True(t, inserted)
}
