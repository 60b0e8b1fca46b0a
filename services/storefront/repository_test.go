package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockPgxDB simula o pool de conexões PostgreSQL
type MockPgxDB struct {
	mock.Mock
}

func (m *MockPgxDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	mockArgs := m.Called(ctx, sql, args)
	return mockArgs.Get(0).(pgconn.CommandTag), mockArgs.Error(1)
}

func (m *MockPgxDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	mockArgs := m.Called(ctx, sql, args)
	rows, _ := mockArgs.Get(0).(pgx.Rows)
	return rows, mockArgs.Error(1)
}

func (m *MockPgxDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	mockArgs := m.Called(ctx, sql, args)
	return mockArgs.Get(0).(pgx.Row)
}

// MockRow simula uma linha de resultado
type MockRow struct {
	scanFunc func(dest ...any) error
}

func (r *MockRow) Scan(dest ...any) error {
	return r.scanFunc(dest...)
}

func TestPostgresSaleStoreInsert(t *testing.T) {
	ctx := context.Background()
	db := new(MockPgxDB)
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil).Once()
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 0"), nil).Once()

	store := &PostgresSaleStore{db: db}

	require.NoError(t, store.InsertSale(ctx, testSale("100", time.Now())))

	err := store.InsertSale(ctx, testSale("100", time.Now()))
	assert.ErrorIs(t, err, ErrDuplicateSuppressed)

	db.AssertExpectations(t)
}

func TestPostgresSaleStoreInsertError(t *testing.T) {
	ctx := context.Background()
	db := new(MockPgxDB)
	db.On("Exec", ctx, mock.Anything, mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection reset"))

	err := (&PostgresSaleStore{db: db}).InsertSale(ctx, testSale("100", time.Now()))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicateSuppressed)
}

func TestPostgresSaleStoreGetSale(t *testing.T) {
	ctx := context.Background()
	soldAt := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	found := &MockRow{scanFunc: func(dest ...any) error {
		*dest[0].(*string) = "100"
		*dest[1].(*time.Time) = soldAt
		*dest[3].(*string) = "maria@example.com"
		*dest[6].(*[]string) = []string{"ebook-a"}
		*dest[8].(*int64) = 11990
		*dest[9].(*string) = "pix"
		return nil
	}}
	missing := &MockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}

	db := new(MockPgxDB)
	db.On("QueryRow", ctx, mock.Anything, []any{"100"}).Return(found)
	db.On("QueryRow", ctx, mock.Anything, []any{"404"}).Return(missing)

	store := &PostgresSaleStore{db: db}

	sale, err := store.GetSale(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, "100", sale.ChargeID)
	assert.Equal(t, "maria@example.com", sale.Email)
	assert.Equal(t, PaymentMethodPix, sale.Method)
	assert.Equal(t, int64(11990), sale.TotalCents)
	assert.Equal(t, []string{"ebook-a"}, sale.ItemIDs)

	_, err = store.GetSale(ctx, "404")
	assert.ErrorIs(t, err, ErrSaleNotFound)
}

func TestPostgresSaleStoreMarkClicked(t *testing.T) {
	ctx := context.Background()
	at := time.Now()

	db := new(MockPgxDB)
	db.On("Exec", ctx, mock.Anything, []any{at, "100"}).Return(pgconn.NewCommandTag("UPDATE 1"), nil)
	db.On("Exec", ctx, mock.Anything, []any{at, "404"}).Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	store := &PostgresSaleStore{db: db}

	found, err := store.MarkClicked(ctx, "100", at)
	require.NoError(t, err)
	assert.True(t, found)

	found, err = store.MarkClicked(ctx, "404", at)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPostgresSaleStoreLoadError(t *testing.T) {
	ctx := context.Background()
	db := new(MockPgxDB)
	db.On("Query", ctx, mock.Anything, mock.Anything).Return(nil, errors.New("relation \"sales\" does not exist"))

	_, err := (&PostgresSaleStore{db: db}).LoadSales(ctx)
	assert.Error(t, err)
}
