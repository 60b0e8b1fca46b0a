package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SaleStore define a persistência do ledger de vendas
type SaleStore interface {
	// LoadSales devolve todas as vendas (mais recentes primeiro)
	LoadSales(ctx context.Context) ([]SaleRecord, error)

	// InsertSale grava a venda se o charge_id ainda não existir.
	// Retorna ErrDuplicateSuppressed quando a venda já estava registrada.
	InsertSale(ctx context.Context, sale *SaleRecord) error

	// GetSale busca uma venda pelo charge_id (ErrSaleNotFound se não existir)
	GetSale(ctx context.Context, chargeID string) (*SaleRecord, error)

	// MarkClicked registra o clique no link de acesso. Retorna false se a venda não existir.
	MarkClicked(ctx context.Context, chargeID string, at time.Time) (bool, error)

	// PurgeSales remove todas as vendas (operação administrativa)
	PurgeSales(ctx context.Context) error
}

// pgxDB é o subconjunto do pgxpool.Pool usado pelo repositório
type pgxDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresSaleStore implementa SaleStore usando PostgreSQL.
// A constraint UNIQUE em charge_id torna o check-and-insert atômico entre processos.
type PostgresSaleStore struct {
	db pgxDB
}

// NewPostgresSaleStore cria uma nova instância de PostgresSaleStore
func NewPostgresSaleStore(db *pgxpool.Pool) *PostgresSaleStore {
	return &PostgresSaleStore{db: db}
}

const saleColumns = `charge_id, sold_at, name, email, phone, cpf, item_ids, items, total_cents, method, clicked_access_link, click_date`

// InsertSale grava a venda usando ON CONFLICT DO NOTHING
func (r *PostgresSaleStore) InsertSale(ctx context.Context, sale *SaleRecord) error {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO sales (`+saleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (charge_id) DO NOTHING
	`, sale.ChargeID, sale.Date, sale.Name, sale.Email, sale.Phone, sale.NationalID,
		sale.ItemIDs, sale.Items, sale.TotalCents, string(sale.Method),
		sale.ClickedAccessLink, sale.ClickDate)
	if err != nil {
		return fmt.Errorf("failed to insert sale: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateSuppressed
	}
	return nil
}

// LoadSales busca todas as vendas
func (r *PostgresSaleStore) LoadSales(ctx context.Context) ([]SaleRecord, error) {
	rows, err := r.db.Query(ctx, `SELECT `+saleColumns+` FROM sales ORDER BY sold_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to load sales: %w", err)
	}
	defer rows.Close()

	sales := []SaleRecord{}
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	return sales, rows.Err()
}

// GetSale busca uma venda pelo charge_id
func (r *PostgresSaleStore) GetSale(ctx context.Context, chargeID string) (*SaleRecord, error) {
	row := r.db.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE charge_id = $1`, chargeID)
	sale, err := scanSale(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSaleNotFound
	}
	return sale, err
}

// MarkClicked atualiza os metadados de clique
func (r *PostgresSaleStore) MarkClicked(ctx context.Context, chargeID string, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE sales
		SET clicked_access_link = TRUE, click_date = $1
		WHERE charge_id = $2
	`, at, chargeID)
	if err != nil {
		return false, fmt.Errorf("failed to mark click: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// PurgeSales remove todas as vendas
func (r *PostgresSaleStore) PurgeSales(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `DELETE FROM sales`)
	return err
}

func scanSale(row pgx.Row) (*SaleRecord, error) {
	var sale SaleRecord
	var method string
	err := row.Scan(
		&sale.ChargeID,
		&sale.Date,
		&sale.Name,
		&sale.Email,
		&sale.Phone,
		&sale.NationalID,
		&sale.ItemIDs,
		&sale.Items,
		&sale.TotalCents,
		&method,
		&sale.ClickedAccessLink,
		&sale.ClickDate,
	)
	if err != nil {
		return nil, err
	}
	sale.Method = PaymentMethod(method)
	return &sale, nil
}
