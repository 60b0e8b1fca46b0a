package main

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

const salesBucket = "sales"

// BoltSaleStore implementa SaleStore em um único arquivo BoltDB.
// O Bolt só permite um processo com o arquivo aberto, então basta a transação de escrita.
type BoltSaleStore struct {
	db *bolt.DB
}

// NewBoltSaleStore abre (ou cria) o arquivo e garante o bucket de vendas
func NewBoltSaleStore(path string) (*BoltSaleStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(salesBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltSaleStore{db: db}, nil
}

// Close libera o lock do arquivo
func (s *BoltSaleStore) Close() error {
	return s.db.Close()
}

// InsertSale grava a venda apenas se a chave ainda não existir
func (s *BoltSaleStore) InsertSale(_ context.Context, sale *SaleRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(salesBucket))
		if b.Get([]byte(sale.ChargeID)) != nil {
			return ErrDuplicateSuppressed
		}

		data, err := json.Marshal(sale)
		if err != nil {
			return err
		}
		return b.Put([]byte(sale.ChargeID), data)
	})
}

// LoadSales devolve todas as vendas, mais recentes primeiro
func (s *BoltSaleStore) LoadSales(_ context.Context) ([]SaleRecord, error) {
	sales := []SaleRecord{}

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(salesBucket)).ForEach(func(k, v []byte) error {
			var sale SaleRecord
			if err := json.Unmarshal(v, &sale); err != nil {
				return err
			}
			sales = append(sales, sale)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(sales, func(i, j int) bool { return sales[i].Date.After(sales[j].Date) })
	return sales, nil
}

// GetSale busca uma venda pelo charge_id
func (s *BoltSaleStore) GetSale(_ context.Context, chargeID string) (*SaleRecord, error) {
	var sale SaleRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(salesBucket)).Get([]byte(chargeID))
		if v == nil {
			return ErrSaleNotFound
		}
		return json.Unmarshal(v, &sale)
	})
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

// MarkClicked registra o clique; venda inexistente não é erro
func (s *BoltSaleStore) MarkClicked(_ context.Context, chargeID string, at time.Time) (bool, error) {
	found := false

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(salesBucket))
		v := b.Get([]byte(chargeID))
		if v == nil {
			return nil
		}

		var sale SaleRecord
		if err := json.Unmarshal(v, &sale); err != nil {
			return err
		}
		sale.ClickedAccessLink = true
		clickDate := at.UTC()
		sale.ClickDate = &clickDate

		data, err := json.Marshal(&sale)
		if err != nil {
			return err
		}
		found = true
		return b.Put([]byte(chargeID), data)
	})
	return found, err
}

// PurgeSales recria o bucket vazio
func (s *BoltSaleStore) PurgeSales(_ context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(salesBucket)); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket([]byte(salesBucket))
		return err
	})
}
