package main

import (
	"fmt"
	"sort"
)

// Catalog é a única fonte de preços: o checkout só envia ids, nunca valores
type Catalog struct {
	items map[string]LineItem
}

// NewCatalog cria o catálogo a partir da configuração
func NewCatalog(items []LineItem) *Catalog {
	c := &Catalog{items: make(map[string]LineItem, len(items))}
	for _, item := range items {
		c.items[item.ID] = item
	}
	return c
}

// Get busca um produto pelo id
func (c *Catalog) Get(id string) (LineItem, bool) {
	item, ok := c.items[id]
	return item, ok
}

// All lista os produtos ordenados por id
func (c *Catalog) All() []LineItem {
	out := make([]LineItem, 0, len(c.items))
	for _, item := range c.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Resolve transforma ids em LineItems com o preço do servidor.
// Ids repetidos são mantidos: um bundle é apenas mais de uma entrada.
func (c *Catalog) Resolve(ids []string) ([]LineItem, error) {
	items := make([]LineItem, 0, len(ids))
	for _, id := range ids {
		item, ok := c.items[id]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownItem, id)
		}
		items = append(items, item)
	}
	return items, nil
}

// defaultCatalog é usado quando nenhum catálogo vem do arquivo de configuração
func defaultCatalog() []LineItem {
	return []LineItem{
		{ID: "ebook-a", Title: "O Segredo das Galinhas", PriceCents: 11990},
		{ID: "ebook-b", Title: "Manual do Galinheiro Caipira", PriceCents: 4790},
		{ID: "bonus-guide", Title: "Guia de Ração Caseira", PriceCents: 1990},
	}
}
