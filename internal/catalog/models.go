// Package catalog holds the warehouse master data whose changes are audited:
// products and business partners.
package catalog

import "strconv"

// Produto is a stocked product.
type Produto struct {
	ID        int64  `json:"id"`
	SKU       string `json:"sku" validate:"required,max=64"`
	Nome      string `json:"nome" validate:"required,max=255"`
	Unidade   string `json:"unidade,omitempty" validate:"max=16"`
	Ativo     bool   `json:"ativo"`
	Categoria string `json:"categoria,omitempty" validate:"max=128"`
}

func (p *Produto) Key() int64        { return p.ID }
func (p *Produto) SetKey(key int64)  { p.ID = key }
func (p *Produto) AuditID() string   { return strconv.FormatInt(p.ID, 10) }
func (p *Produto) AuditName() string { return "Produto" }

// Parceiro is a supplier, customer or carrier.
type Parceiro struct {
	ID        int64  `json:"id"`
	Nome      string `json:"nome" validate:"required,max=255"`
	Documento string `json:"documento,omitempty" validate:"max=32"`
	Tipo      string `json:"tipo,omitempty" validate:"omitempty,oneof=FORNECEDOR CLIENTE TRANSPORTADORA"`
}

func (p *Parceiro) Key() int64        { return p.ID }
func (p *Parceiro) SetKey(key int64)  { p.ID = key }
func (p *Parceiro) AuditID() string   { return strconv.FormatInt(p.ID, 10) }
func (p *Parceiro) AuditName() string { return "Parceiro" }
