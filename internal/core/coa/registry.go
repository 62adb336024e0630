package coa

import (
	"sort"
	"sync/atomic"

	"github.com/SscSPs/bank_posting_core/internal/apperrors"
	"github.com/SscSPs/bank_posting_core/internal/core/domain"
)

// Registry serves lookups against the current table. Reloads swap the whole table at once.
type Registry struct {
	table atomic.Pointer[Table]
}

// NewRegistry creates a registry serving t.
func NewRegistry(t *Table) *Registry {
	r := &Registry{}
	r.table.Store(t)
	return r
}

// Swap replaces the table atomically and returns the previous one.
func (r *Registry) Swap(t *Table) *Table {
	return r.table.Swap(t)
}

// Lookup resolves the GL codes of one leg. Unknown combinations are UNMAPPED_POSTING.
func (r *Registry) Lookup(product domain.ProductKind, event domain.EventKind, role domain.LegRole) (Mapping, error) {
	k := Key{Product: product, Event: event, Role: role}
	m, ok := r.table.Load().mappings[k]
	if !ok {
		return Mapping{}, apperrors.NewAppError(apperrors.CodeUnmappedPosting, "no chart-of-accounts mapping for "+k.String(), nil)
	}
	return m, nil
}

// Account returns the catalogue entry for code.
func (r *Registry) Account(code string) (domain.GLAccount, bool) {
	a, ok := r.table.Load().accounts[code]
	return a, ok
}

// Accounts returns the catalogue ordered by code.
func (r *Registry) Accounts() []domain.GLAccount {
	t := r.table.Load()
	out := make([]domain.GLAccount, 0, len(t.accounts))
	for _, a := range t.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Binding returns the GL codes bound to accounts of product.
func (r *Registry) Binding(product domain.ProductKind) Binding {
	return r.table.Load().bindings[product]
}

// NormalSide returns the normal-balance side of code.
func (r *Registry) NormalSide(code string) (domain.Side, bool) {
	a, ok := r.Account(code)
	if !ok {
		return "", false
	}
	return a.NormalSide(), true
}
