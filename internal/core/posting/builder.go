package posting

import (
	"strings"

	"github.com/SscSPs/bank_posting_core/internal/core/coa"
	"github.com/SscSPs/bank_posting_core/internal/core/domain"
	"github.com/shopspring/decimal"
)

// entryBuilder accumulates the lines of one entry against one operational account.
type entryBuilder struct {
	registry *coa.Registry
	account  domain.OperationalAccount
	binding  coa.Binding
	lines    []domain.JournalLine
}

func (e *Engine) builder(account domain.OperationalAccount) *entryBuilder {
	return &entryBuilder{
		registry: e.registry,
		account:  account,
		binding:  e.registry.Binding(account.ProductKind),
	}
}

// leg appends the debit and credit lines of one role. Zero amounts add nothing.
func (b *entryBuilder) leg(event domain.EventKind, role domain.LegRole, amount decimal.Decimal, memo string) error {
	if !amount.IsPositive() {
		return nil
	}
	m, err := b.registry.Lookup(b.account.ProductKind, event, role)
	if err != nil {
		return err
	}
	b.lines = append(b.lines,
		domain.JournalLine{GLCode: m.Debit, AccountID: b.tag(m.Debit), Debit: amount, Credit: decimal.Zero, Memo: memo},
		domain.JournalLine{GLCode: m.Credit, AccountID: b.tag(m.Credit), Debit: decimal.Zero, Credit: amount, Memo: memo},
	)
	return nil
}

func (b *entryBuilder) tag(code string) string {
	if code == b.binding.Balance || (b.binding.Accrued != "" && code == b.binding.Accrued) {
		return b.account.AccountID
	}
	return ""
}

// entry consolidates lines on the same GL code, account and side, keeping first-seen order.
func (b *entryBuilder) entry(reference, description string, kind domain.EventKind) domain.DraftEntry {
	type key struct {
		code, account string
		side          domain.Side
	}
	pos := map[key]int{}
	var lines []domain.JournalLine
	for _, l := range b.lines {
		k := key{l.GLCode, l.AccountID, l.Side()}
		i, ok := pos[k]
		if !ok {
			pos[k] = len(lines)
			lines = append(lines, l)
			continue
		}
		lines[i].Debit = lines[i].Debit.Add(l.Debit)
		lines[i].Credit = lines[i].Credit.Add(l.Credit)
		if l.Memo != "" && !strings.Contains(lines[i].Memo, l.Memo) {
			lines[i].Memo += ", " + l.Memo
		}
	}
	return domain.DraftEntry{
		Reference:   reference,
		Description: description,
		EventKind:   kind,
		Lines:       lines,
	}
}
