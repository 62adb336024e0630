package posting

import (
	"fmt"
	"sort"

	"github.com/SscSPs/bank_posting_core/internal/apperrors"
	"github.com/SscSPs/bank_posting_core/internal/core/coa"
	"github.com/SscSPs/bank_posting_core/internal/core/domain"
	"github.com/SscSPs/bank_posting_core/internal/core/policy"
	"github.com/SscSPs/bank_posting_core/internal/utils/accounting"
	"github.com/shopspring/decimal"
)

// Engine expands accepted events into balanced journal entries and the balance deltas they imply.
// It is synchronous and never touches a store.
type Engine struct {
	registry *coa.Registry
}

func NewEngine(registry *coa.Registry) *Engine {
	return &Engine{registry: registry}
}

// Expand turns an accepted event into a posting batch. schedule is the loan's amortization
// table for repayments and is ignored otherwise.
func (e *Engine) Expand(ev domain.PostingEvent, decision policy.Decision, schedule []domain.AmortizationRow) (domain.PostingBatch, error) {
	if !decision.Accepted {
		return domain.PostingBatch{}, decision.Err()
	}
	if !ev.Amount.IsPositive() || !accounting.HasAtMostTwoDecimals(ev.Amount) {
		return domain.PostingBatch{}, apperrors.BadRequestf("amount %s must be positive with at most two decimals", ev.Amount)
	}

	var (
		entries      []domain.DraftEntry
		installments []domain.InstallmentPayment
		err          error
	)
	switch ev.Kind {
	case domain.Deposit, domain.Fee, domain.Penalty:
		entries, err = e.single(ev, roleFor(ev.Kind))
	case domain.Withdrawal:
		entries, err = e.withdrawal(ev, decision)
	case domain.Disbursement:
		entries, err = e.disbursement(ev)
	case domain.Repayment:
		entries, installments, err = e.repayment(ev, decision, schedule)
	case domain.Transfer:
		entries, err = e.transfer(ev)
	case domain.InterestAccrual:
		entries, err = e.accrual(ev)
	case domain.Compensation:
		err = apperrors.BadRequestf("compensations are expanded from committed entries")
	default:
		err = apperrors.BadRequestf("unknown event kind %q", ev.Kind)
	}
	if err != nil {
		return domain.PostingBatch{}, err
	}

	products := map[string]domain.ProductKind{ev.Primary.AccountID: ev.Primary.ProductKind}
	if ev.Counterparty != nil {
		products[ev.Counterparty.AccountID] = ev.Counterparty.ProductKind
	}
	deltas, err := e.deriveDeltas(entries, products)
	if err != nil {
		return domain.PostingBatch{}, err
	}
	if len(installments) > 0 || decision.Retire {
		deltas = mergePrimary(deltas, ev.Primary.AccountID, installments, decision.Retire)
	}

	batch := domain.PostingBatch{
		Reference: ev.Reference,
		EventKind: ev.Kind,
		Entries:   entries,
		Deltas:    deltas,
		Actor:     ev.Actor,
		Today:     ev.Today,
	}
	if err := e.verify(batch); err != nil {
		return domain.PostingBatch{}, err
	}
	return batch, nil
}

func roleFor(kind domain.EventKind) domain.LegRole {
	switch kind {
	case domain.Fee:
		return domain.RoleFee
	case domain.Penalty:
		return domain.RolePenalty
	default:
		return domain.RolePrincipal
	}
}

func (e *Engine) single(ev domain.PostingEvent, role domain.LegRole) ([]domain.DraftEntry, error) {
	b := e.builder(ev.Primary)
	if err := b.leg(ev.Kind, role, ev.Amount, string(role)); err != nil {
		return nil, err
	}
	return []domain.DraftEntry{b.entry(ev.Reference, describe(ev), ev.Kind)}, nil
}

func (e *Engine) withdrawal(ev domain.PostingEvent, decision policy.Decision) ([]domain.DraftEntry, error) {
	b := e.builder(ev.Primary)
	principal := ev.Amount
	for _, fee := range decision.Fees {
		principal = principal.Sub(fee.Amount)
	}
	if !principal.IsPositive() {
		return nil, apperrors.BadRequestf("fees %s consume the whole withdrawal", ev.Amount.Sub(principal).StringFixed(2))
	}
	if err := b.leg(ev.Kind, domain.RolePrincipal, principal, "withdrawal"); err != nil {
		return nil, err
	}
	for _, fee := range decision.Fees {
		if err := b.leg(ev.Kind, fee.Role, fee.Amount, fee.Memo); err != nil {
			return nil, err
		}
	}
	return []domain.DraftEntry{b.entry(ev.Reference, describe(ev), ev.Kind)}, nil
}

func (e *Engine) disbursement(ev domain.PostingEvent) ([]domain.DraftEntry, error) {
	b := e.builder(ev.Primary)
	if err := b.leg(ev.Kind, domain.RolePrincipal, ev.Amount, "disbursement"); err != nil {
		return nil, err
	}
	if ev.Product.FeeStrategy == domain.FeeUpfront && ev.Product.OriginationFeeRate.IsPositive() {
		fee := accounting.PercentOf(ev.Amount, ev.Product.OriginationFeeRate)
		if fee.GreaterThanOrEqual(ev.Amount) {
			return nil, apperrors.BadRequestf("origination fee %s consumes the whole disbursement", fee.StringFixed(2))
		}
		if err := b.leg(ev.Kind, domain.RoleOriginationFee, fee, "origination fee (upfront)"); err != nil {
			return nil, err
		}
	}
	return []domain.DraftEntry{b.entry(ev.Reference, describe(ev), ev.Kind)}, nil
}

func (e *Engine) transfer(ev domain.PostingEvent) ([]domain.DraftEntry, error) {
	if ev.Counterparty == nil {
		return nil, apperrors.BadRequestf("transfer requires a counterparty account")
	}
	out := e.builder(ev.Primary)
	if err := out.leg(ev.Kind, domain.RoleOutgoing, ev.Amount, "transfer to "+ev.Counterparty.AccountID); err != nil {
		return nil, err
	}
	in := e.builder(*ev.Counterparty)
	if err := in.leg(ev.Kind, domain.RoleIncoming, ev.Amount, "transfer from "+ev.Primary.AccountID); err != nil {
		return nil, err
	}
	desc := describe(ev)
	return []domain.DraftEntry{
		out.entry(ev.Reference+domain.TransferOutSuffix, desc, ev.Kind),
		in.entry(ev.Reference+domain.TransferInSuffix, desc, ev.Kind),
	}, nil
}

func (e *Engine) accrual(ev domain.PostingEvent) ([]domain.DraftEntry, error) {
	b := e.builder(ev.Primary)
	kind := ev.Primary.ProductKind
	switch kind {
	case domain.Loan:
		if ev.Product.InterestMethod == domain.FlatRate {
			return nil, apperrors.BadRequestf("flat-rate loan %s does not accrue daily interest", ev.Primary.AccountID)
		}
		if err := b.leg(ev.Kind, domain.RoleInterest, ev.Amount, "daily interest "+ev.Today.Format(domain.AccrualReferenceDate)); err != nil {
			return nil, err
		}
	case domain.RegularSavings, domain.HighYield, domain.TimeDeposit:
		net, withheld := ev.Amount, decimal.Zero
		if ev.WithholdingRate != nil && ev.WithholdingRate.IsPositive() {
			withheld = accounting.PercentOf(ev.Amount, *ev.WithholdingRate)
			net = ev.Amount.Sub(withheld)
		}
		if err := b.leg(ev.Kind, domain.RoleInterest, net, "daily interest "+ev.Today.Format(domain.AccrualReferenceDate)); err != nil {
			return nil, err
		}
		if err := b.leg(ev.Kind, domain.RoleWithholding, withheld, "withholding tax"); err != nil {
			return nil, err
		}
	default:
		return nil, apperrors.BadRequestf("unknown product kind %q", kind)
	}
	return []domain.DraftEntry{b.entry(ev.Reference, describe(ev), ev.Kind)}, nil
}

// ExpandCompensation reverses committed entries. Every line keeps its GL code and account
// with debit and credit swapped, so the derived deltas exactly undo the originals.
func (e *Engine) ExpandCompensation(originals []domain.JournalEntry, accounts map[string]domain.OperationalAccount, actor, description string) (domain.PostingBatch, error) {
	if len(originals) == 0 {
		return domain.PostingBatch{}, apperrors.BadRequestf("nothing to compensate")
	}
	products := make(map[string]domain.ProductKind, len(accounts))
	for id, acc := range accounts {
		products[id] = acc.ProductKind
	}

	entries := make([]domain.DraftEntry, 0, len(originals))
	for _, orig := range originals {
		lines := make([]domain.JournalLine, len(orig.Lines))
		for i, l := range orig.Lines {
			lines[i] = domain.JournalLine{
				GLCode:    l.GLCode,
				AccountID: l.AccountID,
				Debit:     l.Credit,
				Credit:    l.Debit,
				Memo:      "reversal of " + orig.Reference,
			}
		}
		desc := description
		if desc == "" {
			desc = "compensation of " + orig.Reference
		}
		entries = append(entries, domain.DraftEntry{
			Reference:            orig.Reference + domain.CompensationSuffix,
			Description:          desc,
			EventKind:            domain.Compensation,
			CompensatesReference: orig.Reference,
			Lines:                lines,
		})
	}

	deltas, err := e.deriveDeltas(entries, products)
	if err != nil {
		return domain.PostingBatch{}, err
	}
	batch := domain.PostingBatch{
		Reference: entries[0].Reference,
		EventKind: domain.Compensation,
		Entries:   entries,
		Deltas:    deltas,
		Actor:     actor,
	}
	if err := e.verify(batch); err != nil {
		return domain.PostingBatch{}, err
	}
	return batch, nil
}

// deriveDeltas sums, per entry and account, the signed movement of every line tagged
// with an operational account, split between the balance and accrued-interest bindings.
func (e *Engine) deriveDeltas(entries []domain.DraftEntry, products map[string]domain.ProductKind) ([]domain.BalanceDelta, error) {
	var deltas []domain.BalanceDelta
	for i, entry := range entries {
		index := map[string]int{}
		for _, l := range entry.Lines {
			if l.AccountID == "" {
				continue
			}
			product, ok := products[l.AccountID]
			if !ok {
				return nil, apperrors.NewAppError(apperrors.CodeInternal, "line references unresolved account "+l.AccountID, nil)
			}
			side, ok := e.registry.NormalSide(l.GLCode)
			if !ok {
				return nil, apperrors.NewAppError(apperrors.CodeUnmappedPosting, "gl code "+l.GLCode+" is not in the chart of accounts", nil)
			}
			signed, err := accounting.CalculateSignedAmount(l, side)
			if err != nil {
				return nil, apperrors.NewAppError(apperrors.CodeInternal, "signing line", err)
			}

			pos, seen := index[l.AccountID]
			if !seen {
				deltas = append(deltas, domain.BalanceDelta{AccountID: l.AccountID, EntryIndex: i, Balance: decimal.Zero, AccruedInterest: decimal.Zero})
				pos = len(deltas) - 1
				index[l.AccountID] = pos
			}
			binding := e.registry.Binding(product)
			switch l.GLCode {
			case binding.Balance:
				deltas[pos].Balance = deltas[pos].Balance.Add(signed)
			case binding.Accrued:
				deltas[pos].AccruedInterest = deltas[pos].AccruedInterest.Add(signed)
			default:
				return nil, apperrors.NewAppError(apperrors.CodeInternal,
					fmt.Sprintf("line on %s tagged with account %s which is not bound to it", l.GLCode, l.AccountID), nil)
			}
		}
	}
	return deltas, nil
}

func mergePrimary(deltas []domain.BalanceDelta, accountID string, installments []domain.InstallmentPayment, retire bool) []domain.BalanceDelta {
	for i := range deltas {
		if deltas[i].AccountID == accountID && deltas[i].EntryIndex == 0 {
			deltas[i].Installments = installments
			deltas[i].Retire = retire
			return deltas
		}
	}
	return append(deltas, domain.BalanceDelta{
		AccountID:       accountID,
		Balance:         decimal.Zero,
		AccruedInterest: decimal.Zero,
		Installments:    installments,
		Retire:          retire,
	})
}

func (e *Engine) verify(batch domain.PostingBatch) error {
	if len(batch.Entries) == 0 {
		return apperrors.NewAppError(apperrors.CodeInternal, "expansion produced no entries", nil)
	}
	refs := make([]string, 0, len(batch.Entries))
	for _, entry := range batch.Entries {
		if err := accounting.ValidateEntryBalance(entry.Lines); err != nil {
			return apperrors.NewAppError(apperrors.CodeInternal, "entry "+entry.Reference+" failed balance check", err)
		}
		refs = append(refs, entry.Reference)
	}
	sort.Strings(refs)
	for i := 1; i < len(refs); i++ {
		if refs[i] == refs[i-1] {
			return apperrors.NewAppError(apperrors.CodeInternal, "duplicate entry reference "+refs[i], nil)
		}
	}
	return nil
}

func describe(ev domain.PostingEvent) string {
	if ev.Description != "" {
		return ev.Description
	}
	return fmt.Sprintf("%s %s on %s", ev.Kind, ev.Amount.StringFixed(2), ev.Primary.AccountID)
}
