package posting

import (
	"fmt"
	"sort"
	"time"

	"github.com/SscSPs/bank_posting_core/internal/apperrors"
	"github.com/SscSPs/bank_posting_core/internal/core/domain"
	"github.com/SscSPs/bank_posting_core/internal/core/policy"
	"github.com/SscSPs/bank_posting_core/internal/utils/accounting"
	"github.com/shopspring/decimal"
)

// allocation tracks what one repayment pays into each installment.
type allocation struct {
	order   []int
	byIndex map[int]*domain.InstallmentPayment
}

func newAllocation() *allocation {
	return &allocation{byIndex: map[int]*domain.InstallmentPayment{}}
}

func (a *allocation) at(index int) *domain.InstallmentPayment {
	p, ok := a.byIndex[index]
	if !ok {
		p = &domain.InstallmentPayment{Index: index, Principal: decimal.Zero, Interest: decimal.Zero, Penalty: decimal.Zero}
		a.byIndex[index] = p
		a.order = append(a.order, index)
	}
	return p
}

func (a *allocation) payments() []domain.InstallmentPayment {
	sort.Ints(a.order)
	out := make([]domain.InstallmentPayment, 0, len(a.order))
	for _, i := range a.order {
		out = append(out, *a.byIndex[i])
	}
	return out
}

// waterfall is one pass of an amount over the installments: penalty, then interest over
// overdue rows, then principal over overdue and upcoming rows. What is left is unattributed principal.
type waterfall struct {
	alloc     *allocation
	penalty   decimal.Decimal
	interest  decimal.Decimal
	principal decimal.Decimal
	remaining decimal.Decimal
}

func runWaterfall(decision policy.Decision, amount decimal.Decimal) waterfall {
	w := waterfall{alloc: newAllocation(), penalty: decimal.Zero, interest: decimal.Zero, principal: decimal.Zero, remaining: amount}
	take := func(due decimal.Decimal) decimal.Decimal {
		if !due.IsPositive() || !w.remaining.IsPositive() {
			return decimal.Zero
		}
		paid := decimal.Min(due, w.remaining)
		w.remaining = w.remaining.Sub(paid)
		return paid
	}

	for _, due := range decision.Overdue {
		if paid := take(due.Penalty); paid.IsPositive() {
			w.alloc.at(due.Index).Penalty = paid
			w.penalty = w.penalty.Add(paid)
		}
	}
	for _, due := range decision.Overdue {
		if paid := take(due.Interest); paid.IsPositive() {
			w.alloc.at(due.Index).Interest = paid
			w.interest = w.interest.Add(paid)
		}
	}
	for _, due := range append(append([]policy.Due{}, decision.Overdue...), decision.Upcoming...) {
		if paid := take(due.Principal); paid.IsPositive() {
			p := w.alloc.at(due.Index)
			p.Principal = p.Principal.Add(paid)
			w.principal = w.principal.Add(paid)
		}
	}
	return w
}

// repayment carves the policy fees and the spread origination fee out of the payment and runs
// the waterfall on what is left, so the cash leg always equals the amount paid.
func (e *Engine) repayment(ev domain.PostingEvent, decision policy.Decision, schedule []domain.AmortizationRow) ([]domain.DraftEntry, []domain.InstallmentPayment, error) {
	loan := ev.Primary
	net := ev.Amount
	for _, fee := range decision.Fees {
		net = net.Sub(fee.Amount)
	}
	if !net.IsPositive() {
		return nil, nil, apperrors.BadRequestf("fees %s consume the whole repayment", ev.Amount.Sub(net).StringFixed(2))
	}

	shares := accounting.SpreadFeeShares(schedule, ev.Product)
	var spread []feeShare
	var w waterfall
	if decision.Retire {
		// retiring recognises every fee share still unpaid
		spread = unpaidShares(schedule, shares)
		w = runWaterfall(decision, net.Sub(sumShares(spread)))
	} else {
		w = runWaterfall(decision, net)
		if first := completedShares(schedule, shares, w.alloc.payments(), ev.Today); len(first) > 0 {
			// fees only for installments the payment still completes once they are carved out;
			// the difference stays with principal
			w = runWaterfall(decision, net.Sub(sumShares(first)))
			spread = completedShares(schedule, shares, w.alloc.payments(), ev.Today)
			w.remaining = w.remaining.Add(sumShares(first).Sub(sumShares(spread)))
		}
	}

	principal := w.principal.Add(w.remaining)
	if principal.GreaterThan(loan.Balance) {
		return nil, nil, apperrors.BadRequestf("repayment principal %s exceeds outstanding %s", principal.StringFixed(2), loan.Balance.StringFixed(2))
	}

	legs := roundLegs(net.Sub(sumShares(spread)), []decimal.Decimal{w.penalty, w.interest, principal})
	penalty, interest := legs[0], legs[1]
	principal = legs[2]

	accrued := decimal.Min(interest, decimal.Max(loan.AccruedInterest, decimal.Zero))
	b := e.builder(loan)
	for _, l := range []struct {
		role   domain.LegRole
		amount decimal.Decimal
		memo   string
	}{
		{domain.RolePenalty, penalty, "penalty"},
		{domain.RoleAccruedInterest, accrued, "accrued interest"},
		{domain.RoleInterest, interest.Sub(accrued), "interest"},
		{domain.RolePrincipal, principal, "principal"},
	} {
		if err := b.leg(ev.Kind, l.role, l.amount, l.memo); err != nil {
			return nil, nil, err
		}
	}
	for _, fee := range decision.Fees {
		if err := b.leg(ev.Kind, fee.Role, fee.Amount, fee.Memo); err != nil {
			return nil, nil, err
		}
	}
	for _, sh := range spread {
		if err := b.leg(ev.Kind, domain.RoleOriginationFee, sh.amount, fmt.Sprintf("origination fee installment %d", sh.index)); err != nil {
			return nil, nil, err
		}
	}
	return []domain.DraftEntry{b.entry(ev.Reference, describe(ev), ev.Kind)}, w.alloc.payments(), nil
}

// roundLegs rounds each leg to money and gives any residual cent to the last non-zero leg
// so the legs sum to gross.
func roundLegs(gross decimal.Decimal, legs []decimal.Decimal) []decimal.Decimal {
	out := make([]decimal.Decimal, len(legs))
	sum := decimal.Zero
	last := -1
	for i, l := range legs {
		out[i] = accounting.RoundMoney(l)
		sum = sum.Add(out[i])
		if out[i].IsPositive() {
			last = i
		}
	}
	if residual := gross.Sub(sum); !residual.IsZero() && last >= 0 {
		out[last] = out[last].Add(residual)
	}
	return out
}

type feeShare struct {
	index  int
	amount decimal.Decimal
}

func sumShares(shares []feeShare) decimal.Decimal {
	total := decimal.Zero
	for _, sh := range shares {
		total = total.Add(sh.amount)
	}
	return total
}

func unpaidShares(schedule []domain.AmortizationRow, shares map[int]decimal.Decimal) []feeShare {
	var out []feeShare
	for _, r := range schedule {
		if amount, ok := shares[r.Index]; ok && !r.IsPaid() && amount.IsPositive() {
			out = append(out, feeShare{r.Index, amount})
		}
	}
	return out
}

// completedShares returns the origination fee share of every installment the payments complete.
func completedShares(schedule []domain.AmortizationRow, shares map[int]decimal.Decimal, payments []domain.InstallmentPayment, today time.Time) []feeShare {
	if len(shares) == 0 {
		return nil
	}
	after := domain.ApplyInstallments(schedule, payments, today)
	var out []feeShare
	for i, r := range schedule {
		if r.IsPaid() || !after[i].IsPaid() {
			continue
		}
		if amount, ok := shares[r.Index]; ok && amount.IsPositive() {
			out = append(out, feeShare{r.Index, amount})
		}
	}
	return out
}
