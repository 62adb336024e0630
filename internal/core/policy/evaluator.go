package policy

import (
	"fmt"
	"time"

	"github.com/SscSPs/bank_posting_core/internal/apperrors"
	"github.com/SscSPs/bank_posting_core/internal/core/domain"
	"github.com/SscSPs/bank_posting_core/internal/utils/accounting"
	"github.com/shopspring/decimal"
)

// Rule names carried by POLICY_REJECTED errors.
const (
	RuleMinimumBalance      = "minimum_balance"
	RuleSufficientFunds     = "sufficient_funds"
	RulePrepayment          = "prepayment"
	RuleCustomerLoanCap     = "customer_loan_cap"
	RuleGracePeriod         = "grace_period"
	RuleTimeDepositMaturity = "time_deposit_maturity"
)

// Input is everything a decision depends on. The evaluator never reads or writes state.
type Input struct {
	Event   domain.PostingEvent
	Context domain.PolicyContext
}

// FeeLeg is an extra leg policy appends to the event.
type FeeLeg struct {
	Role   domain.LegRole
	Amount decimal.Decimal
	Memo   string
}

// Due is what an installment requires from the current payment after grace adjustment.
type Due struct {
	Index     int
	Principal decimal.Decimal
	Interest  decimal.Decimal
	Penalty   decimal.Decimal
	InGrace   bool
}

// Decision is the outcome of evaluation. Rejections carry the rule that fired.
type Decision struct {
	Accepted   bool
	Rule       string
	Reason     string
	Fees       []FeeLeg
	Overdue    []Due
	Upcoming   []Due
	Prepayment bool
	Retire     bool
}

// Err converts a rejection into a POLICY_REJECTED error.
func (d Decision) Err() error {
	if d.Accepted {
		return nil
	}
	return apperrors.NewPolicyRejected(d.Rule, d.Reason)
}

func accept() Decision { return Decision{Accepted: true} }

func reject(rule, format string, args ...any) Decision {
	return Decision{Rule: rule, Reason: fmt.Sprintf(format, args...)}
}

// Evaluator runs the fixed battery of pre-posting rules.
type Evaluator struct{}

func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate returns accept or reject for the event. Errors are reserved for events
// that are inconsistent with the accounts they target.
func (e *Evaluator) Evaluate(in Input) (Decision, error) {
	ev := in.Event
	if err := ev.Primary.ProductKind.Validate(); err != nil {
		return Decision{}, apperrors.BadRequestf("account %s: %v", ev.Primary.AccountID, err)
	}

	switch ev.Kind {
	case domain.Deposit:
		if !ev.Primary.ProductKind.IsDeposit() {
			return Decision{}, apperrors.BadRequestf("deposit requires a deposit account, %s is %s", ev.Primary.AccountID, ev.Primary.ProductKind)
		}
		return accept(), nil
	case domain.Withdrawal:
		if !ev.Primary.ProductKind.IsDeposit() {
			return Decision{}, apperrors.BadRequestf("withdrawal requires a deposit account, %s is %s", ev.Primary.AccountID, ev.Primary.ProductKind)
		}
		return e.withdrawal(ev), nil
	case domain.Transfer:
		if ev.Counterparty == nil {
			return Decision{}, apperrors.BadRequestf("transfer requires a counterparty account")
		}
		if !ev.Primary.ProductKind.IsDeposit() || !ev.Counterparty.ProductKind.IsDeposit() {
			return Decision{}, apperrors.BadRequestf("transfers are only supported between deposit accounts")
		}
		return e.transfer(ev), nil
	case domain.Disbursement:
		if ev.Primary.ProductKind != domain.Loan {
			return Decision{}, apperrors.BadRequestf("disbursement requires a loan account, %s is %s", ev.Primary.AccountID, ev.Primary.ProductKind)
		}
		return e.disbursement(ev, in.Context), nil
	case domain.Repayment:
		if ev.Primary.ProductKind != domain.Loan {
			return Decision{}, apperrors.BadRequestf("repayment requires a loan account, %s is %s", ev.Primary.AccountID, ev.Primary.ProductKind)
		}
		return e.repayment(ev, in.Context), nil
	case domain.InterestAccrual, domain.Fee, domain.Penalty, domain.Compensation:
		return accept(), nil
	default:
		return Decision{}, apperrors.BadRequestf("unknown event kind %q", ev.Kind)
	}
}

func (e *Evaluator) withdrawal(ev domain.PostingEvent) Decision {
	acc := ev.Primary
	post := acc.Balance.Sub(ev.Amount)

	if d, rejected := e.debitChecks(acc, ev.Product, post); rejected {
		return d
	}

	d := accept()
	switch acc.ProductKind {
	case domain.TimeDeposit:
		if beforeMaturity(ev.Product, ev.Today) {
			fee := accounting.PercentOf(ev.Amount, ev.Product.EarlyWithdrawalPenaltyRate)
			if fee.GreaterThanOrEqual(ev.Amount) {
				return reject(RuleTimeDepositMaturity, "early-withdrawal penalty %s consumes the whole withdrawal", fee.StringFixed(2))
			}
			if fee.IsPositive() {
				d.Fees = append(d.Fees, FeeLeg{
					Role:   domain.RoleEarlyWithdrawal,
					Amount: fee,
					Memo:   "early withdrawal before " + ev.Product.MaturityDate.Format(time.DateOnly),
				})
			}
		}
		d.Retire = post.IsZero()
	case domain.RegularSavings, domain.HighYield, domain.Loan:
	}
	return d
}

func (e *Evaluator) transfer(ev domain.PostingEvent) Decision {
	src := ev.Primary
	post := src.Balance.Sub(ev.Amount)

	if d, rejected := e.debitChecks(src, ev.Product, post); rejected {
		return d
	}
	if src.ProductKind == domain.TimeDeposit && beforeMaturity(ev.Product, ev.Today) {
		return reject(RuleTimeDepositMaturity, "time deposit %s cannot transfer out before %s", src.AccountID, ev.Product.MaturityDate.Format(time.DateOnly))
	}
	return accept()
}

// debitChecks applies sufficient funds to every deposit kind and minimum balance to regular savings.
func (e *Evaluator) debitChecks(acc domain.OperationalAccount, p domain.ProductParams, post decimal.Decimal) (Decision, bool) {
	if post.IsNegative() {
		return reject(RuleSufficientFunds, "balance %s of %s cannot cover the debit", acc.Balance.StringFixed(2), acc.AccountID), true
	}
	switch acc.ProductKind {
	case domain.RegularSavings:
		if post.LessThan(p.MinimumBalance) {
			return reject(RuleMinimumBalance, "balance would drop to %s, below the minimum %s", post.StringFixed(2), p.MinimumBalance.StringFixed(2)), true
		}
	case domain.HighYield, domain.TimeDeposit, domain.Loan:
	}
	return Decision{}, false
}

func (e *Evaluator) disbursement(ev domain.PostingEvent, pc domain.PolicyContext) Decision {
	capAmount := ev.Product.CustomerLoanCap
	if !capAmount.IsPositive() {
		return accept()
	}
	total := pc.CustomerOutstanding.Add(ev.Primary.Balance).Add(ev.Amount)
	if total.GreaterThan(capAmount) {
		return reject(RuleCustomerLoanCap, "customer %s outstanding would reach %s, above the cap %s",
			ev.Primary.CustomerID, total.StringFixed(2), capAmount.StringFixed(2))
	}
	return accept()
}

func (e *Evaluator) repayment(ev domain.PostingEvent, pc domain.PolicyContext) Decision {
	loan := ev.Primary
	outstanding := loan.Balance
	graceEnd := graceWindowEnd(loan, ev.Product)
	shares := accounting.SpreadFeeShares(pc.Schedule, ev.Product)

	d := accept()
	nonPrincipal := decimal.Zero
	principalDue := decimal.Zero
	unpaidFees := decimal.Zero
	interestUnderGrace := false
	var firstDue time.Time
	for _, row := range pc.Schedule {
		if firstDue.IsZero() || row.DueDate.Before(firstDue) {
			firstDue = row.DueDate
		}
		if row.IsPaid() {
			continue
		}
		if share, ok := shares[row.Index]; ok {
			unpaidFees = unpaidFees.Add(share)
		}
		due := Due{
			Index:     row.Index,
			Principal: positive(row.DuePrincipal()),
			Interest:  positive(row.DueInterest()),
			Penalty:   positive(row.DuePenalty()),
		}
		if !row.DueDate.Before(ev.Today) {
			d.Upcoming = append(d.Upcoming, Due{Index: row.Index, Principal: due.Principal})
			continue
		}
		if row.DueDate.Before(graceEnd) {
			due.InGrace = true
			switch ev.Product.GraceType {
			case domain.FullGrace:
				due.Interest = decimal.Zero
				due.Penalty = decimal.Zero
			case domain.PrincipalOnlyGrace:
				due.Principal = decimal.Zero
				interestUnderGrace = interestUnderGrace || due.Interest.IsPositive()
			case domain.GraceNone:
			}
		}
		nonPrincipal = nonPrincipal.Add(due.Penalty).Add(due.Interest)
		principalDue = principalDue.Add(due.Principal)
		d.Overdue = append(d.Overdue, due)
	}

	if !outstanding.IsPositive() && !nonPrincipal.IsPositive() {
		return reject(RuleSufficientFunds, "loan %s has nothing outstanding", loan.AccountID)
	}

	// Fees are carved out of the payment, so retiring the loan costs the dues, the
	// outstanding principal, every unpaid fee share and any prepayment penalty.
	owed := nonPrincipal.Add(outstanding)
	early := outstanding.IsPositive() && !firstDue.IsZero() && ev.Today.Before(firstDue)
	penalty := decimal.Zero
	if early && ev.Product.Prepayment == domain.PrepaymentWithPenalty {
		penalty = accounting.PercentOf(positive(outstanding.Sub(principalDue)), ev.Product.PenaltyRate)
	}
	payoff := owed.Add(unpaidFees).Add(penalty)
	if ev.Amount.GreaterThan(payoff) {
		return reject(RuleSufficientFunds, "payment %s exceeds amount owed %s", ev.Amount.StringFixed(2), payoff.StringFixed(2))
	}
	d.Retire = outstanding.IsPositive() && ev.Amount.Equal(payoff)
	short := ev.Amount.GreaterThan(owed) || (outstanding.IsPositive() && ev.Amount.Equal(owed))
	if !d.Retire && short {
		return reject(RuleSufficientFunds, "payment %s reaches the %s owed but not the %s payoff",
			ev.Amount.StringFixed(2), owed.StringFixed(2), payoff.StringFixed(2))
	}
	if interestUnderGrace && ev.Amount.LessThan(nonPrincipal) {
		return reject(RuleGracePeriod, "principal-only grace still requires interest of %s", nonPrincipal.StringFixed(2))
	}

	if d.Retire && early {
		d.Prepayment = true
		switch ev.Product.Prepayment {
		case domain.PrepaymentForbidden:
			return reject(RulePrepayment, "loan %s cannot be retired before its first installment on %s",
				loan.AccountID, firstDue.Format(time.DateOnly))
		case domain.PrepaymentWithPenalty:
			if penalty.IsPositive() {
				d.Fees = append(d.Fees, FeeLeg{Role: domain.RolePrepaymentPenalty, Amount: penalty, Memo: "prepayment penalty"})
			}
		case domain.PrepaymentAllowed:
		}
	}
	return d
}

func beforeMaturity(p domain.ProductParams, today time.Time) bool {
	return p.MaturityDate != nil && today.Before(*p.MaturityDate)
}

func graceWindowEnd(loan domain.OperationalAccount, p domain.ProductParams) time.Time {
	if p.GraceMonths <= 0 || p.GraceType == domain.GraceNone {
		return time.Time{}
	}
	return loan.OpenedAt.AddDate(0, p.GraceMonths, 0)
}

func positive(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
