package accounting

import (
	"fmt"

	"github.com/SscSPs/bank_posting_core/internal/core/domain"
	"github.com/shopspring/decimal"
)

// DaysInYear is the day-count basis for daily accrual.
var DaysInYear = decimal.NewFromInt(365)

// CalculateSignedAmount applies the sign of a journal line relative to the normal side of its GL account.
// This is used by the engine, the writers and reconciliation so they agree on balance direction.
func CalculateSignedAmount(line domain.JournalLine, normalSide domain.Side) (decimal.Decimal, error) {
	amount := line.Amount()
	// DEBIT to a debit-normal account -> Positive (+)
	// CREDIT to a debit-normal account -> Negative (-)
	// and the mirror for credit-normal accounts.
	switch normalSide {
	case domain.Debit:
		if line.Side() == domain.Credit {
			amount = amount.Neg()
		}
	case domain.Credit:
		if line.Side() == domain.Debit {
			amount = amount.Neg()
		}
	default:
		return decimal.Zero, fmt.Errorf("unknown normal side '%s' for GL code %s", normalSide, line.GLCode)
	}
	return amount, nil
}

// ValidateEntryBalance checks that the lines form a balanced entry: at least two lines,
// exactly one positive side per line and equal, positive totals.
func ValidateEntryBalance(lines []domain.JournalLine) error {
	if len(lines) < 2 {
		return fmt.Errorf("journal entry must have at least two lines")
	}

	debits, credits := decimal.Zero, decimal.Zero
	for i, l := range lines {
		if l.Debit.IsNegative() || l.Credit.IsNegative() {
			return fmt.Errorf("line %d on %s has a negative amount", i, l.GLCode)
		}
		if l.Debit.IsPositive() == l.Credit.IsPositive() {
			return fmt.Errorf("line %d on %s must have exactly one of debit or credit positive", i, l.GLCode)
		}
		debits = debits.Add(l.Debit)
		credits = credits.Add(l.Credit)
	}

	if !debits.Equal(credits) {
		return fmt.Errorf("journal entry does not balance: debits %s, credits %s", debits.StringFixed(2), credits.StringFixed(2))
	}
	return nil
}

// RoundMoney rounds to two fractional digits with banker's rounding.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(2)
}

// HasAtMostTwoDecimals reports whether d needs no rounding to be a money amount.
func HasAtMostTwoDecimals(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(2))
}

// DailyAccrual is balance × annual rate / 365, rounded to money.
func DailyAccrual(balance, annualRate decimal.Decimal) decimal.Decimal {
	return RoundMoney(balance.Mul(annualRate).Div(DaysInYear))
}

// PercentOf returns rate × amount rounded to money.
func PercentOf(amount, rate decimal.Decimal) decimal.Decimal {
	return RoundMoney(amount.Mul(rate))
}

// SpreadFeeShares splits the origination fee of a spread-fee loan into one share per
// installment, keyed by installment index. The last installment absorbs the rounding remainder.
// It returns nil when the product does not spread a fee.
func SpreadFeeShares(schedule []domain.AmortizationRow, p domain.ProductParams) map[int]decimal.Decimal {
	if p.FeeStrategy != domain.FeeSpread || !p.OriginationFeeRate.IsPositive() || len(schedule) == 0 {
		return nil
	}
	principal := decimal.Zero
	lastIndex := schedule[0].Index
	for _, r := range schedule {
		principal = principal.Add(r.ExpectedPrincipal)
		if r.Index > lastIndex {
			lastIndex = r.Index
		}
	}
	total := PercentOf(principal, p.OriginationFeeRate)
	n := decimal.NewFromInt(int64(len(schedule)))
	share := RoundMoney(total.Div(n))

	out := make(map[int]decimal.Decimal, len(schedule))
	for _, r := range schedule {
		out[r.Index] = share
	}
	out[lastIndex] = total.Sub(share.Mul(n.Sub(decimal.NewFromInt(1))))
	return out
}
