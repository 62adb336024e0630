package accounting

import (
	"testing"

	"github.com/SscSPs/bank_posting_core/internal/core/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCalculateSignedAmount(t *testing.T) {
	debit := domain.JournalLine{GLCode: "1000", Debit: d("10.00"), Credit: decimal.Zero}
	credit := domain.JournalLine{GLCode: "2000", Debit: decimal.Zero, Credit: d("10.00")}

	got, err := CalculateSignedAmount(debit, domain.Debit)
	assert.NoError(t, err)
	assert.True(t, d("10.00").Equal(got))

	got, err = CalculateSignedAmount(credit, domain.Debit)
	assert.NoError(t, err)
	assert.True(t, d("-10.00").Equal(got))

	got, err = CalculateSignedAmount(credit, domain.Credit)
	assert.NoError(t, err)
	assert.True(t, d("10.00").Equal(got))

	got, err = CalculateSignedAmount(debit, domain.Credit)
	assert.NoError(t, err)
	assert.True(t, d("-10.00").Equal(got))

	_, err = CalculateSignedAmount(debit, domain.Side("SIDEWAYS"))
	assert.Error(t, err)
}

func TestValidateEntryBalance(t *testing.T) {
	tests := []struct {
		name    string
		lines   []domain.JournalLine
		wantErr string
	}{
		{
			name: "balanced",
			lines: []domain.JournalLine{
				{GLCode: "1000", Debit: d("250.00"), Credit: decimal.Zero},
				{GLCode: "2000", Debit: decimal.Zero, Credit: d("250.00")},
			},
		},
		{
			name:    "single line",
			lines:   []domain.JournalLine{{GLCode: "1000", Debit: d("1.00"), Credit: decimal.Zero}},
			wantErr: "at least two lines",
		},
		{
			name: "unbalanced",
			lines: []domain.JournalLine{
				{GLCode: "1000", Debit: d("10.00"), Credit: decimal.Zero},
				{GLCode: "2000", Debit: decimal.Zero, Credit: d("9.99")},
			},
			wantErr: "does not balance",
		},
		{
			name: "both sides on one line",
			lines: []domain.JournalLine{
				{GLCode: "1000", Debit: d("10.00"), Credit: d("10.00")},
				{GLCode: "2000", Debit: decimal.Zero, Credit: d("10.00")},
			},
			wantErr: "exactly one",
		},
		{
			name: "zero line",
			lines: []domain.JournalLine{
				{GLCode: "1000", Debit: decimal.Zero, Credit: decimal.Zero},
				{GLCode: "2000", Debit: decimal.Zero, Credit: decimal.Zero},
			},
			wantErr: "exactly one",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEntryBalance(tt.lines)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestRoundingHelpers(t *testing.T) {
	assert.Equal(t, "0.12", RoundMoney(d("0.125")).String())
	assert.Equal(t, "0.14", RoundMoney(d("0.135")).String())
	assert.True(t, HasAtMostTwoDecimals(d("10.25")))
	assert.False(t, HasAtMostTwoDecimals(d("10.255")))

	assert.Equal(t, "1.00", DailyAccrual(d("10000.00"), d("0.0365")).StringFixed(2))
	assert.Equal(t, "0.50", PercentOf(d("25.00"), d("0.02")).StringFixed(2))
}

func TestSpreadFeeShares(t *testing.T) {
	schedule := []domain.AmortizationRow{
		{Index: 1, ExpectedPrincipal: d("100.00")},
		{Index: 2, ExpectedPrincipal: d("100.00")},
		{Index: 3, ExpectedPrincipal: d("100.00")},
	}
	p := domain.ProductParams{FeeStrategy: domain.FeeSpread, OriginationFeeRate: d("0.0333")}

	shares := SpreadFeeShares(schedule, p)
	// 9.99 over three installments
	assert.Equal(t, "3.33", shares[1].StringFixed(2))
	assert.Equal(t, "3.33", shares[2].StringFixed(2))
	assert.Equal(t, "3.33", shares[3].StringFixed(2))

	schedule[2].ExpectedPrincipal = d("101.00")
	p.OriginationFeeRate = d("0.01")
	shares = SpreadFeeShares(schedule, p)
	assert.Equal(t, "1.00", shares[1].StringFixed(2))
	assert.Equal(t, "1.00", shares[2].StringFixed(2))
	assert.Equal(t, "1.01", shares[3].StringFixed(2))

	assert.Nil(t, SpreadFeeShares(schedule, domain.ProductParams{FeeStrategy: domain.FeeUpfront, OriginationFeeRate: d("0.01")}))
	assert.Nil(t, SpreadFeeShares(nil, p))
}
