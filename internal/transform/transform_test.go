package transform

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/loanportfolio/internal/config"
	"github.com/smallbiznis/loanportfolio/internal/loan/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int { return &v }

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func day(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestRiskCategory(t *testing.T) {
	e := New(config.DefaultRules())
	cases := []struct {
		score *int
		want  string
	}{
		{intp(760), "Excellent"},
		{intp(750), "Excellent"},
		{intp(749), "Good"},
		{intp(700), "Good"},
		{intp(699), "Fair"},
		{intp(650), "Fair"},
		{intp(649), "Poor"},
		{intp(300), "Poor"},
		{intp(850), "Excellent"},
		{intp(851), config.RiskCategoryUnknown},
		{intp(299), config.RiskCategoryUnknown},
		{intp(-5), config.RiskCategoryUnknown},
		{nil, config.RiskCategoryUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, e.RiskCategory(tc.score), "score %v", tc.score)
	}
}

func TestLoanToIncomeRatio(t *testing.T) {
	ratio := LoanToIncomeRatio(dec("20000"), dec("60000"))
	require.NotNil(t, ratio)
	assert.Equal(t, "0.3333", ratio.String())
	assert.Equal(t, "0.6667", LoanToIncomeRatio(dec("40000"), dec("60000")).String(), "half away from zero at four places")

	assert.Nil(t, LoanToIncomeRatio(dec("20000"), dec("0")))
	assert.Nil(t, LoanToIncomeRatio(dec("20000"), dec("-100")))
	assert.Nil(t, LoanToIncomeRatio(dec("20000"), nil))
	assert.Nil(t, LoanToIncomeRatio(nil, dec("60000")))
	assert.Nil(t, LoanToIncomeRatio(dec("-1"), dec("60000")))
}

func TestDelinquencyBucket(t *testing.T) {
	e := New(config.DefaultRules())
	cases := []struct {
		days *int
		want string
	}{
		{intp(0), "Current"},
		{intp(1), "Late"},
		{intp(30), "Late"},
		{intp(31), "Delinquent"},
		{intp(45), "Delinquent"},
		{intp(90), "Delinquent"},
		{intp(91), "Default"},
		{intp(400), "Default"},
	}
	for _, tc := range cases {
		got := e.DelinquencyBucket(tc.days)
		require.NotNil(t, got, "days %d", *tc.days)
		assert.Equal(t, tc.want, *got, "days %d", *tc.days)
	}

	assert.Nil(t, e.DelinquencyBucket(nil))
	assert.Nil(t, e.DelinquencyBucket(intp(-1)))
}

func TestMonthsSinceDisbursement(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	now := time.Date(2024, 6, 15, 9, 30, 0, 0, berlin)

	cases := []struct {
		name      string
		disbursed *time.Time
		want      *int
	}{
		{"same day", day("2024-06-15"), intp(0)},
		{"one day short of a month", day("2024-05-16"), intp(0)},
		{"exactly one month", day("2024-05-15"), intp(1)},
		{"across a year", day("2023-01-31"), intp(16)},
		{"future", day("2024-06-16"), nil},
		{"null", nil, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, MonthsSinceDisbursement(tc.disbursed, now))
		})
	}
}

func TestEstimatedRemainingBalance(t *testing.T) {
	balance, estimate := EstimatedRemainingBalance(dec("900.50"), dec("1000"))
	require.NotNil(t, balance)
	assert.True(t, balance.Equal(decimal.RequireFromString("900.50")))
	assert.False(t, estimate)

	balance, estimate = EstimatedRemainingBalance(nil, dec("1000"))
	require.NotNil(t, balance)
	assert.True(t, balance.Equal(decimal.NewFromInt(1000)))
	assert.True(t, estimate)

	balance, estimate = EstimatedRemainingBalance(nil, nil)
	assert.Nil(t, balance)
	assert.False(t, estimate)
}

func TestCleanApplication(t *testing.T) {
	e := New(config.DefaultRules())
	processedAt := time.Date(2024, 6, 15, 9, 30, 0, 0, time.UTC)
	app := domain.Application{
		SourceLine:      2,
		ApplicationID:   "app_1",
		CreditScore:     intp(760),
		LoanAmountEUR:   dec("15000"),
		AnnualIncomeEUR: dec("50000"),
		PostalCode:      "01067",
	}

	cleaned := e.CleanApplication(app, nil, processedAt)

	assert.Equal(t, app, cleaned.Application)
	assert.Equal(t, "Excellent", cleaned.RiskCategory)
	require.NotNil(t, cleaned.LoanToIncomeRatio)
	assert.Equal(t, "0.3", cleaned.LoanToIncomeRatio.String())
	assert.NotNil(t, cleaned.DataQualityFlags)
	assert.Equal(t, processedAt, cleaned.ProcessedAt)
}

func TestDeriveServicing_FallsBackToApplicationAmount(t *testing.T) {
	e := New(config.DefaultRules())
	rec := domain.ServicingRecord{LoanID: "loan_1", DaysPastDue: intp(45)}

	got := e.DeriveServicing(rec, dec("12000"), time.Now())

	require.NotNil(t, got.DelinquencyBucket)
	assert.Equal(t, "Delinquent", *got.DelinquencyBucket)
	require.NotNil(t, got.EstimatedRemainingBalance)
	assert.True(t, got.EstimatedRemainingBalance.Equal(decimal.NewFromInt(12000)))
	assert.True(t, got.RemainingBalanceIsEstimate)
	assert.Nil(t, got.MonthsSinceDisbursement)
}
