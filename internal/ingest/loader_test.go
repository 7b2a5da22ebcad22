package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/smallbiznis/loanportfolio/internal/config"
	"github.com/smallbiznis/loanportfolio/internal/loan/domain"
	"github.com/smallbiznis/loanportfolio/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const applicationsHeader = "application_id,customer_email,installer_partner_id,installation_type,system_size_kwp,loan_amount_eur,loan_term_months,application_date,credit_score,annual_income_eur,postal_code,status\n"

func TestLoad_Applications_TypedRows(t *testing.T) {
	input := applicationsHeader +
		"APP001, Jane.Doe @Example.com ,INS1,Solar_PV,6.5,25000.50,120,2024-03-01,760,55000,01067,Approved\n" +
		"APP002,,INS2,heat_pump,,18000,,not-a-date,,0,1234,declined\n"

	batch, err := Load(context.Background(), strings.NewReader(input), ApplicationSchema)
	require.NoError(t, err)
	require.Len(t, batch.Records, 2)
	assert.Empty(t, batch.Quarantined)
	assert.Equal(t, 2, batch.RowsRead())

	first := batch.Records[0]
	assert.Equal(t, 2, first.SourceLine)
	assert.Equal(t, "APP001", first.ApplicationID)
	assert.Equal(t, "jane.doe@example.com", first.CustomerEmail)
	assert.Equal(t, "Solar_PV", first.InstallationType, "installation types are kept as written")
	require.NotNil(t, first.SystemSizeKWp)
	assert.Equal(t, 6.5, *first.SystemSizeKWp)
	assert.Equal(t, "25000.5", first.LoanAmountEUR.String())
	assert.Equal(t, 760, *first.CreditScore)
	assert.Equal(t, "01067", first.PostalCode, "postal codes keep leading zeros")
	assert.Equal(t, "approved", first.Status)
	assert.Equal(t, "2024-03-01", first.ApplicationDate.Format("2006-01-02"))

	second := batch.Records[1]
	assert.Nil(t, second.SystemSizeKWp)
	assert.Nil(t, second.ApplicationDate, "unparseable dates load as NULL")
	assert.Nil(t, second.CreditScore)
	assert.True(t, second.AnnualIncomeEUR.IsZero())
}

func TestLoad_QuarantinesMisalignedRows(t *testing.T) {
	input := applicationsHeader +
		"APP001,a@b.de,INS1,solar_pv,5,20000,120,2024-01-10,700,50000,10115,approved\n" +
		"APP030,john comma,doe@x.de,INS3,solar_pv,5,20000,120,2024-01-10,700,50000,10115,approved\n" +
		"APP031,c@d.de,INS1,solar_pv,5,20000\n" +
		"APP002,e@f.de,INS1,heat_pump,,9000,60,2024-01-11,650,40000,20095,approved\n"

	batch, err := Load(context.Background(), strings.NewReader(input), ApplicationSchema)
	require.NoError(t, err)

	require.Len(t, batch.Records, 2)
	assert.Equal(t, "APP001", batch.Records[0].ApplicationID)
	assert.Equal(t, "APP002", batch.Records[1].ApplicationID)

	require.Len(t, batch.Quarantined, 2)
	extra := batch.Quarantined[0]
	assert.Equal(t, domain.SourceApplications, extra.Source)
	assert.Equal(t, 3, extra.LineNumber)
	assert.Equal(t, 13, extra.FieldCount)
	assert.Equal(t, 12, extra.ExpectedFieldCount)
	assert.Contains(t, extra.Reason, "unexpected field count")
	assert.True(t, strings.HasPrefix(extra.Raw, "APP030,john comma,doe@x.de"))

	assert.Equal(t, 4, batch.Quarantined[1].LineNumber)
	assert.Equal(t, 4, batch.RowsRead())
}

func TestLoad_UnbalancedQuoteOnlyQuarantinesItsLine(t *testing.T) {
	input := applicationsHeader +
		"APP001,a@b.de,INS1,solar_pv,5,20000,120,2024-01-10,700,50000,10115,approved\n" +
		"APP002,\"c@d.de,INS1,solar_pv,5,20000,120,2024-01-10,700,50000,10115,approved\n" +
		"APP003,e@f.de,INS1,heat_pump,,9000,60,2024-01-11,650,40000,20095,approved\n"

	batch, err := Load(context.Background(), strings.NewReader(input), ApplicationSchema)
	require.NoError(t, err)

	require.Len(t, batch.Records, 2)
	assert.Equal(t, "APP001", batch.Records[0].ApplicationID)
	assert.Equal(t, "APP003", batch.Records[1].ApplicationID)
	assert.Equal(t, 4, batch.Records[1].SourceLine)

	require.Len(t, batch.Quarantined, 1)
	broken := batch.Quarantined[0]
	assert.Equal(t, 3, broken.LineNumber)
	assert.Equal(t, 2, broken.FieldCount)
	assert.Contains(t, broken.Reason, "unexpected field count")
	assert.Equal(t, 3, batch.RowsRead())
}

func TestLoad_CRLFAndBlankLines(t *testing.T) {
	input := "loan_id,application_id,current_balance_eur,disbursement_date,days_past_due\r\n" +
		"L1,APP1,100,2024-01-01,0\r\n" +
		"\r\n" +
		"L2,APP2,200,2024-01-02,3"

	batch, err := Load(context.Background(), strings.NewReader(input), ServicingSchema)
	require.NoError(t, err)
	require.Len(t, batch.Records, 2)
	assert.Empty(t, batch.Quarantined)
	assert.Equal(t, "100", batch.Records[0].CurrentBalanceEUR.String())
	assert.Equal(t, 4, batch.Records[1].SourceLine)
	assert.Equal(t, 3, *batch.Records[1].DaysPastDue)
}

func TestLoad_InstallationTypeCaseVariantIsFlagged(t *testing.T) {
	input := applicationsHeader +
		"APP001,a@b.de,INS1,Solar_PV,5,20000,120,2024-01-10,700,50000,10115,approved\n"

	batch, err := Load(context.Background(), strings.NewReader(input), ApplicationSchema)
	require.NoError(t, err)
	require.Len(t, batch.Records, 1)

	flags := validation.ApplicationRules(config.DefaultRules(), batch.Records).Evaluate(batch.Records[0])
	assert.Equal(t, []string{validation.RuleInstallationTypeInvalid}, flags.Violations())
}

func TestLoad_MissingRequiredColumnIsFatal(t *testing.T) {
	input := "loan_id,application_id,current_balance_eur,days_past_due\nL1,APP1,100,0\n"

	_, err := Load(context.Background(), strings.NewReader(input), ServicingSchema)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMissingColumn)
	assert.Contains(t, err.Error(), "disbursement_date")
}

func TestLoad_EmptySourceIsFatal(t *testing.T) {
	_, err := Load(context.Background(), strings.NewReader(""), ServicingSchema)
	assert.ErrorIs(t, err, domain.ErrMissingHeader)
}

func TestLoad_ServicingOptionalColumns(t *testing.T) {
	input := "\ufeffLoan_ID,application_id,original_loan_amount_eur,current_balance_eur,disbursement_date,days_past_due,payment_status\n" +
		"L1,APP1,20000,15000.25,2024-02-01,45,Late\n" +
		"L2,APP2,,,,,\n"

	batch, err := Load(context.Background(), strings.NewReader(input), ServicingSchema)
	require.NoError(t, err)
	require.Len(t, batch.Records, 2)

	rec := batch.Records[0]
	assert.Equal(t, "L1", rec.LoanID, "header names are normalised")
	assert.Equal(t, "15000.25", rec.CurrentBalanceEUR.String())
	assert.Equal(t, 45, *rec.DaysPastDue)
	assert.Equal(t, "late", rec.PaymentStatus)
	assert.Nil(t, rec.LastPaymentDate)

	empty := batch.Records[1]
	assert.Nil(t, empty.OriginalLoanAmountEUR)
	assert.Nil(t, empty.CurrentBalanceEUR)
	assert.Nil(t, empty.DaysPastDue)
}

func TestLoad_HonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Load(ctx, strings.NewReader(applicationsHeader+"x\n"), ApplicationSchema)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenSource_Missing(t *testing.T) {
	_, err := OpenSource(filepath.Join(t.TempDir(), "nope.csv"))
	assert.ErrorIs(t, err, domain.ErrMissingSource)

	path := filepath.Join(t.TempDir(), "ok.csv")
	require.NoError(t, os.WriteFile(path, []byte(applicationsHeader), 0o600))
	f, err := OpenSource(path)
	require.NoError(t, err)
	_ = f.Close()
}

func TestParseInt(t *testing.T) {
	cases := map[string]*int{
		"720":   intp(720),
		"720.0": intp(720),
		" 12 ":  intp(12),
		"7.5":   nil,
		"abc":   nil,
		"":      nil,
	}
	for in, want := range cases {
		got := parseInt(in)
		if want == nil {
			assert.Nil(t, got, in)
			continue
		}
		require.NotNil(t, got, in)
		assert.Equal(t, *want, *got, in)
	}
}

func intp(v int) *int { return &v }
