package service

import (
	"context"
	"testing"

	"taxengine/internal/model"
	"taxengine/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func codesOf(anomalies []model.TaxAnomaly) []string {
	out := make([]string, 0, len(anomalies))
	for _, a := range anomalies {
		out = append(out, a.Code)
	}
	return out
}

// hstEngine posts one 13% invoice of 100.00 in March 2024.
func hstEngine(t *testing.T) (*engine, model.Document) {
	e := newEngine(t, "CA", "ON")
	hst := e.component("HST", "0.13", "")
	group := e.group(model.CalculationSimple, model.TreatmentExclusive, []model.TaxComponent{hst})
	inv := e.document(model.DocKindInvoice, march, "100.00", group, "CA-ON")
	e.post(t, inv)
	return e, inv
}

func TestDetect_CleanPeriodHasNoAnomalies(t *testing.T) {
	e, _ := hstEngine(t)

	found, err := e.detector.Detect(context.Background(), e.business.ID, "2024-03", "tester")
	require.NoError(t, err)
	assert.Empty(t, found)
	assert.Len(t, e.snapshotRepo.items, 1, "a missing snapshot is computed first")
}

func TestDetect_OverchargeIsNotAGenericMismatch(t *testing.T) {
	e, inv := hstEngine(t)
	e.details.rows[0].TaxAmount = dec("20.00")

	found, err := e.detector.Detect(context.Background(), e.business.ID, "2024-03", "tester")
	require.NoError(t, err)

	codes := codesOf(found)
	assert.Contains(t, codes, model.AnomalyOvercharge)
	assert.NotContains(t, codes, model.AnomalyRateMismatch)

	t2 := e.anomalies.byCode(model.AnomalyOvercharge)
	require.Len(t, t2, 1)
	assert.Equal(t, inv.ID, t2[0].DocumentID)
	assert.Equal(t, model.SeverityHigh, t2[0].Severity)
	assert.Equal(t, model.AnomalyOpen, t2[0].Status)
	assert.Equal(t, "CA-ON", t2[0].Scope)
}

func TestDetect_Undercharge(t *testing.T) {
	e, _ := hstEngine(t)
	e.details.rows[0].TaxAmount = dec("10.00")

	_, err := e.detector.Detect(context.Background(), e.business.ID, "2024-03", "tester")
	require.NoError(t, err)

	t1 := e.anomalies.byCode(model.AnomalyRateMismatch)
	require.Len(t, t1, 1)
	assert.Equal(t, model.SeverityMedium, t1[0].Severity)
	assert.Empty(t, e.anomalies.byCode(model.AnomalyOvercharge))
}

func TestDetect_OneCentToleranceIsNotAMismatch(t *testing.T) {
	e, inv := hstEngine(t)
	e.details.rows[0].TaxAmount = dec("13.01")
	for i := range e.documents.items {
		if e.documents.items[i].ID == inv.ID {
			e.documents.items[i].TaxTotal = dec("13.01")
		}
	}

	found, err := e.detector.Detect(context.Background(), e.business.ID, "2024-03", "tester")
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestDetect_RerunUpdatesInPlace(t *testing.T) {
	e, _ := hstEngine(t)
	e.details.rows[0].TaxAmount = dec("20.00")
	ctx := context.Background()

	first, err := e.detector.Detect(ctx, e.business.ID, "2024-03", "tester")
	require.NoError(t, err)
	second, err := e.detector.Detect(ctx, e.business.ID, "2024-03", "tester")
	require.NoError(t, err)

	assert.Equal(t, codesOf(first), codesOf(second))
	assert.Len(t, e.anomalies.rows, len(first), "no duplicate rows")
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].Details, second[i].Details)
	}
}

func TestDetect_TriagedAnomaliesAreLeftAlone(t *testing.T) {
	e, _ := hstEngine(t)
	e.details.rows[0].TaxAmount = dec("20.00")
	ctx := context.Background()

	_, err := e.detector.Detect(ctx, e.business.ID, "2024-03", "tester")
	require.NoError(t, err)
	t2 := e.anomalies.byCode(model.AnomalyOvercharge)[0]
	_, err = e.triage.ChangeStatus(ctx, e.business.ID, t2.ID, model.AnomalyAcknowledged, "customer refunded", "reviewer")
	require.NoError(t, err)

	// the row is fixed: the open rounding anomaly goes away, the acknowledged one stays as it is
	e.details.rows[0].TaxAmount = dec("13.00")
	_, err = e.detector.Detect(ctx, e.business.ID, "2024-03", "tester")
	require.NoError(t, err)

	acked := e.anomalies.byCode(model.AnomalyOvercharge)
	require.Len(t, acked, 1)
	assert.Equal(t, model.AnomalyAcknowledged, acked[0].Status)
	assert.Equal(t, "customer refunded", acked[0].StatusNote)

	rounding := e.anomalies.byCode(model.AnomalyRounding)
	require.Len(t, rounding, 1)
	assert.Equal(t, model.AnomalyResolved, rounding[0].Status)
}

func TestDetect_MissingTaxInJurisdiction(t *testing.T) {
	e := newEngine(t, "CA", "ON")
	zero := e.component("HST", "0", "")
	group := e.group(model.CalculationSimple, model.TreatmentExclusive, []model.TaxComponent{zero})
	e.post(t, e.document(model.DocKindInvoice, march, "100.00", group, "CA-ON"))

	_, err := e.detector.Detect(context.Background(), e.business.ID, "2024-03", "tester")
	require.NoError(t, err)

	t3 := e.anomalies.byCode(model.AnomalyMissingTax)
	require.Len(t, t3, 1)
	assert.Equal(t, "CA-ON", t3[0].Scope)
	assert.Equal(t, uuid.Nil, t3[0].DocumentID)
}

func TestDetect_MissingTaxIgnoredForUnregisteredBusiness(t *testing.T) {
	e := newEngine(t, "CA", "ON")
	e.business.TaxRegistered = false
	e.businesses.items[e.business.ID] = e.business
	zero := e.component("HST", "0", "")
	group := e.group(model.CalculationSimple, model.TreatmentExclusive, []model.TaxComponent{zero})
	e.post(t, e.document(model.DocKindInvoice, march, "100.00", group, "CA-ON"))

	_, err := e.detector.Detect(context.Background(), e.business.ID, "2024-03", "tester")
	require.NoError(t, err)
	assert.Empty(t, e.anomalies.byCode(model.AnomalyMissingTax))
}

func TestDetect_MissingComponent(t *testing.T) {
	e := newEngine(t, "CA", "QC")
	gst := e.component("GST", "0.05", "CA")
	qst := e.component("QST", "0.09975", "")
	group := e.group(model.CalculationSimple, model.TreatmentExclusive, []model.TaxComponent{gst, qst})
	inv := e.document(model.DocKindInvoice, march, "100.00", group, "CA-QC")
	e.post(t, inv)
	e.details.rows = e.details.rows[:1]

	_, err := e.detector.Detect(context.Background(), e.business.ID, "2024-03", "tester")
	require.NoError(t, err)

	t3 := e.anomalies.byCode(model.AnomalyMissingComponent)
	require.Len(t, t3, 1)
	assert.Equal(t, inv.ID, t3[0].DocumentID)
	assert.Equal(t, model.RefInvoiceLine, t3[0].DocumentKind)
}

func TestDetect_DocumentTotalDrift(t *testing.T) {
	e, inv := hstEngine(t)
	for i := range e.documents.items {
		if e.documents.items[i].ID == inv.ID {
			e.documents.items[i].TaxTotal = dec("13.05")
		}
	}

	_, err := e.detector.Detect(context.Background(), e.business.ID, "2024-03", "tester")
	require.NoError(t, err)

	t4 := e.anomalies.byCode(model.AnomalyRounding)
	require.Len(t, t4, 1)
	assert.Equal(t, model.SeverityLow, t4[0].Severity)
	items := t4[0].Details["items"].([]interface{})
	require.Len(t, items, 1)
	item := items[0].(map[string]interface{})
	assert.Equal(t, "13.00", item["expected_tax_total"])
	assert.Equal(t, "13.05", item["document_tax_total"])
}

func TestDetect_ExemptProductTaxed(t *testing.T) {
	e := newEngine(t, "CA", "ON")
	hst := e.component("HST", "0.13", "")
	group := e.group(model.CalculationSimple, model.TreatmentExclusive, []model.TaxComponent{hst})
	inv := e.document(model.DocKindInvoice, march, "100.00", group, "CA-ON")
	inv.Lines[0].ProductCode = "BREAD"
	e.documents.items[len(e.documents.items)-1] = inv
	e.post(t, inv)

	// the rule arrives after the invoice was taxed
	e.rules.rows = append(e.rules.rows, model.TaxProductRule{
		ID: uuid.New(), JurisdictionCode: "CA", ProductCode: "BREAD", RuleType: model.ProductRuleZeroRated, ValidFrom: epoch,
	})

	_, err := e.detector.Detect(context.Background(), e.business.ID, "2024-03", "tester")
	require.NoError(t, err)

	t5 := e.anomalies.byCode(model.AnomalyExemptTaxed)
	require.Len(t, t5, 1)
	assert.Equal(t, model.SeverityHigh, t5[0].Severity)
	assert.Empty(t, e.anomalies.byCode(model.AnomalyOvercharge))
	assert.Empty(t, e.anomalies.byCode(model.AnomalyRateMismatch))
}

func TestDetect_NegativeBalance(t *testing.T) {
	e := newEngine(t, "CA", "ON")
	hst := e.component("HST", "0.13", "")
	group := e.group(model.CalculationSimple, model.TreatmentExclusive, []model.TaxComponent{hst})
	e.post(t, e.document(model.DocKindExpense, march, "100.00", group, "CA-ON"))

	_, err := e.detector.Detect(context.Background(), e.business.ID, "2024-03", "tester")
	require.NoError(t, err)

	t6 := e.anomalies.byCode(model.AnomalyNegativeBalance)
	require.Len(t, t6, 1)
	assert.Equal(t, "CA-ON", t6[0].Scope)
	assert.Equal(t, model.SeverityMedium, t6[0].Severity)
}

func TestDetect_LateFiling(t *testing.T) {
	tests := []struct {
		name   string
		period string
		dueDay int
		late   bool
	}{
		{"previous month past due", "2024-02", 0, true},
		{"current month not due", "2024-03", 0, false},
		{"due day before today", "2024-03", 5, true},
		{"due day clamped to month length", "2024-03", 31, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, "CA", "ON")
			e.business.FilingDueDay = tt.dueDay
			e.businesses.items[e.business.ID] = e.business

			_, err := e.detector.Detect(context.Background(), e.business.ID, tt.period, "tester")
			require.NoError(t, err)
			assert.Equal(t, tt.late, len(e.anomalies.byCode(model.AnomalyLateFiling)) == 1)
		})
	}
}

func TestDetect_FiledPeriodIsNotLate(t *testing.T) {
	e := newEngine(t, "CA", "ON")
	ctx := context.Background()
	_, err := e.aggregator.Aggregate(ctx, e.business.ID, "2024-02", "tester")
	require.NoError(t, err)
	_, err = e.snapshots.Review(ctx, e.business.ID, "2024-02", "tester")
	require.NoError(t, err)
	_, err = e.snapshots.File(ctx, e.business.ID, "2024-02", "tester")
	require.NoError(t, err)

	_, err = e.detector.Detect(ctx, e.business.ID, "2024-02", "tester")
	require.NoError(t, err)
	assert.Empty(t, e.anomalies.byCode(model.AnomalyLateFiling))
}

func TestChangeStatus(t *testing.T) {
	e := newEngine(t, "CA", "ON")
	ctx := context.Background()
	_, err := e.detector.Detect(ctx, e.business.ID, "2024-02", "tester")
	require.NoError(t, err)
	late := e.anomalies.byCode(model.AnomalyLateFiling)[0]

	_, err = e.triage.ChangeStatus(ctx, e.business.ID, late.ID, "bogus", "", "reviewer")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = e.triage.ChangeStatus(ctx, e.business.ID, late.ID, model.AnomalyOpen, "", "reviewer")
	assert.ErrorIs(t, err, ErrInvalidTransition, "already open")

	_, err = e.triage.ChangeStatus(ctx, uuid.New(), late.ID, model.AnomalyIgnored, "", "reviewer")
	assert.ErrorIs(t, err, ErrAnomalyNotFound)

	ignored, err := e.triage.ChangeStatus(ctx, e.business.ID, late.ID, "ignored", "extension granted", "reviewer")
	require.NoError(t, err)
	assert.Equal(t, model.AnomalyIgnored, ignored.Status)
	require.NotNil(t, ignored.StatusChangedAt)

	list, total, err := e.triage.List(ctx, repository.AnomalyListFilter{BusinessID: e.business.ID, Status: model.AnomalyIgnored})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, list, 1)
}

func TestDetect_RecurrenceReopensSystemResolved(t *testing.T) {
	e, _ := hstEngine(t)
	ctx := context.Background()

	e.details.rows[0].TaxAmount = dec("20.00")
	_, err := e.detector.Detect(ctx, e.business.ID, "2024-03", "tester")
	require.NoError(t, err)
	first := e.anomalies.byCode(model.AnomalyOvercharge)[0]

	e.details.rows[0].TaxAmount = dec("13.00")
	_, err = e.detector.Detect(ctx, e.business.ID, "2024-03", "tester")
	require.NoError(t, err)
	resolved := e.anomalies.byCode(model.AnomalyOvercharge)[0]
	assert.Equal(t, model.AnomalyResolved, resolved.Status)
	assert.True(t, resolved.ResolvedBySystem)

	e.details.rows[0].TaxAmount = dec("20.00")
	_, err = e.detector.Detect(ctx, e.business.ID, "2024-03", "tester")
	require.NoError(t, err)

	again := e.anomalies.byCode(model.AnomalyOvercharge)
	require.Len(t, again, 1, "reopened in place")
	assert.Equal(t, first.ID, again[0].ID)
	assert.Equal(t, model.AnomalyOpen, again[0].Status)
	assert.False(t, again[0].ResolvedBySystem)
	assert.Equal(t, "detected again", again[0].StatusNote)
}

func TestDetect_UserResolvedStaysResolved(t *testing.T) {
	e, _ := hstEngine(t)
	ctx := context.Background()
	e.details.rows[0].TaxAmount = dec("20.00")

	_, err := e.detector.Detect(ctx, e.business.ID, "2024-03", "tester")
	require.NoError(t, err)
	t2 := e.anomalies.byCode(model.AnomalyOvercharge)[0]
	_, err = e.triage.ChangeStatus(ctx, e.business.ID, t2.ID, model.AnomalyResolved, "refund issued", "reviewer")
	require.NoError(t, err)

	_, err = e.detector.Detect(ctx, e.business.ID, "2024-03", "tester")
	require.NoError(t, err)

	kept := e.anomalies.byCode(model.AnomalyOvercharge)[0]
	assert.Equal(t, model.AnomalyResolved, kept.Status)
	assert.False(t, kept.ResolvedBySystem)
	assert.Equal(t, "refund issued", kept.StatusNote)
}

func TestDetect_LateFilingReturnsAfterReset(t *testing.T) {
	e := newEngine(t, "CA", "ON")
	ctx := context.Background()

	_, err := e.detector.Detect(ctx, e.business.ID, "2024-02", "tester")
	require.NoError(t, err)
	require.Len(t, e.anomalies.byCode(model.AnomalyLateFiling), 1)

	_, err = e.snapshots.Review(ctx, e.business.ID, "2024-02", "tester")
	require.NoError(t, err)
	_, err = e.snapshots.File(ctx, e.business.ID, "2024-02", "tester")
	require.NoError(t, err)
	_, err = e.detector.Detect(ctx, e.business.ID, "2024-02", "tester")
	require.NoError(t, err)
	assert.Equal(t, model.AnomalyResolved, e.anomalies.byCode(model.AnomalyLateFiling)[0].Status)

	_, err = e.snapshots.Reset(ctx, e.business.ID, "2024-02", "amended return", "tester")
	require.NoError(t, err)
	_, err = e.detector.Detect(ctx, e.business.ID, "2024-02", "tester")
	require.NoError(t, err)

	late := e.anomalies.byCode(model.AnomalyLateFiling)
	require.Len(t, late, 1)
	assert.Equal(t, model.AnomalyOpen, late[0].Status)
}

func TestDetect_MissingTaxOutsideNexusIgnored(t *testing.T) {
	e := newEngine(t, "CA", "ON")
	e.business.Nexus = "CA-QC"
	e.businesses.items[e.business.ID] = e.business
	zero := e.component("HST", "0", "")
	group := e.group(model.CalculationSimple, model.TreatmentExclusive, []model.TaxComponent{zero})
	e.post(t, e.document(model.DocKindInvoice, march, "100.00", group, "CA-ON"))

	_, err := e.detector.Detect(context.Background(), e.business.ID, "2024-03", "tester")
	require.NoError(t, err)
	assert.Empty(t, e.anomalies.byCode(model.AnomalyMissingTax))
}

func TestDetect_LateFilingUsesDefaultDueDay(t *testing.T) {
	tests := []struct {
		name   string
		dueDay int
		late   bool
	}{
		{"unset due day takes the configured default", 0, true},
		{"business due day wins over the default", 31, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, "CA", "ON")
			e.detector.deps.DefaultDueDay = 5
			e.business.FilingDueDay = tt.dueDay
			e.businesses.items[e.business.ID] = e.business

			_, err := e.detector.Detect(context.Background(), e.business.ID, "2024-03", "tester")
			require.NoError(t, err)
			assert.Equal(t, tt.late, len(e.anomalies.byCode(model.AnomalyLateFiling)) == 1)
		})
	}
}
