package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"taxengine/internal/model"

	"github.com/jszwec/csvutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExport_FilingCSV(t *testing.T) {
	e := newEngine(t, "CA", "ON")
	hst := e.component("HST", "0.13", "")
	group := e.group(model.CalculationSimple, model.TreatmentExclusive, []model.TaxComponent{hst})
	e.post(t, e.document(model.DocKindInvoice, march, "100.00", group, "CA-ON"))
	e.post(t, e.document(model.DocKindExpense, march, "50.00", group, "CA-ON"))
	ctx := context.Background()
	_, err := e.aggregator.Aggregate(ctx, e.business.ID, "2024-03", "tester")
	require.NoError(t, err)

	exports := NewExportService(e.snapshots)
	out, err := exports.FilingCSV(ctx, e.business.ID, "2024-03")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), "return,line,label,amount\n"))

	var lines []FilingLine
	require.NoError(t, csvutil.Unmarshal(out, &lines))
	got := make(map[string]string)
	for _, l := range lines {
		got[l.Return+"/"+l.Line] = l.Amount.StringFixed(2)
	}
	assert.Equal(t, map[string]string{
		"GST/HST/101": "100.00",
		"GST/HST/103": "13.00",
		"GST/HST/106": "6.50",
		"GST/HST/109": "6.50",
	}, got)

	ser, err := exports.SERCSV(ctx, e.business.ID, "2024-03")
	require.NoError(t, err)
	var serLines []SERLine
	require.NoError(t, csvutil.Unmarshal(ser, &serLines))
	assert.Empty(t, serLines, "no US section for a Canadian business")
}

func TestExport_SERCSV(t *testing.T) {
	e := newEngine(t, "US", "CA")
	state := e.component("CA State", "0.06", "")
	county := e.component("LA County", "0.0225", "")
	group := e.group(model.CalculationSimple, model.TreatmentExclusive, []model.TaxComponent{state, county})
	e.post(t, e.document(model.DocKindInvoice, march, "100.00", group, "US-CA-LA"))
	ctx := context.Background()
	_, err := e.aggregator.Aggregate(ctx, e.business.ID, "2024-03", "tester")
	require.NoError(t, err)

	out, err := NewExportService(e.snapshots).SERCSV(ctx, e.business.ID, "2024-03")
	require.NoError(t, err)

	var lines []SERLine
	require.NoError(t, csvutil.Unmarshal(out, &lines))
	require.Len(t, lines, 2)
	assert.Equal(t, "US-CA", lines[0].Jurisdiction)
	assert.Equal(t, "STATE", lines[0].Level)
	assert.Equal(t, "100.00", lines[0].TaxableSales.StringFixed(2))
	assert.Equal(t, "8.25", lines[0].TaxCollected.StringFixed(2))
	assert.Equal(t, "US-CA-LA", lines[1].Jurisdiction)
	assert.Equal(t, "LOCAL", lines[1].Level)
	assert.Equal(t, "2.25", lines[1].TaxCollected.StringFixed(2))
}

func TestExport_SnapshotJSONIsStoredSnapshot(t *testing.T) {
	e := newEngine(t, "CA", "ON")
	ctx := context.Background()
	exports := NewExportService(e.snapshots)

	_, err := exports.SnapshotJSON(ctx, e.business.ID, "2024-03")
	assert.ErrorIs(t, err, ErrSnapshotNotFound, "exports never compute")

	_, err = e.aggregator.Aggregate(ctx, e.business.ID, "2024-03", "tester")
	require.NoError(t, err)
	out, err := exports.SnapshotJSON(ctx, e.business.ID, "2024-03")
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "2024-03", decoded["period_key"])
	assert.Equal(t, model.SnapshotComputed, decoded["status"])
	assert.Contains(t, decoded, "line_mappings")
}
