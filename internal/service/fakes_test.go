package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"taxengine/internal/model"
	"taxengine/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// In-memory repositories. They mirror the gorm queries closely enough for service tests.

// fakeTx restores the detail rows when the unit of work fails, like a rollback would.
type fakeTx struct {
	details *fakeDetailRepo
}

func (tx fakeTx) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	if tx.details == nil {
		return fn(ctx)
	}
	saved := append([]model.TransactionLineTaxDetail(nil), tx.details.rows...)
	if err := fn(ctx); err != nil {
		tx.details.rows = saved
		return err
	}
	return nil
}

type fakeBusinessRepo struct {
	items map[uuid.UUID]model.Business
}

func (r *fakeBusinessRepo) FindByID(_ context.Context, id uuid.UUID) (*model.Business, error) {
	b, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

type fakeComponentRepo struct {
	items map[uuid.UUID]model.TaxComponent
}

func (r *fakeComponentRepo) Create(_ context.Context, c *model.TaxComponent) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	r.items[c.ID] = *c
	return nil
}

func (r *fakeComponentRepo) FindByID(_ context.Context, id uuid.UUID) (*model.TaxComponent, error) {
	c, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *fakeComponentRepo) ListByBusiness(_ context.Context, businessID uuid.UUID) ([]model.TaxComponent, error) {
	var out []model.TaxComponent
	for _, c := range r.items {
		if c.BusinessID == businessID {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeRateRepo struct {
	rows []model.TaxRate
}

func (r *fakeRateRepo) Create(_ context.Context, rate *model.TaxRate) error {
	if rate.ID == uuid.Nil {
		rate.ID = uuid.New()
	}
	if rate.CreatedAt.IsZero() {
		rate.CreatedAt = time.Now()
	}
	r.rows = append(r.rows, *rate)
	return nil
}

func (r *fakeRateRepo) FindEffective(_ context.Context, componentID uuid.UUID, category string, asOf time.Time) (*model.TaxRate, error) {
	var candidates []model.TaxRate
	for _, row := range r.rows {
		if row.ComponentID == componentID && row.ProductCategory == category && row.ActiveOn(asOf) {
			candidates = append(candidates, row)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if !candidates[i].EffectiveFrom.Equal(candidates[j].EffectiveFrom) {
			return candidates[i].EffectiveFrom.After(candidates[j].EffectiveFrom)
		}
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})
	return &candidates[0], nil
}

func overlaps(aFrom time.Time, aTo *time.Time, bFrom time.Time, bTo *time.Time) bool {
	if aTo != nil && aTo.Before(bFrom) {
		return false
	}
	if bTo != nil && bTo.Before(aFrom) {
		return false
	}
	return true
}

func (r *fakeRateRepo) CountOverlapping(_ context.Context, componentID uuid.UUID, category string, from time.Time, to *time.Time, excludeID *uuid.UUID) (int64, error) {
	var n int64
	for _, row := range r.rows {
		if excludeID != nil && row.ID == *excludeID {
			continue
		}
		if row.ComponentID == componentID && row.ProductCategory == category && overlaps(row.EffectiveFrom, row.EffectiveTo, from, to) {
			n++
		}
	}
	return n, nil
}

func (r *fakeRateRepo) ListByComponent(_ context.Context, componentID uuid.UUID) ([]model.TaxRate, error) {
	var out []model.TaxRate
	for _, row := range r.rows {
		if row.ComponentID == componentID {
			out = append(out, row)
		}
	}
	return out, nil
}

type fakeGroupRepo struct {
	items      map[uuid.UUID]model.TaxGroup
	components *fakeComponentRepo
}

func (r *fakeGroupRepo) Create(_ context.Context, g *model.TaxGroup) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	r.items[g.ID] = *g
	return nil
}

func (r *fakeGroupRepo) FindByIDWithComponents(_ context.Context, id uuid.UUID) (*model.TaxGroup, error) {
	g, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	comps := make([]model.TaxGroupComponent, len(g.Components))
	for i, gc := range g.Components {
		gc.Component = r.components.items[gc.ComponentID]
		comps[i] = gc
	}
	g.Components = comps
	return &g, nil
}

type fakeJurisdictionRepo struct {
	items map[string]model.TaxJurisdiction
}

func (r *fakeJurisdictionRepo) Create(_ context.Context, j *model.TaxJurisdiction) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	r.items[j.Code] = *j
	return nil
}

func (r *fakeJurisdictionRepo) FindByCode(_ context.Context, code string) (*model.TaxJurisdiction, error) {
	j, ok := r.items[code]
	if !ok {
		return nil, nil
	}
	return &j, nil
}

func (r *fakeJurisdictionRepo) ListByCountry(_ context.Context, country string) ([]model.TaxJurisdiction, error) {
	var out []model.TaxJurisdiction
	for _, j := range r.items {
		if j.Country() == country {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

type fakeRuleRepo struct {
	rows []model.TaxProductRule
}

func (r *fakeRuleRepo) Create(_ context.Context, rule *model.TaxProductRule) error {
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	r.rows = append(r.rows, *rule)
	return nil
}

func (r *fakeRuleRepo) FindValid(_ context.Context, code, productCode string, date time.Time) (*model.TaxProductRule, error) {
	for _, rule := range r.rows {
		if rule.JurisdictionCode == code && rule.ProductCode == productCode &&
			!rule.ValidFrom.After(date) && (rule.ValidTo == nil || !rule.ValidTo.Before(date)) {
			return &rule, nil
		}
	}
	return nil, nil
}

func (r *fakeRuleRepo) CountOverlapping(_ context.Context, code, productCode string, from time.Time, to *time.Time, excludeID *uuid.UUID) (int64, error) {
	var n int64
	for _, rule := range r.rows {
		if excludeID != nil && rule.ID == *excludeID {
			continue
		}
		if rule.JurisdictionCode == code && rule.ProductCode == productCode && overlaps(rule.ValidFrom, rule.ValidTo, from, to) {
			n++
		}
	}
	return n, nil
}

type fakeDetailRepo struct {
	rows []model.TransactionLineTaxDetail
	// failLine makes ReplaceForLine fail for that line after earlier lines were written
	failLine uuid.UUID
}

var errWriteFailed = errors.New("write failed")

func (r *fakeDetailRepo) ReplaceForLine(_ context.Context, ref model.DocumentRef, rows []model.TransactionLineTaxDetail) error {
	if r.failLine != uuid.Nil && ref.LineID == r.failLine {
		return errWriteFailed
	}
	kept := r.rows[:0:0]
	for _, row := range r.rows {
		if row.Ref != ref {
			kept = append(kept, row)
		}
	}
	for _, row := range rows {
		row.ID = uuid.New()
		kept = append(kept, row)
	}
	r.rows = kept
	return nil
}

func (r *fakeDetailRepo) DeleteForDocument(_ context.Context, documentID uuid.UUID) error {
	kept := r.rows[:0:0]
	for _, row := range r.rows {
		if row.Ref.DocumentID != documentID {
			kept = append(kept, row)
		}
	}
	r.rows = kept
	return nil
}

func (r *fakeDetailRepo) ListByPeriod(_ context.Context, businessID uuid.UUID, start, end time.Time) ([]model.TransactionLineTaxDetail, error) {
	var out []model.TransactionLineTaxDetail
	for _, row := range r.rows {
		if row.BusinessID == businessID && !row.TransactionDate.Before(start) && !row.TransactionDate.After(end) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *fakeDetailRepo) ListByDocument(_ context.Context, documentID uuid.UUID) ([]model.TransactionLineTaxDetail, error) {
	var out []model.TransactionLineTaxDetail
	for _, row := range r.rows {
		if row.Ref.DocumentID == documentID {
			out = append(out, row)
		}
	}
	return out, nil
}

type fakeDocumentRepo struct {
	items []model.Document
}

func (r *fakeDocumentRepo) FindByIDWithLines(_ context.Context, id uuid.UUID) (*model.Document, error) {
	for _, d := range r.items {
		if d.ID == id {
			return &d, nil
		}
	}
	return nil, nil
}

func (r *fakeDocumentRepo) ListInRange(_ context.Context, businessID uuid.UUID, start, end time.Time) ([]model.Document, error) {
	var out []model.Document
	for _, d := range r.items {
		if d.BusinessID == businessID && !d.DocumentDate.Before(start) && !d.DocumentDate.After(end) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *fakeDocumentRepo) SumTotalsInRange(ctx context.Context, businessID uuid.UUID, start, end time.Time) ([]repository.DocumentTotalsRow, error) {
	docs, _ := r.ListInRange(ctx, businessID, start, end)
	byKey := make(map[[2]string]*repository.DocumentTotalsRow)
	var order [][2]string
	for _, d := range docs {
		key := [2]string{d.Kind, map[bool]string{true: "t", false: "f"}[d.TaxRecoverable]}
		row, ok := byKey[key]
		if !ok {
			row = &repository.DocumentTotalsRow{Kind: d.Kind, TaxRecoverable: d.TaxRecoverable}
			byKey[key] = row
			order = append(order, key)
		}
		row.NetTotal = row.NetTotal.Add(d.NetTotal)
		row.TaxTotal = row.TaxTotal.Add(d.TaxTotal)
	}
	out := make([]repository.DocumentTotalsRow, 0, len(order))
	for _, k := range order {
		out = append(out, *byKey[k])
	}
	return out, nil
}

type fakeSnapshotRepo struct {
	items map[string]model.TaxPeriodSnapshot
}

func snapKey(businessID uuid.UUID, periodKey string) string {
	return businessID.String() + "/" + periodKey
}

func (r *fakeSnapshotRepo) Find(_ context.Context, businessID uuid.UUID, periodKey string) (*model.TaxPeriodSnapshot, error) {
	s, ok := r.items[snapKey(businessID, periodKey)]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (r *fakeSnapshotRepo) Create(_ context.Context, s *model.TaxPeriodSnapshot) error {
	s.ID = uuid.New()
	r.items[snapKey(s.BusinessID, s.PeriodKey)] = *s
	return nil
}

func (r *fakeSnapshotRepo) Update(_ context.Context, s *model.TaxPeriodSnapshot) error {
	r.items[snapKey(s.BusinessID, s.PeriodKey)] = *s
	return nil
}

func (r *fakeSnapshotRepo) ListByBusiness(_ context.Context, businessID uuid.UUID) ([]model.TaxPeriodSnapshot, error) {
	var out []model.TaxPeriodSnapshot
	for _, s := range r.items {
		if s.BusinessID == businessID {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeAnomalyRepo struct {
	rows []model.TaxAnomaly
}

func (r *fakeAnomalyRepo) FindByKey(_ context.Context, key model.AnomalyKey) (*model.TaxAnomaly, error) {
	for _, a := range r.rows {
		if a.Key() == key {
			return &a, nil
		}
	}
	return nil, nil
}

func (r *fakeAnomalyRepo) FindByID(_ context.Context, id uuid.UUID) (*model.TaxAnomaly, error) {
	for _, a := range r.rows {
		if a.ID == id {
			return &a, nil
		}
	}
	return nil, nil
}

func (r *fakeAnomalyRepo) Create(_ context.Context, a *model.TaxAnomaly) error {
	a.ID = uuid.New()
	r.rows = append(r.rows, *a)
	return nil
}

func (r *fakeAnomalyRepo) Update(_ context.Context, a *model.TaxAnomaly) error {
	for i := range r.rows {
		if r.rows[i].ID == a.ID {
			r.rows[i] = *a
		}
	}
	return nil
}

func (r *fakeAnomalyRepo) ListByPeriod(_ context.Context, businessID uuid.UUID, periodKey string) ([]model.TaxAnomaly, error) {
	var out []model.TaxAnomaly
	for _, a := range r.rows {
		if a.BusinessID == businessID && a.PeriodKey == periodKey {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *fakeAnomalyRepo) List(_ context.Context, f repository.AnomalyListFilter) ([]model.TaxAnomaly, int64, error) {
	var out []model.TaxAnomaly
	for _, a := range r.rows {
		if a.BusinessID != f.BusinessID || (f.PeriodKey != "" && a.PeriodKey != f.PeriodKey) || (f.Status != "" && a.Status != f.Status) {
			continue
		}
		out = append(out, a)
	}
	return out, int64(len(out)), nil
}

func (r *fakeAnomalyRepo) byCode(code string) []model.TaxAnomaly {
	var out []model.TaxAnomaly
	for _, a := range r.rows {
		if a.Code == code {
			out = append(out, a)
		}
	}
	return out
}

type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []model.AuditLog
}

func (r *fakeAuditRepo) Log(_ context.Context, entry *model.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *fakeAuditRepo) ListByBusiness(_ context.Context, businessID uuid.UUID, _, _ int) ([]model.AuditLog, int64, error) {
	var out []model.AuditLog
	for _, e := range r.entries {
		if e.BusinessID != nil && *e.BusinessID == businessID {
			out = append(out, e)
		}
	}
	return out, int64(len(out)), nil
}

// engine wires every service over the fakes.
type engine struct {
	business      model.Business
	businesses    *fakeBusinessRepo
	components    *fakeComponentRepo
	rates         *fakeRateRepo
	groups        *fakeGroupRepo
	jurisdictions *fakeJurisdictionRepo
	rules         *fakeRuleRepo
	details       *fakeDetailRepo
	documents     *fakeDocumentRepo
	snapshotRepo  *fakeSnapshotRepo
	anomalies     *fakeAnomalyRepo
	audit         *fakeAuditRepo

	catalog    RateCatalog
	resolver   JurisdictionResolver
	calculator TaxCalculator
	docTax     DocumentTaxService
	aggregator *periodAggregator
	snapshots  *snapshotService
	detector   *anomalyDetector
	admin      CatalogService
	triage     AnomalyService
}

var (
	testNow = time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)
	march   = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	epoch   = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func strPtr(s string) *string {
	return &s
}

func newEngine(t *testing.T, country, region string) *engine {
	t.Helper()
	zap.ReplaceGlobals(zap.NewNop())

	e := &engine{
		business: model.Business{
			ID:              uuid.New(),
			Name:            "Maple Goods",
			TaxCountry:      country,
			TaxRegion:       region,
			HomeCurrency:    map[string]string{"CA": "CAD"}[country],
			TaxRegistered:   true,
			FilingFrequency: model.FilingMonthly,
		},
		components:    &fakeComponentRepo{items: map[uuid.UUID]model.TaxComponent{}},
		rates:         &fakeRateRepo{},
		jurisdictions: &fakeJurisdictionRepo{items: map[string]model.TaxJurisdiction{}},
		rules:         &fakeRuleRepo{},
		details:       &fakeDetailRepo{},
		documents:     &fakeDocumentRepo{},
		snapshotRepo:  &fakeSnapshotRepo{items: map[string]model.TaxPeriodSnapshot{}},
		anomalies:     &fakeAnomalyRepo{},
		audit:         &fakeAuditRepo{},
	}
	if e.business.HomeCurrency == "" {
		e.business.HomeCurrency = "USD"
	}
	e.businesses = &fakeBusinessRepo{items: map[uuid.UUID]model.Business{e.business.ID: e.business}}
	e.groups = &fakeGroupRepo{items: map[uuid.UUID]model.TaxGroup{}, components: e.components}

	tx := fakeTx{details: e.details}
	e.catalog = NewRateCatalog(e.rates)
	e.resolver = NewJurisdictionResolver(e.jurisdictions)
	e.calculator = NewTaxCalculator(e.catalog, e.resolver, e.rules, e.details, tx)
	e.docTax = NewDocumentTaxService(e.calculator, e.documents, e.businesses, e.groups, e.details, e.audit, tx)
	e.aggregator = NewPeriodAggregator(e.businesses, e.details, e.documents, e.snapshotRepo, e.rules, e.audit, tx).(*periodAggregator)
	e.aggregator.now = func() time.Time { return testNow }
	e.snapshots = NewSnapshotService(e.snapshotRepo, e.audit, tx).(*snapshotService)
	e.snapshots.now = func() time.Time { return testNow }
	e.detector = NewAnomalyDetector(DetectorDeps{
		Businesses:   e.businesses,
		Snapshots:    e.snapshotRepo,
		Details:      e.details,
		Documents:    e.documents,
		Components:   e.components,
		Groups:       e.groups,
		ProductRules: e.rules,
		Anomalies:    e.anomalies,
		TxManager:    tx,
		Catalog:      e.catalog,
		Aggregator:   e.aggregator,
		DocumentTax:  e.docTax,
		Now:          func() time.Time { return testNow },
	}).(*anomalyDetector)
	e.admin = NewCatalogService(e.components, e.rates, e.groups, e.rules, e.jurisdictions, e.audit, tx)
	e.triage = NewAnomalyService(e.anomalies, e.audit, tx)

	for _, j := range []model.TaxJurisdiction{
		{Code: "CA", JurisdictionType: model.JurisdictionCountry},
		{Code: "CA-ON", ParentCode: strPtr("CA"), JurisdictionType: model.JurisdictionState},
		{Code: "CA-QC", ParentCode: strPtr("CA"), JurisdictionType: model.JurisdictionState},
		{Code: "CA-BC", ParentCode: strPtr("CA"), JurisdictionType: model.JurisdictionState},
		{Code: "US", JurisdictionType: model.JurisdictionCountry},
		{Code: "US-CA", ParentCode: strPtr("US"), JurisdictionType: model.JurisdictionState, SourcingRule: model.SourcingHybrid},
		{Code: "US-CA-LA", ParentCode: strPtr("US-CA"), JurisdictionType: model.JurisdictionCounty},
		{Code: "US-CA-SF", ParentCode: strPtr("US-CA"), JurisdictionType: model.JurisdictionCounty},
		{Code: "US-CA-LA-D1", ParentCode: strPtr("US-CA-LA"), JurisdictionType: model.JurisdictionDistrict},
		{Code: "US-TX", ParentCode: strPtr("US"), JurisdictionType: model.JurisdictionState, SourcingRule: model.SourcingOrigin},
		{Code: "US-TX-DAL", ParentCode: strPtr("US-TX"), JurisdictionType: model.JurisdictionCity},
		{Code: "US-TX-HOU", ParentCode: strPtr("US-TX"), JurisdictionType: model.JurisdictionCity},
		{Code: "US-NY", ParentCode: strPtr("US"), JurisdictionType: model.JurisdictionState, SourcingRule: model.SourcingDestination},
	} {
		j := j
		_ = e.jurisdictions.Create(context.Background(), &j)
	}
	return e
}

// component registers a component with a base rate effective since 2020.
func (e *engine) component(name, rate string, canonical string) model.TaxComponent {
	c := model.TaxComponent{
		ID:            uuid.New(),
		BusinessID:    e.business.ID,
		Name:          name,
		BaseRate:      dec(rate),
		IsRecoverable: true,
		EffectiveFrom: epoch,
	}
	if canonical != "" {
		c.CanonicalJurisdiction = &canonical
	}
	e.components.items[c.ID] = c
	return c
}

// group registers a group; components get increasing calculation orders unless orders are given.
func (e *engine) group(method, treatment string, comps []model.TaxComponent, orders ...int) *model.TaxGroup {
	g := model.TaxGroup{
		ID:                uuid.New(),
		BusinessID:        e.business.ID,
		Name:              "group",
		CalculationMethod: method,
		TaxTreatment:      treatment,
		ReportingCategory: model.ReportingTaxable,
	}
	for i, c := range comps {
		order := i + 1
		if i < len(orders) {
			order = orders[i]
		}
		g.Components = append(g.Components, model.TaxGroupComponent{
			ID:               uuid.New(),
			GroupID:          g.ID,
			ComponentID:      c.ID,
			Component:        c,
			CalculationOrder: order,
		})
	}
	e.groups.items[g.ID] = g
	return &g
}

// document registers a one-line document and returns it.
func (e *engine) document(kind string, date time.Time, net string, group *model.TaxGroup, shipTo string) model.Document {
	doc := model.Document{
		ID:             uuid.New(),
		BusinessID:     e.business.ID,
		Kind:           kind,
		Number:         kind + "-" + uuid.NewString()[:8],
		DocumentDate:   date,
		Currency:       e.business.HomeCurrency,
		NetTotal:       dec(net),
		PlaceOfSupply:  model.SupplyAuto,
		TaxRecoverable: kind == model.DocKindExpense,
	}
	if shipTo != "" {
		doc.ShipTo = &shipTo
	}
	line := model.DocumentLine{
		ID:         uuid.New(),
		DocumentID: doc.ID,
		LineNo:     1,
		NetAmount:  decPtr(net),
	}
	if group != nil {
		line.TaxGroupID = &group.ID
	}
	doc.Lines = []model.DocumentLine{line}
	e.documents.items = append(e.documents.items, doc)
	return doc
}

// post calculates and persists the document, then records its tax total as computed.
func (e *engine) post(t *testing.T, doc model.Document) []CalculationResult {
	t.Helper()
	results, err := e.docTax.Recalculate(context.Background(), doc.ID, "tester")
	if err != nil {
		t.Fatalf("recalculate %s: %v", doc.Number, err)
	}
	total := decimal.Zero
	for _, r := range results {
		total = total.Add(r.TotalTax)
	}
	for i := range e.documents.items {
		if e.documents.items[i].ID == doc.ID {
			e.documents.items[i].TaxTotal = total.Abs()
		}
	}
	return results
}
