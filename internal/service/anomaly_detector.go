package service

import (
	"context"
	"fmt"
	"time"

	"taxengine/internal/model"
	"taxengine/internal/repository"
	"taxengine/pkg/money"
	"taxengine/pkg/period"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"
)

// AnomalyDetector re-derives expected values and records deterministic invariant violations.
type AnomalyDetector interface {
	Detect(ctx context.Context, businessID uuid.UUID, periodKey, actor string) ([]model.TaxAnomaly, error)
}

// DetectorDeps groups the collaborators of the detector.
type DetectorDeps struct {
	Businesses    repository.BusinessRepository
	Snapshots     repository.SnapshotRepository
	Details       repository.TaxDetailRepository
	Documents     repository.DocumentRepository
	Components    repository.TaxComponentRepository
	Groups        repository.TaxGroupRepository
	ProductRules  repository.ProductRuleRepository
	Anomalies     repository.AnomalyRepository
	TxManager     repository.TransactionManager
	Catalog       RateCatalog
	Aggregator    PeriodAggregator
	DocumentTax   DocumentTaxService
	DefaultDueDay int
	Now           func() time.Time
}

type anomalyDetector struct {
	deps   DetectorDeps
	rates  rateResolver
	flight *singleflight.Group
	now    func() time.Time
}

func NewAnomalyDetector(deps DetectorDeps) AnomalyDetector {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &anomalyDetector{
		deps:   deps,
		rates:  rateResolver{catalog: deps.Catalog, ruleRepo: deps.ProductRules},
		flight: &singleflight.Group{},
		now:    now,
	}
}

var oneCent = decimal.New(1, -2)

func (d *anomalyDetector) Detect(ctx context.Context, businessID uuid.UUID, periodKey, actor string) ([]model.TaxAnomaly, error) {
	p, err := period.Parse(periodKey)
	if err != nil {
		return nil, err
	}
	v, err, _ := d.flight.Do(fmt.Sprintf("%s/%s", businessID, p.Key), func() (interface{}, error) {
		return d.detect(ctx, businessID, p, actor)
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.TaxAnomaly), nil
}

// findings collects anomalies by key; repeated hits on the same key are merged into its items.
type findings struct {
	order []model.AnomalyKey
	byKey map[model.AnomalyKey]*model.TaxAnomaly
}

func newFindings() *findings {
	return &findings{byKey: make(map[model.AnomalyKey]*model.TaxAnomaly)}
}

func (f *findings) add(a model.TaxAnomaly, item map[string]interface{}) {
	key := a.Key()
	existing, ok := f.byKey[key]
	if !ok {
		a.Details = datatypes.JSONMap{"items": []interface{}{}}
		existing = &a
		f.byKey[key] = existing
		f.order = append(f.order, key)
	}
	if item != nil {
		existing.Details["items"] = append(existing.Details["items"].([]interface{}), item)
	}
}

func (f *findings) list() []model.TaxAnomaly {
	out := make([]model.TaxAnomaly, 0, len(f.order))
	for _, k := range f.order {
		out = append(out, *f.byKey[k])
	}
	return out
}

func (d *anomalyDetector) detect(ctx context.Context, businessID uuid.UUID, p period.Period, actor string) ([]model.TaxAnomaly, error) {
	business, err := d.deps.Businesses.FindByID(ctx, businessID)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to fetch business %s", businessID)
	}
	if business == nil {
		return nil, ErrBusinessNotFound
	}

	snap, err := d.deps.Snapshots.Find(ctx, businessID, p.Key)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to fetch snapshot %s", p.Key)
	}
	if snap == nil {
		if snap, err = d.deps.Aggregator.Aggregate(ctx, businessID, p.Key, actor); err != nil {
			return nil, err
		}
	}

	rows, err := d.deps.Details.ListByPeriod(ctx, businessID, p.Start, p.End)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to load tax details for %s", p.Key)
	}
	docs, err := d.deps.Documents.ListInRange(ctx, businessID, p.Start, p.End)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to load documents for %s", p.Key)
	}

	base := model.TaxAnomaly{BusinessID: businessID, PeriodKey: p.Key}
	found := newFindings()

	if err := d.checkRows(ctx, base, rows, found); err != nil {
		return nil, err
	}
	d.checkSummary(business, base, snap, found)
	if err := d.checkDocuments(ctx, business, base, docs, rows, found); err != nil {
		return nil, err
	}
	d.checkDeadline(business, base, p, snap, found)

	return d.upsert(ctx, businessID, p.Key, found.list())
}

// checkRows covers rate mismatches (T1/T2) and taxed exempt products (T5).
func (d *anomalyDetector) checkRows(ctx context.Context, base model.TaxAnomaly, rows []model.TransactionLineTaxDetail, found *findings) error {
	components := make(map[uuid.UUID]*model.TaxComponent)

	for _, row := range rows {
		rule, err := d.rates.productRule(ctx, row.JurisdictionCode, row.ProductCode, row.TransactionDate)
		if err != nil {
			return err
		}
		if rule != nil && rule.NoTax() {
			if !row.TaxAmount.IsZero() {
				a := base
				a.Code = model.AnomalyExemptTaxed
				a.Severity = model.SeverityHigh
				a.DocumentID = row.Ref.DocumentID
				a.DocumentKind = row.Ref.Kind
				a.Scope = row.JurisdictionCode
				a.Message = fmt.Sprintf("Product %s is %s in %s but was taxed", row.ProductCode, rule.RuleType, row.JurisdictionCode)
				found.add(a, map[string]interface{}{
					"line_id":   row.Ref.LineID.String(),
					"component": row.ComponentName,
					"tax":       row.TaxAmount.StringFixed(2),
					"rule_id":   rule.ID.String(),
				})
			}
			continue
		}

		comp, ok := components[row.ComponentID]
		if !ok {
			comp, err = d.deps.Components.FindByID(ctx, row.ComponentID)
			if err != nil {
				return eris.Wrapf(err, "failed to fetch component %s", row.ComponentID)
			}
			components[row.ComponentID] = comp
		}
		if comp == nil {
			continue
		}

		applied, err := d.rates.rateFor(ctx, comp, row.ProductCategory, row.ProductCode, row.JurisdictionCode, row.TransactionDate)
		if err != nil {
			return err
		}
		expected := money.Round(row.ComponentBase.Mul(applied.Rate), row.Currency)
		if money.WithinUnits(row.TaxAmount, expected, 1, row.Currency) {
			continue
		}

		a := base
		a.DocumentID = row.Ref.DocumentID
		a.DocumentKind = row.Ref.Kind
		a.Scope = row.JurisdictionCode
		if row.TaxAmount.Abs().GreaterThan(expected.Abs()) {
			a.Code = model.AnomalyOvercharge
			a.Severity = model.SeverityHigh
			a.Message = fmt.Sprintf("Tax charged in %s exceeds the rate in effect", row.JurisdictionCode)
		} else {
			a.Code = model.AnomalyRateMismatch
			a.Severity = model.SeverityMedium
			a.Message = fmt.Sprintf("Tax recorded in %s does not match the rate in effect", row.JurisdictionCode)
		}
		found.add(a, map[string]interface{}{
			"line_id":       row.Ref.LineID.String(),
			"component":     row.ComponentName,
			"base":          row.ComponentBase.StringFixed(2),
			"charged":       row.TaxAmount.StringFixed(2),
			"expected":      expected.StringFixed(2),
			"expected_rate": applied.Rate.String(),
			"recorded_rate": row.Rate.String(),
		})
	}
	return nil
}

// checkSummary covers jurisdiction-level checks: missing tax (T3) and negative balance (T6).
// Missing tax is only raised where the business has nexus.
func (d *anomalyDetector) checkSummary(business *model.Business, base model.TaxAnomaly, snap *model.TaxPeriodSnapshot, found *findings) {
	summary := snap.Summary()
	for _, code := range sortedKeys(summary) {
		b := summary[code]
		if business.TaxRegistered && business.CollectsIn(code) && b.TaxableSales.IsPositive() && b.TaxCollected.Abs().LessThanOrEqual(oneCent) {
			a := base
			a.Code = model.AnomalyMissingTax
			a.Severity = model.SeverityHigh
			a.Scope = code
			a.Message = fmt.Sprintf("Taxable sales of %s in %s with no tax collected", b.TaxableSales.StringFixed(2), code)
			found.add(a, map[string]interface{}{
				"taxable_sales": b.TaxableSales.StringFixed(2),
				"tax_collected": b.TaxCollected.StringFixed(2),
			})
		}
		if b.NetTax.LessThan(oneCent.Neg()) {
			a := base
			a.Code = model.AnomalyNegativeBalance
			a.Severity = model.SeverityMedium
			a.Scope = code
			a.Message = fmt.Sprintf("Net tax in %s is negative (%s)", code, b.NetTax.StringFixed(2))
			found.add(a, map[string]interface{}{
				"tax_collected":    b.TaxCollected.StringFixed(2),
				"tax_on_purchases": b.TaxOnPurchases.StringFixed(2),
				"net_tax":          b.NetTax.StringFixed(2),
			})
		}
	}
}

// checkDocuments covers missing components (T3) and document total drift (T4).
func (d *anomalyDetector) checkDocuments(ctx context.Context, business *model.Business, base model.TaxAnomaly, docs []model.Document, rows []model.TransactionLineTaxDetail, found *findings) error {
	perLine := make(map[uuid.UUID]int)
	perDoc := make(map[uuid.UUID]decimal.Decimal)
	hasRows := make(map[uuid.UUID]bool)
	for _, row := range rows {
		perLine[row.Ref.LineID]++
		perDoc[row.Ref.DocumentID] = perDoc[row.Ref.DocumentID].Add(row.TaxAmount)
		hasRows[row.Ref.DocumentID] = true
	}
	groups := make(map[uuid.UUID]*model.TaxGroup)

	for i := range docs {
		doc := &docs[i]
		for _, line := range doc.Lines {
			if line.TaxGroupID == nil || line.NetAmount == nil {
				continue
			}
			group, ok := groups[*line.TaxGroupID]
			if !ok {
				var err error
				group, err = d.deps.Groups.FindByIDWithComponents(ctx, *line.TaxGroupID)
				if err != nil {
					return eris.Wrapf(err, "failed to fetch tax group %s", *line.TaxGroupID)
				}
				groups[*line.TaxGroupID] = group
			}
			if group == nil {
				continue
			}
			if want, got := len(group.Components), perLine[line.ID]; got < want {
				a := base
				a.Code = model.AnomalyMissingComponent
				a.Severity = model.SeverityMedium
				a.DocumentID = doc.ID
				a.DocumentKind = model.LineKindFor(doc.Kind)
				a.Message = fmt.Sprintf("Document %s has lines with fewer tax rows than group components", doc.Number)
				found.add(a, map[string]interface{}{
					"line_id":  line.ID.String(),
					"group":    group.Name,
					"expected": want,
					"recorded": got,
				})
			}
		}

		if !hasRows[doc.ID] {
			continue
		}
		recorded := doc.TaxTotal
		if model.LineKindFor(doc.Kind) == model.RefCreditMemoLine {
			recorded = recorded.Neg()
		}
		sum := perDoc[doc.ID]
		if money.WithinUnits(sum, recorded, 1, doc.Currency) {
			continue
		}

		item := map[string]interface{}{
			"document_tax_total": recorded.StringFixed(2),
			"detail_tax_total":   sum.StringFixed(2),
		}
		if d.deps.DocumentTax != nil {
			if results, err := d.deps.DocumentTax.PreviewLoaded(ctx, business, doc); err == nil {
				expected := decimal.Zero
				for _, r := range results {
					expected = expected.Add(r.TotalTax)
				}
				item["expected_tax_total"] = expected.StringFixed(2)
			} else {
				item["preview_error"] = err.Error()
			}
		}
		a := base
		a.Code = model.AnomalyRounding
		a.Severity = model.SeverityLow
		a.DocumentID = doc.ID
		a.DocumentKind = model.LineKindFor(doc.Kind)
		a.Message = fmt.Sprintf("Tax rows of %s do not add up to the document tax total", doc.Number)
		found.add(a, item)
	}
	return nil
}

// checkDeadline covers late filing (T7).
func (d *anomalyDetector) checkDeadline(business *model.Business, base model.TaxAnomaly, p period.Period, snap *model.TaxPeriodSnapshot, found *findings) {
	dueDay := business.FilingDueDay
	if dueDay == 0 {
		dueDay = d.deps.DefaultDueDay
	}
	due := p.DueDate(business.FilingFrequency, dueDay)
	if snap.Status == model.SnapshotFiled || !period.Day(d.now()).After(due) {
		return
	}
	a := base
	a.Code = model.AnomalyLateFiling
	a.Severity = model.SeverityHigh
	a.Message = fmt.Sprintf("Return for %s was due on %s and is not filed", p.Key, due.Format("2006-01-02"))
	found.add(a, map[string]interface{}{
		"due_date": due.Format("2006-01-02"),
		"status":   snap.Status,
	})
}

// upsert writes findings by key. Open anomalies are refreshed in place, user-triaged ones are left alone,
// and open anomalies that were not detected again are resolved. Anomalies resolved by the detector itself
// reopen when detected again.
func (d *anomalyDetector) upsert(ctx context.Context, businessID uuid.UUID, periodKey string, detected []model.TaxAnomaly) ([]model.TaxAnomaly, error) {
	now := d.now()
	out := make([]model.TaxAnomaly, 0, len(detected))
	var created, refreshed, reopened, resolved int

	err := d.deps.TxManager.RunInTx(ctx, func(txCtx context.Context) error {
		// the snapshot row lock serializes detection with recomputation of the same period
		if _, err := d.deps.Snapshots.Find(txCtx, businessID, periodKey); err != nil {
			return eris.Wrapf(err, "failed to lock snapshot %s", periodKey)
		}
		seen := make(map[model.AnomalyKey]bool, len(detected))
		for _, a := range detected {
			seen[a.Key()] = true
			existing, err := d.deps.Anomalies.FindByKey(txCtx, a.Key())
			if err != nil {
				return eris.Wrapf(err, "failed to fetch anomaly %s", a.Code)
			}
			switch {
			case existing == nil:
				a.Status = model.AnomalyOpen
				a.LastDetectedAt = now
				if err := d.deps.Anomalies.Create(txCtx, &a); err != nil {
					return eris.Wrapf(err, "failed to create anomaly %s", a.Code)
				}
				created++
				out = append(out, a)
			case existing.Status == model.AnomalyOpen, existing.ReopensOnDetection():
				if existing.Status == model.AnomalyOpen {
					refreshed++
				} else {
					existing.Status = model.AnomalyOpen
					existing.ResolvedBySystem = false
					existing.StatusNote = "detected again"
					existing.StatusChangedAt = &now
					reopened++
				}
				existing.Severity = a.Severity
				existing.Message = a.Message
				existing.Details = a.Details
				existing.DocumentKind = a.DocumentKind
				existing.LastDetectedAt = now
				if err := d.deps.Anomalies.Update(txCtx, existing); err != nil {
					return eris.Wrapf(err, "failed to update anomaly %s", a.Code)
				}
				out = append(out, *existing)
			default:
				out = append(out, *existing)
			}
		}

		current, err := d.deps.Anomalies.ListByPeriod(txCtx, businessID, periodKey)
		if err != nil {
			return eris.Wrap(err, "failed to list anomalies")
		}
		for i := range current {
			a := &current[i]
			if a.Status != model.AnomalyOpen || seen[a.Key()] {
				continue
			}
			a.Status = model.AnomalyResolved
			a.ResolvedBySystem = true
			a.StatusNote = "no longer detected"
			a.StatusChangedAt = &now
			if err := d.deps.Anomalies.Update(txCtx, a); err != nil {
				return eris.Wrapf(err, "failed to resolve anomaly %s", a.ID)
			}
			resolved++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Anomaly detection finished",
		zap.String("business_id", businessID.String()),
		zap.String("period", periodKey),
		zap.Int("created", created),
		zap.Int("refreshed", refreshed),
		zap.Int("reopened", reopened),
		zap.Int("resolved", resolved),
	)
	return out, nil
}
