package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"taxengine/internal/model"
	"taxengine/internal/repository"
	"taxengine/pkg/period"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"
)

// PeriodAggregator builds the filing snapshot of one business and period.
type PeriodAggregator interface {
	// Aggregate recomputes the snapshot in place. FILED snapshots are refused.
	Aggregate(ctx context.Context, businessID uuid.UUID, periodKey, actor string) (*model.TaxPeriodSnapshot, error)
}

type periodAggregator struct {
	businessRepo repository.BusinessRepository
	detailRepo   repository.TaxDetailRepository
	documentRepo repository.DocumentRepository
	snapshotRepo repository.SnapshotRepository
	auditRepo    repository.AuditRepository
	txManager    repository.TransactionManager
	rules        rateResolver
	flight       *singleflight.Group
	now          func() time.Time
}

func NewPeriodAggregator(
	businessRepo repository.BusinessRepository,
	detailRepo repository.TaxDetailRepository,
	documentRepo repository.DocumentRepository,
	snapshotRepo repository.SnapshotRepository,
	ruleRepo repository.ProductRuleRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
) PeriodAggregator {
	return &periodAggregator{
		businessRepo: businessRepo,
		detailRepo:   detailRepo,
		documentRepo: documentRepo,
		snapshotRepo: snapshotRepo,
		auditRepo:    auditRepo,
		txManager:    txManager,
		rules:        rateResolver{ruleRepo: ruleRepo},
		flight:       &singleflight.Group{},
		now:          time.Now,
	}
}

func (a *periodAggregator) Aggregate(ctx context.Context, businessID uuid.UUID, periodKey, actor string) (*model.TaxPeriodSnapshot, error) {
	p, err := period.Parse(periodKey)
	if err != nil {
		return nil, err
	}

	v, err, _ := a.flight.Do(fmt.Sprintf("%s/%s", businessID, p.Key), func() (interface{}, error) {
		return a.aggregate(ctx, businessID, p, actor)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.TaxPeriodSnapshot), nil
}

func (a *periodAggregator) aggregate(ctx context.Context, businessID uuid.UUID, p period.Period, actor string) (*model.TaxPeriodSnapshot, error) {
	business, err := a.businessRepo.FindByID(ctx, businessID)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to fetch business %s", businessID)
	}
	if business == nil {
		return nil, ErrBusinessNotFound
	}

	var snap *model.TaxPeriodSnapshot
	err = a.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		existing, err := a.snapshotRepo.Find(txCtx, businessID, p.Key)
		if err != nil {
			return eris.Wrapf(err, "failed to lock snapshot %s", p.Key)
		}
		if existing != nil && existing.Status == model.SnapshotFiled {
			return eris.Wrapf(ErrSnapshotFiled, "period %s", p.Key)
		}

		rows, err := a.detailRepo.ListByPeriod(txCtx, businessID, p.Start, p.End)
		if err != nil {
			return eris.Wrapf(err, "failed to load tax details for %s", p.Key)
		}

		summary := summarizeDetails(rows)
		source := model.SourceDetailLines
		if len(rows) == 0 {
			totals, err := a.documentRepo.SumTotalsInRange(txCtx, businessID, p.Start, p.End)
			if err != nil {
				return eris.Wrapf(err, "failed to sum document totals for %s", p.Key)
			}
			if len(totals) > 0 {
				summary = summarizeTotals(business.RegionCode(), totals)
				source = model.SourceDocumentTotals
				zap.L().Warn("No tax detail rows, aggregating from document totals",
					zap.String("business_id", businessID.String()),
					zap.String("period", p.Key),
					zap.String("jurisdiction", business.RegionCode()),
				)
			}
		}

		mappings, err := a.project(txCtx, business, rows, summary)
		if err != nil {
			return err
		}

		now := a.now()
		if existing == nil {
			existing = &model.TaxPeriodSnapshot{BusinessID: businessID, PeriodKey: p.Key}
		}
		existing.PeriodStart = p.Start
		existing.PeriodEnd = p.End
		existing.Status = model.SnapshotComputed
		existing.Source = source
		existing.SummaryByJurisdiction = datatypes.NewJSONType(summary)
		existing.LineMappings = datatypes.NewJSONType(mappings)
		existing.ComputedAt = &now
		existing.ReviewedAt = nil

		if existing.ID == uuid.Nil {
			err = a.snapshotRepo.Create(txCtx, existing)
		} else {
			err = a.snapshotRepo.Update(txCtx, existing)
		}
		if err != nil {
			return eris.Wrapf(err, "failed to save snapshot %s", p.Key)
		}
		snap = existing
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Period snapshot computed",
		zap.String("business_id", businessID.String()),
		zap.String("period", p.Key),
		zap.String("source", snap.Source),
		zap.Int("jurisdictions", len(snap.Summary())),
	)
	writeAuditLog(ctx, a.auditRepo, &businessID, actor, model.ActionComputeSnapshot, snap.ID.String(), p.Key,
		map[string]string{"source": snap.Source})
	return snap, nil
}

// sideOf classifies a detail row: explicit side, then reference kind, then recoverability.
func sideOf(row model.TransactionLineTaxDetail) string {
	if row.DocumentSide == model.SideSale || row.DocumentSide == model.SidePurchase {
		return row.DocumentSide
	}
	if side := model.SideForKind(row.Ref.Kind); side != "" {
		return side
	}
	if row.IsRecoverable {
		return model.SidePurchase
	}
	return model.SideSale
}

type lineKey struct {
	bucket string
	doc    uuid.UUID
	line   uuid.UUID
}

// summarizeDetails groups detail rows by state/province bucket.
// A line's base is counted once per bucket however many stacked components it carries.
func summarizeDetails(rows []model.TransactionLineTaxDetail) map[string]model.JurisdictionSummary {
	buckets := make(map[string]*model.JurisdictionSummary)
	locals := make(map[string]map[string]*model.LocalTax)
	seen := make(map[lineKey]bool)

	for _, row := range rows {
		code := row.JurisdictionCode
		bucketCode := model.RegionOf(code)
		b, ok := buckets[bucketCode]
		if !ok {
			b = &model.JurisdictionSummary{Code: bucketCode, Source: model.SourceDetailLines}
			buckets[bucketCode] = b
		}

		side := sideOf(row)
		key := lineKey{bucket: bucketCode, doc: row.Ref.DocumentID, line: row.Ref.LineID}
		if !seen[key] {
			seen[key] = true
			switch {
			case row.ReportingCategory == model.ReportingOutOfScope && side == model.SideSale:
				b.OutOfScopeSales = b.OutOfScopeSales.Add(row.TaxableAmountHome)
			case row.ReportingCategory == model.ReportingOutOfScope:
				// out-of-scope purchases carry no base
			case side == model.SideSale:
				b.TaxableSales = b.TaxableSales.Add(row.TaxableAmountHome)
			default:
				b.TaxablePurchases = b.TaxablePurchases.Add(row.TaxableAmountHome)
			}
		}

		collected, onPurchases := decimal.Zero, decimal.Zero
		if side == model.SideSale {
			collected = row.TaxAmountHome
		} else if row.IsRecoverable {
			onPurchases = row.TaxAmountHome
		}
		b.TaxCollected = b.TaxCollected.Add(collected)
		b.TaxOnPurchases = b.TaxOnPurchases.Add(onPurchases)

		if code != bucketCode {
			if locals[bucketCode] == nil {
				locals[bucketCode] = make(map[string]*model.LocalTax)
			}
			lt, ok := locals[bucketCode][code]
			if !ok {
				lt = &model.LocalTax{Code: code}
				locals[bucketCode][code] = lt
			}
			lt.TaxCollected = lt.TaxCollected.Add(collected)
			lt.TaxOnPurchases = lt.TaxOnPurchases.Add(onPurchases)
		}
	}

	out := make(map[string]model.JurisdictionSummary, len(buckets))
	for code, b := range buckets {
		b.NetTax = b.TaxCollected.Sub(b.TaxOnPurchases)
		for _, localCode := range sortedKeys(locals[code]) {
			b.Locals = append(b.Locals, *locals[code][localCode])
		}
		out[code] = *b
	}
	return out
}

// summarizeTotals approximates a summary from document totals under one jurisdiction.
func summarizeTotals(code string, totals []repository.DocumentTotalsRow) map[string]model.JurisdictionSummary {
	b := model.JurisdictionSummary{Code: code, Source: model.SourceDocumentTotals}
	for _, t := range totals {
		switch t.Kind {
		case model.DocKindInvoice:
			b.TaxableSales = b.TaxableSales.Add(t.NetTotal)
			b.TaxCollected = b.TaxCollected.Add(t.TaxTotal)
		case model.DocKindCreditMemo:
			b.TaxableSales = b.TaxableSales.Sub(t.NetTotal)
			b.TaxCollected = b.TaxCollected.Sub(t.TaxTotal)
		case model.DocKindExpense:
			b.TaxablePurchases = b.TaxablePurchases.Add(t.NetTotal)
			if t.TaxRecoverable {
				b.TaxOnPurchases = b.TaxOnPurchases.Add(t.TaxTotal)
			}
		}
	}
	b.NetTax = b.TaxCollected.Sub(b.TaxOnPurchases)
	return map[string]model.JurisdictionSummary{code: b}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
