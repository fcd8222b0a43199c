package service

import (
	"context"

	"taxengine/internal/model"
	"taxengine/internal/repository"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// documentLine adapts a persisted document line to TaxableLine.
type documentLine struct {
	doc  *model.Document
	line *model.DocumentLine
}

// NewDocumentLine wraps one line of a document for the calculator.
func NewDocumentLine(doc *model.Document, line *model.DocumentLine) TaxableLine {
	return documentLine{doc: doc, line: line}
}

func (l documentLine) LineRef() model.DocumentRef {
	return l.doc.Ref(*l.line)
}

func (l documentLine) NetAmount() (decimal.Decimal, bool) {
	if l.line.NetAmount == nil {
		return decimal.Zero, false
	}
	return *l.line.NetAmount, true
}

func (l documentLine) ProductCategory() string { return l.line.ProductCategory }
func (l documentLine) ProductCode() string     { return l.line.ProductCode }
func (l documentLine) DocumentSide() string    { return l.doc.Side() }

func (l documentLine) Locations() LocationHints {
	return LocationHints{
		ShipFrom:         deref(l.doc.ShipFrom),
		ShipTo:           deref(l.doc.ShipTo),
		CustomerLocation: deref(l.doc.CustomerLocation),
		PlaceOfSupply:    l.doc.PlaceOfSupply,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// DocumentTaxService calculates every taxable line of a posted document.
type DocumentTaxService interface {
	// Recalculate replaces all detail rows of the document in one transaction.
	Recalculate(ctx context.Context, documentID uuid.UUID, actor string) ([]CalculationResult, error)
	// Preview computes the same breakdown without writing anything.
	Preview(ctx context.Context, documentID uuid.UUID) ([]CalculationResult, error)
	// PreviewLoaded is Preview for a document already in memory.
	PreviewLoaded(ctx context.Context, business *model.Business, doc *model.Document) ([]CalculationResult, error)
}

type documentTaxService struct {
	calculator   TaxCalculator
	documentRepo repository.DocumentRepository
	businessRepo repository.BusinessRepository
	groupRepo    repository.TaxGroupRepository
	detailRepo   repository.TaxDetailRepository
	auditRepo    repository.AuditRepository
	txManager    repository.TransactionManager
}

func NewDocumentTaxService(
	calculator TaxCalculator,
	documentRepo repository.DocumentRepository,
	businessRepo repository.BusinessRepository,
	groupRepo repository.TaxGroupRepository,
	detailRepo repository.TaxDetailRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
) DocumentTaxService {
	return &documentTaxService{
		calculator:   calculator,
		documentRepo: documentRepo,
		businessRepo: businessRepo,
		groupRepo:    groupRepo,
		detailRepo:   detailRepo,
		auditRepo:    auditRepo,
		txManager:    txManager,
	}
}

func (s *documentTaxService) load(ctx context.Context, documentID uuid.UUID) (*model.Business, *model.Document, error) {
	doc, err := s.documentRepo.FindByIDWithLines(ctx, documentID)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "failed to fetch document %s", documentID)
	}
	if doc == nil {
		return nil, nil, ErrDocumentNotFound
	}
	business, err := s.businessRepo.FindByID(ctx, doc.BusinessID)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "failed to fetch business %s", doc.BusinessID)
	}
	if business == nil {
		return nil, nil, ErrBusinessNotFound
	}
	return business, doc, nil
}

func (s *documentTaxService) Recalculate(ctx context.Context, documentID uuid.UUID, actor string) ([]CalculationResult, error) {
	business, doc, err := s.load(ctx, documentID)
	if err != nil {
		return nil, err
	}

	var results []CalculationResult
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.detailRepo.DeleteForDocument(txCtx, doc.ID); err != nil {
			return eris.Wrapf(err, "failed to clear tax details of document %s", doc.ID)
		}
		var calcErr error
		results, calcErr = s.calculate(txCtx, business, doc, true)
		return calcErr
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Document tax recalculated",
		zap.String("document_id", doc.ID.String()),
		zap.String("kind", doc.Kind),
		zap.Int("lines", len(results)),
	)
	writeAuditLog(ctx, s.auditRepo, &business.ID, actor, model.ActionRecalculateDocumentTax, doc.ID.String(), doc.Number,
		map[string]interface{}{"lines": len(results), "kind": doc.Kind})
	return results, nil
}

func (s *documentTaxService) Preview(ctx context.Context, documentID uuid.UUID) ([]CalculationResult, error) {
	business, doc, err := s.load(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return s.calculate(ctx, business, doc, false)
}

func (s *documentTaxService) PreviewLoaded(ctx context.Context, business *model.Business, doc *model.Document) ([]CalculationResult, error) {
	return s.calculate(ctx, business, doc, false)
}

func (s *documentTaxService) calculate(ctx context.Context, business *model.Business, doc *model.Document, persist bool) ([]CalculationResult, error) {
	groups := make(map[uuid.UUID]*model.TaxGroup)
	results := make([]CalculationResult, 0, len(doc.Lines))

	for i := range doc.Lines {
		line := &doc.Lines[i]
		if line.TaxGroupID == nil {
			continue
		}

		group, ok := groups[*line.TaxGroupID]
		if !ok {
			var err error
			group, err = s.groupRepo.FindByIDWithComponents(ctx, *line.TaxGroupID)
			if err != nil {
				return nil, eris.Wrapf(err, "failed to fetch tax group %s", *line.TaxGroupID)
			}
			if group == nil {
				return nil, eris.Wrapf(ErrGroupNotFound, "group %s", *line.TaxGroupID)
			}
			groups[*line.TaxGroupID] = group
		}

		res, err := s.calculator.Calculate(ctx, CalculationRequest{
			Business: business,
			Line:     NewDocumentLine(doc, line),
			Group:    group,
			Date:     doc.DocumentDate,
			Currency: doc.Currency,
			FXRate:   doc.ExchangeRate,
			Persist:  persist,
		})
		if err != nil {
			return nil, eris.Wrapf(err, "line %d of %s", line.LineNo, doc.Number)
		}
		results = append(results, *res)
	}
	return results, nil
}
