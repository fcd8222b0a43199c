package service

import (
	"context"
	"strings"
	"time"

	"taxengine/internal/model"
	"taxengine/internal/repository"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// --- DTOs ---

type CreateComponentRequest struct {
	Name                  string `json:"name" binding:"required"`
	Authority             string `json:"authority"`
	BaseRate              string `json:"base_rate" binding:"required"` // Decimal string, e.g. "0.13"
	IsRecoverable         bool   `json:"is_recoverable"`
	CanonicalJurisdiction string `json:"canonical_jurisdiction"`
	EffectiveFrom         string `json:"effective_from" binding:"required"` // YYYY-MM-DD
}

type CreateTaxRateRequest struct {
	ProductCategory string `json:"product_category"`
	Rate            string `json:"rate" binding:"required"`
	EffectiveFrom   string `json:"effective_from" binding:"required"`
	EffectiveTo     string `json:"effective_to"` // YYYY-MM-DD, nullable
	Description     string `json:"description"`
}

type GroupComponentRequest struct {
	ComponentID      string `json:"component_id" binding:"required"`
	CalculationOrder int    `json:"calculation_order"`
}

type CreateGroupRequest struct {
	Name              string                  `json:"name" binding:"required"`
	CalculationMethod string                  `json:"calculation_method" binding:"omitempty,oneof=SIMPLE COMPOUND"`
	TaxTreatment      string                  `json:"tax_treatment" binding:"omitempty,oneof=EXCLUSIVE INCLUSIVE"`
	ReportingCategory string                  `json:"reporting_category" binding:"omitempty,oneof=TAXABLE ZERO_RATED EXEMPT OUT_OF_SCOPE"`
	Components        []GroupComponentRequest `json:"components" binding:"required,min=1,dive"`
}

type CreateProductRuleRequest struct {
	JurisdictionCode string `json:"jurisdiction_code" binding:"required"`
	ProductCode      string `json:"product_code" binding:"required"`
	RuleType         string `json:"rule_type" binding:"required,oneof=TAXABLE EXEMPT ZERO_RATED REDUCED"`
	SpecialRate      string `json:"special_rate"`
	ValidFrom        string `json:"valid_from" binding:"required"`
	ValidTo          string `json:"valid_to"`
}

type RegisterJurisdictionRequest struct {
	Code             string `json:"code" binding:"required"`
	ParentCode       string `json:"parent_code"`
	Name             string `json:"name"`
	JurisdictionType string `json:"jurisdiction_type" binding:"required,oneof=COUNTRY STATE COUNTY CITY DISTRICT"`
	SourcingRule     string `json:"sourcing_rule" binding:"omitempty,oneof=ORIGIN DESTINATION HYBRID"`
}

// --- Interface ---

// CatalogService owns writes to the rate catalog and enforces its invariants at write time.
type CatalogService interface {
	CreateComponent(ctx context.Context, businessID uuid.UUID, req CreateComponentRequest, actor string) (*model.TaxComponent, error)
	ListComponents(ctx context.Context, businessID uuid.UUID) ([]model.TaxComponent, error)
	CreateRate(ctx context.Context, businessID, componentID uuid.UUID, req CreateTaxRateRequest, actor string) (*model.TaxRate, error)
	ListRates(ctx context.Context, businessID, componentID uuid.UUID) ([]model.TaxRate, error)
	CreateGroup(ctx context.Context, businessID uuid.UUID, req CreateGroupRequest) (*model.TaxGroup, error)
	CreateProductRule(ctx context.Context, req CreateProductRuleRequest, actor string) (*model.TaxProductRule, error)
	RegisterJurisdiction(ctx context.Context, req RegisterJurisdictionRequest, actor string) (*model.TaxJurisdiction, error)
	ListJurisdictions(ctx context.Context, country string) ([]model.TaxJurisdiction, error)
}

type catalogService struct {
	componentRepo    repository.TaxComponentRepository
	rateRepo         repository.TaxRateRepository
	groupRepo        repository.TaxGroupRepository
	ruleRepo         repository.ProductRuleRepository
	jurisdictionRepo repository.JurisdictionRepository
	auditRepo        repository.AuditRepository
	txManager        repository.TransactionManager
}

func NewCatalogService(
	componentRepo repository.TaxComponentRepository,
	rateRepo repository.TaxRateRepository,
	groupRepo repository.TaxGroupRepository,
	ruleRepo repository.ProductRuleRepository,
	jurisdictionRepo repository.JurisdictionRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
) CatalogService {
	return &catalogService{
		componentRepo:    componentRepo,
		rateRepo:         rateRepo,
		groupRepo:        groupRepo,
		ruleRepo:         ruleRepo,
		jurisdictionRepo: jurisdictionRepo,
		auditRepo:        auditRepo,
		txManager:        txManager,
	}
}

// --- Implementation ---

func (s *catalogService) CreateComponent(ctx context.Context, businessID uuid.UUID, req CreateComponentRequest, actor string) (*model.TaxComponent, error) {
	rate, err := parseRate(req.BaseRate)
	if err != nil {
		return nil, err
	}
	from, err := parseDate("effective_from", req.EffectiveFrom)
	if err != nil {
		return nil, err
	}

	component := model.TaxComponent{
		BusinessID:    businessID,
		Name:          strings.TrimSpace(req.Name),
		Authority:     req.Authority,
		BaseRate:      rate,
		IsRecoverable: req.IsRecoverable,
		EffectiveFrom: from,
	}
	if code := strings.ToUpper(strings.TrimSpace(req.CanonicalJurisdiction)); code != "" {
		component.CanonicalJurisdiction = &code
	}

	if err := s.componentRepo.Create(ctx, &component); err != nil {
		return nil, eris.Wrap(err, "failed to create tax component")
	}
	return &component, nil
}

func (s *catalogService) ListComponents(ctx context.Context, businessID uuid.UUID) ([]model.TaxComponent, error) {
	components, err := s.componentRepo.ListByBusiness(ctx, businessID)
	if err != nil {
		return nil, eris.Wrap(err, "failed to list tax components")
	}
	return components, nil
}

func (s *catalogService) ownedComponent(ctx context.Context, businessID, componentID uuid.UUID) (*model.TaxComponent, error) {
	component, err := s.componentRepo.FindByID(ctx, componentID)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to fetch component %s", componentID)
	}
	if component == nil || component.BusinessID != businessID {
		return nil, ErrComponentNotFound
	}
	return component, nil
}

func (s *catalogService) CreateRate(ctx context.Context, businessID, componentID uuid.UUID, req CreateTaxRateRequest, actor string) (*model.TaxRate, error) {
	rate, err := parseRate(req.Rate)
	if err != nil {
		return nil, err
	}
	from, to, err := parseRange(req.EffectiveFrom, req.EffectiveTo)
	if err != nil {
		return nil, err
	}

	row := model.TaxRate{
		ComponentID:     componentID,
		ProductCategory: strings.TrimSpace(req.ProductCategory),
		Rate:            rate,
		EffectiveFrom:   from,
		EffectiveTo:     to,
		Description:     req.Description,
	}

	var component *model.TaxComponent
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		component, err = s.ownedComponent(txCtx, businessID, componentID)
		if err != nil {
			return err
		}
		overlapping, err := s.rateRepo.CountOverlapping(txCtx, componentID, row.ProductCategory, from, to, nil)
		if err != nil {
			return eris.Wrap(err, "failed to check overlap")
		}
		if overlapping > 0 {
			return eris.Wrapf(ErrRateOverlap, "component %s category %q", component.Name, row.ProductCategory)
		}
		if err := s.rateRepo.Create(txCtx, &row); err != nil {
			return eris.Wrap(err, "failed to create tax rate")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	writeAuditLog(ctx, s.auditRepo, &businessID, actor, model.ActionCreateTaxRate, row.ID.String(),
		component.Name+" "+rate.StringFixed(4), req)
	return &row, nil
}

func (s *catalogService) ListRates(ctx context.Context, businessID, componentID uuid.UUID) ([]model.TaxRate, error) {
	if _, err := s.ownedComponent(ctx, businessID, componentID); err != nil {
		return nil, err
	}
	rates, err := s.rateRepo.ListByComponent(ctx, componentID)
	if err != nil {
		return nil, eris.Wrap(err, "failed to list tax rates")
	}
	return rates, nil
}

func (s *catalogService) CreateGroup(ctx context.Context, businessID uuid.UUID, req CreateGroupRequest) (*model.TaxGroup, error) {
	group := model.TaxGroup{
		BusinessID:        businessID,
		Name:              strings.TrimSpace(req.Name),
		CalculationMethod: lo.Ternary(req.CalculationMethod == "", model.CalculationSimple, req.CalculationMethod),
		TaxTreatment:      lo.Ternary(req.TaxTreatment == "", model.TreatmentExclusive, req.TaxTreatment),
		ReportingCategory: lo.Ternary(req.ReportingCategory == "", model.ReportingTaxable, req.ReportingCategory),
	}

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		for _, c := range req.Components {
			id, err := uuid.Parse(c.ComponentID)
			if err != nil {
				return eris.Wrapf(ErrComponentNotFound, "invalid component id %q", c.ComponentID)
			}
			if _, err := s.ownedComponent(txCtx, businessID, id); err != nil {
				return err
			}
			group.Components = append(group.Components, model.TaxGroupComponent{
				ComponentID:      id,
				CalculationOrder: c.CalculationOrder,
			})
		}
		if err := s.groupRepo.Create(txCtx, &group); err != nil {
			return eris.Wrap(err, "failed to create tax group")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &group, nil
}

func (s *catalogService) CreateProductRule(ctx context.Context, req CreateProductRuleRequest, actor string) (*model.TaxProductRule, error) {
	from, to, err := parseRange(req.ValidFrom, req.ValidTo)
	if err != nil {
		return nil, err
	}

	rule := model.TaxProductRule{
		JurisdictionCode: strings.ToUpper(strings.TrimSpace(req.JurisdictionCode)),
		ProductCode:      strings.TrimSpace(req.ProductCode),
		RuleType:         req.RuleType,
		ValidFrom:        from,
		ValidTo:          to,
	}
	if req.SpecialRate != "" {
		rate, err := parseRate(req.SpecialRate)
		if err != nil {
			return nil, err
		}
		rule.SpecialRate = &rate
	}
	if rule.RuleType == model.ProductRuleReduced && (rule.SpecialRate == nil || !rule.SpecialRate.IsPositive()) {
		return nil, eris.Wrap(ErrInvalidProductRule, "REDUCED rules require a special_rate greater than zero")
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		j, err := s.jurisdictionRepo.FindByCode(txCtx, rule.JurisdictionCode)
		if err != nil {
			return eris.Wrap(err, "failed to fetch jurisdiction")
		}
		if j == nil {
			return eris.Wrapf(ErrInvalidJurisdiction, "unknown jurisdiction %s", rule.JurisdictionCode)
		}
		overlapping, err := s.ruleRepo.CountOverlapping(txCtx, rule.JurisdictionCode, rule.ProductCode, from, to, nil)
		if err != nil {
			return eris.Wrap(err, "failed to check overlap")
		}
		if overlapping > 0 {
			return eris.Wrapf(ErrProductRuleOverlap, "%s/%s", rule.JurisdictionCode, rule.ProductCode)
		}
		if err := s.ruleRepo.Create(txCtx, &rule); err != nil {
			return eris.Wrap(err, "failed to create product rule")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	writeAuditLog(ctx, s.auditRepo, nil, actor, model.ActionCreateProductRule, rule.ID.String(),
		rule.JurisdictionCode+" "+rule.ProductCode+" "+rule.RuleType, req)
	return &rule, nil
}

// RegisterJurisdiction adds a code to the hierarchy. A child must extend its parent's code,
// so its country prefix always matches the ancestor chain.
func (s *catalogService) RegisterJurisdiction(ctx context.Context, req RegisterJurisdictionRequest, actor string) (*model.TaxJurisdiction, error) {
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	parentCode := strings.ToUpper(strings.TrimSpace(req.ParentCode))
	if code == "" || strings.Contains(code, " ") {
		return nil, eris.Wrapf(ErrInvalidJurisdiction, "invalid code %q", req.Code)
	}

	j := model.TaxJurisdiction{
		Code:             code,
		Name:             req.Name,
		JurisdictionType: req.JurisdictionType,
		SourcingRule:     lo.Ternary(req.SourcingRule == "", model.SourcingDestination, req.SourcingRule),
	}

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		existing, err := s.jurisdictionRepo.FindByCode(txCtx, code)
		if err != nil {
			return eris.Wrap(err, "failed to fetch jurisdiction")
		}
		if existing != nil {
			return eris.Wrapf(ErrInvalidJurisdiction, "%s already registered", code)
		}

		if parentCode == "" {
			if strings.Contains(code, "-") {
				return eris.Wrapf(ErrInvalidJurisdiction, "%s needs a parent", code)
			}
		} else {
			if !strings.HasPrefix(code, parentCode+"-") {
				return eris.Wrapf(ErrInvalidJurisdiction, "%s does not extend parent %s", code, parentCode)
			}
			parent, err := s.jurisdictionRepo.FindByCode(txCtx, parentCode)
			if err != nil {
				return eris.Wrap(err, "failed to fetch parent jurisdiction")
			}
			if parent == nil {
				return eris.Wrapf(ErrInvalidJurisdiction, "unknown parent %s", parentCode)
			}
			if parent.Country() != model.CountryOf(code) {
				return eris.Wrapf(ErrInvalidJurisdiction, "%s country differs from parent %s", code, parentCode)
			}
			j.ParentCode = &parentCode
		}

		if err := s.jurisdictionRepo.Create(txCtx, &j); err != nil {
			return eris.Wrap(err, "failed to register jurisdiction")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Jurisdiction registered", zap.String("code", code), zap.String("sourcing_rule", j.SourcingRule))
	writeAuditLog(ctx, s.auditRepo, nil, actor, model.ActionRegisterJurisdiction, j.ID.String(), code, req)
	return &j, nil
}

func (s *catalogService) ListJurisdictions(ctx context.Context, country string) ([]model.TaxJurisdiction, error) {
	jurisdictions, err := s.jurisdictionRepo.ListByCountry(ctx, strings.ToUpper(country))
	if err != nil {
		return nil, eris.Wrap(err, "failed to list jurisdictions")
	}
	return jurisdictions, nil
}

// --- Helpers ---

func parseRate(value string) (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Zero, eris.Wrapf(ErrInvalidRate, "invalid rate value %q", value)
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, eris.Wrapf(ErrInvalidRate, "rate %s must be between 0 and 1", rate)
	}
	return rate.Round(6), nil
}

func parseDate(field, value string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "invalid %s date format (expected YYYY-MM-DD)", field)
	}
	return t, nil
}

func parseRange(fromStr, toStr string) (time.Time, *time.Time, error) {
	from, err := parseDate("from", fromStr)
	if err != nil {
		return time.Time{}, nil, err
	}
	if toStr == "" {
		return from, nil, nil
	}
	to, err := parseDate("to", toStr)
	if err != nil {
		return time.Time{}, nil, err
	}
	if to.Before(from) {
		return time.Time{}, nil, eris.Errorf("end date %s is before start date %s", toStr, fromStr)
	}
	return from, &to, nil
}
