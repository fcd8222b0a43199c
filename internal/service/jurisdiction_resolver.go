package service

import (
	"context"
	"strings"

	"taxengine/internal/model"
	"taxengine/internal/repository"

	"github.com/rotisserie/eris"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// LocationHints are the jurisdiction codes a document carries about where the supply happens.
type LocationHints struct {
	ShipFrom         string
	ShipTo           string
	CustomerLocation string
	PlaceOfSupply    string // AUTO, TPP, SERVICE, IPP
}

// JurisdictionResolver returns the ordered jurisdiction codes that apply to a transaction, broadest first.
type JurisdictionResolver interface {
	Resolve(ctx context.Context, business *model.Business, hints LocationHints) ([]string, error)
}

type jurisdictionResolver struct {
	jurisdictionRepo repository.JurisdictionRepository
}

func NewJurisdictionResolver(jurisdictionRepo repository.JurisdictionRepository) JurisdictionResolver {
	return &jurisdictionResolver{jurisdictionRepo: jurisdictionRepo}
}

// registry is the set of known jurisdictions of one country, loaded once per resolution.
type registry map[string]model.TaxJurisdiction

func (r registry) known(code string) bool {
	_, ok := r[code]
	return ok
}

func (r *jurisdictionResolver) Resolve(ctx context.Context, business *model.Business, hints LocationHints) ([]string, error) {
	if business == nil {
		return nil, ErrBusinessNotFound
	}
	hints = normalizeHints(hints)
	country := dispatchCountry(business, hints)

	rows, err := r.jurisdictionRepo.ListByCountry(ctx, country)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to load jurisdictions for %s", country)
	}
	reg := make(registry, len(rows))
	for _, j := range rows {
		reg[j.Code] = j
	}

	var codes []string
	switch country {
	case "CA":
		codes = resolveCanada(reg, hints)
	case "US":
		codes = resolveUnitedStates(reg, hints)
	default:
		return []string{model.GeneralCode(country)}, nil
	}

	if len(codes) == 0 {
		codes = []string{fallbackCode(reg, business, country)}
		zap.L().Warn("No usable location hint, using fallback jurisdiction",
			zap.String("business_id", business.ID.String()),
			zap.String("country", country),
			zap.String("code", codes[0]),
		)
	}
	return codes, nil
}

func normalizeHints(h LocationHints) LocationHints {
	h.ShipFrom = strings.ToUpper(strings.TrimSpace(h.ShipFrom))
	h.ShipTo = strings.ToUpper(strings.TrimSpace(h.ShipTo))
	h.CustomerLocation = strings.ToUpper(strings.TrimSpace(h.CustomerLocation))
	h.PlaceOfSupply = strings.ToUpper(strings.TrimSpace(h.PlaceOfSupply))
	if h.PlaceOfSupply == "" {
		h.PlaceOfSupply = model.SupplyAuto
	}
	return h
}

// dispatchCountry picks the rule set from the destination side first, then the business profile.
// A cross-border supply is taxed under the rules of the country it lands in, so the business
// country only decides when the document carries no location at all.
func dispatchCountry(business *model.Business, h LocationHints) string {
	for _, code := range []string{h.ShipTo, h.CustomerLocation, h.ShipFrom} {
		if code != "" {
			return model.CountryOf(code)
		}
	}
	return strings.ToUpper(business.TaxCountry)
}

// acceptable reports whether code is a known jurisdiction rolling up to prefix.
func acceptable(reg registry, code, prefix string) bool {
	if code == "" || !reg.known(code) {
		return false
	}
	return code == prefix || strings.HasPrefix(code, prefix+"-")
}

func resolveCanada(reg registry, h LocationHints) []string {
	supply := h.PlaceOfSupply
	if supply == model.SupplyAuto {
		if h.ShipTo != "" {
			supply = model.SupplyTPP
		} else {
			supply = model.SupplyService
		}
	}

	candidates := []string{h.CustomerLocation, h.ShipTo}
	if supply == model.SupplyTPP {
		candidates = []string{h.ShipTo, h.ShipFrom}
	}
	for _, c := range candidates {
		province := model.RegionOf(c)
		if province != "CA" && acceptable(reg, province, "CA") {
			return []string{province}
		}
	}
	return nil
}

func resolveUnitedStates(reg registry, h LocationHints) []string {
	dest := ""
	for _, c := range []string{h.ShipTo, h.ShipFrom} {
		if acceptable(reg, model.RegionOf(c), "US") && model.RegionOf(c) != "US" {
			dest = c
			break
		}
	}
	if dest == "" {
		return nil
	}

	state := model.RegionOf(dest)
	rule := model.SourcingDestination
	if j, ok := reg[state]; ok && j.SourcingRule != "" {
		rule = j.SourcingRule
	}

	chosen := dest
	localSide := dest
	switch rule {
	case model.SourcingOrigin:
		intrastate := h.ShipFrom != "" && h.ShipTo != "" && model.RegionOf(h.ShipFrom) == model.RegionOf(h.ShipTo)
		if intrastate && acceptable(reg, model.RegionOf(h.ShipFrom), "US") {
			chosen = h.ShipFrom
			localSide = h.ShipFrom
		}
	case model.SourcingHybrid:
		// the state portion is the state itself; locals only from the destination side
		localSide = h.ShipTo
	}

	state = model.RegionOf(chosen)
	codes := []string{state}
	for _, n := range []int{3, 4} {
		candidate := model.CodePrefix(localSide, n)
		if candidate != "" && acceptable(reg, candidate, state) {
			codes = append(codes, candidate)
		}
	}
	return lo.Uniq(codes)
}

func fallbackCode(reg registry, business *model.Business, country string) string {
	if strings.EqualFold(business.TaxCountry, country) {
		if region := strings.ToUpper(business.RegionCode()); reg.known(region) {
			return region
		}
	}
	if reg.known(country) {
		return country
	}
	return model.GeneralCode(country)
}
