package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// PriceType distinguishes which level of government issued a guided price.
type PriceType string

const (
	PriceTypeProvincial PriceType = "provincial"
	PriceTypeMunicipal  PriceType = "municipal"
)

// Match methods recorded on a project material, most specific first.
const (
	MatchMethodDistrict = "hierarchical_district"
	MatchMethodCity     = "hierarchical_city"
	MatchMethodProvince = "hierarchical_province"
	MatchMethodManual   = "manual"
)

// Project is an estimate under audit. Base-price fields locate the guided
// price catalogue used for matching; the contract window bounds which
// catalogue issues count as peers for differential averaging.
type Project struct {
	ID       string
	Name     string
	Code     string
	Location string

	BaseProvince string
	BaseCity     string
	BaseDistrict string

	BasePriceDate YearMonth
	Contract      ContractWindow

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the fields required before materials can be matched.
func (p *Project) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return eris.New("project: name is required")
	}
	if strings.TrimSpace(p.BaseProvince) == "" {
		return eris.New("project: base province is required")
	}
	if p.BasePriceDate.IsZero() {
		return eris.New("project: base price date is required")
	}
	if err := p.Contract.Validate(); err != nil {
		return eris.Wrap(err, "project")
	}
	return nil
}

// ProjectMaterial is one reported line item of an estimate.
type ProjectMaterial struct {
	ID        string
	ProjectID string
	Seq       int

	Name          string
	Specification string
	Unit          string
	Category      string

	Quantity      float64
	ReportedPrice float64

	Matched     bool
	ReferenceID string
	MatchScore  float64
	MatchMethod string

	Analyzed    bool
	Problematic bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SetMatch records a confirmed catalogue match.
func (m *ProjectMaterial) SetMatch(referenceID string, score float64, method string) {
	m.Matched = true
	m.ReferenceID = referenceID
	m.MatchScore = score
	m.MatchMethod = method
}

// ClearMatch reverts the material to unmatched and drops any derived state.
func (m *ProjectMaterial) ClearMatch() {
	m.Matched = false
	m.ReferenceID = ""
	m.MatchScore = 0
	m.MatchMethod = ""
	m.Problematic = false
}

// ReferenceMaterial is one guided price catalogue entry.
type ReferenceMaterial struct {
	ID           string
	MaterialCode string

	Name          string
	Specification string
	Unit          string
	Category      string

	PriceType PriceType
	Province  string
	City      string
	District  string

	IssuePeriod YearMonth

	PriceExcludingTax float64
	PriceIncludingTax float64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate enforces the region shape implied by the price type: provincial
// entries carry no city or district, municipal entries need a city.
func (r *ReferenceMaterial) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return eris.New("reference material: name is required")
	}
	if r.IssuePeriod.IsZero() {
		return eris.New("reference material: issue period is required")
	}
	switch r.PriceType {
	case PriceTypeProvincial:
		if r.City != "" || r.District != "" {
			return eris.Errorf("reference material %s: provincial entry must not carry city or district", r.Name)
		}
	case PriceTypeMunicipal:
		if r.City == "" {
			return eris.Errorf("reference material %s: municipal entry requires a city", r.Name)
		}
	default:
		return eris.Errorf("reference material %s: unknown price type %q", r.Name, r.PriceType)
	}
	return nil
}

// GuidedPrice returns the excluding-tax price, the authoritative basis for
// every comparison. Including-tax is informational only.
func (r *ReferenceMaterial) GuidedPrice() float64 {
	return r.PriceExcludingTax
}
