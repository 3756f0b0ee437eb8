package model

import (
	"math"
	"strings"
)

// Specs holds the comparable equipment specifications of a product. Numeric
// fields are optional; nil means the value is unknown.
type Specs struct {
	Tonnage     *float64 `json:"tonnage,omitempty" yaml:"tonnage,omitempty"`
	SEER        *float64 `json:"seer,omitempty" yaml:"seer,omitempty"`
	SEER2       *float64 `json:"seer2,omitempty" yaml:"seer2,omitempty"`
	EER         *float64 `json:"eer,omitempty" yaml:"eer,omitempty"`
	AFUE        *float64 `json:"afue,omitempty" yaml:"afue,omitempty"`
	HSPF        *float64 `json:"hspf,omitempty" yaml:"hspf,omitempty"`
	Refrigerant string   `json:"refrigerant,omitempty" yaml:"refrigerant,omitempty"`
	Voltage     string   `json:"voltage,omitempty" yaml:"voltage,omitempty"`
	Phase       string   `json:"phase,omitempty" yaml:"phase,omitempty"`
	Type        string   `json:"type,omitempty" yaml:"type,omitempty"`
}

// specFieldCount is the number of fields Populated can report.
const specFieldCount = 10

// Float returns a pointer to v. Convenience for building optional specs.
func Float(v float64) *float64 {
	return &v
}

// IsEmpty reports whether no specification field is set.
func (s Specs) IsEmpty() bool {
	return s.Populated() == 0
}

// Populated returns how many specification fields carry a value.
func (s Specs) Populated() int {
	n := 0
	for _, f := range []*float64{s.Tonnage, s.SEER, s.SEER2, s.EER, s.AFUE, s.HSPF} {
		if f != nil {
			n++
		}
	}
	for _, v := range []string{s.Refrigerant, s.Voltage, s.Phase, s.Type} {
		if strings.TrimSpace(v) != "" {
			n++
		}
	}
	return n
}

// NonFinite returns the name of the first numeric field holding NaN or an
// infinity, or "" when every set value is finite.
func (s Specs) NonFinite() string {
	fields := []struct {
		name string
		v    *float64
	}{
		{"tonnage", s.Tonnage}, {"seer", s.SEER}, {"seer2", s.SEER2},
		{"eer", s.EER}, {"afue", s.AFUE}, {"hspf", s.HSPF},
	}
	for _, f := range fields {
		if f.v != nil && !IsFinite(*f.v) {
			return f.name
		}
	}
	return ""
}

// IsFinite reports whether v is neither NaN nor an infinity.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Completeness returns the populated fraction of specification fields.
func (s Specs) Completeness() float64 {
	return float64(s.Populated()) / specFieldCount
}

// Merge returns a copy of s where every unset field is filled from other.
// Values already present in s win.
func (s Specs) Merge(other Specs) Specs {
	out := s.Clone()
	fill := func(dst **float64, src *float64) {
		if *dst == nil && src != nil {
			v := *src
			*dst = &v
		}
	}
	fill(&out.Tonnage, other.Tonnage)
	fill(&out.SEER, other.SEER)
	fill(&out.SEER2, other.SEER2)
	fill(&out.EER, other.EER)
	fill(&out.AFUE, other.AFUE)
	fill(&out.HSPF, other.HSPF)
	if out.Refrigerant == "" {
		out.Refrigerant = other.Refrigerant
	}
	if out.Voltage == "" {
		out.Voltage = other.Voltage
	}
	if out.Phase == "" {
		out.Phase = other.Phase
	}
	if out.Type == "" {
		out.Type = other.Type
	}
	return out
}

// Clone returns a deep copy so callers never share pointer fields.
func (s Specs) Clone() Specs {
	out := s
	out.Tonnage = cloneFloat(s.Tonnage)
	out.SEER = cloneFloat(s.SEER)
	out.SEER2 = cloneFloat(s.SEER2)
	out.EER = cloneFloat(s.EER)
	out.AFUE = cloneFloat(s.AFUE)
	out.HSPF = cloneFloat(s.HSPF)
	return out
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// CompetitorRecord is a competitor product to be cross-referenced. It is an
// immutable input: the pipeline only ever holds copies.
type CompetitorRecord struct {
	SKU         string   `json:"sku" yaml:"sku"`
	Company     string   `json:"company" yaml:"company"`
	Model       string   `json:"model,omitempty" yaml:"model,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Price       *float64 `json:"price,omitempty" yaml:"price,omitempty"`
	Specs       Specs    `json:"specs" yaml:"specs"`
}

// Clone returns a deep copy of the record.
func (c CompetitorRecord) Clone() CompetitorRecord {
	out := c
	out.Price = cloneFloat(c.Price)
	out.Specs = c.Specs.Clone()
	return out
}

// CatalogRecord is one of our own products.
type CatalogRecord struct {
	SKU   string   `json:"sku" yaml:"sku"`
	Model string   `json:"model" yaml:"model"`
	Brand string   `json:"brand" yaml:"brand"`
	Type  string   `json:"type" yaml:"type"`
	Price *float64 `json:"price,omitempty" yaml:"price,omitempty"`
	Specs Specs    `json:"specs" yaml:"specs"`
}

// Clone returns a deep copy of the record.
func (c CatalogRecord) Clone() CatalogRecord {
	out := c
	out.Price = cloneFloat(c.Price)
	out.Specs = c.Specs.Clone()
	return out
}

// ProductType returns the record type, falling back to the spec-level type.
func (c CatalogRecord) ProductType() string {
	if c.Type != "" {
		return c.Type
	}
	return c.Specs.Type
}
