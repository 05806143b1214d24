// Package valuation resolves a listing's model_key to a comparable,
// falling back across condition grades of the same base product and
// rescaling the median to preserve relative condition economics.
package valuation

import (
	"strings"

	"github.com/shopspring/decimal"

	"flipwatch/internal/storage"
)

// Relative value weights per condition grade. "b" is a distinct baseline
// used by one category and is not the same grade as "B".
var gradeWeights = map[string]float64{
	"A": 1.00,
	"B": 0.85,
	"C": 0.70,
	"D": 0.50,
	"b": 0.80,
}

// Fallback search order when the exact grade has no comp.
var gradeSearchOrder = []string{"A", "B", "C", "D", "b"}

// Investible reports whether a model_key identifies a priceable product.
// Null, empty, and "unknown" keys are never investible.
func Investible(modelKey *string) bool {
	if modelKey == nil {
		return false
	}
	mk := strings.TrimSpace(*modelKey)
	if mk == "" {
		return false
	}
	return !strings.EqualFold(mk, "unknown")
}

// SplitKey splits a model_key into (base, grade) at the last underscore.
// The suffix only counts as a grade when it is a known grade token;
// otherwise the whole key is the base.
func SplitKey(modelKey string) (string, string) {
	s := strings.TrimSpace(modelKey)
	if s == "" {
		return "", ""
	}

	idx := strings.LastIndex(s, "_")
	if idx < 0 {
		return s, ""
	}

	base, suffix := s[:idx], strings.TrimSpace(s[idx+1:])
	if _, ok := gradeWeights[suffix]; ok {
		return base, suffix
	}
	return s, ""
}

// GradeWeight returns the relative value weight for a grade token.
func GradeWeight(grade string) (float64, bool) {
	w, ok := gradeWeights[grade]
	return w, ok
}

// Resolver matches model_keys against a loaded comps snapshot.
type Resolver struct {
	comps map[string]storage.Comp
}

// NewResolver wraps the latest per-key comps map.
func NewResolver(comps map[string]storage.Comp) *Resolver {
	if comps == nil {
		comps = map[string]storage.Comp{}
	}
	return &Resolver{comps: comps}
}

// Len reports how many model_keys have a comp.
func (r *Resolver) Len() int {
	return len(r.comps)
}

// Resolve finds a comp for the model_key: exact grade first, then other
// grades of the same base with the median rescaled by
// weight(listing_grade)/weight(comp_grade). A comp whose median is not
// positive is treated as unresolved. Unknown keys resolve to (zero, false)
// and never error.
func (r *Resolver) Resolve(modelKey string) (storage.Comp, decimal.Decimal, bool) {
	if strings.TrimSpace(modelKey) == "" {
		return storage.Comp{}, decimal.Zero, false
	}

	base, listingGrade := SplitKey(modelKey)

	comp, found := r.comps[modelKey]
	compKey := modelKey

	if !found && base != "" {
		for _, g := range gradeSearchOrder {
			altKey := base + "_" + g
			if altKey == modelKey {
				continue
			}
			if alt, ok := r.comps[altKey]; ok {
				comp = alt
				compKey = altKey
				found = true
				break
			}
		}
	}

	if !found {
		return storage.Comp{}, decimal.Zero, false
	}

	median := comp.MedianFinalPrice
	if !median.IsPositive() {
		return storage.Comp{}, decimal.Zero, false
	}

	_, compGrade := SplitKey(compKey)
	if listingGrade != "" && compGrade != "" && listingGrade != compGrade {
		listingWeight := gradeWeights[listingGrade]
		compWeight := gradeWeights[compGrade]
		median = median.Mul(decimal.NewFromFloat(listingWeight)).Div(decimal.NewFromFloat(compWeight))
	}

	return comp, median, true
}
