package structure

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// TenorLabel renders a tenor in years as the market-convention label:
// months below one year ("6M"), whole years otherwise ("10Y").
func TenorLabel(tenorYears float64) string {
	if tenorYears <= 0 {
		return "UNKNOWN"
	}
	if tenorYears < 1.0 {
		months := int(math.Round(tenorYears * 12))
		if months < 1 {
			months = 1
		}
		return fmt.Sprintf("%dM", months)
	}
	return fmt.Sprintf("%dY", int(math.Round(tenorYears)))
}

// TenorSortKey converts a tenor label to a numeric key in years so labels
// sort in curve order ("6M" before "2Y" before "10Y"). Unparseable labels
// sort last.
func TenorSortKey(label string) float64 {
	label = strings.ToUpper(strings.TrimSpace(label))
	switch {
	case strings.HasSuffix(label, "M"):
		if m, err := strconv.Atoi(strings.TrimSuffix(label, "M")); err == nil {
			return float64(m) / 12
		}
	case strings.HasSuffix(label, "Y"):
		if y, err := strconv.Atoi(strings.TrimSuffix(label, "Y")); err == nil {
			return float64(y)
		}
	}
	return math.Inf(1)
}
