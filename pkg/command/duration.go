package command

import (
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/NicolasHaas/gobans/pkg/model"
)

// ParseDays reads a ban length in days. Trailing unit letters are ignored,
// so "3", "3d" and "3days" are all three days. Fractions are allowed.
func ParseDays(raw string) (float64, error) {
	num := strings.TrimRightFunc(raw, unicode.IsLetter)
	days, err := strconv.ParseFloat(num, 64)
	if err != nil || math.IsNaN(days) || math.IsInf(days, 0) {
		return 0, &model.ValidationError{Field: "duration", Reason: "not a number: " + strconv.Quote(raw)}
	}
	if days < 0 {
		return 0, &model.ValidationError{Field: "duration", Reason: "negative: " + strconv.Quote(raw)}
	}
	return days, nil
}
