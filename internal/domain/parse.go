package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// parseNonNegativeFloat parses a float that must be finite and >= 0. Empty input is 0.
func parseNonNegativeFloat(raw string, sentinel error) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", sentinel, raw)
	}
	if !validNonNegative(v) {
		return 0, fmt.Errorf("%w: %q", sentinel, raw)
	}
	return v, nil
}

// parsePositiveFloat parses a float that must be finite and > 0.
func parsePositiveFloat(raw string, sentinel error) (float64, error) {
	v, err := parseNonNegativeFloat(raw, sentinel)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", sentinel)
	}
	return v, nil
}

// parseCost parses a non-negative money amount. Empty input is zero.
func parseCost(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidCost, raw)
	}
	if v.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidCost, raw)
	}
	return v, nil
}

// parseBool accepts the usual true/false spellings.
func parseBool(raw string) (bool, error) {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "1", "t", "true", "y", "yes", "on":
		return true, nil
	case "", "0", "f", "false", "n", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrInvalidBool, raw)
	}
}

// validNonNegative reports whether v is finite and >= 0.
func validNonNegative(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

// formatFloat renders a float without trailing zeros.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
