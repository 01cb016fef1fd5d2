package core

// convert.go turns raw CSV cells and API payload values into the pgtype
// values the stores persist.
//
// All ToPg* functions return pgtype values with Valid=false for empty or
// invalid input, so the store writes NULL.

import (
	"math/big"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

// numericRegex matches integers, decimals and scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// NormalizeSKU folds a SKU into its uniqueness key: surrounding whitespace
// trimmed, lower-cased.
func NormalizeSKU(sku string) string {
	return strings.ToLower(strings.TrimSpace(sku))
}

// ToPgText converts a string to pgtype.Text.
// Returns invalid if the string is empty or only whitespace.
func ToPgText(s string) pgtype.Text {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

// PtrToPgText converts an optional string to pgtype.Text.
func PtrToPgText(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return ToPgText(*s)
}

// ToPgNumeric parses a plain decimal such as "12", "-0.5" or "1.5e2" into
// pgtype.Numeric. Surrounding whitespace is ignored. Anything else is NULL,
// including currency symbols, digit grouping, decimal commas and accounting
// parentheses: "1,5" could mean 1.5 or 15, so it is not guessed at.
func ToPgNumeric(s string) pgtype.Numeric {
	s = strings.TrimSpace(s)
	if !numericRegex.MatchString(s) {
		return pgtype.Numeric{Valid: false}
	}

	var n pgtype.Numeric
	if err := n.Scan(s); err != nil {
		return pgtype.Numeric{Valid: false}
	}
	return n
}

// FloatToPgNumeric converts an optional float to pgtype.Numeric.
func FloatToPgNumeric(f *float64) pgtype.Numeric {
	if f == nil {
		return pgtype.Numeric{Valid: false}
	}
	return ToPgNumeric(strconv.FormatFloat(*f, 'f', -1, 64))
}

// NumericString renders a valid numeric in plain decimal notation, or ""
// for NULL.
func NumericString(n pgtype.Numeric) string {
	if !n.Valid || n.Int == nil {
		return ""
	}
	if n.NaN {
		return "NaN"
	}

	digits := new(big.Int).Abs(n.Int).String()
	sign := ""
	if n.Int.Sign() < 0 {
		sign = "-"
	}

	if n.Exp >= 0 {
		if n.Int.Sign() == 0 {
			return "0"
		}
		return sign + digits + strings.Repeat("0", int(n.Exp))
	}

	scale := int(-n.Exp)
	if len(digits) <= scale {
		digits = strings.Repeat("0", scale-len(digits)+1) + digits
	}
	point := len(digits) - scale
	return sign + digits[:point] + "." + digits[point:]
}
