package convert

import (
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
)

// InferType picks the narrowest type every non-empty value parses as, trying
// int64, float64 and bool in that order. A column with no values is a string.
func InferType(values []string) arrow.DataType {
	seen := false
	isInt, isFloat, isBool := true, true, true

	for _, v := range values {
		if v == "" {
			continue
		}
		seen = true

		if isInt {
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				isInt = false
			}
		}
		if isFloat {
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				isFloat = false
			}
		}
		if isBool {
			if _, err := strconv.ParseBool(v); err != nil {
				isBool = false
			}
		}
		if !isInt && !isFloat && !isBool {
			break
		}
	}

	switch {
	case !seen:
		return arrow.BinaryTypes.String
	case isInt:
		return arrow.PrimitiveTypes.Int64
	case isFloat:
		return arrow.PrimitiveTypes.Float64
	case isBool:
		return arrow.FixedWidthTypes.Boolean
	default:
		return arrow.BinaryTypes.String
	}
}
