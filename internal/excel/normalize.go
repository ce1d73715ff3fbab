package excel

import (
	"math"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

var timeLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006/01/02",
	"01/02/2006",
	"02/01/2006",
	"02.01.2006",
	"02.01.2006 15:04:05",
	"01-02-06", // excelize default short date rendering
	"1/2/06 15:04",
}

// NormalizeCell coerces a raw cell string into the canonical representation
// for the declared type. Normalization never fails: a value that cannot be
// coerced degrades to an empty string rather than aborting the sheet.
func NormalizeCell(raw string, dataType DataType) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return ""
	}

	switch dataType {
	case TypeNumber:
		return normalizeNumber(value)
	case TypeDate:
		return normalizeDate(value)
	case TypeBoolean:
		return normalizeBool(value)
	default:
		return value
	}
}

func normalizeNumber(value string) string {
	// Tolerate locale separators the codec may leave in place.
	cleaned := strings.ReplaceAll(value, " ", "")
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	cleaned = strings.ReplaceAll(cleaned, ",", ".")

	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return ""
	}
	if math.Mod(f, 1) == 0 && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func normalizeDate(value string) string {
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.Format(dateLayout)
		}
	}
	// Excel serial date, as excelize renders cells without a date style.
	if serial, err := strconv.ParseFloat(value, 64); err == nil && serial > 0 {
		epoch := time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)
		return epoch.AddDate(0, 0, int(serial)).Format(dateLayout)
	}
	return ""
}

func normalizeBool(value string) string {
	switch strings.ToLower(value) {
	case "true", "1", "yes", "y", "да", "истина":
		return "true"
	case "false", "0", "no", "n", "нет", "ложь":
		return "false"
	}
	if b, err := strconv.ParseBool(strings.ToLower(value)); err == nil {
		return strconv.FormatBool(b)
	}
	return ""
}
