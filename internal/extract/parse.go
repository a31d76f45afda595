package extract

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/dwizi/listing-intake/internal/apperr"
	"github.com/dwizi/listing-intake/internal/catalog"
)

var (
	// A bare number followed by a unit suffix, e.g. `"price": 2.5B,`.
	unitSuffixValueRegex = regexp.MustCompile(`(:\s*)(-?\d+(?:[.,]\d+)?)\s*(triệu|trieu|tỷ|tỉ|ty|tr|bn|sqm|m2|m²|B|b|M|m|K|k)(\s*[,}\]])`)
	trailingCommaRegex   = regexp.MustCompile(`,(\s*[}\]])`)
	leadingNumberRegex   = regexp.MustCompile(`^([+-]?\d+(?:[.,]\d+)*)\s*(.*)$`)
)

// Parse validates raw model output against the field contract. Fields that
// fail validation become nil; only an output with no decodable JSON object
// is an error.
func Parse(raw string, known catalog.Catalog) (Record, error) {
	span, ok := firstObject(raw)
	if !ok {
		return Record{}, &apperr.Error{Kind: apperr.KindParse, Op: "extract.parse", Message: "no json object in model output", Detail: raw}
	}
	fields, err := decodeObject(span)
	if err != nil {
		fields, err = decodeObject(applyFixups(span))
		if err != nil {
			return Record{}, &apperr.Error{Kind: apperr.KindParse, Op: "extract.parse", Message: "decode model output", Detail: raw, Err: err}
		}
	}
	return validate(fields, known), nil
}

// firstObject returns the first balanced {...} span, ignoring braces inside
// string literals.
func firstObject(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		ch := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], true
			}
		}
	}
	return "", false
}

func decodeObject(span string) (map[string]any, error) {
	decoder := json.NewDecoder(strings.NewReader(span))
	decoder.UseNumber()
	var fields map[string]any
	if err := decoder.Decode(&fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, fmt.Errorf("model output is not a json object")
	}
	return fields, nil
}

func applyFixups(span string) string {
	fixed := unitSuffixValueRegex.ReplaceAllString(span, `${1}"${2}${3}"${4}`)
	fixed = trailingCommaRegex.ReplaceAllString(fixed, "$1")
	return fixed
}

func validate(fields map[string]any, known catalog.Catalog) Record {
	var record Record
	if value, ok := stringField(fields["project_id"]); ok && known.HasProject(value) {
		record.ProjectID = &value
	}
	if value, ok := stringField(fields["property_type_id"]); ok && known.HasPropertyType(value) {
		record.PropertyTypeID = &value
	}
	record.PropertyTypeName = optionalString(fields["property_type_name"])
	record.UnitCode = optionalString(fields["unit_code"])
	record.Floor = intField(fields["floor"], false)
	record.AreaSqm = areaField(fields["area_sqm"])
	record.Price = amountField(fields["price"])
	record.Bedrooms = intField(fields["bedrooms"], true)
	record.Bathrooms = intField(fields["bathrooms"], true)
	if value, ok := stringField(fields["direction"]); ok {
		if normalized, ok := normalizeDirection(value); ok {
			record.Direction = &normalized
		}
	}
	if value, ok := stringField(fields["listing_type"]); ok {
		if normalized, ok := normalizeEnum(value, listingTypeAliases); ok {
			record.ListingType = &normalized
		}
	}
	if value, ok := stringField(fields["status"]); ok {
		if normalized, ok := normalizeEnum(value, statusAliases); ok {
			record.Status = &normalized
		}
	}
	record.ContactName = optionalString(fields["contact_name"])
	record.ContactPhone = optionalString(fields["contact_phone"])
	record.Notes = optionalString(fields["notes"])
	return record
}

func stringField(value any) (string, bool) {
	switch typed := value.(type) {
	case string:
		trimmed := strings.TrimSpace(typed)
		if trimmed == "" || strings.EqualFold(trimmed, "null") {
			return "", false
		}
		return trimmed, true
	case json.Number:
		return typed.String(), true
	default:
		return "", false
	}
}

func optionalString(value any) *string {
	text, ok := stringField(value)
	if !ok {
		return nil
	}
	return &text
}

func intField(value any, nonNegative bool) *int {
	number, _, ok := numberWithUnit(value)
	if !ok || number != math.Trunc(number) || math.Abs(number) > 1e6 {
		return nil
	}
	if nonNegative && number < 0 {
		return nil
	}
	out := int(number)
	return &out
}

func areaField(value any) *float64 {
	number, unit, ok := numberWithUnit(value)
	if !ok || number <= 0 {
		return nil
	}
	switch unit {
	case "", "sqm", "m2", "m²", "m", "sq m", "square meters", "mét vuông":
		return &number
	default:
		return nil
	}
}

func amountField(value any) *float64 {
	number, unit, ok := numberWithUnit(value)
	if !ok || number <= 0 {
		return nil
	}
	multiplier, ok := amountMultiplier(unit)
	if !ok {
		return nil
	}
	amount := number * multiplier
	return &amount
}

func amountMultiplier(unit string) (float64, bool) {
	for _, currency := range []string{"vnd", "vnđ", "đ"} {
		unit = strings.TrimSpace(strings.TrimSuffix(unit, currency))
	}
	switch unit {
	case "":
		return 1, true
	case "b", "bn", "billion", "tỷ", "tỉ", "ty":
		return 1e9, true
	case "m", "mil", "million", "tr", "triệu", "trieu":
		return 1e6, true
	case "k", "thousand", "nghìn", "ngàn":
		return 1e3, true
	default:
		return 0, false
	}
}

// numberWithUnit accepts a JSON number or a string such as "2,5 tỷ" and
// returns the numeric part plus the lowercased trailing unit.
func numberWithUnit(value any) (float64, string, bool) {
	switch typed := value.(type) {
	case json.Number:
		number, err := typed.Float64()
		if err != nil {
			return 0, "", false
		}
		return number, "", true
	case string:
		match := leadingNumberRegex.FindStringSubmatch(strings.TrimSpace(typed))
		if match == nil {
			return 0, "", false
		}
		number, err := strconv.ParseFloat(normalizeDecimal(match[1]), 64)
		if err != nil {
			return 0, "", false
		}
		return number, strings.ToLower(strings.TrimSpace(match[2])), true
	default:
		return 0, "", false
	}
}

// normalizeDecimal resolves comma and dot usage: "2,5" is a decimal,
// "1,200,000" and "1.200.000" are grouped thousands.
func normalizeDecimal(raw string) string {
	commas := strings.Count(raw, ",")
	dots := strings.Count(raw, ".")
	switch {
	case commas > 0 && dots > 0:
		if strings.LastIndex(raw, ",") > strings.LastIndex(raw, ".") {
			return strings.ReplaceAll(strings.ReplaceAll(raw, ".", ""), ",", ".")
		}
		return strings.ReplaceAll(raw, ",", "")
	case commas == 1:
		if len(raw)-strings.LastIndex(raw, ",")-1 == 3 {
			return strings.ReplaceAll(raw, ",", "")
		}
		return strings.ReplaceAll(raw, ",", ".")
	case commas > 1:
		return strings.ReplaceAll(raw, ",", "")
	case dots > 1:
		return strings.ReplaceAll(raw, ".", "")
	default:
		return raw
	}
}
