// Package extract turns free-text broker messages into validated listing
// records with the help of a language model.
package extract

import (
	"strings"
)

// Record is the validated, flat field set produced from one message. Nil
// means the field was missing or failed validation.
type Record struct {
	ProjectID        *string  `json:"project_id"`
	PropertyTypeID   *string  `json:"property_type_id"`
	PropertyTypeName *string  `json:"property_type_name"`
	UnitCode         *string  `json:"unit_code"`
	Floor            *int     `json:"floor"`
	AreaSqm          *float64 `json:"area_sqm"`
	Price            *float64 `json:"price"`
	Bedrooms         *int     `json:"bedrooms"`
	Bathrooms        *int     `json:"bathrooms"`
	Direction        *string  `json:"direction"`
	ListingType      *string  `json:"listing_type"`
	Status           *string  `json:"status"`
	ContactName      *string  `json:"contact_name"`
	ContactPhone     *string  `json:"contact_phone"`
	Notes            *string  `json:"notes"`
}

var (
	Directions   = []string{"north", "south", "east", "west", "northeast", "northwest", "southeast", "southwest"}
	ListingTypes = []string{"sale", "rent"}
	Statuses     = []string{"available", "deposited", "sold", "rented"}
)

// Field describes one key of the output contract given to the model.
type Field struct {
	Name        string
	Type        string
	Description string
	Enum        []string
}

var FieldContract = []Field{
	{Name: "project_id", Type: "string", Description: "id of the project, only from the project list"},
	{Name: "property_type_id", Type: "string", Description: "id of the property type, only from the property type list"},
	{Name: "property_type_name", Type: "string", Description: "property type as written in the message"},
	{Name: "unit_code", Type: "string", Description: "unit or apartment code, e.g. A1.01"},
	{Name: "floor", Type: "integer", Description: "floor number"},
	{Name: "area_sqm", Type: "number", Description: "area in square meters"},
	{Name: "price", Type: "number", Description: "price in VND as a plain number, or with a B/M/K suffix"},
	{Name: "bedrooms", Type: "integer", Description: "number of bedrooms"},
	{Name: "bathrooms", Type: "integer", Description: "number of bathrooms"},
	{Name: "direction", Type: "string", Description: "facing direction", Enum: Directions},
	{Name: "listing_type", Type: "string", Description: "sale or rent", Enum: ListingTypes},
	{Name: "status", Type: "string", Description: "availability", Enum: Statuses},
	{Name: "contact_name", Type: "string", Description: "broker or owner name"},
	{Name: "contact_phone", Type: "string", Description: "phone number"},
	{Name: "notes", Type: "string", Description: "anything else relevant, short"},
}

var directionAliases = map[string]string{
	"n": "north", "north": "north", "bắc": "north", "bac": "north",
	"s": "south", "south": "south", "nam": "south",
	"e": "east", "east": "east", "đông": "east", "dong": "east",
	"w": "west", "west": "west", "tây": "west", "tay": "west",
	"ne": "northeast", "northeast": "northeast", "đôngbắc": "northeast", "dongbac": "northeast",
	"nw": "northwest", "northwest": "northwest", "tâybắc": "northwest", "taybac": "northwest",
	"se": "southeast", "southeast": "southeast", "đôngnam": "southeast", "dongnam": "southeast",
	"sw": "southwest", "southwest": "southwest", "tâynam": "southwest", "taynam": "southwest",
}

var listingTypeAliases = map[string]string{
	"sale": "sale", "sell": "sale", "selling": "sale", "for sale": "sale", "bán": "sale", "ban": "sale",
	"rent": "rent", "rental": "rent", "lease": "rent", "for rent": "rent", "thuê": "rent", "cho thuê": "rent", "cho thue": "rent",
}

var statusAliases = map[string]string{
	"available": "available", "open": "available", "còn": "available", "con": "available",
	"deposited": "deposited", "deposit": "deposited", "on hold": "deposited", "cọc": "deposited", "đã cọc": "deposited",
	"sold": "sold", "đã bán": "sold",
	"rented": "rented", "leased": "rented", "đã thuê": "rented",
}

func normalizeDirection(raw string) (string, bool) {
	value := strings.ToLower(strings.TrimSpace(raw))
	value = strings.TrimSuffix(value, "facing")
	value = strings.TrimPrefix(value, "hướng")
	replacer := strings.NewReplacer(" ", "", "-", "", "_", "")
	value = replacer.Replace(value)
	normalized, ok := directionAliases[value]
	return normalized, ok
}

func normalizeEnum(raw string, aliases map[string]string) (string, bool) {
	value := strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(raw))), " ")
	normalized, ok := aliases[value]
	return normalized, ok
}
