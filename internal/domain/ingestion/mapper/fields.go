package mapper

import "strings"

// TargetField is a column of the listing schema that source headers are mapped onto
type TargetField string

const (
	FieldPartNumber    TargetField = "partNumber"
	FieldDescription   TargetField = "description"
	FieldCondition     TargetField = "condition"
	FieldQuantity      TargetField = "quantity"
	FieldPrice         TargetField = "price"
	FieldManufacturer  TargetField = "manufacturer"
	FieldCategory      TargetField = "category"
	FieldModel         TargetField = "model"
	FieldAircraft      TargetField = "aircraft"
	FieldEngine        TargetField = "engine"
	FieldLocation      TargetField = "location"
	FieldNotes         TargetField = "notes"
	FieldCertification TargetField = "certification"
)

// allFields is the closed set in declaration order. Order breaks fuzzy ties.
var allFields = []TargetField{
	FieldPartNumber,
	FieldDescription,
	FieldCondition,
	FieldQuantity,
	FieldPrice,
	FieldManufacturer,
	FieldCategory,
	FieldModel,
	FieldAircraft,
	FieldEngine,
	FieldLocation,
	FieldNotes,
	FieldCertification,
}

// fieldHints describe each field to the AI phase
var fieldHints = map[TargetField]string{
	FieldPartNumber:    "manufacturer part number (P/N)",
	FieldDescription:   "part name or nomenclature",
	FieldCondition:     "condition code such as NE, NS, OH, SV, AR",
	FieldQuantity:      "units available",
	FieldPrice:         "unit price",
	FieldManufacturer:  "OEM or manufacturer name",
	FieldCategory:      "part category or type",
	FieldModel:         "part model",
	FieldAircraft:      "aircraft applicability",
	FieldEngine:        "engine applicability",
	FieldLocation:      "warehouse or ship-from location",
	FieldNotes:         "free-text remarks",
	FieldCertification: "release certificate or trace documents",
}

// aliases are lowercase synonyms seen in supplier stock lists
var aliases = map[TargetField][]string{
	FieldPartNumber: {
		"p/n", "pn", "part number", "part no", "part no.", "part #", "part#", "part num",
		"partno", "part_number", "mpn", "part",
	},
	FieldDescription: {
		"desc", "desc.", "part description", "item description", "nomenclature", "item", "name",
	},
	FieldCondition: {
		"cond", "cond.", "condition code", "cond code", "cd",
	},
	FieldQuantity: {
		"qty", "qty.", "qty avail", "quantity available", "qoh", "on hand", "stock", "available",
	},
	FieldPrice: {
		"unit price", "price (usd)", "price usd", "unit cost", "cost", "list price", "sale price", "usd",
	},
	FieldManufacturer: {
		"mfr", "mfr.", "mfg", "manufacturer name", "make", "oem", "brand", "vendor",
	},
	FieldCategory: {
		"part type", "type", "group", "class",
	},
	FieldModel: {
		"model number", "model no", "part model",
	},
	FieldAircraft: {
		"a/c", "ac", "ac type", "aircraft type", "platform", "applicability", "fits",
	},
	FieldEngine: {
		"eng", "engine type", "engine model", "powerplant",
	},
	FieldLocation: {
		"loc", "warehouse", "site", "stock location", "ship from",
	},
	FieldNotes: {
		"note", "remarks", "remark", "comments", "comment", "memo",
	},
	FieldCertification: {
		"cert", "certs", "certificate", "trace", "tag", "8130", "form 1", "easa form 1", "faa 8130-3",
	},
}

// Fields returns the target fields in declaration order
func Fields() []TargetField {
	out := make([]TargetField, len(allFields))
	copy(out, allFields)
	return out
}

// IsValid reports whether f belongs to the closed set
func (f TargetField) IsValid() bool {
	for _, tf := range allFields {
		if tf == f {
			return true
		}
	}
	return false
}

// ParseField resolves a field name case-insensitively
func ParseField(s string) (TargetField, bool) {
	s = strings.TrimSpace(s)
	for _, tf := range allFields {
		if strings.EqualFold(string(tf), s) {
			return tf, true
		}
	}
	return "", false
}

// Aliases returns the known synonyms of f
func Aliases(f TargetField) []string {
	return append([]string(nil), aliases[f]...)
}
