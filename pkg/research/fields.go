package research

// Field names a required fact about a target.
type Field string

const (
	FieldValueProp    Field = "company_value_prop"
	FieldProductNames Field = "product_names"
	FieldPricingModel Field = "pricing_model"
	FieldCompetitors  Field = "key_competitors"
	FieldDomain       Field = "company_domain"
)

// RequiredFields is the closed set of fields a run tries to fill.
var RequiredFields = []Field{
	FieldValueProp,
	FieldProductNames,
	FieldPricingModel,
	FieldCompetitors,
	FieldDomain,
}

// FieldSet is the structured fact sheet accumulated about a target.
// ProductNames and Competitors are sets; their order carries no meaning.
type FieldSet struct {
	ValueProp    string   `json:"company_value_prop,omitempty"`
	ProductNames []string `json:"product_names,omitempty"`
	PricingModel string   `json:"pricing_model,omitempty"`
	Competitors  []string `json:"key_competitors,omitempty"`
	Domain       string   `json:"company_domain,omitempty"`
}

// Has reports whether f is populated.
func (fs FieldSet) Has(f Field) bool {
	switch f {
	case FieldValueProp:
		return fs.ValueProp != ""
	case FieldProductNames:
		return len(fs.ProductNames) > 0
	case FieldPricingModel:
		return fs.PricingModel != ""
	case FieldCompetitors:
		return len(fs.Competitors) > 0
	case FieldDomain:
		return fs.Domain != ""
	}
	return false
}

// Found lists populated fields in RequiredFields order.
func (fs FieldSet) Found() []Field {
	found := make([]Field, 0, len(RequiredFields))
	for _, f := range RequiredFields {
		if fs.Has(f) {
			found = append(found, f)
		}
	}
	return found
}

// Missing lists empty fields in RequiredFields order.
func (fs FieldSet) Missing() []Field {
	missing := make([]Field, 0, len(RequiredFields))
	for _, f := range RequiredFields {
		if !fs.Has(f) {
			missing = append(missing, f)
		}
	}
	return missing
}

// Complete reports whether every required field is populated.
func (fs FieldSet) Complete() bool {
	return len(fs.Missing()) == 0
}

// IsEmpty reports whether no field is populated.
func (fs FieldSet) IsEmpty() bool {
	return len(fs.Found()) == 0
}

// Validated returns a deep copy holding only non-empty values. Empty strings
// inside the multi-valued fields are dropped.
func (fs FieldSet) Validated() FieldSet {
	return FieldSet{
		ValueProp:    fs.ValueProp,
		ProductNames: dedupe(nil, fs.ProductNames),
		PricingModel: fs.PricingModel,
		Competitors:  dedupe(nil, fs.Competitors),
		Domain:       fs.Domain,
	}
}
