package research

import "strings"

// queryPriority is the order in which missing fields are chased after the
// overview query. Fields not listed here fall through to the about/products query.
var queryPriority = []struct {
	field  Field
	suffix string
}{
	{FieldValueProp, "value proposition mission what does"},
	{FieldPricingModel, "pricing plans cost subscription"},
	{FieldCompetitors, "competitors alternatives vs"},
}

// PlanQuery returns the search query for the given iteration. Iteration 0 is
// always a broad overview; later iterations target the first missing field in
// queryPriority order.
func PlanQuery(target Target, current FieldSet, iteration int) string {
	if iteration == 0 {
		return joinQuery(target.Name, "company overview products pricing")
	}
	for _, p := range queryPriority {
		if !current.Has(p.field) {
			return joinQuery(target.Name, p.suffix)
		}
	}
	return joinQuery(target.Name, target.Domain, "about products")
}

func joinQuery(parts ...string) string {
	words := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			words = append(words, p)
		}
	}
	return strings.Join(words, " ")
}
