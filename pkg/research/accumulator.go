package research

// Merge folds extracted into existing and returns the result. Neither argument is modified.
//
// A populated scalar in existing is never replaced. Multi-valued fields become the
// union of both sides, deduplicated by exact string match.
func Merge(existing, extracted FieldSet) FieldSet {
	out := FieldSet{
		ValueProp:    firstNonEmpty(existing.ValueProp, extracted.ValueProp),
		ProductNames: dedupe(dedupe(nil, existing.ProductNames), extracted.ProductNames),
		PricingModel: firstNonEmpty(existing.PricingModel, extracted.PricingModel),
		Competitors:  dedupe(dedupe(nil, existing.Competitors), extracted.Competitors),
		Domain:       firstNonEmpty(existing.Domain, extracted.Domain),
	}
	return out
}

func firstNonEmpty(current, candidate string) string {
	if current != "" {
		return current
	}
	return candidate
}

// dedupe appends the values of add missing from dst. The result never aliases add,
// and it is nil when there is nothing to hold.
func dedupe(dst, add []string) []string {
	if len(add) == 0 {
		return dst
	}
	seen := make(map[string]struct{}, len(dst)+len(add))
	for _, v := range dst {
		seen[v] = struct{}{}
	}
	for _, v := range add {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		dst = append(dst, v)
	}
	return dst
}
