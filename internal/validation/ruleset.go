// Package validation evaluates ordered, independent business rules against
// parsed records. Every rule runs for every record; outcomes are recorded as
// flags and never filter or modify the record.
package validation

import "github.com/smallbiznis/loanportfolio/internal/loan/domain"

// Rule reports whether a record violates one named business rule.
type Rule[T any] struct {
	Name     string
	Violated func(T) bool
}

// RuleSet is evaluated in declaration order.
type RuleSet[T any] []Rule[T]

// Evaluate runs every rule against rec.
func (rs RuleSet[T]) Evaluate(rec T) domain.Flags {
	flags := domain.NewFlags(len(rs))
	for _, rule := range rs {
		flags[rule.Name] = rule.Violated(rec)
	}
	return flags
}

// EvaluateAll returns one flag set per record, index-aligned with records.
func (rs RuleSet[T]) EvaluateAll(records []T) []domain.Flags {
	out := make([]domain.Flags, len(records))
	for i, rec := range records {
		out[i] = rs.Evaluate(rec)
	}
	return out
}

// Names returns the rule names in evaluation order.
func (rs RuleSet[T]) Names() []string {
	names := make([]string, len(rs))
	for i, rule := range rs {
		names[i] = rule.Name
	}
	return names
}

// countKeys returns how often each non-empty key occurs.
func countKeys[T any](records []T, key func(T) string) map[string]int {
	counts := make(map[string]int, len(records))
	for _, rec := range records {
		if k := key(rec); k != "" {
			counts[k]++
		}
	}
	return counts
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
