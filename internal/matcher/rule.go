/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package matcher

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/blnkfinance/recon/internal/conditions"
	"github.com/blnkfinance/recon/internal/expression"
	"github.com/blnkfinance/recon/model"
)

// PartialMatchField is the field compared across the present sources of a partial match.
const PartialMatchField = "reference_number"

// CompiledRule is a matching rule resolved once before any transaction is evaluated.
type CompiledRule struct {
	Rule           *model.MatchingRule
	Sources        []string
	Expression     *expression.Compiled
	Groups         *conditions.GroupTree
	Tolerances     []conditions.Condition
	GroupingFields []string

	partialMu sync.Mutex
	partial   map[string]*expression.Compiled
}

// CompileRule validates and compiles a rule.
//
// The logic expression, when present, is compiled with per-field tolerances applied to its
// equality comparisons. Tolerances on fields the expression does not compare, together with any
// legacy condition groups, are evaluated alongside it. A rule with neither an expression nor
// condition groups matches on reference_number equality across all sources.
//
// Parameters:
// - rule *model.MatchingRule: The rule to compile.
//
// Returns:
// - *CompiledRule: The compiled rule.
// - error: An expression.SecurityValidationError or expression.SyntaxError for a bad expression,
// or a plain error for any other configuration problem.
func CompileRule(rule *model.MatchingRule) (*CompiledRule, error) {
	sources := rule.Conditions.Sources
	if len(sources) < 2 {
		return nil, fmt.Errorf("rule %s declares %d sources, at least 2 are required", rule.RuleID, len(sources))
	}

	tolerances := make(map[string]conditions.Condition, len(rule.Tolerance))
	for _, field := range sortedFields(rule.Tolerance) {
		op := conditions.OpWithinTolerance
		if rule.Tolerance[field].Days != nil {
			op = conditions.OpDateWithinDays
		}
		c, err := conditions.Resolve(model.Condition{Field: field, Operator: op}, rule.Tolerance)
		if err != nil {
			return nil, fmt.Errorf("tolerance for %s: %w", field, err)
		}
		tolerances[field] = c
	}

	compiled := &CompiledRule{
		Rule:    rule,
		Sources: sources,
		partial: make(map[string]*expression.Compiled),
	}

	logic := strings.TrimSpace(rule.Conditions.LogicExpression)
	if logic != "" {
		expr, err := expression.CompileWith(logic, toleranceComparator(tolerances))
		if err != nil {
			return nil, err
		}
		if err := checkSources(expr.Sources, sources); err != nil {
			return nil, err
		}
		compiled.Expression = expr
	}

	if len(rule.Conditions.ConditionGroups) > 0 {
		tree, err := conditions.CompileGroups(rule.Conditions.ConditionGroups, rule.Tolerance)
		if err != nil {
			return nil, err
		}
		for _, s := range treeSources(rule.Conditions.ConditionGroups) {
			if !contains(sources, s) {
				return nil, fmt.Errorf("condition references undeclared source %s", s)
			}
		}
		if !tree.Empty() {
			compiled.Groups = tree
		}
	}

	if compiled.Expression == nil && compiled.Groups == nil {
		expr, err := expression.CompileWith(chain(sources, PartialMatchField), toleranceComparator(tolerances))
		if err != nil {
			return nil, err
		}
		compiled.Expression = expr
	}

	var inline map[string]struct{}
	if compiled.Expression != nil {
		inline = make(map[string]struct{}, len(compiled.Expression.Fields))
		for _, f := range compiled.Expression.Fields {
			inline[f] = struct{}{}
		}
	}
	for _, field := range sortedFields(rule.Tolerance) {
		if _, ok := inline[field]; !ok {
			compiled.Tolerances = append(compiled.Tolerances, tolerances[field])
		}
	}

	compiled.GroupingFields = groupingFields(compiled, tolerances)
	if len(compiled.GroupingFields) == 0 {
		return nil, fmt.Errorf("rule %s has no exact-match field to group transactions by", rule.RuleID)
	}
	return compiled, nil
}

// Match evaluates the full rule against one tuple.
func (r *CompiledRule) Match(ctx expression.Context) (bool, error) {
	if r.Expression != nil {
		ok, err := r.Expression.Evaluate(ctx)
		if err != nil || !ok {
			return false, err
		}
	}
	if r.Groups != nil {
		ok, err := r.Groups.Evaluate(ctx, r.Sources)
		if err != nil || !ok {
			return false, err
		}
	}
	for _, c := range r.Tolerances {
		ok, err := conditions.Evaluate(c, ctx, r.Sources)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// PartialPredicate returns the chained reference_number equality over a subset of sources.
// Predicates are compiled once per subset and reused.
func (r *CompiledRule) PartialPredicate(subset []string) (*expression.Compiled, error) {
	key := strings.Join(subset, ",")
	r.partialMu.Lock()
	defer r.partialMu.Unlock()
	if p, ok := r.partial[key]; ok {
		return p, nil
	}
	p, err := expression.ChainedEquality(subset, PartialMatchField)
	if err != nil {
		return nil, err
	}
	r.partial[key] = p
	return p, nil
}

// HasOr reports whether the rule combines anything with OR.
func (r *CompiledRule) HasOr() bool {
	return (r.Expression != nil && r.Expression.HasOr) || (r.Groups != nil && r.Groups.HasOr())
}

// Description renders the rule logic for the match_conditions column.
func (r *CompiledRule) Description() string {
	var parts []string
	if r.Expression != nil {
		parts = append(parts, r.Expression.String())
	}
	if r.Groups != nil {
		parts = append(parts, fmt.Sprintf("%d grouped conditions", r.Groups.ConditionCount()))
	}
	for _, c := range r.Tolerances {
		parts = append(parts, fmt.Sprintf("%s %s", c.Field, c.Operator))
	}
	return strings.Join(parts, " AND ")
}

func toleranceComparator(tolerances map[string]conditions.Condition) expression.Comparator {
	return func(field string, a, b interface{}) (bool, error) {
		c, ok := tolerances[field]
		if !ok {
			return expression.Equal(a, b), nil
		}
		if c.Operator == conditions.OpDateWithinDays {
			return conditions.DateWithinDays([]interface{}{a, b}, c.Days)
		}
		return conditions.WithinTolerance([]interface{}{a, b}, c.Tolerance)
	}
}

// groupingFields drops tolerance fields from the grouping fields, since values within tolerance
// of each other would otherwise land in different buckets. An expression using OR groups on its
// first exact field only. Top-level legacy groups are always ANDed, so their equality fields are
// safe to combine.
func groupingFields(r *CompiledRule, tolerances map[string]conditions.Condition) []string {
	var candidates []string
	switch {
	case r.Expression != nil:
		candidates = r.Expression.Fields
	case r.Groups != nil:
		candidates = r.Groups.EqualityFields()
	}

	var exact []string
	for _, f := range candidates {
		if _, ok := tolerances[f]; !ok {
			exact = append(exact, f)
		}
	}
	if len(exact) == 0 && r.Expression == nil {
		exact = []string{PartialMatchField}
	}
	if r.Expression != nil && r.Expression.HasOr && len(exact) > 1 {
		return exact[:1]
	}
	return exact
}

func checkSources(referenced, declared []string) error {
	for _, s := range referenced {
		if !contains(declared, s) {
			return fmt.Errorf("expression references undeclared source %s", s)
		}
	}
	return nil
}

func treeSources(groups []model.ConditionGroup) []string {
	var out []string
	stack := append([]model.ConditionGroup(nil), groups...)
	for len(stack) > 0 {
		g := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, c := range g.Conditions {
			out = append(out, c.Sources...)
		}
		stack = append(stack, g.Groups...)
	}
	return out
}

func chain(sources []string, field string) string {
	parts := make([]string, len(sources))
	for i, s := range sources {
		parts[i] = s + "." + field
	}
	return strings.Join(parts, " == ")
}

func sortedFields(t model.ToleranceConfig) []string {
	fields := make([]string, 0, len(t))
	for f := range t {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
