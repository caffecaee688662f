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

package expression

import (
	"fmt"
	"sort"
	"strings"

	"github.com/blnkfinance/recon/model"
)

// Record is anything a source alias can be bound to during evaluation.
type Record interface {
	Field(name string) (interface{}, bool)
}

// Context binds source aliases to the records of one candidate tuple.
type Context map[string]Record

// Predicate is a compiled boolean expression.
type Predicate func(ctx Context) (bool, error)

// Comparator decides whether two operand values are equal. field is the left operand's field,
// which lets callers apply per-field tolerances.
type Comparator func(field string, a, b interface{}) (bool, error)

type operand struct {
	alias string
	field string
}

// Compiled is a validated, reusable rule expression.
type Compiled struct {
	Raw        string
	Normalized string
	Sources    []string
	Fields     []string
	HasOr      bool
	predicate  Predicate
}

// Compile normalizes, parses and validates an expression and turns it into a predicate.
// Nothing in the expression is executed: the result is a closure over the parsed tree.
//
// Parameters:
// - expr string: The logic expression, e.g. "ATM.reference_number = SWITCH.reference_number".
//
// Returns:
// - *Compiled: The compiled expression with its sources and equality fields.
// - error: A SecurityValidationError for disallowed constructs or a SyntaxError for malformed input.
func Compile(expr string) (*Compiled, error) {
	return CompileWith(expr, nil)
}

// CompileWith is Compile with a custom equality. A nil comparator uses Equal.
func CompileWith(expr string, cmp Comparator) (*Compiled, error) {
	if cmp == nil {
		cmp = func(_ string, a, b interface{}) (bool, error) { return Equal(a, b), nil }
	}
	normalized, err := Normalize(expr)
	if err != nil {
		return nil, err
	}
	root, err := parse(normalized)
	if err != nil {
		return nil, err
	}
	if err := Validate(root, normalized); err != nil {
		return nil, err
	}

	c := &Compiled{Raw: expr, Normalized: normalized}
	b := &builder{expr: normalized, cmp: cmp, seenFields: map[string]struct{}{}, seenSources: map[string]struct{}{}}
	predicate, err := b.compileBool(root.Body)
	if err != nil {
		return nil, err
	}
	sort.Strings(b.sources)

	c.predicate = predicate
	c.Sources = b.sources
	c.Fields = b.fields
	c.HasOr = b.hasOr
	return c, nil
}

// ChainedEquality compiles "S1.field == S2.field == ..." over the given sources.
func ChainedEquality(sources []string, field string) (*Compiled, error) {
	if len(sources) < 2 {
		return nil, fmt.Errorf("chained equality needs at least 2 sources, got %d", len(sources))
	}
	parts := make([]string, len(sources))
	for i, s := range sources {
		parts[i] = fmt.Sprintf("%s.%s", s, field)
	}
	return Compile(strings.Join(parts, " == "))
}

// GroupingFields returns the fields used to bucket transactions before evaluation. A pure AND
// expression groups on every equality field. Any OR makes a composite key stricter than the
// condition itself, so grouping falls back to the first field only.
func (c *Compiled) GroupingFields() []string {
	if len(c.Fields) == 0 {
		return nil
	}
	if c.HasOr {
		return c.Fields[:1]
	}
	return c.Fields
}

// Evaluate runs the predicate against one candidate tuple.
func (c *Compiled) Evaluate(ctx Context) (bool, error) {
	return c.predicate(ctx)
}

func (c *Compiled) String() string {
	return c.Normalized
}

// Equal is the equality used by compiled comparisons. Values are compared in canonical form
// and a null on either side never matches.
func Equal(a, b interface{}) bool {
	as, ok := model.CanonicalString(a)
	if !ok {
		return false
	}
	bs, ok := model.CanonicalString(b)
	if !ok {
		return false
	}
	return as == bs
}

type builder struct {
	expr        string
	cmp         Comparator
	fields      []string
	sources     []string
	seenFields  map[string]struct{}
	seenSources map[string]struct{}
	hasOr       bool
}

func (b *builder) compileBool(n Node) (Predicate, error) {
	switch v := n.(type) {
	case *BoolOp:
		return b.compileBoolOp(v)
	case *Compare:
		return b.compileCompare(v)
	}
	return nil, syntaxErrorf(b.expr, n.Pos(), "%s is not a boolean condition", n.Kind())
}

func (b *builder) compileBoolOp(v *BoolOp) (Predicate, error) {
	if v.Op == OpOr {
		b.hasOr = true
	}
	parts := make([]Predicate, 0, len(v.Values))
	for _, child := range v.Values {
		p, err := b.compileBool(child)
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}

	if v.Op == OpAnd {
		return func(ctx Context) (bool, error) {
			for _, p := range parts {
				ok, err := p(ctx)
				if err != nil || !ok {
					return false, err
				}
			}
			return true, nil
		}, nil
	}
	return func(ctx Context) (bool, error) {
		for _, p := range parts {
			ok, err := p(ctx)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}, nil
}

func (b *builder) compileCompare(v *Compare) (Predicate, error) {
	nodes := append([]Node{v.Left}, v.Comparators...)
	operands := make([]operand, 0, len(nodes))
	for _, n := range nodes {
		op, err := b.compileOperand(n)
		if err != nil {
			return nil, err
		}
		operands = append(operands, op)
	}

	return func(ctx Context) (bool, error) {
		prev, err := operands[0].resolve(ctx)
		if err != nil {
			return false, err
		}
		for i, op := range operands[1:] {
			cur, err := op.resolve(ctx)
			if err != nil {
				return false, err
			}
			equal, err := b.cmp(operands[i].field, prev, cur)
			if err != nil || !equal {
				return false, err
			}
			prev = cur
		}
		return true, nil
	}, nil
}

func (b *builder) compileOperand(n Node) (operand, error) {
	attr, ok := n.(*Attribute)
	if !ok {
		return operand{}, syntaxErrorf(b.expr, n.Pos(), "comparison operands must be written as source.field")
	}
	name, ok := attr.Value.(*Name)
	if !ok {
		return operand{}, syntaxErrorf(b.expr, n.Pos(), "comparison operands must be written as source.field")
	}

	if _, seen := b.seenSources[name.ID]; !seen {
		b.seenSources[name.ID] = struct{}{}
		b.sources = append(b.sources, name.ID)
	}
	if _, seen := b.seenFields[attr.Attr]; !seen {
		b.seenFields[attr.Attr] = struct{}{}
		b.fields = append(b.fields, attr.Attr)
	}
	return operand{alias: name.ID, field: attr.Attr}, nil
}

func (o operand) resolve(ctx Context) (interface{}, error) {
	rec, ok := ctx[o.alias]
	if !ok || rec == nil {
		return nil, fmt.Errorf("source %s is not bound", o.alias)
	}
	v, ok := rec.Field(o.field)
	if !ok {
		return nil, fmt.Errorf("source %s has no field %s", o.alias, o.field)
	}
	return v, nil
}
