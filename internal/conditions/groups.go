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

package conditions

import (
	"fmt"
	"strings"

	"github.com/blnkfinance/recon/internal/expression"
	"github.com/blnkfinance/recon/model"
)

// MaxGroupDepth bounds the nesting of legacy condition groups.
const MaxGroupDepth = 8

type groupNode struct {
	logic      string
	conditions []Condition
	groups     []*groupNode
	depth      int
}

// GroupTree is a resolved set of legacy condition groups. Top-level groups are combined with AND.
type GroupTree struct {
	root     *groupNode
	maxDepth int
	count    int
}

// CompileGroups resolves legacy condition groups into a tree. Nesting deeper than
// MaxGroupDepth is rejected.
func CompileGroups(groups []model.ConditionGroup, tolerances model.ToleranceConfig) (*GroupTree, error) {
	root := &groupNode{logic: model.LogicAnd}
	tree := &GroupTree{root: root}

	type pending struct {
		src    model.ConditionGroup
		parent *groupNode
		depth  int
	}
	stack := make([]pending, 0, len(groups))
	for i := len(groups) - 1; i >= 0; i-- {
		stack = append(stack, pending{src: groups[i], parent: root, depth: 1})
	}

	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if p.depth > MaxGroupDepth {
			return nil, fmt.Errorf("condition groups nested deeper than %d levels", MaxGroupDepth)
		}
		logic := strings.ToUpper(strings.TrimSpace(p.src.Logic))
		if logic == "" {
			logic = model.LogicAnd
		}
		if logic != model.LogicAnd && logic != model.LogicOr {
			return nil, fmt.Errorf("unknown group logic %q", p.src.Logic)
		}

		node := &groupNode{logic: logic, depth: p.depth}
		for _, c := range p.src.Conditions {
			resolved, err := Resolve(c, tolerances)
			if err != nil {
				return nil, err
			}
			node.conditions = append(node.conditions, resolved)
			tree.count++
		}
		p.parent.groups = append(p.parent.groups, node)
		if p.depth > tree.maxDepth {
			tree.maxDepth = p.depth
		}

		for i := len(p.src.Groups) - 1; i >= 0; i-- {
			stack = append(stack, pending{src: p.src.Groups[i], parent: node, depth: p.depth + 1})
		}
	}
	return tree, nil
}

// Depth is the deepest nesting level in the tree.
func (g *GroupTree) Depth() int { return g.maxDepth }

// ConditionCount is the number of conditions across all groups.
func (g *GroupTree) ConditionCount() int { return g.count }

// Empty reports whether the tree holds no conditions at all.
func (g *GroupTree) Empty() bool { return g.count == 0 }

// HasOr reports whether any group combines with OR.
func (g *GroupTree) HasOr() bool {
	return g.any(func(n *groupNode) bool { return n.logic == model.LogicOr })
}

// SourceSpecific reports whether any condition is restricted to a subset of sources.
func (g *GroupTree) SourceSpecific() bool {
	return g.any(func(n *groupNode) bool {
		for _, c := range n.conditions {
			if len(c.Sources) > 0 {
				return true
			}
		}
		return false
	})
}

// EqualityFields returns the fields of equals conditions in top-level AND groups, in order.
func (g *GroupTree) EqualityFields() []string {
	var fields []string
	seen := map[string]struct{}{}
	for _, group := range g.root.groups {
		if group.logic != model.LogicAnd {
			continue
		}
		for _, c := range group.conditions {
			if c.Operator != OpEquals || c.HasText {
				continue
			}
			if _, ok := seen[c.Field]; !ok {
				seen[c.Field] = struct{}{}
				fields = append(fields, c.Field)
			}
		}
	}
	return fields
}

func (g *GroupTree) any(fn func(*groupNode) bool) bool {
	stack := []*groupNode{g.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if fn(n) {
			return true
		}
		stack = append(stack, n.groups...)
	}
	return false
}

type frame struct {
	node    *groupNode
	next    int
	result  bool
	started bool
	done    bool
}

// Evaluate walks the tree with an explicit stack, short-circuiting each group as soon as its
// outcome is decided.
func (g *GroupTree) Evaluate(ctx expression.Context, order []string) (bool, error) {
	stack := []*frame{{node: g.root}}
	var childResult *bool

	for len(stack) > 0 {
		f := stack[len(stack)-1]

		if !f.started {
			f.started = true
			f.result = f.node.logic == model.LogicAnd
			for _, c := range f.node.conditions {
				ok, err := Evaluate(c, ctx, order)
				if err != nil {
					return false, err
				}
				f.result = combine(f.node.logic, f.result, ok)
				if decided(f.node.logic, f.result) {
					f.done = true
					break
				}
			}
		}

		if childResult != nil {
			f.result = combine(f.node.logic, f.result, *childResult)
			childResult = nil
			if decided(f.node.logic, f.result) {
				f.done = true
			}
		}

		if f.done || f.next >= len(f.node.groups) {
			stack = stack[:len(stack)-1]
			r := f.result
			childResult = &r
			continue
		}

		child := f.node.groups[f.next]
		f.next++
		stack = append(stack, &frame{node: child})
	}

	return childResult != nil && *childResult, nil
}

func combine(logic string, acc, v bool) bool {
	if logic == model.LogicOr {
		return acc || v
	}
	return acc && v
}

func decided(logic string, acc bool) bool {
	if logic == model.LogicOr {
		return acc
	}
	return !acc
}
