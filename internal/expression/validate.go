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

import "fmt"

var allowedKinds = map[NodeKind]struct{}{
	KindExpression: {},
	KindCompare:    {},
	KindBoolOp:     {},
	KindName:       {},
	KindAttribute:  {},
}

// Validate walks the tree and fails with a SecurityValidationError on the first node outside
// the allowed set. Comparisons are only allowed with the equality operator.
func Validate(root *Expression, expr string) error {
	stack := []Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if _, ok := allowedKinds[n.Kind()]; !ok {
			return &SecurityValidationError{Node: describe(n), Expression: expr}
		}
		if cmp, ok := n.(*Compare); ok {
			for _, op := range cmp.Ops {
				if op != OpEq {
					return &SecurityValidationError{Node: fmt.Sprintf("%s %s", KindCompare, op), Expression: expr}
				}
			}
		}
		stack = append(stack, children(n)...)
	}
	return nil
}

func describe(n Node) string {
	switch v := n.(type) {
	case *UnaryOp:
		return fmt.Sprintf("%s %s", v.Kind(), v.Op)
	case *BinOp:
		return fmt.Sprintf("%s %s", v.Kind(), v.Op)
	case *Constant:
		return fmt.Sprintf("%s %s", v.Kind(), v.Value)
	}
	return string(n.Kind())
}
