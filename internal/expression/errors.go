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
	"strings"
)

// SecurityValidationError is returned when an expression contains a construct outside the
// allowed node set. The rule carrying it must be rejected, never evaluated.
type SecurityValidationError struct {
	Node       string
	Expression string
}

func (e *SecurityValidationError) Error() string {
	return fmt.Sprintf("disallowed construct %q in expression %q", e.Node, e.Expression)
}

// SyntaxError is returned when an expression cannot be tokenized or parsed, or uses allowed
// nodes in a shape the evaluator does not support.
type SyntaxError struct {
	Pos        int
	Message    string
	Expression string
}

func (e *SyntaxError) Error() string {
	if e.Pos < 0 {
		return fmt.Sprintf("invalid expression %q: %s", e.Expression, e.Message)
	}
	return fmt.Sprintf("invalid expression %q at position %d: %s", e.Expression, e.Pos, e.Message)
}

func syntaxErrorf(expr string, pos int, format string, args ...interface{}) *SyntaxError {
	return &SyntaxError{Pos: pos, Message: fmt.Sprintf(format, args...), Expression: strings.TrimSpace(expr)}
}
