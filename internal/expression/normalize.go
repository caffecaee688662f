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
	"strconv"
	"strings"
)

// Normalize rewrites an expression into its canonical form:
//   - a single '=' becomes '==' while existing '==', '!=', '<=' and '>=' are untouched
//   - logical keywords are upper-cased ('&&' and '||' become AND and OR)
//   - when AND and OR are both used at the top level, every comparison chain next to a
//     logical operator is parenthesized so it reads as one operand of the boolean combination
//
// Parameters:
// - expr string: The raw logic expression as written on the rule.
//
// Returns:
// - string: The normalized expression.
// - error: A SyntaxError if the expression cannot be tokenized.
func Normalize(expr string) (string, error) {
	tokens, err := lex(expr)
	if err != nil {
		return "", err
	}
	for i := range tokens {
		if tokens[i].kind == tokAssign {
			tokens[i].kind = tokEq
			tokens[i].text = "=="
		}
	}
	tokens = wrapMixedChains(tokens[:len(tokens)-1])
	return render(tokens), nil
}

// wrapMixedChains parenthesizes top-level operands when AND and OR are mixed without grouping.
func wrapMixedChains(tokens []token) []token {
	var segments [][]token
	var operators []token
	hasAnd, hasOr := false, false
	depth, start := 0, 0

	for i, tok := range tokens {
		switch tok.kind {
		case tokLParen, tokLBracket:
			depth++
		case tokRParen, tokRBracket:
			depth--
		case tokAnd, tokOr:
			if depth != 0 {
				continue
			}
			if tok.kind == tokAnd {
				hasAnd = true
			} else {
				hasOr = true
			}
			segments = append(segments, tokens[start:i])
			operators = append(operators, tok)
			start = i + 1
		}
	}
	if !hasAnd || !hasOr {
		return tokens
	}
	segments = append(segments, tokens[start:])

	out := make([]token, 0, len(tokens)+2*len(segments))
	for i, seg := range segments {
		if hasComparison(seg) && !isWrapped(seg) {
			out = append(out, token{kind: tokLParen, text: "("})
			out = append(out, seg...)
			out = append(out, token{kind: tokRParen, text: ")"})
		} else {
			out = append(out, seg...)
		}
		if i < len(operators) {
			out = append(out, operators[i])
		}
	}
	return out
}

// hasComparison reports whether seg holds a comparison outside any brackets.
func hasComparison(seg []token) bool {
	depth := 0
	for _, tok := range seg {
		switch tok.kind {
		case tokLParen, tokLBracket:
			depth++
		case tokRParen, tokRBracket:
			depth--
		default:
			if _, ok := comparisonOps[tok.kind]; ok && depth == 0 {
				return true
			}
		}
	}
	return false
}

// isWrapped reports whether seg is one parenthesized group.
func isWrapped(seg []token) bool {
	if len(seg) < 2 || seg[0].kind != tokLParen || seg[len(seg)-1].kind != tokRParen {
		return false
	}
	depth := 0
	for i, tok := range seg {
		switch tok.kind {
		case tokLParen:
			depth++
		case tokRParen:
			depth--
			if depth == 0 && i != len(seg)-1 {
				return false
			}
		}
	}
	return true
}

func render(tokens []token) string {
	var sb strings.Builder
	for i, tok := range tokens {
		if i > 0 && needsSpace(tokens[i-1], tok) {
			sb.WriteByte(' ')
		}
		switch tok.kind {
		case tokString:
			sb.WriteString(strconv.Quote(tok.text))
		case tokAnd:
			sb.WriteString(string(OpAnd))
		case tokOr:
			sb.WriteString(string(OpOr))
		case tokNot:
			sb.WriteString("NOT")
		default:
			sb.WriteString(tok.text)
		}
	}
	return sb.String()
}

func needsSpace(prev, cur token) bool {
	switch {
	case prev.kind == tokDot || cur.kind == tokDot:
		return false
	case prev.kind == tokLParen || prev.kind == tokLBracket:
		return false
	case cur.kind == tokRParen || cur.kind == tokRBracket || cur.kind == tokComma:
		return false
	case cur.kind == tokLParen && prev.kind == tokIdent:
		return false
	case cur.kind == tokLBracket:
		return false
	}
	return true
}
