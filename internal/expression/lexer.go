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
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokDot
	tokComma
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokEq
	tokAssign
	tokNotEq
	tokLt
	tokLtE
	tokGt
	tokGtE
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokPercent
	tokAnd
	tokOr
	tokNot
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

var symbols = map[string]tokenKind{
	"==": tokEq,
	"!=": tokNotEq,
	"<=": tokLtE,
	">=": tokGtE,
	"&&": tokAnd,
	"||": tokOr,
	"=":  tokAssign,
	"<":  tokLt,
	">":  tokGt,
	"!":  tokNot,
	".":  tokDot,
	",":  tokComma,
	"(":  tokLParen,
	")":  tokRParen,
	"[":  tokLBracket,
	"]":  tokRBracket,
	"+":  tokPlus,
	"-":  tokMinus,
	"*":  tokStar,
	"/":  tokSlash,
	"%":  tokPercent,
}

var keywords = map[string]tokenKind{
	"and": tokAnd,
	"or":  tokOr,
	"not": tokNot,
}

// lex splits an expression into tokens. Keywords are matched case-insensitively.
func lex(input string) ([]token, error) {
	var tokens []token
	runes := []rune(input)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++

		case r == '_' || unicode.IsLetter(r):
			start := i
			for i < len(runes) && (runes[i] == '_' || unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i])) {
				i++
			}
			word := string(runes[start:i])
			if kind, ok := keywords[strings.ToLower(word)]; ok {
				tokens = append(tokens, token{kind: kind, text: strings.ToUpper(word), pos: start})
				continue
			}
			tokens = append(tokens, token{kind: tokIdent, text: word, pos: start})

		case unicode.IsDigit(r):
			start := i
			seenDot := false
			for i < len(runes) && (unicode.IsDigit(runes[i]) || (runes[i] == '.' && !seenDot && i+1 < len(runes) && unicode.IsDigit(runes[i+1]))) {
				if runes[i] == '.' {
					seenDot = true
				}
				i++
			}
			tokens = append(tokens, token{kind: tokNumber, text: string(runes[start:i]), pos: start})

		case r == '\'' || r == '"':
			start := i
			quote := r
			i++
			var sb strings.Builder
			closed := false
			for i < len(runes) {
				if runes[i] == '\\' && i+1 < len(runes) {
					sb.WriteRune(runes[i+1])
					i += 2
					continue
				}
				if runes[i] == quote {
					closed = true
					i++
					break
				}
				sb.WriteRune(runes[i])
				i++
			}
			if !closed {
				return nil, syntaxErrorf(input, start, "unterminated string literal")
			}
			tokens = append(tokens, token{kind: tokString, text: sb.String(), pos: start})

		default:
			if i+1 < len(runes) {
				if kind, ok := symbols[string(runes[i:i+2])]; ok {
					tokens = append(tokens, token{kind: kind, text: string(runes[i : i+2]), pos: i})
					i += 2
					continue
				}
			}
			kind, ok := symbols[string(r)]
			if !ok {
				return nil, syntaxErrorf(input, i, "unexpected character %q", r)
			}
			tokens = append(tokens, token{kind: kind, text: string(r), pos: i})
			i++
		}
	}
	tokens = append(tokens, token{kind: tokEOF, pos: len(runes)})
	return tokens, nil
}
