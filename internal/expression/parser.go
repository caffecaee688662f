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

// maxNesting bounds parser recursion for adversarial input.
const maxNesting = 64

var comparisonOps = map[tokenKind]CmpOp{
	tokEq:    OpEq,
	tokNotEq: OpNotEq,
	tokLt:    OpLt,
	tokLtE:   OpLtE,
	tokGt:    OpGt,
	tokGtE:   OpGtE,
}

type parser struct {
	input  string
	tokens []token
	pos    int
	depth  int
}

// parse builds the syntax tree for an already normalized expression.
func parse(input string) (*Expression, error) {
	tokens, err := lex(input)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 1 {
		return nil, syntaxErrorf(input, -1, "expression is empty")
	}
	p := &parser{input: input, tokens: tokens}
	body, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, syntaxErrorf(input, tok.pos, "unexpected %q", tok.text)
	}
	return &Expression{Body: body}, nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	tok := p.next()
	if tok.kind != kind {
		return tok, syntaxErrorf(p.input, tok.pos, "expected %s, found %q", what, tok.text)
	}
	return tok, nil
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxNesting {
		return syntaxErrorf(p.input, p.peek().pos, "expression nested deeper than %d levels", maxNesting)
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

func (p *parser) parseOr() (Node, error) {
	return p.parseBool(tokOr, OpOr, p.parseAnd)
}

func (p *parser) parseAnd() (Node, error) {
	return p.parseBool(tokAnd, OpAnd, p.parseNot)
}

func (p *parser) parseBool(kind tokenKind, op BoolOperator, operand func() (Node, error)) (Node, error) {
	start := p.peek().pos
	first, err := operand()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != kind {
		return first, nil
	}
	values := []Node{first}
	for p.peek().kind == kind {
		p.next()
		v, err := operand()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return &BoolOp{Op: op, Values: values, pos: start}, nil
}

func (p *parser) parseNot() (Node, error) {
	if p.peek().kind == tokNot {
		tok := p.next()
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &UnaryOp{Op: "NOT", Operand: operand, pos: tok.pos}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Node, error) {
	start := p.peek().pos
	left, err := p.parseArith()
	if err != nil {
		return nil, err
	}
	cmp := &Compare{Left: left, pos: start}
	for {
		tok := p.peek()
		if tok.kind == tokAssign {
			return nil, syntaxErrorf(p.input, tok.pos, "single '=' must be normalized before parsing")
		}
		op, ok := comparisonOps[tok.kind]
		if !ok {
			break
		}
		p.next()
		right, err := p.parseArith()
		if err != nil {
			return nil, err
		}
		cmp.Ops = append(cmp.Ops, op)
		cmp.Comparators = append(cmp.Comparators, right)
	}
	if len(cmp.Ops) == 0 {
		return left, nil
	}
	return cmp, nil
}

func (p *parser) parseArith() (Node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokPlus || p.peek().kind == tokMinus {
		tok := p.next()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &BinOp{Op: tok.text, Left: left, Right: right, pos: tok.pos}
	}
	return left, nil
}

func (p *parser) parseTerm() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for k := p.peek().kind; k == tokStar || k == tokSlash || k == tokPercent; k = p.peek().kind {
		tok := p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinOp{Op: tok.text, Left: left, Right: right, pos: tok.pos}
	}
	return left, nil
}

func (p *parser) parseUnary() (Node, error) {
	if k := p.peek().kind; k == tokMinus || k == tokPlus {
		tok := p.next()
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryOp{Op: tok.text, Operand: operand, pos: tok.pos}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (Node, error) {
	node, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		switch tok.kind {
		case tokDot:
			p.next()
			attr, err := p.expect(tokIdent, "attribute name")
			if err != nil {
				return nil, err
			}
			node = &Attribute{Value: node, Attr: attr.text, pos: tok.pos}
		case tokLParen:
			p.next()
			call := &Call{Func: node, pos: tok.pos}
			for p.peek().kind != tokRParen {
				arg, err := p.parseGrouped()
				if err != nil {
					return nil, err
				}
				call.Args = append(call.Args, arg)
				if p.peek().kind != tokComma {
					break
				}
				p.next()
			}
			if _, err := p.expect(tokRParen, "')'"); err != nil {
				return nil, err
			}
			node = call
		case tokLBracket:
			p.next()
			index, err := p.parseGrouped()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokRBracket, "']'"); err != nil {
				return nil, err
			}
			node = &Subscript{Value: node, Index: index, pos: tok.pos}
		default:
			return node, nil
		}
	}
}

func (p *parser) parsePrimary() (Node, error) {
	tok := p.next()
	switch tok.kind {
	case tokIdent:
		return &Name{ID: tok.text, pos: tok.pos}, nil
	case tokNumber, tokString:
		return &Constant{Value: tok.text, pos: tok.pos}, nil
	case tokLParen:
		inner, err := p.parseGrouped()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return inner, nil
	case tokEOF:
		return nil, syntaxErrorf(p.input, tok.pos, "unexpected end of expression")
	}
	return nil, syntaxErrorf(p.input, tok.pos, "unexpected %q", tok.text)
}

func (p *parser) parseGrouped() (Node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()
	return p.parseOr()
}
