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

// NodeKind names the syntactic construct of a node. Only a small subset is ever allowed
// through validation; the rest exist so that anything outside the subset is recognised and
// rejected rather than failing as an opaque parse error.
type NodeKind string

const (
	KindExpression NodeKind = "expression"
	KindCompare    NodeKind = "compare"
	KindBoolOp     NodeKind = "boolop"
	KindName       NodeKind = "name"
	KindAttribute  NodeKind = "attribute"
	KindConstant   NodeKind = "constant"
	KindCall       NodeKind = "call"
	KindUnaryOp    NodeKind = "unaryop"
	KindBinOp      NodeKind = "binop"
	KindSubscript  NodeKind = "subscript"
)

type CmpOp string

const (
	OpEq    CmpOp = "=="
	OpNotEq CmpOp = "!="
	OpLt    CmpOp = "<"
	OpLtE   CmpOp = "<="
	OpGt    CmpOp = ">"
	OpGtE   CmpOp = ">="
)

type BoolOperator string

const (
	OpAnd BoolOperator = "AND"
	OpOr  BoolOperator = "OR"
)

// Node is an element of a parsed expression tree.
type Node interface {
	Kind() NodeKind
	Pos() int
}

type Expression struct {
	Body Node
}

type Compare struct {
	Left        Node
	Ops         []CmpOp
	Comparators []Node
	pos         int
}

type BoolOp struct {
	Op     BoolOperator
	Values []Node
	pos    int
}

type Name struct {
	ID  string
	pos int
}

type Attribute struct {
	Value Node
	Attr  string
	pos   int
}

type Constant struct {
	Value string
	pos   int
}

type Call struct {
	Func Node
	Args []Node
	pos  int
}

type UnaryOp struct {
	Op      string
	Operand Node
	pos     int
}

type BinOp struct {
	Op    string
	Left  Node
	Right Node
	pos   int
}

type Subscript struct {
	Value Node
	Index Node
	pos   int
}

func (*Expression) Kind() NodeKind { return KindExpression }
func (*Compare) Kind() NodeKind    { return KindCompare }
func (*BoolOp) Kind() NodeKind     { return KindBoolOp }
func (*Name) Kind() NodeKind       { return KindName }
func (*Attribute) Kind() NodeKind  { return KindAttribute }
func (*Constant) Kind() NodeKind   { return KindConstant }
func (*Call) Kind() NodeKind       { return KindCall }
func (*UnaryOp) Kind() NodeKind    { return KindUnaryOp }
func (*BinOp) Kind() NodeKind      { return KindBinOp }
func (*Subscript) Kind() NodeKind  { return KindSubscript }

func (*Expression) Pos() int  { return 0 }
func (n *Compare) Pos() int   { return n.pos }
func (n *BoolOp) Pos() int    { return n.pos }
func (n *Name) Pos() int      { return n.pos }
func (n *Attribute) Pos() int { return n.pos }
func (n *Constant) Pos() int  { return n.pos }
func (n *Call) Pos() int      { return n.pos }
func (n *UnaryOp) Pos() int   { return n.pos }
func (n *BinOp) Pos() int     { return n.pos }
func (n *Subscript) Pos() int { return n.pos }

// children returns the direct child nodes of n.
func children(n Node) []Node {
	switch v := n.(type) {
	case *Expression:
		return []Node{v.Body}
	case *Compare:
		return append([]Node{v.Left}, v.Comparators...)
	case *BoolOp:
		return v.Values
	case *Attribute:
		return []Node{v.Value}
	case *Call:
		return append([]Node{v.Func}, v.Args...)
	case *UnaryOp:
		return []Node{v.Operand}
	case *BinOp:
		return []Node{v.Left, v.Right}
	case *Subscript:
		return []Node{v.Value, v.Index}
	}
	return nil
}
