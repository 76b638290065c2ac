package expression

import (
	"github.com/burrowdev/burrow/pkg/attr"
)

// CompareOp is a comparison operator in a condition.
type CompareOp string

const (
	OpEq CompareOp = "="
	OpNe CompareOp = "<>"
	OpLt CompareOp = "<"
	OpGt CompareOp = ">"
	OpLe CompareOp = "<="
	OpGe CompareOp = ">="
)

// Condition function names. Case-sensitive, as on the wire.
const (
	FnAttributeExists    = "attribute_exists"
	FnAttributeNotExists = "attribute_not_exists"
	FnBeginsWith         = "begins_with"
	FnContains           = "contains"
	FnSize               = "size"
	FnIfNotExists        = "if_not_exists"
	FnListAppend         = "list_append"
)

// PathSegment is one step of a document path: an attribute name, a name
// reference to resolve through the caller's mapping, or a list index.
type PathSegment struct {
	Name    string
	NameRef string // "#ref", resolved at evaluation
	Index   int
	IsIndex bool
}

// Path addresses a possibly nested attribute.
type Path struct {
	Segments []PathSegment
	Pos      int
}

// Expr is a boolean condition node.
type Expr interface{ exprNode() }

// Operand is a value-producing node.
type Operand interface{ operandNode() }

type (
	// AndExpr is the conjunction of its terms.
	AndExpr struct{ Terms []Expr }
	// OrExpr is the disjunction of its terms.
	OrExpr struct{ Terms []Expr }
	// NotExpr negates its term.
	NotExpr struct{ Term Expr }
	// CompareExpr applies a comparison operator.
	CompareExpr struct {
		Op   CompareOp
		L, R Operand
		Pos  int
	}
	// BetweenExpr is inclusive on both endpoints.
	BetweenExpr struct {
		Operand Operand
		Lo, Hi  Operand
	}
	// InExpr is membership over the evaluated right-hand operands.
	InExpr struct {
		Operand Operand
		List    []Operand
	}
	// FuncExpr is a condition function call (attribute_exists,
	// begins_with, contains).
	FuncExpr struct {
		Name string
		Args []Operand
		Pos  int
	}
)

func (*AndExpr) exprNode()     {}
func (*OrExpr) exprNode()      {}
func (*NotExpr) exprNode()     {}
func (*CompareExpr) exprNode() {}
func (*BetweenExpr) exprNode() {}
func (*InExpr) exprNode()      {}
func (*FuncExpr) exprNode()    {}

type (
	// PathOperand reads a document path.
	PathOperand struct{ Path Path }
	// ValueRefOperand substitutes a caller-supplied typed value.
	ValueRefOperand struct {
		Name string
		Pos  int
	}
	// LiteralOperand is an inline literal.
	LiteralOperand struct{ Value attr.Value }
	// SizeOperand is size(path) used as a value.
	SizeOperand struct{ Path Path }
)

func (*PathOperand) operandNode()     {}
func (*ValueRefOperand) operandNode() {}
func (*LiteralOperand) operandNode()  {}
func (*SizeOperand) operandNode()     {}

// Update expression nodes.

// ValueExpr produces a value on the right-hand side of a SET action.
type ValueExpr interface{ valueExprNode() }

type (
	// OperandValue wraps a plain operand.
	OperandValue struct{ Operand Operand }
	// ArithValue is numeric + or - between two value expressions.
	ArithValue struct {
		Op   byte // '+' or '-'
		L, R ValueExpr
		Pos  int
	}
	// IfNotExistsValue is if_not_exists(path, default).
	IfNotExistsValue struct {
		Path    Path
		Default ValueExpr
	}
	// ListAppendValue concatenates two lists.
	ListAppendValue struct{ A, B ValueExpr }
)

func (*OperandValue) valueExprNode()     {}
func (*ArithValue) valueExprNode()       {}
func (*IfNotExistsValue) valueExprNode() {}
func (*ListAppendValue) valueExprNode()  {}

// SetAction writes a computed value at a path.
type SetAction struct {
	Path  Path
	Value ValueExpr
}

// AddAction adds a number or unions a set at a path.
type AddAction struct {
	Path  Path
	Value Operand
}

// DeleteAction removes members from a set at a path.
type DeleteAction struct {
	Path  Path
	Value Operand
}

// UpdateExpression is the parsed form of an update document. Clauses are
// applied SET, REMOVE, ADD, DELETE in that order.
type UpdateExpression struct {
	Set    []SetAction
	Remove []Path
	Add    []AddAction
	Delete []DeleteAction
}
