// Package expr defines the expression evaluator boundary: the typed AST a
// pre-parsed program embeds wherever a DSL expression appears, and the
// Evaluator interface the executor depends on. A reference tree-walking
// implementation is provided since expression grammar parsing itself is
// out of scope — programs are built with these nodes directly (by a real
// parser, or by tests constructing fixtures).
package expr

// NodeKind enumerates the expression node shapes.
type NodeKind string

const (
	NodeLiteral    NodeKind = "literal"
	NodeIdent      NodeKind = "ident"    // bare identifier, precedence-resolved
	NodeQualified  NodeKind = "qualified" // a.b.c field path
	NodeBinary     NodeKind = "binary"
	NodeUnary      NodeKind = "unary"
	NodeLogical    NodeKind = "logical" // and/or, short-circuit
	NodeTernary    NodeKind = "ternary"
	NodeMatch      NodeKind = "match_expr"
	NodeCall       NodeKind = "call"
	NodeIsType     NodeKind = "is_type"
	NodeInterp     NodeKind = "interpolation"
)

// LiteralKind enumerates scalar literal types.
type LiteralKind string

const (
	LitNull   LiteralKind = "null"
	LitBool   LiteralKind = "bool"
	LitInt    LiteralKind = "int"
	LitFloat  LiteralKind = "float"
	LitString LiteralKind = "string"
)

// Node is one node of an expression AST. Only the fields relevant to Kind
// are populated; this favors plain structs over an interface-per-node-type
// hierarchy.
type Node struct {
	Kind NodeKind

	// NodeLiteral
	LitKind LiteralKind
	Bool    bool
	Int     int64
	Float   float64
	Str     string

	// NodeIdent / NodeQualified
	Name string

	// NodeBinary / NodeLogical
	Op    string // "+","-","*","/","==","!=","<","<=",">",">=","and","or"
	Left  *Node
	Right *Node

	// NodeUnary
	UnaryOp   string // "not", "-"
	Operand   *Node

	// NodeTernary
	Cond *Node
	Then *Node
	Else *Node

	// NodeMatch
	MatchTarget *Node
	MatchArms   []MatchExprArm

	// NodeCall
	Func string
	Args []Node

	// NodeIsType
	TypeName string

	// NodeInterp: a string template with embedded expressions
	Parts []InterpPart
}

// MatchExprArm is one arm of a `match` expression (distinct from the
// step-level MatchStep, which dispatches on schema; this is a value-level
// conditional expression).
type MatchExprArm struct {
	When   *Node // nil means default arm
	Result *Node
}

// InterpPart is one literal-or-expression segment of a string
// interpolation template (e.g. "/users/{id}").
type InterpPart struct {
	Literal string
	Expr    *Node // nil when this part is a literal segment
}

func Lit(k LiteralKind) *Node { return &Node{Kind: NodeLiteral, LitKind: k} }

func LitStringNode(s string) *Node { return &Node{Kind: NodeLiteral, LitKind: LitString, Str: s} }
func LitIntNode(i int64) *Node     { return &Node{Kind: NodeLiteral, LitKind: LitInt, Int: i} }
func LitBoolNode(b bool) *Node     { return &Node{Kind: NodeLiteral, LitKind: LitBool, Bool: b} }
func IdentNode(name string) *Node { return &Node{Kind: NodeIdent, Name: name} }
