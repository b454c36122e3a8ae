package expr

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/mcclowes/reqon/pkg/value"
)

// EvalContext is the minimal view of the execution context an expression
// needs. The executor's context type implements this.
type EvalContext interface {
	// Variable looks up a lexically-scoped variable by name.
	Variable(name string) (value.Value, bool)
	// Response returns the current last-result register.
	Response() value.Value
	// Env reads a process environment variable (impure; isolated to the
	// `env()` builtin).
	Env(name string) (string, bool)
}

// Evaluator evaluates a typed expression AST against (ctx, current value).
// The executor treats it as a pure function modulo Env().
type Evaluator interface {
	Eval(ctx EvalContext, current value.Value, node *Node) (value.Value, error)
}

// TreeWalker is the reference Evaluator implementation: a straightforward
// recursive tree-walk over a pre-built AST. There is no grammar here (DSL
// parsing is out of scope), so no parser-combinator/generated-parser library
// is needed — this is plain recursive evaluation, the same shape as the
// teacher's plain hand-written Go throughout pkg/manager and pkg/worker.
type TreeWalker struct {
	NowFn func() time.Time
}

// NewTreeWalker constructs a TreeWalker using time.Now for now().
func NewTreeWalker() *TreeWalker {
	return &TreeWalker{NowFn: time.Now}
}

func (w *TreeWalker) now() time.Time {
	if w.NowFn != nil {
		return w.NowFn()
	}
	return time.Now()
}

func (w *TreeWalker) Eval(ctx EvalContext, current value.Value, node *Node) (value.Value, error) {
	if node == nil {
		return value.Null(), nil
	}
	switch node.Kind {
	case NodeLiteral:
		return w.evalLiteral(node), nil

	case NodeIdent:
		return w.resolveIdent(ctx, current, node.Name), nil

	case NodeQualified:
		return w.resolveQualified(ctx, current, node.Name)

	case NodeBinary:
		return w.evalBinary(ctx, current, node)

	case NodeLogical:
		return w.evalLogical(ctx, current, node)

	case NodeUnary:
		return w.evalUnary(ctx, current, node)

	case NodeTernary:
		condV, err := w.Eval(ctx, current, node.Cond)
		if err != nil {
			return value.Null(), err
		}
		if condV.Truthy() {
			return w.Eval(ctx, current, node.Then)
		}
		return w.Eval(ctx, current, node.Else)

	case NodeMatch:
		return w.evalMatch(ctx, current, node)

	case NodeCall:
		return w.evalCall(ctx, current, node)

	case NodeIsType:
		return w.evalIsType(ctx, current, node)

	case NodeInterp:
		return w.evalInterp(ctx, current, node)

	default:
		return value.Null(), fmt.Errorf("expr: unknown node kind %q", node.Kind)
	}
}

func (w *TreeWalker) evalLiteral(node *Node) value.Value {
	switch node.LitKind {
	case LitNull:
		return value.Null()
	case LitBool:
		return value.Bool(node.Bool)
	case LitInt:
		return value.Int(node.Int)
	case LitFloat:
		return value.Float(node.Float)
	case LitString:
		return value.String(node.Str)
	default:
		return value.Null()
	}
}

// resolveIdent resolves a bare identifier in precedence order: current
// value's field -> variable -> response field.
func (w *TreeWalker) resolveIdent(ctx EvalContext, current value.Value, name string) value.Value {
	if current.Kind == value.KindObject {
		if v, ok := current.Object[name]; ok {
			return v
		}
	}
	if v, ok := ctx.Variable(name); ok {
		return v
	}
	if v, ok := ctx.Response().Field(name); ok {
		return v
	}
	return value.Null()
}

func (w *TreeWalker) resolveQualified(ctx EvalContext, current value.Value, path string) (value.Value, error) {
	segs := strings.SplitN(path, ".", 2)
	head := w.resolveIdent(ctx, current, segs[0])
	if len(segs) == 1 {
		return head, nil
	}
	v, ok := head.Field(segs[1])
	if !ok {
		return value.Null(), nil
	}
	return v, nil
}

func (w *TreeWalker) evalBinary(ctx EvalContext, current value.Value, node *Node) (value.Value, error) {
	l, err := w.Eval(ctx, current, node.Left)
	if err != nil {
		return value.Null(), err
	}
	r, err := w.Eval(ctx, current, node.Right)
	if err != nil {
		return value.Null(), err
	}
	switch node.Op {
	case "+":
		return value.Add(l, r)
	case "-", "*", "/":
		return arith(node.Op, l, r)
	case "==":
		return value.Bool(value.Equal(l, r)), nil
	case "!=":
		return value.Bool(!value.Equal(l, r)), nil
	case "<", "<=", ">", ">=":
		cmp, err := value.Compare(l, r)
		if err != nil {
			return value.Null(), err
		}
		return value.Bool(applyCmp(node.Op, cmp)), nil
	default:
		return value.Null(), fmt.Errorf("expr: unknown binary operator %q", node.Op)
	}
}

func applyCmp(op string, cmp int) bool {
	switch op {
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	}
	return false
}

func arith(op string, l, r value.Value) (value.Value, error) {
	if l.Kind != value.KindInt && l.Kind != value.KindFloat {
		return value.Null(), fmt.Errorf("expr: %s is not numeric", l.Kind)
	}
	if r.Kind != value.KindInt && r.Kind != value.KindFloat {
		return value.Null(), fmt.Errorf("expr: %s is not numeric", r.Kind)
	}
	if l.Kind == value.KindInt && r.Kind == value.KindInt {
		switch op {
		case "-":
			return value.Int(l.Int - r.Int), nil
		case "*":
			return value.Int(l.Int * r.Int), nil
		case "/":
			if r.Int == 0 {
				return value.Null(), fmt.Errorf("expr: division by zero")
			}
			return value.Int(l.Int / r.Int), nil
		}
	}
	lf, rf := asFloat(l), asFloat(r)
	switch op {
	case "-":
		return value.Float(lf - rf), nil
	case "*":
		return value.Float(lf * rf), nil
	case "/":
		if rf == 0 {
			return value.Null(), fmt.Errorf("expr: division by zero")
		}
		return value.Float(lf / rf), nil
	}
	return value.Null(), fmt.Errorf("expr: unknown arithmetic operator %q", op)
}

func asFloat(v value.Value) float64 {
	if v.Kind == value.KindInt {
		return float64(v.Int)
	}
	return v.Float
}

func (w *TreeWalker) evalLogical(ctx EvalContext, current value.Value, node *Node) (value.Value, error) {
	l, err := w.Eval(ctx, current, node.Left)
	if err != nil {
		return value.Null(), err
	}
	switch node.Op {
	case "and":
		if !l.Truthy() {
			return value.Bool(false), nil
		}
		r, err := w.Eval(ctx, current, node.Right)
		if err != nil {
			return value.Null(), err
		}
		return value.Bool(r.Truthy()), nil
	case "or":
		if l.Truthy() {
			return value.Bool(true), nil
		}
		r, err := w.Eval(ctx, current, node.Right)
		if err != nil {
			return value.Null(), err
		}
		return value.Bool(r.Truthy()), nil
	default:
		return value.Null(), fmt.Errorf("expr: unknown logical operator %q", node.Op)
	}
}

func (w *TreeWalker) evalUnary(ctx EvalContext, current value.Value, node *Node) (value.Value, error) {
	v, err := w.Eval(ctx, current, node.Operand)
	if err != nil {
		return value.Null(), err
	}
	switch node.UnaryOp {
	case "not":
		return value.Bool(!v.Truthy()), nil
	case "-":
		if v.Kind == value.KindInt {
			return value.Int(-v.Int), nil
		}
		if v.Kind == value.KindFloat {
			return value.Float(-v.Float), nil
		}
		return value.Null(), fmt.Errorf("expr: cannot negate %s", v.Kind)
	default:
		return value.Null(), fmt.Errorf("expr: unknown unary operator %q", node.UnaryOp)
	}
}

func (w *TreeWalker) evalMatch(ctx EvalContext, current value.Value, node *Node) (value.Value, error) {
	target, err := w.Eval(ctx, current, node.MatchTarget)
	if err != nil {
		return value.Null(), err
	}
	for _, arm := range node.MatchArms {
		if arm.When == nil {
			return w.Eval(ctx, current, arm.Result)
		}
		whenV, err := w.Eval(ctx, target, arm.When)
		if err != nil {
			return value.Null(), err
		}
		if whenV.Truthy() || value.Equal(whenV, target) {
			return w.Eval(ctx, current, arm.Result)
		}
	}
	return value.Null(), nil
}

func (w *TreeWalker) evalIsType(ctx EvalContext, current value.Value, node *Node) (value.Value, error) {
	v, err := w.Eval(ctx, current, node.Operand)
	if err != nil {
		return value.Null(), err
	}
	return value.Bool(strings.EqualFold(v.Kind.String(), node.TypeName)), nil
}

func (w *TreeWalker) evalInterp(ctx EvalContext, current value.Value, node *Node) (value.Value, error) {
	var b strings.Builder
	for _, part := range node.Parts {
		if part.Expr == nil {
			b.WriteString(part.Literal)
			continue
		}
		v, err := w.Eval(ctx, current, part.Expr)
		if err != nil {
			return value.Null(), err
		}
		b.WriteString(renderInline(v))
	}
	return value.String(b.String()), nil
}

func renderInline(v value.Value) string {
	switch v.Kind {
	case value.KindString:
		return v.Str
	case value.KindInt:
		return fmt.Sprintf("%d", v.Int)
	case value.KindFloat:
		return fmt.Sprintf("%g", v.Float)
	case value.KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case value.KindNull:
		return ""
	default:
		return fmt.Sprintf("%v", v.ToNative())
	}
}

func (w *TreeWalker) evalCall(ctx EvalContext, current value.Value, node *Node) (value.Value, error) {
	args := make([]value.Value, len(node.Args))
	for i := range node.Args {
		a, err := w.Eval(ctx, current, &node.Args[i])
		if err != nil {
			return value.Null(), err
		}
		args[i] = a
	}
	switch node.Func {
	case "length":
		return callLength(args)
	case "sum":
		return callSum(args)
	case "first":
		return callFirst(args)
	case "last":
		return callLast(args)
	case "round":
		return callMathFn(args, math.Round)
	case "floor":
		return callMathFn(args, math.Floor)
	case "ceil":
		return callMathFn(args, math.Ceil)
	case "concat":
		return callConcat(args)
	case "lowercase":
		return callLowercase(args)
	case "split":
		return callSplit(args)
	case "includes":
		return callIncludes(args)
	case "now":
		return value.Date(w.now()), nil
	case "env":
		return callEnv(ctx, args)
	default:
		return value.Null(), fmt.Errorf("expr: unknown function %q", node.Func)
	}
}

func callLength(args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return value.Null(), fmt.Errorf("length() takes 1 argument")
	}
	switch args[0].Kind {
	case value.KindList:
		return value.Int(int64(len(args[0].List))), nil
	case value.KindString:
		return value.Int(int64(len(args[0].Str))), nil
	case value.KindObject:
		return value.Int(int64(len(args[0].Object))), nil
	default:
		return value.Int(0), nil
	}
}

func callSum(args []value.Value) (value.Value, error) {
	if len(args) != 1 || args[0].Kind != value.KindList {
		return value.Null(), fmt.Errorf("sum() takes a list argument")
	}
	var total float64
	allInt := true
	for _, v := range args[0].List {
		if v.Kind != value.KindInt {
			allInt = false
		}
		total += asFloat(v)
	}
	if allInt {
		return value.Int(int64(total)), nil
	}
	return value.Float(total), nil
}

func callFirst(args []value.Value) (value.Value, error) {
	if len(args) != 1 || args[0].Kind != value.KindList {
		return value.Null(), fmt.Errorf("first() takes a list argument")
	}
	if len(args[0].List) == 0 {
		return value.Null(), nil
	}
	return args[0].List[0], nil
}

func callLast(args []value.Value) (value.Value, error) {
	if len(args) != 1 || args[0].Kind != value.KindList {
		return value.Null(), fmt.Errorf("last() takes a list argument")
	}
	if len(args[0].List) == 0 {
		return value.Null(), nil
	}
	return args[0].List[len(args[0].List)-1], nil
}

func callMathFn(args []value.Value, fn func(float64) float64) (value.Value, error) {
	if len(args) != 1 {
		return value.Null(), fmt.Errorf("function takes 1 numeric argument")
	}
	return value.Float(fn(asFloat(args[0]))), nil
}

func callConcat(args []value.Value) (value.Value, error) {
	var b strings.Builder
	for _, a := range args {
		b.WriteString(renderInline(a))
	}
	return value.String(b.String()), nil
}

func callLowercase(args []value.Value) (value.Value, error) {
	if len(args) != 1 || args[0].Kind != value.KindString {
		return value.Null(), fmt.Errorf("lowercase() takes a string argument")
	}
	return value.String(strings.ToLower(args[0].Str)), nil
}

func callSplit(args []value.Value) (value.Value, error) {
	if len(args) != 2 || args[0].Kind != value.KindString || args[1].Kind != value.KindString {
		return value.Null(), fmt.Errorf("split() takes (string, separator)")
	}
	parts := strings.Split(args[0].Str, args[1].Str)
	out := make([]value.Value, len(parts))
	for i, p := range parts {
		out[i] = value.String(p)
	}
	return value.List(out), nil
}

func callIncludes(args []value.Value) (value.Value, error) {
	if len(args) != 2 {
		return value.Null(), fmt.Errorf("includes() takes (collection, item)")
	}
	switch args[0].Kind {
	case value.KindList:
		for _, v := range args[0].List {
			if value.Equal(v, args[1]) {
				return value.Bool(true), nil
			}
		}
		return value.Bool(false), nil
	case value.KindString:
		if args[1].Kind != value.KindString {
			return value.Bool(false), nil
		}
		return value.Bool(strings.Contains(args[0].Str, args[1].Str)), nil
	default:
		return value.Bool(false), nil
	}
}

func callEnv(ctx EvalContext, args []value.Value) (value.Value, error) {
	if len(args) != 1 || args[0].Kind != value.KindString {
		return value.Null(), fmt.Errorf("env() takes a string argument")
	}
	v, ok := ctx.Env(args[0].Str)
	if !ok {
		return value.Null(), nil
	}
	return value.String(v), nil
}

// sortedFieldNames returns an object's field names in sorted order. No code
// in the module calls it.
func sortedFieldNames(m map[string]value.Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
