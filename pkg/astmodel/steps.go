package astmodel

import "github.com/mcclowes/reqon/pkg/expr"

// StepKind enumerates the step handlers an action may sequence.
type StepKind string

const (
	StepFetch    StepKind = "fetch"
	StepFor      StepKind = "for"
	StepMap      StepKind = "map"
	StepApply    StepKind = "apply"
	StepValidate StepKind = "validate"
	StepStore    StepKind = "store"
	StepMatch    StepKind = "match"
	StepLet      StepKind = "let"
	StepWait     StepKind = "wait"
)

// Step is the common envelope every step handler receives; exactly one of
// the typed payload fields is populated according to Kind.
type Step struct {
	ID   string
	Kind StepKind

	Fetch    *FetchStep
	For      *ForStep
	Map      *MapStep
	Apply    *ApplyStep
	Validate *ValidateStep
	Store    *StoreStep
	Match    *MatchStep
	Let      *LetStep
	Wait     *WaitStep
}

// PaginationKind enumerates the three pagination strategies.
type PaginationKind string

const (
	PaginateOffset PaginationKind = "offset"
	PaginatePage   PaginationKind = "page"
	PaginateCursor PaginationKind = "cursor"
)

// PaginationConfig configures multi-page collection for a fetch step.
type PaginationConfig struct {
	Kind          PaginationKind
	Param         string
	PageSize      int
	NextPath      string // cursor strategy only
	ArrayField    string // explicit override; "" means auto-detect
	Until         expr.Node
	MaxPages      int // default 100
}

// SinceFormat enumerates how the incremental-sync timestamp is encoded.
type SinceFormat string

const (
	SinceISO    SinceFormat = "iso"
	SinceUnix   SinceFormat = "unix"
	SinceUnixMS SinceFormat = "unix_ms"
)

// SinceConfig configures the incremental-sync query parameter.
type SinceConfig struct {
	Param  string // default "since"
	Format SinceFormat
}

// RetryPolicy configures the HTTP client's retry behavior for a fetch, and
// is also the payload of a RetrySignal raised by match.
type RetryPolicy struct {
	MaxAttempts  int
	Backoff      BackoffKind
	InitialDelay int64 // milliseconds
	MaxDelay     int64 // milliseconds
}

// BackoffKind enumerates the backoff shapes.
type BackoffKind string

const (
	BackoffExponential BackoffKind = "exponential"
	BackoffLinear      BackoffKind = "linear"
	BackoffConstant    BackoffKind = "constant"
)

// FetchStep resolves a source, composes a request, applies pagination, and
// writes the result to the response register.
type FetchStep struct {
	Source      string // "" resolves to the lone defined source
	Method      string
	Path        string // may contain {var} path templates
	Body        expr.Node
	Query       []QueryParam // ordered for reproducibility
	Headers     map[string]expr.Node
	Paginate    *PaginationConfig
	Since       *SinceConfig
	Retry       *RetryPolicy
}

// QueryParam is one ordered query parameter.
type QueryParam struct {
	Name  string
	Value expr.Node
}

// ForStep iterates a collection, binding Var in a child context per element.
type ForStep struct {
	Collection expr.Node // resolves to a store name or a context value
	Var        string
	Where      expr.Node
	Body       []Step
}

// MapStep evaluates field:expression pairs against the current value.
type MapStep struct {
	Fields map[string]expr.Node
	// FieldOrder preserves declaration order for deterministic evaluation.
	FieldOrder []string
}

// ApplyStep resolves a transform by name and applies it to the current
// value, placing the result in the response register or a named variable.
type ApplyStep struct {
	Transform string
	As        string // "" means bind to response
}

type ValidateSeverity string

const (
	SeverityError   ValidateSeverity = "error"
	SeverityWarning ValidateSeverity = "warning"
)

// Constraint is one `assume` clause of a validate step.
type Constraint struct {
	Name     string
	Expr     expr.Node
	Severity ValidateSeverity
}

// ValidateStep evaluates constraints against the current value.
type ValidateStep struct {
	Constraints []Constraint
}

// StoreStep resolves a target store, computes a key, and persists the
// current value.
type StoreStep struct {
	Store   string
	Key     expr.Node // falls back to value.id, then a generated id
	Partial bool
	Upsert  bool
}

// FlowDirectiveKind enumerates the directives a match arm can raise.
type FlowDirectiveKind string

const (
	FlowContinue FlowDirectiveKind = "continue"
	FlowSkip     FlowDirectiveKind = "skip"
	FlowAbort    FlowDirectiveKind = "abort"
	FlowRetry    FlowDirectiveKind = "retry"
	FlowJump     FlowDirectiveKind = "jump"
	FlowQueue    FlowDirectiveKind = "queue"
)

// JumpThen enumerates what happens after a jump target completes.
type JumpThen string

const (
	JumpThenRetry    JumpThen = "retry"
	JumpThenContinue JumpThen = "continue"
)

// FlowDirective is the control-flow payload of a match arm.
type FlowDirective struct {
	Kind    FlowDirectiveKind
	Message string         // abort
	Retry   *RetryPolicy   // retry
	Target  string         // jump
	Then    JumpThen        // jump
	Queue   string         // queue target store; "" means "_queue"
}

// MatchArm is one arm of a match step: a schema predicate, optional guard,
// and either a flow directive or a body of steps.
type MatchArm struct {
	Schema    string // "_" wildcard allowed
	Guard     expr.Node
	Directive *FlowDirective
	Body      []Step
}

// MatchStep dispatches to the first arm whose schema and guard match.
type MatchStep struct {
	Target expr.Node
	Arms   []MatchArm
}

// LetStep binds a variable in the current (not child) context.
type LetStep struct {
	Name string
	Expr expr.Node
}

// WaitStep registers a webhook expectation and blocks for matching events.
type WaitStep struct {
	Path           string
	TimeoutMS      int64
	ExpectedCount  int
	Filter         expr.Node
	StreamToStore  string
	StreamKey      expr.Node
	RetryOnTimeout *RetryPolicy
}
