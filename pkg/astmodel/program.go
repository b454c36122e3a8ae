// Package astmodel defines the pre-parsed program the mission executor
// consumes. Lexing and parsing of the DSL are external collaborators; this
// package only defines the node shapes and the external contract (Loader)
// the executor depends on.
package astmodel

import "github.com/mcclowes/reqon/pkg/expr"

// Program is the root AST node for a mission.
type Program struct {
	Name       string
	Sources    map[string]*Source
	Stores     map[string]*StoreDef
	Schemas    map[string]*Schema
	Transforms map[string]*Transform
	Actions    map[string]*Action
	Pipeline   *Pipeline
}

// AuthKind enumerates supported auth providers.
type AuthKind string

const (
	AuthNone   AuthKind = "none"
	AuthBearer AuthKind = "bearer"
	AuthAPIKey AuthKind = "api_key"
	AuthBasic  AuthKind = "basic"
	AuthOAuth2 AuthKind = "oauth2"
)

// RateLimitStrategy enumerates the rate limiter behavior on depletion.
type RateLimitStrategy string

const (
	RateLimitPause    RateLimitStrategy = "pause"
	RateLimitThrottle RateLimitStrategy = "throttle"
	RateLimitFail     RateLimitStrategy = "fail"
)

// Source describes a remote HTTP service plus its auth, rate-limit and
// circuit-breaker policy.
type Source struct {
	Name    string
	BaseURL string
	// OpenAPISpec, when set, is resolved externally to populate BaseURL;
	// the executor only reads the already-resolved BaseURL.
	OpenAPISpec string
	Auth        AuthConfig
	RateLimit   RateLimitConfig
	Circuit     CircuitConfig
}

// AuthConfig names which credential entry (by source name, by default) and
// kind a source uses.
type AuthConfig struct {
	Kind AuthKind
}

// RateLimitConfig configures the per-source rate limiter.
type RateLimitConfig struct {
	Strategy    RateLimitStrategy
	MaxWaitMS   int64 // default 300_000
	FallbackRPM int   // default 60; throttle only delays an entry that headers marked depleted, so this rate is never applied
}

// CircuitConfig configures the per-source circuit breaker.
type CircuitConfig struct {
	FailureWindowMS    int64 // default 60_000
	FailureThreshold   int   // default 5; failures within the window that open the circuit
	ResetTimeoutMS     int64 // default 30_000
	SuccessThreshold   int   // default 2
	FailureStatusMin   int   // default 500
	FailureStatusMax   int   // default 599
	CountNetworkErrors bool  // default true
}

// BackendTag enumerates store backends.
type BackendTag string

const (
	BackendMemory    BackendTag = "memory"
	BackendFile      BackendTag = "file"
	BackendSQL       BackendTag = "sql"
	BackendNoSQL     BackendTag = "nosql"
	BackendPostgREST BackendTag = "postgrest"
)

// StoreDef is a Store declaration in the AST.
type StoreDef struct {
	Name       string
	Backend    BackendTag
	Collection string
}

// FieldType enumerates the scalar/compound types a schema field may declare.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldInt     FieldType = "int"
	FieldDecimal FieldType = "decimal"
	FieldBoolean FieldType = "boolean"
	FieldNull    FieldType = "null"
	FieldArray   FieldType = "array"
	FieldObject  FieldType = "object"
	FieldDate    FieldType = "date"
)

// SchemaField describes one required or optional field of a Schema.
type SchemaField struct {
	Path     string
	Type     FieldType
	Required bool
	// Fields holds nested field definitions when Type is object.
	Fields []SchemaField
}

// Schema is a structural predicate used to dispatch match arms and
// transform variants. The wildcard name "_" matches anything.
type Schema struct {
	Name   string
	Fields []SchemaField
}

// TransformVariant is one tagged, optionally guarded mapping within a
// Transform definition.
type TransformVariant struct {
	SourceSchema string // "_" wildcard allowed
	Guard        expr.Node
	Mappings     map[string]expr.Node
}

// Transform is a reusable named mapping, potentially overloaded by input
// schema.
type Transform struct {
	Name     string
	Variants []TransformVariant
}

// Action is a named sequence of steps sharing a response register.
type Action struct {
	Name  string
	Steps []Step
}

// Pipeline is an ordered list of stages.
type Pipeline struct {
	Stages []Stage
}

// Stage is a single action or a bracketed list of actions to run
// concurrently, plus an optional guard expression.
type Stage struct {
	Actions []string
	Guard   expr.Node
}
