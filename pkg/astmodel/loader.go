package astmodel

// Loader is the external parser/lexer boundary the executor is built
// against. An implementation must guarantee: every action name is unique
// within the mission; every store, source, schema and transform reference
// resolves; the pipeline references only declared actions. The executor
// never re-validates these guarantees itself.
type Loader interface {
	Load(path string) (*Program, error)
}
