package astmodel

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mcclowes/reqon/pkg/rerrors"
)

// JSONLoader reads a Program directly from a JSON file shaped like the
// struct tree in this package. It exists so the executor and its tests can
// build programs from fixtures without a real DSL front end; a production
// parser is expected to implement Loader over the actual mission syntax.
type JSONLoader struct{}

// Load implements Loader.
func (JSONLoader) Load(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &rerrors.ConfigError{Reason: fmt.Sprintf("reading mission file %q", path), Cause: err}
	}

	var program Program
	if err := json.Unmarshal(data, &program); err != nil {
		return nil, &rerrors.ConfigError{Reason: fmt.Sprintf("parsing mission file %q", path), Cause: err}
	}

	if err := Validate(&program); err != nil {
		return nil, err
	}
	return &program, nil
}

// Validate checks the guarantees every Loader implementation must uphold:
// unique action names, resolved store/source/schema/transform references,
// and a pipeline that names only declared actions. It is exported so a
// real parser can reuse it rather than re-implement the same checks.
func Validate(p *Program) error {
	if p.Name == "" {
		return &rerrors.ConfigError{Reason: "mission has no name"}
	}
	if len(p.Actions) == 0 {
		return &rerrors.ConfigError{Reason: "mission declares no actions"}
	}
	if p.Pipeline == nil || len(p.Pipeline.Stages) == 0 {
		return &rerrors.ConfigError{Reason: "mission declares no pipeline stages"}
	}

	for name, action := range p.Actions {
		if action.Name != "" && action.Name != name {
			return &rerrors.ConfigError{Reason: fmt.Sprintf("action key %q does not match its declared name %q", name, action.Name)}
		}
		if err := validateSteps(p, action.Steps); err != nil {
			return &rerrors.ConfigError{Reason: fmt.Sprintf("action %q: %v", name, err)}
		}
	}

	for _, stage := range p.Pipeline.Stages {
		for _, actionName := range stage.Actions {
			if _, ok := p.Actions[actionName]; !ok {
				return &rerrors.ConfigError{Reason: fmt.Sprintf("pipeline references undeclared action %q", actionName)}
			}
		}
	}

	return nil
}

func validateSteps(p *Program, steps []Step) error {
	for i := range steps {
		s := &steps[i]
		switch s.Kind {
		case StepFetch:
			if s.Fetch.Source != "" {
				if _, ok := p.Sources[s.Fetch.Source]; !ok {
					return fmt.Errorf("step %q references undeclared source %q", s.ID, s.Fetch.Source)
				}
			}
		case StepFor:
			if err := validateSteps(p, s.For.Body); err != nil {
				return err
			}
		case StepApply:
			if _, ok := p.Transforms[s.Apply.Transform]; !ok {
				return fmt.Errorf("step %q references undeclared transform %q", s.ID, s.Apply.Transform)
			}
		case StepStore:
			if _, ok := p.Stores[s.Store.Store]; !ok {
				return fmt.Errorf("step %q references undeclared store %q", s.ID, s.Store.Store)
			}
		case StepMatch:
			for _, arm := range s.Match.Arms {
				if arm.Schema != "" && arm.Schema != "_" {
					if _, ok := p.Schemas[arm.Schema]; !ok {
						return fmt.Errorf("step %q references undeclared schema %q", s.ID, arm.Schema)
					}
				}
				if err := validateSteps(p, arm.Body); err != nil {
					return err
				}
				if arm.Directive != nil && arm.Directive.Kind == FlowJump {
					if _, ok := p.Actions[arm.Directive.Target]; !ok {
						return fmt.Errorf("step %q jumps to undeclared action %q", s.ID, arm.Directive.Target)
					}
				}
			}
		case StepWait:
			if s.Wait.StreamToStore != "" {
				if _, ok := p.Stores[s.Wait.StreamToStore]; !ok {
					return fmt.Errorf("step %q streams to undeclared store %q", s.ID, s.Wait.StreamToStore)
				}
			}
		}
	}
	return nil
}
