package steps

import (
	"fmt"

	"github.com/mcclowes/reqon/pkg/astmodel"
	"github.com/mcclowes/reqon/pkg/rerrors"
	"github.com/mcclowes/reqon/pkg/value"
)

// Matches reports whether v structurally satisfies the named schema: every
// required field present with a compatible type, extra fields allowed,
// nested object fields checked recursively. The wildcard name "_" matches
// anything without a lookup.
func Matches(schemas map[string]*astmodel.Schema, name string, v value.Value) (bool, error) {
	if name == "_" {
		return true, nil
	}
	schema, ok := schemas[name]
	if !ok {
		return false, &rerrors.ConfigError{Reason: fmt.Sprintf("unknown schema %q", name)}
	}
	return matchesFields(schema.Fields, v), nil
}

func matchesFields(fields []astmodel.SchemaField, v value.Value) bool {
	for _, f := range fields {
		fv, ok := v.Field(f.Path)
		if !ok {
			if f.Required {
				return false
			}
			continue
		}
		if !matchesType(f.Type, fv) {
			return false
		}
		if f.Type == astmodel.FieldObject && len(f.Fields) > 0 && !matchesFields(f.Fields, fv) {
			return false
		}
	}
	return true
}

func matchesType(t astmodel.FieldType, v value.Value) bool {
	switch t {
	case astmodel.FieldString:
		return v.Kind == value.KindString
	case astmodel.FieldNumber, astmodel.FieldDecimal:
		return v.Kind == value.KindInt || v.Kind == value.KindFloat
	case astmodel.FieldInt:
		return v.Kind == value.KindInt
	case astmodel.FieldBoolean:
		return v.Kind == value.KindBool
	case astmodel.FieldNull:
		return v.Kind == value.KindNull
	case astmodel.FieldArray:
		return v.Kind == value.KindList
	case astmodel.FieldObject:
		return v.Kind == value.KindObject
	case astmodel.FieldDate:
		return v.Kind == value.KindDate
	default:
		return true
	}
}
