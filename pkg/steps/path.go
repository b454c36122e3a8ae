package steps

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/mcclowes/reqon/pkg/value"
)

var pathVarRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_.]*)\}`)

// interpolatePath expands {var} and {var.field} templates in a fetch path
// against the current context's variables, falling back to the response
// register.
func interpolatePath(path string, sc *Context) string {
	return pathVarRe.ReplaceAllStringFunc(path, func(m string) string {
		name := m[1 : len(m)-1]
		return renderScalar(resolvePathVar(sc, name))
	})
}

func resolvePathVar(sc *Context, name string) value.Value {
	segs := strings.SplitN(name, ".", 2)
	if v, ok := sc.Variable(segs[0]); ok {
		if len(segs) == 1 {
			return v
		}
		if fv, ok := v.Field(segs[1]); ok {
			return fv
		}
		return value.Null()
	}
	if v, ok := sc.Response().Field(name); ok {
		return v
	}
	return value.Null()
}

// renderScalar stringifies a scalar value for use in a path segment or
// query parameter; non-scalars render empty.
func renderScalar(v value.Value) string {
	switch v.Kind {
	case value.KindString:
		return v.Str
	case value.KindInt:
		return strconv.FormatInt(v.Int, 10)
	case value.KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case value.KindBool:
		return strconv.FormatBool(v.Bool)
	default:
		return ""
	}
}
