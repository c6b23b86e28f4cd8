package askdb

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Knetic/govaluate"
)

var (
	placeholderPattern = regexp.MustCompile(`\$\{([^}]+)\}`)
	identifierPattern  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// resolveArguments substitutes ${name} references in string arguments with
// the query's variables, recursing into arrays and objects. A placeholder
// that is not a plain identifier is evaluated as an expression with the
// variables bound as parameters.
func resolveArguments(args map[string]interface{}, vars map[string]string) (map[string]interface{}, error) {
	if len(args) == 0 {
		return args, nil
	}
	resolved := make(map[string]interface{}, len(args))
	for name, val := range args {
		v, err := resolveValue(val, vars)
		if err != nil {
			return nil, fmt.Errorf("argument '%s': %w", name, err)
		}
		resolved[name] = v
	}
	return resolved, nil
}

func resolveValue(val interface{}, vars map[string]string) (interface{}, error) {
	switch v := val.(type) {
	case string:
		return resolveString(v, vars)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			r, err := resolveValue(item, vars)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			r, err := resolveValue(item, vars)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	default:
		return val, nil
	}
}

func resolveString(s string, vars map[string]string) (interface{}, error) {
	if !strings.Contains(s, "${") {
		return s, nil
	}
	// A string that is exactly one placeholder may resolve to a non-string
	// value (an expression result); embedded placeholders stringify.
	if m := placeholderPattern.FindStringSubmatch(s); m != nil && m[0] == s {
		return resolvePlaceholder(m[1], vars)
	}
	var resolveErr error
	out := placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		inner := match[2 : len(match)-1]
		v, err := resolvePlaceholder(inner, vars)
		if err != nil {
			resolveErr = err
			return match
		}
		return fmt.Sprintf("%v", v)
	})
	if resolveErr != nil {
		return nil, resolveErr
	}
	return out, nil
}

func resolvePlaceholder(expr string, vars map[string]string) (interface{}, error) {
	name := strings.TrimSpace(expr)
	if identifierPattern.MatchString(name) {
		v, ok := vars[name]
		if !ok {
			return nil, fmt.Errorf("unknown variable '%s'", name)
		}
		return v, nil
	}
	eval, err := govaluate.NewEvaluableExpression(name)
	if err != nil {
		return nil, fmt.Errorf("invalid expression '%s': %w", name, err)
	}
	params := make(map[string]interface{}, len(vars))
	for k, v := range vars {
		params[k] = v
	}
	result, err := eval.Evaluate(params)
	if err != nil {
		return nil, fmt.Errorf("expression '%s': %w", name, err)
	}
	return result, nil
}
