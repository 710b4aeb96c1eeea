package macro

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/sackio/unibrowse-sub002/api/schemas"
)

// validateSpecs checks parameter declarations at store time. Type tags are
// free-form; tags coerce does not know are treated as any.
func validateSpecs(specs []schemas.ParamSpec) error {
	seen := make(map[string]bool, len(specs))
	for i, p := range specs {
		if strings.TrimSpace(p.Name) == "" {
			return schemas.NewValidationError("parameter %d has no name", i)
		}
		if seen[p.Name] {
			return schemas.NewValidationError("parameter %q is declared more than once", p.Name)
		}
		seen[p.Name] = true
		if p.HasDefault() && !json.Valid(p.Default) {
			return schemas.NewValidationError("parameter %q has a malformed default", p.Name)
		}
	}
	return nil
}

// resolveParams applies defaults and coerces supplied values to their
// declared types. Coercions are reported as warnings; missing required
// parameters and impossible coercions are validation errors.
func resolveParams(specs []schemas.ParamSpec, params map[string]interface{}) (map[string]interface{}, []string, error) {
	resolved := make(map[string]interface{}, len(params)+len(specs))
	for k, v := range params {
		resolved[k] = v
	}

	var (
		warnings []string
		missing  []string
	)
	declared := make(map[string]bool, len(specs))
	for _, spec := range specs {
		declared[spec.Name] = true

		value, present := params[spec.Name]
		if !present || value == nil {
			switch {
			case spec.HasDefault():
				var def interface{}
				if err := json.Unmarshal(spec.Default, &def); err != nil {
					return nil, nil, schemas.NewValidationError("parameter %q has a malformed default", spec.Name)
				}
				resolved[spec.Name] = def
			case spec.Required:
				missing = append(missing, spec.Name)
			}
			continue
		}

		coerced, changed, err := coerce(spec.Type, value)
		if err != nil {
			return nil, nil, schemas.NewValidationError("parameter %q: %v", spec.Name, err)
		}
		if changed {
			warnings = append(warnings, fmt.Sprintf("parameter %q: coerced %s to %s", spec.Name, describe(value), spec.Type))
		}
		resolved[spec.Name] = coerced
	}

	if len(missing) > 0 {
		return nil, nil, schemas.NewValidationError("missing required parameters: %s", strings.Join(missing, ", "))
	}

	var unknown []string
	for k := range params {
		if !declared[k] {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	for _, k := range unknown {
		warnings = append(warnings, fmt.Sprintf("parameter %q is not declared by the macro", k))
	}
	return resolved, warnings, nil
}

// coerce converts v to the declared type. changed reports a lossy or
// representational change worth warning about.
func coerce(t schemas.ParamType, v interface{}) (out interface{}, changed bool, err error) {
	switch t {
	case "", schemas.ParamAny:
		return v, false, nil

	case schemas.ParamString:
		switch x := v.(type) {
		case string:
			return x, false, nil
		case float64:
			return strconv.FormatFloat(x, 'f', -1, 64), true, nil
		case int:
			return strconv.Itoa(x), true, nil
		case int64:
			return strconv.FormatInt(x, 10), true, nil
		case bool:
			return strconv.FormatBool(x), true, nil
		}

	case schemas.ParamNumber:
		switch x := v.(type) {
		case float64:
			return x, false, nil
		case int:
			return float64(x), false, nil
		case int64:
			return float64(x), false, nil
		case string:
			f, perr := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if perr == nil {
				return f, true, nil
			}
		}

	case schemas.ParamInteger:
		switch x := v.(type) {
		case int:
			return int64(x), false, nil
		case int64:
			return x, false, nil
		case float64:
			if x == math.Trunc(x) && x >= -(1<<63) && x < 1<<63 {
				return int64(x), false, nil
			}
		case string:
			n, perr := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
			if perr == nil {
				return n, true, nil
			}
		}

	case schemas.ParamBoolean:
		switch x := v.(type) {
		case bool:
			return x, false, nil
		case string:
			b, perr := strconv.ParseBool(strings.TrimSpace(x))
			if perr == nil {
				return b, true, nil
			}
		case float64:
			if x == 0 || x == 1 {
				return x == 1, true, nil
			}
		}

	case schemas.ParamObject:
		switch x := v.(type) {
		case map[string]interface{}:
			return x, false, nil
		case string:
			var obj map[string]interface{}
			if json.Unmarshal([]byte(x), &obj) == nil && obj != nil {
				return obj, true, nil
			}
		}

	case schemas.ParamArray:
		switch x := v.(type) {
		case []interface{}:
			return x, false, nil
		case string:
			var arr []interface{}
			if json.Unmarshal([]byte(x), &arr) == nil && arr != nil {
				return arr, true, nil
			}
		}

	default:
		// Unknown tags such as "selector" or "url" behave like any.
		return v, false, nil
	}
	return nil, false, fmt.Errorf("cannot convert %s to %s", describe(v), t)
}

func describe(v interface{}) string {
	switch v.(type) {
	case string:
		return "string"
	case float64, int, int64:
		return "number"
	case bool:
		return "boolean"
	case map[string]interface{}:
		return "object"
	case []interface{}:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}
