package tools

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/pam/pkg/models"
)

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ValidationResult is the outcome of checking parameters against a contract.
type ValidationResult struct {
	Valid  bool
	Errors []models.ValidationError
}

// Validator checks tool parameters against a Definition's contract.
type Validator struct {
	logger *slog.Logger
}

// NewValidator creates a validator. A nil logger uses slog.Default().
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{logger: logger}
}

// Validate checks params against def using the default logger.
func Validate(def Definition, params map[string]any) ValidationResult {
	return NewValidator(nil).Validate(def, params)
}

// Validate collects every contract violation in params. Parameters the
// contract does not declare are ignored so newer callers never fail
// validation against an older catalog.
func (v *Validator) Validate(def Definition, params map[string]any) ValidationResult {
	var errs []models.ValidationError

	for _, name := range def.RequiredParameters() {
		if value, ok := params[name]; !ok || value == nil {
			errs = append(errs, models.ValidationError{
				Parameter: name,
				Expected:  string(def.Parameters[name].Type),
				Received:  "undefined",
				Message:   "Missing required parameter: " + name,
			})
		}
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := params[name]
		spec, declared := def.Parameters[name]
		if !declared {
			v.logger.Debug("ignoring undeclared tool parameter",
				"tool", def.Name,
				"parameter", name)
			continue
		}
		if value == nil {
			// Missing-required was already reported; optional nil means "not set".
			continue
		}
		errs = append(errs, checkParameter(name, spec, value)...)
	}

	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Parameter < errs[j].Parameter })
	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

func checkParameter(name string, spec ParameterSpec, value any) []models.ValidationError {
	received := jsonTypeOf(value)
	if !matchesType(spec.Type, value) {
		return []models.ValidationError{{
			Parameter: name,
			Expected:  string(spec.Type),
			Received:  received,
			Message:   fmt.Sprintf("Parameter %s must be of type %s, got %s", name, spec.Type, received),
		}}
	}

	var errs []models.ValidationError
	switch spec.Type {
	case TypeString:
		s := value.(string)
		if len(spec.Enum) > 0 && !contains(spec.Enum, s) {
			allowed := strings.Join(spec.Enum, ", ")
			errs = append(errs, models.ValidationError{
				Parameter: name,
				Expected:  "one of: " + allowed,
				Received:  s,
				Message:   fmt.Sprintf("Parameter %s must be one of: %s", name, allowed),
			})
		}
		if spec.Format == FormatDate && !IsDate(s) {
			errs = append(errs, models.ValidationError{
				Parameter: name,
				Expected:  "date (YYYY-MM-DD)",
				Received:  s,
				Message:   fmt.Sprintf("Parameter %s must be a valid date in YYYY-MM-DD format", name),
			})
		}
	case TypeNumber, TypeInteger:
		n, _ := toFloat(value)
		if spec.Minimum != nil && n < *spec.Minimum {
			errs = append(errs, models.ValidationError{
				Parameter: name,
				Expected:  ">= " + formatBound(*spec.Minimum),
				Received:  formatBound(n),
				Message:   fmt.Sprintf("Parameter %s must be at least %s", name, formatBound(*spec.Minimum)),
			})
		}
		if spec.Maximum != nil && n > *spec.Maximum {
			errs = append(errs, models.ValidationError{
				Parameter: name,
				Expected:  "<= " + formatBound(*spec.Maximum),
				Received:  formatBound(n),
				Message:   fmt.Sprintf("Parameter %s must be at most %s", name, formatBound(*spec.Maximum)),
			})
		}
	}
	return errs
}

// IsDate reports whether s is a calendar-valid YYYY-MM-DD date.
func IsDate(s string) bool {
	if !datePattern.MatchString(s) {
		return false
	}
	_, err := time.Parse(time.DateOnly, s)
	return err == nil
}

func matchesType(t ParamType, value any) bool {
	switch t {
	case TypeString:
		_, ok := value.(string)
		return ok
	case TypeBoolean:
		_, ok := value.(bool)
		return ok
	case TypeNumber:
		n, ok := toFloat(value)
		return ok && !math.IsNaN(n) && !math.IsInf(n, 0)
	case TypeInteger:
		n, ok := toFloat(value)
		return ok && !math.IsInf(n, 0) && n == math.Trunc(n)
	case TypeArray:
		k := reflect.TypeOf(value).Kind()
		return k == reflect.Slice || k == reflect.Array
	case TypeObject:
		return reflect.TypeOf(value).Kind() == reflect.Map
	default:
		return false
	}
}

// toFloat converts any Go or JSON numeric representation to float64.
func toFloat(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Number returns value as a float64 when it holds any numeric representation.
func Number(value any) (float64, bool) {
	return toFloat(value)
}

func jsonTypeOf(value any) string {
	if value == nil {
		return "null"
	}
	switch value.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	}
	if _, ok := toFloat(value); ok {
		return "number"
	}
	switch reflect.TypeOf(value).Kind() {
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	}
	return fmt.Sprintf("%T", value)
}

func formatBound(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
