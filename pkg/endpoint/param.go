package endpoint

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"iexcloud/pkg/core"
)

// ParamType is the value type a parameter is coerced to.
type ParamType int

const (
	TypeString ParamType = iota
	TypeInt
	TypeBool
	TypeDate
	TypeEnum
	TypeSymbol
	TypeSymbolList
)

func (t ParamType) String() string {
	return [...]string{"string", "int", "bool", "date", "enum", "symbol", "symbol list"}[t]
}

// Location says where a parameter is rendered.
type Location int

const (
	InQuery Location = iota
	InPath
	// InBody sends the parameter in a JSON request body.
	InBody
)

// DefaultDateLayout is the wire format of date parameters.
const DefaultDateLayout = "20060102"

// ParamSpec declares one parameter of an endpoint.
type ParamSpec struct {
	Name     string
	Type     ParamType
	In       Location
	Required bool
	Default  any
	// Allowed restricts enum values. Matching is case-insensitive; the
	// declared spelling is kept.
	Allowed []string
	// Rule is a validator tag applied after coercion, e.g. "min=1,max=50".
	Rule string
	// Wire is the query name when it differs from Name.
	Wire string
	// Layout is the date format; DefaultDateLayout when empty.
	Layout string
}

func (p ParamSpec) wireName() string {
	if p.Wire != "" {
		return p.Wire
	}
	return p.Name
}

func (p ParamSpec) layout() string {
	if p.Layout != "" {
		return p.Layout
	}
	return DefaultDateLayout
}

var validate = validator.New()

var inputDateLayouts = []string{"20060102", "2006-01-02", "2006/01/02", time.RFC3339}

// coerce converts v to the canonical Go value for the parameter type.
func (p ParamSpec) coerce(v any) (any, string) {
	switch p.Type {
	case TypeString:
		s, ok := asString(v)
		if !ok {
			return nil, "must be a string"
		}
		return s, ""
	case TypeInt:
		return coerceInt(v)
	case TypeBool:
		switch x := v.(type) {
		case bool:
			return x, ""
		case string:
			b, err := strconv.ParseBool(x)
			if err != nil {
				return nil, "must be a boolean"
			}
			return b, ""
		}
		return nil, "must be a boolean"
	case TypeDate:
		return p.coerceDate(v)
	case TypeEnum:
		s, ok := asString(v)
		if !ok {
			return nil, "must be a string"
		}
		for _, a := range p.Allowed {
			if strings.EqualFold(a, strings.TrimSpace(s)) {
				return a, ""
			}
		}
		return nil, "must be one of " + strings.Join(p.Allowed, ", ")
	case TypeSymbol:
		s, ok := asString(v)
		if !ok {
			return nil, "must be a string"
		}
		return coerceSymbol(s)
	case TypeSymbolList:
		var items []string
		switch x := v.(type) {
		case []string:
			items = x
		case string:
			items = strings.Split(x, ",")
		default:
			return nil, "must be a list of symbols"
		}
		if len(items) == 0 {
			return nil, "must contain at least one symbol"
		}
		out := make([]string, 0, len(items))
		for _, item := range items {
			sym, msg := coerceSymbol(item)
			if msg != "" {
				return nil, msg
			}
			out = append(out, sym.(string))
		}
		return out, ""
	}
	return nil, "unsupported parameter type"
}

func (p ParamSpec) coerceDate(v any) (any, string) {
	layout := p.layout()
	switch x := v.(type) {
	case time.Time:
		if x.IsZero() {
			return nil, "must be a calendar date"
		}
		return x.Format(layout), ""
	case string:
		s := strings.TrimSpace(x)
		for _, l := range append([]string{layout}, inputDateLayouts...) {
			if ts, err := time.Parse(l, s); err == nil {
				return ts.Format(layout), ""
			}
		}
	}
	return nil, "must be a calendar date"
}

func coerceInt(v any) (any, string) {
	switch x := v.(type) {
	case int:
		return x, ""
	case int32:
		return int(x), ""
	case int64:
		return int(x), ""
	case uint:
		return int(x), ""
	case float64:
		if x != math.Trunc(x) {
			return nil, "must be an integer"
		}
		return int(x), ""
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return nil, "must be an integer"
		}
		return n, ""
	}
	return nil, "must be an integer"
}

func coerceSymbol(s string) (any, string) {
	sym := strings.ToUpper(strings.TrimSpace(s))
	if sym == "" {
		return nil, "symbol must be non-empty"
	}
	if strings.ContainsAny(sym, " ,/?#&") {
		return nil, fmt.Sprintf("symbol %q contains an invalid character", s)
	}
	return sym, ""
}

func asString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case fmt.Stringer:
		return x.String(), true
	}
	return "", false
}

// check runs the Allowed list and Rule against a coerced value.
func (p ParamSpec) check(v any) string {
	if p.Type != TypeEnum && len(p.Allowed) > 0 {
		if s, ok := v.(string); ok && !slices.Contains(p.Allowed, s) {
			return "must be one of " + strings.Join(p.Allowed, ", ")
		}
	}
	if p.Rule == "" {
		return ""
	}
	if err := validate.Var(v, p.Rule); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			if fe.Param() != "" {
				return fmt.Sprintf("failed %s=%s", fe.Tag(), fe.Param())
			}
			return "failed " + fe.Tag()
		}
		return err.Error()
	}
	return ""
}

// validateValue coerces and checks one value, returning a validation error.
func (p ParamSpec) validateValue(endpoint string, v any) (any, error) {
	out, msg := p.coerce(v)
	if msg == "" {
		msg = p.check(out)
	}
	if msg != "" {
		return nil, core.NewValidationError(endpoint, p.Name, msg)
	}
	return out, nil
}
