// Package endpoint declares service capabilities as data.
//
// A Descriptor names the path template, parameters, response shape and
// empty-result policy of one endpoint. One generic executor consumes every
// descriptor; capability-specific behavior lives in the catalog, not in code.
//
// Example usage:
//
//	desc := endpoint.MustGet(endpoint.Quote)
//	params, err := desc.Validate(core.Params{"symbol": "aapl"})
//	path, query, err := desc.Render(params)
package endpoint

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"iexcloud/pkg/core"
	"iexcloud/pkg/normalize"
)

// EmptyPolicy decides what a 404 or an empty payload means for an endpoint.
type EmptyPolicy int

const (
	// EmptyNotFound surfaces a NotFound error.
	EmptyNotFound EmptyPolicy = iota
	// EmptyResult returns a result with no records.
	EmptyResult
)

func (p EmptyPolicy) String() string {
	if p == EmptyResult {
		return "empty_result"
	}
	return "not_found"
}

// Descriptor is the immutable declaration of one capability.
type Descriptor struct {
	ID          string
	Description string
	Method      string
	// Path is a template such as "stock/{symbol}/chart/{range}". An optional
	// path parameter that is absent drops its whole segment.
	Path   string
	Params []ParamSpec
	// Fixed query values sent on every call.
	Fixed  map[string]string
	Result normalize.Spec
	Empty  EmptyPolicy

	// SymbolParam is the parameter carrying the symbol(s) of a call.
	SymbolParam string
	// MaxBatch is the most symbols one call may carry; 0 means one.
	MaxBatch int
	// Splittable allows the batch coordinator to split oversized symbol lists.
	Splittable bool

	// Weight is the rate-limit cost of one call, multiplied per symbol for batches.
	Weight int
	// Bucket names a separately limited request budget; empty is the global one.
	Bucket string
	// CacheTTL overrides the configured TTL; negative disables caching.
	CacheTTL time.Duration
	// AllowExtra passes undeclared parameters through to the query.
	AllowExtra bool
}

// Param returns the spec of a declared parameter.
func (d *Descriptor) Param(name string) (ParamSpec, bool) {
	for _, p := range d.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}

// MultiSymbol reports whether one call can carry several symbols.
func (d *Descriptor) MultiSymbol() bool {
	if d.SymbolParam == "" {
		return false
	}
	p, ok := d.Param(d.SymbolParam)
	return ok && p.Type == TypeSymbolList
}

// Ceiling returns the number of symbols one call may carry.
func (d *Descriptor) Ceiling() int {
	if !d.MultiSymbol() {
		return 1
	}
	if d.MaxBatch <= 0 {
		return 1
	}
	return d.MaxBatch
}

// Validate checks params against the declared specs and returns a new,
// canonical parameter set: required presence, type coercion, allowed values,
// rules, defaults. Symbols are upper-cased and dates rendered in their wire
// layout, so validating the output again is a no-op.
func (d *Descriptor) Validate(params core.Params) (core.Params, error) {
	out := make(core.Params, len(d.Params))

	for _, p := range d.Params {
		v, ok := params[p.Name]
		if !ok || v == nil || v == "" {
			if p.Default == nil {
				if p.Required {
					return nil, core.NewValidationError(d.ID, p.Name, "is required").WithCode(core.ErrCodeMissingParam)
				}
				continue
			}
			v = p.Default
		}
		val, err := p.validateValue(d.ID, v)
		if err != nil {
			return nil, err
		}
		out[p.Name] = val
	}

	for name, v := range params {
		if _, declared := d.Param(name); declared {
			continue
		}
		if !d.AllowExtra {
			return nil, core.NewValidationError(d.ID, name, "is not a parameter of this endpoint").WithCode(core.ErrCodeUnknownParam)
		}
		if v != nil {
			out[name] = core.FormatValue(v)
		}
	}

	return out, nil
}

// Symbols returns the symbols carried by validated params.
func (d *Descriptor) Symbols(params core.Params) []string {
	if d.SymbolParam == "" {
		return nil
	}
	return params.Strings(d.SymbolParam)
}

// Render produces the escaped path and the query values of a validated call.
func (d *Descriptor) Render(params core.Params) (string, map[string]string, error) {
	segments := strings.Split(strings.Trim(d.Path, "/"), "/")
	rendered := make([]string, 0, len(segments))
	inPath := make(map[string]bool)

	for _, seg := range segments {
		if !strings.HasPrefix(seg, "{") || !strings.HasSuffix(seg, "}") {
			rendered = append(rendered, seg)
			continue
		}
		name := seg[1 : len(seg)-1]
		inPath[name] = true
		v, ok := params[name]
		if !ok || v == nil || core.FormatValue(v) == "" {
			if p, declared := d.Param(name); declared && !p.Required {
				continue
			}
			return "", nil, core.NewValidationError(d.ID, name, "is required in path").WithCode(core.ErrCodeMissingParam)
		}
		rendered = append(rendered, url.PathEscape(core.FormatValue(v)))
	}

	query := make(map[string]string, len(params)+len(d.Fixed))
	for k, v := range d.Fixed {
		query[k] = v
	}
	for name, v := range params {
		if inPath[name] || v == nil {
			continue
		}
		p, declared := d.Param(name)
		if declared && p.In != InQuery {
			continue
		}
		key := name
		if declared {
			key = p.wireName()
		}
		query[key] = core.FormatValue(v)
	}

	return strings.Join(rendered, "/"), query, nil
}

// Body returns the JSON body of a validated call, or nil when the endpoint
// declares no body parameters or none were given.
func (d *Descriptor) Body(params core.Params) map[string]any {
	var body map[string]any
	for _, p := range d.Params {
		if p.In != InBody {
			continue
		}
		v, ok := params[p.Name]
		if !ok || v == nil {
			continue
		}
		if body == nil {
			body = make(map[string]any)
		}
		body[p.wireName()] = v
	}
	return body
}

// WithSymbols returns a copy of params carrying symbols in the symbol parameter.
func (d *Descriptor) WithSymbols(params core.Params, symbols []string) core.Params {
	out := params.Clone()
	if d.SymbolParam == "" {
		return out
	}
	if d.MultiSymbol() {
		out[d.SymbolParam] = append([]string(nil), symbols...)
	} else if len(symbols) > 0 {
		out[d.SymbolParam] = symbols[0]
	}
	return out
}

func (d *Descriptor) String() string {
	return fmt.Sprintf("%s %s %s", d.ID, d.Method, d.Path)
}
