package template

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/flosch/pongo2/v6"
)

var filtersOnce sync.Once

// registerFilters installs the filter set once per process. Names that
// collide with pongo2 built-ins are replaced so the semantics here win.
func registerFilters() {
	filtersOnce.Do(func() {
		// Output is plain text, not HTML.
		pongo2.SetAutoescape(false)

		install := func(name string, fn pongo2.FilterFunction) {
			if pongo2.FilterExists(name) {
				pongo2.ReplaceFilter(name, fn)
				return
			}
			pongo2.RegisterFilter(name, fn)
		}

		install("float", filterFloat)
		install("int", filterInt)
		install("round", filterRound)
		install("abs", filterAbs)
		install("bool", filterBool)
		install("slugify", filterSlugify)
		install("to_json", filterToJSON)
		install("from_json", filterFromJSON)
		install("average", aggregate("average", func(xs []float64) float64 {
			total := 0.0
			for _, x := range xs {
				total += x
			}
			return total / float64(len(xs))
		}))
		install("median", aggregate("median", func(xs []float64) float64 {
			sort.Float64s(xs)
			mid := len(xs) / 2
			if len(xs)%2 == 1 {
				return xs[mid]
			}
			return (xs[mid-1] + xs[mid]) / 2
		}))
		install("min", aggregate("min", func(xs []float64) float64 {
			out := xs[0]
			for _, x := range xs[1:] {
				out = math.Min(out, x)
			}
			return out
		}))
		install("max", aggregate("max", func(xs []float64) float64 {
			out := xs[0]
			for _, x := range xs[1:] {
				out = math.Max(out, x)
			}
			return out
		}))
		install("sum", aggregate("sum", func(xs []float64) float64 {
			total := 0.0
			for _, x := range xs {
				total += x
			}
			return total
		}))
	})
}

func filterError(name string, err error) *pongo2.Error {
	return &pongo2.Error{Sender: "filter:" + name, OrigError: err}
}

// asFloat coerces a template value to float64.
func asFloat(in *pongo2.Value) (float64, bool) {
	if in.IsNumber() {
		return in.Float(), true
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(in.String()), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// filterFloat coerces to float; the param is the fallback for values that
// do not parse.
func filterFloat(in, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	if f, ok := asFloat(in); ok {
		return pongo2.AsValue(f), nil
	}
	if param != nil && !param.IsNil() {
		if f, ok := asFloat(param); ok {
			return pongo2.AsValue(f), nil
		}
	}
	return nil, filterError("float", fmt.Errorf("cannot convert %q", in.String()))
}

func filterInt(in, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	if f, ok := asFloat(in); ok {
		return pongo2.AsValue(int(f)), nil
	}
	if param != nil && !param.IsNil() {
		if f, ok := asFloat(param); ok {
			return pongo2.AsValue(int(f)), nil
		}
	}
	return nil, filterError("int", fmt.Errorf("cannot convert %q", in.String()))
}

// filterRound rounds half away from zero to the given number of decimals.
func filterRound(in, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	f, ok := asFloat(in)
	if !ok {
		return nil, filterError("round", fmt.Errorf("cannot round %q", in.String()))
	}
	precision := 0
	if param != nil && param.IsNumber() {
		precision = param.Integer()
	}
	scale := math.Pow10(precision)
	rounded := math.Round(f*scale) / scale
	if precision <= 0 {
		return pongo2.AsValue(int(rounded)), nil
	}
	return pongo2.AsValue(rounded), nil
}

func filterAbs(in, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	f, ok := asFloat(in)
	if !ok {
		return nil, filterError("abs", fmt.Errorf("cannot convert %q", in.String()))
	}
	if in.IsInteger() {
		return pongo2.AsValue(int(math.Abs(f))), nil
	}
	return pongo2.AsValue(math.Abs(f)), nil
}

func filterBool(in, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	if in.IsBool() {
		return in, nil
	}
	if in.IsNumber() {
		return pongo2.AsValue(in.Float() != 0), nil
	}
	switch strings.ToLower(strings.TrimSpace(in.String())) {
	case "true", "yes", "on", "enable", "1":
		return pongo2.AsValue(true), nil
	case "false", "no", "off", "disable", "0", "":
		return pongo2.AsValue(false), nil
	}
	return nil, filterError("bool", fmt.Errorf("cannot convert %q", in.String()))
}

func filterSlugify(in, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(in.String()) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
		default:
			pendingSep = true
		}
	}
	return pongo2.AsValue(b.String()), nil
}

func filterToJSON(in, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	raw, err := json.Marshal(in.Interface())
	if err != nil {
		return nil, filterError("to_json", err)
	}
	return pongo2.AsSafeValue(string(raw)), nil
}

func filterFromJSON(in, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	var v any
	if err := json.Unmarshal([]byte(in.String()), &v); err != nil {
		return nil, filterError("from_json", err)
	}
	return pongo2.AsValue(v), nil
}

// aggregate lifts a []float64 reduction into a list filter.
func aggregate(name string, reduce func([]float64) float64) pongo2.FilterFunction {
	return func(in, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
		if !in.CanSlice() || in.Len() == 0 {
			return nil, filterError(name, fmt.Errorf("expected a non-empty list"))
		}
		xs := make([]float64, 0, in.Len())
		for i := 0; i < in.Len(); i++ {
			item := in.Index(i)
			f, ok := asFloat(item)
			if !ok {
				return nil, filterError(name, fmt.Errorf("non-numeric element %q", item.String()))
			}
			xs = append(xs, f)
		}
		return pongo2.AsValue(reduce(xs)), nil
	}
}
