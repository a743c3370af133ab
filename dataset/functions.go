// Package dataset samples synthetic bivariate surfaces for the playground
// and standardises them for training.
package dataset

import (
	"math"
	"sort"
	"strings"
)

// Function is a deterministic surface z = f(x, y).
type Function func(x, y float64) float64

// DefaultFunction is used for unknown names.
const DefaultFunction = "saddle"

var functions = map[string]Function{
	"saddle": func(x, y float64) float64 { return x*x - y*y },
	"rosenbrock": func(x, y float64) float64 {
		return (1-x)*(1-x) + 100*(y-x*x)*(y-x*x)
	},
	"sine":   func(x, y float64) float64 { return math.Sin(x) * math.Cos(y) },
	"circle": func(x, y float64) float64 { return x*x + y*y },
}

// Lookup returns the named function and its canonical name, falling back to
// the saddle.
func Lookup(name string) (Function, string) {
	key := strings.ToLower(strings.TrimSpace(name))
	if fn, ok := functions[key]; ok {
		return fn, key
	}
	return functions[DefaultFunction], DefaultFunction
}

// Names lists the available functions in sorted order.
func Names() []string {
	names := make([]string, 0, len(functions))
	for name := range functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
