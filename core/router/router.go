// Package router compiles URL patterns into ordered fragment sequences and
// matches incoming request paths against them in registration order: the
// first pattern that matches wins. It deliberately does not build a trie or
// any other shared prefix structure — patterns are tried linearly, in the
// order they were registered, exactly as written.
package router

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/searchktools/reactor-server/core/optimize"
)

// Kind classifies a compiled Fragment.
type Kind uint8

const (
	Fixed Kind = iota
	Parameter
	Splat
)

// Fragment is one compiled segment of a route pattern.
type Fragment struct {
	Kind     Kind
	Value    string // literal text for Fixed, parameter name for Parameter
	Optional bool   // only ever true for Kind == Parameter, and only on the last fragment
}

func (f Fragment) match(raw string) bool {
	switch f.Kind {
	case Fixed:
		return optimize.ComparePathSIMD(raw, f.Value)
	case Parameter, Splat:
		return true
	default:
		return false
	}
}

// String renders the fragment back to pattern syntax; compiling its output
// reproduces an equivalent fragment.
func (f Fragment) String() string {
	switch f.Kind {
	case Fixed:
		return f.Value
	case Splat:
		return "*"
	case Parameter:
		if f.Optional {
			return ":" + f.Value + "?"
		}
		return ":" + f.Value
	default:
		return ""
	}
}

// compileFragment parses one '/'-delimited segment per the grammar in
// §6: literal | ':' ident ('?')? | '*'. Construction-time invariant
// violations are fatal: a malformed pattern is a programmer error caught
// at route-registration time, not a runtime condition to recover from.
func compileFragment(segment string) Fragment {
	if segment == "" {
		panic("router: empty fragment in pattern")
	}

	if segment == "*" {
		return Fragment{Kind: Splat}
	}
	if strings.HasPrefix(segment, "*") {
		panic(fmt.Sprintf("router: invalid splat fragment %q", segment))
	}

	if strings.HasPrefix(segment, ":") {
		name := segment[1:]
		optional := false
		if strings.HasSuffix(name, "?") {
			optional = true
			name = name[:len(name)-1]
		}
		if name == "" {
			panic(fmt.Sprintf("router: parameter fragment with empty name %q", segment))
		}
		if idx := strings.IndexByte(name, '?'); idx != -1 {
			panic(fmt.Sprintf("router: '?' must be the final character of fragment %q", segment))
		}
		return Fragment{Kind: Parameter, Value: name, Optional: optional}
	}

	if strings.Contains(segment, "?") {
		panic(fmt.Sprintf("router: '?' is only valid on a parameter fragment, got %q", segment))
	}
	return Fragment{Kind: Fixed, Value: segment}
}

// splitPath splits a request or pattern path on '/', discarding empty
// segments (so both "/a/b" and "a/b/" and "//a//b" compile identically).
func splitPath(path string) []string {
	raw := strings.Split(path, "/")
	out := raw[:0:0]
	for _, s := range raw {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// compilePattern builds a Fragment sequence from a pattern string,
// enforcing the construction-time invariants from the data model: Optional
// may only appear on the final fragment of the pattern.
func compilePattern(pattern string) []Fragment {
	segments := splitPath(pattern)
	fragments := make([]Fragment, 0, len(segments))
	for i, seg := range segments {
		frag := compileFragment(seg)
		if frag.Optional && i != len(segments)-1 {
			panic(fmt.Sprintf("router: optional fragment %q must be the last segment of pattern %q", seg, pattern))
		}
		fragments = append(fragments, frag)
	}
	return fragments
}

// TypedParam is a captured (name, raw value) pair with on-demand scalar
// conversion. Parse failure is reported as ErrBadParam rather than a
// generic error, so handlers can distinguish it from other failure modes.
type TypedParam struct {
	Name string
	Raw  string
}

// ErrBadParam reports a failed scalar conversion of a captured parameter.
type ErrBadParam struct {
	Name string
	Raw  string
	Err  error
}

func (e *ErrBadParam) Error() string {
	return fmt.Sprintf("router: parameter %q value %q: %v", e.Name, e.Raw, e.Err)
}

func (e *ErrBadParam) Unwrap() error { return e.Err }

// String returns the captured value verbatim.
func (p TypedParam) String() string { return p.Raw }

// Int parses the captured value as a base-10 integer.
func (p TypedParam) Int() (int, error) {
	n, err := strconv.Atoi(p.Raw)
	if err != nil {
		return 0, &ErrBadParam{Name: p.Name, Raw: p.Raw, Err: err}
	}
	return n, nil
}

// Float64 parses the captured value as a floating point number.
func (p TypedParam) Float64() (float64, error) {
	f, err := strconv.ParseFloat(p.Raw, 64)
	if err != nil {
		return 0, &ErrBadParam{Name: p.Name, Raw: p.Raw, Err: err}
	}
	return f, nil
}

// Bool parses the captured value as a boolean.
func (p TypedParam) Bool() (bool, error) {
	b, err := strconv.ParseBool(p.Raw)
	if err != nil {
		return false, &ErrBadParam{Name: p.Name, Raw: p.Raw, Err: err}
	}
	return b, nil
}

// Match is the outcome of a successful Route.Match: captured parameters in
// pattern order and captured splats in pattern order.
type Match struct {
	Params []TypedParam
	Splats []TypedParam
}

// Route is one compiled pattern bound to a method and a handler. H is the
// handler type the router dispatches to (typically an HTTP handler
// function); Route itself has no opinion on what a handler does.
type Route[H any] struct {
	Method   string
	Pattern  string
	fragments []Fragment
	Handler  H
}

// NewRoute compiles pattern and binds it to handler. Panics on a malformed
// pattern, per the fatal construction-time invariant in the data model.
func NewRoute[H any](method, pattern string, handler H) Route[H] {
	return Route[H]{
		Method:    method,
		Pattern:   pattern,
		fragments: compilePattern(pattern),
		Handler:   handler,
	}
}

// Fragments returns the compiled fragment sequence, mostly for tests and
// for String() round-tripping.
func (r Route[H]) Fragments() []Fragment { return r.fragments }

// String renders the route back to pattern syntax.
func (r Route[H]) String() string {
	parts := make([]string, len(r.fragments))
	for i, f := range r.fragments {
		parts[i] = f.String()
	}
	return "/" + strings.Join(parts, "/")
}

// Match tests path against the compiled pattern per §4.7's five-step
// algorithm: too many request fragments never matches; a missing trailing
// fragment matches only if it is Optional; every present fragment must
// match by kind.
func (r Route[H]) Match(path string) (Match, bool) {
	reqFragments := splitPath(path)
	if len(reqFragments) > len(r.fragments) {
		return Match{}, false
	}

	var m Match
	for i, frag := range r.fragments {
		if i >= len(reqFragments) {
			if frag.Kind == Parameter && frag.Optional {
				continue
			}
			return Match{}, false
		}

		raw := reqFragments[i]
		if !frag.match(raw) {
			return Match{}, false
		}

		switch frag.Kind {
		case Parameter:
			m.Params = append(m.Params, TypedParam{Name: frag.Value, Raw: raw})
		case Splat:
			m.Splats = append(m.Splats, TypedParam{Name: raw, Raw: raw})
		}
	}

	return m, true
}

// Router holds an ordered route list per method; within a method, routes
// are tried in registration order and the first match wins.
type Router[H any] struct {
	routes map[string][]Route[H]
}

// New constructs an empty Router.
func New[H any]() *Router[H] {
	return &Router[H]{routes: make(map[string][]Route[H])}
}

// Add registers a new route, compiling pattern immediately.
func (rt *Router[H]) Add(method, pattern string, handler H) {
	rt.routes[method] = append(rt.routes[method], NewRoute(method, pattern, handler))
}

// Dispatch tries every route registered for method in order, returning the
// first match's handler and captures. ok is false if nothing matched,
// mirroring the router's 404 contract — callers respond accordingly.
func (rt *Router[H]) Dispatch(method, path string) (handler H, match Match, ok bool) {
	for _, route := range rt.routes[method] {
		if m, matched := route.Match(path); matched {
			return route.Handler, m, true
		}
	}
	return handler, Match{}, false
}
