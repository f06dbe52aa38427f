package heap

// Scope is one table of named slots, typically one call frame.
type Scope map[string]*Value

// RootProvider supplies the roots of a collection cycle. The collector calls
// into it; it never calls back into the collector.
type RootProvider interface {
	// ActiveScopes returns one table per live frame, including the global
	// frame.
	ActiveScopes() []Scope

	// ShadowRoots returns the transient values held outside any scope.
	ShadowRoots() []*Value
}

// ShadowRoots registers values that native code holds outside any scope,
// such as an intermediate result that has not been stored yet. The zero
// value is an empty registry.
//
// Registration is scoped:
//
//	v, err := h.NewString("tmp")
//	g := h.Hold(&v)
//	defer g.Release()
type ShadowRoots struct {
	vals []*Value
}

// Guard deregisters a shadow root.
type Guard struct {
	r *ShadowRoots
	v *Value
}

// Hold registers v until the returned guard is released.
func (r *ShadowRoots) Hold(v *Value) Guard {
	r.vals = append(r.vals, v)
	return Guard{r: r, v: v}
}

// Release deregisters the value. Releasing twice is a programming error.
func (g Guard) Release() {
	vals := g.r.vals
	// Guards are almost always released in reverse order, so search from
	// the end.
	for i := len(vals) - 1; i >= 0; i-- {
		if vals[i] == g.v {
			copy(vals[i:], vals[i+1:])
			vals[len(vals)-1] = nil
			g.r.vals = vals[:len(vals)-1]
			return
		}
	}
	panic("gc: release of unregistered shadow root")
}

// Len returns the number of registered values.
func (r *ShadowRoots) Len() int { return len(r.vals) }

// ActiveScopes implements RootProvider. A registry has no scopes.
func (r *ShadowRoots) ActiveScopes() []Scope { return nil }

// ShadowRoots implements RootProvider.
func (r *ShadowRoots) ShadowRoots() []*Value { return r.vals }
