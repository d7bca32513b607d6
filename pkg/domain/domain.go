// Package domain implements the abstract-interpretation lattice (C6): a
// product of five domains — Interval, Null, Lifetime, Init, and a simple
// Points-to map — each with its own join, widen, bottom, and per-instruction
// transfer function, composed pointwise rather than through inheritance.
package domain

import (
	"math"
	"strings"

	"github.com/sappp/core/pkg/nir"
	"github.com/sappp/core/pkg/po"
)

// NegInf and PosInf stand in for unbounded interval endpoints.
const (
	NegInf = math.MinInt64
	PosInf = math.MaxInt64
)

// Interval is a closed integer range, or Bottom if the variable has not been
// observed on this path.
type Interval struct {
	Bottom   bool
	Low, High int64
}

func IntervalBottom() Interval { return Interval{Bottom: true} }
func IntervalTop() Interval    { return Interval{Low: NegInf, High: PosInf} }
func IntervalConst(n int64) Interval { return Interval{Low: n, High: n} }

func (a Interval) Join(b Interval) Interval {
	if a.Bottom {
		return b
	}
	if b.Bottom {
		return a
	}
	low, high := a.Low, a.High
	if b.Low < low {
		low = b.Low
	}
	if b.High > high {
		high = b.High
	}
	return Interval{Low: low, High: high}
}

// Widen jumps any bound that grew between iterations straight to infinity,
// guaranteeing termination regardless of the concrete step size.
func (a Interval) Widen(b Interval) Interval {
	if a.Bottom {
		return b
	}
	if b.Bottom {
		return a
	}
	low, high := a.Low, a.High
	if b.Low < a.Low {
		low = NegInf
	}
	if b.High > a.High {
		high = PosInf
	}
	return Interval{Low: low, High: high}
}

func (a Interval) ContainsZero() bool {
	return !a.Bottom && a.Low <= 0 && 0 <= a.High
}

// NullState is the pointer-nullness lattice: Bottom < {MustNull,
// MustNonNull} < MayNull < Top.
type NullState int

const (
	NullBottom NullState = iota
	NullMustNull
	NullMustNonNull
	NullMayNull
	NullTop
)

func (a NullState) Join(b NullState) NullState {
	if a == NullBottom {
		return b
	}
	if b == NullBottom {
		return a
	}
	if a == b {
		return a
	}
	if a == NullTop || b == NullTop {
		return NullTop
	}
	return NullMayNull
}

// LifetimeState tracks a named object's storage-duration phase.
type LifetimeState int

const (
	LifetimeBottom LifetimeState = iota
	LifetimeLive
	LifetimeDead
	LifetimeMoved
	LifetimeTop
)

func (a LifetimeState) Join(b LifetimeState) LifetimeState {
	if a == LifetimeBottom {
		return b
	}
	if b == LifetimeBottom {
		return a
	}
	if a == b {
		return a
	}
	return LifetimeTop
}

// InitState tracks whether a local has been definitely, maybe, or never
// assigned.
type InitState int

const (
	InitBottom InitState = iota
	InitUninit
	InitMaybeInit
	InitInit
)

func (a InitState) Join(b InitState) InitState {
	if a == InitBottom {
		return b
	}
	if b == InitBottom {
		return a
	}
	if a == b {
		return a
	}
	return InitMaybeInit
}

// Location is a simple points-to abstract location.
type Location struct {
	AllocSite string
	Field     string
}

// State is the product of all five domains, each keyed by variable name.
// A variable absent from a map is implicitly Bottom in that domain.
type State struct {
	Interval map[string]Interval
	Null     map[string]NullState
	Lifetime map[string]LifetimeState
	Init     map[string]InitState
	PointsTo map[string]map[Location]bool
}

// Bottom returns the empty state: every variable implicitly Bottom.
func Bottom() State {
	return State{
		Interval: map[string]Interval{},
		Null:     map[string]NullState{},
		Lifetime: map[string]LifetimeState{},
		Init:     map[string]InitState{},
		PointsTo: map[string]map[Location]bool{},
	}
}

func (s State) clone() State {
	out := Bottom()
	for k, v := range s.Interval {
		out.Interval[k] = v
	}
	for k, v := range s.Null {
		out.Null[k] = v
	}
	for k, v := range s.Lifetime {
		out.Lifetime[k] = v
	}
	for k, v := range s.Init {
		out.Init[k] = v
	}
	for k, v := range s.PointsTo {
		locs := make(map[Location]bool, len(v))
		for loc := range v {
			locs[loc] = true
		}
		out.PointsTo[k] = locs
	}
	return out
}

func unionKeys[V any](a, b map[string]V) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var keys []string
	for k := range a {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for k := range b {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys
}

// intervalOf reads m[k], treating an absent key as Bottom.
func intervalOf(m map[string]Interval, k string) Interval {
	if iv, ok := m[k]; ok {
		return iv
	}
	return IntervalBottom()
}

// Join computes the pointwise least upper bound across all five domains.
func Join(a, b State) State {
	out := Bottom()
	for _, k := range unionKeys(a.Interval, b.Interval) {
		out.Interval[k] = intervalOf(a.Interval, k).Join(intervalOf(b.Interval, k))
	}
	for _, k := range unionKeys(a.Null, b.Null) {
		out.Null[k] = a.Null[k].Join(b.Null[k])
	}
	for _, k := range unionKeys(a.Lifetime, b.Lifetime) {
		out.Lifetime[k] = a.Lifetime[k].Join(b.Lifetime[k])
	}
	for _, k := range unionKeys(a.Init, b.Init) {
		out.Init[k] = a.Init[k].Join(b.Init[k])
	}
	for _, k := range unionKeys(a.PointsTo, b.PointsTo) {
		merged := make(map[Location]bool)
		for loc := range a.PointsTo[k] {
			merged[loc] = true
		}
		for loc := range b.PointsTo[k] {
			merged[loc] = true
		}
		out.PointsTo[k] = merged
	}
	return out
}

// Widen applies the Interval domain's widening (the only domain in this
// product with unbounded height) and plain join elsewhere.
func Widen(old, new State) State {
	out := Join(old, new)
	for _, k := range unionKeys(old.Interval, new.Interval) {
		out.Interval[k] = intervalOf(old.Interval, k).Widen(intervalOf(new.Interval, k))
	}
	return out
}

// Equal reports whether two states agree on every variable across all five
// domains, used by the analyzer's fixpoint loop to detect convergence.
func Equal(a, b State) bool {
	for _, k := range unionKeys(a.Interval, b.Interval) {
		if intervalOf(a.Interval, k) != intervalOf(b.Interval, k) {
			return false
		}
	}
	for _, k := range unionKeys(a.Null, b.Null) {
		if a.Null[k] != b.Null[k] {
			return false
		}
	}
	for _, k := range unionKeys(a.Lifetime, b.Lifetime) {
		if a.Lifetime[k] != b.Lifetime[k] {
			return false
		}
	}
	for _, k := range unionKeys(a.Init, b.Init) {
		if a.Init[k] != b.Init[k] {
			return false
		}
	}
	for _, k := range unionKeys(a.PointsTo, b.PointsTo) {
		aLocs, bLocs := a.PointsTo[k], b.PointsTo[k]
		if len(aLocs) != len(bLocs) {
			return false
		}
		for loc := range aLocs {
			if !bLocs[loc] {
				return false
			}
		}
	}
	return true
}

// symbolOf strips a leading "kind:" operand-role prefix (as used by
// pkg/po's enumerator) to recover the bare variable name.
func symbolOf(arg string) string {
	if idx := strings.IndexByte(arg, ':'); idx >= 0 {
		return arg[idx+1:]
	}
	return arg
}

// Transfer applies inst's effect to state, returning a new state. Transfer
// functions are pure and deterministic: same (state, inst) always yields the
// same result.
func Transfer(state State, inst nir.Instruction) State {
	out := state.clone()

	switch inst.Op {
	case nir.OpAlloc, nir.OpLifetimeBegin:
		if len(inst.Args) > 0 {
			out.Lifetime[symbolOf(inst.Args[0])] = LifetimeLive
		}
	case nir.OpLifetimeEnd, nir.OpFree, nir.OpDtor:
		if len(inst.Args) > 0 {
			out.Lifetime[symbolOf(inst.Args[0])] = LifetimeDead
		}
	case nir.OpMove:
		if len(inst.Args) >= 2 {
			out.Lifetime[symbolOf(inst.Args[1])] = LifetimeMoved
		}
	case nir.OpStore:
		if len(inst.Args) > 0 {
			out.Init[symbolOf(inst.Args[0])] = InitInit
		}
	case nir.OpAssign:
		if len(inst.Args) >= 2 {
			dst, src := symbolOf(inst.Args[0]), symbolOf(inst.Args[1])
			out.Interval[dst] = intervalOf(out.Interval, src)
			out.Null[dst] = out.Null[src]
			if locs, ok := out.PointsTo[src]; ok {
				copied := make(map[Location]bool, len(locs))
				for l := range locs {
					copied[l] = true
				}
				out.PointsTo[dst] = copied
			}
		}
	}

	return out
}

// Classification is the per-PO outcome a domain evaluation yields; the
// analyzer combines this with the sound-downgrade rule to pick the final
// SAFE/BUG/UNKNOWN category (§4.7b).
type Classification int

const (
	ClassUnknown Classification = iota
	ClassSafe
	ClassBug
)

// Evaluate decides whether the abstract state at a PO's anchor proves,
// refutes, or leaves open the obligation named by kind, for the primary
// variable the obligation is about.
func Evaluate(state State, kind po.Kind, symbol string) Classification {
	switch kind {
	case po.KindUseAfterLifetime:
		switch state.Lifetime[symbol] {
		case LifetimeDead, LifetimeMoved:
			return ClassBug
		case LifetimeLive:
			return ClassSafe
		default:
			return ClassUnknown
		}

	case po.KindDoubleFree, po.KindInvalidFree:
		if state.Lifetime[symbol] == LifetimeDead {
			return ClassBug
		}
		if state.Lifetime[symbol] == LifetimeLive {
			return ClassSafe
		}
		return ClassUnknown

	case po.KindUninitRead:
		switch state.Init[symbol] {
		case InitUninit:
			return ClassBug
		case InitInit:
			return ClassSafe
		default:
			return ClassUnknown
		}

	case po.KindNullDeref:
		switch state.Null[symbol] {
		case NullMustNull:
			return ClassBug
		case NullMustNonNull:
			return ClassSafe
		default:
			return ClassUnknown
		}

	case po.KindDivZero:
		iv := intervalOf(state.Interval, symbol)
		if iv.Bottom {
			return ClassUnknown
		}
		if iv.Low == 0 && iv.High == 0 {
			return ClassBug
		}
		if !iv.ContainsZero() {
			return ClassSafe
		}
		return ClassUnknown

	default:
		return ClassUnknown
	}
}
