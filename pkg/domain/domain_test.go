package domain

import (
	"testing"

	"github.com/sappp/core/pkg/nir"
	"github.com/sappp/core/pkg/po"
)

func TestIntervalJoinIsBoundedButWidenGoesUnboundedOnGrowth(t *testing.T) {
	a := IntervalConst(0)
	b := Interval{Low: 0, High: 10}
	joined := a.Join(b)
	if joined.Low != 0 || joined.High != 10 {
		t.Fatalf("join: got %+v", joined)
	}

	widened := a.Widen(b)
	if widened.High != PosInf {
		t.Fatalf("expected widen to push growing bound to +inf, got %+v", widened)
	}
}

func TestNullStateJoinOfDistinctCertaintiesIsMayNull(t *testing.T) {
	if got := NullMustNull.Join(NullMustNonNull); got != NullMayNull {
		t.Fatalf("got %v, want MayNull", got)
	}
	if got := NullBottom.Join(NullMustNonNull); got != NullMustNonNull {
		t.Fatalf("joining with bottom should return the other operand, got %v", got)
	}
}

func TestLifetimeTransferTracksBeginEndMove(t *testing.T) {
	s := Bottom()
	s = Transfer(s, nir.Instruction{Op: nir.OpLifetimeBegin, Args: []string{"x"}})
	if s.Lifetime["x"] != LifetimeLive {
		t.Fatalf("expected Live after lifetime.begin, got %v", s.Lifetime["x"])
	}
	s = Transfer(s, nir.Instruction{Op: nir.OpLifetimeEnd, Args: []string{"x"}})
	if s.Lifetime["x"] != LifetimeDead {
		t.Fatalf("expected Dead after lifetime.end, got %v", s.Lifetime["x"])
	}
}

func TestMoveTransferMarksSourceMoved(t *testing.T) {
	s := Bottom()
	s = Transfer(s, nir.Instruction{Op: nir.OpMove, Args: []string{"dst", "src"}})
	if s.Lifetime["src"] != LifetimeMoved {
		t.Fatalf("expected src Moved, got %v", s.Lifetime["src"])
	}
}

func TestEvaluateUseAfterLifetimeBugWhenDead(t *testing.T) {
	s := Bottom()
	s.Lifetime["x"] = LifetimeDead
	if got := Evaluate(s, po.KindUseAfterLifetime, "x"); got != ClassBug {
		t.Fatalf("got %v, want ClassBug", got)
	}
}

func TestEvaluateUseAfterLifetimeUnknownWhenTop(t *testing.T) {
	s := Bottom()
	s.Lifetime["x"] = LifetimeTop
	if got := Evaluate(s, po.KindUseAfterLifetime, "x"); got != ClassUnknown {
		t.Fatalf("got %v, want ClassUnknown", got)
	}
}

func TestEvaluateDivZeroSafeWhenIntervalExcludesZero(t *testing.T) {
	s := Bottom()
	s.Interval["n"] = Interval{Low: 1, High: 10}
	if got := Evaluate(s, po.KindDivZero, "n"); got != ClassSafe {
		t.Fatalf("got %v, want ClassSafe", got)
	}
}

func TestEvaluateDivZeroBugWhenIntervalIsExactlyZero(t *testing.T) {
	s := Bottom()
	s.Interval["n"] = IntervalConst(0)
	if got := Evaluate(s, po.KindDivZero, "n"); got != ClassBug {
		t.Fatalf("got %v, want ClassBug", got)
	}
}

func TestJoinIsCommutativeOnDisjointVariables(t *testing.T) {
	a := Bottom()
	a.Null["p"] = NullMustNonNull
	b := Bottom()
	b.Init["q"] = InitInit

	joined := Join(a, b)
	if joined.Null["p"] != NullMustNonNull || joined.Init["q"] != InitInit {
		t.Fatalf("expected both variables preserved across disjoint join, got %+v", joined)
	}
}
