package errors

import (
	stderrs "errors"
	"fmt"
	"testing"
)

func TestKindString(t *testing.T) {
	cases := []struct {
		kind Kind
		want string
	}{
		{KindBlockedByPolicy, "blocked_by_policy"},
		{KindDimensionMismatch, "dimension_mismatch"},
		{KindNoTrainedModel, "no_trained_model"},
		{KindUnstableReservoir, "unstable_reservoir"},
		{KindEmptyTrainingSet, "empty_training_set"},
		{KindInsufficientFolds, "insufficient_folds"},
		{Kind(999), "kind(999)"},
	}
	for _, c := range cases {
		if got := c.kind.String(); got != c.want {
			t.Fatalf("Kind(%d).String() = %q, want %q", c.kind, got, c.want)
		}
	}
}

func TestErrorRendering(t *testing.T) {
	var nilErr *Error
	if nilErr.Error() != "<nil>" {
		t.Fatalf("nil render = %q", nilErr.Error())
	}

	e := Newf(KindInvalidArgument, "priority %d out of range", 11)
	if e.Error() != "priority 11 out of range" {
		t.Fatalf("Newf render = %q", e.Error())
	}

	withOp := WithOp(e, "query.New")
	if withOp.Error() != "query.New: priority 11 out of range" {
		t.Fatalf("WithOp render = %q", withOp.Error())
	}
	// copy-on-write: original untouched
	if e.(*Error).Op() != "" {
		t.Fatal("WithOp mutated the original")
	}

	wrapped := Wrap(stderrs.New("disk full"), KindStorage, "save turns")
	if wrapped.Error() != "save turns: disk full" {
		t.Fatalf("Wrap render = %q", wrapped.Error())
	}
	if stderrs.Unwrap(wrapped).Error() != "disk full" {
		t.Fatal("Wrap lost the cause")
	}
}

func TestKindOfThroughFmtWrap(t *testing.T) {
	inner := DimensionMismatch("features", 384, 10)
	outer := fmt.Errorf("route: %w", inner)

	if !IsKind(outer, KindDimensionMismatch) {
		t.Fatalf("IsKind failed through fmt wrap, kind=%s", KindOf(outer))
	}
	e, ok := As(outer)
	if !ok {
		t.Fatal("As failed")
	}
	if e.Expected != 384 || e.Got != 10 {
		t.Fatalf("expected/got = %d/%d", e.Expected, e.Got)
	}
	if IsKind(nil, KindUnknown) {
		t.Fatal("nil error must not match any kind")
	}
	if KindOf(stderrs.New("plain")) != KindUnknown {
		t.Fatal("foreign error should map to unknown")
	}
}

func TestBlockedCarriesRule(t *testing.T) {
	err := Blocked("PRIVACY_002", "Block queries with potential passwords")
	if RuleOf(err) != "PRIVACY_002" {
		t.Fatalf("RuleOf = %q", RuleOf(err))
	}
	if !IsKind(err, KindBlockedByPolicy) {
		t.Fatal("expected blocked kind")
	}
	if RuleOf(stderrs.New("x")) != "" {
		t.Fatal("foreign error should carry no rule")
	}
}
