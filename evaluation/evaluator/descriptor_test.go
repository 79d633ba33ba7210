package evaluator

import (
	"context"
	"testing"
)

func noop(context.Context, Args) error { return nil }

func TestNewRejectsDuplicateAction(t *testing.T) {
	_, err := New("dup", OnEval("check", noop), OnEval("check", noop))
	if err == nil {
		t.Fatal("expected duplicate action error")
	}
	if !isErr(err, ErrDuplicateAction) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewAllowsSameActionAcrossKinds(t *testing.T) {
	d, err := New("mixed", OnEval("file", noop), OnReset("file", noop))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := d.Handler(KindReset, "file"); !ok {
		t.Fatal("missing reset handler")
	}
	if _, ok := d.Handler(KindEval, "file"); !ok {
		t.Fatal("missing eval handler")
	}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name     string
		evalName string
		handlers []Handler
	}{
		{name: "blank name", evalName: " ", handlers: nil},
		{name: "nil function", evalName: "x", handlers: []Handler{{Kind: KindEval, Action: "a"}}},
		{name: "unknown kind", evalName: "x", handlers: []Handler{{Kind: "cleanup", Action: "a", Fn: noop}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.evalName, tt.handlers...); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestActionsAreSorted(t *testing.T) {
	d, err := New("s", OnEval("zeta", noop), OnEval("alpha", noop), OnReset("mid", noop))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got := d.Actions(KindEval)
	if len(got) != 2 || got[0] != "alpha" || got[1] != "zeta" {
		t.Fatalf("unexpected actions %v", got)
	}
	if r := d.Actions(KindReset); len(r) != 1 || r[0] != "mid" {
		t.Fatalf("unexpected reset actions %v", r)
	}
}

func TestProcedureGrouping(t *testing.T) {
	proc := Procedure{
		{Evaluator: "b", Action: "x"},
		{Evaluator: "a", Action: "y"},
		{Evaluator: "b", Action: "z"},
	}
	names := proc.Evaluators()
	if len(names) != 2 || names[0] != "b" || names[1] != "a" {
		t.Fatalf("unexpected order %v", names)
	}
	sel := proc.Select("b")
	if len(sel) != 2 || sel[0].Action != "x" || sel[1].Action != "z" {
		t.Fatalf("unexpected selection %v", sel)
	}
}

func TestArgsInt(t *testing.T) {
	args := NewArgs("limit", map[string]any{"a": 3, "b": float64(4), "c": 1.5, "d": "7"})
	if v, err := args.Int("a"); err != nil || v != 3 {
		t.Fatalf("a: %v %v", v, err)
	}
	if v, err := args.Int("b"); err != nil || v != 4 {
		t.Fatalf("b: %v %v", v, err)
	}
	if _, err := args.Int("c"); !isErr(err, ErrInvalidParam) {
		t.Fatalf("c: %v", err)
	}
	if _, err := args.Int("d"); !isErr(err, ErrInvalidParam) {
		t.Fatalf("d: %v", err)
	}
	if _, err := args.Int("e"); !isErr(err, ErrMissingParam) {
		t.Fatalf("e: %v", err)
	}
}
