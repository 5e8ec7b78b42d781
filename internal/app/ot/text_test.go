package ot_test

import (
	"errors"
	"reflect"
	"testing"

	"collabsync/internal/app/ot"
)

func ok(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func eq(t *testing.T, got, want any) {
	t.Helper()
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func apply(t *testing.T, s string, ops ...ot.Op) string {
	t.Helper()
	out, err := ot.Apply(s, ops)
	ok(t, err)
	return out
}

func TestEncodeDecode(t *testing.T) {
	for _, s := range []string{"i,0,foo", "i,3,a,b", "d,2,4"} {
		op, err := ot.DecodeOp(s)
		ok(t, err)
		eq(t, op.Encode(), s)
	}

	for _, bad := range []string{"i,0", "x,1,2", "d,a,1", "d,1,b"} {
		if _, err := ot.DecodeOp(bad); err == nil {
			t.Fatalf("DecodeOp(%q) should fail", bad)
		}
	}

	ops, err := ot.DecodeOps([]string{"i,0,ab", "d,1,1"})
	ok(t, err)
	eq(t, ot.EncodeOps(ops), []string{"i,0,ab", "d,1,1"})
}

func TestApplyCountsRunes(t *testing.T) {
	eq(t, apply(t, "héllo", &ot.Insert{Pos: 2, Value: "X"}), "héXllo")
	eq(t, apply(t, "héllo", &ot.Delete{Pos: 1, Len: 1}), "hllo")

	_, err := (&ot.Delete{Pos: 3, Len: 5}).Apply("abc")
	if !errors.Is(err, ot.ErrOutOfBounds) {
		t.Fatalf("err = %v", err)
	}
	_, err = (&ot.Insert{Pos: 4}).Apply("abc")
	if !errors.Is(err, ot.ErrOutOfBounds) {
		t.Fatalf("err = %v", err)
	}
}

func TestTransformConverges(t *testing.T) {
	cases := []struct {
		name string
		text string
		a, b ot.Op
	}{
		{"insert same position", "abc", &ot.Insert{Pos: 1, Value: "X"}, &ot.Insert{Pos: 1, Value: "Y"}},
		{"insert before insert", "abc", &ot.Insert{Pos: 0, Value: "X"}, &ot.Insert{Pos: 2, Value: "Y"}},
		{"insert before delete", "abcdef", &ot.Insert{Pos: 1, Value: "X"}, &ot.Delete{Pos: 2, Len: 2}},
		{"insert after delete", "abcdef", &ot.Insert{Pos: 5, Value: "X"}, &ot.Delete{Pos: 1, Len: 2}},
		{"insert inside delete", "abcdef", &ot.Insert{Pos: 3, Value: "XY"}, &ot.Delete{Pos: 1, Len: 4}},
		{"delete vs insert", "abcdef", &ot.Delete{Pos: 1, Len: 4}, &ot.Insert{Pos: 3, Value: "XY"}},
		{"disjoint deletes", "abcdef", &ot.Delete{Pos: 0, Len: 2}, &ot.Delete{Pos: 3, Len: 2}},
		{"overlapping deletes", "abcdef", &ot.Delete{Pos: 1, Len: 3}, &ot.Delete{Pos: 2, Len: 3}},
		{"same delete", "abcdef", &ot.Delete{Pos: 1, Len: 2}, &ot.Delete{Pos: 1, Len: 2}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ap, bp := ot.Transform(tc.a, tc.b)
			left := apply(t, tc.text, tc.a, bp)
			right := apply(t, tc.text, tc.b, ap)
			eq(t, left, right)
		})
	}
}

func TestInsertTiePutsSecondFirst(t *testing.T) {
	a := &ot.Insert{Pos: 1, Value: "X"}
	b := &ot.Insert{Pos: 1, Value: "Y"}
	_, bp := ot.Transform(a, b)
	eq(t, apply(t, "abc", a, bp), "aYXbc")
}

func TestTransformPatchConverges(t *testing.T) {
	a := []ot.Op{&ot.Insert{Pos: 0, Value: "x"}, &ot.Insert{Pos: 1, Value: "y"}}
	b := []ot.Op{&ot.Delete{Pos: 0, Len: 1}}

	ap, bp := ot.TransformPatch(a, b)
	left := apply(t, apply(t, "abc", a...), bp...)
	right := apply(t, apply(t, "abc", b...), ap...)
	eq(t, left, "xybc")
	eq(t, right, "xybc")
}

func TestDocumentRebasesConcurrentPatches(t *testing.T) {
	doc := ot.NewDocument("abc")

	_, rev, err := doc.Submit("alice", 0, []ot.Op{&ot.Insert{Pos: 3, Value: "d"}})
	ok(t, err)
	eq(t, rev, 1)

	rebased, rev, err := doc.Submit("bob", 0, []ot.Op{&ot.Delete{Pos: 1, Len: 2}})
	ok(t, err)
	eq(t, rev, 2)
	eq(t, ot.EncodeOps(rebased), []string{"d,1,2"})
	eq(t, doc.Value(), "ad")

	if _, _, err := doc.Submit("alice", 0, []ot.Op{&ot.Insert{Pos: 0, Value: "z"}}); !errors.Is(err, ot.ErrNotRebased) {
		t.Fatalf("err = %v", err)
	}
	if _, _, err := doc.Submit("carol", 9, nil); err == nil {
		t.Fatal("unknown base revision should fail")
	}
	eq(t, doc.Revision(), 2)
}
