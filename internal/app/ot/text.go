/*
Package ot implements operational transformation for plain text fields.

The collaboration core never merges text itself; a caller that keeps a string property in a
component payload can use this package to rebase concurrent insert/delete patches. Positions
count runes, not bytes.
*/
package ot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrOutOfBounds is returned when an op does not fit the text it is applied to.
var ErrOutOfBounds = errors.New("ot: op out of bounds")

// Op is a single text operation.
type Op interface {
	Encode() string
	Apply(s string) (string, error)
}

// Insert puts Value before rune Pos.
type Insert struct {
	Pos   int
	Value string
}

func (op *Insert) Encode() string {
	return fmt.Sprintf("i,%d,%s", op.Pos, op.Value)
}

func (op *Insert) Apply(s string) (string, error) {
	r := []rune(s)
	if op.Pos < 0 || op.Pos > len(r) {
		return "", fmt.Errorf("%w: insert at %d into %d runes", ErrOutOfBounds, op.Pos, len(r))
	}
	return string(r[:op.Pos]) + op.Value + string(r[op.Pos:]), nil
}

func (op *Insert) size() int { return len([]rune(op.Value)) }

// Delete removes Len runes starting at Pos.
type Delete struct {
	Pos int
	Len int
}

func (op *Delete) Encode() string {
	return fmt.Sprintf("d,%d,%d", op.Pos, op.Len)
}

func (op *Delete) Apply(s string) (string, error) {
	r := []rune(s)
	if op.Pos < 0 || op.Len < 0 || op.Pos+op.Len > len(r) {
		return "", fmt.Errorf("%w: delete %d at %d from %d runes", ErrOutOfBounds, op.Len, op.Pos, len(r))
	}
	return string(r[:op.Pos]) + string(r[op.Pos+op.Len:]), nil
}

// DecodeOp parses "i,<pos>,<value>" or "d,<pos>,<len>".
func DecodeOp(s string) (Op, error) {
	parts := strings.SplitN(s, ",", 3)
	if len(parts) < 3 {
		return nil, fmt.Errorf("ot: malformed op %q", s)
	}
	pos, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("ot: bad position in %q: %w", s, err)
	}

	switch parts[0] {
	case "i":
		return &Insert{Pos: pos, Value: parts[2]}, nil
	case "d":
		n, err := strconv.Atoi(parts[2])
		if err != nil {
			return nil, fmt.Errorf("ot: bad length in %q: %w", s, err)
		}
		return &Delete{Pos: pos, Len: n}, nil
	default:
		return nil, fmt.Errorf("ot: unknown op type %q", parts[0])
	}
}

// EncodeOps encodes a patch for transport inside a component payload.
func EncodeOps(ops []Op) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.Encode()
	}
	return out
}

// DecodeOps is the inverse of EncodeOps.
func DecodeOps(strs []string) ([]Op, error) {
	ops := make([]Op, len(strs))
	for i, s := range strs {
		op, err := DecodeOp(s)
		if err != nil {
			return nil, err
		}
		ops[i] = op
	}
	return ops, nil
}

// Apply runs every op of a patch in order.
func Apply(s string, ops []Op) (string, error) {
	for _, op := range ops {
		var err error
		if s, err = op.Apply(s); err != nil {
			return "", err
		}
	}
	return s, nil
}

// transformInsertDelete is the diamond for an insert against a delete.
func transformInsertDelete(a *Insert, b *Delete) (Op, Op) {
	switch {
	case a.Pos <= b.Pos:
		return a, &Delete{Pos: b.Pos + a.size(), Len: b.Len}
	case a.Pos >= b.Pos+b.Len:
		return &Insert{Pos: a.Pos - b.Len, Value: a.Value}, b
	default:
		// the insert lands inside the deleted range and is swallowed by it.
		return &Insert{Pos: b.Pos}, &Delete{Pos: b.Pos, Len: b.Len + a.size()}
	}
}

// Transform maps concurrent ops (a, b) to (a', b') so that applying a then b' equals applying b
// then a'. On equal insert positions b goes first.
func Transform(a, b Op) (Op, Op) {
	switch ai := a.(type) {
	case *Insert:
		switch bi := b.(type) {
		case *Insert:
			if bi.Pos <= ai.Pos {
				return &Insert{Pos: ai.Pos + bi.size(), Value: ai.Value}, b
			}
			return a, &Insert{Pos: bi.Pos + ai.size(), Value: bi.Value}
		case *Delete:
			return transformInsertDelete(ai, bi)
		}

	case *Delete:
		switch bi := b.(type) {
		case *Insert:
			ins, del := transformInsertDelete(bi, ai)
			return del, ins
		case *Delete:
			aEnd, bEnd := ai.Pos+ai.Len, bi.Pos+bi.Len
			if aEnd <= bi.Pos {
				return a, &Delete{Pos: bi.Pos - ai.Len, Len: bi.Len}
			}
			if bEnd <= ai.Pos {
				return &Delete{Pos: ai.Pos - bi.Len, Len: ai.Len}, b
			}
			pos := min(ai.Pos, bi.Pos)
			overlap := min(aEnd, bEnd) - max(ai.Pos, bi.Pos)
			return &Delete{Pos: pos, Len: ai.Len - overlap}, &Delete{Pos: pos, Len: bi.Len - overlap}
		}
	}
	return a, b
}

// TransformPatch transforms two concurrent patches against each other.
func TransformPatch(a, b []Op) ([]Op, []Op) {
	ap := make([]Op, len(a))
	copy(ap, a)
	bp := make([]Op, len(b))

	for i, bOp := range b {
		for j, aOp := range ap {
			ap[j], bOp = Transform(aOp, bOp)
		}
		bp[i] = bOp
	}
	return ap, bp
}
