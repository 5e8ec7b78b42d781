package ot

import (
	"errors"
	"fmt"
)

// ErrNotRebased is returned when a patch is based on a revision that already contains later
// patches from the same author; authors must buffer their own patches.
var ErrNotRebased = errors.New("ot: patch is not based on the current state of its author")

type patch struct {
	author string
	ops    []Op
}

// Document is a text value with its patch history. It is not safe for concurrent use.
type Document struct {
	value   string
	history []patch
}

// NewDocument returns a document at revision 0 holding s.
func NewDocument(s string) *Document {
	return &Document{value: s}
}

// Value returns the current text.
func (d *Document) Value() string { return d.value }

// Revision is the number of patches applied so far.
func (d *Document) Revision() int { return len(d.history) }

// Submit rebases ops, written by author against revision base, over every patch applied since,
// applies the result and returns it with the new revision.
func (d *Document) Submit(author string, base int, ops []Op) ([]Op, int, error) {
	if base < 0 || base > len(d.history) {
		return nil, 0, fmt.Errorf("ot: unknown base revision %d (at %d)", base, len(d.history))
	}

	for _, p := range d.history[base:] {
		if p.author == author {
			return nil, 0, ErrNotRebased
		}
		ops, _ = TransformPatch(ops, p.ops)
	}

	value, err := Apply(d.value, ops)
	if err != nil {
		return nil, 0, err
	}

	d.value = value
	d.history = append(d.history, patch{author: author, ops: ops})
	return ops, len(d.history), nil
}
