package collab

import (
	"errors"
	"fmt"
)

// OpKind discriminates edit operations.
type OpKind string

const (
	// OpInsert inserts Text at Pos.
	OpInsert OpKind = "insert"
	// OpDelete removes Length characters starting at Pos.
	OpDelete OpKind = "delete"
)

// Operation is a single document edit. A client builds one against the
// document version it last observed (BaseSeq); the engine transforms it
// against any operations applied since, assigns Seq, and appends it to the
// session log. Accepted operations are immutable.
type Operation struct {
	Author  string `json:"author"`
	BaseSeq int64  `json:"base_seq"`
	Kind    OpKind `json:"kind"`
	Pos     int    `json:"pos"`
	Text    string `json:"text,omitempty"`
	Length  int    `json:"length,omitempty"`
	Seq     int64  `json:"seq,omitempty"`
}

// ErrOperationRejected wraps all validation failures for a submitted
// operation. Rejections go to the sender only and are never broadcast.
var ErrOperationRejected = errors.New("operation rejected")

// validate checks the operation's shape before any transform runs.
func (op Operation) validate() error {
	switch op.Kind {
	case OpInsert:
		if op.Text == "" {
			return fmt.Errorf("%w: insert with empty text", ErrOperationRejected)
		}
	case OpDelete:
		if op.Length <= 0 {
			return fmt.Errorf("%w: delete with non-positive length", ErrOperationRejected)
		}
	default:
		return fmt.Errorf("%w: unknown operation kind %q", ErrOperationRejected, op.Kind)
	}
	if op.Pos < 0 {
		return fmt.Errorf("%w: negative position", ErrOperationRejected)
	}
	return nil
}

// transform rewrites incoming so it can be applied after applied has already
// taken effect, preserving the author's intent. It is a pure function; the
// per-session sequencer calls it once for every logged operation past the
// incoming operation's base sequence number.
//
// Position ties between two inserts break deterministically: the author with
// the lexicographically smaller participant ID keeps the left position, so
// all participants converge regardless of arrival order.
func transform(incoming, applied Operation) Operation {
	switch {
	case incoming.Kind == OpInsert && applied.Kind == OpInsert:
		if applied.Pos < incoming.Pos ||
			(applied.Pos == incoming.Pos && applied.Author < incoming.Author) {
			incoming.Pos += len(applied.Text)
		}

	case incoming.Kind == OpInsert && applied.Kind == OpDelete:
		apEnd := applied.Pos + applied.Length
		switch {
		case apEnd <= incoming.Pos:
			incoming.Pos -= applied.Length
		case applied.Pos < incoming.Pos:
			// The insert landed strictly inside a concurrently deleted
			// span. The mirror rule widens that delete over this insert,
			// so the insert collapses to a no-op for convergence.
			incoming.Pos = applied.Pos
			incoming.Text = ""
		}

	case incoming.Kind == OpDelete && applied.Kind == OpInsert:
		switch {
		case applied.Pos <= incoming.Pos:
			incoming.Pos += len(applied.Text)
		case applied.Pos < incoming.Pos+incoming.Length:
			// Insert landed inside the deleted range; widen the delete so
			// the inserted text goes with the span (mirror of the rule
			// above).
			incoming.Length += len(applied.Text)
		}

	case incoming.Kind == OpDelete && applied.Kind == OpDelete:
		inStart, inEnd := incoming.Pos, incoming.Pos+incoming.Length
		apStart, apEnd := applied.Pos, applied.Pos+applied.Length

		// Shift left by however much applied removed before our start.
		shift := 0
		if apStart < inStart {
			shift = min(apEnd, inStart) - apStart
		}

		// Trim the overlap: those characters are already gone.
		overlap := min(inEnd, apEnd) - max(inStart, apStart)
		if overlap < 0 {
			overlap = 0
		}

		incoming.Pos -= shift
		incoming.Length -= overlap
		if incoming.Length < 0 {
			incoming.Length = 0
		}
	}

	return incoming
}

// apply executes the operation against the document text, bounds-checked.
func apply(doc string, op Operation) (string, error) {
	switch op.Kind {
	case OpInsert:
		if op.Text == "" {
			// Collapsed by a concurrent delete during transform.
			return doc, nil
		}
		if op.Pos > len(doc) {
			return doc, fmt.Errorf("%w: insert position %d beyond document length %d",
				ErrOperationRejected, op.Pos, len(doc))
		}
		return doc[:op.Pos] + op.Text + doc[op.Pos:], nil

	case OpDelete:
		if op.Length == 0 {
			// Fully absorbed by a concurrent delete; a no-op is fine.
			return doc, nil
		}
		if op.Pos > len(doc) {
			return doc, fmt.Errorf("%w: delete position %d beyond document length %d",
				ErrOperationRejected, op.Pos, len(doc))
		}
		end := op.Pos + op.Length
		if end > len(doc) {
			end = len(doc)
		}
		return doc[:op.Pos] + doc[end:], nil

	default:
		return doc, fmt.Errorf("%w: unknown operation kind %q", ErrOperationRejected, op.Kind)
	}
}
