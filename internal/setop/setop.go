// Package setop implements the set-operator execution node: the join
// engine that combines two child range-vector streams by label-subset
// matching, implementing AND (intersection), OR (union) and UNLESS
// (subtraction). Compose fetches both sides' child plans concurrently and
// reassembles their results in submission order before applying the
// node's operator.
package setop

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidJoin is returned by New when both On and Ignoring are
// non-empty, or when On contains the reserved label "__name__".
var ErrInvalidJoin = errors.New("setop: on and ignoring are mutually exclusive, and on must not contain __name__")

// ErrInsufficientResponses is returned by Compose when fewer than
// len(lhs)+len(rhs) child responses were observed.
var ErrInsufficientResponses = errors.New("setop: insufficient child responses")

// ErrBadQuery signals user-visible misuse during query execution.
var ErrBadQuery = errors.New("setop: bad query")

// ChildQueryError wraps an error returned by a child plan, propagated
// unchanged to the caller of Compose.
type ChildQueryError struct {
	Err error
}

func (e *ChildQueryError) Error() string { return fmt.Sprintf("setop: child query error: %v", e.Err) }
func (e *ChildQueryError) Unwrap() error { return e.Err }

// Operator selects the set operation a Node performs.
type Operator int

const (
	AND Operator = iota
	OR
	UNLESS
)

func (op Operator) String() string {
	switch op {
	case AND:
		return "AND"
	case OR:
		return "OR"
	case UNLESS:
		return "UNLESS"
	default:
		return "UNKNOWN"
	}
}

const reservedNameLabel = "__name__"

// RangeVector is a time series result keyed by a label map, carrying an
// opaque payload of the caller's choosing (samples, points, whatever the
// query layer's value type is).
type RangeVector[T any] struct {
	Labels map[string]string
	Data   T
}

// Config configures a Node. On and Ignoring are mutually exclusive label
// lists; at most one may be non-empty.
type Config struct {
	Operator Operator
	On       []string
	Ignoring []string
}

// Node is a constructed, validated set-operator node for one (operator,
// label-selection) pair. It is reusable across many Compose calls.
type Node[T any] struct {
	op       Operator
	on       map[string]struct{}
	ignoring map[string]struct{}
}

// New validates cfg and constructs a Node. See Plan.Validate for the
// validation rules applied.
func New[T any](cfg Config) (*Node[T], error) {
	p := Plan{Operator: cfg.Operator, On: cfg.On, Ignoring: cfg.Ignoring}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	on := make(map[string]struct{}, len(cfg.On))
	for _, l := range cfg.On {
		on[l] = struct{}{}
	}
	ignoring := make(map[string]struct{}, len(cfg.Ignoring))
	for _, l := range cfg.Ignoring {
		ignoring[l] = struct{}{}
	}
	return &Node[T]{op: cfg.Operator, on: on, ignoring: ignoring}, nil
}

// joinKey derives the canonical join key for a range vector's label map,
// per the node's on/ignoring selection mode. The result is a deterministic
// string so it can key a Go map regardless of label iteration order.
func (n *Node[T]) joinKey(labels map[string]string) string {
	var keep []string
	if len(n.on) > 0 {
		for k := range labels {
			if _, ok := n.on[k]; ok {
				keep = append(keep, k)
			}
		}
	} else {
		for k := range labels {
			if k == reservedNameLabel {
				continue
			}
			if _, excluded := n.ignoring[k]; excluded {
				continue
			}
			keep = append(keep, k)
		}
	}
	sort.Strings(keep)

	var b strings.Builder
	for i, k := range keep {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	return b.String()
}

// Apply runs the node's operator over already-fetched lhs/rhs range
// vectors. Compose is the concurrent-fetch wrapper around this; Apply is
// exported directly so the join semantics can be tested without a child
// plan protocol in the loop.
func (n *Node[T]) Apply(lhs, rhs []RangeVector[T]) []RangeVector[T] {
	switch n.op {
	case AND:
		return n.applyAnd(lhs, rhs)
	case OR:
		return n.applyOr(lhs, rhs)
	case UNLESS:
		return n.applyUnless(lhs, rhs)
	default:
		return nil
	}
}

func (n *Node[T]) applyAnd(lhs, rhs []RangeVector[T]) []RangeVector[T] {
	rhsKeys := make(map[string]struct{})
	for _, rv := range rhs {
		k := n.joinKey(rv.Labels)
		if k == "" {
			// Edge rule: an empty join_key is excluded from the rhs key
			// set so it can never itself cause a match.
			continue
		}
		rhsKeys[k] = struct{}{}
	}
	if len(rhsKeys) == 0 {
		// Non-standard pass-through rule: an empty (post-filter) rhs key
		// set accepts all of lhs, unlike standard set intersection.
		out := make([]RangeVector[T], len(lhs))
		copy(out, lhs)
		return out
	}
	var out []RangeVector[T]
	for _, rv := range lhs {
		if _, ok := rhsKeys[n.joinKey(rv.Labels)]; ok {
			out = append(out, rv)
		}
	}
	return out
}

func (n *Node[T]) applyOr(lhs, rhs []RangeVector[T]) []RangeVector[T] {
	lhsKeys := make(map[string]struct{}, len(lhs))
	out := make([]RangeVector[T], 0, len(lhs)+len(rhs))
	for _, rv := range lhs {
		lhsKeys[n.joinKey(rv.Labels)] = struct{}{}
		out = append(out, rv)
	}
	for _, rv := range rhs {
		if _, ok := lhsKeys[n.joinKey(rv.Labels)]; !ok {
			out = append(out, rv)
		}
	}
	return out
}

func (n *Node[T]) applyUnless(lhs, rhs []RangeVector[T]) []RangeVector[T] {
	rhsKeys := make(map[string]struct{}, len(rhs))
	for _, rv := range rhs {
		rhsKeys[n.joinKey(rv.Labels)] = struct{}{}
	}
	var out []RangeVector[T]
	for _, rv := range lhs {
		if _, ok := rhsKeys[n.joinKey(rv.Labels)]; !ok {
			out = append(out, rv)
		}
	}
	return out
}
