package setop

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/helena/filodb/internal/logging"
)

// ChildPlan is one child execution plan contributing range vectors to one
// side (lhs or rhs) of a Node's join.
type ChildPlan[T any] interface {
	Execute(ctx context.Context) ([]RangeVector[T], error)
}

type childResult[T any] struct {
	side    string
	index   int
	vectors []RangeVector[T]
}

// Compose fetches every lhs and rhs child plan concurrently and applies
// the node's operator to the results. Responses are reassembled by each
// plan's original position before Apply runs, so the "preserves
// left-input order, then right-input order" guarantee holds regardless of
// which child happens to respond first. Completion requires exactly
// len(lhs)+len(rhs) responses; fewer (e.g. a context cancellation that
// drops a goroutine's response before it is ever sent) yields
// ErrInsufficientResponses. A child plan error short-circuits and is
// returned wrapped in ChildQueryError.
func Compose[T any](ctx context.Context, n *Node[T], lhs, rhs []ChildPlan[T], logger *slog.Logger) ([]RangeVector[T], error) {
	logger = logging.Default(logger).With("component", "setop", "operator", n.op.String())

	total := len(lhs) + len(rhs)
	if total == 0 {
		return n.Apply(nil, nil), nil
	}

	results := make(chan childResult[T], total)
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))

	fetch := func(side string, index int, plan ChildPlan[T]) {
		g.Go(func() error {
			correlationID := uuid.New()
			vecs, err := plan.Execute(gctx)
			if err != nil {
				logger.Error("child plan failed", "correlation_id", correlationID, "side", side, "index", index, "error", err)
				return &ChildQueryError{Err: err}
			}
			logger.Debug("child plan responded", "correlation_id", correlationID, "side", side, "index", index, "vectors", len(vecs))
			select {
			case results <- childResult[T]{side: side, index: index, vectors: vecs}:
			case <-gctx.Done():
			}
			return nil
		})
	}
	for i, p := range lhs {
		fetch("lhs", i, p)
	}
	for i, p := range rhs {
		fetch("rhs", i, p)
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	lhsByIndex := make(map[int][]RangeVector[T], len(lhs))
	rhsByIndex := make(map[int][]RangeVector[T], len(rhs))
	received := 0
	store := func(res childResult[T]) {
		if res.side == "lhs" {
			lhsByIndex[res.index] = res.vectors
		} else {
			rhsByIndex[res.index] = res.vectors
		}
		received++
	}
	for received < total {
		select {
		case res := <-results:
			store(res)
		case err := <-done:
			if err != nil {
				var cqe *ChildQueryError
				if errors.As(err, &cqe) {
					return nil, cqe
				}
				return nil, err
			}
			// All goroutines finished without error, so every response they
			// sent is already buffered in results; drain those before
			// deciding whether any response is missing.
			for received < total {
				select {
				case res := <-results:
					store(res)
				default:
					return nil, ErrInsufficientResponses
				}
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var lhsVectors, rhsVectors []RangeVector[T]
	for i := range lhs {
		lhsVectors = append(lhsVectors, lhsByIndex[i]...)
	}
	for i := range rhs {
		rhsVectors = append(rhsVectors, rhsByIndex[i]...)
	}

	return n.Apply(lhsVectors, rhsVectors), nil
}
