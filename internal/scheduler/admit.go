package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
)

// Admit submits op and waits for its result as T. Results served from a
// serializing cache tier come back as JSON and are decoded into T.
func Admit[T any](ctx context.Context, s *Scheduler, op func(ctx context.Context) (T, error), opts Options) (T, error) {
	var zero T
	f, err := s.Submit(ctx, func(ctx context.Context) (any, error) {
		return op(ctx)
	}, opts)
	if err != nil {
		return zero, err
	}
	v, err := f.Await(ctx)
	if err != nil {
		return zero, err
	}
	return decode[T](v)
}

func decode[T any](v any) (T, error) {
	var out T
	switch raw := v.(type) {
	case nil:
		return out, nil
	case T:
		return raw, nil
	case json.RawMessage:
		if err := json.Unmarshal(raw, &out); err != nil {
			return out, fmt.Errorf("%w: %v", ErrUnexpectedType, err)
		}
		return out, nil
	default:
		return out, fmt.Errorf("%w: got %T, want %T", ErrUnexpectedType, v, out)
	}
}
