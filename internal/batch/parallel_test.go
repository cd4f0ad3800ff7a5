package batch

import (
	"context"
	"errors"
	"strconv"
	"testing"
)

func TestMap_PreservesInputOrder(t *testing.T) {
	t.Parallel()

	items := make([]int, 100)
	for i := range items {
		items[i] = i
	}

	out, err := Map(context.Background(), items, 8, func(_ context.Context, n int) (string, error) {
		return strconv.Itoa(n * 2), nil
	})
	if err != nil {
		t.Fatalf("Map() error = %v", err)
	}
	if len(out) != len(items) {
		t.Fatalf("len(out) = %d, want %d", len(out), len(items))
	}
	for i, got := range out {
		if want := strconv.Itoa(i * 2); got != want {
			t.Fatalf("out[%d] = %q, want %q", i, got, want)
		}
	}
}

func TestMap_FirstErrorWins(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	_, err := Map(context.Background(), []int{1, 2, 3}, 1, func(_ context.Context, n int) (int, error) {
		if n == 2 {
			return 0, boom
		}
		return n, nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Map() error = %v, want %v", err, boom)
	}
}

func TestMap_EmptyInput(t *testing.T) {
	t.Parallel()

	out, err := Map(context.Background(), nil, 4, func(_ context.Context, n int) (int, error) {
		return n, nil
	})
	if err != nil {
		t.Fatalf("Map() error = %v", err)
	}
	if out != nil {
		t.Fatalf("out = %v, want nil", out)
	}
}

func TestMap_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Map(ctx, []int{1, 2, 3}, 2, func(_ context.Context, n int) (int, error) {
		return n, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Map() error = %v, want context.Canceled", err)
	}
}
