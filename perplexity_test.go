package tsne

import (
	"context"
	"errors"
	"math"
	"testing"
)

// rowPerplexity returns exp(H) of a probability row, skipping position skip.
func rowPerplexity(p []float64, skip int) float64 {
	var h float64
	for j, v := range p {
		if j == skip || v <= 0 {
			continue
		}
		h -= v * math.Log(v)
	}
	return math.Exp(h)
}

func TestBinarySearchPerplexity_FullRows(t *testing.T) {
	n, dims := 40, 3
	data := generateFlatData(n, dims)
	sq, err := squaredPairwiseDistances(context.Background(), data, n, dims, EuclideanMetric{}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Scale into a range where every row can reach the target.
	for i := range sq {
		sq[i] /= 100
	}

	const perplexity = 10.0
	P, err := BinarySearchPerplexity(context.Background(), sq, n, n, perplexity, 0, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < n; i++ {
		row := P[i*n : (i+1)*n]
		if row[i] != 0 {
			t.Errorf("row %d: diagonal = %v, want 0", i, row[i])
		}
		var sum float64
		for _, v := range row {
			sum += v
		}
		if !almostEqual(sum, 1, 1e-12) {
			t.Errorf("row %d sums to %v", i, sum)
		}
		if got := rowPerplexity(row, i); math.Abs(got-perplexity) > 1e-3 {
			t.Errorf("row %d: perplexity %v, want %v", i, got, perplexity)
		}
	}
}

func TestBinarySearchPerplexity_NeighborRowsIncludeEveryEntry(t *testing.T) {
	// Two rows of three neighbour distances; no entry is a diagonal.
	sq := []float64{
		1, 1, 1,
		0, 0, 0,
	}
	P, err := BinarySearchPerplexity(context.Background(), sq, 2, 3, 2, 0, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, v := range P {
		if !almostEqual(v, 1.0/3, 1e-12) {
			t.Errorf("P[%d] = %v, want 1/3", i, v)
		}
	}
}

func TestBinarySearchPerplexity_WorkerCountInvariant(t *testing.T) {
	n := 25
	data := generateFlatData(n, 2)
	sq, _ := squaredPairwiseDistances(context.Background(), data, n, 2, EuclideanMetric{}, 1)

	one, err := BinarySearchPerplexity(context.Background(), sq, n, n, 5, 0, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	many, err := BinarySearchPerplexity(context.Background(), sq, n, n, 5, 0, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range one {
		if one[i] != many[i] {
			t.Fatalf("P[%d] differs: %v vs %v", i, one[i], many[i])
		}
	}
}

func TestBinarySearchPerplexity_Errors(t *testing.T) {
	ctx := context.Background()
	if _, err := BinarySearchPerplexity(ctx, []float64{0, 1, 1}, 2, 2, 1, 0, 1); !errors.Is(err, ErrShape) {
		t.Errorf("expected ErrShape, got %v", err)
	}
	for _, perp := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if _, err := BinarySearchPerplexity(ctx, []float64{0, 1, 1, 0}, 2, 2, perp, 0, 1); !errors.Is(err, ErrInvalidPerplexity) {
			t.Errorf("perplexity=%v: expected ErrInvalidPerplexity, got %v", perp, err)
		}
	}
}

func TestBinarySearchPerplexity_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := BinarySearchPerplexity(ctx, []float64{0, 1, 1, 0}, 2, 2, 1, 0, 1)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
