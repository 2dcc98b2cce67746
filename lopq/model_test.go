package lopq

import (
	"math"
	"testing"
)

// identityValues returns an n x n identity matrix flattened row-major.
func identityValues(n int) []float32 {
	out := make([]float32, n*n)
	for i := 0; i < n; i++ {
		out[i*n+i] = 1
	}
	return out
}

// buildBlob constructs a minimal, valid ModelBlob with splitLen=8 (the
// smallest value NumFineSplits=8 divides evenly), identity rotations,
// zero means, and caller-supplied coarse centroids and subquantizer
// codebooks.
func buildBlob(t *testing.T, kCoarse int, coarseRows [NumCoarseSplits][]float32, kFine int, subRows [NumCoarseSplits][NumFineSplits][]float32) *ModelBlob {
	t.Helper()
	const splitLen = 8

	blob := &ModelBlob{}
	for s := 0; s < NumCoarseSplits; s++ {
		if len(coarseRows[s]) != kCoarse*splitLen {
			t.Fatalf("split %d: expected %d coarse values, got %d", s, kCoarse*splitLen, len(coarseRows[s]))
		}
		blob.Cs = append(blob.Cs, Matrix{Rows: kCoarse, Cols: splitLen, Values: coarseRows[s]})
	}

	for s := 0; s < NumCoarseSplits; s++ {
		for c := 0; c < kCoarse; c++ {
			blob.Rs = append(blob.Rs, Matrix{Rows: splitLen, Cols: splitLen, Values: identityValues(splitLen)})
			blob.Mus = append(blob.Mus, Vector{Len: splitLen, Values: make([]float32, splitLen)})
		}
	}

	for s := 0; s < NumCoarseSplits; s++ {
		for subT := 0; subT < NumFineSplits; subT++ {
			values := subRows[s][subT]
			if len(values) != kFine {
				t.Fatalf("split %d subsplit %d: expected %d subquantizer values, got %d", s, subT, kFine, len(values))
			}
			blob.Subs = append(blob.Subs, Matrix{Rows: kFine, Cols: 1, Values: values})
		}
	}

	return blob
}

// neutralSubRows builds the NumFineSplits entries for one coarse split
// where every codebook has kFine rows, row 0 equal to val, and the rest
// zero — "neutral" in the sense that a FineCode of all zeros scores
// exactly (query_segment - val)^2 for that subsplit, independent of
// kFine.
func neutralSubRows(kFine int, val float32) [NumFineSplits][]float32 {
	var out [NumFineSplits][]float32
	for t := 0; t < NumFineSplits; t++ {
		row := make([]float32, kFine)
		row[0] = val
		out[t] = row
	}
	return out
}

func TestPredictCoarse_RoundTrip(t *testing.T) {
	const kCoarse = 3
	var coarseRows [NumCoarseSplits][]float32
	for s := 0; s < NumCoarseSplits; s++ {
		rows := make([]float32, kCoarse*8)
		for c := 0; c < kCoarse; c++ {
			for i := 0; i < 8; i++ {
				rows[c*8+i] = float32(c*10 + i)
			}
		}
		coarseRows[s] = rows
	}
	var subRows [NumCoarseSplits][NumFineSplits][]float32
	subRows[0] = neutralSubRows(1, 0)
	subRows[1] = neutralSubRows(1, 0)

	blob := buildBlob(t, kCoarse, coarseRows, 1, subRows)
	model, err := Load(blob)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	for s := 0; s < NumCoarseSplits; s++ {
		for k := 0; k < kCoarse; k++ {
			x := make(FeatureVector, model.Dim())
			for i := 0; i < 8; i++ {
				x[s*8+i] = float64(k*10 + i)
			}
			code, err := model.PredictCoarse(x)
			if err != nil {
				t.Fatalf("PredictCoarse: %v", err)
			}
			if int(code[s]) != k {
				t.Errorf("split %d: placing row %d got code %d, want %d", s, k, code[s], k)
			}
			for s2 := range code {
				if int(code[s2]) < 0 || int(code[s2]) >= kCoarse {
					t.Errorf("code[%d]=%d out of range [0,%d)", s2, code[s2], kCoarse)
				}
			}
		}
	}
}

func TestPredictCoarse_TieBreakLowestIndex(t *testing.T) {
	const kCoarse = 2
	var coarseRows [NumCoarseSplits][]float32
	for s := 0; s < NumCoarseSplits; s++ {
		// Row 0 and row 1 sit at +1 and -1 around zero on every axis, so any
		// query at the origin is exactly equidistant from both.
		row0 := make([]float32, 8)
		row1 := make([]float32, 8)
		for i := range row0 {
			row0[i] = 1
			row1[i] = -1
		}
		coarseRows[s] = append(row0, row1...)
	}
	var subRows [NumCoarseSplits][NumFineSplits][]float32
	subRows[0] = neutralSubRows(1, 0)
	subRows[1] = neutralSubRows(1, 0)

	blob := buildBlob(t, kCoarse, coarseRows, 1, subRows)
	model, err := Load(blob)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	x := make(FeatureVector, model.Dim())
	code, err := model.PredictCoarse(x)
	if err != nil {
		t.Fatalf("PredictCoarse: %v", err)
	}
	for s, c := range code {
		if c != 0 {
			t.Errorf("split %d: expected tie broken to lowest index 0, got %d", s, c)
		}
	}
}

func TestProject_ZeroAtCentroidWithZeroMean(t *testing.T) {
	const kCoarse = 1
	var coarseRows [NumCoarseSplits][]float32
	for s := 0; s < NumCoarseSplits; s++ {
		row := make([]float32, 8)
		for i := range row {
			row[i] = float32(i) + float32(s)
		}
		coarseRows[s] = row
	}
	var subRows [NumCoarseSplits][NumFineSplits][]float32
	subRows[0] = neutralSubRows(1, 0)
	subRows[1] = neutralSubRows(1, 0)

	blob := buildBlob(t, kCoarse, coarseRows, 1, subRows)
	model, err := Load(blob)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	x := make(FeatureVector, model.Dim())
	for s := 0; s < NumCoarseSplits; s++ {
		for i := 0; i < 8; i++ {
			x[s*8+i] = float64(i) + float64(s)
		}
	}

	proj, err := model.Project(x, CoarseCode{0, 0})
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	for i, v := range proj {
		if v != 0 {
			t.Errorf("proj[%d] = %v, want 0 (residual at centroid with zero mean and identity rotation)", i, v)
		}
	}
}

func TestSubquantizerDistances_MatchesDirectComputation(t *testing.T) {
	const kCoarse = 1
	var coarseRows [NumCoarseSplits][]float32
	for s := 0; s < NumCoarseSplits; s++ {
		coarseRows[s] = make([]float32, 8)
	}
	var subRows [NumCoarseSplits][NumFineSplits][]float32
	for s := 0; s < NumCoarseSplits; s++ {
		for t := 0; t < NumFineSplits; t++ {
			subRows[s][t] = []float32{0, 1, 2, 3}
		}
	}

	blob := buildBlob(t, kCoarse, coarseRows, 4, subRows)
	model, err := Load(blob)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	x := make(FeatureVector, model.Dim())
	for i := range x {
		x[i] = float64(i) * 0.5
	}
	coarse := CoarseCode{0, 0}

	table, err := model.SubquantizerDistances(x, coarse, 0)
	if err != nil {
		t.Fatalf("SubquantizerDistances: %v", err)
	}

	proj, err := model.Project(x, coarse)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}

	for sub := 0; sub < NumFineSplits; sub++ {
		segment := proj[sub : sub+1] // subLen=1
		for k, centroid := range []float32{0, 1, 2, 3} {
			want := (segment[0] - float64(centroid)) * (segment[0] - float64(centroid))
			got := float64(table[sub][k])
			if math.Abs(got-want) > 1e-9 {
				t.Errorf("subsplit %d centroid %d: table=%v, direct=%v", sub, k, got, want)
			}
		}
	}
}

func TestLoad_RejectsShapeMismatches(t *testing.T) {
	valid := func() *ModelBlob {
		var coarseRows [NumCoarseSplits][]float32
		coarseRows[0] = make([]float32, 8)
		coarseRows[1] = make([]float32, 8)
		var subRows [NumCoarseSplits][NumFineSplits][]float32
		subRows[0] = neutralSubRows(1, 0)
		subRows[1] = neutralSubRows(1, 0)
		return buildBlob(t, 1, coarseRows, 1, subRows)
	}

	t.Run("wrong coarse split count", func(t *testing.T) {
		blob := valid()
		blob.Cs = blob.Cs[:1]
		if _, err := Load(blob); err == nil {
			t.Fatal("expected error for wrong coarse split count")
		}
	})

	t.Run("mismatched K_coarse across splits", func(t *testing.T) {
		blob := valid()
		blob.Cs[1] = Matrix{Rows: 2, Cols: 8, Values: make([]float32, 16)}
		if _, err := Load(blob); err == nil {
			t.Fatal("expected error for mismatched K_coarse across splits")
		}
	})

	t.Run("wrong rotation matrix count", func(t *testing.T) {
		blob := valid()
		blob.Rs = blob.Rs[:len(blob.Rs)-1]
		if _, err := Load(blob); err == nil {
			t.Fatal("expected error for wrong rotation matrix count")
		}
	})

	t.Run("wrong mean vector count", func(t *testing.T) {
		blob := valid()
		blob.Mus = blob.Mus[:len(blob.Mus)-1]
		if _, err := Load(blob); err == nil {
			t.Fatal("expected error for wrong mean vector count")
		}
	})

	t.Run("wrong subquantizer count", func(t *testing.T) {
		blob := valid()
		blob.Subs = blob.Subs[:len(blob.Subs)-1]
		if _, err := Load(blob); err == nil {
			t.Fatal("expected error for wrong subquantizer count")
		}
	})

	t.Run("mismatched K_fine across subquantizers", func(t *testing.T) {
		blob := valid()
		blob.Subs[0] = Matrix{Rows: 2, Cols: 1, Values: make([]float32, 2)}
		if _, err := Load(blob); err == nil {
			t.Fatal("expected error for mismatched K_fine across subquantizers")
		}
	})
}
