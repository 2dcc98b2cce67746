package lopq

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/xDarkicex/lopq/internal/memory"
)

// Matrix is a row-major matrix message, mirroring the `cs`/`rs`/`subs`
// field layout of the real (opaque, protobuf) trained-model envelope.
type Matrix struct {
	Rows, Cols int
	Values     []float32
}

// Vector is a row-major vector message, mirroring the `mus` field layout.
type Vector struct {
	Len    int
	Values []float32
}

// ModelBlob is the decoded form of an LOPQ model's opaque byte blob: the
// named fields spec.md §6 requires, laid out as described there.
//
//   - Cs has exactly NumCoarseSplits entries, one per coarse split.
//   - Rs has exactly NumCoarseSplits*K_coarse entries; entry index c
//     belongs to split c/K_coarse, cluster c%K_coarse.
//   - Mus follows the same layout convention as Rs.
//   - Subs has exactly NumCoarseSplits*NumFineSplits entries; entry index
//     c belongs to split c/NumFineSplits, subsplit c%NumFineSplits.
//
// The real on-disk envelope is protobuf; this module decodes with
// encoding/gob as a deliberate stand-in for that opaque format — no part
// of the retrieval arithmetic depends on which encoding carries these
// fields across the wire.
type ModelBlob struct {
	Cs   []Matrix
	Rs   []Matrix
	Mus  []Vector
	Subs []Matrix
}

// LoadModelFile memory-maps path and decodes it as a gob-encoded
// ModelBlob, then builds a Model from it. The mapping is released before
// this call returns; the decoded Model owns its own heap copy of every
// matrix and vector.
func LoadModelFile(path string) (*Model, error) {
	mapped, err := memory.OpenBlobMap(path)
	if err != nil {
		return nil, &ModelShapeError{Component: "Model", Operation: "LoadModelFile", Message: "failed to map model file", Cause: err}
	}
	defer mapped.Close()

	var blob ModelBlob
	if err := gob.NewDecoder(bytes.NewReader(mapped.Bytes())).Decode(&blob); err != nil {
		return nil, &ModelShapeError{Component: "Model", Operation: "LoadModelFile", Message: "failed to decode model blob", Cause: err}
	}
	return Load(&blob)
}

// Load validates blob against the invariants Model requires and, if they
// hold, builds an immutable Model from it. Loading rejects a blob whose
// shape fields disagree with those invariants: mismatched K per
// subquantizer, wrong split counts, or a dimension that doesn't divide
// evenly across splits.
func Load(blob *ModelBlob) (*Model, error) {
	if len(blob.Cs) != NumCoarseSplits {
		return nil, &ModelShapeError{
			Component: "Model",
			Operation: "Load",
			Message:   fmt.Sprintf("expected %d coarse centroid matrices, got %d", NumCoarseSplits, len(blob.Cs)),
		}
	}

	splitLen := blob.Cs[0].Cols
	kCoarse := blob.Cs[0].Rows
	if splitLen <= 0 || kCoarse <= 0 {
		return nil, &ModelShapeError{Component: "Model", Operation: "Load", Message: "coarse centroid matrix has non-positive shape"}
	}
	for s := 1; s < NumCoarseSplits; s++ {
		if blob.Cs[s].Cols != splitLen || blob.Cs[s].Rows != kCoarse {
			return nil, &ModelShapeError{
				Component: "Model",
				Operation: "Load",
				Message:   "coarse centroid matrices disagree on shape across splits; K_coarse must be identical for every split",
			}
		}
	}
	if splitLen%NumFineSplits != 0 {
		return nil, &ModelShapeError{
			Component: "Model",
			Operation: "Load",
			Message:   fmt.Sprintf("split length %d is not evenly divisible by NumFineSplits=%d", splitLen, NumFineSplits),
		}
	}
	subLen := splitLen / NumFineSplits

	wantRsMus := NumCoarseSplits * kCoarse
	if len(blob.Rs) != wantRsMus {
		return nil, &ModelShapeError{Component: "Model", Operation: "Load", Message: fmt.Sprintf("expected %d rotation matrices, got %d", wantRsMus, len(blob.Rs))}
	}
	if len(blob.Mus) != wantRsMus {
		return nil, &ModelShapeError{Component: "Model", Operation: "Load", Message: fmt.Sprintf("expected %d mean vectors, got %d", wantRsMus, len(blob.Mus))}
	}

	wantSubs := NumCoarseSplits * NumFineSplits
	if len(blob.Subs) != wantSubs {
		return nil, &ModelShapeError{Component: "Model", Operation: "Load", Message: fmt.Sprintf("expected %d subquantizer codebooks, got %d", wantSubs, len(blob.Subs))}
	}

	kFine := blob.Subs[0].Rows
	if kFine <= 0 {
		return nil, &ModelShapeError{Component: "Model", Operation: "Load", Message: "subquantizer codebook has non-positive row count"}
	}

	m := &Model{
		dim:      splitLen * NumCoarseSplits,
		splitLen: splitLen,
		subLen:   subLen,
		kCoarse:  kCoarse,
		kFine:    kFine,
	}

	for s := 0; s < NumCoarseSplits; s++ {
		rows, err := reshapeMatrix(blob.Cs[s], kCoarse, splitLen)
		if err != nil {
			return nil, shapeErr("Load", "coarse centroid matrix for split %d: %v", s, err)
		}
		m.cs[s] = rows
	}

	for c, mat := range blob.Rs {
		s, cluster := c/kCoarse, c%kCoarse
		rows, err := reshapeMatrix(mat, splitLen, splitLen)
		if err != nil {
			return nil, shapeErr("Load", "rotation matrix for split %d cluster %d: %v", s, cluster, err)
		}
		if m.rs[s] == nil {
			m.rs[s] = make([][][]float32, kCoarse)
		}
		m.rs[s][cluster] = rows
	}

	for c, vec := range blob.Mus {
		s, cluster := c/kCoarse, c%kCoarse
		if vec.Len != splitLen || len(vec.Values) != splitLen {
			return nil, &ModelShapeError{
				Component: "Model",
				Operation: "Load",
				Message:   fmt.Sprintf("mean vector for split %d cluster %d has length %d, want %d", s, cluster, len(vec.Values), splitLen),
			}
		}
		if m.mus[s] == nil {
			m.mus[s] = make([][]float64, kCoarse)
		}
		widened := make([]float64, splitLen)
		for i, v := range vec.Values {
			widened[i] = float64(v)
		}
		m.mus[s][cluster] = widened
	}

	for c, mat := range blob.Subs {
		s, t := c/NumFineSplits, c%NumFineSplits
		if mat.Rows != kFine {
			return nil, &ModelShapeError{
				Component: "Model",
				Operation: "Load",
				Message:   fmt.Sprintf("subquantizer codebook for split %d subsplit %d has %d rows, want %d (K_fine must match across every subquantizer)", s, t, mat.Rows, kFine),
			}
		}
		rows, err := reshapeMatrix(mat, kFine, subLen)
		if err != nil {
			return nil, shapeErr("Load", "subquantizer codebook for split %d subsplit %d: %v", s, t, err)
		}
		m.subs[s][t] = rows
	}

	return m, nil
}

func reshapeMatrix(mat Matrix, rows, cols int) ([][]float32, error) {
	if mat.Rows != rows || mat.Cols != cols {
		return nil, fmt.Errorf("shape %dx%d does not match expected %dx%d", mat.Rows, mat.Cols, rows, cols)
	}
	if len(mat.Values) != rows*cols {
		return nil, fmt.Errorf("value count %d does not match shape %dx%d", len(mat.Values), rows, cols)
	}
	out := make([][]float32, rows)
	for r := 0; r < rows; r++ {
		out[r] = mat.Values[r*cols : (r+1)*cols]
	}
	return out, nil
}

func shapeErr(op, format string, args ...interface{}) *ModelShapeError {
	return &ModelShapeError{Component: "Model", Operation: op, Message: fmt.Sprintf(format, args...)}
}
