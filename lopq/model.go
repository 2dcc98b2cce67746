package lopq

import "fmt"

// Model is the pure numeric core of an LOPQ index: coarse centroids,
// per-cell rotation matrices, per-cell residual means, and fine
// subquantizer centroids. A Model is immutable after Load and safe for
// concurrent use by any number of Searchers without synchronization.
type Model struct {
	dim       int // D
	splitLen  int // W = D / NumCoarseSplits
	subLen    int // W / NumFineSplits
	kCoarse   int // shared row count of Cs[0] and Cs[1]
	kFine     int // shared row count of every subquantizer

	cs   [NumCoarseSplits][][]float32               // [split] -> KCoarse x W
	rs   [NumCoarseSplits][][][]float32              // [split][cluster] -> W x W
	mus  [NumCoarseSplits][][]float64                // [split][cluster] -> W
	subs [NumCoarseSplits][NumFineSplits][][]float32  // [split][subsplit] -> KFine x subLen
}

// Dim reports the model's input vector dimension D.
func (m *Model) Dim() int { return m.dim }

// KCoarse reports the shared number of coarse clusters per split.
func (m *Model) KCoarse() int { return m.kCoarse }

// KFine reports the shared number of centroids per subquantizer.
func (m *Model) KFine() int { return m.kFine }

// nearestCentroid returns the row index of centroids minimizing squared-L2
// distance to vec, along with that distance. Ties are broken by the
// lowest row index: a later row only replaces the current best if it is
// strictly closer. Both §4.1.1 (coarse prediction) and §4.1.3 (fine
// prediction) in the wire format reduce to this one routine, mirroring
// predict_cluster in the reference implementation.
func nearestCentroid(vec []float64, centroids [][]float32) (int, float64) {
	best := -1
	bestDist := 0.0
	for row, centroid := range centroids {
		dist := 0.0
		for i, v := range vec {
			d := v - float64(centroid[i])
			dist += d * d
		}
		if best == -1 || dist < bestDist {
			best = row
			bestDist = dist
		}
	}
	return best, bestDist
}

// PredictCoarse decodes x into its CoarseCode: for each coarse split, the
// row index of that split's centroid matrix closest to the corresponding
// slice of x.
func (m *Model) PredictCoarse(x FeatureVector) (CoarseCode, error) {
	var code CoarseCode
	if len(x) != m.dim {
		return code, &InvalidArgumentError{
			Component: "Model",
			Operation: "PredictCoarse",
			Message:   fmt.Sprintf("query length %d does not match model dimension %d", len(x), m.dim),
		}
	}
	for s := 0; s < NumCoarseSplits; s++ {
		cx := []float64(x[s*m.splitLen : (s+1)*m.splitLen])
		idx, _ := nearestCentroid(cx, m.cs[s])
		code[s] = uint32(idx)
	}
	return code, nil
}

// projectSplit computes the rotated, mean-shifted residual of x's s-th
// split against the coarse cell c, a vector of length splitLen. This is
// the per-split half of §4.1.2, exposed separately so scoring a cell
// computes only the one or two splits it actually needs.
func (m *Model) projectSplit(x FeatureVector, c CoarseCode, s int) ([]float64, error) {
	if s < 0 || s >= NumCoarseSplits {
		return nil, &InvalidArgumentError{Component: "Model", Operation: "projectSplit", Message: "split out of range"}
	}
	cluster := int(c[s])
	if cluster < 0 || cluster >= m.kCoarse {
		return nil, &InvalidArgumentError{
			Component: "Model",
			Operation: "projectSplit",
			Message:   fmt.Sprintf("coarse code %d for split %d out of range [0,%d)", cluster, s, m.kCoarse),
		}
	}

	cx := []float64(x[s*m.splitLen : (s+1)*m.splitLen])
	centroid := m.cs[s][cluster]
	mu := m.mus[s][cluster]
	rotation := m.rs[s][cluster]

	residual := make([]float64, m.splitLen)
	for i := range residual {
		residual[i] = cx[i] - float64(centroid[i]) - mu[i]
	}

	projected := make([]float64, m.splitLen)
	for row := 0; row < m.splitLen; row++ {
		var sum float64
		rotRow := rotation[row]
		for col := 0; col < m.splitLen; col++ {
			sum += float64(rotRow[col]) * residual[col]
		}
		projected[row] = sum
	}
	return projected, nil
}

// Project computes the full rotated residual space projection of x
// against coarse code c: the concatenation of projectSplit across both
// coarse splits, a vector of length D.
func (m *Model) Project(x FeatureVector, c CoarseCode) ([]float64, error) {
	if len(x) != m.dim {
		return nil, &InvalidArgumentError{
			Component: "Model",
			Operation: "Project",
			Message:   fmt.Sprintf("query length %d does not match model dimension %d", len(x), m.dim),
		}
	}
	out := make([]float64, 0, m.dim)
	for s := 0; s < NumCoarseSplits; s++ {
		p, err := m.projectSplit(x, c, s)
		if err != nil {
			return nil, err
		}
		out = append(out, p...)
	}
	return out, nil
}

// PredictFine projects x into the residual space of coarse cell c, then
// emits one subquantizer centroid index per fine subsplit of each coarse
// split, per §4.1.3.
func (m *Model) PredictFine(x FeatureVector, c CoarseCode) (FineCode, error) {
	var fine FineCode
	var proj []float64
	for s := 0; s < NumCoarseSplits; s++ {
		p, err := m.projectSplit(x, c, s)
		if err != nil {
			return fine, err
		}
		proj = p
		for t := 0; t < NumFineSplits; t++ {
			segment := proj[t*m.subLen : (t+1)*m.subLen]
			idx, _ := nearestCentroid(segment, m.subs[s][t])
			fine[s*NumFineSplits+t] = uint8(idx)
		}
	}
	return fine, nil
}

// SubquantizerDistances computes the asymmetric-distance table for coarse
// split s: for each fine subsplit t, the squared-L2 distance from the
// corresponding segment of x's projection to every row of that
// subsplit's subquantizer codebook. Table[t][k] is the distance to
// centroid k of subsplit t.
func (m *Model) SubquantizerDistances(x FeatureVector, c CoarseCode, s int) ([][]float32, error) {
	if s < 0 || s >= NumCoarseSplits {
		return nil, &InvalidArgumentError{Component: "Model", Operation: "SubquantizerDistances", Message: "split out of range"}
	}
	proj, err := m.projectSplit(x, c, s)
	if err != nil {
		return nil, err
	}

	table := make([][]float32, NumFineSplits)
	for t := 0; t < NumFineSplits; t++ {
		segment := proj[t*m.subLen : (t+1)*m.subLen]
		codebook := m.subs[s][t]
		row := make([]float32, len(codebook))
		for k, centroid := range codebook {
			var dist float64
			for i, v := range segment {
				d := v - float64(centroid[i])
				dist += d * d
			}
			row[k] = float32(dist)
		}
		table[t] = row
	}
	return table, nil
}
