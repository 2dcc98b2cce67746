// Package lopq implements the query-time core of a Locally Optimized
// Product Quantization (LOPQ) approximate-nearest-neighbor index.
//
// A Model holds the coarse quantizers, per-cell residual rotations and
// means, and fine product subquantizers trained offline; it turns a query
// vector into a coarse code, a rotated residual projection, and
// asymmetric-distance tables. A Searcher owns a Model and a cache of
// inverted cells, and uses those tables to score, deduplicate, and rank
// the entries of one coarse cell.
//
// Training the model, exact re-ranking, multi-probing beyond a single
// requested coarse cell, and thread-safe incremental index updates are
// out of scope for this package.
package lopq
