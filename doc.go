// Unless explicitly stated otherwise all files in this repository are
// licensed under the Apache License Version 2.0.

// Package rcforest implements a Random Cut Forest: a streaming,
// randomized data structure that maintains a forest of space-partitioning
// binary trees over a bounded reservoir sample of a high-dimensional
// numeric stream, and computes anomaly scores, per-coordinate anomaly
// attributions, density estimates, and near-neighbour imputations from
// it.
//
// A Forest is built with NewForest, fed points with Update, and queried
// with GetAnomalyScore, GetAnomalyAttribution, GetSimpleDensity,
// ImputeMissingValues and NearNeighbors. Update and the Get* queries must
// be externally serialized against each other. Update visits the trees
// one after another; when Config.ParallelExecutionEnabled is set,
// GetAnomalyScore fans its per-tree work out across a bounded worker
// pool, and the other queries stay sequential.
package rcforest
