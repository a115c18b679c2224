// Package artifact contains the stores behind core.ArtifactStore and
// core.ImageLoader, plus the Writer that renders a run's per-round and final
// artifacts.
//
// The store interfaces live in the core package. Implementations here
// (in-memory, filesystem via afero, S3/MinIO) can be swapped without
// touching calling code. Keys returned by Save have the form
// "<runID>/<name>" and can be split again with SplitKey.
package artifact
