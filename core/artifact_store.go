package core

import "context"

// ArtifactStore defines the interface for run artifact persistence.
// Implementations should be thread-safe and scope artifacts by run
// identifier. Short method names (Save/Get/List/Delete) mirror the other
// store interfaces for consistency.
type ArtifactStore interface {
	Save(ctx context.Context, runID, name string, data []byte) (string, error)
	Get(ctx context.Context, runID, name string) ([]byte, error)
	List(ctx context.Context, runID string) ([]string, error)
	Delete(ctx context.Context, runID, name string) error
}

// ImageLoader resolves an ImageRef into encoded image bytes.
type ImageLoader interface {
	LoadImage(ctx context.Context, ref ImageRef) ([]byte, error)
}

// RunStore keeps AgentRun records addressable by id after they finish.
type RunStore interface {
	Put(run *AgentRun) error
	Get(id string) (*AgentRun, error)
	Delete(id string) error
}
