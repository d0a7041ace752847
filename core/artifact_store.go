package core

import "context"

// ArtifactStore defines the interface for artifact persistence, used for
// variable checkpoints. Implementations should be thread-safe and scope
// artifacts by run identifier. List returns artifact ids in ascending order.
// Short method names (Save/Get/List/Delete) mirror other store interfaces for
// consistency.
type ArtifactStore interface {
	Save(ctx context.Context, runID, artifactID string, data []byte) error
	Get(ctx context.Context, runID, artifactID string) ([]byte, error)
	List(ctx context.Context, runID string) ([]string, error)
	Delete(ctx context.Context, runID, artifactID string) error
}
