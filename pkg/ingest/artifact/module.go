package artifact

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"github.com/tigerroll/shoreline/pkg/ingest/core/config"
	"github.com/tigerroll/shoreline/pkg/ingest/core/orchestrator"
	"github.com/tigerroll/shoreline/pkg/ingest/core/port"
)

// NewArtifactStoreProvider selects the store backend from configuration.
func NewArtifactStoreProvider(lc fx.Lifecycle, cfg *config.Config) (port.ArtifactStore, error) {
	ac := cfg.Shoreline.Artifact
	switch ac.Store {
	case "", "local":
		return NewLocalStore(ac.Dir), nil
	case "gcs":
		store, err := NewGCSStore(context.Background(), ac.Bucket, ac.Prefix)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{OnStop: func(context.Context) error { return store.Close() }})
		return store, nil
	default:
		return nil, fmt.Errorf("unknown artifact store '%s'", ac.Store)
	}
}

// NewWriterProvider builds the Writer the orchestrator consumes.
func NewWriterProvider(store port.ArtifactStore, cfg *config.Config) orchestrator.ArtifactWriter {
	return NewWriter(store, Format(cfg.Shoreline.Artifact.Format))
}

// Module provides the artifact store and writer to Fx.
var Module = fx.Options(
	fx.Provide(NewArtifactStoreProvider),
	fx.Provide(NewWriterProvider),
)
