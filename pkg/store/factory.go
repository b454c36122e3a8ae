package store

import (
	"context"
	"net/http"
	"path/filepath"

	"github.com/mcclowes/reqon/pkg/astmodel"
	"github.com/mcclowes/reqon/pkg/log"
	"github.com/mcclowes/reqon/pkg/rerrors"
)

// FactoryConfig carries the runtime settings the factory needs beyond what
// a single StoreDef declares: where file-backed data lives, whether
// sql/nosql tags may fall back to file, and how to reach a postgrest
// service when one is actually configured.
type FactoryConfig struct {
	DataDir       string
	DevMode       bool // default true: sql/nosql fall back to file
	PostgRESTBase string
	HTTPClient    *http.Client
}

// New resolves a StoreDef's backend tag to a concrete adapter. In
// development mode (default), sql and nosql tags fall back to the file
// backend with a warning so a mission is runnable without real databases.
func New(ctx context.Context, def *astmodel.StoreDef, cfg FactoryConfig) (Store, error) {
	backend := def.Backend

	if cfg.DevMode && (backend == astmodel.BackendSQL || backend == astmodel.BackendNoSQL) {
		log.WithComponent("store").Warn().
			Str("store", def.Name).
			Str("backend", string(backend)).
			Msg("dev mode: falling back to file backend")
		backend = astmodel.BackendFile
	}

	switch backend {
	case astmodel.BackendMemory:
		return NewMemoryStore(), nil

	case astmodel.BackendFile:
		return NewFileStore(FileStoreConfig{
			DataDir:    filepath.Join(cfg.DataDir, def.Collection),
			Collection: def.Collection,
		})

	case astmodel.BackendPostgREST:
		if cfg.PostgRESTBase == "" {
			return nil, &rerrors.ConfigError{Reason: "store " + def.Name + " declares backend postgrest but no PostgRESTBase is configured"}
		}
		return NewPostgRESTStore(ctx, PostgRESTConfig{
			BaseURL:    cfg.PostgRESTBase,
			Collection: def.Collection,
			HTTPClient: cfg.HTTPClient,
		})

	case astmodel.BackendSQL, astmodel.BackendNoSQL:
		return nil, &rerrors.ConfigError{Reason: "store " + def.Name + " declares backend " + string(backend) + " but dev mode fallback is disabled and no real adapter is wired"}

	default:
		return nil, &rerrors.ConfigError{Reason: "store " + def.Name + " declares unknown backend " + string(backend)}
	}
}
