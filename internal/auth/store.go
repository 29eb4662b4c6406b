package auth

import (
	"context"
	"fmt"
	"io"

	"github.com/desertthunder/spotidal/internal/shared"
	"golang.org/x/oauth2"
)

// Store persists one token per service.
//
// Load returns [shared.ErrTokenNotFound] when nothing is stored for service.
type Store interface {
	Load(ctx context.Context, service string) (*oauth2.Token, error)
	Save(ctx context.Context, service string, tok *oauth2.Token) error
	Clear(ctx context.Context, service string) error
	io.Closer
}

// NewStore opens the backend selected by cfg.Tokens.Backend.
//
// configPath is only used by the file backend, which rewrites the config on save.
func NewStore(cfg *shared.Config, configPath string) (Store, error) {
	switch cfg.Tokens.Backend {
	case "", shared.StoreFile:
		return NewFileStore(configPath, cfg), nil
	case shared.StoreSQLite:
		db, err := shared.OpenDatabase(cfg.Database)
		if err != nil {
			return nil, err
		}
		return NewSQLiteStore(db, true), nil
	case shared.StoreRedis:
		return NewRedisStore(cfg.Tokens)
	default:
		return nil, fmt.Errorf("%w: %q", shared.ErrUnknownStore, cfg.Tokens.Backend)
	}
}
