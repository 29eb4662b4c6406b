package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/desertthunder/spotidal/internal/models"
	"github.com/desertthunder/spotidal/internal/shared"
	"golang.org/x/oauth2"
)

// FileStore keeps tokens in the [credentials.<service>.token] tables of the config file.
type FileStore struct {
	mu     sync.Mutex
	path   string
	config *shared.Config
}

// NewFileStore wraps an already loaded config. Saves rewrite the file at path.
func NewFileStore(path string, config *shared.Config) *FileStore {
	return &FileStore{path: path, config: config}
}

func (s *FileStore) slot(service string) (*shared.TokenConfig, error) {
	switch service {
	case models.ServiceSpotify:
		return &s.config.Credentials.Spotify.Token, nil
	case models.ServiceTidal:
		return &s.config.Credentials.Tidal.Token, nil
	default:
		return nil, fmt.Errorf("%w: unknown service %q", shared.ErrInvalidArgument, service)
	}
}

func (s *FileStore) Load(_ context.Context, service string) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, err := s.slot(service)
	if err != nil {
		return nil, err
	}
	tok := slot.Token()
	if tok == nil {
		return nil, fmt.Errorf("%w: %s", shared.ErrTokenNotFound, service)
	}
	return tok, nil
}

func (s *FileStore) Save(_ context.Context, service string, tok *oauth2.Token) error {
	return s.write(service, shared.NewTokenConfig(tok))
}

func (s *FileStore) Clear(_ context.Context, service string) error {
	return s.write(service, shared.TokenConfig{})
}

func (s *FileStore) write(service string, value shared.TokenConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, err := s.slot(service)
	if err != nil {
		return err
	}
	*slot = value
	return shared.SaveConfig(s.path, s.config)
}

func (s *FileStore) Close() error { return nil }
