package auth

import (
	"context"
	"database/sql"

	"github.com/desertthunder/spotidal/internal/models"
	"github.com/desertthunder/spotidal/internal/repositories"
	"golang.org/x/oauth2"
)

// SQLiteStore keeps tokens in the tokens table.
type SQLiteStore struct {
	db    *sql.DB
	repo  *repositories.TokenRepository
	owned bool
}

// NewSQLiteStore uses a migrated database. When owned is set, Close closes db.
func NewSQLiteStore(db *sql.DB, owned bool) *SQLiteStore {
	return &SQLiteStore{db: db, repo: repositories.NewTokenRepository(db), owned: owned}
}

func (s *SQLiteStore) Load(_ context.Context, service string) (*oauth2.Token, error) {
	st, err := s.repo.GetByService(service)
	if err != nil {
		return nil, err
	}
	return st.OAuth2(), nil
}

func (s *SQLiteStore) Save(_ context.Context, service string, tok *oauth2.Token) error {
	return s.repo.Upsert(models.NewStoredToken("", service, tok))
}

func (s *SQLiteStore) Clear(_ context.Context, service string) error {
	return s.repo.DeleteByService(service)
}

func (s *SQLiteStore) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}
