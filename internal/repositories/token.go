package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/spotidal/internal/models"
	"github.com/desertthunder/spotidal/internal/shared"
)

const tokenColumns = `id, service, access_token, refresh_token, token_type, scope, expiry, created_at, updated_at`

// TokenRepository implements [models.Repository] for [models.StoredToken].
type TokenRepository struct {
	db *sql.DB
}

var _ models.Repository[*models.StoredToken] = (*TokenRepository)(nil)

// NewTokenRepository creates a new [TokenRepository] with the given database connection.
func NewTokenRepository(db *sql.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Create inserts a token, generating its ID when empty.
func (r *TokenRepository) Create(token *models.StoredToken) error {
	if token.TokenID == "" {
		token.TokenID = shared.GenerateID()
	}
	if err := token.Validate(); err != nil {
		return fmt.Errorf("%w: %w", shared.ErrInvalidInput, err)
	}

	now := time.Now().UTC()
	token.Created, token.Updated = now, now

	_, err := r.db.Exec(
		`INSERT INTO tokens (`+tokenColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		token.TokenID, token.Service, token.AccessToken, token.RefreshToken, token.TokenType,
		token.Scope, nullTime(token.Expiry), token.Created, token.Updated,
	)
	if err != nil {
		return fmt.Errorf("failed to insert token: %w", err)
	}
	return nil
}

// Get retrieves a token by ID.
func (r *TokenRepository) Get(id string) (*models.StoredToken, error) {
	row := r.db.QueryRow(`SELECT `+tokenColumns+` FROM tokens WHERE id = ?`, id)
	return scanToken(row, id)
}

// GetByService retrieves the token stored for service.
func (r *TokenRepository) GetByService(service string) (*models.StoredToken, error) {
	row := r.db.QueryRow(`SELECT `+tokenColumns+` FROM tokens WHERE service = ?`, service)
	return scanToken(row, service)
}

// Update rewrites the token fields of an existing row.
func (r *TokenRepository) Update(token *models.StoredToken) error {
	if err := token.Validate(); err != nil {
		return fmt.Errorf("%w: %w", shared.ErrInvalidInput, err)
	}
	token.Updated = time.Now().UTC()

	err := execOne(r.db, fmt.Errorf("%w: %s", shared.ErrTokenNotFound, token.TokenID),
		`UPDATE tokens SET access_token = ?, refresh_token = ?, token_type = ?, scope = ?, expiry = ?, updated_at = ?
		WHERE id = ?`,
		token.AccessToken, token.RefreshToken, token.TokenType, token.Scope, nullTime(token.Expiry), token.Updated, token.TokenID,
	)
	if err != nil {
		return fmt.Errorf("failed to update token: %w", err)
	}
	return nil
}

// Upsert stores token as the single row for its service, keeping the existing ID if any.
func (r *TokenRepository) Upsert(token *models.StoredToken) error {
	existing, err := r.GetByService(token.Service)
	switch {
	case errors.Is(err, shared.ErrTokenNotFound):
		return r.Create(token)
	case err != nil:
		return err
	}

	token.TokenID = existing.TokenID
	token.Created = existing.Created
	return r.Update(token)
}

// Delete removes a token by ID.
func (r *TokenRepository) Delete(id string) error {
	err := execOne(r.db, fmt.Errorf("%w: %s", shared.ErrTokenNotFound, id), `DELETE FROM tokens WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

// DeleteByService removes the token for service. Deleting a missing token is not an error.
func (r *TokenRepository) DeleteByService(service string) error {
	if _, err := r.db.Exec(`DELETE FROM tokens WHERE service = ?`, service); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

// List returns tokens matching criteria. Supported keys: "service".
func (r *TokenRepository) List(criteria map[string]any) ([]*models.StoredToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM tokens`
	var (
		where []string
		args  []any
	)
	for key, value := range criteria {
		switch key {
		case "service":
			where = append(where, "service = ?")
			args = append(args, value)
		default:
			return nil, fmt.Errorf("%w: unsupported criteria %q", shared.ErrInvalidArgument, key)
		}
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY service"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*models.StoredToken
	for rows.Next() {
		tok, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
	}
	return tokens, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(s scanner) (*models.StoredToken, error) {
	var (
		tok    models.StoredToken
		expiry sql.NullTime
	)
	err := s.Scan(&tok.TokenID, &tok.Service, &tok.AccessToken, &tok.RefreshToken, &tok.TokenType,
		&tok.Scope, &expiry, &tok.Created, &tok.Updated)
	if err != nil {
		return nil, err
	}
	if expiry.Valid {
		tok.Expiry = expiry.Time
	}
	return &tok, nil
}

func scanToken(row *sql.Row, key string) (*models.StoredToken, error) {
	tok, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrTokenNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query token: %w", err)
	}
	return tok, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}
