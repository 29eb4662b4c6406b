package models

import (
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"golang.org/x/oauth2"
)

// Service identifiers used as token keys and in log lines.
const (
	ServiceSpotify = "spotify"
	ServiceTidal   = "tidal"
)

// Model defines the base interface for persistent models.
type Model interface {
	ID() string           // ID returns the unique identifier for this model
	CreatedAt() time.Time // CreatedAt returns when this model was created
	UpdatedAt() time.Time // UpdatedAt returns when this model was last updated
	Validate() error      // Validate checks if the model's data is valid and returns an error if not
}

// Repository defines the interface for data access operations.
type Repository[T Model] interface {
	Create(model T) error
	Get(id string) (T, error)
	Update(model T) error
	Delete(id string) error
	List(criteria map[string]any) ([]T, error)
}

// Playlist represents a playlist on either service.
type Playlist struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	TrackCount  int    `json:"track_count"`
	Public      bool   `json:"public"`
	ImageURL    string `json:"image_url,omitempty"`
}

// PlaylistExport represents a playlist with all its tracks.
type PlaylistExport struct {
	Playlist Playlist `json:"playlist"`
	Tracks   []Track  `json:"tracks"`
}

// Track represents a track on either service.
type Track struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Artist      string   `json:"artist"` // primary artist
	Artists     []string `json:"artists,omitempty"`
	Album       string   `json:"album,omitempty"`
	ReleaseDate string   `json:"release_date,omitempty"`
	Duration    int      `json:"duration"` // seconds
	ISRC        string   `json:"isrc,omitempty"`
}

// ArtistNames joins all credited artists, falling back to the primary artist.
func (t Track) ArtistNames(sep string) string {
	if len(t.Artists) == 0 {
		return t.Artist
	}
	return strings.Join(t.Artists, sep)
}

// String renders "Title - Artist" for logs and prompts.
func (t Track) String() string {
	if t.Artist == "" {
		return t.Title
	}
	return fmt.Sprintf("%s - %s", t.Title, t.Artist)
}

// StoredToken is an OAuth token persisted for one service.
type StoredToken struct {
	TokenID      string
	Service      string
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	Expiry       time.Time
	Created      time.Time
	Updated      time.Time
}

// NewStoredToken copies tok into a StoredToken for service.
func NewStoredToken(id, service string, tok *oauth2.Token) *StoredToken {
	st := &StoredToken{
		TokenID:      id,
		Service:      service,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		st.Scope = scope
	}
	return st
}

func (t *StoredToken) ID() string           { return t.TokenID }
func (t *StoredToken) CreatedAt() time.Time { return t.Created }
func (t *StoredToken) UpdatedAt() time.Time { return t.Updated }

// Validate implements [Model].
func (t *StoredToken) Validate() error {
	return validation.ValidateStruct(t,
		validation.Field(&t.TokenID, validation.Required),
		validation.Field(&t.Service, validation.Required, validation.In(ServiceSpotify, ServiceTidal)),
		validation.Field(&t.AccessToken, validation.Required),
	)
}

// OAuth2 converts back to an [oauth2.Token].
func (t *StoredToken) OAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Expiry:       t.Expiry,
	}
}
