// package services defines the Spotify source and Tidal destination clients
package services

import (
	"context"

	"github.com/desertthunder/spotidal/internal/batch"
	"github.com/desertthunder/spotidal/internal/models"
	"golang.org/x/oauth2"
)

// TokenSource hands out the current access token for a service.
//
// Implementations return [shared.ErrNotAuthenticated] when no token is stored.
type TokenSource interface {
	Token(ctx context.Context) (*oauth2.Token, error)
}

// Source is a service playlists are read from.
type Source interface {
	Name() string
	GetPlaylists(ctx context.Context) ([]models.Playlist, error)
	GetPlaylist(ctx context.Context, playlistID string) (*models.Playlist, error)
	ExportPlaylist(ctx context.Context, playlistID string) (*models.PlaylistExport, error)
}

// Destination is a service playlists are written to.
//
// Every call after [Destination.NewSession] receives the session explicitly.
type Destination interface {
	Name() string
	NewSession(ctx context.Context) (*Session, error)
	LookupISRCs(ctx context.Context, sess *Session, isrcs []string) (*batch.Result[string, models.Track], error)
	SearchTrack(ctx context.Context, sess *Session, title, artist string) (*models.Track, error)
	GetPlaylists(ctx context.Context, sess *Session) ([]models.Playlist, error)
	FindPlaylistByName(ctx context.Context, sess *Session, name string) (*models.Playlist, error)
	GetPlaylist(ctx context.Context, sess *Session, playlistID string) (*models.Playlist, error)
	// PlaylistItemIDs lists every track id on the playlist without resolving track details.
	PlaylistItemIDs(ctx context.Context, sess *Session, playlistID string) ([]string, error)
	ExportPlaylist(ctx context.Context, sess *Session, playlistID string) (*models.PlaylistExport, error)
	CreatePlaylist(ctx context.Context, sess *Session, name, description string, public bool) (*models.Playlist, error)
	AddTracks(ctx context.Context, sess *Session, playlistID string, trackIDs []string) (*batch.Result[string, AddedChunk], error)
}

// Session carries the per-user state a destination needs on every call.
//
// It is created once at the start of a workflow and never mutated afterwards.
type Session struct {
	Service     string
	UserID      string
	Username    string
	CountryCode string
	Token       *oauth2.Token
}

// AccessToken returns the bearer token, or "" when the session has none.
func (s *Session) AccessToken() string {
	if s == nil || s.Token == nil {
		return ""
	}
	return s.Token.AccessToken
}

// AddedChunk is the acknowledgement for one chunk of tracks written to a playlist.
type AddedChunk struct {
	PlaylistID string
	TrackIDs   []string
}
