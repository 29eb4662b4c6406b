// Spotify Web API source
//
// Response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotidal/internal/batch"
	"github.com/desertthunder/spotidal/internal/models"
	"github.com/desertthunder/spotidal/internal/shared"
	"github.com/samber/lo"
	"golang.org/x/oauth2"
)

const (
	spotifyAuthURL  = "https://accounts.spotify.com/authorize"
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	SpotifyBaseURL  = "https://api.spotify.com/v1"

	// DefaultRedirectURI is where the local callback server listens.
	DefaultRedirectURI = "http://127.0.0.1:3000/callback"

	spotifyPlaylistPageSize = 50
	spotifyTrackPageSize    = 100
	spotifyMaxSeveralTracks = 50
)

// SpotifyUser represents a Spotify user profile.
type SpotifyUser struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"display_name"`
	Email       string         `json:"email"`
	Country     string         `json:"country"`
	Product     string         `json:"product"` // premium, free, etc.
	Images      []SpotifyImage `json:"images"`
}

// SpotifyImage represents an image resource.
type SpotifyImage struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

type externalIDs struct {
	ISRC string `json:"isrc"`
}

// SpotifyTrack represents a Spotify track.
type SpotifyTrack struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Artists     []SpotifyArtist `json:"artists"`
	Album       SpotifyAlbum    `json:"album"`
	DurationMS  int             `json:"duration_ms"`
	Explicit    bool            `json:"explicit"`
	ExternalIDs externalIDs     `json:"external_ids"`
	IsLocal     bool            `json:"is_local"`
	URI         string          `json:"uri"`
}

// SpotifyArtist represents a simplified Spotify artist.
type SpotifyArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SpotifyAlbum represents a simplified Spotify album.
type SpotifyAlbum struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	ReleaseDate string         `json:"release_date"`
	Images      []SpotifyImage `json:"images"`
}

// SpotifyOwner is the owner of a playlist.
type SpotifyOwner struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type trackRef struct {
	Total int `json:"total"`
}

// SpotifyPlaylist represents a playlist object; list endpoints return the same shape.
type SpotifyPlaylist struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Owner       SpotifyOwner   `json:"owner"`
	Public      bool           `json:"public"`
	Tracks      trackRef       `json:"tracks"`
	Images      []SpotifyImage `json:"images"`
	URI         string         `json:"uri"`
}

// SpotifyPlaylistTrack represents a track within a playlist context.
//
// Track is nil for removed or unavailable items.
type SpotifyPlaylistTrack struct {
	AddedAt string        `json:"added_at"`
	Track   *SpotifyTrack `json:"track"`
}

// SpotifyPaging is Spotify's offset-based paging envelope.
type SpotifyPaging[T any] struct {
	Items  []T     `json:"items"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
	Next   *string `json:"next"`
}

// SpotifyOAuthConfig builds the OAuth2 configuration for the authorization code flow.
func SpotifyOAuthConfig(creds shared.SpotifyConfig) (*oauth2.Config, error) {
	if creds.ClientID == "" {
		return nil, fmt.Errorf("%w: spotify client_id", shared.ErrMissingCredentials)
	}
	if creds.ClientSecret == "" {
		return nil, fmt.Errorf("%w: spotify client_secret", shared.ErrMissingCredentials)
	}

	redirect := creds.RedirectURI
	if redirect == "" {
		redirect = DefaultRedirectURI
	}

	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  redirect,
		Scopes: []string{
			"user-read-private",
			"user-read-email",
			"playlist-read-private",
			"playlist-read-collaborative",
		},
		Endpoint: oauth2.Endpoint{
			AuthURL:  spotifyAuthURL,
			TokenURL: spotifyTokenURL,
		},
	}, nil
}

// SpotifyOptions tunes a [SpotifyService]. Zero values select defaults.
type SpotifyOptions struct {
	Client *RESTClient
	Pages  batch.PageOptions
	Logger *log.Logger
}

// SpotifyService reads playlists from the Spotify Web API.
type SpotifyService struct {
	config *oauth2.Config
	tokens TokenSource
	client *RESTClient
	pages  batch.PageOptions
	logger *log.Logger
}

// NewSpotifyService creates a Spotify source. tokens supplies the access token per request.
func NewSpotifyService(config *oauth2.Config, tokens TokenSource, opts SpotifyOptions) (*SpotifyService, error) {
	if config == nil {
		return nil, fmt.Errorf("%w: spotify oauth config", shared.ErrMissingCredentials)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	client := opts.Client
	if client == nil {
		var err error
		if client, err = NewRESTClient(models.ServiceSpotify, SpotifyBaseURL, WithClientLogger(logger)); err != nil {
			return nil, err
		}
	}

	pages := opts.Pages
	if pages.Delay == 0 {
		pages.Delay = batch.DefaultPageDelay
	}
	pages.Logger = lo.Ternary(pages.Logger != nil, pages.Logger, logger)

	return &SpotifyService{
		config: config,
		tokens: tokens,
		client: client,
		pages:  pages,
		logger: logger,
	}, nil
}

func (s *SpotifyService) Name() string {
	return "Spotify"
}

// OAuthConfig returns the OAuth2 configuration used for login.
func (s *SpotifyService) OAuthConfig() *oauth2.Config {
	return s.config
}

// GetAuthURL returns the OAuth2 authorization URL for user login.
func (s *SpotifyService) GetAuthURL(state string) string {
	return s.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Client exposes the underlying REST client for raw requests.
func (s *SpotifyService) Client() *RESTClient {
	return s.client
}

func (s *SpotifyService) accessToken(ctx context.Context) (string, error) {
	if s.tokens == nil {
		return "", shared.ErrNotAuthenticated
	}
	tok, err := s.tokens.Token(ctx)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

func (s *SpotifyService) get(ctx context.Context, path string, query url.Values, out any) error {
	token, err := s.accessToken(ctx)
	if err != nil {
		return err
	}
	return s.client.Get(ctx, Request{Path: path, Query: query, Token: token}, out)
}

// cursorFrom turns a "next" link into a cursor relative to the API root.
func (s *SpotifyService) cursorFrom(next *string) batch.Cursor {
	if next == nil {
		return ""
	}
	return batch.Cursor(s.client.RelativePath(*next))
}

// UserProfile retrieves the current authenticated user's profile.
func (s *SpotifyService) UserProfile(ctx context.Context) (*SpotifyUser, error) {
	var user SpotifyUser
	if err := s.get(ctx, "/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Track retrieves a single track by ID.
func (s *SpotifyService) Track(ctx context.Context, trackID string) (*SpotifyTrack, error) {
	var track SpotifyTrack
	if err := s.get(ctx, "/tracks/"+url.PathEscape(trackID), nil, &track); err != nil {
		return nil, err
	}
	return &track, nil
}

// SeveralTracks retrieves multiple tracks by their IDs (up to 50).
func (s *SpotifyService) SeveralTracks(ctx context.Context, trackIDs []string) ([]SpotifyTrack, error) {
	if len(trackIDs) == 0 {
		return nil, fmt.Errorf("%w: no track IDs provided", shared.ErrMissingArgument)
	}
	if len(trackIDs) > spotifyMaxSeveralTracks {
		return nil, fmt.Errorf("%w: maximum %d track IDs allowed", shared.ErrInvalidArgument, spotifyMaxSeveralTracks)
	}

	var response struct {
		Tracks []*SpotifyTrack `json:"tracks"`
	}
	query := url.Values{"ids": {strings.Join(trackIDs, ",")}}
	if err := s.get(ctx, "/tracks", query, &response); err != nil {
		return nil, err
	}

	// unknown ids come back as null entries
	tracks := lo.Filter(response.Tracks, func(t *SpotifyTrack, _ int) bool { return t != nil })
	return lo.Map(tracks, func(t *SpotifyTrack, _ int) SpotifyTrack { return *t }), nil
}

// Playlist retrieves a playlist by ID.
func (s *SpotifyService) Playlist(ctx context.Context, playlistID string) (*SpotifyPlaylist, error) {
	var playlist SpotifyPlaylist
	query := url.Values{"fields": {"id,name,description,owner,public,tracks.total,images,uri"}}
	if err := s.get(ctx, "/playlists/"+url.PathEscape(playlistID), query, &playlist); err != nil {
		return nil, err
	}
	return &playlist, nil
}

// UserPlaylists walks every page of the current user's playlists.
func (s *SpotifyService) UserPlaylists(ctx context.Context) ([]SpotifyPlaylist, error) {
	start := batch.Cursor(fmt.Sprintf("/me/playlists?limit=%d", spotifyPlaylistPageSize))
	opts := s.pages
	opts.Operation = "spotify.playlists"

	return batch.Paginate(ctx, start, func(ctx context.Context, cursor batch.Cursor) (batch.Page[SpotifyPlaylist], error) {
		var page SpotifyPaging[SpotifyPlaylist]
		if err := s.get(ctx, string(cursor), nil, &page); err != nil {
			return batch.Page[SpotifyPlaylist]{}, err
		}
		return batch.Page[SpotifyPlaylist]{Items: page.Items, Next: s.cursorFrom(page.Next)}, nil
	}, opts)
}

// PlaylistTracks walks every page of a playlist's items, pausing between pages.
func (s *SpotifyService) PlaylistTracks(ctx context.Context, playlistID string) ([]SpotifyPlaylistTrack, error) {
	start := batch.Cursor(fmt.Sprintf("/playlists/%s/tracks?limit=%d", url.PathEscape(playlistID), spotifyTrackPageSize))
	opts := s.pages
	opts.Operation = "spotify.playlist_tracks"

	return batch.Paginate(ctx, start, func(ctx context.Context, cursor batch.Cursor) (batch.Page[SpotifyPlaylistTrack], error) {
		var page SpotifyPaging[SpotifyPlaylistTrack]
		if err := s.get(ctx, string(cursor), nil, &page); err != nil {
			return batch.Page[SpotifyPlaylistTrack]{}, err
		}
		return batch.Page[SpotifyPlaylistTrack]{Items: page.Items, Next: s.cursorFrom(page.Next)}, nil
	}, opts)
}

// GetPlaylists retrieves all playlists for the authenticated user.
func (s *SpotifyService) GetPlaylists(ctx context.Context) ([]models.Playlist, error) {
	playlists, err := s.UserPlaylists(ctx)
	if err != nil {
		return nil, err
	}
	return lo.Map(playlists, func(sp SpotifyPlaylist, _ int) models.Playlist { return sp.toModel() }), nil
}

// GetPlaylist retrieves a specific playlist by ID.
func (s *SpotifyService) GetPlaylist(ctx context.Context, playlistID string) (*models.Playlist, error) {
	sp, err := s.Playlist(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	p := sp.toModel()
	return &p, nil
}

// FindPlaylistByName returns the first playlist whose name matches, ignoring case.
func (s *SpotifyService) FindPlaylistByName(ctx context.Context, name string) (*models.Playlist, error) {
	playlists, err := s.GetPlaylists(ctx)
	if err != nil {
		return nil, err
	}
	p, ok := lo.Find(playlists, func(p models.Playlist) bool { return strings.EqualFold(p.Name, name) })
	if !ok {
		return nil, fmt.Errorf("%w: %q on Spotify", shared.ErrPlaylistNotFound, name)
	}
	return &p, nil
}

// ExportPlaylist exports a playlist with all its tracks.
//
// Removed items (null track) are skipped.
func (s *SpotifyService) ExportPlaylist(ctx context.Context, playlistID string) (*models.PlaylistExport, error) {
	sp, err := s.Playlist(ctx, playlistID)
	if err != nil {
		return nil, err
	}

	items, err := s.PlaylistTracks(ctx, playlistID)
	if err != nil {
		return nil, err
	}

	tracks := make([]models.Track, 0, len(items))
	for _, item := range items {
		if item.Track == nil {
			continue
		}
		tracks = append(tracks, item.Track.toModel())
	}

	s.logger.Debug("exported spotify playlist", "id", playlistID, "tracks", len(tracks), "skipped", len(items)-len(tracks))
	return &models.PlaylistExport{Playlist: sp.toModel(), Tracks: tracks}, nil
}

func (sp SpotifyPlaylist) toModel() models.Playlist {
	p := models.Playlist{
		ID:          sp.ID,
		Name:        sp.Name,
		Description: sp.Description,
		TrackCount:  sp.Tracks.Total,
		Public:      sp.Public,
	}
	if len(sp.Images) > 0 {
		p.ImageURL = sp.Images[0].URL
	}
	return p
}

func (t SpotifyTrack) toModel() models.Track {
	artists := lo.Map(t.Artists, func(a SpotifyArtist, _ int) string { return a.Name })
	track := models.Track{
		ID:          t.ID,
		Title:       t.Name,
		Artists:     artists,
		Album:       t.Album.Name,
		ReleaseDate: t.Album.ReleaseDate,
		Duration:    t.DurationMS / 1000,
		ISRC:        t.ExternalIDs.ISRC,
	}
	if len(artists) > 0 {
		track.Artist = artists[0]
	}
	return track
}
