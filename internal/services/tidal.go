// Tidal OpenAPI v2 destination
//
// Tidal speaks JSON:API: resources live under "data", related resources requested with
// "include" arrive in "included", and the next page is linked from "links.next".
package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotidal/internal/batch"
	"github.com/desertthunder/spotidal/internal/models"
	"github.com/desertthunder/spotidal/internal/shared"
	"github.com/samber/lo"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

const (
	tidalAuthURL  = "https://login.tidal.com/authorize"
	tidalTokenURL = "https://auth.tidal.com/v1/oauth2/token"
	TidalBaseURL  = "https://openapi.tidal.com/v2"

	// DefaultCountryCode is used when the user profile carries no country.
	DefaultCountryCode = "US"

	// tidalMaxIDs is the most ids Tidal accepts per filter or relationship write.
	tidalMaxIDs = 20

	accessPublic   = "PUBLIC"
	accessUnlisted = "UNLISTED"
)

var tidalDefaultScopes = []string{"user.read", "playlists.read", "playlists.write", "search.read"}

// TidalOAuthConfig builds the OAuth2 configuration for authorization code with PKCE.
func TidalOAuthConfig(creds shared.TidalConfig) (*oauth2.Config, error) {
	if creds.ClientID == "" {
		return nil, fmt.Errorf("%w: tidal client_id", shared.ErrMissingCredentials)
	}

	redirect := creds.RedirectURI
	if redirect == "" {
		redirect = DefaultRedirectURI
	}
	scopes := creds.Scopes
	if len(scopes) == 0 {
		scopes = tidalDefaultScopes
	}

	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  redirect,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   tidalAuthURL,
			TokenURL:  tidalTokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}, nil
}

// TidalOptions tunes a [TidalService]. Zero values select defaults.
type TidalOptions struct {
	Client         *RESTClient
	Batch          batch.Options
	Pages          batch.PageOptions
	Logger         *log.Logger
	DefaultCountry string
}

// TidalService writes playlists through the Tidal OpenAPI.
type TidalService struct {
	config  *oauth2.Config
	tokens  TokenSource
	client  *RESTClient
	batch   batch.Options
	pages   batch.PageOptions
	country string
	logger  *log.Logger
}

// NewTidalService creates a Tidal destination.
func NewTidalService(config *oauth2.Config, tokens TokenSource, opts TidalOptions) (*TidalService, error) {
	if config == nil {
		return nil, fmt.Errorf("%w: tidal oauth config", shared.ErrMissingCredentials)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	client := opts.Client
	if client == nil {
		var err error
		client, err = NewRESTClient(models.ServiceTidal, TidalBaseURL,
			WithContentType(contentTypeJSONAPI), WithClientLogger(logger))
		if err != nil {
			return nil, err
		}
	}

	b := opts.Batch
	b.ChunkSize = min(lo.Ternary(b.ChunkSize > 0, b.ChunkSize, tidalMaxIDs), tidalMaxIDs)
	b.Logger = lo.Ternary(b.Logger != nil, b.Logger, logger)

	pages := opts.Pages
	if pages.Delay == 0 {
		pages.Delay = 2 * batch.DefaultPageDelay
	}
	pages.Logger = lo.Ternary(pages.Logger != nil, pages.Logger, logger)

	return &TidalService{
		config:  config,
		tokens:  tokens,
		client:  client,
		batch:   b,
		pages:   pages,
		country: lo.Ternary(opts.DefaultCountry != "", opts.DefaultCountry, DefaultCountryCode),
		logger:  logger,
	}, nil
}

func (t *TidalService) Name() string {
	return "Tidal"
}

// OAuthConfig returns the OAuth2 configuration used for login.
func (t *TidalService) OAuthConfig() *oauth2.Config {
	return t.config
}

// GetAuthURL returns the authorization URL carrying the PKCE challenge for verifier.
func (t *TidalService) GetAuthURL(state, verifier string) string {
	return t.config.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

// Client exposes the underlying REST client for raw requests.
func (t *TidalService) Client() *RESTClient {
	return t.client
}

// NewSession resolves the current user and country once, for use by every later call.
func (t *TidalService) NewSession(ctx context.Context) (*Session, error) {
	if t.tokens == nil {
		return nil, shared.ErrNotAuthenticated
	}
	tok, err := t.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := t.client.Do(ctx, Request{Path: "/users/me", Token: tok.AccessToken})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tidal user: %w", err)
	}

	user := gjson.GetBytes(resp.Body, "data")
	if !user.Exists() {
		return nil, fmt.Errorf("%w: /users/me", shared.ErrEmptyResponse)
	}

	sess := &Session{
		Service:     models.ServiceTidal,
		UserID:      user.Get("id").String(),
		Username:    user.Get("attributes.username").String(),
		CountryCode: strings.ToUpper(user.Get("attributes.country").String()),
		Token:       tok,
	}
	if sess.CountryCode == "" {
		sess.CountryCode = t.country
	}

	t.logger.Debug("tidal session", "user", sess.UserID, "country", sess.CountryCode)
	return sess, nil
}

func (t *TidalService) query(sess *Session, kv ...string) url.Values {
	q := url.Values{"countryCode": {sess.CountryCode}}
	for i := 0; i+1 < len(kv); i += 2 {
		q.Add(kv[i], kv[i+1])
	}
	return q
}

// guard converts auth failures into aborts so a staggered run stops at the first one.
func guard(err error) error {
	if IsAuthError(err) {
		return batch.Abort(err)
	}
	return err
}

// LookupISRCs resolves ISRCs to Tidal tracks, twenty per request.
//
// A chunk whose response carries no "data" member aborts the run with
// [shared.ErrEmptyResponse]; the remaining chunks are not requested. Tracks come back in
// response order; an ISRC may map to several tracks or to none.
func (t *TidalService) LookupISRCs(ctx context.Context, sess *Session, isrcs []string) (*batch.Result[string, models.Track], error) {
	opts := t.batch
	opts.Operation = "tidal.isrc_lookup"

	return batch.Stagger(ctx, isrcs, func(ctx context.Context, chunk []string) ([]models.Track, error) {
		q := t.query(sess, "include", "artists,albums")
		for _, isrc := range chunk {
			q.Add("filter[isrc]", isrc)
		}

		resp, err := t.client.Do(ctx, Request{Path: "/tracks", Query: q, Token: sess.AccessToken()})
		if err != nil {
			return nil, guard(err)
		}
		if !gjson.GetBytes(resp.Body, "data").IsArray() {
			return nil, batch.Abort(fmt.Errorf("%w: isrc lookup for %d codes", shared.ErrEmptyResponse, len(chunk)))
		}
		return parseTracks(resp.Body), nil
	}, opts)
}

// LookupTracks fetches track details by Tidal id, twenty per request.
func (t *TidalService) LookupTracks(ctx context.Context, sess *Session, ids []string) (*batch.Result[string, models.Track], error) {
	opts := t.batch
	opts.Operation = "tidal.track_lookup"

	return batch.Stagger(ctx, ids, func(ctx context.Context, chunk []string) ([]models.Track, error) {
		q := t.query(sess, "include", "artists,albums")
		for _, id := range chunk {
			q.Add("filter[id]", id)
		}

		resp, err := t.client.Do(ctx, Request{Path: "/tracks", Query: q, Token: sess.AccessToken()})
		if err != nil {
			return nil, guard(err)
		}
		tracks := parseTracks(resp.Body)

		// filter[id] does not promise ordering
		byID := lo.KeyBy(tracks, func(tr models.Track) string { return tr.ID })
		return lo.FilterMap(chunk, func(id string, _ int) (models.Track, bool) {
			tr, ok := byID[id]
			return tr, ok
		}), nil
	}, opts)
}

// SearchTrack finds the best Tidal match for a title and artist.
func (t *TidalService) SearchTrack(ctx context.Context, sess *Session, title, artist string) (*models.Track, error) {
	term := strings.TrimSpace(title + " " + artist)
	if term == "" {
		return nil, fmt.Errorf("%w: empty search", shared.ErrInvalidInput)
	}

	q := t.query(sess, "include", "tracks", "explicitFilter", "include")
	resp, err := t.client.Do(ctx, Request{
		Path:  "/searchResults/" + url.PathEscape(term),
		Query: q,
		Token: sess.AccessToken(),
	})
	if err != nil {
		return nil, err
	}

	candidates := parseIncludedTracks(resp.Body)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: %q", shared.ErrTrackNotFound, term)
	}
	best := bestMatch(candidates, title, artist)
	return &best, nil
}

// bestMatch prefers an exact normalized title+artist match, then a title match, then the top hit.
func bestMatch(candidates []models.Track, title, artist string) models.Track {
	want := shared.NormalizeTrackKey(title, artist)
	if tr, ok := lo.Find(candidates, func(tr models.Track) bool {
		return shared.NormalizeTrackKey(tr.Title, tr.Artist) == want
	}); ok {
		return tr
	}

	wantTitle := shared.NormalizeTrackKey(title, "")
	if tr, ok := lo.Find(candidates, func(tr models.Track) bool {
		return shared.NormalizeTrackKey(tr.Title, "") == wantTitle
	}); ok {
		return tr
	}
	return candidates[0]
}

// GetPlaylists lists the playlists owned by the session user.
func (t *TidalService) GetPlaylists(ctx context.Context, sess *Session) ([]models.Playlist, error) {
	opts := t.pages
	opts.Operation = "tidal.playlists"

	return batch.Paginate(ctx, "", func(ctx context.Context, cursor batch.Cursor) (batch.Page[models.Playlist], error) {
		q := t.query(sess, "filter[r.owners.id]", sess.UserID)
		if !cursor.Done() {
			q.Set("page[cursor]", string(cursor))
		}

		resp, err := t.client.Do(ctx, Request{Path: "/playlists", Query: q, Token: sess.AccessToken()})
		if err != nil {
			return batch.Page[models.Playlist]{}, err
		}

		var items []models.Playlist
		gjson.GetBytes(resp.Body, "data").ForEach(func(_, v gjson.Result) bool {
			items = append(items, playlistFrom(v))
			return true
		})
		return batch.Page[models.Playlist]{Items: items, Next: nextCursor(resp.Body)}, nil
	}, opts)
}

// FindPlaylistByName returns the session user's playlist with name, ignoring case.
func (t *TidalService) FindPlaylistByName(ctx context.Context, sess *Session, name string) (*models.Playlist, error) {
	playlists, err := t.GetPlaylists(ctx, sess)
	if err != nil {
		return nil, err
	}
	p, ok := lo.Find(playlists, func(p models.Playlist) bool { return strings.EqualFold(p.Name, name) })
	if !ok {
		return nil, fmt.Errorf("%w: %q on Tidal", shared.ErrPlaylistNotFound, name)
	}
	return &p, nil
}

// GetPlaylist fetches playlist metadata.
func (t *TidalService) GetPlaylist(ctx context.Context, sess *Session, playlistID string) (*models.Playlist, error) {
	resp, err := t.client.Do(ctx, Request{
		Path:  "/playlists/" + url.PathEscape(playlistID),
		Query: t.query(sess),
		Token: sess.AccessToken(),
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
			return nil, fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, playlistID)
		}
		return nil, err
	}

	data := gjson.GetBytes(resp.Body, "data")
	if !data.Exists() {
		return nil, fmt.Errorf("%w: playlist %s", shared.ErrEmptyResponse, playlistID)
	}
	p := playlistFrom(data)
	return &p, nil
}

// PlaylistItemIDs walks the playlist's item relationship, returning track ids in order.
func (t *TidalService) PlaylistItemIDs(ctx context.Context, sess *Session, playlistID string) ([]string, error) {
	opts := t.pages
	opts.Operation = "tidal.playlist_items"
	path := "/playlists/" + url.PathEscape(playlistID) + "/relationships/items"

	return batch.Paginate(ctx, "", func(ctx context.Context, cursor batch.Cursor) (batch.Page[string], error) {
		q := t.query(sess)
		if !cursor.Done() {
			q.Set("page[cursor]", string(cursor))
		}

		resp, err := t.client.Do(ctx, Request{Path: path, Query: q, Token: sess.AccessToken()})
		if err != nil {
			return batch.Page[string]{}, err
		}

		var ids []string
		gjson.GetBytes(resp.Body, "data").ForEach(func(_, v gjson.Result) bool {
			if v.Get("type").String() == "tracks" {
				ids = append(ids, v.Get("id").String())
			}
			return true
		})
		return batch.Page[string]{Items: ids, Next: nextCursor(resp.Body)}, nil
	}, opts)
}

// ExportPlaylist exports a Tidal playlist with track details.
//
// Tracks in chunks that fail to resolve are left out; the failure is logged by the stagger.
func (t *TidalService) ExportPlaylist(ctx context.Context, sess *Session, playlistID string) (*models.PlaylistExport, error) {
	playlist, err := t.GetPlaylist(ctx, sess, playlistID)
	if err != nil {
		return nil, err
	}

	ids, err := t.PlaylistItemIDs(ctx, sess, playlistID)
	if err != nil {
		return nil, err
	}

	res, err := t.LookupTracks(ctx, sess, ids)
	if err != nil {
		return nil, err
	}
	if len(res.Failed) > 0 {
		t.logger.Warn("some playlist tracks could not be resolved", "playlist", playlistID, "missing", len(res.FailedItems()))
	}

	playlist.TrackCount = len(ids)
	return &models.PlaylistExport{Playlist: *playlist, Tracks: res.Succeeded}, nil
}

// CreatePlaylist creates a playlist owned by the session user.
func (t *TidalService) CreatePlaylist(ctx context.Context, sess *Session, name, description string, public bool) (*models.Playlist, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: playlist name", shared.ErrMissingArgument)
	}

	body := map[string]any{
		"data": map[string]any{
			"type": "playlists",
			"attributes": map[string]any{
				"name":        name,
				"description": description,
				"accessType":  lo.Ternary(public, accessPublic, accessUnlisted),
			},
		},
	}

	resp, err := t.client.Do(ctx, Request{
		Method: "POST",
		Path:   "/playlists",
		Query:  t.query(sess),
		Body:   body,
		Token:  sess.AccessToken(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tidal playlist: %w", err)
	}

	data := gjson.GetBytes(resp.Body, "data")
	if data.Get("id").String() == "" {
		return nil, fmt.Errorf("%w: created playlist has no id", shared.ErrEmptyResponse)
	}

	p := playlistFrom(data)
	t.logger.Info("created tidal playlist", "id", p.ID, "name", p.Name)
	return &p, nil
}

// AddTracks appends tracks to a playlist, twenty per request.
//
// Each successful chunk contributes one [AddedChunk], so len(Succeeded) counts successful writes.
func (t *TidalService) AddTracks(ctx context.Context, sess *Session, playlistID string, trackIDs []string) (*batch.Result[string, AddedChunk], error) {
	opts := t.batch
	opts.Operation = "tidal.add_tracks"
	path := "/playlists/" + url.PathEscape(playlistID) + "/relationships/items"

	return batch.Stagger(ctx, trackIDs, func(ctx context.Context, chunk []string) ([]AddedChunk, error) {
		refs := lo.Map(chunk, func(id string, _ int) map[string]string {
			return map[string]string{"id": id, "type": "tracks"}
		})

		_, err := t.client.Do(ctx, Request{
			Method: "POST",
			Path:   path,
			Query:  t.query(sess),
			Body:   map[string]any{"data": refs},
			Token:  sess.AccessToken(),
		})
		if err != nil {
			return nil, guard(err)
		}
		return []AddedChunk{{PlaylistID: playlistID, TrackIDs: chunk}}, nil
	}, opts)
}

// nextCursor extracts page[cursor] from links.next, or "" on the last page.
func nextCursor(body []byte) batch.Cursor {
	next := gjson.GetBytes(body, "links.next").String()
	if next == "" {
		return ""
	}
	u, err := url.Parse(next)
	if err != nil {
		return ""
	}
	return batch.Cursor(u.Query().Get("page[cursor]"))
}

func playlistFrom(v gjson.Result) models.Playlist {
	attrs := v.Get("attributes")
	return models.Playlist{
		ID:          v.Get("id").String(),
		Name:        attrs.Get("name").String(),
		Description: attrs.Get("description").String(),
		TrackCount:  int(attrs.Get("numberOfItems").Int()),
		Public:      attrs.Get("accessType").String() == accessPublic,
	}
}

// includedIndex keys the "included" array by type and id.
func includedIndex(body []byte) map[string]gjson.Result {
	idx := map[string]gjson.Result{}
	gjson.GetBytes(body, "included").ForEach(func(_, v gjson.Result) bool {
		idx[v.Get("type").String()+":"+v.Get("id").String()] = v
		return true
	})
	return idx
}

// parseTracks reads track resources from "data", resolving artists and album from "included".
func parseTracks(body []byte) []models.Track {
	idx := includedIndex(body)
	var tracks []models.Track
	gjson.GetBytes(body, "data").ForEach(func(_, v gjson.Result) bool {
		if v.Get("type").String() == "tracks" {
			tracks = append(tracks, trackFrom(v, idx))
		}
		return true
	})
	return tracks
}

// parseIncludedTracks reads track resources from "included", in the order the search ranked them.
func parseIncludedTracks(body []byte) []models.Track {
	idx := includedIndex(body)
	order := gjson.GetBytes(body, "data.relationships.tracks.data.#.id").Array()

	var tracks []models.Track
	for _, id := range order {
		if v, ok := idx["tracks:"+id.String()]; ok {
			tracks = append(tracks, trackFrom(v, idx))
		}
	}
	if len(tracks) == 0 {
		gjson.GetBytes(body, "included").ForEach(func(_, v gjson.Result) bool {
			if v.Get("type").String() == "tracks" {
				tracks = append(tracks, trackFrom(v, idx))
			}
			return true
		})
	}
	return tracks
}

func trackFrom(v gjson.Result, idx map[string]gjson.Result) models.Track {
	attrs := v.Get("attributes")
	track := models.Track{
		ID:       v.Get("id").String(),
		Title:    attrs.Get("title").String(),
		ISRC:     attrs.Get("isrc").String(),
		Duration: parseISODuration(attrs.Get("duration").String()),
	}

	for _, ref := range v.Get("relationships.artists.data.#.id").Array() {
		if a, ok := idx["artists:"+ref.String()]; ok {
			track.Artists = append(track.Artists, a.Get("attributes.name").String())
		}
	}
	if len(track.Artists) > 0 {
		track.Artist = track.Artists[0]
	}

	if ref := v.Get("relationships.albums.data.0.id"); ref.Exists() {
		if a, ok := idx["albums:"+ref.String()]; ok {
			track.Album = a.Get("attributes.title").String()
			track.ReleaseDate = a.Get("attributes.releaseDate").String()
		}
	}
	return track
}
