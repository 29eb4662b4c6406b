// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/desertthunder/spotidal/internal/batch"
	"github.com/desertthunder/spotidal/internal/models"
	"github.com/desertthunder/spotidal/internal/services"
	"github.com/desertthunder/spotidal/internal/shared"
	"github.com/samber/lo"
	"golang.org/x/oauth2"
)

// MockSource is an in-memory [services.Source] keyed by playlist ID.
type MockSource struct {
	Playlists map[string]*models.PlaylistExport
	// ExportErr, when set, fails ExportPlaylist for the listed IDs.
	ExportErr map[string]error
}

var _ services.Source = (*MockSource)(nil)

// NewMockSource indexes exports by playlist ID.
func NewMockSource(exports ...*models.PlaylistExport) *MockSource {
	return &MockSource{
		Playlists: lo.KeyBy(exports, func(e *models.PlaylistExport) string { return e.Playlist.ID }),
		ExportErr: map[string]error{},
	}
}

func (m *MockSource) Name() string { return "Spotify" }

func (m *MockSource) GetPlaylists(context.Context) ([]models.Playlist, error) {
	playlists := lo.MapToSlice(m.Playlists, func(_ string, e *models.PlaylistExport) models.Playlist { return e.Playlist })
	slices.SortFunc(playlists, func(a, b models.Playlist) int { return strings.Compare(a.ID, b.ID) })
	return playlists, nil
}

func (m *MockSource) GetPlaylist(_ context.Context, id string) (*models.Playlist, error) {
	e, ok := m.Playlists[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, id)
	}
	return &e.Playlist, nil
}

func (m *MockSource) ExportPlaylist(_ context.Context, id string) (*models.PlaylistExport, error) {
	if err := m.ExportErr[id]; err != nil {
		return nil, err
	}
	e, ok := m.Playlists[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, id)
	}
	return e, nil
}

// MockDestination is an in-memory [services.Destination].
//
// Lookups and additions run through [batch.Stagger] without pauses, so chunk failures
// surface exactly as they do against the real API.
type MockDestination struct {
	mu sync.Mutex

	// Catalog maps ISRC to the destination track.
	Catalog map[string]models.Track
	// Searchable maps [shared.NormalizeTrackKey] of title and artist to a track.
	Searchable map[string]models.Track
	Playlists  map[string]*models.PlaylistExport
	ChunkSize  int

	SessionErr error
	// FailLookup and FailAdd, when set, decide per chunk whether it fails.
	FailLookup func(chunk []string) error
	FailAdd    func(chunk []string) error

	LookupChunks [][]string
	AddChunks    [][]string
	Searches     []string
	nextID       int
}

var _ services.Destination = (*MockDestination)(nil)

// NewMockDestination returns an empty destination with twenty items per chunk.
func NewMockDestination() *MockDestination {
	return &MockDestination{
		Catalog:    map[string]models.Track{},
		Searchable: map[string]models.Track{},
		Playlists:  map[string]*models.PlaylistExport{},
		ChunkSize:  20,
	}
}

// AddTrack registers tr under its ISRC, and under title and artist when searchable.
func (m *MockDestination) AddTrack(tr models.Track, searchable bool) {
	if tr.ISRC != "" {
		m.Catalog[tr.ISRC] = tr
	}
	if searchable {
		m.Searchable[shared.NormalizeTrackKey(tr.Title, tr.Artist)] = tr
	}
}

func (m *MockDestination) Name() string { return "Tidal" }

func (m *MockDestination) NewSession(context.Context) (*services.Session, error) {
	if m.SessionErr != nil {
		return nil, m.SessionErr
	}
	return &services.Session{
		Service:     models.ServiceTidal,
		UserID:      "user-1",
		Username:    "tester",
		CountryCode: "US",
		Token:       &oauth2.Token{AccessToken: "mock"},
	}, nil
}

func (m *MockDestination) opts(op string) batch.Options {
	return batch.Options{Operation: op, ChunkSize: m.ChunkSize, Delay: -1}
}

func (m *MockDestination) LookupISRCs(ctx context.Context, _ *services.Session, isrcs []string) (*batch.Result[string, models.Track], error) {
	return batch.Stagger(ctx, isrcs, func(_ context.Context, chunk []string) ([]models.Track, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.LookupChunks = append(m.LookupChunks, slices.Clone(chunk))
		if m.FailLookup != nil {
			if err := m.FailLookup(chunk); err != nil {
				return nil, err
			}
		}
		return lo.FilterMap(chunk, func(isrc string, _ int) (models.Track, bool) {
			tr, ok := m.Catalog[isrc]
			return tr, ok
		}), nil
	}, m.opts("mock.isrc_lookup"))
}

func (m *MockDestination) SearchTrack(_ context.Context, _ *services.Session, title, artist string) (*models.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := shared.NormalizeTrackKey(title, artist)
	m.Searches = append(m.Searches, key)
	tr, ok := m.Searchable[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s - %s", shared.ErrTrackNotFound, title, artist)
	}
	return &tr, nil
}

func (m *MockDestination) GetPlaylists(context.Context, *services.Session) ([]models.Playlist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	playlists := lo.MapToSlice(m.Playlists, func(_ string, e *models.PlaylistExport) models.Playlist { return e.Playlist })
	slices.SortFunc(playlists, func(a, b models.Playlist) int { return strings.Compare(a.ID, b.ID) })
	return playlists, nil
}

func (m *MockDestination) FindPlaylistByName(ctx context.Context, sess *services.Session, name string) (*models.Playlist, error) {
	playlists, _ := m.GetPlaylists(ctx, sess)
	pl, ok := lo.Find(playlists, func(p models.Playlist) bool { return strings.EqualFold(p.Name, name) })
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, name)
	}
	return &pl, nil
}

func (m *MockDestination) GetPlaylist(_ context.Context, _ *services.Session, id string) (*models.Playlist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.Playlists[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, id)
	}
	pl := e.Playlist
	return &pl, nil
}

func (m *MockDestination) PlaylistItemIDs(_ context.Context, _ *services.Session, id string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.Playlists[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, id)
	}
	return lo.Map(e.Tracks, func(t models.Track, _ int) string { return t.ID }), nil
}

// ExportPlaylist resolves track details in staggered chunks like the real service, so a
// chunk rejected by FailLookup leaves its tracks out of the export.
func (m *MockDestination) ExportPlaylist(ctx context.Context, sess *services.Session, id string) (*models.PlaylistExport, error) {
	pl, err := m.GetPlaylist(ctx, sess, id)
	if err != nil {
		return nil, err
	}
	ids, _ := m.PlaylistItemIDs(ctx, sess, id)

	res, err := batch.Stagger(ctx, ids, func(_ context.Context, chunk []string) ([]models.Track, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.FailLookup != nil {
			if err := m.FailLookup(chunk); err != nil {
				return nil, err
			}
		}
		tracks := m.Playlists[id].Tracks
		return lo.Filter(tracks, func(t models.Track, _ int) bool { return lo.Contains(chunk, t.ID) }), nil
	}, m.opts("mock.track_lookup"))
	if err != nil {
		return nil, err
	}
	pl.TrackCount = len(ids)
	return &models.PlaylistExport{Playlist: *pl, Tracks: res.Succeeded}, nil
}

func (m *MockDestination) CreatePlaylist(_ context.Context, _ *services.Session, name, description string, public bool) (*models.Playlist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	pl := models.Playlist{ID: fmt.Sprintf("tidal-pl-%d", m.nextID), Name: name, Description: description, Public: public}
	m.Playlists[pl.ID] = &models.PlaylistExport{Playlist: pl}
	return &pl, nil
}

func (m *MockDestination) AddTracks(ctx context.Context, _ *services.Session, playlistID string, trackIDs []string) (*batch.Result[string, services.AddedChunk], error) {
	return batch.Stagger(ctx, trackIDs, func(_ context.Context, chunk []string) ([]services.AddedChunk, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.AddChunks = append(m.AddChunks, slices.Clone(chunk))
		if m.FailAdd != nil {
			if err := m.FailAdd(chunk); err != nil {
				return nil, err
			}
		}
		e, ok := m.Playlists[playlistID]
		if !ok {
			return nil, batch.Abort(fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, playlistID))
		}
		for _, id := range chunk {
			e.Tracks = append(e.Tracks, m.trackByID(id))
		}
		e.Playlist.TrackCount = len(e.Tracks)
		return []services.AddedChunk{{PlaylistID: playlistID, TrackIDs: slices.Clone(chunk)}}, nil
	}, m.opts("mock.add_tracks"))
}

func (m *MockDestination) trackByID(id string) models.Track {
	all := append(lo.Values(m.Catalog), lo.Values(m.Searchable)...)
	if tr, ok := lo.Find(all, func(t models.Track) bool { return t.ID == id }); ok {
		return tr
	}
	return models.Track{ID: id}
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// FCloser simulates a failure when reading response body
type FCloser struct{}

func (f *FCloser) Read(p []byte) (n int, err error) {
	return 0, errors.New("read failed")
}

func (f *FCloser) Close() error {
	return nil
}

// FWriter fails every write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func AssertDirExists(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		t.Errorf("Directory does not exist: %s", path)
		return
	}
	if !info.IsDir() {
		t.Errorf("Path is not a directory: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
