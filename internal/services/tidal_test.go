package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/desertthunder/spotidal/internal/batch"
	"github.com/desertthunder/spotidal/internal/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const tidalTrackDoc = `{
  "data": [
    {"id": "111", "type": "tracks",
     "attributes": {"title": "Song A", "isrc": "USAAA0000001", "duration": "PT3M35S"},
     "relationships": {
       "artists": {"data": [{"id": "a1", "type": "artists"}, {"id": "a2", "type": "artists"}]},
       "albums": {"data": [{"id": "al1", "type": "albums"}]}}},
    {"id": "222", "type": "tracks",
     "attributes": {"title": "Song B", "isrc": "USBBB0000002", "duration": "PT2M"}}
  ],
  "included": [
    {"id": "a1", "type": "artists", "attributes": {"name": "Artist A"}},
    {"id": "a2", "type": "artists", "attributes": {"name": "Feat B"}},
    {"id": "al1", "type": "albums", "attributes": {"title": "Album A", "releaseDate": "2001-02-03"}}
  ]
}`

// tidalFake records requests and answers from a handler map keyed by "METHOD path".
type tidalFake struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   []string
	handlers map[string]http.HandlerFunc
}

func (f *tidalFake) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, r)
	f.bodies = append(f.bodies, string(body))
	f.mu.Unlock()

	if h, ok := f.handlers[r.Method+" "+r.URL.Path]; ok {
		h(w, r)
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func newTestTidal(t *testing.T, handlers map[string]http.HandlerFunc) (*TidalService, *tidalFake) {
	t.Helper()
	fake := &tidalFake{handlers: handlers}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	config, err := TidalOAuthConfig(shared.TidalConfig{ClientID: "tidal_client"})
	require.NoError(t, err)

	srv, err := NewTidalService(config, staticTokens{tok: &oauth2.Token{AccessToken: "tok"}}, TidalOptions{
		Client: newTestClient(t, server.URL+"/v2", WithContentType(contentTypeJSONAPI)),
		Batch:  batch.Options{Sleep: noSleep, Logger: quietLogger()},
		Pages:  batch.PageOptions{Sleep: noSleep, Logger: quietLogger()},
		Logger: quietLogger(),
	})
	require.NoError(t, err)
	return srv, fake
}

func testSession() *Session {
	return &Session{UserID: "u1", CountryCode: "NO", Token: &oauth2.Token{AccessToken: "tok"}}
}

func isrcs(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("ISRC%08d", i)
	}
	return out
}

func TestTidalOAuthConfig(t *testing.T) {
	_, err := TidalOAuthConfig(shared.TidalConfig{})
	assert.ErrorIs(t, err, shared.ErrMissingCredentials)

	config, err := TidalOAuthConfig(shared.TidalConfig{ClientID: "id"})
	require.NoError(t, err)
	assert.Equal(t, tidalDefaultScopes, config.Scopes)
	assert.Equal(t, oauth2.AuthStyleInParams, config.Endpoint.AuthStyle)

	srv, err := NewTidalService(config, nil, TidalOptions{Logger: quietLogger()})
	require.NoError(t, err)
	authURL := srv.GetAuthURL("st", oauth2.GenerateVerifier())
	assert.Contains(t, authURL, "login.tidal.com")
	assert.Contains(t, authURL, "code_challenge_method=S256")
	assert.Contains(t, authURL, "state=st")
	assert.Equal(t, DefaultCountryCode, srv.country)
	assert.Equal(t, tidalMaxIDs, srv.batch.ChunkSize)
}

func TestTidalSession(t *testing.T) {
	t.Run("reads user and country", func(t *testing.T) {
		srv, fake := newTestTidal(t, map[string]http.HandlerFunc{
			"GET /v2/users/me": func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"data":{"id":"u1","type":"users","attributes":{"username":"sam","country":"no"}}}`)
			},
		})

		sess, err := srv.NewSession(context.Background())

		require.NoError(t, err)
		assert.Equal(t, "u1", sess.UserID)
		assert.Equal(t, "sam", sess.Username)
		assert.Equal(t, "NO", sess.CountryCode)
		assert.Equal(t, "tok", sess.AccessToken())
		assert.Equal(t, "Bearer tok", fake.requests[0].Header.Get("Authorization"))
		assert.Equal(t, contentTypeJSONAPI, fake.requests[0].Header.Get("Accept"))
	})

	t.Run("falls back to default country", func(t *testing.T) {
		srv, _ := newTestTidal(t, map[string]http.HandlerFunc{
			"GET /v2/users/me": func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"data":{"id":"u1","attributes":{}}}`)
			},
		})

		sess, err := srv.NewSession(context.Background())

		require.NoError(t, err)
		assert.Equal(t, DefaultCountryCode, sess.CountryCode)
	})

	t.Run("missing token makes no request", func(t *testing.T) {
		srv, fake := newTestTidal(t, nil)
		srv.tokens = staticTokens{err: shared.ErrNotAuthenticated}

		_, err := srv.NewSession(context.Background())

		assert.ErrorIs(t, err, shared.ErrNotAuthenticated)
		assert.Empty(t, fake.requests)
	})

	t.Run("nil session has no token", func(t *testing.T) {
		var sess *Session
		assert.Empty(t, sess.AccessToken())
	})
}

func TestTidalLookupISRCs(t *testing.T) {
	t.Run("chunks by twenty and parses included", func(t *testing.T) {
		srv, fake := newTestTidal(t, map[string]http.HandlerFunc{
			"GET /v2/tracks": func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Query()["filter[isrc]"][0] == "ISRC00000000" {
					fmt.Fprint(w, tidalTrackDoc)
					return
				}
				fmt.Fprint(w, `{"data":[]}`)
			},
		})

		res, err := srv.LookupISRCs(context.Background(), testSession(), isrcs(45))

		require.NoError(t, err)
		require.Len(t, fake.requests, 3)
		assert.Len(t, fake.requests[0].URL.Query()["filter[isrc]"], 20)
		assert.Len(t, fake.requests[2].URL.Query()["filter[isrc]"], 5)
		assert.Equal(t, "NO", fake.requests[0].URL.Query().Get("countryCode"))
		assert.Equal(t, "artists,albums", fake.requests[0].URL.Query().Get("include"))

		require.Len(t, res.Succeeded, 2)
		a := res.Succeeded[0]
		assert.Equal(t, "111", a.ID)
		assert.Equal(t, "USAAA0000001", a.ISRC)
		assert.Equal(t, "Artist A", a.Artist)
		assert.Equal(t, []string{"Artist A", "Feat B"}, a.Artists)
		assert.Equal(t, "Album A", a.Album)
		assert.Equal(t, "2001-02-03", a.ReleaseDate)
		assert.Equal(t, 215, a.Duration)
		assert.Empty(t, res.Succeeded[1].Artist)
		assert.True(t, res.Complete())
	})

	t.Run("response without data aborts the run", func(t *testing.T) {
		calls := 0
		srv, _ := newTestTidal(t, map[string]http.HandlerFunc{
			"GET /v2/tracks": func(w http.ResponseWriter, r *http.Request) {
				calls++
				if calls == 1 {
					fmt.Fprint(w, `{}`)
					return
				}
				fmt.Fprint(w, tidalTrackDoc)
			},
		})

		res, err := srv.LookupISRCs(context.Background(), testSession(), isrcs(60))

		require.ErrorIs(t, err, shared.ErrEmptyResponse)
		assert.Equal(t, 1, calls, "remaining chunks are not requested")
		require.Len(t, res.Failed, 1)
		assert.Equal(t, 0, res.Failed[0].Index)
		assert.Empty(t, res.Succeeded)
	})

	t.Run("expired token aborts the run", func(t *testing.T) {
		srv, fake := newTestTidal(t, map[string]http.HandlerFunc{
			"GET /v2/tracks": func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			},
		})

		_, err := srv.LookupISRCs(context.Background(), testSession(), isrcs(60))

		assert.ErrorIs(t, err, shared.ErrTokenExpired)
		assert.Len(t, fake.requests, 1)
	})

	t.Run("missing session token aborts before any request", func(t *testing.T) {
		srv, fake := newTestTidal(t, nil)

		_, err := srv.LookupISRCs(context.Background(), &Session{CountryCode: "US"}, isrcs(3))

		assert.ErrorIs(t, err, shared.ErrNotAuthenticated)
		assert.Empty(t, fake.requests)
	})
}

func TestTidalPlaylists(t *testing.T) {
	t.Run("GetPlaylists follows page cursor", func(t *testing.T) {
		srv, fake := newTestTidal(t, map[string]http.HandlerFunc{
			"GET /v2/playlists": func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Query().Get("page[cursor]") == "" {
					fmt.Fprint(w, `{"data":[{"id":"p1","type":"playlists","attributes":{"name":"Mix","accessType":"PUBLIC","numberOfItems":4}}],
						"links":{"next":"/playlists?countryCode=NO&page%5Bcursor%5D=abc"}}`)
					return
				}
				fmt.Fprint(w, `{"data":[{"id":"p2","type":"playlists","attributes":{"name":"Chill","accessType":"UNLISTED"}}],"links":{}}`)
			},
		})

		playlists, err := srv.GetPlaylists(context.Background(), testSession())

		require.NoError(t, err)
		require.Len(t, playlists, 2)
		assert.Equal(t, "Mix", playlists[0].Name)
		assert.True(t, playlists[0].Public)
		assert.Equal(t, 4, playlists[0].TrackCount)
		assert.False(t, playlists[1].Public)
		assert.Equal(t, "u1", fake.requests[0].URL.Query().Get("filter[r.owners.id]"))
		assert.Equal(t, "abc", fake.requests[1].URL.Query().Get("page[cursor]"))

		found, err := srv.FindPlaylistByName(context.Background(), testSession(), "chill")
		require.NoError(t, err)
		assert.Equal(t, "p2", found.ID)

		_, err = srv.FindPlaylistByName(context.Background(), testSession(), "nope")
		assert.ErrorIs(t, err, shared.ErrPlaylistNotFound)
	})

	t.Run("CreatePlaylist", func(t *testing.T) {
		srv, fake := newTestTidal(t, map[string]http.HandlerFunc{
			"POST /v2/playlists": func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusCreated)
				fmt.Fprint(w, `{"data":{"id":"new1","type":"playlists","attributes":{"name":"Road Trip","accessType":"UNLISTED"}}}`)
			},
		})

		p, err := srv.CreatePlaylist(context.Background(), testSession(), "Road Trip", "from spotify", false)

		require.NoError(t, err)
		assert.Equal(t, "new1", p.ID)

		var body struct {
			Data struct {
				Type       string            `json:"type"`
				Attributes map[string]string `json:"attributes"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(fake.bodies[0]), &body))
		assert.Equal(t, "playlists", body.Data.Type)
		assert.Equal(t, "Road Trip", body.Data.Attributes["name"])
		assert.Equal(t, "UNLISTED", body.Data.Attributes["accessType"])

		_, err = srv.CreatePlaylist(context.Background(), testSession(), "  ", "", true)
		assert.ErrorIs(t, err, shared.ErrMissingArgument)
	})

	t.Run("AddTracks reports one result per chunk", func(t *testing.T) {
		calls := 0
		srv, fake := newTestTidal(t, map[string]http.HandlerFunc{
			"POST /v2/playlists/pl1/relationships/items": func(w http.ResponseWriter, r *http.Request) {
				calls++
				if calls == 2 {
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				w.WriteHeader(http.StatusCreated)
			},
		})

		res, err := srv.AddTracks(context.Background(), testSession(), "pl1", isrcs(50))

		require.NoError(t, err)
		assert.Len(t, res.Succeeded, 2)
		assert.Len(t, res.Failed, 1)
		assert.Equal(t, isrcs(50)[20:40], res.Failed[0].Items)
		assert.Equal(t, isrcs(50)[:20], res.Succeeded[0].TrackIDs)

		var body struct {
			Data []map[string]string `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(fake.bodies[2]), &body))
		require.Len(t, body.Data, 10)
		assert.Equal(t, "tracks", body.Data[0]["type"])
	})

	t.Run("ExportPlaylist resolves items in order", func(t *testing.T) {
		srv, _ := newTestTidal(t, map[string]http.HandlerFunc{
			"GET /v2/playlists/pl1": func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"data":{"id":"pl1","type":"playlists","attributes":{"name":"Mix"}}}`)
			},
			"GET /v2/playlists/pl1/relationships/items": func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Query().Get("page[cursor]") == "" {
					fmt.Fprint(w, `{"data":[{"id":"222","type":"tracks"},{"id":"v1","type":"videos"}],"links":{"next":"/x?page[cursor]=c2"}}`)
					return
				}
				fmt.Fprint(w, `{"data":[{"id":"111","type":"tracks"}]}`)
			},
			"GET /v2/tracks": func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, []string{"222", "111"}, r.URL.Query()["filter[id]"])
				fmt.Fprint(w, tidalTrackDoc)
			},
		})

		export, err := srv.ExportPlaylist(context.Background(), testSession(), "pl1")

		require.NoError(t, err)
		assert.Equal(t, "Mix", export.Playlist.Name)
		assert.Equal(t, 2, export.Playlist.TrackCount)
		require.Len(t, export.Tracks, 2)
		assert.Equal(t, "222", export.Tracks[0].ID)
		assert.Equal(t, "111", export.Tracks[1].ID)
	})

	t.Run("GetPlaylist not found", func(t *testing.T) {
		srv, _ := newTestTidal(t, nil)
		_, err := srv.GetPlaylist(context.Background(), testSession(), "missing")
		assert.ErrorIs(t, err, shared.ErrPlaylistNotFound)
	})
}

func TestTidalSearch(t *testing.T) {
	searchDoc := `{
	  "data": {"id": "q", "type": "searchResults",
	    "relationships": {"tracks": {"data": [{"id": "9", "type": "tracks"}, {"id": "8", "type": "tracks"}]}}},
	  "included": [
	    {"id": "8", "type": "tracks", "attributes": {"title": "Hello", "isrc": "X8"},
	     "relationships": {"artists": {"data": [{"id": "ad", "type": "artists"}]}}},
	    {"id": "9", "type": "tracks", "attributes": {"title": "Hello (Live)", "isrc": "X9"}},
	    {"id": "ad", "type": "artists", "attributes": {"name": "Adele"}}
	  ]
	}`

	t.Run("prefers exact title and artist", func(t *testing.T) {
		srv, fake := newTestTidal(t, map[string]http.HandlerFunc{
			"GET /v2/searchResults/Hello Adele": func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, searchDoc)
			},
		})

		tr, err := srv.SearchTrack(context.Background(), testSession(), "Hello", "Adele")

		require.NoError(t, err)
		assert.Equal(t, "8", tr.ID)
		assert.Equal(t, "Adele", tr.Artist)
		assert.Equal(t, "tracks", fake.requests[0].URL.Query().Get("include"))
	})

	t.Run("falls back to top hit", func(t *testing.T) {
		assert.Equal(t, "9", parseIncludedTracks([]byte(searchDoc))[0].ID)
		got := bestMatch(parseIncludedTracks([]byte(searchDoc)), "Something", "Else")
		assert.Equal(t, "9", got.ID)
	})

	t.Run("no results", func(t *testing.T) {
		srv, _ := newTestTidal(t, map[string]http.HandlerFunc{
			"GET /v2/searchResults/nothing": func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"data":{"id":"q"},"included":[]}`)
			},
		})

		_, err := srv.SearchTrack(context.Background(), testSession(), "nothing", "")
		assert.ErrorIs(t, err, shared.ErrTrackNotFound)

		_, err = srv.SearchTrack(context.Background(), testSession(), " ", "")
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
	})

	t.Run("escapes slashes in the term", func(t *testing.T) {
		srv, fake := newTestTidal(t, nil)
		_, err := srv.SearchTrack(context.Background(), testSession(), "Thunderstruck", "AC/DC")
		assert.Error(t, err)
		require.Len(t, fake.requests, 1)
		assert.True(t, strings.HasSuffix(fake.requests[0].URL.EscapedPath(), "AC%2FDC"))
		assert.False(t, errors.Is(err, shared.ErrNotAuthenticated))
	})
}
