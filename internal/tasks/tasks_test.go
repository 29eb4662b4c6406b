package tasks

import (
	"context"
	"fmt"
	"io"
	"slices"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotidal/internal/models"
	"github.com/desertthunder/spotidal/internal/shared"
	th "github.com/desertthunder/spotidal/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sleepRecorder struct {
	calls []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.calls = append(s.calls, d)
	return ctx.Err()
}

func spotifyTrack(n int) models.Track {
	return models.Track{
		ID:     fmt.Sprintf("sp%d", n),
		Title:  fmt.Sprintf("Song %d", n),
		Artist: fmt.Sprintf("Artist %d", n),
		ISRC:   fmt.Sprintf("ISRC%04d", n),
	}
}

func tidalTrack(n int) models.Track {
	t := spotifyTrack(n)
	t.ID = fmt.Sprintf("td%d", n)
	return t
}

func sourcePlaylist(id, name string, tracks ...models.Track) *models.PlaylistExport {
	return &models.PlaylistExport{
		Playlist: models.Playlist{ID: id, Name: name, TrackCount: len(tracks)},
		Tracks:   tracks,
	}
}

func newEngine(src *th.MockSource, dst *th.MockDestination) (*PlaylistEngine, *sleepRecorder) {
	rec := &sleepRecorder{}
	return NewPlaylistEngine(src, dst, EngineOptions{
		Logger:      log.New(io.Discard),
		SearchDelay: 250 * time.Millisecond,
		ExportDelay: 100 * time.Millisecond,
		Sleep:       rec.sleep,
	}), rec
}

func TestPlaylistEngine_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("all tracks resolve by ISRC", func(t *testing.T) {
		src := th.NewMockSource(sourcePlaylist("p1", "Road Trip", spotifyTrack(1), spotifyTrack(2), spotifyTrack(3)))
		dst := th.NewMockDestination()
		for i := 1; i <= 3; i++ {
			dst.AddTrack(tidalTrack(i), false)
		}
		engine, _ := newEngine(src, dst)

		res, err := engine.Run(ctx, nil, TransferOptions{Source: "p1"})
		require.NoError(t, err)

		assert.Equal(t, 3, res.TotalTracks)
		assert.Equal(t, 3, res.SuccessCount)
		assert.Equal(t, 0, res.FailedCount)
		assert.InDelta(t, 100.0, res.MatchPercentage, 0.001)
		assert.Equal(t, 3, res.AddedCount)
		assert.False(t, res.Partial())
		for _, m := range res.TrackMatches {
			assert.Equal(t, MatchISRC, m.Method)
		}

		require.NotNil(t, res.DestPlaylist)
		assert.Equal(t, "Road Trip", res.DestPlaylist.Name)
		assert.False(t, res.Reused)
		created := dst.Playlists[res.DestPlaylist.ID]
		assert.Equal(t, []string{"td1", "td2", "td3"}, trackIDs(created.Tracks))
	})

	t.Run("source resolved by name", func(t *testing.T) {
		src := th.NewMockSource(sourcePlaylist("p9", "Late Night", spotifyTrack(1)))
		dst := th.NewMockDestination()
		dst.AddTrack(tidalTrack(1), false)
		engine, _ := newEngine(src, dst)

		res, err := engine.Run(ctx, nil, TransferOptions{Source: "Late Night", DestName: "Late Night (Tidal)"})
		require.NoError(t, err)
		assert.Equal(t, "p9", res.SourcePlaylist.Playlist.ID)
		assert.Equal(t, "Late Night (Tidal)", res.DestPlaylist.Name)
	})

	t.Run("unknown source", func(t *testing.T) {
		engine, _ := newEngine(th.NewMockSource(), th.NewMockDestination())
		_, err := engine.Run(ctx, nil, TransferOptions{Source: "nope"})
		assert.ErrorIs(t, err, shared.ErrPlaylistNotFound)
	})

	t.Run("missing source argument", func(t *testing.T) {
		engine, _ := newEngine(th.NewMockSource(), th.NewMockDestination())
		_, err := engine.Run(ctx, nil, TransferOptions{})
		assert.ErrorIs(t, err, shared.ErrMissingArgument)
	})

	t.Run("duplicate ISRCs are looked up once", func(t *testing.T) {
		src := th.NewMockSource(sourcePlaylist("p1", "Dupes", spotifyTrack(1), spotifyTrack(1), spotifyTrack(2)))
		dst := th.NewMockDestination()
		dst.AddTrack(tidalTrack(1), false)
		dst.AddTrack(tidalTrack(2), false)
		engine, _ := newEngine(src, dst)

		res, err := engine.Run(ctx, nil, TransferOptions{Source: "p1"})
		require.NoError(t, err)
		require.Len(t, dst.LookupChunks, 1)
		assert.Equal(t, []string{"ISRC0001", "ISRC0002"}, dst.LookupChunks[0])
		assert.Equal(t, 3, res.SuccessCount)
		assert.Equal(t, 2, res.AddedCount, "a track is added once")
	})

	t.Run("lookups are chunked and a failed chunk is skipped", func(t *testing.T) {
		tracks := make([]models.Track, 0, 5)
		dst := th.NewMockDestination()
		dst.ChunkSize = 2
		for i := 1; i <= 5; i++ {
			tracks = append(tracks, spotifyTrack(i))
			dst.AddTrack(tidalTrack(i), false)
		}
		dst.FailLookup = func(chunk []string) error {
			if slices.Contains(chunk, "ISRC0003") {
				return shared.ErrServiceUnavailable
			}
			return nil
		}
		engine, _ := newEngine(th.NewMockSource(sourcePlaylist("p1", "Five", tracks...)), dst)

		res, err := engine.Run(ctx, nil, TransferOptions{Source: "p1"})
		require.NoError(t, err)

		assert.Len(t, dst.LookupChunks, 3)
		require.Len(t, res.LookupFailures, 1)
		assert.Equal(t, []string{"ISRC0003", "ISRC0004"}, res.LookupFailures[0].Items)
		assert.True(t, res.Partial())
		assert.Equal(t, 3, res.SuccessCount)
		assert.ErrorIs(t, res.TrackMatches[2].Error, shared.ErrServiceUnavailable)
		assert.Equal(t, []string{"td1", "td2", "td5"}, trackIDs(dst.Playlists[res.DestPlaylist.ID].Tracks))
	})

	t.Run("search fallback for unresolved tracks", func(t *testing.T) {
		noISRC := models.Track{ID: "sp7", Title: "Hidden Track", Artist: "Someone"}
		missing := models.Track{ID: "sp8", Title: "Nowhere", Artist: "Nobody", ISRC: "ISRC9999"}
		src := th.NewMockSource(sourcePlaylist("p1", "Mixed", spotifyTrack(1), noISRC, missing))

		dst := th.NewMockDestination()
		dst.AddTrack(tidalTrack(1), false)
		dst.AddTrack(models.Track{ID: "td7", Title: "Hidden Track", Artist: "Someone"}, true)
		engine, sleeps := newEngine(src, dst)

		res, err := engine.Run(ctx, nil, TransferOptions{Source: "p1", SearchFallback: true})
		require.NoError(t, err)

		assert.Equal(t, 2, res.SuccessCount)
		assert.Equal(t, 1, res.FailedCount)
		assert.Equal(t, MatchSearch, res.TrackMatches[1].Method)
		assert.Nil(t, res.TrackMatches[2].Matched)
		assert.ErrorIs(t, res.TrackMatches[2].Error, shared.ErrTrackNotFound)
		assert.Equal(t, []models.Track{missing}, res.Unmatched())

		assert.Len(t, dst.Searches, 2)
		assert.Equal(t, []time.Duration{250 * time.Millisecond}, sleeps.calls, "two searches, one pause")
	})

	t.Run("search fallback disabled", func(t *testing.T) {
		noISRC := models.Track{ID: "sp7", Title: "Hidden Track", Artist: "Someone"}
		src := th.NewMockSource(sourcePlaylist("p1", "Mixed", spotifyTrack(1), noISRC))
		dst := th.NewMockDestination()
		dst.AddTrack(tidalTrack(1), false)
		engine, _ := newEngine(src, dst)

		res, err := engine.Run(ctx, nil, TransferOptions{Source: "p1"})
		require.NoError(t, err)
		assert.Empty(t, dst.Searches)
		assert.Equal(t, 1, res.FailedCount)
	})

	t.Run("no matches", func(t *testing.T) {
		src := th.NewMockSource(sourcePlaylist("p1", "Obscure", spotifyTrack(1)))
		dst := th.NewMockDestination()
		engine, _ := newEngine(src, dst)

		res, err := engine.Run(ctx, nil, TransferOptions{Source: "p1"})
		assert.ErrorIs(t, err, shared.ErrTrackNotFound)
		require.NotNil(t, res)
		assert.Nil(t, res.DestPlaylist)
		assert.Empty(t, dst.Playlists)
	})

	t.Run("dry run writes nothing", func(t *testing.T) {
		src := th.NewMockSource(sourcePlaylist("p1", "Dry", spotifyTrack(1)))
		dst := th.NewMockDestination()
		dst.AddTrack(tidalTrack(1), false)
		engine, _ := newEngine(src, dst)

		res, err := engine.Run(ctx, nil, TransferOptions{Source: "p1", DryRun: true})
		require.NoError(t, err)
		assert.Equal(t, 1, res.SuccessCount)
		assert.Empty(t, dst.Playlists)
		assert.Empty(t, dst.AddChunks)
	})

	t.Run("reuse existing playlist skips present tracks", func(t *testing.T) {
		src := th.NewMockSource(sourcePlaylist("p1", "Road Trip", spotifyTrack(1), spotifyTrack(2)))
		dst := th.NewMockDestination()
		dst.AddTrack(tidalTrack(1), false)
		dst.AddTrack(tidalTrack(2), false)
		dst.Playlists["tidal-existing"] = &models.PlaylistExport{
			Playlist: models.Playlist{ID: "tidal-existing", Name: "road trip"},
			Tracks:   []models.Track{tidalTrack(1)},
		}
		engine, _ := newEngine(src, dst)

		res, err := engine.Run(ctx, nil, TransferOptions{Source: "p1", Reuse: true})
		require.NoError(t, err)
		assert.True(t, res.Reused)
		assert.Equal(t, "tidal-existing", res.DestPlaylist.ID)
		assert.Equal(t, 1, res.SkippedCount)
		assert.Equal(t, 1, res.AddedCount)
		assert.Equal(t, [][]string{{"td2"}}, dst.AddChunks)
	})

	t.Run("reuse dedups against every playlist item when details fail to resolve", func(t *testing.T) {
		src := th.NewMockSource(sourcePlaylist("p1", "Road Trip", spotifyTrack(1), spotifyTrack(2), spotifyTrack(3)))
		dst := th.NewMockDestination()
		for i := 1; i <= 3; i++ {
			dst.AddTrack(tidalTrack(i), false)
		}
		dst.Playlists["tidal-existing"] = &models.PlaylistExport{
			Playlist: models.Playlist{ID: "tidal-existing", Name: "Road Trip"},
			Tracks:   []models.Track{tidalTrack(1), tidalTrack(2)},
		}
		dst.FailLookup = func(chunk []string) error {
			if slices.Contains(chunk, "td1") {
				return shared.ErrServiceUnavailable
			}
			return nil
		}

		export, err := dst.ExportPlaylist(ctx, nil, "tidal-existing")
		require.NoError(t, err)
		require.Empty(t, export.Tracks, "track details are unavailable")

		engine, _ := newEngine(src, dst)
		res, err := engine.Run(ctx, nil, TransferOptions{Source: "p1", DestID: "tidal-existing"})
		require.NoError(t, err)

		assert.True(t, res.Reused)
		assert.Equal(t, 2, res.SkippedCount)
		assert.Equal(t, 1, res.AddedCount)
		assert.Equal(t, [][]string{{"td3"}}, dst.AddChunks)
		assert.Equal(t, []string{"td1", "td2", "td3"}, trackIDs(dst.Playlists["tidal-existing"].Tracks))
	})

	t.Run("reuse falls back to create", func(t *testing.T) {
		src := th.NewMockSource(sourcePlaylist("p1", "Fresh", spotifyTrack(1)))
		dst := th.NewMockDestination()
		dst.AddTrack(tidalTrack(1), false)
		engine, _ := newEngine(src, dst)

		res, err := engine.Run(ctx, nil, TransferOptions{Source: "p1", Reuse: true, Public: true})
		require.NoError(t, err)
		assert.False(t, res.Reused)
		assert.True(t, res.DestPlaylist.Public)
		assert.Equal(t, "Migrated from Spotify: Fresh", res.DestPlaylist.Description)
	})

	t.Run("unknown destination ID", func(t *testing.T) {
		src := th.NewMockSource(sourcePlaylist("p1", "X", spotifyTrack(1)))
		dst := th.NewMockDestination()
		dst.AddTrack(tidalTrack(1), false)
		engine, _ := newEngine(src, dst)

		_, err := engine.Run(ctx, nil, TransferOptions{Source: "p1", DestID: "missing"})
		assert.ErrorIs(t, err, shared.ErrPlaylistNotFound)
	})

	t.Run("failed add chunk is reported", func(t *testing.T) {
		tracks := []models.Track{spotifyTrack(1), spotifyTrack(2), spotifyTrack(3)}
		dst := th.NewMockDestination()
		dst.ChunkSize = 1
		for i := 1; i <= 3; i++ {
			dst.AddTrack(tidalTrack(i), false)
		}
		dst.FailAdd = func(chunk []string) error {
			if chunk[0] == "td2" {
				return shared.ErrRateLimited
			}
			return nil
		}
		engine, _ := newEngine(th.NewMockSource(sourcePlaylist("p1", "Adds", tracks...)), dst)

		res, err := engine.Run(ctx, nil, TransferOptions{Source: "p1"})
		require.NoError(t, err)
		assert.Equal(t, 2, res.AddedCount)
		require.Len(t, res.AddFailures, 1)
		assert.ErrorIs(t, res.AddFailures[0], shared.ErrRateLimited)
	})

	t.Run("session failure returns partial result", func(t *testing.T) {
		src := th.NewMockSource(sourcePlaylist("p1", "X", spotifyTrack(1)))
		dst := th.NewMockDestination()
		dst.SessionErr = shared.ErrNotAuthenticated
		engine, _ := newEngine(src, dst)

		res, err := engine.Run(ctx, nil, TransferOptions{Source: "p1"})
		assert.ErrorIs(t, err, shared.ErrNotAuthenticated)
		require.NotNil(t, res)
		assert.Equal(t, 1, res.TotalTracks)
		assert.Empty(t, dst.LookupChunks)
	})

	t.Run("cancelled context", func(t *testing.T) {
		src := th.NewMockSource(sourcePlaylist("p1", "X", spotifyTrack(1)))
		dst := th.NewMockDestination()
		dst.AddTrack(tidalTrack(1), false)
		engine, _ := newEngine(src, dst)

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := engine.Run(cctx, nil, TransferOptions{Source: "p1"})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, dst.Playlists)
	})

	t.Run("progress phases", func(t *testing.T) {
		src := th.NewMockSource(sourcePlaylist("p1", "X", spotifyTrack(1)))
		dst := th.NewMockDestination()
		dst.AddTrack(tidalTrack(1), false)
		engine, _ := newEngine(src, dst)

		progress := make(chan ProgressUpdate, 32)
		_, err := engine.Run(ctx, progress, TransferOptions{Source: "p1"})
		require.NoError(t, err)
		close(progress)

		var phases []Phase
		for u := range progress {
			if len(phases) == 0 || phases[len(phases)-1] != u.Phase {
				phases = append(phases, u.Phase)
			}
		}
		assert.Equal(t, []Phase{FetchSource, OpenSession, ResolveISRC, CreatePlaylist, AddTracks}, phases)
	})
}

func TestPlaylistEngine_ServiceErrors(t *testing.T) {
	ctx := context.Background()

	engine := NewPlaylistEngine(nil, th.NewMockDestination(), EngineOptions{})
	_, err := engine.Run(ctx, nil, TransferOptions{Source: "p1"})
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)

	engine = NewPlaylistEngine(th.NewMockSource(), nil, EngineOptions{})
	_, err = engine.Diff(ctx, nil, "a", "b")
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
}

func TestCompare(t *testing.T) {
	retitled := spotifyTrack(2)
	retitled.Title = "SONG   2"
	retitled.ISRC = ""

	source := sourcePlaylist("s", "S", spotifyTrack(1), spotifyTrack(2), spotifyTrack(3))
	dest := sourcePlaylist("d", "D", tidalTrack(1), retitled, tidalTrack(4))

	cmp := Compare(source, dest)
	assert.Equal(t, 2, cmp.MatchedCount, "ISRC match plus normalized title match")
	assert.Equal(t, []models.Track{spotifyTrack(3)}, cmp.MissingInDest)
	assert.Equal(t, []models.Track{tidalTrack(4)}, cmp.ExtraInDest)
}

func TestPlaylistEngine_Diff(t *testing.T) {
	ctx := context.Background()
	src := th.NewMockSource(sourcePlaylist("p1", "Source", spotifyTrack(1), spotifyTrack(2)))
	dst := th.NewMockDestination()
	dst.Playlists["t1"] = sourcePlaylist("t1", "Dest", tidalTrack(1))
	engine, _ := newEngine(src, dst)

	res, err := engine.Diff(ctx, nil, "p1", "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Comparison.MatchedCount)
	assert.Len(t, res.Comparison.MissingInDest, 1)
	assert.Empty(t, res.Comparison.ExtraInDest)

	_, err = engine.Diff(ctx, nil, "p1", "missing")
	assert.ErrorIs(t, err, shared.ErrPlaylistNotFound)
}

func TestProgressUpdate_NonBlocking(t *testing.T) {
	engine, _ := newEngine(th.NewMockSource(), th.NewMockDestination())

	done := make(chan struct{})
	go func() {
		defer close(done)
		engine.sendProgress(nil, fetchingSourceUpdate("Spotify"))

		full := make(chan ProgressUpdate)
		for range 10 {
			engine.sendProgress(full, fetchingSourceUpdate("Spotify"))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sendProgress blocked")
	}
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "resolve_isrc", ResolveISRC.String())
	assert.Equal(t, "add_tracks", AddTracks.String())
	assert.Equal(t, "", Phase(99).String())
}

func trackIDs(tracks []models.Track) []string {
	ids := make([]string, len(tracks))
	for i, t := range tracks {
		ids[i] = t.ID
	}
	return ids
}
