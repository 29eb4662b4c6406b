package ui

import (
	"context"
	"fmt"
	"io"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotidal/internal/models"
	"github.com/desertthunder/spotidal/internal/tasks"
	th "github.com/desertthunder/spotidal/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keyPress(k string) tea.KeyMsg {
	switch k {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
	}
}

func newTestModel(t *testing.T, matched int) (*Model, *th.MockDestination) {
	t.Helper()

	export := &models.PlaylistExport{Playlist: models.Playlist{ID: "pl1", Name: "Road Trip", TrackCount: 3}}
	dst := th.NewMockDestination()
	for n := range 3 {
		tr := models.Track{
			ID:     fmt.Sprintf("sp%d", n),
			Title:  fmt.Sprintf("Song %d", n),
			Artist: "Band",
			ISRC:   fmt.Sprintf("ISRC%04d", n),
		}
		export.Tracks = append(export.Tracks, tr)
		if n < matched {
			tr.ID = fmt.Sprintf("td%d", n)
			dst.AddTrack(tr, false)
		}
	}

	src := th.NewMockSource(export)
	engine := tasks.NewPlaylistEngine(src, dst, tasks.EngineOptions{
		Logger:      log.New(io.Discard),
		SearchDelay: -1,
		ExportDelay: -1,
	})
	return NewModel(context.Background(), src, dst.Name(), engine), dst
}

// drive runs cmd and feeds each resulting message back into the model until no command remains.
func drive(t *testing.T, m *Model, cmd tea.Cmd) {
	t.Helper()
	for range 100 {
		if cmd == nil {
			return
		}
		msg := cmd()
		if msg == nil {
			return
		}
		_, cmd = m.Update(msg)
	}
	t.Fatal("model did not settle")
}

func loadTracks(t *testing.T, m *Model) {
	t.Helper()
	drive(t, m, m.fetchPlaylists())
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	require.Len(t, m.playlists, 1)

	_, cmd := m.Update(keyPress("enter"))
	drive(t, m, cmd)
	require.Equal(t, TrackListView, m.view)
	require.NotNil(t, m.selectedPlaylist)
}

func TestModel(t *testing.T) {
	t.Run("shows a loading view before playlists arrive", func(t *testing.T) {
		m, _ := newTestModel(t, 3)
		m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
		assert.Contains(t, m.View(), "Loading Spotify playlists")
	})

	t.Run("lists playlists and previews tracks", func(t *testing.T) {
		m, _ := newTestModel(t, 3)
		loadTracks(t, m)
		assert.Contains(t, m.View(), "Road Trip")

		m.Update(keyPress("esc"))
		assert.Equal(t, PlaylistListView, m.view)
	})

	t.Run("confirm view toggles options", func(t *testing.T) {
		m, _ := newTestModel(t, 3)
		loadTracks(t, m)

		m.Update(keyPress("enter"))
		require.Equal(t, ConfirmView, m.view)
		assert.Contains(t, m.View(), "Transfer 'Road Trip' to Tidal?")
		assert.Contains(t, m.View(), "3 with ISRC")

		m.Update(keyPress("s"))
		m.Update(keyPress("d"))
		assert.True(t, m.searchFallback)
		assert.True(t, m.dryRun)

		opts := m.transferOptions()
		assert.Equal(t, "pl1", opts.Source)
		assert.Equal(t, "Road Trip", opts.DestName)
		assert.True(t, opts.SearchFallback)
		assert.True(t, opts.DryRun)

		m.Update(keyPress("n"))
		assert.Equal(t, TrackListView, m.view)
	})

	t.Run("transfer reaches the result view", func(t *testing.T) {
		m, dst := newTestModel(t, 2)
		loadTracks(t, m)
		m.Update(keyPress("enter"))

		_, cmd := m.Update(keyPress("y"))
		require.Equal(t, TransferView, m.view)
		drive(t, m, cmd)

		require.Equal(t, ResultView, m.view)
		require.NoError(t, m.err)
		require.NotNil(t, m.result)
		assert.Equal(t, 2, m.result.SuccessCount)
		assert.Equal(t, 2, m.result.AddedCount)
		assert.Len(t, dst.Playlists, 1)

		view := m.View()
		assert.Contains(t, view, "Transfer complete")
		assert.Contains(t, view, "Unmatched tracks (1)")
		assert.Contains(t, view, "Song 2 - Band")

		m.Update(keyPress("r"))
		assert.Equal(t, PlaylistListView, m.view)
		assert.Nil(t, m.result)
	})

	t.Run("failed transfer shows the error", func(t *testing.T) {
		m, dst := newTestModel(t, 0)
		loadTracks(t, m)
		m.Update(keyPress("enter"))

		_, cmd := m.Update(keyPress("y"))
		drive(t, m, cmd)

		require.Equal(t, ResultView, m.view)
		require.Error(t, m.err)
		assert.Contains(t, m.View(), "Transfer failed")
		assert.Empty(t, dst.Playlists)
	})
}

func TestBar(t *testing.T) {
	assert.Equal(t, "", bar(1, 0, 10))
	assert.Contains(t, bar(5, 10, 10), "     ]")
}
