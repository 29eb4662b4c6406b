package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/spotidal/internal/models"
	"github.com/desertthunder/spotidal/internal/services"
	"github.com/desertthunder/spotidal/internal/tasks"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	PlaylistListView ViewState = iota
	TrackListView
	ConfirmView
	TransferView
	ResultView
)

// maxUnmatchedShown caps the unmatched track listing on the result view.
const maxUnmatchedShown = 15

// Model represents the TUI application state.
type Model struct {
	ctx              context.Context
	view             ViewState
	source           services.Source
	engine           tasks.SyncEngine
	destName         string
	width            int
	height           int
	playlistList     list.Model
	playlists        []models.Playlist
	trackList        list.Model
	selectedPlaylist *models.PlaylistExport
	searchFallback   bool
	dryRun           bool
	progressChan     chan tasks.ProgressUpdate
	doneChan         chan transferComplete
	progress         tasks.ProgressUpdate
	result           *tasks.TransferRunResult
	err              error
	spinner          spinner.Model
	help             help.Model
	keys             keyMap
}

// NewModel creates a new TUI model reading from source and transferring with engine.
func NewModel(ctx context.Context, source services.Source, destName string, engine tasks.SyncEngine) *Model {
	return &Model{
		ctx:      ctx,
		view:     PlaylistListView,
		source:   source,
		engine:   engine,
		destName: destName,
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(styles.accent)),
		help:     help.New(),
		keys:     newKeyMap(),
	}
}

// Init fetches the source playlists.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.fetchPlaylists(), m.spinner.Tick)
}

// Err returns the error that ended the session, if any.
func (m *Model) Err() error {
	return m.err
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		// Lists are built lazily; the zero list.Model has no delegate to size.
		if m.playlists != nil {
			m.playlistList.SetSize(msg.Width-4, msg.Height-8)
		}
		if m.selectedPlaylist != nil {
			m.trackList.SetSize(msg.Width-4, msg.Height-8)
		}
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case PlaylistListView:
			return m.handlePlaylistListKeys(msg)
		case TrackListView:
			return m.handleTrackListKeys(msg)
		case ConfirmView:
			return m.handleConfirmKeys(msg)
		case TransferView:
			if key.Matches(msg, m.keys.quit) {
				return m, tea.Quit
			}
			return m, nil
		case ResultView:
			return m.handleResultKeys(msg)
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case Msg:
		return m.handleMsg(msg)
	}

	return m.updateLists(msg)
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgPlaylistsFetched:
		data := msg.data.(playlistsFetched)
		if data.err != nil {
			m.err = data.err
			return m, tea.Quit
		}
		m.playlists = data.playlists
		if m.playlists == nil {
			m.playlists = []models.Playlist{}
		}
		m.playlistList = list.New(playlistItems(data.playlists), list.NewDefaultDelegate(), 0, 0)
		m.playlistList.Title = fmt.Sprintf("%s Playlists", m.source.Name())
		m.playlistList.SetSize(m.width-4, m.height-8)
		return m, nil

	case MsgTracksFetched:
		data := msg.data.(tracksFetched)
		if data.err != nil {
			m.err = data.err
			m.view = PlaylistListView
			return m, nil
		}
		m.selectedPlaylist = data.playlist
		m.trackList = list.New(trackItems(data.playlist.Tracks), list.NewDefaultDelegate(), 0, 0)
		m.trackList.Title = fmt.Sprintf("Tracks in '%s'", data.playlist.Playlist.Name)
		m.trackList.SetSize(m.width-4, m.height-8)
		m.view = TrackListView
		return m, nil

	case MsgProgressUpdate:
		m.progress = msg.data.(tasks.ProgressUpdate)
		return m, m.waitForProgress()

	case MsgTransferComplete:
		data := msg.data.(transferComplete)
		m.result = data.result
		m.err = data.err
		m.view = ResultView
		m.progressChan = nil
		m.doneChan = nil
		return m, nil
	}
	return m, nil
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	if m.err != nil && m.view != ResultView {
		return styles.err.Render(fmt.Sprintf("Error: %v\n\nPress q to quit", m.err))
	}

	switch m.view {
	case PlaylistListView:
		return m.renderPlaylistList()
	case TrackListView:
		return m.renderTrackList()
	case ConfirmView:
		return m.renderConfirm()
	case TransferView:
		return m.renderTransfer()
	case ResultView:
		return m.renderResult()
	default:
		return ""
	}
}

func (m *Model) handlePlaylistListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.playlists == nil {
		if key.Matches(msg, m.keys.quit) {
			return m, tea.Quit
		}
		return m, nil
	}

	// Let the list consume keys while its filter input is active.
	if m.playlistList.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.playlistList, cmd = m.playlistList.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.enter):
		if pl, ok := m.playlistList.SelectedItem().(playlistItem); ok {
			m.err = nil
			return m, m.fetchTracks(pl.playlist.ID)
		}
	}

	var cmd tea.Cmd
	m.playlistList, cmd = m.playlistList.Update(msg)
	return m, cmd
}

func (m *Model) handleTrackListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.trackList.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.trackList, cmd = m.trackList.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.back):
		m.view = PlaylistListView
		return m, nil
	case key.Matches(msg, m.keys.transfer):
		m.view = ConfirmView
		return m, nil
	}

	var cmd tea.Cmd
	m.trackList, cmd = m.trackList.Update(msg)
	return m, cmd
}

func (m *Model) handleConfirmKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit), key.Matches(msg, m.keys.no), key.Matches(msg, m.keys.back):
		m.view = TrackListView
		return m, nil
	case key.Matches(msg, m.keys.search):
		m.searchFallback = !m.searchFallback
		return m, nil
	case key.Matches(msg, m.keys.dryRun):
		m.dryRun = !m.dryRun
		return m, nil
	case key.Matches(msg, m.keys.yes):
		m.view = TransferView
		m.progress = tasks.ProgressUpdate{}
		return m, m.startTransfer()
	}
	return m, nil
}

func (m *Model) handleResultKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.restart):
		m.view = PlaylistListView
		m.selectedPlaylist = nil
		m.result = nil
		m.err = nil
		return m, nil
	}
	return m, nil
}

func (m *Model) updateLists(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.view {
	case PlaylistListView:
		if m.playlists == nil {
			return m, nil
		}
		m.playlistList, cmd = m.playlistList.Update(msg)
	case TrackListView:
		m.trackList, cmd = m.trackList.Update(msg)
	}
	return m, cmd
}

func (m *Model) fetchPlaylists() tea.Cmd {
	return func() tea.Msg {
		playlists, err := m.source.GetPlaylists(m.ctx)
		return playlistsFetchedMsg(playlists, err)
	}
}

func (m *Model) fetchTracks(playlistID string) tea.Cmd {
	return func() tea.Msg {
		playlist, err := m.source.ExportPlaylist(m.ctx, playlistID)
		return tracksFetchedMsg(playlist, err)
	}
}

// transferOptions builds the engine options for the selected playlist.
func (m *Model) transferOptions() tasks.TransferOptions {
	pl := m.selectedPlaylist.Playlist
	return tasks.TransferOptions{
		Source:         pl.ID,
		DestName:       pl.Name,
		Public:         pl.Public,
		SearchFallback: m.searchFallback,
		DryRun:         m.dryRun,
	}
}

func (m *Model) startTransfer() tea.Cmd {
	progress := make(chan tasks.ProgressUpdate, 50)
	done := make(chan transferComplete, 1)
	m.progressChan = progress
	m.doneChan = done

	opts := m.transferOptions()
	go func() {
		result, err := m.engine.Run(m.ctx, progress, opts)
		done <- transferComplete{result: result, err: err}
		close(progress)
	}()

	return m.waitForProgress()
}

func (m *Model) waitForProgress() tea.Cmd {
	progress, done := m.progressChan, m.doneChan
	return func() tea.Msg {
		if progress == nil {
			return transferCompleteMsg(nil, nil)
		}
		update, ok := <-progress
		if !ok {
			res := <-done
			return transferCompleteMsg(res.result, res.err)
		}
		return progressUpdateMsg(update)
	}
}

func (m *Model) renderPlaylistList() string {
	if m.playlists == nil {
		return fmt.Sprintf("%s Loading %s playlists...", m.spinner.View(), m.source.Name())
	}
	helpView := m.help.ShortHelpView([]key.Binding{m.keys.enter, m.keys.quit})
	return fmt.Sprintf("%s\n\n%s", m.playlistList.View(), helpView)
}

func (m *Model) renderTrackList() string {
	helpView := m.help.ShortHelpView([]key.Binding{m.keys.transfer, m.keys.back, m.keys.quit})
	return fmt.Sprintf("%s\n\n%s", m.trackList.View(), helpView)
}

func onOff(b bool) string {
	if b {
		return styles.ok.Render("on")
	}
	return styles.help.Render("off")
}

func (m *Model) renderConfirm() string {
	pl := m.selectedPlaylist
	title := styles.title.Render(fmt.Sprintf("Transfer '%s' to %s?", pl.Playlist.Name, m.destName))

	withISRC := 0
	for _, t := range pl.Tracks {
		if t.ISRC != "" {
			withISRC++
		}
	}
	info := fmt.Sprintf(
		"Tracks: %d (%d with ISRC)\nSearch fallback: %s\nDry run: %s\n",
		len(pl.Tracks), withISRC, onOff(m.searchFallback), onOff(m.dryRun),
	)

	helpView := m.help.ShortHelpView([]key.Binding{m.keys.yes, m.keys.no, m.keys.search, m.keys.dryRun})
	return fmt.Sprintf("%s\n%s\n%s", title, info, helpView)
}

func (m *Model) renderTransfer() string {
	title := styles.title.Render(fmt.Sprintf("Transferring to %s", m.destName))

	var phase string
	switch m.progress.Phase {
	case tasks.FetchSource:
		phase = fmt.Sprintf("Fetching playlist from %s", m.source.Name())
	case tasks.OpenSession:
		phase = fmt.Sprintf("Opening %s session", m.destName)
	case tasks.ResolveISRC:
		phase = fmt.Sprintf("Resolving ISRCs %s %d/%d", bar(m.progress.Step, m.progress.Total, 30), m.progress.Step, m.progress.Total)
	case tasks.SearchTracks:
		phase = fmt.Sprintf("Searching tracks %s %d/%d", bar(m.progress.Step, m.progress.Total, 30), m.progress.Step, m.progress.Total)
	case tasks.CreatePlaylist:
		phase = fmt.Sprintf("Preparing playlist on %s", m.destName)
	case tasks.AddTracks:
		phase = fmt.Sprintf("Adding tracks %s %d/%d", bar(m.progress.Step, m.progress.Total, 30), m.progress.Step, m.progress.Total)
	default:
		phase = "Processing"
	}

	return fmt.Sprintf("%s\n\n%s %s\n%s", title, m.spinner.View(), phase, styles.help.Render(m.progress.Message))
}

func (m *Model) renderResult() string {
	helpView := m.help.ShortHelpView([]key.Binding{m.keys.restart, m.keys.quit})

	if m.result == nil {
		msg := "No result available"
		if m.err != nil {
			msg = fmt.Sprintf("Transfer failed: %v", m.err)
		}
		return fmt.Sprintf("%s\n\n%s", styles.err.Render(msg), helpView)
	}

	r := m.result
	var b strings.Builder
	switch {
	case m.err != nil:
		b.WriteString(styles.err.Render(fmt.Sprintf("✗ Transfer failed: %v", m.err)))
	case r.Partial():
		b.WriteString(styles.warn.Render("! Transfer finished with failed chunks"))
	case r.DestPlaylist == nil:
		b.WriteString(styles.ok.Render("✓ Dry run complete"))
	default:
		b.WriteString(styles.ok.Render("✓ Transfer complete!"))
	}
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Source: %s (%d tracks)\n", r.SourcePlaylist.Playlist.Name, r.TotalTracks)
	if r.DestPlaylist != nil {
		fmt.Fprintf(&b, "Destination: %s [%s]\n", r.DestPlaylist.Name, r.DestPlaylist.ID)
		fmt.Fprintf(&b, "Added: %d, already present: %d\n", r.AddedCount, r.SkippedCount)
	}
	fmt.Fprintf(&b, "Matched: %d/%d (%.1f%%)\n", r.SuccessCount, r.TotalTracks, r.MatchPercentage)

	if len(r.LookupFailures) > 0 || len(r.AddFailures) > 0 {
		b.WriteString("\n")
		b.WriteString(styles.warn.Render(fmt.Sprintf("Failed chunks: %d lookup, %d add", len(r.LookupFailures), len(r.AddFailures))))
		b.WriteString("\n")
	}

	if unmatched := r.Unmatched(); len(unmatched) > 0 {
		b.WriteString("\n")
		b.WriteString(styles.warn.Render(fmt.Sprintf("Unmatched tracks (%d):", len(unmatched))))
		for i, t := range unmatched {
			if i == maxUnmatchedShown {
				fmt.Fprintf(&b, "\n  … and %d more", len(unmatched)-i)
				break
			}
			fmt.Fprintf(&b, "\n  • %s", t.String())
		}
		b.WriteString("\n")
	}

	return fmt.Sprintf("%s\n%s", b.String(), helpView)
}
