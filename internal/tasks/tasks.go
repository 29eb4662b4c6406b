package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotidal/internal/batch"
	"github.com/desertthunder/spotidal/internal/models"
	"github.com/desertthunder/spotidal/internal/services"
	"github.com/desertthunder/spotidal/internal/shared"
	"github.com/samber/lo"
)

// DefaultSearchDelay paces title/artist searches, which run one request at a time.
const DefaultSearchDelay = time.Second

// MatchMethod records how a source track was found on the destination.
type MatchMethod string

const (
	MatchNone   MatchMethod = ""
	MatchISRC   MatchMethod = "isrc"
	MatchSearch MatchMethod = "search"
)

// TrackMatchResult represents the result of attempting to match a single track.
type TrackMatchResult struct {
	Original models.Track  // Original track from source
	Matched  *models.Track // Matched track (nil if not found)
	Method   MatchMethod
	Error    error // Why the track is unmatched, when known
}

// TransferOptions selects the source and destination of [SyncEngine.Run].
type TransferOptions struct {
	// Source is a Spotify playlist ID or exact name.
	Source string
	// DestName defaults to the source playlist name.
	DestName    string
	Description string
	Public      bool
	// DestID adds to an existing Tidal playlist instead of creating one.
	DestID string
	// Reuse adds to a Tidal playlist named DestName when one exists.
	Reuse bool
	// SearchFallback searches title and artist for tracks the ISRC lookup missed.
	SearchFallback bool
	// DryRun resolves tracks without writing anything.
	DryRun bool
}

// TransferRunResult contains all data from a full transfer operation.
type TransferRunResult struct {
	// RunID tags the log lines of one transfer.
	RunID           string
	SourcePlaylist  *models.PlaylistExport
	DestPlaylist    *models.Playlist
	Reused          bool
	TrackMatches    []TrackMatchResult
	SuccessCount    int
	FailedCount     int
	TotalTracks     int
	MatchPercentage float64
	// AddedCount counts tracks written; SkippedCount those already on a reused playlist.
	AddedCount   int
	SkippedCount int

	LookupFailures []batch.ChunkFailure[string]
	AddFailures    []batch.ChunkFailure[string]
}

// Unmatched returns the source tracks with no destination match.
func (r *TransferRunResult) Unmatched() []models.Track {
	return lo.FilterMap(r.TrackMatches, func(m TrackMatchResult, _ int) (models.Track, bool) {
		return m.Original, m.Matched == nil
	})
}

// Partial reports whether any lookup or add chunk failed.
func (r *TransferRunResult) Partial() bool {
	return len(r.LookupFailures) > 0 || len(r.AddFailures) > 0
}

// ComparisonResult contains track comparison details between two playlists.
type ComparisonResult struct {
	SourcePlaylist *models.PlaylistExport // Source playlist
	DestPlaylist   *models.PlaylistExport // Destination playlist
	MatchedCount   int                    // Tracks found in both
	MissingInDest  []models.Track         // Tracks in source but not in dest
	ExtraInDest    []models.Track         // Tracks in dest but not in source
}

// TransferDiffResult contains the results of comparing two playlists.
type TransferDiffResult struct {
	Comparison ComparisonResult
}

// SyncEngine defines operations for moving playlists from a source to a destination.
type SyncEngine interface {
	// Run copies a source playlist to the destination.
	Run(ctx context.Context, progress chan<- ProgressUpdate, opts TransferOptions) (*TransferRunResult, error)

	// Diff compares a source playlist with a destination playlist.
	Diff(ctx context.Context, progress chan<- ProgressUpdate, sourceID, destID string) (*TransferDiffResult, error)

	// Export writes source playlists to disk.
	Export(ctx context.Context, progress chan<- ProgressUpdate, ids []string, opts ExportOpts) (*BulkExportResult, error)
}

// EngineOptions tunes pacing of the requests the engine issues itself.
type EngineOptions struct {
	Logger *log.Logger
	// SearchDelay paces fallback searches. Zero uses [DefaultSearchDelay]; negative disables.
	SearchDelay time.Duration
	// ExportDelay paces playlist exports. Zero uses [batch.DefaultDelay]; negative disables.
	ExportDelay time.Duration
	Sleep       batch.SleepFunc
}

// PlaylistEngine implements [SyncEngine].
type PlaylistEngine struct {
	source services.Source
	dest   services.Destination
	opts   EngineOptions
	logger *log.Logger
}

var _ SyncEngine = (*PlaylistEngine)(nil)

// NewPlaylistEngine creates a new PlaylistEngine with the provided services.
func NewPlaylistEngine(source services.Source, dest services.Destination, opts EngineOptions) *PlaylistEngine {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.SearchDelay == 0 {
		opts.SearchDelay = DefaultSearchDelay
	}
	return &PlaylistEngine{source: source, dest: dest, opts: opts, logger: opts.Logger}
}

// sendProgress sends a progress update through the channel without blocking.
func (e *PlaylistEngine) sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

func (e *PlaylistEngine) ready(needDest bool) error {
	if e.source == nil {
		return fmt.Errorf("%w: source service not initialized", shared.ErrServiceUnavailable)
	}
	if needDest && e.dest == nil {
		return fmt.Errorf("%w: destination service not initialized", shared.ErrServiceUnavailable)
	}
	return nil
}

// exportSource exports idOrName, falling back to the first playlist whose name matches exactly.
func (e *PlaylistEngine) exportSource(ctx context.Context, idOrName string) (*models.PlaylistExport, error) {
	export, err := e.source.ExportPlaylist(ctx, idOrName)
	if err == nil {
		return export, nil
	}
	if services.IsAuthError(err) || ctx.Err() != nil {
		return nil, err
	}

	playlists, listErr := e.source.GetPlaylists(ctx)
	if listErr != nil {
		return nil, fmt.Errorf("failed to list %s playlists: %w", e.source.Name(), listErr)
	}
	pl, ok := lo.Find(playlists, func(p models.Playlist) bool { return p.Name == idOrName })
	if !ok {
		return nil, fmt.Errorf("%w: no playlist with ID or name %q", shared.ErrPlaylistNotFound, idOrName)
	}

	export, err = e.source.ExportPlaylist(ctx, pl.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to export playlist %s: %w", pl.ID, err)
	}
	return export, nil
}

// Run exports the source playlist, resolves it on the destination and writes the matches.
//
// The returned result is non-nil whenever the source playlist was fetched, even on error.
func (e *PlaylistEngine) Run(ctx context.Context, progress chan<- ProgressUpdate, opts TransferOptions) (*TransferRunResult, error) {
	if err := e.ready(true); err != nil {
		return nil, err
	}
	if strings.TrimSpace(opts.Source) == "" {
		return nil, fmt.Errorf("%w: source playlist", shared.ErrMissingArgument)
	}

	runID := shared.GenerateID()
	logger := e.logger.With("run_id", runID)

	e.sendProgress(progress, fetchingSourceUpdate(e.source.Name()))
	src, err := e.exportSource(ctx, opts.Source)
	if err != nil {
		return nil, err
	}
	e.sendProgress(progress, foundPlaylistUpdate(src))
	logger.Info("transfer started", "source", src.Playlist.ID, "tracks", len(src.Tracks), "dry_run", opts.DryRun)

	result := &TransferRunResult{RunID: runID, SourcePlaylist: src, TotalTracks: len(src.Tracks)}
	result.TrackMatches = lo.Map(src.Tracks, func(t models.Track, _ int) TrackMatchResult {
		return TrackMatchResult{Original: t}
	})

	e.sendProgress(progress, sessionUpdate(e.dest.Name()))
	sess, err := e.dest.NewSession(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to open %s session: %w", e.dest.Name(), err)
	}

	if err := e.resolveISRCs(ctx, progress, sess, result); err != nil {
		return result, err
	}
	if opts.SearchFallback {
		if err := e.searchUnmatched(ctx, progress, sess, result); err != nil {
			return result, err
		}
	}
	e.tally(result)

	if result.SuccessCount == 0 {
		return result, fmt.Errorf("%w: none of %d tracks matched on %s", shared.ErrTrackNotFound, result.TotalTracks, e.dest.Name())
	}
	if opts.DryRun {
		return result, nil
	}

	existing, err := e.destinationPlaylist(ctx, progress, sess, src, opts, result)
	if err != nil {
		return result, err
	}

	ids := lo.Uniq(lo.FilterMap(result.TrackMatches, func(m TrackMatchResult, _ int) (string, bool) {
		if m.Matched == nil {
			return "", false
		}
		return m.Matched.ID, true
	}))
	toAdd := lo.Reject(ids, func(id string, _ int) bool { return existing[id] })
	result.SkippedCount = len(ids) - len(toAdd)

	e.sendProgress(progress, addTracksUpdate(len(toAdd)))
	added, err := e.dest.AddTracks(ctx, sess, result.DestPlaylist.ID, toAdd)
	if added != nil {
		result.AddFailures = added.Failed
		result.AddedCount = lo.SumBy(added.Succeeded, func(c services.AddedChunk) int { return len(c.TrackIDs) })
	}
	e.sendProgress(progress, addedTracksUpdate(result.AddedCount, len(toAdd)))
	if err != nil {
		return result, fmt.Errorf("failed to add tracks: %w", err)
	}
	logger.Info("transfer finished", "dest", result.DestPlaylist.ID, "added", result.AddedCount, "failed_chunks", len(result.AddFailures))
	return result, nil
}

// resolveISRCs matches every source track that carries an ISRC.
func (e *PlaylistEngine) resolveISRCs(ctx context.Context, progress chan<- ProgressUpdate, sess *services.Session, result *TransferRunResult) error {
	isrcs := lo.Uniq(lo.FilterMap(result.SourcePlaylist.Tracks, func(t models.Track, _ int) (string, bool) {
		return t.ISRC, t.ISRC != ""
	}))
	if len(isrcs) == 0 {
		return nil
	}

	e.sendProgress(progress, resolveISRCUpdate(len(isrcs)))
	res, err := e.dest.LookupISRCs(ctx, sess, isrcs)
	if res != nil {
		result.LookupFailures = res.Failed
		e.applyISRCMatches(res, result)
	}
	if err != nil {
		return fmt.Errorf("failed to resolve ISRCs: %w", err)
	}

	matched := lo.CountBy(result.TrackMatches, func(m TrackMatchResult) bool { return m.Matched != nil })
	e.sendProgress(progress, resolvedISRCUpdate(matched, result.TotalTracks))
	return nil
}

func (e *PlaylistEngine) applyISRCMatches(res *batch.Result[string, models.Track], result *TransferRunResult) {
	// The first track returned for an ISRC wins.
	byISRC := map[string]models.Track{}
	for _, t := range res.Succeeded {
		if _, seen := byISRC[t.ISRC]; !seen && t.ISRC != "" {
			byISRC[t.ISRC] = t
		}
	}

	failedIn := map[string]error{}
	for _, f := range res.Failed {
		for _, isrc := range f.Items {
			failedIn[isrc] = f.Err
		}
	}

	for i := range result.TrackMatches {
		m := &result.TrackMatches[i]
		isrc := m.Original.ISRC
		if isrc == "" {
			continue
		}
		if t, ok := byISRC[isrc]; ok {
			m.Matched, m.Method, m.Error = &t, MatchISRC, nil
			continue
		}
		if err, ok := failedIn[isrc]; ok {
			m.Error = err
		} else {
			m.Error = fmt.Errorf("%w: isrc %s", shared.ErrTrackNotFound, isrc)
		}
	}
}

// searchUnmatched looks up the remaining tracks by title and artist, one request per pause.
func (e *PlaylistEngine) searchUnmatched(ctx context.Context, progress chan<- ProgressUpdate, sess *services.Session, result *TransferRunResult) error {
	pending := lo.FilterMap(result.TrackMatches, func(m TrackMatchResult, i int) (int, bool) {
		return i, m.Matched == nil
	})
	if len(pending) == 0 {
		return nil
	}

	total := len(pending)
	e.sendProgress(progress, searchTracksUpdate(0, total, nil))

	step := 0
	_, err := batch.Stagger(ctx, pending, func(ctx context.Context, chunk []int) ([]int, error) {
		m := &result.TrackMatches[chunk[0]]
		step++
		e.sendProgress(progress, searchTracksUpdate(step, total, &m.Original))

		found, err := e.dest.SearchTrack(ctx, sess, m.Original.Title, m.Original.Artist)
		if err != nil {
			m.Error = err
			if services.IsAuthError(err) {
				return nil, batch.Abort(err)
			}
			return nil, err
		}
		m.Matched, m.Method, m.Error = found, MatchSearch, nil
		return chunk, nil
	}, batch.Options{
		Operation: "tasks.search_fallback",
		ChunkSize: 1,
		Delay:     e.opts.SearchDelay,
		Logger:    e.logger,
		Sleep:     e.opts.Sleep,
	})
	if err != nil {
		return fmt.Errorf("search fallback: %w", err)
	}
	return nil
}

func (e *PlaylistEngine) tally(result *TransferRunResult) {
	result.SuccessCount = lo.CountBy(result.TrackMatches, func(m TrackMatchResult) bool { return m.Matched != nil })
	result.FailedCount = result.TotalTracks - result.SuccessCount
	if result.TotalTracks > 0 {
		result.MatchPercentage = float64(result.SuccessCount) / float64(result.TotalTracks) * 100
	}
}

// destinationPlaylist picks or creates the target playlist and returns the track IDs already on it.
func (e *PlaylistEngine) destinationPlaylist(
	ctx context.Context,
	progress chan<- ProgressUpdate,
	sess *services.Session,
	src *models.PlaylistExport,
	opts TransferOptions,
	result *TransferRunResult,
) (map[string]bool, error) {
	name := lo.Ternary(opts.DestName != "", opts.DestName, src.Playlist.Name)

	var reuseID string
	switch {
	case opts.DestID != "":
		reuseID = opts.DestID
	case opts.Reuse:
		pl, err := e.dest.FindPlaylistByName(ctx, sess, name)
		switch {
		case err == nil:
			reuseID = pl.ID
		case !errors.Is(err, shared.ErrPlaylistNotFound):
			return nil, fmt.Errorf("failed to look up %s playlist %q: %w", e.dest.Name(), name, err)
		}
	}

	if reuseID != "" {
		pl, err := e.dest.GetPlaylist(ctx, sess, reuseID)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s playlist %s: %w", e.dest.Name(), reuseID, err)
		}
		// Item ids only: an export drops tracks whose details fail to resolve, which
		// would re-add them.
		ids, err := e.dest.PlaylistItemIDs(ctx, sess, reuseID)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s playlist items %s: %w", e.dest.Name(), reuseID, err)
		}
		pl.TrackCount = len(ids)
		result.DestPlaylist = pl
		result.Reused = true
		e.sendProgress(progress, createPlaylistUpdate(result.DestPlaylist, true))
		return lo.SliceToMap(ids, func(id string) (string, bool) { return id, true }), nil
	}

	description := opts.Description
	if description == "" {
		description = fmt.Sprintf("Migrated from %s: %s", e.source.Name(), src.Playlist.Name)
	}

	e.sendProgress(progress, createDestinationUpdate(e.dest.Name()))
	pl, err := e.dest.CreatePlaylist(ctx, sess, name, description, opts.Public)
	if err != nil {
		return nil, fmt.Errorf("failed to create playlist: %w", err)
	}
	result.DestPlaylist = pl
	e.sendProgress(progress, createPlaylistUpdate(pl, false))
	return map[string]bool{}, nil
}

// Diff compares a source playlist with a destination playlist.
func (e *PlaylistEngine) Diff(ctx context.Context, progress chan<- ProgressUpdate, sourceID, destID string) (*TransferDiffResult, error) {
	if err := e.ready(true); err != nil {
		return nil, err
	}

	e.sendProgress(progress, fetchingSourceUpdate(e.source.Name()))
	sourceExport, err := e.exportSource(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to export source playlist: %w", err)
	}

	e.sendProgress(progress, fetchDestUpdate(1, 1, e.dest.Name()))
	sess, err := e.dest.NewSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s session: %w", e.dest.Name(), err)
	}
	destExport, err := e.dest.ExportPlaylist(ctx, sess, destID)
	if err != nil {
		return nil, fmt.Errorf("failed to export destination playlist: %w", err)
	}

	e.sendProgress(progress, compareUpdate(1, 1, "Comparing tracks..."))
	return &TransferDiffResult{Comparison: Compare(sourceExport, destExport)}, nil
}

// trackIndex finds tracks by ISRC, then by normalized title and artist.
type trackIndex struct {
	isrc map[string]bool
	key  map[string]bool
}

func newTrackIndex(tracks []models.Track) trackIndex {
	idx := trackIndex{isrc: map[string]bool{}, key: map[string]bool{}}
	for _, t := range tracks {
		if t.ISRC != "" {
			idx.isrc[t.ISRC] = true
		}
		idx.key[shared.NormalizeTrackKey(t.Title, t.Artist)] = true
	}
	return idx
}

func (idx trackIndex) contains(t models.Track) bool {
	if t.ISRC != "" && idx.isrc[t.ISRC] {
		return true
	}
	return idx.key[shared.NormalizeTrackKey(t.Title, t.Artist)]
}

// Compare matches source against dest by ISRC, falling back to normalized title and artist.
func Compare(source, dest *models.PlaylistExport) ComparisonResult {
	srcIdx, destIdx := newTrackIndex(source.Tracks), newTrackIndex(dest.Tracks)

	missing := lo.Reject(source.Tracks, func(t models.Track, _ int) bool { return destIdx.contains(t) })
	extra := lo.Reject(dest.Tracks, func(t models.Track, _ int) bool { return srcIdx.contains(t) })

	return ComparisonResult{
		SourcePlaylist: source,
		DestPlaylist:   dest,
		MatchedCount:   len(source.Tracks) - len(missing),
		MissingInDest:  missing,
		ExtraInDest:    extra,
	}
}
