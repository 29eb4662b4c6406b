// Package ui implements an interactive terminal interface using bubbletea's Elm architecture.
//
// The TUI walks through a single Spotify to Tidal migration:
//  1. [PlaylistListView] : Browse and select Spotify playlists
//  2. [TrackListView] : Preview tracks and their ISRCs
//  3. [ConfirmView] : Confirm the transfer, optionally enabling search fallback
//  4. [TransferView] : Follow ISRC lookup and add progress as each chunk completes
//  5. [ResultView] : Match rate, failed chunks and unmatched tracks
//
// Progress updates flow through a channel from [tasks.PlaylistEngine]; each one is
// delivered to [Model.Update] as a [Msg].
package ui
