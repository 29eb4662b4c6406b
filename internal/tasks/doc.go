// Package tasks orchestrates Spotify to Tidal playlist operations with progress reporting.
//
// # Core Operations
//
// The [SyncEngine] interface defines three operations:
//
//  1. [SyncEngine.Run] : Spotify → Tidal transfer
//     - Exports the source playlist (by ID, falling back to an exact name match)
//     - Opens one Tidal [services.Session] used for every following call
//     - Resolves ISRCs in staggered chunks, then optionally searches the leftovers one at a time
//     - Creates (or reuses) the destination playlist and adds the matches in staggered chunks
//     - Reports per-track matches plus the chunks that failed
//
//  2. [SyncEngine.Diff] : Compare a Spotify playlist with a Tidal one
//     - Matches tracks via ISRC (preferred) or normalized title/artist
//     - Reports matched count, missing tracks, and extra tracks
//
//  3. [SyncEngine.Export] : Write Spotify playlists to disk
//     - One playlist per staggered chunk, written by the formatter package
//     - A manifest summarizes successes and failures
//
// # Progress Reporting
//
// All operations send [ProgressUpdate] values on an optional channel. Sends use select with
// default, so a slow or absent reader never blocks a transfer.
//
// # Partial Failure
//
// A failed chunk is recorded and the run continues. Only cancellation and authentication
// failures stop an operation early; the partial result is still returned alongside the error.
package tasks
