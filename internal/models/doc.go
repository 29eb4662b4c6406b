// Package models defines the data passed between services, tasks and storage.
//
// [Playlist], [PlaylistExport] and [Track] are pass-through DTOs mirroring what the
// Spotify and Tidal APIs return; nothing about them is persisted.
//
// [StoredToken] is the one persistent entity: an OAuth token kept by the sqlite token
// store. It implements [Model] so it can be served by a generic [Repository].
package models
