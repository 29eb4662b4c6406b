// Package services talks to the Spotify and Tidal HTTP APIs.
//
// # REST client
//
// [RESTClient] sends bearer-authenticated JSON requests for one vendor. A request without a
// token fails with [shared.ErrNotAuthenticated] before anything goes over the wire, and
// non-2xx responses come back as [*APIError], which unwraps to a shared sentinel
// ([shared.ErrTokenExpired] for 401, [shared.ErrRateLimited] for 429).
//
// # Spotify
//
// [SpotifyService] is the [Source]. Listings follow Spotify's "next" links through
// [batch.Paginate]; the link is reduced to a path relative to the API root and used as
// the cursor.
//
// # Tidal
//
// [TidalService] is the [Destination]. [TidalService.NewSession] reads the user's id and
// country once and every later call takes the resulting [Session]. Lookups by ISRC or id
// and playlist writes go through [batch.Stagger] twenty ids at a time; listings follow
// the page[cursor] parameter of "links.next".
//
// Track matching uses ISRC when available, falling back to [TidalService.SearchTrack].
package services
