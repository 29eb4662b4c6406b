// Package auth keeps OAuth tokens for Spotify and Tidal.
//
// A [Provider] hands out access tokens for one service, refreshing them through the
// service's [oauth2.Config] and writing rotated tokens back to its [Store]. Three stores
// exist: [FileStore] keeps tokens in the TOML config, [SQLiteStore] in the tokens table
// and [RedisStore] under spotidal:token:<service>.
package auth
