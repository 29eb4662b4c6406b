// Package repositories provides sqlite persistence for [models.Model] types.
//
// The only persisted entity is [models.StoredToken], served by [TokenRepository]. Rows are
// keyed by a generated id and unique per service; deletes are hard deletes since a
// revoked token has no history worth keeping.
package repositories
