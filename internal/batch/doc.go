// Package batch paces requests against rate-limited vendor APIs.
//
// # Stagger
//
// [Stagger] splits an ordered slice into fixed-size chunks and hands each chunk to a
// caller-supplied [ChunkFunc], strictly one at a time, with a fixed pause between chunks.
// Chunks are formed left to right without reordering or deduplication; the last chunk may
// be short. There is no pause after the final chunk, so N chunks incur N-1 pauses.
//
// A chunk that fails is logged, recorded in [Result.Failed], and skipped; later chunks still
// run. A processor that knows every later chunk will fail as well (a missing access token,
// for instance) returns [Abort] to stop the run early.
//
// # Paginate
//
// [Paginate] walks a cursor-paginated listing one page at a time, pausing between pages.
// Unlike [Stagger] a failed page is not skipped: the error is returned along with whatever
// pages were already collected.
//
// Both helpers check the context before each request and while pausing, and return the
// partial result when it is cancelled.
package batch
