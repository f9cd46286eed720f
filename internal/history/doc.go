// ABOUTME: Serialized history fetching with per-conversation job coalescing
// ABOUTME: Pagination, newest-first reversal, thread merging, batched read marks

// Package history backfills conversation transcripts from the remote
// API. Fetches run as jobs on a global FIFO queue with one job in
// flight, keeping history traffic from starving interactive calls.
//
// A queued (not yet running) job for the same target is replaced in
// place rather than duplicated, so repeated requests for the same
// conversation coalesce and keep their original queue position.
//
// The remote returns plain history newest-first; jobs accumulate pages
// up to an optional per-request cap and deliver oldest-first. Thread replies arrive oldest-first
// and are delivered in arrival order. Delivered messages advance the
// conversation's last-message watermark, which both deduplicates
// overlapping fetches and drives read marking.
package history
