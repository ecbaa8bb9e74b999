// Package notifier delivers item notifications to one chat.
//
// Unlike a fire-and-forget queue, Send is synchronous: the monitor only marks an item
// as notified after Send returned nil. The service still owns the delivery policy
// (token bucket, retries with backoff, flood-wait handling) so callers stay simple.
//
// # History
//
// For debugging and status output, the service keeps a small in-memory history of
// recently delivered messages.
package notifier
