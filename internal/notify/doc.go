// Package notify is the notification emitter: it persists a notification
// record, then pushes it to the owner's realtime channel.
//
// Persistence is synchronous and authoritative. The realtime push runs on an
// async pipeline (bounded queue + rate limit) and is strictly best-effort: a
// failed or dropped push never rolls back the stored record, and a
// disconnected client picks the record up from the notifications list.
package notify
