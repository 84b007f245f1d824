// Package scheduler decides when reminder, overdue and digest notifications
// fire, and holds the in-process handles for pending firings.
//
// The service owns three scheduling surfaces:
//   - per-task one-shot reminder timers, keyed by task ID, at most one live
//     timer per task (replace-on-schedule, version-fenced callbacks)
//   - a daily overdue sweep that transitions pending tasks past their due
//     date to overdue and emits one aggregated alert per user
//   - a daily digest sweep that summarizes each user's outstanding tasks
//
// Handles live only in process memory; Start() re-derives all per-task jobs
// from storage, so a restart loses no future reminder whose window has not
// already elapsed.
package scheduler
