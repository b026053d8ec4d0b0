// Package scheduler runs the gateway's background jobs on a cron engine:
// fixed interval jobs such as inbox polling, daily wake-ups for scheduled
// charging and one-shot jobs such as the relogin attempt.
package scheduler
