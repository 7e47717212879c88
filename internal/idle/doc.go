// Package idle schedules the two-stage inactivity timeout (warn, then close)
// and the short no-reply deadline behind menus. Timers fire hooks that
// re-enter the scheduler; generation counters make cancellation exact.
package idle
