// Package dispatch contains the conversation scheduler: the single serialized
// aggregate that turns inbound customer messages, agent commands, timer
// firings, and lookup results into assignments, queue movements, and outbound
// messages.
//
// Every mutation runs under one mutex. Handlers never perform I/O while
// holding it; they accumulate an effects set (sends, notifications, async
// lookups, delayed fallbacks) that is applied after the lock is released.
// Asynchronous outcomes re-enter through serialized methods that re-validate
// conversation state, so a result that arrives late is simply discarded.
package dispatch
