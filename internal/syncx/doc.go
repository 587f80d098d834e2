// Package syncx provides the small suspension/wakeup primitives the relay
// protocol is built from.
//
// Every primitive exposes channels rather than blocking calls so a caller
// can race it against a context, a timer or another primitive in a single
// select statement:
//
//   - [Latch] resolves exactly once and stays resolved.
//   - [Signal] wakes the waiters armed before the notification and then
//     rearms; notifications with no armed waiter are lost.
//   - [Barrier] releases once every party is inside at the same time and
//     lets an abandoned arrival be compensated with [Barrier.Leave].
//   - [Mutex] is a mutual exclusion lock whose acquisition can be cancelled.
package syncx
