// Package breaker wraps every outbound call the engine makes with a
// circuit breaker and a transient-failure retry policy.
//
// One breaker exists per named upstream: each adapter gets one, and the
// remote cache tier gets its own. Breakers fail fast while open so a
// broken source cannot stall tool calls, and transition logs give
// operators a record of every open/half-open/close event.
//
// The retry policy sits around the breaker, not inside it: a call that
// trips the breaker open is not retried, and only failures classified as
// transient are retried at all.
package breaker
