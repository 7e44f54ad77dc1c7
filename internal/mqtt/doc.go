// Package mqtt owns the single broker session GrowStudio holds open to
// reach the controller board, and the topic router that fans inbound
// messages out to registered callbacks.
//
// The [Session] uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. On every
// (re-)connect it re-subscribes to every topic recorded so far, so
// callers subscribe once and never track broker state themselves.
// Outbound commands are fire-and-forget: they are handed to a single
// sender goroutine and dropped if the session is down when their turn
// comes. Nothing is queued for later delivery.
//
// The [Router] is deliberately transport-agnostic. It only needs
// something with a Subscribe(topic) method, and it isolates callbacks
// from one another: an error or panic in one callback is logged and
// counted without affecting other callbacks or later messages.
package mqtt
