// Package event provides the in-process event bus for devscope.
//
// Events arrive from the device as envelopes addressed to a plugin and tagged
// with an event type:
//
//	{"pluginId": "http", "eventType": "http.request", "payload": {...}}
//
// The bus routes envelopes by event type to every subscribed handler. It does
// not interpret payloads; they are carried as raw JSON.
//
// # Delivery
//
// Publish is synchronous. Handlers run in the publisher's goroutine in the
// order they subscribed. A handler that panics is recovered and logged, and
// delivery continues with the next handler, so one misbehaving subscriber
// cannot starve the others.
//
// # Subscriptions
//
// A single Subscribe call may list several event types. The returned function
// removes the handler from all of them and is safe to call more than once:
//
//	unsubscribe := bus.Subscribe([]string{"http.request", "http.response"}, func(env event.Envelope) {
//	    // ...
//	})
//	defer unsubscribe()
//
// A type with a "*" (one segment) or "**" (any number of segments) wildcard
// subscribes to every matching event type, so "http.*" receives both
// http.request and http.response. Matching is done by package topic.
package event
