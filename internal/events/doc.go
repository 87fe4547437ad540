// Package events implements the in-process event bus that carries server
// lifecycle, execution and credential notifications to any number of
// subscribers.
//
// Topics are dot separated ("servers.<id>", "executions.<serverID>").
// Subscriptions take a pattern where "*" matches one segment and a trailing
// ">" matches the rest:
//
//	sub, err := bus.Subscribe(ctx, "servers.*")
//	for ev := range sub.Events() {
//		...
//	}
//	if err := sub.Err(); err != nil {
//		// *api.SubscriberOverflowError: the consumer fell behind
//	}
//
// Publish is non-blocking. Each subscriber has a bounded buffer; when it
// fills, the subscriber receives a final SubscriberOverflow event on the
// "system" topic and its stream is closed. Delivery is at-least-once within
// the process and ordered per topic; every event carries a per-topic
// Sequence so consumers can detect gaps.
package events
