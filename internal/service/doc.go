// Package service carries the event plumbing shared by the master and the
// HTTP surface.
//
// # Event System
//
// The master publishes an Event on the EventBus after every topology state
// change it makes: initialization, a completed activate or deactivate, a
// transition that failed to persist, and a reloaded definition. Subscribers receive events on their own
// channels; Publish never blocks, so a slow subscriber misses events instead
// of stalling the master. The SSE hub is the main subscriber and forwards
// every event to connected clients.
package service
