// Package events is the bot's operational event bus. The agent loop and
// the IRC client publish to it; the MQTT exporter subscribes. Publishing
// on a nil *Bus is a no-op so components need no guard checks.
package events

import (
	"sync"
	"time"
)

// Sources.
const (
	SourceAgent = "agent"
	SourceIRC   = "irc"
	SourceModel = "model"
)

// Kinds. The Data keys each kind carries are listed beside it.
const (
	// channel, nick, request_id
	KindRequestStart = "request_start"
	// request_id, iter, max_tokens, est_prompt_tokens
	KindLLMCall = "llm_call"
	// request_id, iter, model, tokens_in, tokens_out, tool_calls, fallback
	KindLLMResponse = "llm_response"
	// request_id, tool, tool_call_id
	KindToolCall = "tool_call"
	// request_id, tool, duration_ms
	KindToolDone = "tool_done"
	// request_id, channel, iterations, exhausted, elapsed_ms, chunks
	KindRequestComplete = "request_complete"
	// request_id, channel, error
	KindRequestFailed = "request_failed"
	// channel, compacted_turns, retained_turns
	KindCompaction = "compaction"

	// server, nick
	KindConnected = "connected"
	// server, error
	KindDisconnected = "disconnected"
	// channel
	KindJoined = "joined"

	// service, ready, error
	KindHealth = "health"
)

// Event is one operational event.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs. This allows
	// Unsubscribe to accept <-chan Event (the caller's view) without
	// an illegal type conversion.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full; drop rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize sets the channel buffer.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// Emit publishes an event stamped with the current time.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	if b == nil {
		return
	}
	b.Publish(Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data})
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
