package mqtt

import (
	"context"
	"sync"
)

// Message is one inbound publish as seen by the control loop.
type Message struct {
	Topic   string
	Payload []byte
}

// inbox hands messages from the client library's goroutines to the
// control loop in receipt order. put blocks when the buffer is full so
// nothing is dropped; the library then stops reading from the socket
// until the loop catches up.
type inbox struct {
	ch   chan Message
	done chan struct{}
	once sync.Once
}

func newInbox(size int) *inbox {
	if size <= 0 {
		size = 1
	}
	return &inbox{
		ch:   make(chan Message, size),
		done: make(chan struct{}),
	}
}

// put enqueues a copy of the message. It returns false once the inbox is closed.
func (b *inbox) put(topic string, payload []byte) bool {
	msg := Message{
		Topic:   topic,
		Payload: append([]byte(nil), payload...),
	}
	select {
	case <-b.done:
		return false
	default:
	}
	select {
	case b.ch <- msg:
		return true
	case <-b.done:
		return false
	}
}

// receive waits for the next message until ctx is done.
func (b *inbox) receive(ctx context.Context) (Message, bool) {
	select {
	case msg := <-b.ch:
		return msg, true
	default:
	}
	select {
	case msg := <-b.ch:
		return msg, true
	case <-ctx.Done():
		return Message{}, false
	case <-b.done:
		return Message{}, false
	}
}

// close releases any blocked producers. Safe to call more than once.
func (b *inbox) close() {
	b.once.Do(func() { close(b.done) })
}
