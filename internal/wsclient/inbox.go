package wsclient

import (
	"context"

	"github.com/park285/Cheese-matchd/internal/protocol"
)

// Inbox buffers payloads received after its creation for sequential reads.
// Payloads arriving while the buffer is full are dropped.
type Inbox struct {
	c  *Client
	id int
	ch chan protocol.Payload
}

func (c *Client) Inbox(size int) *Inbox {
	if size <= 0 {
		size = 64
	}
	in := &Inbox{c: c, ch: make(chan protocol.Payload, size)}
	in.id = c.OnMessage(func(p protocol.Payload) {
		select {
		case in.ch <- p:
		default:
		}
	})
	return in
}

func (in *Inbox) Next(ctx context.Context) (protocol.Payload, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case p := <-in.ch:
		return p, nil
	}
}

// Await skips payloads until one of kind arrives.
func (in *Inbox) Await(ctx context.Context, kind protocol.Kind) (protocol.Payload, error) {
	for {
		p, err := in.Next(ctx)
		if err != nil {
			return nil, err
		}
		if p.Kind() == kind {
			return p, nil
		}
	}
}

func (in *Inbox) Close() { in.c.RemoveMessageCallback(in.id) }
