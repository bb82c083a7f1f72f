// Package transport provides the abstract message channel a coupling
// scheme exchanges data over, plus an in-process implementation used by
// tests and the demo CLI.
package transport

import (
	"context"

	"github.com/google/uuid"

	"github.com/cynidn2x/precice/pkg/errors"
)

// Channel is the opaque FIFO transport a coupling scheme sends and
// receives typed values over. Implementations must be reliable and
// preserve send order as receive order between any two peers.
type Channel interface {
	SendInt(ctx context.Context, v int32) error
	SendBool(ctx context.Context, v bool) error
	SendDoubleVector(ctx context.Context, v []float64) error

	ReceiveInt(ctx context.Context) (int32, error)
	ReceiveBool(ctx context.Context) (bool, error)
	ReceiveDoubleVector(ctx context.Context) ([]float64, error)
}

type messageKind int

const (
	kindInt messageKind = iota
	kindBool
	kindDoubleVector
)

// wireMessage is what actually travels across the in-process pipe. Every
// message carries a trace ID so a log line can be correlated with the
// exact send/receive pair that produced it when debugging ordering bugs.
type wireMessage struct {
	kind    messageKind
	i       int32
	b       bool
	v       []float64
	traceID string
}

// InProcessChannel is a Channel backed by a pair of buffered Go channels,
// wired so that everything sent on one endpoint of a pipe arrives, in
// order, on the other endpoint's receive calls.
type InProcessChannel struct {
	out  chan wireMessage
	in   chan wireMessage
	name string
}

// NewInProcessPipe creates two connected endpoints: whatever is sent on a
// arrives on b, and vice versa. bufferSize controls how many messages may
// be in flight before a send blocks.
func NewInProcessPipe(nameA, nameB string, bufferSize int) (a, b *InProcessChannel) {
	abChan := make(chan wireMessage, bufferSize)
	baChan := make(chan wireMessage, bufferSize)
	a = &InProcessChannel{out: abChan, in: baChan, name: nameA}
	b = &InProcessChannel{out: baChan, in: abChan, name: nameB}
	return a, b
}

func (c *InProcessChannel) send(ctx context.Context, msg wireMessage) error {
	msg.traceID = uuid.NewString()
	select {
	case c.out <- msg:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.ErrTransport, "send on "+c.name+" canceled")
	}
}

func (c *InProcessChannel) receive(ctx context.Context, kind messageKind) (wireMessage, error) {
	select {
	case msg, ok := <-c.in:
		if !ok {
			return wireMessage{}, errors.New(errors.ErrTransport, "channel "+c.name+" closed")
		}
		if msg.kind != kind {
			return wireMessage{}, errors.WithFields(
				errors.New(errors.ErrTransport, "unexpected message kind on "+c.name),
				errors.Fields{"want": kind, "got": msg.kind, "trace_id": msg.traceID},
			)
		}
		return msg, nil
	case <-ctx.Done():
		return wireMessage{}, errors.Wrap(ctx.Err(), errors.ErrTransport, "receive on "+c.name+" canceled")
	}
}

func (c *InProcessChannel) SendInt(ctx context.Context, v int32) error {
	return c.send(ctx, wireMessage{kind: kindInt, i: v})
}

func (c *InProcessChannel) SendBool(ctx context.Context, v bool) error {
	return c.send(ctx, wireMessage{kind: kindBool, b: v})
}

func (c *InProcessChannel) SendDoubleVector(ctx context.Context, v []float64) error {
	return c.send(ctx, wireMessage{kind: kindDoubleVector, v: v})
}

func (c *InProcessChannel) ReceiveInt(ctx context.Context) (int32, error) {
	msg, err := c.receive(ctx, kindInt)
	if err != nil {
		return 0, err
	}
	return msg.i, nil
}

func (c *InProcessChannel) ReceiveBool(ctx context.Context) (bool, error) {
	msg, err := c.receive(ctx, kindBool)
	if err != nil {
		return false, err
	}
	return msg.b, nil
}

func (c *InProcessChannel) ReceiveDoubleVector(ctx context.Context) ([]float64, error) {
	msg, err := c.receive(ctx, kindDoubleVector)
	if err != nil {
		return nil, err
	}
	return msg.v, nil
}
