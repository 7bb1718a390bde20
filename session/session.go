// Copyright 2026 The Pictor Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pictor-project/pictor/lib/codec"
	"github.com/pictor-project/pictor/wire"
)

// ErrClosed is returned by calls on a session that has been closed or
// torn down.
var ErrClosed = errors.New("session closed")

// ProtocolError reports a violation of the framed protocol by the
// worker. It always tears the session down.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "worker protocol violation: " + e.Reason
}

// Process is the lifecycle surface of a launched worker. Implemented by
// sandbox.Handle and by test fakes.
type Process interface {
	// Kill forcibly terminates the worker and closes its channel end.
	Kill()
	// Wait reaps the worker. Safe to call more than once.
	Wait() error
	// Stderr returns the tail of the worker's captured stderr.
	Stderr() string
}

// Session owns one worker process and its protocol channel.
type Session struct {
	// callMu serializes requests: at most one in flight.
	callMu sync.Mutex

	// stateMu guards down. Separate from callMu so Close can tear an
	// in-flight call down instead of waiting for it.
	stateMu sync.Mutex
	down    bool

	conn io.ReadWriteCloser
	proc Process
	seq  uint32
}

// New wraps a connected worker channel and process handle.
func New(conn io.ReadWriteCloser, proc Process) *Session {
	return &Session{conn: conn, proc: proc}
}

// result carries one read response across the cancellation boundary.
type result struct {
	msg wire.Message
	err error
}

// Call performs one request/response exchange. meta is CBOR-encoded
// into the metadata section; raw travels in the raw section. The
// returned Response may carry a structured remote error, which is not a
// session failure. A transport error, protocol violation, or context
// cancellation tears the session down before returning.
func (s *Session) Call(ctx context.Context, op wire.Op, meta any, raw []byte) (*wire.Response, []byte, error) {
	s.callMu.Lock()
	defer s.callMu.Unlock()

	if s.isDown() {
		return nil, nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	metaBytes, err := codec.Marshal(meta)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding %v request: %w", op, err)
	}

	s.seq++
	seq := s.seq

	msg := wire.Message{
		Op:   op,
		Seq:  seq,
		Meta: metaBytes,
		Raw:  raw,
	}
	if err := wire.WriteMessage(s.conn, msg); err != nil {
		s.teardown()
		return nil, nil, fmt.Errorf("sending %v request: %w", op, err)
	}

	// Read on a goroutine so cancellation can interrupt the wait. The
	// channel is buffered: after teardown unblocks the read, the
	// goroutine must be able to exit without a receiver.
	results := make(chan result, 1)
	go func() {
		reply, err := wire.ReadMessage(s.conn)
		results <- result{reply, err}
	}()

	select {
	case res := <-results:
		return s.finish(op, seq, res)

	case <-ctx.Done():
		// The response may have fully arrived while the cancellation
		// was being observed; a completed result is delivered, not
		// discarded.
		select {
		case res := <-results:
			return s.finish(op, seq, res)
		default:
		}
		s.teardown()
		return nil, nil, ctx.Err()
	}
}

// finish validates correlation and decodes the response envelope.
func (s *Session) finish(op wire.Op, seq uint32, res result) (*wire.Response, []byte, error) {
	if res.err != nil {
		if s.isDown() {
			// Close raced the read; the session was torn down
			// underneath the in-flight call.
			return nil, nil, ErrClosed
		}
		s.teardown()
		return nil, nil, fmt.Errorf("reading %v response: %w", op, res.err)
	}
	reply := res.msg
	if reply.Seq != seq {
		s.teardown()
		return nil, nil, &ProtocolError{Reason: fmt.Sprintf("response sequence %d, want %d", reply.Seq, seq)}
	}
	if reply.Op != op|wire.ResponseBit {
		s.teardown()
		return nil, nil, &ProtocolError{Reason: fmt.Sprintf("response op %v to %v request", reply.Op, op)}
	}

	var resp wire.Response
	if err := codec.Unmarshal(reply.Meta, &resp); err != nil {
		s.teardown()
		return nil, nil, &ProtocolError{Reason: fmt.Sprintf("undecodable response envelope: %v", err)}
	}
	if !resp.OK && resp.Error == nil {
		s.teardown()
		return nil, nil, &ProtocolError{Reason: "failure response without error detail"}
	}
	return &resp, reply.Raw, nil
}

// Stderr returns the tail of the worker's captured stderr.
func (s *Session) Stderr() string {
	return s.proc.Stderr()
}

// Close tears the session down, cancelling any in-flight call.
// Idempotent.
func (s *Session) Close() error {
	s.teardown()
	return nil
}

func (s *Session) isDown() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.down
}

// teardown closes the channel and kills the worker. Closing the
// channel first unblocks any pending read.
func (s *Session) teardown() {
	s.stateMu.Lock()
	if s.down {
		s.stateMu.Unlock()
		return
	}
	s.down = true
	s.stateMu.Unlock()

	s.conn.Close()
	s.proc.Kill()
	s.proc.Wait()
}
