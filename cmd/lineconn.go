// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"fmt"
	"time"

	"github.com/Thermoquad/mdbridge/pkg/qibixx"
)

// pollTimeout bounds a single read so the bridge loop can service watchdog
// deadlines on a silent bus with sub-second slack.
const pollTimeout = 300 * time.Millisecond

// maxPendingBytes caps the partial-line buffer. A bus streaming bytes with
// no terminator is broken hardware; drop the garbage rather than grow.
const maxPendingBytes = 4096

// LineConn adapts a byte Connection to the line-level transport the bridge
// consumes: CRLF-terminated writes, newline-delimited reads with a poll
// timeout.
type LineConn struct {
	conn    Connection
	polling bool
	pending []byte
	buf     [256]byte
}

// NewLineConn wraps conn. Serial connections are put into polling mode so
// ReadLine returns "" after pollTimeout on a silent bus. WebSocket
// connections have no read timeout and block until data arrives.
func NewLineConn(conn Connection) (*LineConn, error) {
	l := &LineConn{conn: conn}
	if setter, ok := conn.(readTimeoutSetter); ok {
		if err := setter.SetReadTimeout(pollTimeout); err != nil {
			return nil, fmt.Errorf("set read timeout: %v", err)
		}
		l.polling = true
	}
	return l, nil
}

// Polls reports whether ReadLine returns on a silent bus. Commands that
// keep deadlines across reads require this; passive tools work either way.
func (l *LineConn) Polls() bool {
	return l.polling
}

// ReadLine returns the next complete line with terminators and invalid
// bytes stripped, or "" if the poll timeout elapsed first.
func (l *LineConn) ReadLine() (string, error) {
	for {
		if i := bytes.IndexByte(l.pending, '\n'); i >= 0 {
			line := qibixx.Clean(l.pending[:i])
			l.pending = l.pending[i+1:]
			if line == "" {
				continue
			}
			return line, nil
		}
		if len(l.pending) > maxPendingBytes {
			l.pending = l.pending[:0]
		}

		n, err := l.conn.Read(l.buf[:])
		if err != nil {
			return "", err
		}
		if n == 0 {
			// Poll timeout.
			return "", nil
		}
		l.pending = append(l.pending, l.buf[:n]...)
	}
}

// writeAttempts bounds retries of a failed command write.
const writeAttempts = 3

// outputResetter is implemented by connections whose transmit queue can be
// flushed, so a wedged UART does not replay half a command on retry.
type outputResetter interface {
	ResetOutputBuffer() error
}

// WriteLine sends one command with the CRLF terminator the MDB-HAT expects.
// Failed writes are retried with the output buffer reset in between; after
// the last attempt the write is abandoned and the error returned.
func (l *LineConn) WriteLine(cmd string) error {
	data := qibixx.Serialize(cmd)
	var err error
	for attempt := 0; attempt < writeAttempts; attempt++ {
		if _, err = l.conn.Write(data); err == nil {
			return nil
		}
		if r, ok := l.conn.(outputResetter); ok {
			_ = r.ResetOutputBuffer()
		}
	}
	return fmt.Errorf("write failed after %d attempts: %w", writeAttempts, err)
}

// Close closes the underlying connection.
func (l *LineConn) Close() error {
	return l.conn.Close()
}
