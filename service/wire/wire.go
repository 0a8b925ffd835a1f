// Package wire implements the framing used between the stardbg client and
// runner: every message is the UTF-8 encoding of a JSON array
// [name, args] terminated by a single ETX (0x03) byte.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/go-delve/stardbg/pkg/logflags"
)

// ETX terminates every message on the wire.
const ETX = 0x03

// CloseName is the name of the synthetic message returned by Decoder once
// the peer has closed its end of the connection.
const CloseName = "close"

const readSize = 1024

// ErrDelimiterInPayload is returned by Encode if the serialized message
// contains the frame delimiter.
var ErrDelimiterInPayload = errors.New("message payload contains the ETX delimiter")

// ProtocolError reports a frame that could not be decoded.
type ProtocolError struct {
	Frame []byte
	Err   error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("malformed frame %q: %v", e.Frame, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Message is a decoded frame. Args is left undecoded, use Decode to
// unmarshal it into the argument struct of the message.
type Message struct {
	Name string
	Args json.RawMessage
}

// Decode unmarshals the arguments of m into v.
func (m Message) Decode(v interface{}) error {
	if len(m.Args) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Args, v); err != nil {
		return fmt.Errorf("bad arguments for %q: %w", m.Name, err)
	}
	return nil
}

func (m Message) String() string {
	return fmt.Sprintf("%s%s", m.Name, m.Args)
}

// Encode returns the framed representation of the message name(args).
// A nil args is sent as an empty object.
func Encode(name string, args interface{}) ([]byte, error) {
	if args == nil {
		args = struct{}{}
	}
	buf, err := json.Marshal([]interface{}{name, args})
	if err != nil {
		return nil, err
	}
	if bytes.IndexByte(buf, ETX) >= 0 {
		return nil, ErrDelimiterInPayload
	}
	return append(buf, ETX), nil
}

// Write encodes name(args) and writes it to w in a single call.
func Write(w io.Writer, name string, args interface{}) error {
	buf, err := Encode(name, args)
	if err != nil {
		return err
	}
	logflags.WireLogger().Debugf("-> %s", buf[:len(buf)-1])
	_, err = w.Write(buf)
	return err
}

// Decoder reads framed messages from a byte stream.
type Decoder struct {
	r       io.Reader
	buf     []byte
	pending []Message
	closed  bool
	done    bool
	err     error
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Next returns the next message in the stream. Once the underlying reader
// reports EOF every complete frame already received is returned, followed
// by exactly one synthetic close message; after that Next returns io.EOF.
// Any other read error is returned as is, after the synthetic close.
func (d *Decoder) Next() (Message, error) {
	for {
		if len(d.pending) > 0 {
			m := d.pending[0]
			d.pending = d.pending[1:]
			return m, nil
		}
		if d.done {
			if d.err != nil {
				return Message{}, d.err
			}
			return Message{}, io.EOF
		}
		if d.closed {
			d.done = true
			return Message{Name: CloseName, Args: json.RawMessage("{}")}, nil
		}
		if err := d.fill(); err != nil {
			return Message{}, err
		}
	}
}

func (d *Decoder) fill() error {
	chunk := make([]byte, readSize)
	n, err := d.r.Read(chunk)
	if n > 0 {
		if perr := d.feed(chunk[:n]); perr != nil {
			return perr
		}
	}
	if n == 0 || err != nil {
		if err != nil && !errors.Is(err, io.EOF) {
			logflags.WireLogger().Debugf("read error: %v", err)
			d.err = err
		}
		d.closed = true
	}
	return nil
}

// feed appends data to the buffered remainder and queues every complete
// frame. A trailing partial frame stays buffered. Malformed frames are
// dropped, the first one is reported once the well formed frames around
// it have been queued.
func (d *Decoder) feed(data []byte) error {
	d.buf = append(d.buf, data...)
	var firstErr error
	for {
		i := bytes.IndexByte(d.buf, ETX)
		if i < 0 {
			return firstErr
		}
		frame := d.buf[:i]
		d.buf = d.buf[i+1:]
		m, err := parseFrame(frame)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		logflags.WireLogger().Debugf("<- %s", frame)
		d.pending = append(d.pending, m)
	}
}

func parseFrame(frame []byte) (Message, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(frame, &parts); err != nil {
		return Message{}, &ProtocolError{Frame: append([]byte(nil), frame...), Err: err}
	}
	if len(parts) != 2 {
		return Message{}, &ProtocolError{Frame: append([]byte(nil), frame...), Err: fmt.Errorf("expected 2 elements, got %d", len(parts))}
	}
	var m Message
	if err := json.Unmarshal(parts[0], &m.Name); err != nil {
		return Message{}, &ProtocolError{Frame: append([]byte(nil), frame...), Err: err}
	}
	m.Args = parts[1]
	return m, nil
}
