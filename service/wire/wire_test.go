package wire

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

// chunkReader returns at most n bytes per Read.
type chunkReader struct {
	data []byte
	n    int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.n
	if n > len(p) {
		n = len(p)
	}
	if n > len(r.data) {
		n = len(r.data)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

type lineArgs struct {
	Filename string `json:"filename"`
	Line     int    `json:"line"`
}

func readAll(t *testing.T, d *Decoder) []Message {
	t.Helper()
	var out []Message
	for {
		m, err := d.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, m)
	}
}

func TestEncode(t *testing.T) {
	buf, err := Encode("line", lineArgs{"foo.star", 5})
	require.NoError(t, err)
	require.Equal(t, `["line",{"filename":"foo.star","line":5}]`+"\x03", string(buf))

	buf, err = Encode("step", nil)
	require.NoError(t, err)
	require.Equal(t, `["step",{}]`+"\x03", string(buf))
}

func TestEncodeEscapesControlBytes(t *testing.T) {
	buf, err := Encode("info", map[string]string{"message": "a\x03b"})
	require.NoError(t, err)
	require.Equal(t, 1, bytes.Count(buf, []byte{ETX}))

	d := NewDecoder(bytes.NewReader(buf))
	m, err := d.Next()
	require.NoError(t, err)
	var args map[string]string
	require.NoError(t, m.Decode(&args))
	require.Equal(t, "a\x03b", args["message"])
}

func TestEncodeRejectsDelimiter(t *testing.T) {
	// encoding/json refuses raw control bytes before the delimiter check runs.
	_, err := Encode("info", rawArgs(`{"message":"`+"\x03"+`"}`))
	require.Error(t, err)
}

// rawArgs marshals to itself, bypassing the escaping done by encoding/json.
type rawArgs string

func (r rawArgs) MarshalJSON() ([]byte, error) { return []byte(r), nil }

func TestRoundTripAnyChunking(t *testing.T) {
	var stream []byte
	msgs := []struct {
		name string
		args interface{}
	}{
		{"break", map[string]interface{}{"filename": "/tmp/foo.star", "line": 5, "temporary": false}},
		{"continue", nil},
		{"line", lineArgs{"/tmp/é.star", 12}},
		{"info", map[string]string{"message": "ünïcode ✓"}},
	}
	for _, m := range msgs {
		buf, err := Encode(m.name, m.args)
		require.NoError(t, err)
		stream = append(stream, buf...)
	}

	for n := 1; n <= len(stream)+1; n++ {
		d := NewDecoder(&chunkReader{data: append([]byte(nil), stream...), n: n})
		got := readAll(t, d)
		require.Len(t, got, len(msgs)+1, "chunk size %d", n)
		for i, m := range msgs {
			require.Equal(t, m.name, got[i].Name, "chunk size %d", n)
		}
		require.Equal(t, CloseName, got[len(got)-1].Name)
		var la lineArgs
		require.NoError(t, got[2].Decode(&la))
		require.Equal(t, lineArgs{"/tmp/é.star", 12}, la)
	}
}

func TestExactBoundaryLeavesNoRemainder(t *testing.T) {
	buf, err := Encode("step", nil)
	require.NoError(t, err)
	d := NewDecoder(&chunkReader{data: buf, n: len(buf)})
	m, err := d.Next()
	require.NoError(t, err)
	require.Equal(t, "step", m.Name)
	require.Empty(t, d.buf)
	m, err = d.Next()
	require.NoError(t, err)
	require.Equal(t, CloseName, m.Name)
	_, err = d.Next()
	require.Equal(t, io.EOF, err)
}

func TestPartialTrailingFrameDropped(t *testing.T) {
	buf, err := Encode("step", nil)
	require.NoError(t, err)
	buf = append(buf, []byte(`["next",`)...)
	got := readAll(t, NewDecoder(bytes.NewReader(buf)))
	require.Len(t, got, 2)
	require.Equal(t, "step", got[0].Name)
	require.Equal(t, CloseName, got[1].Name)
}

func TestMalformedFrame(t *testing.T) {
	d := NewDecoder(bytes.NewReader([]byte("not json\x03")))
	_, err := d.Next()
	var perr *ProtocolError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, "not json", string(perr.Frame))

	d = NewDecoder(bytes.NewReader([]byte(`["a",{},1]` + "\x03")))
	_, err = d.Next()
	require.True(t, errors.As(err, &perr))
}

func TestMalformedFrameKeepsStream(t *testing.T) {
	d := NewDecoder(bytes.NewReader([]byte("garbage\x03" + `["step",{}]` + "\x03")))
	_, err := d.Next()
	var perr *ProtocolError
	require.True(t, errors.As(err, &perr))

	m, err := d.Next()
	require.NoError(t, err)
	require.Equal(t, "step", m.Name)

	m, err = d.Next()
	require.NoError(t, err)
	require.Equal(t, CloseName, m.Name)
}

type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestReadErrorAfterClose(t *testing.T) {
	boom := errors.New("connection reset")
	d := NewDecoder(&failingReader{data: []byte(`["line",{}]` + "\x03"), err: boom})

	m, err := d.Next()
	require.NoError(t, err)
	require.Equal(t, "line", m.Name)

	m, err = d.Next()
	require.NoError(t, err)
	require.Equal(t, CloseName, m.Name)

	_, err = d.Next()
	require.ErrorIs(t, err, boom)
}
