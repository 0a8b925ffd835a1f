// Package colorize prints Starlark source with syntax highlighting.
package colorize

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"unicode/utf8"

	"go.starlark.net/syntax"
)

// Style describes the style of a chunk of text.
type Style uint8

const (
	NormalStyle Style = iota
	KeywordStyle
	StringStyle
	NumberStyle
	CommentStyle
	LineNoStyle
	ArrowStyle
	TabStyle
)

// Print prints to out a syntax highlighted version of the text read from
// reader, between lines startLine and endLine. Files that are not Starlark
// or do not parse are printed without highlighting.
func Print(out io.Writer, path string, reader io.Reader, startLine, endLine, arrowLine int, colorEscapes map[Style]string) error {
	buf, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	w := &lineWriter{
		w:            out,
		lineRange:    [2]int{startLine, endLine},
		arrowLine:    arrowLine,
		colorEscapes: colorEscapes,
		tabBytes:     []byte("\t"),
	}

	if colorEscapes == nil || !isStarlark(path) {
		w.Write(NormalStyle, buf, true)
		return nil
	}

	f, err := syntax.Parse(path, buf, syntax.RetainComments)
	if err != nil {
		w.Write(NormalStyle, buf, true)
		return nil
	}

	toks := tokenize(f, newOffsets(buf))
	sort.Slice(toks, func(i, j int) bool { return toks[i].start < toks[j].start })

	flush := func(start, end int, style Style) {
		if start < end {
			w.Write(style, buf[start:end], end == len(buf))
		}
	}

	cur := 0
	for _, tok := range toks {
		if tok.start < cur || tok.end > len(buf) {
			continue
		}
		flush(cur, tok.start, NormalStyle)
		flush(tok.start, tok.end, tok.style)
		cur = tok.end
	}
	if cur != len(buf) {
		flush(cur, len(buf), NormalStyle)
	}

	return nil
}

func isStarlark(path string) bool {
	switch filepath.Ext(path) {
	case ".star", ".sky", ".bzl", ".starlark":
		return true
	}
	return false
}

type colorTok struct {
	style      Style
	start, end int // byte offsets of the token
}

// offsets converts syntax positions, which count runes, into byte offsets.
type offsets struct {
	buf   []byte
	lines []int
}

func newOffsets(buf []byte) *offsets {
	o := &offsets{buf: buf, lines: []int{0}}
	for i, c := range buf {
		if c == '\n' {
			o.lines = append(o.lines, i+1)
		}
	}
	return o
}

func (o *offsets) of(pos syntax.Position) int {
	if pos.Line < 1 || int(pos.Line) > len(o.lines) || pos.Col < 1 {
		return -1
	}
	off := o.lines[pos.Line-1]
	for col := int32(1); col < pos.Col && off < len(o.buf); col++ {
		_, size := utf8.DecodeRune(o.buf[off:])
		off += size
	}
	return off
}

func tokenize(f *syntax.File, o *offsets) []colorTok {
	var toks []colorTok

	emit := func(style Style, pos syntax.Position, n int) {
		start := o.of(pos)
		if start < 0 || n <= 0 {
			return
		}
		toks = append(toks, colorTok{style, start, start + n})
	}
	keyword := func(pos syntax.Position, kw string) {
		emit(KeywordStyle, pos, len(kw))
	}
	comments := func(n syntax.Node) {
		c := n.Comments()
		if c == nil {
			return
		}
		for _, group := range [][]syntax.Comment{c.Before, c.Suffix, c.After} {
			for _, cmnt := range group {
				emit(CommentStyle, cmnt.Start, len(cmnt.Text))
			}
		}
	}

	comments(f)
	for _, stmt := range f.Stmts {
		syntax.Walk(stmt, func(n syntax.Node) bool {
			comments(n)
			switch n := n.(type) {
			case *syntax.Literal:
				style := NumberStyle
				if n.Token == syntax.STRING || n.Token == syntax.BYTES {
					style = StringStyle
				}
				emit(style, n.TokenPos, len(n.Raw))
			case *syntax.DefStmt:
				keyword(n.Def, "def")
			case *syntax.IfStmt:
				// An elif is an IfStmt nested in the False branch of its parent.
				if off := o.of(n.If); off >= 0 && hasPrefix(o.buf[off:], "elif") {
					keyword(n.If, "elif")
				} else {
					keyword(n.If, "if")
				}
				if off := o.of(n.ElsePos); off >= 0 && hasPrefix(o.buf[off:], "else") {
					keyword(n.ElsePos, "else")
				}
			case *syntax.ForStmt:
				keyword(n.For, "for")
			case *syntax.WhileStmt:
				keyword(n.While, "while")
			case *syntax.ReturnStmt:
				keyword(n.Return, "return")
			case *syntax.LoadStmt:
				keyword(n.Load, "load")
			case *syntax.BranchStmt:
				keyword(n.TokenPos, n.Token.String())
			case *syntax.LambdaExpr:
				keyword(n.Lambda, "lambda")
			case *syntax.ForClause:
				keyword(n.For, "for")
			case *syntax.IfClause:
				keyword(n.If, "if")
			case *syntax.CondExpr:
				keyword(n.If, "if")
				keyword(n.ElsePos, "else")
			}
			return true
		})
	}
	return toks
}

func hasPrefix(buf []byte, s string) bool {
	return len(buf) >= len(s) && string(buf[:len(s)]) == s
}

type lineWriter struct {
	w         io.Writer
	lineRange [2]int
	arrowLine int

	curStyle Style
	started  bool
	lineno   int

	colorEscapes map[Style]string

	tabBytes []byte
}

func (w *lineWriter) style(style Style) {
	if w.colorEscapes == nil {
		return
	}
	esc := w.colorEscapes[style]
	if esc == "" {
		esc = w.colorEscapes[NormalStyle]
	}
	fmt.Fprintf(w.w, "%s", esc)
}

func (w *lineWriter) inrange() bool {
	lno := w.lineno
	if !w.started {
		lno = w.lineno + 1
	}
	return lno >= w.lineRange[0] && lno < w.lineRange[1]
}

func (w *lineWriter) nl() {
	w.lineno++
	if !w.inrange() || !w.started {
		return
	}
	w.style(ArrowStyle)
	if w.lineno == w.arrowLine {
		fmt.Fprintf(w.w, "=>")
	} else {
		fmt.Fprintf(w.w, "  ")
	}
	w.style(LineNoStyle)
	fmt.Fprintf(w.w, "%4d:\t", w.lineno)
	w.style(w.curStyle)
}

func (w *lineWriter) writeInternal(style Style, data []byte) {
	if !w.inrange() {
		return
	}

	if !w.started {
		w.started = true
		w.curStyle = style
		w.nl()
	} else if w.curStyle != style {
		w.curStyle = style
		w.style(w.curStyle)
	}

	w.w.Write(data)
}

func (w *lineWriter) Write(style Style, data []byte, last bool) {
	cur := 0
	for i := range data {
		switch data[i] {
		case '\n':
			if last && i == len(data)-1 {
				w.writeInternal(style, data[cur:i])
				if w.curStyle != NormalStyle {
					w.style(NormalStyle)
				}
				if w.inrange() {
					w.w.Write([]byte{'\n'})
				}
				last = false
			} else {
				w.writeInternal(style, data[cur:i+1])
				w.nl()
			}
			cur = i + 1
		case '\t':
			w.writeInternal(style, data[cur:i])
			w.writeInternal(TabStyle, w.tabBytes)
			cur = i + 1
		}
	}
	if cur < len(data) {
		w.writeInternal(style, data[cur:])
	}
	if last {
		if w.curStyle != NormalStyle {
			w.style(NormalStyle)
		}
		if w.inrange() {
			w.w.Write([]byte{'\n'})
		}
	}
}
