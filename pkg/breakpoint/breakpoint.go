// Package breakpoint implements the breakpoint registry shared by the
// runner (the authoritative copy) and the client (a mirror updated from
// runner events).
package breakpoint

import (
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

// Breakpoint is a line breakpoint.
type Breakpoint struct {
	// Number is the unique identifier of the breakpoint, starting at 1.
	Number int
	// Filename is the canonical path of the file.
	Filename  string
	Line      int
	Enabled   bool
	Temporary bool
	// Funcname is always nil for line breakpoints, it is carried on the
	// wire for compatibility.
	Funcname *string
	// Ignore is the number of upcoming hits that will not stop.
	Ignore int
	// Hits counts how many times execution reached the breakpoint while it
	// was enabled, including ignored hits.
	Hits int
}

func (bp *Breakpoint) String() string {
	return fmt.Sprintf("Breakpoint %d at %s:%d (%d)", bp.Number, bp.Filename, bp.Line, bp.Hits)
}

// UnknownBreakpointError is returned when a lookup does not match any
// breakpoint.
type UnknownBreakpointError struct {
	Number   int
	Filename string
	Line     int
}

func (e UnknownBreakpointError) Error() string {
	if e.Filename != "" {
		return fmt.Sprintf("No breakpoint at %s:%d", e.Filename, e.Line)
	}
	return fmt.Sprintf("No breakpoint numbered %d", e.Number)
}

// NotExecutableLineError is returned by Create when the requested line
// can not hold a breakpoint.
type NotExecutableLineError struct {
	Filename string
	Line     int
}

func (e NotExecutableLineError) Error() string {
	return fmt.Sprintf("%s:%d is not executable", e.Filename, e.Line)
}

// LineSource returns the text of a line of a source file. The second
// return value is false if the file or the line do not exist.
type LineSource interface {
	Line(filename string, line int) (string, bool)
}

// Canonical returns the absolute, cleaned form of path. On systems with
// case insensitive file names the result is also lower cased.
func Canonical(path string) string {
	if path == "" || (strings.HasPrefix(path, "<") && strings.HasSuffix(path, ">")) {
		return path
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	path = filepath.Clean(path)
	switch runtime.GOOS {
	case "windows", "darwin":
		path = strings.ToLower(path)
	}
	return path
}

type location struct {
	key  string
	line int
}

func locationOf(filename string, line int) location {
	return location{strings.ToLower(Canonical(filename)), line}
}

// Registry stores breakpoints by number and by location.
// Registry is not safe for concurrent use.
type Registry struct {
	lines      LineSource
	byNumber   map[int]*Breakpoint
	byLocation map[location][]*Breakpoint
	lastNumber int
}

// NewRegistry returns an empty registry. Lines is used by Create to
// check that a breakpoint is set on an executable line, it may be nil for
// mirrors that only call Restore.
func NewRegistry(lines LineSource) *Registry {
	return &Registry{
		lines:      lines,
		byNumber:   make(map[int]*Breakpoint),
		byLocation: make(map[location][]*Breakpoint),
	}
}

// Create sets a new breakpoint at filename:line. The line must pass
// IsExecutableLine.
func (r *Registry) Create(filename string, line int, temporary bool) (*Breakpoint, error) {
	filename = Canonical(filename)
	text := ""
	if r.lines != nil {
		text, _ = r.lines.Line(filename, line)
	}
	if !IsExecutableLine(text) {
		return nil, NotExecutableLineError{Filename: filename, Line: line}
	}
	r.lastNumber++
	bp := &Breakpoint{
		Number:    r.lastNumber,
		Filename:  filename,
		Line:      line,
		Enabled:   true,
		Temporary: temporary,
	}
	r.insert(bp)
	return bp, nil
}

// Restore inserts bp keeping its number. It is used by mirrors to replay
// breakpoints announced by the runner. An existing breakpoint with the
// same number is replaced.
func (r *Registry) Restore(bp *Breakpoint) {
	bp.Filename = Canonical(bp.Filename)
	if old, ok := r.byNumber[bp.Number]; ok {
		r.remove(old)
	}
	r.insert(bp)
	if bp.Number > r.lastNumber {
		r.lastNumber = bp.Number
	}
}

func (r *Registry) insert(bp *Breakpoint) {
	r.byNumber[bp.Number] = bp
	loc := locationOf(bp.Filename, bp.Line)
	r.byLocation[loc] = append(r.byLocation[loc], bp)
}

func (r *Registry) remove(bp *Breakpoint) {
	delete(r.byNumber, bp.Number)
	loc := locationOf(bp.Filename, bp.Line)
	bps := r.byLocation[loc]
	for i := range bps {
		if bps[i] == bp {
			bps = append(bps[:i], bps[i+1:]...)
			break
		}
	}
	if len(bps) == 0 {
		delete(r.byLocation, loc)
	} else {
		r.byLocation[loc] = bps
	}
}

// Get returns the breakpoint with the given number.
func (r *Registry) Get(number int) (*Breakpoint, error) {
	bp, ok := r.byNumber[number]
	if !ok {
		return nil, UnknownBreakpointError{Number: number}
	}
	return bp, nil
}

// Lookup returns the most recently created breakpoint at filename:line.
func (r *Registry) Lookup(filename string, line int) (*Breakpoint, error) {
	bps := r.byLocation[locationOf(filename, line)]
	if len(bps) == 0 {
		return nil, UnknownBreakpointError{Filename: filename, Line: line}
	}
	return bps[len(bps)-1], nil
}

// Enable enables breakpoint number and drops its ignore count.
func (r *Registry) Enable(number int) (*Breakpoint, error) {
	bp, err := r.Get(number)
	if err != nil {
		return nil, err
	}
	bp.Enabled = true
	bp.Ignore = 0
	return bp, nil
}

// Disable disables breakpoint number.
func (r *Registry) Disable(number int) (*Breakpoint, error) {
	bp, err := r.Get(number)
	if err != nil {
		return nil, err
	}
	bp.Enabled = false
	return bp, nil
}

// Ignore makes breakpoint number skip its next count hits. A count of
// zero (or less) restores normal stopping and enables the breakpoint.
func (r *Registry) Ignore(number, count int) (*Breakpoint, error) {
	bp, err := r.Get(number)
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		count = 0
		bp.Enabled = true
	}
	bp.Ignore = count
	return bp, nil
}

// Clear deletes breakpoint number. Its number is never reused.
func (r *Registry) Clear(number int) (*Breakpoint, error) {
	bp, err := r.Get(number)
	if err != nil {
		return nil, err
	}
	r.remove(bp)
	return bp, nil
}

// Reset deletes every breakpoint.
func (r *Registry) Reset() {
	r.byNumber = make(map[int]*Breakpoint)
	r.byLocation = make(map[location][]*Breakpoint)
}

// Len returns the number of breakpoints.
func (r *Registry) Len() int {
	return len(r.byNumber)
}

// All returns every breakpoint ordered by number.
func (r *Registry) All() []*Breakpoint {
	r2 := make([]*Breakpoint, 0, len(r.byNumber))
	for _, bp := range r.byNumber {
		r2 = append(r2, bp)
	}
	sort.Slice(r2, func(i, j int) bool { return r2[i].Number < r2[j].Number })
	return r2
}

// At returns the breakpoints set in filename ordered by number.
func (r *Registry) At(filename string) []*Breakpoint {
	key := strings.ToLower(Canonical(filename))
	var r2 []*Breakpoint
	for loc, bps := range r.byLocation {
		if loc.key == key {
			r2 = append(r2, bps...)
		}
	}
	sort.Slice(r2, func(i, j int) bool { return r2[i].Number < r2[j].Number })
	return r2
}

// Effective returns the breakpoint at filename:line that should stop
// execution. Every enabled breakpoint at the location has its hit count
// incremented; a breakpoint with a positive ignore count has it
// decremented and does not stop. The second return value reports whether
// the returned breakpoint is temporary and must now be deleted.
func (r *Registry) Effective(filename string, line int) (*Breakpoint, bool) {
	for _, bp := range r.byLocation[locationOf(filename, line)] {
		if !bp.Enabled {
			continue
		}
		bp.Hits++
		if bp.Ignore > 0 {
			bp.Ignore--
			continue
		}
		return bp, bp.Temporary
	}
	return nil, false
}
