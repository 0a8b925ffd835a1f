package trace

import "fmt"

// Scope gives access to the variables visible from a frame, rendered as
// the repr of their values.
type Scope interface {
	Locals() map[string]string
	Globals() map[string]string
	Builtins() map[string]string
}

// Frame is a function activation as seen by the engine. Frames are compared
// by identity: the host must hand the engine the same *Frame for every
// event of the same activation.
type Frame struct {
	// Filename is the canonical filename of the code executing in the frame.
	Filename string
	// Name is the function name, or "<toplevel>" for module code.
	Name string
	Line int
	Col  int
	// Back is the calling frame, nil for the engine root.
	Back  *Frame
	Scope Scope

	// Exception is set while the frame is unwinding because of an error.
	Exception *Exception

	extra map[string]string
}

// Exception describes an error raised in a frame.
type Exception struct {
	Name      string
	Value     string
	Traceback string
}

// Repr returns the exception in the form stored in the __exception__
// local of the frame that raised it.
func (exc *Exception) Repr() string {
	return fmt.Sprintf("(%q, %q)", exc.Name, exc.Value)
}

func (f *Frame) String() string {
	return fmt.Sprintf("%s %s:%d", f.Name, f.Filename, f.Line)
}

// SetLocal adds a synthetic local variable to the frame, used for
// __return__ and __exception__.
func (f *Frame) SetLocal(name, repr string) {
	if f.extra == nil {
		f.extra = make(map[string]string)
	}
	f.extra[name] = repr
}

// Locals returns the frame's local variables, synthetic ones included.
func (f *Frame) Locals() map[string]string {
	r := make(map[string]string)
	if f.Scope != nil {
		for k, v := range f.Scope.Locals() {
			r[k] = v
		}
	}
	for k, v := range f.extra {
		r[k] = v
	}
	return r
}

// Globals returns the frame's global variables.
func (f *Frame) Globals() map[string]string {
	if f.Scope == nil {
		return map[string]string{}
	}
	return f.Scope.Globals()
}

// Builtins returns the predeclared and universal names visible from the
// frame.
func (f *Frame) Builtins() map[string]string {
	if f.Scope == nil {
		return map[string]string{}
	}
	return f.Scope.Builtins()
}

// Stack returns the frames from the outermost one (the engine root) down
// to f.
func (f *Frame) Stack() []*Frame {
	var r []*Frame
	for cur := f; cur != nil; cur = cur.Back {
		r = append(r, cur)
	}
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return r
}
