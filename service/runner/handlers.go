package runner

import (
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/go-delve/stardbg/pkg/breakpoint"
	"github.com/go-delve/stardbg/service/api"
	"github.com/go-delve/stardbg/service/wire"
)

// dispatch runs the handler of msg. Errors and panics of the handler are
// reported to the client and never end the session.
func (s *Server) dispatch(msg wire.Message) (out outcome) {
	kind, ok := api.ParseCommand(msg.Name)
	handler := s.handlers[kind]
	if !ok || handler == nil {
		s.sendError(fmt.Sprintf("Unknown command: %s", msg.Name))
		return outcomeStay
	}
	defer func() {
		if ierr := recover(); ierr != nil {
			s.log.Errorf("recovered panic handling %s: %v\n%s", msg.Name, ierr, debug.Stack())
			s.sendError(fmt.Sprintf("Unhandled error with command %q: %v", msg.Name, ierr))
			out = outcomeStay
		}
	}()
	s.log.Debugf("command %v", msg)
	out, err := handler(msg)
	if err != nil {
		s.sendError(fmt.Sprintf("Unhandled error with command %q: %v", msg.Name, err))
		return outcomeStay
	}
	return out
}

// reportBreakpointError sends err to the client if it is a registry
// error, any other error is returned to dispatch.
func (s *Server) reportBreakpointError(err error) error {
	var unknown breakpoint.UnknownBreakpointError
	var notExec breakpoint.NotExecutableLineError
	if errors.As(err, &unknown) || errors.As(err, &notExec) {
		s.sendError(err.Error())
		return nil
	}
	return err
}

func (s *Server) onBreak(msg wire.Message) (outcome, error) {
	var args api.BreakArgs
	if err := msg.Decode(&args); err != nil {
		return outcomeStay, err
	}
	bp, err := s.bps.Create(args.Filename, args.Line, args.Temporary)
	if err != nil {
		return outcomeStay, s.reportBreakpointError(err)
	}
	s.send(api.EvBreakpointCreate, api.Breakpoint{
		Bpnum:     bp.Number,
		Filename:  bp.Filename,
		Line:      bp.Line,
		Temporary: bp.Temporary,
		Funcname:  bp.Funcname,
	})
	return outcomeStay, nil
}

func (s *Server) onEnable(msg wire.Message) (outcome, error) {
	var args api.BpnumArgs
	if err := msg.Decode(&args); err != nil {
		return outcomeStay, err
	}
	if _, err := s.bps.Enable(args.Bpnum); err != nil {
		return outcomeStay, s.reportBreakpointError(err)
	}
	s.send(api.EvBreakpointEnable, args)
	return outcomeStay, nil
}

func (s *Server) onDisable(msg wire.Message) (outcome, error) {
	var args api.BpnumArgs
	if err := msg.Decode(&args); err != nil {
		return outcomeStay, err
	}
	if _, err := s.bps.Disable(args.Bpnum); err != nil {
		return outcomeStay, s.reportBreakpointError(err)
	}
	s.send(api.EvBreakpointDisable, args)
	return outcomeStay, nil
}

func (s *Server) onIgnore(msg wire.Message) (outcome, error) {
	var args api.IgnoreArgs
	if err := msg.Decode(&args); err != nil {
		return outcomeStay, err
	}
	bp, err := s.bps.Ignore(args.Bpnum, args.Count)
	if err != nil {
		return outcomeStay, s.reportBreakpointError(err)
	}
	if bp.Ignore > 0 {
		s.send(api.EvBreakpointIgnore, api.IgnoreArgs{Bpnum: bp.Number, Count: bp.Ignore})
	} else {
		s.send(api.EvBreakpointEnable, api.BpnumArgs{Bpnum: bp.Number})
	}
	return outcomeStay, nil
}

func (s *Server) onClear(msg wire.Message) (outcome, error) {
	var args api.BpnumArgs
	if err := msg.Decode(&args); err != nil {
		return outcomeStay, err
	}
	if _, err := s.bps.Clear(args.Bpnum); err != nil {
		return outcomeStay, s.reportBreakpointError(err)
	}
	s.send(api.EvBreakpointClear, args)
	return outcomeStay, nil
}

func (s *Server) onStep(wire.Message) (outcome, error) {
	s.engine.SetStep()
	return outcomeResume, nil
}

func (s *Server) onNext(wire.Message) (outcome, error) {
	s.engine.SetNext(s.curFrame)
	return outcomeResume, nil
}

func (s *Server) onReturn(wire.Message) (outcome, error) {
	s.engine.SetReturn(s.curFrame)
	return outcomeResume, nil
}

// onContinue single steps the first time it is used if there are no
// breakpoints, so that the script does not run to completion before the
// user gets a chance to set one.
func (s *Server) onContinue(wire.Message) (outcome, error) {
	if s.continued || s.bps.Len() > 0 {
		s.engine.SetContinue()
	} else {
		s.engine.SetStep()
		s.continued = true
	}
	return outcomeResume, nil
}

func (s *Server) onRestart(wire.Message) (outcome, error) {
	return outcomeRestart, nil
}

func (s *Server) onQuit(wire.Message) (outcome, error) {
	s.engine.SetQuit()
	return outcomeResume, nil
}

func (s *Server) onClose(wire.Message) (outcome, error) {
	s.log.Debug("client disconnected")
	return outcomeReconnect, nil
}
