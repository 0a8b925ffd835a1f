package starhost

import (
	"strconv"

	"go.starlark.net/syntax"
)

// Names of the builtins called by instrumented code.
const (
	traceCallName   = "__trace_call__"
	traceLineName   = "__trace_line__"
	traceReturnName = "__trace_return__"
	execName        = "__debug_exec__"
)

// instrument rewrites f so that executing it reports its progress to the
// trace builtins:
//
//   - __trace_call__() is the first statement of the module and of every
//     def body;
//   - __trace_line__(n) precedes every statement, n being its line;
//   - return x becomes return __trace_return__(x), and __trace_return__()
//     is appended to every body to catch falling off its end.
func instrument(f *syntax.File) {
	if len(f.Stmts) == 0 {
		return
	}
	f.Stmts = instrumentBody(f.Stmts)
}

func instrumentBody(body []syntax.Stmt) []syntax.Stmt {
	first := syntax.Start(body[0])
	last := syntax.Start(body[len(body)-1])
	out := make([]syntax.Stmt, 0, 2*len(body)+2)
	out = append(out, callStmt(traceCallName, first))
	out = append(out, instrumentStmts(body)...)
	out = append(out, callStmt(traceReturnName, last))
	return out
}

func instrumentStmts(stmts []syntax.Stmt) []syntax.Stmt {
	if len(stmts) == 0 {
		return stmts
	}
	out := make([]syntax.Stmt, 0, 2*len(stmts))
	for _, stmt := range stmts {
		pos := syntax.Start(stmt)
		out = append(out, callStmt(traceLineName, pos, intLiteral(pos, int(pos.Line))))
		switch stmt := stmt.(type) {
		case *syntax.DefStmt:
			stmt.Body = instrumentBody(stmt.Body)
		case *syntax.IfStmt:
			stmt.True = instrumentStmts(stmt.True)
			stmt.False = instrumentStmts(stmt.False)
		case *syntax.ForStmt:
			stmt.Body = instrumentStmts(stmt.Body)
		case *syntax.WhileStmt:
			stmt.Body = instrumentStmts(stmt.Body)
		case *syntax.ReturnStmt:
			var args []syntax.Expr
			if stmt.Result != nil {
				args = append(args, stmt.Result)
			}
			stmt.Result = call(traceReturnName, stmt.Return, args...)
		}
		out = append(out, stmt)
	}
	return out
}

func call(name string, pos syntax.Position, args ...syntax.Expr) *syntax.CallExpr {
	return &syntax.CallExpr{
		Fn:     &syntax.Ident{NamePos: pos, Name: name},
		Lparen: pos,
		Args:   args,
		Rparen: pos,
	}
}

func callStmt(name string, pos syntax.Position, args ...syntax.Expr) syntax.Stmt {
	return &syntax.ExprStmt{X: call(name, pos, args...)}
}

func intLiteral(pos syntax.Position, n int) *syntax.Literal {
	return &syntax.Literal{Token: syntax.INT, TokenPos: pos, Raw: strconv.Itoa(n), Value: int64(n)}
}
