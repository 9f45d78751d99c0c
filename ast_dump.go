package hana

import (
	"fmt"
	"strings"
)

// DumpAST renders chunk as an indented tree, for the `-p/--print-ast`
// CLI flag (§6). It walks the same node set compiler.go's type switch
// does, but only needs enough of each node to make the tree readable.
func DumpAST(chunk *Chunk) string {
	var b strings.Builder
	for _, s := range chunk.Stmts {
		dumpNode(&b, s, 0)
	}
	return b.String()
}

func dumpNode(b *strings.Builder, n Node, depth int) {
	indent := strings.Repeat("  ", depth)
	if n == nil {
		fmt.Fprintf(b, "%s<nil>\n", indent)
		return
	}

	switch v := n.(type) {
	case *Ident:
		fmt.Fprintf(b, "%sIdent %q\n", indent, v.Name)
	case *IntLit:
		fmt.Fprintf(b, "%sIntLit %d\n", indent, v.Value)
	case *FloatLit:
		fmt.Fprintf(b, "%sFloatLit %g\n", indent, v.Value)
	case *StringLit:
		fmt.Fprintf(b, "%sStringLit %q\n", indent, v.Value)
	case *BoolLit:
		fmt.Fprintf(b, "%sBoolLit %v\n", indent, v.Value)
	case *NilLit:
		fmt.Fprintf(b, "%sNilLit\n", indent)
	case *ArrayLit:
		fmt.Fprintf(b, "%sArrayLit\n", indent)
		for _, e := range v.Elems {
			dumpNode(b, e, depth+1)
		}
	case *RecordLit:
		fmt.Fprintf(b, "%sRecordLit\n", indent)
		for i, k := range v.Keys {
			fmt.Fprintf(b, "%s  %s:\n", indent, k)
			dumpNode(b, v.Vals[i], depth+2)
		}
	case *FuncLit:
		fmt.Fprintf(b, "%sFuncLit %s(%s)\n", indent, v.Name, strings.Join(v.Params, ", "))
		for _, s := range v.Body {
			dumpNode(b, s, depth+1)
		}
	case *UnaryExpr:
		fmt.Fprintf(b, "%sUnaryExpr %s\n", indent, v.Op)
		dumpNode(b, v.X, depth+1)
	case *BinaryExpr:
		fmt.Fprintf(b, "%sBinaryExpr %s\n", indent, v.Op)
		dumpNode(b, v.L, depth+1)
		dumpNode(b, v.R, depth+1)
	case *OfExpr:
		fmt.Fprintf(b, "%sOfExpr\n", indent)
		dumpNode(b, v.X, depth+1)
		dumpNode(b, v.Proto, depth+1)
	case *TernaryExpr:
		fmt.Fprintf(b, "%sTernaryExpr\n", indent)
		dumpNode(b, v.Cond, depth+1)
		dumpNode(b, v.Then, depth+1)
		dumpNode(b, v.Else, depth+1)
	case *AssignExpr:
		fmt.Fprintf(b, "%sAssignExpr\n", indent)
		dumpNode(b, v.Target, depth+1)
		dumpNode(b, v.Value, depth+1)
	case *CompoundAssignExpr:
		fmt.Fprintf(b, "%sCompoundAssignExpr %s\n", indent, v.Op)
		dumpNode(b, v.Target, depth+1)
		dumpNode(b, v.Value, depth+1)
	case *CallExpr:
		fmt.Fprintf(b, "%sCallExpr\n", indent)
		dumpNode(b, v.Callee, depth+1)
		for _, a := range v.Args {
			dumpNode(b, a, depth+1)
		}
	case *MemberExpr:
		fmt.Fprintf(b, "%sMemberExpr .%s (namespace=%v)\n", indent, v.Name, v.Namespace)
		dumpNode(b, v.X, depth+1)
	case *IndexExpr:
		fmt.Fprintf(b, "%sIndexExpr\n", indent)
		dumpNode(b, v.X, depth+1)
		dumpNode(b, v.Index, depth+1)
	case *BeginStmt:
		fmt.Fprintf(b, "%sBeginStmt\n", indent)
		for _, s := range v.Stmts {
			dumpNode(b, s, depth+1)
		}
	case *IfStmt:
		fmt.Fprintf(b, "%sIfStmt\n", indent)
		dumpNode(b, v.Cond, depth+1)
		dumpNode(b, v.Then, depth+1)
		if v.Else != nil {
			dumpNode(b, v.Else, depth+1)
		}
	case *WhileStmt:
		fmt.Fprintf(b, "%sWhileStmt\n", indent)
		dumpNode(b, v.Cond, depth+1)
		dumpNode(b, v.Body, depth+1)
	case *ForInStmt:
		fmt.Fprintf(b, "%sForInStmt %s\n", indent, v.Var)
		dumpNode(b, v.Iterable, depth+1)
		dumpNode(b, v.Body, depth+1)
	case *ContinueStmt:
		fmt.Fprintf(b, "%sContinueStmt\n", indent)
	case *BreakStmt:
		fmt.Fprintf(b, "%sBreakStmt\n", indent)
	case *FuncDeclStmt:
		fmt.Fprintf(b, "%sFuncDeclStmt %s(%s)\n", indent, v.Name, strings.Join(v.Params, ", "))
		for _, s := range v.Body {
			dumpNode(b, s, depth+1)
		}
	case *RecordDeclStmt:
		fmt.Fprintf(b, "%sRecordDeclStmt %s\n", indent, v.Name)
		for _, f := range v.Fields {
			fmt.Fprintf(b, "%s  %s:\n", indent, f.Key)
			dumpNode(b, f.Value, depth+2)
		}
	case *TryStmt:
		fmt.Fprintf(b, "%sTryStmt\n", indent)
		for _, s := range v.Body {
			dumpNode(b, s, depth+1)
		}
		for _, c := range v.Cases {
			label := "case"
			if c.HasAs {
				label = "case as " + c.As
			}
			fmt.Fprintf(b, "%s  %s\n", indent, label)
			dumpNode(b, c.Proto, depth+2)
			for _, s := range c.Body {
				dumpNode(b, s, depth+2)
			}
		}
	case *RaiseStmt:
		fmt.Fprintf(b, "%sRaiseStmt\n", indent)
		dumpNode(b, v.X, depth+1)
	case *ReturnStmt:
		fmt.Fprintf(b, "%sReturnStmt\n", indent)
		if v.HasValue {
			dumpNode(b, v.X, depth+1)
		}
	case *UseStmt:
		fmt.Fprintf(b, "%sUseStmt %q\n", indent, v.Path)
	case *ExprStmt:
		fmt.Fprintf(b, "%sExprStmt\n", indent)
		dumpNode(b, v.X, depth+1)
	default:
		fmt.Fprintf(b, "%s%T\n", indent, v)
	}
}
