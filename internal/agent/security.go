package agent

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"

	xerrors "Sentellent-Agent/internal/errors"
)

// toolsImportPath 是沙箱内工具包装层的导入路径。
const toolsImportPath = "sentellent/tools"

const maxProgramBytes = 16 << 10

// allowedImports 是沙箱程序可以导入的全部包。
var allowedImports = map[string]bool{
	"encoding/json": true,
	"errors":        true,
	"fmt":           true,
	"math":          true,
	"sort":          true,
	"strconv":       true,
	"strings":       true,
	"time":          true,
	toolsImportPath: true,
}

func violation(format string, args ...any) error {
	return xerrors.New(CodeSecurityViolation, fmt.Sprintf(format, args...))
}

// SecurityCheck 在执行前静态检查生成的程序。
func SecurityCheck(code string) error {
	if len(code) == 0 {
		return violation("program is empty")
	}
	if len(code) > maxProgramBytes {
		return violation("program is larger than %d bytes", maxProgramBytes)
	}
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "main.go", code, parser.AllErrors)
	if err != nil {
		return xerrors.Wrap(CodeSecurityViolation, err, "program does not parse")
	}
	if file.Name.Name != "main" {
		return violation("program must be package main, got %s", file.Name.Name)
	}

	for _, imp := range file.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			return violation("bad import %s", imp.Path.Value)
		}
		if imp.Name != nil && (imp.Name.Name == "." || imp.Name.Name == "_") {
			return violation("import %q uses a %s name", path, imp.Name.Name)
		}
		if !allowedImports[path] {
			return violation("import %q is not allowed", path)
		}
	}

	var found bool
	var walkErr error
	ast.Inspect(file, func(n ast.Node) bool {
		if walkErr != nil {
			return false
		}
		switch node := n.(type) {
		case *ast.GoStmt:
			walkErr = violation("goroutines are not allowed (line %d)", fset.Position(node.Pos()).Line)
		case *ast.FuncDecl:
			if node.Recv == nil && node.Name.Name == "init" {
				walkErr = violation("init functions are not allowed")
			}
			if node.Recv == nil && node.Name.Name == "Run" {
				if !isRunSignature(node.Type) {
					walkErr = violation("Run must be func Run(input string) (string, error)")
				}
				found = true
			}
		}
		return true
	})
	if walkErr != nil {
		return walkErr
	}
	if !found {
		return violation("program must define func Run(input string) (string, error)")
	}
	return nil
}

func isRunSignature(ft *ast.FuncType) bool {
	if ft.TypeParams != nil && len(ft.TypeParams.List) > 0 {
		return false
	}
	if ft.Params == nil || ft.Params.NumFields() != 1 || !isIdent(ft.Params.List[0].Type, "string") {
		return false
	}
	if ft.Results == nil || ft.Results.NumFields() != 2 {
		return false
	}
	var types []ast.Expr
	for _, f := range ft.Results.List {
		n := len(f.Names)
		if n == 0 {
			n = 1
		}
		for i := 0; i < n; i++ {
			types = append(types, f.Type)
		}
	}
	return isIdent(types[0], "string") && isIdent(types[1], "error")
}

func isIdent(expr ast.Expr, name string) bool {
	id, ok := expr.(*ast.Ident)
	return ok && id.Name == name
}
