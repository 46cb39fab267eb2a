package architecture_test

import (
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const modulePath = "github.com/davidleathers/plugin-event-delivery"

// packageFiles returns the non-test Go files of the package at dir
func packageFiles(t *testing.T, dir string) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join("../..", dir, "*.go"))
	if err != nil {
		t.Fatal(err)
	}
	var out []string
	for _, f := range files {
		if !strings.HasSuffix(f, "_test.go") {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		t.Fatalf("no Go files in %s", dir)
	}
	return out
}

// TestDomainNotDependOnInfrastructure ensures the domain layer stays free of
// transports, storage and service code
func TestDomainNotDependOnInfrastructure(t *testing.T) {
	forbidden := []string{
		"net/http",
		"github.com/redis/go-redis",
		"github.com/gorilla/websocket",
		"go.uber.org/zap",
		modulePath + "/internal/infrastructure",
		modulePath + "/internal/service",
		modulePath + "/internal/api",
	}

	for _, pkg := range []string{"internal/domain/delivery", "internal/domain/errors"} {
		t.Run(pkg, func(t *testing.T) {
			for _, file := range packageFiles(t, pkg) {
				assertNoImports(t, file, forbidden)
			}
		})
	}
}

// TestEngineDependsOnInterfaces ensures the engine only reaches its
// collaborators through its own interfaces
func TestEngineDependsOnInterfaces(t *testing.T) {
	forbidden := []string{
		"net/http",
		"github.com/redis/go-redis",
		"github.com/gorilla/websocket",
		modulePath + "/internal/infrastructure/transport",
		modulePath + "/internal/infrastructure/deadletter",
		modulePath + "/internal/infrastructure/config",
		modulePath + "/internal/api",
	}

	for _, file := range packageFiles(t, "internal/service/engine") {
		assertNoImports(t, file, forbidden)
	}
}

// TestInfrastructureNotDependOnService ensures adapters never import the engine
func TestInfrastructureNotDependOnService(t *testing.T) {
	packages := []string{
		"internal/infrastructure/codec",
		"internal/infrastructure/config",
		"internal/infrastructure/deadletter",
		"internal/infrastructure/telemetry",
		"internal/infrastructure/transport",
		"internal/metrics",
	}

	for _, pkg := range packages {
		t.Run(pkg, func(t *testing.T) {
			for _, file := range packageFiles(t, pkg) {
				assertNoImports(t, file, []string{modulePath + "/internal/service", modulePath + "/internal/api"})
			}
		})
	}
}

// TestEngineConfigHasNoSetters ensures options are applied at construction only
func TestEngineConfigHasNoSetters(t *testing.T) {
	for _, file := range packageFiles(t, "internal/service/engine") {
		fset := token.NewFileSet()
		node, err := parser.ParseFile(fset, file, nil, 0)
		if err != nil {
			t.Errorf("Failed to parse %s: %v", file, err)
			continue
		}

		ast.Inspect(node, func(n ast.Node) bool {
			fn, ok := n.(*ast.FuncDecl)
			if !ok || fn.Recv == nil || !fn.Name.IsExported() {
				return true
			}
			if strings.HasPrefix(fn.Name.Name, "Set") {
				t.Errorf("Engine in %s has setter method: %s", file, fn.Name.Name)
			}
			return true
		})
	}
}

func assertNoImports(t *testing.T, file string, forbidden []string) {
	t.Helper()
	for _, imp := range getFileImports(file) {
		for _, f := range forbidden {
			if imp == f || strings.HasPrefix(imp, f+"/") {
				t.Errorf("%s imports %s", file, imp)
			}
		}
	}
}

func getFileImports(filename string) []string {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil
	}

	fset := token.NewFileSet()
	node, err := parser.ParseFile(fset, filename, content, parser.ImportsOnly)
	if err != nil {
		return nil
	}

	var imports []string
	for _, imp := range node.Imports {
		if imp.Path != nil {
			imports = append(imports, strings.Trim(imp.Path.Value, `"`))
		}
	}
	return imports
}
