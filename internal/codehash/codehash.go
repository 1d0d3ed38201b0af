// Package codehash derives a format-insensitive structural hash of Go source.
// The hash is computed over the parsed syntax tree, so whitespace, comments,
// and other formatting never contribute, while renaming an identifier or
// changing a literal, operator, or declaration always does.
package codehash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/aretw0/graft/pkg/domain"
)

// Prefix identifies the algorithm in rendered code hashes ("sha256:<hex>").
const Prefix = "sha256:"

// HashFile parses the Go source file at path and returns its structural hash.
func HashFile(path string) (string, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read source %s: %w", path, err)
	}
	return Hash(src, filepath.Base(path))
}

// Hash parses src and returns its structural hash. Source that does not parse
// returns domain.ErrInvalidSource.
func Hash(src []byte, filename string) (string, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, src, parser.SkipObjectResolution)
	if err != nil {
		return "", fmt.Errorf("%s: %v: %w", filename, err, domain.ErrInvalidSource)
	}

	h := sha256.New()
	ast.Inspect(file, func(n ast.Node) bool {
		if n == nil {
			// Post-order exit: close the structural frame.
			io.WriteString(h, ")")
			return true
		}
		fmt.Fprintf(h, "(%T", n)
		writeLeaf(h, n)
		return true
	})
	return Prefix + hex.EncodeToString(h.Sum(nil)), nil
}

// writeLeaf feeds the semantically meaningful payload of a node into the
// hash. Everything positional is deliberately excluded.
func writeLeaf(h hash.Hash, n ast.Node) {
	switch v := n.(type) {
	case *ast.Ident:
		io.WriteString(h, " "+v.Name)
	case *ast.BasicLit:
		io.WriteString(h, " "+v.Kind.String()+" "+v.Value)
	case *ast.BinaryExpr:
		io.WriteString(h, " "+v.Op.String())
	case *ast.UnaryExpr:
		io.WriteString(h, " "+v.Op.String())
	case *ast.AssignStmt:
		io.WriteString(h, " "+v.Tok.String())
	case *ast.IncDecStmt:
		io.WriteString(h, " "+v.Tok.String())
	case *ast.BranchStmt:
		io.WriteString(h, " "+v.Tok.String())
	case *ast.GenDecl:
		io.WriteString(h, " "+v.Tok.String())
	case *ast.RangeStmt:
		io.WriteString(h, " "+v.Tok.String())
	case *ast.ChanType:
		io.WriteString(h, " "+strconv.Itoa(int(v.Dir)))
	}
}
