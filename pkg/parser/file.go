package parser

import (
	"io"
	"os"
)

// openInclude opens path for a sub-lexer; the caller's defer closes it
// once the included file is fully processed. Plain os.Open/os.ReadFile
// is the idiomatic choice here (as llvm/assemblyfileparser.go uses for
// its own source reads) — there is no domain-specific file format to
// decode, just bytes for the lexer to consume.
func openInclude(path string) (io.Reader, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

func readIncbin(path string) ([]byte, error) {
	return os.ReadFile(path)
}
