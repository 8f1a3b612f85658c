// Package rgbasm is the assembler CLI: source text in, a relocatable
// object file out, spec.md §6's "Assembler CLI". Grounded on
// cmd/cpu/compile.go's flag-registration style (StringVarP/BoolVarP/
// StringArrayVarP, package-level flag variables, an os.Exit(1)-on-error
// Run handler) and cmd/root.go's subcommand-registration idiom.
package rgbasm

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gbdev/rgbds-go/cmd/root"
	"github.com/gbdev/rgbds-go/pkg/diag"
	"github.com/gbdev/rgbds-go/pkg/fstack"
	"github.com/gbdev/rgbds-go/pkg/objfile"
	"github.com/gbdev/rgbds-go/pkg/parser"
	"github.com/gbdev/rgbds-go/pkg/section"
	"github.com/gbdev/rgbds-go/pkg/symbol"
)

var (
	outputPath   string
	includeDirs  []string
	preInclude   string
	defines      []string
	padByte      uint8
	binDigits    string
	gfxDigits    string
	warnFlags    []string
	recursionCap int
	depFile      string
	depTarget    string
	depTargetQ   string
	depPhony     bool
	stateDump    string
)

// Cmd is the `rgbasm` subcommand.
var Cmd = &cobra.Command{
	Use:   "rgbasm <source-file>",
	Short: "Assemble a Game Boy source file into a relocatable object file",
	Long: `rgbasm compiles one assembly translation unit (source file plus everything it
INCLUDEs) into a relocatable object file consumed by rgblink.

Pass "-" as the source file to read from stdin.`,
	Args: cobra.ExactArgs(1),
	Run:  run,
}

func init() {
	root.Cmd.AddCommand(Cmd)

	Cmd.Flags().StringVarP(&outputPath, "output", "o", "", "object file output path")
	Cmd.Flags().StringArrayVarP(&includeDirs, "include", "I", nil, "add a directory to the include search path")
	Cmd.Flags().StringVarP(&preInclude, "preinclude", "P", "", "process FILE before the main source, as if INCLUDEd first")
	Cmd.Flags().StringArrayVarP(&defines, "define", "D", nil, "define NAME[=VAL] as a string equate before assembling")
	Cmd.Flags().Uint8VarP(&padByte, "pad", "p", 0, "pad byte for reserved-but-unwritten space")
	Cmd.Flags().StringVarP(&binDigits, "binary-digits", "b", "01", "two characters to use as 0/1 in % literals")
	Cmd.Flags().StringVarP(&gfxDigits, "gfx-digits", "g", "0123", "four characters to use as 0/1/2/3 in ` literals")
	Cmd.Flags().StringArrayVarP(&warnFlags, "warning", "W", nil, "enable/promote a warning category (name, -Werror, -Werror=name)")
	Cmd.Flags().IntVarP(&recursionCap, "recursion-depth", "r", 64, "maximum file/macro/REPT nesting depth")
	Cmd.Flags().StringVarP(&depFile, "dep-file", "M", "", "write Makefile dependency rules to FILE")
	Cmd.Flags().StringVar(&depTarget, "MT", "", "override the dependency rule's target name")
	Cmd.Flags().StringVar(&depTargetQ, "MQ", "", "override the dependency rule's target name, Make-quoted")
	Cmd.Flags().BoolVar(&depPhony, "MP", false, "add a phony target for each dependency")
	Cmd.Flags().Bool("MG", false, "assume missing headers are generated (accepted, no effect without a real include graph)")
	Cmd.Flags().StringVarP(&stateDump, "state-dump", "s", "", "F=FILE state dump (F subset of EQU,VAR,EQUS,CHARMAP,MACRO)")
}

func run(cmd *cobra.Command, args []string) {
	src := args[0]

	source, err := readSource(src)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rgbasm: %v\n", err)
		os.Exit(1)
	}
	if preInclude != "" {
		pre, err := os.ReadFile(preInclude)
		if err != nil {
			fmt.Fprintf(os.Stderr, "rgbasm: reading preinclude %q: %v\n", preInclude, err)
			os.Exit(1)
		}
		source = append(append(append([]byte{}, pre...), '\n'), source...)
	}

	if binDigits != "01" || gfxDigits != "0123" {
		fmt.Fprintln(os.Stderr, "rgbasm: warning: -b/-g custom literal digits are not wired into the lexer yet, using defaults")
	}

	sink, err := diag.NewSink("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "rgbasm: %v\n", err)
		os.Exit(1)
	}
	applyWarningFlags(sink, warnFlags)

	symbols := symbol.NewTable()
	sections := section.NewTable(padByte)
	if err := applyDefines(symbols, defines); err != nil {
		fmt.Fprintf(os.Stderr, "rgbasm: %v\n", err)
		os.Exit(1)
	}

	fstk := fstack.NewStack(recursionCap, includeDirs)
	lex := fstack.NewLexer(fstack.NewViewedContent(source), 1, uniqueIDGenerator())
	p := parser.New(lex, fstk, symbols, sections, sink, parser.DefaultEncoder{})

	if err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "rgbasm: %v\n", err)
		os.Exit(1)
	}
	for _, sizeErr := range sections.CheckSizes() {
		sink.Report(diag.Error, "", sizeErr.Error(), nil)
	}

	if sink.HasErrors() {
		os.Exit(sink.ExitCode())
	}

	if outputPath == "" {
		outputPath = defaultObjectPath(src)
	}
	if err := writeObject(outputPath, symbols, sections); err != nil {
		fmt.Fprintf(os.Stderr, "rgbasm: %v\n", err)
		os.Exit(1)
	}

	if depFile != "" {
		if err := writeDepFile(depFile, outputPath, src); err != nil {
			fmt.Fprintf(os.Stderr, "rgbasm: %v\n", err)
			os.Exit(1)
		}
	}
	if stateDump != "" {
		if err := writeStateDump(stateDump, symbols); err != nil {
			fmt.Fprintf(os.Stderr, "rgbasm: %v\n", err)
			os.Exit(1)
		}
	}

	os.Exit(sink.ExitCode())
}

func readSource(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func defaultObjectPath(src string) string {
	if src == "-" {
		return "a.o"
	}
	if i := strings.LastIndexByte(src, '.'); i >= 0 {
		return src[:i] + ".o"
	}
	return src + ".o"
}

func writeObject(path string, symbols *symbol.Table, sections *section.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating object file %q: %w", path, err)
	}
	defer f.Close()
	return objfile.WriteProgram(f, symbols, sections)
}

// applyDefines implements -D NAME[=VAL] as spec.md §6 describes it: a
// string-equate definition processed before the main source is lexed.
func applyDefines(symbols *symbol.Table, defs []string) error {
	for _, d := range defs {
		name, val := d, "1"
		if i := strings.IndexByte(d, '='); i >= 0 {
			name, val = d[:i], d[i+1:]
		}
		if err := symbols.AddString(name, val, symbol.Source{Description: "-D"}); err != nil {
			return fmt.Errorf("-D %s: %w", d, err)
		}
	}
	return nil
}

// applyWarningFlags handles -W's forms: a bare name is passed to
// Sink.Enable, "error" (or "error=name") promotes everything (or that
// warning) to an error, and "no-name" is accepted and ignored.
func applyWarningFlags(sink *diag.Sink, flags []string) {
	for _, f := range flags {
		switch {
		case f == "error":
			sink.Promote("")
		case strings.HasPrefix(f, "error="):
			sink.Promote(strings.TrimPrefix(f, "error="))
		case strings.HasPrefix(f, "no-"):
			// Sink has no per-warning "off" state, so -Wno-name has no
			// effect: Report emits every warning regardless.
		default:
			sink.Enable(f)
		}
	}
}

func writeDepFile(path, objPath, srcPath string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating dependency file %q: %w", path, err)
	}
	defer f.Close()

	target := objPath
	if depTarget != "" {
		target = depTarget
	}
	if depTargetQ != "" {
		target = strings.NewReplacer("$", "$$", " ", "\\ ").Replace(depTargetQ)
	}
	fmt.Fprintf(f, "%s: %s\n", target, srcPath)
	if depPhony {
		fmt.Fprintf(f, "%s:\n", srcPath)
	}
	return nil
}

// writeStateDump implements a useful subset of spec.md §6's `-s` format:
// EQU/SET constants and EQUS string equates, re-parseable as assembly.
// CHARMAP/MACRO dumping is skipped since this repository's Non-goals
// (spec.md §1) never model a charmap table.
func writeStateDump(spec string, symbols *symbol.Table) error {
	_, path, ok := strings.Cut(spec, "=")
	if !ok {
		path = spec
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating state dump %q: %w", path, err)
	}
	defer f.Close()

	for name, sym := range symbols.All() {
		switch sym.Kind() {
		case symbol.KindEqu:
			fmt.Fprintf(f, "def %s equ $%x\n", name, sym.Value())
		case symbol.KindVar:
			fmt.Fprintf(f, "def %s = $%x\n", name, sym.Value())
		case symbol.KindStringEqu:
			fmt.Fprintf(f, "def %s equs %q\n", name, sym.String())
		}
	}
	return nil
}

func uniqueIDGenerator() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("_u%d", n)
	}
}
