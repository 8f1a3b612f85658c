// Package rgblink is the linker CLI: N relocatable object files in, a
// final ROM image (plus optional map/symbol files) out, spec.md §6's
// "Linker CLI". Grounded on cmd/cpu/compile.go's flag-registration style
// and cmd/mc/llvm.go's multi-stage "read inputs, run passes, write
// outputs" driver shape.
package rgblink

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gbdev/rgbds-go/cmd/root"
	"github.com/gbdev/rgbds-go/pkg/diag"
	"github.com/gbdev/rgbds-go/pkg/linkscript"
	"github.com/gbdev/rgbds-go/pkg/mapfile"
	"github.com/gbdev/rgbds-go/pkg/objfile"
	"github.com/gbdev/rgbds-go/pkg/patch"
	"github.com/gbdev/rgbds-go/pkg/placement"
	"github.com/gbdev/rgbds-go/pkg/section"
	"github.com/gbdev/rgbds-go/pkg/symbol"
)

var (
	outputPath    string
	scriptPath    string
	mapPath       string
	symPath       string
	overlayPath   string
	padByte       uint8
	dmgMode       bool
	tiny          bool
	wram0FullBank bool
	noPadding     bool
	noMapSymbols  bool
	scrambleSpec  string
	warnFlags     []string
)

// Cmd is the `rgblink` subcommand.
var Cmd = &cobra.Command{
	Use:   "rgblink <object-file>...",
	Short: "Link relocatable object files into a Game Boy ROM image",
	Long: `rgblink merges the symbol/section tables of every given object file, places
every section in memory (honoring an optional linker script), resolves
every link-time patch, and writes the final ROM image.`,
	Args: cobra.MinimumNArgs(1),
	Run:  run,
}

func init() {
	root.Cmd.AddCommand(Cmd)

	Cmd.Flags().StringVarP(&outputPath, "output", "o", "a.gb", "ROM image output path")
	Cmd.Flags().StringVarP(&scriptPath, "linkerscript", "l", "", "linker script path")
	Cmd.Flags().StringVarP(&mapPath, "map", "m", "", "write a map file to PATH")
	Cmd.Flags().StringVarP(&symPath, "sym", "n", "", "write a symbol file to PATH")
	Cmd.Flags().StringVarP(&overlayPath, "overlay", "O", "", "overlay an existing ROM image before placement (accepted, not yet merged into placement)")
	Cmd.Flags().Uint8VarP(&padByte, "pad", "p", 0xFF, "pad byte for unwritten ROM space")
	Cmd.Flags().BoolVarP(&dmgMode, "dmg", "d", false, "DMG mode: forbid VRAM bank 1")
	Cmd.Flags().BoolVarP(&tiny, "tiny", "t", false, "tiny mode: ROM0 covers the full 32 KiB, no banking")
	Cmd.Flags().BoolVarP(&wram0FullBank, "wram0-full", "w", false, "WRAM0 covers the full 8 KiB bank")
	Cmd.Flags().BoolVarP(&noPadding, "no-padding", "x", false, "do not pad the output image (implies -t)")
	Cmd.Flags().BoolVarP(&noMapSymbols, "no-map-symbols", "M", false, "omit per-section symbol listings from the map file")
	Cmd.Flags().StringVarP(&scrambleSpec, "scramble", "S", "", "comma-separated REGION[=LIMIT] bank-scramble spec (ROMX, WRAMX, SRAM)")
	Cmd.Flags().StringArrayVarP(&warnFlags, "warning", "W", nil, "enable/promote a warning category")
}

func run(cmd *cobra.Command, args []string) {
	if noPadding {
		tiny = true
	}

	sink, err := diag.NewSink("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "rgblink: %v\n", err)
		os.Exit(1)
	}
	for _, f := range warnFlags {
		if f == "error" {
			sink.Promote("")
		} else if strings.HasPrefix(f, "error=") {
			sink.Promote(strings.TrimPrefix(f, "error="))
		} else {
			sink.Enable(f)
		}
	}

	symbols := symbol.NewTable()
	sections := section.NewTable(padByte)

	// Phase 1: read every object file and merge it into the combined
	// symbol/section tables.
	for _, path := range args {
		if err := readAndMerge(path, symbols, sections); err != nil {
			fmt.Fprintf(os.Stderr, "rgblink: %v\n", err)
			os.Exit(1)
		}
	}
	if unresolved := objfile.UnresolvedImports(symbols); len(unresolved) > 0 {
		for _, name := range unresolved {
			fmt.Fprintf(os.Stderr, "rgblink: undefined symbol %q (referenced but never exported)\n", name)
		}
		os.Exit(1)
	}

	// Phase 2: placement.
	var script *linkscript.Script
	if scriptPath != "" {
		s, err := parseScript(scriptPath, sections)
		if err != nil {
			fmt.Fprintf(os.Stderr, "rgblink: %v\n", err)
			os.Exit(1)
		}
		script = s
	}

	cfg := placement.DefaultConfig()
	cfg.DMGMode = dmgMode
	cfg.Tiny = tiny
	cfg.WRAM0FullBank = wram0FullBank
	scramble, err := parseScramble(scrambleSpec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rgblink: %v\n", err)
		os.Exit(1)
	}
	cfg.Scramble = scramble

	if err := placement.Place(sections, script, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "rgblink: %v\n", err)
		os.Exit(1)
	}

	// Phase 3: patch resolution.
	warnings, errs := patch.Resolve(symbols, sections)
	for _, w := range warnings {
		sink.Report(diag.Warning, "truncation", fmt.Sprintf("section %q, offset $%04X: %s", w.Section, w.Offset, w.Message), nil)
	}
	if len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "rgblink: %v\n", e)
		}
		os.Exit(1)
	}

	if err := writeROM(outputPath, sections, padByte, tiny, noPadding); err != nil {
		fmt.Fprintf(os.Stderr, "rgblink: %v\n", err)
		os.Exit(1)
	}

	if mapPath != "" {
		if err := writeMapFile(mapPath, symbols, sections); err != nil {
			fmt.Fprintf(os.Stderr, "rgblink: %v\n", err)
			os.Exit(1)
		}
	}
	if symPath != "" {
		if err := writeSymFile(symPath, symbols, sections); err != nil {
			fmt.Fprintf(os.Stderr, "rgblink: %v\n", err)
			os.Exit(1)
		}
	}

	os.Exit(sink.ExitCode())
}

func readAndMerge(path string, symbols *symbol.Table, sections *section.Table) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %q: %w", path, err)
	}
	defer f.Close()

	var firstByte [1]byte
	if _, err := io.ReadFull(f, firstByte[:]); err != nil {
		return fmt.Errorf("reading %q: %w", path, err)
	}
	rest := io.MultiReader(bytes.NewReader(firstByte[:]), f)

	var file *objfile.File
	if objfile.LooksLikeSDAS(firstByte[0]) {
		file, err = objfile.ReadSDAS(rest)
	} else {
		file, err = objfile.Read(rest)
	}
	if err != nil {
		return fmt.Errorf("reading %q: %w", path, err)
	}
	if err := objfile.Merge(path, file, symbols, sections); err != nil {
		return fmt.Errorf("merging %q: %w", path, err)
	}
	return nil
}

func parseScramble(spec string) (map[section.Type]uint32, error) {
	result := map[section.Type]uint32{}
	if spec == "" {
		return result, nil
	}
	for _, tok := range strings.Split(spec, ",") {
		name, limitStr, hasLimit := strings.Cut(tok, "=")
		typ, ok := scrambleRegion(name)
		if !ok {
			return nil, fmt.Errorf("-S: unknown scramble region %q", name)
		}
		limit := uint32(section.TypeInfos[typ].LastBank)
		if hasLimit {
			v, err := strconv.ParseUint(limitStr, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("-S: bad limit in %q: %w", tok, err)
			}
			limit = uint32(v)
		}
		result[typ] = limit
	}
	return result, nil
}

func scrambleRegion(name string) (section.Type, bool) {
	switch strings.ToUpper(name) {
	case "ROMX":
		return section.TypeROMX, true
	case "WRAMX":
		return section.TypeWRAMX, true
	case "SRAM":
		return section.TypeSRAM, true
	default:
		return 0, false
	}
}

func parseScript(path string, sections *section.Table) (*linkscript.Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening linker script %q: %w", path, err)
	}
	defer f.Close()
	return linkscript.Parse(f, tableSizer{sections}, osIncluder{})
}

type tableSizer struct{ sections *section.Table }

func (s tableSizer) SectionSize(name string) (uint32, bool) {
	v, ok := s.sections.SectionSize(name)
	if !ok {
		return 0, false
	}
	return uint32(v), true
}

type osIncluder struct{}

func (osIncluder) Open(path string) (io.ReadCloser, error) { return os.Open(path) }

func writeMapFile(path string, symbols *symbol.Table, sections *section.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating map file %q: %w", path, err)
	}
	defer f.Close()
	return mapfile.WriteMap(f, symbols, sections, noMapSymbols)
}

func writeSymFile(path string, symbols *symbol.Table, sections *section.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating symbol file %q: %w", path, err)
	}
	defer f.Close()
	return mapfile.WriteSym(f, symbols, sections)
}

const bankSize = 0x4000

// romOffset maps a placed ROM0/ROMX section's (bank, org) to its byte
// offset in the final flat ROM image: ROM0 sits at the image's start
// (tiny mode lets it run past the usual 16 KiB boundary into bank 1's
// space), ROMX banks follow in order starting at bank 1.
func romOffset(sec *section.Section) uint32 {
	if sec.Type() == section.TypeROM0 {
		return sec.Org
	}
	return sec.Bank*bankSize + (sec.Org - bankSize)
}

// writeROM assembles every placed ROM0/ROMX section into a flat image
// and writes it to path, padding unwritten space with padByte unless
// noPadding trims the file down to the last written byte instead.
func writeROM(path string, sections *section.Table, padByte uint8, tiny, noPadding bool) error {
	minSize := uint32(bankSize * 2)
	if tiny {
		minSize = bankSize
	}

	size := minSize
	for _, sec := range sections.All() {
		if !sec.Type().HasData() || !sec.Placed {
			continue
		}
		end := romOffset(sec) + sec.Size()
		if end > size {
			size = end
		}
	}

	image := make([]byte, size)
	for i := range image {
		image[i] = padByte
	}

	highWater := uint32(0)
	for _, sec := range sections.All() {
		if !sec.Type().HasData() || !sec.Placed {
			continue
		}
		off := romOffset(sec)
		copy(image[off:], sec.Data())
		if end := off + sec.Size(); end > highWater {
			highWater = end
		}
	}

	if noPadding && highWater < size {
		image = image[:highWater]
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating ROM image %q: %w", path, err)
	}
	defer f.Close()
	_, err = f.Write(image)
	return err
}
