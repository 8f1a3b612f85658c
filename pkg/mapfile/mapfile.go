// Package mapfile renders the two human/tool-readable reports spec.md §6
// describes for the linker: the symbol file (`-n`) and the map file
// (`-m`). Grounded on pkg/utils's formatting helpers
// (FormatUintHex/FormatSlice), the same plain-text-table idiom
// asciidraw.go uses for the teacher's frame renderer.
package mapfile

import (
	"fmt"
	"io"
	"sort"

	"github.com/gbdev/rgbds-go/pkg/section"
	"github.com/gbdev/rgbds-go/pkg/symbol"
	"github.com/gbdev/rgbds-go/pkg/utils"
)

// WriteSym writes spec.md §6's symbol file: one `BB:AAAA NAME` line per
// placed label, in bank/address order, followed by numeric constants as
// `HEX NAME`.
func WriteSym(w io.Writer, symbols *symbol.Table, sections *section.Table) error {
	fmt.Fprintln(w, "; File generated by rgbds-go")

	type labelLine struct {
		bank, addr uint32
		name       string
	}
	var labels []labelLine
	var constants []struct {
		name  string
		value int32
	}

	for name, sym := range symbols.All() {
		switch sym.Kind() {
		case symbol.KindLabel:
			secName, offset := sym.Label()
			sec, ok := sections.FindByName(secName)
			if !ok || !sec.Placed {
				continue
			}
			labels = append(labels, labelLine{bank: sec.Bank, addr: sec.Org + uint32(offset), name: escapeSymbolName(name)})
		case symbol.KindEqu, symbol.KindVar:
			constants = append(constants, struct {
				name  string
				value int32
			}{escapeSymbolName(name), sym.Value()})
		}
	}

	sort.Slice(labels, func(i, j int) bool {
		if labels[i].bank != labels[j].bank {
			return labels[i].bank < labels[j].bank
		}
		return labels[i].addr < labels[j].addr
	})
	for _, l := range labels {
		fmt.Fprintf(w, "%02X:%04X %s\n", l.bank, l.addr, l.name)
	}

	sort.Slice(constants, func(i, j int) bool { return constants[i].name < constants[j].name })
	for _, c := range constants {
		fmt.Fprintf(w, "%s %s\n", utils.FormatUintHex(uint64(uint32(c.value)), 0), c.name)
	}
	return nil
}

// escapeSymbolName escapes characters illegal in the symbol file's bare
// NAME column, spec.md §6's `\uXXXX`/`\UXXXXXXXX` rule.
func escapeSymbolName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		if r >= 0x20 && r < 0x7F && r != ' ' {
			out = append(out, r)
			continue
		}
		if r > 0xFFFF {
			out = append(out, []rune(fmt.Sprintf("\\U%08X", r))...)
		} else {
			out = append(out, []rune(fmt.Sprintf("\\u%04X", r))...)
		}
	}
	return string(out)
}

// WriteMap writes spec.md §6's map file: a section-by-section layout,
// each section's symbols listed underneath unless noSymbols (`-M`) is
// set.
func WriteMap(w io.Writer, symbols *symbol.Table, sections *section.Table, noSymbols bool) error {
	fmt.Fprintln(w, "; File generated by rgbds-go")

	labelsBySection := map[string][]labelEntry{}
	for name, sym := range symbols.All() {
		if sym.Kind() != symbol.KindLabel {
			continue
		}
		secName, offset := sym.Label()
		labelsBySection[secName] = append(labelsBySection[secName], labelEntry{offset: offset, name: name})
	}
	for _, entries := range labelsBySection {
		sort.Slice(entries, func(i, j int) bool { return entries[i].offset < entries[j].offset })
	}

	secs := append([]*section.Section{}, sections.All()...)
	sort.SliceStable(secs, func(i, j int) bool {
		a, b := secs[i], secs[j]
		if a.Type() != b.Type() {
			return a.Type() < b.Type()
		}
		if a.Bank != b.Bank {
			return a.Bank < b.Bank
		}
		return a.Org < b.Org
	})

	currentBank := -1
	currentType := section.Type(255)
	for _, sec := range secs {
		if sec.Type() != currentType || int(sec.Bank) != currentBank {
			currentType, currentBank = sec.Type(), int(sec.Bank)
			fmt.Fprintf(w, "\n%s bank #%d:\n", sec.Type(), sec.Bank)
		}
		end := sec.Org
		if sec.Placed {
			end = sec.Org + sec.Size() - 1
		}
		fmt.Fprintf(w, "  SECTION: $%04X-$%04X ($%04X bytes) [\"%s\"]\n", sec.Org, end, sec.Size(), sec.Name())
		if noSymbols {
			continue
		}
		for _, l := range labelsBySection[sec.Name()] {
			fmt.Fprintf(w, "    $%04X = %s\n", sec.Org+uint32(l.offset), l.name)
		}
	}
	return nil
}

type labelEntry struct {
	offset int32
	name   string
}
