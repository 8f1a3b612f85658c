// Package placement implements the C10 linker placement engine of
// spec.md §4/§8: per-(type,bank) free-interval bookkeeping, a
// first-fit-decreasing bin-packer for floating sections, and exact
// reservation for sections a SECTION declaration or linker script
// pinned to a fixed address/bank. Grounded on
// pkg/hw/cpu/mc/memoryresolver.go's address-bookkeeping idiom (a
// Config struct with a DefaultConfig constructor, an alignAddress
// helper, address ranges computed once up front), generalized from one
// contiguous code+data region to many independent (type,bank) windows.
package placement

import (
	"fmt"
	"sort"

	"github.com/gbdev/rgbds-go/pkg/linkscript"
	"github.com/gbdev/rgbds-go/pkg/section"
)

// Config mirrors the linker CLI flags spec.md §6 lists that affect
// placement: -d/-t/-w narrow or widen a region's usable window, -S
// picks a per-region bank scramble order.
type Config struct {
	// DMGMode (-d) forbids VRAM bank 1 (Game Boy Color only hardware).
	DMGMode bool
	// Tiny (-t) gives ROM0 the full 32 KiB window instead of splitting
	// it with ROMX at $4000.
	Tiny bool
	// WRAM0FullBank (-w) gives WRAM0 the full 8 KiB window instead of
	// splitting it with WRAMX at $D000.
	WRAM0FullBank bool
	// Scramble maps a bank-windowed section type to the number of
	// leading banks (starting at the type's first valid bank) whose
	// placement order should be scrambled, spec.md §6's `-S
	// REGION[=LIMIT]`. A type absent from this map is placed in plain
	// ascending bank order. A present entry with limit 0 scrambles the
	// type's entire valid bank range.
	Scramble map[section.Type]uint32
}

// DefaultConfig returns an unscrambled, non-tiny, non-DMG configuration
// — the linker's default placement behavior.
func DefaultConfig() Config {
	return Config{Scramble: map[section.Type]uint32{}}
}

// window returns a section type's usable start address, byte size, and
// valid bank range under this configuration.
func (c Config) window(typ section.Type) (start, size, firstBank, lastBank uint32) {
	info := section.TypeInfos[typ]
	start, size = info.StartAddr, info.Size
	firstBank, lastBank = info.FirstBank, info.LastBank

	switch typ {
	case section.TypeROM0:
		if !c.Tiny {
			size = 0x4000
		}
	case section.TypeWRAM0:
		if !c.WRAM0FullBank {
			size = 0x1000
		}
	case section.TypeVRAM:
		if c.DMGMode {
			lastBank = 0
		}
	}
	return
}

func (c Config) bankOrder(typ section.Type, first, last uint32) []uint32 {
	limit, scrambled := c.Scramble[typ]
	order := make([]uint32, 0, last-first+1)
	if !scrambled {
		for b := first; b <= last; b++ {
			order = append(order, b)
		}
		return order
	}
	if limit == 0 || first+limit-1 > last {
		limit = last - first + 1
	}
	for b := first + limit - 1; ; b-- {
		order = append(order, b)
		if b == first {
			break
		}
	}
	for b := first + limit; b <= last; b++ {
		order = append(order, b)
	}
	return order
}

type regionKey struct {
	typ  section.Type
	bank uint32
}

type interval struct {
	start, end uint32 // end exclusive
}

type engine struct {
	cfg  Config
	free map[regionKey][]interval
}

func newEngine(cfg Config) *engine {
	return &engine{cfg: cfg, free: map[regionKey][]interval{}}
}

func (e *engine) freeList(typ section.Type, bank uint32) []interval {
	k := regionKey{typ, bank}
	if list, ok := e.free[k]; ok {
		return list
	}
	start, size, _, _ := e.cfg.window(typ)
	list := []interval{{start: start, end: start + size}}
	e.free[k] = list
	return list
}

func alignUp(start uint32, align uint8, ofs uint16) uint32 {
	if align == 0 {
		return start
	}
	mask := uint32(1)<<align - 1
	base := start &^ mask
	aligned := base | (uint32(ofs) & mask)
	if aligned < start {
		aligned += mask + 1
	}
	return aligned
}

// reserveExact carves [start, start+size) out of the free list for
// (typ,bank), failing if that range is not entirely free.
func (e *engine) reserveExact(typ section.Type, bank, start, size uint32) error {
	k := regionKey{typ, bank}
	list := e.freeList(typ, bank)
	end := start + size
	for i, iv := range list {
		if iv.start <= start && end <= iv.end {
			var replacement []interval
			if iv.start < start {
				replacement = append(replacement, interval{iv.start, start})
			}
			if end < iv.end {
				replacement = append(replacement, interval{end, iv.end})
			}
			next := make([]interval, 0, len(list)+len(replacement))
			next = append(next, list[:i]...)
			next = append(next, replacement...)
			next = append(next, list[i+1:]...)
			e.free[k] = next
			return nil
		}
	}
	return fmt.Errorf("range [$%04X, $%04X) in %s bank %d overlaps another section or is out of bounds", start, end, typ, bank)
}

// reserveFirstFit finds the first free interval in (typ,bank) big enough
// to hold size bytes honoring the alignment, carving it out and
// returning the address chosen.
func (e *engine) reserveFirstFit(typ section.Type, bank, size uint32, align uint8, alignOfs uint16) (uint32, error) {
	k := regionKey{typ, bank}
	list := e.freeList(typ, bank)
	for i, iv := range list {
		candidate := alignUp(iv.start, align, alignOfs)
		if candidate+size > iv.end {
			continue
		}
		var replacement []interval
		if iv.start < candidate {
			replacement = append(replacement, interval{iv.start, candidate})
		}
		if candidate+size < iv.end {
			replacement = append(replacement, interval{candidate + size, iv.end})
		}
		next := make([]interval, 0, len(list)+len(replacement))
		next = append(next, list[:i]...)
		next = append(next, replacement...)
		next = append(next, list[i+1:]...)
		e.free[k] = next
		return candidate, nil
	}
	return 0, fmt.Errorf("no room left in %s bank %d for %d bytes", typ, bank, size)
}

// combine merges a section's own declared constraint with a linker
// script's placement for it, the same "fixed beats floating, two fixed
// values must agree" rule pkg/section's own Constraint merge applies to
// repeated SECTION declarations (spec.md §4.5), applied here across the
// assembler/linker boundary instead of within one file.
func combine(existing, incoming section.Constraint) (section.Constraint, error) {
	result := existing
	if incoming.OrgFixed {
		if existing.OrgFixed && existing.Org != incoming.Org {
			return section.Constraint{}, fmt.Errorf("linker script fixes this section at $%04X, but it was already declared fixed at $%04X", incoming.Org, existing.Org)
		}
		result.OrgFixed, result.Org = true, incoming.Org
	}
	if incoming.BankFixed {
		if existing.BankFixed && existing.Bank != incoming.Bank {
			return section.Constraint{}, fmt.Errorf("linker script fixes this section to bank %d, but it was already declared in bank %d", incoming.Bank, existing.Bank)
		}
		result.BankFixed, result.Bank = true, incoming.Bank
	}
	if incoming.AlignFixed {
		result.AlignFixed, result.Align, result.AlignOfs = true, incoming.Align, incoming.AlignOfs
	}
	return result, nil
}

// Place assigns a final (bank, org) to every section in the table,
// spec.md §4's placement phase: sections a SECTION declaration or the
// linker script pinned to an exact address are reserved first; sections
// pinned only to a bank are packed into that bank largest-first; fully
// floating sections are packed largest-first across their type's valid
// banks in scramble (or ascending) order.
func Place(sections *section.Table, script *linkscript.Script, cfg Config) error {
	e := newEngine(cfg)

	type pending struct {
		sect       *section.Section
		constraint section.Constraint
	}

	var fixed, bankOnly, floating []pending

	for _, s := range sections.All() {
		constraint := s.Constraint()
		if script != nil {
			if p, ok := script.PlacementFor(s.Name()); ok {
				merged, err := combine(constraint, p.Constraint())
				if err != nil {
					return fmt.Errorf("placement: section %q: %w", s.Name(), err)
				}
				constraint = merged
			}
		}

		if constraint.OrgFixed && !constraint.BankFixed {
			_, _, first, last := cfg.window(s.Type())
			if first != last {
				return fmt.Errorf("placement: section %q is fixed at $%04X but names no bank, and %s spans multiple banks", s.Name(), constraint.Org, s.Type())
			}
			constraint.BankFixed, constraint.Bank = true, first
		}

		item := pending{sect: s, constraint: constraint}
		switch {
		case constraint.OrgFixed:
			fixed = append(fixed, item)
		case constraint.BankFixed:
			bankOnly = append(bankOnly, item)
		default:
			floating = append(floating, item)
		}
	}

	bySize := func(items []pending) {
		sort.SliceStable(items, func(i, j int) bool { return items[i].sect.Size() > items[j].sect.Size() })
	}
	bySize(bankOnly)
	bySize(floating)

	for _, item := range fixed {
		c := item.constraint
		if c.AlignFixed {
			mask := c.AlignMask()
			if uint16(c.Org)&mask != c.AlignOfs&mask {
				return fmt.Errorf("placement: section %q is fixed at $%04X but that is incompatible with its alignment", item.sect.Name(), c.Org)
			}
		}
		if _, _, first, last := cfg.window(item.sect.Type()); c.Bank < first || c.Bank > last {
			return fmt.Errorf("placement: section %q is fixed to bank %d, which is not valid for %s under the current configuration", item.sect.Name(), c.Bank, item.sect.Type())
		}
		if err := e.reserveExact(item.sect.Type(), c.Bank, c.Org, item.sect.Size()); err != nil {
			return fmt.Errorf("placement: section %q: %w", item.sect.Name(), err)
		}
		item.sect.Placed = true
		item.sect.Org = c.Org
		item.sect.Bank = c.Bank
	}

	for _, item := range bankOnly {
		c := item.constraint
		if _, _, first, last := cfg.window(item.sect.Type()); c.Bank < first || c.Bank > last {
			return fmt.Errorf("placement: section %q is fixed to bank %d, which is not valid for %s under the current configuration", item.sect.Name(), c.Bank, item.sect.Type())
		}
		org, err := e.reserveFirstFit(item.sect.Type(), c.Bank, item.sect.Size(), c.Align, c.AlignOfs)
		if err != nil {
			return fmt.Errorf("placement: section %q: %w", item.sect.Name(), err)
		}
		item.sect.Placed = true
		item.sect.Org = org
		item.sect.Bank = c.Bank
	}

	for _, item := range floating {
		c := item.constraint
		_, _, first, last := cfg.window(item.sect.Type())
		var lastErr error
		placed := false
		for _, bank := range cfg.bankOrder(item.sect.Type(), first, last) {
			org, err := e.reserveFirstFit(item.sect.Type(), bank, item.sect.Size(), c.Align, c.AlignOfs)
			if err != nil {
				lastErr = err
				continue
			}
			item.sect.Placed = true
			item.sect.Org = org
			item.sect.Bank = bank
			placed = true
			break
		}
		if !placed {
			return fmt.Errorf("placement: section %q: %w", item.sect.Name(), lastErr)
		}
	}

	return nil
}
