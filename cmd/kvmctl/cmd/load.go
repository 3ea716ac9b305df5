/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/blacktop/go-kvm"
	"github.com/blacktop/go-macho"
	"github.com/spf13/cobra"
)

// loadSegment is a loadable piece of an executable image.
type loadSegment struct {
	Name  string
	Addr  uint64
	Memsz uint64
	Data  []byte
}

// span is a page-rounded guest range covering one or more segments.
type span struct {
	Start, End uint64
	Names      []string
}

func init() {
	rootCmd.AddCommand(loadCmd)
}

var loadCmd = &cobra.Command{
	Use:   "load BINARY",
	Short: "Map the loadable segments of a Mach-O or ELF image into guest memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		segs, err := readSegments(args[0])
		if err != nil {
			return err
		}
		if len(segs) == 0 {
			return fmt.Errorf("%s has no loadable segments", args[0])
		}

		vm, err := newVM(kvm.ModeAArch64)
		if err != nil {
			return err
		}
		var mem hostMemory
		defer closeVM(vm, &mem)

		names := make(map[uint32]string)
		for _, sp := range mergeSpans(segs, vm.PageSize()) {
			buf, err := mem.alloc(sp.End - sp.Start)
			if err != nil {
				return err
			}
			for _, seg := range segs {
				if seg.Addr >= sp.Start && seg.Addr < sp.End {
					copy(buf[seg.Addr-sp.Start:], seg.Data)
				}
			}
			slot, err := vm.Memory().InstallBytes(sp.Start, buf)
			if err != nil {
				return fmt.Errorf("failed to install %v: %w", sp.Names, err)
			}
			names[slot] = fmt.Sprint(sp.Names)
		}

		printRegions(names, vm.Memory().Regions())
		return nil
	},
}

// mergeSpans page-rounds every segment and coalesces those sharing a page.
func mergeSpans(segs []loadSegment, pageSize uint64) []span {
	spans := make([]span, 0, len(segs))
	for _, seg := range segs {
		spans = append(spans, span{
			Start: pageRoundDown(seg.Addr, pageSize),
			End:   pageRoundUp(seg.Addr+seg.Memsz, pageSize),
			Names: []string{seg.Name},
		})
	}
	slices.SortFunc(spans, func(a, b span) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		}
		return 0
	})

	var out []span
	for _, sp := range spans {
		if n := len(out); n > 0 && sp.Start < out[n-1].End {
			last := &out[n-1]
			last.End = max(last.End, sp.End)
			last.Names = append(last.Names, sp.Names...)
			continue
		}
		out = append(out, sp)
	}
	return out
}

func readSegments(path string) ([]loadSegment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return nil, fmt.Errorf("failed to read magic: %w", err)
	}

	switch {
	case bytes.Equal(magic[:], []byte(elf.ELFMAG)):
		return elfSegments(path)
	case isMachO(magic):
		return machoSegments(path)
	default:
		return nil, fmt.Errorf("%s: unsupported file format (magic %x)", path, magic)
	}
}

func isMachO(magic [4]byte) bool {
	switch binary.LittleEndian.Uint32(magic[:]) {
	case 0xfeedfacf, 0xfeedface: // MH_MAGIC_64, MH_MAGIC
		return true
	}
	return false
}

func machoSegments(path string) ([]loadSegment, error) {
	m, err := macho.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open Mach-O file: %w", err)
	}
	defer m.Close()

	var segs []loadSegment
	for _, seg := range m.Segments() {
		// __PAGEZERO and __LINKEDIT carry nothing to execute.
		if seg.Memsz == 0 || seg.Name == "__PAGEZERO" || seg.Name == "__LINKEDIT" {
			continue
		}
		data := make([]byte, seg.Filesz)
		if _, err := seg.ReadAt(data, 0); err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to read segment %s: %w", seg.Name, err)
		}
		segs = append(segs, loadSegment{
			Name:  seg.Name,
			Addr:  seg.Addr,
			Memsz: seg.Memsz,
			Data:  data,
		})
	}
	return segs, nil
}

func elfSegments(path string) ([]loadSegment, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ELF file: %w", err)
	}
	defer f.Close()

	if f.Machine != elf.EM_AARCH64 && f.Machine != elf.EM_ARM {
		return nil, fmt.Errorf("unsupported ELF machine %v", f.Machine)
	}

	var segs []loadSegment
	for i, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || prog.Memsz == 0 {
			continue
		}
		data := make([]byte, prog.Filesz)
		if _, err := prog.ReadAt(data, 0); err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to read segment %d: %w", i, err)
		}
		addr := prog.Paddr
		if addr == 0 {
			addr = prog.Vaddr
		}
		segs = append(segs, loadSegment{
			Name:  fmt.Sprintf("LOAD[%d]", i),
			Addr:  addr,
			Memsz: prog.Memsz,
			Data:  data,
		})
	}
	return segs, nil
}
