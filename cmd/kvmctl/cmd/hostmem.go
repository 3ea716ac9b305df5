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
	"errors"
	"fmt"

	"github.com/blacktop/go-kvm"
	"golang.org/x/sys/unix"
)

// hostMemory tracks anonymous mappings that back guest slots.
type hostMemory struct {
	bufs [][]byte
}

func (h *hostMemory) alloc(size uint64) ([]byte, error) {
	buf, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate %d bytes: %w", size, err)
	}
	h.bufs = append(h.bufs, buf)
	return buf, nil
}

// free unmaps every buffer. Slots must be removed first.
func (h *hostMemory) free() error {
	var errs []error
	for _, buf := range h.bufs {
		if err := unix.Munmap(buf); err != nil {
			errs = append(errs, err)
		}
	}
	h.bufs = nil
	return errors.Join(errs...)
}

func pageRoundUp(v, pageSize uint64) uint64 {
	return (v + pageSize - 1) &^ (pageSize - 1)
}

func pageRoundDown(v, pageSize uint64) uint64 {
	return v &^ (pageSize - 1)
}

func printRegions(names map[uint32]string, regions []kvm.Region) {
	fmt.Printf("%-5s %-18s %-18s %-12s %s\n", keyColor("SLOT"), keyColor("GUEST START"), keyColor("GUEST END"), keyColor("SIZE"), keyColor("NAME"))
	for _, r := range regions {
		fmt.Printf("%-5d %#018x %#018x %#-12x %s\n", r.Slot, r.GuestPhys, r.End(), r.Size, names[r.Slot])
	}
}
