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
	"os"

	"github.com/blacktop/go-kvm"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func init() {
	rootCmd.AddCommand(slotsCmd)
	slotsCmd.Flags().Uint64("base", 0x40000000, "Guest physical address of the first region")
}

var slotsCmd = &cobra.Command{
	Use:   "slots",
	Short: "Fill every memory slot with one-page regions to verify capacity",
	RunE: func(cmd *cobra.Command, args []string) error {
		base, err := cmd.Flags().GetUint64("base")
		if err != nil {
			return err
		}

		vm, err := newVM(kvm.ModeAArch64)
		if err != nil {
			return err
		}
		var mem hostMemory
		defer closeVM(vm, &mem)

		pageSize := vm.PageSize()
		maxSlots := vm.MaxSlots()
		if base&(pageSize-1) != 0 {
			return fmt.Errorf("base %#x is not a multiple of the page size (%d)", base, pageSize)
		}

		var bar *progressbar.ProgressBar
		if term.IsTerminal(int(os.Stdout.Fd())) {
			bar = progressbar.Default(int64(maxSlots), "installing")
			defer bar.Close()
		}

		// One backing page serves every slot; only guest ranges must be disjoint.
		page, err := mem.alloc(pageSize)
		if err != nil {
			return err
		}
		for i := 0; i < maxSlots; i++ {
			if _, err := vm.Memory().InstallBytes(base+uint64(i)*pageSize, page); err != nil {
				return fmt.Errorf("install %d of %d failed: %w", i+1, maxSlots, err)
			}
			if bar != nil {
				bar.Add(1)
			}
		}

		_, err = vm.Memory().InstallBytes(base+uint64(maxSlots)*pageSize, page)
		if !errors.Is(err, kvm.ErrSlotExhausted) {
			return fmt.Errorf("install past capacity: expected %v, got %v", kvm.ErrSlotExhausted, err)
		}

		fmt.Printf("\n%s %d slots installed, slot %d rejected: %s\n",
			okColor("ok:"), vm.Memory().Len(), maxSlots, okColor("ErrSlotExhausted"))
		return nil
	},
}
