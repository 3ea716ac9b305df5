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
	"fmt"
	"os"

	"github.com/blacktop/go-kvm"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(mapCmd)
}

var mapCmd = &cobra.Command{
	Use:   "map CONFIG.yaml",
	Short: "Install a guest memory map described in YAML",
	Long: `Install a guest memory map described in YAML, print the slot table,
read CPACR_EL1 and tear everything down again.

Example:

  mode: aarch64
  regions:
    - name: rom
      guest: 0x0
      size: 0x10000
      file: firmware.bin
    - name: ram
      guest: 0x40000000
      size: 0x200000`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pageSize, err := kvm.PageSize()
		if err != nil {
			return err
		}
		mm, err := LoadMemoryMap(args[0], uint64(pageSize))
		if err != nil {
			return err
		}
		mode, err := kvm.ParseExecutionMode(mm.Mode)
		if err != nil {
			return err
		}
		if mm.Device != "" && !cmd.Flags().Changed("device") {
			device = mm.Device
		}

		vm, err := newVM(mode)
		if err != nil {
			return err
		}
		var mem hostMemory
		defer closeVM(vm, &mem)

		names := make(map[uint32]string, len(mm.Regions))
		for _, rc := range mm.Regions {
			slot, err := installRegion(vm, &mem, rc)
			if err != nil {
				return fmt.Errorf("region %s: %w", rc.Name, err)
			}
			names[slot] = rc.Name
		}

		printRegions(names, vm.Memory().Regions())

		if cpacr, err := vm.VCPU().ReadCPACR(); err != nil {
			fmt.Printf("\nCPACR_EL1: %s\n", failColor(err.Error()))
		} else {
			fmt.Printf("\nCPACR_EL1: %#x (FPEN: %s)\n", cpacr, kvm.FPAccess(cpacr))
		}
		return nil
	},
}

func installRegion(vm *kvm.VM, mem *hostMemory, rc RegionConfig) (uint32, error) {
	buf, err := mem.alloc(pageRoundUp(rc.Size, vm.PageSize()))
	if err != nil {
		return 0, err
	}
	if rc.File != "" {
		data, err := os.ReadFile(rc.File)
		if err != nil {
			return 0, fmt.Errorf("failed to read %s: %w", rc.File, err)
		}
		if len(data) > len(buf) {
			return 0, fmt.Errorf("%s (%d bytes) exceeds region size %#x", rc.File, len(data), len(buf))
		}
		copy(buf, data)
	}
	return vm.Memory().InstallBytes(rc.Guest, buf[:rc.Size])
}
