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
	"encoding/json"
	"fmt"

	"github.com/blacktop/go-kvm"
	"github.com/spf13/cobra"
)

// RegValue is one register read by the regs command.
type RegValue struct {
	Name  string `json:"name"`
	Value uint64 `json:"value"`
	FPEN  string `json:"fpen,omitempty"`
	Error string `json:"error,omitempty"`
}

func init() {
	rootCmd.AddCommand(regsCmd)
	regsCmd.Flags().Bool("aarch32", false, "Initialize the vCPU with AArch32 EL1")
	regsCmd.Flags().Bool("json", false, "Output as JSON")
}

var regsCmd = &cobra.Command{
	Use:   "regs [NAME...]",
	Short: "Read vCPU registers from a freshly initialized VM",
	Long: `Read vCPU registers from a freshly initialized VM.

Names are system registers such as CPACR_EL1 or SCTLR_EL1, core registers
X0-X30, SP, PC, PSTATE, or the generic S<op0>_<op1>_C<n>_C<m>_<op2> form.
CPACR_EL1 is read when no name is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		aarch32, err := cmd.Flags().GetBool("aarch32")
		if err != nil {
			return err
		}
		asJSON, err := cmd.Flags().GetBool("json")
		if err != nil {
			return err
		}

		if len(args) == 0 {
			args = []string{"CPACR_EL1"}
		}
		regs := make([]kvm.SysReg, 0, len(args))
		for _, name := range args {
			r, err := kvm.ParseSysReg(name)
			if err != nil {
				return err
			}
			regs = append(regs, r)
		}

		mode := kvm.ModeAArch64
		if aarch32 {
			mode = kvm.ModeAArch32EL1
		}
		vm, err := newVM(mode)
		if err != nil {
			return err
		}
		defer vm.Destroy()

		values := readRegs(vm.VCPU(), regs)

		if asJSON {
			out, err := json.MarshalIndent(values, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal registers: %w", err)
			}
			fmt.Println(string(out))
			return nil
		}
		for _, v := range values {
			switch {
			case v.Error != "":
				fmt.Printf("%-16s %s\n", v.Name, failColor(v.Error))
			case v.FPEN != "":
				fmt.Printf("%-16s %#018x  FPEN: %s\n", v.Name, v.Value, v.FPEN)
			default:
				fmt.Printf("%-16s %#018x\n", v.Name, v.Value)
			}
		}
		return nil
	},
}

// readRegs reads every register, recording failures per register.
func readRegs(vcpu *kvm.VCPU, regs []kvm.SysReg) []RegValue {
	values := make([]RegValue, 0, len(regs))
	for _, r := range regs {
		v := RegValue{Name: r.String()}
		val, err := vcpu.ReadSysReg(r)
		if err != nil {
			v.Error = err.Error()
		} else {
			v.Value = val
			if r == kvm.CPACR_EL1 {
				v.FPEN = kvm.FPAccess(val).String()
			}
		}
		values = append(values, v)
	}
	return values
}
