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

	"github.com/blacktop/go-kvm"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(checkCmd)
}

var (
	okColor   = color.New(color.FgGreen).SprintFunc()
	failColor = color.New(color.FgRed).SprintFunc()
	keyColor  = color.New(color.Bold).SprintFunc()
)

func yesNo(v bool) string {
	if v {
		return okColor("yes")
	}
	return failColor("no")
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check KVM support and report host capabilities",
	RunE: func(cmd *cobra.Command, args []string) error {
		ok, err := kvm.Supported()
		if err != nil {
			fmt.Printf("%s %s (%v)\n", keyColor("kvm support:"), failColor("error"), err)
			return nil
		}
		fmt.Printf("%s %s\n", keyColor("kvm support:"), yesNo(ok))
		if !ok {
			return nil
		}

		caps, err := kvm.Probe()
		if err != nil {
			return fmt.Errorf("failed to probe capabilities: %w", err)
		}
		fmt.Printf("%s %d\n", keyColor("api version:"), caps.APIVersion)
		fmt.Printf("%s %d\n", keyColor("memory slots:"), caps.MaxSlots)
		fmt.Printf("%s %d\n", keyColor("page size:"), caps.PageSize)
		if caps.IPABits > 0 {
			fmt.Printf("%s %d bits\n", keyColor("max IPA:"), caps.IPABits)
		} else {
			fmt.Printf("%s 40 bits (fixed)\n", keyColor("max IPA:"))
		}
		fmt.Printf("%s %s\n", keyColor("aarch32 EL1:"), yesNo(caps.AArch32EL1))
		return nil
	},
}
