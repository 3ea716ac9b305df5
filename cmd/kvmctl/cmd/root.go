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
	"log/slog"
	"os"

	"github.com/blacktop/go-kvm"
	"github.com/spf13/cobra"
)

var (
	verbose     bool
	showMetrics bool
	device      string
)

var rootCmd = &cobra.Command{
	Use:   "kvmctl",
	Short: "Inspect and exercise the KVM/arm64 control plane",
	Long: `kvmctl probes the host KVM device, creates a single-vCPU VM,
installs guest memory maps and reads vCPU registers.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if !showMetrics {
			return nil
		}
		out, err := json.MarshalIndent(kvm.GetMetrics(), "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal metrics: %w", err)
		}
		fmt.Fprintln(os.Stderr, string(out))
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "V", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&showMetrics, "metrics", false, "Print operation counters as JSON on exit")
	rootCmd.PersistentFlags().StringVar(&device, "device", "/dev/kvm", "KVM device node")
}

// newVM initializes a VM on the selected device.
func newVM(mode kvm.ExecutionMode) (*kvm.VM, error) {
	vm, err := kvm.Initialize(kvm.Config{
		Mode:   mode,
		Device: device,
		Logger: slog.Default(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize VM: %w", err)
	}
	return vm, nil
}

// teardown removes every installed slot and then destroys vm.
func teardown(vm *kvm.VM) error {
	for _, r := range vm.Memory().Regions() {
		if err := vm.Memory().Remove(r.Slot); err != nil {
			return fmt.Errorf("failed to remove slot %d: %w", r.Slot, err)
		}
	}
	return vm.Destroy()
}

// closeVM tears vm down and unmaps its backing memory, reporting failures.
func closeVM(vm *kvm.VM, mem *hostMemory) {
	if err := release(func() error { return teardown(vm) }, mem.free); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
}

// release runs destroy and then unmap. The host memory stays mapped when
// destroy fails, since the kernel may still reference it.
func release(destroy, unmap func() error) error {
	if err := destroy(); err != nil {
		return fmt.Errorf("teardown: %w (host memory left mapped)", err)
	}
	if err := unmap(); err != nil {
		return fmt.Errorf("unmap host memory: %w", err)
	}
	return nil
}
