package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/daimatz/gocpool/pkg/vm"
)

var workers int

var resolveCmd = &cobra.Command{
	Use:   "resolve <class>",
	Short: "Load a class and resolve every entry of its constant pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := newVM()
		if err != nil {
			return err
		}
		k, err := v.LoadClass(args[0])
		if err != nil {
			return err
		}
		report, err := resolveAll(cmd, v, k)
		if err != nil {
			return err
		}
		printReport(cmd.OutOrStdout(), report)
		return nil
	},
}

func init() {
	resolveCmd.Flags().IntVarP(&workers, "workers", "w", 0, "Resolve with this many goroutines (default from config)")
	archiveCmd.Flags().IntVarP(&workers, "workers", "w", 0, "Resolve with this many goroutines (default from config)")
	rootCmd.AddCommand(resolveCmd)
}

func resolveAll(cmd *cobra.Command, v *vm.VM, k *vm.InstanceKlass) (*vm.ResolveReport, error) {
	n := cfg.Resolve.Workers
	if cmd.Flags().Changed("workers") {
		n = workers
	}
	return v.ResolveAll(cmd.Context(), k, n)
}

func printReport(w io.Writer, report *vm.ResolveReport) {
	for _, e := range report.Entries {
		if e.Err != nil {
			fmt.Fprintf(w, "#%-4d %-20s error: %v\n", e.Index, e.Tag, e.Err)
			continue
		}
		fmt.Fprintf(w, "#%-4d %-20s %v\n", e.Index, e.Tag, e.Value)
	}
	for _, e := range report.CallSites {
		if e.Err != nil {
			fmt.Fprintf(w, "indy %-3d error: %v\n", e.Index, e.Err)
			continue
		}
		fmt.Fprintf(w, "indy %-3d %v\n", e.Index, e.Value)
	}
	fmt.Fprintf(w, "%d entries, %d call sites, %d failed\n", len(report.Entries), len(report.CallSites), report.Failed())
}
