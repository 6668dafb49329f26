package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/daimatz/gocpool/pkg/cpool"
	"github.com/daimatz/gocpool/pkg/symbol"
)

var outputPath string

var archiveCmd = &cobra.Command{
	Use:   "archive <class>",
	Short: "Resolve a class and write its archived constant pool as a snapshot",
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

		archived, stats := k.ConstantPool().Archive(cfg.Archive.Policy())
		data, err := archived.EncodeSnapshot()
		if err != nil {
			return err
		}
		if err := os.WriteFile(outputPath, data, 0o644); err != nil {
			return fmt.Errorf("writing snapshot: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(),
			"%s: %d failed entries; %d of %d classes archived, %d reverted, %d errors dropped, %d references kept; %d bytes written to %s\n",
			k.Name(), report.Failed(), stats.ArchivedKlasses, stats.KlassEntries, stats.RevertedKlasses,
			stats.RevertedErrors, stats.ArchivedReferences, len(data), outputPath)
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <snapshot>",
	Short: "Decode a snapshot and print the restored constant pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		v, err := newVM()
		if err != nil {
			return err
		}
		lookup := func(name *symbol.Symbol) (cpool.Klass, error) {
			return v.Dictionary.ResolveOrFail(name, v.Loader)
		}
		cp, err := cpool.DecodeSnapshot(data, v.Runtime(), lookup)
		if err != nil {
			return err
		}
		if err := cp.Verify(); err != nil {
			return err
		}
		return cp.Describe(cmd.OutOrStdout())
	},
}

func init() {
	archiveCmd.Flags().StringVarP(&outputPath, "output", "o", "snapshot.cbor", "Snapshot file to write")
	rootCmd.AddCommand(archiveCmd, restoreCmd)
}
