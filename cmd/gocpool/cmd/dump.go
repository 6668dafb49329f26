package cmd

import (
	"bytes"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/daimatz/gocpool/pkg/classfile"
	"github.com/daimatz/gocpool/pkg/symbol"
)

var printPool bool

var dumpCmd = &cobra.Command{
	Use:   "dump <classfile>",
	Short: "Print the constant pool of a class file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cf, err := classfile.ParseFile(args[0], symbol.NewTable())
		if err != nil {
			return err
		}
		name, _ := cf.ClassName()
		fmt.Fprintf(cmd.OutOrStdout(), "%s (version %d.%d)\n", name, cf.MajorVersion, cf.MinorVersion)
		return cf.ConstantPool.Describe(cmd.OutOrStdout())
	},
}

var bytesCmd = &cobra.Command{
	Use:   "bytes <classfile>",
	Short: "Serialize the constant pool and check that it parses back unchanged",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		symbols := symbol.NewTable()
		cf, err := classfile.ParseFile(args[0], symbols)
		if err != nil {
			return err
		}
		cp := cf.ConstantPool
		out, err := cp.Bytes()
		if err != nil {
			return err
		}
		again, err := classfile.ParseConstantPool(bytes.NewReader(out), uint16(cp.Length()), symbols)
		if err != nil {
			return fmt.Errorf("re-parsing serialized pool: %w", err)
		}
		for i := 1; i < cp.Length(); i++ {
			if a, b := cp.TagAt(i), again.TagAt(i); a != b {
				return fmt.Errorf("entry #%d: tag %s became %s", i, a, b)
			}
		}
		if err := again.Verify(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d entries, %d bytes, round trip ok\n", cp.Length(), len(out))
		if printPool {
			return again.Describe(cmd.OutOrStdout())
		}
		return nil
	},
}

func init() {
	bytesCmd.Flags().BoolVar(&printPool, "print", false, "Print the re-parsed pool")
	rootCmd.AddCommand(dumpCmd, bytesCmd)
}
