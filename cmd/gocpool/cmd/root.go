package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/daimatz/gocpool/pkg/config"
	"github.com/daimatz/gocpool/pkg/vm"
)

var (
	// Global flags
	configPath string
	verbosity  int
	jmodPath   string
	classPath  string

	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "gocpool",
	Short: "Inspect, resolve and archive JVM constant pools",
	Long: `gocpool loads class files the way a JVM does and works on their run-time
constant pools: it dumps them, resolves every entry, archives the resolved
state into a snapshot and restores it again.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("verbose") {
			c.Log.Verbosity = verbosity
		}
		if jmodPath != "" {
			c.ClassPath.Jmod = jmodPath
		}
		if classPath != "" {
			c.ClassPath.Dir = classPath
		}
		cfg = c

		var logPath *string
		if c.Log.OutputPath != "" {
			logPath = &c.Log.OutputPath
		}
		commonlog.Configure(c.Log.Verbosity, logPath)
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
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ./gocpool.yaml)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity")
	rootCmd.PersistentFlags().StringVar(&jmodPath, "jmod", "", "java.base.jmod used by the boot loader")
	rootCmd.PersistentFlags().StringVar(&classPath, "cp", "", "Directory the app loader reads classes from")

	binName := filepath.Base(os.Args[0])
	rootCmd.Example = `  # Print the constant pool of a class file
  ` + binName + ` dump ./classes/app/Main.class

  # Resolve every entry of app/Main with 8 workers
  ` + binName + ` resolve app/Main --cp ./classes -w 8

  # Archive the resolved pool and restore it
  ` + binName + ` archive app/Main --cp ./classes -o main.cbor
  ` + binName + ` restore main.cbor --cp ./classes`
}

// findJmodPath locates java.base.jmod when none is configured.
func findJmodPath() string {
	if env := os.Getenv("JAVA_BASE_JMOD"); env != "" {
		return env
	}
	if javaHome := os.Getenv("JAVA_HOME"); javaHome != "" {
		p := filepath.Join(javaHome, "jmods", "java.base.jmod")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	matches, _ := filepath.Glob("/usr/lib/jvm/java-*-openjdk-*/jmods/java.base.jmod")
	if len(matches) > 0 {
		return matches[0]
	}
	return ""
}

// newVM builds a VM whose boot loader reads the configured jmod and whose
// app loader reads the configured class directory.
func newVM() (*vm.VM, error) {
	jmod := cfg.ClassPath.Jmod
	if jmod == "" {
		jmod = findJmodPath()
	}
	if jmod == "" {
		return nil, fmt.Errorf("could not find java.base.jmod: set --jmod, JAVA_HOME or JAVA_BASE_JMOD")
	}
	boot := vm.NewJmodClassLoader(jmod)
	return vm.NewVM(boot, vm.NewUserClassLoader(cfg.ClassPath.Dir, boot)), nil
}
