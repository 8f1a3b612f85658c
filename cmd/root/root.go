// Package root is the shared cobra root command both rgbds-go binaries
// mount their subcommand under, mirroring cmd/root.go's RootCmd/Execute/
// initConfig pattern (cobra + viper, a `~/.rgbds.yaml` config file).
package root

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// Cmd is the base command; rgbasm/rgblink each register themselves onto
// it from their own package's init().
var Cmd = &cobra.Command{
	Use:   "rgbds-go",
	Short: "An assembler and linker toolchain for the Sharp LR35902",
	Long: `rgbds-go compiles assembly source for the Game Boy CPU into relocatable
object files, and links object files into a final ROM image.

This CLI is the entry point for the rgbasm and rgblink subcommands.`,
}

// Execute runs the root command, exiting with status 1 on any error.
// Called once from main.main().
func Execute() {
	if err := Cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	Cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.rgbds.yaml)")
	cobra.OnInitialize(initConfig)
}

// initConfig loads the config file (--config, or $HOME/.rgbds.yaml) and
// RGBDS_-prefixed environment variables into viper. The rgbasm and
// rgblink flags do not read these values.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".rgbds")
	}

	viper.SetEnvPrefix("RGBDS")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
