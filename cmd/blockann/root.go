package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "blockann",
	Short: "blockann - offline block-store index builder for ANN search",
	Long: `blockann ingests a dense vector corpus and produces the on-disk
artifacts a block-based ANN searcher consumes:

  - a bucketed vector store of fixed-size blocks, one leaf cluster per
    block, built by hierarchical balanced k-means
  - the per-block centroid and global-block-id streams
  - a residual product-quantization codebook and code stream

Configuration priority: CLI flags > environment variables > config file
> defaults. Environment variables use the BLOCKANN_ prefix.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: blockann.yaml in $HOME or the current directory)")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable verbose output")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("blockann")
	}

	viper.SetEnvPrefix("BLOCKANN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}
