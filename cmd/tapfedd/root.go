package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tapfedd",
		Short: "TAPFed relayer and aggregation daemon",
	}

	rootCmd.PersistentFlags().String("home", defaultHome(), "node home directory")

	InitRootCmd(rootCmd)

	return rootCmd
}

func defaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tapfed"
	}
	return filepath.Join(home, ".tapfed")
}
