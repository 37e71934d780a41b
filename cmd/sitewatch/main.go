package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dhruv465/Website-Builder-sub000/internal/cli"
)

var rootCmd = &cobra.Command{Use: "sitewatch"}

func main() {
	cli.SetupCLI(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
