package main

import (
	"github.com/spf13/cobra"

	"github.com/corpusqa/corpusqa/pkg/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the corpusqa version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("corpusqa " + version.String())
		},
	}
}
