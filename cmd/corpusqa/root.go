package main

import (
	"github.com/spf13/cobra"
)

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "corpusqa",
		Short: "Question answering over a local document corpus",
		Long: `corpusqa answers questions against an indexed document corpus using
adaptive retrieval (dense + BM25 with reciprocal rank fusion and
reranking), a multi-stage validated answer cache, and a local or
hosted language model.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (YAML)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newQueryCmd())
	root.AddCommand(newVersionCmd())
	return root
}
