package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/corpusqa/corpusqa/internal/config"
	"github.com/corpusqa/corpusqa/internal/engine"
	"github.com/corpusqa/corpusqa/internal/logging"
	"github.com/corpusqa/corpusqa/internal/search"
)

func newQueryCmd() *cobra.Command {
	var (
		sessionID string
		strategy  string
		explain   bool
	)

	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Answer a single question from the command line",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, strings.Join(args, " "), sessionID, strategy, explain)
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "conversation session id")
	cmd.Flags().StringVar(&strategy, "strategy", "", "force a retrieval strategy (simple_dense, hybrid_reranked, advanced_expanded)")
	cmd.Flags().BoolVar(&explain, "explain", false, "print the retrieval explanation")
	return cmd
}

func runQuery(cmd *cobra.Command, question, sessionID, strategy string, explain bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, cleanup, err := logging.Setup(cfg.Logging)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.engine.Query(ctx, engine.Request{
		Query:     question,
		SessionID: sessionID,
		Strategy:  search.Strategy(strategy),
	})
	if err != nil {
		return err
	}

	cmd.Println(result.Answer.Text)
	cmd.Println()
	if result.Cached {
		cmd.Printf("(cached: %s stage)\n", result.CacheStage)
	}
	cmd.Printf("Confidence: %.2f  Strategy: %s\n", result.Answer.Confidence, result.Answer.Strategy)
	for _, cit := range result.Answer.Citations {
		cmd.Printf("  [%d] %s (page %d, score %.3f)\n", cit.Index, cit.SourcePath, cit.Page, cit.Score)
	}

	if explain {
		cmd.Println()
		cmd.Println(result.Explanation.Reasoning)
		if len(result.Explanation.SynonymsApplied) > 0 {
			cmd.Printf("Synonyms applied: %s\n", strings.Join(result.Explanation.SynonymsApplied, ", "))
		}
		if result.Explanation.ExpandedQuery != "" {
			cmd.Printf("Expanded query: %s\n", result.Explanation.ExpandedQuery)
		}
		for _, w := range result.Explanation.Warnings {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s\n", w)
		}
	}
	return nil
}
