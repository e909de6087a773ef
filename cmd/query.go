package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aurohq/auro-assistant/internal/app"
	"github.com/aurohq/auro-assistant/internal/config"
	"github.com/aurohq/auro-assistant/internal/prompt"
	"github.com/aurohq/auro-assistant/internal/retrieve"
	"github.com/aurohq/auro-assistant/internal/scope"
)

var queryFlags struct {
	tenantID   int64
	project    string
	folderHint string
	showPrompt bool
}

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Run retrieval against the knowledge base",
	Long: `Retrieve grounded context for a question the way the answer flow
would. Prints the retrieved chunks; --prompt assembles and prints the
final intent-routed prompt instead.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return runQuery(strings.Join(args, " "))
	},
}

func init() {
	queryCmd.Flags().Int64Var(&queryFlags.tenantID, "tenant", 0, "tenant ID (required)")
	queryCmd.Flags().StringVar(&queryFlags.project, "project", "", "project ID to scope campaign retrieval")
	queryCmd.Flags().StringVar(&queryFlags.folderHint, "folder", "", "route retrieval to a single folder")
	queryCmd.Flags().BoolVar(&queryFlags.showPrompt, "prompt", false, "print the assembled prompt instead of raw chunks")
	_ = queryCmd.MarkFlagRequired("tenant")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(question string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			a.Logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	sc := scope.Scope{TenantID: queryFlags.tenantID, ProjectID: queryFlags.project}
	chunks, err := a.Retriever.Retrieve(ctx, question, sc, queryFlags.folderHint)
	if err != nil {
		if errors.Is(err, retrieve.ErrNoGrounding) {
			fmt.Println("No grounded context found for this query.")
			return nil
		}
		return fmt.Errorf("retrieving: %w", err)
	}

	if queryFlags.showPrompt {
		intent := a.Prompts.Classify(question)
		var brandContext []string
		if intent == prompt.IntentObjection {
			brandContext = a.Retriever.BrandContext(ctx, question, queryFlags.tenantID)
		}
		rendered, err := a.Prompts.Route(question, chunks, brandContext)
		if err != nil {
			return fmt.Errorf("assembling prompt: %w", err)
		}
		fmt.Printf("Intent: %s\n\n%s\n", intent, rendered)
		return nil
	}

	for i, chunk := range chunks {
		fmt.Printf("--- chunk %d ---\n%s\n\n", i+1, chunk)
	}
	return nil
}
