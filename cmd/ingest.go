package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aurohq/auro-assistant/internal/app"
	"github.com/aurohq/auro-assistant/internal/config"
	"github.com/aurohq/auro-assistant/internal/ingest"
	"github.com/aurohq/auro-assistant/internal/knowledge"
	"github.com/aurohq/auro-assistant/internal/scope"
)

var ingestFlags struct {
	tenantID int64
	project  string
	folder   string
	docType  string
	source   string
	synced   bool
	url      string
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Index a document or crawl a website into the knowledge base",
	Long: `Index content for a tenant. Pass a text file as the argument, or
--url to crawl a website. Crawled pages are always synced: re-running
the crawl replaces the previous snapshot of each page.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return runIngest(args)
	},
}

func init() {
	ingestCmd.Flags().Int64Var(&ingestFlags.tenantID, "tenant", 0, "tenant ID (required)")
	ingestCmd.Flags().StringVar(&ingestFlags.project, "project", "", "project ID for campaign-scoped content")
	ingestCmd.Flags().StringVar(&ingestFlags.folder, "folder", "", "knowledge folder, e.g. campaign_docs, faqs")
	ingestCmd.Flags().StringVar(&ingestFlags.docType, "type", "", "document type, e.g. brand_story, brochure")
	ingestCmd.Flags().StringVar(&ingestFlags.source, "source", "", "source name (defaults to the file name)")
	ingestCmd.Flags().BoolVar(&ingestFlags.synced, "synced", false, "replace the previous synced version of this scope")
	ingestCmd.Flags().StringVar(&ingestFlags.url, "url", "", "crawl a website instead of reading a file")
	_ = ingestCmd.MarkFlagRequired("tenant")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(args []string) error {
	if ingestFlags.url == "" && len(args) == 0 {
		return errors.New("pass a file to index or --url to crawl")
	}

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

	if ingestFlags.url != "" {
		return crawlWebsite(ctx, a)
	}
	return ingestFile(ctx, a, args[0])
}

func ingestFile(ctx context.Context, a *app.App, path string) error {
	if ingestFlags.folder == "" {
		return errors.New("--folder is required when indexing a file")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	source := ingestFlags.source
	if source == "" {
		source = filepath.Base(path)
	}

	receipt, err := a.Pipeline.Ingest(ctx, ingest.Request{
		Scope: scope.Scope{
			TenantID:  ingestFlags.tenantID,
			ProjectID: ingestFlags.project,
			Folder:    ingestFlags.folder,
		},
		Text:       string(content),
		SourceName: source,
		DocType:    ingestFlags.docType,
		Synced:     ingestFlags.synced,
	})
	if err != nil {
		return fmt.Errorf("indexing %s: %w", path, err)
	}

	fmt.Printf("Indexed %s: document %s, %d/%d chunks\n",
		path, receipt.DocumentID, receipt.ChunksIndexed, receipt.ChunksAttempted)
	return nil
}

// crawlWebsite crawls the configured URL and indexes every page into the
// website folder as synced content keyed by page URL.
func crawlWebsite(ctx context.Context, a *app.App) error {
	pages, err := a.Crawler.Crawl(ctx, ingestFlags.url)
	if err != nil {
		return fmt.Errorf("crawling %s: %w", ingestFlags.url, err)
	}
	if len(pages) == 0 {
		return fmt.Errorf("no readable pages found at %s", ingestFlags.url)
	}

	var indexed, failed int
	for _, page := range pages {
		receipt, err := a.Pipeline.Ingest(ctx, ingest.Request{
			Scope: scope.Scope{
				TenantID: ingestFlags.tenantID,
				Folder:   scope.FolderWebsite,
			},
			Text:       page.Text,
			SourceName: page.URL,
			DocType:    knowledge.TypeWebPage,
			Metadata: map[string]string{
				"url":   page.URL,
				"title": page.Title,
			},
			Synced:  true,
			SyncKey: page.URL,
		})
		if err != nil {
			a.Logger.Warn("page indexing failed", "url", page.URL, "error", err)
			failed++
			continue
		}
		indexed += receipt.ChunksIndexed
	}

	fmt.Printf("Crawled %d pages from %s: %d chunks indexed, %d pages failed\n",
		len(pages), ingestFlags.url, indexed, failed)
	if failed == len(pages) {
		return errors.New("every crawled page failed to index")
	}
	return nil
}
