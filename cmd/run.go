package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/EmiliosRichards/phone-validation-pipeline/internal/config"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/extractor"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/fetch"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/input"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/journey"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/llm"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/pipeline"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/report"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/scraper"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/store"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/urlnorm"
	"github.com/EmiliosRichards/phone-validation-pipeline/pkg/anthropic"
)

var runUseHTTPFetcher bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process the input table and write all reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runPipeline(ctx, cfg)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runUseHTTPFetcher, "http-fetcher", false, "fetch with plain HTTP instead of the headless browser")
	rootCmd.AddCommand(runCmd)
}

func runPipeline(ctx context.Context, cfg *config.Config) error {
	runID := pipeline.NewRunID(time.Now())
	runDir := filepath.Join(cfg.Output.BaseDir, runID)

	textDir := filepath.Join(runDir, "scraped_content", "cleaned_pages_text")
	llmContextDir := filepath.Join(runDir, "llm_context")
	for _, dir := range []string{textDir, llmContextDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "run: create %s", dir)
		}
	}

	if err := writeRunManifest(cfg, runDir); err != nil {
		zap.L().Warn("run: failed to write config snapshot", zap.Error(err))
	}

	zap.L().Info("run: starting",
		zap.String("run_id", runID),
		zap.String("input", cfg.Input.ExcelFilePath),
		zap.String("output_dir", runDir),
	)

	rowRange, err := config.ParseRowRange(cfg.Input.RowProcessingRange)
	if err != nil {
		zap.L().Warn("run: invalid row processing range, processing all rows",
			zap.String("range", cfg.Input.RowProcessingRange),
			zap.Error(err),
		)
		rowRange = config.RowRange{}
	}

	rows, err := input.ReadRows(cfg.Input.ExcelFilePath, input.Options{
		ProfileName:              cfg.Input.ProfileName,
		Range:                    rowRange,
		ConsecutiveEmptyRowsStop: cfg.Input.ConsecutiveEmptyRowsStop,
	})
	if err != nil {
		return err
	}

	st, err := store.NewSQLite(filepath.Join(runDir, "run_cache.db"), runID)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	var engine fetch.Fetcher
	if runUseHTTPFetcher {
		engine = fetch.NewHTTPFetcher(cfg.Scraper)
	} else {
		browser := fetch.NewBrowserFetcher(cfg.Scraper, cfg.Pipeline.MaxInflightFetches)
		defer browser.Close()
		engine = browser
	}

	var robots *fetch.RobotsCache
	if cfg.Scraper.RespectRobotsTxt {
		robots = fetch.NewRobotsCache(cfg.Scraper.RobotsTxtUserAgent)
	}
	client := fetch.NewClient(engine, robots, cfg.Scraper)

	crawler := scraper.NewCrawler(client, st, cfg.Scraper, textDir, cfg.Output.FilenameCompanyNameMaxLen)
	regex := extractor.New(cfg.Scraper.SnippetChars, cfg.Scraper.MaxIdenticalNumbersPerPage)

	template, err := llm.LoadPromptTemplate(cfg.LLM.PromptTemplatePath)
	if err != nil {
		return err
	}
	llmClient := llm.NewAnthropicClient(anthropic.NewClient(cfg.LLM.APIKey), cfg.LLM)
	llmx := llm.NewExtractor(llmClient, template, cfg.LLM, llmContextDir)

	tracker := journey.NewTracker()
	normalizer := urlnorm.New(nil, cfg.Scraper.URLProbingTLDs)

	p := pipeline.New(cfg, normalizer, crawler, regex, llmx, st, tracker, runID)
	data, err := p.Run(ctx, rows)
	if err != nil {
		return err
	}

	writer := report.NewWriter(runDir, cfg.Output.ExcelFileNameTemplate, runID)
	if err := writer.WriteAll(data); err != nil {
		return err
	}

	zap.L().Info("run: complete",
		zap.String("run_id", runID),
		zap.Int("rows", len(data.Rows)),
		zap.Int("domains", len(data.Domains)),
	)
	return nil
}

// writeRunManifest snapshots the effective configuration into the run
// directory.
func writeRunManifest(cfg *config.Config, runDir string) error {
	redacted := *cfg
	if redacted.LLM.APIKey != "" {
		redacted.LLM.APIKey = "[redacted]"
	}

	data, err := yaml.Marshal(&redacted)
	if err != nil {
		return eris.Wrap(err, "run: marshal config")
	}
	return eris.Wrap(
		os.WriteFile(filepath.Join(runDir, "config_used.yaml"), data, 0o644),
		"run: write config snapshot",
	)
}
