package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/david/grant-scout/internal/api"
	"github.com/david/grant-scout/internal/match"
	"github.com/david/grant-scout/internal/models"
	"github.com/david/grant-scout/internal/pipeline"
	"github.com/david/grant-scout/internal/store"
)

var (
	classifyOut    string
	classifyResume string

	extractOut   string
	extractFrom  string
	forceRefresh bool

	matchExtraction string

	runClassifyOut string
	runExtractOut  string
	runIncludeSeen bool
	runForce       bool
	runResume      string
)

func init() {
	classifyCmd.Flags().StringVar(&classifyOut, "out", "data/classification_results.json", "classification output file")
	classifyCmd.Flags().StringVar(&classifyResume, "resume", "restart", "what to do with a partial output file: reuse, continue or restart")

	extractCmd.Flags().StringVar(&extractOut, "out", "data/extraction_results.json", "extraction output file")
	extractCmd.Flags().StringVar(&extractFrom, "from-classification", "", "take single_grant URLs from a classification output file instead of a URL list")
	extractCmd.Flags().BoolVar(&forceRefresh, "force-refresh", false, "bypass the extraction cache")

	matchCmd.Flags().StringVar(&matchExtraction, "extraction", "data/extraction_results.json", "extraction output file to match against recipients")

	runCmd.Flags().StringVar(&runClassifyOut, "classification-out", "data/classification_results.json", "classification output file")
	runCmd.Flags().StringVar(&runExtractOut, "extraction-out", "data/extraction_results.json", "extraction output file")
	runCmd.Flags().BoolVar(&runIncludeSeen, "include-seen", false, "process URLs already seen by earlier runs")
	runCmd.Flags().BoolVar(&runForce, "force-refresh", false, "bypass the extraction cache")
	runCmd.Flags().StringVar(&runResume, "resume", "restart", "what to do with a partial classification output: reuse, continue or restart")
}

func parseResume(s string) (pipeline.ResumePolicy, error) {
	switch p := pipeline.ResumePolicy(s); p {
	case pipeline.ResumeReuse, pipeline.ResumeContinue, pipeline.ResumeRestart:
		return p, nil
	default:
		return "", fmt.Errorf("invalid resume policy %q: must be reuse, continue or restart", s)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

var classifyCmd = &cobra.Command{
	Use:   "classify <urls-file>",
	Short: "Classify URLs into single_grant, grant_list or other",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resume, err := parseResume(classifyResume)
		if err != nil {
			return err
		}
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		urls, err := readURLs(args[0])
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()
		result, err := a.classifier.Classify(ctx, urls, resume, classifyOut)
		if err != nil {
			return err
		}
		printClassification(result)
		return nil
	},
}

var extractCmd = &cobra.Command{
	Use:   "extract [urls-file]",
	Short: "Extract structured grant records from pages",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		var urls []string
		switch {
		case extractFrom != "":
			var prior pipeline.ClassificationResult
			found, err := store.LoadSnapshot(extractFrom, &prior)
			if err != nil {
				return fmt.Errorf("read classification output: %w", err)
			}
			if !found {
				return fmt.Errorf("classification output %s does not exist", extractFrom)
			}
			for _, cand := range prior.Classifications {
				if cand.Category == models.CategorySingleGrant {
					urls = append(urls, cand.URL)
				}
			}
		case len(args) == 1:
			if urls, err = readURLs(args[0]); err != nil {
				return err
			}
		default:
			return fmt.Errorf("provide a urls-file or --from-classification")
		}

		ctx, cancel := signalContext()
		defer cancel()
		grants := a.orchestrator.ExtractBatch(ctx, urls, forceRefresh, extractOut)
		printGrants(grants)
		return nil
	},
}

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Match extracted grants against recipient keyword profiles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		var snapshot pipeline.ExtractionSnapshot
		found, err := store.LoadSnapshot(matchExtraction, &snapshot)
		if err != nil {
			return fmt.Errorf("read extraction output: %w", err)
		}
		if !found {
			return fmt.Errorf("extraction output %s does not exist", matchExtraction)
		}

		matches, stats := a.matcher.Match(snapshot.Grants)
		printMatches(matches, stats)
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run <urls-file>",
	Short: "Run the full pipeline: classify, extract and match",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resume, err := parseResume(runResume)
		if err != nil {
			return err
		}
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		urls, err := readURLs(args[0])
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()
		report, err := a.pipeline.Run(ctx, urls, pipeline.RunOptions{
			IncludeSeen:        runIncludeSeen,
			ForceRefresh:       runForce,
			Resume:             resume,
			ClassificationPath: runClassifyOut,
			ExtractionPath:     runExtractOut,
		})
		if err != nil {
			return err
		}

		printClassification(report.Classification)
		printGrants(report.Grants)
		printMatches(report.Matches, report.FilterStats)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show persistent store statistics and site profiles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Store", "Entries"})
		t.AppendRow(table.Row{"extraction cache", a.cache.Len()})
		t.AppendRow(table.Row{"seen urls", a.seen.Len()})
		t.AppendRow(table.Row{"delivered notifications", a.sent.TotalDelivered()})
		t.AppendRow(table.Row{"site profiles", len(a.profiles.All())})
		t.Render()

		profiles := a.profiles.All()
		if len(profiles) == 0 {
			return nil
		}
		pt := table.NewWriter()
		pt.SetOutputMirror(os.Stdout)
		pt.AppendHeader(table.Row{"Domain", "Obs", "Deadline Rate", "JS Deadline", "Timeout", "Clicks"})
		for _, p := range profiles {
			pt.AppendRow(table.Row{
				p.Domain, p.Observations,
				fmt.Sprintf("%.2f", p.DeadlineSuccessRate),
				p.HasJSLoadedDeadline,
				p.RecommendedTimeout, p.RecommendedClicks,
			})
		}
		pt.Render()
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the operational HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		srv := api.NewServer(a.pipeline, a.cache, a.seen, a.profiles, a.cfg, a.log)

		ctx, cancel := signalContext()
		defer cancel()
		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			return srv.Shutdown(context.Background())
		}
	},
}

func printClassification(result *pipeline.ClassificationResult) {
	if result == nil {
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Total", "Single Grant", "Grant List", "Other", "Error", "Avg Confidence"})
	t.AppendRow(table.Row{
		result.Stats.TotalLinks,
		result.Stats.SingleGrant,
		result.Stats.GrantList,
		result.Stats.Other,
		result.Stats.Error,
		fmt.Sprintf("%.2f", result.Stats.AvgConfidence),
	})
	t.Render()
}

func printGrants(grants []models.ExtractedGrant) {
	if len(grants) == 0 {
		fmt.Println("no grants extracted")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"URL", "Title", "Deadline", "OK"})
	for _, g := range grants {
		t.AppendRow(table.Row{g.URL, deref(g.Title), deref(g.Deadline), g.ExtractionSuccess})
	}
	t.Render()
}

func printMatches(matches []models.GrantMatch, stats match.FilterStats) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Grants", "Matched", "Already Sent", "Failed Extraction", "Expired Deadline"})
	t.AppendRow(table.Row{
		stats.TotalGrants, stats.MatchedGrants,
		stats.AlreadySent, stats.FailedExtraction, stats.ExpiredDeadline,
	})
	t.Render()

	if len(matches) == 0 {
		return
	}
	mt := table.NewWriter()
	mt.SetOutputMirror(os.Stdout)
	mt.AppendHeader(table.Row{"Grant", "Recipient", "Keywords"})
	for _, m := range matches {
		title := deref(m.Grant.Title)
		if title == "" {
			title = m.Grant.URL
		}
		for _, r := range m.MatchedEmails {
			mt.AppendRow(table.Row{title, r.Email, strings.Join(r.MatchedKeywords, ", ")})
		}
	}
	mt.Render()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
