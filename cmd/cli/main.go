package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/kurihiro0119/github-repo-archiver/internal/app"
	"github.com/kurihiro0119/github-repo-archiver/internal/config"
	"github.com/kurihiro0119/github-repo-archiver/internal/domain"
	"github.com/kurihiro0119/github-repo-archiver/internal/lifecycle"
	"github.com/kurihiro0119/github-repo-archiver/internal/logging"
	"github.com/kurihiro0119/github-repo-archiver/pkg/client"
)

var (
	cfgFile    string
	outputJSON bool
	remote     bool

	cutoffDate string
	repoType   string

	exemptUntil  string
	exemptMonths int
	exemptReason string
	exemptBy     string

	confirmClear bool
)

var rootCmd = &cobra.Command{
	Use:   "repo-archiver",
	Short: "GitHub stale repository archiver",
	Long: `A CLI tool for finding and archiving stale repositories in a GitHub organization.

Discovery finds repositories whose last push is older than a cutoff date and
tracks them in a ledger. After a grace period, tracked repositories that are
not exempt are archived in batches, and any batch can be undone.`,
	SilenceUsage: true,
}

var discoverCmd = &cobra.Command{
	Use:   "discover [org]",
	Short: "Find stale repositories and start tracking them",
	Args:  cobra.ExactArgs(1),
	RunE:  runDiscover,
}

var reposCmd = &cobra.Command{
	Use:   "repos",
	Short: "List tracked repositories",
	Args:  cobra.NoArgs,
	RunE:  runRepos,
}

var eligibleCmd = &cobra.Command{
	Use:   "eligible",
	Short: "List repositories the next archive pass would archive",
	Args:  cobra.NoArgs,
	RunE:  runEligible,
}

var exemptCmd = &cobra.Command{
	Use:   "exempt [repo]",
	Short: "Exempt a repository from archiving",
	Long:  `Exempt a tracked repository until a date (--until) or for a number of months (--months).`,
	Args:  cobra.ExactArgs(1),
	RunE:  runExempt,
}

var unexemptCmd = &cobra.Command{
	Use:   "unexempt [repo]",
	Short: "Remove a repository's exemption and restart its grace period",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnexempt,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Stop tracking every repository",
	Args:  cobra.NoArgs,
	RunE:  runClear,
}

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Archive every eligible repository as one batch",
	Args:  cobra.NoArgs,
	RunE:  runArchive,
}

var batchesCmd = &cobra.Command{
	Use:   "batches",
	Short: "List archive batches",
	Args:  cobra.NoArgs,
	RunE:  runBatches,
}

var undoCmd = &cobra.Command{
	Use:   "undo [batch-id]",
	Short: "Unarchive the repositories of a batch",
	Args:  cobra.ExactArgs(1),
	RunE:  runUndo,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the ledger and batch summary",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file, .env or .yaml (default is .env)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&remote, "remote", false, "run against the API server at API_ENDPOINT")

	discoverCmd.Flags().StringVar(&cutoffDate, "date", "", "cutoff date (YYYY-MM-DD); repositories last pushed before it are stale")
	discoverCmd.Flags().StringVar(&repoType, "type", domain.RepoTypeAll, "repository type (all, public, private, internal, forks, sources, member)")
	_ = discoverCmd.MarkFlagRequired("date")

	exemptCmd.Flags().StringVar(&exemptUntil, "until", "", "exempt until this date (YYYY-MM-DD)")
	exemptCmd.Flags().IntVar(&exemptMonths, "months", 0, "exempt for this many months")
	exemptCmd.Flags().StringVar(&exemptReason, "reason", "", "reason for the exemption")
	exemptCmd.Flags().StringVar(&exemptBy, "by", "", "who granted the exemption")
	exemptCmd.MarkFlagsMutuallyExclusive("until", "months")
	exemptCmd.MarkFlagsOneRequired("until", "months")

	clearCmd.Flags().BoolVar(&confirmClear, "yes", false, "confirm clearing the ledger")

	rootCmd.AddCommand(discoverCmd, reposCmd, eligibleCmd, exemptCmd, unexemptCmd,
		clearCmd, archiveCmd, batchesCmd, undoCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// withService loads configuration and runs fn against the local or remote service
func withService(cmd *cobra.Command, fn func(ctx context.Context, svc service) error) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	if remote {
		return fn(ctx, client.NewClient(strings.TrimRight(cfg.APIEndpoint, "/")))
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, &localService{App: a})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runDiscover(cmd *cobra.Command, args []string) error {
	org := args[0]
	return withService(cmd, func(ctx context.Context, svc service) error {
		fmt.Fprintf(os.Stderr, "Discovering repositories in %s last pushed before %s...\n", org, cutoffDate)

		result, err := svc.Discover(ctx, org, cutoffDate, repoType)
		if err != nil {
			return fmt.Errorf("discovery failed: %w", err)
		}

		if outputJSON {
			return printJSON(result)
		}

		fmt.Printf("\nStale repositories: %s (cutoff %s)\n", result.Org, result.Cutoff)
		fmt.Printf("First stale page: %d of %d (%d probes)\n\n", result.Cutover.Page, result.Cutover.LastPage, result.Cutover.Probes)

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Repository", "Type", "Last Commit", "Contributors"})
		for _, c := range result.Candidates {
			table.Append([]string{
				c.Name,
				c.Visibility,
				c.LastCommit.String(),
				fmt.Sprintf("%d", len(c.Contributors)),
			})
		}
		table.Render()

		fmt.Printf("\nFound %d stale repositories, %d newly tracked\n", len(result.Candidates), result.Admitted)
		return nil
	})
}

func runRepos(cmd *cobra.Command, args []string) error {
	return withService(cmd, func(ctx context.Context, svc service) error {
		entries, err := svc.Repositories(ctx)
		if err != nil {
			return fmt.Errorf("failed to get repositories: %w", err)
		}
		if outputJSON {
			return printJSON(entries)
		}
		renderTracked(entries)
		return nil
	})
}

func runEligible(cmd *cobra.Command, args []string) error {
	return withService(cmd, func(ctx context.Context, svc service) error {
		entries, err := svc.Eligible(ctx)
		if err != nil {
			return fmt.Errorf("failed to get eligible repositories: %w", err)
		}
		if outputJSON {
			return printJSON(entries)
		}
		if len(entries) == 0 {
			fmt.Println("No repositories are eligible for archiving")
			return nil
		}
		renderTracked(entries)
		return nil
	})
}

func renderTracked(entries []*domain.TrackedRepository) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Repository", "Type", "Last Commit", "Added", "Exempt Until", "Reason", "By"})
	for _, e := range entries {
		until := ""
		if e.IsExempt() {
			until = e.ExemptUntil.String()
		}
		table.Append([]string{
			e.Name,
			e.Type,
			e.LastCommit.String(),
			e.DateAdded.String(),
			until,
			e.ExemptReason,
			e.ExemptBy,
		})
	}
	table.Render()
}

func runExempt(cmd *cobra.Command, args []string) error {
	name := args[0]
	return withService(cmd, func(ctx context.Context, svc service) error {
		entry, err := svc.SetExemption(ctx, name, exemptUntil, exemptMonths, exemptReason, exemptBy)
		if err != nil {
			return fmt.Errorf("failed to exempt %s: %w", name, err)
		}
		if outputJSON {
			return printJSON(entry)
		}
		fmt.Printf("%s is exempt until %s\n", entry.Name, entry.ExemptUntil)
		return nil
	})
}

func runUnexempt(cmd *cobra.Command, args []string) error {
	name := args[0]
	return withService(cmd, func(ctx context.Context, svc service) error {
		entry, err := svc.ClearExemption(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to clear exemption of %s: %w", name, err)
		}
		if outputJSON {
			return printJSON(entry)
		}
		fmt.Printf("%s is no longer exempt; grace period restarted on %s\n", entry.Name, entry.DateAdded)
		return nil
	})
}

func runClear(cmd *cobra.Command, args []string) error {
	if !confirmClear {
		return fmt.Errorf("refusing to clear the ledger without --yes")
	}
	return withService(cmd, func(ctx context.Context, svc service) error {
		if err := svc.ClearRepositories(ctx); err != nil {
			return fmt.Errorf("failed to clear repositories: %w", err)
		}
		fmt.Println("Ledger cleared")
		return nil
	})
}

func runArchive(cmd *cobra.Command, args []string) error {
	return withService(cmd, func(ctx context.Context, svc service) error {
		result, err := svc.Archive(ctx)
		if err != nil {
			return fmt.Errorf("archive failed: %w", err)
		}
		if outputJSON {
			return printJSON(result)
		}

		switch result.Outcome {
		case lifecycle.OutcomeNothingEligible:
			fmt.Println("No repositories are eligible for archiving")
			return nil
		case lifecycle.OutcomeNothingArchived:
			fmt.Println("No repositories were archived")
		default:
			fmt.Printf("Batch %d: archived %d repositories\n", result.Batch.ID, result.Archived)
		}

		renderOutcomes(result.Attempts)
		return nil
	})
}

func renderOutcomes(outcomes []domain.ArchiveOutcome) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Repository", "Status", "Message"})
	for _, o := range outcomes {
		table.Append([]string{o.Name, string(o.Status), o.Message})
	}
	table.Render()
}

func runBatches(cmd *cobra.Command, args []string) error {
	return withService(cmd, func(ctx context.Context, svc service) error {
		batches, err := svc.Batches(ctx)
		if err != nil {
			return fmt.Errorf("failed to get batches: %w", err)
		}
		if outputJSON {
			return printJSON(batches)
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Batch", "Date", "Archived", "Failed", "Repositories"})
		for _, b := range batches {
			names := make([]string, 0, len(b.Repos))
			for _, o := range b.Repos {
				names = append(names, o.Name)
			}
			table.Append([]string{
				fmt.Sprintf("%d", b.ID),
				b.Date.String(),
				fmt.Sprintf("%d", b.Succeeded()),
				fmt.Sprintf("%d", b.Failed()),
				strings.Join(names, ", "),
			})
		}
		table.Render()
		return nil
	})
}

func runUndo(cmd *cobra.Command, args []string) error {
	id, err := strconv.Atoi(args[0])
	if err != nil || id < 1 {
		return fmt.Errorf("invalid batch id %q", args[0])
	}
	return withService(cmd, func(ctx context.Context, svc service) error {
		result, err := svc.Undo(ctx, id)
		if result != nil {
			if outputJSON {
				if jsonErr := printJSON(result); jsonErr != nil {
					return jsonErr
				}
			} else {
				for _, name := range result.Unarchived {
					fmt.Printf("Unarchived %s\n", name)
				}
				fmt.Printf("Batch %d: %d unarchived, %d readmitted, %d remaining\n",
					result.BatchID, len(result.Unarchived), len(result.Readmitted), result.Remaining)
			}
		}
		if err != nil {
			return fmt.Errorf("undo of batch %d failed: %w", id, err)
		}
		return nil
	})
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withService(cmd, func(ctx context.Context, svc service) error {
		summary, err := svc.Summary(ctx)
		if err != nil {
			return fmt.Errorf("failed to get summary: %w", err)
		}
		if outputJSON {
			return printJSON(summary)
		}

		fmt.Printf("\nArchive status (grace period %d days)\n\n", summary.GraceDays)

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Metric", "Value"})
		table.Append([]string{"Tracked", fmt.Sprintf("%d", summary.Tracked)})
		table.Append([]string{"Eligible", fmt.Sprintf("%d", summary.Eligible)})
		table.Append([]string{"Pending", fmt.Sprintf("%d", summary.Pending)})
		table.Append([]string{"Exempt", fmt.Sprintf("%d", summary.Exempt)})
		table.Append([]string{"Batches", fmt.Sprintf("%d", summary.Batches.Batches)})
		table.Append([]string{"Archived", fmt.Sprintf("%d", summary.Batches.Succeeded)})
		table.Append([]string{"Failed", fmt.Sprintf("%d", summary.Batches.Failed)})
		table.Append([]string{"Undone Batches", fmt.Sprintf("%d", summary.Batches.Undone)})
		table.Render()

		if len(summary.Repositories) == 0 {
			return nil
		}
		fmt.Println()
		repos := tablewriter.NewWriter(os.Stdout)
		repos.SetHeader([]string{"Repository", "Last Commit", "Added", "Eligible", "Days Left", "Exempt Until"})
		for _, r := range summary.Repositories {
			until := ""
			if r.ExemptUntil != nil {
				until = r.ExemptUntil.String()
			}
			repos.Append([]string{
				r.Name,
				r.LastCommit.String(),
				r.DateAdded.String(),
				strconv.FormatBool(r.Eligible),
				fmt.Sprintf("%d", r.DaysUntilEligible),
				until,
			})
		}
		repos.Render()
		return nil
	})
}
