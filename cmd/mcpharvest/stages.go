package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/mcpharvest/harvest"
	"github.com/hazyhaar/mcpharvest/kit"
)

var (
	bold   = color.New(color.Bold)
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
	dim    = color.New(color.Faint)
)

func newRunCmd(flags *globalFlags) *cobra.Command {
	var facet int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run discovery, intake and enrichment once",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(cmd, flags)
			if err != nil {
				return err
			}
			defer svc.Close()

			rep, err := svc.RunOnce(cliContext(cmd), facet)
			if rep != nil {
				if asJSON {
					printJSON(os.Stdout, rep)
				} else {
					printReport(os.Stdout, rep)
				}
			}
			return err
		},
	}
	cmd.Flags().IntVar(&facet, "facet", -1, "facet index for discovery (-1 rotates)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run report as JSON")
	return cmd
}

func newDiscoverCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "discover <facet>",
		Short: "Search GitHub for one language/license facet and queue new repositories",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			i, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("facet %q: %w", args[0], harvest.ErrInvalidFacet)
			}
			svc, err := openService(cmd, flags)
			if err != nil {
				return err
			}
			defer svc.Close()

			res, err := svc.Discover(cliContext(cmd), i)
			if res != nil {
				printDiscovery(os.Stdout, res)
			}
			return err
		},
	}
}

func newIntakeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "intake",
		Short: "Fetch README and metadata for queued repositories and catalog them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(cmd, flags)
			if err != nil {
				return err
			}
			defer svc.Close()

			res, err := svc.Intake(cliContext(cmd))
			if res != nil {
				printIntake(os.Stdout, res)
			}
			return err
		},
	}
}

func newEnrichCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "enrich [server-id]",
		Short: "Write AI summaries and tags for catalogued servers",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var serverID string
			if len(args) == 1 {
				serverID = args[0]
			}
			svc, err := openService(cmd, flags)
			if err != nil {
				return err
			}
			defer svc.Close()

			res, err := svc.Enrich(cliContext(cmd), serverID)
			if res != nil {
				printEnrichment(os.Stdout, res)
			}
			return err
		},
	}
}

func newFacetsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "facets",
		Short: "List the discovery facets (language x license)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(cmd, flags)
			if err != nil {
				return err
			}
			defer svc.Close()

			for _, f := range svc.Facets() {
				fmt.Printf("%3d  %-12s %s\n", f.Index, f.Language, f.License)
			}
			return nil
		},
	}
}

// --- Output ---

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func printReport(w io.Writer, rep *harvest.Report) {
	bold.Fprintf(w, "Pipeline run %s\n", dim.Sprint(rep.Duration.Round(time.Millisecond)))
	if rep.Discovery != nil {
		printDiscovery(w, rep.Discovery)
	}
	if rep.Intake != nil {
		printIntake(w, rep.Intake)
	}
	if rep.Enrichment != nil {
		printEnrichment(w, rep.Enrichment)
	}
}

func printDiscovery(w io.Writer, r *harvest.DiscoverResult) {
	bold.Fprintf(w, "Discovery ")
	dim.Fprintf(w, "facet %d (%s, %s)\n", r.Facet.Index, r.Facet.Language, r.Facet.License)
	fmt.Fprintf(w, "  pages %d, found %d, ", r.Pages, r.Found)
	green.Fprintf(w, "queued %d\n", r.Queued)
}

func printIntake(w io.Writer, r *harvest.IntakeResult) {
	bold.Fprintf(w, "Intake ")
	dim.Fprintf(w, "%d batches, %d claimed\n", r.Batches, r.Claimed)
	green.Fprintf(w, "  catalogued %d", r.Cataloged)
	fmt.Fprintf(w, ", duplicates %d, not found %d, no config %d, malformed %d\n",
		r.Duplicates, r.NotFound, r.NoConfig, r.Malformed)
	printProblems(w, r.Forbidden, r.Errors, r.Aborted)
}

func printEnrichment(w io.Writer, r *harvest.EnrichResult) {
	bold.Fprintf(w, "Enrichment ")
	dim.Fprintf(w, "%d drained\n", r.Drained)
	green.Fprintf(w, "  enriched %d", r.Enriched)
	fmt.Fprintf(w, ", fallback %d, no tags %d, malformed %d\n", r.Fallback, r.NoTags, r.Malformed)
	printProblems(w, r.Forbidden, r.Errors, r.Aborted)
}

func printProblems(w io.Writer, forbidden, errs int, aborted bool) {
	if forbidden > 0 {
		yellow.Fprintf(w, "  forbidden %d\n", forbidden)
	}
	if errs > 0 {
		red.Fprintf(w, "  errors %d\n", errs)
	}
	if aborted {
		red.Fprintln(w, "  aborted: forbidden budget exhausted")
	}
}

// cliContext tags stage runs started from the command line.
func cliContext(cmd *cobra.Command) context.Context {
	return kit.WithTransport(kit.WithTrigger(cmd.Context(), "cli"), "cli")
}
