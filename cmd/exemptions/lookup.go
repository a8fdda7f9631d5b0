package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Sternrassler/nyc-exemptions/pkg/diagnostics"
	"github.com/Sternrassler/nyc-exemptions/pkg/exemptions"
	"github.com/Sternrassler/nyc-exemptions/pkg/service"
	"github.com/spf13/cobra"
)

type lookupOptions struct {
	boro        string
	block       string
	lot         string
	year        int
	diagnostics bool
}

func newLookupCmd(root *rootOptions) *cobra.Command {
	opts := &lookupOptions{}

	cmd := &cobra.Command{
		Use:   "lookup [PARID]",
		Short: "Look up exemption records for a parcel",
		Example: "  exemptions lookup 1000010001\n" +
			"  exemptions lookup --boro 1 --block 1 --lot 1 --year 2024",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, root, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			var res service.Result
			if len(args) == 1 {
				res, err = a.svc.SearchParcel(ctx, args[0])
			} else {
				res, err = a.svc.SearchBBL(ctx, opts.boro, opts.block, opts.lot)
			}
			if err != nil {
				return err
			}

			view := res.View
			if opts.year != 0 {
				if view, err = a.svc.SelectYear(opts.year); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			renderPluto(out, res)
			renderYears(out, view, a.svc.MinYear(), a.svc.CurrentYear())
			renderView(out, view, a.svc.Codes(ctx), time.Now())

			if opts.diagnostics {
				renderDiagnostics(out, a.hub, a.cfg.AppToken != "", a.svc.CSVSourcesPreview(res.Parcel.String()))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.boro, "boro", "", "borough (1=MN 2=BX 3=BK 4=QN 5=SI)")
	cmd.Flags().StringVar(&opts.block, "block", "", "tax block")
	cmd.Flags().StringVar(&opts.lot, "lot", "", "tax lot")
	cmd.Flags().IntVar(&opts.year, "year", 0, "show a single tax year")
	cmd.Flags().BoolVar(&opts.diagnostics, "diagnostics", false, "print the last upstream request and CSV sources")

	return cmd
}

func renderPluto(w io.Writer, res service.Result) {
	if !res.PlutoFound {
		fmt.Fprintf(w, "PLUTO data not found for BBL %s.\n\n", res.Parcel)
		return
	}

	fmt.Fprintln(w, "Property Details (PLUTO)")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, line := range res.Pluto.Lines() {
		fmt.Fprintf(tw, "  %s:\t%s\n", line.Label, line.Value)
	}
	tw.Flush()
	fmt.Fprintln(w)
}

func renderYears(w io.Writer, view service.View, minYear, maxYear int) {
	options := []string{"All Years"}
	if view.Selection.IsAll() {
		options[0] = "[All Years]"
	}
	for y := maxYear; y >= minYear; y-- {
		label := fmt.Sprint(y)
		if view.Years.Has(y) {
			label += " ✔"
		}
		if view.Selection.Year == y {
			label = "[" + label + "]"
		}
		options = append(options, label)
	}
	fmt.Fprintf(w, "Jump to year: %s\n\n", strings.Join(options, " | "))
}

func renderView(w io.Writer, view service.View, codes exemptions.CodeDescriber, searchedAt time.Time) {
	fmt.Fprintln(w, view.Summary)
	if len(view.Records) == 0 {
		return
	}
	fmt.Fprintf(w, "Searched on %s\n\n", searchedAt.Format("January 2, 2006 at 3:04 PM"))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	headers := make([]string, len(exemptions.DisplayColumns))
	for i, col := range exemptions.DisplayColumns {
		headers[i] = col.Header
	}
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	for _, rec := range view.Records {
		fmt.Fprintln(tw, strings.Join(exemptions.Cells(rec, codes), "\t"))
	}
	tw.Flush()
}

func renderDiagnostics(w io.Writer, hub *diagnostics.Hub, tokenPresent bool, sources string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Diagnostics & Sources")
	fmt.Fprintf(w, "  Token present: %s\n", yesNo(tokenPresent))

	if ev, ok := hub.Last(); ok {
		data, _ := json.MarshalIndent(ev, "  ", "  ")
		fmt.Fprintf(w, "  Last request: %s\n", data)
	}

	fmt.Fprintln(w, "  CSV sources:")
	for _, line := range strings.Split(sources, "\n") {
		fmt.Fprintf(w, "    %s\n", line)
	}
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
