package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bryanwahyu/threat-modeling-mate/internal/application"
	apptm "github.com/bryanwahyu/threat-modeling-mate/internal/application/threatmodel"
	"github.com/bryanwahyu/threat-modeling-mate/internal/domain/threatmodel"
	"github.com/bryanwahyu/threat-modeling-mate/internal/infra/storage"
)

type analyzeFlags struct {
	output         string
	includeMissing bool
	jsonOutput     bool
}

func (a *App) analyzeCmd() *cobra.Command {
	var f analyzeFlags

	cmd := &cobra.Command{
		Use:   "analyze FILE",
		Short: "Generate a STRIDE threat model for an IaC file",
		Long: `Send FILE to the configured model and print a per-category summary
followed by every reported threat. Use "-" to read from stdin.

The exported inventory is written to --output only when the whole analysis
succeeds.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAnalyze(cmd, args[0], f)
		},
	}
	cmd.Flags().StringVarP(&f.output, "output", "o", storage.ExportFileName, `where to write the exported inventory ("" to skip)`)
	cmd.Flags().BoolVar(&f.includeMissing, "include-missing", false, "list STRIDE categories the model did not report")
	cmd.Flags().BoolVar(&f.jsonOutput, "json", false, "print the full result as JSON instead of tables")
	return cmd
}

func (a *App) runAnalyze(cmd *cobra.Command, file string, f analyzeFlags) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cmd.Flags().Changed("include-missing") {
		cfg.Analysis.IncludeMissingCategories = f.includeMissing
	}

	iac, err := readInput(cmd.InOrStdin(), file)
	if err != nil {
		return err
	}

	svc := &apptm.Service{
		Model:                    a.newInvoker(cfg),
		Clock:                    application.SystemClock{},
		Logger:                   a.logger(cmd, cfg),
		IncludeMissingCategories: cfg.Analysis.IncludeMissingCategories,
	}
	res, err := svc.Analyze(cmd.Context(), apptm.AnalyzeCommand{IaC: iac, Filename: filepath.Base(file)})
	if err != nil {
		return err
	}

	if f.output != "" {
		data, err := res.Inventory.Export()
		if err != nil {
			return fmt.Errorf("encode export: %w", err)
		}
		if err := os.WriteFile(f.output, data, 0o644); err != nil {
			return fmt.Errorf("write export: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	if f.jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printSummary(out, res)
	printDetails(out, res.Inventory)
	if f.output != "" {
		fmt.Fprintf(out, "\nExport written to %s\n", f.output)
	}
	return nil
}

func readInput(stdin io.Reader, file string) ([]byte, error) {
	if file == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}
	return data, nil
}

func printSummary(out io.Writer, res apptm.AnalysisResult) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CATEGORY\tTOTAL\tHIGH\tMEDIUM\tLOW")
	for _, s := range res.Summary {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", s.Category, s.Total, s.High, s.Medium, s.Low)
	}
	t := res.Totals
	_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", "All", t.Total, t.High, t.Medium, t.Low)
	_ = w.Flush()
}

func printDetails(out io.Writer, inv threatmodel.ThreatInventory) {
	for _, ct := range inv.Categories {
		fmt.Fprintf(out, "\n%s\n  %s\n", ct.Category, ct.Category.Description())
		if len(ct.Threats) == 0 {
			fmt.Fprintln(out, "  (no threats reported)")
			continue
		}
		for _, th := range ct.Threats {
			priority := string(th.Priority)
			if priority == "" {
				priority = "unrated"
			}
			fmt.Fprintf(out, "  - %s [%s] %s\n", th.ID, priority, th.Description)
			for _, r := range th.Remediations {
				fmt.Fprintf(out, "      * %s\n", r)
			}
		}
	}
}

func (a *App) categoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List the STRIDE categories the model is asked about",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, c := range threatmodel.StrideCategories() {
				_, _ = fmt.Fprintf(w, "%s\t%s\n", c, c.Description())
			}
			_ = w.Flush()
		},
	}
}
