package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tphakala/zonewatch/internal/alerting"
	"github.com/tphakala/zonewatch/internal/datastore"
	"github.com/tphakala/zonewatch/internal/errors"
)

// ErrRulesInvalid is returned by rules check --strict when a rule or origin
// could not be loaded.
var ErrRulesInvalid = errors.NewStd("some active rules cannot be evaluated")

// CheckReport is the result of validating the active rule set.
type CheckReport struct {
	Rules      int                         `json:"rules"`
	Devices    int                         `json:"devices"`
	Skipped    []alerting.SkippedRule      `json:"skipped"`
	Unresolved []alerting.UnresolvedOrigin `json:"unresolved"`
}

// Clean reports whether every active rule and origin loaded.
func (r CheckReport) Clean() bool {
	return len(r.Skipped) == 0 && len(r.Unresolved) == 0
}

func newRulesCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect alert rules",
	}

	var (
		strict bool
		asJSON bool
	)
	check := &cobra.Command{
		Use:   "check",
		Short: "Validate the geometry and origins of every active rule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := opts.loadSettings()
			if err != nil {
				return err
			}
			log, err := newLogger(settings.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), settings, log)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			report, err := checkRules(cmd.Context(), store)
			if err != nil {
				return err
			}
			if err := writeCheckReport(cmd.OutOrStdout(), report, asJSON); err != nil {
				return err
			}
			if strict && !report.Clean() {
				return ErrRulesInvalid
			}
			return nil
		},
	}
	check.Flags().BoolVar(&strict, "strict", false, "exit non-zero when any rule or origin is unusable")
	check.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")

	cmd.AddCommand(check)
	return cmd
}

// checkRules builds a snapshot the way the engine would and reports what
// it had to leave out.
func checkRules(ctx context.Context, store *datastore.Manager) (CheckReport, error) {
	rules, err := store.Rules().ListActive(ctx)
	if err != nil {
		return CheckReport{}, fmt.Errorf("failed to list active rules: %w", err)
	}
	snap, err := alerting.BuildSnapshot(ctx, 1, rules, store.Assets())
	if err != nil {
		return CheckReport{}, err
	}
	return CheckReport{
		Rules:      snap.RuleCount(),
		Devices:    snap.DeviceCount(),
		Skipped:    snap.Skipped(),
		Unresolved: snap.Unresolved(),
	}, nil
}

func writeCheckReport(w io.Writer, r CheckReport, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	fmt.Fprintf(w, "%d rules loaded, %d devices watched\n", r.Rules, r.Devices)
	if r.Clean() {
		fmt.Fprintln(w, "all active rules are usable")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if len(r.Skipped) > 0 {
		fmt.Fprintln(tw, "\nSKIPPED RULE\tNAME\tREASON")
		for _, s := range r.Skipped {
			fmt.Fprintf(tw, "%d\t%s\t%s\n", s.RuleID, s.Name, s.Reason)
		}
	}
	if len(r.Unresolved) > 0 {
		fmt.Fprintln(tw, "\nRULE\tORIGIN\tKIND\tREASON")
		for _, u := range r.Unresolved {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", u.RuleID, u.EntityID, u.Kind, u.Reason)
		}
	}
	return tw.Flush()
}
