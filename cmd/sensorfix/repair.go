package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"sensorfix/internal/progress"
	"sensorfix/internal/repair"
)

type repairFlags struct {
	yes       bool
	force     bool
	mandatory bool
	asJSON    bool
}

func newRepairCmd(c *cli) *cobra.Command {
	var flags repairFlags
	cmd := &cobra.Command{
		Use:   "repair [defect...]",
		Short: "Apply the fix for each named defect that is present",
		Long: `repair diagnoses each named defect and applies its fix when the defect is
present. --mandatory instead applies every defect marked for automatic
application during setup, without prompting.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.mandatory && len(args) > 0 {
				return errors.New("--mandatory does not take defect names")
			}
			if !flags.mandatory && len(args) == 0 {
				return errors.New("name at least one defect, or pass --mandatory")
			}

			out := cmd.OutOrStdout()
			// With --json, stdout carries only the results document.
			say := out
			if flags.asJSON {
				say = cmd.ErrOrStderr()
			}
			e, err := c.engine()
			if err != nil {
				return err
			}
			reg, err := c.registry(e, printNotifier{w: say}, nil)
			if err != nil {
				return err
			}
			if e.dryRun {
				fmt.Fprintln(say, dimStyle.Render("dry run against "+c.cfg.Fixture))
			}

			var fixes []*repair.Fix
			if flags.mandatory {
				fixes = reg.Mandatory(cmd.Context())
				flags.yes, flags.force = true, true
			} else if fixes, err = selectFixes(reg, args); err != nil {
				return err
			}

			if !flags.yes && !interactive(cmd.InOrStdin()) {
				return errors.New("no terminal available to confirm repairs (pass --yes)")
			}
			in := bufio.NewReader(cmd.InOrStdin())
			var results []repair.Result
			failed := 0
			for _, f := range fixes {
				if !flags.force && !f.IsNecessary(cmd.Context()) {
					fmt.Fprintf(say, "%s  %s is not present, skipping\n", okStyle.Render("healthy"), f.Name())
					continue
				}
				if !flags.yes && !confirm(in, say, fmt.Sprintf("Apply the %s fix?", f.Name())) {
					fmt.Fprintf(say, "skipped %s\n", f.Name())
					continue
				}

				fmt.Fprintln(say, titleStyle.Render("Repairing "+f.Name()))
				sink := progress.Tee(&progressPrinter{w: say}, progress.LogSink{Log: c.log})
				res := f.Run(cmd.Context(), sink)
				results = append(results, res)
				if !res.OK {
					failed++
				}
				fmt.Fprintf(say, "%s  %s\n", verdict(res.OK, "repaired", "FAILED"), f.Name())
			}

			if flags.asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(results); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d repairs failed", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&flags.yes, "yes", "y", false, "apply without asking for confirmation")
	cmd.Flags().BoolVar(&flags.force, "force", false, "apply even when the defect is not diagnosed")
	cmd.Flags().BoolVar(&flags.mandatory, "mandatory", false, "apply every defect marked for setup-time repair that is present")
	cmd.Flags().BoolVar(&flags.asJSON, "json", false, "print repair results as JSON")
	return cmd
}

// interactive reports whether prompts can be answered. Readers that are not
// files, such as piped test input, count as interactive.
func interactive(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return true
	}
	return term.IsTerminal(int(f.Fd()))
}

func confirm(in *bufio.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N] ", question)
	answer, err := in.ReadString('\n')
	if err != nil && answer == "" {
		fmt.Fprintln(out)
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
