package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"sensorfix/internal/repair"
)

func newDiagnoseCmd(c *cli) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "diagnose [defect...]",
		Short: "Report which defects are present without changing anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := c.engine()
			if err != nil {
				return err
			}
			reg, err := c.registry(e, printNotifier{w: cmd.ErrOrStderr()}, nil)
			if err != nil {
				return err
			}
			fixes, err := selectFixes(reg, args)
			if err != nil {
				return err
			}

			diags := make([]repair.Diagnosis, 0, len(fixes))
			for _, f := range fixes {
				d, err := f.Diagnose(cmd.Context())
				if err != nil {
					return fmt.Errorf("diagnose %s: %w", f.Name(), err)
				}
				diags = append(diags, d)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(diags)
			}
			for i, d := range diags {
				fmt.Fprintf(out, "%s  %s\n", verdict(!d.Necessary, "healthy", "DEFECT"), fixes[i].Name())
				if desc := fixes[i].Defect().Description; desc != "" {
					fmt.Fprintf(out, "    %s\n", dimStyle.Render(desc))
				}
				for _, line := range diagnosisDetail(d) {
					fmt.Fprintf(out, "    %s\n", line)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print diagnoses as JSON")
	return cmd
}

func diagnosisDetail(d repair.Diagnosis) []string {
	var out []string
	if len(d.Offenders) > 0 {
		out = append(out, "driverless nodes: "+strings.Join(d.Offenders, ", "))
	}
	if d.MinRoleNodes > 0 {
		out = append(out, fmt.Sprintf("sensor functions bound: %d of %d", d.RoleNodes, d.MinRoleNodes))
	}
	switch {
	case d.ProbeStatus != "":
		out = append(out, "runtime status: "+d.ProbeStatus)
	case d.ProbeError != "":
		out = append(out, "runtime status: "+d.ProbeError)
	}
	return out
}

// selectFixes resolves names in argument order, or every registered fix
// when names is empty.
func selectFixes(reg *repair.Registry, names []string) ([]*repair.Fix, error) {
	if len(names) == 0 {
		return reg.All(), nil
	}
	out := make([]*repair.Fix, 0, len(names))
	for _, name := range names {
		f, ok := reg.Get(name)
		if !ok {
			return nil, fmt.Errorf("unknown defect %q (known: %s)", name, strings.Join(reg.Names(), ", "))
		}
		out = append(out, f)
	}
	return out, nil
}
