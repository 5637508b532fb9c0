package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giantswarm/lab-grader/internal/lab"
	"github.com/giantswarm/lab-grader/internal/prompt"
)

func newListCmd() *cobra.Command {
	var labsDir string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available labs",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			names, err := lab.List(labsDir)
			if err != nil {
				return fmt.Errorf("failed to list labs: %w", err)
			}

			if len(names) == 0 {
				_, _ = fmt.Fprintln(out, "No labs found.")
				return nil
			}

			_, _ = fmt.Fprintf(out, "Available labs:\n\n")
			for _, name := range names {
				l, err := lab.Load(name, labsDir)
				if err != nil {
					_, _ = fmt.Fprintf(out, "  - %s (error loading: %v)\n", name, err)
					continue
				}
				_, _ = fmt.Fprintf(out, "  - %s\n", l.Name)
				_, _ = fmt.Fprintf(out, "    Title: %s\n", l.Experiment.Title)
				if l.Description != "" {
					_, _ = fmt.Fprintf(out, "    Description: %s\n", l.Description)
				}
				_, _ = fmt.Fprintf(out, "    Total score: %s\n", prompt.FormatScore(l.TotalScore()))
				for _, s := range l.Steps {
					_, _ = fmt.Fprintf(out, "      %d. %s (%s points, %d tools)\n",
						s.Index, s.Title, prompt.FormatScore(s.MaxScore), len(s.Tools))
				}
				_, _ = fmt.Fprintln(out)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&labsDir, "labs-dir", "", "External labs directory")

	return cmd
}
