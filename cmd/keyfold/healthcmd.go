package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"keyfold/pkg/health"
)

var healthVerbose bool

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Analyze stored passwords for weakness, reuse, and staleness",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := currentSession(cmd)
		if err != nil {
			return err
		}
		defer sess.Wipe()

		creds, err := st.Credentials().ListByOwner(cmd.Context(), sess.Email)
		if err != nil {
			return err
		}

		analyzer := health.NewAnalyzer(logger.Named("health"))
		report, err := analyzer.Analyze(sess.Key, creds, time.Now().UTC())
		if err != nil {
			return err
		}

		fmt.Printf("Analyzed %d credentials (%s)\n\n", report.Total,
			report.GeneratedAt.Format(time.RFC3339))
		fmt.Printf("  Healthy: %d\n", report.Healthy)
		printCount("  Weak:    %d", report.Weak)
		printCount("  Reused:  %d", report.Reused)
		printCount("  Stale:   %d", report.Stale)
		if report.Skipped > 0 {
			color.Red("  Skipped: %d (could not decrypt)", report.Skipped)
		}

		for _, e := range report.Entries {
			flags := entryFlags(e)
			if len(flags) == 0 && !healthVerbose {
				continue
			}
			fmt.Printf("\n%s  %s", shortID(e.ID), e.Title)
			if len(flags) > 0 {
				fmt.Printf("  [%s]", strings.Join(flags, ", "))
			}
			fmt.Println()
			for _, s := range e.Suggestions {
				fmt.Printf("    - %s\n", s)
			}
		}
		return nil
	},
}

func printCount(format string, n int) {
	if n > 0 {
		color.Yellow(format, n)
	} else {
		fmt.Printf(format+"\n", n)
	}
}

func entryFlags(e health.Entry) []string {
	var flags []string
	if e.Level == health.LevelWeak {
		flags = append(flags, "weak")
	}
	if !e.MeetsRequirement {
		flags = append(flags, "too short")
	}
	if e.Reused {
		flags = append(flags, "reused")
	}
	if e.Stale {
		flags = append(flags, fmt.Sprintf("stale %dd", e.AgeDays))
	}
	return flags
}

func init() {
	healthCmd.Flags().BoolVarP(&healthVerbose, "verbose", "v", false, "Show every entry, not only flagged ones")
}
