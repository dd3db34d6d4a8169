package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/kozaktomas/face-gate/internal/audit"
	"github.com/spf13/cobra"
)

var attemptsCmd = &cobra.Command{
	Use:   "attempts",
	Short: "List recognition attempts, newest first",
	Args:  cobra.NoArgs,
	RunE:  runAttempts,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show gallery and attempt log statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(attemptsCmd)
	rootCmd.AddCommand(statsCmd)

	attemptsCmd.Flags().Int("limit", audit.DefaultPageSize, "Maximum number of attempts to list")
	attemptsCmd.Flags().Int("offset", 0, "Number of attempts to skip")
	attemptsCmd.Flags().Bool("json", false, "Output as JSON")

	statsCmd.Flags().Bool("json", false, "Output as JSON")
}

func outputJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}

type attemptRow struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Outcome    string    `json:"outcome"`
	IdentityID string    `json:"identity_id,omitempty"`
	Score      float64   `json:"similarity_score"`
	Reason     string    `json:"reason,omitempty"`
	DurationMS int64     `json:"processing_time_ms"`
	ProbeRef   string    `json:"probe_image_ref,omitempty"`
}

func runAttempts(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	jsonOutput := mustGetBool(cmd, "json")

	s, err := newServices(ctx, nil, false)
	if err != nil {
		return err
	}
	defer s.Close()

	page, err := s.audit.Recent(ctx, mustGetInt(cmd, "limit"), mustGetInt(cmd, "offset"))
	if err != nil {
		return fmt.Errorf("listing attempts: %w", err)
	}

	rows := make([]attemptRow, 0, len(page.Attempts))
	for _, a := range page.Attempts {
		rows = append(rows, attemptRow{
			ID:         a.ID,
			Timestamp:  a.Timestamp,
			Outcome:    a.Outcome,
			IdentityID: a.IdentityID,
			Score:      a.Score,
			Reason:     a.Reason,
			DurationMS: a.ProcessingDuration.Milliseconds(),
			ProbeRef:   a.ProbeImageRef,
		})
	}

	if jsonOutput {
		return outputJSON(rows)
	}

	if len(rows) == 0 {
		fmt.Println("No attempts recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tOUTCOME\tIDENTITY\tSCORE\tREASON\tMS")
	fmt.Fprintln(w, "----\t-------\t--------\t-----\t------\t--")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.4f\t%s\t%d\n",
			r.Timestamp.Local().Format(time.DateTime), r.Outcome, r.IdentityID, r.Score, r.Reason, r.DurationMS)
	}
	w.Flush()

	fmt.Printf("\nShowing %d-%d of %d attempts\n", page.Offset+1, page.Offset+len(rows), page.Total)
	return nil
}

type statsOutput struct {
	EnrolledIdentities  int     `json:"enrolled_identities"`
	AcceptedToday       int     `json:"accepted_today"`
	FailedAttempts      int     `json:"failed_attempts"`
	TotalAttempts       int     `json:"total_attempts"`
	AvgProcessingTimeMS float64 `json:"avg_processing_time_ms"`
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	jsonOutput := mustGetBool(cmd, "json")

	s, err := newServices(ctx, nil, false)
	if err != nil {
		return err
	}
	defer s.Close()

	st, err := s.audit.Stats(ctx)
	if err != nil {
		return fmt.Errorf("computing stats: %w", err)
	}
	out := statsOutput{
		EnrolledIdentities:  st.EnrolledIdentities,
		AcceptedToday:       st.AcceptedToday,
		FailedAttempts:      st.FailedAttempts,
		TotalAttempts:       st.TotalAttempts,
		AvgProcessingTimeMS: float64(st.AvgProcessingTime) / float64(time.Millisecond),
	}
	if jsonOutput {
		return outputJSON(out)
	}

	fmt.Printf("Backend:             %s\n", s.backend.Name)
	fmt.Printf("Enrolled identities: %d\n", out.EnrolledIdentities)
	fmt.Printf("Accepted today:      %d\n", out.AcceptedToday)
	fmt.Printf("Failed attempts:     %d\n", out.FailedAttempts)
	fmt.Printf("Total attempts:      %d\n", out.TotalAttempts)
	fmt.Printf("Avg processing time: %.1fms\n", out.AvgProcessingTimeMS)
	return nil
}
