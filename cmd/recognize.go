package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/kozaktomas/face-gate/internal/recognition"
	"github.com/spf13/cobra"
)

var recognizeCmd = &cobra.Command{
	Use:   "recognize <image>",
	Short: "Identify the face in an image against the gallery",
	Long: `Run one recognition attempt. The attempt is written to the audit log
exactly as an API call would be.`,
	Args: cobra.ExactArgs(1),
	RunE: runRecognize,
}

func init() {
	rootCmd.AddCommand(recognizeCmd)

	recognizeCmd.Flags().Bool("json", false, "Output as JSON")
	recognizeCmd.Flags().Bool("issue-token", false, "Print an access token when the match is accepted")
}

type recognizeOutput struct {
	Outcome      string  `json:"outcome"`
	IdentityID   string  `json:"identity_id,omitempty"`
	Score        float64 `json:"similarity_score"`
	Reason       string  `json:"reason,omitempty"`
	Error        string  `json:"error,omitempty"`
	AttemptID    string  `json:"attempt_id"`
	DurationMS   int64   `json:"processing_time_ms"`
	AccessToken  string  `json:"access_token,omitempty"`
	RefreshToken string  `json:"refresh_token,omitempty"`
}

func runRecognize(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	jsonOutput := mustGetBool(cmd, "json")
	issueToken := mustGetBool(cmd, "issue-token")

	image, err := readImageFile(args[0])
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}

	s, err := newServices(ctx, nil, false)
	if err != nil {
		return err
	}
	defer s.Close()

	if issueToken && s.issuer == nil {
		return fmt.Errorf("--issue-token requires JWT_SIGNING_KEY")
	}

	out, err := s.orchestrator.Recognize(ctx, recognition.Request{
		Image:    image,
		ImageRef: filepath.Base(args[0]),
	})
	if err != nil {
		return fmt.Errorf("recognition failed: %w", err)
	}

	result := recognizeOutput{
		Outcome:    out.Kind,
		IdentityID: out.IdentityID,
		Score:      out.Score,
		Reason:     out.Reason,
		Error:      out.ErrorKind,
		AttemptID:  out.AttemptID,
		DurationMS: out.Duration.Milliseconds(),
	}
	if issueToken && out.Accepted() {
		tokens, err := s.issuer.Issue(out.IdentityID, out.AttemptID)
		if err != nil {
			return fmt.Errorf("issuing token: %w", err)
		}
		result.AccessToken = tokens.Access
		result.RefreshToken = tokens.Refresh
	}

	if jsonOutput {
		return outputJSON(result)
	}

	switch {
	case out.Accepted():
		fmt.Printf("Accepted: %s (similarity %.4f)\n", out.IdentityID, out.Score)
	case out.ErrorKind != "":
		fmt.Printf("%s: %s\n", out.Kind, out.ErrorKind)
	case out.Reason != "":
		fmt.Printf("%s: %s (best similarity %.4f)\n", out.Kind, out.Reason, out.Score)
	default:
		fmt.Printf("%s\n", out.Kind)
	}
	fmt.Printf("Attempt %s, %dms\n", out.AttemptID, out.Duration.Milliseconds())
	if result.AccessToken != "" {
		fmt.Printf("Access token:  %s\n", result.AccessToken)
		fmt.Printf("Refresh token: %s\n", result.RefreshToken)
	}
	return nil
}
