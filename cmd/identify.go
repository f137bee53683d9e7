package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/kozaktomas/face-auth/internal/database"
	"github.com/kozaktomas/face-auth/internal/facematch"
	"github.com/spf13/cobra"
)

var identifyCmd = &cobra.Command{
	Use:   "identify [image]",
	Short: "Find the enrolled identity that best matches a face image",
	Long: `Extracts a descriptor from the image and searches every enrolled
identity. Meant for operators checking enrollments; logins always verify
against the claimed identity only.`,
	Args: cobra.ExactArgs(1),
	RunE: runIdentify,
}

func init() {
	rootCmd.AddCommand(identifyCmd)

	identifyCmd.Flags().Float64("threshold", 0, "Match threshold (defaults to the policy threshold)")
	identifyCmd.Flags().Bool("json", false, "Output as JSON")
}

type identifyOutput struct {
	IdentityID string  `json:"identity_id,omitempty"`
	Username   string  `json:"username,omitempty"`
	Score      float64 `json:"score"`
	Accepted   bool    `json:"accepted"`
	Reason     string  `json:"reason"`
}

func runIdentify(cmd *cobra.Command, args []string) error {
	threshold := mustGetFloat64(cmd, "threshold")
	jsonOutput := mustGetBool(cmd, "json")

	image, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}

	cfg, log := loadConfig()
	defer log.Sync()
	if threshold > 0 {
		cfg.Policy.Matching.Threshold = threshold
	}

	ctx := context.Background()
	svc, err := newServices(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	defer svc.close()

	capture, err := svc.extractor.Extract(ctx, image)
	if err != nil {
		return fmt.Errorf("extracting descriptor: %w", err)
	}

	index := database.NewDescriptorIndex(facematch.NewMatcher(cfg.Policy.Matching.Threshold))
	if err := index.Sync(ctx, svc.stores.Identities); err != nil {
		return fmt.Errorf("building descriptor index: %w", err)
	}
	result, err := index.Identify(capture.Descriptor)
	if err != nil {
		return err
	}

	out := identifyOutput{
		IdentityID: result.IdentityID,
		Score:      result.Score,
		Accepted:   result.Accepted,
		Reason:     string(result.Reason),
	}
	if result.IdentityID != "" {
		identity, err := svc.stores.Identities.GetIdentity(ctx, result.IdentityID)
		if err != nil {
			return fmt.Errorf("loading identity: %w", err)
		}
		if identity != nil {
			out.Username = identity.Username
		}
	}

	if jsonOutput {
		return outputJSON(out)
	}
	if !out.Accepted {
		fmt.Printf("No match (best score %.3f, threshold %.3f)\n", out.Score, cfg.Policy.Matching.Threshold)
		return nil
	}
	fmt.Printf("Matched %s (%s) with score %.3f\n", out.Username, out.IdentityID, out.Score)
	return nil
}
