package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/kozaktomas/face-auth/internal/enroll"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Enroll identities from face images",
	Long: `Enroll a single identity from one or more images, or a batch of identities
from a YAML manifest:

  identities:
    - username: alice
      email: alice@example.com
      images: [alice/front.jpg, alice/left.jpg]

The first image creates the identity, further images add descriptors.
Image paths are relative to the manifest. Requires DATABASE_URL and a
running embedding server.`,
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("username", "", "Username of the identity")
	enrollCmd.Flags().String("email", "", "Email of the identity")
	enrollCmd.Flags().StringSlice("image", nil, "Image file(s) to enroll from")
	enrollCmd.Flags().String("manifest", "", "YAML manifest for batch enrollment")
	enrollCmd.Flags().Int("concurrency", 4, "Number of identities enrolled in parallel")
	enrollCmd.Flags().Bool("json", false, "Output as JSON")
}

// enrollManifest is the batch enrollment file format.
type enrollManifest struct {
	Identities []manifestIdentity `yaml:"identities"`
}

type manifestIdentity struct {
	Username string   `yaml:"username"`
	Email    string   `yaml:"email"`
	Images   []string `yaml:"images"`
}

// enrollResult is the outcome for one identity.
type enrollResult struct {
	Username    string `json:"username"`
	IdentityID  string `json:"identity_id,omitempty"`
	Descriptors int    `json:"descriptors"`
	Error       string `json:"error,omitempty"`
}

// loadManifest parses a manifest and resolves image paths against its directory.
func loadManifest(path string) (*enrollManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m enrollManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	dir := filepath.Dir(path)
	for i := range m.Identities {
		if len(m.Identities[i].Images) == 0 {
			return nil, fmt.Errorf("identity %q has no images", m.Identities[i].Username)
		}
		for j, img := range m.Identities[i].Images {
			if !filepath.IsAbs(img) {
				m.Identities[i].Images[j] = filepath.Join(dir, img)
			}
		}
	}
	return &m, nil
}

// enrollIdentity enrolls one identity from its images.
func enrollIdentity(ctx context.Context, m *enroll.Manager, id manifestIdentity) enrollResult {
	result := enrollResult{Username: id.Username}
	for i, path := range id.Images {
		image, err := os.ReadFile(path)
		if err != nil {
			result.Error = fmt.Sprintf("reading %s: %v", path, err)
			return result
		}
		if i == 0 {
			identity, err := m.EnrollImage(ctx, id.Username, id.Email, image)
			if err != nil {
				result.Error = fmt.Sprintf("%s: %v", filepath.Base(path), err)
				return result
			}
			result.IdentityID = identity.ID
		} else if _, err := m.AddImage(ctx, result.IdentityID, image); err != nil {
			result.Error = fmt.Sprintf("%s: %v", filepath.Base(path), err)
			return result
		}
		result.Descriptors++
	}
	return result
}

func newEnrollProgressBar(count int, jsonOutput bool) *progressbar.ProgressBar {
	if jsonOutput {
		return nil
	}
	return progressbar.NewOptions(count,
		progressbar.OptionSetDescription("Enrolling"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("identities"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)
}

func runEnroll(cmd *cobra.Command, args []string) error {
	manifestPath := mustGetString(cmd, "manifest")
	concurrency := mustGetInt(cmd, "concurrency")
	jsonOutput := mustGetBool(cmd, "json")

	var identities []manifestIdentity
	if manifestPath != "" {
		m, err := loadManifest(manifestPath)
		if err != nil {
			return err
		}
		identities = m.Identities
	} else {
		images := mustGetStringSlice(cmd, "image")
		if len(images) == 0 {
			return fmt.Errorf("either --manifest or --image is required")
		}
		identities = []manifestIdentity{{
			Username: mustGetString(cmd, "username"),
			Email:    mustGetString(cmd, "email"),
			Images:   images,
		}}
	}
	if concurrency < 1 {
		concurrency = 1
	}

	cfg, log := loadConfig()
	defer log.Sync()

	ctx := context.Background()
	svc, err := newServices(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	defer svc.close()

	bar := newEnrollProgressBar(len(identities), jsonOutput)
	results := make([]enrollResult, len(identities))
	var failed int64
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, id := range identities {
		wg.Add(1)
		go func(i int, id manifestIdentity) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			results[i] = enrollIdentity(ctx, svc.enroll, id)
			if results[i].Error != "" {
				atomic.AddInt64(&failed, 1)
			}
			if bar != nil {
				bar.Add(1)
			}
		}(i, id)
	}
	wg.Wait()

	if jsonOutput {
		if err := outputJSON(results); err != nil {
			return err
		}
	} else {
		fmt.Println()
		for _, r := range results {
			if r.Error != "" {
				fmt.Printf("  FAIL %s: %s\n", r.Username, r.Error)
				continue
			}
			fmt.Printf("  OK   %s (%s, %d descriptors)\n", r.Username, r.IdentityID, r.Descriptors)
		}
		fmt.Printf("\nEnrolled: %d, failed: %d\n", int64(len(results))-failed, failed)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d enrollments failed", failed, len(results))
	}
	return nil
}
