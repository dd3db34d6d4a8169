package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/kozaktomas/face-gate/internal/constants"
	"github.com/kozaktomas/face-gate/internal/enrollment"
	"github.com/kozaktomas/face-gate/internal/facegate"
	"github.com/kozaktomas/face-gate/internal/facematch"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <identity> <image>",
	Short: "Enroll or replace the reference face of an identity",
	Long: `Extract the face from an image and store it as the identity's template.
An existing template is replaced. When the image contains several faces, pick
one with --bbox x1,y1,x2,y2 in source pixels.`,
	Args: cobra.ExactArgs(2),
	RunE: runEnroll,
}

var enrollDirCmd = &cobra.Command{
	Use:   "enroll-dir <dir>",
	Short: "Enroll every image in a directory, one identity per file",
	Long: `Enroll all images in a directory. The identity is derived from the file
name: "Jan Novák.jpg" enrolls "Jan-Novak". Images without exactly one face are
reported and skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: runEnrollDir,
}

var unenrollCmd = &cobra.Command{
	Use:   "unenroll <identity>",
	Short: "Remove the template of an identity",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnenroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)
	rootCmd.AddCommand(enrollDirCmd)
	rootCmd.AddCommand(unenrollCmd)

	enrollCmd.Flags().String("bbox", "", "Face to enroll when the image has several, as x1,y1,x2,y2")

	enrollDirCmd.Flags().Int("concurrency", constants.EnrollWorkers, "Number of parallel enrollments")
	enrollDirCmd.Flags().Bool("dry-run", false, "List the identities that would be enrolled")
}

// readImageFile reads an image from disk, refusing files above MaxImageFileSize.
func readImageFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > constants.MaxImageFileSize {
		return nil, fmt.Errorf("%s is %d bytes, limit is %d", path, info.Size(), constants.MaxImageFileSize)
	}
	return os.ReadFile(path)
}

func parseBBoxFlag(s string) ([]float64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("--bbox needs 4 comma-separated values, got %d", len(parts))
	}
	bbox := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("--bbox value %q: %w", p, err)
		}
		bbox[i] = v
	}
	return bbox, nil
}

func runEnroll(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	identity, path := args[0], args[1]

	bbox, err := parseBBoxFlag(mustGetString(cmd, "bbox"))
	if err != nil {
		return err
	}
	image, err := readImageFile(path)
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}

	s, err := newServices(ctx, nil, false)
	if err != nil {
		return err
	}
	defer s.Close()

	_, replaced := s.gallery.Get(identity)
	t, err := s.enrollment.Enroll(ctx, identity, image, enrollment.Options{
		SelectBBox:     bbox,
		SourceImageRef: filepath.Base(path),
	})
	if err != nil {
		return fmt.Errorf("enrolling %s: %w", identity, err)
	}

	action := "Enrolled"
	if replaced {
		action = "Re-enrolled"
	}
	fmt.Printf("%s %s (template %d, %d dimensions, model %s)\n", action, t.IdentityID, t.ID, t.Dim(), t.Model)
	return nil
}

// dirEntry is one image file in an enroll-dir run.
type dirEntry struct {
	path     string
	identity string
}

func scanImageDir(dir string) ([]dirEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []dirEntry
	for _, e := range entries {
		if e.IsDir() || !constants.ImageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		id, err := facematch.NormalizeIdentityID(facematch.IdentityFileStem(e.Name()))
		if err != nil {
			fmt.Printf("Skipping %s: %v\n", e.Name(), err)
			continue
		}
		out = append(out, dirEntry{path: filepath.Join(dir, e.Name()), identity: id})
	}
	return out, nil
}

func enrollFile(ctx context.Context, s *services, f dirEntry) error {
	image, err := readImageFile(f.path)
	if err != nil {
		return err
	}
	_, err = s.enrollment.Enroll(ctx, f.identity, image, enrollment.Options{SourceImageRef: filepath.Base(f.path)})
	return err
}

func runEnrollDir(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	concurrency := mustGetInt(cmd, "concurrency")
	dryRun := mustGetBool(cmd, "dry-run")

	files, err := scanImageDir(args[0])
	if err != nil {
		return fmt.Errorf("reading directory: %w", err)
	}
	if len(files) == 0 {
		fmt.Println("No images found")
		return nil
	}

	if dryRun {
		for _, f := range files {
			fmt.Printf("%s\t%s\n", f.identity, filepath.Base(f.path))
		}
		fmt.Printf("\n%d images would be enrolled\n", len(files))
		return nil
	}

	s, err := newServices(ctx, nil, false)
	if err != nil {
		return err
	}
	defer s.Close()

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetDescription("Enrolling"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	var (
		mu       sync.Mutex
		failures = map[string]error{}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))
	for _, f := range files {
		g.Go(func() error {
			defer bar.Add(1)
			err := enrollFile(gctx, s, f)
			if err != nil {
				mu.Lock()
				failures[filepath.Base(f.path)] = err
				mu.Unlock()
			}
			// One bad image must not stop the rest, only lost storage does.
			if errors.Is(err, facegate.ErrStoreUnavailable) {
				return err
			}
			return nil
		})
	}
	groupErr := g.Wait()
	fmt.Println()

	if len(failures) > 0 {
		names := make([]string, 0, len(failures))
		for name := range failures {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Printf("Failed to enroll %d images:\n", len(failures))
		for _, name := range names {
			fmt.Printf("  %s: %v\n", name, failures[name])
		}
	}
	fmt.Printf("Enrolled %d of %d images, gallery has %d identities\n", len(files)-len(failures), len(files), s.gallery.Len())
	return groupErr
}

func runUnenroll(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	s, err := newServices(ctx, nil, false)
	if err != nil {
		return err
	}
	defer s.Close()

	if _, ok := s.gallery.Get(args[0]); !ok {
		fmt.Printf("%s is not enrolled\n", args[0])
		return nil
	}
	if err := s.enrollment.Unenroll(ctx, args[0]); err != nil {
		return fmt.Errorf("unenrolling %s: %w", args[0], err)
	}
	fmt.Printf("Removed %s, gallery has %d identities\n", args[0], s.gallery.Len())
	return nil
}
