package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/face-gate/internal/database"
	"github.com/kozaktomas/face-gate/internal/matcher"
	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the persisted HNSW template index",
}

var indexRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the HNSW index from the stored templates",
	Long: `Discard the persisted HNSW index and build a new one from the gallery.
The index is written to HNSW_INDEX_PATH so the next serve can load it.`,
	Args: cobra.NoArgs,
	RunE: runIndexRebuild,
}

var indexStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the persisted index matches the gallery",
	Args:  cobra.NoArgs,
	RunE:  runIndexStatus,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexRebuildCmd)
	indexCmd.AddCommand(indexStatusCmd)
}

var errNoIndexPath = errors.New("HNSW_INDEX_PATH is not set")

func runIndexRebuild(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	s, err := newServices(ctx, nil, false)
	if err != nil {
		return err
	}
	defer s.Close()

	path := s.cfg.Database.HNSWIndexPath
	if path == "" {
		return errNoIndexPath
	}
	if s.gallery.Len() == 0 {
		fmt.Println("Gallery is empty, nothing to index")
		return nil
	}

	fmt.Printf("Rebuilding HNSW index for %d templates...\n", s.gallery.Len())
	start := time.Now()
	h := matcher.NewHNSW(matcher.HNSWOptions{IndexPath: path, MinGallerySize: -1})
	idx, err := h.Rebuild(s.gallery.Snapshot())
	if err != nil {
		return err
	}
	fmt.Printf("Index with %d templates saved to %s in %s\n", idx.Count(), path, time.Since(start).Round(time.Millisecond))
	return nil
}

func runIndexStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	s, err := newServices(ctx, nil, false)
	if err != nil {
		return err
	}
	defer s.Close()

	path := s.cfg.Database.HNSWIndexPath
	if path == "" {
		return errNoIndexPath
	}
	meta, err := database.LoadHNSWMetadata(path)
	if err != nil {
		fmt.Printf("No persisted index at %s: %v\n", path, err)
		return nil
	}

	snap := s.gallery.Snapshot()
	fmt.Printf("Index:   %d templates, max id %d, built %s\n", meta.TemplateCount, meta.MaxTemplateID, meta.BuildTime.Local().Format(time.DateTime))
	fmt.Printf("Gallery: %d templates, max id %d\n", snap.Len(), snap.MaxTemplateID())
	if meta.IsFresh(database.MetadataFor(snap.Templates())) {
		fmt.Println("Index is up to date")
	} else {
		fmt.Println("Index is stale and will be rebuilt on next use; run 'face-gate index rebuild' to do it now")
	}
	return nil
}
