package copperminer

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xmarre/Copperminer/internal/downloader"
	"github.com/xmarre/Copperminer/pkg/models"
)

var (
	ripWorkers     int
	ripAlbumFilter []string
	ripFullRescan  bool
)

// ripCmd downloads albums from a gallery root
var ripCmd = &cobra.Command{
	Use:   "rip <gallery-url>",
	Short: "Download albums from a gallery",
	Long: `Discover a gallery's category tree and download its albums.

By default every album in the tree is downloaded. Use --album one or
more times to only download albums whose name contains the given
substring (case-insensitive).

Files already on disk are skipped, so re-running after an interrupted
or partial rip only fetches what is missing.`,
	Args: cobra.ExactArgs(1),
	RunE: runRip,
}

func init() {
	rootCmd.AddCommand(ripCmd)
	ripCmd.Flags().IntVarP(&ripWorkers, "workers", "w", 0, "concurrent download workers")
	ripCmd.Flags().StringSliceVarP(&ripAlbumFilter, "album", "a", nil, "only albums whose name contains this substring")
	ripCmd.Flags().BoolVar(&ripFullRescan, "full-rescan", false, "refetch every page instead of revalidating cached ones")
}

func runRip(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	if ripWorkers > 0 {
		a.cfg.Download.Workers = ripWorkers
	}

	rootURL := strings.TrimSpace(args[0])
	session := a.openSession(rootURL)
	if ripFullRescan {
		session.ForceRefresh()
	}

	tree, err := session.Discover(ctx)
	if err != nil {
		return fmt.Errorf("discovering gallery: %w", err)
	}
	session.Save()

	var tasks []models.DownloadTask
	var albums int
	err = walkAlbums(tree, nil, func(album models.Album, segments []string) error {
		if !albumSelected(album.Name) {
			return nil
		}
		albums++
		albumTasks, err := session.Crawler.AlbumTasks(ctx, album, segments)
		if err != nil {
			a.log.WithError(err).WarnWithFields("Skipping unreadable album",
				map[string]interface{}{"album": album.Name, "url": album.URL})
			return nil
		}
		tasks = append(tasks, albumTasks...)
		return nil
	})
	if err != nil {
		return err
	}
	session.Save()

	if len(tasks) == 0 {
		fmt.Println("Nothing to download.")
		return nil
	}
	fmt.Printf("Downloading %d images from %d albums...\n", len(tasks), albums)

	stats := downloader.Run(ctx, a.newDownloadPool(), tasks, func(r downloader.Result) {
		if r.Outcome == downloader.OutcomeFailed && r.Error != nil {
			fmt.Fprintf(os.Stderr, "failed: %s/%s: %v\n", r.Task.AlbumLabel, r.Task.Name, r.Error)
		}
	})

	downloaded, skipped, errors, bytes := stats.Snapshot()
	fmt.Printf("Done: %d downloaded, %d skipped, %d errors (%.1f MiB)\n",
		downloaded, skipped, errors, float64(bytes)/(1024*1024))
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("interrupted: %w", err)
	}
	return nil
}

// walkAlbums visits every album in the tree with its category path
func walkAlbums(node *models.GalleryNode, segments []string, fn func(models.Album, []string) error) error {
	if node == nil {
		return nil
	}
	path := segments
	if node.Name != "" {
		path = append(append([]string(nil), segments...), node.Name)
	}
	for _, album := range node.Albums {
		if err := fn(album, path); err != nil {
			return err
		}
	}
	for _, child := range node.Children {
		if err := walkAlbums(child, path, fn); err != nil {
			return err
		}
	}
	return nil
}

func albumSelected(name string) bool {
	if len(ripAlbumFilter) == 0 {
		return true
	}
	lower := strings.ToLower(name)
	for _, f := range ripAlbumFilter {
		if strings.Contains(lower, strings.ToLower(f)) {
			return true
		}
	}
	return false
}
