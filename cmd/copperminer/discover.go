package copperminer

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xmarre/Copperminer/pkg/cache"
	"github.com/xmarre/Copperminer/pkg/models"
)

var discoverFullRescan bool

// discoverCmd prints a gallery's category tree without downloading
var discoverCmd = &cobra.Command{
	Use:   "discover <gallery-url>",
	Short: "Discover and print a gallery's album tree",
	Long: `Walk a gallery's category structure and print the tree of
categories and albums, without downloading anything.

The discovered tree is cached, so a following rip of the same gallery
starts from the cached structure and only revisits changed pages.`,
	Args: cobra.ExactArgs(1),
	RunE: runDiscover,
}

// cachedCmd lists galleries with a persisted cache
var cachedCmd = &cobra.Command{
	Use:   "cached",
	Short: "List galleries with a persisted cache",
	RunE:  runCached,
}

func init() {
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(cachedCmd)
	discoverCmd.Flags().BoolVar(&discoverFullRescan, "full-rescan", false, "refetch every page instead of revalidating cached ones")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	session := a.openSession(strings.TrimSpace(args[0]))
	if discoverFullRescan {
		session.ForceRefresh()
	}

	tree, err := session.Discover(ctx)
	if err != nil {
		return fmt.Errorf("discovering gallery: %w", err)
	}
	session.Save()

	printTree(tree, 0)
	return nil
}

func printTree(node *models.GalleryNode, depth int) {
	if node == nil {
		return
	}
	indent := strings.Repeat("  ", depth)
	fmt.Printf("%s%s\n", indent, node.Name)
	for _, album := range node.Albums {
		if album.ImageCount > 0 {
			fmt.Printf("%s  - %s (%d images)\n", indent, album.Name, album.ImageCount)
		} else {
			fmt.Printf("%s  - %s\n", indent, album.Name)
		}
	}
	for _, child := range node.Children {
		printTree(child, depth+1)
	}
}

func runCached(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigOnly()
	if err != nil {
		return err
	}

	galleries := cache.ListCached(cfg.Cache.Dir)
	if len(galleries) == 0 {
		fmt.Println("No cached galleries.")
		return nil
	}
	for _, g := range galleries {
		if g.Title != "" {
			fmt.Printf("%s\t%s\n", g.RootURL, g.Title)
		} else {
			fmt.Println(g.RootURL)
		}
	}
	return nil
}
