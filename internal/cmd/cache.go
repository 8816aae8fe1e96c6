package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/laibrary/courier/internal/appdir"
	"github.com/laibrary/courier/internal/cache"
	"github.com/laibrary/courier/internal/logging"
)

var (
	cacheManifest string
	cacheWatch    bool
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the offline resource store",
}

var cacheInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install and activate the resource store from a manifest",
	Long: `Fetches every resource listed in the manifest and commits them to a
versioned local store in one step. If any resource fails to fetch, no
store is committed and any previous store keeps serving. On success,
stores from other versions are deleted.

With --watch (or cache.watch_manifest in the config), the command keeps
running and reinstalls the store whenever the manifest file changes.`,
	RunE: runCacheInstall,
}

func init() {
	cacheInstallCmd.Flags().StringVar(&cacheManifest, "manifest", "",
		"Path to the resource manifest (overrides config)")
	cacheInstallCmd.Flags().BoolVar(&cacheWatch, "watch", false,
		"Keep running and reinstall when the manifest changes")
	cacheCmd.AddCommand(cacheInstallCmd)
	rootCmd.AddCommand(cacheCmd)
}

func runCacheInstall(cmd *cobra.Command, args []string) error {
	manifestPath := cacheManifest
	if manifestPath == "" {
		manifestPath = cfg.Cache.Manifest
	}
	if manifestPath == "" {
		return fmt.Errorf("no manifest configured; pass --manifest or set cache.manifest")
	}

	paths, err := cache.LoadManifest(manifestPath)
	if err != nil {
		return err
	}

	dir := cfg.Cache.Dir
	if dir == "" {
		dir, err = appdir.CacheDir()
		if err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	c := cache.New(dir, cfg.Cache.Version, cfg.Server.URL, paths, logging.Cache())
	defer c.Close()

	if err := c.Install(cmd.Context()); err != nil {
		return err
	}
	if err := c.Activate(); err != nil {
		return err
	}
	fmt.Fprintf(out, "Installed %d resources (version %s) in %s\n",
		len(paths), cfg.Cache.Version, dir)

	if !cacheWatch && !cfg.Cache.WatchManifest {
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.Cache()
	w, err := cache.NewManifestWatcher(manifestPath, func() {
		paths, err := cache.LoadManifest(manifestPath)
		if err != nil {
			logger.Error("Manifest reload failed", "error", err)
			return
		}
		c.SetManifest(paths)
		if err := c.Install(ctx); err != nil {
			logger.Error("Reinstall failed", "error", err)
			return
		}
		if err := c.Activate(); err != nil {
			logger.Error("Activate failed", "error", err)
			return
		}
		fmt.Fprintf(out, "Reinstalled %d resources (version %s)\n",
			len(paths), cfg.Cache.Version)
	}, logger)
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Start(); err != nil {
		return err
	}

	fmt.Fprintln(out, "Watching manifest for changes; Ctrl-C to stop.")
	<-ctx.Done()
	return nil
}
