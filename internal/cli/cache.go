package cli

import (
	"github.com/spf13/cobra"

	"github.com/matzehuels/pkgrestore/internal/config"
	"github.com/matzehuels/pkgrestore/pkg/cache"
)

// cacheCommand creates the cache management command.
func (c *CLI) cacheCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the feed response cache",
	}
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "settings file")
	cmd.PersistentFlags().String("cache-dir", "", "directory for the file cache")

	cmd.AddCommand(c.cacheClearCommand(&configFile))
	cmd.AddCommand(c.cachePathCommand(&configFile))

	return cmd
}

// fileCacheDir resolves the file cache directory from settings in the
// working directory, the --config file and --cache-dir.
func fileCacheDir(cmd *cobra.Command, configFile string) (string, error) {
	cfg, err := config.Load(config.LoadOptions{ConfigFile: configFile, Dir: ".", Flags: cmd.Flags()})
	if err != nil {
		return "", err
	}
	return cfg.CacheDir, nil
}

// cacheClearCommand creates the "cache clear" subcommand.
func (c *CLI) cacheClearCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear all cached feed responses",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := fileCacheDir(cmd, *configFile)
			if err != nil {
				return err
			}
			fc, err := cache.NewFileCache(dir)
			if err != nil {
				return err
			}
			if err := fc.Clear(); err != nil {
				return err
			}

			printSuccess(c.Out, "Cleared feed cache")
			printDetail(c.Out, "Directory: %s", dir)
			return nil
		},
	}
}

// cachePathCommand creates the "cache path" subcommand.
func (c *CLI) cachePathCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the cache directory path",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := fileCacheDir(cmd, *configFile)
			if err != nil {
				return err
			}
			_, err = c.Out.Write([]byte(dir + "\n"))
			return err
		},
	}
}
