package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dshills/plugforge/internal/app"
)

// cli carries state shared by every command.
type cli struct {
	opts       app.Options
	configPath string
}

func newRootCmd(opts app.Options) *cobra.Command {
	c := &cli{opts: opts}

	root := &cobra.Command{
		Use:   "plugforge",
		Short: "Sandboxed plugin host",
		Long: `plugforge takes plugin artifacts (single Lua or JavaScript files, or zip,
tar, tar.gz and tar.lz4 archives), extracts their metadata, installs their
package requirements and runs them in a restricted in-process sandbox with
a hard deadline.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "configuration file (default plugforge.toml)")

	root.AddCommand(
		c.newAnalyzeCmd(),
		c.newInstallCmd(),
		c.newListCmd(),
		c.newInfoCmd(),
		c.newValidateCmd(),
		c.newRunCmd(),
		c.newExecutionsCmd(),
		c.newUninstallCmd(),
		c.newWatchCmd(),
		c.newDepsCmd(),
		newVersionCmd(),
	)
	for _, t := range transitions {
		root.AddCommand(c.newTransitionCmd(t))
	}
	return root
}

// withApp starts the application for one command and closes it afterwards.
func (c *cli) withApp(cmd *cobra.Command, fn func(*app.Application) error) (err error) {
	opts := c.opts
	if c.configPath != "" {
		opts.ConfigPath = c.configPath
	}
	if opts.LogOutput == nil {
		opts.LogOutput = cmd.ErrOrStderr()
	}

	a, err := app.New(opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "plugforge %s\n", version)
			_, _ = fmt.Fprintf(out, "Commit: %s\n", commit)
			_, _ = fmt.Fprintf(out, "Built: %s\n", date)
		},
	}
}
