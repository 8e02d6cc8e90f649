package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/plugforge/internal/app"
	"github.com/dshills/plugforge/internal/plugin"
	"github.com/dshills/plugforge/internal/plugin/deps"
)

func (c *cli) newDepsCmd() *cobra.Command {
	var language string
	cmd := &cobra.Command{
		Use:   "deps",
		Short: "Inspect and install plugin package requirements",
	}
	cmd.PersistentFlags().StringVarP(&language, "language", "l", "lua", "package ecosystem: lua or javascript")

	lang := func() (plugin.Language, error) {
		l := plugin.ParseLanguage(language)
		if !l.Executable() {
			return "", fmt.Errorf("unsupported language %q", language)
		}
		return l, nil
	}

	check := &cobra.Command{
		Use:   "check <spec>...",
		Short: "Report requirements the installed packages do not satisfy",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := lang()
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(a *app.Application) error {
				missing, err := a.MissingDeps(cmd.Context(), l, args)
				if err != nil {
					return err
				}
				if len(missing) == 0 {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "all requirements satisfied")
					return nil
				}
				for _, spec := range missing {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "missing: %s\n", spec)
				}
				return fmt.Errorf("%d of %d requirements missing", len(missing), len(args))
			})
		},
	}

	install := &cobra.Command{
		Use:   "install <spec>...",
		Short: "Install missing requirements",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := lang()
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(a *app.Application) error {
				report, err := a.InstallDeps(cmd.Context(), l, args)
				if err != nil {
					return err
				}
				if len(report.Installed) == 0 && len(report.Failed) == 0 {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "nothing to install")
				}
				if len(report.Installed) > 0 {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "installed: %s\n", strings.Join(report.Installed, ", "))
				}
				return report.Err()
			})
		},
	}

	var name string
	manifest := &cobra.Command{
		Use:   "manifest <spec>...",
		Short: "Print a requirements file (lua) or package.json (javascript)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := lang()
			if err != nil {
				return err
			}
			if l == plugin.LanguageJavaScript {
				return deps.WritePackageJSON(cmd.OutOrStdout(), name, args)
			}
			return deps.WriteRequirements(cmd.OutOrStdout(), args)
		},
	}
	manifest.Flags().StringVar(&name, "name", "plugforge-plugins", "package name for package.json")

	cmd.AddCommand(check, install, manifest)
	return cmd
}
