package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/plugforge/internal/app"
	"github.com/dshills/plugforge/internal/plugin"
	"github.com/dshills/plugforge/internal/plugin/loader"
	"github.com/dshills/plugforge/internal/store"
)

func (c *cli) newAnalyzeCmd() *cobra.Command {
	var save bool
	cmd := &cobra.Command{
		Use:   "analyze <artifact>",
		Short: "Extract and print a plugin descriptor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(a *app.Application) error {
				d, err := a.Analyze(cmd.Context(), args[0], save)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), d)
			})
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "record the descriptor in the store")
	return cmd
}

func (c *cli) newInstallCmd() *cobra.Command {
	var approve bool
	cmd := &cobra.Command{
		Use:   "install <artifact>",
		Short: "Install an approved plugin and its requirements",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(a *app.Application) error {
				res, err := a.Install(cmd.Context(), args[0], approve)
				if err != nil {
					return err
				}
				d := res.Descriptor
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "installed %s@%s (%s) in %s\n", d.ID, d.Version, res.State, res.Dir)
				if res.DepsErr != nil {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "warning: requirements not installed: %v\n", res.DepsErr)
				}
				if res.Deps == nil {
					return nil
				}
				if len(res.Deps.Installed) > 0 {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "dependencies installed: %s\n", strings.Join(res.Deps.Installed, ", "))
				}
				for _, derr := range res.Deps.Errors {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", derr)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&approve, "approve", false, "approve a newly analyzed plugin before installing")
	return cmd
}

func (c *cli) newListCmd() *cobra.Command {
	var state, category, language string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := store.Filter{Category: category, Language: plugin.ParseLanguage(language)}
			if language == "" {
				filter.Language = ""
			}
			if state != "" {
				s, err := plugin.ParseState(state)
				if err != nil {
					return err
				}
				filter.State = &s
			}
			return c.withApp(cmd, func(a *app.Application) error {
				entries, err := a.Store().ListDescriptors(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no plugins")
					return nil
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(tw, "ID\tVERSION\tSTATE\tLANGUAGE\tCATEGORY")
				for _, e := range entries {
					d := e.Descriptor
					_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.ID, d.Version, e.State, d.Language, d.Category)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "only plugins in this state")
	cmd.Flags().StringVar(&category, "category", "", "only plugins in this category")
	cmd.Flags().StringVar(&language, "language", "", "only plugins in this language (lua, javascript, shell)")
	return cmd
}

// infoView is the descriptor plus registry status.
type infoView struct {
	*plugin.Descriptor
	State  string `json:"state"`
	Loaded bool   `json:"loaded"`
}

func (c *cli) newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <id>",
		Short: "Show a plugin's descriptor and state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return c.withApp(cmd, func(a *app.Application) error {
				_, loaded := a.Loader().Get(id)
				view := infoView{Loaded: loaded}
				entry, err := a.Store().Get(cmd.Context(), id)
				switch {
				case err == nil:
					view.Descriptor, view.State = entry.Descriptor, entry.State.String()
				case errors.Is(err, plugin.ErrPluginNotFound):
					d, lerr := a.Loader().Info(id)
					if lerr != nil {
						return lerr
					}
					view.Descriptor, view.State = d, "unregistered"
				default:
					return err
				}
				return printJSON(cmd.OutOrStdout(), view)
			})
		},
	}
}

func (c *cli) newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a source file against the sandbox policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(a *app.Application) error {
				ok, reason, err := a.Sandbox().ValidateSource(filepath.Base(args[0]), src)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("%s: %s", args[0], reason)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "ok: %s\n", args[0])
				return nil
			})
		},
	}
}

func (c *cli) newRunCmd() *cobra.Command {
	var (
		input   string
		user    string
		apiKey  string
		files   []string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run <id>",
		Short: "Execute a plugin in the sandbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			execCtx := plugin.ExecutionContext{UserID: user, Credential: apiKey}
			if input != "" {
				if err := json.Unmarshal([]byte(input), &execCtx.Input); err != nil {
					return fmt.Errorf("parse --input: %w", err)
				}
			}
			for _, path := range files {
				att, err := readAttachment(path)
				if err != nil {
					return err
				}
				execCtx.Files = append(execCtx.Files, att)
			}

			return c.withApp(cmd, func(a *app.Application) error {
				res, err := a.Run(cmd.Context(), args[0], execCtx, timeout)
				if res != nil {
					if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "input object as JSON")
	cmd.Flags().StringVar(&user, "user", "cli", "user id recorded for the run")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "credential handed to the plugin")
	cmd.Flags().StringArrayVar(&files, "file", nil, "attach a file (repeatable)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "deadline (default sandbox.timeout)")
	return cmd
}

func readAttachment(path string) (plugin.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return plugin.Attachment{}, fmt.Errorf("read attachment: %w", err)
	}
	return plugin.Attachment{
		Name:        filepath.Base(path),
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
		Data:        data,
	}, nil
}

func (c *cli) newExecutionsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "executions [id]",
		Short: "Show recent execution records",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id string
			if len(args) == 1 {
				id = args[0]
			}
			return c.withApp(cmd, func(a *app.Application) error {
				records, err := a.Store().Executions(cmd.Context(), id, limit)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(tw, "TIME\tPLUGIN\tUSER\tSTATUS\tERROR")
				for _, r := range records {
					var msg string
					if r.Error != nil {
						msg = *r.Error
					}
					_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
						r.Timestamp.Format(time.RFC3339), r.PluginID, r.UserID, r.Status, msg)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum records, 0 for all")
	return cmd
}

// transition is a lifecycle command.
type transition struct {
	use   string
	short string
	state plugin.State
}

var transitions = []transition{
	{"approve", "Approve an analyzed plugin for installation", plugin.StateApproved},
	{"reject", "Reject an analyzed plugin", plugin.StateRejected},
	{"activate", "Mark a loaded plugin active", plugin.StateActive},
	{"deactivate", "Disable a plugin without removing it", plugin.StateInactive},
	{"archive", "Retire a plugin", plugin.StateArchived},
}

func (c *cli) newTransitionCmd(t transition) *cobra.Command {
	return &cobra.Command{
		Use:   t.use + " <id>",
		Short: t.short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(a *app.Application) error {
				if err := a.Transition(cmd.Context(), args[0], t.state); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s is %s\n", args[0], t.state)
				return nil
			})
		},
	}
}

func (c *cli) newUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <id>",
		Short: "Remove a plugin's files and records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(a *app.Application) error {
				if err := a.Uninstall(cmd.Context(), args[0]); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "uninstalled %s\n", args[0])
				return nil
			})
		},
	}
}

func (c *cli) newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Load all plugins and reload them as they change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(a *app.Application) error {
				out := cmd.OutOrStdout()
				unsubscribe := a.Loader().Subscribe(func(ev loader.Event) {
					if ev.Error != nil {
						_, _ = fmt.Fprintf(out, "%s %s: %v\n", ev.Type, ev.PluginID, ev.Error)
						return
					}
					_, _ = fmt.Fprintf(out, "%s %s\n", ev.Type, ev.PluginID)
				})
				defer unsubscribe()
				return a.Watch(cmd.Context())
			})
		},
	}
}
