package startup

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pixia-chat/pixia/log"
	"github.com/pixia-chat/pixia/mock/openai"
	storageStructs "github.com/pixia-chat/pixia/storage/structs"
	"github.com/pixia-chat/pixia/ui/funcs"
	"github.com/spf13/cobra"
)

func newSessionsCommand(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Short:   "Manage stored chat sessions",
		Aliases: []string{"s"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return listSessions(cmd, f)
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, pinned first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listSessions(cmd, f)
		},
	}

	createCmd := &cobra.Command{
		Use:   "create [title]",
		Short: "Create a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context(), f.configPath, false)
			if err != nil {
				return err
			}
			defer app.Close()
			session, err := funcs.CreateSession(cmd.Context(), app.Store, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s %s\n", session.UUID, session.Title)
			return nil
		},
	}

	renameCmd := &cobra.Command{
		Use:   "rename <session> <title>",
		Short: "Rename a session",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, f, args[0], func(app *App, s *storageStructs.Sessions) error {
				if err := funcs.RenameSession(cmd.Context(), app.Store, s, strings.Join(args[1:], " ")); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "renamed %s to %s\n", funcs.ShortID(s), s.Title)
				return nil
			})
		},
	}

	pinCmd := &cobra.Command{
		Use:   "pin <session>",
		Short: "Toggle the pinned flag of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, f, args[0], func(app *App, s *storageStructs.Sessions) error {
				pinned, err := funcs.TogglePin(cmd.Context(), app.Store, s)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s pinned: %v\n", funcs.ShortID(s), pinned)
				return nil
			})
		},
	}

	deleteCmd := &cobra.Command{
		Use:     "delete <session>",
		Short:   "Delete a session and its messages",
		Aliases: []string{"rm"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, f, args[0], func(app *App, s *storageStructs.Sessions) error {
				if err := funcs.DeleteSession(cmd.Context(), app.Store, s); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s %s\n", funcs.ShortID(s), s.Title)
				return nil
			})
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <session>",
		Short: "Print the messages of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, f, args[0], func(app *App, s *storageStructs.Sessions) error {
				history, err := funcs.GetHistory(cmd.Context(), app.Store, s)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "# %s (%s)\n", s.Title, s.UUID)
				for _, msg := range history {
					fmt.Fprintf(out, "\n[%s]", msg.Role)
					if msg.HasImage() {
						fmt.Fprintf(out, " <image %s>", msg.ImageMIME)
					}
					fmt.Fprintf(out, "\n%s\n", msg.Content)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(listCmd, createCmd, renameCmd, pinCmd, deleteCmd, showCmd)
	return cmd
}

func listSessions(cmd *cobra.Command, f *flags) error {
	app, err := openApp(cmd.Context(), f.configPath, false)
	if err != nil {
		return err
	}
	defer app.Close()
	sessions, err := funcs.GetSessions(cmd.Context(), app.Store)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(sessions) == 0 {
		fmt.Fprintln(out, "no sessions")
		return nil
	}
	for idx, s := range sessions {
		pin := " "
		if s.IsPinned {
			pin = "*"
		}
		fmt.Fprintf(out, "%3d %s %s  %s  %s\n", idx+1, pin, funcs.ShortID(&s), s.UpdatedAt.Format("2006-01-02 15:04"), s.Title)
	}
	return nil
}

// withSession 打开存储并按序号或 ID 前缀解析会话
func withSession(cmd *cobra.Command, f *flags, ref string, fn func(app *App, s *storageStructs.Sessions) error) error {
	app, err := openApp(cmd.Context(), f.configPath, false)
	if err != nil {
		return err
	}
	defer app.Close()
	sessions, err := funcs.GetSessions(cmd.Context(), app.Store)
	if err != nil {
		return err
	}
	session, err := funcs.FindSession(sessions, ref)
	if err != nil {
		return err
	}
	return fn(app, session)
}

func newMockCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "mock",
		Short: "Run the mock OpenAI-compatible server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "mock server on %s, models: %s\n", addr, strings.Join(openai.ModelIDs, ", "))
			return openai.New().Serve(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", openai.Addr, "Listen address")
	return cmd
}

func newLogCommand() *cobra.Command {
	var level string
	var clearLog bool
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show or clear the debug log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := log.Path()
			out := cmd.OutOrStdout()
			if clearLog {
				if err := log.Clear(path); err != nil {
					return err
				}
				fmt.Fprintf(out, "cleared %s\n", path)
				return nil
			}
			entries, err := log.ReadEntries(path, level)
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Fprintln(out, e.Line)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&level, "level", "l", "debug", "Minimum level: debug, info, warn or error")
	cmd.Flags().BoolVar(&clearLog, "clear", false, "Truncate the log file")
	return cmd
}

func newConfigCommand(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect settings",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "path",
			Short: "Print the config file path",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := loadConfig(f.configPath)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), m.Path())
				return nil
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective settings",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := loadConfig(f.configPath)
				if err != nil {
					return err
				}
				data, err := json.MarshalIndent(m.Get(), "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			},
		},
	)
	return cmd
}
