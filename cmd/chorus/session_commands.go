package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"chorus/internal/config"
	"chorus/internal/progress"
	"chorus/internal/session"
)

func newSessionsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List processing sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *session.Store) error {
				sessions, err := store.ListSessions(cmd.Context())
				if err != nil {
					return err
				}
				if len(sessions) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No sessions")
					return nil
				}

				rows := make([][]string, 0, len(sessions))
				for _, sess := range sessions {
					files, err := store.FilesForSession(cmd.Context(), sess.ID)
					if err != nil {
						return err
					}
					rows = append(rows, []string{
						shortID(sess.ID),
						sess.ReviewRef,
						fmt.Sprintf("%d", len(files)),
						collectiveLabel(sess),
						fmt.Sprintf("%.1f%%", progress.SessionProgress(sess, files)),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Review", "Files", "Phase", "Progress"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignRight},
				))
				return nil
			})
		},
	}
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session and its files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *session.Store) error {
				sess, err := resolveSession(cmd, store, args[0])
				if err != nil {
					return err
				}
				files, err := store.FilesForSession(cmd.Context(), sess.ID)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Session:  %s\n", sess.ID)
				fmt.Fprintf(out, "Review:   %s\n", sess.ReviewRef)
				fmt.Fprintf(out, "Phase:    %s\n", collectiveLabel(sess))
				fmt.Fprintf(out, "Progress: %.1f%%\n", progress.SessionProgress(sess, files))
				if sess.ErrorMessage != "" {
					fmt.Fprintf(out, "Error:    %s\n", sess.ErrorMessage)
				}
				if sess.FailedStep != "" {
					fmt.Fprintf(out, "Failed step: %s\n", sess.FailedStep)
				}
				if len(sess.ExcludedFiles) > 0 {
					fmt.Fprintf(out, "Excluded files: %d\n", len(sess.ExcludedFiles))
				}

				if len(files) == 0 {
					fmt.Fprintln(out, "\nNo files registered")
					return nil
				}

				colorize := shouldColorize(out)
				rows := make([][]string, 0, len(files))
				for _, file := range files {
					rows = append(rows, []string{
						shortID(file.ID),
						file.OriginalFilename,
						statusCell(file.Status, colorize),
						fmt.Sprintf("%.1f%%", progress.FileProgress(file)),
						fmt.Sprintf("%d", file.RetryCount),
						truncate(file.ErrorMessage, 48),
					})
				}
				fmt.Fprintln(out)
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "File", "Status", "Progress", "Retries", "Error"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
}

func newNewSessionCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "new <review-ref>",
		Short: "Create a processing session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *session.Store) error {
				sess, err := store.NewSession(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created session %s for %s\n", sess.ID, sess.ReviewRef)
				return nil
			})
		},
	}
}

func newAddFileCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "add <session-id> <audio-file>...",
		Short: "Register audio files with a session",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *session.Store) error {
				sess, err := resolveSession(cmd, store, args[0])
				if err != nil {
					return err
				}
				for _, path := range args[1:] {
					absolute, err := config.ExpandPath(path)
					if err != nil {
						return err
					}
					file, err := store.RegisterFile(cmd.Context(), sess.ID, filepath.Base(absolute), absolute)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Registered %s as file %s (position %d)\n",
						file.OriginalFilename, shortID(file.ID), file.Position+1)
				}
				return nil
			})
		},
	}
}

func newArchiveCommand(ctx *commandContext) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "archive <session-id>",
		Short: "Delete a finished session and its files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *session.Store) error {
				sess, err := resolveSession(cmd, store, args[0])
				if err != nil {
					return err
				}
				if !sess.CollectiveStatus.Terminal() && !force {
					return fmt.Errorf("session %s is still %s (use --force to archive anyway)",
						shortID(sess.ID), collectiveLabel(sess))
				}
				if err := store.ArchiveSession(cmd.Context(), sess.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Archived session %s\n", shortID(sess.ID))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Archive even if the session is unfinished")
	return cmd
}

// resolveSession accepts a full session id or an unambiguous prefix.
func resolveSession(cmd *cobra.Command, store *session.Store, ref string) (*session.Session, error) {
	sess, err := store.GetSession(cmd.Context(), ref)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		return sess, nil
	}

	sessions, err := store.ListSessions(cmd.Context())
	if err != nil {
		return nil, err
	}
	var match *session.Session
	for _, candidate := range sessions {
		if strings.HasPrefix(candidate.ID, ref) {
			if match != nil {
				return nil, fmt.Errorf("session id %q is ambiguous", ref)
			}
			match = candidate
		}
	}
	if match == nil {
		return nil, fmt.Errorf("session %q not found", ref)
	}
	return match, nil
}

func collectiveLabel(sess *session.Session) string {
	if !sess.CollectiveStatus.Started() {
		return "phase 1"
	}
	return string(sess.CollectiveStatus)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit-3] + "..."
}
