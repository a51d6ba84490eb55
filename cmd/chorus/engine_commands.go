package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"chorus/internal/config"
	"chorus/internal/session"
	"chorus/internal/workflow"
)

func newProcessCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "process <session-id>",
		Short: "Drive a session through both phases",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSupervisor(func(cfg *config.Config, store *session.Store, supervisor *workflow.Supervisor) error {
				sess, err := resolveSession(cmd, store, args[0])
				if err != nil {
					return err
				}

				runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()

				if err := supervisor.ProcessSession(runCtx, sess.ID); err != nil {
					return err
				}
				return reportSessionOutcome(cmd, store, sess.ID)
			})
		},
	}
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Resume all unfinished sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSupervisor(func(cfg *config.Config, store *session.Store, supervisor *workflow.Supervisor) error {
				runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()

				if err := supervisor.Start(runCtx); err != nil {
					return err
				}
				<-runCtx.Done()
				if err := supervisor.Stop(); err != nil {
					return err
				}
				if err := supervisor.LastError(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Engine stopped")
				return nil
			})
		},
	}
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	var drive bool

	cmd := &cobra.Command{
		Use:   "retry <session-id> <file-id>",
		Short: "Reset a failed file to its pre-failure status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSupervisor(func(cfg *config.Config, store *session.Store, supervisor *workflow.Supervisor) error {
				sess, err := resolveSession(cmd, store, args[0])
				if err != nil {
					return err
				}
				file, err := supervisor.RetryFile(cmd.Context(), sess.ID, args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "File %s is %s (retry %d)\n",
					file.OriginalFilename, file.Status, file.RetryCount)

				if !drive {
					return nil
				}
				runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				if err := supervisor.ProcessSession(runCtx, sess.ID); err != nil {
					return err
				}
				return reportSessionOutcome(cmd, store, sess.ID)
			})
		},
	}
	cmd.Flags().BoolVar(&drive, "process", false, "Continue processing the session after the reset")
	return cmd
}

func newExcludeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "exclude <session-id> <file-id>",
		Short: "Permanently exclude a failed file from its session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSupervisor(func(cfg *config.Config, store *session.Store, supervisor *workflow.Supervisor) error {
				sess, err := resolveSession(cmd, store, args[0])
				if err != nil {
					return err
				}
				if err := supervisor.ExcludeFile(cmd.Context(), sess.ID, args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "File %s excluded from session %s\n", args[1], shortID(sess.ID))
				return nil
			})
		},
	}
}

func newRestartCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "restart <session-id>",
		Short: "Restart a failed analysis phase from its failed step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSupervisor(func(cfg *config.Config, store *session.Store, supervisor *workflow.Supervisor) error {
				sess, err := resolveSession(cmd, store, args[0])
				if err != nil {
					return err
				}
				runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				if err := supervisor.RestartCollective(runCtx, sess.ID); err != nil {
					return err
				}
				return reportSessionOutcome(cmd, store, sess.ID)
			})
		},
	}
}

func reportSessionOutcome(cmd *cobra.Command, store *session.Store, sessionID string) error {
	sess, err := store.GetSession(cmd.Context(), sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("session %q not found", sessionID)
	}
	out := cmd.OutOrStdout()
	switch sess.CollectiveStatus {
	case session.CollectiveComplete:
		fmt.Fprintf(out, "Session %s complete\n", shortID(sess.ID))
		if len(sess.ExcludedFiles) > 0 {
			fmt.Fprintf(out, "%d file(s) were excluded; see 'chorus show %s'\n", len(sess.ExcludedFiles), shortID(sess.ID))
		}
	case session.CollectiveFailed:
		fmt.Fprintf(out, "Session %s failed at %s: %s\n", shortID(sess.ID), sess.FailedStep, sess.ErrorMessage)
	default:
		fmt.Fprintf(out, "Session %s is %s\n", shortID(sess.ID), collectiveLabel(sess))
	}
	return nil
}
