package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var errConfirmRequired = errors.New("refusing to run without --yes")

type commandOutput struct {
	Command    string `json:"command"`
	DurationMS int64  `json:"duration_ms"`
	Result     any    `json:"result"`
}

func newReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Push every tree member to the search backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			start := time.Now()
			n, err := e.service.ReindexSearch(cmd.Context())
			if err != nil {
				return err
			}
			e.log.WithField("profiles", n).Info("search index rebuilt")
			return writeJSON(cmd.OutOrStdout(), commandOutput{
				Command:    "reindex",
				DurationMS: time.Since(start).Milliseconds(),
				Result:     map[string]any{"profiles": n},
			})
		},
	}
}

func newChainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chain <profile-id>",
		Short: "Print the ancestry name chain of a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			chain, err := e.service.AncestryChain(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), chain.Text)
			return err
		},
	}
}

func newUndoCmd() *cobra.Command {
	var (
		actorID string
		reason  string
		batch   bool
	)
	cmd := &cobra.Command{
		Use:   "undo <log-id>",
		Short: "Undo an audited change, or a whole cascade delete with --batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || logID <= 0 {
				return fmt.Errorf("invalid log id %q", args[0])
			}
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			start := time.Now()
			var result any
			if batch {
				result, err = e.service.UndoCascadeDelete(cmd.Context(), actorID, logID)
			} else {
				result, err = e.service.Undo(cmd.Context(), actorID, logID, reason)
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), commandOutput{
				Command:    "undo",
				DurationMS: time.Since(start).Milliseconds(),
				Result:     result,
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "Profile id the undo is attributed to (required)")
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded on the audit entry")
	cmd.Flags().BoolVar(&batch, "batch", false, "Restore the whole cascade batch the entry belongs to")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}
