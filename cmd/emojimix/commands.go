package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/emojimix/mixer"
	"github.com/hazyhaar/emojimix/shield"
)

// NewRefreshCommand creates the refresh subcommand. A server sharing the
// database picks the new snapshot up through its watcher.
func NewRefreshCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Download the metadata and replace the mapping",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			svc, err := root.openService(cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			out, err := svc.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
}

// NewLookupCommand creates the lookup subcommand.
func NewLookupCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup PAIR | lookup LEFT RIGHT",
		Short: "Print the mash-up URL for two emoji",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			svc, err := root.openService(cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			var url string
			if len(args) == 2 {
				url, err = svc.Resolve(cmd.Context(), args[0], args[1])
			} else {
				url, err = svc.ResolvePair(cmd.Context(), args[0])
			}
			if errors.Is(err, mixer.ErrNotFound) {
				return fmt.Errorf("no mash-up for %v", args)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		},
	}
}

// NewStatusCommand creates the status subcommand.
func NewStatusCommand(root *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the installed snapshot and recent refreshes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			svc, err := root.openService(cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			st, err := svc.Status(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), st)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "refresh attempts to show")
	return cmd
}

// NewHashPasswordCommand creates the hash-password subcommand.
func NewHashPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password PASSWORD",
		Short: "Print a bcrypt hash for admin.password_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := shield.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
