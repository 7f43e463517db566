package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/nainya/lexstore/internal/server"
	"github.com/nainya/lexstore/internal/service"
	"github.com/nainya/lexstore/pkg/history"
)

// dialer opens a client connection; close releases it
type dialer func(addr string) (conn grpc.ClientConnInterface, close func(), err error)

func dialServer(addr string) (grpc.ClientConnInterface, func(), error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	return conn, func() { conn.Close() }, nil
}

// rootOptions holds global flags for all commands
type rootOptions struct {
	Addr    string
	Timeout time.Duration
	dial    dialer
}

// call runs one RPC against the configured server
func (o *rootOptions) call(cmd *cobra.Command, method string, req, resp any) error {
	conn, closeConn, err := o.dial(o.Addr)
	if err != nil {
		return err
	}
	defer closeConn()

	ctx, cancel := context.WithTimeout(cmd.Context(), o.Timeout)
	defer cancel()
	return server.NewHistoryClient(conn).Do(ctx, method, req, resp)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCommand(dial dialer) *cobra.Command {
	opts := &rootOptions{dial: dial}

	cmd := &cobra.Command{
		Use:           "lexadmin",
		Short:         "Administer the lexstore edition history",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.Addr, "addr", "localhost:50061", "lexstore gRPC address")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 2*time.Minute, "per-call timeout")

	cmd.AddCommand(
		newIncorporateCommand(opts),
		newRemoveCommand(opts),
		newPurgeCommand(opts),
		newUnavailableCommand(opts),
		newInForceCommand(opts),
		newResolveCommand(opts),
		newHistoryCommand(opts),
		newChangesCommand(opts),
		newVersionsCommand(opts),
		newHealthCommand(opts),
	)
	return cmd
}

func newIncorporateCommand(opts *rootOptions) *cobra.Command {
	var domain string
	cmd := &cobra.Command{
		Use:   "incorporate <edition.json>",
		Short: "Merge an edition into its document history",
		Long: `Merge an edition into its document history.

The file holds a receiver payload as JSON. Use "-" to read standard input.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("read edition: %w", err)
			}
			var edition history.DocumentVersion
			if err := json.Unmarshal(data, &edition); err != nil {
				return fmt.Errorf("parse edition: %w", err)
			}

			var resp server.IncorporateResponse
			req := server.IncorporateRequest{Domain: domain, Edition: &edition}
			if err := opts.call(cmd, server.MethodIncorporate, req, &resp); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVar(&domain, "domain", "", "target domain (defaults to the edition's)")
	return cmd
}

func newRemoveCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <domain> <id_local> [version]",
		Short: "Remove the latest edition, or the named one when it is the latest",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := server.DocRequest{Domain: args[0], IDLocal: args[1]}
			if len(args) == 3 {
				req.Version = args[2]
			}
			var resp server.StatusResponse
			if err := opts.call(cmd, server.MethodRemoveLatest, req, &resp); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Status)
			return nil
		},
	}
}

func newPurgeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "purge <domain> <id_local>",
		Short: "Delete every part and the history of a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp server.PurgeResponse
			req := server.DocRequest{Domain: args[0], IDLocal: args[1]}
			if err := opts.call(cmd, server.MethodPurge, req, &resp); err != nil {
				return err
			}
			if resp.Existed {
				fmt.Fprintln(cmd.OutOrStdout(), "purged")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to purge")
			}
			return nil
		},
	}
}

func newUnavailableCommand(opts *rootOptions) *cobra.Command {
	var date, after string
	cmd := &cobra.Command{
		Use:   "unavailable <domain> <id_local> <version>",
		Short: "Record a known edition whose content is unavailable",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if date == "" {
				return fmt.Errorf("--date is required")
			}
			req := server.UnavailableRequest{
				Domain:       args[0],
				IDLocal:      args[1],
				Version:      args[2],
				DateDocument: date,
				After:        after,
			}
			var resp server.StatusResponse
			if err := opts.call(cmd, server.MethodInsertUnavailable, req, &resp); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "edition date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&after, "after", "", "insert after this label instead of by date")
	return cmd
}

func formatInForce(v *bool) string {
	switch {
	case v == nil:
		return "None"
	case *v:
		return "True"
	}
	return "False"
}

func newInForceCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "in-force",
		Short: "Read or change the in-force flag of a document",
	}

	get := &cobra.Command{
		Use:  "get <domain> <id_local>",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp server.InForceMessage
			req := server.DocRequest{Domain: args[0], IDLocal: args[1]}
			if err := opts.call(cmd, server.MethodGetInForce, req, &resp); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatInForce(resp.InForce))
			return nil
		},
	}

	set := &cobra.Command{
		Use:  "set <domain> <id_local> <True|False|None>",
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := service.ParseInForce(args[2])
			if err != nil {
				return err
			}
			var resp server.InForceMessage
			req := server.InForceMessage{Domain: args[0], IDLocal: args[1], InForce: value}
			if err := opts.call(cmd, server.MethodSetInForce, req, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%d parts updated)\n", formatInForce(resp.InForce), resp.Updated)
			return nil
		},
	}

	cmd.AddCommand(get, set)
	return cmd
}

func newResolveCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <domain> <id_local> [version]",
		Short: "Materialize an edition from its parts",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := server.DocRequest{Domain: args[0], IDLocal: args[1], Version: history.LatestAlias}
			if len(args) == 3 {
				req.Version = args[2]
			}
			var resp server.ResolveResponse
			if err := opts.call(cmd, server.MethodResolve, req, &resp); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp.Edition)
		},
	}
}

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <domain> <id_local>",
		Short: "Print the document history",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp server.HistoryResponse
			req := server.DocRequest{Domain: args[0], IDLocal: args[1]}
			if err := opts.call(cmd, server.MethodHistory, req, &resp); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
}

func newChangesCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "changes <domain> <id_local> <version>",
		Short: "List the slots an edition added, changed or retired",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp server.ChangesResponse
			req := server.DocRequest{Domain: args[0], IDLocal: args[1], Version: args[2]}
			if err := opts.call(cmd, server.MethodChanges, req, &resp); err != nil {
				return err
			}
			for _, c := range resp.Changes {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", c.Kind, c.SubID)
			}
			return nil
		},
	}
}

func newVersionsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "versions <domain> <id_local> <sub_id>",
		Short: "List the editions exposing a slot",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp server.VersionsResponse
			req := server.DocRequest{Domain: args[0], IDLocal: args[1], SubID: args[2]}
			if err := opts.call(cmd, server.MethodVersionsAvailability, req, &resp); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp.Versions)
		},
	}
}

func newHealthCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the server and its store respond",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp server.StatusResponse
			if err := opts.call(cmd, server.MethodHealth, nil, &resp); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Status)
			return nil
		},
	}
}
