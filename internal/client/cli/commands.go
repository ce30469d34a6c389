package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dmitrijs2005/scanrebate/internal/adminapi"
	"github.com/dmitrijs2005/scanrebate/internal/common"
	"github.com/dmitrijs2005/scanrebate/internal/filex"
	"github.com/dmitrijs2005/scanrebate/internal/server/auth"
	"github.com/spf13/cobra"
)

// NewRootCmd builds the rebatectl command tree over a.
func NewRootCmd(a *App) *cobra.Command {
	root := &cobra.Command{
		Use:           "rebatectl",
		Short:         "Operator client for the scan rebate service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.resolveTokenFile()
		},
	}

	root.PersistentFlags().StringVarP(&a.server, "server", "s", defaultServerAddr(), "operator API address (env "+serverEnv+")")
	root.PersistentFlags().StringVar(&a.tokenFile, "token-file", "", "access token location (default ~/"+stateDir+"/"+tokenFileName+")")

	root.AddCommand(
		a.loginCmd(),
		a.listCmd(),
		a.showCmd(),
		a.approveCmd(),
		a.rejectCmd(),
		a.resolveCmd(),
		a.rejectScanCmd(),
		a.hashPasswordCmd(),
	)
	root.SetOut(a.out)
	root.SetErr(a.out)
	return root
}

// Execute runs rebatectl with the process arguments.
func Execute(ctx context.Context) error {
	a := NewApp(os.Stdin, os.Stdout)
	root := NewRootCmd(a)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func (a *App) loginCmd() *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" {
				u, err := GetSimpleText(a.in, "Username", a.out)
				if err != nil {
					return err
				}
				username = u
			}
			if username == "" {
				return errors.New("username is required")
			}

			password, err := GetPassword(a.out, "Password")
			if err != nil {
				return err
			}
			defer common.WipeByteArray(password)

			return a.call(cmd.Context(), true, func(ctx context.Context, c adminapi.AdminClient) error {
				resp, err := c.Login(ctx, &adminapi.LoginRequest{Username: username, Password: string(password)})
				if err != nil {
					return err
				}
				if err := filex.WriteSecret(a.tokenFile, []byte(resp.AccessToken)); err != nil {
					return fmt.Errorf("save token: %w", err)
				}
				fmt.Fprintf(a.out, "Logged in as %s\n", username)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&username, "user", "u", "", "operator username")
	return cmd
}

func (a *App) listCmd() *cobra.Command {
	var st string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List receipts by review status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.call(cmd.Context(), false, func(ctx context.Context, c adminapi.AdminClient) error {
				resp, err := c.ListReceipts(ctx, &adminapi.ListReceiptsRequest{Status: st, Limit: limit})
				if err != nil {
					return err
				}
				printReceiptTable(a.out, resp.Receipts)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&st, "status", "submitted", "submitted, approved, rejected, paid or empty for all")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of receipts")
	return cmd
}

func (a *App) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <receipt-id>",
		Short: "Show a receipt with its scan and evidence links",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.call(cmd.Context(), false, func(ctx context.Context, c adminapi.AdminClient) error {
				resp, err := c.GetReceipt(ctx, &adminapi.GetReceiptRequest{ID: args[0]})
				if err != nil {
					return err
				}
				printReceiptDetails(a.out, resp)
				return nil
			})
		},
	}
}

func (a *App) approveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <receipt-id>",
		Short: "Approve a receipt and start its payout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.call(cmd.Context(), false, func(ctx context.Context, c adminapi.AdminClient) error {
				resp, err := c.ApproveReceipt(ctx, &adminapi.ApproveReceiptRequest{ID: args[0]})
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Receipt %s is %s\n", resp.Receipt.ID, resp.Receipt.Status)
				if resp.Payout != nil {
					printOutcome(a.out, *resp.Payout)
				}
				return nil
			})
		},
	}
}

func (a *App) rejectCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "reject <receipt-id>",
		Short: "Reject a receipt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.call(cmd.Context(), false, func(ctx context.Context, c adminapi.AdminClient) error {
				resp, err := c.RejectReceipt(ctx, &adminapi.RejectReceiptRequest{ID: args[0], Reason: reason})
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Receipt %s is %s\n", resp.Receipt.ID, resp.Receipt.Status)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&reason, "reason", "r", "", "reason recorded on the receipt")
	cmd.MarkFlagRequired("reason")
	return cmd
}

func (a *App) resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <receipt-id>",
		Short: "Resubmit a payout whose outcome is unknown under the same idempotency key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.call(cmd.Context(), false, func(ctx context.Context, c adminapi.AdminClient) error {
				resp, err := c.ResolvePayout(ctx, &adminapi.ResolvePayoutRequest{ID: args[0]})
				if err != nil {
					return err
				}
				printOutcome(a.out, resp.Payout)
				return nil
			})
		},
	}
}

func (a *App) rejectScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject-scan <session-id>",
		Short: "Withdraw a scan session that has no receipt yet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.call(cmd.Context(), false, func(ctx context.Context, c adminapi.AdminClient) error {
				if _, err := c.RejectScan(ctx, &adminapi.RejectScanRequest{SessionID: args[0]}); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Scan %s rejected\n", args[0])
				return nil
			})
		},
	}
}

func (a *App) hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Print a bcrypt hash for the server's operators list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := GetPassword(a.out, "Password")
			if err != nil {
				return err
			}
			defer common.WipeByteArray(password)

			confirm, err := GetPassword(a.out, "Repeat password")
			if err != nil {
				return err
			}
			defer common.WipeByteArray(confirm)

			if len(password) == 0 || string(password) != string(confirm) {
				return errors.New("passwords are empty or do not match")
			}

			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, hash)
			return nil
		},
	}
}
