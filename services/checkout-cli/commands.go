package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

type configLoader func() cliConfig

func (load configLoader) client() *StorefrontClient {
	cfg := load()
	return NewStorefrontClient(cfg.APIURL, cfg.AdminSecret, cfg.Timeout)
}

func watchCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <chargeId>",
		Short: "Poll a charge until it is approved (Ctrl+C abandons)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return watchCharge(cmd.Context(), cmd.OutOrStdout(), load.client(), args[0], load().DeliveryURL)
		},
	}
}

func checkoutCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Create charges against the storefront",
	}

	var (
		items    []string
		customer Customer
		watch    bool
	)

	pix := &cobra.Command{
		Use:   "pix",
		Short: "Create a Pix charge and print the QR text",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := load.client()
			result, err := client.CheckoutPix(cmd.Context(), items, customer)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Charge:  %s\n", result.ChargeID)
			fmt.Fprintf(out, "Status:  %s (%s)\n", result.Status, result.Message)
			fmt.Fprintf(out, "Total:   R$ %.2f\n", result.Total)
			fmt.Fprintf(out, "Pix:     %s\n", result.QRText)

			if !watch {
				return nil
			}
			return watchCharge(cmd.Context(), out, client, result.ChargeID, load().DeliveryURL)
		},
	}

	pix.Flags().StringSliceVarP(&items, "item", "i", nil, "Catalog item id (repeatable)")
	pix.Flags().StringVar(&customer.Name, "name", "", "Buyer full name")
	pix.Flags().StringVar(&customer.Email, "email", "", "Buyer email")
	pix.Flags().StringVar(&customer.CPF, "cpf", "", "Buyer CPF")
	pix.Flags().StringVar(&customer.Phone, "phone", "", "Buyer phone")
	pix.Flags().BoolVarP(&watch, "watch", "w", false, "Poll the charge until it is approved")
	pix.MarkFlagRequired("item")
	pix.MarkFlagRequired("email")
	pix.MarkFlagRequired("cpf")

	cmd.AddCommand(pix)
	return cmd
}

func salesCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sales",
		Short: "Operate the sales ledger (requires the admin secret)",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List recorded sales, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			sales, err := load.client().ListSales(cmd.Context())
			if err != nil {
				return err
			}
			printSales(cmd.OutOrStdout(), sales)
			return nil
		},
	})

	var confirm bool
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete every recorded sale",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return fmt.Errorf("refusing to purge without --yes")
			}
			if err := load.client().PurgeSales(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Sales ledger purged")
			return nil
		},
	}
	purge.Flags().BoolVar(&confirm, "yes", false, "Confirm the purge")
	cmd.AddCommand(purge)

	cmd.AddCommand(&cobra.Command{
		Use:   "resend <chargeId>",
		Short: "Mint a fresh access token and resend the delivery email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := load.client().ResendAccess(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Delivery resent for %s\n", args[0])
			return nil
		},
	})

	return cmd
}

func recoverCmd(load configLoader) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Backfill approved charges missing from the ledger (no email is sent)",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := load.client().RecoverSales(cmd.Context(), days)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Scanned:          %d\n", report.Scanned)
			fmt.Fprintf(out, "Recovered:        %d\n", report.Recovered)
			fmt.Fprintf(out, "Already recorded: %d\n", report.AlreadyRecorded)
			fmt.Fprintf(out, "Failed:           %d\n", report.Failed)
			if len(report.RecoveredIDs) > 0 {
				fmt.Fprintf(out, "Recovered IDs:    %s\n", strings.Join(report.RecoveredIDs, ", "))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&days, "days", "d", 0, "Look back this many days (server default when omitted)")
	return cmd
}

// watchCharge roda o poller até a aprovação, uma recusa ou a interrupção do usuário
func watchCharge(parent context.Context, out io.Writer, checker StatusChecker, chargeID, deliveryPage string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		poller   *Poller
		rejected *PaymentStatus
	)
	poller = NewPoller(checker, chargeID, PollerHooks{
		OnStatus: func(status PaymentStatus, attempt int) {
			fmt.Fprintf(out, "[%02d] %s %s\n", attempt, status.Status, status.Message)
			// Recusa não volta atrás: não adianta continuar consultando
			if status.Status.IsTerminal() && !status.Approved() {
				rejected = &status
				poller.Cancel()
			}
		},
		OnError: func(err error) {
			fmt.Fprintf(out, "     check failed: %v\n", err)
		},
	})
	if err := poller.Start(ctx); err != nil {
		return err
	}

	select {
	case <-poller.Done():
	case <-ctx.Done():
	}
	poller.Stop()

	if rejected != nil {
		return fmt.Errorf("charge %s was %s: %s", chargeID, rejected.Status, rejected.Message)
	}
	if poller.State() != StateSettled {
		return fmt.Errorf("stopped watching %s before approval", chargeID)
	}

	result := poller.Result()
	fmt.Fprintf(out, "Approved! Delivery page: %s\n", deliveryURL(deliveryPage, result.ItemIDs))
	return nil
}

func printSales(out io.Writer, sales []Sale) {
	if len(sales) == 0 {
		fmt.Fprintln(out, "No sales recorded")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHARGE\tDATE\tEMAIL\tMETHOD\tTOTAL\tCLICKED\tITEMS")
	for _, s := range sales {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\tR$ %.2f\t%t\t%s\n",
			s.ChargeID,
			s.Date.Local().Format("2006-01-02 15:04"),
			s.Email,
			s.Method,
			float64(s.TotalCents)/100,
			s.ClickedAccessLink,
			strings.Join(s.Items, ", "),
		)
	}
	w.Flush()
}
