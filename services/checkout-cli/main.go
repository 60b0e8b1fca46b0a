package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Version = "dev"

// cliConfig reúne flags e variáveis de ambiente (flag > ambiente > default)
type cliConfig struct {
	APIURL      string
	AdminSecret string
	DeliveryURL string
	Timeout     time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:           "checkout-cli",
		Short:         "Storefront checkout tooling: follow payments and operate the sales ledger",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("api-url", "http://localhost:8080", "Storefront API base URL (STOREFRONT_API_URL)")
	flags.String("admin-secret", "", "Shared secret for admin routes (ADMIN_SECRET)")
	flags.String("delivery-url", "http://localhost:3000/downloads.html", "Delivery page opened after approval (DELIVERY_PAGE_URL)")
	flags.Duration("timeout", 15*time.Second, "HTTP timeout per request")

	v.BindPFlag("api_url", flags.Lookup("api-url"))
	v.BindPFlag("admin_secret", flags.Lookup("admin-secret"))
	v.BindPFlag("delivery_url", flags.Lookup("delivery-url"))
	v.BindPFlag("timeout", flags.Lookup("timeout"))
	v.BindEnv("api_url", "STOREFRONT_API_URL")
	v.BindEnv("admin_secret", "ADMIN_SECRET")
	v.BindEnv("delivery_url", "DELIVERY_PAGE_URL")

	load := func() cliConfig {
		return cliConfig{
			APIURL:      v.GetString("api_url"),
			AdminSecret: v.GetString("admin_secret"),
			DeliveryURL: v.GetString("delivery_url"),
			Timeout:     v.GetDuration("timeout"),
		}
	}

	rootCmd.AddCommand(watchCmd(load))
	rootCmd.AddCommand(checkoutCmd(load))
	rootCmd.AddCommand(salesCmd(load))
	rootCmd.AddCommand(recoverCmd(load))

	return rootCmd
}
