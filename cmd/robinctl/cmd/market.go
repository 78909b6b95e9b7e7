package cmd

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/robinclaw/robinclaw/internal/hyperliquid"
)

var topCoins = []string{"BTC", "ETH", "SOL", "AVAX", "ARB", "OP", "MATIC", "DOGE", "LINK"}

var pricesCmd = &cobra.Command{
	Use:   "prices [coin...]",
	Short: "Show perpetual mid prices",
	Long: `Show current mid prices from the exchange.

Without arguments the major coins are listed; --all lists every market.`,
	RunE: runPrices,
}

var marketsCmd = &cobra.Command{
	Use:   "markets",
	Short: "List tradable perpetual markets",
	Args:  cobra.NoArgs,
	RunE:  runMarkets,
}

var pricesAll bool

func init() {
	rootCmd.AddCommand(pricesCmd)
	rootCmd.AddCommand(marketsCmd)
	pricesCmd.Flags().BoolVar(&pricesAll, "all", false, "list every market")
}

func exchangeClient() (*hyperliquid.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return hyperliquid.NewClient(hyperliquid.Config{
		BaseURL: cfg.Exchange.BaseURL,
		Mainnet: !cfg.Exchange.Testnet,
		Timeout: cfg.Exchange.Timeout,
	}), nil
}

func runPrices(cmd *cobra.Command, args []string) error {
	client, err := exchangeClient()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()
	mids, err := client.AllMids(ctx)
	if err != nil {
		return fmt.Errorf("fetch prices: %w", err)
	}

	coins := topCoins
	switch {
	case len(args) > 0:
		coins = make([]string, 0, len(args))
		for _, a := range args {
			coins = append(coins, strings.ToUpper(a))
		}
	case pricesAll:
		coins = nil
		for c := range mids {
			if !strings.HasPrefix(c, "@") {
				coins = append(coins, c)
			}
		}
		sort.Strings(coins)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render("Hyperliquid Perpetual Prices"))
	for _, c := range coins {
		raw, ok := mids[c]
		if !ok {
			fmt.Fprintf(out, "%-8s %s\n", c, dimStyle.Render(fmt.Sprintf("%13s", "n/a")))
			continue
		}
		fmt.Fprintf(out, "%-8s $%12s\n", c, usd(raw))
	}
	return nil
}

func runMarkets(cmd *cobra.Command, args []string) error {
	client, err := exchangeClient()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()
	meta, err := client.Meta(ctx)
	if err != nil {
		return fmt.Errorf("fetch markets: %w", err)
	}
	rows := make([][]string, 0, len(meta.Universe))
	for _, a := range meta.Universe {
		if a.IsDelisted {
			continue
		}
		rows = append(rows, []string{a.Name, strconv.Itoa(a.SzDecimals), strconv.Itoa(a.MaxLeverage) + "x"})
	}
	fmt.Fprintln(cmd.OutOrStdout(), table([]string{"MARKET", "SZ DECIMALS", "MAX LEV"}, rows))
	return nil
}

// usd renders a decimal string with thousands separators and two decimals.
func usd(raw string) string {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return raw
	}
	fixed := d.Abs().StringFixed(2)
	whole, frac, _ := strings.Cut(fixed, ".")
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	s := b.String() + "." + frac
	if d.IsNegative() {
		s = "-" + s
	}
	return s
}
