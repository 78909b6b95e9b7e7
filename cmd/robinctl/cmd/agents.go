package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/robinclaw/robinclaw/internal/app"
	"github.com/robinclaw/robinclaw/internal/ledger"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Inspect and manage agents in the ledger",
	Long: `Inspect and manage agents in the ledger.

Subcommands:
  list      - List every agent
  activate  - Mark an agent's deposit as received
  runs      - Show recent background job runs

Examples:
  robinctl agents list
  robinctl agents activate my_agent --tx 0xabc...`,
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every agent",
	Args:  cobra.NoArgs,
	RunE:  runAgentsList,
}

var agentsActivateCmd = &cobra.Command{
	Use:   "activate <name>",
	Short: "Activate an agent once its deposit has arrived",
	Args:  cobra.ExactArgs(1),
	RunE:  runAgentsActivate,
}

var agentsRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recent background job runs",
	Args:  cobra.NoArgs,
	RunE:  runAgentsRuns,
}

var leaderboardCmd = &cobra.Command{
	Use:   "leaderboard",
	Short: "Active agents ranked by P&L %",
	Args:  cobra.NoArgs,
	RunE:  runLeaderboard,
}

var hallOfFameCmd = &cobra.Command{
	Use:   "hall-of-fame",
	Short: "Closed accounts and their final results",
	Args:  cobra.NoArgs,
	RunE:  runHallOfFame,
}

var (
	activateTx string
	runsLimit  int
)

func init() {
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(leaderboardCmd)
	rootCmd.AddCommand(hallOfFameCmd)
	agentsCmd.AddCommand(agentsListCmd)
	agentsCmd.AddCommand(agentsActivateCmd)
	agentsCmd.AddCommand(agentsRunsCmd)

	agentsActivateCmd.Flags().StringVar(&activateTx, "tx", "", "deposit transaction hash")
	agentsRunsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "number of runs")
}

func withLedger(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.OpenLedger(cfg)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer a.Close()
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	return fn(ctx, a)
}

func statusCell(s ledger.Status) string {
	switch s {
	case ledger.StatusActive:
		return upStyle.Render(string(s))
	case ledger.StatusClosed:
		return dimStyle.Render(string(s))
	default:
		return string(s)
	}
}

func runAgentsList(cmd *cobra.Command, args []string) error {
	return withLedger(cmd, func(ctx context.Context, a *app.App) error {
		agents, err := a.Manager.ListAgents(ctx)
		if err != nil {
			return err
		}
		if len(agents) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), dimStyle.Render("no agents"))
			return nil
		}
		rows := make([][]string, 0, len(agents))
		for _, ag := range agents {
			rows = append(rows, []string{
				ag.Name,
				statusCell(ag.Status),
				"$" + strconv.FormatFloat(ag.DepositAmount, 'f', 2, 64),
				ag.WalletAddress,
				ag.CreatedAt.Local().Format("2006-01-02 15:04"),
			})
		}
		fmt.Fprintln(cmd.OutOrStdout(), table([]string{"NAME", "STATUS", "DEPOSIT", "WALLET", "CREATED"}, rows))
		return nil
	})
}

func runAgentsActivate(cmd *cobra.Command, args []string) error {
	return withLedger(cmd, func(ctx context.Context, a *app.App) error {
		ag, err := a.Manager.Activate(ctx, args[0], activateTx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s is now %s\n", upStyle.Render("✓"), ag.Name, ag.Status)
		return nil
	})
}

func runAgentsRuns(cmd *cobra.Command, args []string) error {
	return withLedger(cmd, func(ctx context.Context, a *app.App) error {
		runs, err := a.Manager.JobRuns(ctx, runsLimit)
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(runs))
		for _, r := range runs {
			state := dimStyle.Render("running")
			if r.OK != nil && *r.OK {
				state = upStyle.Render("ok")
			} else if r.OK != nil {
				state = downStyle.Render("failed")
			}
			meta := ""
			if r.MetaJSON != nil {
				meta = *r.MetaJSON
			}
			rows = append(rows, []string{strconv.FormatInt(r.ID, 10), r.JobName, r.StartedAt.Local().Format("01-02 15:04:05"), state, meta})
		}
		fmt.Fprintln(cmd.OutOrStdout(), table([]string{"ID", "JOB", "STARTED", "STATE", "META"}, rows))
		return nil
	})
}

func runLeaderboard(cmd *cobra.Command, args []string) error {
	return withLedger(cmd, func(ctx context.Context, a *app.App) error {
		board, err := a.Manager.Leaderboard(ctx)
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(board))
		for i, e := range board {
			rows = append(rows, []string{
				strconv.Itoa(i + 1),
				e.Name,
				"$" + usd(strconv.FormatFloat(e.CurrentEquity, 'f', -1, 64)),
				signed(e.PnLPct, "%.2f%%"),
				strconv.Itoa(e.Trades),
				fmt.Sprintf("%.1f%%", e.WinRate),
			})
		}
		fmt.Fprintln(cmd.OutOrStdout(), titleStyle.Render("Leaderboard"))
		fmt.Fprintln(cmd.OutOrStdout(), table([]string{"#", "AGENT", "EQUITY", "P&L", "TRADES", "WIN"}, rows))
		return nil
	})
}

func runHallOfFame(cmd *cobra.Command, args []string) error {
	return withLedger(cmd, func(ctx context.Context, a *app.App) error {
		fame, err := a.Manager.HallOfFame(ctx)
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(fame))
		for _, e := range fame {
			closed := ""
			if e.ClosedAt != nil {
				closed = e.ClosedAt.Local().Format("2006-01-02")
			}
			rows = append(rows, []string{
				e.Name,
				"$" + usd(strconv.FormatFloat(e.DepositAmount, 'f', -1, 64)),
				"$" + usd(strconv.FormatFloat(e.FinalEquity, 'f', -1, 64)),
				signed(e.FinalPnLPct, "%.2f%%"),
				closed,
			})
		}
		fmt.Fprintln(cmd.OutOrStdout(), boxStyle.Render(titleStyle.Render("Hall of Fame")+"\n"+
			table([]string{"AGENT", "DEPOSIT", "FINAL", "P&L", "CLOSED"}, rows)))
		return nil
	})
}
