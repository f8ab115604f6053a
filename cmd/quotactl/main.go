// quotactl is a small operator CLI for the quota engine. It opens the
// same store the server uses, so it is handy for poking at a local
// database, reproducing reports, and seeding demo data.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/orchard/quota-engine/config"
	"github.com/orchard/quota-engine/quota"
	"github.com/orchard/quota-engine/store/sqlite"
)

var (
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "quotactl",
		Short: "Inspect and exercise the daily quota ledger",
		Long: `quotactl operates directly on the quota store configured through the
environment (same variables as the server). Useful for local inspection,
support debugging, and seeding demo data.`,
	}

	rootCmd.AddCommand(stateCmd())
	rootCmd.AddCommand(pickCmd())
	rootCmd.AddCommand(rewardCmd())
	rootCmd.AddCommand(streakCmd())
	rootCmd.AddCommand(lifetimeCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openEngine wires an engine against the configured sqlite store.
func openEngine() (*quota.Engine, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	store, err := sqlite.New(cfg.Store.SQLitePath)
	if err != nil {
		return nil, nil, err
	}

	policy, err := cfg.Policy()
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	engine, err := quota.NewEngine(store, policy, cfg.Calendar())
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return engine, func() { store.Close() }, nil
}

func stateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state <subject>",
		Short: "Show today's counters for a subject",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, done, err := openEngine()
			if err != nil {
				return err
			}
			defer done()

			state, err := engine.DailyState(context.Background(), quota.Subject(args[0]), time.Now())
			if err != nil {
				return err
			}
			fmt.Printf("subject:  %s\nday:      %s\npicks:    %d / %d\nrewards:  %d\nremaining: %d\n",
				state.Subject, state.Day, state.PickCount, state.Allowance, state.RewardCount, state.Remaining)
			return nil
		},
	}
}

func pickCmd() *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "pick <subject>",
		Short: "Record a pick for a subject",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, done, err := openEngine()
			if err != nil {
				return err
			}
			defer done()

			res, err := engine.RecordPick(context.Background(), quota.Subject(args[0]), time.Now(), token)
			if err != nil {
				if quota.IsLimit(err) {
					red.Printf("rejected: %v\n", err)
					return nil
				}
				return err
			}
			if res.Replayed {
				yellow.Printf("replayed token %q: pick %d of %d, lifetime %d\n",
					token, res.PickCount, res.Allowance, res.Lifetime)
				return nil
			}
			green.Printf("pick %d of %d recorded on %s (lifetime %d)\n",
				res.PickCount, res.Allowance, res.Day, res.Lifetime)
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "idempotency token for this attempt")
	return cmd
}

func rewardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reward <subject>",
		Short: "Record a reward completion for a subject",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, done, err := openEngine()
			if err != nil {
				return err
			}
			defer done()

			res, err := engine.RecordRewardCompletion(context.Background(), quota.Subject(args[0]), time.Now())
			if err != nil {
				if quota.IsLimit(err) {
					red.Printf("rejected: %v\n", err)
					return nil
				}
				return err
			}
			green.Printf("reward %d recorded on %s, allowance now %d\n",
				res.RewardCount, res.Day, res.Allowance)
			return nil
		},
	}
}

func streakCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "streak <subject>",
		Short: "Show the subject's consecutive-day streak",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, done, err := openEngine()
			if err != nil {
				return err
			}
			defer done()

			streak, err := engine.Streak(context.Background(), quota.Subject(args[0]), time.Now())
			if err != nil {
				return err
			}
			fmt.Printf("streak: %d\n", streak)
			return nil
		},
	}
}

func lifetimeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lifetime <subject>",
		Short: "Show the subject's lifetime pick total",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, done, err := openEngine()
			if err != nil {
				return err
			}
			defer done()

			total, err := engine.LifetimeTotal(context.Background(), quota.Subject(args[0]))
			if err != nil {
				return err
			}
			fmt.Printf("lifetime: %d\n", total)
			return nil
		},
	}
}

func historyCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "history <subject>",
		Short: "List recent ledger entries, most recent first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, done, err := openEngine()
			if err != nil {
				return err
			}
			defer done()

			entries, err := engine.History(context.Background(), quota.Subject(args[0]), days)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("no entries")
				return nil
			}
			for _, e := range entries {
				fmt.Printf("%s  picks %d/%d  rewards %d\n",
					e.Day, e.PickCount, e.Allowance, e.RewardCount)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "maximum days to list")
	return cmd
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Populate a few demo subjects with multi-day histories",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, done, err := openEngine()
			if err != nil {
				return err
			}
			defer done()

			ctx := context.Background()
			now := time.Now()

			// alice: a 3-day streak with a reward unlock today.
			// bob: picked yesterday only (streak broken today).
			seeds := []struct {
				subject quota.Subject
				daysAgo int
				picks   int
				rewards int
			}{
				{"alice", 2, 3, 0},
				{"alice", 1, 5, 0},
				{"alice", 0, 2, 1},
				{"bob", 1, 4, 0},
			}

			for _, s := range seeds {
				at := now.AddDate(0, 0, -s.daysAgo)
				for i := 0; i < s.rewards; i++ {
					if _, err := engine.RecordRewardCompletion(ctx, s.subject, at); err != nil && !quota.IsLimit(err) {
						return err
					}
				}
				for i := 0; i < s.picks; i++ {
					if _, err := engine.RecordPick(ctx, s.subject, at, ""); err != nil && !quota.IsLimit(err) {
						return err
					}
				}
			}

			green.Println("seeded subjects: alice, bob")
			return nil
		},
	}
}
