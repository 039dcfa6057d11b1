package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vitos/crypto_trade_bot/internal/infrastructure/storage"
)

func debugDBCmd() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "debug-db",
		Short: "Dump stored bot state",
		Long:  "Without --user lists every active bot; with --user dumps that user's settings, positions, trades and logs.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := storage.NewSQLiteStore(cfg.Storage.Path)
			if err != nil {
				return fmt.Errorf("init sqlite: %w", err)
			}
			defer store.Close()

			ctx := cmd.Context()
			if user == "" {
				return dumpActive(ctx, store)
			}
			return dumpUser(ctx, store, user)
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "User ID to dump")
	return cmd
}

func dumpActive(ctx context.Context, store *storage.SQLiteStore) error {
	active, err := store.ListActiveBotSettings(ctx)
	if err != nil {
		return fmt.Errorf("list active bots: %w", err)
	}
	fmt.Printf("Found %d active bots:\n", len(active))
	for _, s := range active {
		fmt.Printf("- %s strategy=%s risk=%d frequency=%s\n", s.UserID, s.Strategy, s.RiskLevel, s.TradingFrequency)
	}
	return nil
}

func dumpUser(ctx context.Context, store *storage.SQLiteStore, user string) error {
	settings, err := store.GetBotSettings(ctx, user)
	if err != nil {
		return fmt.Errorf("get settings: %w", err)
	}
	fmt.Printf("Settings: active=%t strategy=%s risk=%d frequency=%s\n",
		settings.IsActive, settings.Strategy, settings.RiskLevel, settings.TradingFrequency)

	if _, err := store.GetCredentials(ctx, user); err != nil {
		fmt.Printf("⚠️ No API credentials: %v\n", err)
	} else {
		fmt.Println("✅ API credentials stored")
	}

	positions, err := store.ListPositions(ctx, user)
	if err != nil {
		return fmt.Errorf("list positions: %w", err)
	}
	fmt.Printf("Positions (%d):\n", len(positions))
	for _, p := range positions {
		fmt.Printf("- %s qty=%f entry=%f current=%f pl=%.2f\n", p.Symbol, p.Qty, p.EntryPrice, p.CurrentPrice, p.UnrealizedPl)
	}

	trades, err := store.ListTrades(ctx, user, 10)
	if err != nil {
		return fmt.Errorf("list trades: %w", err)
	}
	fmt.Printf("Last trades (%d):\n", len(trades))
	for _, t := range trades {
		fmt.Printf("- %s %s %s qty=%f price=%f status=%s\n",
			t.Timestamp.Format("2006-01-02 15:04:05"), t.Symbol, t.Side, t.Qty, t.Price, t.Status)
	}

	logs, err := store.ListLogs(ctx, user, 20)
	if err != nil {
		return fmt.Errorf("list logs: %w", err)
	}
	fmt.Printf("Last logs (%d):\n", len(logs))
	for _, l := range logs {
		fmt.Printf("- %s [%s] %s\n", l.Timestamp.Format("2006-01-02 15:04:05"), l.Level, l.Message)
	}
	return nil
}
