package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitos/crypto_trade_bot/internal/domain"
	"github.com/vitos/crypto_trade_bot/internal/infrastructure/broker"
	"github.com/vitos/crypto_trade_bot/internal/usecase"
)

// checkBrokerCmd verifies a key pair against the configured broker without
// touching the database.
func checkBrokerCmd() *cobra.Command {
	var (
		apiKey    string
		apiSecret string
		env       string
	)

	cmd := &cobra.Command{
		Use:   "check-broker",
		Short: "Check API credentials against the broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if apiKey == "" {
				apiKey = cfg.MarketData.APIKey
			}
			if apiSecret == "" {
				apiSecret = cfg.MarketData.APISecret
			}

			factory := broker.NewFactory(cfg.Broker, usecase.NewMarketCache(0))
			b, err := factory.ForCredentials(domain.Credentials{
				UserID:      "check",
				APIKey:      apiKey,
				APISecret:   apiSecret,
				Environment: domain.Environment(env),
			})
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			fmt.Printf("Checking %s broker (%s)...\n", cfg.Broker.Mode, env)

			account, err := b.GetAccount(ctx)
			if err != nil {
				if errors.Is(err, domain.ErrUnauthorized) {
					fmt.Println("❌ Credentials rejected")
				}
				return fmt.Errorf("get account: %w", err)
			}
			fmt.Printf("✅ Account %s (%s): equity=%.2f cash=%.2f buying power=%.2f\n",
				account.ID, account.Status, account.Equity, account.Cash, account.BuyingPower)

			positions, err := b.GetPositions(ctx)
			if err != nil {
				return fmt.Errorf("get positions: %w", err)
			}
			fmt.Printf("✅ %d open positions\n", len(positions))
			for _, p := range positions {
				fmt.Printf("- %s qty=%f entry=%f current=%f pl=%.2f (%.2f%%)\n",
					p.Symbol, p.Qty, p.EntryPrice, p.CurrentPrice, p.UnrealizedPl, p.UnrealizedPlPerc)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&apiKey, "key", "", "API key (defaults to market_data.api_key)")
	cmd.Flags().StringVar(&apiSecret, "secret", "", "API secret (defaults to market_data.api_secret)")
	cmd.Flags().StringVar(&env, "env", string(domain.EnvironmentPaper), "Environment: paper or live")
	return cmd
}
