// Package main is the entry point for the ratecore binary. It rates
// submissions from the command line against a directory of flow, rule, and
// mapping definitions.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rately/ratecore/pkg/config"
	"github.com/rately/ratecore/pkg/domain"
	"github.com/rately/ratecore/pkg/logging"
	"github.com/rately/ratecore/pkg/provider"
	"github.com/rately/ratecore/pkg/rating"
	"github.com/rately/ratecore/pkg/telemetry"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ratecore",
		Short: "Rating pipeline engine",
		Long: `Executes configured rating flows against submission payloads.

Definitions (flows, rules, mappings, systems, lookup tables) are loaded from
a YAML directory and hot-reloaded on change.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.AddCommand(newRateCmd(), newSimulateCmd(), newValidateCmd())
	return rootCmd
}

func newRateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rate",
		Short: "Rate one submission",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRate(cmd, false)
		},
	}
	addRequestFlags(cmd)
	return cmd
}

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Rate one submission with every external system simulated",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRate(cmd, true)
		},
	}
	addRequestFlags(cmd)
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the definitions directory and report parse problems",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			store, err := provider.NewFileStore(cfg.Definitions.Dir, logger)
			if err != nil {
				return err
			}
			defer store.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "definitions OK")
			return nil
		},
	}
}

func addRequestFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("product-line", "p", "", "Product line code (required)")
	cmd.Flags().StringP("input", "i", "-", "Payload JSON file, or - for stdin")
	cmd.Flags().String("state", "", "Scope: state code")
	cmd.Flags().String("coverage", "", "Scope: coverage code")
	cmd.Flags().String("transaction-type", "", "Scope: transaction type")
	_ = cmd.MarkFlagRequired("product-line")
}

func runRate(cmd *cobra.Command, forceSimulated bool) error {
	cfg, logger, err := bootstrap(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	shutdown, err := telemetry.SetupProvider(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry setup: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = shutdown(shutdownCtx)
	}()

	store, err := provider.NewFileStore(cfg.Definitions.Dir, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	var sink provider.EventSink
	if cfg.Events.WebhookURL != "" {
		sink = provider.NewWebhookSink(cfg.Events.WebhookURL, time.Duration(cfg.Events.TimeoutMS)*time.Millisecond)
	}

	var dataset provider.Store = store
	if forceSimulated {
		dataset = simulatedSystems{Store: store}
	}

	service := rating.NewDefaultService(rating.Dependencies{
		Store:         dataset,
		Events:        sink,
		Logger:        logger,
		ScriptTimeout: time.Duration(cfg.Scripts.DefaultTimeoutMS) * time.Millisecond,
	})

	req, err := readRequest(cmd)
	if err != nil {
		return err
	}

	result, err := service.Rate(ctx, req)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func bootstrap(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.Setup(cfg.Logging)
	return cfg, logger, nil
}

func readRequest(cmd *cobra.Command) (rating.Request, error) {
	productLine, _ := cmd.Flags().GetString("product-line")
	input, _ := cmd.Flags().GetString("input")
	state, _ := cmd.Flags().GetString("state")
	coverage, _ := cmd.Flags().GetString("coverage")
	transactionType, _ := cmd.Flags().GetString("transaction-type")

	var data []byte
	var err error
	if input == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		// #nosec G304 -- operator-supplied input path
		data, err = os.ReadFile(input)
	}
	if err != nil {
		return rating.Request{}, fmt.Errorf("read payload: %w", err)
	}

	payload := make(map[string]any)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			return rating.Request{}, fmt.Errorf("parse payload: %w", err)
		}
	}

	return rating.Request{
		ProductLineCode: productLine,
		Scope: domain.Scope{
			State:           state,
			Coverage:        coverage,
			TransactionType: transactionType,
		},
		Payload: payload,
	}, nil
}

// simulatedSystems forces every resolved system into simulator routing.
type simulatedSystems struct {
	provider.Store
}

func (s simulatedSystems) System(ctx context.Context, code string) (domain.System, error) {
	system, err := s.Store.System(ctx, code)
	if err != nil {
		return domain.System{}, err
	}
	system.Mock = true
	return system, nil
}
