package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tapfed/tapfed-node/relayer/config"
	"github.com/tapfed/tapfed-node/relayer/core"
	"github.com/tapfed/tapfed-node/relayer/logger"
	"github.com/tapfed/tapfed-node/tapfed/threshold"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func InitRootCmd(rootCmd *cobra.Command) {
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(initConfigCmd())
	rootCmd.AddCommand(keygenCmd())
	rootCmd.AddCommand(versionCmd())
}

func homeFlag(cmd *cobra.Command) string {
	home, _ := cmd.Flags().GetString("home")
	return home
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the cross-ledger mirror relayer",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := homeFlag(cmd)

			cfg, err := config.Load(home)
			if err != nil {
				return err
			}
			log := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.LogSampler)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client, err := core.NewRelayerClient(ctx, cfg, home, config.RelayerKeyFromEnv(), log)
			if err != nil {
				return err
			}
			if err := client.Start(ctx); err != nil {
				return err
			}

			<-ctx.Done()
			client.Stop()
			return nil
		},
	}
}

func initConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Write the default configuration to the home directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := homeFlag(cmd)
			cfg, err := config.Load(home)
			if err != nil {
				return err
			}
			if err := config.Save(cfg, home); err != nil {
				return err
			}
			fmt.Printf("Config written under %s\n", home)
			return nil
		},
	}
}

func keygenCmd() *cobra.Command {
	var n, t int
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate threshold key shares and public parameters",
		Long: `Runs the trusted-dealer key generation for the (T,N) threshold scheme
and writes public_params.json plus one share_<id>.json per holder under
<home>/keys. Distribute each share file to exactly one holder and delete
the local copies; the dealer must not retain them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			home := homeFlag(cmd)

			params, shares, err := threshold.Generate(n, t, nil)
			if err != nil {
				return err
			}

			keysDir := filepath.Join(home, "keys")
			if err := os.MkdirAll(keysDir, 0o700); err != nil {
				return err
			}

			if err := writeJSON(filepath.Join(keysDir, "public_params.json"), params); err != nil {
				return err
			}
			for _, share := range shares {
				name := fmt.Sprintf("share_%d.json", share.ParticipantID)
				if err := writeJSON(filepath.Join(keysDir, name), share); err != nil {
					return err
				}
			}

			fmt.Printf("Generated %d shares (threshold %d) under %s\n", n, t, keysDir)
			return nil
		},
	}
	cmd.Flags().IntVar(&n, "n", 5, "number of key share holders")
	cmd.Flags().IntVar(&t, "t", 3, "decryption threshold")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print tapfedd version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tapfedd %s\n", Version)
		},
	}
}

func writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}
