package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/papertalk/papertalk/internal/profile"
	"github.com/papertalk/papertalk/server"
	"github.com/papertalk/papertalk/store"
	"github.com/papertalk/papertalk/store/db"
)

const version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "papertalk",
	Short: "A document Q&A service with auto-saved conversations",
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		instanceProfile := &profile.Profile{
			Mode:              viper.GetString("mode"),
			Addr:              viper.GetString("addr"),
			Port:              viper.GetInt("port"),
			Data:              viper.GetString("data"),
			Driver:            viper.GetString("driver"),
			DSN:               viper.GetString("dsn"),
			APIToken:          viper.GetString("api-token"),
			AIBaseURL:         viper.GetString("ai-base-url"),
			AIAPIKey:          viper.GetString("ai-api-key"),
			AIChatModel:       viper.GetString("ai-chat-model"),
			TikaServerURL:     viper.GetString("tika-server-url"),
			ChatRatePerMinute: viper.GetInt("chat-rate-per-minute"),
			Version:           version,
		}
		if err := instanceProfile.Validate(); err != nil {
			return fmt.Errorf("invalid profile: %w", err)
		}

		driver, err := db.NewDBDriver(instanceProfile)
		if err != nil {
			return fmt.Errorf("create db driver: %w", err)
		}

		storeInstance := store.New(driver, instanceProfile)
		defer storeInstance.Close()
		if err := storeInstance.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}

		s, err := server.New(ctx, instanceProfile, storeInstance)
		if err != nil {
			return fmt.Errorf("create server: %w", err)
		}
		if err := s.Start(ctx); err != nil {
			slog.Error("server error", "error", err)
			return err
		}
		return nil
	},
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("addr", "")
	viper.SetDefault("port", 8230)
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("ai-chat-model", "gpt-4o-mini")
	viper.SetDefault("chat-rate-per-minute", 20)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of the server, one of "prod", "dev"`)
	rootCmd.PersistentFlags().String("addr", "", "address of the server")
	rootCmd.PersistentFlags().Int("port", 8230, "port of the server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", `database driver, one of "sqlite", "postgres"`)
	rootCmd.PersistentFlags().String("dsn", "", "database source name")

	for _, flag := range []string{"mode", "addr", "port", "data", "driver", "dsn"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("papertalk")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
