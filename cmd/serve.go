package cmd

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mattsolo/matrix-aibot/internal/bot"
	"github.com/mattsolo/matrix-aibot/internal/config"
	"github.com/mattsolo/matrix-aibot/internal/debug"
	"github.com/mattsolo/matrix-aibot/internal/history"
	"github.com/mattsolo/matrix-aibot/internal/platforms/discord"
	"github.com/mattsolo/matrix-aibot/internal/platforms/matrix"
	"github.com/mattsolo/matrix-aibot/internal/platforms/telegram"
	"github.com/mattsolo/matrix-aibot/internal/provider"
	"github.com/mattsolo/matrix-aibot/internal/router"
)

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	debug.SetEnabled(cfg.AI.Debug)

	store, err := history.NewStore(cfg.History.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	defer store.Close()

	// Already validated.
	width, height, _ := config.ParseImageSize(cfg.Image.Size)

	providerClient := provider.New(provider.Config{
		BaseURL:          cfg.AI.BaseURL,
		APIKey:           cfg.AI.APIKey,
		Model:            cfg.AI.Model,
		Temperature:      cfg.AI.Temperature,
		MaxTokens:        cfg.AI.MaxTokens,
		TopP:             cfg.AI.TopP,
		FrequencyPenalty: cfg.AI.FrequencyPenalty,
		PresencePenalty:  cfg.AI.PresencePenalty,
		ImageCount:       cfg.Image.Count,
		ImageSize:        cfg.Image.Size,
		TLSSkipVerify:    cfg.AI.TLSSkipVerify,
	})

	b := bot.New(bot.Config{
		CommandPrefix:   cfg.CommandPrefix,
		Allowlist:       cfg.Allowlist,
		TextAliases:     cfg.Commands.TextAliases,
		ImageAliases:    cfg.Commands.ImageAliases,
		UseChatEndpoint: cfg.AI.UseChatEndpoint,
		ImageWidth:      width,
		ImageHeight:     height,
	}, store, providerClient)

	r := router.New(b)

	if err := addPlatforms(r, cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := r.Start(ctx); err != nil {
		return err
	}

	log.Printf("[Serve] Bot running (build %s), press Ctrl+C to stop", build)
	<-ctx.Done()

	log.Printf("[Serve] Shutting down")
	r.Stop()
	return nil
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}

// addPlatforms registers every platform that has credentials configured
func addPlatforms(r *router.Router, cfg *config.Config) error {
	if m := cfg.Platforms.Matrix; m.HomeserverURL != "" {
		p, err := matrix.New(matrix.Config{
			HomeserverURL: m.HomeserverURL,
			UserID:        m.UserID,
			AccessToken:   m.AccessToken,
		})
		if err != nil {
			return err
		}
		r.AddPlatform(p)
	}

	if t := cfg.Platforms.Telegram; t.Token != "" {
		p, err := telegram.New(telegram.Config{
			Token: t.Token,
			Debug: cfg.AI.Debug,
		})
		if err != nil {
			return err
		}
		r.AddPlatform(p)
	}

	if d := cfg.Platforms.Discord; d.Token != "" {
		p, err := discord.New(discord.Config{
			Token: d.Token,
		})
		if err != nil {
			return err
		}
		r.AddPlatform(p)
	}

	return nil
}
