package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"wms/internal/platform/config"
	"wms/internal/platform/database"
	"wms/internal/settings"
)

// adminCommand is a one-shot maintenance task run instead of the server.
type adminCommand struct {
	migrate string
	setting string
}

func (c adminCommand) requested() bool {
	return c.migrate != "" || c.setting != ""
}

func (c adminCommand) validate() error {
	switch c.migrate {
	case "", "up", "down", "version":
	default:
		return fmt.Errorf("invalid -migrate value %q (must be up, down or version)", c.migrate)
	}
	if c.setting != "" {
		if _, _, err := parseSetting(c.setting); err != nil {
			return err
		}
	}
	return nil
}

// parseSetting splits KEY=VALUE. The key is trimmed; the value is kept as given.
func parseSetting(raw string) (key, value string, err error) {
	key, value, ok := strings.Cut(raw, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", "", fmt.Errorf("invalid setting %q (expected KEY=VALUE)", raw)
	}
	return key, value, nil
}

func runAdmin(ctx context.Context, cfg *config.Config, log *slog.Logger, cmd adminCommand) error {
	if err := cmd.validate(); err != nil {
		return err
	}
	if !cfg.Database.Enabled() {
		return errors.New("admin commands need database.host or database.url")
	}
	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	switch cmd.migrate {
	case "up", "down":
		if err := database.RunMigrations(db, cmd.migrate); err != nil {
			return err
		}
		log.Info("schema migrations applied", "direction", cmd.migrate)
		fallthrough
	case "version":
		version, dirty, err := database.MigrationVersion(db)
		if err != nil {
			return err
		}
		log.Info("schema version", "version", version, "dirty", dirty)
	}

	if cmd.setting != "" {
		key, value, _ := parseSetting(cmd.setting)
		if err := settings.NewPostgresSource(db).Set(ctx, key, value); err != nil {
			return err
		}
		log.Info("setting stored", "key", key)
	}
	return nil
}
