package config

import (
	"fmt"
	"log/slog"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watch re-reads the config file whenever it changes on disk and passes the
// new, validated configuration to onChange. Edits that fail validation are
// logged and dropped; the previous configuration stays in effect.
func Watch(configPath string, onChange func(*Config)) error {
	v, err := newViper(configPath)
	if err != nil {
		return err
	}
	if v.ConfigFileUsed() == "" {
		return fmt.Errorf("no config file to watch")
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		handleConfigEvent(v, e, onChange)
	})
	v.WatchConfig()
	slog.Info("watching config file for changes", "path", v.ConfigFileUsed())
	return nil
}

func handleConfigEvent(v *viper.Viper, e fsnotify.Event, onChange func(*Config)) {
	if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
		return
	}
	cfg, err := decode(v)
	if err != nil {
		slog.Warn("ignoring invalid config change", "path", e.Name, "error", err)
		return
	}
	slog.Info("config file changed", "path", e.Name)
	onChange(cfg)
}
