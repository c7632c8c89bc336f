// Package config loads the single environment config map named by
// spec §6: TopDir, BinDir, LogDir, ServerHost, ServerPort,
// XferLogLevel, RefCntFsck. The teacher (juicefs) has no file-based
// config of its own — it's configured entirely by CLI flags plus a
// meta-engine URL — so this loader is enriched from the rest of the
// retrieval pack: GoogleCloudPlatform-gcsfuse carries spf13/viper for
// exactly this flags+file+env layering.
package config

import (
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the environment config map consumed by the engine and
// both CLIs.
type Config struct {
	TopDir       string `mapstructure:"topdir"`
	BinDir       string `mapstructure:"bindir"`
	LogDir       string `mapstructure:"logdir"`
	ServerHost   string `mapstructure:"serverhost"`
	ServerPort   int    `mapstructure:"serverport"`
	XferLogLevel int    `mapstructure:"xferloglevel"`
	RefCntFsck   int    `mapstructure:"refcntfsck"`
}

// defaults applied before any file/env override is read.
func defaults() Config {
	return Config{
		TopDir:       "/var/lib/backuppc",
		BinDir:       "/usr/share/backuppc/bin",
		LogDir:       "/var/log/backuppc",
		ServerHost:   "localhost",
		ServerPort:   4827,
		XferLogLevel: 1,
		RefCntFsck:   1,
	}
}

// Load reads BackupPC.toml from the given search paths, or the file at
// explicitPath instead if it is non-empty. BPC_* environment variables
// (e.g. BPC_TOPDIR) override the file's values, which override the
// built-in defaults.
func Load(explicitPath string, searchPaths ...string) (*Config, error) {
	v := viper.New()
	d := defaults()
	v.SetDefault("topdir", d.TopDir)
	v.SetDefault("bindir", d.BinDir)
	v.SetDefault("logdir", d.LogDir)
	v.SetDefault("serverhost", d.ServerHost)
	v.SetDefault("serverport", d.ServerPort)
	v.SetDefault("xferloglevel", d.XferLogLevel)
	v.SetDefault("refcntfsck", d.RefCntFsck)

	v.SetEnvPrefix("BPC")
	v.AutomaticEnv()

	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		v.SetConfigName("BackupPC")
		v.SetConfigType("toml")
		for _, p := range searchPaths {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	return &cfg, nil
}
