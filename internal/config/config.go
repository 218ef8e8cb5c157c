package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Database DatabaseConfig
	Security SecurityConfig
	Archive  ArchiveConfig
	Import   ImportConfig
}

// DatabaseConfig holds encrypted sqlite settings.
type DatabaseConfig struct {
	Path string
}

// SecurityConfig holds key-derivation settings. The salt file is not
// secret and lives next to the database, unencrypted.
type SecurityConfig struct {
	SaltPath         string `mapstructure:"salt_path"`
	Argon2Time       uint32 `mapstructure:"argon2_time"`
	Argon2MemoryKiB  uint32 `mapstructure:"argon2_memory_kib"`
	Argon2Threads    uint8  `mapstructure:"argon2_threads"`
	PasswordEnv      string `mapstructure:"password_env"`
	MinPasswordChars int    `mapstructure:"min_password_chars"`
}

// ArchiveConfig holds encrypted statement-archive settings.
type ArchiveConfig struct {
	Dir string
}

// ImportConfig holds ingestion settings. Strict aborts a whole batch on
// the first bad record instead of skipping it.
type ImportConfig struct {
	Strict bool
}

// Load reads configuration from file and env. Env var overrides use prefix BUDGY_.
func Load() (Config, error) {
	v := viper.New()

	dataDir := filepath.Join(os.Getenv("HOME"), ".local", "share", "budgy")
	v.SetDefault("database.path", filepath.Join(dataDir, "budgy.db"))
	v.SetDefault("security.salt_path", "")
	v.SetDefault("security.argon2_time", 3)
	v.SetDefault("security.argon2_memory_kib", 64*1024)
	v.SetDefault("security.argon2_threads", 1)
	v.SetDefault("security.password_env", "BUDGY_MASTER_PASSWORD")
	v.SetDefault("security.min_password_chars", 8)
	v.SetDefault("archive.dir", filepath.Join(dataDir, "archives"))
	v.SetDefault("import.strict", false)

	v.SetConfigType("toml")

	cfgPath := os.Getenv("BUDGY_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "budgy"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("BUDGY")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// read config file if present
	_ = v.ReadInConfig()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if c.Security.SaltPath == "" {
		c.Security.SaltPath = c.Database.Path + ".salt.json"
	}
	return c, nil
}

// Save writes the provided config to disk, creating the config directory
// if needed. Only non-sensitive preferences live here; keys and passwords
// never touch the config file.
func Save(cfg Config) error {
	path := os.Getenv("BUDGY_CONFIG")
	if path == "" {
		path = filepath.Join(os.Getenv("HOME"), ".config", "budgy", "config.toml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("database.path", cfg.Database.Path)
	v.Set("security.salt_path", cfg.Security.SaltPath)
	v.Set("security.argon2_time", cfg.Security.Argon2Time)
	v.Set("security.argon2_memory_kib", cfg.Security.Argon2MemoryKiB)
	v.Set("security.argon2_threads", cfg.Security.Argon2Threads)
	v.Set("security.password_env", cfg.Security.PasswordEnv)
	v.Set("security.min_password_chars", cfg.Security.MinPasswordChars)
	v.Set("archive.dir", cfg.Archive.Dir)
	v.Set("import.strict", cfg.Import.Strict)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
