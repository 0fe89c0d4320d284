package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	strduration "github.com/xhit/go-str2duration/v2"
)

const (
	ConfigFileName   = "sealchat.conf"
	keystoreFileName = "picklekey.json"
	storeDirName     = "store"

	StoreFile     = "file"
	StorePostgres = "postgres"
)

// Config is the on-disk CLI configuration. Flags override it.
type Config struct {
	// Home is where the config, keystore and file store live. It is not
	// read from the file itself.
	Home string `toml:"-"`

	UserID   string `toml:"user_id"`
	DeviceID string `toml:"device_id"`

	RelayURL string `toml:"relay"`

	Store       string `toml:"store"`
	DatabaseURL string `toml:"database_url"`

	DebugLevel string `toml:"debuglevel"`
	LogFile    string `toml:"logfile"`

	// Zero values use the service defaults. RotationAge accepts day
	// and week units, e.g. "7d" or "1w2d".
	RotationMessages int    `toml:"rotation_messages"`
	RotationAge      string `toml:"rotation_age"`
	ShareConcurrency int    `toml:"share_concurrency"`
}

// DefaultHome returns ~/.sealchat.
func DefaultHome() (string, error) {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ".sealchat"), nil
}

// LoadConfig reads <home>/sealchat.conf. A missing file yields the defaults.
func LoadConfig(home string) (Config, error) {
	cfg := Config{Home: home, Store: StoreFile, DebugLevel: "info"}
	b, err := os.ReadFile(filepath.Join(home, ConfigFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := toml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", ConfigFileName, err)
	}
	cfg.Home = home
	return cfg, cfg.Validate()
}

// Save writes cfg to <home>/sealchat.conf.
func (cfg Config) Save() error {
	if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(cfg.Home, ConfigFileName), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Validate checks the fields that have a fixed set of values.
func (cfg Config) Validate() error {
	switch cfg.Store {
	case "", StoreFile:
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return errors.New("store = \"postgres\" needs database_url")
		}
	default:
		return fmt.Errorf("unknown store %q", cfg.Store)
	}
	if cfg.RotationMessages < 0 || cfg.ShareConcurrency < 0 {
		return errors.New("rotation_messages and share_concurrency must not be negative")
	}
	if _, err := cfg.rotationAge(); err != nil {
		return err
	}
	return nil
}

func (cfg Config) keystorePath() string { return filepath.Join(cfg.Home, keystoreFileName) }
func (cfg Config) storeDir() string     { return filepath.Join(cfg.Home, storeDirName) }

func (cfg Config) rotationAge() (time.Duration, error) {
	if cfg.RotationAge == "" {
		return 0, nil
	}
	d, err := strduration.ParseDuration(cfg.RotationAge)
	if err != nil {
		return 0, fmt.Errorf("rotation_age: %w", err)
	}
	if d < 0 {
		return 0, errors.New("rotation_age must not be negative")
	}
	return d, nil
}
