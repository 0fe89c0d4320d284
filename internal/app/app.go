package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"sealchat/internal/domain"
	"sealchat/internal/keylock"
	"sealchat/internal/metrics"
	"sealchat/internal/picklekey"
	"sealchat/internal/protocol/olm"
	"sealchat/internal/relay"
	"sealchat/internal/services/account"
	"sealchat/internal/services/codec"
	"sealchat/internal/services/distributor"
	"sealchat/internal/services/group"
	"sealchat/internal/services/pairwise"
	"sealchat/internal/store"
)

// ErrNotInitialised is returned by Open when Init has not been run for the
// home directory.
var ErrNotInitialised = errors.New("no device here yet, run init first")

// App is the wired session layer for one local device.
type App struct {
	Config  Config
	Log     *LogBackend
	Metrics *metrics.Metrics

	Store    domain.SessionStore
	Accounts *account.Service
	Pairwise *pairwise.Manager
	Group    *group.Manager
	Codec    *codec.Codec

	// Relay is nil when no relay URL is configured.
	Relay *relay.HTTP

	closers []func()
}

// Init creates a device in cfg.Home: a random pickle key sealed under
// passphrase, a device id, an account, and the config file.
func Init(ctx context.Context, cfg Config, passphrase string, logOut io.Writer) (*App, account.Info, error) {
	if store.KeystoreExists(cfg.keystorePath()) {
		return nil, account.Info{}, fmt.Errorf("%s already holds a device", cfg.Home)
	}
	if err := checkPassphrase(passphrase); err != nil {
		return nil, account.Info{}, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, account.Info{}, err
	}

	var key domain.PickleKey
	if _, err := rand.Read(key[:]); err != nil {
		return nil, account.Info{}, err
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.NewString()
	}
	if err := cfg.Save(); err != nil {
		return nil, account.Info{}, err
	}
	if err := store.SavePickleKey(cfg.keystorePath(), passphrase, key, store.DefaultScryptParams); err != nil {
		return nil, account.Info{}, err
	}

	a, err := open(ctx, cfg, key, logOut)
	if err != nil {
		return nil, account.Info{}, err
	}
	info, err := a.Accounts.Create(ctx)
	if err != nil {
		a.Close()
		return nil, account.Info{}, err
	}
	return a, info, nil
}

// Open unlocks the keystore in cfg.Home and wires the services.
func Open(ctx context.Context, cfg Config, passphrase string, logOut io.Writer) (*App, error) {
	if !store.KeystoreExists(cfg.keystorePath()) || cfg.DeviceID == "" {
		return nil, ErrNotInitialised
	}
	key, err := store.LoadPickleKey(cfg.keystorePath(), passphrase)
	if err != nil {
		return nil, err
	}
	return open(ctx, cfg, key, logOut)
}

func open(ctx context.Context, cfg Config, key domain.PickleKey, logOut io.Writer) (*App, error) {
	logs, err := NewLogBackend(cfg.LogFile, cfg.DebugLevel, logOut)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Log: logs, Metrics: metrics.New()}
	a.closers = append(a.closers, func() { logs.Close() })

	device := domain.DeviceID(cfg.DeviceID)
	locker := keylock.Multi{keylock.New()}

	switch cfg.Store {
	case StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		pg, err := store.NewPostgresStore(pool, device, store.WithLogger(logs.Logger(SubsysStore)))
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, pg.Close)
		if err := pg.Migrate(ctx); err != nil {
			a.Close()
			return nil, err
		}
		a.Store = pg
		locker = append(locker, pg)
	default:
		fs := store.NewFileStore(cfg.storeDir(), logs.Logger(SubsysStore))
		a.Store = fs
		locker = append(locker, fs)
	}

	rotationAge, err := cfg.rotationAge()
	if err != nil {
		a.Close()
		return nil, err
	}

	lib := olm.New()
	keys := picklekey.NewStatic(key)

	a.Accounts = account.New(account.Config{
		Store:  a.Store,
		Cipher: lib,
		Keys:   keys,
		Locker: locker,
		Log:    logs.Logger(SubsysApp),
	})
	a.Pairwise = pairwise.New(pairwise.Config{
		Store:    a.Store,
		Cipher:   lib,
		Keys:     keys,
		Locker:   locker,
		Log:      logs.Logger(SubsysPairwise),
		DeviceID: device,
	})
	a.Group = group.New(group.Config{
		Store:            a.Store,
		Cipher:           lib,
		Keys:             keys,
		Identity:         a.Pairwise,
		Locker:           locker,
		Log:              logs.Logger(SubsysGroup),
		Metrics:          a.Metrics,
		RotationMessages: cfg.RotationMessages,
		RotationAge:      rotationAge,
		Now:              time.Now,
	})
	dist := distributor.New(distributor.Config{
		Pairwise:    a.Pairwise,
		Log:         logs.Logger(SubsysDistributor),
		Metrics:     a.Metrics,
		Concurrency: cfg.ShareConcurrency,
	})
	a.Codec = codec.New(codec.Config{
		DeviceID:    device,
		Store:       a.Store,
		Pairwise:    a.Pairwise,
		Group:       a.Group,
		Distributor: dist,
		Log:         logs.Logger(SubsysCodec),
		Metrics:     a.Metrics,
	})

	if cfg.RelayURL != "" {
		a.Relay = relay.NewHTTP(cfg.RelayURL, logs.Logger(SubsysRelay))
	}
	return a, nil
}

// Claim returns the relay's claim func, or nil when no relay is configured.
func (a *App) Claim() domain.ClaimPrekeyFunc {
	if a.Relay == nil {
		return nil
	}
	return a.Relay.ClaimFunc()
}

// Close releases the store connection and the log file.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
