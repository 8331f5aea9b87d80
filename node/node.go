// Package node assembles a running ridemesh peer from its parts: storage,
// archival, the libp2p overlay, and the role services, glued together by the
// message router.
package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ridemesh/go-ridemesh/archive"
	"github.com/ridemesh/go-ridemesh/config"
	"github.com/ridemesh/go-ridemesh/dedup"
	"github.com/ridemesh/go-ridemesh/delivery"
	"github.com/ridemesh/go-ridemesh/driver"
	"github.com/ridemesh/go-ridemesh/events"
	"github.com/ridemesh/go-ridemesh/p2p"
	"github.com/ridemesh/go-ridemesh/p2p/server"
	"github.com/ridemesh/go-ridemesh/rider"
	"github.com/ridemesh/go-ridemesh/rideshare"
	"github.com/ridemesh/go-ridemesh/store"
	"github.com/ridemesh/go-ridemesh/types"
)

// App is a fully wired ridemesh peer.
type App struct {
	logger   *zap.Logger
	cfg      config.Config
	kv       store.KV
	records  *store.Store
	archiver *archive.Client
	reporter *events.Reporter
	filter   *dedup.Filter

	host      *p2p.Host
	riderSvc  *rider.Service
	driverSvc *driver.Service
	shareSvc  *rideshare.Service

	eg     errgroup.Group
	cancel context.CancelFunc
}

// New prepares the offline parts of the node. Start brings up the network.
func New(logger *zap.Logger, cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var kv store.KV
	if cfg.DataDir == "" {
		kv = store.NewMem()
	} else {
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		ldb, err := store.NewLDB(filepath.Join(cfg.DataDir, "store"), logger.Named("store"))
		if err != nil {
			return nil, err
		}
		kv = ldb
	}
	return &App{
		logger:   logger,
		cfg:      cfg,
		kv:       kv,
		records:  store.New(kv, logger.Named("store")),
		archiver: archive.New(logger.Named("archive"), cfg.Archive),
		reporter: events.NewReporter(logger.Named("events"), 256),
		filter:   dedup.New(cfg.Dedup),
	}, nil
}

// Start connects to the overlay and launches the role services. A relay that
// stays unreachable through all attempts is a fatal startup error.
func (app *App) Start(ctx context.Context) error {
	ctx, app.cancel = context.WithCancel(ctx)

	p2pCfg := app.cfg.P2P
	p2pCfg.DataDir = app.cfg.DataDir
	host, err := p2p.New(ctx, app.logger.Named("p2p"), p2pCfg)
	if err != nil {
		return fmt.Errorf("initialize p2p host: %w", err)
	}
	app.host = host
	if err := host.ConnectToRelay(ctx); err != nil {
		return fmt.Errorf("connect to relay: %w", err)
	}
	app.reporter.Emit(events.TypeRelayConnected, "attached to the broadcast mesh", host.ID().String())

	profile := types.Contact{
		Name:         app.cfg.Name,
		Phone:        app.cfg.Phone,
		ProfileImage: app.cfg.ProfileImage,
		PeerID:       host.ID().String(),
	}
	profile.Normalize()
	if err := app.records.SetProfile(app.cfg.Role == config.RoleDriver, profile); err != nil {
		app.logger.Warn("failed to cache profile", zap.Error(err))
	}

	sender := delivery.New(app.logger.Named("delivery"), host.PubSub, host)
	switch app.cfg.Role {
	case config.RoleRider:
		app.riderSvc = rider.New(sender, app.records, app.reporter,
			config.TopicRideRequests, host.ID(),
			rider.WithLog(app.logger.Named("rider")))
	case config.RoleDriver:
		app.driverSvc = driver.New(sender, app.records, app.archiver, app.reporter,
			driver.Topics{
				Primary:     config.TopicRideRequests,
				SharePosts:  config.TopicSharePosts,
				AcceptProto: config.ProtoAcceptRide,
			},
			host.ID(),
			driver.WithLog(app.logger.Named("driver")),
			driver.WithProfile(profile),
			driver.WithVehicle(app.cfg.Vehicle, app.cfg.VehicleSeats),
		)
	}
	app.shareSvc = rideshare.New(sender, app.reporter,
		rideshare.Topics{
			Posts:      config.TopicSharePosts,
			Requests:   config.TopicShareRequests,
			ShareProto: config.ProtoRideShare,
		},
		host.ID(),
		rideshare.WithLog(app.logger.Named("rideshare")),
		rideshare.WithProfile(profile),
	)

	rt := &router{
		logger: app.logger.Named("router"),
		filter: app.filter,
		rider:  app.riderSvc,
		driver: app.driverSvc,
		share:  app.shareSvc,
	}
	if err := host.Register(config.TopicRideRequests, rt.primary); err != nil {
		return err
	}
	if err := host.Register(config.TopicSharePosts, rt.posts); err != nil {
		return err
	}
	if err := host.Register(config.TopicShareRequests, rt.requests); err != nil {
		return err
	}

	accept := server.New(host, config.ProtoAcceptRide, rt.acceptDirect,
		server.WithLog(app.logger.Named("accept-srv")))
	share := server.New(host, config.ProtoRideShare, rt.shareDirect,
		server.WithLog(app.logger.Named("share-srv")))
	app.eg.Go(func() error { return accept.Run(ctx) })
	app.eg.Go(func() error { return share.Run(ctx) })

	if err := host.Start(); err != nil {
		return err
	}
	host.DiscoverPeers(ctx)

	if app.cfg.MetricsListen != "" {
		app.startMetrics(ctx)
	}
	app.logger.Info("node started",
		zap.String("role", app.cfg.Role),
		zap.Stringer("identity", host.ID()),
	)
	return nil
}

func (app *App) startMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: app.cfg.MetricsListen, Handler: mux}
	app.eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("metrics listener failed", zap.Error(err))
		}
		return nil
	})
	app.eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// Rider returns the rider service, nil unless the node runs the rider role.
func (app *App) Rider() *rider.Service { return app.riderSvc }

// Driver returns the driver service, nil unless the node runs the driver
// role.
func (app *App) Driver() *driver.Service { return app.driverSvc }

// Share returns the carpool service.
func (app *App) Share() *rideshare.Service { return app.shareSvc }

// Events returns the user event stream.
func (app *App) Events() <-chan events.UserEvent { return app.reporter.Events() }

// Host returns the p2p host, nil before Start.
func (app *App) Host() *p2p.Host { return app.host }

// Stop shuts the node down.
func (app *App) Stop() {
	if app.cancel != nil {
		app.cancel()
	}
	app.eg.Wait()
	if app.host != nil {
		if err := app.host.Stop(); err != nil {
			app.logger.Warn("error stopping host", zap.Error(err))
		}
	}
	if err := app.kv.Close(); err != nil {
		app.logger.Warn("error closing store", zap.Error(err))
	}
}
