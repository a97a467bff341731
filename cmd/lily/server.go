package main

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/lily/internal/handlers"
	"github.com/Ramsey-B/lily/pkg/applier"
	"github.com/Ramsey-B/lily/pkg/directory"
	"github.com/Ramsey-B/lily/pkg/httpclient"
	"github.com/Ramsey-B/lily/pkg/importer"
	"github.com/Ramsey-B/lily/pkg/lease"
	"github.com/Ramsey-B/lily/pkg/middleware"
	"github.com/Ramsey-B/lily/pkg/reconcile"
	"github.com/Ramsey-B/lily/pkg/redis"
	"github.com/Ramsey-B/lily/pkg/repositories"
	"github.com/Ramsey-B/lily/pkg/wikidata"
	"github.com/Ramsey-B/lily/pkg/worldsync"
)

func (a *app) newEcho(ctx context.Context) (*echo.Echo, error) {
	policy, err := reconcile.ParseDiocesePolicy(a.cfg.SyncAmbiguousDiocesePolicy)
	if err != nil {
		return nil, err
	}

	countries := repositories.NewCountryRepository(a.db, a.logger)
	dioceses := repositories.NewDioceseRepository(a.db, a.logger)
	churches := repositories.NewChurchRepository(a.db, a.logger)
	loader := directory.NewLoader(countries, dioceses, churches, a.cfg.SyncIndexPageSize, a.logger)

	httpCfg := httpclient.DefaultConfig()
	httpCfg.UserAgent = a.cfg.SyncUserAgent
	// the per-request context carries the real deadline
	if httpCfg.Timeout < a.cfg.SyncSourceTimeout+5*time.Second {
		httpCfg.Timeout = a.cfg.SyncSourceTimeout + 5*time.Second
	}
	source := wikidata.NewClient(httpclient.NewClient(httpCfg, a.logger), wikidata.Config{
		Endpoint:      a.cfg.SyncSourceEndpoint,
		Timeout:       a.cfg.SyncSourceTimeout,
		LabelLanguage: a.cfg.SyncSourceLabelLanguage,
		Limits: wikidata.Limits{
			Default: a.cfg.SyncLimitDefault,
			Min:     a.cfg.SyncLimitMin,
			Max:     a.cfg.SyncLimitMax,
		},
	}, a.logger).WithRateLimit(redis.NewRateLimiter(a.redis, "lily:ratelimit:"), wikidata.RateLimit{
		Requests: a.cfg.SyncSourceRateLimit,
		Window:   a.cfg.SyncSourceRateWindow,
	})

	leases := lease.NewManager(redis.NewLocker(a.redis, ""), a.cfg.SyncLeaseKey, a.cfg.SyncLeaseTTL, a.logger)
	mutations := applier.NewApplier(churches, a.recorder, a.cfg.SyncInsertChunkSize, a.logger)

	syncService := worldsync.NewService(source, loader, mutations, leases, churches, a.recorder, reconcile.Options{
		AmbiguousDiocese: policy,
	}, a.logger)
	churchImporter := importer.NewImporter(a.db, loader, churches, a.recorder, importer.Options{
		ChunkSize: a.cfg.SyncInsertChunkSize,
		MaxRows:   a.cfg.ImportMaxRows,
	}, a.logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(a.logger)

	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: a.cfg.AllowOrigins,
		AllowMethods: a.cfg.AllowMethods,
	}))
	e.Use(otelecho.Middleware(a.cfg.AppName))
	e.Use(middleware.Context(!a.cfg.AuthEnabled))
	e.Use(middleware.Logger(a.logger))

	a.health.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	admin := e.Group("")
	if a.cfg.AuthEnabled {
		auth, err := middleware.Authentication(ctx, a.logger, a.cfg.AuthIssuerURL, a.cfg.AuthClientID, a.cfg.AuthRequiredRole)
		if err != nil {
			return nil, err
		}
		admin.Use(auth)
	}

	handlers.NewSyncHandler(syncService).RegisterRoutes(admin)
	handlers.NewImportHandler(churchImporter, a.cfg.ImportMaxUploadBytes).RegisterRoutes(admin)
	handlers.NewAuditHandler(a.deadLetters).RegisterRoutes(admin)

	return e, nil
}
