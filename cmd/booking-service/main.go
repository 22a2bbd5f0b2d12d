package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/grpc"

	"github.com/phatdat20905/ev-co-ownership-system-sub003/internal/booking"
	"github.com/phatdat20905/ev-co-ownership-system-sub003/internal/cache"
	"github.com/phatdat20905/ev-co-ownership-system-sub003/internal/common/config"
	"github.com/phatdat20905/ev-co-ownership-system-sub003/internal/common/db"
	"github.com/phatdat20905/ev-co-ownership-system-sub003/internal/common/logger"
	commonredis "github.com/phatdat20905/ev-co-ownership-system-sub003/internal/common/redis"
	"github.com/phatdat20905/ev-co-ownership-system-sub003/internal/common/server"
	"github.com/phatdat20905/ev-co-ownership-system-sub003/internal/common/tracing"
	"github.com/phatdat20905/ev-co-ownership-system-sub003/internal/group"
	"github.com/phatdat20905/ev-co-ownership-system-sub003/internal/scheduler"
	"github.com/phatdat20905/ev-co-ownership-system-sub003/internal/vehicle"
)

func main() {
	var (
		configPath = flag.String("config", "configs/booking-service.json", "path to config file")
		consulKey  = flag.String("consul-config-key", "", "load config from Consul KV instead of the file")
	)
	flag.Parse()

	var cfg *config.Config
	var err error
	if *consulKey != "" {
		base := config.GetConfig()
		cfg, err = config.LoadConfigFromConsulKV(base.Consul.Host, base.Consul.Port, *consulKey)
	} else {
		cfg, err = config.LoadConfig(*configPath)
	}
	if err != nil {
		panic(err)
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, cfg.Log.Output, cfg.Log.Path)
	if err != nil {
		panic(err)
	}

	tracer, closer, err := tracing.InitTracer(cfg.Server.Name, cfg.Jaeger.Endpoint, cfg.Jaeger.Sampler)
	if err != nil {
		log.Warnf("tracing disabled: %v", err)
	} else {
		_ = tracer
		defer closer.Close()
	}

	gormDB, err := db.NewMySQL(
		cfg.Database.Host, cfg.Database.Port,
		cfg.Database.User, cfg.Database.Password, cfg.Database.Database,
		cfg.Database.MaxIdle, cfg.Database.MaxOpen,
	)
	if err != nil {
		log.Fatalf("failed to connect to MySQL: %v", err)
	}

	store := booking.NewGormStore(gormDB)
	if err := store.AutoMigrate(); err != nil {
		log.Fatalf("failed to migrate schema: %v", err)
	}

	// Redis backs the availability cache and the job locks. Without it the
	// engine still runs, on a process-local cache and locker.
	var bookingCache booking.Cache
	var locker booking.Locker
	if redisClient, err := commonredis.NewClient(cfg.Redis); err != nil {
		log.Warnf("redis unavailable, using in-process cache and locks: %v", err)
		bookingCache = cache.NewMemoryCache()
		locker = cache.NewMemoryLocker()
	} else {
		bookingCache = cache.NewRedisCache(redisClient)
		locker = cache.NewRedisLocker(redisClient)
	}

	clock := booking.RealClock()
	membership := group.NewClient(cfg.Membership, log)
	publisher := booking.NewRetryPublisher(booking.NewLoggingPublisher(log), 3, 200*time.Millisecond, log)

	validator := booking.NewValidator(store, clock, cfg.Booking)
	scorer := booking.NewScorer(store, membership, clock, log)
	avail := booking.NewAvailabilityIndex(store, bookingCache, clock, cfg.Booking.CacheTTL, log)
	detector := booking.NewDetector(store, membership, publisher, clock, cfg.Booking, log)
	svc := booking.NewService(store, validator, scorer, avail, detector, publisher, clock, cfg.Booking, log)
	checks := booking.NewCheckHandler(store, avail, publisher, clock, cfg.Booking, log)

	jobs := scheduler.New(store, detector, avail, publisher, locker, clock, cfg.Jobs, log)
	if err := jobs.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer jobs.Stop()

	// JSON/HTTP API for the gateway.
	handler := booking.NewHTTPHandler(svc, checks, avail, log)
	mux := handler.Routes()
	vehicle.NewHTTPHandler(vehicle.NewRepo(gormDB), log).Register(mux)
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Infof("http api listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server exited: %v", err)
		}
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(ctx)
	}()

	// Business protos are registered here once the booking API definitions
	// land; until then the gRPC side exposes health and reflection for the
	// gateway's checks.
	if err := server.RunGRPCServer(cfg, log, func(s *grpc.Server) error {
		return nil
	}); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
