package main

import (
	"context"
	"log"
	"os"
	"time"

	"datalens/internal/api"
	"datalens/internal/config"
	"datalens/internal/redis"
	"datalens/internal/service/analysis"
	"datalens/internal/service/dataset"
	"datalens/internal/storage"
	"datalens/internal/worker"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("DATALENS_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("DATALENS_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Printf("dbType: %s\n", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	// Create necessary tables: files, file_rows
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	datasetService, err := dataset.NewService(db, cfg.BasicConfig.UploadDir, cfg.MaxUploadBytes(), cfg.BasicConfig.AllowedExtensions)
	if err != nil {
		log.Fatalf("init dataset service: %v", err)
	}
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	sweepInterval := time.Duration(cfg.BasicConfig.OrphanSweep) * time.Minute
	if sweepInterval <= 0 {
		sweepInterval = dataset.DefaultOrphanSweepInterval
	}
	datasetService.StartOrphanSweeper(sweepCtx, sweepInterval)

	// Redis is a cache tier only, the service runs without it.
	rdb, err := redis.NewRedisClient(cfg)
	if err != nil {
		log.Printf("redis unavailable, analysis caching disabled: %v", err)
		rdb = nil
	} else {
		defer rdb.Close()
	}

	workers := buildWorkerManager(cfg, rdb)
	handlers := api.NewHandler(datasetService, workers, api.HandlerConfig{
		FileListMaxLimit: cfg.BasicConfig.FileListMaxLimit,
		RowPageMaxLimit:  cfg.BasicConfig.RowPageMaxLimit,
		AnalysisMaxRows:  cfg.BasicConfig.AnalysisMaxRows,
	})

	router := gin.Default()
	router.Use(cors.Default())
	router.Use(gzip.Gzip(gzip.DefaultCompression))
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}

	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}

// buildWorkerManager wires the analysis provider, worker pool and result
// cache. Returns nil when no provider is usable so analysis routes answer 503
// while the rest of the service stays up.
func buildWorkerManager(cfg *config.Config, rdb *redis.Client) api.WorkerManager {
	provider := cfg.BasicConfig.AnalysisProvider
	if provider == "" {
		log.Printf("no analysis provider configured, analysis routes disabled")
		return nil
	}
	provCfg, ok := cfg.Providers[provider]
	if !ok {
		log.Printf("analysis provider %q not present in providers config, analysis routes disabled", provider)
		return nil
	}
	analyzer, err := analysis.NewService(provider, provCfg,
		time.Duration(cfg.BasicConfig.AnalysisTimeout)*time.Second,
		cfg.BasicConfig.AnalysisMaxRows)
	if err != nil {
		log.Printf("init analysis service failed, analysis routes disabled: %v", err)
		return nil
	}

	cache := worker.NewResultCache(rdb, time.Duration(cfg.BasicConfig.AnalysisCacheTTL)*time.Minute)
	return worker.NewManager(analyzer, cache, worker.DispatcherConfig{
		MinWorkers:        cfg.BasicConfig.MinWorkers,
		MaxWorkers:        cfg.BasicConfig.MaxWorkers,
		QueueSize:         cfg.BasicConfig.QueueSize,
		WorkerIdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Minute,
	})
}
