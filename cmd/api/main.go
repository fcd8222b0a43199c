package main

import (
	"log"

	"taxengine/internal/config"
	"taxengine/internal/database"
	"taxengine/internal/handler"
	"taxengine/internal/repository"
	"taxengine/internal/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// @title           Tax Engine API
// @version         1.0
// @description     Multi-jurisdiction sales tax calculation, period aggregation and anomaly triage.
// @host            localhost:8080
// @BasePath        /
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Config load failed: %v", err)
	}
	if err := config.InitLogger(cfg.Log); err != nil {
		log.Fatalf("Logger init failed: %v", err)
	}
	defer func() { _ = zap.L().Sync() }()

	db, err := database.NewConnection(cfg.Database.DSN())
	if err != nil {
		zap.L().Fatal("Database connection failed", zap.Error(err))
	}
	zap.L().Info("Connected to PostgreSQL successfully")

	// Set up dependencies (Repository -> Service -> Handler)
	txManager := repository.NewTransactionManager(db)
	businessRepo := repository.NewBusinessRepository(db)
	documentRepo := repository.NewDocumentRepository(db)
	componentRepo := repository.NewTaxComponentRepository(db)
	rateRepo := repository.NewTaxRateRepository(db)
	groupRepo := repository.NewTaxGroupRepository(db)
	jurisdictionRepo := repository.NewJurisdictionRepository(db)
	ruleRepo := repository.NewProductRuleRepository(db)
	detailRepo := repository.NewTaxDetailRepository(db)
	snapshotRepo := repository.NewSnapshotRepository(db)
	anomalyRepo := repository.NewAnomalyRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	catalog := service.NewRateCatalog(rateRepo)
	resolver := service.NewJurisdictionResolver(jurisdictionRepo)
	calculator := service.NewTaxCalculator(catalog, resolver, ruleRepo, detailRepo, txManager)
	documentTaxService := service.NewDocumentTaxService(calculator, documentRepo, businessRepo, groupRepo, detailRepo, auditRepo, txManager)
	aggregator := service.NewPeriodAggregator(businessRepo, detailRepo, documentRepo, snapshotRepo, ruleRepo, auditRepo, txManager)
	snapshotService := service.NewSnapshotService(snapshotRepo, auditRepo, txManager)
	detector := service.NewAnomalyDetector(service.DetectorDeps{
		Businesses:    businessRepo,
		Snapshots:     snapshotRepo,
		Details:       detailRepo,
		Documents:     documentRepo,
		Components:    componentRepo,
		Groups:        groupRepo,
		ProductRules:  ruleRepo,
		Anomalies:     anomalyRepo,
		TxManager:     txManager,
		Catalog:       catalog,
		Aggregator:    aggregator,
		DocumentTax:   documentTaxService,
		DefaultDueDay: cfg.Tax.DefaultDueDay,
	})
	anomalyService := service.NewAnomalyService(anomalyRepo, auditRepo, txManager)
	catalogService := service.NewCatalogService(componentRepo, rateRepo, groupRepo, ruleRepo, jurisdictionRepo, auditRepo, txManager)
	exportService := service.NewExportService(snapshotService)
	auditService := service.NewAuditService(auditRepo)

	// Initialize Handlers
	catalogHandler := handler.NewCatalogHandler(catalogService)
	documentTaxHandler := handler.NewDocumentTaxHandler(documentTaxService)
	periodHandler := handler.NewPeriodHandler(aggregator, snapshotService, exportService)
	anomalyHandler := handler.NewAnomalyHandler(detector, anomalyService)
	auditHandler := handler.NewAuditHandler(auditService)

	// Set up Gin Router
	router := gin.Default()

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.Server.AllowOrigins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Accept", handler.ActorHeader}
	corsConfig.AllowMethods = []string{"GET", "POST", "PATCH", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "OK"})
	})

	// API Routing
	catalogHandler.RegisterRoutes(router.Group(""))
	documentTaxHandler.RegisterRoutes(router.Group(""))
	periodHandler.RegisterRoutes(router.Group(""))
	anomalyHandler.RegisterRoutes(router.Group(""))
	auditHandler.RegisterRoutes(router.Group(""))

	zap.L().Info("Server listening", zap.String("port", cfg.Server.Port))
	if err := router.Run(":" + cfg.Server.Port); err != nil {
		zap.L().Fatal("Server failed", zap.Error(err))
	}
}
