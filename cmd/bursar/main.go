package main

import (
	"github.com/qaknc8/edupay-backend/internal/handlers"
	"github.com/qaknc8/edupay-backend/internal/iamport"
	"github.com/qaknc8/edupay-backend/pkg/auth"
	"github.com/qaknc8/edupay-backend/pkg/config"
	"github.com/qaknc8/edupay-backend/pkg/database"
	"github.com/qaknc8/edupay-backend/pkg/email"
	"github.com/qaknc8/edupay-backend/pkg/logging"
	"github.com/qaknc8/edupay-backend/pkg/monitoring"
	"github.com/qaknc8/edupay-backend/pkg/server"
)

// Version information (set by build flags)
var (
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	logger := logging.NewLoggerWithService("bursar")
	config.LoadEnv(logger)

	dbCfg := database.DefaultConfig()
	dbCfg.URL = config.RequireEnv("DATABASE_URL")
	db := database.MustConnect(dbCfg, logger)
	defer func() { _ = db.Close() }()

	if err := database.ApplySchema(db, logger); err != nil {
		logger.WithError(err).Fatal("Failed to apply database schema")
	}

	jwtSecret := config.RequireEnv("JWT_SECRET")

	// Monitoring
	healthChecker := monitoring.NewHealthChecker("bursar", version)
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("configuration", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL": config.GetEnv("DATABASE_URL", ""),
		"JWT_SECRET":   jwtSecret,
	}))
	metricsCollector := monitoring.NewMetricsCollector("bursar", version, gitCommit)

	// Payment gateway client
	gateway := iamport.NewClient(iamport.Config{
		BaseURL: config.GetEnv("IAMPORT_BASE_URL", "https://api.iamport.kr"),
		APIKey:  config.RequireEnv("IAMPORT_API_KEY"),
		Secret:  config.RequireEnv("IAMPORT_API_SECRET"),
		Timeout: config.GetEnvDuration("IAMPORT_TIMEOUT", 0),
		Logger:  logger,
	})

	// Email is optional; without SMTP settings notifications become no-ops
	var sender *email.Sender
	if smtpHost := config.GetEnv("SMTP_HOST", ""); smtpHost != "" {
		sender = email.NewSender(email.Config{
			Host:     smtpHost,
			Port:     config.GetEnv("SMTP_PORT", "587"),
			User:     config.GetEnv("SMTP_USER", ""),
			Password: config.GetEnv("SMTP_PASSWORD", ""),
			From:     config.GetEnv("SMTP_FROM", "no-reply@localhost"),
			FromName: config.GetEnv("SMTP_FROM_NAME", "Bursar"),
		})
	} else {
		logger.Warn("SMTP_HOST not set, email notifications disabled")
	}
	emailService := handlers.NewEmailService(sender, config.GetEnv("BASE_URL", "http://localhost:18030"), logger)

	dispatcher := handlers.NewDispatcher(handlers.DispatcherConfig{Logger: logger})
	dispatcher.Start()
	defer dispatcher.Stop()

	handlers.Init(db, logger, gateway, emailService, dispatcher)
	handlers.InitMetrics(metricsCollector)

	router := server.SetupServiceRouter(logger, "bursar", healthChecker, metricsCollector)

	// Routes requiring an authenticated academy account
	protected := router.Group("/")
	protected.Use(auth.JWTAuthMiddleware([]byte(jwtSecret)))
	{
		protected.POST("/bills", handlers.CreateBill)
		protected.POST("/bills/batch", handlers.CreateBills)
		protected.GET("/bills/logs", handlers.GetBillLogs)
	}

	// Payer-facing routes reached from the bill link, no session required
	router.GET("/bills/:bill_id", handlers.GetBillDetail)
	router.GET("/bills/:bill_id/receipt", handlers.GetReceipt)
	router.GET("/payments/:bill_id", handlers.GetPaymentInfo)
	router.POST("/payments/callback", handlers.PaymentCallback)

	srvCfg := server.DefaultConfig("bursar", "18030")
	if err := server.Start(srvCfg, router, logger); err != nil {
		logger.WithError(err).Fatal("Server error")
	}
}
