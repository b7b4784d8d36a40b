package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	_ "github.com/jhoicas/nfe-api/docs"
	"github.com/jhoicas/nfe-api/internal/application/billing"
	infrapdf "github.com/jhoicas/nfe-api/internal/infrastructure/pdf"
	"github.com/jhoicas/nfe-api/internal/infrastructure/postgres"
	"github.com/jhoicas/nfe-api/internal/infrastructure/sefaz"
	"github.com/jhoicas/nfe-api/internal/infrastructure/sefaz/signer"
	httpRouter "github.com/jhoicas/nfe-api/internal/interfaces/http"
	"github.com/jhoicas/nfe-api/pkg/config"
	"github.com/jhoicas/nfe-api/pkg/logger"
)

// @title                      NF-e API
// @version                    1.0
// @description                Emisión y ciclo de vida de la NF-e modelo 55 (layout 4.00).
// @BasePath                   /
// @securityDefinitions.apikey Bearer
// @in                         header
// @name                       Authorization
// @description                Bearer <token JWT>
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:     cfg.App.Env,
		Level:   cfg.App.LogLevel,
		Service: cfg.App.Name,
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Str("nfe_environment", string(cfg.NFe.Environment)).
		Msg("iniciando aplicación")

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("conexión a PostgreSQL")
	}
	defer pool.Close()

	if cfg.DB.AutoMigrate {
		if err := postgres.Migrate(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("migraciones")
		}
	}

	invoiceRepo := postgres.NewInvoiceRepository(pool)
	profileRepo := postgres.NewIssuerProfileRepository(pool)
	txRunner := postgres.NewTxRunner(pool)

	// Infraestructura fiscal: XML 4.00, XMLDSig y cliente SOAP con TLS mutuo por solicitud
	xmlBuilder := sefaz.NewXMLBuilderService()
	eventBuilder := sefaz.NewEventBuilderService()
	signerSvc := signer.NewDigitalSignatureService()
	sefazClient := sefaz.NewSOAPSefazClient(sefaz.ClientConfig{
		Timeout:          cfg.NFe.Timeout,
		AuthorizationURL: cfg.NFe.AuthorizationURL,
		EventURL:         cfg.NFe.EventURL,
	})
	loadCert := billing.CertificateLoader(signer.LoadFromPKCS12)
	clock := billing.Clock(time.Now)

	issuerUC := billing.NewIssuerUseCase(profileRepo, cfg.NFe.Environment, cfg.NFe.UF)
	draftUC := billing.NewDraftUseCase(txRunner, invoiceRepo, log, clock)
	issueUC := billing.NewIssueUseCase(invoiceRepo, loadCert, xmlBuilder, signerSvc, sefazClient, cfg.NFe.VerProc, log, clock)
	eventUC := billing.NewEventUseCase(invoiceRepo, loadCert, eventBuilder, signerSvc, sefazClient, log, clock)
	importUC := billing.NewImportUseCase(txRunner, invoiceRepo, sefaz.NewXMLImporterService(signerSvc), log, clock)

	// DANFE: representación gráfica de la NF-e
	danfeUC := billing.NewDANFEUseCase(invoiceRepo, infrapdf.NewDANFEGenerator())
	exportUC := billing.NewExportUseCase(invoiceRepo, log)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: cfg.NFe.Timeout + time.Second*10, // una llamada SOAP completa dentro del request
		IdleTimeout:  time.Second * 60,
		BodyLimit:    cfg.HTTP.MaxUploadSize,
	})
	app.Use(recover.New())

	// Swagger UI en local: http://localhost:<port>/docs
	app.Use(swagger.New(swagger.Config{
		BasePath: "/",
		FilePath: "./docs/swagger.json",
		Path:     "docs",
		Title:    "NF-e API",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": cfg.App.Name})
	})

	httpRouter.Router(app, httpRouter.RouterDeps{
		IssuerUC:  issuerUC,
		DraftUC:   draftUC,
		IssueUC:   issueUC,
		EventUC:   eventUC,
		ImportUC:  importUC,
		DANFEUC:   danfeUC,
		ExportUC:  exportUC,
		JWTSecret: cfg.JWT.Secret,
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("señal de apagado recibida, cerrando servidor...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}

	log.Info().Msg("aplicación detenida")
}
