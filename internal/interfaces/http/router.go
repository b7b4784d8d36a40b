package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/nfe-api/internal/application/billing"
	"github.com/jhoicas/nfe-api/pkg/jwt"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	IssuerUC  *billing.IssuerUseCase
	DraftUC   *billing.DraftUseCase
	IssueUC   *billing.IssueUseCase
	EventUC   *billing.EventUseCase
	ImportUC  *billing.ImportUseCase
	DANFEUC   *billing.DANFEUseCase
	ExportUC  *billing.ExportUseCase
	JWTSecret string
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	api := app.Group("/api")

	// Todo /api/nfe requiere Bearer Token
	nfeGroup := api.Group("/nfe", AuthMiddleware(deps.JWTSecret))
	readers := RequireRole(jwt.RoleAdmin, jwt.RoleIssuer, jwt.RoleViewer)
	writers := RequireRole(jwt.RoleAdmin, jwt.RoleIssuer)

	// Perfil del emisor (solo admin lo modifica)
	issuerHandler := NewIssuerHandler(deps.IssuerUC, billing.InspectCertificate)
	nfeGroup.Get("/issuer", readers, issuerHandler.GetProfile)
	nfeGroup.Put("/issuer", RequireRole(jwt.RoleAdmin), issuerHandler.SaveProfile)
	nfeGroup.Post("/certificate/inspect", writers, issuerHandler.InspectCertificate)

	// Operaciones sobre notas: la sesión se arma con el perfil del emisor
	session := SessionMiddleware(deps.IssuerUC)
	h := NewInvoiceHandler(deps.DraftUC, deps.IssueUC, deps.EventUC, deps.DANFEUC, deps.ExportUC, deps.ImportUC)

	invoices := nfeGroup.Group("/invoices", session)
	invoices.Get("/", readers, h.List)
	invoices.Post("/", writers, h.Create)
	invoices.Get("/:id", readers, h.GetByID)
	invoices.Put("/:id", writers, h.Update)
	invoices.Delete("/:id", writers, h.Delete)
	invoices.Post("/:id/reopen", writers, h.Reopen)
	invoices.Post("/:id/issue", writers, h.Issue)
	invoices.Post("/:id/resubmit", writers, h.Resubmit)
	invoices.Post("/:id/cancel", writers, h.Cancel)
	invoices.Post("/:id/correction", writers, h.Correct)
	invoices.Get("/:id/xml", readers, h.DownloadXML)
	invoices.Get("/:id/danfe", readers, h.DownloadDANFE)

	nfeGroup.Post("/import", writers, session, h.Import)
	nfeGroup.Get("/export", readers, session, h.Export)
}
