package http

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/nfe-api/internal/application/dto"
	"github.com/jhoicas/nfe-api/internal/domain"
	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/internal/domain/repository"
)

const dateLayout = "2006-01-02"

// Contratos que el handler necesita de la capa de aplicación; los implementan los casos
// de uso de billing.
type (
	draftService interface {
		Create(ctx context.Context, s entity.Session, in dto.InvoiceInput) (*entity.Invoice, error)
		Update(ctx context.Context, s entity.Session, id string, in dto.InvoiceInput) (*entity.Invoice, error)
		Get(ctx context.Context, s entity.Session, id string) (*entity.Invoice, error)
		List(ctx context.Context, s entity.Session, filter repository.InvoiceFilter) ([]*entity.Invoice, error)
		Delete(ctx context.Context, s entity.Session, id string) error
		Reopen(ctx context.Context, s entity.Session, id string) (*entity.Invoice, error)
	}
	issueService interface {
		Issue(ctx context.Context, s entity.Session, id string, certData []byte, password string) (*entity.Invoice, error)
		Resubmit(ctx context.Context, s entity.Session, id string, certData []byte, password string) (*entity.Invoice, error)
	}
	eventService interface {
		Cancel(ctx context.Context, s entity.Session, id string, certData []byte, password, justification string) (*entity.Invoice, error)
		Correct(ctx context.Context, s entity.Session, id string, certData []byte, password, text string) (*entity.Invoice, error)
	}
	danfeService interface {
		Render(ctx context.Context, s entity.Session, id string) ([]byte, string, error)
	}
	exportService interface {
		XML(ctx context.Context, s entity.Session, id string) ([]byte, string, error)
		Export(ctx context.Context, s entity.Session, from, to time.Time) ([]byte, error)
	}
	importService interface {
		Import(ctx context.Context, s entity.Session, data []byte, defaultStatus entity.Status) (*entity.Invoice, bool, error)
		ImportMany(ctx context.Context, s entity.Session, docs [][]byte, defaultStatus entity.Status) ([]*entity.Invoice, error)
	}
)

// InvoiceHandler maneja las peticiones HTTP de la NF-e (protegido).
type InvoiceHandler struct {
	drafts  draftService
	issue   issueService
	events  eventService
	danfe   danfeService
	export  exportService
	imports importService
}

// NewInvoiceHandler construye el handler.
func NewInvoiceHandler(drafts draftService, issue issueService, events eventService, danfe danfeService, export exportService, imports importService) *InvoiceHandler {
	return &InvoiceHandler{drafts: drafts, issue: issue, events: events, danfe: danfe, export: export, imports: imports}
}

// Create godoc
// @Summary      Crear borrador de NF-e
// @Description  Numera la nota en la serie, recalcula impuestos y totales y la guarda como borrador.
// @Tags         nfe
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body      dto.InvoiceInput  true  "destinatario, ítems, pagos y ajustes"
// @Success      201   {object}  dto.InvoiceDTO
// @Failure      400   {object}  dto.ErrorResponse
// @Failure      422   {object}  dto.ErrorResponse
// @Router       /api/nfe/invoices [post]
func (h *InvoiceHandler) Create(c *fiber.Ctx) error {
	s, ok := GetSession(c)
	if !ok {
		return writeError(c, domain.ErrUnauthorized)
	}
	var in dto.InvoiceInput
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "INVALID_BODY", "cuerpo inválido")
	}
	inv, err := h.drafts.Create(c.UserContext(), s, in)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.ToInvoiceDTO(inv))
}

// Update godoc
// @Summary      Editar borrador
// @Tags         nfe
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path      string            true  "ID de la nota"
// @Param        body  body      dto.InvoiceInput  true  "contenido completo de la nota"
// @Success      200   {object}  dto.InvoiceDTO
// @Failure      409   {object}  dto.ErrorResponse
// @Failure      422   {object}  dto.ErrorResponse
// @Router       /api/nfe/invoices/{id} [put]
func (h *InvoiceHandler) Update(c *fiber.Ctx) error {
	s, ok := GetSession(c)
	if !ok {
		return writeError(c, domain.ErrUnauthorized)
	}
	var in dto.InvoiceInput
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "INVALID_BODY", "cuerpo inválido")
	}
	inv, err := h.drafts.Update(c.UserContext(), s, c.Params("id"), in)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.ToInvoiceDTO(inv))
}

// GetByID godoc
// @Summary      Detalle de una NF-e
// @Tags         nfe
// @Security     Bearer
// @Produce      json
// @Param        id   path      string  true  "ID de la nota"
// @Success      200  {object}  dto.InvoiceDTO
// @Failure      404  {object}  dto.ErrorResponse
// @Router       /api/nfe/invoices/{id} [get]
func (h *InvoiceHandler) GetByID(c *fiber.Ctx) error {
	s, ok := GetSession(c)
	if !ok {
		return writeError(c, domain.ErrUnauthorized)
	}
	inv, err := h.drafts.Get(c.UserContext(), s, c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.ToInvoiceDTO(inv))
}

// List godoc
// @Summary      Listar NF-e de la empresa
// @Tags         nfe
// @Security     Bearer
// @Produce      json
// @Param        status  query     string  false  "draft, editing, signing, transmitting, authorized, rejected, cancelled"
// @Param        from    query     string  false  "Emitidas desde (YYYY-MM-DD)"
// @Param        to      query     string  false  "Emitidas hasta, inclusive (YYYY-MM-DD)"
// @Param        limit   query     int     false  "Máx. 100 (default 20)"
// @Param        offset  query     int     false  "Desplazamiento"
// @Success      200     {object}  dto.InvoiceListResponse
// @Failure      422     {object}  dto.ErrorResponse
// @Router       /api/nfe/invoices [get]
func (h *InvoiceHandler) List(c *fiber.Ctx) error {
	s, ok := GetSession(c)
	if !ok {
		return writeError(c, domain.ErrUnauthorized)
	}
	var page dto.PageRequest
	if err := c.QueryParser(&page); err != nil {
		return badRequest(c, "INVALID_QUERY", "limit y offset deben ser numéricos")
	}
	page.DefaultPage()
	from, to, err := parsePeriod(c.Query("from"), c.Query("to"), false)
	if err != nil {
		return writeError(c, err)
	}
	filter := repository.InvoiceFilter{Status: entity.Status(c.Query("status")), Limit: page.Limit, Offset: page.Offset}
	if !from.IsZero() {
		filter.From = &from
	}
	if !to.IsZero() {
		filter.To = &to
	}
	list, err := h.drafts.List(c.UserContext(), s, filter)
	if err != nil {
		return writeError(c, err)
	}
	out := dto.InvoiceListResponse{
		Items: make([]dto.InvoiceSummaryDTO, 0, len(list)),
		Page:  dto.PageResponse{Limit: page.Limit, Offset: page.Offset},
	}
	for _, inv := range list {
		out.Items = append(out.Items, dto.ToSummaryDTO(inv))
	}
	return c.JSON(out)
}

// Delete godoc
// @Summary      Eliminar borrador
// @Tags         nfe
// @Security     Bearer
// @Param        id   path  string  true  "ID de la nota"
// @Success      204
// @Failure      409  {object}  dto.ErrorResponse
// @Router       /api/nfe/invoices/{id} [delete]
func (h *InvoiceHandler) Delete(c *fiber.Ctx) error {
	s, ok := GetSession(c)
	if !ok {
		return writeError(c, domain.ErrUnauthorized)
	}
	if err := h.drafts.Delete(c.UserContext(), s, c.Params("id")); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Reopen godoc
// @Summary      Reabrir una nota rechazada o denegada para edición
// @Tags         nfe
// @Security     Bearer
// @Produce      json
// @Param        id   path      string  true  "ID de la nota"
// @Success      200  {object}  dto.InvoiceDTO
// @Failure      409  {object}  dto.ErrorResponse
// @Router       /api/nfe/invoices/{id}/reopen [post]
func (h *InvoiceHandler) Reopen(c *fiber.Ctx) error {
	s, ok := GetSession(c)
	if !ok {
		return writeError(c, domain.ErrUnauthorized)
	}
	inv, err := h.drafts.Reopen(c.UserContext(), s, c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.ToInvoiceDTO(inv))
}

// Issue godoc
// @Summary      Firmar y transmitir la NF-e
// @Description  Asigna la chave de acceso, firma con el certificado A1 y transmite a la SEFAZ.
// @Description  Un rechazo deja la nota en rejected (200); un fallo de red responde 503 y la nota
// @Description  queda en transmitting para /resubmit.
// @Tags         nfe
// @Security     Bearer
// @Accept       mpfd
// @Produce      json
// @Param        id           path      string  true  "ID de la nota"
// @Param        certificate  formData  file    true  "Certificado A1 (.pfx)"
// @Param        password     formData  string  true  "Contraseña del certificado"
// @Success      200          {object}  dto.InvoiceDTO
// @Failure      400          {object}  dto.ErrorResponse
// @Failure      422          {object}  dto.ErrorResponse
// @Failure      503          {object}  dto.ErrorResponse
// @Router       /api/nfe/invoices/{id}/issue [post]
func (h *InvoiceHandler) Issue(c *fiber.Ctx) error {
	return h.withCertificate(c, func(s entity.Session, cert []byte, password string) (*entity.Invoice, error) {
		return h.issue.Issue(c.UserContext(), s, c.Params("id"), cert, password)
	})
}

// Resubmit godoc
// @Summary      Reenviar el XML firmado de una nota en transmitting
// @Tags         nfe
// @Security     Bearer
// @Accept       mpfd
// @Produce      json
// @Param        id           path      string  true  "ID de la nota"
// @Param        certificate  formData  file    true  "Certificado A1 (.pfx)"
// @Param        password     formData  string  true  "Contraseña del certificado"
// @Success      200          {object}  dto.InvoiceDTO
// @Failure      503          {object}  dto.ErrorResponse
// @Router       /api/nfe/invoices/{id}/resubmit [post]
func (h *InvoiceHandler) Resubmit(c *fiber.Ctx) error {
	return h.withCertificate(c, func(s entity.Session, cert []byte, password string) (*entity.Invoice, error) {
		return h.issue.Resubmit(c.UserContext(), s, c.Params("id"), cert, password)
	})
}

// Cancel godoc
// @Summary      Cancelar una NF-e autorizada (evento 110111)
// @Tags         nfe
// @Security     Bearer
// @Accept       mpfd
// @Produce      json
// @Param        id             path      string  true  "ID de la nota"
// @Param        certificate    formData  file    true  "Certificado A1 (.pfx)"
// @Param        password       formData  string  true  "Contraseña del certificado"
// @Param        justification  formData  string  true  "Justificación (15 a 255 caracteres)"
// @Success      200            {object}  dto.InvoiceDTO
// @Failure      422            {object}  dto.ErrorResponse
// @Failure      502            {object}  dto.ErrorResponse
// @Router       /api/nfe/invoices/{id}/cancel [post]
func (h *InvoiceHandler) Cancel(c *fiber.Ctx) error {
	return h.withCertificate(c, func(s entity.Session, cert []byte, password string) (*entity.Invoice, error) {
		return h.events.Cancel(c.UserContext(), s, c.Params("id"), cert, password, c.FormValue("justification"))
	})
}

// Correct godoc
// @Summary      Carta de corrección (evento 110110)
// @Tags         nfe
// @Security     Bearer
// @Accept       mpfd
// @Produce      json
// @Param        id           path      string  true  "ID de la nota"
// @Param        certificate  formData  file    true  "Certificado A1 (.pfx)"
// @Param        password     formData  string  true  "Contraseña del certificado"
// @Param        text         formData  string  true  "Texto de la corrección (15 a 1000 caracteres)"
// @Success      200          {object}  dto.InvoiceDTO
// @Failure      422          {object}  dto.ErrorResponse
// @Failure      502          {object}  dto.ErrorResponse
// @Router       /api/nfe/invoices/{id}/correction [post]
func (h *InvoiceHandler) Correct(c *fiber.Ctx) error {
	return h.withCertificate(c, func(s entity.Session, cert []byte, password string) (*entity.Invoice, error) {
		return h.events.Correct(c.UserContext(), s, c.Params("id"), cert, password, c.FormValue("text"))
	})
}

// DownloadXML godoc
// @Summary      Descargar el nfeProc (o el XML firmado si aún no hay protocolo)
// @Tags         nfe
// @Security     Bearer
// @Produce      xml
// @Param        id   path  string  true  "ID de la nota"
// @Success      200  {file}  binary
// @Failure      400  {object}  dto.ErrorResponse
// @Router       /api/nfe/invoices/{id}/xml [get]
func (h *InvoiceHandler) DownloadXML(c *fiber.Ctx) error {
	s, ok := GetSession(c)
	if !ok {
		return writeError(c, domain.ErrUnauthorized)
	}
	data, name, err := h.export.XML(c.UserContext(), s, c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	c.Attachment(name)
	return c.Send(data)
}

// DownloadDANFE godoc
// @Summary      Descargar el DANFE en PDF
// @Tags         nfe
// @Security     Bearer
// @Produce      application/pdf
// @Param        id   path  string  true  "ID de la nota"
// @Success      200  {file}  binary
// @Failure      400  {object}  dto.ErrorResponse
// @Router       /api/nfe/invoices/{id}/danfe [get]
func (h *InvoiceHandler) DownloadDANFE(c *fiber.Ctx) error {
	s, ok := GetSession(c)
	if !ok {
		return writeError(c, domain.ErrUnauthorized)
	}
	pdf, name, err := h.danfe.Render(c.UserContext(), s, c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	c.Attachment(name)
	return c.Send(pdf)
}

// Export godoc
// @Summary      Exportar los XML autorizados y cancelados de un período en ZIP
// @Tags         nfe
// @Security     Bearer
// @Produce      application/zip
// @Param        from  query  string  true  "Inicio del período (YYYY-MM-DD)"
// @Param        to    query  string  true  "Fin del período, inclusive (YYYY-MM-DD)"
// @Success      200   {file}  binary
// @Failure      404   {object}  dto.ErrorResponse
// @Failure      422   {object}  dto.ErrorResponse
// @Router       /api/nfe/export [get]
func (h *InvoiceHandler) Export(c *fiber.Ctx) error {
	s, ok := GetSession(c)
	if !ok {
		return writeError(c, domain.ErrUnauthorized)
	}
	from, to, err := parsePeriod(c.Query("from"), c.Query("to"), true)
	if err != nil {
		return writeError(c, err)
	}
	data, err := h.export.Export(c.UserContext(), s, from, to)
	if err != nil {
		return writeError(c, err)
	}
	c.Attachment("nfe-" + c.Query("from") + "-" + c.Query("to") + ".zip")
	return c.Send(data)
}

// Import godoc
// @Summary      Importar NF-e externas
// @Description  Acepta un XML (NFe o nfeProc) en el cuerpo, o varios en multipart bajo "files".
// @Description  Varios documentos se importan todos o ninguno.
// @Tags         nfe
// @Security     Bearer
// @Accept       xml
// @Accept       mpfd
// @Produce      json
// @Param        status  query     string  false  "Estado para notas sin protocolo (default authorized)"
// @Success      200     {object}  dto.ImportResponse
// @Success      201     {object}  dto.ImportResponse
// @Failure      422     {object}  dto.ErrorResponse
// @Router       /api/nfe/import [post]
func (h *InvoiceHandler) Import(c *fiber.Ctx) error {
	s, ok := GetSession(c)
	if !ok {
		return writeError(c, domain.ErrUnauthorized)
	}
	status := entity.Status(c.Query("status"))

	if !strings.HasPrefix(string(c.Request().Header.ContentType()), fiber.MIMEMultipartForm) {
		inv, created, err := h.imports.Import(c.UserContext(), s, c.Body(), status)
		if err != nil {
			return writeError(c, err)
		}
		code := fiber.StatusOK
		if created {
			code = fiber.StatusCreated
		}
		return c.Status(code).JSON(dto.ImportResponse{Created: created, Invoice: dto.ToInvoiceDTO(inv)})
	}

	form, err := c.MultipartForm()
	if err != nil {
		return badRequest(c, "INVALID_BODY", "multipart inválido")
	}
	files := form.File["files"]
	if len(files) == 0 {
		return writeError(c, domain.NewValidationError("files", "al menos un XML requerido"))
	}
	docs := make([][]byte, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return writeError(c, domain.NewImportError(fh.Filename, err))
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return writeError(c, domain.NewImportError(fh.Filename, err))
		}
		docs = append(docs, data)
	}
	list, err := h.imports.ImportMany(c.UserContext(), s, docs, status)
	if err != nil {
		return writeError(c, err)
	}
	out := make([]dto.InvoiceSummaryDTO, 0, len(list))
	for _, inv := range list {
		out = append(out, dto.ToSummaryDTO(inv))
	}
	return c.JSON(out)
}

// withCertificate lee el certificado multipart y ejecuta la operación con la sesión.
func (h *InvoiceHandler) withCertificate(c *fiber.Ctx, op func(s entity.Session, cert []byte, password string) (*entity.Invoice, error)) error {
	s, ok := GetSession(c)
	if !ok {
		return writeError(c, domain.ErrUnauthorized)
	}
	cert, password, err := readCertificate(c)
	if err != nil {
		return writeError(c, err)
	}
	inv, err := op(s, cert, password)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.ToInvoiceDTO(inv))
}

// readCertificate extrae el archivo "certificate" y el campo "password" del multipart.
func readCertificate(c *fiber.Ctx) ([]byte, string, error) {
	fh, err := c.FormFile("certificate")
	if err != nil {
		return nil, "", domain.NewValidationError("certificate", "archivo del certificado A1 requerido")
	}
	f, err := fh.Open()
	if err != nil {
		return nil, "", domain.NewCertificateError("no se pudo leer el certificado", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", domain.NewCertificateError("no se pudo leer el certificado", err)
	}
	return data, c.FormValue("password"), nil
}

// parsePeriod interpreta from/to (YYYY-MM-DD). to es inclusivo: se devuelve el día
// siguiente para consultar el período semiabierto [from, to).
func parsePeriod(fromStr, toStr string, required bool) (time.Time, time.Time, error) {
	var from, to time.Time
	if fromStr == "" || toStr == "" {
		if required {
			return from, to, domain.NewValidationError("period", "from y to son obligatorios (YYYY-MM-DD)")
		}
	}
	if fromStr != "" {
		t, err := time.Parse(dateLayout, fromStr)
		if err != nil {
			return from, to, domain.NewValidationError("from", "fecha inválida, use YYYY-MM-DD")
		}
		from = t
	}
	if toStr != "" {
		t, err := time.Parse(dateLayout, toStr)
		if err != nil {
			return from, to, domain.NewValidationError("to", "fecha inválida, use YYYY-MM-DD")
		}
		to = t.AddDate(0, 0, 1)
	}
	return from, to, nil
}
