package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/nfe-api/internal/application/dto"
	"github.com/jhoicas/nfe-api/internal/domain"
	"github.com/jhoicas/nfe-api/internal/domain/entity"
)

type issuerService interface {
	GetProfile(ctx context.Context, companyID string) (*entity.IssuerProfile, error)
	SaveProfile(ctx context.Context, companyID string, in dto.IssuerProfileDTO) (*entity.IssuerProfile, error)
}

// CertificateInspector describe un certificado A1 sin exponer la clave.
type CertificateInspector func(data []byte, password string, now time.Time) (*dto.CertificateInfoDTO, error)

// IssuerHandler perfil del emisor y utilidades de certificado (protegido).
type IssuerHandler struct {
	uc      issuerService
	inspect CertificateInspector
	now     func() time.Time
}

// NewIssuerHandler construye el handler.
func NewIssuerHandler(uc issuerService, inspect CertificateInspector) *IssuerHandler {
	return &IssuerHandler{uc: uc, inspect: inspect, now: time.Now}
}

// GetProfile godoc
// @Summary      Perfil del emisor de la empresa
// @Tags         issuer
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  dto.IssuerProfileDTO
// @Failure      404  {object}  dto.ErrorResponse
// @Router       /api/nfe/issuer [get]
func (h *IssuerHandler) GetProfile(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return writeError(c, domain.ErrUnauthorized)
	}
	p, err := h.uc.GetProfile(c.UserContext(), companyID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.ToIssuerProfileDTO(p))
}

// SaveProfile godoc
// @Summary      Crear o reemplazar el perfil del emisor
// @Tags         issuer
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body      dto.IssuerProfileDTO  true  "CNPJ, IE, CRT, dirección, serie y ambiente"
// @Success      200   {object}  dto.IssuerProfileDTO
// @Failure      422   {object}  dto.ErrorResponse
// @Router       /api/nfe/issuer [put]
func (h *IssuerHandler) SaveProfile(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return writeError(c, domain.ErrUnauthorized)
	}
	var in dto.IssuerProfileDTO
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "INVALID_BODY", "cuerpo inválido")
	}
	p, err := h.uc.SaveProfile(c.UserContext(), companyID, in)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.ToIssuerProfileDTO(p))
}

// InspectCertificate godoc
// @Summary      Describir un certificado A1 (titular, CNPJ, vigencia)
// @Tags         issuer
// @Security     Bearer
// @Accept       mpfd
// @Produce      json
// @Param        certificate  formData  file    true  "Certificado A1 (.pfx)"
// @Param        password     formData  string  true  "Contraseña del certificado"
// @Success      200          {object}  dto.CertificateInfoDTO
// @Failure      400          {object}  dto.ErrorResponse
// @Router       /api/nfe/certificate/inspect [post]
func (h *IssuerHandler) InspectCertificate(c *fiber.Ctx) error {
	data, password, err := readCertificate(c)
	if err != nil {
		return writeError(c, err)
	}
	info, err := h.inspect(data, password, h.now())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(info)
}
