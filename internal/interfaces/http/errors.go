package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/nfe-api/internal/application/dto"
	"github.com/jhoicas/nfe-api/internal/domain"
)

// writeError traduce los errores de dominio a la respuesta HTTP.
// Una transmisión temporal (timeout, red) responde 503: la nota quedó en transmitting
// y puede reenviarse; un rechazo de la SEFAZ responde 502 con el cStat en el código.
func writeError(c *fiber.Ctx, err error) error {
	var fe *domain.FiscalError
	errors.As(err, &fe)

	switch {
	case errors.Is(err, domain.ErrValidation):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(dto.ErrorResponse{
			Code:    "VALIDATION",
			Message: err.Error(),
			Fields:  domain.Fields(err),
		})
	case errors.Is(err, domain.ErrCertificate):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "CERTIFICATE", Message: err.Error()})
	case errors.Is(err, domain.ErrTransmission):
		if domain.IsTemporary(err) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{Code: "SEFAZ_UNAVAILABLE", Message: err.Error()})
		}
		code := "SEFAZ_REJECTED"
		if fe != nil && fe.Code != "" {
			code += "_" + fe.Code
		}
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Code: code, Message: err.Error()})
	case errors.Is(err, domain.ErrImport):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(dto.ErrorResponse{Code: "IMPORT", Message: err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "recurso no encontrado"})
	case errors.Is(err, domain.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Code: "FORBIDDEN", Message: "acceso denegado"})
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrDuplicate):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "CONFLICT", Message: err.Error()})
	case errors.Is(err, domain.ErrUnauthorized):
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "no autorizado"})
	case errors.Is(err, domain.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_INPUT", Message: err.Error()})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
}

func badRequest(c *fiber.Ctx, code, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: code, Message: message})
}
