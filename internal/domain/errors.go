package domain

import (
	"errors"
	"strconv"
	"strings"
)

// Errores de dominio (sin dependencias externas).
var (
	ErrNotFound     = errors.New("recurso no encontrado")
	ErrInvalidInput = errors.New("entrada inválida")
	ErrDuplicate    = errors.New("recurso duplicado")
	ErrUnauthorized = errors.New("no autorizado")
	ErrForbidden    = errors.New("acceso denegado")
	ErrConflict     = errors.New("conflicto con el estado actual")
)

// Categorías de error de la NF-e. Se comparan con errors.Is contra un *FiscalError.
var (
	ErrValidation   = errors.New("validación")
	ErrCertificate  = errors.New("certificado")
	ErrTransmission = errors.New("transmisión")
	ErrImport       = errors.New("importación")
)

// FiscalError error tipado de la NF-e: categoría, campo afectado, código de la SEFAZ y causa.
type FiscalError struct {
	Kind      error  // ErrValidation, ErrCertificate, ErrTransmission o ErrImport
	Field     string // campo o ruta (items[0].ncm); vacío si no aplica
	Code      string // cStat o código interno
	Message   string
	Cause     error
	Temporary bool // fallo de red o timeout: puede reintentarse con el mismo XML
}

func (e *FiscalError) Error() string {
	var b strings.Builder
	b.WriteString("nfe: ")
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
		b.WriteString(": ")
	}
	if e.Field != "" {
		b.WriteString(e.Field)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Code != "" {
		b.WriteString(" [")
		b.WriteString(e.Code)
		b.WriteString("]")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap expone la causa original.
func (e *FiscalError) Unwrap() error { return e.Cause }

// Is permite errors.Is(err, domain.ErrValidation) y similares.
func (e *FiscalError) Is(target error) bool { return e.Kind == target }

// NewValidationError error de validación de un campo.
func NewValidationError(field, message string) *FiscalError {
	return &FiscalError{Kind: ErrValidation, Field: field, Message: message}
}

// NewCertificateError error al extraer o usar el certificado.
func NewCertificateError(message string, cause error) *FiscalError {
	return &FiscalError{Kind: ErrCertificate, Message: message, Cause: cause}
}

// NewTransmissionError error de comunicación con la SEFAZ.
func NewTransmissionError(message string, cause error, temporary bool) *FiscalError {
	return &FiscalError{Kind: ErrTransmission, Message: message, Cause: cause, Temporary: temporary}
}

// NewRejectionError la SEFAZ respondió pero no aceptó la solicitud; Code lleva el cStat.
func NewRejectionError(cStat int, reason string) *FiscalError {
	return &FiscalError{Kind: ErrTransmission, Code: strconv.Itoa(cStat), Message: reason}
}

// NewImportError error al interpretar un XML externo.
func NewImportError(message string, cause error) *FiscalError {
	return &FiscalError{Kind: ErrImport, Message: message, Cause: cause}
}

// IsTemporary indica si el error es un fallo transitorio de red.
func IsTemporary(err error) bool {
	var fe *FiscalError
	if errors.As(err, &fe) {
		return fe.Temporary
	}
	return false
}

// Fields devuelve los campos de todos los errores de validación contenidos (incluye errors.Join).
func Fields(err error) []string {
	var out []string
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		if fe, ok := e.(*FiscalError); ok && fe.Field != "" {
			out = append(out, fe.Field)
		}
		switch u := e.(type) {
		case interface{ Unwrap() []error }:
			for _, c := range u.Unwrap() {
				walk(c)
			}
		case interface{ Unwrap() error }:
			walk(u.Unwrap())
		}
	}
	walk(err)
	return out
}
