package domain_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jhoicas/nfe-api/internal/domain"
)

func TestFiscalError_IsPorCategoria(t *testing.T) {
	err := fmt.Errorf("emitir: %w", domain.NewValidationError("items", "sin ítems"))
	assert.True(t, errors.Is(err, domain.ErrValidation))
	assert.False(t, errors.Is(err, domain.ErrTransmission))
	assert.Contains(t, err.Error(), "items: sin ítems")
}

func TestFiscalError_TemporalYCausa(t *testing.T) {
	cause := errors.New("connection reset")
	err := domain.NewTransmissionError("llamada HTTP fallida", cause, true)
	assert.True(t, domain.IsTemporary(err))
	assert.ErrorIs(t, err, cause)
	assert.False(t, domain.IsTemporary(domain.NewTransmissionError("SOAP Fault", nil, false)))
	assert.False(t, domain.IsTemporary(errors.New("otro")))
}

func TestFields_RecorreJoin(t *testing.T) {
	err := errors.Join(
		domain.NewValidationError("emit.cnpj", "inválido"),
		domain.NewValidationError("items[0].ncm", "8 dígitos"),
	)
	assert.Equal(t, []string{"emit.cnpj", "items[0].ncm"}, domain.Fields(err))
}
