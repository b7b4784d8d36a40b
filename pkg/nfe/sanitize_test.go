package nfe_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jhoicas/nfe-api/pkg/nfe"
)

func TestSanitizeText_QuitaAcentosYControl(t *testing.T) {
	assert.Equal(t, "Joao Goncalves Acucar", nfe.SanitizeText("João\tGonçalves \x00 Açúcar", 0))
}

func TestSanitizeText_ColapsaEspacios(t *testing.T) {
	assert.Equal(t, "Rua das Flores 10", nfe.SanitizeText("  Rua   das\n Flores  10 ", 0))
}

func TestSanitizeText_Trunca(t *testing.T) {
	assert.Equal(t, "ABCDE", nfe.SanitizeText("ABCDEFGH", 5))
}

func TestEnvironment_TpAmb(t *testing.T) {
	assert.Equal(t, "1", nfe.EnvironmentProduction.TpAmb())
	assert.Equal(t, "2", nfe.EnvironmentHomologation.TpAmb())
	assert.Equal(t, nfe.EnvironmentProduction, nfe.EnvironmentFromTpAmb("1"))
	env, ok := nfe.ParseEnvironment("producao")
	assert.True(t, ok)
	assert.Equal(t, nfe.EnvironmentProduction, env)
	_, ok = nfe.ParseEnvironment("staging")
	assert.False(t, ok)
}

func TestStatusCodes(t *testing.T) {
	assert.True(t, nfe.Authorized(100))
	assert.True(t, nfe.Authorized(150))
	assert.True(t, nfe.CancelledStatus(101))
	assert.True(t, nfe.CancelledStatus(135))
	assert.True(t, nfe.Rejected(110))
	assert.True(t, nfe.Rejected(539))
	assert.False(t, nfe.Rejected(100))
}
