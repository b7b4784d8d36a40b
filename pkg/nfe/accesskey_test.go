package nfe_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfe-api/pkg/nfe"
)

func buildTestParams() nfe.AccessKeyParams {
	return nfe.AccessKeyParams{
		UF:          "SP",
		Year:        2024,
		Month:       10,
		CNPJ:        "11.222.333/0001-81",
		Series:      1,
		Number:      123,
		ControlCode: "45678912",
	}
}

func TestCheckDigit_VectorManual(t *testing.T) {
	// Ejemplo del Manual de Orientação do Contribuinte.
	assert.Equal(t, 5, nfe.CheckDigit("5206043300991100250655012000000780026730161"))
}

func TestBuildAccessKey_Composicion(t *testing.T) {
	key, err := nfe.BuildAccessKey(buildTestParams())
	require.NoError(t, err)
	require.Len(t, key, 44)
	assert.Equal(t, "35241011222333000181550010000001231456789120", key)
	assert.NoError(t, nfe.ValidateAccessKey(key))
}

func TestBuildAccessKey_Determinista(t *testing.T) {
	k1, err := nfe.BuildAccessKey(buildTestParams())
	require.NoError(t, err)
	k2, err := nfe.BuildAccessKey(buildTestParams())
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
}

func TestBuildAccessKey_AceptaCodigoIBGE(t *testing.T) {
	p := buildTestParams()
	p.UF = "35"
	key, err := nfe.BuildAccessKey(p)
	require.NoError(t, err)
	assert.Equal(t, "35", key[:2])
}

func TestBuildAccessKey_ErroresDeEntrada(t *testing.T) {
	p := buildTestParams()
	p.UF = "XX"
	_, err := nfe.BuildAccessKey(p)
	assert.Error(t, err)

	p = buildTestParams()
	p.CNPJ = "123"
	_, err = nfe.BuildAccessKey(p)
	assert.Error(t, err)

	p = buildTestParams()
	p.Number = 0
	_, err = nfe.BuildAccessKey(p)
	assert.Error(t, err)

	p = buildTestParams()
	p.ControlCode = "12"
	_, err = nfe.BuildAccessKey(p)
	assert.Error(t, err)
}

func TestValidateAccessKey_DigitoAlterado(t *testing.T) {
	key, err := nfe.BuildAccessKey(buildTestParams())
	require.NoError(t, err)
	altered := key[:43] + "7"
	assert.Error(t, nfe.ValidateAccessKey(altered))
	assert.Error(t, nfe.ValidateAccessKey(key[:43]))
	assert.Error(t, nfe.ValidateAccessKey("3524101122233300018155001000000123145678912A"))
}

func TestParseAccessKey_Descompone(t *testing.T) {
	key, err := nfe.BuildAccessKey(buildTestParams())
	require.NoError(t, err)

	parts, err := nfe.ParseAccessKey(key)
	require.NoError(t, err)
	assert.Equal(t, "35", parts.UFCode)
	assert.Equal(t, "2410", parts.YearMonth)
	assert.Equal(t, "11222333000181", parts.CNPJ)
	assert.Equal(t, "55", parts.Model)
	assert.Equal(t, 1, parts.Series)
	assert.Equal(t, 123, parts.Number)
	assert.Equal(t, 1, parts.EmissionType)
	assert.Equal(t, "45678912", parts.ControlCode)
}

func TestAccessKeyFromID(t *testing.T) {
	assert.Equal(t, "35241011222333000181550010000001231456789120",
		nfe.AccessKeyFromID("NFe35241011222333000181550010000001231456789120"))
	assert.Empty(t, nfe.AccessKeyFromID("ID110111352410"))
}

func TestNewControlCode_OchoDigitosDistintoDelNumero(t *testing.T) {
	code, err := nfe.NewControlCode(123, nil)
	require.NoError(t, err)
	assert.Len(t, code, 8)
	assert.NotEqual(t, "00000123", code)
}

func TestNewControlCode_FuenteAgotada(t *testing.T) {
	_, err := nfe.NewControlCode(1, bytes.NewReader(nil))
	assert.Error(t, err)
}
