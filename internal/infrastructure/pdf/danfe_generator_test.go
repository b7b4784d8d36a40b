package pdf

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/pkg/nfe"
)

const testKey = "35241011222333000181550010000001231456789120"

func danfeInvoice() *entity.Invoice {
	return &entity.Invoice{
		Number:            123,
		Series:            1,
		IssueDate:         time.Date(2024, 10, 5, 10, 0, 0, 0, time.UTC),
		Environment:       nfe.EnvironmentProduction,
		NatureOfOperation: "Venda de mercadoria",
		Issuer:            entity.Party{CNPJ: "11222333000181", Name: "Emitente Ltda", StateRegistration: "111111111111"},
		Recipient:         entity.Party{CNPJ: "11444777000161", Name: "Destinatario SA"},
		Items: []entity.LineItem{{
			ProductCode: "P001", Description: "Parafuso", NCM: "73181500", CFOP: "5102", Unit: "UN",
			Quantity: decimal.NewFromInt(10), UnitPrice: decimal.NewFromInt(15), Total: decimal.NewFromInt(150),
			Tax: entity.TaxDetails{Origin: "0", ICMS: entity.NormalICMS{CST: nfe.ICMSCST00}},
		}},
		Totals:    entity.Totals{Products: decimal.NewFromInt(150), GrandTotal: decimal.NewFromInt(150)},
		Status:    entity.StatusAuthorized,
		AccessKey: testKey,
		Protocol:  "135240000000001",
	}
}

func TestRenderDANFE_GeneraPDF(t *testing.T) {
	out, err := NewDANFEGenerator().RenderDANFE(context.Background(), danfeInvoice())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestRenderDANFE_SinClaveFalla(t *testing.T) {
	inv := danfeInvoice()
	inv.AccessKey = ""
	_, err := NewDANFEGenerator().RenderDANFE(context.Background(), inv)
	assert.Error(t, err)
}

func TestLegends(t *testing.T) {
	inv := danfeInvoice()
	assert.Empty(t, legends(inv))

	inv.Environment = nfe.EnvironmentHomologation
	inv.Status = entity.StatusCancelled
	assert.Equal(t, []string{"EMITIDA EM AMBIENTE DE HOMOLOGAÇÃO - SEM VALOR FISCAL", "NF-e CANCELADA"}, legends(inv))

	inv.Environment = nfe.EnvironmentProduction
	inv.Status = entity.StatusTransmitting
	assert.Equal(t, []string{"DOCUMENTO SEM AUTORIZAÇÃO DE USO"}, legends(inv))
}

func TestFormatos(t *testing.T) {
	assert.Equal(t, "1.234.567,80", formatDecimal(decimal.RequireFromString("1234567.8"), 2))
	assert.Equal(t, "-15,00", formatDecimal(decimal.NewFromInt(-15), 2))
	assert.Equal(t, "10,0000", formatDecimal(decimal.NewFromInt(10), 4))
	assert.Equal(t, "11.222.333/0001-81", formatCNPJ("11222333000181"))
	assert.Equal(t, "01310-100", formatCEP("01310100"))
	assert.Equal(t, "3524 1011", formatAccessKey("35241011"))
}
