package fiscal_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/pkg/nfe"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testAddress() entity.Address {
	return entity.Address{
		Street: "Av. Paulista", Number: "1000", District: "Bela Vista",
		MunicipalityCode: "3550308", Municipality: "São Paulo", UF: "SP",
		PostalCode: "01310-100", CountryCode: "1058", Country: "BRASIL",
	}
}

func normalItem(qty, price, rate string) entity.LineItem {
	return entity.LineItem{
		ProductCode: "P001",
		Description: "Parafuso",
		NCM:         "73181500",
		CFOP:        "5102",
		Unit:        "UN",
		Quantity:    dec(qty),
		UnitPrice:   dec(price),
		Tax: entity.TaxDetails{
			ICMS:   entity.NormalICMS{CST: nfe.ICMSCST00, Rate: dec(rate)},
			PIS:    entity.ContributionTax{CST: nfe.ContributionCST01, Rate: dec("1.65")},
			COFINS: entity.ContributionTax{CST: nfe.ContributionCST01, Rate: dec("7.60")},
		},
	}
}

// newTestInvoice nota de régimen normal con un ítem de 10 × 15,00 y pago en efectivo.
func newTestInvoice() *entity.Invoice {
	inv := &entity.Invoice{
		ID:                "inv-1",
		CompanyID:         "company-1",
		Number:            123,
		Series:            1,
		IssueDate:         time.Date(2024, 10, 5, 10, 0, 0, 0, time.UTC),
		Environment:       nfe.EnvironmentHomologation,
		NatureOfOperation: "Venda de mercadoria",
		Issuer: entity.Party{
			CNPJ: "11222333000181", Name: "Emitente Ltda", StateRegistration: "111111111111",
			CRT: nfe.CRTNormal, Address: testAddress(),
		},
		Recipient: entity.Party{
			CNPJ: "11444777000161", Name: "Destinatario SA", IEIndicator: entity.IENonContributor,
			Address: testAddress(),
		},
		Items:  []entity.LineItem{normalItem("10", "15.00", "18")},
		Status: entity.StatusDraft,
	}
	inv.Payments = []entity.Payment{{Method: nfe.PaymentCash, Amount: dec("150.00")}}
	return inv
}

func newTestCertificate(t *testing.T, cn string, notBefore, notAfter time.Time) *entity.Certificate {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return &entity.Certificate{PrivateKey: key, Leaf: leaf}
}

func validCertificate(t *testing.T) *entity.Certificate {
	now := time.Now()
	return newTestCertificate(t, "EMITENTE LTDA:11222333000181", now.Add(-time.Hour), now.Add(365*24*time.Hour))
}
