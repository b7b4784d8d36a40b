package sefaz_test

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
	"github.com/jhoicas/nfe-api/internal/domain/fiscal"
	"github.com/jhoicas/nfe-api/pkg/nfe"
)

const testKey = "35241011222333000181550010000001231456789120"

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testAddress() entity.Address {
	return entity.Address{
		Street: "Av. Paulista", Number: "1000", District: "Bela Vista",
		MunicipalityCode: "3550308", Municipality: "São Paulo", UF: "SP",
		PostalCode: "01310-100", CountryCode: "1058", Country: "BRASIL",
	}
}

func item(code, qty, price string) entity.LineItem {
	return entity.LineItem{
		ProductCode: code,
		Description: "Parafuso sextavado",
		NCM:         "73181500",
		CFOP:        "5102",
		Unit:        "UN",
		Quantity:    dec(qty),
		UnitPrice:   dec(price),
		Tax: entity.TaxDetails{
			ICMS:   entity.NormalICMS{CST: nfe.ICMSCST00, Rate: dec("18")},
			PIS:    entity.ContributionTax{CST: nfe.ContributionCST01, Rate: dec("1.65")},
			COFINS: entity.ContributionTax{CST: nfe.ContributionCST01, Rate: dec("7.60")},
		},
	}
}

// testInvoice nota calculada con dos ítems (150,00 y 50,00) y clave asignada.
func testInvoice(t *testing.T) *entity.Invoice {
	t.Helper()
	inv := &entity.Invoice{
		ID:                "inv-1",
		CompanyID:         "company-1",
		Number:            123,
		Series:            1,
		IssueDate:         time.Date(2024, 10, 5, 10, 0, 0, 0, time.FixedZone("BRT", -3*3600)),
		Environment:       nfe.EnvironmentProduction,
		NatureOfOperation: "Venda de mercadoria",
		Issuer: entity.Party{
			CNPJ: "11222333000181", Name: "Emitente Ltda", StateRegistration: "111111111111",
			CRT: nfe.CRTNormal, Address: testAddress(),
		},
		Recipient: entity.Party{
			CNPJ: "11444777000161", Name: "Destinatário São João SA", IEIndicator: entity.IENonContributor,
			Address: testAddress(),
		},
		Items:       []entity.LineItem{item("P001", "10", "15.00"), item("P002", "2", "25.00")},
		Adjustments: entity.Adjustments{Freight: dec("10.00"), Discount: dec("7.00")},
		Remarks:     "Pedido 42",
		Status:      entity.StatusSigning,
		AccessKey:   testKey,
		ControlCode: "45678912",
	}
	_, err := fiscal.Recalculate(inv)
	require.NoError(t, err)
	inv.Payments = []entity.Payment{{Method: nfe.PaymentPix, Amount: inv.Totals.GrandTotal}}
	return inv
}

func testCertificate(t *testing.T) *entity.Certificate {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(7),
		Subject:      pkix.Name{CommonName: "EMITENTE LTDA:11222333000181"},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(24 * time.Hour),
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return &entity.Certificate{PrivateKey: key, Leaf: leaf}
}
