package sefaz_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/jhoicas/nfe-api/internal/domain"
	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/internal/infrastructure/sefaz"
	"github.com/jhoicas/nfe-api/internal/infrastructure/sefaz/signer"
	"github.com/jhoicas/nfe-api/pkg/nfe"
)

func newImporter() *sefaz.XMLImporterService {
	return sefaz.NewXMLImporterService(signer.NewDigitalSignatureService())
}

func builtXML(t *testing.T) []byte {
	t.Helper()
	out, err := sefaz.NewXMLBuilderService().Build(&sefaz.InvoiceBuildContext{Invoice: testInvoice(t)})
	require.NoError(t, err)
	return out
}

func protNFe(cStat, motivo string) string {
	return `<protNFe xmlns="http://www.portalfiscal.inf.br/nfe" versao="4.00"><infProt><tpAmb>1</tpAmb>` +
		`<chNFe>` + testKey + `</chNFe><dhRecbto>2024-10-05T10:01:00-03:00</dhRecbto>` +
		`<nProt>135240000000001</nProt><digVal>abc=</digVal><cStat>` + cStat + `</cStat>` +
		`<xMotivo>` + motivo + `</xMotivo></infProt></protNFe>`
}

func procXML(t *testing.T, cStat string) []byte {
	t.Helper()
	out, err := sefaz.AssembleNFeProc(builtXML(t), []byte(protNFe(cStat, "Autorizado o uso da NF-e")))
	require.NoError(t, err)
	return out
}

func TestImport_ReconstruyeLaNotaConstruida(t *testing.T) {
	original := testInvoice(t)
	inv, err := newImporter().Import(builtXML(t), sefaz.ImportOptions{})
	require.NoError(t, err)

	assert.Equal(t, testKey, inv.AccessKey)
	assert.Equal(t, 123, inv.Number)
	assert.Equal(t, 1, inv.Series)
	assert.Equal(t, nfe.EnvironmentProduction, inv.Environment)
	assert.Equal(t, entity.StatusDraft, inv.Status)
	assert.Equal(t, nfe.CRTNormal, inv.Issuer.CRT)
	assert.Equal(t, "11444777000161", inv.Recipient.CNPJ)
	assert.True(t, original.IssueDate.Equal(inv.IssueDate))

	require.Len(t, inv.Items, 2)
	icms, ok := inv.Items[0].Tax.ICMS.(entity.NormalICMS)
	require.True(t, ok)
	assert.Equal(t, nfe.ICMSCST00, icms.CST)
	assert.True(t, dec("18").Equal(icms.Rate))
	assert.True(t, dec("27.00").Equal(inv.Items[0].Tax.Computed.ICMSValue))
	assert.Equal(t, nfe.IPICST53, inv.Items[0].Tax.IPI.CST)
	assert.Equal(t, nfe.ContributionCST01, inv.Items[0].Tax.PIS.CST)

	assert.True(t, original.Totals.GrandTotal.Equal(inv.Totals.GrandTotal))
	assert.True(t, dec("10").Equal(inv.Adjustments.Freight))
	require.Len(t, inv.Payments, 1)
	assert.Equal(t, nfe.PaymentPix, inv.Payments[0].Method)
	assert.Equal(t, "Pedido 42", inv.Remarks)
}

func TestImport_EstadoDesdeProtocolo(t *testing.T) {
	cases := map[string]entity.Status{
		"100": entity.StatusAuthorized,
		"150": entity.StatusAuthorized,
		"101": entity.StatusCancelled,
		"135": entity.StatusCancelled,
		"302": entity.StatusRejected,
		"539": entity.StatusRejected,
	}
	for cStat, want := range cases {
		inv, err := newImporter().Import(procXML(t, cStat), sefaz.ImportOptions{DefaultStatus: entity.StatusDraft})
		require.NoError(t, err, cStat)
		assert.Equal(t, want, inv.Status, "cStat %s", cStat)
	}
}

func TestImport_AutorizadaGuardaProtocoloYDistribucion(t *testing.T) {
	raw := procXML(t, "100")
	inv, err := newImporter().Import(raw, sefaz.ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, "135240000000001", inv.Protocol)
	assert.Equal(t, 100, inv.StatusCode)
	assert.Equal(t, string(raw), inv.AuthorizedXML)
}

func TestImport_EmisorDistintoDelEsperado(t *testing.T) {
	_, err := newImporter().Import(builtXML(t), sefaz.ImportOptions{IssuerCNPJ: "11.444.777/0001-61"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrImport))
}

func TestImport_CNPJDeLaClaveNoCoincide(t *testing.T) {
	x := strings.Replace(string(builtXML(t)), "<CNPJ>11222333000181</CNPJ>", "<CNPJ>11444777000161</CNPJ>", 1)
	_, err := newImporter().Import([]byte(x), sefaz.ImportOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrImport))
}

func TestImport_ClaveConDVInvalido(t *testing.T) {
	bad := testKey[:43] + "9"
	x := strings.Replace(string(builtXML(t)), "NFe"+testKey, "NFe"+bad, 1)
	_, err := newImporter().Import([]byte(x), sefaz.ImportOptions{})
	assert.True(t, errors.Is(err, domain.ErrImport))
}

func TestImport_XMLInvalidoYSinInfNFe(t *testing.T) {
	svc := newImporter()
	_, err := svc.Import([]byte("<NFe><infNFe>"), sefaz.ImportOptions{})
	assert.True(t, errors.Is(err, domain.ErrImport))

	_, err = svc.Import([]byte(`<NFe xmlns="http://www.portalfiscal.inf.br/nfe"/>`), sefaz.ImportOptions{})
	assert.True(t, errors.Is(err, domain.ErrImport))
}

func TestImport_ISO88591(t *testing.T) {
	utf := strings.Replace(string(builtXML(t)), "<infCpl>Pedido 42</infCpl>", "<infCpl>Observação</infCpl>", 1)
	latin, err := charmap.ISO8859_1.NewEncoder().String(utf)
	require.NoError(t, err)
	doc := `<?xml version="1.0" encoding="ISO-8859-1"?>` + latin

	inv, err := newImporter().Import([]byte(doc), sefaz.ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Observação", inv.Remarks)
}

func TestImport_NamespaceConPrefijo(t *testing.T) {
	x := `<ns:NFe xmlns:ns="http://www.portalfiscal.inf.br/nfe">` +
		strings.TrimSuffix(strings.TrimPrefix(string(builtXML(t)), `<NFe xmlns="http://www.portalfiscal.inf.br/nfe">`), `</NFe>`) +
		`</ns:NFe>`
	inv, err := newImporter().Import([]byte(x), sefaz.ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, testKey, inv.AccessKey)
}

func signedProc(t *testing.T, prot string) []byte {
	t.Helper()
	signed, err := signer.NewDigitalSignatureService().Sign(builtXML(t), "NFe"+testKey, testCertificate(t))
	require.NoError(t, err)
	proc, err := sefaz.AssembleNFeProc(signed, []byte(prot))
	require.NoError(t, err)
	return proc
}

func TestImport_NfeProcFirmadoSeVerifica(t *testing.T) {
	inv, err := newImporter().Import(signedProc(t, protNFe("100", "Autorizado o uso da NF-e")), sefaz.ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, entity.StatusAuthorized, inv.Status)
	assert.NotEmpty(t, inv.SignedXML)
}

func TestImport_FirmaAlteradaSeRechaza(t *testing.T) {
	proc := signedProc(t, protNFe("100", "Autorizado o uso da NF-e"))
	tampered := strings.Replace(string(proc), "<infCpl>Pedido 42</infCpl>", "<infCpl>Pedido 43</infCpl>", 1)
	require.NotEqual(t, string(proc), tampered)

	_, err := newImporter().Import([]byte(tampered), sefaz.ImportOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrImport))
}

func TestImport_ProtocoloDeOtraChave(t *testing.T) {
	other := "35241011222333000181550010000009991456789128"
	prot := strings.Replace(protNFe("100", "Autorizado o uso da NF-e"), testKey, other, 1)

	_, err := newImporter().Import(signedProc(t, prot), sefaz.ImportOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrImport))

	_, err = newImporter().Import([]byte(strings.Replace(string(procXML(t, "100")), testKey+"</chNFe>", other+"</chNFe>", 1)), sefaz.ImportOptions{})
	assert.True(t, errors.Is(err, domain.ErrImport))
}
