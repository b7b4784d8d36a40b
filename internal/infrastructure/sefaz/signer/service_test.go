package signer_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"software.sslmate.com/src/go-pkcs12"

	"github.com/jhoicas/nfe-api/internal/domain"
	"github.com/jhoicas/nfe-api/internal/infrastructure/sefaz/signer"
)

// ── Helpers ──────────────────────────────────────────────────────────────────

func newPKCS12(t *testing.T, notBefore, notAfter time.Time, password string) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: "EMITENTE LTDA:11222333000181"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	data, err := pkcs12.Modern.Encode(key, cert, nil, password)
	require.NoError(t, err)
	return data
}

func validPKCS12(t *testing.T) []byte {
	t.Helper()
	now := time.Now()
	return newPKCS12(t, now.Add(-time.Hour), now.Add(24*time.Hour), "segredo")
}

const unsignedNFe = `<NFe xmlns="http://www.portalfiscal.inf.br/nfe"><infNFe versao="4.00" Id="NFe35241011222333000181550010000001231456789120"><ide><cUF>35</cUF><natOp>VENDA</natOp></ide><emit><CNPJ>11222333000181</CNPJ><xNome>EMITENTE LTDA</xNome></emit></infNFe></NFe>`

// ── PKCS#12 ──────────────────────────────────────────────────────────────────

func TestLoadFromPKCS12_ExtraeLlaveYCNPJ(t *testing.T) {
	cert, err := signer.LoadFromPKCS12(validPKCS12(t), "segredo")
	require.NoError(t, err)
	assert.NotNil(t, cert.PrivateKey)
	assert.Equal(t, "11222333000181", cert.CNPJ())
	assert.Len(t, signer.Fingerprint(cert), 40)
}

func TestLoadFromPKCS12_ContrasenaIncorrecta(t *testing.T) {
	_, err := signer.LoadFromPKCS12(validPKCS12(t), "errada")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCertificate))
}

func TestLoadFromPKCS12_Vencido(t *testing.T) {
	now := time.Now()
	data := newPKCS12(t, now.Add(-48*time.Hour), now.Add(-24*time.Hour), "x")
	_, err := signer.LoadFromPKCS12(data, "x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCertificate))

	cert, err := signer.DecodePKCS12(data, "x")
	require.NoError(t, err, "el diagnóstico abre certificados vencidos")
	assert.False(t, cert.ValidAt(now))
}

func TestLoadFromPKCS12_Vacio(t *testing.T) {
	_, err := signer.LoadFromPKCS12(nil, "")
	assert.True(t, errors.Is(err, domain.ErrCertificate))
}

// ── Firma ────────────────────────────────────────────────────────────────────

func TestSign_InsertaFirmaComoHermanoYVerifica(t *testing.T) {
	cert, err := signer.LoadFromPKCS12(validPKCS12(t), "segredo")
	require.NoError(t, err)
	svc := signer.NewDigitalSignatureService()

	signed, err := svc.Sign([]byte(unsignedNFe), "NFe35241011222333000181550010000001231456789120", cert)
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(signed))
	children := doc.Root().ChildElements()
	require.Len(t, children, 2)
	assert.Equal(t, "infNFe", children[0].Tag)
	assert.Equal(t, "Signature", children[1].Tag)
	assert.Equal(t, "http://www.w3.org/2000/09/xmldsig#", children[1].SelectAttrValue("xmlns", ""))
	assert.Equal(t, "#NFe35241011222333000181550010000001231456789120",
		children[1].FindElement("SignedInfo/Reference").SelectAttrValue("URI", ""))

	signerCert, err := svc.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, cert.Leaf.Raw, signerCert.Raw)
}

func TestSign_DeterministaParaElMismoDocumento(t *testing.T) {
	cert, err := signer.LoadFromPKCS12(validPKCS12(t), "segredo")
	require.NoError(t, err)
	svc := signer.NewDigitalSignatureService()
	id := "NFe35241011222333000181550010000001231456789120"

	a, err := svc.Sign([]byte(unsignedNFe), id, cert)
	require.NoError(t, err)
	b, err := svc.Sign([]byte(unsignedNFe), id, cert)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestVerify_DetectaAlteracion(t *testing.T) {
	cert, err := signer.LoadFromPKCS12(validPKCS12(t), "segredo")
	require.NoError(t, err)
	svc := signer.NewDigitalSignatureService()
	signed, err := svc.Sign([]byte(unsignedNFe), "NFe35241011222333000181550010000001231456789120", cert)
	require.NoError(t, err)

	tampered := strings.Replace(string(signed), "<natOp>VENDA</natOp>", "<natOp>DOACAO</natOp>", 1)
	_, err = svc.Verify([]byte(tampered))
	assert.Error(t, err)
}

func TestSign_IdInexistente(t *testing.T) {
	cert, err := signer.LoadFromPKCS12(validPKCS12(t), "segredo")
	require.NoError(t, err)
	_, err = signer.NewDigitalSignatureService().Sign([]byte(unsignedNFe), "NFe000", cert)
	assert.Error(t, err)
}

func TestSign_SinCertificado(t *testing.T) {
	_, err := signer.NewDigitalSignatureService().Sign([]byte(unsignedNFe), "NFe000", nil)
	assert.True(t, errors.Is(err, domain.ErrCertificate))
}
