package sefaz_test

import (
	"context"
	"crypto/x509"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfe-api/internal/domain"
	"github.com/jhoicas/nfe-api/internal/infrastructure/sefaz"
	"github.com/jhoicas/nfe-api/pkg/nfe"
)

// ── Helpers ──────────────────────────────────────────────────────────────────

func soapReply(body string) string {
	return `<?xml version="1.0" encoding="utf-8"?><soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope">` +
		`<soap:Body><nfeResultMsg xmlns="http://www.portalfiscal.inf.br/nfe/wsdl/NFeAutorizacao4">` + body +
		`</nfeResultMsg></soap:Body></soap:Envelope>`
}

func newSefazServer(t *testing.T, status int, reply string, captured *string) (*httptest.Server, *sefaz.SOAPSefazClient) {
	t.Helper()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if captured != nil {
			*captured = r.Header.Get("Content-Type") + "\n" + string(body)
		}
		w.Header().Set("Content-Type", "application/soap+xml; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)

	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())
	client := sefaz.NewSOAPSefazClient(sefaz.ClientConfig{
		Timeout:          5 * time.Second,
		AuthorizationURL: srv.URL + "/autorizacao",
		EventURL:         srv.URL + "/evento",
		RootCAs:          pool,
	})
	return srv, client
}

// ── Authorize ────────────────────────────────────────────────────────────────

func TestAuthorize_Autorizada(t *testing.T) {
	reply := soapReply(`<retEnviNFe versao="4.00" xmlns="http://www.portalfiscal.inf.br/nfe"><tpAmb>2</tpAmb>` +
		`<cStat>104</cStat><xMotivo>Lote processado</xMotivo>` + protNFe("100", "Autorizado o uso da NF-e") + `</retEnviNFe>`)
	var captured string
	_, client := newSefazServer(t, http.StatusOK, reply, &captured)

	res, err := client.Authorize(context.Background(), testCertificate(t), nfe.EnvironmentHomologation, "SP", builtXML(t))
	require.NoError(t, err)
	assert.Equal(t, 104, res.BatchStatus)
	assert.Equal(t, 100, res.Status)
	assert.Equal(t, "135240000000001", res.Protocol)
	assert.Equal(t, testKey, res.AccessKey)
	assert.Contains(t, string(res.ProtocolXML), "<protNFe")

	assert.Contains(t, captured, "application/soap+xml")
	assert.Contains(t, captured, "<cUF>35</cUF>")
	assert.Contains(t, captured, "<indSinc>1</indSinc>")
	assert.Contains(t, captured, "<infNFe versao=\"4.00\" Id=\"NFe"+testKey+"\">")
}

func TestAuthorize_Rechazo(t *testing.T) {
	reply := soapReply(`<retEnviNFe versao="4.00" xmlns="http://www.portalfiscal.inf.br/nfe">` +
		`<cStat>104</cStat><xMotivo>Lote processado</xMotivo>` + protNFe("539", "Duplicidade de NF-e") + `</retEnviNFe>`)
	_, client := newSefazServer(t, http.StatusOK, reply, nil)

	res, err := client.Authorize(context.Background(), testCertificate(t), nfe.EnvironmentHomologation, "SP", builtXML(t))
	require.NoError(t, err, "un rechazo es una respuesta válida")
	assert.Equal(t, 539, res.Status)
	assert.True(t, nfe.Rejected(res.Status))
}

func TestAuthorize_LoteSinProtocolo(t *testing.T) {
	reply := soapReply(`<retEnviNFe versao="4.00" xmlns="http://www.portalfiscal.inf.br/nfe">` +
		`<cStat>225</cStat><xMotivo>Falha no Schema XML</xMotivo></retEnviNFe>`)
	_, client := newSefazServer(t, http.StatusOK, reply, nil)

	res, err := client.Authorize(context.Background(), testCertificate(t), nfe.EnvironmentHomologation, "SP", builtXML(t))
	require.NoError(t, err)
	assert.Equal(t, 225, res.BatchStatus)
	assert.Zero(t, res.Status)
}

func TestAuthorize_Error5xxEsTemporal(t *testing.T) {
	_, client := newSefazServer(t, http.StatusServiceUnavailable, "Service Unavailable", nil)
	_, err := client.Authorize(context.Background(), testCertificate(t), nfe.EnvironmentHomologation, "SP", builtXML(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTransmission))
	assert.True(t, domain.IsTemporary(err))
}

func TestAuthorize_SOAPFaultNoEsTemporal(t *testing.T) {
	fault := `<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope"><soap:Body><soap:Fault>` +
		`<soap:Code><soap:Value>soap:Receiver</soap:Value></soap:Code><soap:Reason><soap:Text xml:lang="pt">Erro interno</soap:Text></soap:Reason>` +
		`</soap:Fault></soap:Body></soap:Envelope>`
	_, client := newSefazServer(t, http.StatusInternalServerError, fault, nil)
	_, err := client.Authorize(context.Background(), testCertificate(t), nfe.EnvironmentHomologation, "SP", builtXML(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTransmission))
	assert.False(t, domain.IsTemporary(err))
	assert.Contains(t, err.Error(), "Erro interno")
}

func TestAuthorize_RedCaidaEsTemporal(t *testing.T) {
	srv, client := newSefazServer(t, http.StatusOK, "", nil)
	srv.Close()
	_, err := client.Authorize(context.Background(), testCertificate(t), nfe.EnvironmentHomologation, "SP", builtXML(t))
	require.Error(t, err)
	assert.True(t, domain.IsTemporary(err))
}

func TestAuthorize_SinCertificado(t *testing.T) {
	_, client := newSefazServer(t, http.StatusOK, "", nil)
	_, err := client.Authorize(context.Background(), nil, nfe.EnvironmentHomologation, "SP", builtXML(t))
	assert.True(t, errors.Is(err, domain.ErrCertificate))
}

// ── SendEvent ────────────────────────────────────────────────────────────────

func TestSendEvent_Registrado(t *testing.T) {
	reply := strings.Replace(soapReply(`<retEnvEvento versao="1.00" xmlns="http://www.portalfiscal.inf.br/nfe">`+
		`<idLote>1</idLote><cStat>128</cStat><xMotivo>Lote de Evento Processado</xMotivo>`+
		`<retEvento versao="1.00"><infEvento><cStat>135</cStat><xMotivo>Evento registrado e vinculado a NF-e</xMotivo>`+
		`<nProt>135240000000009</nProt><dhRegEvento>2024-10-06T09:31:00-03:00</dhRegEvento></infEvento></retEvento>`+
		`</retEnvEvento>`), "NFeAutorizacao4", "NFeRecepcaoEvento4", 1)
	var captured string
	_, client := newSefazServer(t, http.StatusOK, reply, &captured)

	unsigned, err := sefaz.NewEventBuilderService().Build(cancellationRequest())
	require.NoError(t, err)
	res, err := client.SendEvent(context.Background(), testCertificate(t), nfe.EnvironmentHomologation, "SP", unsigned)
	require.NoError(t, err)
	assert.Equal(t, 128, res.BatchStatus)
	assert.Equal(t, 135, res.Status)
	assert.True(t, nfe.EventAccepted(res.Status))
	assert.Equal(t, "135240000000009", res.Protocol)
	assert.Contains(t, string(res.ResultXML), `xmlns="http://www.portalfiscal.inf.br/nfe"`)
	assert.Contains(t, captured, "NFeRecepcaoEvento4")
	assert.Contains(t, captured, "<versaoDados>1.00</versaoDados>")
}

// ── Endpoints ────────────────────────────────────────────────────────────────

func TestEndpoint_TablaYFallbackSVRS(t *testing.T) {
	c := sefaz.NewSOAPSefazClient(sefaz.ClientConfig{})

	url, err := c.Endpoint("NFeAutorizacao4", nfe.EnvironmentProduction, "SP")
	require.NoError(t, err)
	assert.Equal(t, "https://nfe.fazenda.sp.gov.br/ws/nfeautorizacao4.asmx", url)

	url, err = c.Endpoint("NFeRecepcaoEvento4", nfe.EnvironmentHomologation, "SC")
	require.NoError(t, err)
	assert.Contains(t, url, "svrs")

	_, err = c.Endpoint("NFeAutorizacao4", nfe.EnvironmentProduction, "XX")
	assert.Error(t, err)
}
