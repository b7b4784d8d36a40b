package billing_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfe-api/internal/application/billing"
	"github.com/jhoicas/nfe-api/internal/application/dto"
	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/internal/domain/repository"
	"github.com/jhoicas/nfe-api/internal/infrastructure/sefaz"
	"github.com/jhoicas/nfe-api/pkg/nfe"
)

var fixedNow = time.Date(2024, 10, 5, 13, 0, 0, 0, time.UTC)

func fixedClock() billing.Clock { return func() time.Time { return fixedNow } }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// ── Repositorio en memoria ───────────────────────────────────────────────────

type memInvoiceRepo struct {
	mu        sync.Mutex
	byID      map[string]entity.Invoice
	numbers   map[string]int
	updates   int
	updateErr error
}

func newMemInvoiceRepo() *memInvoiceRepo {
	return &memInvoiceRepo{byID: map[string]entity.Invoice{}, numbers: map[string]int{}}
}

func (r *memInvoiceRepo) Create(_ context.Context, inv *entity.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[inv.ID]; ok {
		return errors.New("duplicado")
	}
	r.byID[inv.ID] = *inv
	return nil
}

func (r *memInvoiceRepo) Update(_ context.Context, inv *entity.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	r.updates++
	r.byID[inv.ID] = *inv
	return nil
}

func (r *memInvoiceRepo) UpsertByAccessKey(_ context.Context, inv *entity.Invoice) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, existing := range r.byID {
		if existing.CompanyID == inv.CompanyID && existing.AccessKey == inv.AccessKey {
			inv.ID = id
			inv.CreatedAt = existing.CreatedAt
			r.byID[id] = *inv
			return false, nil
		}
	}
	r.byID[inv.ID] = *inv
	return true, nil
}

func (r *memInvoiceRepo) GetByID(_ context.Context, companyID, id string) (*entity.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.byID[id]
	if !ok || inv.CompanyID != companyID {
		return nil, nil
	}
	return &inv, nil
}

func (r *memInvoiceRepo) GetByAccessKey(_ context.Context, companyID, key string) (*entity.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range r.byID {
		if inv.CompanyID == companyID && inv.AccessKey == key {
			out := inv
			return &out, nil
		}
	}
	return nil, nil
}

func (r *memInvoiceRepo) List(_ context.Context, companyID string, f repository.InvoiceFilter) ([]*entity.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Invoice
	for _, inv := range r.byID {
		if inv.CompanyID != companyID || (f.Status != "" && inv.Status != f.Status) {
			continue
		}
		if f.From != nil && inv.IssueDate.Before(*f.From) {
			continue
		}
		if f.To != nil && !inv.IssueDate.Before(*f.To) {
			continue
		}
		c := inv
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *memInvoiceRepo) Delete(_ context.Context, companyID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
	return nil
}

func (r *memInvoiceRepo) NextNumber(_ context.Context, companyID string, series int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := fmt.Sprintf("%s/%d", companyID, series)
	r.numbers[k]++
	return r.numbers[k], nil
}

func (r *memInvoiceRepo) stored(t *testing.T, id string) entity.Invoice {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.byID[id]
	require.True(t, ok, "nota %s no guardada", id)
	return inv
}

type memTxRunner struct {
	repo     *memInvoiceRepo
	rollback bool
}

// RunInvoices simula la transacción: ante error restaura la copia previa.
func (tx *memTxRunner) RunInvoices(ctx context.Context, fn func(repository.InvoiceRepository) error) error {
	tx.repo.mu.Lock()
	snapshot := make(map[string]entity.Invoice, len(tx.repo.byID))
	for k, v := range tx.repo.byID {
		snapshot[k] = v
	}
	tx.repo.mu.Unlock()

	if err := fn(tx.repo); err != nil {
		tx.repo.mu.Lock()
		tx.repo.byID = snapshot
		tx.repo.mu.Unlock()
		tx.rollback = true
		return err
	}
	return nil
}

type memProfileRepo struct {
	profiles map[string]entity.IssuerProfile
}

func (r *memProfileRepo) GetByCompanyID(_ context.Context, companyID string) (*entity.IssuerProfile, error) {
	p, ok := r.profiles[companyID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *memProfileRepo) Save(_ context.Context, p *entity.IssuerProfile) error {
	if r.profiles == nil {
		r.profiles = map[string]entity.IssuerProfile{}
	}
	r.profiles[p.CompanyID] = *p
	return nil
}

// ── SEFAZ simulada ───────────────────────────────────────────────────────────

type fakeTransmitter struct {
	authResult  *sefaz.AuthorizationResult
	authErr     error
	eventResult *sefaz.EventResult
	eventErr    error

	authCalls  int
	eventCalls int
	lastSigned []byte
	lastUF     string
}

func (f *fakeTransmitter) Authorize(_ context.Context, _ *entity.Certificate, _ nfe.Environment, uf string, signed []byte) (*sefaz.AuthorizationResult, error) {
	f.authCalls++
	f.lastSigned = signed
	f.lastUF = uf
	return f.authResult, f.authErr
}

func (f *fakeTransmitter) SendEvent(_ context.Context, _ *entity.Certificate, _ nfe.Environment, uf string, signed []byte) (*sefaz.EventResult, error) {
	f.eventCalls++
	f.lastSigned = signed
	f.lastUF = uf
	return f.eventResult, f.eventErr
}

func authorizedResult(key string) *sefaz.AuthorizationResult {
	return &sefaz.AuthorizationResult{
		BatchStatus: 104, BatchReason: "Lote processado",
		Status: 100, Reason: "Autorizado o uso da NF-e",
		AccessKey: key, Protocol: "135240000000001",
		ReceivedAt: fixedNow.Add(time.Second),
		ProtocolXML: []byte(`<protNFe versao="4.00"><infProt><tpAmb>2</tpAmb><chNFe>` + key +
			`</chNFe><nProt>135240000000001</nProt><cStat>100</cStat><xMotivo>Autorizado o uso da NF-e</xMotivo></infProt></protNFe>`),
	}
}

func eventResult(cStat int, reason string) *sefaz.EventResult {
	return &sefaz.EventResult{
		BatchStatus: 128, BatchReason: "Lote de Evento Processado",
		Status: cStat, Reason: reason, Protocol: "135240000000099",
		ReceivedAt: fixedNow.Add(time.Minute),
		ResultXML: []byte(fmt.Sprintf(`<retEvento versao="1.00"><infEvento><cStat>%d</cStat><xMotivo>%s</xMotivo>`+
			`<nProt>135240000000099</nProt></infEvento></retEvento>`, cStat, reason)),
	}
}

// ── Certificados ─────────────────────────────────────────────────────────────

func newCertificate(t *testing.T, cn string, notBefore, notAfter time.Time) *entity.Certificate {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(7),
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

// staticLoader ignora los bytes y devuelve siempre el mismo certificado.
func staticLoader(cert *entity.Certificate) billing.CertificateLoader {
	return func([]byte, string) (*entity.Certificate, error) { return cert, nil }
}

// ── Datos ────────────────────────────────────────────────────────────────────

func testAddress() dto.AddressDTO {
	return dto.AddressDTO{
		Street: "Av. Paulista", Number: "1000", District: "Bela Vista",
		MunicipalityCode: "3550308", Municipality: "São Paulo", UF: "SP",
		PostalCode: "01310-100", CountryCode: "1058", Country: "BRASIL",
	}
}

func testSession() entity.Session {
	addr := testAddress().ToEntity()
	return entity.Session{
		CompanyID: "company-1",
		UserID:    "user-1",
		Issuer: entity.IssuerProfile{
			CompanyID: "company-1",
			Party: entity.Party{
				CNPJ: "11222333000181", Name: "Emitente Ltda", StateRegistration: "111111111111",
				CRT: nfe.CRTNormal, Address: addr,
			},
			DefaultSeries: 1,
			Environment:   nfe.EnvironmentHomologation,
		},
		Environment: nfe.EnvironmentHomologation,
		UF:          "SP",
	}
}

// testInput borrador de régimen normal: 10 × 15,00 con ICMS 18 % pagado en efectivo.
func testInput() dto.InvoiceInput {
	return dto.InvoiceInput{
		NatureOfOperation: "Venda de mercadoria",
		Recipient: dto.PartyDTO{
			CNPJ: "11.444.777/0001-61", Name: "Destinatario SA", IEIndicator: entity.IENonContributor,
			Address: testAddress(),
		},
		Items: []dto.LineItemDTO{{
			ProductCode: "P001", Description: "Parafuso", NCM: "73181500", CFOP: "5102", Unit: "UN",
			Quantity: dec("10"), UnitPrice: dec("15.00"),
			ICMS:     dto.ICMSDTO{Regime: dto.RegimeNormal, CST: string(nfe.ICMSCST00), Rate: dec("18")},
			PIS:      dto.ContributionDTO{CST: string(nfe.ContributionCST01), Rate: dec("1.65")},
			COFINS:   dto.ContributionDTO{CST: string(nfe.ContributionCST01), Rate: dec("7.60")},
		}},
		Payments: []dto.PaymentDTO{{Method: nfe.PaymentCash, Amount: dec("150.00")}},
	}
}
