package billing

import (
	"context"

	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/internal/domain/repository"
	"github.com/jhoicas/nfe-api/internal/infrastructure/sefaz"
	"github.com/jhoicas/nfe-api/pkg/nfe"
)

// InvoiceTxRunner ejecuta una función dentro de una transacción con el repo de notas atado a ella.
type InvoiceTxRunner interface {
	RunInvoices(ctx context.Context, fn func(invoiceRepo repository.InvoiceRepository) error) error
}

// CertificateLoader abre un PKCS#12 recibido en la solicitud (signer.LoadFromPKCS12).
type CertificateLoader func(data []byte, password string) (*entity.Certificate, error)

// XMLBuilder serializa la nota al layout 4.00.
type XMLBuilder interface {
	Build(ctx *sefaz.InvoiceBuildContext) ([]byte, error)
}

// EventBuilder serializa un envEvento sin firmar.
type EventBuilder interface {
	Build(req sefaz.EventRequest) ([]byte, error)
}

// Signer firma el elemento con el Id dado (firma XMLDSig envelopada).
type Signer interface {
	Sign(xmlBytes []byte, elementID string, cert *entity.Certificate) ([]byte, error)
}

// Transmitter cliente de los web services de la SEFAZ. Un error devuelto es siempre
// de transmisión; una respuesta con rechazo llega como resultado, no como error.
type Transmitter interface {
	Authorize(ctx context.Context, cert *entity.Certificate, env nfe.Environment, uf string, signedNFe []byte) (*sefaz.AuthorizationResult, error)
	SendEvent(ctx context.Context, cert *entity.Certificate, env nfe.Environment, uf string, signedEvent []byte) (*sefaz.EventResult, error)
}

// Importer reconstruye una nota desde un XML externo (NFe o nfeProc).
type Importer interface {
	Import(data []byte, opts sefaz.ImportOptions) (*entity.Invoice, error)
}

// DANFERenderer genera la representación gráfica en PDF.
type DANFERenderer interface {
	RenderDANFE(ctx context.Context, inv *entity.Invoice) ([]byte, error)
}
