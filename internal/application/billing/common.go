package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/jhoicas/nfe-api/internal/domain"
	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/internal/domain/repository"
	"github.com/jhoicas/nfe-api/pkg/nfe"
)

// Clock fuente de tiempo inyectable.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}

// loadInvoice obtiene la nota de la empresa de la sesión o ErrNotFound.
func loadInvoice(ctx context.Context, repo repository.InvoiceRepository, s entity.Session, id string) (*entity.Invoice, error) {
	if s.CompanyID == "" {
		return nil, domain.ErrUnauthorized
	}
	inv, err := repo.GetByID(ctx, s.CompanyID, id)
	if err != nil {
		return nil, fmt.Errorf("obtener nota: %w", err)
	}
	if inv == nil {
		return nil, domain.ErrNotFound
	}
	return inv, nil
}

// requireIssuer falla si la empresa no configuró su perfil de emisor.
func requireIssuer(s entity.Session) error {
	if s.Issuer.Party.CNPJ == "" {
		return domain.NewValidationError("issuer", "la empresa no tiene perfil de emisor configurado")
	}
	return nil
}

// serviceUF UF cuyo web service atiende la nota: la de la chave, luego la del emisor
// y por último la de la sesión.
func serviceUF(s entity.Session, inv *entity.Invoice) string {
	if len(inv.AccessKey) == nfe.AccessKeyLength {
		if uf := nfe.UFFromCode(inv.AccessKey[:2]); uf != "" {
			return uf
		}
	}
	if inv.Issuer.Address.UF != "" {
		return inv.Issuer.Address.UF
	}
	return s.UF
}
