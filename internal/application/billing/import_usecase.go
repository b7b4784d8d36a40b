package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jhoicas/nfe-api/internal/domain"
	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/internal/domain/repository"
	"github.com/jhoicas/nfe-api/internal/infrastructure/sefaz"
	"github.com/jhoicas/nfe-api/pkg/logger"
)

// ImportUseCase incorpora notas emitidas fuera del sistema (NFe o nfeProc). La misma chave
// importada dos veces actualiza la nota existente en lugar de duplicarla.
type ImportUseCase struct {
	txRunner    InvoiceTxRunner
	invoiceRepo repository.InvoiceRepository
	importer    Importer
	log         *logger.Logger
	clock       Clock
}

// NewImportUseCase construye el caso de uso.
func NewImportUseCase(txRunner InvoiceTxRunner, invoiceRepo repository.InvoiceRepository, importer Importer, log *logger.Logger, clock Clock) *ImportUseCase {
	return &ImportUseCase{txRunner: txRunner, invoiceRepo: invoiceRepo, importer: importer, log: log.Component("import"), clock: clock}
}

// Import interpreta y guarda un XML. created indica si la chave no existía en la empresa.
func (uc *ImportUseCase) Import(ctx context.Context, s entity.Session, data []byte, defaultStatus entity.Status) (*entity.Invoice, bool, error) {
	inv, err := uc.parse(s, data, defaultStatus)
	if err != nil {
		return nil, false, err
	}
	created, err := uc.store(ctx, uc.invoiceRepo, inv)
	if err != nil {
		return nil, false, err
	}
	uc.log.Info().Str("access_key", inv.AccessKey).Str("status", string(inv.Status)).Bool("created", created).Msg("NF-e importada")
	return inv, created, nil
}

// ImportMany importa varios documentos en una sola transacción: si uno falla no se
// guarda ninguno.
func (uc *ImportUseCase) ImportMany(ctx context.Context, s entity.Session, docs [][]byte, defaultStatus entity.Status) ([]*entity.Invoice, error) {
	invoices := make([]*entity.Invoice, 0, len(docs))
	for i, data := range docs {
		inv, err := uc.parse(s, data, defaultStatus)
		if err != nil {
			return nil, fmt.Errorf("documento %d: %w", i+1, err)
		}
		invoices = append(invoices, inv)
	}
	err := uc.txRunner.RunInvoices(ctx, func(repo repository.InvoiceRepository) error {
		for _, inv := range invoices {
			if _, err := uc.store(ctx, repo, inv); err != nil {
				return fmt.Errorf("%s: %w", inv.AccessKey, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	uc.log.Info().Int("count", len(invoices)).Msg("lote de NF-e importado")
	return invoices, nil
}

func (uc *ImportUseCase) parse(s entity.Session, data []byte, defaultStatus entity.Status) (*entity.Invoice, error) {
	if s.CompanyID == "" {
		return nil, domain.ErrUnauthorized
	}
	if len(data) == 0 {
		return nil, domain.NewImportError("documento vacío", nil)
	}
	if defaultStatus != "" && !defaultStatus.Valid() {
		return nil, domain.NewValidationError("status", "estado desconocido")
	}
	inv, err := uc.importer.Import(data, sefaz.ImportOptions{IssuerCNPJ: s.Issuer.Party.CNPJ, DefaultStatus: defaultStatus})
	if err != nil {
		return nil, err
	}
	now := uc.clock.now()
	inv.ID = uuid.New().String()
	inv.CompanyID = s.CompanyID
	inv.CreatedAt = now
	inv.UpdatedAt = now
	return inv, nil
}

// store conserva el historial de la nota existente y agrega el evento de importación.
// Reimportar nunca hace retroceder el ciclo de vida: si el documento entrante está en
// una etapa anterior (p. ej. un NFe firmado sin protNFe sobre una nota autorizada, o
// un nfeProc autorizado sobre una nota cancelada) se conserva la nota guardada tal cual.
func (uc *ImportUseCase) store(ctx context.Context, repo repository.InvoiceRepository, inv *entity.Invoice) (bool, error) {
	existing, err := repo.GetByAccessKey(ctx, inv.CompanyID, inv.AccessKey)
	if err != nil {
		return false, fmt.Errorf("buscar nota por chave: %w", err)
	}
	if existing != nil {
		mergeImported(inv, existing)
	}
	inv.Events = append(inv.Events, entity.Event{
		ID:        uuid.New().String(),
		Type:      entity.EventImport,
		Timestamp: inv.UpdatedAt,
		Detail:    string(inv.Status),
		Protocol:  inv.Protocol,
	})
	created, err := repo.UpsertByAccessKey(ctx, inv)
	if err != nil {
		return false, fmt.Errorf("guardar nota importada: %w", err)
	}
	return created, nil
}

// lifecycleRank orden de avance de los estados; los de edición comparten el primer escalón.
func lifecycleRank(st entity.Status) int {
	switch st {
	case entity.StatusSigning:
		return 1
	case entity.StatusTransmitting:
		return 2
	case entity.StatusRejected:
		return 3
	case entity.StatusAuthorized:
		return 4
	case entity.StatusCancelled:
		return 5
	default:
		return 0
	}
}

// mergeImported combina el documento entrante con la nota ya guardada bajo la misma chave.
func mergeImported(inv, existing *entity.Invoice) {
	events := append([]entity.Event(nil), existing.Events...)
	if lifecycleRank(inv.Status) < lifecycleRank(existing.Status) {
		updatedAt := inv.UpdatedAt
		*inv = *existing
		inv.UpdatedAt = updatedAt
		inv.Events = events
		return
	}
	inv.Events = append(inv.Events, events...)
	if inv.Protocol == "" {
		inv.Protocol = existing.Protocol
	}
	if inv.AuthorizedXML == "" {
		inv.AuthorizedXML = existing.AuthorizedXML
	}
	if inv.SignedXML == "" {
		inv.SignedXML = existing.SignedXML
	}
}
