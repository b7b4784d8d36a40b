package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/nfe-api/internal/application/dto"
	"github.com/jhoicas/nfe-api/internal/domain"
	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/internal/domain/fiscal"
	"github.com/jhoicas/nfe-api/internal/domain/repository"
	"github.com/jhoicas/nfe-api/pkg/logger"
	"github.com/jhoicas/nfe-api/pkg/nfe"
)

// DefaultNatureOfOperation natOp cuando el borrador no trae una.
const DefaultNatureOfOperation = "Venda de mercadoria"

// DraftUseCase crea, edita, lista y elimina borradores de NF-e.
type DraftUseCase struct {
	txRunner    InvoiceTxRunner
	invoiceRepo repository.InvoiceRepository
	log         *logger.Logger
	clock       Clock
}

// NewDraftUseCase construye el caso de uso.
func NewDraftUseCase(txRunner InvoiceTxRunner, invoiceRepo repository.InvoiceRepository, log *logger.Logger, clock Clock) *DraftUseCase {
	return &DraftUseCase{txRunner: txRunner, invoiceRepo: invoiceRepo, log: log.Component("draft"), clock: clock}
}

// Create numera y guarda un borrador nuevo. El número se reserva en la misma
// transacción del INSERT.
func (uc *DraftUseCase) Create(ctx context.Context, s entity.Session, in dto.InvoiceInput) (*entity.Invoice, error) {
	if err := requireIssuer(s); err != nil {
		return nil, err
	}
	now := uc.clock.now()
	series := in.Series
	if series == 0 {
		series = s.Issuer.DefaultSeries
	}
	if series == 0 {
		series = 1
	}

	inv := &entity.Invoice{
		ID:          uuid.New().String(),
		CompanyID:   s.CompanyID,
		Series:      series,
		IssueDate:   now,
		Environment: s.Environment,
		Issuer:      s.Issuer.Party,
		Status:      entity.StatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := uc.apply(inv, in); err != nil {
		return nil, err
	}

	err := uc.txRunner.RunInvoices(ctx, func(repo repository.InvoiceRepository) error {
		n, err := repo.NextNumber(ctx, s.CompanyID, series)
		if err != nil {
			return err
		}
		inv.Number = n
		return repo.Create(ctx, inv)
	})
	if err != nil {
		return nil, fmt.Errorf("crear borrador: %w", err)
	}
	uc.log.Info().Str("invoice_id", inv.ID).Int("number", inv.Number).Int("series", inv.Series).Msg("borrador creado")
	return inv, nil
}

// Update reemplaza el contenido editable de la nota; el primer cambio la pasa a edición.
func (uc *DraftUseCase) Update(ctx context.Context, s entity.Session, id string, in dto.InvoiceInput) (*entity.Invoice, error) {
	inv, err := loadInvoice(ctx, uc.invoiceRepo, s, id)
	if err != nil {
		return nil, err
	}
	if err := fiscal.BeginEdit(inv, uc.clock.now()); err != nil {
		return nil, err
	}
	if in.Series != 0 && in.Series != inv.Series {
		return nil, domain.NewValidationError("series", "la serie no cambia después de numerada la nota")
	}
	if err := uc.apply(inv, in); err != nil {
		return nil, err
	}
	if err := uc.invoiceRepo.Update(ctx, inv); err != nil {
		return nil, fmt.Errorf("actualizar borrador: %w", err)
	}
	return inv, nil
}

// Get devuelve la nota de la empresa.
func (uc *DraftUseCase) Get(ctx context.Context, s entity.Session, id string) (*entity.Invoice, error) {
	return loadInvoice(ctx, uc.invoiceRepo, s, id)
}

// List lista las notas de la empresa.
func (uc *DraftUseCase) List(ctx context.Context, s entity.Session, filter repository.InvoiceFilter) ([]*entity.Invoice, error) {
	if s.CompanyID == "" {
		return nil, domain.ErrUnauthorized
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.NewValidationError("status", "estado desconocido")
	}
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	return uc.invoiceRepo.List(ctx, s.CompanyID, filter)
}

// Delete elimina un borrador; cualquier otro estado se rechaza.
func (uc *DraftUseCase) Delete(ctx context.Context, s entity.Session, id string) error {
	inv, err := loadInvoice(ctx, uc.invoiceRepo, s, id)
	if err != nil {
		return err
	}
	if err := fiscal.CanDelete(inv); err != nil {
		return err
	}
	return uc.invoiceRepo.Delete(ctx, s.CompanyID, id)
}

// Reopen devuelve una nota rechazada a edición como documento nuevo. Si la SEFAZ la
// denegó, el número quedó consumido y se reserva otro.
func (uc *DraftUseCase) Reopen(ctx context.Context, s entity.Session, id string) (*entity.Invoice, error) {
	inv, err := loadInvoice(ctx, uc.invoiceRepo, s, id)
	if err != nil {
		return nil, err
	}
	renumber, err := fiscal.Reopen(inv, uc.clock.now())
	if err != nil {
		return nil, err
	}
	err = uc.txRunner.RunInvoices(ctx, func(repo repository.InvoiceRepository) error {
		if renumber {
			n, err := repo.NextNumber(ctx, s.CompanyID, inv.Series)
			if err != nil {
				return err
			}
			inv.Number = n
		}
		return repo.Update(ctx, inv)
	})
	if err != nil {
		return nil, fmt.Errorf("reabrir nota: %w", err)
	}
	uc.log.Info().Str("invoice_id", inv.ID).Bool("renumbered", renumber).Int("number", inv.Number).Msg("nota reabierta")
	return inv, nil
}

// apply copia la entrada al agregado y recalcula impuestos y totales.
func (uc *DraftUseCase) apply(inv *entity.Invoice, in dto.InvoiceInput) error {
	items, err := dto.ItemsToEntity(in.Items)
	if err != nil {
		return domain.NewValidationError("items", err.Error())
	}
	for i := range items {
		if items[i].Tax.ICMS == nil {
			return domain.NewValidationError(fmt.Sprintf("items[%d].icms", i), "situación de ICMS obligatoria")
		}
		if items[i].Tax.Origin == "" {
			items[i].Tax.Origin = nfe.OriginNational
		}
	}

	if in.IssueDate != nil {
		inv.IssueDate = *in.IssueDate
	}
	inv.NatureOfOperation = strings.TrimSpace(in.NatureOfOperation)
	if inv.NatureOfOperation == "" {
		inv.NatureOfOperation = DefaultNatureOfOperation
	}
	inv.Purpose = defaultString(in.Purpose, nfe.PurposeNormal)
	inv.OperationType = defaultString(in.OperationType, nfe.OperationOutbound)
	inv.FinalConsumer = in.FinalConsumer
	inv.FreightMode = defaultString(in.FreightMode, nfe.FreightNone)
	inv.Recipient = in.Recipient.ToEntity()
	inv.Recipient.CNPJ = nfe.OnlyDigits(inv.Recipient.CNPJ)
	inv.Recipient.CRT = 0
	inv.Items = items
	inv.Payments = dto.PaymentsToEntity(in.Payments)
	inv.Adjustments = in.Adjustments.ToEntity()
	inv.Remarks = in.Remarks

	for _, v := range []decimal.Decimal{inv.Adjustments.Freight, inv.Adjustments.Insurance, inv.Adjustments.Discount, inv.Adjustments.Other} {
		if v.IsNegative() {
			return domain.NewValidationError("adjustments", "los ajustes no pueden ser negativos")
		}
	}

	preClamp, err := fiscal.Recalculate(inv)
	if err != nil {
		return err
	}
	if inv.TotalsClamped {
		uc.log.Warn().
			Str("invoice_id", inv.ID).
			Str("discount", inv.Totals.Discount.StringFixed(2)).
			Str("pre_clamp_total", preClamp.StringFixed(2)).
			Msg("total negativo llevado a cero")
	}
	return nil
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
