package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/jhoicas/nfe-api/internal/application/dto"
	"github.com/jhoicas/nfe-api/internal/domain"
	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/internal/domain/repository"
	"github.com/jhoicas/nfe-api/internal/infrastructure/sefaz"
	"github.com/jhoicas/nfe-api/internal/infrastructure/sefaz/signer"
	"github.com/jhoicas/nfe-api/pkg/logger"
	"github.com/jhoicas/nfe-api/pkg/nfe"
)

// exportPageSize tamaño de página al recorrer las notas del período.
const exportPageSize = 100

// DANFEUseCase genera el DANFE (PDF) de una nota.
type DANFEUseCase struct {
	invoiceRepo repository.InvoiceRepository
	renderer    DANFERenderer
}

// NewDANFEUseCase construye el caso de uso.
func NewDANFEUseCase(invoiceRepo repository.InvoiceRepository, renderer DANFERenderer) *DANFEUseCase {
	return &DANFEUseCase{invoiceRepo: invoiceRepo, renderer: renderer}
}

// Render devuelve el PDF y el nombre de archivo. La nota debe tener chave: sin ella no
// hay código de barras.
//
// Retorna:
//   - domain.ErrNotFound     si la nota no existe en la empresa.
//   - domain.ErrInvalidInput si la nota todavía no fue firmada.
func (uc *DANFEUseCase) Render(ctx context.Context, s entity.Session, id string) ([]byte, string, error) {
	inv, err := loadInvoice(ctx, uc.invoiceRepo, s, id)
	if err != nil {
		return nil, "", err
	}
	if inv.AccessKey == "" {
		return nil, "", fmt.Errorf("%w: la nota en estado %s todavía no tiene chave de acesso", domain.ErrInvalidInput, inv.Status)
	}
	pdf, err := uc.renderer.RenderDANFE(ctx, inv)
	if err != nil {
		return nil, "", fmt.Errorf("danfe: generación fallida: %w", err)
	}
	return pdf, inv.AccessKey + "-danfe.pdf", nil
}

// ExportUseCase entrega los XML de distribución: uno por nota o un ZIP del período.
type ExportUseCase struct {
	invoiceRepo repository.InvoiceRepository
	log         *logger.Logger
}

// NewExportUseCase construye el caso de uso.
func NewExportUseCase(invoiceRepo repository.InvoiceRepository, log *logger.Logger) *ExportUseCase {
	return &ExportUseCase{invoiceRepo: invoiceRepo, log: log.Component("export")}
}

// XML devuelve el nfeProc de una nota autorizada o cancelada; si solo está firmada,
// el XML firmado.
func (uc *ExportUseCase) XML(ctx context.Context, s entity.Session, id string) ([]byte, string, error) {
	inv, err := loadInvoice(ctx, uc.invoiceRepo, s, id)
	if err != nil {
		return nil, "", err
	}
	switch {
	case inv.AuthorizedXML != "":
		return []byte(inv.AuthorizedXML), sefaz.ProcFilename(inv.AccessKey), nil
	case inv.SignedXML != "":
		return []byte(inv.SignedXML), inv.AccessKey + "-nfe.xml", nil
	}
	return nil, "", fmt.Errorf("%w: la nota en estado %s no tiene XML", domain.ErrInvalidInput, inv.Status)
}

// Export arma un ZIP con el nfeProc de cada nota autorizada o cancelada emitida en
// [from, to) y el procEventoNFe de sus eventos.
func (uc *ExportUseCase) Export(ctx context.Context, s entity.Session, from, to time.Time) ([]byte, error) {
	if s.CompanyID == "" {
		return nil, domain.ErrUnauthorized
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return nil, domain.NewValidationError("to", "el fin del período es anterior al inicio")
	}

	filter := repository.InvoiceFilter{Limit: exportPageSize}
	if !from.IsZero() {
		filter.From = &from
	}
	if !to.IsZero() {
		filter.To = &to
	}

	var entries []sefaz.ZipEntry
	for _, status := range []entity.Status{entity.StatusAuthorized, entity.StatusCancelled} {
		for offset := 0; ; offset += exportPageSize {
			filter.Status, filter.Offset = status, offset
			page, err := uc.invoiceRepo.List(ctx, s.CompanyID, filter)
			if err != nil {
				return nil, fmt.Errorf("export: listar notas: %w", err)
			}
			for _, inv := range page {
				entries = append(entries, exportEntries(inv)...)
			}
			if len(page) < exportPageSize {
				break
			}
		}
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no hay notas autorizadas en el período", domain.ErrNotFound)
	}

	zipped, err := sefaz.CompressFiles(entries)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	uc.log.Info().Str("company_id", s.CompanyID).Int("files", len(entries)).Msg("exportación generada")
	return zipped, nil
}

func exportEntries(inv *entity.Invoice) []sefaz.ZipEntry {
	if inv.AuthorizedXML == "" {
		return nil
	}
	out := []sefaz.ZipEntry{{Name: sefaz.ProcFilename(inv.AccessKey), Content: []byte(inv.AuthorizedXML), Modified: inv.UpdatedAt}}
	for _, e := range inv.Events {
		if e.XML == "" {
			continue
		}
		var eventType string
		switch e.Type {
		case entity.EventCancellation:
			eventType = nfe.EventCancellation
		case entity.EventCorrection:
			eventType = nfe.EventCorrection
		default:
			continue
		}
		out = append(out, sefaz.ZipEntry{
			Name:     sefaz.EventFilename(inv.AccessKey, eventType, e.Sequence),
			Content:  []byte(e.XML),
			Modified: e.Timestamp,
		})
	}
	return out
}

// InspectCertificate abre un PKCS#12 y devuelve sus datos públicos, aunque esté vencido.
func InspectCertificate(data []byte, password string, now time.Time) (*dto.CertificateInfoDTO, error) {
	cert, err := signer.DecodePKCS12(data, password)
	if err != nil {
		return nil, err
	}
	return &dto.CertificateInfoDTO{
		Subject:     cert.Leaf.Subject.String(),
		CNPJ:        cert.CNPJ(),
		Issuer:      cert.Leaf.Issuer.String(),
		NotBefore:   cert.Leaf.NotBefore,
		NotAfter:    cert.Leaf.NotAfter,
		Fingerprint: signer.Fingerprint(cert),
		Valid:       cert.ValidAt(now),
	}, nil
}
