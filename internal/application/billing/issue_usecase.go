package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jhoicas/nfe-api/internal/domain"
	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/internal/domain/fiscal"
	"github.com/jhoicas/nfe-api/internal/domain/repository"
	"github.com/jhoicas/nfe-api/internal/infrastructure/sefaz"
	"github.com/jhoicas/nfe-api/pkg/logger"
	"github.com/jhoicas/nfe-api/pkg/nfe"
)

// IssueUseCase orquesta la emisión de la NF-e:
//
//	validar → chave → XML → firma → guardar firmado → transmitir → autorizada/rechazada → guardar
//
// Cada solicitud se transmite una sola vez. Ante un fallo de red la nota queda en
// transmitting con su XML firmado y el llamador decide cuándo usar Resubmit.
type IssueUseCase struct {
	invoiceRepo repository.InvoiceRepository
	loadCert    CertificateLoader
	xmlBuilder  XMLBuilder
	signer      Signer
	transmitter Transmitter
	verProc     string
	log         *logger.Logger
	clock       Clock
}

// NewIssueUseCase construye el caso de uso.
func NewIssueUseCase(
	invoiceRepo repository.InvoiceRepository,
	loadCert CertificateLoader,
	xmlBuilder XMLBuilder,
	signer Signer,
	transmitter Transmitter,
	verProc string,
	log *logger.Logger,
	clock Clock,
) *IssueUseCase {
	return &IssueUseCase{
		invoiceRepo: invoiceRepo,
		loadCert:    loadCert,
		xmlBuilder:  xmlBuilder,
		signer:      signer,
		transmitter: transmitter,
		verProc:     verProc,
		log:         log.Component("issue"),
		clock:       clock,
	}
}

// Issue firma y transmite la nota. Un rechazo de la SEFAZ no es un error: la nota vuelve
// en estado rejected con cStat y motivo.
func (uc *IssueUseCase) Issue(ctx context.Context, s entity.Session, id string, certData []byte, password string) (*entity.Invoice, error) {
	inv, err := loadInvoice(ctx, uc.invoiceRepo, s, id)
	if err != nil {
		return nil, err
	}
	if inv.Status == entity.StatusTransmitting {
		return nil, fmt.Errorf("%w: la nota ya está firmada y pendiente de transmisión, use el reenvío", domain.ErrConflict)
	}
	if err := fiscal.EnsureEditable(inv); err != nil {
		return nil, err
	}

	cert, err := uc.loadCert(certData, password)
	if err != nil {
		return nil, err
	}
	if _, err := fiscal.Recalculate(inv); err != nil {
		return nil, err
	}
	if err := fiscal.ValidateForSigning(inv, cert); err != nil {
		return nil, err
	}
	if err := assignAccessKey(inv); err != nil {
		return nil, err
	}

	now := uc.clock.now()
	if err := fiscal.StartSigning(inv, cert, now); err != nil {
		return nil, err
	}
	log := uc.log.With().Str("invoice_id", inv.ID).Str("access_key", inv.AccessKey).Logger()

	signed, err := uc.sign(inv, cert)
	if err != nil {
		log.Error().Err(err).Str("step", "sign").Msg("firma fallida")
		if abortErr := fiscal.AbortSigning(inv, uc.clock.now()); abortErr == nil {
			if upErr := uc.invoiceRepo.Update(ctx, inv); upErr != nil {
				log.Error().Err(upErr).Msg("no se pudo guardar la nota tras abortar la firma")
			}
		}
		return nil, err
	}
	if err := fiscal.MarkSigned(inv, signed, uc.clock.now()); err != nil {
		return nil, err
	}
	if err := fiscal.StartTransmitting(inv, cert, uc.clock.now()); err != nil {
		return nil, err
	}
	if err := uc.invoiceRepo.Update(ctx, inv); err != nil {
		return nil, fmt.Errorf("guardar XML firmado: %w", err)
	}
	log.Info().Str("step", "sign").Msg("XML firmado")

	return uc.transmit(ctx, s, inv, cert)
}

// Resubmit retransmite el mismo XML firmado de una nota en transmitting; no vuelve a firmar.
func (uc *IssueUseCase) Resubmit(ctx context.Context, s entity.Session, id string, certData []byte, password string) (*entity.Invoice, error) {
	inv, err := loadInvoice(ctx, uc.invoiceRepo, s, id)
	if err != nil {
		return nil, err
	}
	if inv.Status != entity.StatusTransmitting {
		return nil, domain.NewValidationError("status", fmt.Sprintf("solo se reenvía una nota en transmisión (estado %s)", inv.Status))
	}
	cert, err := uc.loadCert(certData, password)
	if err != nil {
		return nil, err
	}
	if err := fiscal.StartTransmitting(inv, cert, uc.clock.now()); err != nil {
		return nil, err
	}
	return uc.transmit(ctx, s, inv, cert)
}

func (uc *IssueUseCase) sign(inv *entity.Invoice, cert *entity.Certificate) ([]byte, error) {
	unsigned, err := uc.xmlBuilder.Build(&sefaz.InvoiceBuildContext{Invoice: inv, VerProc: uc.verProc})
	if err != nil {
		return nil, domain.NewValidationError("xml", err.Error())
	}
	signed, err := uc.signer.Sign(unsigned, inv.ElementID(), cert)
	if err != nil {
		var fe *domain.FiscalError
		if errors.As(err, &fe) {
			return nil, err
		}
		return nil, domain.NewCertificateError("no se pudo firmar el XML", err)
	}
	return signed, nil
}

// transmit envía el XML firmado y aplica la respuesta. Errores de red dejan la nota en
// transmitting sin tocar el XML firmado.
func (uc *IssueUseCase) transmit(ctx context.Context, s entity.Session, inv *entity.Invoice, cert *entity.Certificate) (*entity.Invoice, error) {
	log := uc.log.With().Str("invoice_id", inv.ID).Str("access_key", inv.AccessKey).Str("step", "transmit").Logger()

	res, err := uc.transmitter.Authorize(ctx, cert, inv.Environment, serviceUF(s, inv), []byte(inv.SignedXML))
	if err != nil {
		log.Warn().Err(err).Bool("temporary", domain.IsTemporary(err)).Msg("transmisión fallida, la nota queda pendiente de reenvío")
		return inv, err
	}
	at := res.ReceivedAt
	if at.IsZero() {
		at = uc.clock.now()
	}

	switch {
	case nfe.Authorized(res.Status):
		// La autorización vale aunque el nfeProc no se pueda armar: se registra igual y el
		// protNFe recibido queda en el evento de autorización.
		var authorizedXML string
		proc, err := sefaz.AssembleNFeProc([]byte(inv.SignedXML), res.ProtocolXML)
		if err != nil {
			log.Error().Err(err).Str("protocol", res.Protocol).Msg("no se pudo armar el nfeProc, se guarda el protocolo recibido")
		} else {
			authorizedXML = string(proc)
		}
		if err := fiscal.Authorize(inv, res.Status, res.Reason, res.Protocol, authorizedXML, at); err != nil {
			return nil, err
		}
		if authorizedXML == "" {
			inv.Events[len(inv.Events)-1].XML = string(res.ProtocolXML)
		}
		log.Info().Int("cstat", res.Status).Str("protocol", res.Protocol).Msg("NF-e autorizada")
	case res.Status != 0 && nfe.Rejected(res.Status):
		if err := fiscal.Reject(inv, res.Status, res.Reason, at); err != nil {
			return nil, err
		}
		log.Info().Int("cstat", res.Status).Str("reason", res.Reason).Msg("NF-e rechazada")
	case res.Status == 0 && nfe.Rejected(res.BatchStatus):
		if err := fiscal.Reject(inv, res.BatchStatus, res.BatchReason, at); err != nil {
			return nil, err
		}
		log.Info().Int("cstat", res.BatchStatus).Str("reason", res.BatchReason).Msg("lote rechazado")
	default:
		inv.StatusCode = res.BatchStatus
		inv.StatusReason = res.BatchReason
		if res.Status != 0 {
			inv.StatusCode, inv.StatusReason = res.Status, res.Reason
		}
		if err := uc.invoiceRepo.Update(ctx, inv); err != nil {
			log.Error().Err(err).Msg("no se pudo guardar la respuesta")
		}
		log.Warn().Int("cstat", inv.StatusCode).Msg("respuesta sin resultado final")
		return inv, domain.NewRejectionError(inv.StatusCode, "respuesta sin resultado final: "+inv.StatusReason)
	}

	if err := uc.invoiceRepo.Update(ctx, inv); err != nil {
		return nil, fmt.Errorf("guardar resultado de la transmisión: %w", err)
	}
	return inv, nil
}

// assignAccessKey genera cNF y chave. Una chave existente se conserva solo si todavía
// corresponde a la nota (UF, AAMM de dhEmi, CNPJ, serie y número); si no, se genera otra.
func assignAccessKey(inv *entity.Invoice) error {
	if inv.AccessKey != "" && accessKeyMatches(inv) {
		return nil
	}
	code, err := nfe.NewControlCode(inv.Number, nil)
	if err != nil {
		return err
	}
	key, err := nfe.BuildAccessKey(nfe.AccessKeyParams{
		UF:           inv.Issuer.Address.UF,
		Year:         inv.IssueDate.Year(),
		Month:        int(inv.IssueDate.Month()),
		CNPJ:         inv.Issuer.CNPJ,
		Model:        nfe.Model,
		Series:       inv.Series,
		Number:       inv.Number,
		EmissionType: nfe.EmissionNormal,
		ControlCode:  code,
	})
	if err != nil {
		return domain.NewValidationError("access_key", err.Error())
	}
	inv.ControlCode = code
	inv.AccessKey = key
	return nil
}

func accessKeyMatches(inv *entity.Invoice) bool {
	parts, err := nfe.ParseAccessKey(inv.AccessKey)
	if err != nil {
		return false
	}
	uf := inv.Issuer.Address.UF
	if code := nfe.UFCode(uf); code != "" {
		uf = code
	}
	return parts.UFCode == uf &&
		parts.YearMonth == inv.IssueDate.Format("0601") &&
		parts.CNPJ == inv.Issuer.CNPJ &&
		parts.Model == nfe.Model &&
		parts.Series == inv.Series &&
		parts.Number == inv.Number &&
		parts.EmissionType == nfe.EmissionNormal &&
		parts.ControlCode == inv.ControlCode
}
