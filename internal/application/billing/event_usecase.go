package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/jhoicas/nfe-api/internal/domain"
	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/internal/domain/fiscal"
	"github.com/jhoicas/nfe-api/internal/domain/repository"
	"github.com/jhoicas/nfe-api/internal/infrastructure/sefaz"
	"github.com/jhoicas/nfe-api/pkg/logger"
	"github.com/jhoicas/nfe-api/pkg/nfe"
)

// EventUseCase registra eventos sobre notas autorizadas: cancelación (110111) y carta de
// corrección (110110).
//
//	validar → envEvento → firma → NFeRecepcaoEvento4 → procEventoNFe → guardar
type EventUseCase struct {
	invoiceRepo  repository.InvoiceRepository
	loadCert     CertificateLoader
	eventBuilder EventBuilder
	signer       Signer
	transmitter  Transmitter
	log          *logger.Logger
	clock        Clock
}

// NewEventUseCase construye el caso de uso.
func NewEventUseCase(
	invoiceRepo repository.InvoiceRepository,
	loadCert CertificateLoader,
	eventBuilder EventBuilder,
	signer Signer,
	transmitter Transmitter,
	log *logger.Logger,
	clock Clock,
) *EventUseCase {
	return &EventUseCase{
		invoiceRepo:  invoiceRepo,
		loadCert:     loadCert,
		eventBuilder: eventBuilder,
		signer:       signer,
		transmitter:  transmitter,
		log:          log.Component("event"),
		clock:        clock,
	}
}

// Cancel cancela una nota autorizada. La justificación se valida antes de abrir el
// certificado o tocar la red.
func (uc *EventUseCase) Cancel(ctx context.Context, s entity.Session, id string, certData []byte, password, justification string) (*entity.Invoice, error) {
	// ── 1. Cargar y validar ───────────────────────────────────────────────────
	inv, err := loadInvoice(ctx, uc.invoiceRepo, s, id)
	if err != nil {
		return nil, err
	}
	// Se valida el mismo texto que viaja en xJust.
	justification = nfe.SanitizeText(justification, 0)
	if err := fiscal.ValidateCancellation(inv, justification); err != nil {
		return nil, err
	}
	cert, err := uc.certificate(certData, password)
	if err != nil {
		return nil, err
	}

	// ── 2. Evento firmado y envío ─────────────────────────────────────────────
	now := uc.clock.now()
	req := sefaz.EventRequest{
		Type:          nfe.EventCancellation,
		AccessKey:     inv.AccessKey,
		IssuerCNPJ:    inv.Issuer.CNPJ,
		Environment:   inv.Environment,
		Sequence:      1,
		Timestamp:     now,
		LotID:         sefaz.LotID(now),
		Protocol:      inv.Protocol,
		Justification: justification,
	}
	res, procXML, err := uc.send(ctx, s, inv, cert, req)
	if err != nil {
		return nil, err
	}

	// ── 3. Aplicar y guardar ──────────────────────────────────────────────────
	if err := fiscal.ApplyCancellation(inv, req.Justification, res.Protocol, string(procXML), eventTime(res, now)); err != nil {
		return nil, err
	}
	if err := uc.invoiceRepo.Update(ctx, inv); err != nil {
		return nil, fmt.Errorf("guardar cancelación: %w", err)
	}
	uc.log.Info().Str("invoice_id", inv.ID).Str("access_key", inv.AccessKey).Str("protocol", res.Protocol).Msg("NF-e cancelada")
	return inv, nil
}

// Correct registra una carta de corrección; la secuencia crece con cada carta aceptada.
func (uc *EventUseCase) Correct(ctx context.Context, s entity.Session, id string, certData []byte, password, text string) (*entity.Invoice, error) {
	inv, err := loadInvoice(ctx, uc.invoiceRepo, s, id)
	if err != nil {
		return nil, err
	}
	text = nfe.SanitizeText(text, 0)
	if err := fiscal.ValidateCorrection(inv, text); err != nil {
		return nil, err
	}
	seq, err := fiscal.NextCorrectionSequence(inv)
	if err != nil {
		return nil, err
	}
	cert, err := uc.certificate(certData, password)
	if err != nil {
		return nil, err
	}

	now := uc.clock.now()
	req := sefaz.EventRequest{
		Type:        nfe.EventCorrection,
		AccessKey:   inv.AccessKey,
		IssuerCNPJ:  inv.Issuer.CNPJ,
		Environment: inv.Environment,
		Sequence:    seq,
		Timestamp:   now,
		LotID:       sefaz.LotID(now),
		Correction:  text,
	}
	res, procXML, err := uc.send(ctx, s, inv, cert, req)
	if err != nil {
		return nil, err
	}
	if err := fiscal.ApplyCorrection(inv, req.Correction, seq, res.Protocol, string(procXML), eventTime(res, now)); err != nil {
		return nil, err
	}
	if err := uc.invoiceRepo.Update(ctx, inv); err != nil {
		return nil, fmt.Errorf("guardar carta de corrección: %w", err)
	}
	uc.log.Info().Str("invoice_id", inv.ID).Int("sequence", seq).Str("protocol", res.Protocol).Msg("carta de corrección registrada")
	return inv, nil
}

func (uc *EventUseCase) certificate(data []byte, password string) (*entity.Certificate, error) {
	cert, err := uc.loadCert(data, password)
	if err != nil {
		return nil, err
	}
	if err := fiscal.EnsureCertificate(cert, uc.clock.now()); err != nil {
		return nil, err
	}
	return cert, nil
}

// send firma y transmite el evento. Un cStat distinto de registrado es un rechazo y la
// nota no se modifica.
func (uc *EventUseCase) send(ctx context.Context, s entity.Session, inv *entity.Invoice, cert *entity.Certificate, req sefaz.EventRequest) (*sefaz.EventResult, []byte, error) {
	log := uc.log.With().Str("invoice_id", inv.ID).Str("event", req.Type).Int("sequence", req.Sequence).Logger()

	unsigned, err := uc.eventBuilder.Build(req)
	if err != nil {
		return nil, nil, domain.NewValidationError("event", err.Error())
	}
	signed, err := uc.signer.Sign(unsigned, sefaz.EventID(req.Type, req.AccessKey, req.Sequence), cert)
	if err != nil {
		return nil, nil, domain.NewCertificateError("no se pudo firmar el evento", err)
	}

	res, err := uc.transmitter.SendEvent(ctx, cert, inv.Environment, serviceUF(s, inv), signed)
	if err != nil {
		log.Warn().Err(err).Bool("temporary", domain.IsTemporary(err)).Msg("envío del evento fallido")
		return nil, nil, err
	}
	if !nfe.EventAccepted(res.Status) {
		code, reason := res.Status, res.Reason
		if code == 0 {
			code, reason = res.BatchStatus, res.BatchReason
		}
		log.Info().Int("cstat", code).Str("reason", reason).Msg("evento rechazado")
		return nil, nil, domain.NewRejectionError(code, reason)
	}

	proc, err := sefaz.AssembleEventProc(signed, res.ResultXML)
	if err != nil {
		return nil, nil, domain.NewTransmissionError("retorno del evento ilegible", err, false)
	}
	return res, proc, nil
}

// eventTime instante de registro informado por la SEFAZ, o el local si no vino.
func eventTime(res *sefaz.EventResult, fallback time.Time) time.Time {
	if res.ReceivedAt.IsZero() {
		return fallback
	}
	return res.ReceivedAt
}
