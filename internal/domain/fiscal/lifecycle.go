package fiscal

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/jhoicas/nfe-api/internal/domain"
	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/pkg/nfe"
)

// transiciones permitidas del ciclo de vida.
var transitions = map[entity.Status][]entity.Status{
	entity.StatusDraft:        {entity.StatusEditing, entity.StatusSigning},
	entity.StatusEditing:      {entity.StatusSigning},
	entity.StatusSigning:      {entity.StatusEditing, entity.StatusTransmitting},
	entity.StatusTransmitting: {entity.StatusTransmitting, entity.StatusAuthorized, entity.StatusRejected},
	entity.StatusRejected:     {entity.StatusEditing},
	entity.StatusAuthorized:   {entity.StatusCancelled},
}

// CanTransition indica si el paso from -> to es válido.
func CanTransition(from, to entity.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func transition(inv *entity.Invoice, to entity.Status, now time.Time) error {
	if !CanTransition(inv.Status, to) {
		return domain.NewValidationError("status", fmt.Sprintf("transición no permitida: %s -> %s", inv.Status, to))
	}
	inv.Status = to
	inv.UpdatedAt = now
	return nil
}

// EnsureEditable falla si la nota ya no admite cambios de contenido.
func EnsureEditable(inv *entity.Invoice) error {
	if !inv.Editable() {
		return domain.NewValidationError("status", fmt.Sprintf("la nota en estado %s no admite cambios", inv.Status))
	}
	return nil
}

// BeginEdit pasa de borrador a edición. En edición no hace nada.
func BeginEdit(inv *entity.Invoice, now time.Time) error {
	switch inv.Status {
	case entity.StatusEditing:
		inv.UpdatedAt = now
		return nil
	case entity.StatusDraft:
		return transition(inv, entity.StatusEditing, now)
	}
	return EnsureEditable(inv)
}

// EnsureCertificate exige un certificado cargado y vigente.
func EnsureCertificate(cert *entity.Certificate, now time.Time) error {
	if cert == nil || cert.PrivateKey == nil || cert.Leaf == nil {
		return domain.NewValidationError("certificate", "certificado digital no cargado")
	}
	if !cert.ValidAt(now) {
		return domain.NewValidationError("certificate", fmt.Sprintf("certificado fuera de vigencia (%s - %s)",
			cert.Leaf.NotBefore.Format(time.DateOnly), cert.Leaf.NotAfter.Format(time.DateOnly)))
	}
	return nil
}

// StartSigning inicia la firma. Sin certificado vigente devuelve un error de validación
// y la nota conserva su estado.
func StartSigning(inv *entity.Invoice, cert *entity.Certificate, now time.Time) error {
	if err := EnsureCertificate(cert, now); err != nil {
		return err
	}
	return transition(inv, entity.StatusSigning, now)
}

// MarkSigned guarda el XML firmado; la nota debe estar en firma.
func MarkSigned(inv *entity.Invoice, signedXML []byte, now time.Time) error {
	if inv.Status != entity.StatusSigning {
		return domain.NewValidationError("status", "la nota no está en firma")
	}
	if len(signedXML) == 0 {
		return domain.NewValidationError("signed_xml", "XML firmado vacío")
	}
	inv.SignedXML = string(signedXML)
	inv.UpdatedAt = now
	return nil
}

// AbortSigning devuelve la nota a edición cuando la firma falla.
func AbortSigning(inv *entity.Invoice, now time.Time) error {
	if err := transition(inv, entity.StatusEditing, now); err != nil {
		return err
	}
	// La chave nunca llegó a la SEFAZ; la próxima emisión la recalcula con el contenido editado.
	inv.AccessKey = ""
	inv.ControlCode = ""
	inv.SignedXML = ""
	return nil
}

// StartTransmitting exige certificado y XML firmado. Desde transmitting permite el reenvío
// del mismo XML firmado.
func StartTransmitting(inv *entity.Invoice, cert *entity.Certificate, now time.Time) error {
	if err := EnsureCertificate(cert, now); err != nil {
		return err
	}
	if inv.SignedXML == "" {
		return domain.NewValidationError("signed_xml", "la nota no tiene XML firmado")
	}
	return transition(inv, entity.StatusTransmitting, now)
}

// Authorize registra la autorización de uso emitida por la SEFAZ.
func Authorize(inv *entity.Invoice, cStat int, reason, protocol, authorizedXML string, at time.Time) error {
	if err := transition(inv, entity.StatusAuthorized, at); err != nil {
		return err
	}
	inv.Protocol = protocol
	inv.StatusCode = cStat
	inv.StatusReason = reason
	inv.AuthorizedXML = authorizedXML
	appendEvent(inv, entity.Event{Type: entity.EventAuthorization, Timestamp: at, Detail: reason, Protocol: protocol})
	return nil
}

// Reject registra el rechazo o la denegación de la SEFAZ.
func Reject(inv *entity.Invoice, cStat int, reason string, at time.Time) error {
	if err := transition(inv, entity.StatusRejected, at); err != nil {
		return err
	}
	inv.StatusCode = cStat
	inv.StatusReason = reason
	appendEvent(inv, entity.Event{Type: entity.EventRejection, Timestamp: at, Detail: fmt.Sprintf("%d - %s", cStat, reason)})
	return nil
}

// Reopen devuelve una nota rechazada a edición como documento nuevo: descarta la chave,
// el cNF y el XML firmado. renumber indica que la SEFAZ denegó la nota y el número
// quedó consumido.
func Reopen(inv *entity.Invoice, now time.Time) (renumber bool, err error) {
	if err := transition(inv, entity.StatusEditing, now); err != nil {
		return false, err
	}
	renumber = inv.StatusCode == nfe.StatusDenied || inv.StatusCode == nfe.StatusDeniedIssuer ||
		inv.StatusCode == nfe.StatusDeniedRecipient || inv.StatusCode == nfe.StatusDeniedRecipientUF
	inv.AccessKey = ""
	inv.ControlCode = ""
	inv.SignedXML = ""
	inv.Protocol = ""
	return renumber, nil
}

// ValidateCancellation verifica, antes de cualquier llamada a la red, que la nota esté
// autorizada y la justificación tenga entre 15 y 255 caracteres.
func ValidateCancellation(inv *entity.Invoice, justification string) error {
	if inv.Status != entity.StatusAuthorized {
		return domain.NewValidationError("status", fmt.Sprintf("solo se cancela una nota autorizada (estado %s)", inv.Status))
	}
	if inv.Protocol == "" {
		return domain.NewValidationError("protocol", "la nota no tiene protocolo de autorización")
	}
	return checkLength("justification", justification, nfe.MinJustificationLength, nfe.MaxJustificationLength)
}

// ApplyCancellation registra el evento de cancelación homologado.
func ApplyCancellation(inv *entity.Invoice, justification, protocol, eventXML string, at time.Time) error {
	if err := ValidateCancellation(inv, justification); err != nil {
		return err
	}
	if err := transition(inv, entity.StatusCancelled, at); err != nil {
		return err
	}
	appendEvent(inv, entity.Event{
		Type:      entity.EventCancellation,
		Sequence:  1,
		Timestamp: at,
		Detail:    strings.TrimSpace(justification),
		Protocol:  protocol,
		XML:       eventXML,
	})
	return nil
}

// NextCorrectionSequence devuelve el nSeqEvento de la próxima carta de corrección.
func NextCorrectionSequence(inv *entity.Invoice) (int, error) {
	seq := len(inv.EventsOfType(entity.EventCorrection)) + 1
	if seq > nfe.MaxCorrectionSequence {
		return 0, domain.NewValidationError("sequence", fmt.Sprintf("máximo de %d cartas de corrección alcanzado", nfe.MaxCorrectionSequence))
	}
	return seq, nil
}

// ValidateCorrection verifica estado y longitud del texto de la carta de corrección.
func ValidateCorrection(inv *entity.Invoice, text string) error {
	if inv.Status != entity.StatusAuthorized {
		return domain.NewValidationError("status", fmt.Sprintf("solo se corrige una nota autorizada (estado %s)", inv.Status))
	}
	if err := checkLength("correction", text, nfe.MinCorrectionLength, nfe.MaxCorrectionLength); err != nil {
		return err
	}
	_, err := NextCorrectionSequence(inv)
	return err
}

// ApplyCorrection registra la carta de corrección; el estado no cambia.
func ApplyCorrection(inv *entity.Invoice, text string, seq int, protocol, eventXML string, at time.Time) error {
	if err := ValidateCorrection(inv, text); err != nil {
		return err
	}
	appendEvent(inv, entity.Event{
		Type:      entity.EventCorrection,
		Sequence:  seq,
		Timestamp: at,
		Detail:    strings.TrimSpace(text),
		Protocol:  protocol,
		XML:       eventXML,
	})
	inv.UpdatedAt = at
	return nil
}

// CanDelete solo permite borrar borradores.
func CanDelete(inv *entity.Invoice) error {
	if inv.Status != entity.StatusDraft {
		return domain.NewValidationError("status", fmt.Sprintf("solo se elimina un borrador (estado %s)", inv.Status))
	}
	return nil
}

func checkLength(field, s string, lo, hi int) error {
	n := utf8.RuneCountInString(strings.TrimSpace(s))
	if n < lo {
		return domain.NewValidationError(field, fmt.Sprintf("mínimo %d caracteres, se recibieron %d", lo, n))
	}
	if n > hi {
		return domain.NewValidationError(field, fmt.Sprintf("máximo %d caracteres, se recibieron %d", hi, n))
	}
	return nil
}

func appendEvent(inv *entity.Invoice, e entity.Event) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	inv.Events = append(inv.Events, e)
}
