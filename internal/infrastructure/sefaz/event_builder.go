package sefaz

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jhoicas/nfe-api/pkg/nfe"
)

// EventRequest datos de un evento de la NF-e (cancelación o carta de corrección).
type EventRequest struct {
	Type        string // nfe.EventCancellation o nfe.EventCorrection
	AccessKey   string
	IssuerCNPJ  string
	Environment nfe.Environment
	Sequence    int // nSeqEvento, desde 1
	Timestamp   time.Time
	LotID       string // idLote; se deriva del instante si vacío

	// Cancelación
	Protocol      string // nProt de la autorización
	Justification string

	// Carta de corrección
	Correction string
}

// EventID atributo Id de infEvento: "ID" + tpEvento + chave + nSeqEvento con dos dígitos.
func EventID(eventType, accessKey string, sequence int) string {
	return fmt.Sprintf("ID%s%s%02d", eventType, accessKey, sequence)
}

// EventBuilderService construye el lote envEvento sin firmar.
type EventBuilderService struct{}

// NewEventBuilderService crea el servicio.
func NewEventBuilderService() *EventBuilderService {
	return &EventBuilderService{}
}

// Build genera <envEvento> con un único <evento>. El elemento a firmar es infEvento,
// cuyo Id devuelve EventID.
func (s *EventBuilderService) Build(req EventRequest) ([]byte, error) {
	if err := nfe.ValidateAccessKey(req.AccessKey); err != nil {
		return nil, err
	}
	if req.Sequence < 1 || req.Sequence > nfe.MaxCorrectionSequence {
		return nil, fmt.Errorf("nfe: nSeqEvento fuera de rango: %d", req.Sequence)
	}
	switch req.Type {
	case nfe.EventCancellation:
		if req.Protocol == "" {
			return nil, fmt.Errorf("nfe: la cancelación requiere el protocolo de autorización")
		}
	case nfe.EventCorrection:
	default:
		return nil, fmt.Errorf("nfe: tipo de evento no soportado %q", req.Type)
	}
	lotID := req.LotID
	if lotID == "" {
		lotID = LotID(req.Timestamp)
	}

	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)

	root := xml.StartElement{
		Name: xml.Name{Local: "envEvento"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "xmlns"}, Value: nfe.Namespace},
			{Name: xml.Name{Local: "versao"}, Value: nfe.EventVersion},
		},
	}
	_ = enc.EncodeToken(root)
	writeEl(enc, "idLote", lotID)

	versao := []xml.Attr{{Name: xml.Name{Local: "versao"}, Value: nfe.EventVersion}}
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Local: "evento"}, Attr: versao})
	_ = enc.EncodeToken(xml.StartElement{
		Name: xml.Name{Local: "infEvento"},
		Attr: []xml.Attr{{Name: xml.Name{Local: "Id"}, Value: EventID(req.Type, req.AccessKey, req.Sequence)}},
	})
	writeEl(enc, "cOrgao", req.AccessKey[0:2])
	writeEl(enc, "tpAmb", req.Environment.TpAmb())
	writeEl(enc, "CNPJ", nfe.OnlyDigits(req.IssuerCNPJ))
	writeEl(enc, "chNFe", req.AccessKey)
	writeEl(enc, "dhEvento", req.Timestamp.Format(dateTimeLayout))
	writeEl(enc, "tpEvento", req.Type)
	writeEl(enc, "nSeqEvento", strconv.Itoa(req.Sequence))
	writeEl(enc, "verEvento", nfe.EventVersion)

	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Local: "detEvento"}, Attr: versao})
	if req.Type == nfe.EventCancellation {
		writeEl(enc, "descEvento", nfe.CancellationDescription)
		writeEl(enc, "nProt", req.Protocol)
		writeEl(enc, "xJust", nfe.SanitizeText(req.Justification, nfe.MaxJustificationLength))
	} else {
		writeEl(enc, "descEvento", nfe.CorrectionDescription)
		writeEl(enc, "xCorrecao", nfe.SanitizeText(req.Correction, nfe.MaxCorrectionLength))
		writeEl(enc, "xCondUso", nfe.CorrectionUseConditions)
	}
	end(enc, "detEvento")

	end(enc, "infEvento")
	end(enc, "evento")
	_ = enc.EncodeToken(root.End())
	if err := enc.Flush(); err != nil {
		return nil, fmt.Errorf("nfe: serializar evento: %w", err)
	}
	return buf.Bytes(), nil
}

// LotID identificador numérico de lote (hasta 15 dígitos) derivado del instante.
func LotID(t time.Time) string {
	s := strconv.FormatInt(t.UnixNano(), 10)
	if len(s) > 15 {
		s = s[len(s)-15:]
	}
	if s = strings.TrimLeft(s, "-0"); s == "" {
		return "1"
	}
	return s
}
