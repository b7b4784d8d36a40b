// Package nfe contiene catálogos, claves de acceso y validaciones de identificadores
// de la Nota Fiscal Eletrônica (modelo 55, layout 4.00).
package nfe

// =============================================================================
// Versiones y namespaces
// =============================================================================

const (
	LayoutVersion = "4.00"
	EventVersion  = "1.00"
	Model         = "55"
	Namespace     = "http://www.portalfiscal.inf.br/nfe"
	// Prefijo del atributo Id de infNFe.
	IDPrefix = "NFe"
)

// =============================================================================
// Ambiente (tpAmb)
// =============================================================================

// Environment ambiente de la SEFAZ.
type Environment string

const (
	EnvironmentProduction   Environment = "production"
	EnvironmentHomologation Environment = "homologation"
)

// TpAmb devuelve el código tpAmb (1 = producción, 2 = homologación).
func (e Environment) TpAmb() string {
	if e == EnvironmentProduction {
		return "1"
	}
	return "2"
}

// EnvironmentFromTpAmb interpreta tpAmb; cualquier valor distinto de "1" es homologación.
func EnvironmentFromTpAmb(tpAmb string) Environment {
	if tpAmb == "1" {
		return EnvironmentProduction
	}
	return EnvironmentHomologation
}

// ParseEnvironment acepta los nombres del ambiente y los códigos tpAmb.
func ParseEnvironment(s string) (Environment, bool) {
	switch s {
	case "production", "producao", "1":
		return EnvironmentProduction, true
	case "homologation", "homologacao", "2", "":
		return EnvironmentHomologation, true
	}
	return "", false
}

// HomologationRecipientName razón social obligatoria del destinatario en homologación.
const HomologationRecipientName = "NF-E EMITIDA EM AMBIENTE DE HOMOLOGACAO - SEM VALOR FISCAL"

// =============================================================================
// Régimen tributario (CRT)
// =============================================================================

// CRT código de régimen tributario del emisor.
type CRT int

const (
	CRTSimples       CRT = 1 // Simples Nacional
	CRTSimplesExcess CRT = 2 // Simples Nacional, exceso de sublímite de ingreso bruto
	CRTNormal        CRT = 3 // Régimen normal
)

// Valid indica si el CRT es uno de los tres códigos conocidos.
func (c CRT) Valid() bool { return c >= CRTSimples && c <= CRTNormal }

// UsesCSOSN indica si el régimen declara el ICMS por CSOSN (Simples Nacional).
func (c CRT) UsesCSOSN() bool { return c == CRTSimples || c == CRTSimplesExcess }

// =============================================================================
// ICMS - CST (régimen normal)
// =============================================================================

// ICMSCST situación tributaria del ICMS en régimen normal.
type ICMSCST string

const (
	ICMSCST00 ICMSCST = "00" // Tributada integralmente
	ICMSCST20 ICMSCST = "20" // Con reducción de base de cálculo
	ICMSCST40 ICMSCST = "40" // Exenta
	ICMSCST41 ICMSCST = "41" // No tributada
	ICMSCST50 ICMSCST = "50" // Suspensión
	ICMSCST51 ICMSCST = "51" // Diferimiento
	ICMSCST60 ICMSCST = "60" // Cobrada anteriormente por sustitución
	ICMSCST90 ICMSCST = "90" // Otras
)

var validICMSCST = map[ICMSCST]bool{
	ICMSCST00: true, ICMSCST20: true, ICMSCST40: true, ICMSCST41: true,
	ICMSCST50: true, ICMSCST51: true, ICMSCST60: true, ICMSCST90: true,
}

// Valid indica si el CST pertenece al catálogo soportado.
func (c ICMSCST) Valid() bool { return validICMSCST[c] }

// Taxed indica si el CST genera base y valor de ICMS.
func (c ICMSCST) Taxed() bool {
	return c == ICMSCST00 || c == ICMSCST20 || c == ICMSCST90
}

// Group nombre del grupo XML (ICMS00, ICMS20, ICMS40 ...). 41 y 50 comparten ICMS40.
func (c ICMSCST) Group() string {
	switch c {
	case ICMSCST41, ICMSCST50:
		return "ICMS40"
	}
	return "ICMS" + string(c)
}

// =============================================================================
// ICMS - CSOSN (Simples Nacional)
// =============================================================================

// CSOSN código de situación de la operación en el Simples Nacional.
type CSOSN string

const (
	CSOSN101 CSOSN = "101" // Tributada con permiso de crédito
	CSOSN102 CSOSN = "102" // Tributada sin permiso de crédito
	CSOSN103 CSOSN = "103" // Exención para faja de ingreso bruto
	CSOSN300 CSOSN = "300" // Inmune
	CSOSN400 CSOSN = "400" // No tributada
	CSOSN500 CSOSN = "500" // Cobrado anteriormente por sustitución
	CSOSN900 CSOSN = "900" // Otros
)

var validCSOSN = map[CSOSN]bool{
	CSOSN101: true, CSOSN102: true, CSOSN103: true,
	CSOSN300: true, CSOSN400: true, CSOSN500: true, CSOSN900: true,
}

// Valid indica si el CSOSN pertenece al catálogo soportado.
func (c CSOSN) Valid() bool { return validCSOSN[c] }

// CreditBearing indica si el CSOSN permite el aprovechamiento de crédito.
// 900 solo genera crédito cuando se informa una alícuota de crédito.
func (c CSOSN) CreditBearing() bool {
	return c == CSOSN101 || c == CSOSN900
}

// Group nombre del grupo XML (ICMSSN101, ICMSSN102 ...).
func (c CSOSN) Group() string {
	switch c {
	case CSOSN103, CSOSN300, CSOSN400:
		return "ICMSSN102"
	}
	return "ICMSSN" + string(c)
}

// =============================================================================
// PIS / COFINS - CST
// =============================================================================

// ContributionCST situación tributaria de PIS y COFINS.
type ContributionCST string

const (
	ContributionCST01 ContributionCST = "01" // Base = valor de la operación, alícuota básica
	ContributionCST02 ContributionCST = "02" // Alícuota diferenciada
	ContributionCST04 ContributionCST = "04" // Monofásica, reventa a alícuota cero
	ContributionCST06 ContributionCST = "06" // Alícuota cero
	ContributionCST07 ContributionCST = "07" // Exenta
	ContributionCST08 ContributionCST = "08" // Sin incidencia
	ContributionCST09 ContributionCST = "09" // Suspensión
	ContributionCST49 ContributionCST = "49" // Otras operaciones de salida
	ContributionCST99 ContributionCST = "99" // Otras operaciones
)

var validContributionCST = map[ContributionCST]bool{
	ContributionCST01: true, ContributionCST02: true, ContributionCST04: true,
	ContributionCST06: true, ContributionCST07: true, ContributionCST08: true,
	ContributionCST09: true, ContributionCST49: true, ContributionCST99: true,
}

// Valid indica si el CST pertenece al catálogo soportado.
func (c ContributionCST) Valid() bool { return validContributionCST[c] }

// Taxed indica si el CST calcula base y valor.
func (c ContributionCST) Taxed() bool { return c == ContributionCST01 || c == ContributionCST02 }

// Group sufijo del grupo XML: Aliq, NT u Outr.
func (c ContributionCST) Group() string {
	switch {
	case c.Taxed():
		return "Aliq"
	case c == ContributionCST04, c == ContributionCST06, c == ContributionCST07,
		c == ContributionCST08, c == ContributionCST09:
		return "NT"
	}
	return "Outr"
}

// =============================================================================
// IPI - CST de salida
// =============================================================================

// IPICST situación tributaria del IPI.
type IPICST string

const (
	IPICST50 IPICST = "50" // Salida tributada
	IPICST51 IPICST = "51" // Salida tributable con alícuota cero
	IPICST52 IPICST = "52" // Salida exenta
	IPICST53 IPICST = "53" // Salida no tributada
	IPICST99 IPICST = "99" // Otras salidas
)

// IPIDefaultCST valor centinela cuando el ítem no informa IPI.
const IPIDefaultCST = IPICST53

// IPIDefaultEnq código de encuadramiento legal genérico.
const IPIDefaultEnq = "999"

var validIPICST = map[IPICST]bool{
	IPICST50: true, IPICST51: true, IPICST52: true, IPICST53: true, IPICST99: true,
}

// Valid indica si el CST pertenece al catálogo soportado.
func (c IPICST) Valid() bool { return validIPICST[c] }

// Taxed indica si el CST se informa en el grupo IPITrib.
func (c IPICST) Taxed() bool { return c == IPICST50 || c == IPICST51 || c == IPICST99 }

// =============================================================================
// Origen de la mercadería
// =============================================================================

const (
	OriginNational = "0"
	OriginForeign  = "1"
)

// =============================================================================
// Forma de pago (tPag) y modalidad de flete (modFrete)
// =============================================================================

const (
	PaymentCash        = "01" // Dinero
	PaymentCheck       = "02" // Cheque
	PaymentCreditCard  = "03" // Tarjeta de crédito
	PaymentDebitCard   = "04" // Tarjeta de débito
	PaymentStoreCredit = "05" // Crédito de tienda
	PaymentBoleto      = "15" // Boleto bancario
	PaymentPix         = "17" // PIX
	PaymentNone        = "90" // Sin pago
	PaymentOther       = "99" // Otros
)

// ValidPaymentCodes códigos tPag aceptados.
var ValidPaymentCodes = map[string]bool{
	PaymentCash: true, PaymentCheck: true, PaymentCreditCard: true, PaymentDebitCard: true,
	PaymentStoreCredit: true, PaymentBoleto: true, PaymentPix: true, PaymentNone: true,
	PaymentOther: true,
}

const (
	FreightBySender    = "0"
	FreightByRecipient = "1"
	FreightNone        = "9"
)

// =============================================================================
// Finalidad (finNFe), tipo de operación, tipo de emisión
// =============================================================================

const (
	PurposeNormal     = "1"
	PurposeComplement = "2"
	PurposeAdjustment = "3"
	PurposeReturn     = "4"

	OperationInbound  = "0"
	OperationOutbound = "1"

	EmissionNormal = 1
)

// =============================================================================
// Eventos
// =============================================================================

const (
	EventCancellation = "110111"
	EventCorrection   = "110110"

	CancellationDescription = "Cancelamento"
	CorrectionDescription   = "Carta de Correcao"

	// Condición de uso obligatoria de la carta de corrección.
	CorrectionUseConditions = "A Carta de Correcao e disciplinada pelo paragrafo 1o-A do art. 7o do Convenio S/N, de 15 de dezembro de 1970 e pode ser utilizada para regularizacao de erro ocorrido na emissao de documento fiscal, desde que o erro nao esteja relacionado com: I - as variaveis que determinam o valor do imposto tais como: base de calculo, aliquota, diferenca de preco, quantidade, valor da operacao ou da prestacao; II - a correcao de dados cadastrais que implique mudanca do remetente ou do destinatario; III - a data de emissao ou de saida."

	MinJustificationLength = 15
	MaxJustificationLength = 255
	MinCorrectionLength    = 15
	MaxCorrectionLength    = 1000
	MaxCorrectionSequence  = 20
)

// =============================================================================
// Códigos de situación (cStat)
// =============================================================================

const (
	StatusBatchProcessed        = 104
	StatusAuthorized            = 100
	StatusCancelled             = 101
	StatusDenied                = 110
	StatusEventRegistered       = 135
	StatusEventRegisteredNoLink = 136
	StatusAuthorizedLate        = 150
	StatusCancelledLate         = 151
	StatusCancelledOutOfTime    = 155
	StatusBatchReceived         = 128
	StatusDeniedIssuer          = 301
	StatusDeniedRecipient       = 302
	StatusDeniedRecipientUF     = 303
	StatusDuplicate             = 204
	StatusAlreadyDenied         = 205
)

// Authorized indica si el cStat del protocolo autoriza el uso de la NF-e.
func Authorized(cStat int) bool {
	return cStat == StatusAuthorized || cStat == StatusAuthorizedLate
}

// CancelledStatus indica si el cStat corresponde a una NF-e cancelada.
func CancelledStatus(cStat int) bool {
	switch cStat {
	case StatusCancelled, StatusCancelledLate, StatusEventRegistered, StatusCancelledOutOfTime:
		return true
	}
	return false
}

// Rejected indica si el cStat es una denegación o un rechazo.
func Rejected(cStat int) bool {
	switch cStat {
	case StatusDenied, StatusDeniedIssuer, StatusDeniedRecipient, StatusDeniedRecipientUF, StatusAlreadyDenied:
		return true
	}
	return cStat >= 200
}

// EventAccepted indica si el cStat de un evento lo registra.
func EventAccepted(cStat int) bool {
	return cStat == StatusEventRegistered || cStat == StatusEventRegisteredNoLink || cStat == StatusCancelledOutOfTime
}

// =============================================================================
// Unidades federativas (código IBGE)
// =============================================================================

// UFCodes sigla -> código IBGE (cUF).
var UFCodes = map[string]string{
	"RO": "11", "AC": "12", "AM": "13", "RR": "14", "PA": "15", "AP": "16", "TO": "17",
	"MA": "21", "PI": "22", "CE": "23", "RN": "24", "PB": "25", "PE": "26", "AL": "27",
	"SE": "28", "BA": "29", "MG": "31", "ES": "32", "RJ": "33", "SP": "35", "PR": "41",
	"SC": "42", "RS": "43", "MS": "50", "MT": "51", "GO": "52", "DF": "53",
}

// UFCode devuelve el cUF de una sigla, o "" si no existe.
func UFCode(uf string) string { return UFCodes[uf] }

// UFFromCode devuelve la sigla para un cUF, o "" si no existe.
func UFFromCode(code string) string {
	for uf, c := range UFCodes {
		if c == code {
			return uf
		}
	}
	return ""
}
