package sri

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"3tcapital/ms_emision_electronica/internal/core/authority"
)

const (
	nsSOAP          = "http://schemas.xmlsoap.org/soap/envelope/"
	nsReception     = "http://ec.gob.sri.ws.recepcion"
	nsAuthorization = "http://ec.gob.sri.ws.autorizacion"

	opValidate  = "validarComprobante"
	opAuthorize = "autorizacionComprobante"

	receptionReceived = "RECIBIDA"
	receptionReturned = "DEVUELTA"

	authorizationGranted    = "AUTORIZADO"
	authorizationDenied     = "NO AUTORIZADO"
	authorizationProcessing = "EN PROCESO"

	// Reason code of "access code already registered": the document was received before.
	reasonAlreadyRegistered = "43"
)

func validateEnvelope(signed []byte) []byte {
	var b strings.Builder
	b.WriteString(`<soapenv:Envelope xmlns:soapenv="` + nsSOAP + `" xmlns:ec="` + nsReception + `">`)
	b.WriteString(`<soapenv:Header/><soapenv:Body><ec:` + opValidate + `>`)
	b.WriteString(`<xml>` + base64.StdEncoding.EncodeToString(signed) + `</xml>`)
	b.WriteString(`</ec:` + opValidate + `></soapenv:Body></soapenv:Envelope>`)
	return []byte(b.String())
}

func authorizeEnvelope(accessCode string) []byte {
	var b strings.Builder
	b.WriteString(`<soapenv:Envelope xmlns:soapenv="` + nsSOAP + `" xmlns:ec="` + nsAuthorization + `">`)
	b.WriteString(`<soapenv:Header/><soapenv:Body><ec:` + opAuthorize + `>`)
	b.WriteString(`<claveAccesoComprobante>` + accessCode + `</claveAccesoComprobante>`)
	b.WriteString(`</ec:` + opAuthorize + `></soapenv:Body></soapenv:Envelope>`)
	return []byte(b.String())
}

type soapMessage struct {
	Code           string `xml:"identificador"`
	Message        string `xml:"mensaje"`
	AdditionalInfo string `xml:"informacionAdicional"`
	Type           string `xml:"tipo"`
}

type soapFault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
}

type receptionResponse struct {
	State    string `xml:"estado"`
	Receipts []struct {
		AccessCode string        `xml:"claveAcceso"`
		Messages   []soapMessage `xml:"mensajes>mensaje"`
	} `xml:"comprobantes>comprobante"`
}

type authorizationEntry struct {
	State        string        `xml:"estado"`
	Number       string        `xml:"numeroAutorizacion"`
	AuthorizedAt string        `xml:"fechaAutorizacion"`
	Messages     []soapMessage `xml:"mensajes>mensaje"`
}

type authorizationResponse struct {
	AccessCode     string               `xml:"claveAccesoConsultada"`
	Count          string               `xml:"numeroComprobantes"`
	Authorizations []authorizationEntry `xml:"autorizaciones>autorizacion"`
}

type envelope struct {
	Body struct {
		Fault         *soapFault             `xml:"Fault"`
		Reception     *receptionResponse     `xml:"validarComprobanteResponse>RespuestaRecepcionComprobante"`
		Authorization *authorizationResponse `xml:"autorizacionComprobanteResponse>RespuestaAutorizacionComprobante"`
	} `xml:"Body"`
}

func decodeEnvelope(body []byte) (*envelope, error) {
	var env envelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode soap envelope: %w", err)
	}
	return &env, nil
}

func reasons(messages []soapMessage) []authority.Reason {
	out := make([]authority.Reason, 0, len(messages))
	for _, m := range messages {
		out = append(out, authority.Reason{
			Code:           strings.TrimSpace(m.Code),
			Message:        strings.TrimSpace(m.Message),
			AdditionalInfo: strings.TrimSpace(m.AdditionalInfo),
			Type:           strings.TrimSpace(m.Type),
		})
	}
	return out
}

// onlyAlreadyRegistered reports whether every error reason says the access code is
// already registered.
func onlyAlreadyRegistered(rs []authority.Reason) bool {
	found := false
	for _, r := range rs {
		if r.Type != "" && !strings.EqualFold(r.Type, "ERROR") {
			continue
		}
		if r.Code != reasonAlreadyRegistered {
			return false
		}
		found = true
	}
	return found
}

var authorizationTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000-07:00",
	"2006-01-02T15:04:05",
	"02/01/2006 15:04:05",
}

func parseAuthorizationTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range authorizationTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
