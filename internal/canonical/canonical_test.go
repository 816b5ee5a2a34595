package canonical

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/sells-group/registry-ingest/internal/model"
)

const soapIncomeResponse = `<?xml version="1.0" encoding="UTF-8"?>
<SOAP-ENV:Envelope xmlns:SOAP-ENV="http://schemas.xmlsoap.org/soap/envelope/" xmlns:xroad="http://x-road.eu/xsd/xroad.xsd">
  <SOAP-ENV:Header>
    <xroad:client><xroad:subsystemCode>DRFO</xroad:subsystemCode></xroad:client>
    <xroad:service>
      <xroad:subsystemCode>REQ_DRFO_INCOME</xroad:subsystemCode>
      <xroad:serviceCode>InfoIncomeSourcesDRFO2</xroad:serviceCode>
    </xroad:service>
    <xroad:id>req-7711</xroad:id>
    <xroad:userId>inspector-42</xroad:userId>
  </SOAP-ENV:Header>
  <SOAP-ENV:Body>
    <InfoIncomeSourcesDRFO2AnswerResponse>
      <RNOKPP>1234567890</RNOKPP>
      <SourcesOfIncome>
        <TaxAgent>11112222</TaxAgent>
        <IncomeTaxes><period_year>2023</period_year><IncomeAccrued>1500.50</IncomeAccrued></IncomeTaxes>
        <IncomeTaxes><period_year>2024</period_year><IncomeAccrued>1800.00</IncomeAccrued></IncomeTaxes>
      </SourcesOfIncome>
    </InfoIncomeSourcesDRFO2AnswerResponse>
  </SOAP-ENV:Body>
</SOAP-ENV:Envelope>`

func rawDoc(payload string) model.RawDocument {
	return model.RawDocument{
		SourceRef:  "inbox/doc-1",
		Payload:    []byte(payload),
		ReceivedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestCanonicalize_SOAPExtractsExchangeHeader(t *testing.T) {
	doc := New().Canonicalize("doc-1", rawDoc(soapIncomeResponse))

	require.Equal(t, model.ParseStatusOK, doc.ParseStatus)
	assert.Equal(t, "xml", doc.Meta.Strategy)
	assert.Equal(t, model.ContentKindXML, doc.Meta.ContentKind)
	assert.Equal(t, "DRFO", doc.Meta.RegistryCode)
	assert.Equal(t, "REQ_DRFO_INCOME", doc.Meta.ServiceCode)
	assert.Equal(t, "InfoIncomeSourcesDRFO2", doc.Meta.MethodCode)
	assert.Equal(t, "req-7711", doc.Meta.RequestID)
	assert.Equal(t, "inspector-42", doc.Meta.UserID)
	assert.False(t, doc.Meta.AccessDenied)
}

func TestCanonicalize_RepeatedSiblingsBecomeSequence(t *testing.T) {
	doc := New().Canonicalize("doc-1", rawDoc(soapIncomeResponse))

	body := doc.Data["Envelope"].(map[string]any)["Body"].(map[string]any)
	resp := body["InfoIncomeSourcesDRFO2AnswerResponse"].(map[string]any)
	sources := resp["SourcesOfIncome"].(map[string]any)
	taxes, ok := sources["IncomeTaxes"].([]any)
	require.True(t, ok, "repeated IncomeTaxes should merge into a sequence")
	assert.Len(t, taxes, 2)
	first := taxes[0].(map[string]any)
	assert.Equal(t, "2023", first["period_year"])
}

func TestCanonicalize_XMLAttributesAndMixedText(t *testing.T) {
	payload := `<doc><item code="A1">body text</item></doc>`
	doc := New().Canonicalize("doc-1", rawDoc(payload))

	require.Equal(t, model.ParseStatusOK, doc.ParseStatus)
	item := doc.Data["doc"].(map[string]any)["item"].(map[string]any)
	assert.Equal(t, "A1", item["@code"])
	assert.Equal(t, "body text", item["#text"])
}

func TestCanonicalize_Idempotence(t *testing.T) {
	c := New()
	a := c.Canonicalize("doc-a", rawDoc(soapIncomeResponse))
	b := c.Canonicalize("doc-b", rawDoc(soapIncomeResponse))

	assert.Equal(t, a.ContentHash, b.ContentHash)
	assert.Equal(t, a.CanonicalHash, b.CanonicalHash)
}

func TestCanonicalize_JSONWithTrailingCommas(t *testing.T) {
	payload := `{"root": {"result": {"rnokpp": "1234567890", "date_birth": "12.03.1985", "documents": [],}},}`
	doc := New().Canonicalize("doc-1", rawDoc(payload))

	require.Equal(t, model.ParseStatusOK, doc.ParseStatus)
	assert.Equal(t, "json", doc.Meta.Strategy)
	// Headerless payload classified by structural signature.
	assert.Equal(t, "REQ_EIS_PERSON", doc.Meta.ServiceCode)
	assert.Equal(t, "EIS", doc.Meta.RegistryCode)
}

func TestCanonicalize_JSONTemplatePlaceholders(t *testing.T) {
	payload := `{"num_doc": {{num_doc}}, "name": "Petrov",}`
	doc := New().Canonicalize("doc-1", rawDoc(payload))

	require.Equal(t, model.ParseStatusOK, doc.ParseStatus)
	assert.Equal(t, "Petrov", doc.Data["name"])
	assert.Nil(t, doc.Data["num_doc"])
}

func TestCanonicalize_JSONArrayGetsItemsWrapper(t *testing.T) {
	payload := `[{"courtId": 1, "caseNum": "756/1234/24", "docTypeName": "Ухвала"}]`
	doc := New().Canonicalize("doc-1", rawDoc(payload))

	require.Equal(t, model.ParseStatusOK, doc.ParseStatus)
	items, ok := doc.Data["items"].([]any)
	require.True(t, ok)
	assert.Len(t, items, 1)
	assert.Equal(t, "REQ_EDRSR", doc.Meta.ServiceCode)
	assert.Equal(t, "EDRSR", doc.Meta.RegistryCode)
}

func TestCanonicalize_QueryString(t *testing.T) {
	doc := New().Canonicalize("doc-1", rawDoc("rnokpp=1234567890&year=2023&year=2024"))

	require.Equal(t, model.ParseStatusOK, doc.ParseStatus)
	assert.Equal(t, "querystring", doc.Meta.Strategy)
	assert.Equal(t, "1234567890", doc.Data["rnokpp"])
	years, ok := doc.Data["year"].([]any)
	require.True(t, ok)
	assert.Len(t, years, 2)
}

func TestCanonicalize_KeyValueLines(t *testing.T) {
	payload := "request_id = 778\nstatus: done\n# comment line\n"
	doc := New().Canonicalize("doc-1", rawDoc(payload))

	require.Equal(t, model.ParseStatusOK, doc.ParseStatus)
	assert.Equal(t, "keyvalue", doc.Meta.Strategy)
	assert.Equal(t, "778", doc.Data["request_id"])
	assert.Equal(t, "done", doc.Data["status"])
}

func TestCanonicalize_BinaryPayloadIsCorrupt(t *testing.T) {
	raw := model.RawDocument{SourceRef: "inbox/blob", Payload: []byte{0x00, 0x01, 0xff, 0xfe, 0x00}}
	doc := New().Canonicalize("doc-1", raw)

	assert.Equal(t, model.ParseStatusCorrupt, doc.ParseStatus)
	assert.NotEmpty(t, doc.ContentHash)
	assert.NotEmpty(t, doc.CanonicalHash)
}

func TestCanonicalize_UnparseableTextIsParseError(t *testing.T) {
	doc := New().Canonicalize("doc-1", rawDoc("this is just prose with no structure at all"))

	assert.Equal(t, model.ParseStatusParseError, doc.ParseStatus)
}

func TestCanonicalize_SOAPFaultMarksAccessDenied(t *testing.T) {
	payload := `<Envelope><Body><Fault><faultcode>Server.Auth</faultcode><faultstring>Access denied for subsystem</faultstring></Fault></Body></Envelope>`
	doc := New().Canonicalize("doc-1", rawDoc(payload))

	require.Equal(t, model.ParseStatusOK, doc.ParseStatus)
	assert.True(t, doc.Meta.AccessDenied)
	assert.Contains(t, doc.Meta.DenialDetail, "Server.Auth")
}

func TestCanonicalize_DenialMarkerInPayload(t *testing.T) {
	payload := `{"error": "ACCESS_DENIED", "detail": "no grants"}`
	doc := New().Canonicalize("doc-1", rawDoc(payload))

	require.Equal(t, model.ParseStatusOK, doc.ParseStatus)
	assert.True(t, doc.Meta.AccessDenied)
	assert.Contains(t, doc.Meta.DenialDetail, "ACCESS_DENIED")
}

func TestCanonicalize_SourceTSFallsBackToReceivedAt(t *testing.T) {
	raw := rawDoc(`{"a": 1}`)
	doc := New().Canonicalize("doc-1", raw)
	assert.Equal(t, raw.ReceivedAt, doc.Meta.SourceTS)
}

func TestDecodeText_Windows1251(t *testing.T) {
	// "name=Привет" with the cyrillic part in windows-1251.
	payload := append([]byte("name="), 0xCF, 0xF0, 0xE8, 0xE2, 0xE5, 0xF2)
	text, ok := decodeText(payload)
	require.True(t, ok)
	assert.Equal(t, "name=Привет", text)
}

func TestDecodeUCS_ExpandsEscapes(t *testing.T) {
	assert.Equal(t, "В-2015", decodeUCS("#U0412-2015"))
	assert.Equal(t, "#UZZZZ", decodeUCS("#UZZZZ"))
}

func TestFixMojibake_RecoversCP866ZipNames(t *testing.T) {
	// Reproduce the archive defect: cp866 bytes mis-decoded as cp437.
	original := "Ответ В-2015"
	raw, err := charmap.CodePage866.NewEncoder().String(original)
	require.NoError(t, err)
	mangled, err := charmap.CodePage437.NewDecoder().String(raw)
	require.NoError(t, err)
	require.Zero(t, countCyrillic(mangled))

	assert.Equal(t, original, fixMojibake(mangled))
}

func TestFixMojibake_LeavesCleanTextAlone(t *testing.T) {
	assert.Equal(t, "Київ 2024", fixMojibake("Київ 2024"))
	assert.Equal(t, "plain ascii", fixMojibake("plain ascii"))
}
