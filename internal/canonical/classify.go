package canonical

import (
	"strings"

	"github.com/sells-group/registry-ingest/internal/model"
)

// detectSignature classifies a payload by structural markers when no
// exchange header named the producing service. The signatures mirror the
// response shapes the registries actually emit; an unmatched payload keeps
// empty codes and falls through to full-scan schema resolution.
func detectSignature(kind model.ContentKind, text string) (service string) {
	switch kind {
	case model.ContentKindXML:
		if strings.Contains(text, "InfoIncomeSourcesDRFO2AnswerResponse") ||
			(strings.Contains(text, "<SourcesOfIncome>") && strings.Contains(text, "<IncomeTaxes>")) {
			return "REQ_DRFO_INCOME"
		}
		if strings.Contains(text, "ArServiceAnswer") {
			if strings.Contains(text, "<BirthAct>") {
				return "REQ_DRACS_BD_CHILD"
			}
			return "REQ_DRACS"
		}
	case model.ContentKindJSON:
		if strings.Contains(text, `"CARS"`) && strings.Contains(text, `"VIN"`) && strings.Contains(text, `"N_REG"`) {
			return "REQ_EIS_TZ_OWNER"
		}
		if strings.Contains(text, `"root"`) && strings.Contains(text, `"result"`) &&
			(strings.Contains(text, `"date_birth"`) || strings.Contains(text, `"birth_date"`)) &&
			strings.Contains(text, `"documents"`) {
			return "REQ_EIS_PERSON"
		}
		if strings.Contains(text, `"realty"`) && strings.Contains(text, `"properties"`) && strings.Contains(text, `"realtyAddress"`) {
			return "REQ_DRRP"
		}
		if strings.Contains(text, `"courtId"`) && strings.Contains(text, `"caseNum"`) && strings.Contains(text, `"docTypeName"`) {
			return "REQ_EDRSR"
		}
	}
	return ""
}

// registryFromService maps a detected service code onto its source registry.
func registryFromService(service string) string {
	switch {
	case strings.HasPrefix(service, "REQ_EIS_"):
		return "EIS"
	case strings.HasPrefix(service, "REQ_DRFO"):
		return "DRFO"
	case strings.HasPrefix(service, "REQ_DRACS"):
		return "DRACS"
	case strings.HasPrefix(service, "REQ_EDRSR"):
		return "EDRSR"
	case strings.HasPrefix(service, "REQ_DZK"):
		return "DZK"
	case strings.HasPrefix(service, "REQ_DSR"):
		return "DSR"
	case strings.HasPrefix(service, "REQ_DRRP"):
		return "DRRP"
	case strings.HasPrefix(service, "REQ_EDR"):
		return "EDR"
	}
	return ""
}
