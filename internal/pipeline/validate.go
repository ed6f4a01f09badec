package pipeline

import (
	"regexp"
	"strings"

	"github.com/shelfmetrics/rank-cli/internal/model"
	"github.com/shelfmetrics/rank-cli/internal/resilience"
)

var identifierRe = regexp.MustCompile(`^[A-Z0-9]{10}$`)

// keywordInjectionRes match markup and script fragments that have no
// business inside a search keyword. A keyword failing any of these is
// rejected outright rather than sanitized.
var keywordInjectionRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<\s*/?\s*script`),
	regexp.MustCompile(`(?i)javascript\s*:`),
	regexp.MustCompile(`(?i)\bon[a-z]+\s*=`),
	regexp.MustCompile(`(?i)data\s*:\s*[a-z]+/[a-z0-9.+-]+`),
}

const (
	minKeywordLen = 2
	maxKeywordLen = 200
)

// NormalizeIdentifier trims and uppercases a raw catalog identifier and
// rejects anything that is not exactly ten alphanumerics.
func NormalizeIdentifier(raw string) (string, error) {
	id := strings.ToUpper(strings.TrimSpace(raw))
	if !identifierRe.MatchString(id) {
		return "", resilience.Faultf(model.ErrInvalidInput, "identifier %q is not a 10-character alphanumeric code", raw)
	}
	return id, nil
}

// NormalizeKeyword trims a raw keyword and enforces length bounds and the
// injection rejection list.
func NormalizeKeyword(raw string) (string, error) {
	kw := strings.TrimSpace(raw)
	if len(kw) < minKeywordLen || len(kw) > maxKeywordLen {
		return "", resilience.Faultf(model.ErrInvalidInput, "keyword length %d outside [%d, %d]", len(kw), minKeywordLen, maxKeywordLen)
	}
	for _, re := range keywordInjectionRes {
		if re.MatchString(kw) {
			return "", resilience.Faultf(model.ErrInvalidInput, "keyword contains markup or script fragments")
		}
	}
	return kw, nil
}

// NormalizeRequest validates and canonicalizes a scan request in place.
// At least one result family must be requested.
func NormalizeRequest(req *model.Request) error {
	id, err := NormalizeIdentifier(req.Identifier)
	if err != nil {
		return err
	}
	kw, err := NormalizeKeyword(req.Keyword)
	if err != nil {
		return err
	}
	if !req.CheckOrganic && !req.CheckPromoted {
		return resilience.Faultf(model.ErrInvalidInput, "request selects neither organic nor promoted ranks")
	}
	req.Identifier = id
	req.Keyword = kw
	return nil
}
