package renderer

import "golang.org/x/text/language"

// Marketplace describes one storefront locale: the search domain, the
// canonical BCP-47 locale, and the headers a browser from that region
// would send.
type Marketplace struct {
	Domain         string
	Locale         string
	Currency       string
	AcceptLanguage string
}

// marketplaces is ordered by preference; the first entry is the fallback
// when a requested locale matches nothing.
var marketplaces = []Marketplace{
	{Domain: "www.amazon.com", Locale: "en-US", Currency: "USD", AcceptLanguage: "en-US,en;q=0.9"},
	{Domain: "www.amazon.co.uk", Locale: "en-GB", Currency: "GBP", AcceptLanguage: "en-GB,en;q=0.9"},
	{Domain: "www.amazon.de", Locale: "de-DE", Currency: "EUR", AcceptLanguage: "de-DE,de;q=0.9,en;q=0.5"},
	{Domain: "www.amazon.fr", Locale: "fr-FR", Currency: "EUR", AcceptLanguage: "fr-FR,fr;q=0.9,en;q=0.5"},
	{Domain: "www.amazon.es", Locale: "es-ES", Currency: "EUR", AcceptLanguage: "es-ES,es;q=0.9,en;q=0.5"},
	{Domain: "www.amazon.it", Locale: "it-IT", Currency: "EUR", AcceptLanguage: "it-IT,it;q=0.9,en;q=0.5"},
	{Domain: "www.amazon.nl", Locale: "nl-NL", Currency: "EUR", AcceptLanguage: "nl-NL,nl;q=0.9,en;q=0.5"},
	{Domain: "www.amazon.ca", Locale: "en-CA", Currency: "CAD", AcceptLanguage: "en-CA,en;q=0.9"},
	{Domain: "www.amazon.com.mx", Locale: "es-MX", Currency: "MXN", AcceptLanguage: "es-MX,es;q=0.9,en;q=0.5"},
	{Domain: "www.amazon.com.br", Locale: "pt-BR", Currency: "BRL", AcceptLanguage: "pt-BR,pt;q=0.9,en;q=0.5"},
	{Domain: "www.amazon.co.jp", Locale: "ja-JP", Currency: "JPY", AcceptLanguage: "ja-JP,ja;q=0.9,en;q=0.5"},
}

var marketplaceMatcher = buildMatcher()

func buildMatcher() language.Matcher {
	tags := make([]language.Tag, len(marketplaces))
	for i, m := range marketplaces {
		tags[i] = language.MustParse(m.Locale)
	}
	return language.NewMatcher(tags)
}

// ResolveMarketplace picks the storefront whose locale best matches the
// requested BCP-47 string. Unparseable or unmatched locales fall back to
// the first marketplace. Matching is fuzzy: "de" resolves to de-DE,
// "en-AU" to en-US.
func ResolveMarketplace(locale string) Marketplace {
	if locale == "" {
		return marketplaces[0]
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return marketplaces[0]
	}
	_, idx, conf := marketplaceMatcher.Match(tag)
	if conf == language.No {
		return marketplaces[0]
	}
	return marketplaces[idx]
}
