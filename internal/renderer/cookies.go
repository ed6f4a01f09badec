package renderer

import (
	"github.com/go-rod/rod/lib/proto"
)

// locationCookies builds the storefront cookies that pin language,
// currency, and, when a hint is given, the delivery location. Ranking
// varies by delivery region, so callers resolving ranks for a specific
// market set these before the first navigation.
func locationCookies(m Marketplace, hint string) []*proto.NetworkCookieParam {
	domain := "." + trimWWW(m.Domain)
	cookies := []*proto.NetworkCookieParam{
		{Name: "lc-main", Value: localeCookieValue(m.Locale), Domain: domain, Path: "/"},
		{Name: "i18n-prefs", Value: m.Currency, Domain: domain, Path: "/"},
	}
	if hint != "" {
		cookies = append(cookies, &proto.NetworkCookieParam{
			Name: "sp-geo", Value: hint, Domain: domain, Path: "/",
		})
	}
	return cookies
}

// localeCookieValue converts a BCP-47 tag to the underscore form the
// storefront's language cookie uses.
func localeCookieValue(locale string) string {
	out := []byte(locale)
	for i, c := range out {
		if c == '-' {
			out[i] = '_'
		}
	}
	return string(out)
}

func trimWWW(domain string) string {
	const prefix = "www."
	if len(domain) > len(prefix) && domain[:len(prefix)] == prefix {
		return domain[len(prefix):]
	}
	return domain
}
