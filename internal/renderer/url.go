package renderer

import (
	"fmt"
	"net/url"
)

// SearchURL builds the storefront search URL for one keyword page. Page 1
// is the plain search URL; later pages carry the pagination parameters the
// storefront's own pager would add.
func SearchURL(domain, keyword string, page int) string {
	u := url.URL{
		Scheme: "https",
		Host:   domain,
		Path:   "/s",
	}
	q := url.Values{}
	q.Set("k", keyword)
	if page > 1 {
		q.Set("page", fmt.Sprintf("%d", page))
		q.Set("ref", fmt.Sprintf("sr_pg_%d", page))
	}
	u.RawQuery = q.Encode()
	return u.String()
}
