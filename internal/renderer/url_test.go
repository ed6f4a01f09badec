package renderer

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchURL_FirstPageHasNoPagination(t *testing.T) {
	t.Parallel()

	got := SearchURL("www.amazon.com", "wireless mouse", 1)

	assert.Equal(t, "https://www.amazon.com/s?k=wireless+mouse", got)
}

func TestSearchURL_LaterPagesCarryPagerParams(t *testing.T) {
	t.Parallel()

	got := SearchURL("www.amazon.com", "wireless mouse", 3)

	assert.Equal(t, "https://www.amazon.com/s?k=wireless+mouse&page=3&ref=sr_pg_3", got)
}

func TestSearchURL_KeywordRoundTripsThroughEscaping(t *testing.T) {
	t.Parallel()

	for _, kw := range []string{"caffè 100%", "ワイヤレスマウス", "kids' & teens", "a+b=c"} {
		raw := SearchURL("www.amazon.co.jp", kw, 2)

		u, err := url.Parse(raw)
		require.NoError(t, err, "url %q", raw)
		assert.Equal(t, "https", u.Scheme)
		assert.Equal(t, "www.amazon.co.jp", u.Host)
		assert.Equal(t, "/s", u.Path)
		assert.Equal(t, kw, u.Query().Get("k"))
		assert.Equal(t, "2", u.Query().Get("page"))
	}
}
