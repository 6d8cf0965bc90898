package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func extractStrings(t *testing.T, body, contentType, base string) []string {
	t.Helper()
	links, err := HTMLExtractor{}.ExtractLinks([]byte(body), contentType, mustURL(t, base))
	require.NoError(t, err)
	out := make([]string, len(links))
	for i, l := range links {
		out[i] = l.String()
	}
	return out
}

func TestHTMLExtractor_DocumentOrder(t *testing.T) {
	body := `<html><head><link rel="stylesheet" href="/style.css"></head><body>
<a href="/one">1</a>
<iframe src="/frame"></iframe>
<map><area href="/area" alt="x"></map>
<a href="//cdn.example.com/lib.js">proto-relative</a>
<a>no href</a>
</body></html>`

	got := extractStrings(t, body, "text/html", "https://example.com/")
	assert.Equal(t, []string{
		"https://example.com/style.css",
		"https://example.com/one",
		"https://example.com/frame",
		"https://example.com/area",
		"https://cdn.example.com/lib.js",
	}, got)
}

func TestHTMLExtractor_DropsIgnoredSchemes(t *testing.T) {
	body := `<a href="javascript:void(0)">js</a>
<a href="MAILTO:x@example.com">mail</a>
<a href="tel:+123">tel</a>
<a href="data:text/plain,hi">data</a>
<a href="ftp://example.com/file">ftp</a>
<a href="  ">blank</a>
<a href="/kept">kept</a>`

	got := extractStrings(t, body, "text/html", "http://example.com/")
	assert.Equal(t, []string{"http://example.com/kept"}, got)
}

func TestHTMLExtractor_BaseHref(t *testing.T) {
	body := `<html><head><base href="http://example.com/root/"></head>
<body><a href="child">c</a></body></html>`

	got := extractStrings(t, body, "text/html", "http://example.com/other/page")
	assert.Equal(t, []string{"http://example.com/root/child"}, got)
}

func TestHTMLExtractor_Latin1(t *testing.T) {
	// "caf\xe9" is "café" in ISO-8859-1.
	body := "<a href=\"/caf\xe9\">menu</a>"

	got := extractStrings(t, body, "text/html; charset=ISO-8859-1", "http://example.com/")
	require.Len(t, got, 1)
	assert.Equal(t, "http://example.com/caf%C3%A9", got[0])
}

func TestHTMLExtractor_MalformedMarkup(t *testing.T) {
	got := extractStrings(t, `<a href="/a"<<<div>`, "text/html", "http://example.com/")
	assert.NotNil(t, got)
}
