package discovery

import (
	"bytes"
	"fmt"
	"mime"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
)

// LinkExtractor pulls outgoing references from a response body.
type LinkExtractor interface {
	ExtractLinks(body []byte, contentType string, base *url.URL) ([]*url.URL, error)
}

// linkSelectors lists the elements and attributes that reference other
// documents, queried together so results keep document order.
const linkSelectors = "a[href], area[href], link[href], iframe[src], frame[src]"

var ignoredSchemes = []string{"javascript:", "mailto:", "tel:", "data:"}

// HTMLExtractor finds links in HTML documents.
type HTMLExtractor struct{}

// ExtractLinks parses body as HTML, decoding it to UTF-8 according to the
// content type or the document's meta charset, and returns every reference
// resolved against base (or the document's <base href>). Only http and https
// results are returned.
func (HTMLExtractor) ExtractLinks(body []byte, contentType string, base *url.URL) ([]*url.URL, error) {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return nil, fmt.Errorf("decoding charset: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parsing html: %w", err)
	}

	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if ref, err := url.Parse(strings.TrimSpace(href)); err == nil {
			base = base.ResolveReference(ref)
		}
	}

	var links []*url.URL
	doc.Find(linkSelectors).Each(func(_ int, s *goquery.Selection) {
		raw, ok := s.Attr("href")
		if !ok {
			raw, _ = s.Attr("src")
		}
		if u := resolve(base, raw); u != nil {
			links = append(links, u)
		}
	})
	return links, nil
}

func resolve(base *url.URL, raw string) *url.URL {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "#" {
		return nil
	}
	lower := strings.ToLower(raw)
	for _, scheme := range ignoredSchemes {
		if strings.HasPrefix(lower, scheme) {
			return nil
		}
	}

	ref, err := url.Parse(raw)
	if err != nil {
		return nil
	}
	u := base.ResolveReference(ref)
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil
	}
	if u.Hostname() == "" {
		return nil
	}
	return u
}

// IsHTML reports whether contentType names an HTML or XHTML document.
func IsHTML(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	return mt == "text/html" || mt == "application/xhtml+xml"
}
