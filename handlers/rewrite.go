package handlers

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// RewriteLinks rewrites root-relative href/src attributes of a proxied HTML
// document so they resolve back through the generic proxy instead of this
// host. Protocol-relative ("//") and absolute links are left alone.
func RewriteLinks(body []byte, base *url.URL) ([]byte, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	for _, attr := range []string{"href", "src"} {
		attr := attr
		doc.Find("[" + attr + "]").Each(func(_ int, s *goquery.Selection) {
			value, _ := s.Attr(attr)
			if rewritten, ok := rewriteLink(value, base); ok {
				s.SetAttr(attr, rewritten)
			}
		})
	}

	html, err := doc.Html()
	if err != nil {
		return nil, err
	}
	return []byte(html), nil
}

func rewriteLink(value string, base *url.URL) (string, bool) {
	if !strings.HasPrefix(value, "/") || strings.HasPrefix(value, "//") {
		return "", false
	}
	absolute := base.Scheme + "://" + base.Host + value
	return "/a/" + url.QueryEscape(absolute), true
}
