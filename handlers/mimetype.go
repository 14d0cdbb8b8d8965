package handlers

import (
	"mime"
	"net/url"
	"path"
	"strings"
)

const binaryType = "application/octet-stream"

// Extensions whose type cannot be trusted to generic MIME tables. Unity
// builds in particular ship compressed .unityweb blobs that tables either
// miss or report as text.
var contentTypeOverrides = map[string]string{
	".unityweb": binaryType,
}

// resolveContentType infers the content type of a fetched asset from the file
// extension of its upstream URL.
func resolveContentType(rawURL string) string {
	ext := urlExtension(rawURL)
	if forced, ok := contentTypeOverrides[ext]; ok {
		return forced
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return binaryType
}

// passContentType keeps the upstream-declared type unless the extension is in
// the override table, and falls back to extension inference when the upstream
// declared nothing.
func passContentType(upstream, rawURL string) string {
	if forced, ok := contentTypeOverrides[urlExtension(rawURL)]; ok {
		return forced
	}
	if upstream != "" {
		return upstream
	}
	return resolveContentType(rawURL)
}

func urlExtension(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	return strings.ToLower(path.Ext(p))
}
