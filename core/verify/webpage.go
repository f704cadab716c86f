package verify

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/domainstack/probekit/core/fetch"
)

const (
	// maxFileBytes caps a verification-file probe; the file itself is
	// a single short line.
	maxFileBytes int64 = 64 << 10
	// maxPageBytes caps a root-page probe, enough to cover any head
	// section where the meta tag lives.
	maxPageBytes     int64 = 512 << 10
	maxPageRedirects       = 5
)

// verifyHTMLFile probes for the hosted verification file. The
// per-token path is tried first so several users can verify the same
// domain at once, then the legacy shared path, each over https before
// http. A failed or non-matching candidate just advances to the next.
func (v *Verifier) verifyHTMLFile(ctx context.Context, domain, token string) Result {
	expected := fileContentPrefix + token
	tokenPath := tokenFileDir + url.PathEscape(token) + ".html"

	restricted := v.fileFetchOptions(domain, true)
	open := v.fileFetchOptions(domain, false)

	candidates := []struct {
		url  string
		opts *fetch.Options
	}{
		{"https://" + domain + tokenPath, restricted},
		{"http://" + domain + tokenPath, restricted},
		{"https://" + domain + legacyFilePath, open},
		{"http://" + domain + legacyFilePath, open},
	}

	for _, c := range candidates {
		if ctx.Err() != nil {
			return Result{Detail: "cancelled"}
		}
		body, ok := v.fetchBody(ctx, c.url, c.opts)
		if !ok {
			continue
		}
		if strings.TrimSpace(string(body)) == expected {
			v.logger.Info("domain verified by hosted file", "domain", domain, "url", c.url)
			return Result{Verified: true, Method: MethodHTMLFile}
		}
		v.logger.Debug("verification file content does not match", "domain", domain, "url", c.url)
	}
	return Result{}
}

// verifyMetaTag fetches the root page and scans it for a matching
// verification tag, https before http.
func (v *Verifier) verifyMetaTag(ctx context.Context, domain, token string) Result {
	for _, rootURL := range []string{"https://" + domain + "/", "http://" + domain + "/"} {
		if ctx.Err() != nil {
			return Result{Detail: "cancelled"}
		}
		body, ok := v.fetchBody(ctx, rootURL, v.pageFetchOptions())
		if !ok {
			continue
		}
		if metaTagMatches(body, token) {
			v.logger.Info("domain verified by meta tag", "domain", domain, "url", rootURL)
			return Result{Verified: true, Method: MethodMetaTag}
		}
		v.logger.Debug("no matching meta tag on page", "domain", domain, "url", rootURL)
	}
	return Result{}
}

// fileFetchOptions builds the probe options for one verification-file
// candidate. Plain http is allowed because the file must be checkable
// before the domain is known to serve https. Restricted candidates pin
// the hop allowlist to the domain and its www variant; a redirect
// elsewhere is delivered as-is and fails the content comparison.
func (v *Verifier) fileFetchOptions(domain string, restrictHosts bool) *fetch.Options {
	opts := fetch.NewOptions()
	opts.Timeout = v.timeout
	opts.MaxBytes = maxFileBytes
	opts.TruncateOnLimit = true
	opts.AllowHTTP = true
	if restrictHosts {
		opts.AllowedHosts = []string{domain, "www." + domain}
		opts.ReturnOnDisallowedRedirect = true
	}
	return opts
}

func (v *Verifier) pageFetchOptions() *fetch.Options {
	opts := fetch.NewOptions()
	opts.Timeout = v.timeout
	opts.MaxBytes = maxPageBytes
	opts.MaxRedirects = maxPageRedirects
	opts.TruncateOnLimit = true
	opts.AllowHTTP = true
	return opts
}

// fetchBody runs one candidate probe. Fetch errors and non-2xx
// statuses alike mean "try the next candidate".
func (v *Verifier) fetchBody(ctx context.Context, rawURL string, opts *fetch.Options) ([]byte, bool) {
	res, err := v.fetcher.Fetch(ctx, rawURL, opts)
	if err != nil {
		v.logger.Debug("verification probe failed", "url", rawURL, "error", err)
		return nil, false
	}
	if !res.OK {
		v.logger.Debug("verification probe got non-2xx", "url", rawURL, "status", res.Status)
		return nil, false
	}
	return res.Body, true
}

// metaTagMatches scans every verification meta tag on the page for one
// whose content equals the token. All tags are checked, not just the
// first: several users can verify the same domain with their own
// tokens side by side. The tokenizer copes with truncated input, so a
// capped page still yields whatever tags precede the cut.
func metaTagMatches(body []byte, token string) bool {
	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return false
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if !hasAttr || atom.Lookup(name) != atom.Meta {
				continue
			}
			var tagName, content string
			for {
				key, val, more := z.TagAttr()
				switch string(key) {
				case "name":
					tagName = string(val)
				case "content":
					content = string(val)
				}
				if !more {
					break
				}
			}
			if strings.EqualFold(tagName, metaTagName) && strings.TrimSpace(content) == token {
				return true
			}
		}
	}
}
