// Package sanitize strips message content down to the fixed HTML
// allow-list the chat pipeline permits.
package sanitize

import (
	"regexp"

	"github.com/microcosm-cc/bluemonday"
)

var mentionType = regexp.MustCompile(`^mention$`)

// policy builds the allow-list once; bluemonday policies are safe for
// concurrent use after construction.
var policy = buildPolicy()

func buildPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()

	p.AllowElements("p", "br", "strong", "em", "u", "s", "ul", "ol", "li", "blockquote", "code", "pre")

	p.AllowStandardURLs()
	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https", "mailto")
	p.RequireNoFollowOnLinks(false)

	// Mentions: <span data-type="mention" data-id="..." data-label="...">
	p.AllowAttrs("data-type").Matching(mentionType).OnElements("span")
	p.AllowAttrs("data-id", "data-label").OnElements("span")

	return p
}

// Sanitize strips any element or attribute not on the fixed allow-list
// `p, br, strong, em, u, s, a, ul, ol, li, blockquote, code, pre, span`,
// restricting `a[href]` to http/https/mailto and permitting the
// mention span shape. Every event handler, <script>, and javascript:
// URL is stripped along with the element or attribute carrying it.
func Sanitize(html string) string {
	return policy.Sanitize(html)
}
