// Package tracking rewrites outgoing HTML so opens and clicks flow back
// through the tracking endpoints. The transform is pure and is applied
// by the queue worker right before a job's send attempt.
package tracking

import (
	"fmt"
	"net/url"
	"regexp"
)

var linkRe = regexp.MustCompile(`href="(https?://[^"]+)"`)

// Transformer rewrites html for one (campaign, recipient) pair.
type Transformer func(html, campaignID, recipient string) string

// New returns a Transformer that appends a 1x1 open pixel and routes
// links through the click redirect. Ad-hoc sends (empty campaign id) are
// passed through untouched.
func New(baseURL string) Transformer {
	return func(html, campaignID, recipient string) string {
		if campaignID == "" {
			return html
		}

		html = linkRe.ReplaceAllStringFunc(html, func(match string) string {
			target := linkRe.FindStringSubmatch(match)[1]
			return fmt.Sprintf(`href="%s/track/click/%s?url=%s"`,
				baseURL, campaignID, url.QueryEscape(target))
		})

		pixel := fmt.Sprintf(
			`<img src="%s/track/open/%s?r=%s" width="1" height="1" style="display:none" alt=""/>`,
			baseURL, campaignID, url.QueryEscape(recipient))
		return html + pixel
	}
}

// None returns html unchanged. Useful for tests and transactional mail
// that must not carry tracking.
func None(html, campaignID, recipient string) string {
	return html
}
