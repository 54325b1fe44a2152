package extractor

import "github.com/microcosm-cc/bluemonday"

// newPolicy allows user-generated HTML plus images and classed spans, which
// MathJax and the card templates rely on.
func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowElements("img", "span", "math")
	p.AllowAttrs("src", "alt").OnElements("img")
	p.AllowAttrs("class").OnElements("span", "div", "p")
	return p
}
