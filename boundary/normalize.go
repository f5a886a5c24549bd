package boundary

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	tagPattern    = regexp.MustCompile(`<(/?)([a-zA-Z][a-zA-Z0-9-]*)(\s[^<>]*)?/?>`)
	declPattern   = regexp.MustCompile(`(?i)<!--|<!doctype`)
	blankLines    = regexp.MustCompile(`\n{3,}`)
	spaceRun      = regexp.MustCompile(`[ \t\f\r\v]+`)
	zeroSize      = regexp.MustCompile(`(?:^|;)\s*(?:width|height|max-width|max-height|font-size)\s*:\s*0(?:px|em|rem|%|pt)?\s*(?:!important\s*)?(?:;|$)`)
)

var strippedElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Iframe:   true,
	atom.Frame:    true,
	atom.Frameset: true,
	atom.Object:   true,
	atom.Embed:    true,
	atom.Applet:   true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Head:     true,
	atom.Svg:      true,
	atom.Math:     true,
	atom.Form:     true,
	atom.Input:    true,
	atom.Button:   true,
	atom.Select:   true,
	atom.Textarea: true,
	atom.Link:     true,
	atom.Meta:     true,
	atom.Base:     true,
}

var voidElements = map[atom.Atom]bool{
	atom.Area: true, atom.Base: true, atom.Br: true, atom.Col: true,
	atom.Embed: true, atom.Frame: true, atom.Hr: true, atom.Img: true, atom.Input: true,
	atom.Link: true, atom.Meta: true, atom.Param: true, atom.Source: true,
	atom.Track: true, atom.Wbr: true,
}

var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true,
	atom.Main: true, atom.Header: true, atom.Footer: true, atom.Nav: true,
	atom.Aside: true, atom.Blockquote: true, atom.Ul: true, atom.Ol: true,
	atom.Table: true, atom.Tr: true, atom.Dl: true, atom.Figure: true,
	atom.Hr: true,
}

// IsMarkup reports whether text carries HTML: a comment, a doctype, a tag
// naming a known HTML element, or any tag with attributes. A bare unknown tag
// such as the T in Vec<T> cannot hide content and is left as text.
func IsMarkup(text string) bool {
	if declPattern.MatchString(text) {
		return true
	}
	for _, m := range tagPattern.FindAllStringSubmatch(text, -1) {
		if strings.TrimSpace(m[3]) != "" {
			return true
		}
		if atom.Lookup([]byte(strings.ToLower(m[2]))) != 0 {
			return true
		}
	}
	return false
}

// Normalize converts an HTML payload into markdown-like plain text. Active
// content, embedded frames, form controls and hidden or zero-size elements
// are dropped with their subtrees. Text that does not look like markup is
// returned unchanged.
func Normalize(text string) string {
	if !IsMarkup(text) {
		return text
	}

	doc, err := html.Parse(strings.NewReader(prune(text)))
	if err != nil {
		return html.EscapeString(text)
	}

	r := &renderer{}
	r.walk(doc)
	return r.finish()
}

// prune drops stripped and hidden elements with their content at the token
// level. The tree builder discards misplaced tags such as a <td> outside a
// table but keeps their text, so hidden content must go before parsing. An
// element left unclosed drops the rest of the input.
func prune(text string) string {
	z := html.NewTokenizer(strings.NewReader(text))
	var b strings.Builder
	skip, depth := "", 0

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return b.String()
		}
		raw := string(z.Raw())
		tok := z.Token()

		if skip != "" {
			switch {
			case (tt == html.StartTagToken || tt == html.SelfClosingTagToken) && tok.Data == skip:
				depth++
			case tt == html.EndTagToken && tok.Data == skip:
				if depth--; depth == 0 {
					skip = ""
				}
			}
			continue
		}

		if tt == html.StartTagToken || tt == html.SelfClosingTagToken {
			// head may close implicitly; the tree walk drops it.
			drop := strippedElements[tok.DataAtom] && tok.DataAtom != atom.Head
			if drop || hiddenAttrs(tok.Attr) {
				// A self-closing flag on a non-void element is ignored by
				// the tree builder, so its content follows.
				if !voidElements[tok.DataAtom] {
					skip, depth = tok.Data, 1
				}
				continue
			}
		}
		b.WriteString(raw)
	}
}

type renderer struct {
	b      strings.Builder
	inPre  int
	prefix []string
}

func (r *renderer) finish() string {
	out := blankLines.ReplaceAllString(r.b.String(), "\n\n")
	lines := strings.Split(out, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func (r *renderer) newline() {
	s := r.b.String()
	if s == "" || strings.HasSuffix(s, "\n") {
		return
	}
	r.b.WriteByte('\n')
}

func (r *renderer) paragraph() {
	r.newline()
	if !strings.HasSuffix(r.b.String(), "\n\n") && r.b.Len() > 0 {
		r.b.WriteByte('\n')
	}
}

func (r *renderer) text(s string) {
	// Rendered output must never read as markup again.
	s = strings.ReplaceAll(s, "<", "&lt;")
	if r.inPre > 0 {
		r.b.WriteString(s)
		return
	}
	s = spaceRun.ReplaceAllString(strings.ReplaceAll(s, "\n", " "), " ")
	if strings.TrimSpace(s) == "" {
		if r.b.Len() > 0 && !strings.HasSuffix(r.b.String(), " ") && !strings.HasSuffix(r.b.String(), "\n") {
			r.b.WriteByte(' ')
		}
		return
	}
	if strings.HasSuffix(r.b.String(), "\n") || r.b.Len() == 0 {
		s = strings.TrimLeft(s, " ")
	}
	r.b.WriteString(s)
}

func (r *renderer) walk(n *html.Node) {
	switch n.Type {
	case html.CommentNode, html.DoctypeNode:
		return
	case html.TextNode:
		r.text(n.Data)
		return
	case html.ElementNode:
		if strippedElements[n.DataAtom] || hidden(n) {
			return
		}
		r.element(n)
		return
	}

	r.children(n)
}

func (r *renderer) children(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		r.walk(c)
	}
}

func (r *renderer) element(n *html.Node) {
	switch n.DataAtom {
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		r.paragraph()
		level := int(n.Data[1] - '0')
		r.b.WriteString(strings.Repeat("#", level) + " ")
		r.children(n)
		r.paragraph()
	case atom.Br:
		r.b.WriteByte('\n')
	case atom.Li:
		r.newline()
		r.b.WriteString("- ")
		r.children(n)
		r.newline()
	case atom.Pre:
		r.paragraph()
		r.b.WriteString("```\n")
		r.inPre++
		r.children(n)
		r.inPre--
		r.newline()
		r.b.WriteString("```")
		r.paragraph()
	case atom.Code:
		if r.inPre > 0 {
			r.children(n)
			return
		}
		r.b.WriteByte('`')
		r.children(n)
		r.b.WriteByte('`')
	case atom.Strong, atom.B:
		r.b.WriteString("**")
		r.children(n)
		r.b.WriteString("**")
	case atom.Em, atom.I:
		r.b.WriteByte('_')
		r.children(n)
		r.b.WriteByte('_')
	case atom.Td, atom.Th:
		r.children(n)
		r.b.WriteString(" | ")
	case atom.A:
		r.link(n)
	case atom.Img:
		if alt := attr(n.Attr, "alt"); alt != "" {
			r.text("[image: " + alt + "]")
		}
	default:
		if blockElements[n.DataAtom] {
			r.paragraph()
			r.children(n)
			r.paragraph()
			return
		}
		r.children(n)
	}
}

func (r *renderer) link(n *html.Node) {
	href := strings.TrimSpace(attr(n.Attr, "href"))
	lower := strings.ToLower(href)

	r.children(n)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		r.b.WriteString(" (" + href + ")")
	}
}

func attr(attrs []html.Attribute, key string) string {
	for _, a := range attrs {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func hasAttr(attrs []html.Attribute, key string) bool {
	for _, a := range attrs {
		if strings.EqualFold(a.Key, key) {
			return true
		}
	}
	return false
}

func hidden(n *html.Node) bool {
	return hiddenAttrs(n.Attr)
}

func hiddenAttrs(attrs []html.Attribute) bool {
	if hasAttr(attrs, "hidden") {
		return true
	}
	if strings.EqualFold(attr(attrs, "aria-hidden"), "true") {
		return true
	}
	if strings.EqualFold(attr(attrs, "type"), "hidden") {
		return true
	}
	if attr(attrs, "width") == "0" || attr(attrs, "height") == "0" {
		return true
	}

	style := strings.ToLower(strings.ReplaceAll(attr(attrs, "style"), " ", ""))
	if style == "" {
		return false
	}
	for _, marker := range []string{"display:none", "visibility:hidden", "opacity:0;", "opacity:0!", "clip:rect(0"} {
		if strings.Contains(style, marker) {
			return true
		}
	}
	if strings.HasSuffix(style, "opacity:0") {
		return true
	}
	return zeroSize.MatchString(style)
}
