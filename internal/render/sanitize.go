package render

import (
	"html"
	"strings"

	xhtml "golang.org/x/net/html"
)

var inlineTags = map[string]bool{
	"a": true, "abbr": true, "b": true, "br": true, "code": true, "em": true,
	"i": true, "mark": true, "s": true, "small": true, "span": true,
	"strong": true, "sub": true, "sup": true, "u": true,
}

// dropped tags are removed together with their content.
var droppedTags = map[string]bool{
	"script": true, "iframe": true, "svg": true, "style": true, "object": true,
	"embed": true, "math": true, "noscript": true, "template": true, "frame": true,
	"frameset": true, "applet": true,
}

var allowedAttrs = map[string]bool{
	"class": true, "title": true, "href": true, "target": true, "rel": true,
}

// Sanitize keeps a small set of inline formatting tags and drops everything
// else: script-like elements with their content, other tags keeping their
// text, event-handler attributes and javascript: URLs.
func Sanitize(s string) string {
	z := xhtml.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skip := 0
	for {
		tt := z.Next()
		switch tt {
		case xhtml.ErrorToken:
			// io.EOF or a malformed tail; either way what was kept is safe.
			return b.String()
		case xhtml.TextToken:
			if skip == 0 {
				b.WriteString(html.EscapeString(string(z.Text())))
			}
		case xhtml.StartTagToken, xhtml.SelfClosingTagToken:
			tok := z.Token()
			if droppedTags[tok.Data] {
				if tt == xhtml.StartTagToken {
					skip++
				}
				continue
			}
			if skip > 0 || !inlineTags[tok.Data] {
				continue
			}
			writeTag(&b, tok, tt == xhtml.SelfClosingTagToken || tok.Data == "br")
		case xhtml.EndTagToken:
			tok := z.Token()
			if droppedTags[tok.Data] {
				if skip > 0 {
					skip--
				}
				continue
			}
			if skip == 0 && inlineTags[tok.Data] && tok.Data != "br" {
				b.WriteString("</" + tok.Data + ">")
			}
		}
	}
}

func writeTag(b *strings.Builder, tok xhtml.Token, selfClosing bool) {
	b.WriteString("<" + tok.Data)
	for _, a := range tok.Attr {
		if !safeAttr(tok.Data, a) {
			continue
		}
		b.WriteString(" " + a.Key + `="` + html.EscapeString(a.Val) + `"`)
	}
	if selfClosing {
		b.WriteString(" />")
		return
	}
	b.WriteString(">")
}

func safeAttr(tag string, a xhtml.Attribute) bool {
	key := strings.ToLower(a.Key)
	if a.Namespace != "" || strings.HasPrefix(key, "on") || !allowedAttrs[key] {
		return false
	}
	if key == "href" && tag != "a" {
		return false
	}
	return !unsafeURL(a.Val)
}

func unsafeURL(v string) bool {
	norm := strings.Map(func(r rune) rune {
		if r <= ' ' || r == 0x7f {
			return -1
		}
		return r
	}, strings.ToLower(v))
	for _, scheme := range []string{"javascript:", "vbscript:", "data:"} {
		if strings.Contains(norm, scheme) {
			return true
		}
	}
	return false
}

// StripTags returns the text content of s with every tag removed and the
// content of script-like elements discarded. Entities are decoded.
func StripTags(s string) string {
	z := xhtml.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case xhtml.ErrorToken:
			return b.String()
		case xhtml.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case xhtml.StartTagToken:
			name, _ := z.TagName()
			if droppedTags[string(name)] {
				skip++
			}
		case xhtml.EndTagToken:
			name, _ := z.TagName()
			if droppedTags[string(name)] && skip > 0 {
				skip--
			}
		}
	}
}
