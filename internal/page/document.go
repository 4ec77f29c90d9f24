package page

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/lawnchairsociety/livereload/internal/stylesheet"
)

// Document is a parsed HTML page.
type Document struct {
	mu   sync.Mutex // Protects the node tree
	root *html.Node
	base *url.URL

	// onHrefChange receives the resolved URL of every reassigned link.
	onHrefChange func(resolved string)
}

// ParseDocument parses an HTML document; relative hrefs resolve against base.
func ParseDocument(r io.Reader, base *url.URL) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	if base == nil {
		base = &url.URL{}
	}
	return &Document{root: root, base: base}, nil
}

// StylesheetLinks returns the <link rel="stylesheet"> elements whose href
// attribute contains substr, in document order.
func (d *Document) StylesheetLinks(substr string) []stylesheet.Link {
	d.mu.Lock()
	defer d.mu.Unlock()

	var links []stylesheet.Link
	walk(d.root, func(n *html.Node) {
		if n.Type != html.ElementNode || n.DataAtom != atom.Link || !isStylesheet(n) {
			return
		}
		href, ok := getAttr(n, "href")
		if ok && strings.Contains(href, substr) {
			links = append(links, &linkElement{doc: d, node: n})
		}
	})
	return links
}

// Title returns the text of the <title> element.
func (d *Document) Title() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var title string
	walk(d.root, func(n *html.Node) {
		if title == "" && n.Type == html.ElementNode && n.DataAtom == atom.Title && n.FirstChild != nil {
			title = strings.TrimSpace(n.FirstChild.Data)
		}
	})
	return title
}

// Render writes the current document as HTML.
func (d *Document) Render(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return html.Render(w, d.root)
}

// resolve turns an attribute value into an absolute URL.
func (d *Document) resolve(ref string) string {
	u, err := d.base.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}

// linkElement is a stylesheet <link> in a Document.
type linkElement struct {
	doc  *Document
	node *html.Node
}

// Href returns the resolved location, as the DOM href property does.
func (l *linkElement) Href() string {
	l.doc.mu.Lock()
	href, _ := getAttr(l.node, "href")
	l.doc.mu.Unlock()
	return l.doc.resolve(href)
}

// SetHref reassigns the href attribute and has the page reload the resource.
func (l *linkElement) SetHref(href string) {
	l.doc.mu.Lock()
	setAttr(l.node, "href", href)
	notify := l.doc.onHrefChange
	l.doc.mu.Unlock()

	if notify != nil {
		notify(l.doc.resolve(href))
	}
}

func isStylesheet(n *html.Node) bool {
	rel, ok := getAttr(n, "rel")
	if !ok {
		return false
	}
	for _, token := range strings.Fields(rel) {
		if strings.EqualFold(token, "stylesheet") {
			return true
		}
	}
	return false
}

func walk(n *html.Node, visit func(*html.Node)) {
	visit(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, visit)
	}
}

func getAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}
