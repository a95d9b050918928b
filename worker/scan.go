package worker

import (
	"bytes"

	"golang.org/x/net/html"

	"github.com/plainlicense/herokit/manifest"
)

// DiscoverSubresources parses an HTML document and returns the same-origin
// hashed asset paths it references (script src, link href, img/source src).
// Only root-relative paths carrying a content hash qualify — those are build
// artifacts worth precaching; external URLs and unhashed paths are not ours
// to manage.
func DiscoverSubresources(body []byte) []string {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var out []string

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			var attr string
			switch n.Data {
			case "script", "img", "source":
				attr = "src"
			case "link":
				attr = "href"
			}
			if attr != "" {
				if ref := findAttr(n, attr); ref != "" {
					if p, ok := precachable(ref); ok {
						if _, dup := seen[p]; !dup {
							seen[p] = struct{}{}
							out = append(out, p)
						}
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out
}

func findAttr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

// precachable accepts root-relative, query-free, content-hashed paths.
func precachable(ref string) (string, bool) {
	if len(ref) < 2 || ref[0] != '/' || ref[1] == '/' {
		return "", false
	}
	for _, c := range ref {
		if c == '?' || c == '#' {
			return "", false
		}
	}
	if _, _, _, ok := manifest.SplitHash(ref); !ok {
		return "", false
	}
	return ref, true
}
