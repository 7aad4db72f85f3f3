package htmlutil

import (
	"bytes"
	"net/url"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

// FormFields collects every named element inside the document's first
// <form> into a submission, keyed by name with the value attribute (or
// empty string). Server-rendered hidden tokens like __VIEWSTATE must be
// echoed back verbatim, so values are carried as opaque strings.
func FormFields(doc *goquery.Document) url.Values {
	fields := url.Values{}
	doc.Find("form").First().Find("[name]").Each(func(_ int, sel *goquery.Selection) {
		name := sel.AttrOr("name", "")
		if name == "" {
			return
		}
		fields.Set(name, sel.AttrOr("value", ""))
	})
	return fields
}
