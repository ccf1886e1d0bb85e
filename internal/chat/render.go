package chat

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
)

// maxImages is the number of product images shown per reply.
const maxImages = 3

var (
	productLinkPattern = regexp.MustCompile(`🔗 Ver producto: (https?://\S+)`)
	imagePattern       = regexp.MustCompile(`🖼️ Imagen: (https?://\S+)`)
)

// Image is a product image found in a reply.
type Image struct {
	URL     string `json:"url"`
	Caption string `json:"caption"`
}

// Rendered is a reply prepared for display.
type Rendered struct {
	Markdown string  `json:"markdown"`
	HTML     string  `json:"html"`
	Images   []Image `json:"images,omitempty"`
}

// RewriteMarkers turns product markers into markdown links and strips image
// markers, returning the rewritten text and the image URLs in order of
// appearance. Text without markers is returned unchanged.
func RewriteMarkers(text string) (string, []string) {
	var images []string
	for _, m := range imagePattern.FindAllStringSubmatch(text, -1) {
		images = append(images, m[1])
	}
	text = productLinkPattern.ReplaceAllString(text, "🔗 [Ver producto]($1)")
	text = imagePattern.ReplaceAllString(text, "")
	return text, images
}

// RenderReply rewrites the markers of text and renders it to HTML. At most
// three images are kept, captioned "Producto N".
func RenderReply(text string) (Rendered, error) {
	md, urls := RewriteMarkers(text)

	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return Rendered{Markdown: md}, fmt.Errorf("render markdown: %w", err)
	}

	out := Rendered{Markdown: md, HTML: strings.TrimSpace(buf.String())}
	for i, u := range urls {
		if i == maxImages {
			break
		}
		out.Images = append(out.Images, Image{URL: u, Caption: fmt.Sprintf("Producto %d", i+1)})
	}
	return out, nil
}
