package handlers

import (
	_ "embed"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gomarkdown/markdown"
	mhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

//go:embed api.md
var apiMarkdown []byte

var docsPage = renderDocs(apiMarkdown)

func renderDocs(md []byte) []byte {
	extensions := parser.CommonExtensions | parser.AutoHeadingIDs | parser.NoEmptyLineBeforeBlock
	p := parser.NewWithExtensions(extensions)
	doc := p.Parse(md)

	opts := mhtml.RendererOptions{
		Flags: mhtml.CommonFlags | mhtml.HrefTargetBlank | mhtml.CompletePage,
		Title: "Segmentation API",
	}
	return markdown.Render(doc, mhtml.NewRenderer(opts))
}

func docsHandler(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", docsPage)
}
