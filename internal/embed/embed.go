package embed

import (
	"embed"
	"html/template"
)

//go:embed public
var publicFS embed.FS

// ClaimPageTemplate parses the embedded claim page so the binary serves it
// without external files
func ClaimPageTemplate() (*template.Template, error) {
	return template.ParseFS(publicFS, "public/claim.html")
}
