// Package templates embeds the rendered HTML pages so the binary ships
// self-contained and tests render the exact production markup.
package templates

import (
	"embed"
	"html/template"
)

//go:embed *.html
var files embed.FS

// Load parses every embedded page into a single template set keyed by filename.
func Load() *template.Template {
	return template.Must(template.New("").ParseFS(files, "*.html"))
}
