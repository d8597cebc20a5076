// Package web holds the embedded HTML templates for the login pages.
package web

import "embed"

//go:embed templates/*.html
var TemplateFiles embed.FS
