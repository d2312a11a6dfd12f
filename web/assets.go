// Package web contains the embedded help page served at the gateway root.
package web

import "embed"

// Templates contains the embedded HTML templates.
//
//go:embed *.html
var Templates embed.FS
