// Package scripts embeds the built-in Risor view scripts run by
// `veracity views script NAME`. A script with the same name in the
// configured filters directory takes precedence.
package scripts

import "embed"

//go:embed *.risor
var FS embed.FS
