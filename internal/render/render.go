// Package render wraps mugo's templating engine for clawd's two places
// that synthesize text rather than stream it from a provider: the
// context primer a new session inherits from (internal/session/primer.go)
// and the Resource Governor's no-model rolling summary fallback
// (internal/governor/snapshot.go).
package render

import (
	"bytes"
	"log/slog"

	"github.com/rytsh/mugo/fstore"
	_ "github.com/rytsh/mugo/fstore/registry"
	"github.com/rytsh/mugo/render"
	"github.com/rytsh/mugo/templatex"
)

// ExecuteWithData renders content against data with mugo's standard
// function map, trusted (sprig, string/slice helpers included).
var ExecuteWithData = render.ExecuteWithData

// ExecuteWithFuncs is ExecuteWithData plus caller-supplied functions,
// for templates that need something the standard map doesn't carry.
// No clawd template needs this yet; kept for the next one that does,
// the same shape the teacher's workflow template node exposes.
func ExecuteWithFuncs(content string, data any, extraFuncs map[string]any) ([]byte, error) {
	tpl := templatex.New(
		templatex.WithAddFuncMapWithOpts(func(o templatex.Option) map[string]any {
			return fstore.FuncMap(
				fstore.WithLog(slog.Default()),
				fstore.WithTrust(true),
				fstore.WithExecuteTemplate(o.T),
			)
		}),
		templatex.WithAddFuncMap(extraFuncs),
	)

	var buf bytes.Buffer
	if err := tpl.Execute(
		templatex.WithIO(&buf),
		templatex.WithContent(content),
		templatex.WithData(data),
	); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
