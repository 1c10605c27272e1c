package startup

import (
	"bytes"
	"fmt"
	"maps"
	"regexp"
	"text/template"

	"github.com/eliteGoblin/sysdaemon/internal/config"
	"github.com/eliteGoblin/sysdaemon/internal/domain"
)

// TokenTable maps a template token to a pattern of {config} placeholders.
type TokenTable map[string]string

// baseTokens is shared by every family.
var baseTokens = TokenTable{
	"authorName":  "{authorName}",
	"authorEmail": "{authorEmail}",
	"name":        "{appName}",
	"desc":        "{appDescription}",
	"binFile":     "{appDir}/{appExecutable}",
	"binName":     "{appExecutable}",
	"pidFile":     "{appPidLocation}",
	"chkconfig":   "{appChkConfig}",
	"startCmd":    "{startCommand} {appName}",
}

// with returns a copy of t merged with extra.
func (t TokenTable) with(extra TokenTable) TokenTable {
	out := maps.Clone(t)
	maps.Copy(out, extra)
	return out
}

// without returns a copy of t lacking the named tokens.
func (t TokenTable) without(names ...string) TokenTable {
	out := maps.Clone(t)
	for _, n := range names {
		delete(out, n)
	}
	return out
}

var placeholder = regexp.MustCompile(`\{([^{}]+)\}`)

// Resolve fills every token from cfg. A placeholder naming an unknown or empty
// option is an error.
func (t TokenTable) Resolve(cfg *config.DaemonConfig) (map[string]string, error) {
	out := make(map[string]string, len(t))
	for token, pattern := range t {
		var missing string
		value := placeholder.ReplaceAllStringFunc(pattern, func(m string) string {
			v, ok := cfg.Lookup(m[1 : len(m)-1])
			if !ok || v == "" {
				missing = m
			}
			return v
		})
		if missing != "" {
			return nil, fmt.Errorf("%w: %s needs option %s", domain.ErrMissingToken, token, missing)
		}
		out[token] = value
	}
	return out, nil
}

// Render executes text with the resolved tokens. Any token the template uses that
// the table lacks fails the render; nothing partial is returned.
func Render(name, text string, tokens TokenTable, cfg *config.DaemonConfig) ([]byte, error) {
	values, err := tokens.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse template %s: %v", domain.ErrStartupScript, name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, values); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrMissingToken, name, err)
	}
	return buf.Bytes(), nil
}
