// ABOUTME: Plaintext rendering of alert emails from the generic payload data map.
// ABOUTME: Template parsed once at init; keys are emitted sorted for stable output.
package notify

import (
	"bytes"
	"fmt"
	"sort"
	"text/template"
)

var bodyTmpl = template.Must(template.New("email_body").Parse(
	`{{.Intro}}

{{range .Lines}}{{.}}
{{end}}
— Nexa
`))

// renderBody builds the plaintext email body from an alert payload's data
// map. Keys are sorted so the same payload always renders identically.
func renderBody(intro string, data map[string]any) (string, error) {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %v", k, data[k]))
	}

	var buf bytes.Buffer
	err := bodyTmpl.Execute(&buf, struct {
		Intro string
		Lines []string
	}{Intro: intro, Lines: lines})
	if err != nil {
		return "", fmt.Errorf("render email body: %w", err)
	}
	return buf.String(), nil
}
