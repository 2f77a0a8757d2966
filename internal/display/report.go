package display

// ReportLine is one member's result in a turn report.
type ReportLine struct {
	Actor string
	Text  string
}

// TurnReport is the data a turn report template renders.
type TurnReport struct {
	Party    string
	Location string
	Turn     int
	Lines    []ReportLine
}

// DefaultTurnTemplate renders a heading followed by one line per action.
const DefaultTurnTemplate = `{{ .Party }} - turn {{ .Turn }}{{ with .Location }} at {{ . }}{{ end }}
{{- range .Lines }}
* {{ .Actor }}: {{ .Text | trim | capitalize }}
{{- else }}
Nothing happens.
{{- end }}
`

// RenderTurnReport expands tmpl (DefaultTurnTemplate when empty) and wraps
// the result to width.
func RenderTurnReport(tmpl string, r TurnReport, width int) (string, error) {
	if tmpl == "" {
		tmpl = DefaultTurnTemplate
	}
	s, err := ExpandTemplate(tmpl, r)
	if err != nil {
		return "", err
	}
	return WrapWidth(s, width), nil
}
