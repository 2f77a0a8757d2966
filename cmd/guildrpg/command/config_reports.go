package command

import (
	"fmt"
	"os"

	"github.com/pixil98/go-errors"
	"golang.org/x/text/language"

	"github.com/pixil98/go-guildrpg/internal/display"
	"github.com/pixil98/go-guildrpg/internal/party"
)

type ReportConfig struct {
	TemplatePath string `json:"template_path" env:"TEMPLATE_PATH"`
	Width        int    `json:"width" env:"WIDTH"`
	Language     string `json:"language" env:"LANGUAGE"`
}

func (c *ReportConfig) validate() error {
	el := errors.NewErrorList()

	if c.TemplatePath != "" {
		if _, err := os.Stat(c.TemplatePath); err != nil {
			el.Add(fmt.Errorf("reports.template_path: %w", err))
		}
	}
	if c.Width < 0 {
		el.Add(fmt.Errorf("reports.width must not be negative"))
	}
	if c.Language != "" {
		if _, err := language.Parse(c.Language); err != nil {
			el.Add(fmt.Errorf("reports.language: %w", err))
		}
	}

	return el.Err()
}

func (c *ReportConfig) coordinatorOpt() (party.CoordinatorOpt, error) {
	var tmpl string
	if c.TemplatePath != "" {
		b, err := os.ReadFile(c.TemplatePath)
		if err != nil {
			return nil, fmt.Errorf("reading report template: %w", err)
		}
		tmpl = string(b)
	}

	width := c.Width
	if width == 0 {
		width = display.DefaultWidth
	}
	lang := c.Language
	if lang == "" {
		lang = display.FallbackLanguage
	}

	return party.WithReportFormat(tmpl, width, lang), nil
}
