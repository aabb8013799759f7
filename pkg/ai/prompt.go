package ai

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/medialib/curator/pkg/models"
)

// PromptData is the scene-field set available to prompt templates.
// Every field is a plain string so a missing value renders as empty and
// substitution never fails.
type PromptData struct {
	FilePath   string
	Title      string
	Details    string
	Studio     string
	Performers string
	Tags       string
	Duration   string
	Resolution string
}

// PromptDataFromScene flattens a scene (plus resolved entity names) into
// template data.
func PromptDataFromScene(scene *models.Scene, studio string, performers, tags []string) PromptData {
	data := PromptData{
		FilePath:   scene.FilePath(),
		Title:      scene.Title,
		Details:    scene.Details,
		Studio:     studio,
		Performers: strings.Join(performers, ", "),
		Tags:       strings.Join(tags, ", "),
	}
	if f := scene.PrimaryFile(); f != nil {
		data.Duration = fmt.Sprintf("%.0f seconds", f.Duration)
		data.Resolution = fmt.Sprintf("%dx%d", f.Width, f.Height)
	}
	return data
}

// RenderPrompt executes a prompt template against the scene data.
func RenderPrompt(tmpl string, data PromptData) (string, error) {
	parsed, err := template.New("prompt").Option("missingkey=zero").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parsing prompt template: %w", err)
	}
	var sb strings.Builder
	if err := parsed.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("rendering prompt template: %w", err)
	}
	return sb.String(), nil
}

// Built-in detector prompts. Templates reference PromptData fields.
const (
	StudioPrompt = `Identify the production studio for this scene.

File path: {{.FilePath}}
Title: {{.Title}}
Details: {{.Details}}

Answer with the studio name and your confidence.`

	PerformerPrompt = `List the performers appearing in this scene.

File path: {{.FilePath}}
Title: {{.Title}}
Details: {{.Details}}
Known performers already on the scene: {{.Performers}}

Answer with each performer name and your confidence.`

	TagPrompt = `Propose content tags for this scene. Only use tags from the
available list; do not invent new ones.

File path: {{.FilePath}}
Title: {{.Title}}
Details: {{.Details}}
Duration: {{.Duration}}
Resolution: {{.Resolution}}
Available tags: {{.Tags}}

Answer with each tag name and your confidence.`
)
