package prompt

import (
	"bytes"
	"fmt"
	"path/filepath"
	"text/template"
)

var (
	ideasTmpl        = template.Must(template.New("ideas").Parse(IdeasTemplate))
	testTmpl         = template.Must(template.New("test").Parse(TestTemplate))
	ideasExtractTmpl = template.Must(template.New("ideas_extract").Parse(IdeasExtractTemplate))
	codeExtractTmpl  = template.Must(template.New("code_extract").Parse(CodeExtractTemplate))
)

// IdeasData feeds IdeasTemplate.
type IdeasData struct {
	Changes    string
	SourceName string
	TestName   string
}

// TestData feeds TestTemplate.
type TestData struct {
	Changes     string
	Description string
	TestName    string
	Framework   string
}

// BuildIdeas renders the prompt that asks for test ideas.
// Paths are reduced to their base names.
func BuildIdeas(changes, sourcePath, testPath string) (string, error) {
	return render(ideasTmpl, IdeasData{
		Changes:    changes,
		SourceName: filepath.Base(sourcePath),
		TestName:   filepath.Base(testPath),
	})
}

// BuildTest renders the prompt that asks for one test implementation.
func BuildTest(changes, description, testPath, framework string) (string, error) {
	return render(testTmpl, TestData{
		Changes:     changes,
		Description: description,
		TestName:    filepath.Base(testPath),
		Framework:   framework,
	})
}

// BuildIdeasExtract renders the JSON extraction request for an ideas reply.
func BuildIdeasExtract(content string) (string, error) {
	return render(ideasExtractTmpl, struct{ Content string }{content})
}

// BuildCodeExtract renders the code extraction request for a test reply.
func BuildCodeExtract(content string) (string, error) {
	return render(codeExtractTmpl, struct{ Content string }{content})
}

func render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}
