package agent

import (
	"bytes"
	_ "embed"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

//go:embed prompt/system.md
var systemPromptTemplate string

var systemPrompt = template.Must(template.New("system").Parse(systemPromptTemplate))

type promptInput struct {
	ToolName       string
	ToolPrompt     string
	SchemaDocument string
	Examples       []*exampleQuery
}

// buildSystemPrompt renders the prompt. A template failure falls back to the
// raw template text so a run never fails on prompt construction.
func buildSystemPrompt(input promptInput) string {
	var buf bytes.Buffer
	if err := systemPrompt.Execute(&buf, input); err != nil {
		return systemPromptTemplate
	}
	return strings.TrimSpace(buf.String())
}

// entityCatalog is the YAML form of the supplementary schema document.
type entityCatalog struct {
	Entities []entityInfo `yaml:"entities"`
}

type entityInfo struct {
	Name        string      `yaml:"name"`
	Table       string      `yaml:"table"`
	Description string      `yaml:"description"`
	Fields      []fieldInfo `yaml:"fields"`
}

type fieldInfo struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// loadSchemaDocument reads the supplementary document describing known
// entity types. YAML catalogs are rendered as a list, anything else is used
// verbatim. An unreadable document yields "".
func loadSchemaDocument(path string, logger *slog.Logger) string {
	if path == "" {
		return ""
	}

	content, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("schema document unavailable, using base prompt", "path", path, "error", err)
		return ""
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		var catalog entityCatalog
		if err := yaml.Unmarshal(content, &catalog); err == nil && len(catalog.Entities) > 0 {
			return renderCatalog(catalog)
		}
		logger.Warn("schema document is not an entity catalog, using it as text", "path", path)
	}

	return strings.TrimSpace(string(content))
}

func renderCatalog(catalog entityCatalog) string {
	var b strings.Builder
	for i, e := range catalog.Entities {
		if i > 0 {
			b.WriteString("\n")
		}
		table := e.Table
		if table == "" {
			table = "object_" + strings.ToLower(e.Name)
		}
		b.WriteString("- " + e.Name + " (`" + table + "`)")
		if e.Description != "" {
			b.WriteString(": " + e.Description)
		}
		for _, f := range e.Fields {
			b.WriteString("\n  - `" + f.Name + "`")
			if f.Description != "" {
				b.WriteString(": " + f.Description)
			}
		}
	}
	return b.String()
}

// exampleQuery is a worked SQL example shown to the model.
type exampleQuery struct {
	ID          string
	Title       string
	Description string
	Query       string
}

// loadExampleQueries loads every .sql file in dir. Metadata comes from
// "-- title:" and "-- description:" header comments.
func loadExampleQueries(dir string) ([]*exampleQuery, error) {
	if dir == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read example query directory", goerr.V("dir", dir))
	}

	var examples []*exampleQuery
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		filePath := filepath.Join(dir, entry.Name())
		content, err := os.ReadFile(filePath)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read example query", goerr.V("file", filePath))
		}

		id := strings.TrimSuffix(entry.Name(), ".sql")
		title, description, query := parseExampleQuery(string(content))
		if title == "" {
			title = id
		}
		if query == "" {
			continue
		}

		examples = append(examples, &exampleQuery{
			ID:          id,
			Title:       title,
			Description: description,
			Query:       query,
		})
	}

	sort.Slice(examples, func(i, j int) bool { return examples[i].ID < examples[j].ID })
	return examples, nil
}

func parseExampleQuery(content string) (title, description, query string) {
	var lines []string
	inHeader := true

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)

		if inHeader {
			if v, ok := headerValue(trimmed, "title"); ok {
				title = v
				continue
			}
			if v, ok := headerValue(trimmed, "description"); ok {
				description = v
				continue
			}
			if strings.HasPrefix(trimmed, "--") || trimmed == "" {
				continue
			}
			inHeader = false
		}

		lines = append(lines, line)
	}

	query = strings.TrimSpace(strings.Join(lines, "\n"))
	return
}

func headerValue(line, key string) (string, bool) {
	if !strings.HasPrefix(line, "--") {
		return "", false
	}
	rest := strings.TrimSpace(strings.TrimPrefix(line, "--"))
	if !strings.HasPrefix(rest, key+":") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(rest, key+":")), true
}
