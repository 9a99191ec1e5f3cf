package answer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
	"gopkg.in/yaml.v3"
)

var headingRe = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

// markdown loads a Markdown file as one document per section. YAML
// frontmatter is dropped from the text and kept as metadata, and every
// section starts with its heading path so chunks keep their context.
type markdown struct {
	r io.Reader
}

func newMarkdown(r io.Reader) markdown {
	return markdown{r: r}
}

// Load implements documentloaders.Loader.
func (m markdown) Load(_ context.Context) ([]schema.Document, error) {
	raw, err := io.ReadAll(m.r)
	if err != nil {
		return nil, fmt.Errorf("read markdown: %w", err)
	}

	frontmatter, body := splitFrontmatter(string(raw))
	var docs []schema.Document
	for _, s := range markdownSections(body) {
		text := s.content
		if s.path != "" {
			text = strings.TrimSpace(s.path + "\n" + text)
		}
		if text == "" {
			continue
		}
		meta := map[string]any{"heading_path": s.path}
		if title, ok := frontmatter["title"].(string); ok {
			meta["title"] = title
		}
		docs = append(docs, schema.Document{PageContent: text, Metadata: meta})
	}
	return docs, nil
}

// LoadAndSplit implements documentloaders.Loader.
func (m markdown) LoadAndSplit(ctx context.Context, splitter textsplitter.TextSplitter) ([]schema.Document, error) {
	docs, err := m.Load(ctx)
	if err != nil {
		return nil, err
	}
	return textsplitter.SplitDocuments(splitter, docs)
}

// splitFrontmatter separates a leading YAML block from the body. Malformed
// YAML is treated as absent.
func splitFrontmatter(content string) (map[string]any, string) {
	fm := map[string]any{}
	if !strings.HasPrefix(content, "---\n") {
		return fm, content
	}
	end := strings.Index(content[4:], "\n---")
	if end < 0 {
		return fm, content
	}
	if err := yaml.Unmarshal([]byte(content[4:4+end]), &fm); err != nil {
		fm = map[string]any{}
	}
	rest := content[4+end+4:]
	if i := strings.IndexByte(rest, '\n'); i >= 0 {
		rest = rest[i+1:]
	} else {
		rest = ""
	}
	return fm, rest
}

type mdSection struct {
	path    string
	content string
}

// markdownSections splits on ATX headings. Text before the first heading
// becomes a section with an empty path.
func markdownSections(content string) []mdSection {
	var (
		sections []mdSection
		path     []string
		levels   []int
		current  mdSection
		buf      strings.Builder
	)
	flush := func() {
		current.content = strings.TrimSpace(buf.String())
		if current.content != "" || current.path != "" {
			sections = append(sections, current)
		}
		buf.Reset()
	}

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		match := headingRe.FindStringSubmatch(line)
		if match == nil {
			buf.WriteString(line)
			buf.WriteByte('\n')
			continue
		}

		flush()
		level := len(match[1])
		for len(levels) > 0 && levels[len(levels)-1] >= level {
			path = path[:len(path)-1]
			levels = levels[:len(levels)-1]
		}
		path = append(path, strings.TrimSpace(match[2]))
		levels = append(levels, level)
		current = mdSection{path: strings.Join(path, " > ")}
	}
	flush()
	return sections
}
