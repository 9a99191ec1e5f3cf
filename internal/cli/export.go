package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/raphaelgruber/docchat/internal/models"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var exportCmd = &cobra.Command{
	Use:   "export <conversation-id> [path]",
	Short: "Export a conversation to Markdown",
	Long: `Export a conversation to a Markdown file for backup or sharing.

Metadata is written as YAML frontmatter. Without a path, or with "-",
the Markdown goes to stdout. A directory path gets <conversation-id>.md.

Examples:
  docchat export 3f6c1c9e-5b1a-4c1e-9f0e-2a7d8e4b1c55
  docchat export 3f6c1c9e-5b1a-4c1e-9f0e-2a7d8e4b1c55 ./backup`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runExport,
}

// exportFrontmatter is the YAML header of an exported conversation.
type exportFrontmatter struct {
	ID            string    `yaml:"id"`
	Title         string    `yaml:"title"`
	Owner         string    `yaml:"owner"`
	CreatedAt     time.Time `yaml:"created_at"`
	LastUpdatedAt time.Time `yaml:"last_updated_at"`
	Messages      int       `yaml:"messages"`
	Document      string    `yaml:"document,omitempty"`
	DocumentID    string    `yaml:"document_id,omitempty"`
}

func runExport(cmd *cobra.Command, args []string) error {
	id := args[0]
	ctx := cmd.Context()

	owner, err := currentUser()
	if err != nil {
		return err
	}
	st, err := getStore(ctx)
	if err != nil {
		return err
	}

	rec, err := fetchRecord(ctx, st, owner, id)
	if err != nil {
		return err
	}

	content, err := renderMarkdown(rec)
	if err != nil {
		return err
	}

	if len(args) == 1 || args[1] == "-" {
		_, err := cmd.OutOrStdout().Write(content)
		return err
	}

	path := args[1]
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, rec.ID+".md")
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %d messages to %s\n", len(rec.Messages), path)
	return nil
}

// renderMarkdown formats a conversation as frontmatter followed by the transcript.
func renderMarkdown(rec *models.ConversationRecord) ([]byte, error) {
	fm := exportFrontmatter{
		ID:            rec.ID,
		Title:         rec.Title,
		Owner:         rec.OwnerID,
		CreatedAt:     rec.CreatedAt.UTC(),
		LastUpdatedAt: rec.LastUpdatedAt.UTC(),
		Messages:      len(rec.Messages),
	}
	if a := rec.ActiveAttachment; a != nil {
		fm.Document = a.Name
		if a.DocumentID != nil {
			fm.DocumentID = *a.DocumentID
		}
	}

	header, err := yaml.Marshal(fm)
	if err != nil {
		return nil, fmt.Errorf("marshal frontmatter: %w", err)
	}

	var b bytes.Buffer
	b.WriteString("---\n")
	b.Write(header)
	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "# %s\n", rec.Title)

	for _, m := range rec.Messages {
		author := "Assistant"
		if m.Role == models.RoleUser {
			author = "You"
		}
		fmt.Fprintf(&b, "\n**%s** · %s\n\n", author, m.CreatedAt.UTC().Format(time.DateTime))
		if m.Attachment != nil {
			fmt.Fprintf(&b, "_Attached: %s_\n\n", m.Attachment.Name)
		}
		if m.IsError {
			fmt.Fprintf(&b, "> %s\n", m.Text)
			continue
		}
		fmt.Fprintf(&b, "%s\n", m.Text)
	}
	return b.Bytes(), nil
}
