package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var uploadNoWait bool

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a document to the answering backend",
	Long: `Upload a PDF, text or Word document for ingestion.

Prints the document id at once and, on a terminal, follows ingestion until
the document is ready to be asked about. Inside a chat, /attach <id> makes
it the active document without uploading it again.

Examples:
  docchat upload paper.pdf
  docchat upload notes.txt --no-wait`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().BoolVar(&uploadNoWait, "no-wait", false, "return once the upload is accepted")
}

func runUpload(cmd *cobra.Command, args []string) error {
	path := args[0]
	ctx := cmd.Context()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	client := getBackend()
	resp, err := client.Upload(ctx, filepath.Base(path), f)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\nDocument id: %s\n", resp.Message, resp.DocumentID)

	if uploadNoWait || !term.IsTerminal(int(os.Stdout.Fd())) {
		return nil
	}
	return RunUploadProgress(client, resp.DocumentID)
}
