package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/raphaelgruber/docchat/internal/backend"
	"github.com/raphaelgruber/docchat/internal/chat"
	"github.com/raphaelgruber/docchat/internal/models"
)

const replHelp = `Type a message to ask a question. Commands:
  /new              start a new chat
  /list             list your conversations
  /open <n|id>      open a conversation from /list, by number or id
  /delete [n|id]    delete a conversation (default: the open one)
  /attach <file|id> upload a document, or use one from docchat upload
  /forget           forget the attached document
  /help             show this help
  /quit             leave`

// uploader sends a document to the answering backend and follows its
// ingestion.
type uploader interface {
	Upload(ctx context.Context, name string, r io.Reader) (*backend.UploadResponse, error)
	statusPoller
}

// repl drives the chat controllers from typed lines and prints what they
// publish. Output may arrive from store pushes at any time.
type repl struct {
	out     io.Writer
	theme   Theme
	list    *chat.ListController
	active  *chat.ActiveController
	uploads uploader
	logger  *slog.Logger

	mu      sync.Mutex
	shownID string
	shown   int
	pending bool
	listed  []models.ConversationSummary

	// Ingestion watchers run on bg until close.
	pollEvery time.Duration
	bg        context.Context
	cancel    context.CancelFunc
	watchers  sync.WaitGroup
}

func newREPL(out io.Writer, list *chat.ListController, active *chat.ActiveController, uploads uploader, logger *slog.Logger) *repl {
	if logger == nil {
		logger = slog.Default()
	}
	bg, cancel := context.WithCancel(context.Background())
	return &repl{
		out:       out,
		theme:     defaultTheme,
		list:      list,
		active:    active,
		uploads:   uploads,
		logger:    logger.With("component", "repl"),
		pollEvery: pollInterval,
		bg:        bg,
		cancel:    cancel,
	}
}

// close stops any ingestion watchers and waits for them.
func (r *repl) close() {
	r.cancel()
	r.watchers.Wait()
}

// bind starts printing transcript changes and notices. The returned
// function stops it.
func (r *repl) bind(notices *chat.Notices) func() {
	offView := r.active.OnChange(r.render)
	offNotice := notices.OnPost(r.notice)
	return func() {
		offView()
		offNotice()
	}
}

// handle runs one input line. It reports whether the user asked to leave.
func (r *repl) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		r.send(ctx, line)
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		r.println(replHelp)
	case "/new":
		r.active.NewChat()
	case "/list":
		r.listConversations()
	case "/open":
		id, err := r.resolve(arg, false)
		if err != nil {
			r.printErr(err)
			return false
		}
		if err := r.active.Select(ctx, id); err != nil {
			r.printErr(err)
		}
	case "/delete":
		id, err := r.resolve(arg, true)
		if err != nil {
			r.printErr(err)
			return false
		}
		if err := r.active.Delete(ctx, id); err != nil {
			r.printErr(err)
			return false
		}
		r.println(r.theme.hintStyle().Render("Deleted " + id))
	case "/attach":
		r.attach(ctx, arg)
	case "/forget":
		if r.active.View().Attachment == nil {
			r.println(r.theme.hintStyle().Render("No document attached."))
			return false
		}
		if err := r.active.Clear(ctx); err != nil {
			r.logger.Debug("clear failed", "error", err)
		}
	default:
		r.printErr(fmt.Errorf("unknown command %s, try /help", cmd))
	}
	return false
}

func (r *repl) send(ctx context.Context, text string) {
	err := r.active.Send(ctx, text)
	switch {
	case err == nil:
	case errors.Is(err, chat.ErrSendInFlight), errors.Is(err, chat.ErrNotSignedIn), errors.Is(err, chat.ErrEmptyMessage):
		r.printErr(err)
	default:
		// The failure is already in the transcript.
		r.logger.Debug("send failed", "error", err)
	}
}

func (r *repl) listConversations() {
	summaries := r.list.Summaries()
	r.mu.Lock()
	r.listed = summaries
	r.mu.Unlock()

	var b strings.Builder
	printSummaries(&b, summaries)
	r.print(b.String())
}

// resolve turns a /list number or a conversation id into an id. With
// allowCurrent, an empty argument means the open conversation.
func (r *repl) resolve(arg string, allowCurrent bool) (string, error) {
	if arg == "" {
		if id := r.active.View().ID; allowCurrent && id != "" {
			return id, nil
		}
		return "", errors.New("which conversation? pass a number from /list or an id")
	}
	if n, err := strconv.Atoi(arg); err == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		if n < 1 || n > len(r.listed) {
			return "", fmt.Errorf("no conversation #%d, run /list first", n)
		}
		return r.listed[n-1].ID, nil
	}
	return arg, nil
}

func (r *repl) attach(ctx context.Context, arg string) {
	if arg == "" {
		r.printErr(errors.New("usage: /attach <file|id>"))
		return
	}
	f, err := os.Open(arg)
	if errors.Is(err, fs.ErrNotExist) {
		r.attachExisting(ctx, arg, err)
		return
	}
	if err != nil {
		r.printErr(err)
		return
	}
	defer f.Close()

	name := filepath.Base(arg)
	ref := models.AttachmentRef{Name: name, MimeType: mimeType(name)}
	r.active.Stage(&ref)
	r.println(r.theme.hintStyle().Render("Uploading " + name + "..."))

	resp, err := r.uploads.Upload(ctx, name, f)
	if err != nil {
		r.active.Stage(nil)
		r.printErr(fmt.Errorf("upload failed: %s", backend.Detail(err)))
		return
	}
	r.follow(ctx, ref, resp.DocumentID)
}

// attachExisting attaches a document uploaded earlier, by id. openErr is
// reported when the backend does not know the id either.
func (r *repl) attachExisting(ctx context.Context, documentID string, openErr error) {
	status, err := r.uploads.DocumentStatus(ctx, documentID)
	var apiErr *backend.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound:
		r.printErr(openErr)
		return
	case err != nil:
		r.printErr(fmt.Errorf("look up document: %s", backend.Detail(err)))
		return
	case status.Status == backend.DocumentFailed:
		r.printErr(fmt.Errorf("document %s failed to process: %s", documentID, status.Error))
		return
	}

	name := status.Name
	if name == "" {
		name = documentID
	}
	ref := models.AttachmentRef{Name: name, MimeType: mimeType(name)}
	r.active.Stage(&ref)
	r.follow(ctx, ref, documentID)
}

// follow makes ref the active document and attaches documentID to it once
// ingestion is done. Until then questions are answered without it.
func (r *repl) follow(ctx context.Context, ref models.AttachmentRef, documentID string) {
	if err := r.active.Attach(ctx, ref); err != nil {
		r.logger.Debug("attach failed", "error", err)
		return
	}
	r.println(r.theme.hintStyle().Render(fmt.Sprintf("Processing %s...", ref.Name)))

	r.watchers.Add(1)
	go func() {
		defer r.watchers.Done()
		r.awaitIngestion(ref, documentID)
	}()
}

// awaitIngestion polls the backend until documentID is ready or failed.
func (r *repl) awaitIngestion(ref models.AttachmentRef, documentID string) {
	ticker := time.NewTicker(r.pollEvery)
	defer ticker.Stop()

	for {
		status, err := r.uploads.DocumentStatus(r.bg, documentID)
		var apiErr *backend.APIError
		switch {
		case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound:
			r.ingestionFailed(ref, backend.Detail(err))
			return
		case err != nil:
			if r.bg.Err() != nil {
				return
			}
			r.logger.Debug("document status failed", "document", documentID, "error", err)
		case status.Status == backend.DocumentReady:
			r.ingestionReady(ref, documentID)
			return
		case status.Status == backend.DocumentFailed:
			r.ingestionFailed(ref, status.Error)
			return
		}

		select {
		case <-r.bg.Done():
			return
		case <-ticker.C:
		}
	}
}

// awaiting reports whether ref is still the active, not yet retrievable
// document. The user may have attached another file or switched chats.
func (r *repl) awaiting(ref models.AttachmentRef) bool {
	cur := r.active.View().Attachment
	return cur != nil && cur.Name == ref.Name && !cur.Retrievable()
}

func (r *repl) ingestionReady(ref models.AttachmentRef, documentID string) {
	if !r.awaiting(ref) {
		r.logger.Debug("document ready after it was replaced", "document", documentID)
		return
	}
	ref.DocumentID = &documentID
	if err := r.active.Attach(r.bg, ref); err != nil {
		r.logger.Debug("attach failed", "error", err)
		return
	}
	r.println(r.theme.completedStyle().Render(fmt.Sprintf("Attached %s. Questions now use this document.", ref.Name)))
}

func (r *repl) ingestionFailed(ref models.AttachmentRef, detail string) {
	r.active.Stage(nil)
	if detail == "" {
		detail = "unknown error"
	}
	r.println(r.theme.errorStyle().Render(fmt.Sprintf("! processing %s failed: %s", ref.Name, detail)))
	if !r.awaiting(ref) {
		return
	}
	if err := r.active.Clear(r.bg); err != nil {
		r.logger.Debug("clear failed", "error", err)
	}
}

// render prints messages the user has not seen yet. Switching to another
// conversation prints its transcript from the start.
func (r *repl) render(v chat.View) {
	r.mu.Lock()
	defer r.mu.Unlock()

	adopted := r.shownID == "" && v.ID != "" && v.Pending
	if (v.ID != r.shownID && !adopted) || len(v.Messages) < r.shown {
		r.shown = 0
		switch {
		case v.ID != "":
			r.print(r.theme.statusStyle().Render("── "+v.ID+" ──") + "\n")
		case r.shownID != "":
			r.print(r.theme.statusStyle().Render("── new chat ──") + "\n")
		}
	}
	r.shownID = v.ID

	for _, m := range v.Messages[r.shown:] {
		r.print(r.formatMessage(m))
	}
	r.shown = len(v.Messages)

	if v.Pending && !r.pending {
		r.print(r.theme.hintStyle().Render("thinking...") + "\n")
	}
	r.pending = v.Pending
}

func (r *repl) formatMessage(m models.Message) string {
	switch {
	case m.Role == models.RoleUser:
		line := r.theme.userStyle().Render("you") + "  " + m.Text
		if m.Attachment != nil {
			line += " " + r.theme.hintStyle().Render("(with "+m.Attachment.Name+")")
		}
		return line + "\n"
	case m.IsError:
		return r.theme.errorStyle().Render("docchat  "+m.Text) + "\n"
	default:
		return r.theme.statusStyle().Render("docchat") + "  " + m.Text + "\n"
	}
}

func (r *repl) notice(n chat.Notice) {
	if n.Level == chat.NoticeError {
		r.println(r.theme.errorStyle().Render("! " + n.Text))
		return
	}
	r.println(r.theme.hintStyle().Render(n.Text))
}

func (r *repl) printErr(err error) {
	r.println(r.theme.errorStyle().Render("Error: " + err.Error()))
}

func (r *repl) println(s string) {
	r.print(s + "\n")
}

func (r *repl) print(s string) {
	if _, err := io.WriteString(r.out, s); err != nil {
		r.logger.Debug("write failed", "error", err)
	}
}

func mimeType(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
