//go:build integration

package db

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/docchat/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var testDB *Client

func TestMain(m *testing.M) {
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v2.3.7",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start SurrealDB container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	if host == "" || host == "null" {
		host = "localhost"
	}
	port, err := container.MappedPort(ctx, "8000")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	testDB, err = NewClient(ctx, Config{
		URL:       fmt.Sprintf("ws://%s:%s/rpc", host, port.Port()),
		Namespace: "test",
		Database:  "test",
		Username:  "root",
		Password:  "root",
		AuthLevel: "root",
	}, nil, nil)
	if err != nil {
		log.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := testDB.InitSchema(ctx, 4); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	code := m.Run()

	_ = testDB.Close(ctx)
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func TestConversationLifecycle(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testDB.WipeData(ctx))

	doc := "doc123"
	first := models.NewUserMessage("Hello", &models.AttachmentRef{Name: "a.pdf", DocumentID: &doc}, time.Now())
	id, err := testDB.CreateConversation(ctx, "alice", models.ConversationRecord{
		Title:    "Hello",
		Messages: []models.Message{first},
	})
	require.NoError(t, err)

	require.NoError(t, testDB.AppendMessage(ctx, "alice", id, models.NewModelMessage("Hi there", time.Now())))
	require.NoError(t, testDB.AppendMessage(ctx, "alice", id, models.NewModelMessage("Hi there", time.Now())))

	rec, err := testDB.GetConversation(ctx, "alice", id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "Hello", rec.Title)
	require.Len(t, rec.Messages, 3, "appends are not deduplicated")
	assert.Equal(t, first.ID, rec.Messages[0].ID)
	require.NotNil(t, rec.Messages[0].Attachment)
	assert.Equal(t, "doc123", *rec.Messages[0].Attachment.DocumentID)

	require.NoError(t, testDB.SetActiveAttachment(ctx, "alice", id, &models.AttachmentRef{Name: "b.pdf"}))
	rec, err = testDB.GetConversation(ctx, "alice", id)
	require.NoError(t, err)
	require.NotNil(t, rec.ActiveAttachment)
	assert.Equal(t, "b.pdf", rec.ActiveAttachment.Name)

	require.NoError(t, testDB.SetActiveAttachment(ctx, "alice", id, nil))
	rec, err = testDB.GetConversation(ctx, "alice", id)
	require.NoError(t, err)
	assert.Nil(t, rec.ActiveAttachment)

	require.NoError(t, testDB.DeleteConversation(ctx, "alice", id))
	rec, err = testDB.GetConversation(ctx, "alice", id)
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.ErrorIs(t, testDB.DeleteConversation(ctx, "alice", id), ErrNotFound)
}

func TestConversationOwnerScoping(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testDB.WipeData(ctx))

	id, err := testDB.CreateConversation(ctx, "alice", models.ConversationRecord{Title: "mine"})
	require.NoError(t, err)

	rec, err := testDB.GetConversation(ctx, "bob", id)
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.ErrorIs(t, testDB.AppendMessage(ctx, "bob", id, models.NewModelMessage("x", time.Now())), ErrNotFound)

	list, err := testDB.Summaries(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSubscribeConversationPushesSnapshots(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testDB.WipeData(ctx))

	id, err := testDB.CreateConversation(ctx, "alice", models.ConversationRecord{Title: "live"})
	require.NoError(t, err)

	var mu sync.Mutex
	var got []*models.ConversationRecord
	unsub, err := testDB.SubscribeConversation(ctx, "alice", id, func(rec *models.ConversationRecord, err error) {
		require.NoError(t, err)
		mu.Lock()
		got = append(got, rec)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer unsub()

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(got)
	}
	require.Equal(t, 1, count(), "initial state is pushed on subscribe")

	require.NoError(t, testDB.AppendMessage(ctx, "alice", id, models.NewUserMessage("ping", nil, time.Now())))
	require.Eventually(t, func() bool { return count() >= 2 }, 10*time.Second, 50*time.Millisecond)

	require.NoError(t, testDB.DeleteConversation(ctx, "alice", id))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got[len(got)-1] == nil
	}, 10*time.Second, 50*time.Millisecond)
}

func TestListConversationsPushesSummaries(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testDB.WipeData(ctx))

	var mu sync.Mutex
	var last []models.ConversationSummary
	unsub, err := testDB.ListConversations(ctx, "alice", func(list []models.ConversationSummary, err error) {
		require.NoError(t, err)
		mu.Lock()
		last = list
		mu.Unlock()
	})
	require.NoError(t, err)
	defer unsub()

	_, err = testDB.CreateConversation(ctx, "alice", models.ConversationRecord{Title: "one"})
	require.NoError(t, err)
	_, err = testDB.CreateConversation(ctx, "bob", models.ConversationRecord{Title: "not mine"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(last) == 1 && last[0].Title == "one"
	}, 10*time.Second, 50*time.Millisecond)
}

func TestSearchChunks(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testDB.WipeData(ctx))

	require.NoError(t, testDB.InsertChunks(ctx, []models.DocumentChunk{
		{DocumentID: "a.txt_10", Position: 0, Content: "alpha", Embedding: []float32{1, 0, 0, 0}},
		{DocumentID: "a.txt_10", Position: 1, Content: "beta", Embedding: []float32{0, 1, 0, 0}},
		{DocumentID: "b.txt_20", Position: 0, Content: "other", Embedding: []float32{1, 0, 0, 0}},
	}))

	chunks, err := testDB.SearchChunks(ctx, "a.txt_10", []float32{0.9, 0.1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "alpha", chunks[0].Content)

	require.NoError(t, testDB.DeleteChunks(ctx, "a.txt_10"))
	chunks, err = testDB.SearchChunks(ctx, "a.txt_10", []float32{1, 0, 0, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestDocumentStatus(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testDB.WipeData(ctx))

	require.NoError(t, testDB.SaveDocumentStatus(ctx, "a.pdf_100", "a.pdf", "processing", 1, 4, nil))
	msg := "no text found"
	require.NoError(t, testDB.SaveDocumentStatus(ctx, "a.pdf_100", "a.pdf", "failed", 1, 4, &msg))

	row, err := testDB.GetDocumentStatus(ctx, "a.pdf_100")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "failed", row.Status)
	assert.Equal(t, msg, row.Error)
	assert.Equal(t, 1, row.ChunksDone)

	row, err = testDB.GetDocumentStatus(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, row)
}
