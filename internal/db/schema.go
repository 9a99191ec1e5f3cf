package db

import "fmt"

const schemaTemplate = `
    -- ==========================================================================
    -- CONVERSATION TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS conversation SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS owner ON conversation TYPE string;
    DEFINE FIELD IF NOT EXISTS title ON conversation TYPE string;
    DEFINE FIELD IF NOT EXISTS created_at ON conversation TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS last_updated_at ON conversation TYPE datetime DEFAULT time::now();
    -- Append-only transcript: [{id, role, text, attachment, created_at, is_error}]
    DEFINE FIELD IF NOT EXISTS messages ON conversation TYPE array<object> FLEXIBLE DEFAULT [];
    DEFINE FIELD IF NOT EXISTS active_attachment ON conversation TYPE option<object> FLEXIBLE;

    DEFINE INDEX IF NOT EXISTS conversation_owner ON conversation FIELDS owner;
    DEFINE INDEX IF NOT EXISTS conversation_updated ON conversation FIELDS owner, last_updated_at;

    -- ==========================================================================
    -- DOCUMENT TABLE (ingestion status)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS document SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS name ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS status ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS chunks_done ON document TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS chunks_total ON document TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS error ON document TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS updated_at ON document TYPE datetime DEFAULT time::now();

    -- ==========================================================================
    -- DOC_CHUNK TABLE (retrieval)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS doc_chunk SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS document_id ON doc_chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS position ON doc_chunk TYPE int;
    DEFINE FIELD IF NOT EXISTS content ON doc_chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS embedding ON doc_chunk TYPE array<float>;

    DEFINE INDEX IF NOT EXISTS doc_chunk_document ON doc_chunk FIELDS document_id;
    DEFINE INDEX IF NOT EXISTS doc_chunk_embedding ON doc_chunk FIELDS embedding HNSW DIMENSION %d DIST COSINE TYPE F32;
`

// SchemaSQL returns the schema with the HNSW index sized for dimension.
func SchemaSQL(dimension int) string {
	if dimension <= 0 {
		dimension = 384
	}
	return fmt.Sprintf(schemaTemplate, dimension)
}
