package vectordb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PgvectorRepository 基于Postgres pgvector扩展的向量仓库实现
// 利用<=>余弦距离算子做近邻查询，向量列可空
type PgvectorRepository struct {
	pool      *pgxpool.Pool
	dimension int
}

// NewPgvectorRepository 创建pgvector向量仓库
// Path字段承载Postgres连接串
func NewPgvectorRepository(config Config) (Repository, error) {
	if config.Dimension <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive")
	}
	if config.Path == "" {
		return nil, fmt.Errorf("pgvector repository requires a connection string")
	}

	pool, err := pgxpool.New(context.Background(), config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	repo := &PgvectorRepository{
		pool:      pool,
		dimension: config.Dimension,
	}

	if config.CreateIfNotExists {
		if err := repo.initialize(); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return repo, nil
}

// initialize 启用pgvector扩展并建表建索引
func (r *PgvectorRepository) initialize() error {
	ctx := context.Background()

	if _, err := r.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %v", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			file_name TEXT,
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			start_char INTEGER NOT NULL,
			end_char INTEGER NOT NULL,
			embedding vector(%d),
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, r.dimension)

	if _, err := r.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create chunks table: %v", err)
	}

	if _, err := r.pool.Exec(ctx,
		"CREATE INDEX IF NOT EXISTS chunks_document_id_idx ON chunks (document_id)"); err != nil {
		return fmt.Errorf("failed to create document index: %v", err)
	}

	createIndex := `
		CREATE INDEX IF NOT EXISTS chunks_embedding_idx
		ON chunks
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`

	if _, err := r.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create vector index: %v", err)
	}

	return nil
}

// AddBatch 原子地写入一个文档的全部分块
// 同一事务内先删除涉及文档的旧分块再插入，提交前对外不可见
func (r *PgvectorRepository) AddBatch(chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	ctx := context.Background()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	docIDs := make([]string, 0, 1)
	seen := make(map[string]bool)
	for i := range chunks {
		if chunks[i].ID == "" {
			return ErrInvalidID
		}
		if chunks[i].HasEmbedding() {
			if err := ValidateVector(chunks[i].Vector, r.dimension); err != nil {
				return err
			}
		}
		if chunks[i].CreatedAt.IsZero() {
			chunks[i].CreatedAt = time.Now()
		}
		if !seen[chunks[i].DocumentID] {
			seen[chunks[i].DocumentID] = true
			docIDs = append(docIDs, chunks[i].DocumentID)
		}
	}

	if _, err := tx.Exec(ctx, "DELETE FROM chunks WHERE document_id = ANY($1)", docIDs); err != nil {
		return fmt.Errorf("failed to delete previous chunks: %v", err)
	}

	stmt := `
		INSERT INTO chunks (id, document_id, file_name, chunk_index, content, start_char, end_char, embedding, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	for _, c := range chunks {
		var embedding interface{}
		if c.HasEmbedding() {
			embedding = pgvector.NewVector(c.Vector)
		}

		if _, err := tx.Exec(ctx, stmt,
			c.ID, c.DocumentID, c.FileName, c.Index, c.Content,
			c.Start, c.End, embedding, c.Metadata, c.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %v", c.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %v", err)
	}

	return nil
}

// Get 获取单个分块
func (r *PgvectorRepository) Get(id string) (Chunk, error) {
	row := r.pool.QueryRow(context.Background(), `
		SELECT id, document_id, file_name, chunk_index, content, start_char, end_char, embedding, metadata, created_at
		FROM chunks WHERE id = $1`, id)

	chunk, err := scanChunk(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Chunk{}, ErrChunkNotFound
		}
		return Chunk{}, fmt.Errorf("failed to get chunk: %v", err)
	}
	return chunk, nil
}

// MissingEmbedding 列出尚无向量的分块
func (r *PgvectorRepository) MissingEmbedding(documentID string) ([]Chunk, error) {
	ctx := context.Background()

	query := `
		SELECT id, document_id, file_name, chunk_index, content, start_char, end_char, embedding, metadata, created_at
		FROM chunks WHERE embedding IS NULL`
	args := []interface{}{}
	if documentID != "" {
		query += " AND document_id = $1"
		args = append(args, documentID)
	}
	query += " ORDER BY document_id, chunk_index"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %v", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %v", err)
		}
		chunks = append(chunks, chunk)
	}

	return chunks, rows.Err()
}

// SetEmbedding 为分块写入向量
func (r *PgvectorRepository) SetEmbedding(id string, vector []float32) error {
	if err := ValidateVector(vector, r.dimension); err != nil {
		return err
	}

	tag, err := r.pool.Exec(context.Background(),
		"UPDATE chunks SET embedding = $2 WHERE id = $1", id, pgvector.NewVector(vector))
	if err != nil {
		return fmt.Errorf("failed to set embedding: %v", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrChunkNotFound
	}

	return nil
}

// Search 相似度搜索
// pgvector不容忍维度不匹配的查询向量，此时直接返回错误
func (r *PgvectorRepository) Search(vector []float32, filter SearchFilter) ([]SearchResult, error) {
	if err := ValidateVector(vector, r.dimension); err != nil {
		return nil, err
	}

	maxResults := filter.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultSearchFilter().MaxResults
	}

	query := `
		SELECT id, document_id, file_name, chunk_index, content, start_char, end_char, embedding, metadata, created_at,
		       embedding <=> $1 AS distance
		FROM chunks
		WHERE embedding IS NOT NULL`
	args := []interface{}{pgvector.NewVector(vector)}

	if len(filter.DocumentIDs) > 0 {
		query += " AND document_id = ANY($2)"
		args = append(args, filter.DocumentIDs)
	}

	query += fmt.Sprintf(" ORDER BY distance ASC, chunk_index ASC, created_at ASC LIMIT %d", maxResults)

	rows, err := r.pool.Query(context.Background(), query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %v", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var (
			c        Chunk
			emb      pgvector.Vector
			distance float64
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.FileName, &c.Index, &c.Content,
			&c.Start, &c.End, &emb, &c.Metadata, &c.CreatedAt, &distance); err != nil {
			return nil, fmt.Errorf("failed to scan row: %v", err)
		}
		c.Vector = emb.Slice()

		score := 1.0 - float32(distance)
		if score < filter.MinScore {
			continue
		}

		results = append(results, SearchResult{
			Chunk:    c,
			Score:    score,
			Distance: float32(distance),
		})
	}

	return results, rows.Err()
}

// Delete 删除单个分块
func (r *PgvectorRepository) Delete(id string) error {
	tag, err := r.pool.Exec(context.Background(), "DELETE FROM chunks WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete chunk: %v", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrChunkNotFound
	}
	return nil
}

// DeleteByDocumentID 删除指定文档的所有分块
func (r *PgvectorRepository) DeleteByDocumentID(documentID string) error {
	_, err := r.pool.Exec(context.Background(),
		"DELETE FROM chunks WHERE document_id = $1", documentID)
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %v", err)
	}
	return nil
}

// Count 获取分块总数
func (r *PgvectorRepository) Count() (int, error) {
	var count int
	err := r.pool.QueryRow(context.Background(), "SELECT COUNT(*) FROM chunks").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %v", err)
	}
	return count, nil
}

// GetDimension 返回向量维数
func (r *PgvectorRepository) GetDimension() int {
	return r.dimension
}

// Close 关闭仓库
func (r *PgvectorRepository) Close() error {
	if r.pool != nil {
		r.pool.Close()
	}
	return nil
}

// rowScanner 兼容pgx.Row和pgx.Rows的扫描接口
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanChunk 从查询结果扫描单个分块
func scanChunk(row rowScanner) (Chunk, error) {
	var (
		c   Chunk
		emb *pgvector.Vector
	)
	if err := row.Scan(&c.ID, &c.DocumentID, &c.FileName, &c.Index, &c.Content,
		&c.Start, &c.End, &emb, &c.Metadata, &c.CreatedAt); err != nil {
		return Chunk{}, err
	}
	if emb != nil {
		c.Vector = emb.Slice()
	}
	return c, nil
}

// 在包初始化时注册pgvector实现
func init() {
	RegisterRepository("pgvector", NewPgvectorRepository)
}
