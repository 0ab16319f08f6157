package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/intervu-backend/internal/model"
)

const questionColumns = `id, field, level, type, format, difficulty, points, content,
	options, correct_index, keywords, created_at`

// QuestionFilter narrows a question bank listing. Empty fields match everything.
type QuestionFilter struct {
	Field  string
	Level  string
	Type   model.QuestionType
	Format model.QuestionFormat
}

// QuestionRepository handles question bank data access.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// ListPool returns every bank question for a field and level with the
// given category and format, ordered by creation time.
func (r *QuestionRepository) ListPool(ctx context.Context, field, level string, qType model.QuestionType, format model.QuestionFormat) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+questionColumns+` FROM questions
		 WHERE field = $1 AND level = $2 AND type = $3 AND format = $4
		 ORDER BY created_at, id`,
		field, level, qType, format,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanQuestions(rows)
}

// List returns one page of the bank and the total match count.
func (r *QuestionRepository) List(ctx context.Context, f QuestionFilter, limit, offset int) ([]model.Question, int, error) {
	const where = `WHERE ($1 = '' OR field = $1)
		   AND ($2 = '' OR level = $2)
		   AND ($3 = '' OR type = $3)
		   AND ($4 = '' OR format = $4)`

	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM questions `+where,
		f.Field, f.Level, string(f.Type), string(f.Format),
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+questionColumns+` FROM questions `+where+`
		 ORDER BY created_at DESC, id
		 LIMIT $5 OFFSET $6`,
		f.Field, f.Level, string(f.Type), string(f.Format), limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	questions, err := scanQuestions(rows)
	return questions, total, err
}

// Create inserts a new question.
func (r *QuestionRepository) Create(ctx context.Context, q *model.Question) error {
	options, keywords, err := marshalQuestionLists(q)
	if err != nil {
		return err
	}
	return r.pool.QueryRow(ctx,
		`INSERT INTO questions (field, level, type, format, difficulty, points, content, options, correct_index, keywords)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id, created_at`,
		q.Field, q.Level, q.Type, q.Format, q.Difficulty, q.Points, q.Content,
		options, q.CorrectIndex, keywords,
	).Scan(&q.ID, &q.CreatedAt)
}

// BulkCreate inserts many questions in one transaction.
func (r *QuestionRepository) BulkCreate(ctx context.Context, questions []model.Question) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for i := range questions {
		q := &questions[i]
		options, keywords, err := marshalQuestionLists(q)
		if err != nil {
			return err
		}
		batch.Queue(
			`INSERT INTO questions (field, level, type, format, difficulty, points, content, options, correct_index, keywords)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			q.Field, q.Level, q.Type, q.Format, q.Difficulty, q.Points, q.Content,
			options, q.CorrectIndex, keywords,
		)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert questions: %w", err)
	}
	return tx.Commit(ctx)
}

func scanQuestions(rows pgx.Rows) ([]model.Question, error) {
	var questions []model.Question
	for rows.Next() {
		var (
			q        model.Question
			options  []byte
			keywords []byte
		)
		if err := rows.Scan(&q.ID, &q.Field, &q.Level, &q.Type, &q.Format, &q.Difficulty,
			&q.Points, &q.Content, &options, &q.CorrectIndex, &keywords, &q.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(options, &q.Options); err != nil {
			return nil, fmt.Errorf("unmarshal options: %w", err)
		}
		if err := json.Unmarshal(keywords, &q.Keywords); err != nil {
			return nil, fmt.Errorf("unmarshal keywords: %w", err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func marshalQuestionLists(q *model.Question) ([]byte, []byte, error) {
	options := q.Options
	if options == nil {
		options = []string{}
	}
	keywords := q.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	ob, err := json.Marshal(options)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal options: %w", err)
	}
	kb, err := json.Marshal(keywords)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal keywords: %w", err)
	}
	return ob, kb, nil
}
