// Package archive keeps crawled posts, comments and task summaries in a SQL
// database. SQLite is the default; Postgres is selected with the postgres
// driver. The schema is managed by embedded goose migrations.
package archive

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"threadcrawl/pkg/crawler"
	"threadcrawl/pkg/enrich"
	"threadcrawl/pkg/logger"
	"threadcrawl/pkg/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Store is the SQL archive. It implements crawler.Writer.
type Store struct {
	db     *sqlx.DB
	driver string
	logger logger.Logger
}

// Open connects to the database and applies pending migrations. For SQLite
// the dsn is a file path; its directory is created when missing.
func Open(ctx context.Context, driver, dsn string, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	var dialect string
	switch driver {
	case DriverSQLite, "":
		driver, dialect = DriverSQLite, "sqlite3"
		if dsn == "" {
			return nil, fmt.Errorf("sqlite archive needs a database path")
		}
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create archive dir: %w", err)
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
		dialect = "postgres"
	default:
		return nil, fmt.Errorf("unsupported archive driver %q", driver)
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect archive: %w", err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	if err := migrate(ctx, db, dialect); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate archive: %w", err)
	}

	log.DebugWithFields("Archive opened", map[string]interface{}{
		"driver": driver,
	})
	return &Store{db: db, driver: driver, logger: log}, nil
}

func migrate(ctx context.Context, db *sqlx.DB, dialect string) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}
	return goose.UpContext(ctx, db.DB, "migrations")
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

type taskRow struct {
	TaskID     string `db:"task_id"`
	Subreddit  string `db:"subreddit"`
	Mode       string `db:"mode"`
	Stage      string `db:"stage"`
	Success    bool   `db:"success"`
	Partial    bool   `db:"partial"`
	Requests   int    `db:"requests"`
	Posts      int    `db:"posts"`
	Comments   int    `db:"comments"`
	Unresolved int    `db:"unresolved"`
	Errors     string `db:"errors"`
	OutputPath string `db:"output_path"`
	StartedAt  int64  `db:"started_at"`
	FinishedAt int64  `db:"finished_at"`
}

type postRow struct {
	Name        string  `db:"name"`
	ID          string  `db:"id"`
	Subreddit   string  `db:"subreddit"`
	Author      string  `db:"author"`
	Title       string  `db:"title"`
	Body        string  `db:"body"`
	URL         string  `db:"url"`
	Permalink   string  `db:"permalink"`
	CreatedUTC  int64   `db:"created_utc"`
	Score       int     `db:"score"`
	UpvoteRatio float64 `db:"upvote_ratio"`
	NumComments int     `db:"num_comments"`
	TreeLoaded  bool    `db:"tree_loaded"`
	Sentiment   *string `db:"sentiment"`
	Language    *string `db:"language"`
	TaskID      string  `db:"task_id"`
}

type commentRow struct {
	Name       string  `db:"name"`
	ID         string  `db:"id"`
	LinkID     string  `db:"link_id"`
	ParentID   string  `db:"parent_id"`
	Author     string  `db:"author"`
	Body       string  `db:"body"`
	CreatedUTC int64   `db:"created_utc"`
	Score      int     `db:"score"`
	Depth      int     `db:"depth"`
	Sentiment  *string `db:"sentiment"`
	Language   *string `db:"language"`
	TaskID     string  `db:"task_id"`
}

const upsertTask = `
	INSERT INTO tasks (task_id, subreddit, mode, stage, success, partial, requests, posts,
		comments, unresolved, errors, output_path, started_at, finished_at)
	VALUES (:task_id, :subreddit, :mode, :stage, :success, :partial, :requests, :posts,
		:comments, :unresolved, :errors, :output_path, :started_at, :finished_at)
	ON CONFLICT (task_id) DO UPDATE SET
		stage = excluded.stage, success = excluded.success, partial = excluded.partial,
		requests = excluded.requests, posts = excluded.posts, comments = excluded.comments,
		unresolved = excluded.unresolved, errors = excluded.errors,
		output_path = excluded.output_path, finished_at = excluded.finished_at`

const upsertPost = `
	INSERT INTO posts (name, id, subreddit, author, title, body, url, permalink, created_utc,
		score, upvote_ratio, num_comments, tree_loaded, sentiment, language, task_id)
	VALUES (:name, :id, :subreddit, :author, :title, :body, :url, :permalink, :created_utc,
		:score, :upvote_ratio, :num_comments, :tree_loaded, :sentiment, :language, :task_id)
	ON CONFLICT (name) DO UPDATE SET
		author = excluded.author, title = excluded.title, body = excluded.body,
		score = excluded.score, upvote_ratio = excluded.upvote_ratio,
		num_comments = excluded.num_comments, tree_loaded = excluded.tree_loaded,
		sentiment = COALESCE(excluded.sentiment, posts.sentiment),
		language = COALESCE(excluded.language, posts.language),
		task_id = excluded.task_id`

const upsertComment = `
	INSERT INTO comments (name, id, link_id, parent_id, author, body, created_utc, score, depth,
		sentiment, language, task_id)
	VALUES (:name, :id, :link_id, :parent_id, :author, :body, :created_utc, :score, :depth,
		:sentiment, :language, :task_id)
	ON CONFLICT (name) DO UPDATE SET
		author = excluded.author, body = excluded.body, score = excluded.score,
		sentiment = COALESCE(excluded.sentiment, comments.sentiment),
		language = COALESCE(excluded.language, comments.language),
		task_id = excluded.task_id`

// Write records the task summary and, for a successful task, upserts its
// posts and comments in one transaction.
func (s *Store) Write(ctx context.Context, res *crawler.Result) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive tx: %w", err)
	}
	defer tx.Rollback()

	row, err := newTaskRow(res)
	if err != nil {
		return err
	}
	if _, err := tx.NamedExecContext(ctx, upsertTask, row); err != nil {
		return fmt.Errorf("archive task: %w", err)
	}

	var posts, comments int
	if res.Success && res.Index != nil {
		if posts, err = s.writePosts(ctx, tx, res); err != nil {
			return err
		}
		if comments, err = s.writeComments(ctx, tx, res); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit archive tx: %w", err)
	}

	s.logger.DebugWithFields("Result archived", map[string]interface{}{
		"task_id":  res.TaskID,
		"posts":    posts,
		"comments": comments,
	})
	return nil
}

func (s *Store) writePosts(ctx context.Context, tx *sqlx.Tx, res *crawler.Result) (int, error) {
	stmt, err := tx.PrepareNamedContext(ctx, upsertPost)
	if err != nil {
		return 0, fmt.Errorf("prepare post upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range res.Index.Roots {
		sentiment, language := annotation(res.Annotations, r.Name)
		row := postRow{
			Name:        r.Name,
			ID:          r.ID,
			Subreddit:   r.Subreddit,
			Author:      r.Author,
			Title:       r.Title,
			Body:        r.Body,
			URL:         r.URL,
			Permalink:   r.Permalink,
			CreatedUTC:  r.CreatedAt.Unix(),
			Score:       r.Score.Score,
			UpvoteRatio: r.Score.UpvoteRatio,
			NumComments: r.NumComments,
			TreeLoaded:  r.Loaded,
			Sentiment:   sentiment,
			Language:    language,
			TaskID:      res.TaskID,
		}
		if _, err := stmt.ExecContext(ctx, row); err != nil {
			return 0, fmt.Errorf("archive post %s: %w", r.Name, err)
		}
	}
	return len(res.Index.Roots), nil
}

func (s *Store) writeComments(ctx context.Context, tx *sqlx.Tx, res *crawler.Result) (int, error) {
	stmt, err := tx.PrepareNamedContext(ctx, upsertComment)
	if err != nil {
		return 0, fmt.Errorf("prepare comment upsert: %w", err)
	}
	defer stmt.Close()

	var n int
	var execErr error
	res.Index.Walk(func(node models.Node) bool {
		c, ok := node.(*models.Comment)
		if !ok {
			return true
		}
		sentiment, language := annotation(res.Annotations, c.Name)
		row := commentRow{
			Name:       c.Name,
			ID:         c.ID,
			LinkID:     c.LinkID,
			ParentID:   c.ParentID,
			Author:     c.Author,
			Body:       c.Body,
			CreatedUTC: c.CreatedAt.Unix(),
			Score:      c.Score.Score,
			Depth:      c.Depth,
			Sentiment:  sentiment,
			Language:   language,
			TaskID:     res.TaskID,
		}
		if _, err := stmt.ExecContext(ctx, row); err != nil {
			execErr = fmt.Errorf("archive comment %s: %w", c.Name, err)
			return false
		}
		n++
		return true
	})
	return n, execErr
}

func newTaskRow(res *crawler.Result) (taskRow, error) {
	list := res.Errors
	if list == nil {
		list = []string{}
	}
	encoded, err := json.Marshal(list)
	if err != nil {
		return taskRow{}, fmt.Errorf("encode task errors: %w", err)
	}
	return taskRow{
		TaskID:     res.TaskID,
		Subreddit:  res.Subreddit,
		Mode:       res.Mode,
		Stage:      string(res.Stage),
		Success:    res.Success,
		Partial:    res.Partial,
		Requests:   res.Requests,
		Posts:      res.Posts,
		Comments:   res.Comments,
		Unresolved: res.Unresolved,
		Errors:     string(encoded),
		OutputPath: res.OutputPath,
		StartedAt:  res.StartedAt.Unix(),
		FinishedAt: res.FinishedAt.Unix(),
	}, nil
}

func annotation(anns map[string]enrich.Annotation, name string) (sentiment, language *string) {
	a, ok := anns[name]
	if !ok {
		return nil, nil
	}
	if a.Sentiment != nil {
		label := a.Sentiment.Label
		sentiment = &label
	}
	if a.Language != "" {
		lang := a.Language
		language = &lang
	}
	return sentiment, language
}

// TaskRecord is an archived task summary.
type TaskRecord struct {
	TaskID    string   `db:"task_id"`
	Subreddit string   `db:"subreddit"`
	Stage     string   `db:"stage"`
	Success   bool     `db:"success"`
	Partial   bool     `db:"partial"`
	Posts     int      `db:"posts"`
	Comments  int      `db:"comments"`
	Errors    []string `db:"-"`
	RawErrors string   `db:"errors"`
}

// Task returns the archived summary of a task.
func (s *Store) Task(ctx context.Context, taskID string) (*TaskRecord, error) {
	var rec TaskRecord
	query := s.db.Rebind(`
		SELECT task_id, subreddit, stage, success, partial, posts, comments, errors
		FROM tasks WHERE task_id = ?`)
	if err := s.db.GetContext(ctx, &rec, query, taskID); err != nil {
		return nil, fmt.Errorf("get task %s: %w", taskID, err)
	}
	if err := json.Unmarshal([]byte(rec.RawErrors), &rec.Errors); err != nil {
		return nil, fmt.Errorf("decode task errors: %w", err)
	}
	return &rec, nil
}

// Counts returns the number of archived posts and comments of a
// subreddit.
func (s *Store) Counts(ctx context.Context, subreddit string) (posts, comments int, err error) {
	query := s.db.Rebind(`SELECT COUNT(*) FROM posts WHERE subreddit = ?`)
	if err = s.db.GetContext(ctx, &posts, query, subreddit); err != nil {
		return 0, 0, fmt.Errorf("count posts: %w", err)
	}
	query = s.db.Rebind(`
		SELECT COUNT(*) FROM comments c
		JOIN posts p ON p.name = c.link_id
		WHERE p.subreddit = ?`)
	if err = s.db.GetContext(ctx, &comments, query, subreddit); err != nil {
		return 0, 0, fmt.Errorf("count comments: %w", err)
	}
	return posts, comments, nil
}

// CommentSentiment returns the stored sentiment label of a comment, or ""
// when none was recorded.
func (s *Store) CommentSentiment(ctx context.Context, name string) (string, error) {
	var label *string
	query := s.db.Rebind(`SELECT sentiment FROM comments WHERE name = ?`)
	if err := s.db.GetContext(ctx, &label, query, name); err != nil {
		return "", fmt.Errorf("get comment %s: %w", name, err)
	}
	if label == nil {
		return "", nil
	}
	return *label, nil
}
