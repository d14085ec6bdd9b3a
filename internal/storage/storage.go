package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aiwuxian/codelove/internal/models"
)

type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	// 确保目录存在
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("创建数据目录失败: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	// sqlite 单写者
	db.SetMaxOpenConns(1)

	s := &Storage{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化数据库结构失败: %w", err)
	}

	return s, nil
}

func (s *Storage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS stories (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		background_image TEXT,
		heroines TEXT, -- JSON array
		problems TEXT, -- JSON array
		script TEXT, -- JSON array
		ending_routes TEXT, -- JSON object
		default_ending TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS affinities (
		player_id TEXT NOT NULL,
		heroine TEXT NOT NULL,
		value INTEGER NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (player_id, heroine)
	);

	CREATE TABLE IF NOT EXISTS save_slots (
		id TEXT PRIMARY KEY,
		player_id TEXT NOT NULL,
		slot INTEGER NOT NULL,
		story_id TEXT NOT NULL,
		line_index INTEGER NOT NULL,
		heroine_likes TEXT, -- JSON array
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (player_id, slot)
	);

	CREATE TABLE IF NOT EXISTS submissions (
		id TEXT PRIMARY KEY,
		player_id TEXT NOT NULL,
		story_id TEXT NOT NULL,
		problem_id TEXT NOT NULL,
		language_id INTEGER,
		passed INTEGER NOT NULL,
		ok_count INTEGER,
		total INTEGER,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_submission_player ON submissions(player_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}
	return err
}

// Story operations
func (s *Storage) UpsertStory(story *models.Story) error {
	heroinesJSON, _ := json.Marshal(story.Heroines)
	problemsJSON, _ := json.Marshal(story.Problems)
	scriptJSON, _ := json.Marshal(story.Script)
	routesJSON, _ := json.Marshal(story.EndingRoutes)
	if story.CreatedAt.IsZero() {
		story.CreatedAt = time.Now()
	}

	_, err := s.db.Exec(`
		INSERT INTO stories (id, title, background_image, heroines, problems, script, ending_routes, default_ending, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title=excluded.title, background_image=excluded.background_image, heroines=excluded.heroines,
			problems=excluded.problems, script=excluded.script, ending_routes=excluded.ending_routes,
			default_ending=excluded.default_ending
	`, story.ID, story.Title, story.BackgroundImage, string(heroinesJSON), string(problemsJSON),
		string(scriptJSON), string(routesJSON), story.DefaultEnding, story.CreatedAt)

	return err
}

func (s *Storage) GetStory(id models.StoryID) (*models.Story, error) {
	var story models.Story
	var heroinesJSON, problemsJSON, scriptJSON, routesJSON string

	err := s.db.QueryRow(`
		SELECT id, title, background_image, heroines, problems, script, ending_routes, default_ending, created_at
		FROM stories WHERE id = ?
	`, id).Scan(&story.ID, &story.Title, &story.BackgroundImage, &heroinesJSON, &problemsJSON,
		&scriptJSON, &routesJSON, &story.DefaultEnding, &story.CreatedAt)

	if err != nil {
		return nil, notFound(err)
	}

	json.Unmarshal([]byte(heroinesJSON), &story.Heroines)
	json.Unmarshal([]byte(problemsJSON), &story.Problems)
	json.Unmarshal([]byte(scriptJSON), &story.Script)
	json.Unmarshal([]byte(routesJSON), &story.EndingRoutes)

	return &story, nil
}

// GetScript 直接返回存储的剧本 JSON
func (s *Storage) GetScript(id models.StoryID) (json.RawMessage, error) {
	var scriptJSON string
	err := s.db.QueryRow(`SELECT script FROM stories WHERE id = ?`, id).Scan(&scriptJSON)
	if err != nil {
		return nil, notFound(err)
	}
	return json.RawMessage(scriptJSON), nil
}

// ListStories 故事列表（不含剧本）
func (s *Storage) ListStories() ([]models.StoryMeta, error) {
	rows, err := s.db.Query(`
		SELECT id, title, background_image, heroines, problems
		FROM stories
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stories []models.StoryMeta
	for rows.Next() {
		var meta models.StoryMeta
		var heroinesJSON, problemsJSON string
		if err := rows.Scan(&meta.ID, &meta.Title, &meta.BackgroundImage, &heroinesJSON, &problemsJSON); err != nil {
			return nil, err
		}
		json.Unmarshal([]byte(heroinesJSON), &meta.Heroines)
		json.Unmarshal([]byte(problemsJSON), &meta.Problems)
		stories = append(stories, meta)
	}

	return stories, rows.Err()
}

// Affinity operations
func (s *Storage) GetAffinity(playerID, heroine string) (int, error) {
	var value int
	err := s.db.QueryRow(`
		SELECT value FROM affinities WHERE player_id = ? AND heroine = ?
	`, playerID, heroine).Scan(&value)
	if err != nil {
		return 0, notFound(err)
	}
	return value, nil
}

func (s *Storage) SetAffinity(playerID, heroine string, value int) error {
	_, err := s.db.Exec(`
		INSERT INTO affinities (player_id, heroine, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(player_id, heroine) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at
	`, playerID, heroine, value, time.Now())
	return err
}

// UpdateAffinity 在一个事务里读取、计算并写回好感度，没有记录时从 start 开始
func (s *Storage) UpdateAffinity(playerID, heroine string, start int, apply func(int) int) (before, after int, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	err = tx.QueryRow(`
		SELECT value FROM affinities WHERE player_id = ? AND heroine = ?
	`, playerID, heroine).Scan(&before)
	if errors.Is(err, sql.ErrNoRows) {
		before, err = start, nil
	}
	if err != nil {
		return 0, 0, err
	}

	after = apply(before)
	if _, err = tx.Exec(`
		INSERT INTO affinities (player_id, heroine, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(player_id, heroine) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at
	`, playerID, heroine, after, time.Now()); err != nil {
		return 0, 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, 0, err
	}
	return before, after, nil
}

func (s *Storage) ListAffinities(playerID string) ([]models.HeroineLike, error) {
	rows, err := s.db.Query(`
		SELECT heroine, value FROM affinities WHERE player_id = ? ORDER BY heroine
	`, playerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var likes []models.HeroineLike
	for rows.Next() {
		var like models.HeroineLike
		if err := rows.Scan(&like.Heroine, &like.LikeValue); err != nil {
			return nil, err
		}
		likes = append(likes, like)
	}
	return likes, rows.Err()
}

// SaveSlot operations
func (s *Storage) UpsertSaveSlot(save *models.SaveSlot) error {
	likesJSON, _ := json.Marshal(save.HeroineLikes)
	now := time.Now()
	if save.CreatedAt.IsZero() {
		save.CreatedAt = now
	}
	save.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO save_slots (id, player_id, slot, story_id, line_index, heroine_likes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(player_id, slot) DO UPDATE SET
			story_id=excluded.story_id, line_index=excluded.line_index,
			heroine_likes=excluded.heroine_likes, updated_at=excluded.updated_at
	`, save.ID, save.PlayerID, save.Slot, save.StoryID, save.LineIndex, string(likesJSON), save.CreatedAt, save.UpdatedAt)

	return err
}

func (s *Storage) GetSaveSlot(playerID string, slot int) (*models.SaveSlot, error) {
	var save models.SaveSlot
	var likesJSON string

	err := s.db.QueryRow(`
		SELECT id, player_id, slot, story_id, line_index, heroine_likes, created_at, updated_at
		FROM save_slots WHERE player_id = ? AND slot = ?
	`, playerID, slot).Scan(&save.ID, &save.PlayerID, &save.Slot, &save.StoryID, &save.LineIndex,
		&likesJSON, &save.CreatedAt, &save.UpdatedAt)

	if err != nil {
		return nil, notFound(err)
	}

	json.Unmarshal([]byte(likesJSON), &save.HeroineLikes)
	return &save, nil
}

func (s *Storage) ListSaveSlots(playerID string) ([]models.SaveSlot, error) {
	rows, err := s.db.Query(`
		SELECT id, player_id, slot, story_id, line_index, heroine_likes, created_at, updated_at
		FROM save_slots WHERE player_id = ?
		ORDER BY slot
	`, playerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var saves []models.SaveSlot
	for rows.Next() {
		var save models.SaveSlot
		var likesJSON string
		err := rows.Scan(&save.ID, &save.PlayerID, &save.Slot, &save.StoryID, &save.LineIndex,
			&likesJSON, &save.CreatedAt, &save.UpdatedAt)
		if err != nil {
			continue
		}
		json.Unmarshal([]byte(likesJSON), &save.HeroineLikes)
		saves = append(saves, save)
	}

	return saves, nil
}

func (s *Storage) DeleteSaveSlot(playerID string, slot int) error {
	_, err := s.db.Exec(`DELETE FROM save_slots WHERE player_id = ? AND slot = ?`, playerID, slot)
	return err
}

// Submission operations
func (s *Storage) CreateSubmission(sub *models.Submission) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO submissions (id, player_id, story_id, problem_id, language_id, passed, ok_count, total, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sub.ID, sub.PlayerID, sub.StoryID, sub.ProblemID, sub.LanguageID, sub.Passed, sub.OKCount, sub.Total, sub.CreatedAt)
	return err
}

func (s *Storage) ListSubmissions(playerID string) ([]models.Submission, error) {
	rows, err := s.db.Query(`
		SELECT id, player_id, story_id, problem_id, language_id, passed, ok_count, total, created_at
		FROM submissions WHERE player_id = ?
		ORDER BY created_at DESC
	`, playerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []models.Submission
	for rows.Next() {
		var sub models.Submission
		err := rows.Scan(&sub.ID, &sub.PlayerID, &sub.StoryID, &sub.ProblemID, &sub.LanguageID,
			&sub.Passed, &sub.OKCount, &sub.Total, &sub.CreatedAt)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
