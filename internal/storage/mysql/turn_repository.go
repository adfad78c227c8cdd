package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	xerrors "WalletPilot/internal/errors"

	gomysql "github.com/go-sql-driver/mysql"
)

// maxCachedTurns 限制内存仓库保留的记录数量。
const maxCachedTurns = 512

// mysqlDuplicateEntry 是 MySQL 主键冲突的错误号。
const mysqlDuplicateEntry = 1062

// TurnRecord 表示一次对话轮次的落库结构。
type TurnRecord struct {
	ID            string `json:"id"`
	Address       string `json:"address"`
	Message       string `json:"message"`
	Operation     int    `json:"operation"`
	Response      string `json:"response"`
	TransactionID string `json:"transactionId,omitempty"`
	ErrorCode     string `json:"errorCode,omitempty"`
	Model         string `json:"model,omitempty"`
	CreatedAt     int64  `json:"createdAt"`
}

// TurnRepository 抽象对话记录的持久化接口。
type TurnRepository interface {
	Save(ctx context.Context, record TurnRecord) error
	ListLatest(ctx context.Context, limit int) ([]TurnRecord, error)
}

// MemoryTurnRepository 使用本地 JSON Lines 文件保存对话记录，方便本地开发。
type MemoryTurnRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  []TurnRecord
}

// NewMemoryTurnRepository 创建一个基于文件的对话仓库，并恢复已有记录。
func NewMemoryTurnRepository(dataDir string) (*MemoryTurnRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	repo := &MemoryTurnRepository{dataFile: filepath.Join(dataDir, "turns.log")}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Save 以追加写的方式记录对话结果。
func (m *MemoryTurnRepository) Save(_ context.Context, record TurnRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.records {
		if existing.ID == record.ID {
			return xerrors.New(xerrors.CodeConflict, "对话记录已存在", xerrors.WithMetadata("turn_id", record.ID))
		}
	}

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开对话日志失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化对话记录失败: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入对话日志失败: %w", err)
	}

	m.records = append([]TurnRecord{record}, m.records...)
	if len(m.records) > maxCachedTurns {
		m.records = m.records[:maxCachedTurns]
	}
	return nil
}

// ListLatest 返回最近的对话记录，按写入时间倒序排列。
func (m *MemoryTurnRepository) ListLatest(_ context.Context, limit int) ([]TurnRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	results := make([]TurnRecord, limit)
	copy(results, m.records[:limit])
	return results, nil
}

func (m *MemoryTurnRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取对话日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var restored []TurnRecord
	for scanner.Scan() {
		var record TurnRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		restored = append([]TurnRecord{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析对话日志失败: %w", err)
	}

	if len(restored) > maxCachedTurns {
		restored = restored[:maxCachedTurns]
	}
	m.records = restored
	return nil
}

// SQLTurnRepository 使用 MySQL 存储对话记录。
type SQLTurnRepository struct {
	db *sql.DB
}

// NewSQLTurnRepository 创建连接池并执行内嵌迁移。
func NewSQLTurnRepository(ctx context.Context, cfg Config) (*SQLTurnRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLTurnRepository{db: db}, nil
}

const insertTurnSQL = `INSERT INTO chat_turns
    (id, address, message, operation, response, transaction_id, error_code, model, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

const selectLatestTurnsSQL = `SELECT id, address, message, operation, response, transaction_id, error_code, model, created_at
    FROM chat_turns ORDER BY created_at DESC, id DESC LIMIT ?`

// Save 将对话记录写入 MySQL。重复的 ID 返回 CodeConflict。
func (s *SQLTurnRepository) Save(ctx context.Context, record TurnRecord) error {
	if _, err := s.db.ExecContext(ctx, insertTurnSQL,
		record.ID,
		record.Address,
		record.Message,
		record.Operation,
		record.Response,
		record.TransactionID,
		record.ErrorCode,
		record.Model,
		record.CreatedAt,
	); err != nil {
		var mysqlErr *gomysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
			return xerrors.Wrap(xerrors.CodeConflict, err, "对话记录已存在", xerrors.WithMetadata("turn_id", record.ID))
		}
		return fmt.Errorf("写入 MySQL 失败: %w", err)
	}
	return nil
}

// ListLatest 查询最近的若干条对话记录。
func (s *SQLTurnRepository) ListLatest(ctx context.Context, limit int) ([]TurnRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, selectLatestTurnsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("查询对话记录失败: %w", err)
	}
	defer rows.Close()

	var records []TurnRecord
	for rows.Next() {
		var record TurnRecord
		if err := rows.Scan(&record.ID, &record.Address, &record.Message, &record.Operation, &record.Response,
			&record.TransactionID, &record.ErrorCode, &record.Model, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析对话记录失败: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历对话记录失败: %w", err)
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLTurnRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
