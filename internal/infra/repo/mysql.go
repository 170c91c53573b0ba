package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/John-Robertt/MRID/internal/domain"
)

const dbTimeout = 2 * time.Second

// timestampLayout 是入库时间戳的字符串形态；FindIDs 的前缀匹配依赖它的字典序。
const timestampLayout = "2006-01-02 15:04:05"

// MySQLRepo 用预编译参数化语句实现 Repository。*sql.DB 的生命周期归调用方。
type MySQLRepo struct {
	db         *sql.DB
	stmtInsert *sql.Stmt
	stmtUpdate *sql.Stmt
	stmtFind   *sql.Stmt
}

// NewMySQLRepo 预先准备全部语句；任何一条失败都直接返回错误（不做半初始化）。
func NewMySQLRepo(db *sql.DB) (*MySQLRepo, error) {
	stmtInsert, err := db.Prepare(`INSERT INTO image_datasets
		(id, rmr, series_description, path, timestamp, created_at, updated_at,
		 visit_id, glob, rep_time, bold_reps, slices_per_volume, scanned_file)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("prepare insert：%w", err)
	}

	stmtUpdate, err := db.Prepare(`UPDATE image_datasets
		SET series_description = ?, path = ?, timestamp = ?, updated_at = ?,
		    visit_id = ?, glob = ?, rep_time = ?, bold_reps = ?,
		    slices_per_volume = ?, scanned_file = ?
		WHERE id = ?`)
	if err != nil {
		return nil, fmt.Errorf("prepare update：%w", err)
	}

	stmtFind, err := db.Prepare(`SELECT id FROM image_datasets
		WHERE rmr = ? AND path = ? AND timestamp LIKE CONCAT(?, '%')`)
	if err != nil {
		return nil, fmt.Errorf("prepare find：%w", err)
	}

	return &MySQLRepo{
		db:         db,
		stmtInsert: stmtInsert,
		stmtUpdate: stmtUpdate,
		stmtFind:   stmtFind,
	}, nil
}

// Insert 插入一条记录；id 由本实现生成（uuid）。
func (r *MySQLRepo) Insert(ctx context.Context, rec domain.DatasetRecord) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	id := uuid.NewString()
	_, err := r.stmtInsert.ExecContext(ctx,
		id, rec.RMRNumber, rec.SeriesDescription, rec.Path,
		rec.Timestamp.UTC().Format(timestampLayout),
		rec.CreatedAt.UTC().Format(timestampLayout),
		rec.UpdatedAt.UTC().Format(timestampLayout),
		rec.VisitID, rec.Glob, rec.RepTime, rec.BoldReps,
		rec.SlicesPerVolume, rec.ScannedFile,
	)
	if err != nil {
		return "", fmt.Errorf("repo insert：%w", err)
	}
	return id, nil
}

// Update 按 id 覆盖记录。
func (r *MySQLRepo) Update(ctx context.Context, id string, rec domain.DatasetRecord) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	_, err := r.stmtUpdate.ExecContext(ctx,
		rec.SeriesDescription, rec.Path,
		rec.Timestamp.UTC().Format(timestampLayout),
		rec.UpdatedAt.UTC().Format(timestampLayout),
		rec.VisitID, rec.Glob, rec.RepTime, rec.BoldReps,
		rec.SlicesPerVolume, rec.ScannedFile, id,
	)
	if err != nil {
		return fmt.Errorf("repo update：%w", err)
	}
	return nil
}

// FindIDs 按 (rmr, path, timestamp 前缀) 查找记录 id；前缀作为参数传入，
// 通配符拼接发生在语句内部（CONCAT），核心永远不拼 SQL 文本。
func (r *MySQLRepo) FindIDs(ctx context.Context, rmr, path, tsPrefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := r.stmtFind.QueryContext(ctx, rmr, path, tsPrefix)
	if err != nil {
		return nil, fmt.Errorf("repo find：%w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("repo find scan：%w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo find rows：%w", err)
	}
	return ids, nil
}

// Close 释放预编译语句（不关闭 *sql.DB，它归调用方）。
func (r *MySQLRepo) Close() error {
	for _, s := range []*sql.Stmt{r.stmtInsert, r.stmtUpdate, r.stmtFind} {
		if s != nil {
			_ = s.Close()
		}
	}
	return nil
}
