// Package repo 是数据库协作方的窄接口：核心只交出结构化的 DatasetRecord，
// 语句的安全执行（参数化、超时）全部发生在实现内部。
package repo

import (
	"context"

	"github.com/John-Robertt/MRID/internal/domain"
)

// Repository 覆盖且仅覆盖三种语句形态：插入、按 id 更新、按
// (rmr, path, timestamp 前缀) 查找。实现必须尊重传入的 context。
type Repository interface {
	// Insert 插入一条 dataset 记录，返回新记录 id。
	Insert(ctx context.Context, rec domain.DatasetRecord) (string, error)

	// Update 按 id 覆盖既有记录（created_at 不变，updated_at 以 rec 为准）。
	Update(ctx context.Context, id string, rec domain.DatasetRecord) error

	// FindIDs 按 (rmr, path, timestamp 前缀) 查找既有记录 id。
	// tsPrefix 形如 "2006-01-02"（按天定位一次采集）。
	FindIDs(ctx context.Context, rmr, path, tsPrefix string) ([]string, error)
}
