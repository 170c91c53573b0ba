package domain

import "time"

// DatasetRecord 是交给数据库协作方的结构化记录。
//
// 约束（对应改造目标）：
// - 核心只产出该结构体，永远不拼接 SQL 文本
// - 字段与三种语句形态一一对应：insert / update-by-id / select-by(rmr, path, timestamp 前缀)
type DatasetRecord struct {
	RMRNumber         string
	SeriesDescription string
	Path              string
	Timestamp         time.Time

	CreatedAt time.Time
	UpdatedAt time.Time

	// VisitID 允许为 0（尚未关联 visit 时）。
	VisitID int64

	// Glob 为空表示该 dataset 无法被外部重建工具批量选中（pfile 恒为空）。
	Glob string

	RepTime         float64
	BoldReps        int
	SlicesPerVolume int
	ScannedFile     string
}
