package domain

import (
	"path/filepath"
	"time"
)

// RawImageFile 是元数据解析协作方（internal/meta）产出的单文件元数据。
//
// 约束：
// - 解析完成后只读；dataset 构造只消费不修改
// - 必填字段（SeriesDescription/RMRNumber/Timestamp/文件名/Source）缺失时，
//   dataset 构造必须失败并点名缺失字段（见 MissingField）
type RawImageFile struct {
	Path string

	SeriesDescription string
	// RMRNumber 是受试者/会话标识（扫描仪元数据中提取）。
	RMRNumber string
	Timestamp time.Time

	// RepTime 单位为毫秒；非 BOLD 序列允许为 0。
	RepTime  float64
	BoldReps int
	// NumSlices 是单卷切片数（pfile 场景可能为 0，表示未知）。
	NumSlices int

	FileType Kind
	// Source 标记扫描仪来源（例如 "dicom"、"pfile-heuristic"）。
	Source string
}

// Filename 返回 Path 的 base name（报告与 dataset 字段都以此为准）。
func (f RawImageFile) Filename() string {
	if f.Path == "" {
		return ""
	}
	return filepath.Base(f.Path)
}

// MissingField 返回第一个缺失的必填字段名；全部齐备时返回空串。
// 字段检查顺序固定，保证错误信息稳定可测。
func (f RawImageFile) MissingField() string {
	switch {
	case f.SeriesDescription == "":
		return "series_description"
	case f.RMRNumber == "":
		return "rmr_number"
	case f.Timestamp.IsZero():
		return "timestamp"
	case f.Filename() == "":
		return "filename"
	case f.Source == "":
		return "source"
	default:
		return ""
	}
}
