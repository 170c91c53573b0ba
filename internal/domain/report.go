package domain

import (
	"encoding/json"
	"sort"
	"time"
)

const (
	StatusIndexed = "indexed"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

const (
	ErrCodeConfigNotFound    = "config_not_found"
	ErrCodeConfigInvalid     = "config_invalid"
	ErrCodeConfigMissingPath = "config_missing_path"
	ErrCodeTraversalFailed   = "traversal_failed"
	ErrCodeStructuralInvalid = "structural_invalid"
	ErrCodeStageFailed       = "stage_failed"
	ErrCodeParseFailed       = "parse_failed"
	ErrCodeDBFailed          = "db_failed"
	ErrCodeIOFailed          = "io_failed"
)

// ImportReport 是对外稳定输出（stdout JSON）的结构。
type ImportReport struct {
	Path   string `json:"path"`
	DryRun bool   `json:"dry_run"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Summary ReportSummary `json:"summary"`
	Items   []ItemResult  `json:"items"`
}

type ReportSummary struct {
	Indexed int `json:"indexed"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// ItemResult 对应一个候选目录（一个潜在 dataset）的处理结果。
type ItemResult struct {
	Dir        string `json:"dir"`
	DatasetKey string `json:"dataset_key"`
	Kind       string `json:"kind"`
	Glob       string `json:"glob"`
	FileCount  int    `json:"file_count"`

	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
}

// Finalize 做三件事：
// 1) 时间统一为 UTC（确保 JSON 为 RFC3339 且后缀 Z）
// 2) items 稳定排序：按 dir 字典序；dir=="" 的合成条目排在最后
// 3) summary 由 items 计算得出
func (r *ImportReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	sort.SliceStable(r.Items, func(i, j int) bool {
		a := r.Items[i].Dir
		b := r.Items[j].Dir
		if a == "" && b == "" {
			return false
		}
		if a == "" {
			return false
		}
		if b == "" {
			return true
		}
		return a < b
	})

	var s ReportSummary
	for _, it := range r.Items {
		switch it.Status {
		case StatusIndexed:
			s.Indexed++
		case StatusSkipped:
			s.Skipped++
		case StatusFailed:
			s.Failed++
		}
	}
	r.Summary = s
}

// MarshalJSON 仅用于集中约束输出的稳定性（避免未来不小心引入非确定字段）。
// 当前只是透传 encoding/json 的默认行为。
func (r ImportReport) MarshalJSON() ([]byte, error) {
	type Alias ImportReport
	return json.Marshal(Alias(r))
}
