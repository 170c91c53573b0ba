// Package dataset 把分类后的文件列表聚合成一个成像系列（DatasetAggregator）。
//
// 已知限制（文档化，不是待修 bug）：所有访问器假定成员同属一个受试者与系列；
// 实现不跨成员校验这一点，发现分歧只告警不纠正。
package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/John-Robertt/MRID/internal/classify"
	"github.com/John-Robertt/MRID/internal/domain"
)

// StructuralError 表示 dataset 构造的结构性失败（空集合、非法成员、必填字段缺失）。
// 上层可把它映射为 error_code=structural_invalid。
type StructuralError struct {
	Field string
	Value string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("dataset 结构非法：%s=%q", e.Field, e.Value)
}

// IsStructural 判断 err 是否为结构性错误。
func IsStructural(err error) bool {
	var e *StructuralError
	return errors.As(err, &e)
}

// RawImageDataset 表示一个成像系列：有序非空的成员集合 + 派生聚合字段。
// 构造完成后只读；fileCount 与 thumbnail 是仅有的两个惰性字段。
type RawImageDataset struct {
	Dir   string
	Files []domain.RawImageFile
	Kind  domain.Kind

	SeriesDescription string
	RMRNumber         string
	// Timestamp 是成员里最早的时间戳（稳定取最小；并列按原始顺序）。
	Timestamp time.Time
	// ScannedFile 是首个成员的文件名。
	ScannedFile string
	Source      string

	fileCount *int
	thumb     string
	thumbSet  bool
}

// Build 从已定稿的成员列表构造 dataset。
//
// 结构性失败条件：
// - files 为空
// - 首成员的类型标签不是 {dicom, pfile}
// - 首成员缺任一必填字段（series_description/rmr_number/timestamp/filename/source）
func Build(log zerolog.Logger, dir string, files []domain.RawImageFile) (*RawImageDataset, error) {
	if len(files) == 0 {
		return nil, &StructuralError{Field: "files", Value: "empty"}
	}

	first := files[0]
	if first.FileType != domain.KindDicom && first.FileType != domain.KindPfile {
		return nil, &StructuralError{Field: "file_type", Value: first.FileType.String()}
	}
	if missing := first.MissingField(); missing != "" {
		return nil, &StructuralError{Field: missing, Value: first.Path}
	}

	// 分歧成员：告警不纠正（已知限制）。
	for _, f := range files[1:] {
		if f.RMRNumber != first.RMRNumber || f.SeriesDescription != first.SeriesDescription {
			log.Warn().
				Str("dir", dir).
				Str("file", f.Filename()).
				Str("rmr", f.RMRNumber).
				Msg("dataset 成员与首成员的受试者/系列标识不一致（不纠正）")
		}
	}

	return &RawImageDataset{
		Dir:               filepath.Clean(dir),
		Files:             append([]domain.RawImageFile(nil), files...),
		Kind:              first.FileType,
		SeriesDescription: first.SeriesDescription,
		RMRNumber:         first.RMRNumber,
		Timestamp:         earliest(files),
		ScannedFile:       first.Filename(),
		Source:            first.Source,
	}, nil
}

// earliest 稳定取最小时间戳：严格更早才替换，并列保持原始顺序的先者。
func earliest(files []domain.RawImageFile) time.Time {
	min := files[0].Timestamp
	for _, f := range files[1:] {
		if f.Timestamp.Before(min) {
			min = f.Timestamp
		}
	}
	return min
}

// Key 是 dataset 的唯一键：rmr_number + "::" + 最早时间戳。
func (d *RawImageDataset) Key() string {
	return d.RMRNumber + "::" + d.Timestamp.UTC().Format(time.RFC3339)
}

// Glob 推导外部重建工具的 shell glob；pfile dataset 恒为 ("", false)。
func (d *RawImageDataset) Glob() (string, bool) {
	if d.Kind == domain.KindPfile {
		return "", false
	}
	return classify.GlobFor(d.ScannedFile)
}

// sidecar 元数据文件不计入 DICOM 文件数。
var metadataSuffixes = []string{".yaml", ".yml", ".txt", ".md"}

func isMetadataName(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range metadataSuffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}

// FileCount 返回 dataset 的文件数。
//
// - pfile：恒为 1
// - DICOM：目录里非隐藏、非元数据条目的数量（惰性重数，首次成功后缓存）
func (d *RawImageDataset) FileCount() (int, error) {
	if d.Kind == domain.KindPfile {
		return 1, nil
	}
	if d.fileCount != nil {
		return *d.fileCount, nil
	}

	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		return 0, fmt.Errorf("统计 dataset 文件数失败：%q：%w", d.Dir, err)
	}

	n := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || isMetadataName(name) {
			continue
		}
		n++
	}
	d.fileCount = &n
	return n, nil
}

// RelativePath 返回 dataset 的相对定位路径。
//
// - DICOM：目录的 base name
// - pfile：pfile 自身路径；baseDir 非空时相对 baseDir，否则只取文件名
func (d *RawImageDataset) RelativePath(baseDir string) (string, error) {
	switch d.Kind {
	case domain.KindDicom:
		return filepath.Base(d.Dir), nil
	case domain.KindPfile:
		p := d.Files[0].Path
		if baseDir == "" {
			return filepath.Base(p), nil
		}
		rel, err := filepath.Rel(baseDir, p)
		if err != nil {
			return "", fmt.Errorf("计算 pfile 相对路径失败：%q：%w", p, err)
		}
		return rel, nil
	default:
		return "", &StructuralError{Field: "file_type", Value: d.Kind.String()}
	}
}

// Record 产出交给数据库协作方的结构化记录（核心永远不拼 SQL 文本）。
func (d *RawImageDataset) Record(baseDir string, visitID int64, now time.Time) (domain.DatasetRecord, error) {
	rel, err := d.RelativePath(baseDir)
	if err != nil {
		return domain.DatasetRecord{}, err
	}

	glob, _ := d.Glob()
	first := d.Files[0]
	return domain.DatasetRecord{
		RMRNumber:         d.RMRNumber,
		SeriesDescription: d.SeriesDescription,
		Path:              rel,
		Timestamp:         d.Timestamp,
		CreatedAt:         now,
		UpdatedAt:         now,
		VisitID:           visitID,
		Glob:              glob,
		RepTime:           first.RepTime,
		BoldReps:          first.BoldReps,
		SlicesPerVolume:   first.NumSlices,
		ScannedFile:       d.ScannedFile,
	}, nil
}

// Thumbnailer 是缩略图协作方：消费 dataset、产出文件形式的缩略图工件。
// 渲染本身在本核心范围之外。
type Thumbnailer interface {
	Create(d *RawImageDataset) (string, error)
}

// Thumbnail 惰性产出缩略图：每个 dataset 实例至多创建一次，之后直接复用。
func (d *RawImageDataset) Thumbnail(t Thumbnailer) (string, error) {
	if d.thumbSet {
		return d.thumb, nil
	}
	p, err := t.Create(d)
	if err != nil {
		return "", err
	}
	d.thumb = p
	d.thumbSet = true
	return p, nil
}
