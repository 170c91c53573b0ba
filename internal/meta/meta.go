// Package meta 是文件元数据解析协作方：把已落地的本地副本解析成 RawImageFile。
//
// DICOM 侧读真实头部（suyashkumar/dicom，跳过像素数据）；
// pfile 侧没有头部解析器，只做启发式（见 ParsePfile），缺失字段保持为空，
// 由 dataset 构造阶段按必填字段纪律报错——这里不编造数据。
package meta

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/John-Robertt/MRID/internal/classify"
	"github.com/John-Robertt/MRID/internal/domain"
)

const (
	// SourceDicom / SourcePfile 写入 RawImageFile.Source，标记元数据来源。
	SourceDicom = "dicom"
	SourcePfile = "pfile-heuristic"
)

// ParseDicom 解析 localPath（已解压的本地副本）的 DICOM 头部。
// sourcePath 是原始文件路径；记录时去掉压缩后缀（逻辑文件名）。
func ParseDicom(localPath, sourcePath string) (domain.RawImageFile, error) {
	ds, err := dicom.ParseFile(localPath, nil, dicom.SkipPixelData())
	if err != nil {
		return domain.RawImageFile{}, fmt.Errorf("解析 DICOM 头部失败：%q：%w", localPath, err)
	}

	f := domain.RawImageFile{
		Path:              logicalPath(sourcePath),
		SeriesDescription: tagString(&ds, tag.SeriesDescription),
		RMRNumber:         tagString(&ds, tag.PatientID),
		Timestamp:         parseStamp(tagString(&ds, tag.StudyDate), tagString(&ds, tag.StudyTime)),
		RepTime:           tagFloat(&ds, tag.RepetitionTime),
		BoldReps:          tagInt(&ds, tag.NumberOfTemporalPositions),
		NumSlices:         tagInt(&ds, tag.ImagesInAcquisition),
		FileType:          domain.KindDicom,
		Source:            SourceDicom,
	}
	return f, nil
}

// rmr 标识在 pfile 头部文本区以明文出现（扫描仪录入的受试者编号）。
var rmrRE = regexp.MustCompile(`RMR[-_]?[0-9]+`)

// pfileHeadBytes 限定头部扫描范围；rmr 字段一定出现在文件开头的描述区。
const pfileHeadBytes = 128 * 1024

// ParsePfile 对 pfile 做启发式元数据提取：
// - rmr：在头部字节里找 RMR 明文；找不到则留空（dataset 构造会按必填字段报错）
// - series_description：父目录名
// - timestamp：文件修改时间
func ParsePfile(localPath, sourcePath string) (domain.RawImageFile, error) {
	fi, err := os.Stat(localPath)
	if err != nil {
		return domain.RawImageFile{}, fmt.Errorf("读取 pfile 失败：%q：%w", localPath, err)
	}

	rmr, err := scanPfileRMR(localPath)
	if err != nil {
		return domain.RawImageFile{}, err
	}

	logical := logicalPath(sourcePath)
	return domain.RawImageFile{
		Path:              logical,
		SeriesDescription: filepath.Base(filepath.Dir(logical)),
		RMRNumber:         rmr,
		Timestamp:         fi.ModTime(),
		FileType:          domain.KindPfile,
		Source:            SourcePfile,
	}, nil
}

func scanPfileRMR(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("读取 pfile 失败：%q：%w", path, err)
	}
	defer f.Close()

	buf := make([]byte, pfileHeadBytes)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", fmt.Errorf("读取 pfile 头部失败：%q：%w", path, err)
	}
	return rmrRE.FindString(string(buf[:n])), nil
}

// logicalPath 返回去掉压缩后缀后的原始路径（报告与入库都以逻辑名为准）。
func logicalPath(p string) string {
	dir := filepath.Dir(p)
	return filepath.Join(dir, classify.StripCompression(filepath.Base(p)))
}

func tagString(ds *dicom.Dataset, t tag.Tag) string {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return ""
	}
	ss := dicom.MustGetStrings(el.Value)
	if len(ss) == 0 {
		return ""
	}
	return strings.TrimSpace(ss[0])
}

func tagFloat(ds *dicom.Dataset, t tag.Tag) float64 {
	s := tagString(ds, t)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func tagInt(ds *dicom.Dataset, t tag.Tag) int {
	s := tagString(ds, t)
	if s == "" {
		return 0
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}

// parseStamp 把 DICOM 的 StudyDate/StudyTime（"20060102" + "150405[.ffffff]"）
// 组合成 time.Time；残缺输入返回零值，由必填字段检查兜底。
func parseStamp(date, clock string) time.Time {
	if date == "" {
		return time.Time{}
	}
	if i := strings.IndexByte(clock, '.'); i >= 0 {
		clock = clock[:i]
	}
	if len(clock) > 6 {
		clock = clock[:6]
	}
	for len(clock) < 6 {
		clock += "0"
	}
	ts, err := time.Parse("20060102150405", date+clock)
	if err != nil {
		return time.Time{}
	}
	return ts
}
