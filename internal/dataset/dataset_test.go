package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/John-Robertt/MRID/internal/domain"
)

func validFile(path string, ts time.Time) domain.RawImageFile {
	return domain.RawImageFile{
		Path:              path,
		SeriesDescription: "ax t1",
		RMRNumber:         "RMR-1001",
		Timestamp:         ts,
		RepTime:           2000,
		BoldReps:          120,
		NumSlices:         36,
		FileType:          domain.KindDicom,
		Source:            "dicom",
	}
}

func TestBuild_EmptyFails(t *testing.T) {
	_, err := Build(zerolog.Nop(), t.TempDir(), nil)
	if err == nil {
		t.Fatalf("期望结构性失败")
	}
	if !IsStructural(err) {
		t.Fatalf("期望 StructuralError，实际 %T：%v", err, err)
	}
}

func TestBuild_MissingRequiredField(t *testing.T) {
	f := validFile("/data/I.001", time.Now())
	f.RMRNumber = ""

	_, err := Build(zerolog.Nop(), t.TempDir(), []domain.RawImageFile{f})
	if !IsStructural(err) {
		t.Fatalf("期望 StructuralError，实际 %v", err)
	}
	var se *StructuralError
	if !errors.As(err, &se) || se.Field != "rmr_number" {
		t.Fatalf("期望点名 rmr_number，实际 %+v", se)
	}
}

func TestBuild_RejectsUnknownKind(t *testing.T) {
	f := validFile("/data/I.001", time.Now())
	f.FileType = domain.KindOther

	_, err := Build(zerolog.Nop(), t.TempDir(), []domain.RawImageFile{f})
	if !IsStructural(err) {
		t.Fatalf("类型标签必须在边界拒绝，实际 %v", err)
	}
}

func TestBuild_SingleFile(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "I.001"))

	ds, err := Build(zerolog.Nop(), dir, []domain.RawImageFile{validFile(filepath.Join(dir, "I.001"), ts)})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if !ds.Timestamp.Equal(ts) {
		t.Fatalf("期望 timestamp=%v，实际 %v", ts, ds.Timestamp)
	}
	n, err := ds.FileCount()
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if n != 1 {
		t.Fatalf("期望 file_count=1，实际 %d", n)
	}
	if ds.ScannedFile != "I.001" {
		t.Fatalf("期望 scanned_file=I.001，实际 %q", ds.ScannedFile)
	}
}

func TestBuild_EarliestTimestampAndKey(t *testing.T) {
	t1 := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	t2 := t1.Add(1 * time.Hour)
	t3 := t1.Add(2 * time.Hour)

	// 输入顺序 T2, T1, T3：结果必须取最小 T1。
	files := []domain.RawImageFile{
		validFile("/data/I.002", t2),
		validFile("/data/I.001", t1),
		validFile("/data/I.003", t3),
	}
	ds, err := Build(zerolog.Nop(), "/data", files)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if !ds.Timestamp.Equal(t1) {
		t.Fatalf("期望最早时间戳 %v，实际 %v", t1, ds.Timestamp)
	}
	want := "RMR-1001::" + t1.Format(time.RFC3339)
	if ds.Key() != want {
		t.Fatalf("期望 key=%q，实际 %q", want, ds.Key())
	}
	// scanned_file 是首成员（按输入顺序），不是最早者。
	if ds.ScannedFile != "I.002" {
		t.Fatalf("期望 scanned_file=I.002，实际 %q", ds.ScannedFile)
	}
}

func TestBuild_DivergentMembersWarnOnly(t *testing.T) {
	ts := time.Now()
	a := validFile("/data/I.001", ts)
	b := validFile("/data/I.002", ts)
	b.RMRNumber = "RMR-9999" // 分歧成员：只告警，不纠正、不失败

	ds, err := Build(zerolog.Nop(), "/data", []domain.RawImageFile{a, b})
	if err != nil {
		t.Fatalf("分歧成员不应导致构造失败：%v", err)
	}
	if ds.RMRNumber != "RMR-1001" {
		t.Fatalf("聚合字段必须取首成员：%q", ds.RMRNumber)
	}
}

func TestFileCount_DicomSkipsHiddenAndMetadata(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "I.001"))
	touch(t, filepath.Join(dir, "I.002"))
	touch(t, filepath.Join(dir, ".DS_Store"))
	touch(t, filepath.Join(dir, "series.yaml"))
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}

	ds, err := Build(zerolog.Nop(), dir, []domain.RawImageFile{validFile(filepath.Join(dir, "I.001"), time.Now())})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	n, err := ds.FileCount()
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if n != 2 {
		t.Fatalf("期望 file_count=2（隐藏/元数据/子目录不计），实际 %d", n)
	}

	// 缓存后目录变化不影响结果（惰性重数只发生一次）。
	touch(t, filepath.Join(dir, "I.003"))
	n2, _ := ds.FileCount()
	if n2 != 2 {
		t.Fatalf("期望缓存值 2，实际 %d", n2)
	}
}

func TestFileCount_PfileAlwaysOne(t *testing.T) {
	f := validFile("/data/visit1/P12345.7", time.Now())
	f.FileType = domain.KindPfile
	f.Source = "pfile-heuristic"

	ds, err := Build(zerolog.Nop(), "/data/visit1", []domain.RawImageFile{f})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	n, err := ds.FileCount()
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if n != 1 {
		t.Fatalf("期望 pfile 的 file_count 恒为 1，实际 %d", n)
	}
}

func TestRelativePath(t *testing.T) {
	dicom, err := Build(zerolog.Nop(), "/data/study/series3",
		[]domain.RawImageFile{validFile("/data/study/series3/I.001", time.Now())})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if got, err := dicom.RelativePath("/data"); err != nil || got != "series3" {
		t.Fatalf("DICOM 期望目录 base name，实际 (%q, %v)", got, err)
	}

	pf := validFile("/data/visit1/P12345.7", time.Now())
	pf.FileType = domain.KindPfile
	pfile, err := Build(zerolog.Nop(), "/data/visit1", []domain.RawImageFile{pf})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if got, err := pfile.RelativePath("/data"); err != nil || got != filepath.Join("visit1", "P12345.7") {
		t.Fatalf("pfile 期望相对 base_dir 的路径，实际 (%q, %v)", got, err)
	}
	if got, err := pfile.RelativePath(""); err != nil || got != "P12345.7" {
		t.Fatalf("无 base_dir 时期望文件名，实际 (%q, %v)", got, err)
	}
}

func TestGlob(t *testing.T) {
	ds, err := Build(zerolog.Nop(), "/data/s1",
		[]domain.RawImageFile{validFile("/data/s1/E001.dcm", time.Now())})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if g, ok := ds.Glob(); !ok || g != "E*.dcm" {
		t.Fatalf("期望 (E*.dcm, true)，实际 (%q, %v)", g, ok)
	}

	pf := validFile("/data/v1/P12345.7", time.Now())
	pf.FileType = domain.KindPfile
	pd, err := Build(zerolog.Nop(), "/data/v1", []domain.RawImageFile{pf})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if _, ok := pd.Glob(); ok {
		t.Fatalf("pfile dataset 不应有 glob")
	}
}

type countingThumb struct {
	calls int
	path  string
	err   error
}

func (c *countingThumb) Create(*RawImageDataset) (string, error) {
	c.calls++
	return c.path, c.err
}

func TestThumbnail_LazyOnce(t *testing.T) {
	ds, err := Build(zerolog.Nop(), "/data/s1",
		[]domain.RawImageFile{validFile("/data/s1/I.001", time.Now())})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	th := &countingThumb{path: "/tmp/thumb.png"}
	for i := 0; i < 3; i++ {
		got, err := ds.Thumbnail(th)
		if err != nil {
			t.Fatalf("不期望错误：%v", err)
		}
		if got != "/tmp/thumb.png" {
			t.Fatalf("期望缓存的缩略图路径，实际 %q", got)
		}
	}
	if th.calls != 1 {
		t.Fatalf("期望协作方只被调用一次，实际 %d 次", th.calls)
	}
}

func TestThumbnail_ErrorNotCached(t *testing.T) {
	ds, err := Build(zerolog.Nop(), "/data/s1",
		[]domain.RawImageFile{validFile("/data/s1/I.001", time.Now())})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	th := &countingThumb{err: errors.New("渲染失败")}
	if _, err := ds.Thumbnail(th); err == nil {
		t.Fatalf("期望错误透传")
	}
	th.err = nil
	th.path = "/tmp/thumb.png"
	if got, err := ds.Thumbnail(th); err != nil || got != "/tmp/thumb.png" {
		t.Fatalf("失败不应被缓存，重试应成功：(%q, %v)", got, err)
	}
}

func TestRecord(t *testing.T) {
	ts := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	now := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)

	ds, err := Build(zerolog.Nop(), "/data/study/series3",
		[]domain.RawImageFile{validFile("/data/study/series3/E001.dcm", ts)})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	rec, err := ds.Record("/data", 42, now)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if rec.RMRNumber != "RMR-1001" || rec.Path != "series3" || rec.Glob != "E*.dcm" {
		t.Fatalf("记录派生字段不对：%+v", rec)
	}
	if rec.VisitID != 42 || !rec.Timestamp.Equal(ts) || !rec.CreatedAt.Equal(now) {
		t.Fatalf("记录时间/visit 字段不对：%+v", rec)
	}
	if rec.RepTime != 2000 || rec.BoldReps != 120 || rec.SlicesPerVolume != 36 {
		t.Fatalf("记录采集参数不对：%+v", rec)
	}
	if rec.ScannedFile != "E001.dcm" {
		t.Fatalf("期望 scanned_file=E001.dcm，实际 %q", rec.ScannedFile)
	}
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("写入文件失败：%v", err)
	}
}
