package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestFinalize_SortAndSummary(t *testing.T) {
	r := ImportReport{
		Items: []ItemResult{
			{Dir: "", Status: StatusFailed, ErrorCode: ErrCodeTraversalFailed},
			{Dir: "/data/b", Status: StatusIndexed},
			{Dir: "/data/a", Status: StatusSkipped},
			{Dir: "/data/c", Status: StatusFailed, ErrorCode: ErrCodeParseFailed},
		},
	}
	r.Finalize()

	wantDirs := []string{"/data/a", "/data/b", "/data/c", ""}
	for i, want := range wantDirs {
		if r.Items[i].Dir != want {
			t.Fatalf("位置 %d 期望 dir=%q，实际 %q", i, want, r.Items[i].Dir)
		}
	}
	if r.Summary.Indexed != 1 || r.Summary.Skipped != 1 || r.Summary.Failed != 2 {
		t.Fatalf("summary 计数不对：%+v", r.Summary)
	}
}

func TestFinalize_StableForEqualDirs(t *testing.T) {
	r := ImportReport{
		Items: []ItemResult{
			{Dir: "/data/a", DatasetKey: "first", Status: StatusIndexed},
			{Dir: "/data/a", DatasetKey: "second", Status: StatusIndexed},
		},
	}
	r.Finalize()
	if r.Items[0].DatasetKey != "first" || r.Items[1].DatasetKey != "second" {
		t.Fatalf("同 dir 的条目必须保持输入顺序：%+v", r.Items)
	}
}

func TestFinalize_UTCTimes(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	r := ImportReport{
		StartedAt:  time.Date(2024, 3, 1, 16, 0, 0, 0, loc),
		FinishedAt: time.Date(2024, 3, 1, 16, 5, 0, 0, loc),
	}
	r.Finalize()

	if r.StartedAt.Location() != time.UTC || r.FinishedAt.Location() != time.UTC {
		t.Fatalf("Finalize 后时间必须是 UTC")
	}

	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("序列化失败：%v", err)
	}
	if !strings.Contains(string(b), `"started_at":"2024-03-01T08:00:00Z"`) {
		t.Fatalf("期望 RFC3339 Z 后缀时间，实际 %s", b)
	}
}

func TestKindString(t *testing.T) {
	cases := []struct {
		k    Kind
		want string
	}{
		{KindDicom, "dicom"},
		{KindPfile, "pfile"},
		{KindOther, "other"},
	}
	for _, c := range cases {
		if got := c.k.String(); got != c.want {
			t.Errorf("Kind(%d).String()=%q，期望 %q", c.k, got, c.want)
		}
	}
	if !KindDicom.Valid() || !KindPfile.Valid() || !KindOther.Valid() {
		t.Fatalf("已知枚举值必须通过 Valid")
	}
	if Kind(99).Valid() {
		t.Fatalf("未知枚举值必须被拒绝")
	}
}

func TestMissingFieldOrder(t *testing.T) {
	f := RawImageFile{}
	if got := f.MissingField(); got != "series_description" {
		t.Fatalf("期望先报 series_description，实际 %q", got)
	}
	f.SeriesDescription = "ax t1"
	if got := f.MissingField(); got != "rmr_number" {
		t.Fatalf("期望 rmr_number，实际 %q", got)
	}
	f.RMRNumber = "RMR-1"
	if got := f.MissingField(); got != "timestamp" {
		t.Fatalf("期望 timestamp，实际 %q", got)
	}
	f.Timestamp = time.Now()
	if got := f.MissingField(); got != "filename" {
		t.Fatalf("期望 filename，实际 %q", got)
	}
	f.Path = "/data/I.001"
	if got := f.MissingField(); got != "source" {
		t.Fatalf("期望 source，实际 %q", got)
	}
	f.Source = "dicom"
	if got := f.MissingField(); got != "" {
		t.Fatalf("完整文件不应缺字段，实际 %q", got)
	}
}
