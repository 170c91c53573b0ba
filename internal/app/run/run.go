// Package run 串起一次 import：遍历 → 分类 → staging → 元数据 → 聚合 → 入库。
//
// 全程单线程同步执行（没有内部并行）；错误尽量“降级”为 item 级失败，
// 一个坏目录不影响兄弟目录的批处理。
package run

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/John-Robertt/MRID/internal/config"
	"github.com/John-Robertt/MRID/internal/dataset"
	"github.com/John-Robertt/MRID/internal/domain"
	"github.com/John-Robertt/MRID/internal/infra/repo"
	"github.com/John-Robertt/MRID/internal/infra/staging"
	"github.com/John-Robertt/MRID/internal/meta"
	"github.com/John-Robertt/MRID/internal/recon"
	"github.com/John-Robertt/MRID/internal/scan"
)

// Deps 是顶层注入的协作方集合。
//
// - Repo 可为 nil：dry-run 或未配置 DSN 时仅产出报告，不触碰数据库
// - Log 必须显式传入（组件不依赖进程级全局日志状态）
type Deps struct {
	Repo repo.Repository
	Log  zerolog.Logger
	Obs  Observer
}

// Execute 执行一次 import（dry-run/apply），并返回对外稳定的 ImportReport。
func Execute(ctx context.Context, eff config.EffectiveConfig, deps Deps) domain.ImportReport {
	started := time.Now().UTC()

	if deps.Obs != nil {
		deps.Obs.OnStart(eff)
	}

	rr := domain.ImportReport{
		Path:      eff.Path,
		DryRun:    !eff.Apply,
		StartedAt: started,
		Items:     make([]domain.ItemResult, 0, 64),
	}

	scratch, err := staging.NewScratch(eff.ScratchDir)
	if err != nil {
		rr.Items = append(rr.Items, syntheticFailed(domain.ErrCodeIOFailed,
			fmt.Sprintf("创建草稿目录失败：%v", err)))
		finish(&rr)
		return rr
	}
	defer func() {
		if err := scratch.Close(); err != nil {
			deps.Log.Warn().Err(err).Str("dir", scratch.Dir).Msg("删除草稿目录失败")
		}
	}()

	walkStarted := time.Now()
	dirs, walkItems := collectDirs(deps.Log, eff)
	rr.Items = append(rr.Items, walkItems...)
	if deps.Obs != nil {
		deps.Obs.OnPhaseDone("walk", map[string]any{"dirs": len(dirs)}, time.Since(walkStarted))
	}

	total := len(dirs)
	for i, dir := range dirs {
		itemStarted := time.Now()
		items := processDir(ctx, eff, deps, scratch, dir)
		rr.Items = append(rr.Items, items...)
		if deps.Obs != nil {
			for _, it := range items {
				deps.Obs.OnItemDone(i, total, dir, it, time.Since(itemStarted))
			}
		}
	}

	finish(&rr)
	return rr
}

func finish(rr *domain.ImportReport) {
	rr.FinishedAt = time.Now().UTC()
	rr.Finalize()
}

// collectDirs 后序收集候选目录。每个 root 直接子树独立遍历：
// 某个子树不可读只产生一条 failed 条目，兄弟子树照常（log-and-continue）。
func collectDirs(log zerolog.Logger, eff config.EffectiveConfig) ([]string, []domain.ItemResult) {
	excluded := buildExcluded(eff.Path, eff.ExcludeDirs)

	dirs := make([]string, 0, 64)
	items := make([]domain.ItemResult, 0, 2)

	entries, err := os.ReadDir(eff.Path)
	if err != nil {
		items = append(items, syntheticFailed(domain.ErrCodeTraversalFailed,
			fmt.Sprintf("读取根目录失败：%q：%v", eff.Path, err)))
		return nil, items
	}

	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") || e.Type()&fs.ModeSymlink != 0 {
			continue
		}
		sub := filepath.Join(eff.Path, e.Name())
		if isExcluded(sub, excluded) {
			continue
		}

		err := scan.WalkSubdirs(sub, func(dir string) error {
			if !isExcluded(dir, excluded) {
				dirs = append(dirs, dir)
			}
			return nil
		})
		if err != nil {
			log.Warn().Str("dir", sub).Err(err).Msg("子树遍历失败，跳过该子树")
			items = append(items, domain.ItemResult{
				Dir:       sub,
				Status:    domain.StatusFailed,
				ErrorCode: domain.ErrCodeTraversalFailed,
				ErrorMsg:  err.Error(),
			})
		}
	}

	// root 自身最后（全树后序）。
	dirs = append(dirs, eff.Path)
	return dirs, items
}

// processDir 处理一个候选目录：pfile 优先（一个 pfile 一个 dataset）；
// 没有 pfile 再尝试 DICOM 系列。既无候选则静默跳过（不产生条目）。
func processDir(ctx context.Context, eff config.EffectiveConfig, deps Deps, scratch staging.Scratch, dir string) []domain.ItemResult {
	pfiles, err := scan.FindLargePfiles(dir, eff.MinPfileBytes)
	if err != nil {
		return []domain.ItemResult{failedItem(dir, domain.ErrCodeTraversalFailed, err)}
	}

	if len(pfiles) > 0 {
		items := make([]domain.ItemResult, 0, len(pfiles))
		for _, pf := range pfiles {
			items = append(items, processPfile(ctx, eff, deps, scratch, dir, pf))
		}
		return items
	}

	first, ok, err := scan.FindFirstDicom(dir)
	if err != nil {
		return []domain.ItemResult{failedItem(dir, domain.ErrCodeTraversalFailed, err)}
	}
	if !ok {
		return nil
	}
	_ = first // 有首个候选即认定该目录是 DICOM 系列；成员用宽松规则批量收集。

	return []domain.ItemResult{processDicomDir(ctx, eff, deps, scratch, dir)}
}

func processPfile(ctx context.Context, eff config.EffectiveConfig, deps Deps, scratch staging.Scratch, dir string, pf domain.RawFile) domain.ItemResult {
	var ds *dataset.RawImageDataset

	err := staging.WithStaged(pf.AbsPath, scratch.Dir, func(c staging.LocalCopy) error {
		f, err := meta.ParsePfile(c.Path, pf.AbsPath)
		if err != nil {
			return err
		}
		built, err := dataset.Build(deps.Log, dir, []domain.RawImageFile{f})
		if err != nil {
			return err
		}
		ds = built
		return nil
	})
	if err != nil {
		return failedItem(dir, codeFor(err), err)
	}
	return finishDataset(ctx, eff, deps, dir, ds)
}

func processDicomDir(ctx context.Context, eff config.EffectiveConfig, deps Deps, scratch staging.Scratch, dir string) domain.ItemResult {
	var files []domain.RawImageFile

	err := staging.WithStagedAll(deps.Log, dir, scratch.Dir, func(copies []staging.LocalCopy) error {
		files = make([]domain.RawImageFile, 0, len(copies))
		for _, c := range copies {
			f, err := meta.ParseDicom(c.Path, c.Src)
			if err != nil {
				// 单文件解析失败不整体放弃：记录后继续兄弟文件。
				deps.Log.Warn().Str("file", c.Src).Err(err).Msg("DICOM 头部解析失败，跳过该成员")
				continue
			}
			files = append(files, f)
		}
		return nil
	})
	if err != nil {
		return failedItem(dir, codeFor(err), err)
	}

	if len(files) == 0 {
		return domain.ItemResult{
			Dir:      dir,
			Status:   domain.StatusSkipped,
			ErrorMsg: "目录有 DICOM 候选但没有可用成员（staging/解析全部失败）",
		}
	}

	ds, err := dataset.Build(deps.Log, dir, files)
	if err != nil {
		return failedItem(dir, codeFor(err), err)
	}
	return finishDataset(ctx, eff, deps, dir, ds)
}

// finishDataset 计算派生字段、生成（不执行）重建命令，并在 apply 时入库。
func finishDataset(ctx context.Context, eff config.EffectiveConfig, deps Deps, dir string, ds *dataset.RawImageDataset) domain.ItemResult {
	item := domain.ItemResult{
		Dir:        dir,
		DatasetKey: ds.Key(),
		Kind:       ds.Kind.String(),
		Status:     domain.StatusIndexed,
	}

	if g, ok := ds.Glob(); ok {
		item.Glob = g
	}

	n, err := ds.FileCount()
	if err != nil {
		return failedItem(dir, domain.ErrCodeIOFailed, err)
	}
	item.FileCount = n

	// 重建命令只生成不执行；debug 级日志便于核对外部工具的输入。
	builder := recon.ForKind(ds.Kind)
	if cmd, outPath, err := builder.Command(filepath.Join(eff.Path, "recon"), reconName(ds), ds); err == nil {
		deps.Log.Debug().Str("cmd", cmd).Str("out", outPath).Msg("重建命令已生成（未执行）")
	}

	if eff.Apply && deps.Repo != nil {
		if err := upsert(ctx, eff, deps.Repo, ds); err != nil {
			return failedItem(dir, domain.ErrCodeDBFailed, err)
		}
	}
	return item
}

// reconName 用系列描述推导重建产物名（走 staging 的文件名合法化规则）。
func reconName(ds *dataset.RawImageDataset) string {
	return staging.DestName(ds.SeriesDescription)
}

// upsert 先按 (rmr, path, timestamp 日期前缀) 查找既有记录：命中则更新首条，
// 未命中则插入。
func upsert(ctx context.Context, eff config.EffectiveConfig, r repo.Repository, ds *dataset.RawImageDataset) error {
	now := time.Now().UTC()
	rec, err := ds.Record(eff.Path, eff.VisitID, now)
	if err != nil {
		return err
	}

	ids, err := r.FindIDs(ctx, rec.RMRNumber, rec.Path, rec.Timestamp.UTC().Format("2006-01-02"))
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		sort.Strings(ids)
		return r.Update(ctx, ids[0], rec)
	}
	_, err = r.Insert(ctx, rec)
	return err
}

func failedItem(dir, code string, err error) domain.ItemResult {
	return domain.ItemResult{
		Dir:       dir,
		Status:    domain.StatusFailed,
		ErrorCode: code,
		ErrorMsg:  err.Error(),
	}
}

func syntheticFailed(code, msg string) domain.ItemResult {
	return domain.ItemResult{
		Status:    domain.StatusFailed,
		ErrorCode: code,
		ErrorMsg:  msg,
	}
}

// codeFor 把下层 typed error 映射为稳定的 error_code。
func codeFor(err error) string {
	switch {
	case dataset.IsStructural(err):
		return domain.ErrCodeStructuralInvalid
	case staging.IsStage(err):
		return domain.ErrCodeStageFailed
	case scan.IsTraversal(err):
		return domain.ErrCodeTraversalFailed
	default:
		return domain.ErrCodeParseFailed
	}
}

func buildExcluded(root string, excludeDirs []string) []string {
	excluded := make([]string, 0, len(excludeDirs))
	for _, x := range excludeDirs {
		x = strings.TrimSpace(x)
		if x == "" {
			continue
		}
		if filepath.IsAbs(x) {
			excluded = append(excluded, filepath.Clean(x))
			continue
		}
		excluded = append(excluded, filepath.Clean(filepath.Join(root, x)))
	}
	sort.Strings(excluded)
	return excluded
}

func isExcluded(path string, excluded []string) bool {
	path = filepath.Clean(path)
	for _, base := range excluded {
		if path == base || strings.HasPrefix(path, base+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
