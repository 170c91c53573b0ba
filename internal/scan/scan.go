// Package scan 负责候选目录与候选文件的发现（PathTraversal）。
//
// 约束：
// - 只做 ReadDir/stat，不读文件内容
// - 隐藏项（"." 前缀）跳过；符号链接一律不跟随也不产出（避免环导致的无限遍历）
// - 每次调用无状态、可重入；输出顺序确定（os.ReadDir 按文件名排序）
package scan

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/John-Robertt/MRID/internal/classify"
	"github.com/John-Robertt/MRID/internal/domain"
)

// DefaultMinPfileBytes 是 pfile 候选的默认体积阈值。
// 小于该值的 P…7 文件几乎必然是残缺/中断的采集，不值得入库。
const DefaultMinPfileBytes int64 = 10_000_000

// TraversalError 表示某个子目录不可读（权限、失效句柄）。
// 多目录批处理的上层据此决定跳过该子树还是整体中止；兄弟子树不受影响。
type TraversalError struct {
	Dir string
	Err error
}

func (e *TraversalError) Error() string {
	return fmt.Sprintf("目录不可读：%q：%v", e.Dir, e.Err)
}

func (e *TraversalError) Unwrap() error { return e.Err }

// IsTraversal 判断 err 是否为遍历失败错误。
func IsTraversal(err error) bool {
	var e *TraversalError
	return errors.As(err, &e)
}

// WalkSubdirs 对 root 下的目录树做后序遍历（子目录先于父目录产出，root 最后）。
// fn 返回非 nil 错误时遍历立即中止并把该错误透传给调用方。
func WalkSubdirs(root string, fn func(dir string) error) error {
	root = filepath.Clean(root)
	return walk(root, fn)
}

func walk(dir string, fn func(dir string) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return &TraversalError{Dir: dir, Err: err}
	}

	for _, e := range entries {
		if skipEntry(e) {
			continue
		}
		if !e.IsDir() {
			continue
		}
		if err := walk(filepath.Join(dir, e.Name()), fn); err != nil {
			return err
		}
	}
	return fn(dir)
}

// FindLargePfiles 在 dir 的直接子项（不递归）中查找体积 ≥ minSize 的 pfile 候选。
// minSize <= 0 时使用 DefaultMinPfileBytes。
func FindLargePfiles(dir string, minSize int64) ([]domain.RawFile, error) {
	if minSize <= 0 {
		minSize = DefaultMinPfileBytes
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &TraversalError{Dir: dir, Err: err}
	}

	out := make([]domain.RawFile, 0, 2)
	for _, e := range entries {
		if skipEntry(e) || e.IsDir() {
			continue
		}
		name := e.Name()
		if !classify.IsPfile(name) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, &TraversalError{Dir: dir, Err: err}
		}
		if info.Size() < minSize {
			continue
		}
		out = append(out, rawFile(dir, name, info.Size()))
	}
	return out, nil
}

// FindFirstDicom 在 dir 的直接子项中查找首个匹配 DICOM 命名约定的文件。
// 最多返回一个；找不到时返回 (zero, false, nil)。
func FindFirstDicom(dir string) (domain.RawFile, bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return domain.RawFile{}, false, &TraversalError{Dir: dir, Err: err}
	}

	for _, e := range entries {
		if skipEntry(e) || e.IsDir() {
			continue
		}
		name := e.Name()
		if !classify.MatchesDicom(name) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return domain.RawFile{}, false, &TraversalError{Dir: dir, Err: err}
		}
		return rawFile(dir, name, info.Size()), true, nil
	}
	return domain.RawFile{}, false, nil
}

// FindAllDicoms 用宽松规则（额外接受任意位数数字尾扩展名）收集 dir 直接子项里的
// 全部 DICOM 候选。
func FindAllDicoms(dir string) ([]domain.RawFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &TraversalError{Dir: dir, Err: err}
	}

	out := make([]domain.RawFile, 0, len(entries))
	for _, e := range entries {
		if skipEntry(e) || e.IsDir() {
			continue
		}
		name := e.Name()
		if !classify.MatchesDicomAny(name) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, &TraversalError{Dir: dir, Err: err}
		}
		out = append(out, rawFile(dir, name, info.Size()))
	}
	return out, nil
}

func rawFile(dir, name string, size int64) domain.RawFile {
	return domain.RawFile{
		AbsPath:    filepath.Join(dir, name),
		Kind:       classify.Classify(name),
		Compressed: classify.IsCompressed(name),
		Size:       size,
	}
}

// skipEntry 统一隐藏项与符号链接的跳过判定。
func skipEntry(e fs.DirEntry) bool {
	if len(e.Name()) > 0 && e.Name()[0] == '.' {
		return true
	}
	return e.Type()&fs.ModeSymlink != 0
}
