// Package staging 负责把远端/压缩的原始文件落成本地草稿副本（LocalStaging）。
//
// 约束：
// - 每个副本都必须走“作用域获取”：无论消费方成功、出错还是提前返回，
//   副本在作用域退出前删除，草稿目录在批作用域结束时整体删除
// - 解压委托给外部解压工具子进程，stdout 重定向进目标文件（往返必须逐字节一致）
// - 单文件失败只影响自己：批量 staging 里对应副本缺席，兄弟文件继续
package staging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/John-Robertt/MRID/internal/classify"
)

// bunzipProgram 是外部解压工具；-c 让它把解压内容写到 stdout。
const bunzipProgram = "bunzip2"

// 通过可替换的函数指针，让测试能稳定模拟解压失败/解压工具缺失。
var execCommand = exec.Command

// StageError 表示单个文件 staging 失败（解压失败、I/O 错误）。
// 上层可把它映射为 error_code=stage_failed。
type StageError struct {
	Src string
	Err error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("staging 失败：%q：%v", e.Src, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// IsStage 判断 err 是否为 staging 失败错误。
func IsStage(err error) bool {
	var e *StageError
	return errors.As(err, &e)
}

// LocalCopy 是进程级草稿目录里的一个临时副本，由请求它的调用方独占。
// Src 记录来源路径，供批量消费方把副本映射回原始文件。
type LocalCopy struct {
	Path string
	Src  string
	Size int64
}

// Remove 删除副本；副本已不存在时不算错误（幂等）。
func (c LocalCopy) Remove() error {
	if err := os.Remove(c.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Scratch 是一次运行独占的草稿目录。Close 连同残留副本一起整体删除。
type Scratch struct {
	Dir string
}

// NewScratch 在 parent 下创建唯一命名的草稿目录；parent 为空时用系统临时目录。
func NewScratch(parent string) (Scratch, error) {
	if strings.TrimSpace(parent) == "" {
		parent = os.TempDir()
	}
	dir := filepath.Join(filepath.Clean(parent), "mrid-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Scratch{}, err
	}
	return Scratch{Dir: dir}, nil
}

func (s Scratch) Close() error {
	if s.Dir == "" {
		return nil
	}
	return os.RemoveAll(s.Dir)
}

// 文件名里不合法/易惹事的字符统一折叠成单个连字符。
var collapseRE = regexp.MustCompile(`[\s():/?,]+`)

// DestName 推导落盘文件名：先去掉已识别的压缩后缀，再做合法化。
//
// 合法化规则（对外稳定，不得擅改）：
// - 空白、括号、冒号、斜杠、问号、逗号的连续串 → 单个 "-"
// - "*" → 字面量 "star"
// - base name 里的 "." 全部去除（扩展名保留）
func DestName(name string) string {
	name = classify.StripCompression(filepath.Base(name))

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	base = collapseRE.ReplaceAllString(base, "-")
	base = strings.ReplaceAll(base, "*", "star")
	base = strings.ReplaceAll(base, ".", "")
	return base + ext
}

// Stage 把 src 落成 scratchDir 下的本地副本。
//
// - 目标已存在时先删除（幂等的重复 staging）
// - src 带压缩后缀：解压进目标文件；否则逐字节复制
// - 失败时不留半成品：目标文件会被清掉
func Stage(src, scratchDir string) (LocalCopy, error) {
	dst := filepath.Join(scratchDir, DestName(src))

	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return LocalCopy{}, &StageError{Src: src, Err: err}
	}

	var err error
	if classify.IsCompressed(src) {
		err = decompressTo(src, dst)
	} else {
		err = copyTo(src, dst)
	}
	if err != nil {
		_ = os.Remove(dst)
		return LocalCopy{}, &StageError{Src: src, Err: err}
	}

	fi, err := os.Stat(dst)
	if err != nil {
		_ = os.Remove(dst)
		return LocalCopy{}, &StageError{Src: src, Err: err}
	}
	return LocalCopy{Path: dst, Src: src, Size: fi.Size()}, nil
}

// WithStaged 以作用域形式使用单个副本：fn 恰好执行一次，
// 无论 fn 结果如何，副本在返回前删除。
func WithStaged(src, scratchDir string, fn func(LocalCopy) error) error {
	c, err := Stage(src, scratchDir)
	if err != nil {
		return err
	}
	defer func() { _ = c.Remove() }()
	return fn(c)
}

// StageAll 把 dir 直接子项里所有匹配 DICOM 宽松规则的文件批量落进共享草稿目录。
//
// 单文件失败：记一条日志、对应副本缺席，兄弟文件继续（批不中止）。
// 返回的副本顺序确定（os.ReadDir 按文件名排序）。
func StageAll(log zerolog.Logger, dir, scratchDir string) ([]LocalCopy, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &StageError{Src: dir, Err: err}
	}

	copies := make([]LocalCopy, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if !classify.MatchesDicomAny(name) {
			continue
		}

		c, err := Stage(filepath.Join(dir, name), scratchDir)
		if err != nil {
			log.Warn().Str("src", filepath.Join(dir, name)).Err(err).
				Msg("单文件 staging 失败，跳过")
			continue
		}
		copies = append(copies, c)
	}
	return copies, nil
}

// WithStagedAll 是 StageAll 的批作用域形式：fn 返回后（包括出错时），
// 本批产出的全部副本都会被删除。
func WithStagedAll(log zerolog.Logger, dir, scratchDir string, fn func([]LocalCopy) error) error {
	copies, err := StageAll(log, dir, scratchDir)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range copies {
			_ = c.Remove()
		}
	}()
	return fn(copies)
}

func copyTo(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// decompressTo 调起外部解压子进程，stdout 直接写进 dst。
// 没有超时机制：外部工具挂起会阻塞整条流水线（调用方如需响应性自行加外部超时）。
func decompressTo(src, dst string) error {
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}

	var stderr strings.Builder
	cmd := execCommand(bunzipProgram, "-c", src)
	cmd.Stdout = out
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	closeErr := out.Close()
	if runErr != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s：%w：%s", bunzipProgram, runErr, msg)
		}
		return fmt.Errorf("%s：%w", bunzipProgram, runErr)
	}
	return closeErr
}
