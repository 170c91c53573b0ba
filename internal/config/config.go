package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/John-Robertt/MRID/internal/scan"
)

const (
	// ErrCodeNotFound 表示无参运行但 cwd 下没有 mrid.json。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
	// ErrCodeMissingPath 表示无参运行但配置文件缺少 path 字段。
	ErrCodeMissingPath = "config_missing_path"
)

// DefaultLogLevel 是日志级别的内置默认值（当配置未指定时）。
const DefaultLogLevel = "info"

// CLIArgs 只包含 CLI 暴露的入口（path/apply），并保留“是否显式指定”的信息。
// 这能保证覆盖优先级可实现：例如 --apply=false 必须能覆盖 config.apply=true。
type CLIArgs struct {
	Path string

	Apply    bool
	ApplySet bool
}

// FileConfig 对应 mrid.json 的解析结构。
type FileConfig struct {
	Path          string    `json:"path"`
	Apply         *bool     `json:"apply"`
	ScratchDir    string    `json:"scratch_dir"`
	MinPfileBytes int64     `json:"min_pfile_bytes"`
	ExcludeDirs   []string  `json:"exclude_dirs"`
	VisitID       int64     `json:"visit_id"`
	LogLevel      string    `json:"log_level"`
	DB            *DBConfig `json:"db"`
}

type DBConfig struct {
	DSN string `json:"dsn"`
}

// EffectiveConfig 是合并并做最小规范化后的最终配置
// （实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	Path string

	Apply bool

	// ScratchDir 为空表示用系统临时目录。
	ScratchDir    string
	MinPfileBytes int64
	ExcludeDirs   []string
	VisitID       int64
	LogLevel      string

	// DSN 为空表示没有数据库协作方（apply 时仅产出报告，不入库）。
	DSN string
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeMissingPath:
		return fmt.Sprintf("%s：配置文件 %q 缺少必填字段 path", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置文件 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 按文档约定发现并读取配置文件，然后与 CLI 参数合并为最终配置。
//
// 发现规则（固定）：
// 1) CLI 提供 path：尝试读取 <path>/mrid.json（可选）
// 2) CLI 未提供 path：必须读取 <cwd>/mrid.json（必选），且其中必须包含 path
//
// 覆盖优先级（固定）：
// - path：CLI path > config path
// - apply：CLI --apply/--apply=false > config > 默认 false
// - 其他字段：仅由 config 控制（CLI 不暴露）
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	if strings.TrimSpace(cli.Path) != "" {
		// CLI 给了 path：配置文件可选，位置固定在 <path>/mrid.json。
		absPath := absCleanFrom(cwdAbs, cli.Path)
		cfgPath := filepath.Join(absPath, "mrid.json")

		fc, _, err := readFileConfig(cfgPath)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
		return merge(absPath, cli, fc, cfgPath)
	}

	// CLI 没给 path：必须读取 <cwd>/mrid.json，且其中必须包含 path。
	cfgPath := filepath.Join(cwdAbs, "mrid.json")
	fc, exists, err := readFileConfig(cfgPath)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	if !exists {
		return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
	}
	if strings.TrimSpace(fc.Path) == "" {
		return EffectiveConfig{}, &Error{Code: ErrCodeMissingPath, Path: cfgPath}
	}

	absPath := absCleanFrom(cwdAbs, fc.Path)
	return merge(absPath, cli, fc, cfgPath)
}

func merge(absPath string, cli CLIArgs, fc FileConfig, cfgPath string) (EffectiveConfig, error) {
	// apply：CLI > config > 默认 false
	apply := false
	if cli.ApplySet {
		apply = cli.Apply
	} else if fc.Apply != nil {
		apply = *fc.Apply
	}

	minBytes := fc.MinPfileBytes
	if minBytes < 0 {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath,
			Err: fmt.Errorf("min_pfile_bytes 不能为负：%d", minBytes)}
	}
	if minBytes == 0 {
		minBytes = scan.DefaultMinPfileBytes
	}

	scratch := strings.TrimSpace(fc.ScratchDir)
	if scratch != "" {
		scratch = absCleanFrom(absPath, scratch)
	}

	level := strings.TrimSpace(fc.LogLevel)
	if level == "" {
		level = DefaultLogLevel
	}

	dsn := ""
	if fc.DB != nil {
		dsn = strings.TrimSpace(fc.DB.DSN)
	}

	if fc.VisitID < 0 {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath,
			Err: fmt.Errorf("visit_id 不能为负：%d", fc.VisitID)}
	}

	return EffectiveConfig{
		Path:          absPath,
		Apply:         apply,
		ScratchDir:    scratch,
		MinPfileBytes: minBytes,
		ExcludeDirs:   append([]string(nil), fc.ExcludeDirs...),
		VisitID:       fc.VisitID,
		LogLevel:      level,
		DSN:           dsn,
	}, nil
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
// - p 若已是绝对路径：直接 Clean
// - p 若是相对路径：Join(base, p) 后 Clean
func absCleanFrom(base, p string) string {
	p = filepath.Clean(strings.TrimSpace(p))
	if p == "" {
		return ""
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 读取并解析 JSON 配置文件。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	if err := json.Unmarshal(b, &fc); err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}
