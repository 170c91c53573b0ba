// Package recon 为外部体积重建工具生成调用命令（策略按 dataset 类型在构造时一次选定）。
//
// 约束：
// - 本包只产出命令字符串与预期输出路径，永远不执行命令
// - 类型分派走封闭枚举 + 固定接口；未知类型由 UnknownBuilder 显式报错，
//   不允许在任意调用点做运行时类型猜测
package recon

import (
	"fmt"
	"path/filepath"

	"github.com/John-Robertt/MRID/internal/dataset"
	"github.com/John-Robertt/MRID/internal/domain"
)

// Builder 把“重建工具的调用差异”限制在 recon 包内部；核心流程只依赖统一接口。
//
// 约束：
// - Command 必须是纯函数：相同输入 => 相同输出
// - 返回的 outPath 是命令成功后预期产物的绝对路径（调用方负责执行与校验）
type Builder interface {
	Kind() domain.Kind
	Command(outDir, outName string, d *dataset.RawImageDataset) (cmd string, outPath string, err error)
}

// ForKind 按 dataset 类型返回对应策略；构造后不再变。
func ForKind(k domain.Kind) Builder {
	switch k {
	case domain.KindDicom:
		return DicomBuilder{}
	case domain.KindPfile:
		return PfileBuilder{}
	default:
		return UnknownBuilder{}
	}
}

// DicomBuilder 用 dataset 的 glob 让重建工具一次吃下整个系列。
type DicomBuilder struct{}

func (DicomBuilder) Kind() domain.Kind { return domain.KindDicom }

func (DicomBuilder) Command(outDir, outName string, d *dataset.RawImageDataset) (string, string, error) {
	glob, ok := d.Glob()
	if !ok {
		return "", "", fmt.Errorf("dataset 无可用 glob，无法批量重建：%q", d.ScannedFile)
	}
	outPath := filepath.Join(outDir, outName+".nii")
	cmd := fmt.Sprintf("to3d -prefix %s -session %s %s",
		outName, outDir, filepath.Join(d.Dir, glob))
	return cmd, outPath, nil
}

// PfileBuilder 把单文件归档直接交给重建工具。
type PfileBuilder struct{}

func (PfileBuilder) Kind() domain.Kind { return domain.KindPfile }

func (PfileBuilder) Command(outDir, outName string, d *dataset.RawImageDataset) (string, string, error) {
	outPath := filepath.Join(outDir, outName+".nii")
	cmd := fmt.Sprintf("epirecon -f %s -NAME %s",
		d.Files[0].Path, filepath.Join(outDir, outName))
	return cmd, outPath, nil
}

// UnknownBuilder 是封闭分派的兜底变体：到这里说明边界校验被绕过了，直接报错。
type UnknownBuilder struct{}

func (UnknownBuilder) Kind() domain.Kind { return domain.KindOther }

func (UnknownBuilder) Command(string, string, *dataset.RawImageDataset) (string, string, error) {
	return "", "", fmt.Errorf("未知 dataset 类型，无法生成重建命令")
}
