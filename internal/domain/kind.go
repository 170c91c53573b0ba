package domain

import "fmt"

// Kind 是原始扫描文件的类型标签（封闭枚举）。
//
// 约束：分类只在边界（classify/dataset 构造）发生一次；
// 下游代码只允许 switch 这三个已知值，遇到未知值必须报错而不是兜底。
type Kind uint8

const (
	// KindOther 表示无法识别的文件（既不是 DICOM 也不是 pfile）。
	KindOther Kind = iota
	// KindDicom 表示逐切片的 DICOM 系列文件。
	KindDicom
	// KindPfile 表示单文件整系列归档（P…7 命名约定）。
	KindPfile
)

func (k Kind) String() string {
	switch k {
	case KindDicom:
		return "dicom"
	case KindPfile:
		return "pfile"
	case KindOther:
		return "other"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Valid 判断 k 是否是已知枚举值（含 KindOther）。
func (k Kind) Valid() bool {
	switch k {
	case KindDicom, KindPfile, KindOther:
		return true
	default:
		return false
	}
}
