package domain

// RawFile 描述一次遍历发现的原始扫描文件（只做 stat + 文件名判断，不读内容）。
//
// 不变量（实现必须遵守）：
// - AbsPath 必须是 clean + absolute
// - 分类一旦完成即只读：任何阶段都不允许回写 Kind/Compressed
type RawFile struct {
	AbsPath string
	Kind    Kind
	// Compressed 表示文件名带已识别的压缩后缀（仅 .bz2）。
	Compressed bool
	Size       int64
}
