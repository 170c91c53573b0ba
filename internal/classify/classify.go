// Package classify 负责把原始扫描文件名映射为类型标签与重建 glob。
//
// 命名约定是对外稳定接口（外部重建工具依赖它），必须逐字保留：
// - pfile：`P` + 恰好 5 个任意字符 + `.7`，可选 `.bz2` 后缀
// - DICOM：裸 `I`、`.dcm` 后缀、或纯数字尾扩展名（glob 场景 3–4 位；通用匹配任意位数），
//   均可带 `.bz2` 后缀
// - 压缩：只认 `.bz2`
package classify

import (
	"regexp"
	"strings"

	"github.com/John-Robertt/MRID/internal/domain"
)

const compressSuffix = ".bz2"

var (
	pfileRE = regexp.MustCompile(`^P.{5}\.7(\.bz2)?$`)

	// DICOM 的三种命名变体（find_first / classify 用）。
	dicomBareIRE  = regexp.MustCompile(`^I(\.bz2)?$`)
	dicomDcmRE    = regexp.MustCompile(`\.dcm(\.bz2)?$`)
	dicomNumRE    = regexp.MustCompile(`\.[0-9]{3,4}(\.bz2)?$`)
	dicomAnyNumRE = regexp.MustCompile(`\.[0-9]+(\.bz2)?$`)
	globNumericRE = regexp.MustCompile(`\.[0-9]{3,4}`)
)

// IsCompressed 判断文件名是否带已识别的压缩后缀（仅 .bz2）。
func IsCompressed(name string) bool {
	return strings.HasSuffix(name, compressSuffix)
}

// StripCompression 去掉已识别的压缩后缀；无后缀时原样返回。
func StripCompression(name string) string {
	return strings.TrimSuffix(name, compressSuffix)
}

// Classify 把文件名映射为类型标签。
// 只看名字不看内容：宁可 other，也不允许把噪音误判成 dataset 成员。
func Classify(name string) domain.Kind {
	switch {
	case IsPfile(name):
		return domain.KindPfile
	case MatchesDicomAny(name):
		return domain.KindDicom
	default:
		return domain.KindOther
	}
}

// IsPfile 判断是否匹配 pfile 命名约定（P + 5 任意字符 + .7，可选 .bz2）。
func IsPfile(name string) bool {
	return pfileRE.MatchString(name)
}

// MatchesDicom 是 find_first 使用的严格规则：
// 裸 I、.dcm 后缀、或 3–4 位纯数字尾扩展名（各自可带 .bz2）。
func MatchesDicom(name string) bool {
	return dicomBareIRE.MatchString(name) ||
		dicomDcmRE.MatchString(name) ||
		dicomNumRE.MatchString(name)
}

// MatchesDicomAny 是 find_all 使用的宽松规则：
// 在 MatchesDicom 基础上额外接受任意位数的纯数字尾扩展名。
func MatchesDicomAny(name string) bool {
	return MatchesDicom(name) || dicomAnyNumRE.MatchString(name)
}

// GlobFor 根据 dataset 首文件名推导外部重建工具可用的 shell glob。
//
// 表按优先级从上到下求值，首个命中生效；全不命中返回 ("", false)
// （pfile dataset 恒为 false：外部工具无法按 glob 批量选中单文件归档）。
func GlobFor(firstName string) (string, bool) {
	name := StripCompression(firstName)
	if name == "" {
		return "", false
	}

	switch {
	case strings.HasPrefix(name, "E") && strings.HasSuffix(name, ".dcm"):
		return "E*.dcm", true
	case strings.HasSuffix(name, ".dcm"):
		return "*.dcm", true
	case strings.HasPrefix(name, "I."):
		return "I.*", true
	case strings.HasPrefix(name, "I"):
		return "I*.dcm", true
	case globNumericRE.MatchString(name):
		// 注意：规则是“包含 .数字{3,4}”而非锚定结尾；
		// 例如 file.00123 也靠前四位数字命中本行。
		return "*.[0-9]*", true
	case strings.Contains(name, ".0"):
		return "*.0*", true
	default:
		return "", false
	}
}
