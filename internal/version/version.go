// 包 version：构建版本信息，发布时通过 -ldflags "-X hexmap/internal/version.Version=..." 注入
package version

var (
	Version = "dev"
	Commit  = "unknown"
)

// String：命令行 --version 输出
func String() string { return "hexmap " + Version + " (" + Commit + ")" }
