// Package cmd 提供 load-probe CLI 的命令实现
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"yqhp/load-probe/internal/config"
	"yqhp/load-probe/pkg/logger"
	"yqhp/load-probe/pkg/types"

	// 导入所有输出插件
	_ "yqhp/load-probe/pkg/output/all"
)

const (
	// Version 是当前版本号
	Version = "0.1.0"
	// Banner 是启动时显示的 ASCII 艺术
	Banner = `
          /\      |‾‾| load-probe %s
     /\  /  \     |  |
    /  \/    \    |  |
   /          \   |  |
  / __________ \  |__|
`
)

var (
	// 全局配置
	cfgFile   string
	overrides []string
	debug     bool
	quiet     bool
)

// rootCmd 是根命令
var rootCmd = &cobra.Command{
	Use:   "load-probe",
	Short: "负载生成与 SLO 验证引擎",
	Long: `load-probe 按声明的到达模式向基因组数据 API 发送合成流量，
统计延迟与错误率，评估阈值，并抓取被测服务的 Prometheus 指标以观察其过载行为。`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// ExitError 携带进程退出码
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func configError(err error) error {
	return &ExitError{Code: types.ExitConfigError, Err: err}
}

// Execute 执行根命令并返回进程退出码
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return types.ExitOK
	}

	var exit *ExitError
	if errors.As(err, &exit) {
		if exit.Err != nil {
			fmt.Fprintln(os.Stderr, "错误:", exit.Err)
		}
		return exit.Code
	}
	fmt.Fprintln(os.Stderr, "错误:", err)
	return 1
}

func init() {
	// 全局 flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "引擎配置文件路径")
	rootCmd.PersistentFlags().StringArrayVar(&overrides, "set", nil, "覆盖配置项，格式: key=value (可多次指定)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "启用调试日志")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "静默模式")

	// 禁用默认的 completion 命令
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// 自定义版本模板
	rootCmd.SetVersionTemplate(fmt.Sprintf(Banner, Version) + "\n")
}

// loadConfig 按 默认值 < 配置文件 < 环境变量 < --set 的顺序加载并校验配置，
// 然后初始化全局日志
func loadConfig() (*config.Config, error) {
	args, err := config.ParseCmdArgs(overrides)
	if err != nil {
		return nil, configError(err)
	}
	cfg, err := config.NewLoader().WithConfigPath(cfgFile).WithCmdArgs(args).Load()
	if err != nil {
		return nil, configError(err)
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, configError(err)
	}
	logger.Init(&cfg.Logging)
	return cfg, nil
}

// GetRootCmd 返回根命令（用于测试）
func GetRootCmd() *cobra.Command {
	return rootCmd
}
