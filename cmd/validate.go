package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"yqhp/load-probe/internal/config"
	"yqhp/load-probe/pkg/runner"
)

// validateCmd 是 validate 子命令
var validateCmd = &cobra.Command{
	Use:   "validate <plan.yaml>",
	Short: "校验测试计划而不发送流量",
	Long: `校验引擎配置与测试计划：执行器、阶段、流量配比、阈值表达式和输出目标。
任何错误都以退出码 104 结束。`,
	Args: cobra.ExactArgs(1),
	RunE: validatePlan,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func validatePlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	plan, err := config.LoadPlan(args[0])
	if err != nil {
		return configError(err)
	}

	// 完整装配一次运行（阈值、流量配比、输出），但不启动
	if _, err := runner.New(runner.RunOptions{Plan: plan, Config: cfg}); err != nil {
		return configError(err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "测试计划 %q 校验通过\n", plan.Name)
	for _, sc := range plan.ScenarioList() {
		fmt.Fprintf(out, "  场景 %s: %s, 预计时长 %s\n", sc.Name, sc.Executor, sc.TotalDuration())
	}
	fmt.Fprintf(out, "  阈值: %d 个指标\n", len(plan.Thresholds))
	return nil
}
