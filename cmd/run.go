package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"yqhp/load-probe/api/rest"
	"yqhp/load-probe/internal/config"
	"yqhp/load-probe/internal/output/summary"
	"yqhp/load-probe/pkg/logger"
	"yqhp/load-probe/pkg/runner"
	"yqhp/load-probe/pkg/types"
)

var (
	// run 命令的 flags
	runSummaryExport string
	runReport        string
	runOutputs       []string
	runNoColor       bool
	runStatus        bool
	runStatusAddr    string
)

// runCmd 是 run 子命令
var runCmd = &cobra.Command{
	Use:   "run <plan.yaml>",
	Short: "执行测试计划",
	Long: `执行 YAML 测试计划中的全部场景，结束时打印汇总并按结果设置退出码。

退出码：
  0    全部阈值通过
  99   阈值未通过或因 abort_on_fail 中止
  104  配置或测试计划错误
  107  场景致命错误（如超过 max_duration）`,
	Example: `  # 基本执行
  load-probe run plan.yaml

  # 导出汇总与负载报告
  load-probe run --summary-export summary.json --report report.json plan.yaml

  # 输出样本到 InfluxDB 与 Kafka
  load-probe run --out influxdb=http://localhost:8086/loadprobe --out kafka=localhost:9092?topic=samples plan.yaml

  # 覆盖引擎配置
  load-probe run --set metrics.trend_sample_cap=5000 --set status.enabled=true plan.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runSummaryExport, "summary-export", "", "汇总 JSON 导出路径")
	runCmd.Flags().StringVar(&runReport, "report", "", "负载报告 JSON 路径")
	runCmd.Flags().StringArrayVarP(&runOutputs, "out", "o", nil, "样本输出目标 (可多次指定)，格式: type=config")
	runCmd.Flags().BoolVar(&runNoColor, "no-color", false, "禁用彩色输出")
	runCmd.Flags().BoolVar(&runStatus, "status", false, "启用实时状态服务")
	runCmd.Flags().StringVar(&runStatusAddr, "status-address", "", "实时状态服务监听地址")
}

// applyRunFlags 将 run 命令的 flags 覆盖到配置上，只覆盖显式指定的项
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("summary-export") {
		cfg.Output.SummaryExport = runSummaryExport
	}
	if flags.Changed("report") {
		cfg.Output.Report = runReport
	}
	if flags.Changed("out") {
		cfg.Output.Samples = append(cfg.Output.Samples, runOutputs...)
	}
	if flags.Changed("no-color") {
		cfg.Output.NoColor = runNoColor
	}
	if flags.Changed("status") {
		cfg.Status.Enabled = runStatus
	}
	if flags.Changed("status-address") {
		cfg.Status.Address = runStatusAddr
	}
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyRunFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return configError(err)
	}
	defer logger.Sync()

	plan, err := config.LoadPlan(args[0])
	if err != nil {
		return configError(err)
	}

	// 处理关闭信号：第一次中断停止发起新迭代并进入汇总
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	progress := newProgressPrinter(quiet)
	r, err := runner.New(runner.RunOptions{
		Plan:       plan,
		Config:     cfg,
		Logger:     logger.L(),
		OnProgress: progress.update,
	})
	if err != nil {
		return configError(err)
	}

	if cfg.Status.Enabled {
		statusCtx, cancelStatus := context.WithCancel(context.Background())
		defer cancelStatus()
		srv := rest.NewServer(r, &rest.Config{
			Address:      cfg.Status.Address,
			ReadTimeout:  cfg.Status.ReadTimeout,
			WriteTimeout: cfg.Status.WriteTimeout,
		}, logger.Named("status"))
		go func() {
			if err := srv.StartWithContext(statusCtx); err != nil {
				logger.Warn("实时状态服务退出", zap.Error(err))
			}
		}()
	}

	if !quiet {
		printRunInfo(plan, r.ID())
	}

	res, err := r.Run(ctx)
	progress.done()
	if err != nil {
		return fmt.Errorf("执行失败: %w", err)
	}

	if !quiet {
		console := summary.NewConsole(os.Stdout, summary.ColorEnabled(os.Stdout, cfg.Output.NoColor))
		if err := console.Write(res.Snapshot, res.Thresholds, res.SummaryRun(), res.Failures); err != nil {
			logger.Warn("打印汇总失败", zap.Error(err))
		}
	}

	if path := cfg.Output.SummaryExport; path != "" {
		if err := summary.WriteJSON(path, summary.NewExport(res.Snapshot, res.Thresholds, res.SummaryRun())); err != nil {
			return fmt.Errorf("写入汇总导出失败: %w", err)
		}
		logger.Info("汇总已导出", zap.String("path", path))
	}

	if path := cfg.Output.Report; path != "" {
		report := summary.NewLoadReport(res.Snapshot, res.Thresholds, res.SummaryRun(), plan.Limits)
		if err := summary.WriteJSON(path, report); err != nil {
			return fmt.Errorf("写入负载报告失败: %w", err)
		}
		logger.Info("负载报告已写入", zap.String("path", path), zap.Bool("passed", report.Passed))
	}

	if code := res.ExitCode(); code != types.ExitOK {
		return &ExitError{Code: code, Err: res.Err}
	}
	return nil
}

func printRunInfo(plan *config.Plan, runID string) {
	fmt.Printf(Banner, Version)
	fmt.Printf("  计划: %s\n", plan.Name)
	fmt.Printf("  运行 ID: %s\n", runID)
	fmt.Printf("  目标: %s\n", plan.Target.BaseURL)
	fmt.Println()
	for _, sc := range plan.ScenarioList() {
		fmt.Printf("  场景 %s: %s", sc.Name, sc.Executor)
		if sc.StartTime > 0 {
			fmt.Printf(" (延迟 %s 启动)", sc.StartTime)
		}
		fmt.Println()
	}
	fmt.Println()
	fmt.Println("执行中...")
	fmt.Println()
}

// progressPrinter 在终端上原地刷新一行进度
type progressPrinter struct {
	enabled    bool
	lastUpdate time.Time
}

func newProgressPrinter(quiet bool) *progressPrinter {
	return &progressPrinter{
		enabled: !quiet && isatty.IsTerminal(os.Stderr.Fd()),
	}
}

func (p *progressPrinter) update(pr runner.Progress) {
	if !p.enabled || time.Since(p.lastUpdate) < 200*time.Millisecond {
		return
	}
	p.lastUpdate = time.Now()
	fmt.Fprintf(os.Stderr, "\r  运行时间: %-10s  VUs: %d/%d  迭代: %d   ",
		pr.Elapsed.Round(time.Second), pr.VUs, pr.VUsMax, pr.Iterations)
}

func (p *progressPrinter) done() {
	if p.enabled && !p.lastUpdate.IsZero() {
		fmt.Fprintln(os.Stderr)
	}
}
