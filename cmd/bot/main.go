package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"paragon-bot-go/internal/bot"
	"paragon-bot-go/internal/config"
	"paragon-bot-go/internal/downloader"
	"paragon-bot-go/internal/exchange"
	"paragon-bot-go/internal/logger"
	"paragon-bot-go/internal/models"
	"paragon-bot-go/internal/persistence"
	"paragon-bot-go/internal/quotestream"
	"paragon-bot-go/internal/reporter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	envPath    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "paragon-bot",
		Short:         "Intraday equities trading bot for Tradier accounts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json", "path to the config file")
	rootCmd.PersistentFlags().StringVar(&envPath, "env", ".env", "path to an optional .env file with credentials")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(backtestCmd())
	rootCmd.AddCommand(downloadCmd())
	rootCmd.AddCommand(exportCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig 加载 .env 和 JSON 配置，校验后用配置重新初始化日志
func loadConfig(needCredentials bool) (*models.Config, error) {
	// 在读取配置之前先使用默认配置输出日志
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	found, err := config.LoadEnv(envPath)
	if err != nil {
		return nil, err
	}
	if found {
		logger.S().Info("成功从 .env 文件加载配置。")
	} else {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("无法加载配置文件: %w", err)
	}
	if err := config.Validate(cfg, needCredentials); err != nil {
		return nil, fmt.Errorf("配置无效: %w", err)
	}

	logger.InitLogger(cfg.LogConfig)
	return cfg, nil
}

func newTradierClient(cfg *models.Config) (*exchange.TradierClient, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	return exchange.NewTradierClient(cfg.AccountID, cfg.AccessToken, cfg.APIBaseURL, loc, logger.Named("tradier")), nil
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Trade every market session until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			defer logger.L().Sync()
			return runLive(cmd.Context(), cfg)
		},
	}
}

func runLive(parent context.Context, cfg *models.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log := logger.L()
	client, err := newTradierClient(cfg)
	if err != nil {
		return err
	}

	var broker exchange.Broker = client
	var stream *quotestream.Stream
	if cfg.QuoteSource == "stream" {
		stream = quotestream.New(cfg.StreamURL, client, logger.Named("stream"))
		broker = quotestream.NewOverlay(client, stream)
		go stream.Run(ctx)
		log.Info("使用行情流获取报价", zap.String("url", cfg.StreamURL))
	}
	if cfg.DryRun {
		sim := exchange.NewSimulatedBroker(models.FromDollars(cfg.PaperCash), nil, logger.Named("paper"))
		broker = exchange.NewPaperBroker(broker, sim)
		log.Warn("模拟下单模式：订单不会发送到经纪商", zap.Float64("paper_cash", cfg.PaperCash))
	}

	recorder, err := persistence.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("打开存储失败: %w", err)
	}
	defer func() {
		if err := recorder.Close(); err != nil {
			log.Error("关闭存储失败", zap.Error(err))
		}
	}()

	b, err := bot.New(cfg, broker, recorder, bot.WithLogger(logger.Named("bot")))
	if err != nil {
		return err
	}
	b.OnDayClosed = func(s models.DaySummary) {
		reporter.RenderDaySummary(os.Stdout, s)
		if stream != nil {
			stream.Reset()
		}
	}

	if err := b.Start(ctx); err != nil {
		return err
	}
	log.Info("--- 交易机器人已启动 ---")

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("收到退出信号，正在停止...")
	case runErr = <-b.Fatal():
		log.Error("机器人因致命错误停止", zap.Error(runErr))
	}
	b.Stop()
	return runErr
}

func backtestCmd() *cobra.Command {
	var (
		dataPath string
		record   bool
	)
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay downloaded minute data through the trading loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}
			defer logger.L().Sync()
			if dataPath == "" {
				return errors.New("回测需要通过 --data 指定数据文件")
			}
			return runBacktest(cmd.Context(), cfg, dataPath, record, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&dataPath, "data", "d", "", "minute data CSV produced by the download command")
	cmd.Flags().BoolVar(&record, "record", false, "write ticks to the configured storage instead of memory")
	return cmd
}

func runBacktest(ctx context.Context, cfg *models.Config, dataPath string, record bool, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := logger.L()
	sales, err := downloader.ReadTimeSalesCSV(dataPath)
	if err != nil {
		return fmt.Errorf("读取数据文件失败: %w", err)
	}
	log.Info("--- 启动回测模式 ---", zap.String("data", dataPath), zap.Int("points", len(sales)))

	var recorder persistence.TickRecorder = persistence.NewMemoryStore()
	if record {
		if recorder, err = persistence.Open(ctx, cfg.Storage); err != nil {
			return fmt.Errorf("打开存储失败: %w", err)
		}
	}
	defer recorder.Close()

	clock := bot.NewManualClock(time.Time{})
	sim := exchange.NewSimulatedBroker(models.FromDollars(cfg.PaperCash), nil, logger.Named("backtest"))
	sim.SetClock(clock.Now)

	b, err := bot.New(cfg, sim, recorder, bot.WithClock(clock), bot.WithLogger(logger.Named("bot")))
	if err != nil {
		return err
	}
	b.OnDayClosed = func(s models.DaySummary) { reporter.RenderDaySummary(out, s) }

	replay := &bot.Replay{Bot: b, Broker: sim, Clock: clock, Logger: log}
	summaries, err := replay.Run(ctx, sales)
	if err != nil {
		return fmt.Errorf("回测失败: %w", err)
	}
	reporter.RenderReport(out, reporter.CalculateMetrics(summaries))
	return nil
}

func downloadCmd() *cobra.Command {
	var (
		symbols    []string
		start, end string
		outPath    string
	)
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download one-minute time and sales data for backtesting",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			defer logger.L().Sync()

			loc, err := time.LoadLocation(cfg.Timezone)
			if err != nil {
				return err
			}
			startTime, err1 := time.ParseInLocation(models.DateLayout, start, loc)
			endTime, err2 := time.ParseInLocation(models.DateLayout, end, loc)
			if err1 != nil || err2 != nil {
				return fmt.Errorf("日期格式错误，请使用 YYYY-MM-DD 格式。start: %v, end: %v", err1, err2)
			}
			if len(symbols) == 0 {
				return errors.New("至少需要一个 --symbols")
			}
			if outPath == "" {
				outPath = filepath.Join("data", fmt.Sprintf("%s-%s-%s.csv", strings.Join(symbols, "_"), start, end))
			}

			client, err := newTradierClient(cfg)
			if err != nil {
				return err
			}
			d := downloader.NewTimeSalesDownloader(client, logger.Named("downloader"))
			// end 日期包含在下载范围内
			if err := d.Download(cmd.Context(), symbols, outPath, startTime, endTime.AddDate(0, 0, 1)); err != nil {
				return fmt.Errorf("下载数据失败: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), outPath)
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&symbols, "symbols", "s", nil, "symbols to download (comma separated)")
	cmd.Flags().StringVar(&start, "start", "", "first day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "last day (YYYY-MM-DD)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output CSV path")
	return cmd
}

func exportCmd() *cobra.Command {
	var (
		date   string
		symbol string
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export recorded ticks of a day from the badger store as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}
			defer logger.L().Sync()
			if cfg.Storage.Backend != "badger" {
				return fmt.Errorf("export reads from badger, configured backend is %q", cfg.Storage.Backend)
			}

			store, err := persistence.NewBadgerStore(cfg.Storage.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			if symbol != "" {
				return reporter.WriteCSV(store, symbol, date, cmd.OutOrStdout())
			}

			if err := os.MkdirAll(outDir, 0755); err != nil {
				return err
			}
			written, err := reporter.WriteDayCSV(store, date, func(sym string) (io.WriteCloser, error) {
				return os.Create(filepath.Join(outDir, fmt.Sprintf("%s-%s.csv", sym, date)))
			})
			if err != nil {
				return err
			}
			if day, err := store.Day(date); err == nil && day != nil {
				reporter.RenderDaySummary(cmd.OutOrStdout(), *day)
			}
			logger.L().Info("导出完成", zap.String("date", date), zap.Strings("symbols", written), zap.String("dir", outDir))
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", time.Now().Format(models.DateLayout), "trading day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&symbol, "symbol", "", "export a single symbol to stdout")
	cmd.Flags().StringVarP(&outDir, "out", "o", "export", "directory for per-symbol CSV files")
	return cmd
}
