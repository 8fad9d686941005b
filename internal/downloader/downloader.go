package downloader

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"paragon-bot-go/internal/models"

	"go.uber.org/zap"
)

// TimeSalesSource 提供分钟级历史成交数据
type TimeSalesSource interface {
	GetTimeSales(ctx context.Context, symbol string, start, end time.Time) ([]models.TimeSale, error)
}

var header = []string{"symbol", "time", "price", "low", "high"}

// TimeSalesDownloader 用于从经纪商下载分钟级成交数据
type TimeSalesDownloader struct {
	source TimeSalesSource
	logger *zap.Logger
	// Pause 是两次请求之间的间隔，避免触发限流
	Pause time.Duration
}

// NewTimeSalesDownloader 创建一个新的下载器实例
func NewTimeSalesDownloader(source TimeSalesSource, logger *zap.Logger) *TimeSalesDownloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TimeSalesDownloader{source: source, logger: logger, Pause: 200 * time.Millisecond}
}

// Download 按天下载 [start, end) 范围内多只股票的分钟数据，并保存到CSV文件。
// 如果文件已存在，则会跳过下载，直接使用缓存。
func (d *TimeSalesDownloader) Download(ctx context.Context, symbols []string, filePath string, start, end time.Time) error {
	if _, err := os.Stat(filePath); !os.IsNotExist(err) {
		d.logger.Info("从缓存加载数据", zap.String("path", filePath))
		return nil
	}

	d.logger.Info("开始下载分钟数据",
		zap.Strings("symbols", symbols),
		zap.Time("start", start),
		zap.Time("end", end))

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("无法创建目录 %s: %w", dir, err)
	}

	// 先写入临时文件，下载中断时不留下不完整的缓存
	tmp := filePath + ".part"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("无法创建文件 %s: %w", tmp, err)
	}
	n, err := d.write(ctx, file, symbols, start, end)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, filePath); err != nil {
		return err
	}

	d.logger.Info("成功下载分钟数据", zap.String("path", filePath), zap.Int("rows", n))
	return nil
}

func (d *TimeSalesDownloader) write(ctx context.Context, w io.Writer, symbols []string, start, end time.Time) (int, error) {
	writer := csv.NewWriter(w)
	if err := writer.Write(header); err != nil {
		return 0, fmt.Errorf("写入CSV表头失败: %w", err)
	}

	rows := 0
	for day := start; day.Before(end); day = day.AddDate(0, 0, 1) {
		dayEnd := day.AddDate(0, 0, 1)
		if dayEnd.After(end) {
			dayEnd = end
		}
		var batch []models.TimeSale
		for _, sym := range symbols {
			sales, err := d.source.GetTimeSales(ctx, sym, day, dayEnd)
			if err != nil {
				return rows, fmt.Errorf("下载 %s %s 的分钟数据失败: %w", sym, day.Format(models.DateLayout), err)
			}
			batch = append(batch, sales...)
			if d.Pause > 0 {
				select {
				case <-ctx.Done():
					return rows, ctx.Err()
				case <-time.After(d.Pause):
				}
			}
		}
		sort.SliceStable(batch, func(i, j int) bool { return batch[i].Time.Before(batch[j].Time) })
		for _, s := range batch {
			record := []string{s.Symbol, s.Time.Format(time.RFC3339), s.Price.String(), s.Low.String(), s.High.String()}
			if err := writer.Write(record); err != nil {
				return rows, fmt.Errorf("写入CSV记录失败: %w", err)
			}
			rows++
		}
		d.logger.Debug("已下载数据", zap.String("date", day.Format(models.DateLayout)), zap.Int("rows", len(batch)))
	}
	writer.Flush()
	return rows, writer.Error()
}

// ReadTimeSalesCSV 读取 Download 生成的CSV文件，用于回测
func ReadTimeSalesCSV(path string) ([]models.TimeSale, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ParseTimeSales(file)
}

// ParseTimeSales 解析分钟数据CSV
func ParseTimeSales(r io.Reader) ([]models.TimeSale, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(header)

	first, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	for i, col := range header {
		if first[i] != col {
			return nil, fmt.Errorf("unexpected CSV header %v", first)
		}
	}

	var out []models.TimeSale
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, rec[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: bad time %q: %w", line, rec[1], err)
		}
		var cents [3]models.Cents
		for i, v := range rec[2:] {
			c, err := models.ParseCents(v)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad price %q: %w", line, v, err)
			}
			cents[i] = c
		}
		out = append(out, models.TimeSale{Symbol: rec[0], Time: t, Price: cents[0], Low: cents[1], High: cents[2]})
	}
	return out, nil
}
