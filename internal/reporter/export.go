package reporter

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"paragon-bot-go/internal/models"
	"paragon-bot-go/internal/persistence"
)

const timeLayout = "15:04:05"

var exportHeader = []string{
	"time", "quote", "lower_bound", "divorce_buffer",
	"bband_low", "bband_mid", "bband_high",
	"macd", "macd_signal", "rsi", "event",
}

// WriteCSV 将某只股票某日的 tick 记录导出为 CSV。缺失的报价或指标输出为空字段。
func WriteCSV(reader persistence.SeriesReader, symbol, date string, w io.Writer) error {
	recs, err := reader.Ticks(symbol, date)
	if err != nil {
		return fmt.Errorf("reading ticks for %s on %s: %w", symbol, date, err)
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(exportHeader); err != nil {
		return fmt.Errorf("写入CSV表头失败: %w", err)
	}
	for _, rec := range recs {
		row := []string{
			rec.Time.Format(timeLayout),
			optCents(rec.Quote),
			optCents(rec.LowerBound),
			rec.DivorceBuffer.String(),
		}
		if ind := rec.Indicators; ind != nil {
			row = append(row,
				formatFloat(ind.BBandLow),
				formatFloat(ind.BBandMid),
				formatFloat(ind.BBandHigh),
				formatFloat(ind.MACD),
				formatFloat(ind.Signal),
				formatFloat(ind.RSI),
			)
		} else {
			row = append(row, "", "", "", "", "", "")
		}
		row = append(row, string(rec.Event))
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("写入CSV记录失败: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteDayCSV 导出某日所有股票，每只股票一个文件，由 open 提供写入目标
func WriteDayCSV(reader persistence.SeriesReader, date string, open func(symbol string) (io.WriteCloser, error)) ([]string, error) {
	symbols, err := reader.ListSeries(date)
	if err != nil {
		return nil, err
	}
	for _, sym := range symbols {
		w, err := open(sym)
		if err != nil {
			return nil, err
		}
		err = WriteCSV(reader, sym, date, w)
		if cerr := w.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return nil, err
		}
	}
	return symbols, nil
}

func optCents(c *models.Cents) string {
	if c == nil {
		return ""
	}
	return c.String()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
