package downloader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"paragon-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	calls int
	err   error
}

func (f *fakeSource) GetTimeSales(_ context.Context, symbol string, start, _ time.Time) ([]models.TimeSale, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	open := start.Add(9*time.Hour + 30*time.Minute)
	return []models.TimeSale{
		{Symbol: symbol, Time: open, Price: 1000, Low: 990, High: 1010},
		{Symbol: symbol, Time: open.Add(time.Minute), Price: 1005, Low: 990, High: 1010},
	}, nil
}

func TestDownloadWritesAndCaches(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	start := time.Date(2024, 3, 4, 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 2)

	src := &fakeSource{}
	d := NewTimeSalesDownloader(src, nil)
	d.Pause = 0
	path := filepath.Join(t.TempDir(), "data", "sales.csv")

	require.NoError(t, d.Download(context.Background(), []string{"ABC", "XYZ"}, path, start, end))
	assert.Equal(t, 4, src.calls)

	sales, err := ReadTimeSalesCSV(path)
	require.NoError(t, err)
	require.Len(t, sales, 8)
	assert.Equal(t, "ABC", sales[0].Symbol)
	assert.Equal(t, "XYZ", sales[1].Symbol, "each day is ordered by time")
	assert.True(t, sales[0].Time.Equal(start.Add(9*time.Hour+30*time.Minute)))
	assert.Equal(t, models.Cents(1000), sales[0].Price)
	assert.Equal(t, models.Cents(990), sales[0].Low)
	assert.Equal(t, models.Cents(1010), sales[0].High)

	// 第二次下载直接使用缓存
	require.NoError(t, d.Download(context.Background(), []string{"ABC"}, path, start, end))
	assert.Equal(t, 4, src.calls)
}

func TestDownloadFailureLeavesNoCache(t *testing.T) {
	src := &fakeSource{err: errors.New("rate limited")}
	d := NewTimeSalesDownloader(src, nil)
	d.Pause = 0
	path := filepath.Join(t.TempDir(), "sales.csv")

	start := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	err := d.Download(context.Background(), []string{"ABC"}, path, start, start.AddDate(0, 0, 1))
	require.Error(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(path + ".part")
	assert.True(t, os.IsNotExist(statErr))
}

func TestParseTimeSalesRejectsBadInput(t *testing.T) {
	_, err := ParseTimeSales(strings.NewReader("a,b,c,d,e\n"))
	assert.Error(t, err)

	_, err = ParseTimeSales(strings.NewReader("symbol,time,price,low,high\nABC,yesterday,1,1,1\n"))
	assert.Error(t, err)

	_, err = ParseTimeSales(strings.NewReader("symbol,time,price,low,high\nABC,2024-03-04T09:30:00-05:00,abc,1,1\n"))
	assert.Error(t, err)

	sales, err := ParseTimeSales(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, sales)
}
