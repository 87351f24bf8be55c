package audit

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
)

// CSVHeader is written once, when the file is created or empty.
var CSVHeader = []string{"timestamp", "user_id", "usd_value", "coins_redeemed", "status"}

const timestampLayout = "2006-01-02 15:04:05"

// CSVFile appends records to a CSV file. The file is opened per append so
// external rotation (mv + new file) is picked up without a restart.
type CSVFile struct {
	path string
	mu   sync.Mutex
}

// NewCSVFile returns a sink writing to path.
func NewCSVFile(path string) *CSVFile {
	return &CSVFile{path: path}
}

// Path returns the file the sink appends to.
func (s *CSVFile) Path() string { return s.path }

func (s *CSVFile) Append(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit csv: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat audit csv: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(CSVHeader); err != nil {
			return err
		}
	}
	row := []string{
		rec.Timestamp.UTC().Format(timestampLayout),
		rec.UserID,
		rec.USDValue.StringFixed(2),
		strconv.FormatInt(rec.CoinsRedeemed, 10),
		rec.Status,
	}
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write audit csv: %w", err)
	}
	return nil
}
