package coin

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// CSVHeader is the first row of a redemption export.
var CSVHeader = []string{"id", "user_id", "coins_redeemed", "usd_value", "requested_at", "status"}

// WriteCSV writes records as a quoted CSV document with a header row.
// usd_value is the decimal's exact string so ReadCSV reproduces it.
func WriteCSV(w io.Writer, records []RedemptionRequest) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			strconv.FormatInt(int64(r.ID), 10),
			r.UserID,
			strconv.FormatInt(r.CoinsRedeemed, 10),
			r.USDValue.String(),
			r.RequestedAt.UTC().Format(TimestampLayout),
			string(r.Status),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses a document produced by WriteCSV.
func ReadCSV(r io.Reader) ([]RedemptionRequest, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(CSVHeader)

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty csv: missing header")
	}
	if err != nil {
		return nil, err
	}
	for i, name := range CSVHeader {
		if header[i] != name {
			return nil, fmt.Errorf("unexpected csv column %d: %q, want %q", i, header[i], name)
		}
	}

	var out []RedemptionRequest
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		rec, err := parseCSVRow(row)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		out = append(out, rec)
	}
}

func parseCSVRow(row []string) (RedemptionRequest, error) {
	id, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return RedemptionRequest{}, fmt.Errorf("id: %w", err)
	}
	coins, err := strconv.ParseInt(row[2], 10, 64)
	if err != nil {
		return RedemptionRequest{}, fmt.Errorf("coins_redeemed: %w", err)
	}
	usd, err := decimal.NewFromString(row[3])
	if err != nil {
		return RedemptionRequest{}, fmt.Errorf("usd_value: %w", err)
	}
	at, err := time.Parse(TimestampLayout, row[4])
	if err != nil {
		return RedemptionRequest{}, fmt.Errorf("requested_at: %w", err)
	}
	status := RedemptionStatus(row[5])
	if !status.Valid() {
		return RedemptionRequest{}, fmt.Errorf("status: unknown %q", row[5])
	}
	return RedemptionRequest{
		ID:            RedemptionID(id),
		UserID:        row[1],
		CoinsRedeemed: coins,
		USDValue:      usd,
		RequestedAt:   at,
		Status:        status,
	}, nil
}
