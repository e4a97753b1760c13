package matrix

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// Header：矩阵 CSV 表头
var Header = []string{"FROM_ID", "TO_ID", "DURATION_H", "DIST_KM"}

// EncodeCSV：按行序写出矩阵；不可达单元距离与时长为空
func EncodeCSV(rows []Row) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(Header); err != nil {
		return nil, err
	}
	rec := make([]string, 4)
	for _, r := range rows {
		rec[0] = strconv.FormatInt(r.FromID, 10)
		rec[1] = strconv.FormatInt(r.ToID, 10)
		rec[2], rec[3] = "", ""
		if r.Reachable {
			rec[2] = strconv.FormatFloat(r.DurationH, 'f', -1, 64)
			rec[3] = strconv.FormatFloat(r.DistanceKM, 'f', -1, 64)
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// DecodeCSV：解析矩阵 CSV；空的距离或时长字段视为不可达
func DecodeCSV(data []byte) ([]Row, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = len(Header)
	if _, err := r.Read(); err != nil {
		return nil, fmt.Errorf("matrix csv header: %w", err)
	}
	var rows []Row
	for line := 2; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("matrix csv line %d: %w", line, err)
		}
		from, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("matrix csv line %d: %w", line, err)
		}
		to, err := strconv.ParseInt(rec[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("matrix csv line %d: %w", line, err)
		}
		row := Row{FromID: from, ToID: to}
		if rec[2] != "" && rec[3] != "" {
			if row.DurationH, err = strconv.ParseFloat(rec[2], 64); err != nil {
				return nil, fmt.Errorf("matrix csv line %d: %w", line, err)
			}
			if row.DistanceKM, err = strconv.ParseFloat(rec[3], 64); err != nil {
				return nil, fmt.Errorf("matrix csv line %d: %w", line, err)
			}
			row.Reachable = true
		}
		rows = append(rows, row)
	}
}
