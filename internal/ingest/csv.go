package ingest

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/driftwatch/internal/model"
)

// ReadEvents parses an event-log CSV. Expected header:
//
//	entity_id,event_type,event_timestamp[,payload]
//
// Timestamps are RFC 3339; payload, when present, is a JSON object of
// string values. Rows keep file order so same-timestamp events replay the
// way they were logged.
func ReadEvents(r io.Reader) ([]model.EventRecord, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read event header")
	}
	cols, err := columnIndex(header, "entity_id", "event_type", "event_timestamp")
	if err != nil {
		return nil, err
	}
	payloadIdx := indexOf(header, "payload")

	var events []model.EventRecord
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: read event row %d", line)
		}

		ts, err := time.Parse(time.RFC3339, row[cols["event_timestamp"]])
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: parse timestamp at row %d", line)
		}

		e := model.EventRecord{
			EntityID:  row[cols["entity_id"]],
			Type:      row[cols["event_type"]],
			Timestamp: ts.UTC(),
		}
		if e.EntityID == "" || e.Type == "" {
			return nil, eris.Errorf("ingest: empty entity or event type at row %d", line)
		}
		if payloadIdx >= 0 && payloadIdx < len(row) && strings.TrimSpace(row[payloadIdx]) != "" {
			if err := json.Unmarshal([]byte(row[payloadIdx]), &e.Payload); err != nil {
				return nil, eris.Wrapf(err, "ingest: parse payload at row %d", line)
			}
		}
		events = append(events, e)
	}
	return events, nil
}

// ReadMetricPoints parses a daily metric CSV. Expected header:
//
//	date,value
//
// Dates are YYYY-MM-DD; an empty value marks a day with no evaluation and
// is kept as a null point rather than dropped.
func ReadMetricPoints(r io.Reader) ([]model.MetricPoint, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read metric header")
	}
	cols, err := columnIndex(header, "date", "value")
	if err != nil {
		return nil, err
	}

	var points []model.MetricPoint
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: read metric row %d", line)
		}

		date, err := time.ParseInLocation("2006-01-02", row[cols["date"]], time.UTC)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: parse date at row %d", line)
		}

		p := model.MetricPoint{Date: date}
		if raw := strings.TrimSpace(row[cols["value"]]); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, eris.Wrapf(err, "ingest: parse value at row %d", line)
			}
			p.Value = &v
		}
		points = append(points, p)
	}
	return points, nil
}

func columnIndex(header []string, required ...string) (map[string]int, error) {
	cols := make(map[string]int, len(required))
	for _, name := range required {
		idx := indexOf(header, name)
		if idx < 0 {
			return nil, eris.Errorf("ingest: missing column %q", name)
		}
		cols[name] = idx
	}
	return cols, nil
}

func indexOf(header []string, name string) int {
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}
	return -1
}
