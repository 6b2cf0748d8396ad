package metrics

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
)

// ReadEventsCSV reads an event CSV written by EventWriter.
func ReadEventsCSV(path string) ([]EventLine, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open events CSV: %w", err)
	}
	defer file.Close()
	return ReadEvents(file)
}

// ReadEvents parses event rows from r. Columns are located by header name,
// so extra columns are ignored.
func ReadEvents(r io.Reader) ([]EventLine, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read CSV header: %w", err)
	}
	colIndex := make(map[string]int, len(header))
	for i, col := range header {
		colIndex[col] = i
	}
	for _, col := range EventHeader {
		if _, ok := colIndex[col]; !ok {
			return nil, fmt.Errorf("CSV missing required column: %s", col)
		}
	}

	var lines []EventLine
	for row := 2; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read CSV row %d: %w", row, err)
		}
		p := fieldParser{record: record, cols: colIndex}
		l := EventLine{
			Type:       p.str("type"),
			TMs:        p.int64("t_ms"),
			Event:      p.str("event"),
			Authorized: int(p.int64("authorized")),
		}
		l.Metrics = Metrics{
			Scenario:                 p.str("scenario"),
			AuthorizedAuditChanges:   p.uint32("auth_audit"),
			UnauthorizedAuditChanges: p.uint32("unauth_audit"),
			AuthorizedPIDChanges:     p.uint32("auth_pid"),
			UnauthorizedPIDChanges:   p.uint32("unauth_pid"),
			ReadFailures:             p.uint32("read_fail"),
			CommFaultIntervals:       p.uint32("comm_faults"),
			BaselineEstablishedMs:    p.int64("baseline_ms"),
			FirstDetectionMs:         p.int64("first_det_ms"),
			TotalCommFaultDurMs:      p.int64("comm_fault_ms"),
		}
		if p.err != nil {
			return nil, fmt.Errorf("CSV row %d: %w", row, p.err)
		}
		lines = append(lines, l)
	}
	return lines, nil
}

// fieldParser records the first conversion error and returns zero values
// after it.
type fieldParser struct {
	record []string
	cols   map[string]int
	err    error
}

func (p *fieldParser) str(col string) string {
	idx := p.cols[col]
	if idx >= len(p.record) {
		if p.err == nil {
			p.err = fmt.Errorf("missing %s", col)
		}
		return ""
	}
	return p.record[idx]
}

func (p *fieldParser) int64(col string) int64 {
	s := p.str(col)
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		p.err = fmt.Errorf("%s: %w", col, err)
	}
	return v
}

func (p *fieldParser) uint32(col string) uint32 {
	s := p.str(col)
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		p.err = fmt.Errorf("%s: %w", col, err)
	}
	return uint32(v)
}
