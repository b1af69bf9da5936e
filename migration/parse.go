package migration

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ContentHash fingerprints an upload for batch-level idempotence.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ParseUpload turns a raw upload into canonical-field rows. Format is picked
// from the file extension, falling back to content sniffing. A parse failure
// here rejects the whole upload; nothing reaches staging.
func ParseUpload(filename string, data []byte) ([]map[string]interface{}, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("empty file")
	}

	ext := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(ext, ".json"):
		return parseJSON(data)
	case strings.HasSuffix(ext, ".csv"):
		return parseCSV(data)
	case strings.HasSuffix(ext, ".xlsx") || strings.HasSuffix(ext, ".xls"):
		return parseXLSX(data)
	}

	trimmed := bytes.TrimSpace(data)
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return parseJSON(data)
	}
	if bytes.HasPrefix(trimmed, []byte("PK")) {
		return parseXLSX(data)
	}
	return parseCSV(data)
}

func parseJSON(data []byte) ([]map[string]interface{}, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	trimmed := bytes.TrimSpace(data)
	var rawRows []map[string]interface{}
	if trimmed[0] == '[' {
		if err := decoder.Decode(&rawRows); err != nil {
			return nil, fmt.Errorf("invalid json: %v", err)
		}
	} else {
		var single map[string]interface{}
		if err := decoder.Decode(&single); err != nil {
			return nil, fmt.Errorf("invalid json: %v", err)
		}
		rawRows = []map[string]interface{}{single}
	}

	rows := make([]map[string]interface{}, 0, len(rawRows))
	for _, raw := range rawRows {
		row := map[string]interface{}{}
		for key, value := range raw {
			canonical, _ := CanonicalField(key)
			row[canonical] = value
		}
		rows = append(rows, normalizeRow(row))
	}
	return rows, nil
}

func parseCSV(data []byte) ([]map[string]interface{}, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("invalid csv: %v", err)
	}
	if len(records) < 2 {
		return nil, errors.New("csv has no data rows")
	}
	return rowsFromTable(records)
}

func parseXLSX(data []byte) ([]map[string]interface{}, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("invalid spreadsheet: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("spreadsheet has no sheets")
	}
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("invalid spreadsheet: %v", err)
	}
	if len(records) < 2 {
		return nil, errors.New("spreadsheet has no data rows")
	}
	return rowsFromTable(records)
}

func rowsFromTable(records [][]string) ([]map[string]interface{}, error) {
	headers := make([]string, len(records[0]))
	for i, h := range records[0] {
		canonical, _ := CanonicalField(h)
		headers[i] = canonical
	}

	rows := make([]map[string]interface{}, 0, len(records)-1)
	for _, cells := range records[1:] {
		row := map[string]interface{}{}
		empty := true
		for i, cell := range cells {
			if i >= len(headers) || headers[i] == "" {
				continue
			}
			value := strings.TrimSpace(cell)
			if value == "" {
				continue
			}
			row[headers[i]] = value
			empty = false
		}
		if !empty {
			rows = append(rows, normalizeRow(row))
		}
	}
	if len(rows) == 0 {
		return nil, errors.New("no data rows found")
	}
	return rows, nil
}

// normalizeRow cleans well-known value classes in place: amounts lose their
// thousands separators, dates collapse to ISO form or disappear when
// unparseable.
func normalizeRow(row map[string]interface{}) map[string]interface{} {
	for field := range amountFields {
		if s := payloadString(row, field); s != "" {
			row[field] = strings.ReplaceAll(s, ",", "")
		}
	}
	for field := range dateFields {
		if _, ok := row[field]; !ok {
			continue
		}
		s := payloadString(row, field)
		if s == "" {
			delete(row, field)
			continue
		}
		if iso, ok := normalizeDateValue(s); ok {
			row[field] = iso
		} else {
			delete(row, field)
		}
	}
	return row
}
