package excel

import "strings"

// MatchColumns aligns declared columns against the sheet's header row. The
// result has one entry per declared column, in declaration order. Matching
// is case-insensitive and whitespace-normalized; the earliest header wins
// when duplicates exist. Declared columns may match any position — source
// column order is irrelevant.
func MatchColumns(defs []ColumnDef, headers []string) []ColumnMapping {
	mapping := make([]ColumnMapping, 0, len(defs))

	for _, def := range defs {
		entry := ColumnMapping{Expected: def.Title}
		want := matchKey(def.Title)

		for idx, header := range headers {
			if matchKey(header) != want {
				continue
			}
			found := strings.TrimSpace(header)
			fileIndex := idx
			entry.Found = &found
			entry.FileIndex = &fileIndex
			break
		}

		mapping = append(mapping, entry)
	}

	return mapping
}

func matchKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// ProjectRows walks the sheet body using the resolved mapping and builds the
// ordered row records. Unmatched columns contribute no key (missing key
// means "unknown", distinct from an explicit empty string). Cells past the
// end of a short row read as empty. Rows whose every mapped cell normalizes
// to empty are dropped.
func ProjectRows(body [][]string, defs []ColumnDef, mapping []ColumnMapping) []map[string]string {
	rows := make([]map[string]string, 0, len(body))

	for _, raw := range body {
		record := make(map[string]string, len(defs))
		hasValue := false

		for i, def := range defs {
			if i >= len(mapping) || !mapping[i].Matched() {
				continue
			}
			idx := *mapping[i].FileIndex
			cell := ""
			if idx < len(raw) {
				cell = raw[idx]
			}
			value := NormalizeCell(cell, def.Type)
			record[def.FieldName] = value
			if value != "" {
				hasValue = true
			}
		}

		if hasValue {
			rows = append(rows, record)
		}
	}

	return rows
}
