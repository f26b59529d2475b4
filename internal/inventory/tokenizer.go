package inventory

import "strings"

// SplitRecords splits CSV text into logical records. A newline ends a record
// only outside double quotes, so quoted cells may span lines. Carriage
// returns preceding a newline are dropped, and records that are blank after
// trimming are discarded.
//
// A quote left open at the end of the text is treated as a stray character
// (an inch mark, say): the text from the record holding it onward is split
// on plain newlines, so only that record is damaged.
func SplitRecords(text string) []string {
	var (
		records []string
		start   int
		inQuote bool
	)

	add := func(line string) {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) != "" {
			records = append(records, line)
		}
	}

	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '"':
			inQuote = !inQuote
		case '\n':
			if !inQuote {
				add(text[start:i])
				start = i + 1
			}
		}
	}

	if inQuote {
		for _, line := range strings.Split(text[start:], "\n") {
			add(line)
		}
		return records
	}
	add(text[start:])
	return records
}

// ParseLine splits one CSV record into unescaped, trimmed field values.
//
// Every unescaped double quote toggles the quoted state; commas split fields
// only outside quotes. Inside a quoted section a doubled quote ("") decodes
// to one literal quote.
func ParseLine(line string) []string {
	var (
		fields  []string
		b       strings.Builder
		inQuote bool
	)

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"' && inQuote && i+1 < len(line) && line[i+1] == '"':
			b.WriteByte('"')
			i++
		case c == '"':
			inQuote = !inQuote
		case c == ',' && !inQuote:
			fields = append(fields, strings.TrimSpace(b.String()))
			b.Reset()
		default:
			b.WriteByte(c)
		}
	}
	fields = append(fields, strings.TrimSpace(b.String()))

	return fields
}

// Tokenize splits CSV text into rows of fields.
func Tokenize(text string) [][]string {
	lines := SplitRecords(text)
	rows := make([][]string, len(lines))
	for i, line := range lines {
		rows[i] = ParseLine(line)
	}
	return rows
}
