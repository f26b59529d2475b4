package inventory

// Result is the outcome of one parse pass.
type Result struct {
	Records  []Record
	Header   []string
	Columns  ColumnMap
	Rows     int                  // data rows seen, before filtering
	Filtered map[FilterReason]int // rows dropped per rule
}

// Parse tokenizes text, resolves the column roles from its header row and
// builds, filters and returns the inventory records. Fewer than two
// non-empty lines yield an empty result rather than an error.
func Parse(text string, m Mapping) Result {
	res := Result{
		Records:  []Record{},
		Filtered: make(map[FilterReason]int),
	}

	rows := Tokenize(text)
	if len(rows) < 2 {
		if len(rows) == 1 {
			res.Header = rows[0]
			res.Columns = ResolveColumns(m, rows[0])
		}
		return res
	}

	res.Header = rows[0]
	res.Columns = ResolveColumns(m, res.Header)

	for _, row := range rows[1:] {
		res.Rows++
		rec := Build(row, res.Header, res.Columns)
		if reason := Classify(rec); reason != ReasonNone {
			res.Filtered[reason]++
			continue
		}
		res.Records = append(res.Records, rec)
	}

	return res
}

// ParseInventory returns only the surviving records of Parse.
func ParseInventory(text string, m Mapping) []Record {
	return Parse(text, m).Records
}
