package audit

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

// WriteCSV serialises entries with a header row.
func WriteCSV(w io.Writer, entries []Entry) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write([]string{"ID", "Created At", "Actor", "Action", "Table", "Record", "Old Value", "New Value", "IP", "User Agent"}); err != nil {
		return err
	}
	for _, e := range entries {
		actor := ""
		if e.ActorID > 0 {
			actor = strconv.FormatInt(e.ActorID, 10)
		}
		if err := writer.Write([]string{
			strconv.FormatInt(e.ID, 10),
			e.CreatedAt.UTC().Format(time.RFC3339),
			actor,
			e.Action,
			e.Table,
			e.RecordID,
			string(e.OldValue),
			string(e.NewValue),
			e.IP,
			e.UserAgent,
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
