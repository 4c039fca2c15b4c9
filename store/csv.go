package store

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/sergev/bci/trial"
)

// WriteCSV writes one row per trial and channel:
//
//	trial,label,short,channel,s0,s1,...
//
// Rows of trials shorter than the longest one are padded with empty fields.
func WriteCSV(w io.Writer, data *trial.Dataset) error {
	longest := 0
	for _, t := range data.Trials {
		if t.Len() > longest {
			longest = t.Len()
		}
	}

	cw := csv.NewWriter(w)
	header := make([]string, 4, 4+longest)
	copy(header, []string{"trial", "label", "short", "channel"})
	for i := 0; i < longest; i++ {
		header = append(header, "s"+strconv.Itoa(i))
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	record := make([]string, 4+longest)
	for i, t := range data.Trials {
		for ch, row := range t.Samples {
			record[0] = strconv.Itoa(i)
			record[1] = strconv.Itoa(int(t.Label))
			record[2] = strconv.FormatBool(t.Short)
			record[3] = strconv.Itoa(ch)
			for j := 0; j < longest; j++ {
				if j < len(row) {
					record[4+j] = strconv.FormatFloat(row[j], 'g', -1, 64)
				} else {
					record[4+j] = ""
				}
			}
			if err := cw.Write(record); err != nil {
				return fmt.Errorf("failed to write trial %d: %w", i, err)
			}
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}
	return nil
}
