package main

import (
	"bytes"
	"strconv"

	"github.com/olekukonko/tablewriter"
)

/*
 * Render rivers progress as a text table
 */
func statusTable(instances []*instance) string {
	buf := &bytes.Buffer{}

	table := tablewriter.NewWriter(buf)
	table.SetHeader([]string{"River", "State", "Phase", "Checkpoint", "Cycles", "Applied", "Skipped", "Failures", "Last error"})

	for _, i := range instances {
		s := i.river.Status()

		lastErr := ""
		if s.LastError != nil {
			lastErr = s.LastError.Error()
		}

		table.Append([]string{
			s.Name,
			string(s.State()),
			s.Phase.String(),
			strconv.FormatUint(s.Checkpoint.Sequence, 10),
			strconv.FormatUint(s.Cycles, 10),
			strconv.FormatUint(s.Applied, 10),
			strconv.FormatUint(s.Skipped, 10),
			strconv.Itoa(s.Failures),
			lastErr,
		})
	}

	table.Render()

	return buf.String()
}
