package db

import (
	"fmt"
	"io"
	"time"

	"github.com/thatsimonsguy/uf-controller/internal/model"
)

// PrintRunsCLI writes the latest runs from the journal at dbPath to w.
func PrintRunsCLI(w io.Writer, dbPath string, limit int) error {
	dbConn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	runs, err := ListRuns(dbConn, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs recorded")
		return nil
	}

	for _, r := range runs {
		fmt.Fprintf(w, "%4d  %-13s %s  %-8s %s\n",
			r.ID, r.Process, r.StartedAt.Local().Format(time.DateTime), elapsed(r), outcome(r))
	}
	return nil
}

func elapsed(r model.Run) string {
	if r.EndedAt == nil {
		return "-"
	}
	return r.EndedAt.Sub(r.StartedAt).Round(time.Second).String()
}

func outcome(r model.Run) string {
	if r.Outcome == "" {
		return "running"
	}
	return r.Outcome
}
