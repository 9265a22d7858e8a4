package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/InsulaLabs/meshsync/internal/events"
	"github.com/InsulaLabs/meshsync/internal/journal"
)

// dumpJournal prints every run recorded under dir, oldest first.
func dumpJournal(dir string, w io.Writer) error {
	j, err := journal.Open(journal.Config{Logger: logger, Directory: dir})
	if err != nil {
		return err
	}
	defer j.Close()

	runs, err := j.Runs()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintf(w, "No sessions recorded in %s\n", dir)
		return nil
	}

	for _, info := range runs {
		fmt.Fprintf(w, "%s %s (started %s)\n", color.GreenString("Session"), color.CyanString(info.Run), info.Started.Format(time.RFC3339))
		var n int
		err := j.Replay(info.Run, func(rec journal.Record) error {
			n++
			arrow := "->"
			if rec.Topic == events.TopicInbound {
				arrow = "<-"
			}
			msg, err := rec.Message()
			if err != nil {
				fmt.Fprintf(w, "  %6d %s %s undecodable frame: %v\n", rec.Seq, rec.Time().Format("15:04:05.000"), arrow, err)
				return nil
			}
			fmt.Fprintf(w, "  %6d %s %s %s %+v\n", rec.Seq, rec.Time().Format("15:04:05.000"), arrow, msg.Opcode(), msg)
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  %d records\n\n", n)
	}
	return nil
}
