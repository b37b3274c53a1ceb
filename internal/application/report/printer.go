package report

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// PrintReport writes stats blocks to w. The aggregate block is printed when
// total is set or when no fact carries a season label. Otherwise one block
// is printed per season, headed by the upper-cased season name and separated
// by a blank line; with no seasons given, the labeled seasons are used in
// order of first appearance.
func (d *Dataset) PrintReport(w io.Writer, total bool, seasons []string) error {
	bw := bufio.NewWriter(w)

	if total || !d.hasLabels() {
		writeStats(bw, d.Stats(nil))
		return bw.Flush()
	}

	if len(seasons) == 0 {
		seasons = d.LabeledSeasons()
	}
	for i, name := range seasons {
		if i > 0 {
			fmt.Fprintln(bw)
		}
		fmt.Fprintln(bw, strings.ToUpper(name))
		writeStats(bw, d.Stats(&name))
	}
	return bw.Flush()
}

func writeStats(w io.Writer, s Stats) {
	fmt.Fprintf(w, "sessions: %d\n", s.Sessions)
	fmt.Fprintf(w, "cumulative session participation: %d\n", s.CumulativeGoing)
	fmt.Fprintf(w, "unique participants: %d\n", s.UniqueParticipants)
	fmt.Fprintf(w, "median attendance: %s\n", strconv.FormatFloat(s.MedianGoing, 'f', -1, 64))
	fmt.Fprintln(w, "session titles:")
	for _, tc := range s.SessionTitles {
		fmt.Fprintf(w, "  %s: %d\n", tc.Title, tc.Count)
	}
}
