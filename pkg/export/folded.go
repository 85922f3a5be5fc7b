package export

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/danpilch/procprof/pkg/report"
)

// Fold counts identical stacks of a session. Keys are semicolon-separated,
// root first, prefixed by the process and the thread name:
// "pid 10;MainThread;main (app.py:3);work (app.py:9)".
func Fold(s report.Session) map[string]int {
	stacks := make(map[string]int)
	for _, id := range s.Identities() {
		if id.Global {
			continue
		}
		names := make(map[uint64]string)
		for _, rec := range s[id] {
			for _, st := range rec.StackTraces {
				if st.ThreadName != "" {
					names[st.ThreadID] = st.ThreadName
				}
			}
		}

		for _, rec := range s[id] {
			for _, st := range rec.StackTraces {
				if len(st.Frames) == 0 {
					continue
				}
				name, ok := names[st.ThreadID]
				if !ok {
					name = fmt.Sprintf("thread %d", st.ThreadID)
				}

				parts := make([]string, 0, len(st.Frames)+2)
				parts = append(parts, id.String(), foldSafe(name))
				// frames are innermost first
				for i := len(st.Frames) - 1; i >= 0; i-- {
					f := st.Frames[i]
					parts = append(parts, foldSafe(fmt.Sprintf("%s (%s:%d)", f.Name, f.DisplayFilename(), f.Line)))
				}
				stacks[strings.Join(parts, ";")]++
			}
		}
	}
	return stacks
}

// WriteFolded writes stacks as "frame;frame;frame count" lines sorted by
// stack.
func WriteFolded(w io.Writer, stacks map[string]int) error {
	keys := make([]string, 0, len(stacks))
	for k := range stacks {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	bw := bufio.NewWriter(w)
	for _, k := range keys {
		fmt.Fprintf(bw, "%s %d\n", k, stacks[k])
	}
	return bw.Flush()
}

// foldSafe strips the separator from a frame so it cannot split a stack.
func foldSafe(s string) string {
	return strings.ReplaceAll(s, ";", ":")
}
