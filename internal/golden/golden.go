// Package golden compares register access logs against golden files.
package golden

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"tdmstream.io/regs"
)

// CompareAccesses compares the accesses in got with the golden file
// at path, one access per line. If update is set, the file is
// rewritten instead.
func CompareAccesses(path string, update bool, got []regs.Access) error {
	buf := new(bytes.Buffer)
	for _, a := range got {
		fmt.Fprintln(buf, a)
	}
	if update {
		return os.WriteFile(path, buf.Bytes(), 0o640)
	}
	want, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	gotLines := lines(buf.Bytes())
	wantLines := lines(want)
	mismatches := 0
	first := -1
	for i := range min(len(gotLines), len(wantLines)) {
		if gotLines[i] != wantLines[i] {
			if first == -1 {
				first = i
			}
			mismatches++
		}
	}
	if mismatches > 0 {
		return fmt.Errorf("%s:%d: got %q, want %q (%d/%d mismatches)", path, first+1, gotLines[first], wantLines[first], mismatches, len(wantLines))
	}
	if len(gotLines) != len(wantLines) {
		return fmt.Errorf("%s: %d accesses, want %d", path, len(gotLines), len(wantLines))
	}
	return nil
}

func lines(b []byte) []string {
	var l []string
	s := bufio.NewScanner(bytes.NewReader(b))
	for s.Scan() {
		if line := strings.TrimSpace(s.Text()); line != "" && !strings.HasPrefix(line, "#") {
			l = append(l, line)
		}
	}
	return l
}
