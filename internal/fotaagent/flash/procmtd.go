package flash

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// mtdEntry is one line of /proc/mtd.
type mtdEntry struct {
	dev       string
	size      int64
	eraseSize int64
	name      string
}

// parseProcMTD parses the kernel partition listing:
//
//	dev:    size   erasesize  name
//	mtd0: 00040000 00020000 "preloader"
func parseProcMTD(r io.Reader) ([]mtdEntry, error) {
	var out []mtdEntry
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "dev:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			return nil, fmt.Errorf("malformed /proc/mtd line %q", line)
		}
		size, err := strconv.ParseInt(fields[1], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("size in %q: %w", line, err)
		}
		erase, err := strconv.ParseInt(fields[2], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("erase size in %q: %w", line, err)
		}
		name := strings.Trim(strings.Join(fields[3:], " "), `"`)
		out = append(out, mtdEntry{
			dev:       strings.TrimSuffix(fields[0], ":"),
			size:      size,
			eraseSize: erase,
			name:      name,
		})
	}
	return out, sc.Err()
}
