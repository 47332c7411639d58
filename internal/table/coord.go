package table

import (
	"fmt"
	"strconv"
	"strings"
)

// CoordKey encodes a (row, column) pair into the key used to address cells
// in the normalized mapping. Pure and reversible for all non-negative
// indices.
func CoordKey(row, col int) string {
	return strconv.Itoa(row) + ":" + strconv.Itoa(col)
}

// ParseCoordKey is the inverse of CoordKey. It only fails on input that was
// not produced by CoordKey.
func ParseCoordKey(key string) (row, col int, err error) {
	sep := strings.IndexByte(key, ':')
	if sep < 0 {
		return 0, 0, fmt.Errorf("malformed coordinate key %q", key)
	}
	row, err = strconv.Atoi(key[:sep])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed coordinate key %q: %w", key, err)
	}
	col, err = strconv.Atoi(key[sep+1:])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed coordinate key %q: %w", key, err)
	}
	return row, col, nil
}
