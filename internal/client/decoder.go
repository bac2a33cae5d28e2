package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/PabloGalante/finadvisor/internal/domain"
)

const maxFrameSize = 1 << 20

// Decoder reads `data: <json>` frames from an event stream.
// Lines that are not data lines (comments, blank separators) are skipped.
type Decoder struct {
	sc *bufio.Scanner
}

func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	return &Decoder{sc: sc}
}

// Next returns the next event, or io.EOF once the stream ends.
func (d *Decoder) Next() (domain.Event, error) {
	for d.sc.Scan() {
		line := d.sc.Text()
		payload, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		payload = strings.TrimPrefix(payload, " ")

		var ev domain.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return domain.Event{}, fmt.Errorf("decode event %q: %w", payload, err)
		}
		return ev, nil
	}
	if err := d.sc.Err(); err != nil {
		return domain.Event{}, err
	}
	return domain.Event{}, io.EOF
}
