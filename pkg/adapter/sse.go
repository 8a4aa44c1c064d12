package adapter

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// errStreamDone signals a clean [DONE] termination to scanSSE callers.
var errStreamDone = errors.New("stream done")

// scanSSE incrementally parses an SSE byte stream: partial lines are
// buffered across reads, only `data:` lines are considered, a literal
// [DONE] payload ends the stream, and empty payloads are skipped. The
// callback may return an error to abort the scan.
func scanSSE(r io.Reader, fn func(data string) error) error {
	reader := bufio.NewReader(r)
	for {
		line, readErr := reader.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")

		if data, ok := strings.CutPrefix(line, "data:"); ok {
			data = strings.TrimSpace(data)
			switch {
			case data == "[DONE]":
				return nil
			case data != "":
				if err := fn(data); err != nil {
					if errors.Is(err, errStreamDone) {
						return nil
					}
					return err
				}
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return readErr
		}
	}
}
