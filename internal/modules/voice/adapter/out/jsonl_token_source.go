package out

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"sosguard/internal/modules/voice/domain"
	voiceout "sosguard/internal/modules/voice/port/out"
)

// FileTokenSource streams recorded speech tokens from a JSON-lines file.
// A line that is not a JSON object is taken as plain transcript text.
type FileTokenSource struct {
	path  string
	stdin io.Reader
}

func NewFileTokenSource(path string) voiceout.TokenSource {
	return &FileTokenSource{path: path, stdin: os.Stdin}
}

func (s *FileTokenSource) Stream(ctx context.Context) (<-chan domain.TokenEvent, error) {
	var reader io.Reader = s.stdin
	closeFn := func() {}
	if s.path != "-" {
		f, err := os.Open(s.path)
		if err != nil {
			return nil, fmt.Errorf("open transcript: %w", err)
		}
		reader = f
		closeFn = func() { _ = f.Close() }
	}
	out := make(chan domain.TokenEvent)
	go func() {
		defer close(out)
		defer closeFn()
		ScanTokens(reader, func(token domain.Token, err error) bool {
			select {
			case out <- domain.TokenEvent{Token: token, Err: err}:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()
	return out, nil
}

// ScanTokens decodes a recorded transcript, calling fn per token or per-line
// error until fn returns false or input ends.
func ScanTokens(r io.Reader, fn func(domain.Token, error) bool) {
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		token := domain.Token{}
		if strings.HasPrefix(raw, "{") {
			if err := json.Unmarshal([]byte(raw), &token); err != nil {
				if !fn(domain.Token{}, fmt.Errorf("line %d: %w", line, err)) {
					return
				}
				continue
			}
		} else {
			token.Text = raw
			token.Final = true
		}
		if !fn(token, nil) {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		fn(domain.Token{}, fmt.Errorf("read transcript: %w", err))
	}
}
