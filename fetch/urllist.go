package fetch

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/poiesic/gazette/core"
)

// ReadURLList reads one URL per line. Blank lines, lines starting with '#'
// and lines that are not valid http(s) URLs are skipped. Duplicates are
// dropped, keeping the first occurrence.
func ReadURLList(r io.Reader) ([]string, error) {
	var urls []string
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.HasPrefix(line, "http") || !core.IsValidURL(line) {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return urls, nil
}

// ReadURLFile reads a URL list from the file at path.
func ReadURLFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening url list: %w", err)
	}
	defer f.Close()
	return ReadURLList(f)
}
