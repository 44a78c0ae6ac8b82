package lua

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const defaultRecentDir = "recent"

// SaveToDir stores the profile of a run in dir under the name of its source
// with an increasing suffix: trace.pcap becomes trace_1.lua, trace_2.lua and
// so on. Lua sources are copied verbatim so comments survive. It returns the
// new path.
func SaveToDir(dir string, p *Profile, source string) (string, error) {
	if dir == "" {
		dir = defaultRecentDir
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create recent directory: %w", err)
	}

	base := filepath.Base(source)
	f, err := createNumbered(dir, strings.TrimSuffix(base, filepath.Ext(base)))
	if err != nil {
		return "", err
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(source), ".lua") {
		err = copyFrom(f, source)
	} else {
		err = WriteProfile(f, p)
	}
	if err != nil {
		return "", fmt.Errorf("save profile %s: %w", f.Name(), err)
	}
	return f.Name(), nil
}

// createNumbered creates the first stem_N.lua in dir that does not exist yet.
func createNumbered(dir, stem string) (*os.File, error) {
	for n := 1; ; n++ {
		path := filepath.Join(dir, fmt.Sprintf("%s_%d.lua", stem, n))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create profile file: %w", err)
		}
		return f, nil
	}
}

func copyFrom(w io.Writer, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	_, err = io.Copy(w, src)
	return err
}
