package supervisor

import (
	"os"
	"path/filepath"
	"runtime"
)

const binaryBaseName = "goosed"

func binaryName() string {
	if runtime.GOOS == "windows" {
		return binaryBaseName + ".exe"
	}
	return binaryBaseName
}

// binaryCandidates returns the agent binary search order: the configured
// path, the development build outputs, then the packaged bin directory.
func binaryCandidates(explicit, searchRoot string) []string {
	var out []string
	if explicit != "" {
		out = append(out, explicit)
	}
	if searchRoot == "" {
		if exe, err := os.Executable(); err == nil {
			searchRoot = filepath.Dir(exe)
		} else {
			searchRoot = "."
		}
	}
	name := binaryName()
	return append(out,
		filepath.Join(searchRoot, "target", "debug", name),
		filepath.Join(searchRoot, "target", "release", name),
		filepath.Join(searchRoot, "bin", name),
	)
}

// findBinary returns the first candidate that is a regular file.
func findBinary(explicit, searchRoot string) (string, error) {
	candidates := binaryCandidates(explicit, searchRoot)
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && info.Mode().IsRegular() {
			if abs, err := filepath.Abs(candidate); err == nil {
				return abs, nil
			}
			return candidate, nil
		}
	}
	return "", &BinaryNotFoundError{Searched: candidates}
}
