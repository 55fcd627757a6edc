package engine

import (
	"os"

	"speechd/pkg/types"
)

// CheckBinary reports whether the engine executable bin can be found.
// It does not run the binary and is safe to call at any time.
func CheckBinary(family, bin string) types.EngineStatus {
	r := types.EngineStatus{Family: family, Bin: bin}
	path, err := lookPath(bin)
	if err != nil {
		r.Error = err.Error()
		return r
	}
	fi, err := os.Stat(path)
	switch {
	case err != nil:
		r.Error = err.Error()
	case fi.IsDir():
		r.Error = "engine path is a directory"
	default:
		r.Found = true
		r.Path = path
	}
	r.Providers = Available()
	return r
}
