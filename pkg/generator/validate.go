package generator

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/arenabench/arena/pkg/errdefs"
)

// ManifestFile is the package manifest every generated file set must ship.
const ManifestFile = "package.json"

type manifest struct {
	Scripts map[string]string `json:"scripts"`
}

// ValidateFiles checks a generated file set before it is materialized:
// the manifest must exist and declare both a build and a start script, and
// at least one page-level source file must be present. Violations are
// fatal for the run.
func ValidateFiles(files map[string]string) error {
	raw, ok := files[ManifestFile]
	if !ok {
		return fmt.Errorf("%w: missing required file: %s", errdefs.ErrValidation, ManifestFile)
	}

	var m manifest
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return fmt.Errorf("%w: malformed %s: %v", errdefs.ErrValidation, ManifestFile, err)
	}
	for _, script := range []string{"build", "start"} {
		if strings.TrimSpace(m.Scripts[script]) == "" {
			return fmt.Errorf("%w: missing script %q in %s", errdefs.ErrValidation, script, ManifestFile)
		}
	}

	for name := range files {
		if isPageFile(name) {
			return nil
		}
	}
	return fmt.Errorf("%w: missing required file: no page-level source file", errdefs.ErrValidation)
}

// isPageFile reports whether name looks like a page-level source file:
// anything under pages/, or a page.* component under app/.
func isPageFile(name string) bool {
	clean := path.Clean(strings.ReplaceAll(name, "\\", "/"))
	if strings.HasPrefix(clean, "pages/") && isSourceFile(clean) {
		return true
	}
	base := path.Base(clean)
	return strings.HasPrefix(base, "page.") && isSourceFile(clean)
}

func isSourceFile(name string) bool {
	switch path.Ext(name) {
	case ".js", ".jsx", ".ts", ".tsx", ".html":
		return true
	}
	return false
}
