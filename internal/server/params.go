package server

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/loykin/jsr77/internal/deploy"
	"github.com/loykin/jsr77/internal/managed"
)

// childCategories holds every category some kind keeps child references in.
var childCategories = func() map[string]bool {
	m := make(map[string]bool)
	for _, k := range managed.Kinds() {
		for _, cat := range k.ChildCategories() {
			m[cat] = true
		}
	}
	return m
}()

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimRight(bp, "/")
}

func isChildCategory(cat string) bool { return childCategories[cat] }

var (
	errRelativePath = errors.New("path must be absolute")
	errUncleanPath  = errors.New("path must not contain . or .. segments")
)

// archivePath checks a deploy or undeploy target. It must be absolute,
// already clean apart from a trailing separator, and name an archive kind
// the main deployer handles. The cleaned path is returned.
func archivePath(p string) (string, error) {
	if !filepath.IsAbs(p) {
		return "", errRelativePath
	}
	clean := filepath.Clean(p)
	if clean != p && clean != strings.TrimRight(p, `/\`) {
		return "", errUncleanPath
	}
	if _, ok := deploy.KindOf(clean); !ok {
		return "", fmt.Errorf("%w: %s", deploy.ErrNoDeployer, p)
	}
	return clean, nil
}
