package server

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loykin/jsr77/internal/deploy"
	"github.com/loykin/jsr77/internal/managed"
)

func TestSanitizeBase(t *testing.T) {
	cases := map[string]string{
		"":              "",
		"/":             "",
		"api":           "/api",
		"/api/":         "/api",
		" /jsr77/api ":  "/jsr77/api",
		"/management//": "/management",
	}
	for in, want := range cases {
		require.Equal(t, want, sanitizeBase(in), "base %q", in)
	}
}

func TestIsChildCategory(t *testing.T) {
	for _, k := range managed.Kinds() {
		for _, cat := range k.ChildCategories() {
			require.True(t, isChildCategory(cat), "%s keeps %s", k, cat)
		}
	}
	for _, cat := range []string{"", "J2EEServer", "javavms", "../servers", "a/b", "servers "} {
		require.False(t, isChildCategory(cat), cat)
	}
}

func TestArchivePath(t *testing.T) {
	for _, name := range []string{"shop.ear", "web.war", "beans.jar", "jms.rar", "mail.sar", "jms-service.xml"} {
		p := deployPath(name)
		got, err := archivePath(p)
		require.NoError(t, err, p)
		require.Equal(t, p, got)
	}

	exploded, err := archivePath(deployPath("exploded.war") + sep)
	require.NoError(t, err, "an exploded archive may end in a separator")
	require.Equal(t, deployPath("exploded.war"), exploded)

	_, err = archivePath("deploy/web.war")
	require.ErrorIs(t, err, errRelativePath)
	_, err = archivePath(deployPath("..") + sep + "web.war")
	require.ErrorIs(t, err, errUncleanPath)
	_, err = archivePath(deployPath(".") + sep + "web.war")
	require.ErrorIs(t, err, errUncleanPath)
	_, err = archivePath(deployPath("notes.txt"))
	require.ErrorIs(t, err, deploy.ErrNoDeployer)
}
