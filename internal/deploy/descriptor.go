package deploy

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Kind is the type of a deployable unit, derived from its file name.
type Kind string

const (
	EAR        Kind = "ear"
	EJBJAR     Kind = "ejb-jar"
	WAR        Kind = "war"
	RAR        Kind = "rar"
	SAR        Kind = "sar"
	ServiceXML Kind = "service-xml"
)

// KindOf classifies a path by suffix.
func KindOf(p string) (Kind, bool) {
	base := strings.ToLower(strings.TrimRight(filepath.ToSlash(p), "/"))
	switch {
	case strings.HasSuffix(base, "-service.xml"):
		return ServiceXML, true
	case strings.HasSuffix(base, ".ear"):
		return EAR, true
	case strings.HasSuffix(base, ".jar"):
		return EJBJAR, true
	case strings.HasSuffix(base, ".war"):
		return WAR, true
	case strings.HasSuffix(base, ".rar"):
		return RAR, true
	case strings.HasSuffix(base, ".sar"):
		return SAR, true
	}
	return "", false
}

// Descriptor identifies a deployment descriptor by file name.
type Descriptor string

const (
	ApplicationXML  Descriptor = "application.xml"
	WebXML          Descriptor = "web.xml"
	EJBJarXML       Descriptor = "ejb-jar.xml"
	RAXML           Descriptor = "ra.xml"
	JBossServiceXML Descriptor = "jboss-service.xml"
	JBossXML        Descriptor = "jboss.xml"
	JawsXML         Descriptor = "jaws.xml"
	JBossCMPJDBCXML Descriptor = "jbosscmp-jdbc.xml"
	JBossWebXML     Descriptor = "jboss-web.xml"
)

var descriptorPaths = map[Descriptor]string{
	ApplicationXML:  "META-INF/application.xml",
	WebXML:          "WEB-INF/web.xml",
	EJBJarXML:       "META-INF/ejb-jar.xml",
	RAXML:           "META-INF/ra.xml",
	JBossServiceXML: "META-INF/jboss-service.xml",
	JBossXML:        "META-INF/jboss.xml",
	JawsXML:         "META-INF/jaws.xml",
	JBossCMPJDBCXML: "META-INF/jbosscmp-jdbc.xml",
	JBossWebXML:     "WEB-INF/jboss-web.xml",
}

// Path is the location of d relative to the root of a deployment.
func (d Descriptor) Path() string { return descriptorPaths[d] }

// Descriptors lists every known descriptor.
func Descriptors() []Descriptor {
	return []Descriptor{ApplicationXML, WebXML, EJBJarXML, RAXML, JBossServiceXML, JBossXML, JawsXML, JBossCMPJDBCXML, JBossWebXML}
}

// primaryDescriptor is the descriptor that defines a deployment of kind k.
func primaryDescriptor(k Kind) Descriptor {
	switch k {
	case EAR:
		return ApplicationXML
	case EJBJAR:
		return EJBJarXML
	case WAR:
		return WebXML
	case RAR:
		return RAXML
	}
	return JBossServiceXML
}

// ReadDescriptor returns the text of d inside the deployment at location,
// which may be a zip archive, an exploded directory, or a bare
// -service.xml file. A missing artifact or entry yields ("", false).
func ReadDescriptor(location string, d Descriptor) (string, bool) {
	rel := d.Path()
	if rel == "" {
		return "", false
	}
	fi, err := os.Stat(location)
	if err != nil {
		return "", false
	}
	if fi.IsDir() {
		b, err := os.ReadFile(filepath.Join(location, filepath.FromSlash(rel)))
		if err != nil {
			return "", false
		}
		return string(b), true
	}
	if k, _ := KindOf(location); k == ServiceXML {
		if d != JBossServiceXML {
			return "", false
		}
		b, err := os.ReadFile(location)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
	zr, err := zip.OpenReader(location)
	if err != nil {
		return "", false
	}
	defer func() { _ = zr.Close() }()
	return readZipEntry(&zr.Reader, rel)
}

// ReadDescriptorFromBytes is ReadDescriptor for an archive held in memory,
// such as a module nested in an application archive.
func ReadDescriptorFromBytes(archive []byte, d Descriptor) (string, bool) {
	rel := d.Path()
	if rel == "" || len(archive) == 0 {
		return "", false
	}
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return "", false
	}
	return readZipEntry(zr, rel)
}

func readZipEntry(zr *zip.Reader, rel string) (string, bool) {
	b, ok := zipEntryBytes(zr, rel)
	if !ok {
		return "", false
	}
	return string(b), true
}

func zipEntryBytes(zr *zip.Reader, rel string) ([]byte, bool) {
	rel = path.Clean(rel)
	for _, f := range zr.File {
		if path.Clean(f.Name) != rel || f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, false
		}
		b, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, false
		}
		return b, true
	}
	return nil, false
}
