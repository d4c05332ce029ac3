package pkg

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"

	. "github.com/onsi/gomega"
	"github.com/ulikunitz/xz"
)

func TestEvalConditions(t *testing.T) {
	g := NewWithT(t)
	vars := map[string]string{"linux": "true", "amd64": "true", "version": "0.19.1"}

	spec := DepSpec{URL: "https://example.com/elm-{version}-{missing}.tar.gz"}
	g.Expect(EvalConditions(&spec, vars)).To(BeTrue())
	g.Expect(spec.URL).To(Equal("https://example.com/elm-0.19.1-.tar.gz"))

	g.Expect(EvalConditions(&DepSpec{Condition: "linux, amd64"}, vars)).To(BeTrue())
	g.Expect(EvalConditions(&DepSpec{Condition: "linux,windows"}, vars)).To(BeFalse())
	g.Expect(EvalConditions(&DepSpec{Rejections: "windows"}, vars)).To(BeTrue())
	g.Expect(EvalConditions(&DepSpec{Condition: "linux", Rejections: "amd64"}, vars)).To(BeFalse())
}

func tarXz(t *testing.T, files map[string]string) []byte {
	t.Helper()

	buffer := &bytes.Buffer{}
	xzWriter, err := xz.NewWriter(buffer)
	if err != nil {
		t.Fatal(err)
	}

	archive := tar.NewWriter(xzWriter)
	for name, content := range files {
		err = archive.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		})
		if err != nil {
			t.Fatal(err)
		}

		if _, err = archive.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}

	if err = archive.Close(); err != nil {
		t.Fatal(err)
	}
	if err = xzWriter.Close(); err != nil {
		t.Fatal(err)
	}

	return buffer.Bytes()
}

func zipArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()

	buffer := &bytes.Buffer{}
	archive := zip.NewWriter(buffer)
	for name, content := range files {
		writer, err := archive.Create(name)
		if err != nil {
			t.Fatal(err)
		}

		if _, err = writer.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}

	if err := archive.Close(); err != nil {
		t.Fatal(err)
	}

	return buffer.Bytes()
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type archiveServer struct {
	*httptest.Server
	requests int32
}

func serveArchives(t *testing.T, archives map[string][]byte) *archiveServer {
	t.Helper()

	server := &archiveServer{}
	server.Server = httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&server.requests, 1)

		data, ok := archives[req.URL.Path]
		if !ok {
			http.NotFound(rw, req)
			return
		}

		rw.Write(data)
	}))
	t.Cleanup(server.Close)

	return server
}

func TestFetchDeps(t *testing.T) {
	g := NewWithT(t)
	root := t.TempDir()

	nodeArchive := tarXz(t, map[string]string{
		"node-v14/bin/node":  "#!/bin/sh\n",
		"node-v14/README.md": "node",
	})
	elmArchive := zipArchive(t, map[string]string{
		"elm": "binary",
	})
	server := serveArchives(t, map[string][]byte{
		"/node-v14.tar.xz": nodeArchive,
		"/elm.zip":         elmArchive,
	})

	config := fmt.Sprintf(`
vars:
  version: v14
deps:
  node:
    url: %s/node-{version}.tar.xz
    dest: tools/node
    sha256: "%s"
    strip: 1
  elm:
    url: %s/elm.zip
    dest: tools/elm
    sha256: "%s"
    markExec: [elm]
  never:
    if: some-other-os
    url: %s/never.zip
    dest: tools/never
    sha256: abc
`, server.URL, checksum(nodeArchive), server.URL, checksum(elmArchive), server.URL)
	g.Expect(ioutil.WriteFile(filepath.Join(root, "DEPS.yml"), []byte(config), 0660)).To(Succeed())

	opts := FetchOptions{Root: root, Client: server.Client(), Quiet: true}
	g.Expect(FetchDeps(context.Background(), opts)).To(Succeed())
	g.Expect(atomic.LoadInt32(&server.requests)).To(Equal(int32(2)))

	content, err := ioutil.ReadFile(filepath.Join(root, "tools", "node", "bin", "node"))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(string(content)).To(Equal("#!/bin/sh\n"))
	g.Expect(filepath.Join(root, "tools", "node", "README.md")).To(BeAnExistingFile())
	g.Expect(filepath.Join(root, "tools", "never")).NotTo(BeAnExistingFile())

	if runtime.GOOS != "windows" {
		info, err := os.Stat(filepath.Join(root, "tools", "elm", "elm"))
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(info.Mode() & 0100).NotTo(BeZero())
	}

	stamps, err := readStamps(filepath.Join(root, "DEPS.stamps"))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(stamps).To(HaveKeyWithValue("node", server.URL+"/node-v14.tar.xz#"+checksum(nodeArchive)))
	g.Expect(stamps).To(HaveKey("elm"))
	g.Expect(stamps).NotTo(HaveKey("never"))

	// everything is up to date
	g.Expect(FetchDeps(context.Background(), opts)).To(Succeed())
	g.Expect(atomic.LoadInt32(&server.requests)).To(Equal(int32(2)))

	// a removed destination is fetched again
	g.Expect(os.RemoveAll(filepath.Join(root, "tools", "elm"))).To(Succeed())
	g.Expect(FetchDeps(context.Background(), opts)).To(Succeed())
	g.Expect(atomic.LoadInt32(&server.requests)).To(Equal(int32(3)))
	g.Expect(filepath.Join(root, "tools", "elm", "elm")).To(BeAnExistingFile())
}

func TestFetchDepsChecksumMismatch(t *testing.T) {
	g := NewWithT(t)
	root := t.TempDir()

	archive := zipArchive(t, map[string]string{"elm": "binary"})
	server := serveArchives(t, map[string][]byte{"/elm.zip": archive})

	config := fmt.Sprintf(`
deps:
  elm:
    url: %s/elm.zip
    dest: tools/elm
    sha256: "0000"
`, server.URL)
	g.Expect(ioutil.WriteFile(filepath.Join(root, "DEPS.yml"), []byte(config), 0660)).To(Succeed())

	opts := FetchOptions{Root: root, Client: server.Client(), Quiet: true}
	err := FetchDeps(context.Background(), opts)
	g.Expect(err).To(MatchError(ContainSubstring("Checksum check failed")))
	g.Expect(filepath.Join(root, "tools", "elm")).NotTo(BeAnExistingFile())

	opts.Update = true
	g.Expect(FetchDeps(context.Background(), opts)).To(Succeed())
	g.Expect(filepath.Join(root, "tools", "elm", "elm")).To(BeAnExistingFile())

	stamps, err := readStamps(filepath.Join(root, "DEPS.stamps"))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(stamps).To(HaveKeyWithValue("elm", server.URL+"/elm.zip#"+checksum(archive)))
}

func TestOpenExtractorDestRejectsEscapes(t *testing.T) {
	g := NewWithT(t)
	dest := t.TempDir()

	_, _, err := openExtractorDest(dest, "../outside.txt", DepSpec{})
	g.Expect(err).To(HaveOccurred())

	handle, path, err := openExtractorDest(dest, "pkg/inner/file.txt", DepSpec{Strip: 1})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(path).To(Equal(filepath.Join(dest, "inner", "file.txt")))
	handle.Close()

	handle, _, err = openExtractorDest(dest, "pkg", DepSpec{Strip: 1})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(handle).To(BeNil())
}

func TestFindUp(t *testing.T) {
	g := NewWithT(t)
	root := t.TempDir()
	nested := filepath.Join(root, "src", "Grid")
	g.Expect(os.MkdirAll(nested, 0770)).To(Succeed())
	g.Expect(ioutil.WriteFile(filepath.Join(root, "elm-package.json"), []byte("{}"), 0660)).To(Succeed())

	path, err := FindUp(nested, "elm-package.json")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(path).To(Equal(filepath.Join(root, "elm-package.json")))

	_, err = FindUp(nested, "elmtask-does-not-exist.star")
	g.Expect(os.IsNotExist(err)).To(BeTrue())

	projectRoot, err := GetProjectRoot(nested, "elmtask-does-not-exist.star")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(projectRoot).To(Equal(root))
}
