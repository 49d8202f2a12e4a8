package output

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gnana997/sasspipe/pkg/sourcemap"
	"github.com/gnana997/sasspipe/pkg/stream"
)

const base = "/work/project/src"

func records(recs ...*stream.FileRecord) *stream.Stream {
	st, em := stream.New(len(recs) + 1)
	for _, r := range recs {
		em.Push(context.Background(), r)
	}
	em.End()
	return st
}

func cssRecord(rel, css string, sources ...string) *stream.FileRecord {
	rec := &stream.FileRecord{
		Cwd:      "/work/project",
		Base:     base,
		Path:     base + "/" + rel,
		Contents: []byte(css),
	}
	if len(sources) > 0 {
		rec.SourceMap = &sourcemap.Map{Version: 3, File: "x.css", Sources: sources, Names: []string{}, Mappings: "AAAA"}
	}
	return rec
}

func read(t *testing.T, p string) string {
	t.Helper()
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	return string(data)
}

func TestWrite_ExternalMaps(t *testing.T) {
	out := t.TempDir()
	s := records(
		cssRecord("main.css", ".main{}\n", "main.scss"),
		cssRecord("pages/home.css", ".home{}", "home.scss"),
		&stream.FileRecord{Base: base, Path: base + "/fonts/a.woff", Contents: []byte{0, 1}},
	)

	written, err := Write(context.Background(), s, out, WriteOptions{MapsDir: "../maps"})
	require.NoError(t, err)

	mapsRoot := filepath.Join(filepath.Dir(out), "maps")
	assert.Equal(t, []string{
		filepath.Join(out, "main.css"),
		filepath.Join(mapsRoot, "main.css.map"),
		filepath.Join(out, "pages", "home.css"),
		filepath.Join(mapsRoot, "pages", "home.css.map"),
		filepath.Join(out, "fonts", "a.woff"),
	}, written)

	assert.Equal(t, ".main{}\n/*# sourceMappingURL=../maps/main.css.map */\n", read(t, written[0]))
	assert.Equal(t, ".home{}\n/*# sourceMappingURL=../../maps/pages/home.css.map */\n", read(t, written[2]))
	assert.Equal(t, "\x00\x01", read(t, written[4]))

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(read(t, written[3])), &m))
	assert.Equal(t, "home.css", m["file"])
	assert.Equal(t, []any{"../../" + filepath.Base(out) + "/pages/home.scss"}, m["sources"])
}

func TestWrite_RelocatedMapSourcesResolve(t *testing.T) {
	tests := []struct {
		name    string
		rec     *stream.FileRecord
		mapsDir string
		want    string
	}{
		{"sibling maps dir", cssRecord("main.css", ".m{}", "main.scss"), "../maps", "main.scss"},
		{"nested file", cssRecord("pages/home/home.css", ".h{}", "home.scss", "../../partials/_base.scss"), "maps", "pages/home/home.scss"},
		{"next to file", cssRecord("main.css", ".m{}", "main.scss"), ".", "main.scss"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := t.TempDir()
			written, err := WriteRecords([]*stream.FileRecord{tt.rec}, out, WriteOptions{MapsDir: tt.mapsDir})
			require.NoError(t, err)
			require.Len(t, written, 2)

			m, err := sourcemap.Parse([]byte(read(t, written[1])))
			require.NoError(t, err)

			resolved := filepath.Join(filepath.Dir(written[1]), filepath.FromSlash(m.SourceRoot), filepath.FromSlash(m.Sources[0]))
			assert.Equal(t, filepath.Join(out, filepath.FromSlash(tt.want)), resolved)
		})
	}
}

func TestWrite_RelocatedMapKeepsAbsoluteSources(t *testing.T) {
	out := t.TempDir()
	rec := cssRecord("main.css", ".m{}", "file:///work/project/src/main.scss")
	written, err := WriteRecords([]*stream.FileRecord{rec}, out, WriteOptions{MapsDir: "../maps"})
	require.NoError(t, err)

	m, err := sourcemap.Parse([]byte(read(t, written[1])))
	require.NoError(t, err)
	assert.Equal(t, []string{"file:///work/project/src/main.scss"}, m.Sources)
	assert.Equal(t, []string{"file:///work/project/src/main.scss"}, rec.SourceMap.Sources)
}

func TestWrite_MapsNextToFiles(t *testing.T) {
	out := t.TempDir()
	written, err := Write(context.Background(), records(cssRecord("main.css", ".m{}", "main.scss")), out, WriteOptions{MapsDir: "."})
	require.NoError(t, err)
	require.Len(t, written, 2)
	assert.Equal(t, filepath.Join(out, "main.css.map"), written[1])
	assert.True(t, strings.HasSuffix(read(t, written[0]), "/*# sourceMappingURL=main.css.map */\n"))
}

func TestWrite_InlineMaps(t *testing.T) {
	out := t.TempDir()
	written, err := Write(context.Background(), records(cssRecord("main.css", ".m{}", "main.scss")), out, WriteOptions{InlineMaps: true})
	require.NoError(t, err)
	require.Len(t, written, 1)

	css := read(t, written[0])
	const prefix = "/*# sourceMappingURL=data:application/json;charset=utf8;base64,"
	idx := strings.Index(css, prefix)
	require.GreaterOrEqual(t, idx, 0)

	encoded := strings.TrimSuffix(css[idx+len(prefix):], " */\n")
	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	m, err := sourcemap.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"main.scss"}, m.Sources)
	assert.Equal(t, "main.css", m.File)
}

func TestWrite_DropsMapsByDefault(t *testing.T) {
	out := t.TempDir()
	written, err := Write(context.Background(), records(cssRecord("main.css", ".m{}", "main.scss")), out, WriteOptions{})
	require.NoError(t, err)
	require.Len(t, written, 1)
	assert.Equal(t, ".m{}", read(t, written[0]))
}

func TestWrite_DoesNotMutateRecordMap(t *testing.T) {
	rec := cssRecord("main.css", ".m{}", "main.scss")
	_, err := Write(context.Background(), records(rec), t.TempDir(), WriteOptions{MapsDir: "."})
	require.NoError(t, err)
	assert.Equal(t, "x.css", rec.SourceMap.File)
}

func TestWrite_StreamFailure(t *testing.T) {
	st, em := stream.New(4)
	em.Push(context.Background(), cssRecord("a.css", ".a{}"))
	boom := errors.New("boom")
	em.Fail(boom)

	written, err := Write(context.Background(), st, t.TempDir(), WriteOptions{})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, written, "a failed stream delivers no buffered records")
}

func TestWrite_RejectsRecordOutsideBase(t *testing.T) {
	rec := &stream.FileRecord{Base: base, Path: "/work/project/other.css", Contents: []byte("x")}
	_, err := Write(context.Background(), records(rec), t.TempDir(), WriteOptions{})
	assert.Error(t, err)
}

func TestWriteRecords(t *testing.T) {
	out := t.TempDir()
	written, err := WriteRecords([]*stream.FileRecord{
		cssRecord("a.css", ".a{}", "a.scss"),
		cssRecord("b.css", ".b{}"),
	}, out, WriteOptions{MapsDir: "."})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(out, "a.css"),
		filepath.Join(out, "a.css.map"),
		filepath.Join(out, "b.css"),
	}, written)
}
