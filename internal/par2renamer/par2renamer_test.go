package par2renamer

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/binary"
	"io"
	"testing"

	"log/slog"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nzbget-go/core/internal/model"
	"github.com/nzbget-go/core/internal/par2"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// buildPar2File constructs a minimal valid PAR2 file containing a single
// FileDesc packet naming the given file with its 16 KiB content hash.
func buildPar2File(t *testing.T, name string, content []byte) []byte {
	t.Helper()
	h := md5.New()
	n := len(content)
	if n > 16*1024 {
		n = 16 * 1024
	}
	h.Write(content[:n])
	var hash16k [16]byte
	copy(hash16k[:], h.Sum(nil))

	nameBytes := []byte(name)
	pad := (4 - len(nameBytes)%4) % 4
	nameBytes = append(nameBytes, make([]byte, pad)...)

	const minFileDescBody = 56
	const headerSize = 64
	bodyLen := minFileDescBody + len(nameBytes)
	total := headerSize + bodyLen

	buf := &bytes.Buffer{}
	buf.Write(par2.MagicBytes[:])
	binary.Write(buf, binary.LittleEndian, uint64(total))
	buf.Write(make([]byte, 16)) // MD5
	buf.Write(make([]byte, 16)) // SetID
	buf.Write(par2.PacketTypeFileDesc[:])
	buf.Write(make([]byte, 16)) // FileID
	buf.Write(make([]byte, 16)) // FullMD5
	buf.Write(hash16k[:])
	binary.Write(buf, binary.LittleEndian, uint64(len(content)))
	buf.Write(nameBytes)
	return buf.Bytes()
}

func TestRunRenamesMatchingFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	movieContent := []byte("this is the real movie content, pretend it's bigger")

	require.NoError(t, afero.WriteFile(fs, "/dl/obfuscated.bin", movieContent, 0o644))
	require.NoError(t, afero.WriteFile(fs, "/dl/set.par2", buildPar2File(t, "movie.mkv", movieContent), 0o644))

	r := New(fs, testLogger())
	res, err := r.Run(context.Background(), "/dl", true)
	require.NoError(t, err)
	assert.Equal(t, model.PostRenameStatusSuccess, res.Status)
	assert.Equal(t, 1, res.Renamed)
	assert.Empty(t, res.Missing)

	exists, _ := afero.Exists(fs, "/dl/movie.mkv")
	assert.True(t, exists)
	goneOld, _ := afero.Exists(fs, "/dl/obfuscated.bin")
	assert.False(t, goneOld)
}

func TestRunSkipsWhenNoParFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/dl/video.mkv", []byte("x"), 0o644))

	r := New(fs, testLogger())
	res, err := r.Run(context.Background(), "/dl", false)
	require.NoError(t, err)
	assert.Equal(t, model.PostRenameStatusSkipped, res.Status)
}

func TestRunDoesNotOverwriteExistingTarget(t *testing.T) {
	fs := afero.NewMemMapFs()
	movieContent := []byte("content")

	require.NoError(t, afero.WriteFile(fs, "/dl/obfuscated.bin", movieContent, 0o644))
	require.NoError(t, afero.WriteFile(fs, "/dl/movie.mkv", []byte("already here"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/dl/set.par2", buildPar2File(t, "movie.mkv", movieContent), 0o644))

	r := New(fs, testLogger())
	res, err := r.Run(context.Background(), "/dl", false)
	require.NoError(t, err)
	assert.Equal(t, model.PostRenameStatusNothing, res.Status)

	stillThere, _ := afero.Exists(fs, "/dl/obfuscated.bin")
	assert.True(t, stillThere, "source file must be left alone when the target name is already taken")
}

func TestRunRecursesIntoSubdirectories(t *testing.T) {
	fs := afero.NewMemMapFs()
	content := []byte("episode payload")

	require.NoError(t, afero.WriteFile(fs, "/dl/sub/123456", content, 0o644))
	require.NoError(t, afero.WriteFile(fs, "/dl/sub/set.par2", buildPar2File(t, "episode.mkv", content), 0o644))

	r := New(fs, testLogger())
	res, err := r.Run(context.Background(), "/dl", false)
	require.NoError(t, err)
	assert.Equal(t, model.PostRenameStatusSuccess, res.Status)
	assert.Equal(t, 1, res.Renamed)

	exists, _ := afero.Exists(fs, "/dl/sub/episode.mkv")
	assert.True(t, exists)
}

func TestRunReportsMissingDescribedFiles(t *testing.T) {
	fs := afero.NewMemMapFs()

	require.NoError(t, afero.WriteFile(fs, "/dl/set.par2", buildPar2File(t, "never-posted.bin", []byte("absent content")), 0o644))

	r := New(fs, testLogger())
	res, err := r.Run(context.Background(), "/dl", true)
	require.NoError(t, err)
	assert.Equal(t, model.PostRenameStatusNothing, res.Status)
	require.Len(t, res.Missing, 1)
	assert.Equal(t, "never-posted.bin", res.Missing[0])
}
