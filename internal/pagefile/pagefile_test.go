package pagefile

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theflywheel/pagekv/internal/hashfn"
)

func openTemp(t *testing.T) *File {
	t.Helper()
	pf, err := Open(filepath.Join(t.TempDir(), "pages.db"), OSPageSize(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { pf.Close() })
	return pf
}

func TestOpenCreatesOnePage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.db")
	pf, err := Open(path, OSPageSize(), nil)
	require.NoError(t, err)
	defer pf.Close()

	assert.Equal(t, 1, pf.PageCount())

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(OSPageSize()), fi.Size())
}

func TestOpenRejectsBadPageSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.db")
	_, err := Open(path, OSPageSize()+1, nil)
	require.Error(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "file must not be created")
}

func TestOpenRejectsTornFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.db")
	require.NoError(t, os.WriteFile(path, make([]byte, OSPageSize()+10), 0600))

	_, err := Open(path, OSPageSize(), nil)
	require.Error(t, err)
}

func TestGrow(t *testing.T) {
	pf := openTemp(t)

	first, err := pf.Grow(1)
	require.NoError(t, err)
	assert.Equal(t, 1, first)
	assert.Equal(t, 2, pf.PageCount())

	first, err = pf.Grow(3)
	require.NoError(t, err)
	assert.Equal(t, 2, first)
	assert.Equal(t, 5, pf.PageCount())
	assert.Equal(t, int64(5*pf.PageSize()), pf.Size())

	page, err := pf.Page(4)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, pf.PageSize()), page)
}

func TestPageGrowsPastEnd(t *testing.T) {
	pf := openTemp(t)

	_, err := pf.Page(3)
	require.NoError(t, err)
	assert.Equal(t, 4, pf.PageCount())

	_, err = pf.Page(-1)
	assert.ErrorIs(t, err, ErrBadPage)
}

func TestReadWriteAcrossPages(t *testing.T) {
	pf := openTemp(t)

	buf := bytes.Repeat([]byte{0xff}, 3000)
	start := pf.PageSize() - 1000
	require.NoError(t, pf.Write(0, start, buf))

	got := make([]byte, len(buf))
	require.NoError(t, pf.Read(0, start, got))
	assert.Equal(t, buf, got)
	assert.Equal(t, 2, pf.PageCount())

	page1, err := pf.Page(1)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0xff}, 2000), page1[:2000])
	assert.Equal(t, byte(0), page1[2000])
}

func TestWriteRejectsOffsetOutsidePage(t *testing.T) {
	pf := openTemp(t)
	err := pf.Write(0, pf.PageSize(), []byte("x"))
	assert.ErrorIs(t, err, ErrBadPage)
}

func TestEqualNullTerminated(t *testing.T) {
	pf := openTemp(t)

	require.NoError(t, pf.Write(0, 4, []byte("abcd\x00efgh\x00")))

	testCases := []struct {
		name   string
		offset int
		key    string
		want   bool
	}{
		{"match", 4, "abcd", true},
		{"other_string", 4, "efgh", false},
		{"second_string", 9, "efgh", true},
		{"longer_key", 4, "abcde", false},
		{"shorter_key", 4, "abc", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			eq, err := pf.EqualNullTerminated(0, tc.offset, []byte(tc.key))
			require.NoError(t, err)
			assert.Equal(t, tc.want, eq)
		})
	}
}

func TestEqualNullTerminatedAcrossPages(t *testing.T) {
	pf := openTemp(t)

	key := bytes.Repeat([]byte{'d'}, 3999)
	require.NoError(t, pf.Write(0, pf.PageSize()-1000, append(key, 0)))

	eq, err := pf.EqualNullTerminated(0, pf.PageSize()-1000, key)
	require.NoError(t, err)
	assert.True(t, eq)

	eq, err = pf.EqualNullTerminated(0, pf.PageSize()-1000, key[:3998])
	require.NoError(t, err)
	assert.False(t, eq)
}

func TestHashNullTerminated(t *testing.T) {
	pf := openTemp(t)

	require.NoError(t, pf.Write(0, 4, []byte("abcddd\x00efgh\x00")))

	h := hashfn.NewDJB2()
	n, err := pf.HashNullTerminated(0, 4, 64, h)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, hashfn.SumDJB2([]byte("abcddd")), h.Sum64())

	h.Reset()
	n, err = pf.HashNullTerminated(0, 11, 64, h)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, hashfn.SumDJB2([]byte("efgh")), h.Sum64())

	_, err = pf.HashNullTerminated(0, 4, 3, hashfn.NewDJB2())
	assert.ErrorIs(t, err, ErrNoTerminator)
}

func TestHashNullTerminatedAcrossPages(t *testing.T) {
	pf := openTemp(t)

	key := bytes.Repeat([]byte{'k'}, 50)
	start := pf.PageSize() - 20
	require.NoError(t, pf.Write(0, start, append(key, 0)))

	h := hashfn.XXHash.New()
	n, err := pf.HashNullTerminated(0, start, 51, h)
	require.NoError(t, err)
	assert.Equal(t, 50, n)
	assert.Equal(t, hashfn.XXHash.Sum(key), h.Sum64())
}

func TestPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.db")

	pf, err := Open(path, OSPageSize(), nil)
	require.NoError(t, err)
	_, err = pf.Grow(2)
	require.NoError(t, err)
	require.NoError(t, pf.Write(2, 10, []byte("persisted")))
	require.NoError(t, pf.SyncPage(2))
	require.NoError(t, pf.Sync())
	require.NoError(t, pf.Close())

	pf, err = Open(path, OSPageSize(), nil)
	require.NoError(t, err)
	defer pf.Close()

	assert.Equal(t, 3, pf.PageCount())
	got := make([]byte, 9)
	require.NoError(t, pf.Read(2, 10, got))
	assert.Equal(t, "persisted", string(got))
}

func TestCloseAndRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.db")
	pf, err := Open(path, OSPageSize(), nil)
	require.NoError(t, err)

	require.NoError(t, pf.Close())
	require.NoError(t, pf.Close())

	_, err = pf.Page(0)
	assert.ErrorIs(t, err, ErrClosed)

	require.NoError(t, pf.Remove())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
