package disc

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBlankCatalogue(t *testing.T) {
	img, err := New("TEST", 3, "")
	require.NoError(t, err)
	assert.Equal(t, byte(0x03|(3<<4)), img.buf[0x106])
	assert.Equal(t, byte(0x20), img.buf[0x107])
	assert.Equal(t, byte(0), img.buf[0x105])
}

func TestAddFileFillsCatalogueEntry(t *testing.T) {
	img, err := New("TEST", 0, "")
	require.NoError(t, err)
	data := bytes.Repeat([]byte{0xAA}, 10)
	require.NoError(t, img.AddFile("CODE", data, 0x1000, 0x1000))

	assert.Equal(t, byte(8), img.buf[0x105])
	assert.Equal(t, "CODE   ", string(img.buf[8:15]))
	assert.Equal(t, byte('$'), img.buf[15])
	assert.Equal(t, byte(10), img.buf[0x10C])
	assert.Equal(t, byte(2), img.buf[0x10F]) // first file starts at sector 2

	offset := 2 * sectorSize
	assert.Equal(t, data, img.buf[offset:offset+10])
}

func TestAddFileDirectoryPrefix(t *testing.T) {
	img, err := New("TEST", 0, "")
	require.NoError(t, err)
	require.NoError(t, img.AddFile("L.CODE", []byte{1, 2, 3}, 0, 0))
	assert.Equal(t, byte('L'), img.buf[15])
	assert.Equal(t, "CODE   ", string(img.buf[8:15]))
}

func TestAddFileRejectsLongName(t *testing.T) {
	img, _ := New("TEST", 0, "")
	err := img.AddFile("TOOLONGNAME", []byte{1}, 0, 0)
	assert.Error(t, err)
}

func TestAddFileRejectsDuplicate(t *testing.T) {
	img, _ := New("TEST", 0, "")
	require.NoError(t, img.AddFile("CODE", []byte{1}, 0, 0))
	err := img.AddFile("CODE", []byte{2}, 0, 0)
	assert.Error(t, err)
}

func TestAddFileInsertsAtPositionOne(t *testing.T) {
	img, _ := New("TEST", 0, "")
	require.NoError(t, img.AddFile("FIRST", []byte{1}, 0, 0))
	require.NoError(t, img.AddFile("SECOND", []byte{2}, 0, 0))

	// SECOND (added last) occupies catalogue position 1 (offset 8),
	// FIRST is pushed down to position 2 (offset 16).
	assert.Equal(t, "SECOND ", string(img.buf[8:15]))
	assert.Equal(t, "FIRST  ", string(img.buf[16:23]))
}

func TestCatalogueFull(t *testing.T) {
	img, _ := New("TEST", 0, "")
	for i := 0; i < 31; i++ {
		name := fmt.Sprintf("F%02d", i)
		require.NoError(t, img.AddFile(name, []byte{1}, 0, 0))
	}
	err := img.AddFile("ONEMORE", []byte{1}, 0, 0)
	assert.Error(t, err)
}

func TestDiscFull(t *testing.T) {
	img, _ := New("TEST", 0, "")
	big := make([]byte, 600*256)
	require.NoError(t, img.AddFile("BIG", big, 0, 0))

	tooBig := make([]byte, 201*256)
	err := img.AddFile("TOOBIG", tooBig, 0, 0)
	assert.Error(t, err)
}

func TestBootFileForcesOPT3(t *testing.T) {
	img, err := New("TEST", 0, "MYPROG")
	require.NoError(t, err)
	assert.Equal(t, byte(0x33), img.buf[0x106])
	assert.Equal(t, "!Boot  ", string(img.buf[8:15]))
}

func TestSaveWritesFullBuffer(t *testing.T) {
	img, _ := New("TEST", 0, "")
	require.NoError(t, img.AddFile("CODE", []byte{1, 2, 3}, 0, 0))
	var buf bytes.Buffer
	require.NoError(t, img.Save(&buf))
	assert.Equal(t, img.Bytes(), buf.Bytes())
}

func TestOpenThenAddFileRoundTrip(t *testing.T) {
	img, _ := New("TEST", 0, "")
	require.NoError(t, img.AddFile("ONE", []byte{1, 2, 3}, 0x900, 0x900))

	reopened, err := Open(bytes.NewReader(img.Bytes()))
	require.NoError(t, err)
	require.NoError(t, reopened.AddFile("TWO", []byte{4, 5}, 0x900, 0x900))

	assert.Equal(t, byte(16), reopened.buf[0x105])
}
