package fsxlocal_test

import (
	"context"
	"testing"

	"github.com/Abraxas-365/jobrelay/pkg/errx"
	"github.com/Abraxas-365/jobrelay/pkg/fsx"
	"github.com/Abraxas-365/jobrelay/pkg/fsx/fsxlocal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadListDelete(t *testing.T) {
	ctx := context.Background()
	lfs, err := fsxlocal.NewLocalFileSystem(t.TempDir())
	require.NoError(t, err)

	path := lfs.Join("results", "j1.json")
	require.NoError(t, lfs.WriteFile(ctx, path, []byte(`{"ok":true}`)))

	ok, err := lfs.Exists(ctx, path)
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := lfs.ReadFile(ctx, path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))

	require.NoError(t, lfs.WriteFile(ctx, path, []byte(`{"ok":false}`)))
	data, err = lfs.ReadFile(ctx, path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":false}`, string(data))

	infos, err := lfs.List(ctx, "results")
	require.NoError(t, err)
	require.Len(t, infos, 1, "temp files must not linger")
	assert.Equal(t, "j1.json", infos[0].Name)
	assert.Equal(t, "application/json", infos[0].ContentType)

	require.NoError(t, lfs.DeleteFile(ctx, path))
	require.NoError(t, lfs.DeleteFile(ctx, path))
	ok, err = lfs.Exists(ctx, path)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMissingFile(t *testing.T) {
	lfs, err := fsxlocal.NewLocalFileSystem(t.TempDir())
	require.NoError(t, err)

	_, err = lfs.ReadFile(context.Background(), "nope.json")
	assert.True(t, errx.IsCode(err, fsx.ErrNotFound))

	_, err = lfs.List(context.Background(), "nodir")
	assert.True(t, errx.IsCode(err, fsx.ErrNotFound))
}

func TestPathEscapeIsRejected(t *testing.T) {
	lfs, err := fsxlocal.NewLocalFileSystem(t.TempDir())
	require.NoError(t, err)

	err = lfs.WriteFile(context.Background(), "../outside.json", []byte("x"))
	assert.True(t, errx.IsCode(err, fsx.ErrInvalidPath))
}
