package infra

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileKeyProvider(t *testing.T) {
	tests := []struct {
		name   string
		testFn func(t *testing.T, dir string, p *FileKeyProvider)
	}{
		{
			name: "no key initially",
			testFn: func(t *testing.T, dir string, p *FileKeyProvider) {
				assert.False(t, p.KeyExists())
				_, err := p.GetKey()
				assert.Error(t, err)
			},
		},
		{
			name: "store and read back",
			testFn: func(t *testing.T, dir string, p *FileKeyProvider) {
				key, err := GenerateKey()
				require.NoError(t, err)
				require.NoError(t, p.StoreKey(key))

				assert.True(t, p.KeyExists())
				got, err := p.GetKey()
				require.NoError(t, err)
				assert.Equal(t, key, got)
			},
		},
		{
			name: "key file is owner only",
			testFn: func(t *testing.T, dir string, p *FileKeyProvider) {
				key, _ := GenerateKey()
				require.NoError(t, p.StoreKey(key))

				info, err := os.Stat(filepath.Join(dir, keyFileName))
				require.NoError(t, err)
				assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
			},
		},
		{
			name: "rejects wrong size",
			testFn: func(t *testing.T, dir string, p *FileKeyProvider) {
				assert.Error(t, p.StoreKey([]byte("short")))
			},
		},
		{
			name: "rejects corrupt file",
			testFn: func(t *testing.T, dir string, p *FileKeyProvider) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, keyFileName), []byte("not-hex"), 0600))
				_, err := p.GetKey()
				assert.Error(t, err)
			},
		},
		{
			name: "rejects truncated key",
			testFn: func(t *testing.T, dir string, p *FileKeyProvider) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, keyFileName), []byte("abcd"), 0600))
				_, err := p.GetKey()
				assert.Error(t, err)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			tt.testFn(t, dir, NewFileKeyProvider(dir))
		})
	}
}

func TestGenerateKey_Unique(t *testing.T) {
	a, err := GenerateKey()
	require.NoError(t, err)
	b, err := GenerateKey()
	require.NoError(t, err)

	assert.Len(t, a, keySize)
	assert.NotEqual(t, a, b)
}

func TestEnsureKey(t *testing.T) {
	p := NewFileKeyProvider(filepath.Join(t.TempDir(), "nested"))

	first, err := EnsureKey(p)
	require.NoError(t, err)
	second, err := EnsureKey(p)
	require.NoError(t, err)

	assert.Equal(t, first, second, "existing key is reused")
}
