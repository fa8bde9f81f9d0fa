package reader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
}

func TestDocumentReaderGlobs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "rules/funding.md", "Funding is settled every 8 hours.")
	writeFile(t, root, "glossary.txt", "  Open interest: total outstanding contracts.  ")
	writeFile(t, root, "drafts/wip.md", "draft")
	writeFile(t, root, "image.png", "binary")
	writeFile(t, root, "empty.md", "   \n")

	r := NewDocumentReader(nil, []string{"drafts/**"})
	docs, err := r.Read(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, "glossary.txt", docs[0].MetaData[MetaSource])
	assert.Equal(t, "Open interest: total outstanding contracts.", docs[0].Content)
	assert.Equal(t, "rules/funding.md", docs[1].ID)
}

func TestDocumentReaderSkipsInvalidUTF8(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "bad.txt", string([]byte{0xff, 0xfe, 0x00}))
	writeFile(t, root, "ok.txt", "fine")

	docs, err := NewDocumentReader([]string{"*.txt"}, nil).Read(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "ok.txt", docs[0].ID)
}

func TestDocumentReaderErrors(t *testing.T) {
	r := NewDocumentReader(nil, nil)
	_, err := r.Read(context.Background(), "")
	assert.Error(t, err)

	_, err = r.Read(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	root := t.TempDir()
	writeFile(t, root, "a.md", "x")
	_, err = r.Read(context.Background(), filepath.Join(root, "a.md"))
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Read(ctx, root)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDocumentReaderSkipsSymlinkedFiles(t *testing.T) {
	outside := t.TempDir()
	writeFile(t, outside, "creds.txt", "db password hunter2")

	root := t.TempDir()
	writeFile(t, root, "notes.md", "Basis is futures price minus spot price.")
	if err := os.Symlink(filepath.Join(outside, "creds.txt"), filepath.Join(root, "creds.txt")); err != nil {
		t.Skipf("symlink not supported: %v", err)
	}

	docs, err := NewDocumentReader(nil, nil).Read(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "notes.md", docs[0].ID)
}
