package subscriptions

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pders01/fwrdsync/internal/account"
	"github.com/pders01/fwrdsync/internal/storage"
	"github.com/pders01/fwrdsync/internal/syncerr"
)

const sample = `
[[feed]]
url = " https://a.example.com/rss "
name = " A "

[[feed]]
url = ""

[[folder]]
name = "Tech"

  [[folder.feed]]
  url = "https://b.example.com/rss"

  [[folder.feed]]
  url = "https://a.example.com/rss"

[[folder]]
name = " Tech "

  [[folder.feed]]
  url = "https://c.example.com/rss"

[[folder]]
name = ""

  [[folder.feed]]
  url = "https://d.example.com/rss"
`

func TestRead_Normalizes(t *testing.T) {
	doc, err := Read(strings.NewReader(sample))
	require.NoError(t, err)

	assert.Equal(t, []Feed{
		{URL: "https://a.example.com/rss", Name: "A"},
		{URL: "https://d.example.com/rss"},
	}, doc.Feeds)
	require.Len(t, doc.Folders, 1)
	assert.Equal(t, "Tech", doc.Folders[0].Name)
	assert.Equal(t, []Feed{
		{URL: "https://b.example.com/rss"},
		{URL: "https://c.example.com/rss"},
	}, doc.Folders[0].Feeds)
	assert.Equal(t, 4, doc.Len())
}

func TestRead_ReportsPosition(t *testing.T) {
	_, err := Read(strings.NewReader("[[feed]]\nurl = \n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")

	_, err = Read(strings.NewReader("[[feed]]\nlink = \"x\"\n"))
	assert.Error(t, err)
}

func TestWriteFileReadFile(t *testing.T) {
	doc := &Document{
		Feeds:   []Feed{{URL: "https://a.example.com/rss", Name: "A"}},
		Folders: []Folder{{Name: "Tech", Feeds: []Feed{{URL: "https://b.example.com/rss", HomePageURL: "https://b.example.com"}}}},
	}
	path := filepath.Join(t.TempDir(), "nested", "subs.toml")
	require.NoError(t, WriteFile(path, doc))

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, doc, got)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, doc))
	assert.Contains(t, buf.String(), "[[folder.feed]]")
}

func newMirror(t *testing.T) *account.Mirror {
	t.Helper()
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "subs.db"), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return account.NewMirror("subs", store)
}

func TestExport(t *testing.T) {
	m := newMirror(t)
	folder, err := m.EnsureFolder("Tech", "")
	require.NoError(t, err)

	root := m.NewFeed("https://a.example.com/rss", "A")
	require.NoError(t, m.SaveFeed(root))
	nested := m.NewFeed("https://b.example.com/rss", "")
	nested.EditedName = "Bee"
	require.NoError(t, m.AddFeedToContainer(nested, folder.ID))
	unnamed := m.NewFeed("https://c.example.com/rss", "")
	require.NoError(t, m.SaveFeed(unnamed))

	doc, err := Export(m)
	require.NoError(t, err)
	assert.ElementsMatch(t, []Feed{
		{URL: "https://a.example.com/rss", Name: "A"},
		{URL: "https://c.example.com/rss"},
	}, doc.Feeds)
	require.Len(t, doc.Folders, 1)
	assert.Equal(t, []Feed{{URL: "https://b.example.com/rss", Name: "Bee"}}, doc.Folders[0].Feeds)
}

// fakeImporter records calls against a real mirror.
type fakeImporter struct {
	mirror    *account.Mirror
	behaviors account.Behaviors
	fail      map[string]error
	created   map[string]string
}

func newFakeImporter(t *testing.T, behaviors account.Behaviors) *fakeImporter {
	return &fakeImporter{
		mirror:    newMirror(t),
		behaviors: behaviors,
		fail:      make(map[string]error),
		created:   make(map[string]string),
	}
}

func (f *fakeImporter) Behaviors() account.Behaviors { return f.behaviors }
func (f *fakeImporter) Mirror() *account.Mirror      { return f.mirror }

func (f *fakeImporter) CreateFolder(_ context.Context, name string) (*storage.Folder, error) {
	return f.mirror.EnsureFolder(name, "")
}

func (f *fakeImporter) CreateFeed(_ context.Context, url, name, container string) (*storage.Feed, error) {
	if err := f.fail[url]; err != nil {
		return nil, err
	}
	if exists, err := f.mirror.HasFeedWithURL(url); err != nil {
		return nil, err
	} else if exists {
		return nil, syncerr.ErrAlreadySubscribed
	}
	feed := f.mirror.NewFeed(url, name)
	f.created[url] = container
	return feed, f.mirror.AddFeedToContainer(feed, container)
}

func TestImport(t *testing.T) {
	doc, err := Read(strings.NewReader(sample))
	require.NoError(t, err)

	im := newFakeImporter(t, 0)
	require.NoError(t, im.mirror.SaveFeed(im.mirror.NewFeed("https://c.example.com/rss", "")))
	im.fail["https://d.example.com/rss"] = errors.New("boom")

	report, err := Import(context.Background(), im, doc)
	require.NoError(t, err)
	assert.Equal(t, 1, report.FoldersCreated)
	assert.Equal(t, 2, report.FeedsCreated)
	assert.Equal(t, []string{"https://c.example.com/rss"}, report.Skipped)
	assert.Contains(t, report.Failed, "https://d.example.com/rss")

	tech, err := im.mirror.FolderByName("Tech")
	require.NoError(t, err)
	require.NotNil(t, tech)
	assert.Equal(t, "", im.created["https://a.example.com/rss"])
	assert.Equal(t, tech.ID, im.created["https://b.example.com/rss"])

	// A second run finds everything in place.
	delete(im.fail, "https://d.example.com/rss")
	report, err = Import(context.Background(), im, doc)
	require.NoError(t, err)
	assert.Zero(t, report.FoldersCreated)
	assert.Equal(t, 1, report.FeedsCreated)
	assert.Len(t, report.Skipped, 3)
}

func TestImport_RespectsBehaviors(t *testing.T) {
	doc := &Document{
		Feeds:   []Feed{{URL: "https://a.example.com/rss"}},
		Folders: []Folder{{Name: "Tech", Feeds: []Feed{{URL: "https://b.example.com/rss"}}}},
	}

	im := newFakeImporter(t, account.DisallowFeedInRootFolder)
	_, err := Import(context.Background(), im, doc)
	require.NoError(t, err)
	imported, err := im.mirror.FolderByName(ImportFolderName)
	require.NoError(t, err)
	require.NotNil(t, imported)
	assert.Equal(t, imported.ID, im.created["https://a.example.com/rss"])

	im = newFakeImporter(t, account.DisallowFolderManagement)
	_, err = Import(context.Background(), im, doc)
	require.NoError(t, err)
	assert.Equal(t, "", im.created["https://b.example.com/rss"])
	folders, err := im.mirror.Folders()
	require.NoError(t, err)
	assert.Empty(t, folders)

	im = newFakeImporter(t, account.DisallowOPMLImport)
	_, err = Import(context.Background(), im, doc)
	assert.True(t, syncerr.IsKind(err, syncerr.InvalidParameter))
}

func TestImport_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	im := newFakeImporter(t, 0)
	_, err := Import(ctx, im, &Document{Feeds: []Feed{{URL: "https://a.example.com/rss"}}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, im.created)
}
