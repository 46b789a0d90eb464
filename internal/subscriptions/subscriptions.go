// Package subscriptions reads and writes the subscription tree of an
// account as a TOML document and replays it through the coordinator.
package subscriptions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/pders01/fwrdsync/internal/account"
	"github.com/pders01/fwrdsync/internal/debuglog"
	"github.com/pders01/fwrdsync/internal/storage"
	"github.com/pders01/fwrdsync/internal/syncerr"
	"github.com/pders01/fwrdsync/internal/validation"
)

// ImportFolderName receives root feeds on accounts that keep every feed in
// a folder.
const ImportFolderName = "Imported"

type Feed struct {
	URL         string `toml:"url"`
	Name        string `toml:"name,omitempty"`
	HomePageURL string `toml:"home_page_url,omitempty"`
}

type Folder struct {
	Name  string `toml:"name"`
	Feeds []Feed `toml:"feed,omitempty"`
}

// Document is the normalized tree: root feeds plus one level of folders.
type Document struct {
	Feeds   []Feed   `toml:"feed,omitempty"`
	Folders []Folder `toml:"folder,omitempty"`
}

// Len counts the feeds in the document.
func (d *Document) Len() int {
	n := len(d.Feeds)
	for _, f := range d.Folders {
		n += len(f.Feeds)
	}
	return n
}

// Normalize trims names, drops feeds without a URL and keeps the first
// occurrence of every URL and folder name.
func (d *Document) Normalize() {
	seen := make(map[string]bool)
	keep := func(feeds []Feed) []Feed {
		out := feeds[:0]
		for _, f := range feeds {
			f.URL = strings.TrimSpace(f.URL)
			f.Name = strings.TrimSpace(f.Name)
			if f.URL == "" || seen[f.URL] {
				continue
			}
			seen[f.URL] = true
			out = append(out, f)
		}
		return out
	}

	d.Feeds = keep(d.Feeds)
	byName := make(map[string]int)
	folders := d.Folders[:0]
	for _, folder := range d.Folders {
		folder.Name = strings.TrimSpace(folder.Name)
		feeds := keep(folder.Feeds)
		if folder.Name == "" {
			d.Feeds = append(d.Feeds, feeds...)
			continue
		}
		if i, ok := byName[folder.Name]; ok {
			folders[i].Feeds = append(folders[i].Feeds, feeds...)
			continue
		}
		folder.Feeds = feeds
		byName[folder.Name] = len(folders)
		folders = append(folders, folder)
	}
	d.Folders = folders
}

// Read decodes and normalizes a document.
func Read(r io.Reader) (*Document, error) {
	var doc Document
	dec := toml.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, fmt.Errorf("parsing subscriptions at line %d, column %d: %w", row, col, err)
		}
		return nil, fmt.Errorf("parsing subscriptions: %w", err)
	}
	doc.Normalize()
	return &doc, nil
}

func ReadFile(path string) (*Document, error) {
	clean, err := validation.ValidatePath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(clean)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", clean, err)
	}
	return Read(bytes.NewReader(data))
}

func Write(w io.Writer, doc *Document) error {
	enc := toml.NewEncoder(w)
	enc.SetIndentTables(true)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding subscriptions: %w", err)
	}
	return nil
}

func WriteFile(path string, doc *Document) error {
	clean, err := validation.EnsureParentDir(path)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := Write(&buf, doc); err != nil {
		return err
	}
	return os.WriteFile(clean, buf.Bytes(), 0o644)
}

// Export builds a document from the mirror.
func Export(m *account.Mirror) (*Document, error) {
	feeds, err := m.FlattenedFeeds()
	if err != nil {
		return nil, err
	}
	folders, err := m.Folders()
	if err != nil {
		return nil, err
	}

	doc := &Document{}
	index := make(map[string]int, len(folders))
	for _, folder := range folders {
		index[folder.ID] = len(doc.Folders)
		doc.Folders = append(doc.Folders, Folder{Name: folder.Name})
	}
	for _, f := range feeds {
		entry := Feed{URL: f.URL, Name: f.DisplayName(), HomePageURL: f.HomePageURL}
		if entry.Name == f.URL {
			entry.Name = ""
		}
		if i, ok := index[f.FolderID]; ok {
			doc.Folders[i].Feeds = append(doc.Folders[i].Feeds, entry)
			continue
		}
		doc.Feeds = append(doc.Feeds, entry)
	}
	return doc, nil
}

// Importer is the part of the coordinator an import needs.
type Importer interface {
	Behaviors() account.Behaviors
	Mirror() *account.Mirror
	CreateFolder(ctx context.Context, name string) (*storage.Folder, error)
	CreateFeed(ctx context.Context, url, name, container string) (*storage.Feed, error)
}

var _ Importer = (*account.Account)(nil)

// Report summarizes an import. Failed maps feed URLs to their error.
type Report struct {
	FoldersCreated int
	FeedsCreated   int
	Skipped        []string
	Failed         map[string]error
}

// Import creates every folder and feed of doc that the account does not
// have yet. Single failures are recorded in the report and the import goes
// on; a cancelled ctx stops it.
func Import(ctx context.Context, acct Importer, doc *Document) (*Report, error) {
	if acct.Behaviors().Has(account.DisallowOPMLImport) {
		return nil, syncerr.New(syncerr.InvalidParameter, "importing subscriptions", "account does not support import")
	}
	im := &importer{acct: acct, report: &Report{Failed: make(map[string]error)}}
	if err := im.feeds(ctx, "", doc.Feeds); err != nil {
		return im.report, err
	}
	for _, folder := range doc.Folders {
		if err := im.feeds(ctx, folder.Name, folder.Feeds); err != nil {
			return im.report, err
		}
	}
	r := im.report
	debuglog.Infof("import: %d folders, %d feeds created, %d skipped, %d failed",
		r.FoldersCreated, r.FeedsCreated, len(r.Skipped), len(r.Failed))
	return r, nil
}

type importer struct {
	acct   Importer
	report *Report
}

// container resolves the folder feeds named under folderName go to.
func (im *importer) container(ctx context.Context, folderName string) (string, error) {
	behaviors := im.acct.Behaviors()
	switch {
	case behaviors.Has(account.DisallowFolderManagement):
		return "", nil
	case folderName == "" && !behaviors.Has(account.DisallowFeedInRootFolder):
		return "", nil
	case folderName == "":
		folderName = ImportFolderName
	}

	existing, err := im.acct.Mirror().FolderByName(folderName)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return existing.ID, nil
	}
	folder, err := im.acct.CreateFolder(ctx, folderName)
	if err != nil {
		return "", err
	}
	im.report.FoldersCreated++
	return folder.ID, nil
}

func (im *importer) feeds(ctx context.Context, folderName string, feeds []Feed) error {
	if len(feeds) == 0 {
		return nil
	}
	container, err := im.container(ctx, folderName)
	if err != nil {
		debuglog.Warnf("import: folder %q: %v", folderName, err)
		for _, f := range feeds {
			im.report.Failed[f.URL] = err
		}
		return ctx.Err()
	}
	for _, f := range feeds {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := im.acct.CreateFeed(ctx, f.URL, f.Name, container)
		switch {
		case err == nil:
			im.report.FeedsCreated++
		case errors.Is(err, syncerr.ErrAlreadySubscribed):
			im.report.Skipped = append(im.report.Skipped, f.URL)
		default:
			debuglog.Warnf("import: %s: %v", f.URL, err)
			im.report.Failed[f.URL] = err
		}
	}
	return nil
}
