package main

import (
	"fmt"
	"strings"

	"github.com/pders01/fwrdsync/internal/account"
	"github.com/pders01/fwrdsync/internal/storage"
)

// resolveFeed finds a feed by id, unique id prefix, URL or display name.
func resolveFeed(m *account.Mirror, ref string) (*storage.Feed, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("empty feed reference")
	}
	feeds, err := m.FlattenedFeeds()
	if err != nil {
		return nil, err
	}
	var matches []*storage.Feed
	for _, f := range feeds {
		switch {
		case f.ID == ref, f.URL == ref:
			return f, nil
		case strings.HasPrefix(f.ID, ref), strings.EqualFold(f.DisplayName(), ref):
			matches = append(matches, f)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no feed matches %q", ref)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%q matches %d feeds; use a longer id", ref, len(matches))
	}
}

// rootFolder is how the account root is named on the command line.
const rootFolder = "/"

// resolveContainer turns a folder name into its id; "" and "/" are the root.
func resolveContainer(m *account.Mirror, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == rootFolder {
		return "", nil
	}
	folder, err := m.FolderByName(name)
	if err != nil {
		return "", err
	}
	if folder == nil {
		return "", fmt.Errorf("no folder named %q", name)
	}
	return folder.ID, nil
}

func resolveFolder(m *account.Mirror, name string) (*storage.Folder, error) {
	id, err := resolveContainer(m, name)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("the account root is not a folder")
	}
	return m.Folder(id)
}

// resolveArticles expands every ref to article ids. A ref is an article id
// or a unique prefix of one.
func resolveArticles(store *storage.Store, refs []string) ([]string, error) {
	all, err := store.GetArticles("", 0)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		var matches []string
		for _, a := range all {
			if a.ID == ref {
				matches = []string{a.ID}
				break
			}
			if strings.HasPrefix(a.ID, ref) {
				matches = append(matches, a.ID)
			}
		}
		switch len(matches) {
		case 0:
			return nil, fmt.Errorf("no article matches %q", ref)
		case 1:
			ids = append(ids, matches[0])
		default:
			return nil, fmt.Errorf("%q matches %d articles; use a longer id", ref, len(matches))
		}
	}
	return ids, nil
}
