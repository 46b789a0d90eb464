package cloud

import (
	"context"
	"slices"

	"github.com/google/uuid"

	"github.com/pders01/fwrdsync/internal/account"
	"github.com/pders01/fwrdsync/internal/storage"
)

const (
	AccountZoneName = "Account"

	recordContainer = "AccountContainer"
	recordFeed      = "AccountWebFeed"

	fieldIsAccount   = "isAccount"
	fieldName        = "name"
	fieldURL         = "url"
	fieldEditedName  = "editedName"
	fieldHomePageURL = "homePageURL"
)

// AccountZone holds the subscription tree: one container record for the
// account root, one per folder, and a feed record referencing the
// containers it sits in.
type AccountZone struct {
	*Zone
}

func NewAccountZone(db Database, mirror *account.Mirror) *AccountZone {
	z := &AccountZone{Zone: NewZone(AccountZoneName, db, mirror.Store())}
	z.SetDelegate(&accountZoneDelegate{mirror: mirror})
	return z
}

// FindOrCreateAccount returns the id of the account root container.
func (z *AccountZone) FindOrCreateAccount(ctx context.Context) (string, error) {
	r := NewRecord(recordContainer, uuid.NewString())
	r.Set(fieldIsAccount, "1")
	saved, err := z.SaveNew(ctx, r, fieldIsAccount, nil)
	if err != nil {
		return "", err
	}
	return saved.ID, nil
}

// CreateFeed saves a feed record in containerID. When the URL is already
// known remotely, that record is reused and moved into containerID.
func (z *AccountZone) CreateFeed(ctx context.Context, url, name, editedName, containerID string) (*Record, error) {
	r := NewRecord(recordFeed, uuid.NewString())
	r.Set(fieldURL, url)
	r.Set(fieldName, name)
	r.Set(fieldEditedName, editedName)
	r.Refs = []string{containerID}
	return z.SaveNew(ctx, r, fieldURL, func(server *Record) {
		if editedName != "" {
			server.Set(fieldEditedName, editedName)
		}
		server.Refs = []string{containerID}
	})
}

func (z *AccountZone) RenameFeed(ctx context.Context, externalID, editedName string) error {
	_, err := z.Modify(ctx, externalID, func(r *Record) {
		r.Set(fieldEditedName, editedName)
	})
	return err
}

// RemoveFeed drops the reference to containerID and deletes the record once
// no container is left. It reports whether the record was deleted.
func (z *AccountZone) RemoveFeed(ctx context.Context, externalID, containerID string) (bool, error) {
	r, err := z.Fetch(ctx, externalID)
	if err != nil {
		return false, err
	}
	r.Refs = slices.DeleteFunc(r.Refs, func(ref string) bool { return ref == containerID })
	if len(r.Refs) == 0 {
		return true, z.Delete(ctx, []string{externalID})
	}
	return false, z.Save(ctx, []*Record{r})
}

func (z *AccountZone) MoveFeed(ctx context.Context, externalID, from, to string) error {
	_, err := z.Modify(ctx, externalID, func(r *Record) {
		refs := slices.DeleteFunc(r.Refs, func(ref string) bool { return ref == from || ref == to })
		r.Refs = append(refs, to)
	})
	return err
}

// AddFeed places the feed in containerID only.
func (z *AccountZone) AddFeed(ctx context.Context, externalID, containerID string) error {
	_, err := z.Modify(ctx, externalID, func(r *Record) {
		r.Refs = []string{containerID}
	})
	return err
}

func (z *AccountZone) CreateFolder(ctx context.Context, name string) (*Record, error) {
	r := NewRecord(recordContainer, uuid.NewString())
	r.Set(fieldIsAccount, "0")
	r.Set(fieldName, name)
	return z.SaveNew(ctx, r, fieldName, nil)
}

func (z *AccountZone) RenameFolder(ctx context.Context, externalID, name string) error {
	_, err := z.Modify(ctx, externalID, func(r *Record) {
		r.Set(fieldName, name)
	})
	return err
}

// RemoveFolder deletes the container and every feed left without one.
func (z *AccountZone) RemoveFolder(ctx context.Context, externalID string) error {
	feeds, err := z.Query(ctx, Filter{Type: recordFeed, Ref: externalID})
	if err != nil {
		return err
	}
	var save []*Record
	doomed := []string{externalID}
	for _, r := range feeds {
		r.Refs = slices.DeleteFunc(r.Refs, func(ref string) bool { return ref == externalID })
		if len(r.Refs) == 0 {
			doomed = append(doomed, r.ID)
		} else {
			save = append(save, r)
		}
	}
	if err := z.Save(ctx, save); err != nil {
		return err
	}
	return z.Delete(ctx, doomed)
}

type accountZoneDelegate struct {
	mirror *account.Mirror
}

func (d *accountZoneDelegate) ApplyChanges(_ context.Context, updated []*Record, deleted []string) error {
	root, err := d.mirror.Store().AccountExternalID()
	if err != nil {
		return err
	}

	var feeds []*Record
	for _, r := range updated {
		switch r.Type {
		case recordContainer:
			if r.Get(fieldIsAccount) == "1" {
				if root == "" {
					root = r.ID
					if err := d.mirror.Store().SetAccountExternalID(root); err != nil {
						return err
					}
				}
				continue
			}
			if err := d.applyFolder(r); err != nil {
				return err
			}
		case recordFeed:
			feeds = append(feeds, r)
		}
	}
	for _, r := range feeds {
		if err := d.applyFeed(r, root); err != nil {
			return err
		}
	}
	return d.applyDeletions(deleted)
}

func (d *accountZoneDelegate) applyFolder(r *Record) error {
	name := r.Get(fieldName)
	folder, err := d.mirror.FolderByExternalID(r.ID)
	if err != nil {
		return err
	}
	if folder == nil {
		_, err := d.mirror.EnsureFolder(name, r.ID)
		return err
	}
	if folder.Name == name || name == "" {
		return nil
	}
	folder.Name = name
	return d.mirror.SaveFolder(folder)
}

func (d *accountZoneDelegate) applyFeed(r *Record, root string) error {
	url := r.Get(fieldURL)
	f, err := d.mirror.FeedByExternalID(r.ID)
	if err == nil && f == nil {
		// Created here before the record id was known.
		f, err = d.mirror.FeedByURL(url)
	}
	if err != nil {
		return err
	}
	if f == nil {
		f = d.mirror.NewFeed(url, r.Get(fieldName))
	}

	f.ExternalID = r.ID
	if name := r.Get(fieldName); name != "" {
		f.Name = name
	}
	f.EditedName = r.Get(fieldEditedName)
	if home := r.Get(fieldHomePageURL); home != "" {
		f.HomePageURL = home
	}

	f.FolderID = ""
	for _, ref := range r.Refs {
		if ref == root {
			continue
		}
		folder, err := d.mirror.FolderByExternalID(ref)
		if err != nil {
			return err
		}
		if folder != nil {
			f.FolderID = folder.ID
			break
		}
	}
	return d.mirror.SaveFeed(f)
}

// applyDeletions removes feeds before folders so a folder deletion only
// cascades to feeds that were not moved elsewhere in the same batch.
func (d *accountZoneDelegate) applyDeletions(ids []string) error {
	var feedIDs []string
	var folders []*storage.Folder
	for _, id := range ids {
		f, err := d.mirror.FeedByExternalID(id)
		if err != nil {
			return err
		}
		if f != nil {
			feedIDs = append(feedIDs, f.ID)
			continue
		}
		folder, err := d.mirror.FolderByExternalID(id)
		if err != nil {
			return err
		}
		if folder != nil {
			folders = append(folders, folder)
		}
	}
	if err := d.mirror.RemoveFeeds(feedIDs); err != nil {
		return err
	}
	for _, folder := range folders {
		if err := d.mirror.RemoveFolder(folder); err != nil {
			return err
		}
	}
	return nil
}

// ZoneWasDeleted empties the mirror. The articles token is reset as well,
// since its records are only applied to feeds the mirror knows.
func (d *accountZoneDelegate) ZoneWasDeleted() error {
	if err := d.mirror.RemoveAllFoldersAndFeeds(); err != nil {
		return err
	}
	if err := d.mirror.Store().ResetChangeToken(ArticlesZoneName); err != nil {
		return err
	}
	return d.mirror.Store().SetAccountExternalID("")
}
