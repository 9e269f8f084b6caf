package store

import (
	"bytes"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/rundeck/internal/event"
	"github.com/dshills/rundeck/internal/logging"
	"github.com/dshills/rundeck/internal/runconfig"
	"github.com/dshills/rundeck/internal/schedule"
)

// Catalog is the in-memory, editable view of the stored configurations.
// Edits are persisted after a debounce delay; Flush and Close persist
// immediately.
//
// Catalog is safe for concurrent use.
type Catalog struct {
	store Store
	log   *logging.Logger
	saver *schedule.Debouncer

	mu      sync.RWMutex
	doc     runconfig.AppConfig
	saveErr error

	changes *event.Feed[runconfig.AppConfig]
}

// NewCatalog creates a catalog over st. Call Load before use.
func NewCatalog(st Store, saveDelay time.Duration, log *logging.Logger) *Catalog {
	c := &Catalog{
		store:   st,
		log:     logging.OrNop(log).WithComponent("catalog"),
		doc:     normalize(runconfig.AppConfig{}),
		changes: event.NewFeed[runconfig.AppConfig](),
	}
	c.saver = schedule.NewDebouncer(saveDelay, c.save)
	return c
}

// Load replaces the in-memory document with the stored one.
func (c *Catalog) Load() error {
	doc, err := c.store.Get()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.doc = doc
	c.mu.Unlock()
	return nil
}

// Reload re-reads the store and notifies subscribers when the document
// differs from the in-memory one. It does nothing while edits are waiting
// to be saved, since those would overwrite the file anyway.
func (c *Catalog) Reload() error {
	if c.saver.Pending() {
		return nil
	}
	doc, err := c.store.Get()
	if err != nil {
		return err
	}

	c.mu.Lock()
	same := equalDocs(c.doc, doc)
	if !same {
		c.doc = doc
	}
	snap := c.doc.Clone()
	c.mu.Unlock()

	if !same {
		c.log.Info("configurations reloaded", "count", len(snap.Configs))
		c.changes.Publish(snap)
	}
	return nil
}

// Snapshot returns a copy of the whole document.
func (c *Catalog) Snapshot() runconfig.AppConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.doc.Clone()
}

// Configs returns the configurations in display order.
func (c *Catalog) Configs() []runconfig.RunConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.doc.Clone().Ordered()
}

// Get returns the configuration with id.
func (c *Catalog) Get(id string) (runconfig.RunConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cfg, ok := c.doc.Find(id)
	if !ok {
		return runconfig.RunConfig{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cfg.Clone(), nil
}

// Lookup resolves ref as an id or a case-insensitive name.
func (c *Catalog) Lookup(ref string) (runconfig.RunConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cfg, ok := c.doc.Lookup(ref)
	if !ok {
		return runconfig.RunConfig{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return cfg.Clone(), nil
}

// Add validates and stores a new configuration. An empty id is assigned.
func (c *Catalog) Add(cfg runconfig.RunConfig) (runconfig.RunConfig, error) {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if err := cfg.Validate(); err != nil {
		return runconfig.RunConfig{}, err
	}

	err := c.edit(func(doc *runconfig.AppConfig) error {
		if _, ok := doc.Find(cfg.ID); ok {
			return fmt.Errorf("%w: %s", ErrDuplicateID, cfg.ID)
		}
		if err := checkFolder(*doc, cfg.FolderID); err != nil {
			return err
		}
		doc.Configs = append(doc.Configs, cfg.Clone())
		doc.ConfigOrder = append(doc.ConfigOrder, cfg.ID)
		return nil
	})
	if err != nil {
		return runconfig.RunConfig{}, err
	}
	return cfg, nil
}

// Update replaces an existing configuration.
func (c *Catalog) Update(cfg runconfig.RunConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return c.edit(func(doc *runconfig.AppConfig) error {
		i := indexOf(*doc, cfg.ID)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, cfg.ID)
		}
		if err := checkFolder(*doc, cfg.FolderID); err != nil {
			return err
		}
		doc.Configs[i] = cfg.Clone()
		return nil
	})
}

// Delete removes a configuration.
func (c *Catalog) Delete(id string) error {
	return c.edit(func(doc *runconfig.AppConfig) error {
		i := indexOf(*doc, id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		doc.Configs = slices.Delete(doc.Configs, i, i+1)
		doc.ConfigOrder = slices.DeleteFunc(doc.ConfigOrder, func(s string) bool { return s == id })
		return nil
	})
}

// Duplicate copies a configuration under a new id and places the copy
// right after the original.
func (c *Catalog) Duplicate(id string) (runconfig.RunConfig, error) {
	var dup runconfig.RunConfig
	err := c.edit(func(doc *runconfig.AppConfig) error {
		orig, ok := doc.Find(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		dup = orig.Duplicate()
		doc.Configs = append(doc.Configs, dup.Clone())
		if pos := slices.Index(doc.ConfigOrder, id); pos >= 0 {
			doc.ConfigOrder = slices.Insert(doc.ConfigOrder, pos+1, dup.ID)
		} else {
			doc.ConfigOrder = append(doc.ConfigOrder, dup.ID)
		}
		return nil
	})
	return dup, err
}

// Reorder sets the display order. ids must list every configuration once.
func (c *Catalog) Reorder(ids []string) error {
	return c.edit(func(doc *runconfig.AppConfig) error {
		if len(ids) != len(doc.Configs) {
			return ErrInvalidOrder
		}
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			if _, ok := doc.Find(id); !ok || seen[id] {
				return ErrInvalidOrder
			}
			seen[id] = true
		}
		doc.ConfigOrder = append([]string{}, ids...)
		return nil
	})
}

// MoveToFolder assigns a configuration to a folder. An empty folderID
// moves it to the top level.
func (c *Catalog) MoveToFolder(id, folderID string) error {
	return c.edit(func(doc *runconfig.AppConfig) error {
		i := indexOf(*doc, id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err := checkFolder(*doc, folderID); err != nil {
			return err
		}
		doc.Configs[i].FolderID = folderID
		return nil
	})
}

// AddFolder creates a folder.
func (c *Catalog) AddFolder(name, color string) (runconfig.Folder, error) {
	f := runconfig.Folder{ID: uuid.NewString(), Name: name, Color: color, Expanded: true}
	err := c.edit(func(doc *runconfig.AppConfig) error {
		doc.Folders = append(doc.Folders, f)
		return nil
	})
	return f, err
}

// RenameFolder changes a folder's name.
func (c *Catalog) RenameFolder(id, name string) error {
	return c.edit(func(doc *runconfig.AppConfig) error {
		for i := range doc.Folders {
			if doc.Folders[i].ID == id {
				doc.Folders[i].Name = name
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrFolderMissing, id)
	})
}

// DeleteFolder removes a folder and moves its configurations to the top
// level.
func (c *Catalog) DeleteFolder(id string) error {
	return c.edit(func(doc *runconfig.AppConfig) error {
		i := slices.IndexFunc(doc.Folders, func(f runconfig.Folder) bool { return f.ID == id })
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrFolderMissing, id)
		}
		doc.Folders = slices.Delete(doc.Folders, i, i+1)
		for j := range doc.Configs {
			if doc.Configs[j].FolderID == id {
				doc.Configs[j].FolderID = ""
			}
		}
		return nil
	})
}

// Subscribe registers fn for every change to the document.
func (c *Catalog) Subscribe(fn func(runconfig.AppConfig)) event.Subscription {
	return c.changes.Subscribe(fn)
}

// Flush persists pending edits now and returns the last save error.
func (c *Catalog) Flush() error {
	c.saver.Flush()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.saveErr
}

// Close persists pending edits and closes the store.
func (c *Catalog) Close() error {
	err := c.Flush()
	c.changes.Close()
	if cerr := c.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// edit applies fn to a copy of the document and commits it on success.
func (c *Catalog) edit(fn func(doc *runconfig.AppConfig) error) error {
	c.mu.Lock()
	doc := c.doc.Clone()
	if err := fn(&doc); err != nil {
		c.mu.Unlock()
		return err
	}
	c.doc = doc
	snap := doc.Clone()
	c.mu.Unlock()

	c.saver.Call()
	c.changes.Publish(snap)
	return nil
}

func (c *Catalog) save() {
	doc := c.Snapshot()
	err := c.store.Set(doc)

	c.mu.Lock()
	c.saveErr = err
	c.mu.Unlock()

	if err != nil {
		c.log.Error("saving configurations failed", "error", err)
		return
	}
	c.log.Debug("configurations saved", "count", len(doc.Configs))
}

func indexOf(doc runconfig.AppConfig, id string) int {
	return slices.IndexFunc(doc.Configs, func(c runconfig.RunConfig) bool { return c.ID == id })
}

func checkFolder(doc runconfig.AppConfig, folderID string) error {
	if folderID == "" {
		return nil
	}
	if slices.ContainsFunc(doc.Folders, func(f runconfig.Folder) bool { return f.ID == folderID }) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrFolderMissing, folderID)
}

func equalDocs(a, b runconfig.AppConfig) bool {
	ea, err1 := encode(a)
	eb, err2 := encode(b)
	return err1 == nil && err2 == nil && bytes.Equal(ea, eb)
}
