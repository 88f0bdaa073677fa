// Package brain is the durable memory of human corrections. Rules live in a
// portable, diffable JSON document and survive any number of catalog rebuilds.
package brain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/menu_backend/config"
	"github.com/mmdatafocus/menu_backend/models"
	"github.com/mmdatafocus/menu_backend/normalizer"
)

const maxMergeHops = 10

// LockKey is the exclusive lock every Brain writer takes, in this process or
// any other sharing the same file.
const LockKey = "menu-resolver:brain"

var ErrRuleNotFound = errors.New("brain rule not found")

// Mirror is an off-host copy of the Brain document.
type Mirror interface {
	Upload(ctx context.Context, data []byte) error
	// Download returns ErrNoSnapshot when the mirror holds nothing yet.
	Download(ctx context.Context) ([]byte, error)
}

var ErrNoSnapshot = errors.New("no brain snapshot in mirror")

// Brain is safe for concurrent use. Writers are expected to be serialized by
// the caller's exclusive lock on LockKey; the internal mutex only guards
// memory. Every write re-reads the file first, so rules written by another
// process holding the lock are kept.
type Brain struct {
	mu     sync.RWMutex
	path   string
	mirror Mirror
	rules  []Rule
	index  map[string]int
}

// Open loads the Brain at path. A missing file is restored from the mirror
// when one is configured; otherwise the Brain starts empty.
func Open(ctx context.Context, path string, mirror Mirror) (*Brain, error) {
	b := &Brain{path: path, mirror: mirror}
	if err := b.Reload(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Brain) Path() string { return b.path }

// Reload re-reads the document from disk, discarding in-memory state.
func (b *Brain) Reload(ctx context.Context) error {
	logger := config.GetLogger()

	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) && b.mirror != nil {
		data, err = b.restoreFromMirror(ctx)
	}
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, ErrNoSnapshot) {
		logger.WithField("path", b.path).Warn("brain file missing; starting with no corrections (total amnesia)")
		b.mu.Lock()
		b.rules = nil
		b.reindex()
		b.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("read brain: %w", err)
	}

	rules, err := decode(data)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.rules = rules
	b.reindex()
	b.mu.Unlock()
	return nil
}

func (b *Brain) restoreFromMirror(ctx context.Context) ([]byte, error) {
	data, err := b.mirror.Download(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := decode(data); err != nil {
		return nil, fmt.Errorf("mirror snapshot: %w", err)
	}
	if err := writeAtomic(b.path, data); err != nil {
		return nil, err
	}
	config.GetLogger().WithField("path", b.path).Warn("brain restored from mirror")
	return data, nil
}

func decode(data []byte) ([]Rule, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode brain: %w", err)
	}
	if doc.Version > documentVersion {
		return nil, fmt.Errorf("decode brain: unsupported version %d", doc.Version)
	}
	return doc.Rules, nil
}

// Refresh picks up rules another process wrote since the last read. Writers
// call it right after taking LockKey.
func (b *Brain) Refresh(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refreshLocked()
}

// refreshLocked re-reads the file into memory before a write. A missing file
// keeps the in-memory rules, which are then the newest copy. Must be called
// with mu held.
func (b *Brain) refreshLocked() error {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read brain: %w", err)
	}
	rules, err := decode(data)
	if err != nil {
		return err
	}
	b.rules = rules
	b.reindex()
	return nil
}

// reindex must be called with mu held. Later rules win on key collisions.
func (b *Brain) reindex() {
	b.index = make(map[string]int, len(b.rules)*3)
	for i, r := range b.rules {
		for _, k := range r.Keys {
			b.index[k] = i
		}
	}
}

func (b *Brain) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rules)
}

// Rules returns a copy of all rules in creation order.
func (b *Brain) Rules() []Rule {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Rule(nil), b.rules...)
}

func (b *Brain) Get(id string) (Rule, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, r := range b.rules {
		if r.ID == id {
			return r, true
		}
	}
	return Rule{}, false
}

func (b *Brain) Lookup(key string) (Rule, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	i, ok := b.index[key]
	if !ok {
		return Rule{}, false
	}
	return b.rules[i], true
}

// LookupAny returns the rule for the first key that has one.
func (b *Brain) LookupAny(keys []string) (Rule, string, bool) {
	for _, k := range keys {
		if r, ok := b.Lookup(k); ok {
			return r, k, true
		}
	}
	return Rule{}, "", false
}

// FollowMerges resolves (name, category) through merge rules to the surviving identity.
func (b *Brain) FollowMerges(name string, category models.Category) (string, models.Category) {
	for hop := 0; hop < maxMergeHops; hop++ {
		r, ok := b.Lookup(normalizer.ItemKey(name, category))
		if !ok || r.Kind != RuleKindMerge {
			break
		}
		if models.NameKey(r.TargetName) == models.NameKey(name) && r.TargetCategory == category {
			break
		}
		name, category = r.TargetName, r.TargetCategory
	}
	return name, category
}

// Append stores rules and persists the document. A rule of the same kind with
// the same primary key replaces the older one, so repeated verifications do not
// pile up duplicates. IDs and timestamps are assigned when missing.
func (b *Brain) Append(ctx context.Context, rules ...Rule) ([]Rule, error) {
	if len(rules) == 0 {
		return nil, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.refreshLocked(); err != nil {
		return nil, err
	}

	prev := b.rules
	next := append([]Rule(nil), b.rules...)
	now := time.Now().UTC()
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if len(r.Keys) == 0 {
			return nil, fmt.Errorf("brain rule for %q has no keys", r.TargetName)
		}
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		next = dropSameKey(next, r)
		next = append(next, r)
		out = append(out, r)
	}

	b.rules = next
	b.reindex()
	if err := b.persistLocked(ctx); err != nil {
		b.rules = prev
		b.reindex()
		return nil, err
	}
	return out, nil
}

func dropSameKey(rules []Rule, r Rule) []Rule {
	out := rules[:0:0]
	for _, x := range rules {
		if x.Kind == r.Kind && x.PrimaryKey() == r.PrimaryKey() {
			continue
		}
		out = append(out, x)
	}
	return out
}

// Remove deletes rules by id and persists. Unknown ids yield ErrRuleNotFound
// and leave the Brain unchanged.
func (b *Brain) Remove(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.refreshLocked(); err != nil {
		return err
	}

	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	next := make([]Rule, 0, len(b.rules))
	for _, r := range b.rules {
		if drop[r.ID] {
			delete(drop, r.ID)
			continue
		}
		next = append(next, r)
	}
	if len(drop) > 0 {
		return fmt.Errorf("%w: %v", ErrRuleNotFound, keysOf(drop))
	}

	prev := b.rules
	b.rules = next
	b.reindex()
	if err := b.persistLocked(ctx); err != nil {
		b.rules = prev
		b.reindex()
		return err
	}
	return nil
}

func keysOf(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// Export writes the current document.
func (b *Brain) Export(w io.Writer) error {
	b.mu.RLock()
	data, err := b.encodeLocked()
	b.mu.RUnlock()
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Import replaces all rules with the document read from r and persists it.
// The file on disk is not read first: Import is also how a damaged file is
// replaced. Callers take LockKey like any other writer.
func (b *Brain) Import(ctx context.Context, r io.Reader) (int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	rules, err := decode(data)
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	prev := b.rules
	b.rules = rules
	b.reindex()
	if err := b.persistLocked(ctx); err != nil {
		b.rules = prev
		b.reindex()
		return 0, err
	}
	return len(rules), nil
}

// Sync pushes the current document to the mirror.
func (b *Brain) Sync(ctx context.Context) error {
	if b.mirror == nil {
		return errors.New("brain mirror not configured")
	}
	b.mu.RLock()
	data, err := b.encodeLocked()
	b.mu.RUnlock()
	if err != nil {
		return err
	}
	return b.mirror.Upload(ctx, data)
}

func (b *Brain) encodeLocked() ([]byte, error) {
	doc := document{Version: documentVersion, UpdatedAt: time.Now().UTC(), Rules: b.rules}
	if doc.Rules == nil {
		doc.Rules = []Rule{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func (b *Brain) persistLocked(ctx context.Context) error {
	data, err := b.encodeLocked()
	if err != nil {
		return err
	}
	if err := writeAtomic(b.path, data); err != nil {
		return err
	}
	if b.mirror != nil {
		if err := b.mirror.Upload(ctx, data); err != nil {
			config.LogError(config.GetLogger(), "brain.go", "persist", "mirror upload", b.path, err)
		}
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("write brain: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".brain-*.json")
	if err != nil {
		return fmt.Errorf("write brain: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write brain: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("write brain: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write brain: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("write brain: %w", err)
	}
	return nil
}
