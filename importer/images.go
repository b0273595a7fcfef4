package importer

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"retsync/models"
	"retsync/rets"
)

// ImageStore stores image blobs under stable keys.
type ImageStore interface {
	Put(ctx context.Context, key string, data io.Reader, contentType string) error
	Delete(ctx context.Context, key string) error
}

// ImageRepo stores image records per owner table.
type ImageRepo interface {
	ImagesForOwner(ctx context.Context, table string, ownerID int64) ([]models.ImageRecord, error)
	DeleteImagesForOwner(ctx context.Context, table string, ownerID int64) error
	CreateImage(ctx context.Context, table string, img *models.ImageRecord) error
}

// Owner identifies one image set: a property of some class, or an agent.
type Owner struct {
	Resource  string // RETS resource the objects hang off
	Table     string // image record table
	KeyPrefix string // blob key prefix
	ID        int64
	Key       string // natural key quoted to the media endpoint
	Label     string
}

func PropertyOwner(class models.PropertyClass, p *models.Property) Owner {
	return Owner{
		Resource:  string(models.OwnerProperty),
		Table:     class.ImageTable(),
		KeyPrefix: class.Label(),
		ID:        p.ID,
		Key:       p.MLSAcct,
		Label:     fmt.Sprintf("%s property %s", class.Label(), p.MLSAcct),
	}
}

func AgentOwner(a *models.Agent) Owner {
	return Owner{
		Resource:  string(models.OwnerAgent),
		Table:     "agent_images",
		KeyPrefix: "agents",
		ID:        a.ID,
		Key:       a.LaCode,
		Label:     fmt.Sprintf("agent %s", a.LaCode),
	}
}

// OwnerFailure records one owner whose image set could not be rebuilt.
type OwnerFailure struct {
	Owner Owner
	Err   error
}

// ImageReport summarizes one image pass. Failures are informational and
// never abort the pass.
type ImageReport struct {
	Attempted int
	Replaced  int
	Failures  []OwnerFailure
}

func (r *ImageReport) Failed() int { return len(r.Failures) }

// lockStripes bounds the owner lock table. Two owners hashing to the
// same stripe serialize needlessly, which is harmless.
const lockStripes = 64

// ImageSync replaces an owner's image set wholesale: destroy everything,
// then rebuild from whatever the media endpoint currently serves.
type ImageSync struct {
	client   rets.Client
	store    ImageStore
	repo     ImageRepo
	tempPath string

	locks [lockStripes]sync.Mutex
}

func NewImageSync(client rets.Client, store ImageStore, repo ImageRepo, tempPath string) *ImageSync {
	return &ImageSync{
		client:   client,
		store:    store,
		repo:     repo,
		tempPath: tempPath,
	}
}

// ownerLock serializes concurrent resyncs of the same owner. The stripe
// table stays fixed-size no matter how many owners pass through.
func (s *ImageSync) ownerLock(owner Owner) *sync.Mutex {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s:%d", owner.Table, owner.ID)
	return &s.locks[h.Sum32()%lockStripes]
}

// Resync deletes the owner's image records and blobs, then streams the
// current object set back in. A failed blob delete is logged and skipped;
// the record delete still proceeds so stale rows never survive.
func (s *ImageSync) Resync(ctx context.Context, owner Owner) error {
	lock := s.ownerLock(owner)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.repo.ImagesForOwner(ctx, owner.Table, owner.ID)
	if err != nil {
		return fmt.Errorf("resync images for %s: %w", owner.Label, err)
	}
	for _, img := range existing {
		if err := s.store.Delete(ctx, img.S3Key); err != nil {
			log.Printf("ImageSync: delete blob %s for %s: %v", img.S3Key, owner.Label, err)
		}
	}
	if err := s.repo.DeleteImagesForOwner(ctx, owner.Table, owner.ID); err != nil {
		return fmt.Errorf("resync images for %s: %w", owner.Label, err)
	}

	stored := 0
	err = s.client.GetObjects(ctx, owner.Resource, owner.Key, func(obj rets.Object) error {
		if err := s.storeObject(ctx, owner, obj); err != nil {
			return err
		}
		stored++
		return nil
	})
	if err != nil {
		return fmt.Errorf("resync images for %s: %w", owner.Label, err)
	}

	log.Printf("ImageSync: stored %d images for %s", stored, owner.Label)
	return nil
}

// storeObject stages one object to the temp directory, uploads it, and
// records it. The object ID from the feed becomes the sort order.
func (s *ImageSync) storeObject(ctx context.Context, owner Owner, obj rets.Object) error {
	ext := extensionFor(obj.ContentType)
	tmp := filepath.Join(s.tempPath, fmt.Sprintf("%s%s", uuid.New().String(), ext))
	if err := os.WriteFile(tmp, obj.Data, 0o644); err != nil {
		return fmt.Errorf("stage object %d: %w", obj.ID, err)
	}
	defer os.Remove(tmp)

	f, err := os.Open(tmp)
	if err != nil {
		return fmt.Errorf("stage object %d: %w", obj.ID, err)
	}
	defer f.Close()

	key := fmt.Sprintf("%s/%d_%d%s", owner.KeyPrefix, owner.ID, obj.ID, ext)
	if err := s.store.Put(ctx, key, f, obj.ContentType); err != nil {
		return fmt.Errorf("upload object %d: %w", obj.ID, err)
	}

	img := &models.ImageRecord{
		OwnerID:   owner.ID,
		SortOrder: obj.ID,
		S3Key:     key,
		CreatedAt: time.Now(),
	}
	if err := s.repo.CreateImage(ctx, owner.Table, img); err != nil {
		return fmt.Errorf("record object %d: %w", obj.ID, err)
	}
	return nil
}

// ResyncAll walks a batch of owners, isolating failures so one broken
// image set never blocks the rest.
func (s *ImageSync) ResyncAll(ctx context.Context, owners []Owner) ImageReport {
	var report ImageReport
	for _, owner := range owners {
		report.Attempted++
		if err := s.Resync(ctx, owner); err != nil {
			log.Printf("ImageSync: %v", err)
			report.Failures = append(report.Failures, OwnerFailure{Owner: owner, Err: err})
			continue
		}
		report.Replaced++
	}
	return report
}

func extensionFor(contentType string) string {
	switch {
	case strings.Contains(contentType, "png"):
		return ".png"
	case strings.Contains(contentType, "gif"):
		return ".gif"
	default:
		return ".jpg"
	}
}

// NoOpImageStore satisfies ImageStore when no blob storage is configured.
type NoOpImageStore struct{}

func (NoOpImageStore) Put(_ context.Context, key string, data io.Reader, _ string) error {
	_, err := io.Copy(io.Discard, data)
	log.Printf("NoOpImageStore: discarding %s", key)
	return err
}

func (NoOpImageStore) Delete(context.Context, string) error { return nil }
