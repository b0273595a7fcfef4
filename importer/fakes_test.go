package importer

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"retsync/geocode"
	"retsync/models"
	"retsync/rets"
)

// fakeClient serves canned records keyed by resource/class and tracks the
// search pages it was asked for.
type fakeClient struct {
	records map[string][]rets.Record // key: Resource/Class
	objects map[string][]rets.Object // key: Resource/ID

	countErr    error
	countErrFor map[string]error // key: Resource/Class
	searchErr   error
	objectErr   error

	onCount func() // runs at the top of Count when set

	countCalls  []rets.SearchParams
	searchCalls []rets.SearchParams
	objectCalls []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		records:     make(map[string][]rets.Record),
		objects:     make(map[string][]rets.Object),
		countErrFor: make(map[string]error),
	}
}

func recKey(resource, class string) string { return resource + "/" + class }

func (c *fakeClient) Count(ctx context.Context, p rets.SearchParams) (rets.CountResult, error) {
	if c.onCount != nil {
		c.onCount()
	}
	c.countCalls = append(c.countCalls, p)
	if c.countErr != nil {
		return rets.CountResult{}, c.countErr
	}
	if err := c.countErrFor[recKey(p.Resource, p.Class)]; err != nil {
		return rets.CountResult{}, err
	}
	recs := c.records[recKey(p.Resource, p.Class)]
	if len(recs) == 0 {
		return rets.CountResult{Found: false}, nil
	}
	return rets.CountResult{Found: true, Total: len(recs)}, nil
}

func (c *fakeClient) Search(ctx context.Context, p rets.SearchParams, fn func(rets.Record) error) error {
	c.searchCalls = append(c.searchCalls, p)
	if c.searchErr != nil {
		return c.searchErr
	}
	recs := c.records[recKey(p.Resource, p.Class)]
	if p.Offset >= len(recs) {
		return nil
	}
	end := p.Offset + p.Limit
	if end > len(recs) {
		end = len(recs)
	}
	for _, rec := range recs[p.Offset:end] {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (c *fakeClient) GetObjects(ctx context.Context, resource, id string, fn func(rets.Object) error) error {
	c.objectCalls = append(c.objectCalls, recKey(resource, id))
	if c.objectErr != nil {
		return c.objectErr
	}
	for _, obj := range c.objects[recKey(resource, id)] {
		if err := fn(obj); err != nil {
			return err
		}
	}
	return nil
}

// fakeStore keeps everything in maps: properties per class, agents, image
// records per table, blobs, and the watermark.
type fakeStore struct {
	properties map[models.PropertyClass]map[string]*models.Property
	agents     map[string]*models.Agent
	images     map[string][]models.ImageRecord

	watermark     time.Time
	watermarkErr  error
	writeErr      error
	savedPropErr  error
	savedAgentErr error

	propSaves  int
	agentSaves int
	writes     []time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		properties: make(map[models.PropertyClass]map[string]*models.Property),
		agents:     make(map[string]*models.Agent),
		images:     make(map[string][]models.ImageRecord),
	}
}

func (s *fakeStore) GetPropertyByMLS(ctx context.Context, class models.PropertyClass, mls string) (*models.Property, error) {
	p, ok := s.properties[class][mls]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStore) SaveProperty(ctx context.Context, class models.PropertyClass, p *models.Property) error {
	if s.savedPropErr != nil {
		return s.savedPropErr
	}
	if s.properties[class] == nil {
		s.properties[class] = make(map[string]*models.Property)
	}
	cp := *p
	s.properties[class][p.MLSAcct] = &cp
	s.propSaves++
	return nil
}

func (s *fakeStore) PropertiesWithPhotosAfter(ctx context.Context, class models.PropertyClass, t time.Time) ([]models.Property, error) {
	var out []models.Property
	for _, p := range s.properties[class] {
		if p.PhotoDateModified != nil && p.PhotoDateModified.After(t) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *fakeStore) PropertiesMissingCoords(ctx context.Context, class models.PropertyClass) ([]models.Property, error) {
	var out []models.Property
	for _, p := range s.properties[class] {
		if !p.HasCoords() {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdatePropertyCoords(ctx context.Context, class models.PropertyClass, id int64, lat, lng float64) error {
	for _, p := range s.properties[class] {
		if p.ID == id {
			p.Latitude = &lat
			p.Longitude = &lng
			return nil
		}
	}
	return fmt.Errorf("property %d not found", id)
}

func (s *fakeStore) GetAgentByLaCode(ctx context.Context, laCode string) (*models.Agent, error) {
	a, ok := s.agents[laCode]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (s *fakeStore) SaveAgent(ctx context.Context, a *models.Agent) error {
	if s.savedAgentErr != nil {
		return s.savedAgentErr
	}
	cp := *a
	s.agents[a.LaCode] = &cp
	s.agentSaves++
	return nil
}

func (s *fakeStore) AgentsWithPhotosAfter(ctx context.Context, t time.Time, officeCode string) ([]models.Agent, error) {
	var out []models.Agent
	for _, a := range s.agents {
		if a.PhotoDateModified == nil || !a.PhotoDateModified.After(t) {
			continue
		}
		if officeCode != "" && a.LoCode != officeCode {
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

func (s *fakeStore) ImagesForOwner(ctx context.Context, table string, ownerID int64) ([]models.ImageRecord, error) {
	var out []models.ImageRecord
	for _, img := range s.images[table] {
		if img.OwnerID == ownerID {
			out = append(out, img)
		}
	}
	return out, nil
}

func (s *fakeStore) DeleteImagesForOwner(ctx context.Context, table string, ownerID int64) error {
	kept := s.images[table][:0]
	for _, img := range s.images[table] {
		if img.OwnerID != ownerID {
			kept = append(kept, img)
		}
	}
	s.images[table] = kept
	return nil
}

func (s *fakeStore) CreateImage(ctx context.Context, table string, img *models.ImageRecord) error {
	img.ID = int64(len(s.images[table]) + 1)
	s.images[table] = append(s.images[table], *img)
	return nil
}

func (s *fakeStore) ReadWatermark(ctx context.Context) (time.Time, error) {
	if s.watermarkErr != nil {
		return time.Time{}, s.watermarkErr
	}
	return s.watermark, nil
}

func (s *fakeStore) WriteWatermark(ctx context.Context, t time.Time) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	s.watermark = t
	s.writes = append(s.writes, t)
	return nil
}

// fakeBlobStore records puts and deletes by key.
type fakeBlobStore struct {
	blobs     map[string][]byte
	deletes   []string
	putErrFor string
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{blobs: make(map[string][]byte)}
}

func (s *fakeBlobStore) Put(ctx context.Context, key string, data io.Reader, contentType string) error {
	if s.putErrFor != "" && strings.Contains(key, s.putErrFor) {
		return fmt.Errorf("put %s: simulated failure", key)
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	s.blobs[key] = b
	return nil
}

func (s *fakeBlobStore) Delete(ctx context.Context, key string) error {
	s.deletes = append(s.deletes, key)
	delete(s.blobs, key)
	return nil
}

// fakeProvider fails the first failures lookups, then succeeds.
type fakeProvider struct {
	coords   geocode.Coords
	failures int
	calls    int
}

func (p *fakeProvider) Geocode(ctx context.Context, address string) (geocode.Coords, error) {
	p.calls++
	if p.calls <= p.failures {
		return geocode.Coords{}, fmt.Errorf("geocode %s: simulated failure", address)
	}
	return p.coords, nil
}

func timePtr(t time.Time) *time.Time { return &t }
