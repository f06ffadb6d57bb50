package tenant

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/ilpi/internal/platform/apperror"
)

type memDirectory struct {
	mu      sync.Mutex
	tenants map[uuid.UUID]*Tenant
	gets    int
}

func newMemDirectory() *memDirectory {
	return &memDirectory{tenants: make(map[uuid.UUID]*Tenant)}
}

func (d *memDirectory) add(t *Tenant) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *t
	d.tenants[t.ID] = &cp
}

func (d *memDirectory) Create(_ context.Context, t *Tenant) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, existing := range d.tenants {
		if existing.NamespaceName == t.NamespaceName {
			return apperror.Conflict("namespace already registered")
		}
	}
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	cp := *t
	d.tenants[t.ID] = &cp
	return nil
}

func (d *memDirectory) GetByID(_ context.Context, id uuid.UUID) (*Tenant, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gets++
	t, ok := d.tenants[id]
	if !ok {
		return nil, apperror.NotFound("tenant %s not found", id)
	}
	cp := *t
	return &cp, nil
}

func (d *memDirectory) GetBySlug(_ context.Context, slug string) (*Tenant, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.tenants {
		if t.Slug == slug && t.DeletedAt == nil {
			cp := *t
			return &cp, nil
		}
	}
	return nil, apperror.NotFound("tenant %q not found", slug)
}

func (d *memDirectory) UpdateStatus(_ context.Context, id uuid.UUID, status Status) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tenants[id]
	if !ok {
		return apperror.NotFound("tenant %s not found", id)
	}
	t.Status = status
	return nil
}

func (d *memDirectory) SoftDelete(_ context.Context, id uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tenants[id]
	if !ok || t.DeletedAt != nil {
		return apperror.NotFound("tenant %s not found", id)
	}
	now := time.Now()
	t.DeletedAt = &now
	return nil
}

func (d *memDirectory) Delete(_ context.Context, id uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.tenants, id)
	return nil
}

func (d *memDirectory) List(_ context.Context, limit, offset int) ([]*Tenant, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*Tenant
	for _, t := range d.tenants {
		if t.DeletedAt == nil {
			cp := *t
			out = append(out, &cp)
		}
	}
	total := len(out)
	if offset >= len(out) {
		return nil, total, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (d *memDirectory) getCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gets
}

type memRemoteCache struct {
	mu      sync.Mutex
	values  map[string]string
	getErr  error
	deletes []string
}

func newMemRemoteCache() *memRemoteCache {
	return &memRemoteCache{values: make(map[string]string)}
}

func (c *memRemoteCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return "", false, c.getErr
	}
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *memRemoteCache) Set(_ context.Context, key, namespace string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = namespace
	return nil
}

func (c *memRemoteCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	c.deletes = append(c.deletes, key)
	return nil
}

type fakeProvisioner struct {
	provisioned []string
	tornDown    []string
	err         error
	teardownErr error
}

func (p *fakeProvisioner) Provision(_ context.Context, namespace string) error {
	if p.err != nil {
		return p.err
	}
	p.provisioned = append(p.provisioned, namespace)
	return nil
}

func (p *fakeProvisioner) Teardown(_ context.Context, namespace string) error {
	if p.teardownErr != nil {
		return p.teardownErr
	}
	p.tornDown = append(p.tornDown, namespace)
	return nil
}

func activeTenant(namespace string) *Tenant {
	return &Tenant{
		ID:            uuid.New(),
		Name:          "Casa Verde",
		Slug:          "casa-verde",
		NamespaceName: namespace,
		Status:        StatusActive,
	}
}
