package importer

import (
	"context"
	"fmt"
	"time"

	"retsync/models"
	"retsync/rets"
)

// PropertyRepo is the slice of property storage the importer needs.
type PropertyRepo interface {
	GetPropertyByMLS(ctx context.Context, class models.PropertyClass, mlsAcct string) (*models.Property, error)
	SaveProperty(ctx context.Context, class models.PropertyClass, p *models.Property) error
	PropertiesWithPhotosAfter(ctx context.Context, class models.PropertyClass, t time.Time) ([]models.Property, error)
	PropertiesMissingCoords(ctx context.Context, class models.PropertyClass) ([]models.Property, error)
	UpdatePropertyCoords(ctx context.Context, class models.PropertyClass, id int64, lat, lng float64) error
}

// AgentRepo is the slice of agent storage the importer needs.
type AgentRepo interface {
	GetAgentByLaCode(ctx context.Context, laCode string) (*models.Agent, error)
	SaveAgent(ctx context.Context, a *models.Agent) error
	AgentsWithPhotosAfter(ctx context.Context, t time.Time, officeCode string) ([]models.Agent, error)
}

// Upserter maps raw records onto domain entities keyed by their natural
// identifier. Re-applying the same record is a no-op beyond timestamps.
type Upserter struct {
	properties    PropertyRepo
	agents        AgentRepo
	propertyExtra []models.FieldMapping
	agentExtra    []models.FieldMapping
}

func NewUpserter(properties PropertyRepo, agents AgentRepo, propertyExtra, agentExtra []models.FieldMapping) *Upserter {
	return &Upserter{
		properties:    properties,
		agents:        agents,
		propertyExtra: propertyExtra,
		agentExtra:    agentExtra,
	}
}

// UpsertProperty finds or creates the property identified by the record's
// MLS_ACCT, overwrites its mapped fields, and saves it.
func (u *Upserter) UpsertProperty(ctx context.Context, class models.PropertyClass, rec rets.Record) (*models.Property, error) {
	mls := rec["MLS_ACCT"]
	if mls == "" {
		return nil, fmt.Errorf("upsert %s property: record has no MLS_ACCT", class.Label())
	}

	p, err := u.properties.GetPropertyByMLS(ctx, class, mls)
	if err != nil {
		return nil, fmt.Errorf("upsert %s property %s: %w", class.Label(), mls, err)
	}
	now := time.Now()
	if p == nil {
		p = &models.Property{CreatedAt: now}
	}

	p.Apply(rec, u.propertyExtra)
	p.ID = models.NaturalKeyID(p.MLSAcct)
	if p.ID == 0 {
		return nil, fmt.Errorf("upsert %s property %s: non-numeric natural key", class.Label(), mls)
	}
	p.UpdatedAt = now

	if err := u.properties.SaveProperty(ctx, class, p); err != nil {
		return nil, fmt.Errorf("upsert %s property %s: %w", class.Label(), mls, err)
	}
	return p, nil
}

// UpsertAgent finds or creates the agent identified by the record's
// LA_LA_CODE, overwrites its mapped fields, and saves it.
func (u *Upserter) UpsertAgent(ctx context.Context, rec rets.Record) (*models.Agent, error) {
	laCode := rec["LA_LA_CODE"]
	if laCode == "" {
		return nil, fmt.Errorf("upsert agent: record has no LA_LA_CODE")
	}

	a, err := u.agents.GetAgentByLaCode(ctx, laCode)
	if err != nil {
		return nil, fmt.Errorf("upsert agent %s: %w", laCode, err)
	}
	now := time.Now()
	if a == nil {
		a = &models.Agent{CreatedAt: now}
	}

	a.Apply(rec, u.agentExtra)
	a.ID = models.NaturalKeyID(a.LaCode)
	if a.ID == 0 {
		return nil, fmt.Errorf("upsert agent %s: non-numeric natural key", laCode)
	}
	a.UpdatedAt = now

	if err := u.agents.SaveAgent(ctx, a); err != nil {
		return nil, fmt.Errorf("upsert agent %s: %w", laCode, err)
	}
	return a, nil
}
