package plan

import (
	"context"

	"github.com/xraph/entitle/id"
)

type Store interface {
	Create(ctx context.Context, p *Plan) error
	Get(ctx context.Context, planID id.PlanID) (*Plan, error)
	GetByProvider(ctx context.Context, providerPlanID string) (*Plan, error)
	List(ctx context.Context, opts ListOpts) ([]*Plan, error)
	Update(ctx context.Context, p *Plan) error
	Deactivate(ctx context.Context, planID id.PlanID) error
}

type ListOpts struct {
	ActiveOnly bool
	Limit      int
	Offset     int
}
