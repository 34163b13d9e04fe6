package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mersvpn/mersyar/internal/models"
	"github.com/mersvpn/mersyar/internal/panel"
)

const perPanelTimeout = 20 * time.Second

// PanelFailure records one panel that could not be queried during a
// fan-out.
type PanelFailure struct {
	PanelID   uint   `json:"panel_id"`
	PanelName string `json:"panel_name"`
	Err       string `json:"error"`
}

// AggregateResult is the merged view across all panels. Users carries
// everything the reachable panels returned; Failures lists the panels
// that were skipped.
type AggregateResult struct {
	Users    []panel.RemoteUser `json:"users"`
	Failures []PanelFailure     `json:"failures"`
}

// Aggregator fans user listings out across every registered panel in
// parallel. One dead panel never empties the combined view.
type Aggregator struct {
	registry *Registry
	log      *zap.Logger
}

func NewAggregator(registry *Registry, log *zap.Logger) *Aggregator {
	return &Aggregator{registry: registry, log: log}
}

// ListAllUsers queries every panel concurrently and merges the results,
// annotating each user with its source panel.
func (a *Aggregator) ListAllUsers(ctx context.Context) (*AggregateResult, error) {
	panels, err := a.registry.ListPanels()
	if err != nil {
		return nil, err
	}
	return a.collect(ctx, panels), nil
}

// ListUsersExcludingTest is ListAllUsers without the test panel.
func (a *Aggregator) ListUsersExcludingTest(ctx context.Context) (*AggregateResult, error) {
	panels, err := a.registry.ListPanelsExcludingTest()
	if err != nil {
		return nil, err
	}
	return a.collect(ctx, panels), nil
}

func (a *Aggregator) collect(ctx context.Context, panels []models.Panel) *AggregateResult {
	type panelResult struct {
		panel models.Panel
		users []panel.RemoteUser
		err   error
	}

	results := make(chan panelResult, len(panels))
	var wg sync.WaitGroup

	for _, p := range panels {
		wg.Add(1)
		go func(p models.Panel) {
			defer wg.Done()

			pctx, cancel := context.WithTimeout(ctx, perPanelTimeout)
			defer cancel()

			gw, err := a.registry.GatewayFor(&p)
			if err != nil {
				results <- panelResult{panel: p, err: err}
				return
			}
			users, err := gw.ListUsers(pctx)
			results <- panelResult{panel: p, users: users, err: err}
		}(p)
	}

	wg.Wait()
	close(results)

	out := &AggregateResult{}
	for res := range results {
		if res.err != nil {
			a.log.Warn("panel unreachable during aggregation",
				zap.String("panel", res.panel.Name), zap.Error(res.err))
			out.Failures = append(out.Failures, PanelFailure{
				PanelID:   res.panel.ID,
				PanelName: res.panel.Name,
				Err:       res.err.Error(),
			})
			continue
		}
		for i := range res.users {
			res.users[i].PanelID = res.panel.ID
			res.users[i].PanelName = res.panel.Name
		}
		out.Users = append(out.Users, res.users...)
	}

	sort.Slice(out.Users, func(i, j int) bool {
		return out.Users[i].Username < out.Users[j].Username
	})
	return out
}
