package pipeline

import (
	"context"

	"github.com/cratemap/cratemap/pkg/errors"
	"github.com/cratemap/cratemap/pkg/registry"
	"github.com/cratemap/cratemap/pkg/store"
)

// Spec names one requested analysis root: a package and an optional
// version constraint ("" means latest).
type Spec struct {
	Name       string
	Constraint string
}

// plan is the resolved job set: every requested package version plus its
// transitive dependency closure, in dependency-first order.
type plan struct {
	jobs  map[string]*Job
	order []*Job
}

const (
	colorWhite = iota
	colorGrey
	colorBlack
)

// plan resolves the dependency closure of the requested specs and rejects
// dependency cycles before anything is fetched. A package whose manifest or
// constraints cannot be resolved enters the plan pre-failed; only a cycle
// aborts the whole run.
func (r *Runner) plan(ctx context.Context, specs []Spec) (*plan, error) {
	p := &plan{jobs: make(map[string]*Job)}
	colors := make(map[string]int)

	var visit func(pv registry.PackageVersion) error
	visit = func(pv registry.PackageVersion) error {
		key := pv.String()
		switch colors[key] {
		case colorBlack:
			return nil
		case colorGrey:
			return errors.New(errors.ErrCodeConfigCycle,
				"dependency cycle through %s", pv)
		}
		colors[key] = colorGrey

		job := &Job{Package: pv}
		p.jobs[key] = job

		manifest, err := r.registry.Manifest(ctx, pv)
		if err != nil {
			job.fail(err)
		} else {
			for _, dep := range manifest.Dependencies {
				dpv, err := r.registry.Resolve(ctx, dep.Name, dep.Constraint, r.opts.IncludePrerelease)
				if err != nil {
					// An unsatisfiable constraint fails this job; siblings
					// keep going.
					job.fail(errors.Wrap(errors.GetCode(err), err,
						"dependency %s %q of %s", dep.Name, dep.Constraint, pv))
					break
				}
				job.Dependencies = append(job.Dependencies, store.Dependency{
					Name:       dep.Name,
					Constraint: dep.Constraint,
					Resolved:   dpv.Version,
				})
				if err := visit(dpv); err != nil {
					colors[key] = colorBlack
					return err
				}
			}
		}

		colors[key] = colorBlack
		p.order = append(p.order, job)
		return nil
	}

	for _, spec := range specs {
		pv, err := r.registry.Resolve(ctx, spec.Name, spec.Constraint, r.opts.IncludePrerelease)
		if err != nil {
			if errors.IsFatal(err) {
				return nil, err
			}
			key := spec.Name + "@" + spec.Constraint
			if _, dup := p.jobs[key]; !dup {
				job := &Job{Package: registry.PackageVersion{Name: spec.Name}}
				job.fail(err)
				p.jobs[key] = job
				p.order = append(p.order, job)
			}
			continue
		}
		if err := visit(pv); err != nil {
			return nil, err
		}
	}
	return p, nil
}
