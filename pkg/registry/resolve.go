package registry

import (
	"context"

	"github.com/Masterminds/semver/v3"

	"github.com/cratemap/cratemap/pkg/errors"
)

// Resolve picks the highest published version satisfying constraint, using
// semantic-version precedence. Yanked versions never match. Pre-release
// versions are excluded unless includePre is set or the constraint itself
// names a pre-release.
//
// A constraint of "" or "*" matches any version. Fails with NotFound for an
// unknown package and NoSatisfyingVersion when nothing matches.
func (c *Client) Resolve(ctx context.Context, name, constraint string, includePre bool) (PackageVersion, error) {
	versions, err := c.Versions(ctx, name, false)
	if err != nil {
		return PackageVersion{}, err
	}

	var rng *semver.Constraints
	if constraint != "" && constraint != "*" {
		rng, err = semver.NewConstraint(constraint)
		if err != nil {
			return PackageVersion{}, errors.Wrap(errors.ErrCodeResolution, err, "constraint %q for %s", constraint, name)
		}
	}

	var best *semver.Version
	var bestNum string
	for _, v := range versions {
		if v.Yanked {
			continue
		}
		sv, err := semver.NewVersion(v.Num)
		if err != nil {
			continue
		}
		if !satisfies(rng, sv, includePre) {
			continue
		}
		if best == nil || sv.GreaterThan(best) {
			best, bestNum = sv, v.Num
		}
	}

	if best == nil {
		return PackageVersion{}, errors.New(errors.ErrCodeNoSatisfyingVersion,
			"no version of %s satisfies %q", name, displayConstraint(constraint))
	}
	return PackageVersion{Name: name, Version: bestNum}, nil
}

func satisfies(rng *semver.Constraints, v *semver.Version, includePre bool) bool {
	pre := v.Prerelease() != ""
	if rng == nil {
		return includePre || !pre
	}
	if rng.Check(v) {
		return true
	}
	// Constraint matching rejects pre-releases unless the constraint names
	// one. With includePre the caller opts in, so compare against the
	// release triple instead.
	if includePre && pre {
		if stripped, err := v.SetPrerelease(""); err == nil {
			return rng.Check(&stripped)
		}
	}
	return false
}

func displayConstraint(constraint string) string {
	if constraint == "" {
		return "*"
	}
	return constraint
}
