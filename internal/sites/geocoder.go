package sites

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/austarch/austarch-db/internal/archive"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Options struct {
	// FuzzyThreshold is the minimum trigram similarity for a spelling variant.
	FuzzyThreshold float64
	// MaxDistanceKm is how far apart two same-named records may be and still
	// be one site.
	MaxDistanceKm float64
	Bounds        archive.Bounds
}

func DefaultOptions() Options {
	return Options{FuzzyThreshold: 0.8, MaxDistanceKm: 5, Bounds: archive.AustralianBounds}
}

// Candidate is the site described by one source row.
type Candidate struct {
	Name           string
	AlternateNames []string
	Latitude       *float64
	Longitude      *float64
	State          string
	SiteType       string
	Region         string
}

func (c Candidate) hasCoordinates() bool {
	return c.Latitude != nil && c.Longitude != nil
}

// Resolution is the outcome of resolving one candidate.
type Resolution struct {
	Site       *archive.Site
	Created    bool
	Changed    bool
	Before     *archive.Site
	Similarity float64
	// Warnings holds *archive.AmbiguousMatchError and
	// *archive.SpatialAssignmentWarning values.
	Warnings []error
}

type Geocoder struct {
	opts Options
	log  *zap.Logger
}

func NewGeocoder(opts Options, log *zap.Logger) *Geocoder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Geocoder{opts: opts, log: log.Named("sites")}
}

// LockKey is the advisory lock key serializing work on one site name.
func LockKey(normalized string) string { return "site:" + normalized }

// Resolve matches c against existing sites or creates a new one, then makes
// sure geometry and bioregion are set where the coordinates allow.
func (g *Geocoder) Resolve(ctx context.Context, tx archive.Tx, c Candidate, batchID *uuid.UUID) (*Resolution, error) {
	key := NormalizeName(c.Name)
	if key == "" {
		return nil, fmt.Errorf("site name %q normalizes to nothing", c.Name)
	}
	if err := tx.LockKey(ctx, LockKey(key)); err != nil {
		return nil, err
	}

	matches, err := g.candidates(ctx, tx, key)
	if err != nil {
		return nil, err
	}

	res := &Resolution{}
	match, ambiguous := g.pick(c, matches)
	if ambiguous != nil {
		res.Warnings = append(res.Warnings, ambiguous)
	}

	var site *archive.Site
	if match == nil {
		site = &archive.Site{
			SiteName:       strings.TrimSpace(c.Name),
			NormalizedName: key,
			AlternateNames: mergeNames(nil, strings.TrimSpace(c.Name), c.AlternateNames),
			Latitude:       c.Latitude,
			Longitude:      c.Longitude,
			State:          c.State,
			SiteType:       c.SiteType,
			Region:         c.Region,
			ImportBatchID:  batchID,
		}
		if err := tx.CreateSite(ctx, site); err != nil {
			return nil, err
		}
		res.Created = true
		res.Similarity = 1
	} else {
		site = &match.Site
		res.Similarity = match.Similarity
		before := *site
		before.AlternateNames = append([]string(nil), site.AlternateNames...)
		res.Before = &before
		res.Changed = merge(site, c)
	}

	geomSet := false
	if site.HasCoordinates() && !site.HasGeometry && g.opts.Bounds.Contains(*site.Latitude, *site.Longitude) {
		if err := tx.SetSiteGeometry(ctx, site); err != nil {
			return nil, err
		}
		geomSet = true
	}

	// Sites that were already located keep their bioregion state; the
	// assign-bioregions pass back-fills them.
	dirty := res.Changed
	if site.HasGeometry && site.BioregionID == nil && (res.Created || geomSet) {
		warn, err := g.assignBioregion(ctx, tx, site)
		if err != nil {
			return nil, err
		}
		if warn != nil {
			res.Warnings = append(res.Warnings, warn)
		}
		if site.BioregionID != nil {
			dirty = true
			res.Changed = !res.Created
		}
	}

	if dirty {
		if err := tx.UpdateSite(ctx, site); err != nil {
			return nil, err
		}
	}

	res.Site = site
	return res, nil
}

func (g *Geocoder) candidates(ctx context.Context, tx archive.Tx, key string) ([]archive.SiteMatch, error) {
	exact, err := tx.SitesByNormalizedName(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(exact) > 0 {
		out := make([]archive.SiteMatch, len(exact))
		for i, s := range exact {
			out[i] = archive.SiteMatch{Site: s, Similarity: 1}
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].Site.ID < out[j].Site.ID })
		return out, nil
	}
	similar, err := tx.SimilarSites(ctx, key, g.opts.FuzzyThreshold)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(similar, func(i, j int) bool {
		if similar[i].Similarity != similar[j].Similarity {
			return similar[i].Similarity > similar[j].Similarity
		}
		return similar[i].Site.ID < similar[j].Site.ID
	})
	return similar, nil
}

const distanceEpsilonKm = 1e-6

// pick chooses the site c refers to. With coordinates the nearest site
// inside MaxDistanceKm wins; a site without coordinates is only taken when
// nothing located is close enough. Equal candidates go to the lowest id and
// produce an AmbiguousMatchError.
func (g *Geocoder) pick(c Candidate, matches []archive.SiteMatch) (*archive.SiteMatch, error) {
	if len(matches) == 0 {
		return nil, nil
	}
	if !c.hasCoordinates() {
		return bestByScore(c.Name, matches)
	}

	type located struct {
		match archive.SiteMatch
		dist  float64
	}
	var near []located
	var unlocated []archive.SiteMatch
	for _, m := range matches {
		if !m.Site.HasCoordinates() {
			unlocated = append(unlocated, m)
			continue
		}
		d := DistanceKm(*c.Latitude, *c.Longitude, *m.Site.Latitude, *m.Site.Longitude)
		if d <= g.opts.MaxDistanceKm {
			near = append(near, located{match: m, dist: d})
		}
	}

	if len(near) == 0 {
		if len(unlocated) > 0 {
			return bestByScore(c.Name, unlocated)
		}
		return nil, nil
	}

	sort.SliceStable(near, func(i, j int) bool {
		if math.Abs(near[i].dist-near[j].dist) > distanceEpsilonKm {
			return near[i].dist < near[j].dist
		}
		if near[i].match.Similarity != near[j].match.Similarity {
			return near[i].match.Similarity > near[j].match.Similarity
		}
		return near[i].match.Site.ID < near[j].match.Site.ID
	})
	best := near[0]
	var tied []int64
	for _, n := range near {
		if math.Abs(n.dist-best.dist) <= distanceEpsilonKm && n.match.Similarity == best.match.Similarity {
			tied = append(tied, n.match.Site.ID)
		}
	}
	chosen := best.match
	if len(tied) > 1 {
		return &chosen, &archive.AmbiguousMatchError{Name: c.Name, CandidateIDs: tied, ChosenID: chosen.Site.ID}
	}
	return &chosen, nil
}

// bestByScore expects matches sorted by similarity then id.
func bestByScore(name string, matches []archive.SiteMatch) (*archive.SiteMatch, error) {
	best := matches[0]
	var tied []int64
	for _, m := range matches {
		if m.Similarity == best.Similarity {
			tied = append(tied, m.Site.ID)
		}
	}
	if len(tied) > 1 {
		return &best, &archive.AmbiguousMatchError{Name: name, CandidateIDs: tied, ChosenID: best.Site.ID}
	}
	return &best, nil
}

// merge back-fills missing attributes of site from c and records c's name
// as an alternate spelling. It reports whether anything changed.
func merge(site *archive.Site, c Candidate) bool {
	changed := false

	names := mergeNames(site.AlternateNames, site.SiteName, append([]string{strings.TrimSpace(c.Name)}, c.AlternateNames...))
	if len(names) != len(site.AlternateNames) {
		site.AlternateNames = names
		changed = true
	}
	if !site.HasCoordinates() && c.hasCoordinates() {
		site.Latitude, site.Longitude = c.Latitude, c.Longitude
		changed = true
	}
	fill := func(dst *string, v string) {
		if *dst == "" && v != "" {
			*dst = v
			changed = true
		}
	}
	fill(&site.State, c.State)
	fill(&site.SiteType, c.SiteType)
	fill(&site.Region, c.Region)
	return changed
}

// mergeNames appends names not already present (case-insensitive) and
// different from the primary name.
func mergeNames(existing []string, primary string, names []string) []string {
	out := append([]string(nil), existing...)
	seen := map[string]bool{strings.ToLower(strings.TrimSpace(primary)): true}
	for _, n := range existing {
		seen[strings.ToLower(n)] = true
	}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[strings.ToLower(n)] {
			continue
		}
		seen[strings.ToLower(n)] = true
		out = append(out, n)
	}
	return out
}

func (g *Geocoder) assignBioregion(ctx context.Context, tx archive.Tx, site *archive.Site) (*archive.SpatialAssignmentWarning, error) {
	regions, err := tx.ContainingBioregions(ctx, *site.Latitude, *site.Longitude)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(regions, func(i, j int) bool { return regions[i].Code < regions[j].Code })

	if len(regions) == 0 {
		return &archive.SpatialAssignmentWarning{SiteName: site.SiteName, Latitude: *site.Latitude, Longitude: *site.Longitude}, nil
	}

	id := regions[0].ID
	site.BioregionID = &id
	if len(regions) == 1 {
		return nil, nil
	}

	codes := make([]string, len(regions))
	for i, r := range regions {
		codes[i] = r.Code
	}
	g.log.Debug("Overlapping bioregions", zap.String("site", site.SiteName), zap.Strings("codes", codes))
	return &archive.SpatialAssignmentWarning{
		SiteName:  site.SiteName,
		Latitude:  *site.Latitude,
		Longitude: *site.Longitude,
		Matches:   codes,
	}, nil
}
