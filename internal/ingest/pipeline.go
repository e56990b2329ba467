// Package ingest implements the ingestion pipeline:
// it walks configured code-host sources, probes for skill descriptor
// files, validates them through the quality gate, and upserts
// surviving candidates through the catalog store. Shaped like a
// client+sync pair generalized from a single
// registry endpoint to the high-trust/topic two-phase discovery this catalog
// calls for.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/skillsmith/skillsmith/internal/catalog"
	"github.com/skillsmith/skillsmith/internal/config"
	"github.com/skillsmith/skillsmith/internal/validator"
)

const (
	pagedCallThrottle       = 150 * time.Millisecond
	descriptorProbeThrottle = 50 * time.Millisecond

	defaultMaxPages = 5
	hardMaxPages    = 10
	topicPageSize   = 30

	starsForCommunity    = 50
	starsForExperimental = 5

	descriptorFilename = "SKILL.md"
)

// skipDirs is the hard skip-list applied to root/skills-subdirectory
// listings before exclude/include filtering.
var skipDirs = map[string]bool{
	".git": true, ".github": true, "node_modules": true,
	"vendor": true, "dist": true, "build": true, ".venv": true,
}

// wellKnownOwners tags results discovered via topic search as official
// when the owner matches a known first-party publisher account.
var wellKnownOwners = map[string]bool{}

// Pipeline runs one ingestion pass over all configured sources.
type Pipeline struct {
	client *hostClient
	store  *catalog.Store
	cfg    config.IngestConfig
	logger *slog.Logger

	validatorOpts validator.Options
}

// New builds a Pipeline. privateKeyPEM may be nil if app-installation
// auth is not configured.
func New(cfg config.IngestConfig, privateKeyPEM []byte, store *catalog.Store, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	auth, err := newTokenSource(cfg.AppID, privateKeyPEM, cfg.StaticToken)
	if err != nil {
		return nil, err
	}
	timeout := time.Duration(cfg.RequestTimeoutSec) * time.Second
	return &Pipeline{
		client:        newHostClient(cfg.CodeHostBaseURL, auth, timeout),
		store:         store,
		cfg:           cfg,
		logger:        logger,
		validatorOpts: validator.DefaultOptions(),
	}, nil
}

// candidate is an emitted skill before it passes through the validator.
type candidate struct {
	owner, repo, defaultBranch string
	url                        string
	description                string
	stars, forks               int
	trustTier                  catalog.TrustTier
	quality                    float64
	descriptorText             string
}

// runStats accumulates per-source counts for Complete/FailRun reporting.
type runStats struct {
	added, updated, unchanged int
	hadFailures               bool
}

// Run executes a full ingestion pass across the code-host source,
// reporting progress through the catalog's sync-run bookkeeping. The
// caller is expected to have already called catalog.Store.StartRun.
func (p *Pipeline) Run(ctx context.Context, runID string) error {
	const sourceID = "code-host"
	stats := &runStats{}
	seen := map[string]bool{}

	if err := p.runHighTrustPhase(ctx, seen, stats); err != nil {
		p.logger.Error("ingest: high-trust phase failed", "error", err)
		_ = p.store.MarkSourceDegraded(ctx, sourceID, err.Error())
		stats.hadFailures = true
	}

	if err := p.runTopicPhase(ctx, seen, stats); err != nil {
		p.logger.Error("ingest: topic phase failed", "error", err)
		_ = p.store.MarkSourceDegraded(ctx, sourceID, err.Error())
		stats.hadFailures = true
	}

	if !stats.hadFailures {
		_ = p.store.MarkSourceSuccess(ctx, sourceID)
	}

	return p.store.CompleteRun(ctx, runID, stats.added, stats.updated, stats.unchanged, stats.hadFailures)
}

func (p *Pipeline) runHighTrustPhase(ctx context.Context, seen map[string]bool, stats *runStats) error {
	for _, hts := range p.cfg.HighTrust {
		if err := ctx.Err(); err != nil {
			return err
		}
		meta, err := p.client.getRepo(ctx, hts.Owner, hts.Repo)
		if err != nil {
			p.logger.Warn("ingest: repo metadata fetch failed", "owner", hts.Owner, "repo", hts.Repo, "error", err)
			continue
		}
		branch := meta.DefaultBranch
		if branch == "" {
			branch = "main"
		}

		if err := p.probeHighTrustPath(ctx, hts, meta, branch, "", seen, stats); err != nil {
			return err
		}
		if err := p.probeHighTrustPath(ctx, hts, meta, branch, "skills", seen, stats); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) probeHighTrustPath(ctx context.Context, hts config.HighTrustSource, meta repoMeta, branch, subdir string, seen map[string]bool, stats *runStats) error {
	entries, err := p.client.listContents(ctx, hts.Owner, hts.Repo, subdir)
	if err != nil {
		return fmt.Errorf("ingest: list contents %s/%s/%s: %w", hts.Owner, hts.Repo, subdir, err)
	}

	// The repo root itself is also a candidate location for a descriptor.
	dirs := []string{""}
	for _, e := range entries {
		if e.Type != "dir" {
			continue
		}
		dirs = append(dirs, joinPath(subdir, e.Name))
	}

	for _, dir := range dirs {
		name := lastSegment(dir)
		if name != "" {
			if skipDirs[name] {
				continue
			}
			if containsFold(hts.Exclude, name) {
				continue
			}
			if len(hts.Include) > 0 && !containsFold(hts.Include, name) {
				continue
			}
		}

		time.Sleep(descriptorProbeThrottle)
		text, ok, err := p.client.getDescriptor(ctx, hts.Owner, hts.Repo, joinPath(dir, descriptorFilename), branch)
		if err != nil {
			if isRateLimited(err) {
				return err
			}
			p.logger.Warn("ingest: descriptor probe failed", "owner", hts.Owner, "repo", hts.Repo, "dir", dir, "error", err)
			continue
		}
		if !ok {
			continue
		}

		url := fmt.Sprintf("https://github.com/%s/%s/tree/%s/%s", hts.Owner, hts.Repo, branch, dir)
		if seen[url] {
			continue
		}
		seen[url] = true

		c := candidate{
			owner: hts.Owner, repo: hts.Repo, defaultBranch: branch,
			url: url, description: meta.Description,
			stars: meta.StargazersCnt, forks: meta.ForksCount,
			trustTier: catalog.TrustVerified, quality: hts.BaseQuality,
			descriptorText: text,
		}
		p.ingestCandidate(ctx, c, stats)
	}
	return nil
}

func (p *Pipeline) runTopicPhase(ctx context.Context, seen map[string]bool, stats *runStats) error {
	maxPages := p.cfg.MaxPagesPerTopic
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	if maxPages > hardMaxPages {
		maxPages = hardMaxPages
	}

	for _, topic := range p.cfg.Topics {
	pages:
		for page := 1; page <= maxPages; page++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if page > 1 {
				time.Sleep(pagedCallThrottle)
			}
			resp, err := p.client.searchTopic(ctx, topic, page)
			if err != nil {
				if isRateLimited(err) {
					p.logger.Warn("ingest: topic search rate limited, halting topic", "topic", topic, "error", err)
					break
				}
				return fmt.Errorf("ingest: search topic %q page %d: %w", topic, page, err)
			}
			if len(resp.Items) == 0 {
				break
			}

			for _, item := range resp.Items {
				url := "https://github.com/" + item.FullName
				if seen[url] {
					continue
				}

				branch := item.DefaultBranch
				if branch == "" {
					branch = "main"
				}
				time.Sleep(descriptorProbeThrottle)
				text, ok, err := p.client.getDescriptor(ctx, item.Owner.Login, item.Name, descriptorFilename, branch)
				if err != nil {
					if isRateLimited(err) {
						p.logger.Warn("ingest: descriptor probe rate limited, halting topic", "topic", topic, "error", err)
						break pages
					}
					p.logger.Warn("ingest: topic descriptor probe failed", "repo", item.FullName, "error", err)
					continue
				}
				if !ok {
					continue
				}
				seen[url] = true

				c := candidate{
					owner: item.Owner.Login, repo: item.Name, defaultBranch: branch,
					url: url, description: item.Description,
					stars: item.StargazersCount, forks: item.ForksCount,
					trustTier: classifyTrustTier(item), quality: 0.5,
					descriptorText: text,
				}
				p.ingestCandidate(ctx, c, stats)
			}

			if len(resp.Items) < topicPageSize {
				break
			}
		}
	}
	return nil
}

func classifyTrustTier(item searchResultItem) catalog.TrustTier {
	if wellKnownOwners[strings.ToLower(item.Owner.Login)] {
		return catalog.TrustOfficial
	}
	switch {
	case item.StargazersCount >= starsForCommunity:
		return catalog.TrustCommunity
	case item.StargazersCount >= starsForExperimental:
		return catalog.TrustExperimental
	default:
		return catalog.TrustUnverified
	}
}

// ingestCandidate validates and upserts one candidate, recording an audit
// entry for every outcome. Stats count an added, updated or failed upsert;
// a candidate that fails the quality gate is not counted.
func (p *Pipeline) ingestCandidate(ctx context.Context, c candidate, stats *runStats) {
	result := validator.Validate(c.descriptorText, p.validatorOpts)
	if !result.PassesQualityGate(p.validatorOpts.Strict) {
		p.audit(ctx, "ingest.skip", c.url, "quality_gate_failed")
		return
	}

	existing, err := p.store.GetSkillByURL(ctx, c.url)
	isNew := err != nil

	sk := catalog.Skill{
		ID:             skillID(c.url),
		Source:         "code-host",
		Author:         strings.ToLower(c.owner),
		Name:           result.Metadata.Name,
		HumanName:      result.Metadata.Title,
		Description:    firstNonEmpty(result.Metadata.Description, c.description),
		RepoURL:        c.url,
		DefaultBranch:  c.defaultBranch,
		Categories:     result.Metadata.Categories,
		TrustTier:      c.trustTier,
		QualityScore:   c.quality,
		Installable:    true,
		CharBudget:     len(c.descriptorText),
		ScanStatus:     catalog.ScanPending,
		Stars:          c.stars,
		Forks:          c.forks,
		TriggerPhrases: result.Metadata.Tags,
	}
	if !isNew {
		sk.ID = existing.ID
		sk.ScanStatus = existing.ScanStatus
		sk.Embedding = existing.Embedding
	}

	if err := p.store.UpsertSkill(ctx, sk); err != nil {
		p.logger.Error("ingest: upsert failed", "url", c.url, "error", err)
		p.audit(ctx, "ingest.upsert_failed", c.url, err.Error())
		stats.hadFailures = true
		return
	}

	if isNew {
		stats.added++
	} else {
		stats.updated++
	}
	p.audit(ctx, "ingest.upsert", c.url, "ok")
}

func (p *Pipeline) audit(ctx context.Context, event, target, result string) {
	_ = p.store.InsertAudit(ctx, catalog.AuditEntry{
		ID:       uuid.NewString(),
		Event:    event,
		Actor:    "system",
		Result:   result,
		Metadata: target,
	})
}

func skillID(url string) string {
	return "skl_" + uuid.NewSHA1(uuid.NameSpaceURL, []byte(url)).String()
}

func isRateLimited(err error) bool {
	_, ok := err.(*rateLimitedError)
	return ok
}

func joinPath(parts ...string) string {
	var nonEmpty []string
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, strings.Trim(p, "/"))
		}
	}
	return strings.Join(nonEmpty, "/")
}

func lastSegment(path string) string {
	parts := strings.Split(path, "/")
	return parts[len(parts)-1]
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
