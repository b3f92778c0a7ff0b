package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ragchat/internal/domain"
	"ragchat/internal/embedding"
)

// SourceFailure records a source that was skipped during ingestion.
type SourceFailure struct {
	Source string
	Err    error
}

// Report summarizes one Ingest call.
type Report struct {
	Loaded    []string
	Failed    []SourceFailure
	Documents int
	Chunks    int
	Overview  string
}

// Ingest loads, chunks, embeds and indexes sources. Sources failing to load
// are logged and skipped; if nothing usable remains the call fails with
// domain.ErrEmptyCorpus. From Ready, re-ingested documents replace their
// previous chunks.
func (p *Pipeline) Ingest(ctx context.Context, sources []string) (Report, error) {
	p.ingestMu.Lock()
	defer p.ingestMu.Unlock()

	prev, err := p.beginIngest()
	if err != nil {
		return Report{}, err
	}
	start := time.Now()
	report, touched, err := p.ingest(ctx, sources)
	if err != nil && touched {
		// the index holds a partial write that no corpus describes
		if cerr := p.index.Clear(context.WithoutCancel(ctx)); cerr != nil {
			p.logger.Error("failed to clear index after failed ingestion", zap.Error(cerr))
		}
	}
	p.finishIngest(prev, touched, err)
	if err != nil {
		p.logger.Error("ingestion failed", zap.Error(err), zap.Int("sources", len(sources)))
		return report, err
	}
	p.metrics.Ingest(time.Since(start))
	p.logger.Info("ingestion complete",
		zap.Int("loaded", len(report.Loaded)),
		zap.Int("failed", len(report.Failed)),
		zap.Int("documents", report.Documents),
		zap.Int("chunks", report.Chunks),
		zap.Duration("took", time.Since(start)))
	return report, nil
}

func (p *Pipeline) beginIngest() (State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateClosed {
		return p.state, domain.ErrPipelineClosed
	}
	prev := p.state
	p.state = StateIngesting
	return prev, nil
}

// finishIngest settles the state. A failure after the index was modified
// leaves the corpus unreliable, so the pipeline drops back to Uninitialized
// with an emptied index.
func (p *Pipeline) finishIngest(prev State, touched bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateClosed {
		return
	}
	switch {
	case err == nil:
		p.state = StateReady
	case touched:
		p.corpus = make(map[string]corpusDoc)
		p.order = nil
		p.overview = ""
		p.state = StateUninitialized
	default:
		p.state = prev
	}
}

func (p *Pipeline) ingest(ctx context.Context, sources []string) (Report, bool, error) {
	var report Report
	if len(sources) == 0 {
		return report, false, fmt.Errorf("%w: no sources supplied", domain.ErrEmptyCorpus)
	}

	docs, failed, err := p.loadAll(ctx, sources)
	report.Failed = failed
	if err != nil {
		return report, false, err
	}
	newChunks := 0
	for _, d := range docs {
		report.Loaded = append(report.Loaded, d.doc.Source)
		newChunks += len(d.chunks)
	}
	if newChunks == 0 {
		return report, false, fmt.Errorf("%w: %d of %d sources failed to load, none of the rest produced text",
			domain.ErrEmptyCorpus, len(failed), len(sources))
	}

	merged, order := p.merge(docs)
	var touched bool
	if prep, ok := p.embedder.(domain.Preparer); ok {
		touched, err = p.rebuild(ctx, prep, merged, order)
	} else {
		touched, err = p.replace(ctx, docs)
	}
	if err != nil {
		return report, touched, err
	}
	p.corpus, p.order = merged, order

	report.Documents = len(order)
	report.Chunks = newChunks
	report.Overview = p.summarize(merged, order)
	p.metrics.ChunksIndexed(newChunks)
	return report, true, nil
}

// loadAll loads and chunks sources concurrently. The result keeps source
// order and holds one entry per distinct document.
func (p *Pipeline) loadAll(ctx context.Context, sources []string) ([]corpusDoc, []SourceFailure, error) {
	results := make([]*corpusDoc, len(sources))
	failures := make([]error, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			doc, err := p.loader.Load(gctx, src)
			if err != nil {
				if errors.Is(err, domain.ErrDocumentLoad) {
					p.logger.Warn("skipping source",
						zap.String("source", src),
						zap.String("stage", domain.StageLoad),
						zap.Error(err))
					p.metrics.DocumentFailed()
					failures[i] = err
					return nil
				}
				return domain.NewStageError(domain.StageLoad, src, err)
			}
			chunks, err := p.chunker.Chunk(doc)
			if err != nil {
				return domain.NewStageError(domain.StageChunk, src, err)
			}
			p.metrics.DocumentLoaded()
			p.logger.Debug("chunked document",
				zap.String("source", src),
				zap.Int("chunks", len(chunks)))
			results[i] = &corpusDoc{doc: doc, chunks: chunks}
			return nil
		})
	}
	err := g.Wait()

	var failed []SourceFailure
	for i, ferr := range failures {
		if ferr != nil {
			failed = append(failed, SourceFailure{Source: sources[i], Err: ferr})
		}
	}
	if err != nil {
		return nil, failed, err
	}

	var docs []corpusDoc
	pos := make(map[string]int)
	for _, r := range results {
		if r == nil {
			continue
		}
		if i, ok := pos[r.doc.ID]; ok {
			docs[i] = *r
			continue
		}
		pos[r.doc.ID] = len(docs)
		docs = append(docs, *r)
	}
	return docs, failed, nil
}

// merge overlays freshly loaded documents on the current corpus. Documents
// that no longer yield any chunk are dropped.
func (p *Pipeline) merge(docs []corpusDoc) (map[string]corpusDoc, []string) {
	merged := make(map[string]corpusDoc, len(p.corpus)+len(docs))
	for id, d := range p.corpus {
		merged[id] = d
	}
	order := append([]string(nil), p.order...)
	for _, d := range docs {
		if _, ok := merged[d.doc.ID]; !ok {
			order = append(order, d.doc.ID)
		}
		merged[d.doc.ID] = d
	}
	kept := order[:0]
	for _, id := range order {
		if len(merged[id].chunks) == 0 {
			delete(merged, id)
			continue
		}
		kept = append(kept, id)
	}
	return merged, kept
}

// replace embeds only the new documents and swaps their index entries.
// Without a corpus the index is cleared first, since anything it holds
// (a persistent collection from an earlier run) is not part of the corpus.
func (p *Pipeline) replace(ctx context.Context, docs []corpusDoc) (bool, error) {
	var texts []string
	for _, d := range docs {
		for _, c := range d.chunks {
			texts = append(texts, c.Text)
		}
	}
	vecs, err := p.embedAll(ctx, texts)
	if err != nil {
		return false, err
	}
	if len(p.corpus) == 0 {
		if err := p.index.Clear(ctx); err != nil {
			return false, domain.NewStageError(domain.StageIndex, "", err)
		}
	}

	next := 0
	for i, d := range docs {
		entries := p.entries(d, vecs[next:next+len(d.chunks)])
		next += len(d.chunks)
		if err := p.index.DeleteDocument(ctx, d.doc.ID); err != nil {
			return i > 0, domain.NewStageError(domain.StageIndex, d.doc.Source, err)
		}
		if len(entries) == 0 {
			continue
		}
		if err := p.index.Add(ctx, entries); err != nil {
			return true, domain.NewStageError(domain.StageIndex, d.doc.Source, err)
		}
	}
	return true, nil
}

// rebuild re-prepares a corpus-dependent embedder and re-indexes everything,
// since its vector space changes with the vocabulary.
func (p *Pipeline) rebuild(ctx context.Context, prep domain.Preparer, merged map[string]corpusDoc, order []string) (bool, error) {
	var texts []string
	for _, id := range order {
		for _, c := range merged[id].chunks {
			texts = append(texts, c.Text)
		}
	}
	if err := prep.Prepare(texts); err != nil {
		return false, domain.NewStageError(domain.StageEmbed, "", fmt.Errorf("%w: %w", domain.ErrEmbedding, err))
	}
	vecs, err := p.embedAll(ctx, texts)
	if err != nil {
		return false, err
	}
	if err := p.index.Clear(ctx); err != nil {
		return true, domain.NewStageError(domain.StageIndex, "", err)
	}
	next := 0
	for _, id := range order {
		d := merged[id]
		entries := p.entries(d, vecs[next:next+len(d.chunks)])
		next += len(d.chunks)
		if err := p.index.Add(ctx, entries); err != nil {
			return true, domain.NewStageError(domain.StageIndex, d.doc.Source, err)
		}
	}
	return true, nil
}

func (p *Pipeline) embedAll(ctx context.Context, texts []string) ([][]float64, error) {
	vecs, err := embedding.EmbedAll(ctx, p.embedder, texts, p.opts.EmbedBatchSize)
	if err != nil {
		if ctx.Err() == nil {
			p.metrics.GatewayError("embedding")
		}
		return nil, domain.NewStageError(domain.StageEmbed, "", err)
	}
	return vecs, nil
}

func (p *Pipeline) entries(d corpusDoc, vecs [][]float64) []domain.IndexEntry {
	out := make([]domain.IndexEntry, len(d.chunks))
	for i, c := range d.chunks {
		c.Embedding = vecs[i]
		out[i] = domain.IndexEntry{
			ChunkID:  c.ID,
			Vector:   vecs[i],
			Metadata: domain.EntryMetadata{DocumentID: c.DocumentID, Source: d.doc.Source},
			Chunk:    c,
		}
	}
	return out
}

// summarize builds the corpus overview. Failures only cost the overview.
func (p *Pipeline) summarize(corpus map[string]corpusDoc, order []string) string {
	if p.summarizer == nil {
		return ""
	}
	var all strings.Builder
	for _, id := range order {
		all.WriteString(corpus[id].doc.Content)
		all.WriteString("\n")
	}
	overview, err := p.summarizer.Summarize(all.String(), p.opts.SummaryMaxSentences)
	if err != nil {
		p.logger.Warn("corpus overview failed", zap.Error(err))
		return ""
	}
	p.mu.Lock()
	p.overview = overview
	p.mu.Unlock()
	return overview
}
